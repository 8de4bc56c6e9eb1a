package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for required fields and valid values.
// All problems are reported together, each with its field path.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	switch c.Provider.Type {
	case "openai", "anthropic", "gemini", "mock":
	default:
		errs = append(errs, fmt.Errorf("provider.type must be \"openai\", \"anthropic\", \"gemini\" or \"mock\", got %q", c.Provider.Type))
	}
	if t := c.Provider.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("provider.temperature must be within [0, 2], got %v", *t))
	}
	if c.Provider.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("provider.max_tokens must be >= 0, got %d", c.Provider.MaxTokens))
	}

	switch c.Storage.Type {
	case "memory":
	case "postgres":
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			errs = append(errs, fmt.Errorf("storage.sqlite.path is required when storage.type is \"sqlite\""))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"memory\", \"postgres\" or \"sqlite\", got %q", c.Storage.Type))
	}

	switch c.Sandbox.Runtime {
	case "local":
	case "remote":
		if c.Sandbox.Remote.URL == "" {
			errs = append(errs, fmt.Errorf("sandbox.remote.url is required when sandbox.runtime is \"remote\""))
		}
	case "kubernetes":
		if c.Sandbox.Kubernetes.Template == "" {
			errs = append(errs, fmt.Errorf("sandbox.kubernetes.template is required when sandbox.runtime is \"kubernetes\""))
		}
	default:
		errs = append(errs, fmt.Errorf("sandbox.runtime must be \"local\", \"remote\" or \"kubernetes\", got %q", c.Sandbox.Runtime))
	}
	if c.Sandbox.BootTimeout <= 0 {
		errs = append(errs, fmt.Errorf("sandbox.boot_timeout must be > 0"))
	}
	if c.Sandbox.StartTimeout <= 0 {
		errs = append(errs, fmt.Errorf("sandbox.start_timeout must be > 0"))
	}

	switch c.Auth.Type {
	case "none":
	case "apikey":
		if len(c.Auth.APIKeys) == 0 {
			errs = append(errs, fmt.Errorf("auth.api_keys must not be empty when auth.type is \"apikey\""))
		}
		for i, k := range c.Auth.APIKeys {
			if k.Subject == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d].subject is required", i))
			}
		}
	case "jwt":
		j := c.Auth.JWT
		if j.Secret == "" && j.SecretFile == "" && j.JWKSURL == "" {
			errs = append(errs, fmt.Errorf("auth.jwt.secret, auth.jwt.secret_file or auth.jwt.jwks_url is required when auth.type is \"jwt\""))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", c.Auth.Type))
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}
