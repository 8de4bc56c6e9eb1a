package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, VIBE_CONFIG env, ./config.yaml, /etc/vibe/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. VIBE_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/vibe/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv("VIBE_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"config.yaml",
		"/etc/vibe/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps VIBE_* environment variables onto config fields.
// Malformed numbers and durations are reported rather than ignored.
func applyEnvOverrides(cfg *Config) error {
	e := envReader{}

	e.str("VIBE_PROVIDER", &cfg.Provider.Type)
	e.str("VIBE_PROVIDER_URL", &cfg.Provider.URL)
	e.str("VIBE_MODEL", &cfg.Provider.Model)
	e.str("VIBE_API_KEY", &cfg.Provider.APIKey)
	e.duration("VIBE_PROVIDER_TIMEOUT", &cfg.Provider.Timeout)
	e.int("VIBE_MAX_TOKENS", &cfg.Provider.MaxTokens)

	e.int("VIBE_PORT", &cfg.Server.Port)

	e.str("VIBE_STORAGE", &cfg.Storage.Type)
	e.int("VIBE_STORAGE_SIZE", &cfg.Storage.MaxSize)
	e.str("VIBE_POSTGRES_DSN", &cfg.Storage.Postgres.DSN)
	e.str("VIBE_SQLITE_PATH", &cfg.Storage.SQLite.Path)

	e.str("VIBE_SANDBOX_RUNTIME", &cfg.Sandbox.Runtime)
	e.str("VIBE_SANDBOX_WORKSPACE", &cfg.Sandbox.Workspace)
	e.str("VIBE_SANDBOX_URL", &cfg.Sandbox.Remote.URL)
	e.duration("VIBE_BOOT_TIMEOUT", &cfg.Sandbox.BootTimeout)
	e.duration("VIBE_START_TIMEOUT", &cfg.Sandbox.StartTimeout)

	e.str("VIBE_AUTH_TYPE", &cfg.Auth.Type)
	e.str("VIBE_JWT_SECRET", &cfg.Auth.JWT.Secret)

	e.str("VIBE_LOG_FORMAT", &cfg.Logging.Format)

	// VIBE_API_KEYS: JSON array of API key configs.
	if v := os.Getenv("VIBE_API_KEYS"); v != "" {
		keys, err := parseAPIKeysJSON(v)
		if err != nil {
			e.errs = append(e.errs, err)
		} else if len(keys) > 0 {
			cfg.Auth.APIKeys = keys
		}
	}

	if len(e.errs) > 0 {
		return fmt.Errorf("environment overrides: %w", errors.Join(e.errs...))
	}
	return nil
}

type envReader struct {
	errs []error
}

func (e *envReader) str(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func (e *envReader) int(name string, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", name, err))
		return
	}
	*dst = n
}

func (e *envReader) duration(name string, dst *time.Duration) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", name, err))
		return
	}
	*dst = d
}

// parseAPIKeysJSON parses a JSON array of API key configurations.
func parseAPIKeysJSON(jsonStr string) ([]APIKeyConfig, error) {
	var keys []APIKeyConfig
	if err := json.Unmarshal([]byte(jsonStr), &keys); err != nil {
		return nil, fmt.Errorf("parsing VIBE_API_KEYS: %w", err)
	}
	return keys, nil
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
// For each field ending in _file, if the value field is empty and the file field is set,
// the file is read, whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	refs := []struct {
		name string
		file string
		dst  *string
	}{
		{"provider.api_key_file", cfg.Provider.APIKeyFile, &cfg.Provider.APIKey},
		{"storage.postgres.dsn_file", cfg.Storage.Postgres.DSNFile, &cfg.Storage.Postgres.DSN},
		{"auth.jwt.secret_file", cfg.Auth.JWT.SecretFile, &cfg.Auth.JWT.Secret},
	}
	for i := range cfg.Auth.APIKeys {
		refs = append(refs, struct {
			name string
			file string
			dst  *string
		}{fmt.Sprintf("auth.api_keys[%d].key_file", i), cfg.Auth.APIKeys[i].KeyFile, &cfg.Auth.APIKeys[i].Key})
	}

	for _, ref := range refs {
		if ref.file == "" || *ref.dst != "" {
			continue
		}
		val, err := readSecretFile(ref.file)
		if err != nil {
			return fmt.Errorf("%s: %w", ref.name, err)
		}
		*ref.dst = val
	}
	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
