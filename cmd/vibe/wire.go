package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"sigs.k8s.io/controller-runtime/pkg/client"
	ctrlconfig "sigs.k8s.io/controller-runtime/pkg/client/config"

	"github.com/rhuss/vibe/pkg/auth"
	"github.com/rhuss/vibe/pkg/auth/apikey"
	"github.com/rhuss/vibe/pkg/auth/jwt"
	"github.com/rhuss/vibe/pkg/auth/noop"
	"github.com/rhuss/vibe/pkg/config"
	"github.com/rhuss/vibe/pkg/provider"
	"github.com/rhuss/vibe/pkg/provider/anthropic"
	"github.com/rhuss/vibe/pkg/provider/gemini"
	"github.com/rhuss/vibe/pkg/provider/mock"
	"github.com/rhuss/vibe/pkg/provider/openai"
	"github.com/rhuss/vibe/pkg/sandbox"
	"github.com/rhuss/vibe/pkg/sandbox/kubernetes"
	"github.com/rhuss/vibe/pkg/sandbox/local"
	"github.com/rhuss/vibe/pkg/sandbox/remote"
	"github.com/rhuss/vibe/pkg/storage"
	"github.com/rhuss/vibe/pkg/storage/memory"
	"github.com/rhuss/vibe/pkg/storage/postgres"
	"github.com/rhuss/vibe/pkg/storage/sqlite"
	"github.com/rhuss/vibe/pkg/transport"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// newStore opens the configured project store.
func newStore(ctx context.Context, cfg config.StorageConfig) (storage.ProjectStore, error) {
	switch cfg.Type {
	case "memory":
		slog.Info("storage enabled", "type", "memory", "max_size", cfg.MaxSize)
		return memory.New(cfg.MaxSize), nil
	case "postgres":
		s, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Postgres.DSN,
			MaxConns:       cfg.Postgres.MaxConns,
			MigrateOnStart: cfg.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		slog.Info("storage enabled", "type", "postgres", "max_conns", cfg.Postgres.MaxConns)
		return s, nil
	case "sqlite":
		s, err := sqlite.New(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: %w", err)
		}
		slog.Info("storage enabled", "type", "sqlite", "path", s.Path())
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// newProvider creates the configured model adapter. A missing API key is
// not fatal: the adapter reports a configuration error per prompt so the
// rest of the service stays usable.
func newProvider(ctx context.Context, cfg config.ProviderConfig) (provider.Generator, error) {
	if cfg.APIKey == "" && cfg.Type != "mock" {
		slog.Warn("no provider API key configured; prompts will fail until one is set", "provider", cfg.Type)
	}
	switch cfg.Type {
	case "openai":
		return openai.New(openai.Config{
			BaseURL:  cfg.URL,
			APIKey:   cfg.APIKey,
			Model:    cfg.Model,
			Timeout:  cfg.Timeout,
			JSONMode: cfg.JSONMode,
		}), nil
	case "anthropic":
		return anthropic.New(anthropic.Config{
			BaseURL: cfg.URL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}), nil
	case "gemini":
		return gemini.New(ctx, gemini.Config{
			BaseURL: cfg.URL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
	case "mock":
		return mock.New(), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}

// newRuntime creates the configured sandbox runtime.
func newRuntime(cfg config.SandboxConfig) (sandbox.Runtime, error) {
	switch cfg.Runtime {
	case "local":
		return local.New(local.Config{Workspace: cfg.Workspace}), nil
	case "remote":
		return remote.New(remote.Config{URL: cfg.Remote.URL, Timeout: cfg.Remote.Timeout}), nil
	case "kubernetes":
		scheme, err := kubernetes.NewScheme()
		if err != nil {
			return nil, err
		}
		restCfg, err := ctrlconfig.GetConfig()
		if err != nil {
			return nil, fmt.Errorf("kubernetes config: %w", err)
		}
		c, err := client.New(restCfg, client.Options{Scheme: scheme})
		if err != nil {
			return nil, fmt.Errorf("kubernetes client: %w", err)
		}
		return kubernetes.New(c, kubernetes.Config{
			Template:       cfg.Kubernetes.Template,
			Namespace:      cfg.Kubernetes.Namespace,
			ClaimTimeout:   cfg.Kubernetes.ClaimTimeout,
			Port:           cfg.Kubernetes.Port,
			RequestTimeout: cfg.Remote.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown sandbox runtime %q", cfg.Runtime)
	}
}

// newCoordinator wraps rt with the configured timeouts.
func newCoordinator(rt sandbox.Runtime, cfg config.SandboxConfig) *sandbox.Coordinator {
	opts := sandbox.DefaultOptions()
	opts.BootTimeout = cfg.BootTimeout
	opts.StartTimeout = cfg.StartTimeout
	if cfg.PollInterval > 0 {
		opts.PollInterval = cfg.PollInterval
	}
	return sandbox.NewCoordinator(rt, opts)
}

// newAuthMiddleware builds the authentication and rate limit middleware.
func newAuthMiddleware(cfg config.AuthConfig) (transport.Middleware, error) {
	chain := &auth.AuthChain{DefaultDecision: auth.No}

	switch cfg.Type {
	case "", "none":
		chain.Authenticators = []auth.Authenticator{&noop.Authenticator{}}
		chain.DefaultDecision = auth.Yes
	case "apikey":
		entries := make([]apikey.RawKeyEntry, 0, len(cfg.APIKeys))
		for _, k := range cfg.APIKeys {
			id := auth.Identity{
				Subject:     k.Subject,
				ServiceTier: k.ServiceTier,
				Scopes:      k.Scopes,
			}
			if k.TenantID != "" {
				id.Metadata = map[string]string{"tenant_id": k.TenantID}
			}
			entries = append(entries, apikey.RawKeyEntry{Key: k.Key, Identity: id})
		}
		chain.Authenticators = []auth.Authenticator{apikey.New(entries)}
		slog.Info("authentication enabled", "type", "apikey", "keys", len(entries))
	case "jwt":
		chain.Authenticators = []auth.Authenticator{jwt.New(jwt.Config{
			Issuer:          cfg.JWT.Issuer,
			Audience:        cfg.JWT.Audience,
			Secret:          []byte(cfg.JWT.Secret),
			JWKSURL:         cfg.JWT.JWKSURL,
			TenantClaim:     cfg.JWT.TenantClaim,
			ScopesClaim:     cfg.JWT.ScopesClaim,
			RolesClaim:      cfg.JWT.RolesClaim,
			TierClaim:       cfg.JWT.TierClaim,
			InstructorRoles: cfg.JWT.InstructorRoles,
		})}
		slog.Info("authentication enabled", "type", "jwt", "issuer", cfg.JWT.Issuer, "shared_secret", cfg.JWT.Secret != "")
	default:
		return nil, fmt.Errorf("unknown auth type %q", cfg.Type)
	}

	var limiter auth.RateLimiter
	if cfg.RateLimit.RequestsPerMinute > 0 || len(cfg.RateLimit.Tiers) > 0 {
		tiers := make(map[string]auth.TierConfig, len(cfg.RateLimit.Tiers))
		for name, rpm := range cfg.RateLimit.Tiers {
			tiers[name] = auth.TierConfig{RequestsPerMinute: rpm}
		}
		limiter = auth.NewInProcessLimiter(tiers, cfg.RateLimit.RequestsPerMinute)
		slog.Info("rate limiting enabled", "default_rpm", cfg.RateLimit.RequestsPerMinute, "tiers", len(tiers))
	}

	return auth.Middleware(chain, limiter, auth.DefaultBypassEndpoints), nil
}

func metricsHandler(cfg config.MetricsConfig) (string, http.Handler) {
	if !cfg.Enabled {
		return "", nil
	}
	return cfg.Path, promhttp.Handler()
}
