// Package config provides unified configuration for the vibe server.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (VIBE_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the vibe server.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Provider      ProviderConfig      `yaml:"provider"`
	Storage       StorageConfig       `yaml:"storage"`
	Sandbox       SandboxConfig       `yaml:"sandbox"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// LoggingConfig controls the slog handler and debug categories.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // ERROR, WARN, INFO, DEBUG, TRACE; default: INFO
	Format string `yaml:"format"` // "text" or "json", default: "text"
	Debug  string `yaml:"debug"`  // comma-separated debug categories
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`          // default: 8080
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"` // default: 180s
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

// ProviderConfig selects and configures the language model backend.
type ProviderConfig struct {
	Type        string        `yaml:"type"`         // "openai", "anthropic", "gemini" or "mock"
	URL         string        `yaml:"url"`          // optional base URL override
	Model       string        `yaml:"model"`        // optional, provider default otherwise
	APIKey      string        `yaml:"api_key"`      // required for real providers
	APIKeyFile  string        `yaml:"api_key_file"` // _file variant for api_key
	Timeout     time.Duration `yaml:"timeout"`      // default: 120s
	MaxTokens   int           `yaml:"max_tokens"`   // default: 8192
	Temperature *float64      `yaml:"temperature"`  // optional
	JSONMode    bool          `yaml:"json_mode"`    // openai response_format
}

// StorageConfig holds project store settings.
type StorageConfig struct {
	Type     string         `yaml:"type"`     // "memory", "postgres" or "sqlite", default: "memory"
	MaxSize  int            `yaml:"max_size"` // for memory store, default: 10000
	Postgres PostgresConfig `yaml:"postgres"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path"` // default: "vibe.db"
}

// SandboxConfig selects the runtime that hosts live previews.
type SandboxConfig struct {
	Runtime      string           `yaml:"runtime"`       // "local", "remote" or "kubernetes", default: "local"
	Workspace    string           `yaml:"workspace"`     // local runtime workspace parent
	BootTimeout  time.Duration    `yaml:"boot_timeout"`  // default: 60s
	StartTimeout time.Duration    `yaml:"start_timeout"` // default: 20s
	PollInterval time.Duration    `yaml:"poll_interval"` // default: 3s
	ProxyTimeout time.Duration    `yaml:"proxy_timeout"` // default: 30s
	Remote       RemoteConfig     `yaml:"remote"`
	Kubernetes   KubernetesConfig `yaml:"kubernetes"`
}

// RemoteConfig points the remote runtime at a sandbox server.
type RemoteConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"` // default: 30s
}

// KubernetesConfig holds agent-sandbox claim settings.
type KubernetesConfig struct {
	Namespace    string        `yaml:"namespace"` // default: "default"
	Template     string        `yaml:"template"`  // SandboxTemplate name, required
	ClaimTimeout time.Duration `yaml:"claim_timeout"`
	Port         int           `yaml:"port"` // sandbox server port, default: 8080
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Type      string          `yaml:"type"`     // "none", "apikey" or "jwt", default: "none"
	APIKeys   []APIKeyConfig  `yaml:"api_keys"` // API key entries for type=apikey
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string   `yaml:"key" json:"key"`
	KeyFile     string   `yaml:"key_file" json:"key_file"` // _file variant for key
	Subject     string   `yaml:"subject" json:"subject"`
	TenantID    string   `yaml:"tenant_id" json:"tenant_id"`
	ServiceTier string   `yaml:"service_tier" json:"service_tier"`
	Scopes      []string `yaml:"scopes" json:"scopes"`
}

// JWTConfig configures bearer JWT validation.
type JWTConfig struct {
	Secret      string `yaml:"secret"`      // HMAC shared secret
	SecretFile  string `yaml:"secret_file"` // _file variant for secret
	JWKSURL     string `yaml:"jwks_url"`    // RSA keys, used when no secret is set
	Issuer      string `yaml:"issuer"`
	Audience    string `yaml:"audience"`
	TenantClaim string `yaml:"tenant_claim"` // default: "tenant_id"
	ScopesClaim string `yaml:"scopes_claim"` // default: "scope"
	RolesClaim  string `yaml:"roles_claim"`  // default: "roles"
	TierClaim   string `yaml:"tier_claim"`   // default: "tier"

	// InstructorRoles lists platform roles that see every project.
	// Default: Instructor, TeachingAssistant, Administrator.
	InstructorRoles []string `yaml:"instructor_roles"`
}

// RateLimitConfig holds per-tier request limits.
type RateLimitConfig struct {
	RequestsPerMinute int            `yaml:"requests_per_minute"` // default tier, 0 disables
	Tiers             map[string]int `yaml:"tiers"`               // tier name -> requests per minute
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 180 * time.Second,
			MaxBodyBytes: 10 << 20,
		},
		Provider: ProviderConfig{
			Type:      "openai",
			Timeout:   120 * time.Second,
			MaxTokens: 8192,
			JSONMode:  true,
		},
		Storage: StorageConfig{
			Type:    "memory",
			MaxSize: 10000,
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
			SQLite: SQLiteConfig{
				Path: "vibe.db",
			},
		},
		Sandbox: SandboxConfig{
			Runtime:      "local",
			BootTimeout:  60 * time.Second,
			StartTimeout: 20 * time.Second,
			PollInterval: 3 * time.Second,
			ProxyTimeout: 30 * time.Second,
			Remote: RemoteConfig{
				Timeout: 30 * time.Second,
			},
			Kubernetes: KubernetesConfig{
				Namespace:    "default",
				ClaimTimeout: 60 * time.Second,
				Port:         8080,
			},
		},
		Auth: AuthConfig{
			Type: "none",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}
