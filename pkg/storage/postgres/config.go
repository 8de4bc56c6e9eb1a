package postgres

import "time"

// Config controls the connection pool and schema handling of a Store.
type Config struct {
	// DSN is a libpq URL or keyword/value string.
	DSN string

	MaxConns        int32         // default 25
	MinConns        int32         // default 2
	MaxConnLifetime time.Duration // default 30m
	ConnectTimeout  time.Duration // default 10s, used when the DSN sets none

	// MigrateOnStart applies pending migrations inside New.
	MigrateOnStart bool
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxConns <= 0 {
		out.MaxConns = 25
	}
	if out.MinConns <= 0 {
		out.MinConns = 2
	}
	if out.MinConns > out.MaxConns {
		out.MinConns = out.MaxConns
	}
	if out.MaxConnLifetime <= 0 {
		out.MaxConnLifetime = 30 * time.Minute
	}
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = 10 * time.Second
	}
	return out
}
