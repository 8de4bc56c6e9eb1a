// Package transport provides the HTTP plumbing shared by the vibe API:
// a composable middleware chain, error serialization and a registry of
// in-flight prompt cycles.
//
// # Middleware
//
// Middleware wraps an http.Handler. Built-in middleware provides panic
// recovery, request ID assignment (X-Request-ID) and structured request
// logging via log/slog. Metrics and authentication middleware live in
// pkg/observability and pkg/auth and compose with Chain.
//
// # Errors
//
// Handlers report failures as *api.APIError. WriteError maps the error
// type onto an HTTP status and replaces the message with the text a
// learner should see, so provider and storage internals never leak into
// responses.
package transport
