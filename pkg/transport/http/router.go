// Package http serves the vibe REST API: project CRUD, prompt cycles,
// interaction history and previews, plus a reverse proxy onto the live
// sandbox process.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/gateway"
	"github.com/rhuss/vibe/pkg/observability"
	"github.com/rhuss/vibe/pkg/project"
	"github.com/rhuss/vibe/pkg/sandbox"
	"github.com/rhuss/vibe/pkg/storage"
	"github.com/rhuss/vibe/pkg/transport"
)

// PromptSubmitter runs a prompt cycle against a stored project.
type PromptSubmitter interface {
	Submit(ctx context.Context, projectID, prompt string) (*gateway.Result, error)
}

// Previewer shows a file set live or as a static document.
type Previewer interface {
	Preview(ctx context.Context, files project.FileSet) (sandbox.Outcome, error)
	Session() (sandbox.Session, bool)
}

// Config holds configuration for the API handler.
type Config struct {
	// MaxBodySize limits JSON request bodies. Default 10 MB.
	MaxBodySize int64

	// ProxyTimeout bounds each proxied preview request. Default 30s.
	ProxyTimeout time.Duration

	// MetricsPath mounts MetricsHandler when both are set.
	MetricsPath    string
	MetricsHandler http.Handler

	// Middleware wraps the API routes, outermost first. Health and metrics
	// endpoints are mounted inside the same chain and rely on the auth
	// bypass list.
	Middleware []transport.Middleware
}

// DefaultConfig returns the default API configuration.
func DefaultConfig() Config {
	return Config{
		MaxBodySize:  10 << 20,
		ProxyTimeout: 30 * time.Second,
	}
}

// API routes HTTP requests to the project store, the prompt gateway and
// the sandbox previewer.
type API struct {
	store    storage.ProjectStore
	prompts  PromptSubmitter
	previews Previewer
	inflight *transport.InFlightRegistry
	cfg      Config
	mux      *http.ServeMux
	now      func() time.Time
}

// NewAPI creates the API handler. previews may be nil, in which case
// preview requests always return the static document.
func NewAPI(store storage.ProjectStore, prompts PromptSubmitter, previews Previewer, cfg Config) *API {
	def := DefaultConfig()
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = def.MaxBodySize
	}
	if cfg.ProxyTimeout <= 0 {
		cfg.ProxyTimeout = def.ProxyTimeout
	}

	a := &API{
		store:    store,
		prompts:  prompts,
		previews: previews,
		inflight: transport.NewInFlightRegistry(),
		cfg:      cfg,
		mux:      http.NewServeMux(),
		now:      time.Now,
	}

	a.mux.HandleFunc("GET /healthz", a.handleHealth)
	a.mux.HandleFunc("GET /readyz", a.handleHealth)
	if cfg.MetricsPath != "" && cfg.MetricsHandler != nil {
		a.mux.Handle("GET "+cfg.MetricsPath, cfg.MetricsHandler)
	}

	a.mux.HandleFunc("POST /v1/projects", a.handleCreateProject)
	a.mux.HandleFunc("GET /v1/projects", a.handleListProjects)
	a.mux.HandleFunc("GET /v1/projects/{id}", a.handleGetProject)
	a.mux.HandleFunc("PATCH /v1/projects/{id}", a.handleUpdateProject)
	a.mux.HandleFunc("DELETE /v1/projects/{id}", a.handleDeleteProject)

	a.mux.HandleFunc("POST /v1/projects/{id}/prompts", a.handleSubmitPrompt)
	a.mux.HandleFunc("DELETE /v1/projects/{id}/prompts", a.handleCancelPrompt)
	a.mux.HandleFunc("GET /v1/projects/{id}/interactions", a.handleListInteractions)

	a.mux.HandleFunc("POST /v1/projects/{id}/preview", a.handlePreview)
	a.mux.HandleFunc("GET /v1/projects/{id}/preview/static", a.handleStaticPreview)
	a.mux.HandleFunc("GET /v1/preview/session", a.handleSession)
	a.mux.Handle(ProxyPrefix, a.proxyHandler())

	return a
}

// Handler returns the routed handler wrapped in the configured middleware.
// Metrics are recorded innermost so that the matched route pattern is
// available as a label.
func (a *API) Handler() http.Handler {
	chain := append(append([]transport.Middleware{}, a.cfg.Middleware...), observability.MetricsMiddleware)
	return transport.Chain(chain...)(a.mux)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.store.HealthCheck(r.Context()); err != nil {
		transport.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	transport.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeJSON reads a size-limited JSON body into v.
func (a *API) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" && ct != "application/json" && ct != "application/json; charset=utf-8" {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("content_type", "Content-Type must be application/json"),
			http.StatusUnsupportedMediaType,
		)
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.cfg.MaxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("body", fmt.Sprintf("request body too large (max %d bytes)", a.cfg.MaxBodySize)),
				http.StatusRequestEntityTooLarge,
			)
			return false
		}
		transport.WriteAPIError(w, api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()))
		return false
	}
	return true
}

// projectID validates the {id} path segment.
func projectID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if !api.ValidateProjectID(id) {
		transport.WriteAPIError(w, api.NewInvalidRequestError("id", "malformed project ID"))
		return "", false
	}
	return id, true
}

// storeError converts a storage error into an API error.
func storeError(err error, id string) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return api.NewNotFoundError("project " + id + " not found")
	case errors.Is(err, storage.ErrConflict):
		return api.NewInvalidRequestError("id", "project "+id+" already exists")
	}
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return fmt.Errorf("project store: %w", err)
}
