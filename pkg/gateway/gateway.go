package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/debug"
	"github.com/rhuss/vibe/pkg/ingest"
	"github.com/rhuss/vibe/pkg/merge"
	"github.com/rhuss/vibe/pkg/observability"
	"github.com/rhuss/vibe/pkg/project"
	"github.com/rhuss/vibe/pkg/provider"
	"github.com/rhuss/vibe/pkg/storage"
)

// Config holds configuration for the prompt gateway.
type Config struct {
	// Model overrides the provider's default model.
	Model string

	// SystemPrompt replaces DefaultSystemPrompt when set.
	SystemPrompt string

	// MaxTokens caps the generated output. Zero uses the provider default.
	MaxTokens int

	Temperature *float64

	// RetryDelay is the pause before the single transport retry.
	// Defaults to 500ms.
	RetryDelay time.Duration
}

func (c Config) systemPrompt() string {
	if c.SystemPrompt != "" {
		return c.SystemPrompt
	}
	return DefaultSystemPrompt
}

func (c Config) retryDelay() time.Duration {
	if c.RetryDelay <= 0 {
		return 500 * time.Millisecond
	}
	return c.RetryDelay
}

// Gateway runs prompt cycles against one generator and one store.
type Gateway struct {
	gen   provider.Generator
	store storage.ProjectStore
	cfg   Config
	now   func() time.Time
}

// New creates a Gateway. The generator must not be nil. The store can be
// nil when only Generate is used.
func New(gen provider.Generator, store storage.ProjectStore, cfg Config) (*Gateway, error) {
	if gen == nil {
		return nil, errors.New("gateway: generator must not be nil")
	}
	return &Gateway{
		gen:   gen,
		store: store,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// Cycle is the outcome of one generation: the model's message, the files
// it produced, and the merged project files.
type Cycle struct {
	Message   string          `json:"message"`
	Generated project.FileSet `json:"generated"`
	Files     project.FileSet `json:"files"`
	Model     string          `json:"model,omitempty"`
}

// Result is the outcome of Submit.
type Result struct {
	Interaction *project.Interaction `json:"interaction"`
	Files       project.FileSet      `json:"files"`
}

// Generate asks the model to apply prompt to files and returns the merged
// result. Nothing is persisted.
func (g *Gateway) Generate(ctx context.Context, files project.FileSet, prompt string) (*Cycle, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, api.NewInvalidRequestError("prompt", "prompt must not be empty")
	}

	req := &provider.Request{
		Model:       g.cfg.Model,
		System:      g.cfg.systemPrompt(),
		Prompt:      prompt,
		Files:       files,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	}

	resp, err := g.generate(ctx, req)
	if err != nil {
		return nil, err
	}
	debug.Log("providers", "raw model output", "text", debug.Truncate(resp.Text, 2000))

	result, err := ingest.Ingest(resp.Text)
	if err != nil {
		// A length stop means the payload was cut off, whatever the
		// parser made of the remainder.
		if resp.FinishReason == provider.FinishLength && api.IsType(err, api.ErrorTypeMalformedResponse) {
			err = api.NewTruncatedResponseError(errors.Unwrap(err))
		}
		observability.IngestFailuresTotal.WithLabelValues(string(api.TypeOf(err))).Inc()
		slog.Warn("model response rejected", "type", api.TypeOf(err), "finish_reason", resp.FinishReason, "bytes", len(resp.Text))
		return nil, err
	}

	return &Cycle{
		Message:   result.Message,
		Generated: result.Files,
		Files:     merge.Merge(files, result.Files),
		Model:     resp.Model,
	}, nil
}

// Submit runs a full prompt cycle for a stored project: read the current
// files, generate, merge, and commit the merged files together with a new
// interaction. On any error the stored project is unchanged.
func (g *Gateway) Submit(ctx context.Context, projectID, prompt string) (*Result, error) {
	if g.store == nil {
		return nil, api.NewServerError("gateway has no project store")
	}

	p, err := g.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, mapStoreError(err, projectID)
	}

	cycle, err := g.Generate(ctx, p.Files, prompt)
	if err != nil {
		observability.PromptsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	in := &project.Interaction{
		ID:        api.NewInteractionID(),
		ProjectID: projectID,
		Prompt:    strings.TrimSpace(prompt),
		Message:   cycle.Message,
		Files:     cycle.Generated,
		Model:     cycle.Model,
		CreatedAt: g.now(),
	}
	if err := g.store.CommitPrompt(ctx, projectID, cycle.Files, in); err != nil {
		observability.PromptsTotal.WithLabelValues("failed").Inc()
		return nil, mapStoreError(err, projectID)
	}

	observability.PromptsTotal.WithLabelValues("committed").Inc()
	slog.Info("prompt committed",
		"project", projectID,
		"interaction", in.ID,
		"generated_files", len(cycle.Generated),
		"total_files", len(cycle.Files),
	)
	return &Result{Interaction: in, Files: cycle.Files}, nil
}

// generate calls the provider, retrying once on a retryable transport error.
func (g *Gateway) generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	const attempts = 2

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, lastErr
			case <-time.After(g.cfg.retryDelay()):
			}
		}

		resp, err := g.callProvider(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !provider.Retryable(err) {
			break
		}
		slog.Warn("generation failed, retrying", "provider", g.gen.Name(), "attempt", attempt, "error", err)
	}
	return nil, lastErr
}

func (g *Gateway) callProvider(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	provName := g.gen.Name()
	model := req.ModelOr("default")

	start := time.Now()
	resp, err := g.gen.Generate(ctx, req)
	observability.ProviderLatency.WithLabelValues(provName, model).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.ProviderRequestsTotal.WithLabelValues(provName, model, "error").Inc()
		return nil, err
	}
	observability.ProviderRequestsTotal.WithLabelValues(provName, model, "success").Inc()
	return resp, nil
}

func mapStoreError(err error, projectID string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return api.NewNotFoundError(fmt.Sprintf("project %q not found", projectID))
	}
	if api.TypeOf(err) != "" {
		return err
	}
	return &api.APIError{Type: api.ErrorTypeServerError, Message: "failed to save project", Err: err}
}
