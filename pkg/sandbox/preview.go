package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/observability"
	"github.com/rhuss/vibe/pkg/preview"
	"github.com/rhuss/vibe/pkg/project"
)

// Mode is how a preview is delivered.
type Mode string

const (
	ModeLive   Mode = "live"
	ModeStatic Mode = "static"
)

// Outcome is the result of Preview. Live outcomes carry an address;
// static outcomes carry the fallback document and the reason for it.
type Outcome struct {
	Mode      Mode              `json:"mode"`
	Address   string            `json:"address,omitempty"`
	Entry     string            `json:"entry,omitempty"` // page below Address; empty means the root
	SessionID string            `json:"session_id,omitempty"`
	Document  *preview.Document `json:"document,omitempty"`

	// Reason is the error type that caused a static fallback.
	Reason api.ErrorType `json:"reason,omitempty"`
	Detail string        `json:"detail,omitempty"`
}

// Preview shows files live when the sandbox can run them and falls back
// to a static document otherwise. A failed start is retried once before
// falling back. The only error returned is a failure to render the
// fallback itself.
func (c *Coordinator) Preview(ctx context.Context, files project.FileSet) (Outcome, error) {
	session, err := c.EnsureBooted(ctx)
	if err != nil {
		return c.fallback(files, err)
	}

	address, err := c.MountAndStart(ctx, files)
	if err != nil && api.IsDegradable(err) {
		slog.Info("sandbox start failed, retrying mount", "session", session.ID, "reason", api.TypeOf(err))
		address, err = c.MountAndStart(ctx, files)
	}
	if err != nil {
		return c.fallback(files, err)
	}

	observability.PreviewsTotal.WithLabelValues(string(ModeLive), "").Inc()
	out := Outcome{Mode: ModeLive, Address: address, SessionID: session.ID}
	if s, ok := c.Session(); ok && s.Plan != nil {
		out.Entry = s.Plan.BrowsePath()
	}
	return out, nil
}

func (c *Coordinator) fallback(files project.FileSet, cause error) (Outcome, error) {
	reason := api.TypeOf(cause)
	switch {
	case reason == "" && errors.Is(cause, context.Canceled):
		reason = "canceled"
	case reason == "":
		reason = api.ErrorTypeServerError
	}

	if api.IsDegradable(cause) {
		slog.Info("serving static preview", "reason", reason, "detail", cause.Error())
	} else {
		slog.Warn("sandbox unavailable, serving static preview", "reason", reason, "error", cause)
	}
	observability.PreviewsTotal.WithLabelValues(string(ModeStatic), string(reason)).Inc()

	doc, err := preview.Render(files)
	if err != nil {
		return Outcome{}, fmt.Errorf("rendering static preview: %w", err)
	}
	return Outcome{Mode: ModeStatic, Document: &doc, Reason: reason, Detail: cause.Error()}, nil
}
