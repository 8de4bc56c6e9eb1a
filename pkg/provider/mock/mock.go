// Package mock provides a deterministic provider.Generator for local
// development and tests. Without a script it answers every prompt with a
// small static page that echoes the request.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"sync"

	"github.com/rhuss/vibe/pkg/project"
	"github.com/rhuss/vibe/pkg/provider"
)

// Step is one scripted reply. Exactly one of Text or Err is used.
type Step struct {
	Text         string
	FinishReason provider.FinishReason
	Err          error
}

// Provider replays scripted steps in order, then falls back to Reply.
type Provider struct {
	mu       sync.Mutex
	steps    []Step
	requests []provider.Request
}

var _ provider.Generator = (*Provider)(nil)

// New creates a mock generator that replays steps before answering
// with Reply.
func New(steps ...Step) *Provider {
	return &Provider{steps: steps}
}

// Name returns "mock".
func (p *Provider) Name() string { return "mock" }

// Generate returns the next scripted step, or the deterministic reply.
func (p *Provider) Generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.requests = append(p.requests, *req)
	var step *Step
	if len(p.steps) > 0 {
		step = &p.steps[0]
		p.steps = p.steps[1:]
	}
	p.mu.Unlock()

	if step == nil {
		return &provider.Response{Text: Reply(req.Prompt, req.Files), Model: "mock", FinishReason: provider.FinishStop}, nil
	}
	if step.Err != nil {
		return nil, step.Err
	}
	finish := step.FinishReason
	if finish == "" {
		finish = provider.FinishStop
	}
	return &provider.Response{Text: step.Text, Model: "mock", FinishReason: finish}, nil
}

// Requests returns a copy of every request seen so far.
func (p *Provider) Requests() []provider.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]provider.Request(nil), p.requests...)
}

// Close is a no-op.
func (p *Provider) Close() error { return nil }

// Reply builds the deterministic answer for prompt: an index.html that
// shows the prompt. Existing files other than index.html are left alone,
// so the answer is a partial update.
func Reply(prompt string, files project.FileSet) string {
	page := fmt.Sprintf("<!DOCTYPE html>\n<html>\n<head><title>Vibe</title></head>\n<body>\n<h1>%s</h1>\n<p>%d file(s) in project</p>\n</body>\n</html>\n",
		html.EscapeString(prompt), len(files))
	out, err := json.Marshal(map[string]any{
		"message": "Updated index.html to show your request.",
		"files":   map[string]string{"index.html": page},
	})
	if err != nil {
		panic(fmt.Sprintf("marshal mock reply: %v", err))
	}
	return string(out)
}
