package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rhuss/vibe/pkg/project"
)

// Generator produces raw model text for a prompt.
//
// Implementations must be safe for concurrent use by multiple goroutines.
// A missing credential is reported as a configuration error before any
// network call is made.
type Generator interface {
	// Name returns the provider identifier (e.g., "openai", "gemini").
	Name() string

	// Generate performs a single non-streaming generation.
	Generate(ctx context.Context, req *Request) (*Response, error)

	// Close releases provider resources (HTTP clients, connections).
	Close() error
}

// Request is a single generation request.
type Request struct {
	// Model overrides the provider's configured model when set.
	Model string

	// System is the system instruction.
	System string

	// Prompt is the learner's request.
	Prompt string

	// Files is the current project snapshot sent alongside the prompt.
	Files project.FileSet

	MaxTokens   int
	Temperature *float64
}

// FinishReason describes why generation stopped.
type FinishReason string

const (
	FinishStop   FinishReason = "stop"
	FinishLength FinishReason = "length"
	FinishOther  FinishReason = "other"
)

// Usage holds token counts reported by the backend.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the raw result of a generation.
type Response struct {
	Text         string       `json:"text"`
	Model        string       `json:"model"`
	FinishReason FinishReason `json:"finish_reason"`
	Usage        Usage        `json:"usage"`
}

// UserContent renders the prompt and file snapshot as the user message
// sent to the model.
func (r *Request) UserContent() string {
	var b strings.Builder
	if len(r.Files) > 0 {
		var files bytes.Buffer
		enc := json.NewEncoder(&files)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(r.Files); err != nil {
			// FileSet is map[string]string; encoding cannot fail.
			panic(fmt.Sprintf("encode files: %v", err))
		}
		b.WriteString("Current project files:\n```json\n")
		b.Write(bytes.TrimRight(files.Bytes(), "\n"))
		b.WriteString("\n```\n\n")
	}
	b.WriteString("Request:\n")
	b.WriteString(r.Prompt)
	return b.String()
}

// ModelOr returns the request model, or fallback when none is set.
func (r *Request) ModelOr(fallback string) string {
	if r.Model != "" {
		return r.Model
	}
	return fallback
}
