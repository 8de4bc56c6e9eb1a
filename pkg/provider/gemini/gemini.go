// Package gemini implements the provider.Generator interface on top of the
// Google Gen AI SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/genai"

	"github.com/rhuss/vibe/pkg/debug"
	"github.com/rhuss/vibe/pkg/provider"
)

// DefaultModel is used when neither the config nor the request names one.
const DefaultModel = "gemini-2.5-flash"

// Config holds configuration for the Gemini adapter.
type Config struct {
	// BaseURL overrides the Gemini API endpoint. Empty uses the SDK default.
	BaseURL string
	APIKey  string
	Model   string

	// Timeout bounds each HTTP request. Defaults to 120s.
	Timeout time.Duration
}

// Provider generates content through genai.Client.
type Provider struct {
	client *genai.Client
	model  string
}

var _ provider.Generator = (*Provider)(nil)

// New creates a Gemini adapter. The SDK client is only constructed when an
// API key is present; without one, Generate reports a configuration error.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	p := &Provider{model: cfg.Model}
	if cfg.APIKey == "" {
		return p, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  &http.Client{Timeout: cfg.Timeout},
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	p.client = client
	return p, nil
}

// Name returns "gemini".
func (p *Provider) Name() string { return "gemini" }

// Generate calls Models.GenerateContent with a JSON response MIME type.
func (p *Provider) Generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	if p.client == nil {
		return nil, provider.MissingKey(p.Name())
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	}

	model := req.ModelOr(p.model)
	result, err := p.client.Models.GenerateContent(ctx, model, genai.Text(req.UserContent()), config)
	if err != nil {
		return nil, mapError(err)
	}

	out := &provider.Response{
		Text:         result.Text(),
		Model:        model,
		FinishReason: provider.FinishOther,
	}
	if result.ModelVersion != "" {
		out.Model = result.ModelVersion
	}
	if len(result.Candidates) > 0 {
		out.FinishReason = mapFinishReason(result.Candidates[0].FinishReason)
	}
	if u := result.UsageMetadata; u != nil {
		out.Usage = provider.Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
		}
	}
	debug.Log("providers", "gemini response", "model", out.Model, "finish_reason", out.FinishReason, "chars", len(out.Text))
	return out, nil
}

// Close is a no-op; the SDK client holds no resources beyond its HTTP client.
func (p *Provider) Close() error { return nil }

func mapFinishReason(reason genai.FinishReason) provider.FinishReason {
	switch reason {
	case genai.FinishReasonStop:
		return provider.FinishStop
	case genai.FinishReasonMaxTokens:
		return provider.FinishLength
	default:
		return provider.FinishOther
	}
}

// mapError converts SDK errors onto the shared taxonomy. API errors carry
// the HTTP status; anything else failed before a response arrived.
func mapError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return provider.MapStatus(apiErr.Code, apiErr.Message)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return provider.MapStatus(apiErrPtr.Code, apiErrPtr.Message)
	}
	return provider.MapNetworkError(err)
}
