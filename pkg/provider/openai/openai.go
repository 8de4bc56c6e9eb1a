// Package openai implements the provider.Generator interface for OpenAI
// and OpenAI-compatible Chat Completions backends (vLLM, LiteLLM, Ollama).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/debug"
	"github.com/rhuss/vibe/pkg/provider"
)

// DefaultBaseURL is the public OpenAI API.
const DefaultBaseURL = "https://api.openai.com"

// Config holds configuration for the OpenAI adapter.
type Config struct {
	// BaseURL is the backend URL without the /v1 suffix.
	BaseURL string

	// APIKey is sent as a Bearer token.
	APIKey string

	// Model is used when a request does not name one.
	Model string

	// Timeout bounds each HTTP request. Defaults to 120s.
	Timeout time.Duration

	// JSONMode requests a JSON object response format.
	JSONMode bool
}

// Provider talks to a Chat Completions endpoint.
type Provider struct {
	httpClient *http.Client
	cfg        Config
}

var _ provider.Generator = (*Provider)(nil)

// New creates a new OpenAI adapter.
func New(cfg Config) *Provider {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Provider{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
	}
}

// Name returns "openai".
func (p *Provider) Name() string { return "openai" }

// Generate performs a Chat Completions request.
func (p *Provider) Generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	if p.cfg.APIKey == "" {
		return nil, provider.MissingKey(p.Name())
	}

	chatReq := chatCompletionRequest{
		Model: req.ModelOr(p.cfg.Model),
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.UserContent()},
		},
		Temperature: req.Temperature,
		N:           1,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = &req.MaxTokens
	}
	if p.cfg.JSONMode {
		chatReq.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, api.NewServerError(fmt.Sprintf("failed to marshal request: %s", err.Error()))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, api.NewServerError(fmt.Sprintf("failed to create HTTP request: %s", err.Error()))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, provider.MapNetworkError(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, provider.MapHTTPError(httpResp)
	}

	var chatResp chatCompletionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&chatResp); err != nil {
		return nil, api.NewTransportError("failed to parse backend response", err)
	}
	return translateResponse(&chatResp), nil
}

// Close releases client resources.
func (p *Provider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// translateResponse converts choices[0] into a provider.Response.
func translateResponse(resp *chatCompletionResponse) *provider.Response {
	out := &provider.Response{Model: resp.Model, FinishReason: provider.FinishOther}
	if resp.Usage != nil {
		out.Usage = provider.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	if len(resp.Choices) == 0 {
		return out
	}

	choice := resp.Choices[0]
	out.FinishReason = mapFinishReason(choice.FinishReason)
	if s, ok := choice.Message.Content.(string); ok {
		out.Text = s
	}
	debug.Log("providers", "chat completion", "model", resp.Model, "finish_reason", choice.FinishReason, "chars", len(out.Text))
	return out
}

func mapFinishReason(reason string) provider.FinishReason {
	switch reason {
	case "stop":
		return provider.FinishStop
	case "length":
		return provider.FinishLength
	default:
		return provider.FinishOther
	}
}
