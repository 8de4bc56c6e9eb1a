// Package anthropic implements the provider.Generator interface for the
// Anthropic Messages API.
package anthropic

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

const (
	// DefaultBaseURL is the public Anthropic API.
	DefaultBaseURL = "https://api.anthropic.com"

	// APIVersion is sent in the anthropic-version header.
	APIVersion = "2023-06-01"

	defaultMaxTokens = 4096
)

// Config holds configuration for the Anthropic adapter.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string

	// Timeout bounds each HTTP request. Defaults to 120s.
	Timeout time.Duration
}

// Provider talks to the Messages endpoint.
type Provider struct {
	httpClient *http.Client
	cfg        Config
}

var _ provider.Generator = (*Provider)(nil)

// New creates a new Anthropic adapter.
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

// Name returns "anthropic".
func (p *Provider) Name() string { return "anthropic" }

// Generate sends one user message and returns the concatenated text blocks.
func (p *Provider) Generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	if p.cfg.APIKey == "" {
		return nil, provider.MissingKey(p.Name())
	}

	msgReq := messagesRequest{
		Model:       req.ModelOr(p.cfg.Model),
		MaxTokens:   req.MaxTokens,
		System:      req.System,
		Messages:    []message{{Role: "user", Content: req.UserContent()}},
		Temperature: req.Temperature,
	}
	if msgReq.MaxTokens <= 0 {
		msgReq.MaxTokens = defaultMaxTokens
	}

	body, err := json.Marshal(msgReq)
	if err != nil {
		return nil, api.NewServerError(fmt.Sprintf("failed to marshal request: %s", err.Error()))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, api.NewServerError(fmt.Sprintf("failed to create HTTP request: %s", err.Error()))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", APIVersion)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, provider.MapNetworkError(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, provider.MapHTTPError(httpResp)
	}

	var msgResp messagesResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&msgResp); err != nil {
		return nil, api.NewTransportError("failed to parse backend response", err)
	}

	var text strings.Builder
	for _, block := range msgResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	out := &provider.Response{
		Text:         text.String(),
		Model:        msgResp.Model,
		FinishReason: mapStopReason(msgResp.StopReason),
		Usage: provider.Usage{
			InputTokens:  msgResp.Usage.InputTokens,
			OutputTokens: msgResp.Usage.OutputTokens,
		},
	}
	debug.Log("providers", "messages response", "model", msgResp.Model, "stop_reason", msgResp.StopReason, "chars", len(out.Text))
	return out, nil
}

// Close releases client resources.
func (p *Provider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

func mapStopReason(reason string) provider.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return provider.FinishStop
	case "max_tokens":
		return provider.FinishLength
	default:
		return provider.FinishOther
	}
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}
