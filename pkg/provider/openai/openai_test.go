package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/project"
	"github.com/rhuss/vibe/pkg/provider"
)

func TestGenerate_TextResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("expected path /v1/chat/completions, got %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}

		var req chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if req.Model != "gpt-test" {
			t.Errorf("model = %q, want gpt-test", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
			t.Fatalf("unexpected messages: %+v", req.Messages)
		}
		if user, _ := req.Messages[1].Content.(string); !strings.Contains(user, `"index.html"`) || !strings.Contains(user, "make it blue") {
			t.Errorf("user message should carry files and prompt: %q", user)
		}
		if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_object" {
			t.Errorf("expected json_object response format, got %+v", req.ResponseFormat)
		}
		if req.MaxTokens == nil || *req.MaxTokens != 2048 {
			t.Errorf("max_tokens = %v", req.MaxTokens)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatCompletionResponse{
			Model: "gpt-test",
			Choices: []chatChoice{{
				Message:      chatMessage{Role: "assistant", Content: `{"message":"ok","files":{}}`},
				FinishReason: "stop",
			}},
			Usage: &chatUsage{PromptTokens: 12, CompletionTokens: 9},
		})
	}))
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, APIKey: "sk-test", Model: "gpt-test", JSONMode: true})
	defer p.Close()

	resp, err := p.Generate(context.Background(), &provider.Request{
		System:    "You write code.",
		Prompt:    "make it blue",
		Files:     project.FileSet{"index.html": "<h1>hi</h1>"},
		MaxTokens: 2048,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if resp.Text != `{"message":"ok","files":{}}` {
		t.Errorf("text = %q", resp.Text)
	}
	if resp.FinishReason != provider.FinishStop {
		t.Errorf("finish reason = %q", resp.FinishReason)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 9 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestGenerate_LengthFinishReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatCompletionResponse{
			Choices: []chatChoice{{Message: chatMessage{Content: `{"message":"o`}, FinishReason: "length"}},
		})
	}))
	defer srv.Close()

	resp, err := New(Config{BaseURL: srv.URL, APIKey: "k"}).Generate(context.Background(), &provider.Request{Prompt: "x"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if resp.FinishReason != provider.FinishLength {
		t.Errorf("finish reason = %q, want length", resp.FinishReason)
	}
}

func TestGenerate_MissingKeyMakesNoRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL}).Generate(context.Background(), &provider.Request{Prompt: "x"})
	if !api.IsType(err, api.ErrorTypeConfiguration) {
		t.Fatalf("expected configuration_error, got %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("expected no backend calls, got %d", calls.Load())
	}
}

func TestGenerate_HTTPErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantType  api.ErrorType
		retryable bool
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"Incorrect API key provided"}}`, api.ErrorTypeConfiguration, false},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, api.ErrorTypeTransport, true},
		{"unavailable", http.StatusServiceUnavailable, "", api.ErrorTypeTransport, true},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"bad model"}}`, api.ErrorTypeTransport, false},
		{"internal", http.StatusInternalServerError, "", api.ErrorTypeTransport, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(Config{BaseURL: srv.URL, APIKey: "k"}).Generate(context.Background(), &provider.Request{Prompt: "x"})
			if got := api.TypeOf(err); got != tt.wantType {
				t.Fatalf("type = %q, want %q (%v)", got, tt.wantType, err)
			}
			if got := provider.Retryable(err); got != tt.retryable {
				t.Errorf("Retryable = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestGenerate_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, err := New(Config{BaseURL: srv.URL, APIKey: "k"}).Generate(context.Background(), &provider.Request{Prompt: "x"})
	if !api.IsType(err, api.ErrorTypeTransport) {
		t.Fatalf("expected transport_error, got %v", err)
	}
	if !provider.Retryable(err) {
		t.Error("network errors should be retryable")
	}
}
