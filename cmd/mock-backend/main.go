// Command mock-backend runs a deterministic Chat Completions server for
// local development and end-to-end tests. It answers every request with
// the mock provider's reply for the prompt and files it finds in the
// user message, so `vibe serve` can run against it with the openai
// provider type.
//
// Marker words in the prompt select failure modes:
//
//	[prose]     reply with plain text instead of JSON
//	[truncate]  cut the reply in half and finish with "length"
//	[fail]      respond with HTTP 500
//	[limit]     respond with HTTP 429
//
// Configuration:
//
//	MOCK_PORT - Listen port (default: 9090)
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rhuss/vibe/pkg/project"
	"github.com/rhuss/vibe/pkg/provider/mock"
)

func main() {
	port := os.Getenv("MOCK_PORT")
	if port == "" {
		port = "9090"
	}

	srv := &http.Server{Addr: ":" + port, Handler: newMux(), ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("mock backend starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("mock backend failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("mock backend shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

func newMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", handleChatCompletions)
	mux.HandleFunc("GET /v1/models", handleModels)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return mux
}

// --- Request types ---

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// --- Response types ---

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// --- Handlers ---

func handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid request")
		return
	}

	prompt, files := parseUserContent(lastUserMessage(&req))
	switch {
	case strings.Contains(prompt, "[fail]"):
		writeError(w, http.StatusInternalServerError, "server_error", "mock failure")
		return
	case strings.Contains(prompt, "[limit]"):
		writeError(w, http.StatusTooManyRequests, "rate_limit_error", "slow down")
		return
	}

	text := mock.Reply(prompt, files)
	finish := "stop"
	switch {
	case strings.Contains(prompt, "[prose]"):
		text = "Sure! I updated the page for you."
	case strings.Contains(prompt, "[truncate]"):
		text = text[:len(text)/2]
		finish = "length"
	}

	model := req.Model
	if model == "" {
		model = "mock-model"
	}
	promptTokens := len(lastUserMessage(&req)) / 4
	completionTokens := len(text) / 4

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(chatResponse{
		ID:     "chatcmpl-mock",
		Object: "chat.completion",
		Model:  model,
		Choices: []chatChoice{{
			Message:      chatMessage{Role: "assistant", Content: text},
			FinishReason: finish,
		}},
		Usage: chatUsage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	})
}

func handleModels(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data": []map[string]any{
			{"id": "mock-model", "object": "model", "owned_by": "vibe"},
		},
	})
}

func writeError(w http.ResponseWriter, status int, typ, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"type": typ, "message": message},
	})
}

// --- Helpers ---

func lastUserMessage(req *chatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content
		}
	}
	return ""
}

const (
	filesHeader   = "Current project files:\n```json\n"
	requestHeader = "Request:\n"
)

// parseUserContent splits a user message built by the vibe providers into
// the prompt and the current files.
func parseUserContent(content string) (string, project.FileSet) {
	prompt := content
	if i := strings.LastIndex(content, requestHeader); i >= 0 {
		prompt = content[i+len(requestHeader):]
	}

	var files project.FileSet
	if start := strings.Index(content, filesHeader); start >= 0 {
		rest := content[start+len(filesHeader):]
		if end := strings.Index(rest, "\n```"); end >= 0 {
			if err := json.Unmarshal([]byte(rest[:end]), &files); err != nil {
				slog.Warn("could not parse files block", "error", err)
			}
		}
	}
	return prompt, files
}
