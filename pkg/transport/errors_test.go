package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rhuss/vibe/pkg/api"
)

func TestWriteErrorResponse(t *testing.T) {
	apiErr := api.NewInvalidRequestError("prompt", "is required")
	rec := httptest.NewRecorder()

	WriteErrorResponse(rec, apiErr, http.StatusBadRequest)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status code = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var resp api.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error.Type != api.ErrorTypeInvalidRequest {
		t.Errorf("error type = %q, want %q", resp.Error.Type, api.ErrorTypeInvalidRequest)
	}
	if resp.Error.Param != "prompt" {
		t.Errorf("error param = %q, want %q", resp.Error.Param, "prompt")
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantType    api.ErrorType
		wantMessage string
	}{
		{
			"not found",
			api.NewNotFoundError("project proj_x not found"),
			http.StatusNotFound,
			api.ErrorTypeNotFound,
			"project proj_x not found",
		},
		{
			"truncated response uses learner text",
			api.NewTruncatedResponseError(errors.New("unexpected end of JSON input")),
			http.StatusBadGateway,
			api.ErrorTypeTruncatedResponse,
			"The response was too large and got cut off. Try asking for a smaller change.",
		},
		{
			"transport error hides cause",
			api.NewTransportError("dial tcp 10.0.0.1:443: connection refused", nil),
			http.StatusBadGateway,
			api.ErrorTypeTransport,
			"The assistant could not be reached. Please try again.",
		},
		{
			"configuration error passes message",
			api.NewConfigurationError("api_key", "No API key is configured for openai."),
			http.StatusInternalServerError,
			api.ErrorTypeConfiguration,
			"No API key is configured for openai.",
		},
		{
			"plain error",
			errors.New("pq: connection reset"),
			http.StatusInternalServerError,
			api.ErrorTypeServerError,
			"Something went wrong. Please try again.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tt.err)

			if rec.Code != tt.wantStatus {
				t.Errorf("status code = %d, want %d", rec.Code, tt.wantStatus)
			}
			var resp api.ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Error.Type != tt.wantType {
				t.Errorf("error type = %q, want %q", resp.Error.Type, tt.wantType)
			}
			if resp.Error.Message != tt.wantMessage {
				t.Errorf("error message = %q, want %q", resp.Error.Message, tt.wantMessage)
			}
		})
	}
}
