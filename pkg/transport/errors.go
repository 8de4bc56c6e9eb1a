package transport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rhuss/vibe/pkg/api"
)

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing JSON response failed", "error", err)
	}
}

// WriteErrorResponse writes a JSON error response using the ErrorResponse
// wrapper format from pkg/api with an explicit status code.
func WriteErrorResponse(w http.ResponseWriter, apiErr *api.APIError, statusCode int) {
	WriteJSON(w, statusCode, api.ErrorResponse{Error: apiErr})
}

// WriteAPIError writes an APIError response, deriving the HTTP status code
// from the error type.
func WriteAPIError(w http.ResponseWriter, apiErr *api.APIError) {
	WriteErrorResponse(w, apiErr, api.HTTPStatus(apiErr))
}

// WriteError writes any error as an API error response. The message is
// replaced with the learner-facing text for its type, and errors that
// carry no APIError are reported as server errors.
func WriteError(w http.ResponseWriter, err error) {
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		slog.Error("unclassified handler error", "error", err)
		WriteAPIError(w, api.NewServerError(api.UserMessage(err)))
		return
	}
	WriteAPIError(w, &api.APIError{
		Type:    apiErr.Type,
		Code:    apiErr.Code,
		Param:   apiErr.Param,
		Message: api.UserMessage(apiErr),
	})
}
