package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rhuss/vibe/pkg/api"
)

// StatusError is the cause attached to transport errors built from a
// non-2xx backend response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// MapHTTPError converts a non-2xx backend response into an APIError.
// Rejected credentials become configuration errors; everything else is a
// transport error carrying a *StatusError.
func MapHTTPError(resp *http.Response) *api.APIError {
	message := ExtractErrorMessage(resp.Body)
	return MapStatus(resp.StatusCode, message)
}

// MapStatus maps a backend status code and message onto an APIError.
func MapStatus(status int, message string) *api.APIError {
	cause := &StatusError{StatusCode: status, Message: message}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		if message == "" {
			message = "the generation service rejected the configured credential"
		}
		apiErr := api.NewConfigurationError("provider.api_key", message)
		apiErr.Err = cause
		return apiErr

	case status == http.StatusTooManyRequests:
		return api.NewTransportError("generation service rate limit exceeded", cause)

	case status >= http.StatusInternalServerError:
		return api.NewTransportError(fmt.Sprintf("generation service error (HTTP %d)", status), cause)

	default:
		return api.NewTransportError(fmt.Sprintf("generation service rejected the request (HTTP %d)", status), cause)
	}
}

// MapNetworkError converts a network-level error (connection refused,
// timeout, DNS failure) into a transport error.
func MapNetworkError(err error) *api.APIError {
	if errors.Is(err, context.DeadlineExceeded) {
		return api.NewTransportError("generation service timed out", err)
	}
	return api.NewTransportError("generation service unreachable", err)
}

// ExtractErrorMessage parses the common {"error":{"message":...}} body
// shape shared by OpenAI- and Anthropic-style APIs.
func ExtractErrorMessage(body io.Reader) string {
	if body == nil {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}
	var errResp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return ""
}

// retryableStatus lists the backend statuses worth a second attempt.
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:    true,
	http.StatusBadGateway:         true,
	http.StatusServiceUnavailable: true,
	http.StatusGatewayTimeout:     true,
}

// Retryable reports whether err is a transport failure worth retrying:
// a network error or one of 429, 502, 503, 504. Cancellation by the
// caller is never retried.
func Retryable(err error) bool {
	if !api.IsType(err, api.ErrorTypeTransport) || errors.Is(err, context.Canceled) {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return retryableStatus[status.StatusCode]
	}
	return true
}

// MissingKey returns the configuration error for an absent credential.
func MissingKey(provider string) *api.APIError {
	return api.NewConfigurationError("provider.api_key",
		fmt.Sprintf("No API key is configured for the %s provider. Ask your administrator to set provider.api_key.", provider))
}
