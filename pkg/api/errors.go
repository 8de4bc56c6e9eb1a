package api

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of an API error.
type ErrorType string

const (
	// Remote generation service.
	ErrorTypeConfiguration ErrorType = "configuration_error"
	ErrorTypeTransport     ErrorType = "transport_error"

	// Response ingestion.
	ErrorTypeEmptyResponse     ErrorType = "empty_response"
	ErrorTypeMalformedResponse ErrorType = "malformed_response"
	ErrorTypeTruncatedResponse ErrorType = "truncated_response"
	ErrorTypeSchema            ErrorType = "schema_error"

	// Sandbox lifecycle. These degrade to the static preview and are not
	// reported to learners as failures.
	ErrorTypeIsolationUnavailable ErrorType = "isolation_unavailable"
	ErrorTypeNoStartableTarget    ErrorType = "no_startable_target"
	ErrorTypeStartTimeout         ErrorType = "start_timeout"

	ErrorTypeServerError     ErrorType = "server_error"
	ErrorTypeInvalidRequest  ErrorType = "invalid_request"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeUnauthorized    ErrorType = "unauthorized"
	ErrorTypeForbidden       ErrorType = "forbidden"
	ErrorTypeTooManyRequests ErrorType = "too_many_requests"
)

// APIError represents a structured error with type, code, param, and message.
// Err optionally carries the underlying cause and is never serialized.
type APIError struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code,omitempty"`
	Param   string    `json:"param,omitempty"`
	Message string    `json:"message"`

	Err error `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Param != "" {
		msg = fmt.Sprintf("%s (param: %s)", msg, e.Param)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *APIError) Unwrap() error {
	return e.Err
}

// ErrorResponse wraps an APIError for JSON serialization as the top-level error response.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// TypeOf returns the ErrorType of the first APIError in err's chain, or ""
// if there is none.
func TypeOf(err error) ErrorType {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Type
	}
	return ""
}

// IsType reports whether err's chain contains an APIError of type t.
func IsType(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}

// IsIngestion reports whether err is one of the response ingestion failures.
func IsIngestion(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeEmptyResponse, ErrorTypeMalformedResponse, ErrorTypeTruncatedResponse, ErrorTypeSchema:
		return true
	}
	return false
}

// IsDegradable reports whether err should trigger the static preview
// instead of being reported as a failure.
func IsDegradable(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeIsolationUnavailable, ErrorTypeNoStartableTarget, ErrorTypeStartTimeout:
		return true
	}
	return false
}

// HTTPStatus maps an error to the HTTP status code used when returning it.
func HTTPStatus(err error) int {
	switch TypeOf(err) {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case ErrorTypeForbidden:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeTooManyRequests:
		return http.StatusTooManyRequests
	case ErrorTypeTransport, ErrorTypeEmptyResponse, ErrorTypeMalformedResponse,
		ErrorTypeTruncatedResponse, ErrorTypeSchema:
		return http.StatusBadGateway
	case ErrorTypeStartTimeout:
		return http.StatusGatewayTimeout
	case ErrorTypeIsolationUnavailable, ErrorTypeNoStartableTarget:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage returns the learner-facing text for err.
func UserMessage(err error) string {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return "Something went wrong. Please try again."
	}
	switch apiErr.Type {
	case ErrorTypeConfiguration:
		return apiErr.Message
	case ErrorTypeTransport:
		return "The assistant could not be reached. Please try again."
	case ErrorTypeEmptyResponse:
		return "The assistant returned an empty answer. Try rephrasing your request."
	case ErrorTypeTruncatedResponse:
		return "The response was too large and got cut off. Try asking for a smaller change."
	case ErrorTypeMalformedResponse:
		return "The assistant returned a response that could not be read. Try again with a simpler request."
	case ErrorTypeSchema:
		return fmt.Sprintf("The assistant's response is missing the %q field.", apiErr.Param)
	default:
		return apiErr.Message
	}
}

// NewConfigurationError creates an APIError for missing or invalid
// service configuration, such as an absent credential.
func NewConfigurationError(param, message string) *APIError {
	return &APIError{
		Type:    ErrorTypeConfiguration,
		Param:   param,
		Message: message,
	}
}

// NewTransportError creates an APIError for a failed exchange with the
// remote generation service.
func NewTransportError(message string, cause error) *APIError {
	return &APIError{
		Type:    ErrorTypeTransport,
		Message: message,
		Err:     cause,
	}
}

// NewEmptyResponseError creates an APIError for blank model output.
func NewEmptyResponseError() *APIError {
	return &APIError{
		Type:    ErrorTypeEmptyResponse,
		Message: "model returned no content",
	}
}

// NewMalformedResponseError creates an APIError for model output that is
// not valid structured data.
func NewMalformedResponseError(cause error) *APIError {
	return &APIError{
		Type:    ErrorTypeMalformedResponse,
		Message: "model output is not valid JSON",
		Err:     cause,
	}
}

// NewTruncatedResponseError creates an APIError for model output that was
// cut off before its closing delimiter.
func NewTruncatedResponseError(cause error) *APIError {
	return &APIError{
		Type:    ErrorTypeTruncatedResponse,
		Message: "model output ends before the closing delimiter",
		Err:     cause,
	}
}

// NewSchemaError creates an APIError for a parsed payload that lacks a
// required field or has it in the wrong shape.
func NewSchemaError(field, message string) *APIError {
	return &APIError{
		Type:    ErrorTypeSchema,
		Param:   field,
		Message: message,
	}
}

// NewIsolationUnavailableError creates an APIError for an environment that
// cannot host the sandbox.
func NewIsolationUnavailableError(message string, cause error) *APIError {
	return &APIError{
		Type:    ErrorTypeIsolationUnavailable,
		Message: message,
		Err:     cause,
	}
}

// NewNoStartableTargetError creates an APIError for a file set with nothing
// the sandbox knows how to launch.
func NewNoStartableTargetError() *APIError {
	return &APIError{
		Type:    ErrorTypeNoStartableTarget,
		Message: "no start script, server script, or markup entry found",
	}
}

// NewStartTimeoutError creates an APIError for a started process that never
// became reachable.
func NewStartTimeoutError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeStartTimeout,
		Message: message,
	}
}

// NewInvalidRequestError creates an APIError for invalid request parameters.
func NewInvalidRequestError(param, message string) *APIError {
	return &APIError{
		Type:    ErrorTypeInvalidRequest,
		Param:   param,
		Message: message,
	}
}

// NewNotFoundError creates an APIError for resources that cannot be found.
func NewNotFoundError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

// NewServerError creates an APIError for internal server errors.
func NewServerError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeServerError,
		Message: message,
	}
}

// NewUnauthorizedError creates an APIError for missing or invalid credentials.
func NewUnauthorizedError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeUnauthorized,
		Message: message,
	}
}

// NewForbiddenError creates an APIError for access to another owner's resource.
func NewForbiddenError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeForbidden,
		Message: message,
	}
}

// NewTooManyRequestsError creates an APIError for rate limiting.
func NewTooManyRequestsError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeTooManyRequests,
		Message: message,
	}
}
