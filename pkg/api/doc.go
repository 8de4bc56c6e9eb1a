// Package api defines the error taxonomy and identifiers shared by every
// vibe component.
//
// All failures that cross a package boundary are reported as [APIError]
// values with an [ErrorType]. Callers branch on the type with [IsType] and
// [TypeOf] rather than on error strings. The types fall into four groups:
//
//   - remote service: configuration_error, transport_error
//   - ingestion: empty_response, malformed_response, truncated_response, schema_error
//   - sandbox: isolation_unavailable, no_startable_target, start_timeout
//   - request handling: invalid_request, not_found, unauthorized, forbidden,
//     too_many_requests, server_error
//
// Sandbox errors are degradable: callers switch to the static preview
// instead of reporting them (see [IsDegradable]).
//
// The package has no external dependencies and performs no I/O.
package api
