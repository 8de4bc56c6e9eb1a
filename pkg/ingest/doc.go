// Package ingest turns raw model output into a validated message and file
// set.
//
// Model output is untrusted text. [Ingest] strips markdown fences,
// parses the remaining payload as JSON, and validates it against the
// expected shape before any field is read:
//
//	{"message": "<explanation>", "files": {"<name>": "<content>", ...}}
//
// Every failure is an *api.APIError with one of the ingestion types:
// empty_response, truncated_response, malformed_response, or schema_error.
// Truncation is distinguished from generic malformation so callers can tell
// the learner the response was too large. Ingest never returns an empty
// result in place of an error.
package ingest
