// Package sandbox coordinates the single shared execution sandbox that
// serves live previews.
//
// A [Coordinator] owns one sandbox [Session] per process and drives it
// through an explicit state machine:
//
//	Unbooted -> Booting -> Ready
//	Unbooted -> Booting -> Failed -> (next call) Booting ...
//
// Booting is expensive, so concurrent [Coordinator.EnsureBooted] callers
// share one in-flight attempt. Once Ready, the session is reused: new file
// sets are remounted and the previous process is stopped and restarted,
// never rebooted.
//
// A started process announces its address in two racing ways: a push
// notification from the runtime and a poll of the runtime's URL accessor.
// Both write the same single-assignment cell; the first write wins and the
// other is counted and discarded.
//
// Failures of the sandbox are not failures of the preview. [Coordinator.Preview]
// retries a failed start once and then falls back to the static document
// built by package preview.
//
// Runtimes live in subpackages: local (host processes), remote (the
// sandbox-server HTTP API), and kubernetes (remote sandboxes acquired
// through agent-sandbox claims).
package sandbox
