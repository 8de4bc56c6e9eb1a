// Package remote implements a sandbox runtime backed by a sandbox server
// reached over HTTP, together with the server side of that protocol.
//
// Routes served by Server:
//
//	GET    /health
//	POST   /v1/instances
//	DELETE /v1/instances/{id}
//	PUT    /v1/instances/{id}/files
//	POST   /v1/instances/{id}/processes
//	DELETE /v1/instances/{id}/processes/{pid}
//	GET    /v1/instances/{id}/url
//	GET    /v1/instances/{id}/events          (text/event-stream)
//	       /v1/instances/{id}/preview/...     (reverse proxy to the live process)
//
// Live addresses inside the sandbox are never exposed directly. The server
// reports them as paths under its own preview proxy.
package remote

import (
	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/startplan"
)

// Event types sent on the instance event stream.
const (
	EventServerReady = "server-ready"
	EventOutput      = "output"
	EventExit        = "exit"
)

// BootResponse is returned by POST /v1/instances.
type BootResponse struct {
	InstanceID string `json:"instance_id"`
}

// MountRequest is the body of PUT /v1/instances/{id}/files.
type MountRequest struct {
	Files map[string]string `json:"files"`
}

// SpawnRequest is the body of POST /v1/instances/{id}/processes. The
// caller chooses the process ID so it can route events that arrive before
// the response.
type SpawnRequest struct {
	ProcessID string         `json:"process_id"`
	Plan      startplan.Plan `json:"plan"`
}

// URLResponse is returned by GET /v1/instances/{id}/url. Path is empty
// while no process is reachable.
type URLResponse struct {
	Path string `json:"path"`
}

// Event is a single event on the instance stream.
type Event struct {
	Type    string `json:"type"`
	Process string `json:"process,omitempty"`
	Port    int    `json:"port,omitempty"`
	Path    string `json:"path,omitempty"`
	Line    string `json:"line,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	Runtime    string `json:"runtime"`
	Capacity   int    `json:"capacity"`
	Instances  int    `json:"instances"`
	UptimeSecs int64  `json:"uptime_seconds"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string        `json:"error"`
	Type  api.ErrorType `json:"type,omitempty"`
}
