package sandbox

import (
	"context"
	"io"

	"github.com/rhuss/vibe/pkg/project"
	"github.com/rhuss/vibe/pkg/startplan"
)

// Runtime creates sandbox instances.
type Runtime interface {
	// Name identifies the runtime in logs and metrics.
	Name() string

	// Preflight checks that the environment can host a sandbox. A non-nil
	// error means isolation is unavailable and callers should fall back
	// to the static preview.
	Preflight(ctx context.Context) error

	// Boot creates a new instance. It is called at most once per
	// successful session.
	Boot(ctx context.Context) (Instance, error)
}

// ReadyFunc receives a push notification that a started process is
// reachable.
type ReadyFunc func(port int, url string)

// Instance is a booted sandbox.
type Instance interface {
	// ID returns a stable identifier for the instance.
	ID() string

	// Mount replaces the instance's files with files.
	Mount(ctx context.Context, files project.FileSet) error

	// Spawn starts plan inside the instance.
	Spawn(ctx context.Context, plan startplan.Plan) (Process, error)

	// OnServerReady registers fn for ready notifications and returns a
	// function that removes the registration.
	OnServerReady(fn ReadyFunc) (unsubscribe func())

	// URL returns the address of the running process, or "" when nothing
	// is reachable yet.
	URL(ctx context.Context) (string, error)

	// Close releases the instance.
	Close() error
}

// LossNotifier is implemented by instances that can become unusable
// without being closed, such as a remote sandbox whose server restarted.
// The coordinator boots a new instance once Lost is closed.
type LossNotifier interface {
	Lost() <-chan struct{}
}

// Process is a started plan.
type Process interface {
	// Output streams the combined stdout and stderr of the process. It
	// reaches EOF when the process exits.
	Output() io.Reader

	// Kill stops the process. It is safe to call more than once.
	Kill() error

	// Done is closed once the process has exited.
	Done() <-chan struct{}
}
