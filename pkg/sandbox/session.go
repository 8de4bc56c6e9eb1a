package sandbox

import (
	"sync"
	"time"

	"github.com/rhuss/vibe/pkg/project"
	"github.com/rhuss/vibe/pkg/startplan"
)

// State is the lifecycle state of the coordinator's sandbox.
type State string

const (
	StateUnbooted State = "unbooted"
	StateBooting  State = "booting"
	StateReady    State = "ready"
	StateFailed   State = "failed"
)

// ReadySource records which signal resolved an address.
type ReadySource string

const (
	ReadyPush ReadySource = "push"
	ReadyPoll ReadySource = "poll"
)

// Session is a read-only snapshot of the shared sandbox.
type Session struct {
	ID      string `json:"id"`
	Runtime string `json:"runtime"`
	State   State  `json:"state"`

	Mounted project.FileSet `json:"-"`
	Plan    *startplan.Plan `json:"plan,omitempty"`

	Address           string      `json:"address,omitempty"`
	ReadyAcknowledged bool        `json:"ready_acknowledged"`
	ReadySource       ReadySource `json:"ready_source,omitempty"`

	BootedAt  time.Time `json:"booted_at"`
	StartedAt time.Time `json:"started_at,omitzero"`
}

// readyCell is a single-assignment cell for a mount cycle's address.
// The first settle wins; later ones are reported as discarded.
type readyCell struct {
	mu      sync.Mutex
	sealed  bool
	address string
	source  ReadySource
	done    chan struct{}
}

func newReadyCell() *readyCell {
	return &readyCell{done: make(chan struct{})}
}

// settle records address if the cell is still open and reports whether
// this call won.
func (c *readyCell) settle(address string, source ReadySource) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed {
		return false
	}
	c.sealed = true
	c.address = address
	c.source = source
	close(c.done)
	return true
}

func (c *readyCell) value() (string, ReadySource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.address, c.source
}
