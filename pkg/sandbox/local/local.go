// Package local implements a sandbox runtime that runs projects as host
// processes inside a temporary workspace.
//
// Files are written beneath the workspace root with securejoin so a name
// can never resolve outside it. Declared scripts and interpreters run with
// PORT set to a free loopback port; static plans are served in-process.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/sandbox"
)

// DefaultInterpreters are the executables a workspace can launch.
var DefaultInterpreters = []string{"node", "python3"}

// Config configures the local runtime.
type Config struct {
	// Workspace is the parent directory for per-boot workspaces.
	// Defaults to os.TempDir().
	Workspace string

	// Interpreters are looked up in PATH by Preflight. At least one must be present.
	Interpreters []string

	// DialInterval is the period of the TCP dial that detects a listening
	// process. Defaults to 100ms.
	DialInterval time.Duration
}

// Runtime boots local workspaces.
type Runtime struct {
	cfg Config
}

var _ sandbox.Runtime = (*Runtime)(nil)

// New creates a local runtime.
func New(cfg Config) *Runtime {
	if cfg.Workspace == "" {
		cfg.Workspace = os.TempDir()
	}
	if len(cfg.Interpreters) == 0 {
		cfg.Interpreters = DefaultInterpreters
	}
	if cfg.DialInterval <= 0 {
		cfg.DialInterval = 100 * time.Millisecond
	}
	return &Runtime{cfg: cfg}
}

// Name returns "local".
func (r *Runtime) Name() string { return "local" }

// Preflight checks that an interpreter is installed and the workspace parent
// accepts new directories.
func (r *Runtime) Preflight(ctx context.Context) error {
	var missing []error
	found := 0
	for _, name := range r.cfg.Interpreters {
		if _, err := exec.LookPath(name); err != nil {
			missing = append(missing, fmt.Errorf("%s not found in PATH", name))
			continue
		}
		found++
	}
	if found == 0 {
		return api.NewIsolationUnavailableError("no interpreter available", errors.Join(missing...))
	}

	dir, err := os.MkdirTemp(r.cfg.Workspace, ".vibe-preflight-*")
	if err != nil {
		return api.NewIsolationUnavailableError("workspace is not writable", err)
	}
	return os.Remove(dir)
}

// Boot creates a fresh workspace directory.
func (r *Runtime) Boot(ctx context.Context) (sandbox.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp(r.cfg.Workspace, "vibe-sandbox-*")
	if err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	root, err := filepath.EvalSymlinks(dir)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("resolving workspace: %w", err)
	}
	return newInstance(root, r.cfg.DialInterval), nil
}
