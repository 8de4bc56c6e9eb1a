package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"golang.org/x/sync/errgroup"

	"github.com/rhuss/vibe/pkg/debug"
	"github.com/rhuss/vibe/pkg/project"
	"github.com/rhuss/vibe/pkg/sandbox"
	"github.com/rhuss/vibe/pkg/startplan"
)

// mountWorkers bounds concurrent file writes during Mount.
const mountWorkers = 8

// Instance is a booted workspace.
type Instance struct {
	root          string
	dialInterval time.Duration

	mu       sync.Mutex
	handlers map[int]sandbox.ReadyFunc
	next     int
	address  string // confirmed address of the current process
	port     int    // port assigned to the current process
}

var _ sandbox.Instance = (*Instance)(nil)

func newInstance(root string, dialInterval time.Duration) *Instance {
	return &Instance{
		root:          root,
		dialInterval: dialInterval,
		handlers:      make(map[int]sandbox.ReadyFunc),
	}
}

// ID returns the workspace directory name.
func (i *Instance) ID() string { return filepath.Base(i.root) }

// Root returns the workspace directory.
func (i *Instance) Root() string { return i.root }

// Mount replaces the workspace contents with files.
func (i *Instance) Mount(ctx context.Context, files project.FileSet) error {
	entries, err := os.ReadDir(i.root)
	if err != nil {
		return fmt.Errorf("reading workspace: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(i.root, e.Name())); err != nil {
			return fmt.Errorf("clearing workspace: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(mountWorkers)
	for name, content := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return i.writeFile(name, content)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	debug.Log("sandbox", "workspace mounted", "root", i.root, "files", len(files))
	return nil
}

func (i *Instance) writeFile(name, content string) error {
	path, err := securejoin.SecureJoin(i.root, name)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", name, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %q: %w", name, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %q: %w", name, err)
	}
	return nil
}

// Spawn launches plan in the workspace.
func (i *Instance) Spawn(ctx context.Context, plan startplan.Plan) (sandbox.Process, error) {
	i.mu.Lock()
	i.address = ""
	i.port = 0
	i.mu.Unlock()

	if plan.Kind == startplan.KindStaticServer {
		return i.serveStatic(plan)
	}
	return i.exec(plan)
}

func (i *Instance) serveStatic(plan startplan.Plan) (sandbox.Process, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listening for static server: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	url := "http://" + ln.Addr().String()

	srv := &http.Server{
		Handler:           http.FileServer(http.Dir(i.root)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	proc := newStaticProcess(srv, url)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("static server stopped", "error", err)
		}
		close(proc.done)
	}()

	i.mu.Lock()
	i.port = port
	i.mu.Unlock()
	i.announce(port, url)
	return proc, nil
}

func (i *Instance) exec(plan startplan.Plan) (sandbox.Process, error) {
	argv := plan.Argv()
	if len(argv) == 0 {
		return nil, fmt.Errorf("plan %s has no command", plan.Strategy)
	}
	port, err := freePort()
	if err != nil {
		return nil, err
	}

	// The process outlives the request that started it; Kill stops it.
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = i.root
	cmd.Env = append(os.Environ(), "PORT="+strconv.Itoa(port), "HOST=127.0.0.1")
	for k, v := range plan.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.WaitDelay = 2 * time.Second
	setProcessGroup(cmd)

	proc, err := startProcess(cmd, i.onOutputPort)
	if err != nil {
		return nil, fmt.Errorf("starting %s: %w", argv[0], err)
	}

	i.mu.Lock()
	i.port = port
	i.mu.Unlock()

	go i.watchPort(proc, port)
	return proc, nil
}

// watchPort dials the assigned port until the process accepts connections
// or exits.
func (i *Instance) watchPort(proc *process, port int) {
	ticker := time.NewTicker(i.dialInterval)
	defer ticker.Stop()
	for {
		select {
		case <-proc.done:
			return
		case <-ticker.C:
			if reachable(port) {
				i.confirm(port)
				return
			}
		}
	}
}

// onOutputPort handles a port announced on the process output. Projects
// that ignore PORT are still found this way.
func (i *Instance) onOutputPort(port int) {
	if reachable(port) {
		i.confirm(port)
		return
	}
	// The line is often printed just before listen returns.
	time.AfterFunc(i.dialInterval, func() {
		if reachable(port) {
			i.confirm(port)
		}
	})
}

func (i *Instance) confirm(port int) {
	url := "http://127.0.0.1:" + strconv.Itoa(port)
	i.mu.Lock()
	if i.address != "" {
		i.mu.Unlock()
		return
	}
	i.address = url
	i.mu.Unlock()
	i.announce(port, url)
}

func (i *Instance) announce(port int, url string) {
	i.mu.Lock()
	i.address = url
	handlers := make([]sandbox.ReadyFunc, 0, len(i.handlers))
	for _, h := range i.handlers {
		handlers = append(handlers, h)
	}
	i.mu.Unlock()

	for _, h := range handlers {
		h(port, url)
	}
}

// OnServerReady registers fn for server-ready notifications.
func (i *Instance) OnServerReady(fn sandbox.ReadyFunc) func() {
	i.mu.Lock()
	defer i.mu.Unlock()
	id := i.next
	i.next++
	i.handlers[id] = fn
	return func() {
		i.mu.Lock()
		defer i.mu.Unlock()
		delete(i.handlers, id)
	}
}

// URL returns the current process address, or "" while it is not yet
// accepting connections.
func (i *Instance) URL(ctx context.Context) (string, error) {
	i.mu.Lock()
	address, port := i.address, i.port
	i.mu.Unlock()
	if address != "" {
		return address, nil
	}
	if port == 0 || !reachable(port) {
		return "", nil
	}
	return "http://127.0.0.1:" + strconv.Itoa(port), nil
}

// Close removes the workspace.
func (i *Instance) Close() error {
	return os.RemoveAll(i.root)
}

func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("allocating port: %w", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

func reachable(port int) bool {
	conn, err := net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(port), 250*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
