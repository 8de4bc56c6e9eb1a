package sandbox

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/debug"
	"github.com/rhuss/vibe/pkg/observability"
	"github.com/rhuss/vibe/pkg/project"
	"github.com/rhuss/vibe/pkg/startplan"
)

// Options configures a Coordinator.
type Options struct {
	// BootTimeout bounds a single boot attempt, including the preflight check.
	BootTimeout time.Duration

	// StartTimeout bounds the wait for a spawned process to become reachable.
	StartTimeout time.Duration

	// PollInterval is the period of the URL poll that races the push
	// notification.
	PollInterval time.Duration

	// StopTimeout bounds the wait for a previous process to exit on remount.
	StopTimeout time.Duration

	// Resolver chooses how to launch mounted files. Defaults to the
	// built-in strategies.
	Resolver *startplan.Resolver
}

// DefaultOptions returns the default coordinator options.
func DefaultOptions() Options {
	return Options{
		BootTimeout:  60 * time.Second,
		StartTimeout: 20 * time.Second,
		PollInterval: 3 * time.Second,
		StopTimeout:  5 * time.Second,
	}
}

// Coordinator owns the shared sandbox session. It is safe for concurrent use.
type Coordinator struct {
	runtime Runtime
	opts    Options

	mu       sync.Mutex
	state    State
	attempt  *bootAttempt
	instance Instance
	session  Session
	lastErr  error

	// cycleMu serializes mount cycles. proc is guarded by it.
	cycleMu sync.Mutex
	proc    Process
}

// bootAttempt is the single in-flight boot. Late callers wait on done.
type bootAttempt struct {
	done    chan struct{}
	session Session
	err     error
}

// NewCoordinator creates a Coordinator over rt. Zero option fields take
// their defaults.
func NewCoordinator(rt Runtime, opts Options) *Coordinator {
	def := DefaultOptions()
	if opts.BootTimeout <= 0 {
		opts.BootTimeout = def.BootTimeout
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = def.StartTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = def.StopTimeout
	}
	if opts.Resolver == nil {
		opts.Resolver = startplan.NewResolver()
	}
	return &Coordinator{runtime: rt, opts: opts, state: StateUnbooted}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns a snapshot of the live session and whether one exists.
func (c *Coordinator) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return Session{}, false
	}
	return c.snapshotLocked(), true
}

// LastError returns the error of the most recent failed boot, if any.
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// EnsureBooted returns the live session, booting one if needed. Concurrent
// callers during a boot share the same attempt and receive the same
// session. ctx bounds only the caller's wait; the boot itself continues
// under BootTimeout so other waiters are unaffected by one cancellation.
func (c *Coordinator) EnsureBooted(ctx context.Context) (Session, error) {
	c.mu.Lock()
	switch c.state {
	case StateReady:
		if !c.instanceLostLocked() {
			s := c.snapshotLocked()
			c.mu.Unlock()
			return s, nil
		}
		c.discardLostLocked()
	case StateBooting:
		a := c.attempt
		c.mu.Unlock()
		debug.Log("sandbox", "joining in-flight boot")
		return c.await(ctx, a)
	}

	a := &bootAttempt{done: make(chan struct{})}
	c.attempt = a
	c.state = StateBooting
	c.mu.Unlock()

	go c.boot(context.WithoutCancel(ctx), a)
	return c.await(ctx, a)
}

func (c *Coordinator) await(ctx context.Context, a *bootAttempt) (Session, error) {
	select {
	case <-a.done:
		return a.session, a.err
	case <-ctx.Done():
		return Session{}, ctx.Err()
	}
}

func (c *Coordinator) boot(parent context.Context, a *bootAttempt) {
	ctx, cancel := context.WithTimeout(parent, c.opts.BootTimeout)
	defer cancel()

	rtName := c.runtime.Name()
	start := time.Now()

	inst, err := c.bootInstance(ctx)
	duration := time.Since(start)

	c.mu.Lock()
	c.attempt = nil
	if err != nil {
		c.state = StateFailed
		c.lastErr = err
		a.err = err
	} else {
		c.state = StateReady
		c.lastErr = nil
		c.instance = inst
		c.session = Session{
			ID:       uuid.NewString(),
			Runtime:  rtName,
			State:    StateReady,
			BootedAt: time.Now(),
		}
		a.session = c.snapshotLocked()
	}
	c.mu.Unlock()
	close(a.done)

	switch {
	case err == nil:
		observability.SandboxBootsTotal.WithLabelValues(rtName, "success").Inc()
		observability.SandboxBootDuration.WithLabelValues(rtName).Observe(duration.Seconds())
		observability.SandboxActive.Set(1)
		slog.Info("sandbox booted", "runtime", rtName, "session", a.session.ID, "instance", inst.ID(), "duration", duration)
	case api.IsType(err, api.ErrorTypeIsolationUnavailable):
		observability.SandboxBootsTotal.WithLabelValues(rtName, "isolation_unavailable").Inc()
		slog.Info("sandbox isolation unavailable", "runtime", rtName, "reason", err.Error())
	default:
		observability.SandboxBootsTotal.WithLabelValues(rtName, "error").Inc()
		slog.Warn("sandbox boot failed", "runtime", rtName, "duration", duration, "error", err)
	}
}

func (c *Coordinator) bootInstance(ctx context.Context) (Instance, error) {
	if err := c.runtime.Preflight(ctx); err != nil {
		if api.IsType(err, api.ErrorTypeIsolationUnavailable) {
			return nil, err
		}
		return nil, api.NewIsolationUnavailableError(c.runtime.Name()+" runtime prerequisites missing", err)
	}

	inst, err := c.runtime.Boot(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, api.NewStartTimeoutError(fmt.Sprintf("sandbox boot exceeded %s", c.opts.BootTimeout))
		}
		return nil, fmt.Errorf("booting %s sandbox: %w", c.runtime.Name(), err)
	}
	return inst, nil
}

// MountAndStart mounts files into the session, launches them, and returns
// the address the running project is reachable at. A previous process is
// stopped before the new one starts. Remounting an unchanged file set while
// its process is still running returns the existing address.
func (c *Coordinator) MountAndStart(ctx context.Context, files project.FileSet) (string, error) {
	if _, err := c.EnsureBooted(ctx); err != nil {
		return "", err
	}

	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	inst, current, err := c.mountTarget()
	if err != nil {
		return "", err
	}

	if current.Address != "" && c.running() && current.Mounted.Equal(files) {
		debug.Log("sandbox", "files unchanged, reusing running process", "address", current.Address)
		return current.Address, nil
	}

	c.stopProcess()
	c.updateSession(func(s *Session) {
		s.Address = ""
		s.ReadyAcknowledged = false
		s.ReadySource = ""
		s.Plan = nil
	})

	if err := inst.Mount(ctx, files); err != nil {
		return "", fmt.Errorf("mounting files: %w", err)
	}
	c.updateSession(func(s *Session) { s.Mounted = files.Clone() })

	plan, err := c.opts.Resolver.Resolve(files)
	if err != nil {
		return "", err
	}

	cell := newReadyCell()
	unsubscribe := inst.OnServerReady(func(port int, url string) {
		c.signal(cell, url, ReadyPush, "port", port)
	})
	defer unsubscribe()

	proc, err := inst.Spawn(ctx, plan)
	if err != nil {
		return "", fmt.Errorf("spawning %s: %w", plan.String(), err)
	}
	c.proc = proc
	go pipeOutput(proc, current.ID)

	started := time.Now()
	slog.Info("sandbox process started", "session", current.ID, "strategy", plan.Strategy, "command", plan.String())

	address, source, err := c.waitReady(ctx, inst, proc, cell)
	if err != nil {
		return "", err
	}

	observability.SandboxStartDuration.WithLabelValues(string(plan.Kind)).Observe(time.Since(started).Seconds())
	c.updateSession(func(s *Session) {
		s.Address = address
		s.ReadyAcknowledged = true
		s.ReadySource = source
		s.Plan = &plan
		s.StartedAt = started
	})
	slog.Info("sandbox ready", "session", current.ID, "address", address, "source", source)
	return address, nil
}

// mountTarget returns the instance and session a mount cycle works on. It
// fails when Close released the instance after the caller booted.
func (c *Coordinator) mountTarget() (Instance, Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.instance == nil {
		return nil, Session{}, api.NewIsolationUnavailableError("sandbox was closed", nil)
	}
	return c.instance, c.session, nil
}

// waitReady polls the instance URL until the cell settles, the process
// exits, or StartTimeout elapses.
func (c *Coordinator) waitReady(ctx context.Context, inst Instance, proc Process, cell *readyCell) (string, ReadySource, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.opts.StartTimeout)
	defer cancel()

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cell.done:
			address, source := cell.value()
			return address, source, nil
		case <-proc.Done():
			// The process may have announced itself right before exiting.
			select {
			case <-cell.done:
				address, source := cell.value()
				return address, source, nil
			default:
			}
			return "", "", api.NewStartTimeoutError("process exited before becoming reachable")
		case <-ticker.C:
			url, err := inst.URL(waitCtx)
			if err != nil {
				debug.Log("sandbox", "url poll failed", "error", err.Error())
				continue
			}
			if url != "" {
				c.signal(cell, url, ReadyPoll)
			}
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return "", "", ctx.Err()
			}
			return "", "", api.NewStartTimeoutError(fmt.Sprintf("no address within %s", c.opts.StartTimeout))
		}
	}
}

// signal offers an address to the cycle's ready cell. Only the first offer
// is applied.
func (c *Coordinator) signal(cell *readyCell, url string, source ReadySource, attrs ...any) {
	if cell.settle(url, source) {
		observability.SandboxReadySignalsTotal.WithLabelValues(string(source), "applied").Inc()
		debug.Log("sandbox", "ready signal applied", append([]any{"source", source, "url", url}, attrs...)...)
		return
	}
	observability.SandboxReadySignalsTotal.WithLabelValues(string(source), "discarded").Inc()
	debug.Log("sandbox", "ready signal discarded", append([]any{"source", source, "url", url}, attrs...)...)
}

// stopProcess kills the previous process and waits for it to exit.
// Callers hold cycleMu.
func (c *Coordinator) stopProcess() {
	if c.proc == nil {
		return
	}
	proc := c.proc
	c.proc = nil
	if err := proc.Kill(); err != nil {
		slog.Warn("failed to kill sandbox process", "error", err)
	}
	select {
	case <-proc.Done():
	case <-time.After(c.opts.StopTimeout):
		slog.Warn("sandbox process did not exit before restart", "timeout", c.opts.StopTimeout)
	}
}

func (c *Coordinator) running() bool {
	if c.proc == nil {
		return false
	}
	select {
	case <-c.proc.Done():
		return false
	default:
		return true
	}
}

// Close stops the running process and releases the instance. The
// coordinator returns to Unbooted.
func (c *Coordinator) Close() error {
	c.cycleMu.Lock()
	c.stopProcess()
	c.cycleMu.Unlock()

	c.mu.Lock()
	inst := c.instance
	c.instance = nil
	c.session = Session{}
	if c.state == StateReady {
		c.state = StateUnbooted
	}
	c.mu.Unlock()

	if inst == nil {
		return nil
	}
	observability.SandboxActive.Set(0)
	return inst.Close()
}

// instanceLostLocked reports whether the instance signalled that it can no
// longer be used. Callers hold mu.
func (c *Coordinator) instanceLostLocked() bool {
	ln, ok := c.instance.(LossNotifier)
	if !ok {
		return false
	}
	select {
	case <-ln.Lost():
		return true
	default:
		return false
	}
}

// discardLostLocked drops a lost instance so the next boot starts fresh.
// The process of the lost instance is left for the next mount cycle to
// stop. Callers hold mu.
func (c *Coordinator) discardLostLocked() {
	inst := c.instance
	slog.Warn("sandbox instance lost, rebooting", "runtime", c.runtime.Name(), "session", c.session.ID, "instance", inst.ID())
	observability.SandboxActive.Set(0)
	c.instance = nil
	c.session = Session{}
	c.state = StateUnbooted
	go func() {
		if err := inst.Close(); err != nil {
			debug.Log("sandbox", "closing lost instance", "instance", inst.ID(), "error", err.Error())
		}
	}()
}

func (c *Coordinator) updateSession(fn func(*Session)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.session)
}

func (c *Coordinator) snapshotLocked() Session {
	s := c.session
	s.State = c.state
	if s.Mounted != nil {
		s.Mounted = s.Mounted.Clone()
	}
	if s.Plan != nil {
		p := *s.Plan
		s.Plan = &p
	}
	return s
}

// pipeOutput forwards process output to the debug log until EOF.
func pipeOutput(proc Process, sessionID string) {
	out := proc.Output()
	if out == nil {
		return
	}
	sc := bufio.NewScanner(out)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		debug.Log("sandbox", "process output", "session", sessionID, "line", sc.Text())
	}
}
