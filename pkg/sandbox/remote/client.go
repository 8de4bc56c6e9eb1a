package remote

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/debug"
	"github.com/rhuss/vibe/pkg/project"
	"github.com/rhuss/vibe/pkg/sandbox"
	"github.com/rhuss/vibe/pkg/startplan"
)

// Config configures the remote runtime.
type Config struct {
	// URL is the sandbox server base URL, e.g. http://sandbox:8080.
	URL string

	// Timeout bounds each request other than the event stream.
	// Defaults to 30s.
	Timeout time.Duration

	// Name overrides the runtime name reported in logs and metrics.
	Name string
}

// Runtime boots instances on a sandbox server.
type Runtime struct {
	baseURL string
	name    string
	client  *http.Client
	stream  *http.Client
}

var _ sandbox.Runtime = (*Runtime)(nil)

// New creates a remote runtime.
func New(cfg Config) *Runtime {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "remote"
	}
	return &Runtime{
		baseURL: strings.TrimSuffix(cfg.URL, "/"),
		name:    cfg.Name,
		client:  &http.Client{Timeout: cfg.Timeout},
		stream:  &http.Client{},
	}
}

// Name returns the runtime name.
func (r *Runtime) Name() string { return r.name }

// Preflight checks that the sandbox server is reachable and healthy.
func (r *Runtime) Preflight(ctx context.Context) error {
	var health HealthResponse
	if err := r.do(ctx, http.MethodGet, "/health", nil, &health); err != nil {
		return api.NewIsolationUnavailableError("sandbox server unreachable", err)
	}
	if health.Status != "healthy" {
		return api.NewIsolationUnavailableError("sandbox server reports "+health.Status, nil)
	}
	return nil
}

// Boot creates an instance on the server and subscribes to its events.
// The subscription is established before Boot returns.
func (r *Runtime) Boot(ctx context.Context) (sandbox.Instance, error) {
	var boot BootResponse
	if err := r.do(ctx, http.MethodPost, "/v1/instances", nil, &boot); err != nil {
		return nil, err
	}

	inst := &Instance{
		rt:       r,
		id:       boot.InstanceID,
		handlers: make(map[int]sandbox.ReadyFunc),
		procs:    make(map[string]*process),
		streamed: make(chan struct{}),
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	inst.cancel = cancel
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, r.baseURL+inst.path("/events"), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := r.stream.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("sandbox event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("sandbox event stream returned HTTP %d", resp.StatusCode)
	}
	go inst.readEvents(resp.Body)
	return inst, nil
}

// do sends a JSON request and decodes a JSON response into out, if non-nil.
func (r *Runtime) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("sandbox request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return responseError(resp.StatusCode, respBody)
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// responseError turns a server error body back into a typed error where
// the server reported one.
func responseError(status int, body []byte) error {
	var er ErrorResponse
	if err := json.Unmarshal(body, &er); err != nil || er.Error == "" {
		return fmt.Errorf("sandbox returned HTTP %d: %s", status, debug.Truncate(string(body), 200))
	}
	cause := fmt.Errorf("sandbox returned HTTP %d: %s", status, er.Error)
	switch er.Type {
	case api.ErrorTypeIsolationUnavailable:
		return api.NewIsolationUnavailableError("sandbox server cannot host instances", cause)
	case api.ErrorTypeTooManyRequests:
		return api.NewIsolationUnavailableError("sandbox server at capacity", cause)
	case api.ErrorTypeNotFound:
		return &api.APIError{Type: api.ErrorTypeNotFound, Message: er.Error, Err: cause}
	}
	return cause
}

// Instance is an instance hosted on a sandbox server.
type Instance struct {
	rt     *Runtime
	id     string
	cancel context.CancelFunc

	// streamed is closed when the event stream ends.
	streamed chan struct{}
	closing  atomic.Bool

	mu       sync.Mutex
	handlers map[int]sandbox.ReadyFunc
	next     int
	procs    map[string]*process
}

var (
	_ sandbox.Instance     = (*Instance)(nil)
	_ sandbox.LossNotifier = (*Instance)(nil)
)

func (i *Instance) ID() string { return i.id }

func (i *Instance) path(suffix string) string {
	return "/v1/instances/" + i.id + suffix
}

// Mount replaces the instance's files.
func (i *Instance) Mount(ctx context.Context, files project.FileSet) error {
	return i.rt.do(ctx, http.MethodPut, i.path("/files"), MountRequest{Files: files}, nil)
}

// Spawn starts plan on the server.
func (i *Instance) Spawn(ctx context.Context, plan startplan.Plan) (sandbox.Process, error) {
	proc := newProcess(i, uuid.NewString())
	i.mu.Lock()
	i.procs[proc.id] = proc
	i.mu.Unlock()

	err := i.rt.do(ctx, http.MethodPost, i.path("/processes"), SpawnRequest{ProcessID: proc.id, Plan: plan}, nil)
	if err != nil {
		i.mu.Lock()
		delete(i.procs, proc.id)
		i.mu.Unlock()
		proc.exited()
		return nil, err
	}
	return proc, nil
}

// OnServerReady registers fn for server-ready events.
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

// URL asks the server for the current preview address.
func (i *Instance) URL(ctx context.Context) (string, error) {
	var resp URLResponse
	if err := i.rt.do(ctx, http.MethodGet, i.path("/url"), nil, &resp); err != nil {
		return "", err
	}
	if resp.Path == "" {
		return "", nil
	}
	return i.rt.baseURL + resp.Path, nil
}

// Lost is closed when the event stream ends. Without the stream no ready
// push or process exit can be observed, so the instance is unusable.
func (i *Instance) Lost() <-chan struct{} { return i.streamed }

// Close ends the event stream and releases the instance on the server.
func (i *Instance) Close() error {
	i.closing.Store(true)
	i.cancel()
	<-i.streamed

	ctx, cancel := context.WithTimeout(context.Background(), i.rt.client.Timeout)
	defer cancel()
	err := i.rt.do(ctx, http.MethodDelete, i.path(""), nil, nil)
	if api.IsType(err, api.ErrorTypeNotFound) {
		return nil
	}
	return err
}

// readEvents dispatches the server event stream until it ends.
func (i *Instance) readEvents(body io.ReadCloser) {
	defer close(i.streamed)
	defer body.Close()
	defer i.orphanProcesses()

	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				i.dispatch(data.String())
				data.Reset()
			}
		case strings.HasPrefix(line, "data: "):
			data.WriteString(strings.TrimPrefix(line, "data: "))
		}
	}
	if i.closing.Load() {
		return
	}
	attrs := []any{"instance", i.id, "server", i.rt.baseURL}
	if err := sc.Err(); err != nil && !errors.Is(err, context.Canceled) {
		attrs = append(attrs, "error", err.Error())
	}
	slog.Warn("sandbox event stream lost", attrs...)
}

func (i *Instance) dispatch(payload string) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		slog.Warn("skipping malformed sandbox event", "error", err.Error(), "data", debug.Truncate(payload, 200))
		return
	}

	switch ev.Type {
	case EventServerReady:
		url := i.rt.baseURL + ev.Path
		i.mu.Lock()
		handlers := make([]sandbox.ReadyFunc, 0, len(i.handlers))
		for _, h := range i.handlers {
			handlers = append(handlers, h)
		}
		i.mu.Unlock()
		for _, h := range handlers {
			h(ev.Port, url)
		}
	case EventOutput:
		if p := i.process(ev.Process); p != nil {
			p.write(ev.Line)
		}
	case EventExit:
		if p := i.process(ev.Process); p != nil {
			i.mu.Lock()
			delete(i.procs, ev.Process)
			i.mu.Unlock()
			p.exited()
		}
	}
}

func (i *Instance) process(id string) *process {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.procs[id]
}

// orphanProcesses marks every known process exited once the stream is
// gone, since no exit event can arrive anymore.
func (i *Instance) orphanProcesses() {
	i.mu.Lock()
	procs := i.procs
	i.procs = make(map[string]*process)
	i.mu.Unlock()
	for _, p := range procs {
		p.exited()
	}
}

// process is a process on the sandbox server. Output lines arrive over
// the instance event stream.
type process struct {
	inst *Instance
	id   string

	out  *io.PipeReader
	done chan struct{}

	mu     sync.Mutex
	lines  chan string
	closed bool
}

func newProcess(inst *Instance, id string) *process {
	r, w := io.Pipe()
	p := &process{
		inst:  inst,
		id:    id,
		lines: make(chan string, subscriberBuffer),
		out:   r,
		done:  make(chan struct{}),
	}
	go func() {
		for line := range p.lines {
			io.WriteString(w, line+"\n")
		}
		w.Close()
	}()
	return p
}

// write queues an output line. Lines are dropped when the reader falls
// behind or the process has exited.
func (p *process) write(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.lines <- line:
	default:
	}
}

func (p *process) exited() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.done)
	close(p.lines)
}

func (p *process) Output() io.Reader { return p.out }

func (p *process) Done() <-chan struct{} { return p.done }

// Kill stops the process on the server and waits for it to exit there.
func (p *process) Kill() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.inst.rt.client.Timeout)
	defer cancel()
	err := p.inst.rt.do(ctx, http.MethodDelete, p.inst.path("/processes/"+p.id), nil, nil)
	if err == nil || api.IsType(err, api.ErrorTypeNotFound) {
		p.exited()
		p.out.Close()
		return nil
	}
	return err
}
