package remote

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/project"
	"github.com/rhuss/vibe/pkg/sandbox"
	"github.com/rhuss/vibe/pkg/startplan"
)

// stubRuntime hosts stubInstances that announce a fixed backend address.
type stubRuntime struct {
	preflightErr error
	backend      string
}

func (r *stubRuntime) Name() string                    { return "stub" }
func (r *stubRuntime) Preflight(ctx context.Context) error { return r.preflightErr }
func (r *stubRuntime) Boot(ctx context.Context) (sandbox.Instance, error) {
	return &stubInstance{backend: r.backend, handlers: make(map[int]sandbox.ReadyFunc)}, nil
}

type stubInstance struct {
	backend string

	mu       sync.Mutex
	mounted  project.FileSet
	handlers map[int]sandbox.ReadyFunc
	next     int
	live     bool
}

func (i *stubInstance) ID() string { return "stub" }

func (i *stubInstance) Mount(ctx context.Context, files project.FileSet) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.mounted = files.Clone()
	return nil
}

func (i *stubInstance) Spawn(ctx context.Context, plan startplan.Plan) (sandbox.Process, error) {
	i.mu.Lock()
	i.live = true
	handlers := make([]sandbox.ReadyFunc, 0, len(i.handlers))
	for _, h := range i.handlers {
		handlers = append(handlers, h)
	}
	i.mu.Unlock()
	for _, h := range handlers {
		h(4000, i.backend)
	}
	return &stubProcess{done: make(chan struct{})}, nil
}

func (i *stubInstance) OnServerReady(fn sandbox.ReadyFunc) func() {
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

func (i *stubInstance) URL(ctx context.Context) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.live {
		return "", nil
	}
	return i.backend, nil
}

func (i *stubInstance) Close() error { return nil }

type stubProcess struct {
	done chan struct{}
	once sync.Once
}

func (p *stubProcess) Output() io.Reader { return strings.NewReader("hello from stub\n") }
func (p *stubProcess) Kill() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
func (p *stubProcess) Done() <-chan struct{} { return p.done }

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "hello from sandbox "+r.URL.Path)
	}))
	t.Cleanup(backend.Close)
	return backend
}

func newTestServer(t *testing.T, rt sandbox.Runtime, opts ServerOptions) (*Runtime, *httptest.Server) {
	t.Helper()
	srv := NewServer(rt, opts)
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		ts.CloseClientConnections()
		ts.Close()
	})
	return New(Config{URL: ts.URL, Timeout: 5 * time.Second}), ts
}

func TestPreflight(t *testing.T) {
	client, _ := newTestServer(t, &stubRuntime{}, ServerOptions{})
	if err := client.Preflight(context.Background()); err != nil {
		t.Fatalf("Preflight: %v", err)
	}

	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()
	err := New(Config{URL: down.URL}).Preflight(context.Background())
	if !api.IsType(err, api.ErrorTypeIsolationUnavailable) {
		t.Fatalf("expected isolation_unavailable for unreachable server, got %v", err)
	}
}

func TestBootReportsServerIsolation(t *testing.T) {
	preflightErr := errors.New("python3 not found in PATH")
	client, _ := newTestServer(t, &stubRuntime{preflightErr: preflightErr}, ServerOptions{})

	_, err := client.Boot(context.Background())
	if !api.IsType(err, api.ErrorTypeIsolationUnavailable) {
		t.Fatalf("expected isolation_unavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "python3 not found") {
		t.Errorf("error should carry the server's reason: %v", err)
	}
}

func TestBootAtCapacity(t *testing.T) {
	client, _ := newTestServer(t, &stubRuntime{}, ServerOptions{MaxInstances: 1})
	ctx := context.Background()

	inst, err := client.Boot(ctx)
	if err != nil {
		t.Fatalf("first Boot: %v", err)
	}
	defer inst.Close()

	_, err = client.Boot(ctx)
	if !api.IsType(err, api.ErrorTypeIsolationUnavailable) {
		t.Fatalf("expected capacity to surface as isolation_unavailable, got %v", err)
	}
}

func TestInstanceLifecycle(t *testing.T) {
	backend := newBackend(t)
	rt := &stubRuntime{backend: backend.URL}
	client, ts := newTestServer(t, rt, ServerOptions{})
	ctx := context.Background()

	inst, err := client.Boot(ctx)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	defer inst.Close()

	if err := inst.Mount(ctx, project.FileSet{"index.html": "<h1>Hello</h1>"}); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	if url, err := inst.URL(ctx); err != nil || url != "" {
		t.Fatalf("URL before spawn = %q, %v; want empty", url, err)
	}

	ready := make(chan string, 1)
	unsubscribe := inst.OnServerReady(func(port int, url string) { ready <- url })
	defer unsubscribe()

	proc, err := inst.Spawn(ctx, startplan.Plan{Kind: startplan.KindStaticServer, EntryFile: "index.html"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	lines := make(chan string, 1)
	go func() {
		sc := bufio.NewScanner(proc.Output())
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			default:
			}
		}
	}()

	want := ts.URL + "/v1/instances/" + inst.ID() + "/preview/"
	select {
	case url := <-ready:
		if url != want {
			t.Errorf("ready url = %q, want %q", url, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no server-ready event")
	}

	if url, _ := inst.URL(ctx); url != want {
		t.Errorf("URL() = %q, want %q", url, want)
	}

	select {
	case line := <-lines:
		if line != "hello from stub" {
			t.Errorf("output line = %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no process output")
	}

	resp, err := http.Get(want + "about.html")
	if err != nil {
		t.Fatalf("GET preview: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "hello from sandbox /about.html" {
		t.Errorf("proxied body = %q", body)
	}

	if err := proc.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	select {
	case <-proc.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("process not done after Kill")
	}
}

func TestCoordinatorOverRemote(t *testing.T) {
	backend := newBackend(t)
	client, ts := newTestServer(t, &stubRuntime{backend: backend.URL}, ServerOptions{})

	c := sandbox.NewCoordinator(client, sandbox.Options{
		StartTimeout: 2 * time.Second,
		PollInterval: 50 * time.Millisecond,
	})
	defer c.Close()

	out, err := c.Preview(context.Background(), project.FileSet{"index.html": "<h1>Hello</h1>"})
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if out.Mode != sandbox.ModeLive {
		t.Fatalf("mode = %s (reason %s: %s), want live", out.Mode, out.Reason, out.Detail)
	}
	if !strings.HasPrefix(out.Address, ts.URL+"/v1/instances/") {
		t.Errorf("address = %q", out.Address)
	}
}

func TestResponseError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   api.ErrorType
	}{
		{"isolation", http.StatusServiceUnavailable, `{"error":"no node","type":"isolation_unavailable"}`, api.ErrorTypeIsolationUnavailable},
		{"capacity", http.StatusTooManyRequests, `{"error":"at capacity","type":"too_many_requests"}`, api.ErrorTypeIsolationUnavailable},
		{"not found", http.StatusNotFound, `{"error":"instance not found","type":"not_found"}`, api.ErrorTypeNotFound},
		{"untyped", http.StatusInternalServerError, `{"error":"disk full"}`, ""},
		{"not json", http.StatusBadGateway, `<html>bad gateway</html>`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := responseError(tt.status, []byte(tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if got := api.TypeOf(err); got != tt.want {
				t.Errorf("type = %q, want %q (%v)", got, tt.want, err)
			}
		})
	}
}

func TestInstanceLostWhenEventStreamEnds(t *testing.T) {
	client, ts := newTestServer(t, &stubRuntime{backend: "http://127.0.0.1:1"}, ServerOptions{})
	inst, err := client.Boot(context.Background())
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	defer inst.Close()

	lost := inst.(sandbox.LossNotifier).Lost()
	select {
	case <-lost:
		t.Fatal("instance lost before the stream ended")
	default:
	}

	ts.CloseClientConnections()
	select {
	case <-lost:
	case <-time.After(2 * time.Second):
		t.Fatal("instance not reported lost after the event stream ended")
	}
}

func TestCoordinatorRebootsLostInstance(t *testing.T) {
	backend := newBackend(t)
	client, ts := newTestServer(t, &stubRuntime{backend: backend.URL}, ServerOptions{})

	c := sandbox.NewCoordinator(client, sandbox.Options{
		StartTimeout: 2 * time.Second,
		PollInterval: 50 * time.Millisecond,
	})
	defer c.Close()

	files := project.FileSet{"index.html": "<h1>Hello</h1>"}
	first, err := c.Preview(context.Background(), files)
	if err != nil || first.Mode != sandbox.ModeLive {
		t.Fatalf("first preview = %+v, %v", first, err)
	}

	ts.CloseClientConnections()

	deadline := time.Now().Add(3 * time.Second)
	for {
		out, err := c.Preview(context.Background(), files)
		if err != nil {
			t.Fatalf("Preview: %v", err)
		}
		if out.Mode != sandbox.ModeLive {
			t.Fatalf("mode = %s (reason %s: %s), want live", out.Mode, out.Reason, out.Detail)
		}
		if out.SessionID != first.SessionID {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("coordinator kept the lost session")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
