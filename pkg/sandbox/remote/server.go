package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/debug"
	"github.com/rhuss/vibe/pkg/project"
	"github.com/rhuss/vibe/pkg/sandbox"
)

// subscriberBuffer is the per-subscriber event queue. Events are dropped
// for subscribers that fall this far behind.
const subscriberBuffer = 256

// ServerOptions configures a Server.
type ServerOptions struct {
	// MaxInstances caps concurrently booted instances. Defaults to 3.
	MaxInstances int

	// KillTimeout bounds the wait for a killed process to exit.
	// Defaults to 5s.
	KillTimeout time.Duration
}

// Server exposes a sandbox.Runtime over HTTP.
type Server struct {
	rt        sandbox.Runtime
	opts      ServerOptions
	mux       *http.ServeMux
	startTime time.Time

	count     atomic.Int32
	mu        sync.Mutex
	instances map[string]*hostedInstance
}

// NewServer creates a Server hosting instances of rt.
func NewServer(rt sandbox.Runtime, opts ServerOptions) *Server {
	if opts.MaxInstances <= 0 {
		opts.MaxInstances = 3
	}
	if opts.KillTimeout <= 0 {
		opts.KillTimeout = 5 * time.Second
	}
	s := &Server{
		rt:        rt,
		opts:      opts,
		mux:       http.NewServeMux(),
		startTime: time.Now(),
		instances: make(map[string]*hostedInstance),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /v1/instances", s.handleBoot)
	s.mux.HandleFunc("DELETE /v1/instances/{id}", s.withInstance(s.handleClose))
	s.mux.HandleFunc("PUT /v1/instances/{id}/files", s.withInstance(s.handleMount))
	s.mux.HandleFunc("POST /v1/instances/{id}/processes", s.withInstance(s.handleSpawn))
	s.mux.HandleFunc("DELETE /v1/instances/{id}/processes/{pid}", s.withInstance(s.handleKill))
	s.mux.HandleFunc("GET /v1/instances/{id}/url", s.withInstance(s.handleURL))
	s.mux.HandleFunc("GET /v1/instances/{id}/events", s.withInstance(s.handleEvents))
	s.mux.HandleFunc("/v1/instances/{id}/preview/", s.withInstance(s.handlePreview))
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Close releases every hosted instance.
func (s *Server) Close() error {
	s.mu.Lock()
	hosted := make([]*hostedInstance, 0, len(s.instances))
	for id, h := range s.instances {
		hosted = append(hosted, h)
		delete(s.instances, id)
	}
	s.mu.Unlock()

	for _, h := range hosted {
		h.close(s.opts.KillTimeout)
		s.count.Add(-1)
	}
	return nil
}

// hostedInstance is a booted instance and its live processes.
type hostedInstance struct {
	id          string
	inst        sandbox.Instance
	unsubscribe func()

	mu      sync.Mutex
	procs   map[string]sandbox.Process
	address string
	subs    map[int]chan Event
	nextSub int
}

func (h *hostedInstance) previewPath() string {
	return "/v1/instances/" + h.id + "/preview/"
}

// publicPath maps an address inside the sandbox onto the preview proxy.
func (h *hostedInstance) publicPath(address string) string {
	u, err := url.Parse(address)
	if err != nil {
		return h.previewPath()
	}
	return h.previewPath() + strings.TrimPrefix(u.Path, "/")
}

func (h *hostedInstance) broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			debug.Log("sandbox", "dropping event for slow subscriber", "instance", h.id, "type", ev.Type)
		}
	}
}

func (h *hostedInstance) subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = ch
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

func (h *hostedInstance) close(killTimeout time.Duration) error {
	h.unsubscribe()
	h.mu.Lock()
	procs := make([]sandbox.Process, 0, len(h.procs))
	for _, p := range h.procs {
		procs = append(procs, p)
	}
	h.mu.Unlock()

	for _, p := range procs {
		p.Kill()
		select {
		case <-p.Done():
		case <-time.After(killTimeout):
		}
	}
	return h.inst.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	n := len(s.instances)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:     "healthy",
		Runtime:    s.rt.Name(),
		Capacity:   s.opts.MaxInstances,
		Instances:  n,
		UptimeSecs: int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleBoot(w http.ResponseWriter, r *http.Request) {
	current := s.count.Add(1)
	if int(current) > s.opts.MaxInstances {
		s.count.Add(-1)
		writeError(w, http.StatusTooManyRequests, api.NewTooManyRequestsError(
			fmt.Sprintf("at capacity (%d/%d instances)", current-1, s.opts.MaxInstances)))
		return
	}

	if err := s.rt.Preflight(r.Context()); err != nil {
		s.count.Add(-1)
		if !api.IsType(err, api.ErrorTypeIsolationUnavailable) {
			err = api.NewIsolationUnavailableError(s.rt.Name()+" runtime prerequisites missing", err)
		}
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	inst, err := s.rt.Boot(r.Context())
	if err != nil {
		s.count.Add(-1)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	h := &hostedInstance{
		id:    uuid.NewString(),
		inst:  inst,
		procs: make(map[string]sandbox.Process),
		subs:  make(map[int]chan Event),
	}
	h.unsubscribe = inst.OnServerReady(func(port int, address string) {
		h.mu.Lock()
		h.address = address
		h.mu.Unlock()
		h.broadcast(Event{Type: EventServerReady, Port: port, Path: h.publicPath(address)})
	})

	s.mu.Lock()
	s.instances[h.id] = h
	s.mu.Unlock()

	slog.Info("sandbox instance booted", "instance", h.id, "runtime", s.rt.Name())
	writeJSON(w, http.StatusCreated, BootResponse{InstanceID: h.id})
}

func (s *Server) withInstance(next func(http.ResponseWriter, *http.Request, *hostedInstance)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		h, ok := s.instances[r.PathValue("id")]
		s.mu.Unlock()
		if !ok {
			writeError(w, http.StatusNotFound, api.NewNotFoundError("instance not found"))
			return
		}
		next(w, r, h)
	}
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request, h *hostedInstance) {
	s.mu.Lock()
	_, ok := s.instances[h.id]
	delete(s.instances, h.id)
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.count.Add(-1)
	if err := h.close(s.opts.KillTimeout); err != nil {
		slog.Warn("closing sandbox instance", "instance", h.id, "error", err)
	}
	slog.Info("sandbox instance closed", "instance", h.id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMount(w http.ResponseWriter, r *http.Request, h *hostedInstance) {
	var req MountRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 10*1024*1024)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, api.NewInvalidRequestError("files", "invalid request: "+err.Error()))
		return
	}
	if err := h.inst.Mount(r.Context(), project.FileSet(req.Files)); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	debug.Log("sandbox", "files mounted", "instance", h.id, "files", len(req.Files))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSpawn(w http.ResponseWriter, r *http.Request, h *hostedInstance) {
	var req SpawnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, api.NewInvalidRequestError("plan", "invalid request: "+err.Error()))
		return
	}
	if req.ProcessID == "" {
		req.ProcessID = uuid.NewString()
	}

	h.mu.Lock()
	_, exists := h.procs[req.ProcessID]
	h.address = ""
	h.mu.Unlock()
	if exists {
		writeError(w, http.StatusConflict, api.NewInvalidRequestError("process_id", "process already exists"))
		return
	}

	// The process outlives this request.
	proc, err := h.inst.Spawn(context.WithoutCancel(r.Context()), req.Plan)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.mu.Lock()
	h.procs[req.ProcessID] = proc
	h.mu.Unlock()

	go h.pump(req.ProcessID, proc)

	slog.Info("sandbox process started", "instance", h.id, "process", req.ProcessID, "command", req.Plan.String())
	writeJSON(w, http.StatusCreated, map[string]string{"process_id": req.ProcessID})
}

// pump forwards process output to subscribers and announces the exit.
func (h *hostedInstance) pump(pid string, proc sandbox.Process) {
	if out := proc.Output(); out != nil {
		sc := bufio.NewScanner(out)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			h.broadcast(Event{Type: EventOutput, Process: pid, Line: sc.Text()})
		}
	}
	<-proc.Done()

	h.mu.Lock()
	delete(h.procs, pid)
	h.mu.Unlock()
	h.broadcast(Event{Type: EventExit, Process: pid})
	debug.Log("sandbox", "process exited", "instance", h.id, "process", pid)
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request, h *hostedInstance) {
	h.mu.Lock()
	proc, ok := h.procs[r.PathValue("pid")]
	h.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, api.NewNotFoundError("process not found"))
		return
	}
	if err := proc.Kill(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	select {
	case <-proc.Done():
		w.WriteHeader(http.StatusNoContent)
	case <-time.After(s.opts.KillTimeout):
		writeError(w, http.StatusGatewayTimeout, api.NewServerError("process did not exit"))
	}
}

func (s *Server) handleURL(w http.ResponseWriter, r *http.Request, h *hostedInstance) {
	address, err := h.inst.URL(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := URLResponse{}
	if address != "" {
		resp.Path = h.publicPath(address)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, h *hostedInstance) {
	events, unsubscribe := h.subscribe()
	defer unsubscribe()

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
		case ev := <-events:
			data, err := json.Marshal(ev)
			if err != nil {
				slog.Warn("failed to marshal event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request, h *hostedInstance) {
	h.mu.Lock()
	address := h.address
	h.mu.Unlock()
	if address == "" {
		polled, err := h.inst.URL(r.Context())
		if err != nil || polled == "" {
			writeError(w, http.StatusServiceUnavailable, api.NewStartTimeoutError("no running process"))
			return
		}
		address = polled
	}

	target, err := url.Parse(address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	target.Path = ""

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.URL.Path = "/" + strings.TrimPrefix(pr.In.URL.Path, h.previewPath())
			pr.Out.URL.RawPath = ""
			pr.Out.Host = target.Host
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			writeError(w, http.StatusBadGateway, api.NewTransportError("sandbox process unreachable", err))
		},
	}
	proxy.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Type: api.TypeOf(err)})
}
