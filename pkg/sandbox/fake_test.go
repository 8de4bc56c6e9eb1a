package sandbox

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rhuss/vibe/pkg/project"
	"github.com/rhuss/vibe/pkg/startplan"
)

// fakeRuntime is an in-memory Runtime for coordinator tests.
type fakeRuntime struct {
	preflightErr error
	bootErrs     []error // consumed one per Boot call
	gate         chan struct{}
	inst         *fakeInstance

	mu    sync.Mutex
	boots atomic.Int32
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{inst: &fakeInstance{id: "fake-1", handlers: make(map[int]ReadyFunc)}}
}

func (r *fakeRuntime) Name() string { return "fake" }

func (r *fakeRuntime) Preflight(ctx context.Context) error { return r.preflightErr }

func (r *fakeRuntime) Boot(ctx context.Context) (Instance, error) {
	r.boots.Add(1)
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.bootErrs) > 0 {
		err := r.bootErrs[0]
		r.bootErrs = r.bootErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return r.inst, nil
}

// fakeInstance records calls and resolves addresses on demand.
type fakeInstance struct {
	id string

	mu          sync.Mutex
	url         string // returned by URL
	pushURL     string // announced synchronously on Spawn when set
	mounts      []project.FileSet
	plans       []startplan.Plan
	procs       []*fakeProcess
	handlers    map[int]ReadyFunc
	nextHandler int
	lastHandler ReadyFunc
	registered  int
	urlPolls    int
	lost        chan struct{} // nil means never lost
	closed      atomic.Bool

	// liveAtSpawn records, per Spawn call, how many earlier processes
	// were still running.
	liveAtSpawn []int
}

func (f *fakeInstance) ID() string { return f.id }

func (f *fakeInstance) Mount(ctx context.Context, files project.FileSet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mounts = append(f.mounts, files.Clone())
	return nil
}

func (f *fakeInstance) Spawn(ctx context.Context, plan startplan.Plan) (Process, error) {
	f.mu.Lock()
	live := 0
	for _, p := range f.procs {
		if !p.exited() {
			live++
		}
	}
	f.liveAtSpawn = append(f.liveAtSpawn, live)
	proc := &fakeProcess{done: make(chan struct{})}
	f.procs = append(f.procs, proc)
	f.plans = append(f.plans, plan)
	push := f.pushURL
	handlers := make([]ReadyFunc, 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()

	if push != "" {
		for _, h := range handlers {
			h(8080, push)
		}
	}
	return proc, nil
}

func (f *fakeInstance) OnServerReady(fn ReadyFunc) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextHandler
	f.nextHandler++
	f.handlers[id] = fn
	f.lastHandler = fn
	f.registered++
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, id)
	}
}

func (f *fakeInstance) URL(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urlPolls++
	return f.url, nil
}

func (f *fakeInstance) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeInstance) Lost() <-chan struct{} { return f.lost }

func (f *fakeInstance) setURL(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.url = url
}

func (f *fakeInstance) activeHandlers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

type fakeProcess struct {
	done chan struct{}
	once sync.Once
}

func (p *fakeProcess) Output() io.Reader { return strings.NewReader("listening\n") }

func (p *fakeProcess) Kill() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
