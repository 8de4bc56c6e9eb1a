package local

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/project"
	"github.com/rhuss/vibe/pkg/startplan"
)

func bootInstance(t *testing.T) *Instance {
	t.Helper()
	rt := New(Config{Workspace: t.TempDir(), DialInterval: 20 * time.Millisecond})
	inst, err := rt.Boot(context.Background())
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	t.Cleanup(func() { inst.Close() })
	return inst.(*Instance)
}

func requireCommand(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available", name)
	}
}

func TestOutputPort(t *testing.T) {
	tests := []struct {
		line string
		port int
		ok   bool
	}{
		{"Server listening on http://localhost:3000", 3000, true},
		{"Serving HTTP on 0.0.0.0 port 8000 (http://0.0.0.0:8000/) ...", 8000, true},
		{" * Running on http://127.0.0.1:5000", 5000, true},
		{"ready - started server on [::]:3001", 3001, true},
		{"Listening on port 8080", 8080, true},
		{"compiled 12 modules in 300ms", 0, false},
		{"error: port 99999 out of range, listening failed", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			port, ok := outputPort(tt.line)
			if ok != tt.ok || port != tt.port {
				t.Errorf("outputPort(%q) = %d, %v; want %d, %v", tt.line, port, ok, tt.port, tt.ok)
			}
		})
	}
}

func TestPreflightNoInterpreter(t *testing.T) {
	rt := New(Config{Workspace: t.TempDir(), Interpreters: []string{"vibe-no-such-interpreter"}})
	err := rt.Preflight(context.Background())
	if !api.IsType(err, api.ErrorTypeIsolationUnavailable) {
		t.Fatalf("expected isolation_unavailable, got %v", err)
	}
}

func TestPreflightWorkspaceNotWritable(t *testing.T) {
	requireCommand(t, "sh")
	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	rt := New(Config{Workspace: file, Interpreters: []string{"sh"}})
	err := rt.Preflight(context.Background())
	if !api.IsType(err, api.ErrorTypeIsolationUnavailable) {
		t.Fatalf("expected isolation_unavailable, got %v", err)
	}
}

func TestPreflightOK(t *testing.T) {
	requireCommand(t, "sh")
	ws := t.TempDir()
	rt := New(Config{Workspace: ws, Interpreters: []string{"sh", "vibe-no-such-interpreter"}})
	if err := rt.Preflight(context.Background()); err != nil {
		t.Fatalf("Preflight: %v", err)
	}
	entries, _ := os.ReadDir(ws)
	if len(entries) != 0 {
		t.Errorf("preflight left %d entries in the workspace", len(entries))
	}
}

func TestMountReplacesContents(t *testing.T) {
	inst := bootInstance(t)
	ctx := context.Background()

	err := inst.Mount(ctx, project.FileSet{
		"index.html":    "<h1>v1</h1>",
		"src/app.js":    "console.log(1)",
		"../escape.txt": "nope",
	})
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(inst.Root()), "escape.txt")); err == nil {
		t.Fatal("file written outside the workspace")
	}
	got, err := os.ReadFile(filepath.Join(inst.Root(), "src", "app.js"))
	if err != nil || string(got) != "console.log(1)" {
		t.Fatalf("src/app.js = %q, %v", got, err)
	}

	if err := inst.Mount(ctx, project.FileSet{"index.html": "<h1>v2</h1>"}); err != nil {
		t.Fatalf("second Mount: %v", err)
	}
	if _, err := os.Stat(filepath.Join(inst.Root(), "src")); !os.IsNotExist(err) {
		t.Errorf("stale directory survived remount: %v", err)
	}
	got, _ = os.ReadFile(filepath.Join(inst.Root(), "index.html"))
	if string(got) != "<h1>v2</h1>" {
		t.Errorf("index.html = %q", got)
	}
}

func TestStaticSpawnAnnouncesAddress(t *testing.T) {
	inst := bootInstance(t)
	ctx := context.Background()
	if err := inst.Mount(ctx, project.FileSet{"index.html": "<h1>Hello</h1>"}); err != nil {
		t.Fatal(err)
	}

	ready := make(chan string, 1)
	unsubscribe := inst.OnServerReady(func(port int, url string) { ready <- url })
	defer unsubscribe()

	proc, err := inst.Spawn(ctx, startplan.Plan{Kind: startplan.KindStaticServer, EntryFile: "index.html"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer proc.Kill()

	var url string
	select {
	case url = <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("no ready notification")
	}
	if polled, _ := inst.URL(ctx); polled != url {
		t.Errorf("URL() = %q, want %q", polled, url)
	}

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "<h1>Hello</h1>") {
		t.Errorf("body = %q", body)
	}

	if err := proc.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	select {
	case <-proc.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("static server did not stop")
	}
}

func TestKillStopsProcessGroup(t *testing.T) {
	requireCommand(t, "sh")
	inst := bootInstance(t)

	proc, err := inst.Spawn(context.Background(), startplan.Plan{
		Kind:    startplan.KindDeclaredScript,
		Command: "sh",
		Args:    []string{"-c", "sleep 30 & sleep 30"},
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	go io.Copy(io.Discard, proc.Output())

	if err := proc.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after Kill")
	}
}

func TestExecSpawnDetectsListeningServer(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a real interpreter")
	}
	requireCommand(t, "python3")
	inst := bootInstance(t)
	ctx := context.Background()
	if err := inst.Mount(ctx, project.FileSet{"index.html": "<p>served</p>"}); err != nil {
		t.Fatal(err)
	}

	ready := make(chan string, 1)
	unsubscribe := inst.OnServerReady(func(port int, url string) {
		select {
		case ready <- url:
		default:
		}
	})
	defer unsubscribe()

	proc, err := inst.Spawn(ctx, startplan.Plan{
		Kind:    startplan.KindDeclaredScript,
		Command: "sh",
		Args:    []string{"-c", "exec python3 -m http.server $PORT --bind 127.0.0.1"},
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer proc.Kill()
	go io.Copy(io.Discard, proc.Output())

	select {
	case url := <-ready:
		if !strings.HasPrefix(url, "http://127.0.0.1:") {
			t.Errorf("url = %q", url)
		}
	case <-proc.Done():
		t.Fatal("python exited before listening")
	case <-time.After(10 * time.Second):
		t.Fatal("server never became reachable")
	}
}

func TestStaticSpawnAnnouncesOrigin(t *testing.T) {
	inst := bootInstance(t)
	ctx := context.Background()
	if err := inst.Mount(ctx, project.FileSet{"page.html": "<p>page</p>", "style.css": "p{}"}); err != nil {
		t.Fatal(err)
	}
	proc, err := inst.Spawn(ctx, startplan.Plan{Kind: startplan.KindStaticServer, EntryFile: "page.html"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer proc.Kill()

	url, err := inst.URL(ctx)
	if err != nil {
		t.Fatalf("URL: %v", err)
	}
	if strings.Count(url, "/") != 2 {
		t.Fatalf("URL() = %q, want scheme and host only", url)
	}
	resp, err := http.Get(url + "/style.css")
	if err != nil {
		t.Fatalf("GET style.css: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("style.css status = %d, want 200", resp.StatusCode)
	}
}
