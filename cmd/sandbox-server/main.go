// Command sandbox-server runs inside a sandbox pod and hosts learner
// projects as local processes, exposing them through the remote sandbox
// protocol.
//
// Configuration:
//
//	SANDBOX_PORT          - Listen port (default: 8080)
//	SANDBOX_INTERPRETERS  - Comma-separated interpreters to require (default: auto-detect)
//	SANDBOX_MAX_INSTANCES - Max concurrently booted instances (default: 3)
//	SANDBOX_WORKSPACE     - Parent directory for workspaces (default: os temp dir)
//	SANDBOX_LOG_FORMAT    - text or json (default: json)
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rhuss/vibe/pkg/debug"
	"github.com/rhuss/vibe/pkg/sandbox/local"
	"github.com/rhuss/vibe/pkg/sandbox/remote"
)

func main() {
	port := envOr("SANDBOX_PORT", "8080")
	maxInstances := envOrInt("SANDBOX_MAX_INSTANCES", 3)
	workspace := envOr("SANDBOX_WORKSPACE", "")

	debug.Init("", "", envOr("SANDBOX_LOG_FORMAT", "json"))

	interpreters := splitList(os.Getenv("SANDBOX_INTERPRETERS"))
	if len(interpreters) == 0 {
		interpreters = detectInterpreters()
		if len(interpreters) == 0 {
			slog.Error("no supported interpreter found in PATH", "tried", strings.Join(local.DefaultInterpreters, ", "))
			os.Exit(1)
		}
	} else if err := validateInterpreters(interpreters); err != nil {
		slog.Error("invalid interpreters", "error", err.Error())
		os.Exit(1)
	}

	rt := local.New(local.Config{Workspace: workspace, Interpreters: interpreters})
	srv := remote.NewServer(rt, remote.ServerOptions{MaxInstances: maxInstances})

	httpSrv := &http.Server{
		Addr:              ":" + port,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: the event stream and preview proxy are long-lived.
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("sandbox server starting",
			"port", port,
			"interpreters", interpreters,
			"versions", runtimeVersions(interpreters),
			"max_instances", maxInstances,
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	srv.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpSrv.Shutdown(shutdownCtx)
}

// detectInterpreters returns the default interpreters present in PATH.
func detectInterpreters() []string {
	var found []string
	for _, name := range local.DefaultInterpreters {
		if _, err := exec.LookPath(name); err == nil {
			found = append(found, name)
		}
	}
	return found
}

func validateInterpreters(names []string) error {
	var errs []error
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			errs = append(errs, fmt.Errorf("%q not found in PATH", name))
		}
	}
	return errors.Join(errs...)
}

// runtimeVersions returns the first line of each interpreter's --version.
func runtimeVersions(names []string) map[string]string {
	versions := make(map[string]string, len(names))
	for _, name := range names {
		output, err := exec.Command(name, "--version").CombinedOutput()
		if err != nil {
			versions[name] = "unknown"
			continue
		}
		version := strings.TrimSpace(string(output))
		if idx := strings.Index(version, "\n"); idx > 0 {
			version = version[:idx]
		}
		versions[name] = version
	}
	return versions
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return defaultVal
	}
	return n
}
