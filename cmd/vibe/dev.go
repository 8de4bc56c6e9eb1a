package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rhuss/vibe/pkg/config"
	"github.com/rhuss/vibe/pkg/debug"
	"github.com/rhuss/vibe/pkg/sandbox"
	"github.com/rhuss/vibe/pkg/workspace"
)

// staticPreviewFile receives the fallback document in dev mode. The
// leading dot keeps the watcher from reacting to its own output.
const staticPreviewFile = ".vibe-preview.html"

var devCmd = &cobra.Command{
	Use:   "dev [dir]",
	Short: "Watch a project directory and keep its live preview current",
	Long: `Start the project in a sandbox and restart it whenever a file changes.
When the project cannot run live, the static preview is written to
` + staticPreviewFile + ` in the project directory instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDev,
}

func init() {
	rootCmd.AddCommand(devCmd)
}

func runDev(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	debug.Init(cfg.Logging.Debug, cfg.Logging.Level, cfg.Logging.Format)

	dir, err := filepath.Abs(dirArg(args))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return dev(ctx, cfg.Sandbox, dir, cmd.OutOrStdout())
}

func dev(ctx context.Context, cfg config.SandboxConfig, dir string, out io.Writer) error {
	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	coord := newCoordinator(rt, cfg)
	defer coord.Close()

	w, err := workspace.NewWatcher(dir, 0)
	if err != nil {
		return err
	}

	refresh := func(ctx context.Context) {
		files, err := workspace.Load(dir)
		if err != nil {
			slog.Warn("reading project failed", "dir", dir, "error", err)
			return
		}
		outcome, err := coord.Preview(ctx, files)
		if err != nil {
			slog.Error("preview failed", "error", err)
			return
		}
		report(out, dir, outcome)
	}

	refresh(ctx)
	fmt.Fprintf(out, "watching %s (ctrl-c to stop)\n", dir)
	return w.Run(ctx, refresh)
}

func report(out io.Writer, dir string, outcome sandbox.Outcome) {
	if outcome.Mode == sandbox.ModeLive {
		fmt.Fprintf(out, "live  %s\n", strings.TrimSuffix(outcome.Address, "/")+"/"+outcome.Entry)
		return
	}
	path := filepath.Join(dir, staticPreviewFile)
	if err := os.WriteFile(path, []byte(outcome.Document.HTML), 0o644); err != nil {
		slog.Error("writing static preview failed", "path", path, "error", err)
		return
	}
	fmt.Fprintf(out, "static %s (%s: %s)\n", path, outcome.Reason, outcome.Detail)
}
