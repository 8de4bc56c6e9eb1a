// Command vibe-mcp exposes the vibe pipeline stages as MCP tools so an
// agent can parse model output, merge file sets, plan a start command,
// render a preview or run a whole generation.
//
// Configuration is read like `vibe serve` (config file plus VIBE_*
// environment). Only the provider and logging sections are used.
//
//	PORT - Listen port (default: 8080)
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/vibe/pkg/config"
	"github.com/rhuss/vibe/pkg/debug"
	"github.com/rhuss/vibe/pkg/gateway"
	"github.com/rhuss/vibe/pkg/provider"
	"github.com/rhuss/vibe/pkg/provider/anthropic"
	"github.com/rhuss/vibe/pkg/provider/gemini"
	"github.com/rhuss/vibe/pkg/provider/mock"
	"github.com/rhuss/vibe/pkg/provider/openai"
)

func main() {
	if err := run(); err != nil {
		slog.Error("mcp server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	debug.Init(cfg.Logging.Debug, cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gen, err := newGenerator(ctx, cfg.Provider)
	if err != nil {
		return err
	}
	defer gen.Close()

	gw, err := gateway.New(gen, nil, gateway.Config{
		Model:       cfg.Provider.Model,
		MaxTokens:   cfg.Provider.MaxTokens,
		Temperature: cfg.Provider.Temperature,
	})
	if err != nil {
		return err
	}

	server := newServer(gw)
	handler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return server
	}, nil)

	mux := http.NewServeMux()
	mux.Handle("/mcp", handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok\n"))
	})

	srv := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("vibe MCP server starting", "port", port, "provider", gen.Name())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newGenerator(ctx context.Context, cfg config.ProviderConfig) (provider.Generator, error) {
	switch cfg.Type {
	case "anthropic":
		return anthropic.New(anthropic.Config{BaseURL: cfg.URL, APIKey: cfg.APIKey, Model: cfg.Model, Timeout: cfg.Timeout}), nil
	case "gemini":
		return gemini.New(ctx, gemini.Config{BaseURL: cfg.URL, APIKey: cfg.APIKey, Model: cfg.Model, Timeout: cfg.Timeout})
	case "mock":
		return mock.New(), nil
	default:
		return openai.New(openai.Config{BaseURL: cfg.URL, APIKey: cfg.APIKey, Model: cfg.Model, Timeout: cfg.Timeout, JSONMode: cfg.JSONMode}), nil
	}
}
