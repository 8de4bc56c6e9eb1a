package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rhuss/vibe/pkg/config"
	"github.com/rhuss/vibe/pkg/debug"
	"github.com/rhuss/vibe/pkg/gateway"
	"github.com/rhuss/vibe/pkg/transport"
	transporthttp "github.com/rhuss/vibe/pkg/transport/http"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Listen port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}
	debug.Init(cfg.Logging.Debug, cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg)
}

func serve(ctx context.Context, cfg *config.Config) error {
	store, err := newStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	gen, err := newProvider(ctx, cfg.Provider)
	if err != nil {
		return fmt.Errorf("creating provider: %w", err)
	}
	defer gen.Close()

	gw, err := gateway.New(gen, store, gateway.Config{
		Model:       cfg.Provider.Model,
		MaxTokens:   cfg.Provider.MaxTokens,
		Temperature: cfg.Provider.Temperature,
	})
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	rt, err := newRuntime(cfg.Sandbox)
	if err != nil {
		return fmt.Errorf("creating sandbox runtime: %w", err)
	}
	coord := newCoordinator(rt, cfg.Sandbox)
	defer coord.Close()

	authMW, err := newAuthMiddleware(cfg.Auth)
	if err != nil {
		return err
	}

	logger := slog.Default()
	metricsPath, metrics := metricsHandler(cfg.Observability.Metrics)
	api := transporthttp.NewAPI(store, gw, coord, transporthttp.Config{
		MaxBodySize:    cfg.Server.MaxBodyBytes,
		ProxyTimeout:   cfg.Sandbox.ProxyTimeout,
		MetricsPath:    metricsPath,
		MetricsHandler: metrics,
		Middleware: []transport.Middleware{
			transport.Recovery(logger),
			transport.RequestID(),
			transport.Logging(logger),
			authMW,
		},
	})

	srv := transporthttp.NewServer(api.Handler(),
		transporthttp.WithAddr(":"+strconv.Itoa(cfg.Server.Port)),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		transporthttp.WithLogger(logger),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})
	g.Go(func() error {
		// Surface an unusable runtime before the first preview request.
		if err := rt.Preflight(gctx); err != nil {
			slog.Warn("sandbox runtime unavailable; previews will be static", "runtime", rt.Name(), "error", err)
		} else {
			slog.Info("sandbox runtime ready", "runtime", rt.Name())
		}
		return nil
	})

	slog.Info("vibe starting",
		"port", cfg.Server.Port,
		"provider", cfg.Provider.Type,
		"model", cfg.Provider.Model,
		"storage", cfg.Storage.Type,
		"sandbox", cfg.Sandbox.Runtime,
		"auth", cfg.Auth.Type,
	)
	return g.Wait()
}
