// Package main provides a GitHub webhook server that starts review
// workflows on Temporal.
//
// It is the thin ingress for deployments where "reviewd worker" runs the
// reviews: pull request events become ReviewWorkflow and CloseWorkflow
// executions keyed by change set and head SHA, so redeliveries collapse.
//
// Usage:
//
//	REVIEWD_TEMPORAL_HOST=localhost:7233 \
//	REVIEWD_GITHUB_WEBHOOK_SECRET=your_secret \
//	REVIEWD_SERVER_HTTP_PORT=3000 \
//	./review-webhook
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reviewd/internal/config"
	"github.com/fyrsmithlabs/reviewd/internal/gate"
	"github.com/fyrsmithlabs/reviewd/internal/logging"
	"github.com/fyrsmithlabs/reviewd/internal/webhook"
	"github.com/fyrsmithlabs/reviewd/internal/workflows"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadWithFile(os.Getenv("REVIEWD_CONFIG"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logCfg, err := logging.FromServiceConfig(cfg.Observability)
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if !cfg.GitHub.WebhookSecret.IsSet() {
		return fmt.Errorf("REVIEWD_GITHUB_WEBHOOK_SECRET not set")
	}

	logger.Info(ctx, "review webhook server starting",
		zap.Int("port", cfg.Server.Port),
		zap.String("temporal_host", cfg.Temporal.Host),
	)

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return fmt.Errorf("unable to create Temporal client: %w", err)
	}
	defer c.Close()

	logger.Info(ctx, "temporal client connected", zap.String("host", cfg.Temporal.Host))

	hook, err := webhook.NewHandler(
		workflows.NewStarter(c, cfg.Temporal.TaskQueue, logger.Named("starter")),
		cfg.GitHub.WebhookSecret,
		webhook.WithTier(gate.Tier(cfg.Orchestrator.DefaultTier)),
		webhook.WithLogger(logger.Named("webhook")),
	)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      newMux(hook),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info(ctx, "HTTP server listening", zap.String("addr", httpServer.Addr))
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "server shutdown error", zap.Error(err))
		return err
	}

	logger.Info(shutdownCtx, "server stopped gracefully")
	return nil
}

func newMux(hook http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("POST /webhook", hook)
	mux.HandleFunc("GET /health", handleHealth)
	return mux
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
