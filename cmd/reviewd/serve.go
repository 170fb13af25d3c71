package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reviewd/internal/gate"
	httpserver "github.com/fyrsmithlabs/reviewd/internal/http"
	"github.com/fyrsmithlabs/reviewd/internal/webhook"
	"github.com/fyrsmithlabs/reviewd/internal/workflows"
)

func newServeCmd() *cobra.Command {
	var useTemporal bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the review API and GitHub webhook",
		Long: `Serve the review API and, when a webhook secret is configured, the GitHub
webhook. Reviews run in this process unless --temporal is set, in which
case they are started as Temporal workflows for "reviewd worker" to run.
With --temporal the API reads the shared store, so use sqlite or postgres.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), useTemporal)
		},
	}
	cmd.Flags().BoolVar(&useTemporal, "temporal", false, "start reviews as Temporal workflows")
	return cmd
}

// serve blocks until ctx is cancelled, then drains in-flight reviews.
func serve(ctx context.Context, useTemporal bool) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()
	cfg := a.cfg

	orch, err := a.newOrchestrator()
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}
	a.watchPolicy(ctx, orch)

	var trigger webhook.Trigger = orch
	if useTemporal {
		c, err := client.Dial(client.Options{
			HostPort:  cfg.Temporal.Host,
			Namespace: cfg.Temporal.Namespace,
		})
		if err != nil {
			return fmt.Errorf("unable to create Temporal client: %w", err)
		}
		defer c.Close()
		a.logger.Info(ctx, "temporal client connected", zap.String("host", cfg.Temporal.Host))
		trigger = workflows.NewStarter(c, cfg.Temporal.TaskQueue, a.logger.Named("starter"))
	}

	opts := []httpserver.Option{
		httpserver.WithTrigger(trigger),
		httpserver.WithMetrics(httpserver.NewHTTPMetrics(a.logger)),
	}
	if cfg.GitHub.WebhookSecret.IsSet() {
		hook, err := webhook.NewHandler(trigger, cfg.GitHub.WebhookSecret,
			webhook.WithTier(gate.Tier(cfg.Orchestrator.DefaultTier)),
			webhook.WithLogger(a.logger.Named("webhook")),
		)
		if err != nil {
			return err
		}
		opts = append(opts, httpserver.WithWebhook(hook))
	}
	if a.nc != nil {
		opts = append(opts, httpserver.WithEvents(a.nc, cfg.NATS.SubjectPrefix))
	}

	srv, err := httpserver.NewServer(orch, a.logger.Named("http"),
		&httpserver.Config{Host: cfg.Server.Host, Port: cfg.Server.Port}, opts...)
	if err != nil {
		return err
	}

	a.logger.Info(ctx, "starting reviewd",
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Driver),
		zap.Int("gates", a.policy.Registry.Len()),
		zap.Bool("temporal", useTemporal),
		zap.Bool("github", a.github != nil),
		zap.Bool("nats", a.nc != nil),
		zap.Bool("redis", a.redis != nil),
		zap.Bool("webhook", cfg.GitHub.WebhookSecret.IsSet()),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		a.logger.Info(context.Background(), "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn(shutdownCtx, "http shutdown", zap.Error(err))
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("draining reviews: %w", err)
	}
	a.logger.Info(shutdownCtx, "server shutdown complete")
	return nil
}
