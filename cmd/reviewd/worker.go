package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reviewd/internal/workflows"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run reviews started as Temporal workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd.Context())
		},
	}
}

func runWorker(ctx context.Context) error {
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

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return fmt.Errorf("unable to create Temporal client: %w", err)
	}
	defer c.Close()

	a.logger.Info(ctx, "temporal client connected", zap.String("host", cfg.Temporal.Host))

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: cfg.Orchestrator.MaxParallel * 4,
	})
	workflows.Register(w, &workflows.Activities{
		Reviewer: orch,
		Logger:   a.logger.Named("activities"),
	})

	a.logger.Info(ctx, "worker configured", zap.String("task_queue", cfg.Temporal.TaskQueue))

	// Run takes an interrupt channel of interface{}.
	stop := make(chan interface{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()
	workerErrors := make(chan error, 1)
	go func() {
		workerErrors <- w.Run(stop)
	}()

	select {
	case err := <-workerErrors:
		if err != nil {
			return fmt.Errorf("worker error: %w", err)
		}
	case <-ctx.Done():
		a.logger.Info(context.Background(), "shutdown signal received")
		if err := <-workerErrors; err != nil {
			a.logger.Warn(context.Background(), "worker stopped with error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := orch.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("draining reviews: %w", err)
	}
	a.logger.Info(shutdownCtx, "worker stopped gracefully")
	return nil
}
