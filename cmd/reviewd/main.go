// Reviewd drives pull request review gates to a promote or block verdict.
//
// Usage:
//
//	# Serve the API and webhook, running reviews in process
//	reviewd serve
//
//	# Run reviews on Temporal: the server starts workflows, workers run them
//	reviewd serve --temporal
//	reviewd worker
//
//	# Review one revision from the command line
//	reviewd run --repo acme/api --changeset 42 --revision 3f2c9e1
//
// Configuration is read from ~/.config/reviewd/config.yaml and REVIEWD_*
// environment variables. See internal/config.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "reviewd",
		Short: "Pull request review orchestrator",
		Long: `reviewd runs the configured review gates for a change set, retries and
escalates failures within budget, and records a promote or block verdict.`,
		Version:       version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/reviewd/config.yaml)")

	root.AddCommand(
		newServeCmd(),
		newWorkerCmd(),
		newRunCmd(),
		newReplayCmd(),
		newGatesCmd(),
		newWatchCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "reviewd by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func exitCode(err error) int {
	var e *exitError
	if errors.As(err, &e) {
		return e.code
	}
	return 1
}
