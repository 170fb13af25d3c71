package main

import (
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/reviewd/internal/monitor"
)

func newWatchCmd() *cobra.Command {
	var (
		cs       changeSetFlags
		server   string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a change set's review in a terminal dashboard",
		Long: `Poll a running reviewd server and show gate states, retry budgets and
the current routing decision of one change set.

Examples:
  reviewd watch --repo acme/api --changeset 42
  reviewd watch --repo acme/api --changeset 42 --server http://reviewd:9191 --interval 5s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if interval <= 0 {
				return errors.New("--interval must be positive")
			}
			model := monitor.NewModel(monitor.NewClient(server), cs.key(), interval)
			_, err := tea.NewProgram(model,
				tea.WithAltScreen(),
				tea.WithContext(cmd.Context()),
			).Run()
			if errors.Is(err, tea.ErrProgramKilled) && cmd.Context().Err() != nil {
				return nil
			}
			return err
		},
	}
	cs.register(cmd)
	cmd.Flags().StringVar(&server, "server", "http://localhost:9191", "reviewd API base URL")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "refresh interval")
	return cmd
}
