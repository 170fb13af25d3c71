package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/reviewd/internal/gate"
	"github.com/fyrsmithlabs/reviewd/internal/ledger"
	"github.com/fyrsmithlabs/reviewd/internal/orchestrator"
)

// Exit statuses of `reviewd run`.
const (
	exitBlocked   = 2
	exitRegressed = 3
)

type changeSetFlags struct {
	repo      string
	changeSet string
}

func (f *changeSetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.repo, "repo", "", "repository as owner/name")
	cmd.Flags().StringVar(&f.changeSet, "changeset", "", "change set id (pull request number)")
	_ = cmd.MarkFlagRequired("repo")
	_ = cmd.MarkFlagRequired("changeset")
}

func (f *changeSetFlags) key() ledger.Key {
	return ledger.Key{Repository: f.repo, ChangeSet: f.changeSet}
}

// runOutput selects how a run's receipt is reported.
type runOutput struct {
	asJSON   bool
	baseline string
	save     string
}

func newRunCmd() *cobra.Command {
	var (
		cs       changeSetFlags
		revision string
		ref      string
		tier     string
		output   runOutput
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Review one revision and print the receipt",
		Long: `Review one revision in this process and print the receipt.

With --baseline the receipt is compared with an earlier one: gates added or
removed, status changes, and regressions (pass -> fail).

Exits 0 when the change set is ready to promote, 2 when it is blocked and 3
when it is ready but a gate regressed against the baseline.

Examples:
  reviewd run --repo acme/api --changeset 42 --revision 3f2c9e1
  reviewd run --repo acme/api --changeset 42 --revision 3f2c9e1 --tier merge_gate --json
  reviewd run --repo acme/api --changeset 42 --revision 3f2c9e1 --save receipts/3f2c9e1.json
  reviewd run --repo acme/api --changeset 42 --revision 8a7b6c5 --baseline receipts/3f2c9e1.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := orchestrator.RunRequest{Key: cs.key(), Revision: revision, Ref: ref}
			if tier != "" {
				t, err := gate.ParseTier(tier)
				if err != nil {
					return err
				}
				req.Tier = t
			}
			return runReview(cmd.Context(), cmd.OutOrStdout(), req, output)
		},
	}
	cs.register(cmd)
	cmd.Flags().StringVar(&revision, "revision", "", "revision (head commit) to review")
	cmd.Flags().StringVar(&ref, "ref", "", "branch or ref handed to workers")
	cmd.Flags().StringVar(&tier, "tier", "", "gate tier (pr_fast, merge_gate, nightly, all)")
	cmd.Flags().BoolVar(&output.asJSON, "json", false, "print the receipt as JSON")
	cmd.Flags().StringVar(&output.baseline, "baseline", "", "receipt JSON to compare against")
	cmd.Flags().StringVar(&output.save, "save", "", "write the receipt JSON to this file")
	_ = cmd.MarkFlagRequired("revision")
	return cmd
}

func runReview(ctx context.Context, out io.Writer, req orchestrator.RunRequest, output runOutput) error {
	var baseline *orchestrator.Receipt
	if output.baseline != "" {
		var err error
		if baseline, err = loadReceipt(output.baseline); err != nil {
			return err
		}
	}

	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	orch, err := a.newOrchestrator()
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}
	rc, err := orch.Run(ctx, req)
	if err != nil {
		return err
	}
	if baseline != nil {
		d := orchestrator.DiffReceipts(baseline, rc)
		rc.Diff = &d
	}
	if output.save != "" {
		if err := saveReceipt(output.save, rc); err != nil {
			return err
		}
	}

	if output.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rc); err != nil {
			return err
		}
	} else {
		printReceipt(out, rc)
	}

	switch {
	case rc.Status != orchestrator.StatusReady:
		return &exitError{code: exitBlocked, msg: fmt.Sprintf("%s is %s", rc.Key, rc.Status)}
	case rc.Diff != nil && rc.Diff.Regression:
		return &exitError{code: exitRegressed, msg: fmt.Sprintf("%s regressed: %s",
			rc.Key, strings.Join(rc.Diff.Regressions(), ", "))}
	}
	return nil
}

func loadReceipt(path string) (*orchestrator.Receipt, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening baseline: %w", err)
	}
	defer f.Close()
	rc, err := orchestrator.ReadReceipt(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rc, nil
}

func saveReceipt(path string, rc *orchestrator.Receipt) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating receipt directory: %w", err)
	}
	data, err := json.MarshalIndent(rc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("writing receipt: %w", err)
	}
	return nil
}

func printReceipt(out io.Writer, rc *orchestrator.Receipt) {
	fmt.Fprintf(out, "%s @ %s: %s (%s)\n\n", rc.Key, rc.Revision, rc.Status, rc.Decision.State)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GATE\tREQUIRED\tSTATUS\tATTEMPTS\tEVIDENCE")
	for _, g := range rc.Gates {
		fmt.Fprintf(tw, "%s\t%t\t%s\t%d\t%s\n", g.Name, g.Required, g.Status, g.Attempts, g.Evidence)
	}
	_ = tw.Flush()

	if len(rc.Reasons) > 0 {
		fmt.Fprintln(out, "\nReasons:")
		for _, r := range rc.Reasons {
			fmt.Fprintf(out, "  - %s\n", r)
		}
	}
	for _, e := range rc.Errors {
		fmt.Fprintf(out, "error: %s\n", e)
	}
	if rc.Diff != nil {
		fmt.Fprintf(out, "\n%s\n", rc.Diff)
	}
}

func newReplayCmd() *cobra.Command {
	var cs changeSetFlags
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild a change set from its hop log and compare with the stored state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return replay(cmd.Context(), cmd.OutOrStdout(), cs.key())
		},
	}
	cs.register(cmd)
	return cmd
}

func replay(ctx context.Context, out io.Writer, key ledger.Key) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	l, err := ledger.Load(ctx, a.store, key)
	if err != nil {
		return err
	}
	replayed, err := ledger.Replay(key, l.Hops())
	if err != nil {
		return fmt.Errorf("replaying %s: %w", key, err)
	}

	want, err := json.Marshal(l.Snapshot())
	if err != nil {
		return err
	}
	got, err := json.MarshalIndent(replayed, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(got))

	compact, _ := json.Marshal(replayed)
	if string(compact) != string(want) {
		return &exitError{code: 1, msg: fmt.Sprintf("%s: replayed state differs from stored state", key)}
	}
	fmt.Fprintf(out, "%s: %d hops replay to the stored state\n", key, len(l.Hops()))
	return nil
}

func newGatesCmd() *cobra.Command {
	var tier string
	cmd := &cobra.Command{
		Use:   "gates",
		Short: "List the gates of a tier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := loadPolicyFromConfig()
			if err != nil {
				return err
			}
			t, err := gate.ParseTier(tier)
			if err != nil {
				return err
			}
			reg, err := p.Registry.ForTier(t)
			if err != nil {
				return err
			}
			printGates(cmd.OutOrStdout(), reg)
			return nil
		},
	}
	cmd.Flags().StringVar(&tier, "tier", string(gate.TierAll), "gate tier (pr_fast, merge_gate, nightly, all)")
	return cmd
}

func printGates(out io.Writer, reg *gate.Registry) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GATE\tTIER\tREQUIRED\tMAX_ATTEMPTS\tWORKER\tSPECIALIST\tNEEDS\tQUARANTINE")
	for _, d := range reg.Definitions() {
		q := "-"
		if d.Quarantined() {
			q = d.Quarantine.Reference
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%s\t%s\t%s\t%s\n",
			d.Name, d.Tier, d.Required, d.MaxAttempts, d.Worker, dash(d.Specialist), dash(strings.Join(d.Prerequisites, ",")), q)
	}
	_ = tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
