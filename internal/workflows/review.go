// Package workflows runs reviews as Temporal workflows so that a run
// survives worker restarts and is retried on infrastructure failures.
package workflows

import (
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/reviewd/internal/gate"
	"github.com/fyrsmithlabs/reviewd/internal/ledger"
	"github.com/fyrsmithlabs/reviewd/internal/orchestrator"
)

// DefaultTaskQueue is the task queue review workers poll.
const DefaultTaskQueue = "reviewd-reviews"

// Application error types that Temporal must not retry.
const (
	ErrTypeRunInProgress = "RunInProgress"
	ErrTypeSuperseded    = "Superseded"
	ErrTypeClosed        = "Closed"
	ErrTypeInvalid       = "InvalidRequest"
)

// ReviewInput starts one review run.
type ReviewInput struct {
	Repository string    // owner/name
	ChangeSet  string    // pull request number
	Revision   string    // head commit SHA
	Ref        string    // ref handed to workers, defaults to Revision
	Tier       gate.Tier // empty selects the configured default
}

// Key returns the ledger key of the change set.
func (in ReviewInput) Key() ledger.Key {
	return ledger.Key{Repository: in.Repository, ChangeSet: in.ChangeSet}
}

// ReviewResult is the workflow outcome.
type ReviewResult struct {
	Receipt *orchestrator.Receipt
	// Stopped is set when the run was superseded or the change set closed.
	Stopped bool
	Reason  string
}

// CloseInput archives a change set.
type CloseInput struct {
	Repository string
	ChangeSet  string
	Reason     string
}

// ReviewWorkflowID is SHA-keyed so a redelivered webhook for the same
// revision maps onto the same workflow.
func ReviewWorkflowID(key ledger.Key, revision string) string {
	return fmt.Sprintf("review-%s-%s-%s", key.Repository, key.ChangeSet, revision)
}

// CloseWorkflowID names the close workflow of a change set.
func CloseWorkflowID(key ledger.Key) string {
	return fmt.Sprintf("close-%s-%s", key.Repository, key.ChangeSet)
}

// ReviewWorkflow drives one revision through its gates.
//
// The run happens inside a single activity because gate dispatch,
// retries and escalation are already bookkept in the ledger; Temporal
// adds durability and infrastructure retries on top. Superseded and
// closed runs end the workflow without error.
func ReviewWorkflow(ctx workflow.Context, in ReviewInput) (*ReviewResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting review",
		"repository", in.Repository,
		"changeset", in.ChangeSet,
		"revision", in.Revision)

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Hour,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        5 * time.Second,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{ErrTypeRunInProgress, ErrTypeSuperseded, ErrTypeClosed, ErrTypeInvalid},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var a *Activities
	var receipt orchestrator.Receipt
	err := workflow.ExecuteActivity(ctx, a.RunReview, in).Get(ctx, &receipt)
	if err != nil {
		var appErr *temporal.ApplicationError
		if errors.As(err, &appErr) {
			switch appErr.Type() {
			case ErrTypeSuperseded, ErrTypeClosed, ErrTypeRunInProgress:
				logger.Info("Review stopped", "reason", appErr.Type())
				return &ReviewResult{Stopped: true, Reason: appErr.Type()}, nil
			}
		}
		return nil, err
	}

	logger.Info("Review finished", "status", receipt.Status, "reasons", receipt.Reasons)
	return &ReviewResult{Receipt: &receipt}, nil
}

// CloseWorkflow cancels any active run of the change set and archives its
// ledger.
func CloseWorkflow(ctx workflow.Context, in CloseInput) error {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:        5,
			NonRetryableErrorTypes: []string{ErrTypeInvalid},
		},
	})
	var a *Activities
	return workflow.ExecuteActivity(ctx, a.CloseChangeSet, in).Get(ctx, nil)
}

// Register adds the review workflows and activities to a worker.
func Register(w worker.Registry, acts *Activities) {
	w.RegisterWorkflow(ReviewWorkflow)
	w.RegisterWorkflow(CloseWorkflow)
	w.RegisterActivity(acts)
}
