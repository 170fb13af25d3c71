package workflows

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reviewd/internal/ledger"
	"github.com/fyrsmithlabs/reviewd/internal/logging"
	"github.com/fyrsmithlabs/reviewd/internal/orchestrator"
)

// Reviewer is the orchestrator surface the activities need.
type Reviewer interface {
	Run(ctx context.Context, req orchestrator.RunRequest) (*orchestrator.Receipt, error)
	Close(ctx context.Context, key ledger.Key, reason string) error
}

// Activities are registered on review workers.
type Activities struct {
	Reviewer Reviewer
	Logger   *logging.Logger
	// Heartbeat is the heartbeat interval while a run is in flight.
	Heartbeat time.Duration
}

func (a *Activities) logger() *logging.Logger {
	if a.Logger == nil {
		return logging.NewNop()
	}
	return a.Logger
}

// RunReview runs the review and heartbeats until it returns.
func (a *Activities) RunReview(ctx context.Context, in ReviewInput) (*orchestrator.Receipt, error) {
	start := time.Now()
	if err := in.Key().Validate(); err != nil || in.Revision == "" {
		return nil, temporal.NewNonRetryableApplicationError("invalid review input", ErrTypeInvalid, err)
	}

	interval := a.Heartbeat
	if interval <= 0 {
		interval = 10 * time.Second
	}
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				activity.RecordHeartbeat(ctx, in.Revision)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	rc, err := a.Reviewer.Run(ctx, orchestrator.RunRequest{
		Key:      in.Key(),
		Revision: in.Revision,
		Ref:      in.Ref,
		Tier:     in.Tier,
	})
	recordActivity(ctx, "run_review", start, err)
	if err != nil {
		a.logger().Warn(ctx, "review activity failed", zap.String("changeset", in.Key().String()), zap.Error(err))
		return nil, classify(err)
	}
	return rc, nil
}

// CloseChangeSet archives the change set.
func (a *Activities) CloseChangeSet(ctx context.Context, in CloseInput) error {
	start := time.Now()
	key := ledger.Key{Repository: in.Repository, ChangeSet: in.ChangeSet}
	if err := key.Validate(); err != nil {
		return temporal.NewNonRetryableApplicationError("invalid close input", ErrTypeInvalid, err)
	}
	err := a.Reviewer.Close(ctx, key, in.Reason)
	if errors.Is(err, ledger.ErrNotFound) {
		// Never reviewed; nothing to archive.
		err = nil
	}
	recordActivity(ctx, "close_changeset", start, err)
	return err
}

// classify maps orchestrator errors onto non-retryable application errors.
func classify(err error) error {
	switch {
	case errors.Is(err, orchestrator.ErrRunInProgress):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeRunInProgress, err)
	case errors.Is(err, orchestrator.ErrSuperseded):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeSuperseded, err)
	case errors.Is(err, orchestrator.ErrClosed), errors.Is(err, ledger.ErrLedgerArchived):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeClosed, err)
	}
	return err
}
