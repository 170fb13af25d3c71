package workflows

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reviewd/internal/ledger"
	"github.com/fyrsmithlabs/reviewd/internal/logging"
	"github.com/fyrsmithlabs/reviewd/internal/orchestrator"
)

// WorkflowClient is the part of client.Client the Starter uses.
type WorkflowClient interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// Starter triggers review and close workflows. It is the durable
// counterpart of running reviews in-process.
type Starter struct {
	client    WorkflowClient
	taskQueue string
	logger    *logging.Logger
}

// NewStarter creates a Starter. An empty task queue selects
// DefaultTaskQueue.
func NewStarter(c WorkflowClient, taskQueue string, logger *logging.Logger) *Starter {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Starter{client: c, taskQueue: taskQueue, logger: logger}
}

// StartReview starts ReviewWorkflow for the request's revision.
func (s *Starter) StartReview(ctx context.Context, req orchestrator.RunRequest) error {
	if err := req.Key.Validate(); err != nil {
		return err
	}
	if req.Revision == "" {
		return fmt.Errorf("revision is required")
	}
	in := ReviewInput{
		Repository: req.Key.Repository,
		ChangeSet:  req.Key.ChangeSet,
		Revision:   req.Revision,
		Ref:        req.Ref,
		Tier:       req.Tier,
	}
	return s.start(ctx, ReviewWorkflowID(req.Key, req.Revision), "review", ReviewWorkflow, in)
}

// CloseChangeSet starts CloseWorkflow for the change set.
func (s *Starter) CloseChangeSet(ctx context.Context, key ledger.Key, reason string) error {
	if err := key.Validate(); err != nil {
		return err
	}
	in := CloseInput{Repository: key.Repository, ChangeSet: key.ChangeSet, Reason: reason}
	return s.start(ctx, CloseWorkflowID(key), "close", CloseWorkflow, in)
}

func (s *Starter) start(ctx context.Context, id, name string, wf interface{}, arg interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	we, err := s.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: s.taskQueue,
	}, wf, arg)
	if err != nil {
		return fmt.Errorf("failed to start %s workflow: %w", name, err)
	}
	recordStart(ctx, name)
	s.logger.Info(ctx, "workflow started",
		zap.String("workflow_id", we.GetID()),
		zap.String("run_id", we.GetRunID()),
	)
	return nil
}
