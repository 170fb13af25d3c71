package workflows

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/testsuite"

	"github.com/fyrsmithlabs/reviewd/internal/dispatch"
	"github.com/fyrsmithlabs/reviewd/internal/gate"
	"github.com/fyrsmithlabs/reviewd/internal/ledger"
	"github.com/fyrsmithlabs/reviewd/internal/orchestrator"
)

var testKey = ledger.Key{Repository: "acme/api", ChangeSet: "42"}

func newOrchestrator(t *testing.T, status ledger.Status) *orchestrator.Orchestrator {
	t.Helper()
	reg, err := gate.New(gate.Definition{Name: "build", Required: true})
	require.NoError(t, err)
	table := dispatch.NewTable()
	table.RegisterGate("build", dispatch.WorkerFunc(func(ctx context.Context, req dispatch.Request) (dispatch.Result, error) {
		return dispatch.Result{Status: status, Evidence: "go build ./..."}, nil
	}))
	orch, err := orchestrator.New(reg, ledger.NewMemoryStore(), dispatch.New(reg, table))
	require.NoError(t, err)
	return orch
}

func newEnv(t *testing.T, orch *orchestrator.Orchestrator) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(ReviewWorkflow)
	env.RegisterWorkflow(CloseWorkflow)
	env.RegisterActivity(&Activities{Reviewer: orch, Heartbeat: 10 * time.Millisecond})
	return env
}

func TestReviewWorkflow(t *testing.T) {
	t.Run("returns the receipt of a ready change set", func(t *testing.T) {
		env := newEnv(t, newOrchestrator(t, ledger.StatusPass))

		env.ExecuteWorkflow(ReviewWorkflow, ReviewInput{Repository: "acme/api", ChangeSet: "42", Revision: "abc123"})

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())
		var result ReviewResult
		require.NoError(t, env.GetWorkflowResult(&result))
		require.NotNil(t, result.Receipt)
		assert.Equal(t, orchestrator.StatusReady, result.Receipt.Status)
		assert.Equal(t, "abc123", result.Receipt.Revision)
		assert.False(t, result.Stopped)
	})

	t.Run("a blocked verdict is a successful workflow", func(t *testing.T) {
		env := newEnv(t, newOrchestrator(t, ledger.StatusFail))

		env.ExecuteWorkflow(ReviewWorkflow, ReviewInput{Repository: "acme/api", ChangeSet: "42", Revision: "abc123"})

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())
		var result ReviewResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.Equal(t, orchestrator.StatusBlocked, result.Receipt.Status)
		assert.Equal(t, []string{"build"}, result.Receipt.BlockingFailures)
	})

	t.Run("stops quietly on an archived change set", func(t *testing.T) {
		orch := newOrchestrator(t, ledger.StatusPass)
		_, err := orch.Run(context.Background(), orchestrator.RunRequest{Key: testKey, Revision: "abc123"})
		require.NoError(t, err)
		require.NoError(t, orch.Close(context.Background(), testKey, "merged"))
		env := newEnv(t, orch)

		env.ExecuteWorkflow(ReviewWorkflow, ReviewInput{Repository: "acme/api", ChangeSet: "42", Revision: "def456"})

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())
		var result ReviewResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.True(t, result.Stopped)
		assert.Equal(t, ErrTypeClosed, result.Reason)
		assert.Nil(t, result.Receipt)
	})

	t.Run("rejects invalid input without retrying", func(t *testing.T) {
		env := newEnv(t, newOrchestrator(t, ledger.StatusPass))

		env.ExecuteWorkflow(ReviewWorkflow, ReviewInput{Repository: "acme/api", ChangeSet: "42"})

		require.True(t, env.IsWorkflowCompleted())
		assert.Error(t, env.GetWorkflowError())
	})
}

func TestCloseWorkflow(t *testing.T) {
	t.Run("archives the ledger", func(t *testing.T) {
		orch := newOrchestrator(t, ledger.StatusPass)
		_, err := orch.Run(context.Background(), orchestrator.RunRequest{Key: testKey, Revision: "abc123"})
		require.NoError(t, err)
		env := newEnv(t, orch)

		env.ExecuteWorkflow(CloseWorkflow, CloseInput{Repository: "acme/api", ChangeSet: "42", Reason: "merged"})

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())
		snap, err := orch.Snapshot(context.Background(), testKey)
		require.NoError(t, err)
		assert.True(t, snap.Archived)
	})

	t.Run("unknown change set is a no-op", func(t *testing.T) {
		env := newEnv(t, newOrchestrator(t, ledger.StatusPass))

		env.ExecuteWorkflow(CloseWorkflow, CloseInput{Repository: "acme/api", ChangeSet: "7", Reason: "closed"})

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())
	})
}

type fakeRun struct {
	client.WorkflowRun
	id string
}

func (r fakeRun) GetID() string    { return r.id }
func (r fakeRun) GetRunID() string { return "run-" + r.id }

type fakeClient struct {
	opts []client.StartWorkflowOptions
	args []interface{}
	err  error
}

func (c *fakeClient) ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.opts = append(c.opts, options)
	c.args = append(c.args, args...)
	return fakeRun{id: options.ID}, nil
}

func TestStarter(t *testing.T) {
	c := &fakeClient{}
	s := NewStarter(c, "", nil)

	require.NoError(t, s.StartReview(context.Background(), orchestrator.RunRequest{
		Key: testKey, Revision: "0123abcd", Tier: gate.TierMergeGate,
	}))
	require.NoError(t, s.CloseChangeSet(context.Background(), testKey, "merged"))

	require.Len(t, c.opts, 2)
	assert.Equal(t, "review-acme/api-42-0123abcd", c.opts[0].ID)
	assert.Equal(t, DefaultTaskQueue, c.opts[0].TaskQueue)
	assert.Equal(t, "close-acme/api-42", c.opts[1].ID)
	assert.Equal(t, ReviewInput{Repository: "acme/api", ChangeSet: "42", Revision: "0123abcd", Tier: gate.TierMergeGate}, c.args[0])
	assert.Equal(t, CloseInput{Repository: "acme/api", ChangeSet: "42", Reason: "merged"}, c.args[1])

	assert.Error(t, s.StartReview(context.Background(), orchestrator.RunRequest{Key: testKey}))
	assert.Error(t, s.CloseChangeSet(context.Background(), ledger.Key{}, ""))
}

func TestStarter_ClientError(t *testing.T) {
	s := NewStarter(&fakeClient{err: assert.AnError}, "reviews", nil)
	err := s.StartReview(context.Background(), orchestrator.RunRequest{Key: testKey, Revision: "abc"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start review workflow")
}
