package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/reviewd/internal/gate"
	"github.com/fyrsmithlabs/reviewd/internal/ledger"
	"github.com/fyrsmithlabs/reviewd/internal/logging"
)

func testRegistry(t *testing.T) *gate.Registry {
	t.Helper()
	reg, err := gate.New(
		gate.Definition{Name: "build", Required: true, MaxAttempts: 2, Specialist: gate.SpecialistBuildFixer},
		gate.Definition{Name: "bench", MaxAttempts: 0, Timeout: 30 * time.Millisecond},
	)
	require.NoError(t, err)
	return reg
}

func testCall(g string) Call {
	return Call{
		Key:      ledger.Key{Repository: "acme/api", ChangeSet: "42"},
		Revision: "abc123",
		Gate:     g,
		Attempt:  1,
	}
}

func TestInvoke_PassesResultThrough(t *testing.T) {
	table := NewTable()
	var got Request
	table.RegisterGate("build", WorkerFunc(func(ctx context.Context, req Request) (Result, error) {
		got = req
		return Result{Status: ledger.StatusPass, Evidence: "go build ./... ok", FixApplied: true}, nil
	}))
	d := New(testRegistry(t), table)

	call := testCall("build")
	call.PriorEvidence = "undefined: foo"
	out, err := d.Invoke(context.Background(), call)
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusPass, out.Status)
	assert.Equal(t, "go build ./... ok", out.Evidence)
	assert.True(t, out.FixApplied)
	assert.False(t, out.Unavailable)
	assert.Equal(t, "build", out.Worker)

	assert.Equal(t, "build", got.Gate)
	assert.Equal(t, "abc123", got.ChangeSetRef)
	assert.Equal(t, 1, got.Attempt)
	assert.Equal(t, "undefined: foo", got.PriorEvidence)
}

func TestInvoke_UnknownGate(t *testing.T) {
	d := New(testRegistry(t), NewTable())
	_, err := d.Invoke(context.Background(), testCall("nope"))
	assert.ErrorIs(t, err, gate.ErrUnknownGate)
}

func TestInvoke_NoWorkerIsUnavailable(t *testing.T) {
	d := New(testRegistry(t), NewTable())

	out, err := d.Invoke(context.Background(), testCall("build"))
	require.NoError(t, err)
	assert.True(t, out.Unavailable)
	assert.Empty(t, out.Status)
	assert.Equal(t, `unavailable: no worker registered for "build"`, out.Evidence)
}

func TestInvoke_WorkerUnavailable(t *testing.T) {
	table := NewTable()
	table.RegisterGate("build", WorkerFunc(func(ctx context.Context, req Request) (Result, error) {
		return Result{Status: ledger.StatusPass}, Unavailable("toolchain missing")
	}))
	d := New(testRegistry(t), table)

	out, err := d.Invoke(context.Background(), testCall("build"))
	require.NoError(t, err)
	assert.True(t, out.Unavailable)
	assert.NotEqual(t, ledger.StatusPass, out.Status)
	assert.Contains(t, out.Evidence, "unavailable: ")
	assert.Contains(t, out.Evidence, "toolchain missing")
}

func TestInvoke_TimeoutIsFail(t *testing.T) {
	table := NewTable()
	table.RegisterGate("bench", WorkerFunc(func(ctx context.Context, req Request) (Result, error) {
		<-ctx.Done()
		return Result{}, ctx.Err()
	}))
	d := New(testRegistry(t), table)

	out, err := d.Invoke(context.Background(), testCall("bench"))
	require.NoError(t, err)
	assert.True(t, out.TimedOut)
	assert.Equal(t, ledger.StatusFail, out.Status)
	assert.Equal(t, "timeout", out.Evidence)
}

func TestInvoke_DefaultTimeout(t *testing.T) {
	table := NewTable()
	table.RegisterGate("build", WorkerFunc(func(ctx context.Context, req Request) (Result, error) {
		<-ctx.Done()
		return Result{Status: ledger.StatusPass}, nil
	}))
	d := New(testRegistry(t), table, WithDefaultTimeout(20*time.Millisecond))

	out, err := d.Invoke(context.Background(), testCall("build"))
	require.NoError(t, err)
	assert.True(t, out.TimedOut, "a result reported after the deadline is still a timeout")
	assert.Equal(t, ledger.StatusFail, out.Status)
}

func TestInvoke_ParentCancelReturnsError(t *testing.T) {
	table := NewTable()
	started := make(chan struct{})
	table.RegisterGate("build", WorkerFunc(func(ctx context.Context, req Request) (Result, error) {
		close(started)
		<-ctx.Done()
		return Result{}, ctx.Err()
	}))
	d := New(testRegistry(t), table)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	_, err := d.Invoke(ctx, testCall("build"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInvoke_ErrorAndInvalidStatusAreFail(t *testing.T) {
	tests := []struct {
		name     string
		res      Result
		err      error
		evidence string
	}{
		{"worker error", Result{}, errors.New("segfault"), "worker error: segfault"},
		{"invalid status", Result{Status: "green"}, nil, `worker returned invalid status "green"`},
		{"pending is not a result", Result{Status: ledger.StatusPending}, nil, `worker returned invalid status "pending"`},
		{"empty status", Result{}, nil, `worker returned invalid status ""`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := NewTable()
			table.RegisterGate("build", WorkerFunc(func(ctx context.Context, req Request) (Result, error) {
				return tt.res, tt.err
			}))
			d := New(testRegistry(t), table)

			out, err := d.Invoke(context.Background(), testCall("build"))
			require.NoError(t, err)
			assert.Equal(t, ledger.StatusFail, out.Status)
			assert.Equal(t, tt.evidence, out.Evidence)
		})
	}
}

func TestInvoke_Specialist(t *testing.T) {
	table := NewTable()
	table.RegisterGate("build", WorkerFunc(func(ctx context.Context, req Request) (Result, error) {
		t.Error("gate worker must not run for a specialist call")
		return Result{}, nil
	}))
	table.RegisterSpecialist(gate.SpecialistBuildFixer, WorkerFunc(func(ctx context.Context, req Request) (Result, error) {
		assert.Equal(t, gate.SpecialistBuildFixer, req.Specialist)
		return Result{Status: ledger.StatusPass, Evidence: "fixed import", FixApplied: true}, nil
	}))
	d := New(testRegistry(t), table)

	call := testCall("build")
	call.Specialist = gate.SpecialistBuildFixer
	out, err := d.Invoke(context.Background(), call)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPass, out.Status)
	assert.Equal(t, gate.SpecialistBuildFixer, out.Worker)
}

func TestInvoke_SingleFlight(t *testing.T) {
	table := NewTable()
	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	table.RegisterGate("build", WorkerFunc(func(ctx context.Context, req Request) (Result, error) {
		if calls.Add(1) == 1 {
			close(entered)
		}
		<-release
		return Result{Status: ledger.StatusPass, Evidence: "ok"}, nil
	}))
	d := New(testRegistry(t), table)

	var wg sync.WaitGroup
	outs := make([]Outcome, 3)
	for i := range outs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i > 0 {
				<-entered
			}
			out, err := d.Invoke(context.Background(), testCall("build"))
			assert.NoError(t, err)
			outs[i] = out
		}(i)
	}
	<-entered
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, out := range outs {
		assert.Equal(t, ledger.StatusPass, out.Status)
		assert.True(t, out.Shared)
	}
}

func TestInvoke_DifferentRevisionsDoNotShare(t *testing.T) {
	table := NewTable()
	var calls atomic.Int32
	table.RegisterGate("build", WorkerFunc(func(ctx context.Context, req Request) (Result, error) {
		calls.Add(1)
		return Result{Status: ledger.StatusPass}, nil
	}))
	d := New(testRegistry(t), table)

	a := testCall("build")
	b := testCall("build")
	b.Revision = "def456"
	_, err := d.Invoke(context.Background(), a)
	require.NoError(t, err)
	_, err = d.Invoke(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.NotEqual(t, a.flightKey(), b.flightKey())
}

type recordingLocker struct {
	mu       sync.Mutex
	acquired []string
	released int
	err      error
}

func (l *recordingLocker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.acquired = append(l.acquired, key)
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
		return nil
	}, nil
}

func TestInvoke_Locker(t *testing.T) {
	table := NewTable()
	table.RegisterGate("build", WorkerFunc(func(ctx context.Context, req Request) (Result, error) {
		return Result{Status: ledger.StatusPass}, nil
	}))

	locker := &recordingLocker{}
	d := New(testRegistry(t), table, WithLocker(locker))
	_, err := d.Invoke(context.Background(), testCall("build"))
	require.NoError(t, err)
	assert.Equal(t, []string{"acme/api#42@abc123/build"}, locker.acquired)
	assert.Equal(t, 1, locker.released)

	failing := &recordingLocker{err: errors.New("connection refused")}
	d = New(testRegistry(t), table, WithLocker(failing))
	out, err := d.Invoke(context.Background(), testCall("build"))
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPass, out.Status, "a lock outage runs the worker unlocked")
}

func TestTable_Names(t *testing.T) {
	table := NewTable()
	noop := WorkerFunc(func(ctx context.Context, req Request) (Result, error) { return Result{}, nil })
	table.RegisterGate("tests", noop)
	table.RegisterGate("build", noop)
	table.RegisterSpecialist(gate.SpecialistRebase, noop)

	gates, specialists := table.Names()
	assert.Equal(t, []string{"build", "tests"}, gates)
	assert.Equal(t, []string{gate.SpecialistRebase}, specialists)
}

type tokenScrubber struct{}

func (tokenScrubber) Scrub(s string) (string, int) {
	n := strings.Count(s, "tok_secret")
	return strings.ReplaceAll(s, "tok_secret", "[REDACTED:test]"), n
}

func TestInvoke_ScrubsEvidence(t *testing.T) {
	table := NewTable()
	table.RegisterGate("build", WorkerFunc(func(ctx context.Context, req Request) (Result, error) {
		return Result{
			Status:      ledger.StatusFail,
			Evidence:    "auth failed with tok_secret",
			Quarantines: []ledger.Quarantine{{Gate: "build", SubCheck: "push", Reason: "leaked tok_secret", Reference: "BUG-1"}},
		}, nil
	}))

	tl := logging.NewTestLogger()
	d := New(testRegistry(t), table, WithScrubber(tokenScrubber{}), WithLogger(tl.Logger))
	out, err := d.Invoke(context.Background(), testCall("build"))
	require.NoError(t, err)

	assert.Equal(t, "auth failed with [REDACTED:test]", out.Evidence)
	require.Len(t, out.Quarantines, 1)
	assert.Equal(t, "leaked [REDACTED:test]", out.Quarantines[0].Reason)
	tl.AssertField(t, "redacted secrets from worker evidence", "count", 2)
}
