package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fyrsmithlabs/reviewd/internal/gate"
	"github.com/fyrsmithlabs/reviewd/internal/ledger"
	"github.com/fyrsmithlabs/reviewd/internal/logging"
)

// DefaultTimeout bounds workers whose gate declares no timeout.
const DefaultTimeout = 10 * time.Minute

// Locker serializes dispatch of the same key across replicas.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

// Call identifies one worker invocation.
type Call struct {
	Key           ledger.Key
	Revision      string
	Ref           string
	Gate          string
	Specialist    string
	Attempt       int
	PriorEvidence string
	// Workdir is the checkout command workers run in, when one exists.
	Workdir string
}

func (c Call) flightKey() string {
	k := fmt.Sprintf("%s@%s/%s", c.Key, c.Revision, c.Gate)
	if c.Specialist != "" {
		k += "/" + c.Specialist
	}
	return k
}

// Outcome is a worker result after timeout and error mapping.
type Outcome struct {
	Result
	// Unavailable means the worker never ran; Reason says why.
	Unavailable bool          `json:"unavailable,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	TimedOut    bool          `json:"timed_out,omitempty"`
	Duration    time.Duration `json:"duration"`
	// Shared means the outcome came from an in-flight call for the same key.
	Shared bool   `json:"shared,omitempty"`
	Worker string `json:"worker"`
}

// Scrubber redacts secrets from worker evidence and reports how many it
// removed.
type Scrubber interface {
	Scrub(content string) (string, int)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLocker adds a cross-replica lock around each invocation.
func WithLocker(l Locker) Option {
	return func(d *Dispatcher) { d.locker = l }
}

// WithDefaultTimeout overrides DefaultTimeout.
func WithDefaultTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.defaultTimeout = t
		}
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithScrubber redacts worker evidence before it leaves the dispatcher.
func WithScrubber(s Scrubber) Option {
	return func(d *Dispatcher) { d.scrubber = s }
}

// Dispatcher runs workers with a deadline and single-flight per key.
type Dispatcher struct {
	mu             sync.RWMutex
	registry       *gate.Registry
	table          *Table
	locker         Locker
	scrubber       Scrubber
	defaultTimeout time.Duration
	logger         *logging.Logger
	group          singleflight.Group
}

// New creates a Dispatcher over registry definitions and a worker table.
func New(registry *gate.Registry, table *Table, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:       registry,
		table:          table,
		defaultTimeout: DefaultTimeout,
		logger:         logging.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetRegistry replaces the definitions workers are looked up against.
func (d *Dispatcher) SetRegistry(reg *gate.Registry) {
	if reg == nil {
		return
	}
	d.mu.Lock()
	d.registry = reg
	d.mu.Unlock()
}

// Invoke runs the worker for call. The only error returned is the parent
// context's; every worker failure becomes an Outcome.
func (d *Dispatcher) Invoke(ctx context.Context, call Call) (Outcome, error) {
	d.mu.RLock()
	reg := d.registry
	d.mu.RUnlock()
	def, err := reg.Get(call.Gate)
	if err != nil {
		return Outcome{}, err
	}

	v, err, shared := d.group.Do(call.flightKey(), func() (interface{}, error) {
		return d.invoke(ctx, def, call)
	})
	if err != nil {
		return Outcome{}, err
	}
	out := v.(Outcome)
	if shared {
		out.Shared = true
		SharedInvocations.Inc()
	}
	return out, nil
}

func (d *Dispatcher) invoke(ctx context.Context, def gate.Definition, call Call) (Outcome, error) {
	name := def.Worker
	if call.Specialist != "" {
		name = call.Specialist
	}
	out := Outcome{Worker: name}

	w, ok := d.table.Lookup(def.Worker, call.Specialist)
	if !ok {
		out.Unavailable = true
		out.Reason = fmt.Sprintf("no worker registered for %q", name)
		return d.finish(ctx, call, out), nil
	}

	if d.locker != nil {
		release, err := d.locker.Acquire(ctx, call.flightKey())
		switch {
		case ctx.Err() != nil:
			return Outcome{}, ctx.Err()
		case err != nil:
			// The ledger's status CAS still rejects a duplicate result.
			d.logger.Warn(ctx, "dispatch lock unavailable, running unlocked",
				zap.String("key", call.flightKey()), zap.Error(err))
		default:
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					d.logger.Warn(ctx, "releasing dispatch lock", zap.String("key", call.flightKey()), zap.Error(err))
				}
			}()
		}
	}

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := Request{
		Gate:          call.Gate,
		ChangeSetRef:  call.Ref,
		Attempt:       call.Attempt,
		PriorEvidence: call.PriorEvidence,
		Specialist:    call.Specialist,
		Workdir:       call.Workdir,
	}
	if req.ChangeSetRef == "" {
		req.ChangeSetRef = call.Revision
	}

	start := time.Now()
	res, err := w.Run(runCtx, req)
	out.Duration = time.Since(start)
	InvocationDuration.WithLabelValues(call.Gate).Observe(out.Duration.Seconds())

	switch {
	case ctx.Err() != nil:
		return Outcome{}, ctx.Err()
	case errors.Is(err, ErrWorkerUnavailable):
		out.Unavailable = true
		out.Reason = err.Error()
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrWorkerTimeout) || runCtx.Err() != nil:
		out.TimedOut = true
		out.Status = ledger.StatusFail
		out.Evidence = "timeout"
	case err != nil:
		out.Status = ledger.StatusFail
		out.Evidence = "worker error: " + err.Error()
	case !res.Status.IsResult():
		out.Status = ledger.StatusFail
		out.Evidence = fmt.Sprintf("worker returned invalid status %q", res.Status)
	default:
		out.Result = res
	}
	return d.finish(ctx, call, out), nil
}

func (d *Dispatcher) finish(ctx context.Context, call Call, out Outcome) Outcome {
	label := string(out.Status)
	switch {
	case out.Unavailable:
		label = "unavailable"
		out.Status = ""
		if out.Evidence == "" {
			out.Evidence = "unavailable: " + out.Reason
		}
	case out.TimedOut:
		label = "timeout"
	}
	InvocationsTotal.WithLabelValues(call.Gate, label).Inc()

	if d.scrubber != nil {
		out = d.scrub(ctx, call, out)
	}

	d.logger.Debug(ctx, "worker finished",
		zap.String("gate", call.Gate),
		zap.String("worker", out.Worker),
		zap.Int("attempt", call.Attempt),
		zap.String("outcome", label),
		zap.Duration("duration", out.Duration),
	)
	return out
}

func (d *Dispatcher) scrub(ctx context.Context, call Call, out Outcome) Outcome {
	var total int
	out.Evidence, total = d.scrubber.Scrub(out.Evidence)
	if len(out.Quarantines) > 0 {
		qs := make([]ledger.Quarantine, len(out.Quarantines))
		for i, q := range out.Quarantines {
			var n int
			q.Reason, n = d.scrubber.Scrub(q.Reason)
			total += n
			qs[i] = q
		}
		out.Quarantines = qs
	}
	if total > 0 {
		RedactedSecrets.WithLabelValues(call.Gate).Add(float64(total))
		d.logger.Warn(ctx, "redacted secrets from worker evidence",
			zap.String("gate", call.Gate),
			zap.String("worker", out.Worker),
			zap.Int("count", total),
		)
	}
	return out
}
