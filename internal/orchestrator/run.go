package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/reviewd/internal/dispatch"
	"github.com/fyrsmithlabs/reviewd/internal/gate"
	"github.com/fyrsmithlabs/reviewd/internal/ledger"
	"github.com/fyrsmithlabs/reviewd/internal/logging"
	"github.com/fyrsmithlabs/reviewd/internal/platform"
	"github.com/fyrsmithlabs/reviewd/internal/promotion"
	"github.com/fyrsmithlabs/reviewd/internal/router"
)

// staleRetries bounds refresh-and-reissue cycles on ErrStaleWrite.
const staleRetries = 3

// run is one in-flight Run call.
type run struct {
	id       string
	key      ledger.Key
	revision string
	ref      string
	workdir  string
	tier     gate.Tier
	started  time.Time
	cancel   context.CancelCauseFunc
	done     chan struct{}

	mu        sync.Mutex
	durations map[string]time.Duration
	errs      []string
}

func newRun(req RunRequest, tier gate.Tier, started time.Time) *run {
	ref := req.Ref
	if ref == "" {
		ref = req.Revision
	}
	return &run{
		id:        uuid.NewString(),
		key:       req.Key,
		revision:  req.Revision,
		ref:       ref,
		tier:      tier,
		started:   started,
		cancel:    func(error) {},
		done:      make(chan struct{}),
		durations: make(map[string]time.Duration),
	}
}

func (r *run) addDuration(gate string, d time.Duration) {
	r.mu.Lock()
	r.durations[gate] += d
	r.mu.Unlock()
}

func (r *run) duration(gate string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.durations[gate]
}

func (r *run) addError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err.Error())
	r.mu.Unlock()
}

func (r *run) errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errs...)
}

func specsFor(reg *gate.Registry) []ledger.GateSpec {
	defs := reg.Definitions()
	specs := make([]ledger.GateSpec, 0, len(defs))
	for _, d := range defs {
		specs = append(specs, ledger.GateSpec{Name: d.Name, Required: d.Required, MaxAttempts: d.MaxAttempts})
	}
	return specs
}

// Run drives every gate of the requested tier for one revision until the
// ledger reaches a verdict. A second Run for the same change set and
// revision returns ErrRunInProgress; a Run for a newer revision cancels
// the older one with ErrSuperseded and waits for it to drain.
//
// A canceled run returns its receipt together with the cancel cause.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*Receipt, error) {
	if err := req.Key.Validate(); err != nil {
		return nil, err
	}
	if req.Revision == "" {
		return nil, errors.New("revision is required")
	}
	cs := logging.ChangeSet{Repository: req.Key.Repository, ID: req.Key.ChangeSet, Revision: req.Revision}
	if err := cs.Validate(); err != nil {
		return nil, fmt.Errorf("invalid change set: %w", err)
	}
	tier := req.Tier
	if tier == "" {
		tier = o.cfg.DefaultTier
	}
	reg, err := o.Registry().ForTier(tier)
	if err != nil {
		return nil, err
	}

	r := newRun(req, tier, o.now())
	ctx = logging.WithRunID(logging.WithChangeSet(ctx, cs), r.id)
	ctx, span := o.tracer.Start(ctx, "orchestrator.Run", trace.WithAttributes(
		attribute.String("changeset", req.Key.String()),
		attribute.String("revision", req.Revision),
		attribute.String("tier", string(tier)),
		attribute.String("run.id", r.id),
	))
	defer span.End()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	r.cancel = cancel

	l, err := o.attach(runCtx, specsFor(reg), r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer o.detach(r)
	ActiveRuns.Inc()
	defer ActiveRuns.Dec()

	if o.workspace != nil {
		dir, err := o.workspace.Prepare(runCtx, req.Key, req.Revision, r.ref)
		if err != nil {
			return o.abort(ctx, runCtx, r, l, NewReviewError("prepare workspace", SeverityCritical, err, req.Key.String()))
		}
		r.workdir = dir
	}

	o.logger.Info(ctx, "review run started", zap.String("tier", string(tier)), zap.Int("gates", reg.Len()))

	rt := router.New(reg, o.tracker, promotion.New(reg))
	blocks, err := o.schedule(runCtx, r, l, reg, rt)
	if err == nil && runCtx.Err() != nil {
		err = runCtx.Err()
	}
	if err != nil {
		return o.abort(ctx, runCtx, r, l, err)
	}

	d := finalDecision(l.Snapshot(), rt, blocks)
	if err := withRefresh(ctx, l, func() error { return l.SetDecision(ctx, d.ToLedger()) }); err != nil {
		return o.abort(ctx, runCtx, r, l, NewReviewError("record decision", SeverityCritical, err, req.Key.String()))
	}

	snap := l.Snapshot()
	o.publish(ctx, r, snap, d)

	rc := buildReceipt(r, snap)
	rc.Status = StatusBlocked
	if d.Kind == router.KindPromote {
		rc.Status = StatusReady
	}
	rc.Reasons = d.Reasons
	o.finishReceipt(rc)
	o.compare(ctx, rc)
	Verdicts.WithLabelValues(string(d.Kind)).Inc()

	span.SetAttributes(attribute.String("verdict", string(d.Kind)))
	o.logger.Info(ctx, "review run finished",
		zap.String("status", rc.Status),
		zap.Strings("reasons", rc.Reasons),
		zap.Duration("duration", rc.Duration),
	)
	o.notify(Progress{RunID: r.id, Key: r.key, Event: "verdict", Message: fmt.Sprintf("%s: %s", rc.Status, d.ToLedger().Why)})
	return rc, nil
}

// abort ends a run that could not reach a verdict. Cancellation yields a
// canceled receipt and the cancel cause; other errors are critical.
func (o *Orchestrator) abort(ctx, runCtx context.Context, r *run, l *ledger.Ledger, err error) (*Receipt, error) {
	span := trace.SpanFromContext(ctx)
	rc := buildReceipt(r, l.Snapshot())
	rc.Status = StatusCanceled
	o.finishReceipt(rc)

	if cause := context.Cause(runCtx); cause != nil {
		err = cause
	} else if errors.Is(err, ledger.ErrLedgerArchived) {
		err = ErrClosed
	}
	var re *ReviewError
	if !errors.As(err, &re) && !isCancel(err) {
		err = NewReviewError("drive gates", SeverityCritical, err, r.key.String())
	}

	Verdicts.WithLabelValues(StatusCanceled).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	o.logger.Warn(ctx, "review run stopped", zap.Error(err), zap.Duration("duration", rc.Duration))
	o.notify(Progress{RunID: r.id, Key: r.key, Event: "canceled", Message: err.Error()})
	return rc, err
}

// compare diffs rc against the previous verdict of another revision of
// the same change set and reports regressions.
func (o *Orchestrator) compare(ctx context.Context, rc *Receipt) {
	o.mu.Lock()
	prev := o.verdicts[rc.Key.String()]
	o.verdicts[rc.Key.String()] = rc
	o.mu.Unlock()
	if prev == nil || prev.Revision == rc.Revision {
		return
	}

	d := DiffReceipts(prev, rc)
	rc.Diff = &d
	if !d.Regression {
		return
	}
	regressed := d.Regressions()
	for _, name := range regressed {
		Regressions.WithLabelValues(name).Inc()
	}
	o.logger.Warn(ctx, "gates regressed since previous revision",
		zap.String("baseline_revision", d.BaselineRevision),
		zap.Strings("gates", regressed),
	)
	o.notify(Progress{RunID: rc.RunID, Key: rc.Key, Event: "regression",
		Message: fmt.Sprintf("regressed since %s: %s", d.BaselineRevision, strings.Join(regressed, ", "))})
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrSuperseded) || errors.Is(err, ErrClosed)
}

func (o *Orchestrator) finishReceipt(rc *Receipt) {
	rc.FinishedAt = o.now()
	rc.Duration = rc.FinishedAt.Sub(rc.StartedAt)
	RunDuration.Observe(rc.Duration.Seconds())
}

// attach registers r as the active run of its change set and opens the
// ledger at r's revision.
func (o *Orchestrator) attach(ctx context.Context, specs []ledger.GateSpec, r *run) (*ledger.Ledger, error) {
	k := r.key.String()
	for {
		o.mu.Lock()
		s, ok := o.sessions[k]
		if !ok {
			o.sessions[k] = &session{run: r}
			o.mu.Unlock()
			break
		}
		if s.run.revision == r.revision && s.run.tier == r.tier {
			o.mu.Unlock()
			return nil, ErrRunInProgress
		}
		s.run.cancel(ErrSuperseded)
		done := s.run.done
		o.mu.Unlock()

		o.logger.Info(ctx, "superseding active run", zap.String("previous_revision", s.run.revision))
		select {
		case <-done:
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		}
	}

	l, err := ledger.Open(ctx, o.store, r.key, r.revision, specs, o.ledgerOpts...)
	if err == nil && l.Archived() {
		err = ledger.ErrLedgerArchived
	}
	o.mu.Lock()
	if err != nil {
		delete(o.sessions, k)
		o.mu.Unlock()
		close(r.done)
		return nil, err
	}
	o.sessions[k].l = l
	o.mu.Unlock()
	return l, nil
}

func (o *Orchestrator) detach(r *run) {
	o.mu.Lock()
	if s, ok := o.sessions[r.key.String()]; ok && s.run == r {
		delete(o.sessions, r.key.String())
	}
	o.mu.Unlock()
	close(r.done)
}

// schedule drives runnable gates concurrently, at most MaxParallel at a
// time, until nothing more can start. Each gate is driven at most once per
// run; retries and escalations happen inside driveGate. It returns the
// block decisions of required gates.
func (o *Orchestrator) schedule(ctx context.Context, r *run, l *ledger.Ledger, reg *gate.Registry, rt *router.Router) ([]router.Decision, error) {
	var blocks []router.Decision
	parked := make(map[string]bool)

	// Failed gates from an earlier run get their remaining retry or
	// escalation before anything else starts.
	for _, g := range l.Snapshot().Gates {
		if g.Status != ledger.StatusFail {
			continue
		}
		d := rt.Decide(l.Snapshot(), &router.Outcome{Gate: g.Name, Status: ledger.StatusFail})
		blk, err := o.route(ctx, r, l, g.Name, d)
		if err != nil {
			return nil, err
		}
		if blk != nil {
			parked[g.Name] = true
			if reg.IsRequired(g.Name) {
				blocks = append(blocks, *blk)
			}
		}
	}

	type result struct {
		gate  string
		block *router.Decision
	}
	eg, egCtx := errgroup.WithContext(ctx)
	done := make(chan result, reg.Len())
	launched := make(map[string]bool)
	inflight := 0
	stopped := false

	launch := func() {
		if stopped {
			return
		}
		for _, name := range rt.Runnable(l.Snapshot()) {
			if inflight >= o.cfg.MaxParallel {
				return
			}
			if launched[name] || parked[name] {
				continue
			}
			launched[name] = true
			inflight++
			name := name
			eg.Go(func() error {
				blk, err := o.driveGate(egCtx, r, l, rt, reg, name)
				if err != nil {
					return err
				}
				done <- result{gate: name, block: blk}
				return nil
			})
		}
	}

	launch()
	for inflight > 0 {
		select {
		case res := <-done:
			inflight--
			if res.block != nil && reg.IsRequired(res.gate) {
				blocks = append(blocks, *res.block)
				if o.cfg.FailFast {
					stopped = true
				}
			}
			launch()
		case <-egCtx.Done():
			return nil, eg.Wait()
		}
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return blocks, nil
}

// driveGate runs one gate until it settles, parks or is blocked. Failures
// are routed through the retry budget and escalation before returning.
func (o *Orchestrator) driveGate(ctx context.Context, r *run, l *ledger.Ledger, rt *router.Router, reg *gate.Registry, name string) (*router.Decision, error) {
	def, err := reg.Get(name)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithGate(ctx, name)
	ctx, span := o.tracer.Start(ctx, "orchestrator.driveGate", trace.WithAttributes(attribute.String("gate", name)))
	defer span.End()

	for stale := 0; ; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		snap := l.Snapshot()
		g, ok := snap.Gate(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ledger.ErrUnknownGate, name)
		}
		if g.Status != ledger.StatusPending {
			return nil, nil
		}

		if def.Quarantined() && !g.AwaitingSpecialist {
			return nil, o.skipQuarantined(ctx, r, l, snap.Revision, def)
		}

		err := withRefresh(ctx, l, func() error { return l.Begin(ctx, name, ledger.StatusPending) })
		if errors.Is(err, ledger.ErrStaleWrite) {
			if stale++; stale > staleRetries {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		specialist := ""
		if g.AwaitingSpecialist {
			specialist = g.Specialist
		}
		out, err := o.dispatcher.Invoke(ctx, dispatch.Call{
			Key:           r.key,
			Revision:      snap.Revision,
			Ref:           r.ref,
			Gate:          name,
			Specialist:    specialist,
			Attempt:       g.Attempts + 1,
			PriorEvidence: g.Evidence,
			Workdir:       r.workdir,
		})
		if err != nil {
			o.release(ctx, l, name, "canceled: "+err.Error())
			return nil, err
		}
		r.addDuration(name, out.Duration)

		if out.Unavailable {
			blk, err := o.unavailable(ctx, r, l, rt, def, specialist, snap.Revision, out)
			if blk != nil || err != nil {
				return blk, err
			}
			continue
		}

		opts := []ledger.ResultOption{ledger.WithActor(out.Worker)}
		if len(out.Quarantines) > 0 {
			opts = append(opts, ledger.WithQuarantines(out.Quarantines...))
		}
		if specialist != "" {
			opts = append(opts, ledger.ViaSpecialist(specialist))
		}
		var updated ledger.Gate
		err = withRefresh(ctx, l, func() error {
			var err error
			updated, err = l.RecordResult(ctx, name, ledger.StatusRunning, out.Status, out.Evidence, opts...)
			return err
		})
		if errors.Is(err, ledger.ErrStaleWrite) {
			// Another writer moved the gate; its result stands.
			o.logger.Warn(ctx, "result discarded, gate moved underneath", zap.String("status", string(out.Status)))
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		GateResults.WithLabelValues(name, string(out.Status)).Inc()
		o.notify(Progress{RunID: r.id, Key: r.key, Gate: name, Event: "result", Status: out.Status, Message: updated.Evidence})

		if out.Status != ledger.StatusFail {
			o.emit(ctx, r, snap.Revision, updated)
			return nil, nil
		}
		// A failure is only signaled once no retry or escalation reopens it.
		d := rt.Decide(l.Snapshot(), &router.Outcome{Gate: name, Status: ledger.StatusFail})
		blk, err := o.route(ctx, r, l, name, d)
		if blk != nil {
			o.emit(ctx, r, snap.Revision, updated)
		}
		if blk != nil || err != nil {
			return blk, err
		}
	}
}

// unavailable handles a worker that could not run. Optional gates are
// skipped without consuming an attempt. Required gates go back to
// pending and are escalated or blocked.
func (o *Orchestrator) unavailable(ctx context.Context, r *run, l *ledger.Ledger, rt *router.Router, def gate.Definition, specialist, revision string, out dispatch.Outcome) (*router.Decision, error) {
	o.logger.Warn(ctx, "worker unavailable", zap.String("reason", out.Reason), zap.Bool("required", def.Required))

	if !def.Required {
		opts := []ledger.ResultOption{ledger.WithoutAttempt(), ledger.WithActor(out.Worker)}
		if specialist != "" {
			opts = append(opts, ledger.ViaSpecialist(specialist))
		}
		var updated ledger.Gate
		err := withRefresh(ctx, l, func() error {
			var err error
			updated, err = l.RecordResult(ctx, def.Name, ledger.StatusRunning, ledger.StatusSkipped, out.Evidence, opts...)
			return err
		})
		if errors.Is(err, ledger.ErrStaleWrite) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		GateResults.WithLabelValues(def.Name, string(ledger.StatusSkipped)).Inc()
		o.emit(ctx, r, revision, updated)
		o.notify(Progress{RunID: r.id, Key: r.key, Gate: def.Name, Event: "result", Status: ledger.StatusSkipped, Message: updated.Evidence})
		return nil, nil
	}

	if err := withRefresh(ctx, l, func() error { return l.Release(ctx, def.Name, out.Evidence) }); err != nil {
		return nil, err
	}
	d := rt.Decide(l.Snapshot(), &router.Outcome{Gate: def.Name, Unavailable: true, Reason: out.Reason})
	blk, err := o.route(ctx, r, l, def.Name, d)
	if err != nil {
		return nil, err
	}
	if blk == nil && d.Kind != router.KindEscalate {
		// Nothing reopened the gate; park it rather than spin.
		b := router.Decision{Kind: router.KindBlock, Reasons: []string{fmt.Sprintf("%s: unavailable: %s", def.Name, out.Reason)}}
		return &b, nil
	}
	return blk, nil
}

// route applies a decision taken after a gate reported. Invoke-retry and
// escalate reopen the gate and return nil so driveGate loops; block is
// returned to the scheduler.
func (o *Orchestrator) route(ctx context.Context, r *run, l *ledger.Ledger, name string, d router.Decision) (*router.Decision, error) {
	switch {
	case d.Kind == router.KindInvoke && d.Retry && d.Gate == name:
		if err := withRefresh(ctx, l, func() error { return l.Retry(ctx, name, o.tracker) }); err != nil {
			return nil, err
		}
		Retries.WithLabelValues(name).Inc()
		o.notify(Progress{RunID: r.id, Key: r.key, Gate: name, Event: "retry", Message: d.Reasons[0]})

	case d.Kind == router.KindEscalate && d.Gate == name:
		if err := withRefresh(ctx, l, func() error { return l.Escalate(ctx, name, d.Specialist) }); err != nil {
			return nil, err
		}
		Escalations.WithLabelValues(name, d.Specialist).Inc()
		o.logger.Info(ctx, "gate escalated", zap.String("specialist", d.Specialist), zap.Strings("reasons", d.Reasons))
		o.notify(Progress{RunID: r.id, Key: r.key, Gate: name, Event: "escalate", Message: d.Specialist})

	case d.Kind == router.KindBlock:
		o.logger.Info(ctx, "gate blocked", zap.Strings("reasons", d.Reasons))
		o.notify(Progress{RunID: r.id, Key: r.key, Gate: name, Event: "block", Message: d.ToLedger().Why})
		return &d, nil

	default:
		return nil, nil
	}

	if err := withRefresh(ctx, l, func() error { return l.SetDecision(ctx, d.ToLedger()) }); err != nil {
		return nil, err
	}
	return nil, nil
}

// skipQuarantined records a policy-quarantined gate as skipped without
// running its worker.
func (o *Orchestrator) skipQuarantined(ctx context.Context, r *run, l *ledger.Ledger, revision string, def gate.Definition) error {
	q := ledger.Quarantine{Gate: def.Name, Reason: def.Quarantine.Reason, Reference: def.Quarantine.Reference}
	var updated ledger.Gate
	err := withRefresh(ctx, l, func() error {
		var err error
		updated, err = l.RecordResult(ctx, def.Name, ledger.StatusPending, ledger.StatusSkipped,
			"quarantined: "+def.Quarantine.Reason,
			ledger.WithoutAttempt(), ledger.WithQuarantines(q), ledger.WithActor("policy"))
		return err
	})
	if errors.Is(err, ledger.ErrStaleWrite) {
		return nil
	}
	if err != nil {
		return err
	}
	GateResults.WithLabelValues(def.Name, string(ledger.StatusSkipped)).Inc()
	o.emit(ctx, r, revision, updated)
	o.notify(Progress{RunID: r.id, Key: r.key, Gate: def.Name, Event: "result", Status: ledger.StatusSkipped, Message: updated.Evidence})
	return nil
}

func (o *Orchestrator) emit(ctx context.Context, r *run, revision string, g ledger.Gate) {
	if o.emitter == nil {
		return
	}
	if _, _, err := o.emitter.Emit(ctx, r.key, revision, g); err != nil {
		re := NewReviewError("emit check", SeverityHigh, err, g.Name)
		r.addError(re)
		o.logger.Warn(ctx, "emitting check failed", zap.Error(re))
	}
}

// publish mirrors the verdict onto the platform. Failures are recorded
// on the run and never change the verdict.
func (o *Orchestrator) publish(ctx context.Context, r *run, snap ledger.Snapshot, d router.Decision) {
	if o.reporter == nil {
		return
	}
	fail := func(op string, err error) {
		re := NewReviewError(op, SeverityHigh, err, r.key.String())
		r.addError(re)
		o.logger.Warn(ctx, "platform update failed", zap.Error(re))
	}
	if _, err := o.reporter.UpsertStatus(ctx, snap); err != nil {
		fail("update status comment", err)
	}
	if err := o.reporter.PostProgress(ctx, r.key, platform.RenderProgress(snap, r.id)); err != nil {
		fail("post progress", err)
	}
	if err := o.reporter.SetVerdictLabels(ctx, r.key, d.Kind == router.KindPromote); err != nil {
		fail("set labels", err)
	}
}

// release returns a running gate to pending after its worker was
// abandoned. The run's context may already be canceled.
func (o *Orchestrator) release(ctx context.Context, l *ledger.Ledger, name, reason string) {
	ctx = context.WithoutCancel(ctx)
	err := l.Release(ctx, name, reason)
	if err != nil && !errors.Is(err, ledger.ErrLedgerArchived) && !errors.Is(err, ledger.ErrStaleWrite) {
		o.logger.Warn(ctx, "releasing gate failed", zap.Error(err))
	}
}

// withRefresh runs op, reloading the ledger and reissuing while the store
// reports a concurrent write.
func withRefresh(ctx context.Context, l *ledger.Ledger, op func() error) error {
	var err error
	for i := 0; i < staleRetries; i++ {
		if err = op(); !errors.Is(err, ledger.ErrStaleWrite) {
			return err
		}
		if rerr := l.Refresh(ctx); rerr != nil {
			return errors.Join(err, rerr)
		}
	}
	return err
}

// finalDecision folds the router's end-of-run decision with the blocks
// collected while driving gates. Anything but a clean promote is a block.
func finalDecision(snap ledger.Snapshot, rt *router.Router, blocks []router.Decision) router.Decision {
	d := rt.Decide(snap, nil)
	if len(blocks) == 0 && (d.Kind == router.KindPromote || d.Kind == router.KindBlock) {
		return d
	}
	var reasons []string
	for _, b := range blocks {
		reasons = append(reasons, b.Reasons...)
	}
	switch d.Kind {
	case router.KindBlock:
		reasons = append(reasons, d.Reasons...)
	case router.KindInvoke:
		reasons = append(reasons, router.NoRoute, fmt.Sprintf("%s: not run", d.Gate))
	case router.KindEscalate:
		reasons = append(reasons, router.NoRoute, fmt.Sprintf("%s: escalation to %s not run", d.Gate, d.Specialist))
	}
	return router.Decision{Kind: router.KindBlock, Reasons: dedupe(reasons)}
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// hopLogger traces every hop.
type hopLogger struct {
	logger *logging.Logger
}

func (h hopLogger) ObserveHop(ctx context.Context, key ledger.Key, hop ledger.HopEntry) {
	h.logger.Trace(ctx, "hop",
		zap.String("changeset", key.String()),
		zap.Uint64("seq", hop.Seq),
		zap.String("kind", string(hop.Kind)),
		zap.String("summary", hop.Summary),
	)
}
