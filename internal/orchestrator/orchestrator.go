package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reviewd/internal/budget"
	"github.com/fyrsmithlabs/reviewd/internal/checks"
	"github.com/fyrsmithlabs/reviewd/internal/dispatch"
	"github.com/fyrsmithlabs/reviewd/internal/gate"
	"github.com/fyrsmithlabs/reviewd/internal/ledger"
	"github.com/fyrsmithlabs/reviewd/internal/logging"
)

// Config tunes runs.
type Config struct {
	// MaxParallel bounds concurrently driven gates per run.
	MaxParallel int
	// FailFast stops starting gates once a required gate is blocked.
	FailFast bool
	// DefaultTier applies when a request names no tier.
	DefaultTier gate.Tier
}

// DefaultConfig returns the defaults used by New.
func DefaultConfig() Config {
	return Config{MaxParallel: 4, DefaultTier: gate.TierPRFast}
}

// Reporter mirrors run outcomes onto the hosting platform.
type Reporter interface {
	UpsertStatus(ctx context.Context, snap ledger.Snapshot) (string, error)
	PostProgress(ctx context.Context, key ledger.Key, note string) error
	SetVerdictLabels(ctx context.Context, key ledger.Key, ready bool) error
}

// Progress reports one step of a run.
type Progress struct {
	RunID   string        `json:"run_id"`
	Key     ledger.Key    `json:"key"`
	Gate    string        `json:"gate,omitempty"`
	Event   string        `json:"event"`
	Status  ledger.Status `json:"status,omitempty"`
	Message string        `json:"message"`
}

// ProgressCallback receives progress updates during runs.
type ProgressCallback func(p Progress)

// RunRequest starts a run.
type RunRequest struct {
	Key      ledger.Key
	Revision string
	// Ref is handed to workers; the revision is used when empty.
	Ref  string
	Tier gate.Tier
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig replaces DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) {
		if cfg.MaxParallel > 0 {
			o.cfg.MaxParallel = cfg.MaxParallel
		}
		if cfg.DefaultTier != "" {
			o.cfg.DefaultTier = cfg.DefaultTier
		}
		o.cfg.FailFast = cfg.FailFast
	}
}

// WithEmitter posts a check for every recorded result.
func WithEmitter(e *checks.Emitter) Option {
	return func(o *Orchestrator) { o.emitter = e }
}

// WithReporter updates the status comment, progress notes and labels at
// the end of each run.
func WithReporter(r Reporter) Option {
	return func(o *Orchestrator) { o.reporter = r }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithLedgerOptions passes options to every ledger the orchestrator opens.
func WithLedgerOptions(opts ...ledger.Option) Option {
	return func(o *Orchestrator) { o.ledgerOpts = append(o.ledgerOpts, opts...) }
}

// Workspace provides a checkout of the revision under review.
type Workspace interface {
	Prepare(ctx context.Context, key ledger.Key, revision, ref string) (string, error)
	Release(key ledger.Key) error
}

// WithWorkspace checks out each run's revision before gates are driven
// and removes the checkout when the change set closes.
func WithWorkspace(w Workspace) Option {
	return func(o *Orchestrator) { o.workspace = w }
}

// Orchestrator runs reviews for many change sets.
type Orchestrator struct {
	registry   *gate.Registry
	store      ledger.Store
	dispatcher *dispatch.Dispatcher
	tracker    *budget.Tracker
	emitter    *checks.Emitter
	reporter   Reporter
	workspace  Workspace
	logger     *logging.Logger
	tracer     trace.Tracer
	ledgerOpts []ledger.Option
	cfg        Config
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	// verdicts holds the last ready/blocked receipt per change set.
	verdicts map[string]*Receipt
	progress ProgressCallback
	bg       sync.WaitGroup
}

// session is the live ledger and run of one change set.
type session struct {
	l   *ledger.Ledger
	run *run
}

// New creates an Orchestrator.
func New(registry *gate.Registry, store ledger.Store, dispatcher *dispatch.Dispatcher, opts ...Option) (*Orchestrator, error) {
	if registry == nil || store == nil || dispatcher == nil {
		return nil, errors.New("orchestrator: registry, store and dispatcher are required")
	}
	o := &Orchestrator{
		registry:   registry,
		store:      store,
		dispatcher: dispatcher,
		tracker:    budget.New(),
		logger:     logging.NewNop(),
		tracer:     otel.Tracer(instrumentationName),
		cfg:        DefaultConfig(),
		now:        time.Now,
		sessions:   make(map[string]*session),
		verdicts:   make(map[string]*Receipt),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.ledgerOpts = append(o.ledgerOpts, ledger.WithObserver(hopLogger{logger: o.logger}))
	return o, nil
}

// OnProgress sets the progress callback.
func (o *Orchestrator) OnProgress(callback ProgressCallback) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress = callback
}

func (o *Orchestrator) notify(p Progress) {
	o.mu.Lock()
	cb := o.progress
	o.mu.Unlock()
	if cb != nil {
		cb(p)
	}
}

// Registry returns the full gate registry.
func (o *Orchestrator) Registry() *gate.Registry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.registry
}

// SetRegistry replaces the gate registry. Runs already in flight keep
// the registry they started with.
func (o *Orchestrator) SetRegistry(reg *gate.Registry) {
	if reg == nil {
		return
	}
	o.mu.Lock()
	o.registry = reg
	o.mu.Unlock()
}

// Scope returns the check name prefix.
func (o *Orchestrator) Scope() string {
	if o.emitter == nil {
		return checks.DefaultScope
	}
	return o.emitter.Scope()
}

func (o *Orchestrator) liveLedger(key ledger.Key) *ledger.Ledger {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.sessions[key.String()]; ok {
		return s.l
	}
	return nil
}

func (o *Orchestrator) load(ctx context.Context, key ledger.Key) (*ledger.Ledger, error) {
	if l := o.liveLedger(key); l != nil {
		return l, nil
	}
	return ledger.Load(ctx, o.store, key, o.ledgerOpts...)
}

// Snapshot returns the current ledger state of a change set.
func (o *Orchestrator) Snapshot(ctx context.Context, key ledger.Key) (ledger.Snapshot, error) {
	l, err := o.load(ctx, key)
	if err != nil {
		return ledger.Snapshot{}, err
	}
	return l.Snapshot(), nil
}

// Hops returns the hop log of a change set.
func (o *Orchestrator) Hops(ctx context.Context, key ledger.Key) ([]ledger.HopEntry, error) {
	l, err := o.load(ctx, key)
	if err != nil {
		return nil, err
	}
	return l.Hops(), nil
}

// Checks derives the current check signals of a change set.
func (o *Orchestrator) Checks(ctx context.Context, key ledger.Key) ([]checks.Signal, error) {
	snap, err := o.Snapshot(ctx, key)
	if err != nil {
		return nil, err
	}
	return checks.Derive(o.Scope(), snap), nil
}

// List returns snapshots of the most recently updated change sets.
func (o *Orchestrator) List(ctx context.Context, limit int) ([]ledger.Snapshot, error) {
	keys, err := o.store.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Snapshot, 0, len(keys))
	for _, key := range keys {
		snap, err := o.Snapshot(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", key, err)
		}
		out = append(out, snap)
	}
	return out, nil
}

// Close cancels any active run of the change set, waits for it to drain
// and archives the ledger. Closing an archived ledger is a no-op.
func (o *Orchestrator) Close(ctx context.Context, key ledger.Key, reason string) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if reason == "" {
		reason = "closed"
	}

	o.mu.Lock()
	var done chan struct{}
	if s, ok := o.sessions[key.String()]; ok {
		s.run.cancel(ErrClosed)
		done = s.run.done
	}
	o.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	o.mu.Lock()
	delete(o.verdicts, key.String())
	o.mu.Unlock()

	l, err := ledger.Load(ctx, o.store, key, o.ledgerOpts...)
	if err != nil {
		return err
	}
	if l.Archived() {
		return nil
	}
	if err := l.Archive(ctx, reason); err != nil && !errors.Is(err, ledger.ErrLedgerArchived) {
		return err
	}
	if o.workspace != nil {
		if err := o.workspace.Release(key); err != nil {
			o.logger.Warn(ctx, "releasing workspace", zap.String("changeset", key.String()), zap.Error(err))
		}
	}
	o.logger.Info(ctx, "change set archived")
	return nil
}

// Active lists change sets with a run in flight.
func (o *Orchestrator) Active() []ledger.Key {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]ledger.Key, 0, len(o.sessions))
	for _, s := range o.sessions {
		out = append(out, s.run.key)
	}
	return out
}

// StartReview runs req in the background and returns once the request is
// validated. The outcome is logged and lands in the ledger.
func (o *Orchestrator) StartReview(ctx context.Context, req RunRequest) error {
	if err := req.Key.Validate(); err != nil {
		return err
	}
	if req.Revision == "" {
		return errors.New("revision is required")
	}
	ctx = context.WithoutCancel(ctx)
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		rc, err := o.Run(ctx, req)
		switch {
		case errors.Is(err, ErrRunInProgress):
			o.logger.Debug(ctx, "review already running", zap.String("changeset", req.Key.String()))
		case err != nil && !isCancel(err):
			o.logger.Error(ctx, "background review failed", zap.String("changeset", req.Key.String()), zap.Error(err))
		case rc != nil:
			o.logger.Debug(ctx, "background review done", zap.String("changeset", req.Key.String()), zap.String("status", rc.Status))
		}
	}()
	return nil
}

// CloseChangeSet is Close; it lets the orchestrator serve as a trigger.
func (o *Orchestrator) CloseChangeSet(ctx context.Context, key ledger.Key, reason string) error {
	return o.Close(ctx, key, reason)
}

// Wait blocks until background reviews started with StartReview finish
// or ctx ends.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels every active run and waits for background reviews.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	for _, s := range o.sessions {
		s.run.cancel(context.Canceled)
	}
	o.mu.Unlock()
	return o.Wait(ctx)
}
