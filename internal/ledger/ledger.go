package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const defaultActor = "orchestrator"

// Observer is notified after each committed hop.
type Observer interface {
	ObserveHop(ctx context.Context, key Key, hop HopEntry)
}

// RetryPolicy authorizes fail -> pending transitions.
type RetryPolicy interface {
	MayRetry(g Gate) bool
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the hop timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithObserver registers an observer for committed hops.
func WithObserver(o Observer) Option {
	return func(l *Ledger) {
		if o != nil {
			l.observers = append(l.observers, o)
		}
	}
}

// Ledger is the evidence ledger of one change set. All writes serialize on
// a single append point; the store's status compare-and-swap guards
// against writers in other processes.
type Ledger struct {
	key       Key
	store     Store
	now       func() time.Time
	observers []Observer

	mu   sync.Mutex
	st   *state
	hops []HopEntry
}

func newLedger(key Key, store Store, opts []Option) *Ledger {
	l := &Ledger{key: key, store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load opens an existing ledger without changing it.
func Load(ctx context.Context, store Store, key Key, opts ...Option) (*Ledger, error) {
	rec, err := store.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	l := newLedger(key, store, opts)
	st, err := replayState(key, rec.Hops)
	if err != nil {
		return nil, err
	}
	l.st = st
	l.hops = rec.Hops
	return l, nil
}

// Open loads the ledger for key or creates it. When the stored revision
// or gate set differs, a new revision starts. Gates left running by a
// previous process are released.
func Open(ctx context.Context, store Store, key Key, revision string, specs []GateSpec, opts ...Option) (*Ledger, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := validateSpecs(specs); err != nil {
		return nil, err
	}

	l, err := Load(ctx, store, key, opts...)
	switch {
	case errors.Is(err, ErrNotFound):
		l, err = create(ctx, store, key, revision, specs, opts)
		if errors.Is(err, ErrAlreadyExists) {
			l, err = Load(ctx, store, key, opts...)
		}
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	if l.Archived() {
		return l, nil
	}
	if l.st.revision != revision || !l.sameSpecs(specs) {
		if err := l.StartRevision(ctx, revision, specs); err != nil {
			return nil, err
		}
		return l, nil
	}
	for _, g := range l.Snapshot().Gates {
		if g.Status == StatusRunning {
			if err := l.Release(ctx, g.Name, "interrupted: worker lost on restart"); err != nil && !errors.Is(err, ErrStaleWrite) {
				return nil, err
			}
		}
	}
	return l, nil
}

func create(ctx context.Context, store Store, key Key, revision string, specs []GateSpec, opts []Option) (*Ledger, error) {
	l := newLedger(key, store, opts)
	hop := HopEntry{
		Seq:       1,
		Timestamp: l.now().UTC(),
		Actor:     defaultActor,
		Kind:      HopCreated,
		Revision:  revision,
		Specs:     append([]GateSpec(nil), specs...),
		Summary:   fmt.Sprintf("ledger opened at revision %s with %d gates", shortRev(revision), len(specs)),
	}
	st := newState(key)
	if err := st.apply(hop); err != nil {
		return nil, err
	}
	rec := &Record{
		Key:       key,
		Revision:  revision,
		Gates:     st.orderedGates(),
		Hops:      []HopEntry{hop},
		CreatedAt: hop.Timestamp,
		UpdatedAt: hop.Timestamp,
	}
	if err := store.Create(ctx, rec); err != nil {
		return nil, err
	}
	l.st = st
	l.hops = []HopEntry{hop}
	l.notify(ctx, hop)
	return l, nil
}

func validateSpecs(specs []GateSpec) error {
	if len(specs) == 0 {
		return errors.New("ledger needs at least one gate")
	}
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if s.Name == "" {
			return errors.New("gate spec without name")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate gate spec %q", s.Name)
		}
		if s.MaxAttempts < 0 {
			return fmt.Errorf("gate %q: negative max attempts", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

func (l *Ledger) sameSpecs(specs []GateSpec) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(specs) != len(l.st.order) {
		return false
	}
	for i, s := range specs {
		g := l.st.gates[l.st.order[i]]
		if g.Name != s.Name || g.Required != s.Required || g.MaxAttempts != s.MaxAttempts {
			return false
		}
	}
	return true
}

// Refresh reloads the hop log from the store, picking up writes made
// through other Ledger values or processes. Callers use it after
// ErrStaleWrite.
func (l *Ledger) Refresh(ctx context.Context) error {
	rec, err := l.store.Load(ctx, l.key)
	if err != nil {
		return err
	}
	st, err := replayState(l.key, rec.Hops)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if st.seq < l.st.seq {
		return fmt.Errorf("%w: store at seq %d behind ledger at %d", ErrInvalidHop, st.seq, l.st.seq)
	}
	l.st = st
	l.hops = rec.Hops
	return nil
}

// Key returns the change set key.
func (l *Ledger) Key() Key {
	return l.key
}

// Archived reports whether the ledger is read-only.
func (l *Ledger) Archived() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.st.archived
}

// Snapshot returns a value copy of the current state.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.st.snapshot()
}

// Hops returns a copy of the hop log.
func (l *Ledger) Hops() []HopEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]HopEntry(nil), l.hops...)
}

// commitLocked stamps, applies and persists one hop. l.mu must be held.
func (l *Ledger) commitLocked(ctx context.Context, hop HopEntry) (HopEntry, error) {
	if l.st.archived {
		return HopEntry{}, ErrLedgerArchived
	}
	hop.Seq = l.st.seq + 1
	hop.Timestamp = l.now().UTC()
	if hop.Actor == "" {
		hop.Actor = defaultActor
	}

	next := l.st.clone()
	if err := next.apply(hop); err != nil {
		return HopEntry{}, err
	}

	c := Commit{Hop: hop}
	switch hop.Kind {
	case HopBegin, HopResult, HopRetry, HopEscalate, HopRelease:
		g := next.gates[hop.Gate].clone()
		c.Gate = &g
		c.Expected = hop.From
	case HopRevision:
		c.Gates = next.orderedGates()
		c.Revision = next.revision
		d := next.decision
		c.Decision = &d
	case HopDecision:
		d := next.decision
		c.Decision = &d
	case HopArchive:
		c.Archived = true
	}
	if err := l.store.Commit(ctx, l.key, c); err != nil {
		return HopEntry{}, fmt.Errorf("commit hop %d: %w", hop.Seq, err)
	}

	l.st = next
	l.hops = append(l.hops, hop)
	return hop, nil
}

func (l *Ledger) notify(ctx context.Context, hop HopEntry) {
	for _, o := range l.observers {
		o.ObserveHop(ctx, l.key, hop)
	}
}

// mutateGate builds and commits a hop for one gate. build sees a copy of
// the gate and returns the hop without Seq or Timestamp.
func (l *Ledger) mutateGate(ctx context.Context, name string, build func(g Gate) (HopEntry, error)) (Gate, error) {
	l.mu.Lock()
	if l.st.archived {
		l.mu.Unlock()
		return Gate{}, ErrLedgerArchived
	}
	g, ok := l.st.gates[name]
	if !ok {
		l.mu.Unlock()
		return Gate{}, fmt.Errorf("%w: %s", ErrUnknownGate, name)
	}
	hop, err := build(g.clone())
	if err != nil {
		l.mu.Unlock()
		return Gate{}, err
	}
	hop.Gate = name
	hop, err = l.commitLocked(ctx, hop)
	var after Gate
	if err == nil {
		after = l.st.gates[name].clone()
	}
	l.mu.Unlock()

	if err != nil {
		return Gate{}, err
	}
	l.notify(ctx, hop)
	return after, nil
}

func (l *Ledger) mutate(ctx context.Context, hop HopEntry) error {
	l.mu.Lock()
	hop, err := l.commitLocked(ctx, hop)
	l.mu.Unlock()
	if err != nil {
		return err
	}
	l.notify(ctx, hop)
	return nil
}

func staleErr(g Gate, expected Status) error {
	return fmt.Errorf("%w: gate %s is %s, expected %s", ErrStaleWrite, g.Name, g.Status, expected)
}

// Begin moves a pending gate to running.
func (l *Ledger) Begin(ctx context.Context, name string, expected Status) error {
	_, err := l.mutateGate(ctx, name, func(g Gate) (HopEntry, error) {
		if g.Status != expected || expected != StatusPending {
			return HopEntry{}, staleErr(g, expected)
		}
		who := fmt.Sprintf("attempt %d", g.Attempts+1)
		if g.AwaitingSpecialist {
			who = "specialist " + g.Specialist
		}
		return HopEntry{
			Kind:    HopBegin,
			From:    StatusPending,
			To:      StatusRunning,
			Summary: fmt.Sprintf("%s: pending -> running (%s)", g.Name, who),
		}, nil
	})
	return err
}

// ResultOption adjusts how RecordResult books a result.
type ResultOption func(*resultOptions)

type resultOptions struct {
	countsAttempt bool
	quarantines   []Quarantine
	actor         string
	specialist    string
}

// WithoutAttempt records a result without consuming an attempt, for
// results where the worker never ran.
func WithoutAttempt() ResultOption {
	return func(o *resultOptions) { o.countsAttempt = false }
}

// WithQuarantines attaches quarantine records to the gate.
func WithQuarantines(q ...Quarantine) ResultOption {
	return func(o *resultOptions) { o.quarantines = append(o.quarantines, q...) }
}

// WithActor names the worker that produced the result.
func WithActor(actor string) ResultOption {
	return func(o *resultOptions) { o.actor = actor }
}

// ViaSpecialist marks the result as produced by an escalation specialist.
// Specialist runs do not consume gate attempts.
func ViaSpecialist(name string) ResultOption {
	return func(o *resultOptions) {
		o.specialist = name
		o.countsAttempt = false
	}
}

// RecordResult books a worker result for a pending or running gate.
func (l *Ledger) RecordResult(ctx context.Context, name string, expected, status Status, evidence string, opts ...ResultOption) (Gate, error) {
	if !status.IsResult() {
		return Gate{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	o := resultOptions{countsAttempt: true}
	for _, opt := range opts {
		opt(&o)
	}
	for i := range o.quarantines {
		if o.quarantines[i].Gate == "" {
			o.quarantines[i].Gate = name
		}
	}
	evidence = normalizeEvidence(evidence)

	return l.mutateGate(ctx, name, func(g Gate) (HopEntry, error) {
		if g.Status != expected || (expected != StatusRunning && expected != StatusPending) {
			return HopEntry{}, staleErr(g, expected)
		}
		summary := fmt.Sprintf("%s: %s -> %s", g.Name, g.Status, status)
		switch {
		case o.specialist != "":
			summary += " (specialist " + o.specialist + ")"
		case o.countsAttempt:
			summary += fmt.Sprintf(" (attempt %d)", g.Attempts+1)
		default:
			summary += " (no attempt)"
		}
		if evidence != "" {
			summary += ": " + evidence
		}
		return HopEntry{
			Kind:          HopResult,
			Actor:         o.actor,
			From:          g.Status,
			To:            status,
			Evidence:      evidence,
			CountsAttempt: o.countsAttempt,
			Specialist:    o.specialist,
			Quarantines:   o.quarantines,
			Summary:       summary,
		}, nil
	})
}

// Retry reopens a failed gate when policy allows it.
func (l *Ledger) Retry(ctx context.Context, name string, policy RetryPolicy) error {
	_, err := l.mutateGate(ctx, name, func(g Gate) (HopEntry, error) {
		if g.Status != StatusFail {
			return HopEntry{}, staleErr(g, StatusFail)
		}
		if !policy.MayRetry(g) {
			return HopEntry{}, fmt.Errorf("%w: gate %s used %d of %d attempts", ErrRetryRefused, g.Name, g.Attempts, g.MaxAttempts+1)
		}
		return HopEntry{
			Kind:    HopRetry,
			From:    StatusFail,
			To:      StatusPending,
			Summary: fmt.Sprintf("%s: retry authorized (%d of %d attempts used)", g.Name, g.Attempts, g.MaxAttempts+1),
		}, nil
	})
	return err
}

// Escalate hands a failed or pending gate to a specialist. A gate is
// escalated at most once.
func (l *Ledger) Escalate(ctx context.Context, name, specialist string) error {
	if specialist == "" {
		return errors.New("escalate: specialist is required")
	}
	_, err := l.mutateGate(ctx, name, func(g Gate) (HopEntry, error) {
		if g.Escalated {
			return HopEntry{}, fmt.Errorf("%w: %s", ErrAlreadyEscalated, g.Name)
		}
		if g.Status != StatusFail && g.Status != StatusPending {
			return HopEntry{}, staleErr(g, StatusFail)
		}
		return HopEntry{
			Kind:       HopEscalate,
			From:       g.Status,
			To:         StatusPending,
			Specialist: specialist,
			Summary:    fmt.Sprintf("%s: escalated to %s", g.Name, specialist),
		}, nil
	})
	return err
}

// Release returns a running gate to pending without consuming an attempt.
func (l *Ledger) Release(ctx context.Context, name, reason string) error {
	reason = normalizeEvidence(reason)
	_, err := l.mutateGate(ctx, name, func(g Gate) (HopEntry, error) {
		if g.Status != StatusRunning {
			return HopEntry{}, staleErr(g, StatusRunning)
		}
		return HopEntry{
			Kind:     HopRelease,
			From:     StatusRunning,
			To:       StatusPending,
			Evidence: reason,
			Reason:   reason,
			Summary:  fmt.Sprintf("%s: released: %s", g.Name, reason),
		}, nil
	})
	return err
}

// StartRevision resets every gate to pending for a new revision.
func (l *Ledger) StartRevision(ctx context.Context, revision string, specs []GateSpec) error {
	if err := validateSpecs(specs); err != nil {
		return err
	}
	return l.mutate(ctx, HopEntry{
		Kind:     HopRevision,
		Revision: revision,
		Specs:    append([]GateSpec(nil), specs...),
		Summary:  fmt.Sprintf("new revision %s: %d gates reset to pending", shortRev(revision), len(specs)),
	})
}

// SetDecision replaces the decision. Each call appends a hop even when the
// decision is unchanged.
func (l *Ledger) SetDecision(ctx context.Context, d Decision) error {
	summary := "decision: " + string(d.State)
	if d.Next != "" {
		summary += " " + d.Next
	}
	if d.Why != "" {
		summary += " (" + d.Why + ")"
	}
	return l.mutate(ctx, HopEntry{Kind: HopDecision, Decision: &d, Summary: summary})
}

// Archive makes the ledger read-only.
func (l *Ledger) Archive(ctx context.Context, reason string) error {
	return l.mutate(ctx, HopEntry{Kind: HopArchive, Reason: reason, Summary: "archived: " + reason})
}

func shortRev(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
