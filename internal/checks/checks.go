// Package checks projects terminal gate states into check signals on the
// hosting platform. Signals are derived from the ledger and never read
// back as state.
package checks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reviewd/internal/ledger"
	"github.com/fyrsmithlabs/reviewd/internal/logging"
)

// ErrNotTerminal is returned when emitting a gate that has no result yet.
var ErrNotTerminal = errors.New("gate is not terminal")

// DefaultScope prefixes check names.
const DefaultScope = "reviewd"

// Conclusion is the platform-facing outcome of a check.
type Conclusion string

const (
	ConclusionSuccess Conclusion = "success"
	ConclusionFailure Conclusion = "failure"
	ConclusionNeutral Conclusion = "neutral"
)

// ConclusionFor maps a terminal gate status to a conclusion.
func ConclusionFor(s ledger.Status) (Conclusion, error) {
	switch s {
	case ledger.StatusPass:
		return ConclusionSuccess, nil
	case ledger.StatusFail:
		return ConclusionFailure, nil
	case ledger.StatusSkipped:
		return ConclusionNeutral, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotTerminal, s)
}

// Signal is one check on one revision.
type Signal struct {
	Name       string     `json:"name"`
	Gate       string     `json:"gate"`
	Conclusion Conclusion `json:"conclusion"`
	Summary    string     `json:"summary"`
	Revision   string     `json:"revision"`
	Required   bool       `json:"required"`
	Attempts   int        `json:"attempts"`
}

// Name formats "<scope>:gate:<gate>".
func Name(scope, gate string) string {
	return scope + ":gate:" + gate
}

// Publisher delivers signals to a platform or bus.
type Publisher interface {
	PublishCheck(ctx context.Context, key ledger.Key, sig Signal) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, key ledger.Key, sig Signal) error

func (f PublisherFunc) PublishCheck(ctx context.Context, key ledger.Key, sig Signal) error {
	return f(ctx, key, sig)
}

// Deduper remembers signals already delivered so replays and replicas do
// not post twice. Claim reports true the first time it sees id.
type Deduper interface {
	Claim(ctx context.Context, id string) (bool, error)
}

// Emitter builds and publishes check signals.
type Emitter struct {
	scope      string
	publishers []Publisher
	deduper    Deduper
	logger     *logging.Logger
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithDeduper replaces the default in-memory deduper.
func WithDeduper(d Deduper) Option {
	return func(e *Emitter) { e.deduper = d }
}

// WithLogger sets the emitter logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Emitter) { e.logger = l }
}

// NewEmitter creates an Emitter for scope.
func NewEmitter(scope string, publishers []Publisher, opts ...Option) *Emitter {
	if scope == "" {
		scope = DefaultScope
	}
	e := &Emitter{
		scope:      scope,
		publishers: publishers,
		deduper:    NewMemoryDeduper(),
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Scope returns the check name prefix.
func (e *Emitter) Scope() string {
	return e.scope
}

// Signal builds the signal for a terminal gate.
func (e *Emitter) Signal(revision string, g ledger.Gate) (Signal, error) {
	c, err := ConclusionFor(g.Status)
	if err != nil {
		return Signal{}, fmt.Errorf("%s: %w", g.Name, err)
	}
	summary := g.Evidence
	if summary == "" {
		summary = string(g.Status)
	}
	return Signal{
		Name:       Name(e.scope, g.Name),
		Gate:       g.Name,
		Conclusion: c,
		Summary:    summary,
		Revision:   revision,
		Required:   g.Required,
		Attempts:   g.Attempts,
	}, nil
}

// Emit publishes the signal for a settled gate once per gate per
// revision; later calls for the same gate and revision publish nothing.
// It reports whether anything was published. Publisher failures are
// joined and returned after every publisher has been tried.
func (e *Emitter) Emit(ctx context.Context, key ledger.Key, revision string, g ledger.Gate) (Signal, bool, error) {
	sig, err := e.Signal(revision, g)
	if err != nil {
		return Signal{}, false, err
	}

	id := fmt.Sprintf("%s|%s@%s|%s", e.scope, key, revision, g.Name)
	first, err := e.deduper.Claim(ctx, id)
	if err != nil {
		e.logger.Warn(ctx, "check dedup unavailable, publishing anyway", zap.Error(err))
		first = true
	}
	if !first {
		return sig, false, nil
	}

	var errs []error
	for _, p := range e.publishers {
		if err := p.PublishCheck(ctx, key, sig); err != nil {
			errs = append(errs, err)
		}
	}
	EmittedTotal.WithLabelValues(string(sig.Conclusion)).Inc()
	e.logger.Debug(ctx, "check emitted",
		zap.String("check", sig.Name),
		zap.String("conclusion", string(sig.Conclusion)),
	)
	return sig, true, errors.Join(errs...)
}

// Derive projects every terminal gate of a snapshot into a signal, in
// ledger order.
func Derive(scope string, snap ledger.Snapshot) []Signal {
	e := &Emitter{scope: scope}
	if e.scope == "" {
		e.scope = DefaultScope
	}
	out := make([]Signal, 0, len(snap.Gates))
	for _, g := range snap.Gates {
		sig, err := e.Signal(snap.Revision, g)
		if err != nil {
			continue
		}
		out = append(out, sig)
	}
	return out
}
