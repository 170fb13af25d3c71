// Package dispatch invokes gate workers and escalation specialists.
//
// Workers are external: a command, a service or a test double behind the
// Worker interface. The Dispatcher adds timeouts, single-flight per
// (change set, revision, gate) and the mapping from worker errors to
// outcomes the router understands.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/reviewd/internal/ledger"
)

var (
	// ErrWorkerUnavailable means the worker could not run at all.
	ErrWorkerUnavailable = errors.New("worker unavailable")
	// ErrWorkerTimeout means the worker ran past its deadline.
	ErrWorkerTimeout = errors.New("worker timed out")
)

// Unavailable wraps a reason as ErrWorkerUnavailable.
func Unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrWorkerUnavailable, fmt.Sprintf(format, args...))
}

// Request is the worker input contract.
type Request struct {
	Gate          string `json:"gate_name"`
	ChangeSetRef  string `json:"changeset_ref"`
	Attempt       int    `json:"attempt_number"`
	PriorEvidence string `json:"prior_evidence,omitempty"`
	// Specialist is set when an escalation specialist handles the gate.
	Specialist string `json:"specialist,omitempty"`
	// Workdir is a checkout of the revision under review, when available.
	Workdir string `json:"workdir,omitempty"`
}

// Result is the worker output contract.
type Result struct {
	Status      ledger.Status       `json:"status"`
	Evidence    string              `json:"evidence"`
	FixApplied  bool                `json:"fix_applied"`
	SideEffects []string            `json:"side_effects,omitempty"`
	Quarantines []ledger.Quarantine `json:"quarantines,omitempty"`
}

// Worker runs one gate check or specialist.
type Worker interface {
	Run(ctx context.Context, req Request) (Result, error)
}

// WorkerFunc adapts a function to Worker.
type WorkerFunc func(ctx context.Context, req Request) (Result, error)

func (f WorkerFunc) Run(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// Table maps gates and specialists to workers.
type Table struct {
	mu          sync.RWMutex
	gates       map[string]Worker
	specialists map[string]Worker
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{gates: make(map[string]Worker), specialists: make(map[string]Worker)}
}

// RegisterGate binds a worker to a gate's worker name.
func (t *Table) RegisterGate(name string, w Worker) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gates[name] = w
}

// RegisterSpecialist binds a worker to a specialist name.
func (t *Table) RegisterSpecialist(name string, w Worker) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.specialists[name] = w
}

// Lookup returns the worker for a worker name, or the specialist when
// specialist is set.
func (t *Table) Lookup(worker, specialist string) (Worker, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if specialist != "" {
		w, ok := t.specialists[specialist]
		return w, ok
	}
	w, ok := t.gates[worker]
	return w, ok
}

// Names returns registered gate worker and specialist names.
func (t *Table) Names() (gates, specialists []string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for n := range t.gates {
		gates = append(gates, n)
	}
	for n := range t.specialists {
		specialists = append(specialists, n)
	}
	sort.Strings(gates)
	sort.Strings(specialists)
	return gates, specialists
}
