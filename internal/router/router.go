// Package router decides what a review run does next. Decide is a pure
// function of a ledger snapshot and the most recent worker outcome.
package router

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/reviewd/internal/budget"
	"github.com/fyrsmithlabs/reviewd/internal/gate"
	"github.com/fyrsmithlabs/reviewd/internal/ledger"
	"github.com/fyrsmithlabs/reviewd/internal/promotion"
)

// Kind is the route taken.
type Kind string

const (
	KindInvoke   Kind = "invoke"
	KindEscalate Kind = "escalate"
	KindPromote  Kind = "promote"
	KindBlock    Kind = "block"
)

// NoRoute heads the reasons of a block that is not a verdict.
const NoRoute = "no route available"

// Outcome is the most recent worker result fed back into Decide.
type Outcome struct {
	Gate        string
	Status      ledger.Status
	Unavailable bool
	Reason      string
}

// Decision is a route. Block always carries at least one reason.
type Decision struct {
	Kind       Kind     `json:"kind"`
	Gate       string   `json:"gate,omitempty"`
	Specialist string   `json:"specialist,omitempty"`
	Reasons    []string `json:"reasons,omitempty"`
	// Retry marks an invoke that re-runs a failed gate.
	Retry bool `json:"retry,omitempty"`
}

// ToLedger folds the route into the ledger decision.
func (d Decision) ToLedger() ledger.Decision {
	out := ledger.Decision{Why: strings.Join(d.Reasons, "; ")}
	switch d.Kind {
	case KindInvoke:
		out.State = ledger.DecisionInvoke
		out.Next = d.Gate
	case KindEscalate:
		out.State = ledger.DecisionEscalate
		out.Next = d.Specialist + " on " + d.Gate
	case KindPromote:
		out.State = ledger.DecisionPromote
	case KindBlock:
		out.State = ledger.DecisionBlock
	}
	return out
}

// Router applies the routing rules over a registry.
type Router struct {
	registry  *gate.Registry
	budget    *budget.Tracker
	evaluator *promotion.Evaluator
}

// New returns a Router.
func New(registry *gate.Registry, tracker *budget.Tracker, evaluator *promotion.Evaluator) *Router {
	return &Router{registry: registry, budget: tracker, evaluator: evaluator}
}

// Decide returns the next route. last may be nil when no worker just
// reported, such as at the start or end of a run.
func (r *Router) Decide(snap ledger.Snapshot, last *Outcome) Decision {
	if last != nil {
		g, ok := snap.Gate(last.Gate)
		if !ok {
			return block(fmt.Sprintf("%s: not in ledger", last.Gate))
		}
		if last.Unavailable && g.Required {
			return r.onUnavailable(g, last.Reason)
		}
		if last.Status == ledger.StatusFail && g.Status == ledger.StatusFail {
			return r.onFail(g)
		}
	}
	return r.next(snap)
}

func (r *Router) onUnavailable(g ledger.Gate, reason string) Decision {
	why := fmt.Sprintf("%s: unavailable: %s", g.Name, reason)
	specialist := r.registry.SpecialistFor(g.Name)
	if specialist != "" && !g.Escalated {
		return Decision{Kind: KindEscalate, Gate: g.Name, Specialist: specialist, Reasons: []string{why}}
	}
	if specialist == "" {
		return block(why, fmt.Sprintf("%s: no specialist configured", g.Name))
	}
	return block(why, fmt.Sprintf("%s: already escalated to %s", g.Name, g.Specialist))
}

func (r *Router) onFail(g ledger.Gate) Decision {
	if r.budget.MayRetry(g) {
		return Decision{
			Kind:    KindInvoke,
			Gate:    g.Name,
			Retry:   true,
			Reasons: []string{fmt.Sprintf("retrying %s (%d retries left)", g.Name, r.budget.Remaining(g))},
		}
	}
	exhausted := fmt.Sprintf("%s: retry budget exhausted (%s)", g.Name, r.budget.Explain(g))
	if g.Evidence != "" {
		exhausted += ": " + g.Evidence
	}
	specialist := r.registry.SpecialistFor(g.Name)
	if specialist != "" && !g.Escalated {
		return Decision{Kind: KindEscalate, Gate: g.Name, Specialist: specialist, Reasons: []string{exhausted}}
	}
	if specialist == "" {
		return block(exhausted, fmt.Sprintf("%s: no specialist configured", g.Name))
	}
	return block(exhausted, fmt.Sprintf("%s: escalation to %s did not resolve it", g.Name, g.Specialist))
}

// next routes without a fresh outcome: pending retries and escalations
// first, then runnable gates, then the verdict.
func (r *Router) next(snap ledger.Snapshot) Decision {
	for _, g := range snap.Gates {
		if g.Status != ledger.StatusFail {
			continue
		}
		if r.budget.MayRetry(g) {
			return Decision{Kind: KindInvoke, Gate: g.Name, Retry: true,
				Reasons: []string{fmt.Sprintf("retrying %s", g.Name)}}
		}
		if s := r.registry.SpecialistFor(g.Name); s != "" && !g.Escalated {
			return Decision{Kind: KindEscalate, Gate: g.Name, Specialist: s,
				Reasons: []string{fmt.Sprintf("%s: retry budget exhausted (%s)", g.Name, r.budget.Explain(g))}}
		}
	}

	if runnable := r.Runnable(snap); len(runnable) > 0 {
		g, _ := snap.Gate(runnable[0])
		d := Decision{Kind: KindInvoke, Gate: g.Name}
		if g.AwaitingSpecialist {
			d.Specialist = g.Specialist
		}
		return d
	}

	if allSettled(snap) {
		v := r.evaluator.IsReady(snap)
		if v.Ready {
			return Decision{Kind: KindPromote}
		}
		return block(v.Reasons...)
	}

	reasons := []string{NoRoute}
	for _, g := range snap.Gates {
		switch g.Status {
		case ledger.StatusPass, ledger.StatusSkipped:
		case ledger.StatusPending:
			if waiting := r.unmet(snap, g.Name); len(waiting) > 0 {
				reasons = append(reasons, fmt.Sprintf("%s: waiting on %s", g.Name, strings.Join(waiting, ", ")))
			} else {
				reasons = append(reasons, fmt.Sprintf("%s: pending", g.Name))
			}
		case ledger.StatusFail:
			reasons = append(reasons, fmt.Sprintf("%s: failed: %s", g.Name, g.Evidence))
		default:
			reasons = append(reasons, fmt.Sprintf("%s: %s", g.Name, g.Status))
		}
	}
	return block(reasons...)
}

// Runnable lists pending gates whose prerequisites all passed or were
// skipped, in ledger order.
func (r *Router) Runnable(snap ledger.Snapshot) []string {
	var out []string
	for _, g := range snap.Gates {
		if g.Status == ledger.StatusPending && len(r.unmet(snap, g.Name)) == 0 {
			out = append(out, g.Name)
		}
	}
	return out
}

// unmet returns the prerequisites of name that have not passed or been
// skipped. Prerequisites outside the ledger are ignored.
func (r *Router) unmet(snap ledger.Snapshot, name string) []string {
	def, err := r.registry.Get(name)
	if err != nil {
		return nil
	}
	var out []string
	for _, p := range def.Prerequisites {
		pg, ok := snap.Gate(p)
		if !ok {
			continue
		}
		if pg.Status != ledger.StatusPass && pg.Status != ledger.StatusSkipped {
			out = append(out, p)
		}
	}
	return out
}

func allSettled(snap ledger.Snapshot) bool {
	for _, g := range snap.Gates {
		if !g.Status.Settled() {
			return false
		}
	}
	return true
}

func block(reasons ...string) Decision {
	if len(reasons) == 0 {
		reasons = []string{NoRoute}
	}
	return Decision{Kind: KindBlock, Reasons: reasons}
}
