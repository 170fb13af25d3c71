package gate

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
)

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Registry is the immutable set of gate definitions in declaration order.
type Registry struct {
	order []string
	defs  map[string]Definition
}

// New validates defs and builds a Registry. It rejects duplicate names,
// unknown prerequisites, prerequisite cycles, negative budgets and policy
// quarantines on required gates.
func New(defs ...Definition) (*Registry, error) {
	r := &Registry{
		order: make([]string, 0, len(defs)),
		defs:  make(map[string]Definition, len(defs)),
	}

	var errs []error
	for _, d := range defs {
		if !namePattern.MatchString(d.Name) {
			errs = append(errs, fmt.Errorf("gate %q: invalid name", d.Name))
			continue
		}
		if _, dup := r.defs[d.Name]; dup {
			errs = append(errs, fmt.Errorf("gate %q: duplicate name", d.Name))
			continue
		}
		if d.MaxAttempts < 0 {
			errs = append(errs, fmt.Errorf("gate %q: max_attempts cannot be negative", d.Name))
		}
		if d.Timeout < 0 {
			errs = append(errs, fmt.Errorf("gate %q: timeout cannot be negative", d.Name))
		}
		if d.Tier == "" {
			d.Tier = TierPRFast
		}
		if !d.Tier.Valid() || d.Tier == TierAll {
			errs = append(errs, fmt.Errorf("gate %q: invalid tier %q", d.Name, d.Tier))
		}
		if d.Worker == "" {
			d.Worker = d.Name
		}
		if d.Quarantine != nil {
			if d.Required {
				errs = append(errs, fmt.Errorf("gate %q: required gates cannot be quarantined", d.Name))
			}
			if d.Quarantine.Reference == "" {
				errs = append(errs, fmt.Errorf("gate %q: quarantine needs a reference", d.Name))
			}
		}
		r.order = append(r.order, d.Name)
		r.defs[d.Name] = d.clone()
	}

	for _, name := range r.order {
		for _, p := range r.defs[name].Prerequisites {
			if _, ok := r.defs[p]; !ok {
				errs = append(errs, fmt.Errorf("gate %q: unknown prerequisite %q", name, p))
			}
		}
	}
	if len(errs) == 0 {
		if cycle := r.findCycle(); cycle != "" {
			errs = append(errs, fmt.Errorf("prerequisite cycle through gate %q", cycle))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid gate registry: %w", err)
	}
	return r, nil
}

// findCycle returns a gate on a prerequisite cycle, or "".
func (r *Registry) findCycle() string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(r.order))

	var visit func(string) string
	visit = func(name string) string {
		switch state[name] {
		case visiting:
			return name
		case done:
			return ""
		}
		state[name] = visiting
		for _, p := range r.defs[name].Prerequisites {
			if c := visit(p); c != "" {
				return c
			}
		}
		state[name] = done
		return ""
	}

	for _, name := range r.order {
		if c := visit(name); c != "" {
			return c
		}
	}
	return ""
}

// Get returns the definition for name.
func (r *Registry) Get(name string) (Definition, error) {
	d, ok := r.defs[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownGate, name)
	}
	return d.clone(), nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.defs[name]
	return ok
}

// Names returns gate names in declaration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Definitions returns all definitions in declaration order.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.defs[name].clone())
	}
	return out
}

// RequiredGates returns the sorted names of required gates.
func (r *Registry) RequiredGates() []string {
	var out []string
	for _, name := range r.order {
		if r.defs[name].Required {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// IsRequired reports whether name is a required gate.
func (r *Registry) IsRequired(name string) bool {
	return r.defs[name].Required
}

// SpecialistFor returns the escalation specialist for a gate, or "".
func (r *Registry) SpecialistFor(name string) string {
	return r.defs[name].Specialist
}

// ForTier returns a registry holding only the gates a run at tier t
// executes. Prerequisites outside the subset are dropped.
func (r *Registry) ForTier(t Tier) (*Registry, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown tier %q", t)
	}
	sub := &Registry{defs: make(map[string]Definition)}
	for _, name := range r.order {
		d := r.defs[name]
		if !t.Includes(d.Tier) {
			continue
		}
		sub.order = append(sub.order, name)
		sub.defs[name] = d.clone()
	}
	for name, d := range sub.defs {
		kept := d.Prerequisites[:0]
		for _, p := range d.Prerequisites {
			if _, ok := sub.defs[p]; ok {
				kept = append(kept, p)
			}
		}
		d.Prerequisites = kept
		sub.defs[name] = d
	}
	return sub, nil
}

// Len returns the number of gates.
func (r *Registry) Len() int {
	return len(r.order)
}
