package ledger

import (
	"fmt"
	"time"
)

// HopKind names the mutation a hop records.
type HopKind string

const (
	HopCreated  HopKind = "created"
	HopRevision HopKind = "revision"
	HopBegin    HopKind = "begin"
	HopResult   HopKind = "result"
	HopRetry    HopKind = "retry"
	HopEscalate HopKind = "escalate"
	HopRelease  HopKind = "release"
	HopDecision HopKind = "decision"
	HopArchive  HopKind = "archive"
)

// HopEntry is one line of the hop log. It carries the human summary and
// the structured payload Replay needs.
type HopEntry struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Summary   string    `json:"summary"`
	Kind      HopKind   `json:"kind"`

	Gate          string       `json:"gate,omitempty"`
	From          Status       `json:"from,omitempty"`
	To            Status       `json:"to,omitempty"`
	Evidence      string       `json:"evidence,omitempty"`
	CountsAttempt bool         `json:"counts_attempt,omitempty"`
	Specialist    string       `json:"specialist,omitempty"`
	Quarantines   []Quarantine `json:"quarantines,omitempty"`

	Revision string     `json:"revision,omitempty"`
	Specs    []GateSpec `json:"specs,omitempty"`
	Decision *Decision  `json:"decision,omitempty"`
	Reason   string     `json:"reason,omitempty"`
}

// state is the ledger content derived from hops.
type state struct {
	key           Key
	revision      string
	order         []string
	gates         map[string]*Gate
	decision      Decision
	archived      bool
	archiveReason string
	seq           uint64
	createdAt     time.Time
	updatedAt     time.Time
}

func newState(key Key) *state {
	return &state{key: key, gates: make(map[string]*Gate)}
}

func (s *state) clone() *state {
	c := *s
	c.order = append([]string(nil), s.order...)
	c.gates = make(map[string]*Gate, len(s.gates))
	for name, g := range s.gates {
		cp := g.clone()
		c.gates[name] = &cp
	}
	return &c
}

func (s *state) orderedGates() []Gate {
	out := make([]Gate, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.gates[name].clone())
	}
	return out
}

func (s *state) seed(revision string, specs []GateSpec, at time.Time) {
	s.revision = revision
	s.order = s.order[:0]
	s.gates = make(map[string]*Gate, len(specs))
	for _, spec := range specs {
		s.order = append(s.order, spec.Name)
		s.gates[spec.Name] = &Gate{
			Name:        spec.Name,
			Required:    spec.Required,
			Status:      StatusPending,
			MaxAttempts: spec.MaxAttempts,
			Revision:    revision,
			UpdatedAt:   at,
		}
	}
	s.decision = Decision{}
}

// apply folds one hop into the state. It is the only code path that
// changes ledger content, for live writes and for Replay alike.
func (s *state) apply(h HopEntry) error {
	if h.Seq != s.seq+1 {
		return fmt.Errorf("%w: seq %d after %d", ErrInvalidHop, h.Seq, s.seq)
	}
	if s.seq == 0 && h.Kind != HopCreated {
		return fmt.Errorf("%w: first hop is %q, want %q", ErrInvalidHop, h.Kind, HopCreated)
	}
	if s.archived {
		return ErrLedgerArchived
	}

	switch h.Kind {
	case HopCreated:
		if s.seq != 0 {
			return fmt.Errorf("%w: created hop at seq %d", ErrInvalidHop, h.Seq)
		}
		s.createdAt = h.Timestamp
		s.seed(h.Revision, h.Specs, h.Timestamp)
	case HopRevision:
		s.seed(h.Revision, h.Specs, h.Timestamp)
	case HopDecision:
		if h.Decision == nil {
			return fmt.Errorf("%w: decision hop without decision", ErrInvalidHop)
		}
		s.decision = *h.Decision
	case HopArchive:
		s.archived = true
		s.archiveReason = h.Reason
	case HopBegin, HopResult, HopRetry, HopEscalate, HopRelease:
		if err := s.applyGate(h); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidHop, h.Kind)
	}

	s.seq = h.Seq
	s.updatedAt = h.Timestamp
	return nil
}

func (s *state) applyGate(h HopEntry) error {
	g, ok := s.gates[h.Gate]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGate, h.Gate)
	}
	if g.Status != h.From {
		return fmt.Errorf("%w: gate %s is %s, hop expects %s", ErrStaleWrite, g.Name, g.Status, h.From)
	}

	switch h.Kind {
	case HopBegin:
		g.Revision = s.revision
	case HopResult:
		g.Evidence = h.Evidence
		if h.CountsAttempt {
			g.Attempts++
		}
		if h.Specialist != "" {
			g.AwaitingSpecialist = false
		}
		g.Quarantines = append(g.Quarantines, h.Quarantines...)
		g.Revision = s.revision
	case HopRetry:
	case HopEscalate:
		g.Escalated = true
		g.Escalations++
		g.Specialist = h.Specialist
		g.AwaitingSpecialist = true
	case HopRelease:
		g.Evidence = h.Evidence
	}
	g.Status = h.To
	g.UpdatedAt = h.Timestamp
	return nil
}

func (s *state) snapshot() Snapshot {
	return Snapshot{
		Key:           s.key,
		Revision:      s.revision,
		Gates:         s.orderedGates(),
		Decision:      s.decision,
		Archived:      s.archived,
		ArchiveReason: s.archiveReason,
		LastSeq:       s.seq,
		CreatedAt:     s.createdAt,
		UpdatedAt:     s.updatedAt,
	}
}

// Replay rebuilds a snapshot from a hop log.
func Replay(key Key, hops []HopEntry) (Snapshot, error) {
	st, err := replayState(key, hops)
	if err != nil {
		return Snapshot{}, err
	}
	return st.snapshot(), nil
}

func replayState(key Key, hops []HopEntry) (*state, error) {
	st := newState(key)
	for _, h := range hops {
		if err := st.apply(h); err != nil {
			return nil, fmt.Errorf("replay hop %d: %w", h.Seq, err)
		}
	}
	if st.seq == 0 {
		return nil, fmt.Errorf("%w: empty hop log", ErrInvalidHop)
	}
	return st, nil
}
