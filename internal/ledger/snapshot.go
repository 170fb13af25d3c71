package ledger

import "time"

// Snapshot is an immutable value copy of a ledger.
type Snapshot struct {
	Key           Key       `json:"key"`
	Revision      string    `json:"revision"`
	Gates         []Gate    `json:"gates"`
	Decision      Decision  `json:"decision"`
	Archived      bool      `json:"archived"`
	ArchiveReason string    `json:"archive_reason,omitempty"`
	LastSeq       uint64    `json:"last_seq"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Gate returns the named gate entry.
func (s Snapshot) Gate(name string) (Gate, bool) {
	for _, g := range s.Gates {
		if g.Name == name {
			return g.clone(), true
		}
	}
	return Gate{}, false
}

// Quarantines returns every quarantine recorded across gates.
func (s Snapshot) Quarantines() []Quarantine {
	var out []Quarantine
	for _, g := range s.Gates {
		out = append(out, g.Quarantines...)
	}
	return out
}

// Counts tallies gates by status.
func (s Snapshot) Counts() map[Status]int {
	out := make(map[Status]int, 5)
	for _, g := range s.Gates {
		out[g.Status]++
	}
	return out
}
