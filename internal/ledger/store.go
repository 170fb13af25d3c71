package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Record is the persisted form of one ledger.
type Record struct {
	Key       Key
	Revision  string
	Gates     []Gate
	Hops      []HopEntry
	Decision  Decision
	Archived  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Commit is one atomic write: a hop plus the rows it changes. Gate is
// written only if the stored gate still has status Expected.
type Commit struct {
	Hop      HopEntry
	Gate     *Gate
	Expected Status
	Gates    []Gate
	Revision string
	Decision *Decision
	Archived bool
}

// Store persists ledgers keyed by (repository, change set).
type Store interface {
	// Load returns ErrNotFound for unknown keys.
	Load(ctx context.Context, key Key) (*Record, error)
	// Create stores a new ledger holding its created hop. It returns
	// ErrAlreadyExists if the key is taken.
	Create(ctx context.Context, rec *Record) error
	// Commit applies c atomically. It returns ErrStaleWrite if the hop
	// sequence or the gate status moved underneath the caller.
	Commit(ctx context.Context, key Key, c Commit) error
	// List returns stored keys, newest first.
	List(ctx context.Context, limit int) ([]Key, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[Key]*Record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[Key]*Record)}
}

func copyRecord(r *Record) *Record {
	c := *r
	c.Gates = make([]Gate, len(r.Gates))
	for i, g := range r.Gates {
		c.Gates[i] = g.clone()
	}
	c.Hops = append([]HopEntry(nil), r.Hops...)
	return &c
}

func (m *MemoryStore) Load(_ context.Context, key Key) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return copyRecord(r), nil
}

func (m *MemoryStore) Create(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.Key]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, rec.Key)
	}
	m.records[rec.Key] = copyRecord(rec)
	return nil
}

func (m *MemoryStore) Commit(_ context.Context, key Key, c Commit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	last := uint64(0)
	if n := len(r.Hops); n > 0 {
		last = r.Hops[n-1].Seq
	}
	if c.Hop.Seq != last+1 {
		return fmt.Errorf("%w: hop seq %d, stored %d", ErrStaleWrite, c.Hop.Seq, last)
	}
	if r.Archived {
		return ErrLedgerArchived
	}

	gateIdx := -1
	if c.Gate != nil {
		for i := range r.Gates {
			if r.Gates[i].Name == c.Gate.Name {
				gateIdx = i
				break
			}
		}
		if gateIdx < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownGate, c.Gate.Name)
		}
		if r.Gates[gateIdx].Status != c.Expected {
			return fmt.Errorf("%w: gate %s stored as %s", ErrStaleWrite, c.Gate.Name, r.Gates[gateIdx].Status)
		}
	}

	if gateIdx >= 0 {
		r.Gates[gateIdx] = c.Gate.clone()
	}
	if c.Gates != nil {
		r.Gates = make([]Gate, len(c.Gates))
		for i, g := range c.Gates {
			r.Gates[i] = g.clone()
		}
		r.Revision = c.Revision
	}
	if c.Decision != nil {
		r.Decision = *c.Decision
	}
	if c.Archived {
		r.Archived = true
	}
	r.Hops = append(r.Hops, c.Hop)
	r.UpdatedAt = c.Hop.Timestamp
	return nil
}

func (m *MemoryStore) List(_ context.Context, limit int) ([]Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := make([]*Record, 0, len(m.records))
	for _, r := range m.records {
		recs = append(recs, r)
	}
	sortRecordsNewestFirst(recs)
	keys := make([]Key, 0, len(recs))
	for _, r := range recs {
		if limit > 0 && len(keys) == limit {
			break
		}
		keys = append(keys, r.Key)
	}
	return keys, nil
}

func sortRecordsNewestFirst(recs []*Record) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].UpdatedAt.Equal(recs[j].UpdatedAt) {
			return recs[i].UpdatedAt.After(recs[j].UpdatedAt)
		}
		return recs[i].Key.String() < recs[j].Key.String()
	})
}
