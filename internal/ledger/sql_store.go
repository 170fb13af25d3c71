package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dialect selects placeholder syntax.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLStore implements Store on database/sql for SQLite and Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore wraps db. Call Migrate before first use.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ledger_changesets (
		repository TEXT NOT NULL,
		changeset TEXT NOT NULL,
		revision TEXT NOT NULL,
		decision TEXT NOT NULL DEFAULT '{}',
		archived INTEGER NOT NULL DEFAULT 0,
		last_seq INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (repository, changeset)
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_gates (
		repository TEXT NOT NULL,
		changeset TEXT NOT NULL,
		name TEXT NOT NULL,
		position INTEGER NOT NULL,
		status TEXT NOT NULL,
		state TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (repository, changeset, name)
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_hops (
		repository TEXT NOT NULL,
		changeset TEXT NOT NULL,
		seq INTEGER NOT NULL,
		kind TEXT NOT NULL,
		gate TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (repository, changeset, seq)
	)`,
}

// Migrate creates the ledger tables if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate ledger schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLStore) Load(ctx context.Context, key Key) (*Record, error) {
	rec := &Record{Key: key}
	var (
		decision         string
		archived         int
		created, updated string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT revision, decision, archived, created_at, updated_at
		FROM ledger_changesets WHERE repository = ? AND changeset = ?`),
		key.Repository, key.ChangeSet,
	).Scan(&rec.Revision, &decision, &archived, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("load changeset: %w", err)
	}
	if err := json.Unmarshal([]byte(decision), &rec.Decision); err != nil {
		return nil, fmt.Errorf("decode decision: %w", err)
	}
	rec.Archived = archived != 0
	rec.CreatedAt = parseTime(created)
	rec.UpdatedAt = parseTime(updated)

	if rec.Gates, err = s.loadGates(ctx, key); err != nil {
		return nil, err
	}
	if rec.Hops, err = s.loadHops(ctx, key); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLStore) loadGates(ctx context.Context, key Key) ([]Gate, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT state FROM ledger_gates WHERE repository = ? AND changeset = ? ORDER BY position`),
		key.Repository, key.ChangeSet)
	if err != nil {
		return nil, fmt.Errorf("load gates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var gates []Gate
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var g Gate
		if err := json.Unmarshal([]byte(raw), &g); err != nil {
			return nil, fmt.Errorf("decode gate: %w", err)
		}
		gates = append(gates, g)
	}
	return gates, rows.Err()
}

func (s *SQLStore) loadHops(ctx context.Context, key Key) ([]HopEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT payload FROM ledger_hops WHERE repository = ? AND changeset = ? ORDER BY seq`),
		key.Repository, key.ChangeSet)
	if err != nil {
		return nil, fmt.Errorf("load hops: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hops []HopEntry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var h HopEntry
		if err := json.Unmarshal([]byte(raw), &h); err != nil {
			return nil, fmt.Errorf("decode hop: %w", err)
		}
		hops = append(hops, h)
	}
	return hops, rows.Err()
}

func (s *SQLStore) Create(ctx context.Context, rec *Record) (err error) {
	if len(rec.Hops) != 1 || rec.Hops[0].Kind != HopCreated {
		return fmt.Errorf("%w: create needs exactly the created hop", ErrInvalidHop)
	}
	decision, err := json.Marshal(rec.Decision)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, s.rebind(
		`INSERT INTO ledger_changesets (repository, changeset, revision, decision, archived, last_seq, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`),
		rec.Key.Repository, rec.Key.ChangeSet, rec.Revision, string(decision), boolInt(rec.Archived),
		rec.Hops[0].Seq, formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert changeset: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = fmt.Errorf("%w: %s", ErrAlreadyExists, rec.Key)
		return err
	}
	if err = s.insertGates(ctx, tx, rec.Key, rec.Gates); err != nil {
		return err
	}
	if err = s.insertHop(ctx, tx, rec.Key, rec.Hops[0]); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create: %w", err)
	}
	return nil
}

func (s *SQLStore) insertGates(ctx context.Context, tx execer, key Key, gates []Gate) error {
	for i, g := range gates {
		raw, err := json.Marshal(g)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.rebind(
			`INSERT INTO ledger_gates (repository, changeset, name, position, status, state, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`),
			key.Repository, key.ChangeSet, g.Name, i, string(g.Status), string(raw), formatTime(g.UpdatedAt)); err != nil {
			return fmt.Errorf("insert gate %s: %w", g.Name, err)
		}
	}
	return nil
}

func (s *SQLStore) insertHop(ctx context.Context, tx execer, key Key, h HopEntry) error {
	raw, err := json.Marshal(h)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.rebind(
		`INSERT INTO ledger_hops (repository, changeset, seq, kind, gate, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		key.Repository, key.ChangeSet, h.Seq, string(h.Kind), h.Gate, string(raw), formatTime(h.Timestamp)); err != nil {
		return fmt.Errorf("insert hop %d: %w", h.Seq, err)
	}
	return nil
}

// Commit advances last_seq with a compare-and-swap, then applies the gate
// compare-and-swap and appends the hop, all in one transaction.
func (s *SQLStore) Commit(ctx context.Context, key Key, c Commit) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	sets := []string{"last_seq = ?", "updated_at = ?"}
	args := []any{c.Hop.Seq, formatTime(c.Hop.Timestamp)}
	if c.Gates != nil {
		sets = append(sets, "revision = ?")
		args = append(args, c.Revision)
	}
	if c.Decision != nil {
		raw, merr := json.Marshal(c.Decision)
		if merr != nil {
			err = merr
			return err
		}
		sets = append(sets, "decision = ?")
		args = append(args, string(raw))
	}
	if c.Archived {
		sets = append(sets, "archived = 1")
	}
	args = append(args, key.Repository, key.ChangeSet, c.Hop.Seq-1)

	res, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE ledger_changesets SET `+strings.Join(sets, ", ")+
			` WHERE repository = ? AND changeset = ? AND last_seq = ? AND archived = 0`), args...)
	if err != nil {
		return fmt.Errorf("advance changeset: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = fmt.Errorf("%w: %s hop %d", ErrStaleWrite, key, c.Hop.Seq)
		return err
	}

	if c.Gate != nil {
		raw, merr := json.Marshal(c.Gate)
		if merr != nil {
			err = merr
			return err
		}
		res, err = tx.ExecContext(ctx, s.rebind(
			`UPDATE ledger_gates SET status = ?, state = ?, updated_at = ?
			WHERE repository = ? AND changeset = ? AND name = ? AND status = ?`),
			string(c.Gate.Status), string(raw), formatTime(c.Gate.UpdatedAt),
			key.Repository, key.ChangeSet, c.Gate.Name, string(c.Expected))
		if err != nil {
			return fmt.Errorf("update gate %s: %w", c.Gate.Name, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			err = fmt.Errorf("%w: gate %s is no longer %s", ErrStaleWrite, c.Gate.Name, c.Expected)
			return err
		}
	}

	if c.Gates != nil {
		if _, err = tx.ExecContext(ctx, s.rebind(
			`DELETE FROM ledger_gates WHERE repository = ? AND changeset = ?`),
			key.Repository, key.ChangeSet); err != nil {
			return fmt.Errorf("reset gates: %w", err)
		}
		if err = s.insertGates(ctx, tx, key, c.Gates); err != nil {
			return err
		}
	}

	if err = s.insertHop(ctx, tx, key, c.Hop); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit hop: %w", err)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context, limit int) ([]Key, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT repository, changeset FROM ledger_changesets ORDER BY updated_at DESC, repository, changeset LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list changesets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []Key
	for rows.Next() {
		var k Key
		if err := rows.Scan(&k.Repository, &k.ChangeSet); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
