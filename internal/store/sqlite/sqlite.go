// Package sqlite journals settlement attempts and listener cursors in a
// local SQLite file for single-node executors.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alanyoungcy/marketsettler/internal/domain"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS settlement_attempts (
    id                TEXT PRIMARY KEY,
    market_id         TEXT NOT NULL,
    trigger_kind      TEXT NOT NULL,
    state             TEXT NOT NULL,
    last_good_state   TEXT NOT NULL DEFAULT '',
    resolution_source TEXT NOT NULL DEFAULT '',
    route             TEXT NOT NULL DEFAULT '',
    unavailable       TEXT NOT NULL DEFAULT '[]',
    outcome           INTEGER,
    confidence        INTEGER NOT NULL DEFAULT 0,
    reasoning         TEXT NOT NULL DEFAULT '',
    prompt_digest     TEXT NOT NULL DEFAULT '',
    report_digest     TEXT NOT NULL DEFAULT '',
    tx_hash           TEXT NOT NULL DEFAULT '',
    error             TEXT NOT NULL DEFAULT '',
    started_at        TEXT NOT NULL,
    finished_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_settlement_attempts_market ON settlement_attempts (market_id, started_at);
CREATE TABLE IF NOT EXISTS listener_cursors (
    name       TEXT PRIMARY KEY,
    block      INTEGER NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS audit_log (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    event      TEXT NOT NULL,
    market_id  TEXT NOT NULL DEFAULT '',
    attempt_id TEXT NOT NULL DEFAULT '',
    actor      TEXT NOT NULL DEFAULT '',
    detail     TEXT,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_log_market ON audit_log (market_id, created_at);
`

// Store implements domain.AttemptStore and domain.CursorStore. Audit
// returns the audit log kept in the same file.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the database at path and applies the schema.
// ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One connection: an in-memory database is per connection, and SQLite
	// serialises writers anyway.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Record inserts or replaces an attempt.
func (s *Store) Record(ctx context.Context, a domain.Attempt) error {
	unavailable, err := json.Marshal(nonNil(a.Unavailable))
	if err != nil {
		return fmt.Errorf("sqlite: marshal unavailable: %w", err)
	}
	var outcome sql.NullInt64
	if a.Outcome != nil {
		outcome = sql.NullInt64{Int64: int64(*a.Outcome), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO settlement_attempts (
		id, market_id, trigger_kind, state, last_good_state, resolution_source, route, unavailable,
		outcome, confidence, reasoning, prompt_digest, report_digest, tx_hash, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.MarketID, string(a.Trigger), string(a.State), string(a.LastGoodState),
		a.ResolutionSource, a.Route, string(unavailable), outcome, a.Confidence, a.Reasoning,
		a.PromptDigest, a.ReportDigest, a.TxHash, a.Error, formatTime(a.StartedAt), formatTime(a.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: record attempt %s: %w", a.ID, err)
	}
	return nil
}

const selectAttempts = `SELECT id, market_id, trigger_kind, state, last_good_state, resolution_source, route,
	unavailable, outcome, confidence, reasoning, prompt_digest, report_digest, tx_hash, error,
	started_at, finished_at FROM settlement_attempts`

// GetByID returns one attempt or domain.ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id string) (domain.Attempt, error) {
	row := s.db.QueryRowContext(ctx, selectAttempts+` WHERE id = ?`, id)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Attempt{}, fmt.Errorf("sqlite: attempt %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("sqlite: get attempt %s: %w", id, err)
	}
	return a, nil
}

// List returns attempts newest first.
func (s *Store) List(ctx context.Context, f domain.AttemptFilter) ([]domain.Attempt, error) {
	query := selectAttempts
	var args []any
	if f.MarketID != "" {
		query += ` WHERE market_id = ?`
		args = append(args, f.MarketID)
	}
	query += ` ORDER BY started_at DESC, id`
	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list attempts: %w", err)
	}
	defer rows.Close()

	var out []domain.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan attempt: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row scanner) (domain.Attempt, error) {
	var (
		a                              domain.Attempt
		trigger, state, lastGood       string
		unavailable, started, finished string
		outcome                        sql.NullInt64
	)
	err := row.Scan(&a.ID, &a.MarketID, &trigger, &state, &lastGood, &a.ResolutionSource, &a.Route,
		&unavailable, &outcome, &a.Confidence, &a.Reasoning, &a.PromptDigest, &a.ReportDigest,
		&a.TxHash, &a.Error, &started, &finished)
	if err != nil {
		return domain.Attempt{}, err
	}
	a.Trigger = domain.Trigger(trigger)
	a.State = domain.AttemptState(state)
	a.LastGoodState = domain.AttemptState(lastGood)
	if err := json.Unmarshal([]byte(unavailable), &a.Unavailable); err != nil {
		return domain.Attempt{}, fmt.Errorf("decode unavailable: %w", err)
	}
	if len(a.Unavailable) == 0 {
		a.Unavailable = nil
	}
	if outcome.Valid {
		v := int(outcome.Int64)
		a.Outcome = &v
	}
	if a.StartedAt, err = parseTime(started); err != nil {
		return domain.Attempt{}, fmt.Errorf("decode started_at: %w", err)
	}
	if a.FinishedAt, err = parseTime(finished); err != nil {
		return domain.Attempt{}, fmt.Errorf("decode finished_at: %w", err)
	}
	return a, nil
}

// LoadCursor returns the last processed block or domain.ErrNotFound.
func (s *Store) LoadCursor(ctx context.Context, name string) (uint64, error) {
	var block int64
	err := s.db.QueryRowContext(ctx, `SELECT block FROM listener_cursors WHERE name = ?`, name).Scan(&block)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite: load cursor %s: %w", name, err)
	}
	return uint64(block), nil
}

// SaveCursor stores the last processed block.
func (s *Store) SaveCursor(ctx context.Context, name string, block uint64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO listener_cursors (name, block, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET block = excluded.block, updated_at = excluded.updated_at`,
		name, int64(block), formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("sqlite: save cursor %s: %w", name, err)
	}
	return nil
}

// timeLayout is fixed width so that text order matches time order.
// RFC3339Nano trims trailing zeros and would sort 12:00:00Z below 12:00:00.9Z.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime also reads rows written with the trimmed RFC3339Nano form.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var (
	_ domain.AttemptStore = (*Store)(nil)
	_ domain.CursorStore  = (*Store)(nil)
)
