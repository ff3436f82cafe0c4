package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketsettler/internal/domain"
)

const attemptColumns = `id, market_id, trigger_kind, state, last_good_state, resolution_source, route,
	unavailable, outcome, confidence, reasoning, prompt_digest, report_digest, tx_hash, error,
	started_at, finished_at`

// AttemptStore implements domain.AttemptStore using PostgreSQL.
type AttemptStore struct {
	pool *pgxpool.Pool
}

// NewAttemptStore creates a new AttemptStore backed by the given connection pool.
func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

// Record inserts an attempt, replacing any earlier row with the same id.
func (s *AttemptStore) Record(ctx context.Context, a domain.Attempt) error {
	const query = `INSERT INTO settlement_attempts (` + attemptColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			last_good_state = EXCLUDED.last_good_state,
			route = EXCLUDED.route,
			unavailable = EXCLUDED.unavailable,
			outcome = EXCLUDED.outcome,
			confidence = EXCLUDED.confidence,
			reasoning = EXCLUDED.reasoning,
			prompt_digest = EXCLUDED.prompt_digest,
			report_digest = EXCLUDED.report_digest,
			tx_hash = EXCLUDED.tx_hash,
			error = EXCLUDED.error,
			finished_at = EXCLUDED.finished_at`

	unavailable := a.Unavailable
	if unavailable == nil {
		unavailable = []string{}
	}
	_, err := s.pool.Exec(ctx, query,
		a.ID, a.MarketID, string(a.Trigger), string(a.State), string(a.LastGoodState),
		a.ResolutionSource, a.Route, unavailable, a.Outcome, a.Confidence, a.Reasoning,
		a.PromptDigest, a.ReportDigest, a.TxHash, a.Error, a.StartedAt, a.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record attempt %s: %w", a.ID, err)
	}
	return nil
}

// GetByID returns one attempt or domain.ErrNotFound.
func (s *AttemptStore) GetByID(ctx context.Context, id string) (domain.Attempt, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+attemptColumns+` FROM settlement_attempts WHERE id = $1`, id)
	a, err := scanAttempt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Attempt{}, fmt.Errorf("postgres: attempt %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("postgres: get attempt %s: %w", id, err)
	}
	return a, nil
}

// List returns attempts newest first.
func (s *AttemptStore) List(ctx context.Context, f domain.AttemptFilter) ([]domain.Attempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM settlement_attempts WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.MarketID != "" {
		query += fmt.Sprintf(" AND market_id = $%d", argIdx)
		args = append(args, f.MarketID)
		argIdx++
	}
	query += " ORDER BY started_at DESC, id"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
		argIdx++
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list attempts: %w", err)
	}
	defer rows.Close()

	var out []domain.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan attempt: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list attempts rows: %w", err)
	}
	return out, nil
}

func scanAttempt(row pgx.Row) (domain.Attempt, error) {
	var (
		a                        domain.Attempt
		trigger, state, lastGood string
	)
	err := row.Scan(&a.ID, &a.MarketID, &trigger, &state, &lastGood, &a.ResolutionSource, &a.Route,
		&a.Unavailable, &a.Outcome, &a.Confidence, &a.Reasoning, &a.PromptDigest, &a.ReportDigest,
		&a.TxHash, &a.Error, &a.StartedAt, &a.FinishedAt)
	if err != nil {
		return domain.Attempt{}, err
	}
	a.Trigger = domain.Trigger(trigger)
	a.State = domain.AttemptState(state)
	a.LastGoodState = domain.AttemptState(lastGood)
	if len(a.Unavailable) == 0 {
		a.Unavailable = nil
	}
	return a, nil
}

// Compile-time interface check.
var _ domain.AttemptStore = (*AttemptStore)(nil)
