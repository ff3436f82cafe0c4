package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketsettler/internal/domain"
)

// CursorStore implements domain.CursorStore using PostgreSQL.
type CursorStore struct {
	pool *pgxpool.Pool
}

// NewCursorStore creates a new CursorStore backed by the given connection pool.
func NewCursorStore(pool *pgxpool.Pool) *CursorStore {
	return &CursorStore{pool: pool}
}

// LoadCursor returns the last processed block or domain.ErrNotFound.
func (s *CursorStore) LoadCursor(ctx context.Context, name string) (uint64, error) {
	var block int64
	err := s.pool.QueryRow(ctx, `SELECT block FROM listener_cursors WHERE name = $1`, name).Scan(&block)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: load cursor %s: %w", name, err)
	}
	return uint64(block), nil
}

// SaveCursor stores the last processed block.
func (s *CursorStore) SaveCursor(ctx context.Context, name string, block uint64) error {
	const query = `INSERT INTO listener_cursors (name, block, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET block = EXCLUDED.block, updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, name, int64(block)); err != nil {
		return fmt.Errorf("postgres: save cursor %s: %w", name, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.CursorStore = (*CursorStore)(nil)
