package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketsettler/internal/domain"
)

// AuditStore records operator actions against markets. Market and attempt
// ids are columns; everything else lands in the detail JSONB.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates an AuditStore.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends e.
func (s *AuditStore) Log(ctx context.Context, e domain.AuditEntry) error {
	var detail []byte
	if len(e.Detail) > 0 {
		var err error
		if detail, err = json.Marshal(e.Detail); err != nil {
			return fmt.Errorf("postgres: marshal audit detail: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (event, market_id, attempt_id, actor, detail) VALUES ($1, $2, $3, $4, $5)`,
		e.Event, e.MarketID, e.AttemptID, e.Actor, detail)
	if err != nil {
		return fmt.Errorf("postgres: audit %s market %s: %w", e.Event, e.MarketID, err)
	}
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(ctx context.Context, f domain.AuditFilter) ([]domain.AuditEntry, error) {
	query, args := auditQuery(f)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e      domain.AuditEntry
			detail []byte
		)
		if err := rows.Scan(&e.ID, &e.Event, &e.MarketID, &e.AttemptID, &e.Actor, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
		}
		if detail != nil {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal audit detail %d: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	return entries, nil
}

func auditQuery(f domain.AuditFilter) (string, []any) {
	query := `SELECT id, event, market_id, attempt_id, actor, detail, created_at FROM audit_log WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.MarketID != "" {
		query += " AND market_id = " + arg(f.MarketID)
	}
	if f.Since != nil {
		query += " AND created_at >= " + arg(*f.Since)
	}
	if f.Until != nil {
		query += " AND created_at <= " + arg(*f.Until)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}
	return query, args
}

var _ domain.AuditStore = (*AuditStore)(nil)
