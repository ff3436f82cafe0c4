package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/marketsettler/internal/domain"
)

// AuditLog implements domain.AuditStore on the Store's database.
type AuditLog struct {
	s *Store
}

// Audit returns the operator audit log.
func (s *Store) Audit() *AuditLog {
	return &AuditLog{s: s}
}

// Log appends e, stamped with the current time.
func (l *AuditLog) Log(ctx context.Context, e domain.AuditEntry) error {
	var detail sql.NullString
	if len(e.Detail) > 0 {
		b, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("sqlite: marshal audit detail: %w", err)
		}
		detail = sql.NullString{String: string(b), Valid: true}
	}

	_, err := l.s.db.ExecContext(ctx,
		`INSERT INTO audit_log (event, market_id, attempt_id, actor, detail, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.Event, e.MarketID, e.AttemptID, e.Actor, detail, formatTime(l.s.now()))
	if err != nil {
		return fmt.Errorf("sqlite: audit %s market %s: %w", e.Event, e.MarketID, err)
	}
	return nil
}

// List returns entries newest first.
func (l *AuditLog) List(ctx context.Context, f domain.AuditFilter) ([]domain.AuditEntry, error) {
	query := `SELECT id, event, market_id, attempt_id, actor, detail, created_at FROM audit_log WHERE 1=1`
	var args []any
	if f.MarketID != "" {
		query += ` AND market_id = ?`
		args = append(args, f.MarketID)
	}
	if f.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, formatTime(*f.Since))
	}
	if f.Until != nil {
		query += ` AND created_at <= ?`
		args = append(args, formatTime(*f.Until))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := l.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e       domain.AuditEntry
			detail  sql.NullString
			created string
		)
		if err := rows.Scan(&e.ID, &e.Event, &e.MarketID, &e.AttemptID, &e.Actor, &detail, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		if detail.Valid {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal audit detail %d: %w", e.ID, err)
			}
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("sqlite: audit entry %d created_at: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ domain.AuditStore = (*AuditLog)(nil)
