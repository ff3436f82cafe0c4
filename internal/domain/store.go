package domain

import (
	"context"
	"time"
)

// AttemptFilter narrows attempt listings.
type AttemptFilter struct {
	MarketID string // empty matches every market
	Limit    int
	Offset   int
}

// AttemptStore journals settlement attempts.
type AttemptStore interface {
	Record(ctx context.Context, a Attempt) error
	GetByID(ctx context.Context, id string) (Attempt, error)
	List(ctx context.Context, f AttemptFilter) ([]Attempt, error)
}

// CursorStore remembers how far an event listener has read.
type CursorStore interface {
	LoadCursor(ctx context.Context, name string) (uint64, error)
	SaveCursor(ctx context.Context, name string, block uint64) error
}

// Audit events written by the operator surface.
const (
	AuditManualSettleRequested = "manual_settle_requested"
	AuditManualSettleFinished  = "manual_settle_finished"
)

// AuditEntry is one row of the operator audit log. MarketID and AttemptID
// are columns so the log can be read per market; Detail carries the rest.
type AuditEntry struct {
	ID        int64
	Event     string
	MarketID  string
	AttemptID string // empty until the dispatcher has started an attempt
	Actor     string // remote address of the operator
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditFilter narrows audit listings.
type AuditFilter struct {
	MarketID string // empty matches every market
	Since    *time.Time
	Until    *time.Time
	Limit    int
	Offset   int
}

// AuditStore persists an append-only audit log. Log ignores e.ID and
// e.CreatedAt; the store assigns both.
type AuditStore interface {
	Log(ctx context.Context, e AuditEntry) error
	List(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// AttemptAuditDetail summarises a finished attempt for the audit log.
func AttemptAuditDetail(a Attempt) map[string]any {
	detail := map[string]any{
		"state":      string(a.State),
		"route":      a.Route,
		"confidence": a.Confidence,
	}
	if a.Outcome != nil {
		detail["outcome"] = *a.Outcome
	}
	if a.TxHash != "" {
		detail["tx_hash"] = a.TxHash
	}
	if a.Error != "" {
		detail["error"] = a.Error
	}
	return detail
}
