package handler

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/alanyoungcy/marketsettler/internal/domain"
)

// Settler runs one settlement attempt.
type Settler interface {
	Settle(ctx context.Context, marketID *big.Int, trigger domain.Trigger) (domain.Attempt, error)
}

// DefaultSettleTimeout bounds a manual attempt. The server's write timeout
// is longer so the response can still be written.
const DefaultSettleTimeout = 5 * time.Minute

// SettleHandler lets an operator re-trigger settlement of a market.
type SettleHandler struct {
	settler Settler
	audit   domain.AuditStore // optional
	timeout time.Duration
	logger  *slog.Logger
}

// NewSettleHandler creates a SettleHandler. audit may be nil.
func NewSettleHandler(settler Settler, audit domain.AuditStore, logger *slog.Logger) *SettleHandler {
	return &SettleHandler{
		settler: settler,
		audit:   audit,
		timeout: DefaultSettleTimeout,
		logger:  logger.With(slog.String("handler", "settle")),
	}
}

// Settle runs the dispatcher synchronously and returns the attempt. A
// failed attempt is still returned, with status 502. The attempt outlives a
// client disconnect: once a transaction is sent its receipt must be awaited.
// POST /api/markets/{id}/settle
func (h *SettleHandler) Settle(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("id")
	id, ok := parseMarketID(raw)
	if !ok {
		writeError(w, http.StatusBadRequest, "market id must be a non-negative integer")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.timeout)
	defer cancel()

	h.recordAudit(ctx, domain.AuditEntry{
		Event:    domain.AuditManualSettleRequested,
		MarketID: id.String(),
		Actor:    r.RemoteAddr,
	})

	att, err := h.settler.Settle(ctx, id, domain.TriggerManual)
	if att.ID != "" {
		h.recordAudit(ctx, domain.AuditEntry{
			Event:     domain.AuditManualSettleFinished,
			MarketID:  id.String(),
			AttemptID: att.ID,
			Actor:     r.RemoteAddr,
			Detail:    domain.AttemptAuditDetail(att),
		})
	}

	switch {
	case errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, "market is being settled by another worker")
		return
	case err != nil && att.ID == "":
		h.logger.ErrorContext(r.Context(), "settle failed before attempt started",
			slog.String("market_id", id.String()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "settlement could not start")
		return
	}

	status := http.StatusOK
	switch {
	case errors.Is(err, domain.ErrInvalidMarket):
		status = http.StatusUnprocessableEntity
	case err != nil:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, viewOf(att))
}

func (h *SettleHandler) recordAudit(ctx context.Context, e domain.AuditEntry) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Log(ctx, e); err != nil {
		h.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", e.Event),
			slog.String("error", err.Error()),
		)
	}
}
