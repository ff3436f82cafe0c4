package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/marketsettler/internal/domain"
)

// AttemptHandler serves the attempt journal and archived evidence.
type AttemptHandler struct {
	attempts domain.AttemptStore
	evidence domain.EvidenceArchive // nil when archiving is off
	logger   *slog.Logger
}

// NewAttemptHandler creates an AttemptHandler. evidence may be nil when the
// archive is disabled.
func NewAttemptHandler(attempts domain.AttemptStore, evidence domain.EvidenceArchive, logger *slog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attempts: attempts,
		evidence: evidence,
		logger:   logger.With(slog.String("handler", "attempts")),
	}
}

type listAttemptsResponse struct {
	Attempts []AttemptView `json:"attempts"`
}

// ListAttempts returns recent attempts, newest first.
// GET /api/attempts?market=7&limit=50&offset=0
func (h *AttemptHandler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	list, err := h.attempts.List(r.Context(), parseAttemptFilter(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list attempts failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list attempts")
		return
	}
	views := make([]AttemptView, 0, len(list))
	for _, a := range list {
		views = append(views, viewOf(a))
	}
	writeJSON(w, http.StatusOK, listAttemptsResponse{Attempts: views})
}

// GetAttempt returns one attempt.
// GET /api/attempts/{id}
func (h *AttemptHandler) GetAttempt(w http.ResponseWriter, r *http.Request) {
	a, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(a))
}

// GetEvidence returns the prompt and raw oracle answer archived for an
// attempt.
// GET /api/attempts/{id}/evidence
func (h *AttemptHandler) GetEvidence(w http.ResponseWriter, r *http.Request) {
	if h.evidence == nil {
		writeError(w, http.StatusNotFound, "evidence archive is not configured")
		return
	}
	a, ok := h.lookup(w, r)
	if !ok {
		return
	}
	ev, err := h.evidence.Fetch(r.Context(), a.MarketID, a.ID)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no evidence archived for attempt")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "fetch evidence failed",
			slog.String("attempt_id", a.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to fetch evidence")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (h *AttemptHandler) lookup(w http.ResponseWriter, r *http.Request) (domain.Attempt, bool) {
	id := r.PathValue("id")
	a, err := h.attempts.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "attempt not found")
		return domain.Attempt{}, false
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "get attempt failed",
			slog.String("attempt_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get attempt")
		return domain.Attempt{}, false
	}
	return a, true
}
