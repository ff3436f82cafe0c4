package handler

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/marketsettler/internal/domain"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// writeJSON marshals v and writes it with the given status. A marshal
// failure becomes a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseAttemptFilter reads market, limit and offset from the query string.
func parseAttemptFilter(r *http.Request) domain.AttemptFilter {
	q := r.URL.Query()
	f := domain.AttemptFilter{MarketID: q.Get("market"), Limit: defaultLimit}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		f.Limit = min(n, maxLimit)
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		f.Offset = n
	}
	return f
}

// parseMarketID accepts a non-negative base-10 uint256.
func parseMarketID(s string) (*big.Int, bool) {
	id, ok := new(big.Int).SetString(s, 10)
	if !ok || id.Sign() < 0 || id.BitLen() > 256 {
		return nil, false
	}
	return id, true
}

// AttemptView is the JSON shape of a journaled attempt.
type AttemptView struct {
	ID               string    `json:"id"`
	MarketID         string    `json:"market_id"`
	Trigger          string    `json:"trigger"`
	State            string    `json:"state"`
	LastGoodState    string    `json:"last_good_state,omitempty"`
	ResolutionSource string    `json:"resolution_source,omitempty"`
	Route            string    `json:"route,omitempty"`
	Unavailable      []string  `json:"unavailable,omitempty"`
	Outcome          *int      `json:"outcome,omitempty"`
	Confidence       int       `json:"confidence"`
	Reasoning        string    `json:"reasoning,omitempty"`
	PromptDigest     string    `json:"prompt_digest,omitempty"`
	ReportDigest     string    `json:"report_digest,omitempty"`
	TxHash           string    `json:"tx_hash,omitempty"`
	Error            string    `json:"error,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
}

func viewOf(a domain.Attempt) AttemptView {
	return AttemptView{
		ID:               a.ID,
		MarketID:         a.MarketID,
		Trigger:          string(a.Trigger),
		State:            string(a.State),
		LastGoodState:    string(a.LastGoodState),
		ResolutionSource: a.ResolutionSource,
		Route:            a.Route,
		Unavailable:      a.Unavailable,
		Outcome:          a.Outcome,
		Confidence:       a.Confidence,
		Reasoning:        a.Reasoning,
		PromptDigest:     a.PromptDigest,
		ReportDigest:     a.ReportDigest,
		TxHash:           a.TxHash,
		Error:            a.Error,
		StartedAt:        a.StartedAt,
		FinishedAt:       a.FinishedAt,
	}
}
