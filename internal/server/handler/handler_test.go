package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketsettler/internal/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAttempts struct {
	byID    map[string]domain.Attempt
	filter  domain.AttemptFilter
	listErr error
}

func (f *fakeAttempts) Record(context.Context, domain.Attempt) error { return nil }

func (f *fakeAttempts) GetByID(_ context.Context, id string) (domain.Attempt, error) {
	a, ok := f.byID[id]
	if !ok {
		return domain.Attempt{}, fmt.Errorf("get %s: %w", id, domain.ErrNotFound)
	}
	return a, nil
}

func (f *fakeAttempts) List(_ context.Context, filter domain.AttemptFilter) ([]domain.Attempt, error) {
	f.filter = filter
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.Attempt
	for _, a := range f.byID {
		out = append(out, a)
	}
	return out, nil
}

type fakeEvidence struct {
	stored map[string]domain.AttemptEvidence
}

func (f *fakeEvidence) Archive(context.Context, domain.AttemptEvidence) (string, error) {
	return "", nil
}

func (f *fakeEvidence) Fetch(_ context.Context, marketID, attemptID string) (domain.AttemptEvidence, error) {
	ev, ok := f.stored[marketID+"/"+attemptID]
	if !ok {
		return domain.AttemptEvidence{}, domain.ErrNotFound
	}
	return ev, nil
}

type fakeSettler struct {
	att     domain.Attempt
	err     error
	gotID   *big.Int
	trigger domain.Trigger
	ctxErr  error
	hasDL   bool
}

func (f *fakeSettler) Settle(ctx context.Context, id *big.Int, trigger domain.Trigger) (domain.Attempt, error) {
	f.gotID = id
	f.trigger = trigger
	f.ctxErr = ctx.Err()
	_, f.hasDL = ctx.Deadline()
	return f.att, f.err
}

type fakeAudit struct {
	entries []domain.AuditEntry
}

func (f *fakeAudit) Log(_ context.Context, e domain.AuditEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeAudit) List(context.Context, domain.AuditFilter) ([]domain.AuditEntry, error) {
	return f.entries, nil
}

func (f *fakeAudit) events() []string {
	var out []string
	for _, e := range f.entries {
		out = append(out, e.Event)
	}
	return out
}

func serve(method, pattern, target string, h http.HandlerFunc) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc(method+" "+pattern, h)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler(nil, quietLogger())
	rec := serve(http.MethodGet, "/api/health", "/api/health", h.HealthCheck)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHealthCheck_Degraded(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{
		"redis": func(context.Context) error { return errors.New("connection refused") },
		"store": func(context.Context) error { return nil },
	}, quietLogger())
	rec := serve(http.MethodGet, "/api/health", "/api/health", h.HealthCheck)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Dependencies["store"])
	assert.Equal(t, "connection refused", body.Dependencies["redis"])
}

func TestListAttempts(t *testing.T) {
	store := &fakeAttempts{byID: map[string]domain.Attempt{
		"a1": {ID: "a1", MarketID: "7", State: domain.StateReportSubmitted},
	}}
	h := NewAttemptHandler(store, nil, quietLogger())

	rec := serve(http.MethodGet, "/api/attempts", "/api/attempts?market=7&limit=9999&offset=2", h.ListAttempts)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.AttemptFilter{MarketID: "7", Limit: maxLimit, Offset: 2}, store.filter)

	var body listAttemptsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Attempts, 1)
	assert.Equal(t, "report_submitted", body.Attempts[0].State)
}

func TestListAttempts_EmptyIsArray(t *testing.T) {
	h := NewAttemptHandler(&fakeAttempts{}, nil, quietLogger())
	rec := serve(http.MethodGet, "/api/attempts", "/api/attempts", h.ListAttempts)
	assert.JSONEq(t, `{"attempts":[]}`, rec.Body.String())
}

func TestListAttempts_StoreError(t *testing.T) {
	h := NewAttemptHandler(&fakeAttempts{listErr: errors.New("db down")}, nil, quietLogger())
	rec := serve(http.MethodGet, "/api/attempts", "/api/attempts", h.ListAttempts)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetAttempt(t *testing.T) {
	outcome := 1
	store := &fakeAttempts{byID: map[string]domain.Attempt{
		"a1": {ID: "a1", MarketID: "7", Outcome: &outcome, Confidence: 88},
	}}
	h := NewAttemptHandler(store, nil, quietLogger())

	rec := serve(http.MethodGet, "/api/attempts/{id}", "/api/attempts/a1", h.GetAttempt)
	require.Equal(t, http.StatusOK, rec.Code)
	var view AttemptView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.NotNil(t, view.Outcome)
	assert.Equal(t, 1, *view.Outcome)
	assert.Equal(t, 88, view.Confidence)

	rec = serve(http.MethodGet, "/api/attempts/{id}", "/api/attempts/missing", h.GetAttempt)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetEvidence(t *testing.T) {
	store := &fakeAttempts{byID: map[string]domain.Attempt{
		"a1": {ID: "a1", MarketID: "7"},
		"a2": {ID: "a2", MarketID: "7"},
	}}
	archive := &fakeEvidence{stored: map[string]domain.AttemptEvidence{
		"7/a1": {AttemptID: "a1", MarketID: "7", RawResponse: `{"outcome":0}`},
	}}
	h := NewAttemptHandler(store, archive, quietLogger())

	rec := serve(http.MethodGet, "/api/attempts/{id}/evidence", "/api/attempts/a1/evidence", h.GetEvidence)
	require.Equal(t, http.StatusOK, rec.Code)
	var ev domain.AttemptEvidence
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ev))
	assert.Equal(t, `{"outcome":0}`, ev.RawResponse)

	rec = serve(http.MethodGet, "/api/attempts/{id}/evidence", "/api/attempts/a2/evidence", h.GetEvidence)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetEvidence_NoArchive(t *testing.T) {
	h := NewAttemptHandler(&fakeAttempts{}, nil, quietLogger())
	rec := serve(http.MethodGet, "/api/attempts/{id}/evidence", "/api/attempts/a1/evidence", h.GetEvidence)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSettle(t *testing.T) {
	tests := []struct {
		name   string
		target string
		att    domain.Attempt
		err    error
		want   int
		events []string
	}{
		{
			name:   "success",
			target: "/api/markets/42/settle",
			att:    domain.Attempt{ID: "a1", MarketID: "42", State: domain.StateReportSubmitted},
			want:   http.StatusOK,
			events: []string{domain.AuditManualSettleRequested, domain.AuditManualSettleFinished},
		},
		{
			name:   "bad id",
			target: "/api/markets/-3/settle",
			want:   http.StatusBadRequest,
		},
		{
			name:   "locked",
			target: "/api/markets/42/settle",
			err:    domain.ErrLockHeld,
			want:   http.StatusConflict,
			events: []string{domain.AuditManualSettleRequested},
		},
		{
			name:   "invalid market",
			target: "/api/markets/42/settle",
			att:    domain.Attempt{ID: "a1", State: domain.StateFailed},
			err:    fmt.Errorf("settlement: context_loaded: %w", domain.ErrInvalidMarket),
			want:   http.StatusUnprocessableEntity,
			events: []string{domain.AuditManualSettleRequested, domain.AuditManualSettleFinished},
		},
		{
			name:   "oracle failure",
			target: "/api/markets/42/settle",
			att:    domain.Attempt{ID: "a1", State: domain.StateFailed, Error: "boom"},
			err:    domain.ErrNetworkUnavailable,
			want:   http.StatusBadGateway,
			events: []string{domain.AuditManualSettleRequested, domain.AuditManualSettleFinished},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settler := &fakeSettler{att: tt.att, err: tt.err}
			audit := &fakeAudit{}
			h := NewSettleHandler(settler, audit, quietLogger())

			rec := serve(http.MethodPost, "/api/markets/{id}/settle", tt.target, h.Settle)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusBadRequest {
				assert.Nil(t, settler.gotID)
				return
			}
			assert.Equal(t, "42", settler.gotID.String())
			assert.Equal(t, domain.TriggerManual, settler.trigger)
			assert.Equal(t, tt.events, audit.events())
		})
	}
}

func TestSettle_AuditsAttemptOutcome(t *testing.T) {
	one := 1
	settler := &fakeSettler{att: domain.Attempt{
		ID:       "a9",
		MarketID: "42",
		State:    domain.StateReportSubmitted,
		Route:    "api_data",
		Outcome:  &one,
		TxHash:   "0xabc",
	}}
	audit := &fakeAudit{}
	h := NewSettleHandler(settler, audit, quietLogger())

	rec := serve(http.MethodPost, "/api/markets/{id}/settle", "/api/markets/42/settle", h.Settle)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, audit.entries, 2)

	requested, finished := audit.entries[0], audit.entries[1]
	assert.Equal(t, "42", requested.MarketID)
	assert.Empty(t, requested.AttemptID)
	assert.NotEmpty(t, requested.Actor)
	assert.Equal(t, "a9", finished.AttemptID)
	assert.Equal(t, "42", finished.MarketID)
	assert.Equal(t, "report_submitted", finished.Detail["state"])
	assert.Equal(t, 1, finished.Detail["outcome"])
	assert.Equal(t, "0xabc", finished.Detail["tx_hash"])
}

func TestSettle_SurvivesClientDisconnect(t *testing.T) {
	settler := &fakeSettler{att: domain.Attempt{ID: "a1", MarketID: "42", State: domain.StateReportSubmitted}}
	h := NewSettleHandler(settler, nil, quietLogger())

	reqCtx, cancel := context.WithCancel(context.Background())
	cancel()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/markets/{id}/settle", h.Settle)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/markets/42/settle", nil).WithContext(reqCtx)
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, settler.ctxErr)
	assert.True(t, settler.hasDL, "manual attempt should be bounded")
}
