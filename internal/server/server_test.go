package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/marketsettler/internal/domain"
	"github.com/alanyoungcy/marketsettler/internal/server/handler"
)

type emptyStore struct{}

func (emptyStore) Record(context.Context, domain.Attempt) error { return nil }

func (emptyStore) GetByID(context.Context, string) (domain.Attempt, error) {
	return domain.Attempt{}, domain.ErrNotFound
}

func (emptyStore) List(context.Context, domain.AttemptFilter) ([]domain.Attempt, error) {
	return nil, nil
}

func TestRoutes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Routes(Config{APIKey: "k"}, Handlers{
		Health:   handler.NewHealthHandler(nil, logger),
		Attempts: handler.NewAttemptHandler(emptyStore{}, nil, logger),
	}, nil, logger)

	tests := []struct {
		name   string
		method string
		path   string
		key    string
		want   int
	}{
		{"health is public", http.MethodGet, "/api/health", "", http.StatusOK},
		{"attempts need key", http.MethodGet, "/api/attempts", "", http.StatusUnauthorized},
		{"attempts with key", http.MethodGet, "/api/attempts", "k", http.StatusOK},
		{"unknown attempt", http.MethodGet, "/api/attempts/x", "k", http.StatusNotFound},
		{"settle disabled", http.MethodPost, "/api/markets/1/settle", "k", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
