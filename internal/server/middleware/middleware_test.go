package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestAuth(t *testing.T) {
	h := Auth("secret", "/api/health")(ok)

	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"missing", "/api/attempts", nil, http.StatusUnauthorized},
		{"wrong", "/api/attempts", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"bearer", "/api/attempts", map[string]string{"Authorization": "Bearer secret"}, http.StatusNoContent},
		{"header", "/api/attempts", map[string]string{"X-API-Key": "secret"}, http.StatusNoContent},
		{"open path", "/api/health", nil, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAuth_Disabled(t *testing.T) {
	rec := httptest.NewRecorder()
	Auth("")(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/attempts", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://dash.example"})(ok)

	req := httptest.NewRequest(http.MethodOptions, "/api/attempts", nil)
	req.Header.Set("Origin", "https://dash.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/attempts", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLogging_RecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	rec := httptest.NewRecorder()
	Logging(logger)(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Contains(t, buf.String(), `"status":204`)
	assert.Contains(t, buf.String(), `"path":"/api/health"`)
}

func TestClientLimiters(t *testing.T) {
	l := newClientLimiters(1, 2, time.Minute)
	now := time.Unix(1000, 0)

	assert.True(t, l.allow("1.1.1.1", now))
	assert.True(t, l.allow("1.1.1.1", now))
	assert.False(t, l.allow("1.1.1.1", now))
	assert.True(t, l.allow("2.2.2.2", now), "limits are per client")
	assert.True(t, l.allow("1.1.1.1", now.Add(time.Second)))

	l.allow("3.3.3.3", now.Add(5*time.Minute))
	l.mu.Lock()
	_, kept := l.clients["2.2.2.2"]
	l.mu.Unlock()
	assert.False(t, kept, "idle clients are swept")
}

func TestRateLimit_Rejects(t *testing.T) {
	h := RateLimit(1, 1)(ok)
	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/", nil))
	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusNoContent, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", clientIP(req))
	req.Header.Set("X-Forwarded-For", "9.9.9.9, 10.0.0.1")
	assert.Equal(t, "9.9.9.9", clientIP(req))
}
