// Package server exposes the attempt journal and manual settlement over
// HTTP, plus a WebSocket stream of attempt events.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/marketsettler/internal/server/handler"
	"github.com/alanyoungcy/marketsettler/internal/server/middleware"
	"github.com/alanyoungcy/marketsettler/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port         int
	CORSOrigins  []string
	APIKey       string  // empty disables authentication
	RateLimitRPS float64 // zero disables rate limiting
	RateBurst    int
}

// Handlers are the route handlers. Settle may be nil to disable manual
// settlement.
type Handlers struct {
	Health   *handler.HealthHandler
	Attempts *handler.AttemptHandler
	Settle   *handler.SettleHandler
}

// Server is the operator API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds the HTTP server for the settler API on cfg.Port.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      Routes(cfg, handlers, hub, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: handler.DefaultSettleTimeout + 30*time.Second, // manual settlement waits for the receipt
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// Routes builds the handler chain: CORS, logging, rate limit, auth, mux.
func Routes(cfg Config, handlers Handlers, hub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/attempts", handlers.Attempts.ListAttempts)
	mux.HandleFunc("GET /api/attempts/{id}", handlers.Attempts.GetAttempt)
	mux.HandleFunc("GET /api/attempts/{id}/evidence", handlers.Attempts.GetEvidence)
	if handlers.Settle != nil {
		mux.HandleFunc("POST /api/markets/{id}/settle", handlers.Settle.Settle)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	if cfg.RateLimitRPS > 0 {
		h = middleware.RateLimit(cfg.RateLimitRPS, max(cfg.RateBurst, 1))(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start blocks serving requests until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
