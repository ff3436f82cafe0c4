package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marketsettler/internal/chain"
	"github.com/alanyoungcy/marketsettler/internal/domain"
	"github.com/alanyoungcy/marketsettler/internal/server"
	"github.com/alanyoungcy/marketsettler/internal/server/handler"
	"github.com/alanyoungcy/marketsettler/internal/server/ws"
	"github.com/alanyoungcy/marketsettler/internal/settlement"
)

const shutdownTimeout = 10 * time.Second

// ListenMode follows SettlementRequested events and serves the operator API
// until ctx is cancelled.
func (a *App) ListenMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting listen mode")

	g, ctx := errgroup.WithContext(ctx)

	listener := chain.NewListener(deps.Eth, deps.Cursors, eventHandler(deps.Dispatcher, a.logger), chain.ListenerConfig{
		Address:       common.HexToAddress(a.cfg.Chain.MarketAddress),
		StartBlock:    a.cfg.Listener.StartBlock,
		PollInterval:  a.cfg.Listener.PollInterval.Duration,
		MaxBlockRange: a.cfg.Listener.MaxBlockRange,
		Concurrency:   a.cfg.Listener.Concurrency,
		UseLatest:     a.cfg.Chain.UseLatest,
	}, a.logger)
	g.Go(func() error {
		return listener.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	return g.Wait()
}

// OnceMode settles a single market and returns an error if the attempt
// did not reach ReportSubmitted.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies, marketID string) error {
	a.logger.InfoContext(ctx, "starting once mode", slog.String("market_id", marketID))
	att, err := settleOnce(ctx, deps.Dispatcher, marketID)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "market settled",
		slog.String("attempt_id", att.ID),
		slog.String("tx_hash", att.TxHash),
	)
	return nil
}

func settleOnce(ctx context.Context, s handler.Settler, raw string) (domain.Attempt, error) {
	id, ok := new(big.Int).SetString(raw, 10)
	if !ok || id.Sign() < 0 {
		return domain.Attempt{}, fmt.Errorf("once mode: invalid market id %q", raw)
	}
	att, err := s.Settle(ctx, id, domain.TriggerOnce)
	if err != nil {
		return att, fmt.Errorf("once mode: market %s: %w", id, err)
	}
	return att, nil
}

// eventHandler runs one attempt per SettlementRequested log. Outcomes are
// logged and journaled by the dispatcher; the handler only notes skips.
func eventHandler(s handler.Settler, logger *slog.Logger) chain.Handler {
	return func(ctx context.Context, req domain.SettlementRequest) {
		_, err := s.Settle(ctx, req.MarketID, domain.TriggerEvent)
		if errors.Is(err, domain.ErrLockHeld) {
			logger.DebugContext(ctx, "settlement already in progress",
				slog.String("market_id", req.MarketID.String()),
				slog.String("tx_hash", req.TxHash),
			)
		}
	}
}

// startHTTPServer runs the API and the attempt stream hub inside g, and
// shuts the server down when ctx ends.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.Bus, settlement.AttemptsChannel, a.logger)
	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("ws hub: %w", err)
		}
		return nil
	})

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.Health, a.logger),
		Settle: handler.NewSettleHandler(deps.Dispatcher, deps.Audit, a.logger),
	}
	if deps.Attempts != nil {
		handlers.Attempts = handler.NewAttemptHandler(deps.Attempts, deps.Evidence, a.logger)
	} else {
		handlers.Attempts = handler.NewAttemptHandler(noAttempts{}, deps.Evidence, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		APIKey:       a.cfg.Server.APIKey,
		RateLimitRPS: a.cfg.Server.RateLimitRPS,
		RateBurst:    a.cfg.Server.RateBurst,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
}

// noAttempts backs the attempt endpoints when no journal is configured.
type noAttempts struct{}

func (noAttempts) Record(context.Context, domain.Attempt) error { return nil }

func (noAttempts) GetByID(context.Context, string) (domain.Attempt, error) {
	return domain.Attempt{}, domain.ErrNotFound
}

func (noAttempts) List(context.Context, domain.AttemptFilter) ([]domain.Attempt, error) {
	return nil, nil
}
