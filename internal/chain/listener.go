package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marketsettler/internal/domain"
)

// LogBackend is the subset of ethclient.Client the listener needs.
type LogBackend interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Handler processes one settlement request. It must not block forever.
type Handler func(ctx context.Context, req domain.SettlementRequest)

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	Address       common.Address
	StartBlock    uint64 // first block to scan when no cursor is stored; zero means the finalized head
	PollInterval  time.Duration
	MaxBlockRange uint64
	Concurrency   int
	CursorName    string
	// UseLatest follows the latest block instead of the finalized one, for
	// development chains without a finalized tag.
	UseLatest bool
}

// Listener polls finalized blocks for SettlementRequested logs and hands
// each one to a Handler. Delivery is at least once: the cursor advances only
// after every handler in a batch has returned.
type Listener struct {
	backend LogBackend
	cursors domain.CursorStore // optional
	handler Handler
	cfg     ListenerConfig
	logger  *slog.Logger

	next uint64 // next block to scan; zero until initialised
}

// NewListener creates a Listener.
func NewListener(backend LogBackend, cursors domain.CursorStore, handler Handler, cfg ListenerConfig, logger *slog.Logger) *Listener {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 12 * time.Second
	}
	if cfg.MaxBlockRange == 0 {
		cfg.MaxBlockRange = 2000
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.CursorName == "" {
		cfg.CursorName = "settlement_requested:" + cfg.Address.Hex()
	}
	return &Listener{
		backend: backend,
		cursors: cursors,
		handler: handler,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "listener")),
	}
}

// Run polls until ctx is cancelled. RPC failures back off exponentially.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.InfoContext(ctx, "listener started",
		slog.String("address", l.cfg.Address.Hex()),
		slog.Duration("poll_interval", l.cfg.PollInterval),
	)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 2 * time.Minute
	bo.MaxElapsedTime = 0

	wait := time.Duration(0)
	for {
		select {
		case <-ctx.Done():
			l.logger.InfoContext(ctx, "listener stopped")
			return nil
		case <-time.After(wait):
		}

		n, err := l.Poll(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			continue
		case err != nil:
			wait = bo.NextBackOff()
			l.logger.WarnContext(ctx, "listener poll failed",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", wait),
			)
		case n > 0:
			bo.Reset()
			wait = 0 // more blocks may be waiting
		default:
			bo.Reset()
			wait = l.cfg.PollInterval
		}
	}
}

// Poll scans one block range and returns the number of blocks covered.
func (l *Listener) Poll(ctx context.Context) (uint64, error) {
	head, err := l.head(ctx)
	if err != nil {
		return 0, err
	}
	if l.next == 0 {
		if err := l.init(ctx, head); err != nil {
			return 0, err
		}
	}
	if l.next > head {
		return 0, nil
	}

	to := head
	if to-l.next+1 > l.cfg.MaxBlockRange {
		to = l.next + l.cfg.MaxBlockRange - 1
	}

	logs, err := l.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(l.next),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{l.cfg.Address},
		Topics:    [][]common.Hash{{SettlementRequestedTopic}},
	})
	if err != nil {
		return 0, fmt.Errorf("chain: filter logs %d-%d: %w", l.next, to, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.Concurrency)
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		req, err := ParseSettlementRequested(lg)
		if err != nil {
			l.logger.WarnContext(ctx, "skipping malformed log",
				slog.String("tx_hash", lg.TxHash.Hex()),
				slog.String("error", err.Error()),
			)
			continue
		}
		l.logger.InfoContext(ctx, "settlement requested",
			slog.String("market_id", req.MarketID.String()),
			slog.Uint64("block", req.BlockNumber),
		)
		g.Go(func() error {
			l.handler(gctx, req)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	covered := to - l.next + 1
	l.next = to + 1
	if l.cursors != nil {
		if err := l.cursors.SaveCursor(ctx, l.cfg.CursorName, to); err != nil {
			l.logger.WarnContext(ctx, "save cursor failed", slog.String("error", err.Error()))
		}
	}
	return covered, nil
}

func (l *Listener) head(ctx context.Context) (uint64, error) {
	tag := big.NewInt(int64(rpc.FinalizedBlockNumber))
	if l.cfg.UseLatest {
		tag = nil
	}
	h, err := l.backend.HeaderByNumber(ctx, tag)
	if err != nil {
		return 0, fmt.Errorf("chain: head: %w", err)
	}
	return h.Number.Uint64(), nil
}

func (l *Listener) init(ctx context.Context, head uint64) error {
	if l.cursors != nil {
		last, err := l.cursors.LoadCursor(ctx, l.cfg.CursorName)
		switch {
		case err == nil && last > 0:
			l.next = last + 1
			return nil
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			return fmt.Errorf("chain: load cursor: %w", err)
		}
	}
	l.next = l.cfg.StartBlock
	if l.next == 0 {
		l.next = head
	}
	return nil
}

// ParseSettlementRequested decodes a SettlementRequested(uint256 indexed) log.
func ParseSettlementRequested(lg types.Log) (domain.SettlementRequest, error) {
	if len(lg.Topics) != 2 || lg.Topics[0] != SettlementRequestedTopic {
		return domain.SettlementRequest{}, fmt.Errorf("chain: not a SettlementRequested log (%d topics)", len(lg.Topics))
	}
	return domain.SettlementRequest{
		MarketID:    new(big.Int).SetBytes(lg.Topics[1].Bytes()),
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    lg.Index,
	}, nil
}
