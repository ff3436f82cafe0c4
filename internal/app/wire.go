package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	s3blob "github.com/alanyoungcy/marketsettler/internal/blob/s3"
	"github.com/alanyoungcy/marketsettler/internal/cache/memory"
	"github.com/alanyoungcy/marketsettler/internal/cache/redis"
	"github.com/alanyoungcy/marketsettler/internal/chain"
	"github.com/alanyoungcy/marketsettler/internal/config"
	"github.com/alanyoungcy/marketsettler/internal/crypto"
	"github.com/alanyoungcy/marketsettler/internal/domain"
	"github.com/alanyoungcy/marketsettler/internal/notify"
	"github.com/alanyoungcy/marketsettler/internal/platform/kalshi"
	"github.com/alanyoungcy/marketsettler/internal/platform/openrouter"
	"github.com/alanyoungcy/marketsettler/internal/platform/polymarket"
	"github.com/alanyoungcy/marketsettler/internal/server/handler"
	"github.com/alanyoungcy/marketsettler/internal/settlement"
	"github.com/alanyoungcy/marketsettler/internal/store/postgres"
	"github.com/alanyoungcy/marketsettler/internal/store/sqlite"
)

// Dependencies is everything the modes need. Optional parts are nil when
// not configured.
type Dependencies struct {
	Eth    *ethclient.Client
	Ledger *chain.Ledger
	Writer *chain.Writer
	Signer *crypto.Signer

	Cache domain.ResponseCache
	Locks domain.LockManager
	Bus   domain.SignalBus

	Attempts domain.AttemptStore    // nil with store.driver = "none"
	Cursors  domain.CursorStore     // nil with store.driver = "none"
	Audit    domain.AuditStore      // nil when store.driver is none
	Evidence domain.EvidenceArchive // nil unless s3.enabled

	Notifier   *notify.Notifier
	Dispatcher *settlement.Dispatcher

	// Health checks reported by GET /api/health.
	Health map[string]handler.Pinger
}

// Wire builds every dependency from cfg. The returned cleanup releases
// them in reverse order; on error everything built so far is released.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Health: map[string]handler.Pinger{}}

	// --- Executor key ---
	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Executor.PrivateKey,
		EncryptedKeyPath: cfg.Executor.EncryptedKeyPath,
		KeyPassword:      cfg.Executor.KeyPassword,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: executor key: %w", err))
	}
	deps.Signer, err = crypto.NewSigner(keyHex)
	if err != nil {
		return fail(fmt.Errorf("wire: executor key: %w", err))
	}

	// --- Chain ---
	chainID, err := cfg.ResolvedChainID()
	if err != nil {
		return fail(fmt.Errorf("wire: chain: %w", err))
	}
	deps.Eth, err = ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return fail(fmt.Errorf("wire: dial rpc: %w", err))
	}
	closers = append(closers, deps.Eth.Close)
	deps.Health["rpc"] = func(ctx context.Context) error {
		_, err := deps.Eth.BlockNumber(ctx)
		return err
	}

	deps.Ledger = chain.NewLedger(deps.Eth, common.HexToAddress(cfg.Chain.MarketAddress))
	deps.Writer = chain.NewWriter(deps.Eth, deps.Signer.PrivateKey(), chain.WriterConfig{
		Receiver:     common.HexToAddress(cfg.Receiver()),
		ChainID:      big.NewInt(chainID),
		GasLimit:     cfg.Chain.GasLimit,
		ReceiptWait:  cfg.Chain.ReceiptTimeout.Duration,
		GasFeeFactor: cfg.Chain.GasFeeFactor,
	}, logger)

	// --- Redis or in-process cache, lock and bus ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })
		deps.Cache = redis.NewResponseCache(rc)
		deps.Locks = redis.NewLockManager(rc)
		deps.Bus = redis.NewSignalBus(rc)
		deps.Health["redis"] = rc.Ping
	} else {
		deps.Cache = memory.NewCache()
		deps.Locks = memory.NewLocks()
		deps.Bus = memory.NewBus()
	}

	// --- Attempt journal ---
	if err := wireStore(ctx, cfg.Store, deps, &closers); err != nil {
		return fail(err)
	}

	// --- Evidence archive ---
	if cfg.S3.Enabled {
		s3c, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Evidence = s3blob.NewEvidenceArchiver(s3c, s3c, cfg.S3.Prefix)
		deps.Health["s3"] = s3c.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Providers and oracle ---
	fetcher, err := newFetcher(cfg.Providers, deps.Cache, logger)
	if err != nil {
		return fail(err)
	}
	oracle := openrouter.NewClient(openrouter.Config{
		APIKey:    cfg.Oracle.APIKey,
		BaseURL:   cfg.Oracle.BaseURL,
		Model:     cfg.Oracle.Model,
		MaxTokens: cfg.Oracle.MaxTokens,
		Timeout:   cfg.Oracle.Timeout.Duration,
		SiteURL:   cfg.Oracle.SiteURL,
		SiteName:  cfg.Oracle.SiteName,
		Cache:     deps.Cache,
		CacheTTL:  cfg.Oracle.CacheTTL.Duration,
	}, logger)

	deps.Dispatcher = settlement.NewDispatcher(settlement.DispatcherConfig{
		Ledger:    deps.Ledger,
		Fetcher:   fetcher,
		Oracle:    oracle,
		Signer:    deps.Signer,
		Writer:    deps.Writer,
		Locks:     deps.Locks,
		LockTTL:   cfg.Redis.LockTTL.Duration,
		Observers: observers(deps),
	}, logger)

	logger.InfoContext(ctx, "dependencies wired",
		slog.String("executor", deps.Signer.Address()),
		slog.Int64("chain_id", chainID),
		slog.String("market", cfg.Chain.MarketAddress),
		slog.Bool("redis", cfg.Redis.Enabled),
		slog.String("store", cfg.Store.Driver),
		slog.Bool("evidence_archive", deps.Evidence != nil),
	)
	return deps, cleanup, nil
}

func wireStore(ctx context.Context, cfg config.StoreConfig, deps *Dependencies, closers *[]func()) error {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		st, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("wire: sqlite: %w", err)
		}
		*closers = append(*closers, func() { _ = st.Close() })
		deps.Attempts = st
		deps.Cursors = st
		deps.Audit = st.Audit()
		deps.Health["store"] = st.Ping
	case "postgres":
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.DSN,
			Host:     cfg.Host,
			Port:     cfg.Port,
			Database: cfg.Database,
			User:     cfg.User,
			Password: cfg.Password,
			SSLMode:  cfg.SSLMode,
			MaxConns: cfg.PoolMaxConns,
			MinConns: cfg.PoolMinConns,
		})
		if err != nil {
			return fmt.Errorf("wire: postgres: %w", err)
		}
		*closers = append(*closers, pg.Close)
		if cfg.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		pool := pg.Pool()
		deps.Attempts = postgres.NewAttemptStore(pool)
		deps.Cursors = postgres.NewCursorStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Health["store"] = pool.Ping
	}
	return nil
}

func newFetcher(cfg config.ProvidersConfig, cache domain.ResponseCache, logger *slog.Logger) (*settlement.Fetcher, error) {
	gamma := polymarket.NewGammaClient(cfg.PolymarketGammaURL, cfg.Timeout.Duration)
	kc := kalshi.NewClient(cfg.KalshiBaseURL, cfg.KalshiAPIKey, cfg.Timeout.Duration)
	if cfg.KalshiRSAKeyPath != "" {
		pem, err := os.ReadFile(cfg.KalshiRSAKeyPath)
		if err != nil {
			return nil, fmt.Errorf("wire: kalshi key: %w", err)
		}
		if err := kc.SetRSAPrivateKey(pem); err != nil {
			return nil, fmt.Errorf("wire: kalshi key: %w", err)
		}
	}

	return settlement.NewFetcher(map[domain.Provider]settlement.SourceFunc{
		domain.ProviderPolymarketEvents:  gamma.TopEvents,
		domain.ProviderPolymarketMarkets: gamma.TopMarkets,
		domain.ProviderKalshiMarkets:     kc.OpenMarkets,
		domain.ProviderKalshiTrades:      kc.RecentTrades,
	}, settlement.FetcherOptions{
		Cache:             cache,
		CacheTTL:          cfg.CacheTTL.Duration,
		RequestsPerSecond: cfg.RequestsPerSecond,
	}, logger), nil
}

// observers runs the journal first so the API sees an attempt before its
// event is broadcast.
func observers(deps *Dependencies) []settlement.Observer {
	var obs []settlement.Observer
	if deps.Attempts != nil {
		obs = append(obs, settlement.JournalObserver(deps.Attempts))
	}
	if deps.Evidence != nil {
		obs = append(obs, settlement.ArchiveObserver(deps.Evidence))
	}
	obs = append(obs, settlement.BusObserver(deps.Bus))
	if deps.Notifier.Enabled() {
		obs = append(obs, settlement.NotifyObserver(deps.Notifier))
	}
	return obs
}
