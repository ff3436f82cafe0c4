package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load decodes the TOML file at path over Defaults, loads .env when present
// and applies environment overrides. An empty path skips the file. The
// result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides copies every set SETTLER_* variable onto cfg so secrets
// can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	// chain
	setStr(&cfg.Chain.RPCURL, "SETTLER_CHAIN_RPC_URL")
	setStr(&cfg.Chain.Network, "SETTLER_CHAIN_NETWORK")
	setInt64(&cfg.Chain.ChainID, "SETTLER_CHAIN_CHAIN_ID")
	setStr(&cfg.Chain.MarketAddress, "SETTLER_CHAIN_MARKET_ADDRESS")
	setStr(&cfg.Chain.ReceiverAddress, "SETTLER_CHAIN_RECEIVER_ADDRESS")
	setUint64(&cfg.Chain.GasLimit, "SETTLER_CHAIN_GAS_LIMIT")
	setInt64(&cfg.Chain.GasFeeFactor, "SETTLER_CHAIN_GAS_FEE_FACTOR")
	setDuration(&cfg.Chain.ReceiptTimeout, "SETTLER_CHAIN_RECEIPT_TIMEOUT")
	setBool(&cfg.Chain.UseLatest, "SETTLER_CHAIN_USE_LATEST")

	// executor
	setStr(&cfg.Executor.PrivateKey, "SETTLER_EXECUTOR_PRIVATE_KEY")
	setStr(&cfg.Executor.EncryptedKeyPath, "SETTLER_EXECUTOR_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Executor.KeyPassword, "SETTLER_EXECUTOR_KEY_PASSWORD")

	// providers
	setStr(&cfg.Providers.PolymarketGammaURL, "SETTLER_PROVIDERS_POLYMARKET_GAMMA_URL")
	setStr(&cfg.Providers.KalshiBaseURL, "SETTLER_PROVIDERS_KALSHI_BASE_URL")
	setStr(&cfg.Providers.KalshiAPIKey, "SETTLER_PROVIDERS_KALSHI_API_KEY")
	setStr(&cfg.Providers.KalshiRSAKeyPath, "SETTLER_PROVIDERS_KALSHI_RSA_KEY_PATH")
	setDuration(&cfg.Providers.Timeout, "SETTLER_PROVIDERS_TIMEOUT")
	setDuration(&cfg.Providers.CacheTTL, "SETTLER_PROVIDERS_CACHE_TTL")
	setFloat64(&cfg.Providers.RequestsPerSecond, "SETTLER_PROVIDERS_REQUESTS_PER_SECOND")

	// oracle; the bare OPENROUTER_API_KEY is honoured, the prefixed name wins
	setStr(&cfg.Oracle.APIKey, "OPENROUTER_API_KEY")
	setStr(&cfg.Oracle.APIKey, "SETTLER_ORACLE_API_KEY")
	setStr(&cfg.Oracle.BaseURL, "SETTLER_ORACLE_BASE_URL")
	setStr(&cfg.Oracle.Model, "SETTLER_ORACLE_MODEL")
	setInt(&cfg.Oracle.MaxTokens, "SETTLER_ORACLE_MAX_TOKENS")
	setDuration(&cfg.Oracle.Timeout, "SETTLER_ORACLE_TIMEOUT")
	setDuration(&cfg.Oracle.CacheTTL, "SETTLER_ORACLE_CACHE_TTL")

	// redis
	setBool(&cfg.Redis.Enabled, "SETTLER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SETTLER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SETTLER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SETTLER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SETTLER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SETTLER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SETTLER_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "SETTLER_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.LockTTL, "SETTLER_REDIS_LOCK_TTL")

	// store
	setStr(&cfg.Store.Driver, "SETTLER_STORE_DRIVER")
	setStr(&cfg.Store.SQLitePath, "SETTLER_STORE_SQLITE_PATH")
	setStr(&cfg.Store.DSN, "SETTLER_STORE_DSN")
	setStr(&cfg.Store.Host, "SETTLER_STORE_HOST")
	setInt(&cfg.Store.Port, "SETTLER_STORE_PORT")
	setStr(&cfg.Store.Database, "SETTLER_STORE_DATABASE")
	setStr(&cfg.Store.User, "SETTLER_STORE_USER")
	setStr(&cfg.Store.Password, "SETTLER_STORE_PASSWORD")
	setStr(&cfg.Store.SSLMode, "SETTLER_STORE_SSL_MODE")
	setInt(&cfg.Store.PoolMaxConns, "SETTLER_STORE_POOL_MAX_CONNS")
	setInt(&cfg.Store.PoolMinConns, "SETTLER_STORE_POOL_MIN_CONNS")
	setBool(&cfg.Store.RunMigrations, "SETTLER_STORE_RUN_MIGRATIONS")

	// s3
	setBool(&cfg.S3.Enabled, "SETTLER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SETTLER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SETTLER_S3_REGION")
	setStr(&cfg.S3.Bucket, "SETTLER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SETTLER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SETTLER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SETTLER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SETTLER_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "SETTLER_S3_PREFIX")

	// server
	setBool(&cfg.Server.Enabled, "SETTLER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SETTLER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SETTLER_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SETTLER_SERVER_API_KEY")
	setFloat64(&cfg.Server.RateLimitRPS, "SETTLER_SERVER_RATE_LIMIT_RPS")
	setInt(&cfg.Server.RateBurst, "SETTLER_SERVER_RATE_BURST")

	// notify
	setStr(&cfg.Notify.TelegramToken, "SETTLER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SETTLER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SETTLER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SETTLER_NOTIFY_EVENTS")

	// listener
	setUint64(&cfg.Listener.StartBlock, "SETTLER_LISTENER_START_BLOCK")
	setDuration(&cfg.Listener.PollInterval, "SETTLER_LISTENER_POLL_INTERVAL")
	setUint64(&cfg.Listener.MaxBlockRange, "SETTLER_LISTENER_MAX_BLOCK_RANGE")
	setInt(&cfg.Listener.Concurrency, "SETTLER_LISTENER_CONCURRENCY")

	setStr(&cfg.Mode, "SETTLER_MODE")
	setStr(&cfg.LogLevel, "SETTLER_LOG_LEVEL")
}

// Typed env helpers. Each leaves dst alone when the variable is unset,
// empty or unparsable.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
