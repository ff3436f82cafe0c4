// Package config defines the settler configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsettler/internal/chain"
)

// Config is the root configuration. Fields come from a TOML file and are
// then overridden by SETTLER_* environment variables.
type Config struct {
	Chain     ChainConfig     `toml:"chain"`
	Executor  ExecutorConfig  `toml:"executor"`
	Providers ProvidersConfig `toml:"providers"`
	Oracle    OracleConfig    `toml:"oracle"`
	Redis     RedisConfig     `toml:"redis"`
	Store     StoreConfig     `toml:"store"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Listener  ListenerConfig  `toml:"listener"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ChainConfig selects the network and the market contract.
type ChainConfig struct {
	RPCURL string `toml:"rpc_url"`
	// Network is a chain selector name such as "ethereum-testnet-sepolia-base-1".
	Network string `toml:"network"`
	// ChainID overrides the id derived from Network when non-zero.
	ChainID       int64  `toml:"chain_id"`
	MarketAddress string `toml:"market_address"`
	// ReceiverAddress receives onReport calls; empty means MarketAddress.
	ReceiverAddress string   `toml:"receiver_address"`
	GasLimit        uint64   `toml:"gas_limit"`
	GasFeeFactor    int64    `toml:"gas_fee_factor"`
	ReceiptTimeout  duration `toml:"receipt_timeout"`
	UseLatest       bool     `toml:"use_latest"`
}

// ExecutorConfig holds the key that signs reports and transactions.
type ExecutorConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ProvidersConfig configures the market data providers.
type ProvidersConfig struct {
	PolymarketGammaURL string   `toml:"polymarket_gamma_url"`
	KalshiBaseURL      string   `toml:"kalshi_base_url"`
	KalshiAPIKey       string   `toml:"kalshi_api_key"`
	KalshiRSAKeyPath   string   `toml:"kalshi_rsa_key_path"`
	Timeout            duration `toml:"timeout"`
	CacheTTL           duration `toml:"cache_ttl"`
	RequestsPerSecond  float64  `toml:"requests_per_second"`
}

// OracleConfig configures the OpenRouter completion client.
type OracleConfig struct {
	APIKey    string   `toml:"api_key"`
	BaseURL   string   `toml:"base_url"`
	Model     string   `toml:"model"`
	MaxTokens int      `toml:"max_tokens"`
	Timeout   duration `toml:"timeout"`
	SiteURL   string   `toml:"site_url"`
	SiteName  string   `toml:"site_name"`
	CacheTTL  duration `toml:"cache_ttl"`
}

// RedisConfig configures the shared cache, market lock and event bus.
// Disabled Redis falls back to in-process equivalents.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	LockTTL    duration `toml:"lock_ttl"`
}

// StoreConfig selects the attempt journal backend: sqlite, postgres or none.
type StoreConfig struct {
	Driver        string `toml:"driver"`
	SQLitePath    string `toml:"sqlite_path"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config configures the evidence archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled      bool     `toml:"enabled"`
	Port         int      `toml:"port"`
	CORSOrigins  []string `toml:"cors_origins"`
	APIKey       string   `toml:"api_key"`
	RateLimitRPS float64  `toml:"rate_limit_rps"`
	RateBurst    int      `toml:"rate_burst"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ListenerConfig tunes the SettlementRequested poller.
type ListenerConfig struct {
	StartBlock    uint64   `toml:"start_block"`
	PollInterval  duration `toml:"poll_interval"`
	MaxBlockRange uint64   `toml:"max_block_range"`
	Concurrency   int      `toml:"concurrency"`
}

// duration lets TOML carry strings like "5m" or "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the configuration used for every field a file leaves out.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			Network:        "ethereum-testnet-sepolia-base-1",
			GasFeeFactor:   2,
			ReceiptTimeout: duration{2 * time.Minute},
		},
		Providers: ProvidersConfig{
			PolymarketGammaURL: "https://gamma-api.polymarket.com",
			KalshiBaseURL:      "https://api.elections.kalshi.com/trade-api/v2",
			Timeout:            duration{15 * time.Second},
			CacheTTL:           duration{60 * time.Second},
			RequestsPerSecond:  5,
		},
		Oracle: OracleConfig{
			BaseURL:   "https://openrouter.ai/api/v1",
			Model:     "google/gemini-2.0-flash-001",
			MaxTokens: 256,
			Timeout:   duration{60 * time.Second},
			CacheTTL:  duration{5 * time.Minute},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			KeyPrefix:  "settler",
			LockTTL:    duration{5 * time.Minute},
		},
		Store: StoreConfig{
			Driver:        "sqlite",
			SQLitePath:    "data/settler.db",
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "settler-evidence",
			ForcePathStyle: true,
			Prefix:         "evidence",
		},
		Server: ServerConfig{
			Enabled:      true,
			Port:         8000,
			CORSOrigins:  []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitRPS: 10,
			RateBurst:    20,
		},
		Notify: NotifyConfig{
			Events: []string{"settled", "settlement_failed"},
		},
		Listener: ListenerConfig{
			PollInterval:  duration{12 * time.Second},
			MaxBlockRange: 2000,
			Concurrency:   4,
		},
		Mode:     "listen",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"listen": true,
	"once":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validDrivers = map[string]bool{
	"sqlite":   true,
	"postgres": true,
	"none":     true,
}

// ResolvedChainID returns chain.chain_id, or the id of chain.network.
func (c *Config) ResolvedChainID() (int64, error) {
	if c.Chain.ChainID > 0 {
		return c.Chain.ChainID, nil
	}
	n, err := chain.LookupNetwork(c.Chain.Network)
	if err != nil {
		return 0, err
	}
	return n.ChainID, nil
}

// Receiver returns the onReport target address.
func (c *Config) Receiver() string {
	if c.Chain.ReceiverAddress != "" {
		return c.Chain.ReceiverAddress
	}
	return c.Chain.MarketAddress
}

// Validate returns one error listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: listen, once)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if !common.IsHexAddress(c.Chain.MarketAddress) {
		errs = append(errs, fmt.Sprintf("chain: market_address %q is not a hex address", c.Chain.MarketAddress))
	}
	if c.Chain.ReceiverAddress != "" && !common.IsHexAddress(c.Chain.ReceiverAddress) {
		errs = append(errs, fmt.Sprintf("chain: receiver_address %q is not a hex address", c.Chain.ReceiverAddress))
	}
	if _, err := c.ResolvedChainID(); err != nil {
		errs = append(errs, fmt.Sprintf("chain: %v (known: %s)", err, strings.Join(chain.NetworkNames(), ", ")))
	}

	if c.Executor.PrivateKey == "" && c.Executor.EncryptedKeyPath == "" {
		errs = append(errs, "executor: either private_key or encrypted_key_path must be set")
	}
	if c.Executor.EncryptedKeyPath != "" && c.Executor.KeyPassword == "" {
		errs = append(errs, "executor: key_password is required when encrypted_key_path is set")
	}

	if c.Providers.Timeout.Duration <= 0 {
		errs = append(errs, "providers: timeout must be > 0")
	}
	if c.Providers.RequestsPerSecond < 0 {
		errs = append(errs, "providers: requests_per_second must be >= 0")
	}

	if c.Oracle.APIKey == "" {
		errs = append(errs, "oracle: api_key must be set (or OPENROUTER_API_KEY)")
	}
	if c.Oracle.Model == "" {
		errs = append(errs, "oracle: model must not be empty")
	}
	if c.Oracle.Timeout.Duration <= 0 {
		errs = append(errs, "oracle: timeout must be > 0")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	switch driver := strings.ToLower(c.Store.Driver); {
	case !validDrivers[driver]:
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: sqlite, postgres, none)", c.Store.Driver))
	case driver == "sqlite" && c.Store.SQLitePath == "":
		errs = append(errs, "store: sqlite_path must not be empty")
	case driver == "postgres":
		if strings.TrimSpace(c.Store.DSN) == "" {
			if c.Store.Host == "" {
				errs = append(errs, "store: host must not be empty (or set store.dsn)")
			}
			if c.Store.Port <= 0 || c.Store.Port > 65535 {
				errs = append(errs, fmt.Sprintf("store: port must be 1-65535, got %d", c.Store.Port))
			}
		}
		if c.Store.PoolMaxConns < 1 {
			errs = append(errs, "store: pool_max_conns must be >= 1")
		}
		if c.Store.PoolMinConns > c.Store.PoolMaxConns {
			errs = append(errs, "store: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if c.Listener.Concurrency < 1 {
		errs = append(errs, "listener: concurrency must be >= 1")
	}
	if c.Listener.PollInterval.Duration <= 0 {
		errs = append(errs, "listener: poll_interval must be > 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
