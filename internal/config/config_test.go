package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMarket = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

func validConfig() Config {
	cfg := Defaults()
	cfg.Chain.RPCURL = "http://localhost:8545"
	cfg.Chain.MarketAddress = testMarket
	cfg.Executor.PrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	cfg.Oracle.APIKey = "sk-or-test"
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "listen", cfg.Mode)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 60*time.Second, cfg.Providers.CacheTTL.Duration)
	assert.Equal(t, []string{"settled", "settlement_failed"}, cfg.Notify.Events)

	id, err := cfg.ResolvedChainID()
	require.NoError(t, err)
	assert.EqualValues(t, 84532, id)
}

func TestValidate_OK(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, testMarket, cfg.Receiver())
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Chain.Network = "nowhere"
	cfg.Store.Driver = "mysql"
	cfg.Notify.TelegramToken = "tok"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		`unknown mode "trade"`,
		"chain: rpc_url",
		"chain: market_address",
		"unknown network",
		"executor:",
		"oracle: api_key",
		`unknown driver "mysql"`,
		"telegram_chat_id",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestValidate_ChainIDOverride(t *testing.T) {
	cfg := validConfig()
	cfg.Chain.Network = "private-devnet"
	cfg.Chain.ChainID = 31337
	require.NoError(t, cfg.Validate())
	id, _ := cfg.ResolvedChainID()
	assert.EqualValues(t, 31337, id)
}

func TestValidate_EncryptedKeyNeedsPassword(t *testing.T) {
	cfg := validConfig()
	cfg.Executor.PrivateKey = ""
	cfg.Executor.EncryptedKeyPath = "/keys/executor.enc"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key_password")
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settler.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "once"

[chain]
rpc_url = "http://file:8545"
market_address = "`+testMarket+`"

[providers]
timeout = "3s"

[store]
driver = "postgres"
`), 0o600))

	t.Setenv("SETTLER_CHAIN_RPC_URL", "http://env:8545")
	t.Setenv("OPENROUTER_API_KEY", "sk-or-bare")
	t.Setenv("SETTLER_LISTENER_START_BLOCK", "123456")
	t.Setenv("SETTLER_NOTIFY_EVENTS", "settlement_failed, ,")
	t.Setenv("SETTLER_LISTENER_CONCURRENCY", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "once", cfg.Mode)
	assert.Equal(t, "http://env:8545", cfg.Chain.RPCURL)
	assert.Equal(t, 3*time.Second, cfg.Providers.Timeout.Duration)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "sk-or-bare", cfg.Oracle.APIKey)
	assert.Equal(t, uint64(123456), cfg.Listener.StartBlock)
	assert.Equal(t, []string{"settlement_failed"}, cfg.Notify.Events)
	assert.Equal(t, 4, cfg.Listener.Concurrency, "unparsable values are ignored")
	assert.Equal(t, 2*time.Minute, cfg.Chain.ReceiptTimeout.Duration, "defaults survive")
}

func TestLoad_PrefixedOracleKeyWins(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "bare")
	t.Setenv("SETTLER_ORACLE_API_KEY", "prefixed")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "prefixed", cfg.Oracle.APIKey)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Server.APIKey = "server-key"
	cfg.Store.Password = ""

	out := RedactedConfig(&cfg)
	assert.Equal(t, redacted, out.Executor.PrivateKey)
	assert.Equal(t, redacted, out.Oracle.APIKey)
	assert.Equal(t, redacted, out.Server.APIKey)
	assert.Equal(t, redacted, out.Chain.RPCURL)
	assert.Empty(t, out.Store.Password, "empty secrets stay empty")
	assert.Equal(t, testMarket, out.Chain.MarketAddress)

	out.Notify.Events[0] = "mutated"
	assert.Equal(t, "settled", cfg.Notify.Events[0])
	assert.Equal(t, "sk-or-test", cfg.Oracle.APIKey)
}
