// Command settler settles prediction markets: it watches the market
// contract for settlement requests, asks the AI oracle for the outcome and
// writes a signed report back on chain.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/marketsettler/internal/app"
	"github.com/alanyoungcy/marketsettler/internal/config"
	"github.com/alanyoungcy/marketsettler/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file (empty for defaults and env only)")
	market := flag.String("market", "", "market id to settle (forces once mode)")
	encryptKey := flag.String("encrypt-key", "", "write the executor key, encrypted with executor.key_password, to this path and exit")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if *encryptKey != "" {
		if err := writeEncryptedKey(cfg, *encryptKey); err != nil {
			logger.Error("encrypt key failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("encrypted executor key written", slog.String("path", *encryptKey))
		return
	}

	if *market != "" {
		cfg.Mode = "once"
	}
	if cfg.Mode == "once" && *market == "" {
		logger.Error("once mode needs -market")
		os.Exit(2)
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("settler starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)
	logger.Debug("effective configuration", slog.Any("config", config.RedactedConfig(cfg)))

	application := app.New(cfg, app.Options{MarketID: *market}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = application.Run(ctx)
	stop()
	application.Close()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	logger.Info("settler stopped")
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func writeEncryptedKey(cfg *config.Config, path string) error {
	if cfg.Executor.PrivateKey == "" || cfg.Executor.KeyPassword == "" {
		return errors.New("executor.private_key and executor.key_password must both be set")
	}
	data, err := crypto.EncryptKey(cfg.Executor.PrivateKey, cfg.Executor.KeyPassword)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
