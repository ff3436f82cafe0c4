// Package app wires the settler together and runs it in the configured
// mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/marketsettler/internal/config"
)

// Options carries command-line inputs that are not part of the config file.
type Options struct {
	// MarketID is the market settled by once mode.
	MarketID string
}

// App owns the configuration, logger and cleanup functions, which run in
// reverse order on Close.
type App struct {
	cfg     *config.Config
	opts    Options
	logger  *slog.Logger
	closers []func()
}

// New creates the application. Dependencies are built in Run.
func New(cfg *config.Config, opts Options, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		opts:   opts,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies and blocks in the selected mode until ctx is
// cancelled or the mode finishes.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch mode {
	case "listen":
		return a.ListenMode(ctx, deps)
	case "once":
		return a.OnceMode(ctx, deps, a.opts.MarketID)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close releases resources. Further calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
