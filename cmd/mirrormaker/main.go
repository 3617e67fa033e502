// mirrormaker mirrors one or more source order books onto one or more
// target accounts, applying a spread and per-account volume limits, and
// hedges fills back onto the sources.
//
// Architecture:
//
//	main.go                    — entry point: loads config, starts the reactor, waits for SIGINT/SIGTERM
//	internal/reactor           — orchestrator: owns accounts/markets/strategies, runs tick and background loops
//	internal/strategy          — order-back strategy: aggregates sources, applies spread/limits, schedules hedges
//	internal/scheduler         — diffs a desired book against resting orders into create/cancel actions
//	internal/executor          — per-account dispatch queues, rate limiting, reconciliation
//	internal/orderbook         — the core book algebra (aggregate, apply spread, adjust to volume limits)
//	internal/adapter/polymarket — sample venue driver (REST + WebSocket + EIP-712/HMAC auth)
//	internal/metrics           — Prometheus collectors served over HTTP
//	internal/store             — JSON file persistence for account balances (survives restarts)
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"mirrormaker/internal/adapter/polymarket"
	"mirrormaker/internal/config"
	"mirrormaker/internal/reactor"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("MIRROR_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	drivers := map[string]reactor.Driver{
		"polymarket": polymarket.New,
	}

	r, err := reactor.New(cfg, drivers, logger)
	if err != nil {
		logger.Error("failed to create reactor", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(ctx) }()

	logger.Info("mirrormaker started",
		"accounts", len(cfg.Accounts),
		"strategies", len(cfg.Strategies),
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-runErr:
		if err != nil {
			logger.Error("reactor exited with error", "error", err)
		}
	}

	cancel()
	r.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
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
