// Package main provides the entry point for the ctxasm server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/config"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/engine"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/metrics"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/server"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/tracing"
)

// Build-time variables (set via ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := engine.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting ctxasm",
		zap.String("version", Version),
		zap.String("commit", Commit),
		zap.String("build_time", BuildTime),
	)

	tp, err := tracing.Init(context.Background(), engine.TracingConfig(cfg, Version))
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Error("failed to flush traces", zap.Error(err))
		}
	}()

	m := metrics.Default()
	eng, err := engine.Build(cfg, engine.WithLogger(logger), engine.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("failed to build assembler: %w", err)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Error("failed to close token cache", zap.Error(err))
		}
	}()

	logger.Info("assembler ready",
		zap.String("encoding", cfg.Codec.Encoding),
		zap.Int("default_token_budget", cfg.Assembly.DefaultTokenBudget),
		zap.Bool("token_cache", eng.Cache != nil),
	)

	srv := server.NewWithDeps(cfg, eng.Assembler, logger, &server.ServerDeps{
		Cache:   eng.Cache,
		Metrics: m,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGracePeriod)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
