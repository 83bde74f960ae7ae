package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"feeScope/internal/config"
	"feeScope/internal/engine"
	"feeScope/internal/feed"
	"feeScope/internal/policy"
	"feeScope/internal/replay"
	"feeScope/internal/storage"
	"feeScope/internal/storage/postgres"
)

func runReplay(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadReplay(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Input == "" {
		return fmt.Errorf("input path is required")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return err
	}

	recomputeFrom, err := config.ParseTimestamp(cfg.RecomputeFrom)
	if err != nil {
		return fmt.Errorf("parse recompute-from: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider := policy.NewStatic(cfg.Policy)
	mgr := engine.NewManager(provider, parseGovernance(cfg.Governance), logger)

	sink := storage.NewJsonlStorage(cfg.Out)

	var store *postgres.Store
	if cfg.PGDSN != "" {
		store, err = postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
	}

	var stateStore replay.StateStore
	if cfg.StateFile != "" {
		stateStore = &replay.FileStateStore{Path: cfg.StateFile}
	} else if store != nil {
		stateStore = &replay.DBStateStore{Store: store, Name: "replay"}
	}

	var hub replay.Broadcaster
	if cfg.FeedAddr != "" {
		wsHub := feed.NewHub(logger)
		go func() {
			if err := wsHub.Start(ctx, cfg.FeedAddr); err != nil {
				logger.Error("feed server stopped", zap.Error(err))
			}
		}()
		hub = wsHub
	}

	runner := replay.NewRunner(replay.RunConfig{
		BatchSize:     cfg.BatchSize,
		RecomputeFrom: recomputeFrom,
		MaxRetries:    cfg.MaxRetries,
		RetryBackoff:  cfg.RetryBackoff,
		StateStore:    stateStore,
	}, mgr, sink, store, hub, logger)

	logger.Info("replay start",
		zap.String("input", cfg.Input),
		zap.String("out", cfg.Out),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Uint64("recompute_from", recomputeFrom),
	)

	return runner.Run(ctx, cfg.Input)
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}
