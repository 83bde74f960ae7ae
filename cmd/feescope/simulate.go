package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"feeScope/internal/config"
	"feeScope/internal/engine"
	"feeScope/internal/feed"
	"feeScope/internal/policy"
	"feeScope/internal/replay"
	"feeScope/internal/sim"
	"feeScope/internal/storage"
)

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadSimulate(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.Policy.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider := policy.NewStatic(cfg.Policy)
	mgr := engine.NewManager(provider, parseGovernance(cfg.Governance), logger)

	var sink storage.Storage
	if cfg.Out != "" {
		sink = storage.NewJsonlStorage(cfg.Out)
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

	runner := sim.NewRunner(sim.Config{
		Pools:       cfg.Pools,
		Steps:       cfg.Steps,
		StepSeconds: cfg.StepSeconds,
		StartTime:   cfg.StartTime,
		Walk:        cfg.Walk,
		ShockEvery:  cfg.ShockEvery,
		ShockSize:   cfg.ShockSize,
		Seed:        cfg.Seed,
		FlushEvery:  cfg.FlushEvery,
	}, mgr, sink, hub, logger)

	logger.Info("simulate start",
		zap.Int("pools", cfg.Pools),
		zap.Int("steps", cfg.Steps),
		zap.Uint32("step_seconds", cfg.StepSeconds),
		zap.Float64("walk", cfg.Walk),
		zap.Int("shock_every", cfg.ShockEvery),
		zap.Int32("shock_size", cfg.ShockSize),
		zap.String("out", cfg.Out),
	)

	return runner.Run(ctx)
}

func parseGovernance(input string) common.Address {
	if input == "" {
		return common.Address{}
	}
	if !common.IsHexAddress(input) {
		return common.Address{}
	}
	return common.HexToAddress(input)
}
