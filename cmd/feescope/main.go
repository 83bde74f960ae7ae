package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "feescope",
		Short:        "Bounded-movement tick oracle and dynamic fee engine",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive a synthetic market through the fee engine",
		RunE:  runSimulate,
	}

	simulateCmd.Flags().Int("pools", 1, "number of synthetic pools")
	simulateCmd.Flags().Int("steps", 24, "settlement steps to simulate")
	simulateCmd.Flags().Uint32("step-seconds", 3600, "seconds between steps")
	simulateCmd.Flags().Uint32("start-time", 1, "initial clock value (seconds)")
	simulateCmd.Flags().Float64("walk", 10.0, "stddev of per-step tick movement")
	simulateCmd.Flags().Int("shock-every", 0, "inject a shock every N steps (0 disables)")
	simulateCmd.Flags().Int32("shock-size", 0, "tick magnitude of a shock")
	simulateCmd.Flags().Int64("seed", 0, "random seed")
	simulateCmd.Flags().Int("flush-every", 100, "flush the snapshot batch every N steps")
	simulateCmd.Flags().String("out", "./data/snapshots.jsonl", "output JSONL path")
	simulateCmd.Flags().String("feed-addr", "", "websocket feed listen address (empty disables)")
	simulateCmd.Flags().String("governance", "", "governance address (hex)")
	simulateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	addPolicyFlags(simulateCmd)

	root.AddCommand(simulateCmd)

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay swap events through the fee engine",
		RunE:  runReplay,
	}

	replayCmd.Flags().String("in", "", "input swap events JSONL")
	replayCmd.Flags().String("out", "./data/snapshots.jsonl", "output JSONL path")
	replayCmd.Flags().String("pg-dsn", "", "Postgres DSN (empty disables DB writes)")
	replayCmd.Flags().Int("batch-size", 1000, "batch size for snapshot writes")
	replayCmd.Flags().String("state-file", "", "optional local state file for progress tracking")
	replayCmd.Flags().String("recompute-from", "", "recompute from timestamp (unix seconds or RFC3339)")
	replayCmd.Flags().Int("max-retries", 5, "maximum DB retry attempts")
	replayCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial DB retry backoff")
	replayCmd.Flags().String("feed-addr", "", "websocket feed listen address (empty disables)")
	replayCmd.Flags().String("governance", "", "governance address (hex)")
	replayCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	addPolicyFlags(replayCmd)

	root.AddCommand(replayCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addPolicyFlags(cmd *cobra.Command) {
	cmd.Flags().Uint32("min-cap", 50, "minimum movement ceiling (ticks per step)")
	cmd.Flags().Uint32("max-cap", 5000, "maximum movement ceiling (ticks per step)")
	cmd.Flags().Uint32("default-cap", 1000, "movement ceiling at pool enablement")
	cmd.Flags().Uint32("step-ppm", 100_000, "retune step fraction (ppm)")
	cmd.Flags().Uint32("budget-ppm", 200_000, "clamp frequency budget (ppm of updates)")
	cmd.Flags().Uint32("update-interval", 3600, "retune interval (seconds)")
	cmd.Flags().Uint32("decay-window", 86400, "clamp frequency decay window (seconds)")
	cmd.Flags().Uint32("min-base-fee", 500, "minimum base fee (ppm)")
	cmd.Flags().Uint32("max-base-fee", 30_000, "maximum base fee (ppm)")
	cmd.Flags().Uint32("surge-multiplier-ppm", 3_000_000, "surge trigger multiplier (ppm of base fee)")
	cmd.Flags().Uint32("surge-decay-period", 3600, "surge decay period (seconds)")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
