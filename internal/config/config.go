package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"feeScope/internal/policy"
)

// SimulateConfig holds configuration for the simulate command.
type SimulateConfig struct {
	Pools       int
	Steps       int
	StepSeconds uint32
	StartTime   uint32
	Walk        float64
	ShockEvery  int
	ShockSize   int32
	Seed        int64
	FlushEvery  int
	Out         string
	FeedAddr    string
	Governance  string
	LogLevel    string
	Policy      policy.Policy
}

// ReplayConfig holds configuration for the replay command.
type ReplayConfig struct {
	Input         string
	Out           string
	PGDSN         string
	BatchSize     int
	StateFile     string
	RecomputeFrom string
	MaxRetries    int
	RetryBackoff  time.Duration
	FeedAddr      string
	Governance    string
	LogLevel      string
	Policy        policy.Policy
}

// LoadSimulate merges config file, environment variables, and flags.
func LoadSimulate(cfgFile string, flags *pflag.FlagSet) (SimulateConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return SimulateConfig{}, err
	}

	v.SetDefault("pools", 1)
	v.SetDefault("steps", 24)
	v.SetDefault("step-seconds", 3600)
	v.SetDefault("start-time", 1)
	v.SetDefault("walk", 10.0)
	v.SetDefault("flush-every", 100)

	cfg := SimulateConfig{
		Pools:       v.GetInt("pools"),
		Steps:       v.GetInt("steps"),
		StepSeconds: v.GetUint32("step-seconds"),
		StartTime:   v.GetUint32("start-time"),
		Walk:        v.GetFloat64("walk"),
		ShockEvery:  v.GetInt("shock-every"),
		ShockSize:   v.GetInt32("shock-size"),
		Seed:        v.GetInt64("seed"),
		FlushEvery:  v.GetInt("flush-every"),
		Out:         v.GetString("out"),
		FeedAddr:    v.GetString("feed-addr"),
		Governance:  v.GetString("governance"),
		LogLevel:    v.GetString("log-level"),
		Policy:      loadPolicy(v),
	}
	return cfg, nil
}

// LoadReplay merges config file, environment variables, and flags.
func LoadReplay(cfgFile string, flags *pflag.FlagSet) (ReplayConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return ReplayConfig{}, err
	}

	v.SetDefault("batch-size", 1000)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)

	cfg := ReplayConfig{
		Input:         v.GetString("in"),
		Out:           v.GetString("out"),
		PGDSN:         v.GetString("pg-dsn"),
		BatchSize:     v.GetInt("batch-size"),
		StateFile:     v.GetString("state-file"),
		RecomputeFrom: v.GetString("recompute-from"),
		MaxRetries:    v.GetInt("max-retries"),
		RetryBackoff:  v.GetDuration("retry-backoff"),
		FeedAddr:      v.GetString("feed-addr"),
		Governance:    v.GetString("governance"),
		LogLevel:      v.GetString("log-level"),
		Policy:        loadPolicy(v),
	}
	return cfg, nil
}

func newViper(cfgFile string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("FEESCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log-level", "info")
	setPolicyDefaults(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return v, nil
}

func setPolicyDefaults(v *viper.Viper) {
	v.SetDefault("min-cap", uint32(50))
	v.SetDefault("max-cap", uint32(5000))
	v.SetDefault("default-cap", uint32(1000))
	v.SetDefault("step-ppm", uint32(100_000))
	v.SetDefault("budget-ppm", uint32(200_000))
	v.SetDefault("update-interval", uint32(3600))
	v.SetDefault("decay-window", uint32(86400))
	v.SetDefault("min-base-fee", uint32(500))
	v.SetDefault("max-base-fee", uint32(30_000))
	v.SetDefault("surge-multiplier-ppm", uint32(3_000_000))
	v.SetDefault("surge-decay-period", uint32(3600))
}

func loadPolicy(v *viper.Viper) policy.Policy {
	return policy.Policy{
		MinCap:             v.GetUint32("min-cap"),
		MaxCap:             v.GetUint32("max-cap"),
		DefaultCap:         v.GetUint32("default-cap"),
		StepPPM:            v.GetUint32("step-ppm"),
		BudgetPPM:          v.GetUint32("budget-ppm"),
		UpdateInterval:     v.GetUint32("update-interval"),
		DecayWindow:        v.GetUint32("decay-window"),
		MinBaseFee:         v.GetUint32("min-base-fee"),
		MaxBaseFee:         v.GetUint32("max-base-fee"),
		SurgeMultiplierPPM: v.GetUint32("surge-multiplier-ppm"),
		SurgeDecayPeriod:   v.GetUint32("surge-decay-period"),
	}
}

// ParseTimestamp parses a timestamp value (unix seconds or RFC3339).
func ParseTimestamp(input string) (uint64, error) {
	if strings.TrimSpace(input) == "" {
		return 0, nil
	}

	if isNumeric(input) {
		val, err := strconv.ParseUint(input, 10, 64)
		if err != nil {
			return 0, err
		}
		return val, nil
	}

	tm, err := time.Parse(time.RFC3339, input)
	if err != nil {
		return 0, err
	}
	return uint64(tm.Unix()), nil
}

func isNumeric(input string) bool {
	for _, r := range input {
		if r < '0' || r > '9' {
			return false
		}
	}
	return input != ""
}
