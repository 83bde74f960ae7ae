package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSimulateDefaults(t *testing.T) {
	cfg, err := LoadSimulate("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Pools != 1 || cfg.Steps != 24 || cfg.StepSeconds != 3600 {
		t.Fatalf("unexpected simulation defaults: %+v", cfg)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected default log level info, got %q", cfg.LogLevel)
	}
	if err := cfg.Policy.Validate(); err != nil {
		t.Fatalf("default policy must validate: %v", err)
	}
}

func TestLoadReplayFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "in: swaps.jsonl\nbatch-size: 250\nmin-base-fee: 600\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadReplay(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Input != "swaps.jsonl" {
		t.Fatalf("expected input from file, got %q", cfg.Input)
	}
	if cfg.BatchSize != 250 {
		t.Fatalf("expected batch size 250, got %d", cfg.BatchSize)
	}
	if cfg.Policy.MinBaseFee != 600 {
		t.Fatalf("expected min base fee 600, got %d", cfg.Policy.MinBaseFee)
	}
}

func TestLoadReplayEnvOverride(t *testing.T) {
	t.Setenv("FEESCOPE_BATCH_SIZE", "42")

	cfg, err := LoadReplay("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BatchSize != 42 {
		t.Fatalf("expected env override 42, got %d", cfg.BatchSize)
	}
}

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		input string
		want  uint64
		ok    bool
	}{
		{"", 0, true},
		{"1700000000", 1_700_000_000, true},
		{"2024-01-01T00:00:00Z", 1_704_067_200, true},
		{"yesterday", 0, false},
	}

	for _, tc := range cases {
		got, err := ParseTimestamp(tc.input)
		if tc.ok && err != nil {
			t.Fatalf("%q: unexpected error: %v", tc.input, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%q: expected error", tc.input)
		}
		if tc.ok && got != tc.want {
			t.Fatalf("%q: expected %d, got %d", tc.input, tc.want, got)
		}
	}
}
