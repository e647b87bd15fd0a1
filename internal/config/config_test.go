package config

import (
	"testing"
	"time"
)

func TestLoad_MemoryModeDefaults(t *testing.T) {
	t.Setenv("USE_MEMORY", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %s, want :8080", cfg.HTTPAddr)
	}
	if cfg.LearningWindow != 30*24*time.Hour {
		t.Errorf("LearningWindow = %v, want 720h", cfg.LearningWindow)
	}
	if cfg.RankingWeights.Alpha != 0.4 || cfg.RankingWeights.Drawdown != 0.2 {
		t.Errorf("unexpected default ranking weights: %+v", cfg.RankingWeights)
	}
}

func TestLoad_RequiresDSNsWithoutMemory(t *testing.T) {
	t.Setenv("USE_MEMORY", "false")
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("CLICKHOUSE_DSN", "")

	if _, err := Load(); err == nil {
		t.Fatal("Load succeeded without storage DSNs")
	}

	t.Setenv("POSTGRES_DSN", "postgres://localhost:5432/advisor")
	if _, err := Load(); err == nil {
		t.Fatal("Load succeeded without a ClickHouse DSN")
	}

	t.Setenv("CLICKHOUSE_DSN", "clickhouse://localhost:9000/advisor")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.UseMemory {
		t.Error("UseMemory = true, want false")
	}
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	t.Setenv("USE_MEMORY", "true")
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("BACKTEST_SEED", "42")
	t.Setenv("LEARNING_WINDOW", "168h")
	t.Setenv("RANK_WEIGHT_ALPHA", "0.7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("HTTPAddr = %s, want :9999", cfg.HTTPAddr)
	}
	if cfg.BacktestSeed != 42 {
		t.Errorf("BacktestSeed = %d, want 42", cfg.BacktestSeed)
	}
	if cfg.LearningWindow != 7*24*time.Hour {
		t.Errorf("LearningWindow = %v, want 168h", cfg.LearningWindow)
	}
	if cfg.RankingWeights.Alpha != 0.7 {
		t.Errorf("RANK_WEIGHT_ALPHA not applied: %+v", cfg.RankingWeights)
	}
}

func TestValidate_RejectsNegativeWeights(t *testing.T) {
	t.Setenv("USE_MEMORY", "true")
	t.Setenv("RANK_WEIGHT_DRAWDOWN", "-0.1")

	if _, err := Load(); err == nil {
		t.Fatal("Load accepted a negative ranking weight")
	}
}
