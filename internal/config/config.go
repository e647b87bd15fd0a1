// Package config loads server configuration from the environment,
// with an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"strategy-advisor-lab/internal/policy"
)

// Config holds the advisory server configuration.
type Config struct {
	HTTPAddr string

	PostgresDSN   string
	ClickhouseDSN string
	UseMemory     bool

	// MarketFeedURL is the websocket endpoint of the market-data
	// ingestion collaborator; empty disables live ingestion.
	MarketFeedURL string

	OutputDir string
	LogLevel  string

	// LearningRefreshCron schedules the per-family learning-metrics
	// recompute (robfig/cron spec).
	LearningRefreshCron string
	LearningWindow      time.Duration

	BacktestSeed   int64
	RankingWeights policy.Weights
}

// Load reads configuration from environment variables. A .env file in
// the working directory is merged in when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		PostgresDSN:         getEnv("POSTGRES_DSN", ""),
		ClickhouseDSN:       getEnv("CLICKHOUSE_DSN", ""),
		UseMemory:           getEnvAsBool("USE_MEMORY", false),
		MarketFeedURL:       getEnv("MARKET_FEED_URL", ""),
		OutputDir:           getEnv("OUTPUT_DIR", "output"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LearningRefreshCron: getEnv("LEARNING_REFRESH_CRON", "@hourly"),
		LearningWindow:      getEnvAsDuration("LEARNING_WINDOW", 30*24*time.Hour),
		BacktestSeed:        getEnvAsInt64("BACKTEST_SEED", 1),
		RankingWeights: policy.Weights{
			Alpha:      getEnvAsFloat("RANK_WEIGHT_ALPHA", 0.4),
			Trust:      getEnvAsFloat("RANK_WEIGHT_TRUST", 0.2),
			Acceptance: getEnvAsFloat("RANK_WEIGHT_ACCEPTANCE", 0.2),
			Drawdown:   getEnvAsFloat("RANK_WEIGHT_DRAWDOWN", 0.2),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the storage configuration is usable.
func (c *Config) Validate() error {
	if !c.UseMemory {
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required unless USE_MEMORY=true")
		}
		if c.ClickhouseDSN == "" {
			return fmt.Errorf("CLICKHOUSE_DSN is required unless USE_MEMORY=true")
		}
	}
	if c.LearningWindow <= 0 {
		return fmt.Errorf("LEARNING_WINDOW must be positive")
	}
	w := c.RankingWeights
	if w.Alpha < 0 || w.Trust < 0 || w.Acceptance < 0 || w.Drawdown < 0 {
		return fmt.Errorf("ranking weights must be non-negative")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
