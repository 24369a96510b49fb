package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"PORT", "LOG_LEVEL", "DATABASE_URL", "SQLITE_PATH", "REDIS_URL", "CACHE_TTL",
	"DEFAULT_CASH", "CURRENCY", "SETTLE_MAX_RETRIES", "HELD_DAYS_THRESHOLD",
	"PROFIT_THRESHOLD", "EVALUATION_INTERVAL", "QUOTE_API_URL", "QUOTE_PRICE_PATH",
	"QUOTE_CACHE_TTL", "BINANCE_ENABLED", "STATIC_PRICES", "AWARD_WEBHOOK_URL",
	"AWARD_WORKERS", "AWARD_QUEUE_SIZE", "AWARD_MAX_ATTEMPTS",
}

// clearEnv blanks every key Load reads; empty counts as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.True(t, cfg.DefaultCash.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, "USD", cfg.Currency)
	assert.Equal(t, 10, cfg.HeldDaysThreshold)
	assert.True(t, cfg.ProfitThreshold.IsZero())
	assert.Equal(t, time.Hour, cfg.EvaluationInterval)
	assert.Equal(t, 3, cfg.SettleMaxRetries)
	assert.Equal(t, "$.price", cfg.QuotePricePath)
	assert.Empty(t, cfg.StaticPrices)
	assert.Equal(t, 2, cfg.AwardWorkers)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DEFAULT_CASH", "100000")
	t.Setenv("CURRENCY", "eur")
	t.Setenv("HELD_DAYS_THRESHOLD", "7")
	t.Setenv("PROFIT_THRESHOLD", "250.5")
	t.Setenv("EVALUATION_INTERVAL", "15m")
	t.Setenv("STATIC_PRICES", "aapl=150, MSFT=300.25")
	t.Setenv("QUOTE_API_URL", "https://quotes.example.com/{symbol}")
	t.Setenv("BINANCE_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.True(t, cfg.DefaultCash.Equal(decimal.NewFromInt(100000)))
	assert.Equal(t, "EUR", cfg.Currency)
	assert.Equal(t, 7, cfg.HeldDaysThreshold)
	assert.Equal(t, "250.5", cfg.ProfitThreshold.String())
	assert.Equal(t, 15*time.Minute, cfg.EvaluationInterval)
	assert.True(t, cfg.BinanceEnabled)
	require.Len(t, cfg.StaticPrices, 2)
	assert.Equal(t, "150", cfg.StaticPrices["AAPL"].String())
	assert.Equal(t, "300.25", cfg.StaticPrices["MSFT"].String())
}

func TestLoad_CollectsErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEFAULT_CASH", "lots")
	t.Setenv("HELD_DAYS_THRESHOLD", "0")
	t.Setenv("QUOTE_API_URL", "https://quotes.example.com/latest")
	t.Setenv("STATIC_PRICES", "AAPL")

	_, err := Load()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "DEFAULT_CASH")
	assert.Contains(t, msg, "HELD_DAYS_THRESHOLD must be positive")
	assert.Contains(t, msg, "{symbol}")
	assert.Contains(t, msg, "STATIC_PRICES")
}
