// Package config loads service configuration from the environment.
// A .env file in the working directory is read first when present.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all service configuration.
type Config struct {
	Port     string
	LogLevel slog.Level

	// Storage. DatabaseURL wins over SQLitePath; neither means in-memory.
	DatabaseURL string
	SQLitePath  string
	RedisURL    string
	CacheTTL    time.Duration

	// Ledger
	DefaultCash      decimal.Decimal
	Currency         string
	SettleMaxRetries int

	// Achievements
	HeldDaysThreshold  int
	ProfitThreshold    decimal.Decimal
	EvaluationInterval time.Duration

	// Quotes
	QuoteAPIURL    string
	QuotePricePath string
	QuoteCacheTTL  time.Duration
	BinanceEnabled bool
	StaticPrices   map[string]decimal.Decimal

	// Award issuance
	AwardWebhookURL  string
	AwardWorkers     int
	AwardQueueSize   int
	AwardMaxAttempts int
}

// Load reads configuration from the environment. All validation problems
// are reported together.
func Load() (*Config, error) {
	// A missing .env is fine; plain environment variables are enough.
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string

	cfg.Port = getEnv("PORT", "8080")
	cfg.LogLevel, err = parseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		errs = append(errs, err.Error())
	}

	cfg.DatabaseURL = getEnv("DATABASE_URL", "")
	cfg.SQLitePath = getEnv("SQLITE_PATH", "")
	cfg.RedisURL = getEnv("REDIS_URL", "")
	if cfg.CacheTTL, err = getEnvAsDuration("CACHE_TTL", 30*time.Second); err != nil {
		errs = append(errs, fmt.Sprintf("invalid CACHE_TTL: %v", err))
	}

	if cfg.DefaultCash, err = getEnvAsDecimal("DEFAULT_CASH", decimal.NewFromInt(10000)); err != nil {
		errs = append(errs, fmt.Sprintf("invalid DEFAULT_CASH: %v", err))
	} else if cfg.DefaultCash.IsNegative() {
		errs = append(errs, "DEFAULT_CASH cannot be negative")
	}
	cfg.Currency = strings.ToUpper(getEnv("CURRENCY", "USD"))
	if cfg.SettleMaxRetries, err = getEnvAsInt("SETTLE_MAX_RETRIES", 3); err != nil {
		errs = append(errs, fmt.Sprintf("invalid SETTLE_MAX_RETRIES: %v", err))
	} else if cfg.SettleMaxRetries < 0 {
		errs = append(errs, "SETTLE_MAX_RETRIES cannot be negative")
	}

	if cfg.HeldDaysThreshold, err = getEnvAsInt("HELD_DAYS_THRESHOLD", 10); err != nil {
		errs = append(errs, fmt.Sprintf("invalid HELD_DAYS_THRESHOLD: %v", err))
	} else if cfg.HeldDaysThreshold <= 0 {
		errs = append(errs, "HELD_DAYS_THRESHOLD must be positive")
	}
	if cfg.ProfitThreshold, err = getEnvAsDecimal("PROFIT_THRESHOLD", decimal.Zero); err != nil {
		errs = append(errs, fmt.Sprintf("invalid PROFIT_THRESHOLD: %v", err))
	}
	if cfg.EvaluationInterval, err = getEnvAsDuration("EVALUATION_INTERVAL", time.Hour); err != nil {
		errs = append(errs, fmt.Sprintf("invalid EVALUATION_INTERVAL: %v", err))
	} else if cfg.EvaluationInterval <= 0 {
		errs = append(errs, "EVALUATION_INTERVAL must be positive")
	}

	cfg.QuoteAPIURL = getEnv("QUOTE_API_URL", "")
	if cfg.QuoteAPIURL != "" && !strings.Contains(cfg.QuoteAPIURL, "{symbol}") {
		errs = append(errs, "QUOTE_API_URL must contain a {symbol} placeholder")
	}
	cfg.QuotePricePath = getEnv("QUOTE_PRICE_PATH", "$.price")
	if cfg.QuoteCacheTTL, err = getEnvAsDuration("QUOTE_CACHE_TTL", 15*time.Second); err != nil {
		errs = append(errs, fmt.Sprintf("invalid QUOTE_CACHE_TTL: %v", err))
	}
	if cfg.BinanceEnabled, err = getEnvAsBool("BINANCE_ENABLED", false); err != nil {
		errs = append(errs, fmt.Sprintf("invalid BINANCE_ENABLED: %v", err))
	}
	if cfg.StaticPrices, err = parsePrices(getEnv("STATIC_PRICES", "")); err != nil {
		errs = append(errs, fmt.Sprintf("invalid STATIC_PRICES: %v", err))
	}

	cfg.AwardWebhookURL = getEnv("AWARD_WEBHOOK_URL", "")
	if cfg.AwardWorkers, err = getEnvAsInt("AWARD_WORKERS", 2); err != nil {
		errs = append(errs, fmt.Sprintf("invalid AWARD_WORKERS: %v", err))
	} else if cfg.AwardWorkers <= 0 {
		errs = append(errs, "AWARD_WORKERS must be positive")
	}
	if cfg.AwardQueueSize, err = getEnvAsInt("AWARD_QUEUE_SIZE", 256); err != nil {
		errs = append(errs, fmt.Sprintf("invalid AWARD_QUEUE_SIZE: %v", err))
	} else if cfg.AwardQueueSize <= 0 {
		errs = append(errs, "AWARD_QUEUE_SIZE must be positive")
	}
	if cfg.AwardMaxAttempts, err = getEnvAsInt("AWARD_MAX_ATTEMPTS", 5); err != nil {
		errs = append(errs, fmt.Sprintf("invalid AWARD_MAX_ATTEMPTS: %v", err))
	} else if cfg.AwardMaxAttempts <= 0 {
		errs = append(errs, "AWARD_MAX_ATTEMPTS must be positive")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// --- Env var helpers ---

func getEnv(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(value)
}

func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}
	return strconv.ParseBool(value)
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}
	return time.ParseDuration(value)
}

func getEnvAsDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}
	return decimal.NewFromString(value)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q", s)
	}
	return level, nil
}

// parsePrices reads "AAPL=150,MSFT=300.5" into a price table.
func parsePrices(s string) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal)
	if s == "" {
		return prices, nil
	}
	for _, pair := range strings.Split(s, ",") {
		sym, raw, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || sym == "" {
			return nil, fmt.Errorf("expected SYMBOL=PRICE, got %q", pair)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil || !price.IsPositive() {
			return nil, fmt.Errorf("bad price for %s: %q", sym, raw)
		}
		prices[strings.ToUpper(strings.TrimSpace(sym))] = price
	}
	return prices, nil
}
