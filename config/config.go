package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Config holds all runtime settings, loaded from the environment with an
// optional .env file for local development.
type Config struct {
	Port   string
	DBPath string

	InitialBalance    decimal.Decimal
	SlippageTolerance decimal.Decimal // percent

	ScorerURL    string
	ScorerAPIKey string

	AlpacaAPIKey    string
	AlpacaSecretKey string
	BinanceWSURL    string

	NotifyWebhookURL string

	LogLevel string
}

// Load reads configuration from the environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using environment variables")
	}

	cfg := &Config{
		Port:   getEnv("PORT", "8080"),
		DBPath: getEnv("DB_PATH", "./data/trader.db"),

		ScorerURL:    os.Getenv("SCORER_URL"),
		ScorerAPIKey: os.Getenv("SCORER_API_KEY"),

		AlpacaAPIKey:    os.Getenv("ALPACA_API_KEY"),
		AlpacaSecretKey: os.Getenv("ALPACA_SECRET_KEY"),
		BinanceWSURL:    getEnv("BINANCE_WS_URL", "wss://stream.binance.com:9443/ws"),

		NotifyWebhookURL: os.Getenv("NOTIFY_WEBHOOK_URL"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	balance, err := getEnvDecimal("INITIAL_BALANCE", "10000")
	if err != nil {
		return nil, err
	}
	if !balance.IsPositive() {
		return nil, fmt.Errorf("INITIAL_BALANCE must be positive, got %s", balance)
	}
	cfg.InitialBalance = balance

	slippage, err := getEnvDecimal("SLIPPAGE_TOLERANCE_PCT", "0.5")
	if err != nil {
		return nil, err
	}
	if slippage.IsNegative() {
		return nil, fmt.Errorf("SLIPPAGE_TOLERANCE_PCT must not be negative, got %s", slippage)
	}
	cfg.SlippageTolerance = slippage

	return cfg, nil
}

// ParseLogLevel maps the configured level name to a logrus level
func (c *Config) ParseLogLevel() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvDecimal(key, fallback string) (decimal.Decimal, error) {
	raw := getEnv(key, fallback)
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: invalid decimal %q", key, raw)
	}
	return value, nil
}
