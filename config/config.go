package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"brokerSync/internal/adapters/logger" // Import the logger package for LogLevel
)

// BrokerConfig holds the API credentials for one broker.
type BrokerConfig struct {
	APIKey    string
	APISecret string
}

// Config holds all application configuration.
type Config struct {
	// Broker API credentials
	Zerodha BrokerConfig
	Alpaca  BrokerConfig
	Binance BrokerConfig

	// BinanceSymbols limits which symbols the Binance adapter queries,
	// since its trade endpoint is per-symbol.
	BinanceSymbols []string

	// UseMockData forces all adapters onto their fixture transports,
	// regardless of which credentials are set.
	UseMockData bool

	// Database
	DBPath string

	// HTTP
	Port string

	// Logging
	LogLevel logger.LogLevel // Use the LogLevel type from the logger adapter

	// Timeouts
	FetchTimeout time.Duration // bound on a single broker API call
	SyncDeadline time.Duration // bound on a whole sync attempt
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string // Collect validation errors

	// Broker credentials. All optional: an adapter without credentials
	// falls back to fixture data.
	cfg.Zerodha.APIKey = getEnv("ZERODHA_API_KEY", "")
	cfg.Zerodha.APISecret = getEnv("ZERODHA_API_SECRET", "")
	cfg.Alpaca.APIKey = getEnv("ALPACA_API_KEY", "")
	cfg.Alpaca.APISecret = getEnv("ALPACA_API_SECRET", "")
	cfg.Binance.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.Binance.APISecret = getEnv("BINANCE_API_SECRET", "")

	if symbols := getEnv("BINANCE_SYMBOLS", ""); symbols != "" {
		for _, s := range strings.Split(symbols, ",") {
			s = strings.ToUpper(strings.TrimSpace(s))
			if s != "" {
				cfg.BinanceSymbols = append(cfg.BinanceSymbols, s)
			}
		}
	}

	cfg.UseMockData = getEnvAsBool("USE_MOCK_DATA", false)

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/broker_sync.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// HTTP
	cfg.Port = getEnv("PORT", "3000")

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package

	// Timeouts
	fetchTimeoutSeconds := getEnvAsInt("FETCH_TIMEOUT_SECONDS", 30)
	if fetchTimeoutSeconds <= 0 {
		errs = append(errs, "FETCH_TIMEOUT_SECONDS must be positive")
	}
	cfg.FetchTimeout = time.Duration(fetchTimeoutSeconds) * time.Second

	syncDeadlineSeconds := getEnvAsInt("SYNC_DEADLINE_SECONDS", 120)
	if syncDeadlineSeconds <= 0 {
		errs = append(errs, "SYNC_DEADLINE_SECONDS must be positive")
	}
	cfg.SyncDeadline = time.Duration(syncDeadlineSeconds) * time.Second

	if cfg.SyncDeadline < cfg.FetchTimeout {
		errs = append(errs, "SYNC_DEADLINE_SECONDS must be at least FETCH_TIMEOUT_SECONDS")
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
