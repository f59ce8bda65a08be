package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Binance USDS-M futures credentials
	APIKey    string
	APISecret string

	// Venue endpoints
	RestBaseURL string
	WSBaseURL   string

	// Market data
	Interval    string // kline interval, e.g. "5m"
	CandleLimit int    // window capacity per symbol

	// Strategy policy knobs, all tunable from the environment
	OrderBudgetUSD  float64       // quote budget per entry
	TakeProfitUSD   float64       // absolute unrealized PnL target per position
	Cooldown        time.Duration // minimum gap between non-Hold decisions
	RSIOverbought   float64
	RSIOversold     float64
	ADXThreshold    float64
	VolumeSpikeMult float64

	// Scanner / watch-set
	ScanSize    int // how many top-volume symbols to scan
	MaxWatch    int // cap on concurrently watched symbols
	RestartMins int // clock-aligned full-restart boundary in minutes

	// Execution
	PaperMode      bool
	MaxSubmitRetry int

	// Infrastructure
	LogJSON       bool
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	JournalPath   string
	MetricsAddr   string

	// Notifications (optional)
	TelegramToken  string
	TelegramChatID string
	WebhookURL     string
}

// Load reads configuration from environment variables with sensible defaults.
// Venue credentials are required unless PAPER_MODE is set.
func Load() *Config {
	paper := getEnv("PAPER_MODE", "false") == "true"

	apiKey, apiSecret := "", ""
	if !paper {
		apiKey = mustEnv("BINANCE_API_KEY")
		apiSecret = mustEnv("BINANCE_API_SECRET")
	}

	return &Config{
		APIKey:    apiKey,
		APISecret: apiSecret,

		RestBaseURL: getEnv("BINANCE_REST_URL", "https://fapi.binance.com"),
		WSBaseURL:   getEnv("BINANCE_WS_URL", "wss://fstream.binance.com"),

		Interval:    getEnv("CANDLE_INTERVAL", "5m"),
		CandleLimit: getEnvInt("CANDLE_LIMIT", 288),

		OrderBudgetUSD:  getEnvFloat("ORDER_BUDGET_USD", 10),
		TakeProfitUSD:   getEnvFloat("TAKE_PROFIT_USD", 0.05),
		Cooldown:        time.Duration(getEnvInt("COOLDOWN_MS", 5000)) * time.Millisecond,
		RSIOverbought:   getEnvFloat("RSI_OVERBOUGHT", 70),
		RSIOversold:     getEnvFloat("RSI_OVERSOLD", 30),
		ADXThreshold:    getEnvFloat("ADX_THRESHOLD", 20),
		VolumeSpikeMult: getEnvFloat("VOLUME_SPIKE_MULT", 2.0),

		ScanSize:    getEnvInt("SCAN_SIZE", 250),
		MaxWatch:    getEnvInt("MAX_WATCH", 6),
		RestartMins: getEnvInt("RESTART_MINUTES", 15),

		PaperMode:      paper,
		MaxSubmitRetry: getEnvInt("MAX_SUBMIT_RETRY", 5),

		LogJSON:       getEnv("LOG_JSON", "false") == "true",
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/candles.db"),
		JournalPath:   getEnv("JOURNAL_PATH", "data/trades.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		TelegramToken:  getEnv("TELEGRAM_TOKEN", ""),
		TelegramChatID: getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:     getEnv("WEBHOOK_URL", ""),
	}
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid int for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid float for %s: %q, using %g", key, v, fallback)
		return fallback
	}
	return f
}
