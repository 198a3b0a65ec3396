package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the signal core.
type Config struct {
	Port string

	// Exchange
	Venue          string
	ExchangeKey    string
	ExchangeSecret string
	Testnet        bool

	// Execution
	DryRun               bool
	DryRunInitialBalance float64
	DryRunFeeRate        float64 // decimal (e.g. 0.001 = 10 bps)

	// Engine tuning
	CycleIntervalSec int
	BatchSize        int
	RiskPerTrade     float64
	MaxPerTradeUSDT  float64
	AllocationCap    float64
	MinSellNotional  float64
	CooldownHours    int
	MaxOpenPositions int
	MinConfidence    float64
	MaxCandidates    int

	// Python predictor worker
	EnablePredictor bool
	PredictorAddr   string

	// Persistence
	QueuePath   string
	DBPath      string
	EnableAudit bool

	// Watchlist overrides (YAML)
	WatchlistPath string

	// Notifications
	TelegramEnabled  bool
	TelegramBotToken string
	TelegramChatID   string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:                 getEnv("PORT", "8080"),
		Venue:                strings.ToLower(getEnv("VENUE", "bybit")),
		ExchangeKey:          os.Getenv("EXCHANGE_API_KEY"),
		ExchangeSecret:       os.Getenv("EXCHANGE_API_SECRET"),
		Testnet:              getEnv("EXCHANGE_TESTNET", "false") == "true",
		DryRun:               getEnv("DRY_RUN", "true") == "true",
		DryRunInitialBalance: getEnvFloat("DRY_RUN_INITIAL_BALANCE", 1000.0),
		DryRunFeeRate:        getEnvFloat("DRY_RUN_FEE_RATE", 0.001),
		CycleIntervalSec:     getEnvInt("CYCLE_INTERVAL_SEC", 10),
		BatchSize:            getEnvInt("BATCH_SIZE", 10),
		RiskPerTrade:         getEnvFloat("RISK_PER_TRADE", 0.03),
		MaxPerTradeUSDT:      getEnvFloat("MAX_PER_TRADE_USDT", 20),
		AllocationCap:        getEnvFloat("ALLOCATION_CAP", 0.5),
		MinSellNotional:      getEnvFloat("MIN_SELL_NOTIONAL", 5),
		CooldownHours:        getEnvInt("COOLDOWN_HOURS", 24),
		MaxOpenPositions:     getEnvInt("MAX_OPEN_POSITIONS", 10),
		MinConfidence:        getEnvFloat("MIN_CONFIDENCE", 0.3),
		MaxCandidates:        getEnvInt("MAX_CANDIDATES", 30),
		EnablePredictor:      getEnv("ENABLE_PREDICTOR", "false") == "true",
		PredictorAddr:        getEnv("PREDICTOR_ADDR", "localhost:50051"),
		QueuePath:            getEnv("QUEUE_PATH", "./data/signal_queue.json"),
		DBPath:               getEnv("DB_PATH", "./data/signal_audit.db"),
		EnableAudit:          getEnv("ENABLE_AUDIT", "true") == "true",
		WatchlistPath:        getEnv("WATCHLIST_PATH", ""),
		TelegramEnabled:      getEnv("TELEGRAM_ENABLED", "false") == "true",
		TelegramBotToken:     os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:       os.Getenv("TELEGRAM_CHAT_ID"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
