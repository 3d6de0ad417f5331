// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	LogLevel string
	Port     int
	DevMode  bool

	// AWS
	AWSRegion          string
	AWSAccessKeyID     string // optional; default credential chain applies when empty
	AWSSecretAccessKey string

	// Exchange credentials
	KucoinKey           string
	KucoinSecret        string
	KucoinAPIPassphrase string

	// Market-data provider
	SantimentKey string

	// DynamoDB tables
	TableDiscovery    string
	TableHarvest      string
	TableTradeMeta    string
	TableTradeDetails string
	TableOrders       string
	TableAccount      string
	TableAccountLog   string

	// SQS queues
	QueueHarvest    string
	QueueDataReady  string
	QueueBuySignal  string
	QueueSellSignal string
	QueueMonitor    string

	// SNS / SES
	SNSTopicDiscovery string
	SESSender         string
	SESRecipient      string

	// Account sizing
	AccountName string
	MaxTrades   int

	// Harvest
	HarvestDefaultLookbackDays int

	// Cron schedules for the scheduled jobs
	CronDiscovery  string
	CronHarvest    string
	CronAccountLog string

	Strategy StrategyConfig
}

// StrategyConfig holds the indicator thresholds and gate bands. All of these
// are tunable; the entry bands are disabled when the lower bound is left at
// its default.
type StrategyConfig struct {
	SmoothingWindow int // samples in the price moving average
	SignalLookback  int // samples the SMA derivative must stay positive

	// Relative deviation gates: (price - sma) / sma
	VolatilityEntryMax float64 // deviation must be below this to enter
	VolatilityEntryMin float64 // banded entry: deviation must also be above this
	VolatilityExitMin  float64 // deviation above this forces exit

	// Active-address-change gates
	DAAEntryMin float64 // change must be above this to enter
	DAAEntryMax float64 // banded entry: change must also be below this
	DAAExitMax  float64 // change below this forces exit
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Port:     getEnvAsInt("PORT", 8080),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		AWSRegion:          getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),

		KucoinKey:           getEnv("KUCOIN_KEY", ""),
		KucoinSecret:        getEnv("KUCOIN_SECRET", ""),
		KucoinAPIPassphrase: getEnv("KUCOIN_API_PASSPHRASE", ""),

		SantimentKey: getEnv("SANTIMENT_KEY", ""),

		TableDiscovery:    getEnv("TABLE_DISCOVERY", "discovery"),
		TableHarvest:      getEnv("TABLE_HARVEST", "harvest"),
		TableTradeMeta:    getEnv("TABLE_TRADE_META", "tradeMeta"),
		TableTradeDetails: getEnv("TABLE_TRADE_DETAILS", "tradeDetails"),
		TableOrders:       getEnv("TABLE_ORDERS", "tradeOrders"),
		TableAccount:      getEnv("TABLE_ACCOUNT", "account"),
		TableAccountLog:   getEnv("TABLE_ACCOUNT_LOG", "accountLog"),

		QueueHarvest:    getEnv("QUEUE_HARVEST", "harvest"),
		QueueDataReady:  getEnv("QUEUE_DATA_READY", "strategy"),
		QueueBuySignal:  getEnv("QUEUE_BUY_SIGNAL", "buySignals"),
		QueueSellSignal: getEnv("QUEUE_SELL_SIGNAL", "sellSignals"),
		QueueMonitor:    getEnv("QUEUE_MONITOR", "monitor"),

		SNSTopicDiscovery: getEnv("SNS_TOPIC_DISCOVERY", "discovery"),
		SESSender:         getEnv("SES_SENDER", ""),
		SESRecipient:      getEnv("SES_RECIPIENT", ""),

		AccountName: getEnv("ACCOUNT_NAME", "TRADE"),
		MaxTrades:   getEnvAsInt("STRATEGY_MAX_TRADES", 5),

		HarvestDefaultLookbackDays: getEnvAsInt("HARVEST_DEFAULT_LOOKBACK_DAYS", 60),

		CronDiscovery:  getEnv("CRON_DISCOVERY", "0 6 * * *"),
		CronHarvest:    getEnv("CRON_HARVEST", "30 6 * * *"),
		CronAccountLog: getEnv("CRON_ACCOUNT_LOG", "0 * * * *"),

		Strategy: StrategyConfig{
			SmoothingWindow:    getEnvAsInt("STRATEGY_SMOOTHING_WINDOW", 30),
			SignalLookback:     getEnvAsInt("STRATEGY_SIGNAL_LOOKBACK", 5),
			VolatilityEntryMax: getEnvAsFloat("STRATEGY_VOLATILITY_ENTRY_MAX", 0.05),
			VolatilityEntryMin: getEnvAsFloat("STRATEGY_VOLATILITY_ENTRY_MIN", -1.0),
			VolatilityExitMin:  getEnvAsFloat("STRATEGY_VOLATILITY_EXIT_MIN", 0.15),
			DAAEntryMin:        getEnvAsFloat("STRATEGY_DAA_ENTRY_MIN", 0.10),
			DAAEntryMax:        getEnvAsFloat("STRATEGY_DAA_ENTRY_MAX", 1e9),
			DAAExitMax:         getEnvAsFloat("STRATEGY_DAA_EXIT_MAX", -0.10),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.MaxTrades <= 0 {
		return fmt.Errorf("STRATEGY_MAX_TRADES must be positive, got %d", c.MaxTrades)
	}
	if c.Strategy.SmoothingWindow <= 0 {
		return fmt.Errorf("STRATEGY_SMOOTHING_WINDOW must be positive, got %d", c.Strategy.SmoothingWindow)
	}
	if c.Strategy.SignalLookback <= 0 {
		return fmt.Errorf("STRATEGY_SIGNAL_LOOKBACK must be positive, got %d", c.Strategy.SignalLookback)
	}

	// Exchange and market-data credentials are optional for dry runs; the
	// pipeline refuses to place orders without them at the client level.
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
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

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
