package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig                 `mapstructure:"app"`
	Database   DatabaseConfig            `mapstructure:"database"`
	Redis      RedisConfig               `mapstructure:"redis"`
	LLM        LLMConfig                 `mapstructure:"llm"`
	Trading    TradingConfig             `mapstructure:"trading"`
	Risk       RiskConfig                `mapstructure:"risk"`
	Exchanges  map[string]ExchangeConfig `mapstructure:"exchanges"`
	API        APIConfig                 `mapstructure:"api"`
	Notify     NotifyConfig              `mapstructure:"notify"`
	Monitoring MonitoringConfig          `mapstructure:"monitoring"`
	Rate       RateConfig                `mapstructure:"rate"`
	CacheConf  CacheConfig               `mapstructure:"cache"`
	Pipeline   PipelineConfig            `mapstructure:"pipeline"`
}

// RateConfig maps onto internal/ratelimiter.Config's two-bucket limiter.
type RateConfig struct {
	QueryPerSec    float64 `mapstructure:"query_per_sec"`    // default 5.0
	OrderPerSec    float64 `mapstructure:"order_per_sec"`    // default 5.0
	MinIntervalSec float64 `mapstructure:"min_interval_sec"` // minimum inter-request spacing
}

// CacheConfig maps onto internal/cache.Cache's L1 sizing and the optional
// durable L3 tier. An empty DiskPath disables L3.
type CacheConfig struct {
	L1MaxSize int    `mapstructure:"l1_max_size"`
	DiskPath  string `mapstructure:"disk_path"`
}

// PipelineConfig bounds internal/pipeline.Slots concurrency.
type PipelineConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
}

// DatabaseConfig contains PostgreSQL/TimescaleDB settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains Redis settings. Enabled gates the cache's shared
// L2 tier so a laptop deployment without Redis never dials it.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LLMConfig contains LLM gateway settings
type LLMConfig struct {
	Gateway       string  `mapstructure:"gateway"`        // "bifrost"
	Endpoint      string  `mapstructure:"endpoint"`       // "http://localhost:8080/v1/chat/completions"
	PrimaryModel  string  `mapstructure:"primary_model"`  // "claude-sonnet-4-20250514"
	FallbackModel string  `mapstructure:"fallback_model"` // "gpt-4-turbo"
	Temperature   float64 `mapstructure:"temperature"`    // 0.7
	MaxTokens     int     `mapstructure:"max_tokens"`     // 2000
	EnableCaching bool    `mapstructure:"enable_caching"` // true
	Timeout       int     `mapstructure:"timeout"`        // 30000 (ms)
}

// TradingConfig contains trading settings
type TradingConfig struct {
	Mode            string   `mapstructure:"mode"`             // "paper" or "live"
	Symbols         []string `mapstructure:"symbols"`          // ["BTCUSDT", "ETHUSDT"]
	Exchange        string   `mapstructure:"exchange"`         // "binance"
	InitialCapital  float64  `mapstructure:"initial_capital"`  // 10000.0
	MaxPositions    int      `mapstructure:"max_positions"`    // 3
	DefaultQuantity float64  `mapstructure:"default_quantity"` // 0.01
}

// RiskConfig contains risk management settings
type RiskConfig struct {
	MaxPositionSize     float64 `mapstructure:"max_position_size"`     // 0.1 (10% of portfolio)
	MaxDailyLoss        float64 `mapstructure:"max_daily_loss"`        // 0.02 (2%)
	MaxDrawdown         float64 `mapstructure:"max_drawdown"`          // 0.1 (10%)
	DefaultStopLoss     float64 `mapstructure:"default_stop_loss"`     // 0.02 (2%)
	DefaultTakeProfit   float64 `mapstructure:"default_take_profit"`   // 0.05 (5%)
	LLMApprovalRequired bool    `mapstructure:"llm_approval_required"` // true
	MinConfidence       float64 `mapstructure:"min_confidence"`        // 0.7

	// Fields below back internal/portfolio.Limits, internal/riskmonitor.Config,
	// and internal/coordinator's daily-trade-limit and stop-loss-mode gates.
	MaxSinglePositionPct   float64 `mapstructure:"max_single_position_pct"`   // 0.01-0.5, default 0.15
	MinCashRatio           float64 `mapstructure:"min_cash_ratio"`            // 0-0.9, default 0.20
	MaxTotalStockPct       float64 `mapstructure:"max_total_stock_pct"`       // 0.1-1.0, default 0.80
	SuddenMoveThresholdPct float64 `mapstructure:"sudden_move_threshold_pct"` // percentage, range 1.0-30.0, default 10.0
	MaxDailyTrades         int     `mapstructure:"max_daily_trades"`          // 1-100, default 10
	StopLossMode           string  `mapstructure:"stop_loss_mode"`            // "user-approval" | "auto"
}

// ExchangeConfig contains exchange-specific settings
type ExchangeConfig struct {
	APIKey      string    `mapstructure:"api_key"`
	SecretKey   string    `mapstructure:"secret_key"`
	Testnet     bool      `mapstructure:"testnet"`
	RateLimitMS int       `mapstructure:"rate_limit_ms"`
	Fees        FeeConfig `mapstructure:"fees"`
	Mock        bool      `mapstructure:"mock"` // use the in-process simulator adapter instead of a live vendor
}

// FeeConfig contains exchange fee structure
type FeeConfig struct {
	Maker        float64 `mapstructure:"maker"`         // Maker fee percentage (e.g., 0.001 = 0.1%)
	Taker        float64 `mapstructure:"taker"`         // Taker fee percentage (e.g., 0.001 = 0.1%)
	BaseSlippage float64 `mapstructure:"base_slippage"` // Base slippage percentage (e.g., 0.0005 = 0.05%)
	MarketImpact float64 `mapstructure:"market_impact"` // Market impact per unit (e.g., 0.0001 = 0.01%)
	MaxSlippage  float64 `mapstructure:"max_slippage"`  // Maximum slippage percentage (e.g., 0.003 = 0.3%)
	Withdrawal   float64 `mapstructure:"withdrawal"`    // Withdrawal fee percentage (optional)
}

// APIConfig contains REST API settings
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// NotifyConfig configures the Telegram channel the session control API
// uses for Notify and for receiving /approve, /reject, /cancel, /alert
// commands back from a reviewer.
type NotifyConfig struct {
	BotToken string  `mapstructure:"bot_token"`
	ChatIDs  []int64 `mapstructure:"chat_ids"`
}

// MonitoringConfig contains monitoring settings
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable overrides
	v.AutomaticEnv()
	v.SetEnvPrefix("AUTOTRADER")

	// Set defaults
	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	// Unmarshal into struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration using comprehensive validation
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "AutoTrader")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "autotrader")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// LLM defaults
	v.SetDefault("llm.gateway", "bifrost")
	v.SetDefault("llm.endpoint", "http://localhost:8080/v1/chat/completions")
	v.SetDefault("llm.primary_model", "claude-sonnet-4-20250514")
	v.SetDefault("llm.fallback_model", "gpt-4-turbo")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 2000)
	v.SetDefault("llm.enable_caching", true)
	v.SetDefault("llm.timeout", 30000)

	// Trading defaults
	v.SetDefault("trading.mode", "paper")
	v.SetDefault("trading.symbols", []string{"BTCUSDT", "ETHUSDT"})
	v.SetDefault("trading.exchange", "binance")
	v.SetDefault("trading.initial_capital", 10000.0)
	v.SetDefault("trading.max_positions", 3)
	v.SetDefault("trading.default_quantity", 0.01)

	// Risk defaults
	v.SetDefault("risk.max_position_size", 0.1)
	v.SetDefault("risk.max_daily_loss", 0.02)
	v.SetDefault("risk.max_drawdown", 0.1)
	v.SetDefault("risk.default_stop_loss", 0.02)
	v.SetDefault("risk.default_take_profit", 0.05)
	v.SetDefault("risk.llm_approval_required", true)
	v.SetDefault("risk.min_confidence", 0.7)
	v.SetDefault("risk.max_single_position_pct", 0.15)
	v.SetDefault("risk.min_cash_ratio", 0.20)
	v.SetDefault("risk.max_total_stock_pct", 0.8)
	v.SetDefault("risk.sudden_move_threshold_pct", 10.0)
	v.SetDefault("risk.max_daily_trades", 10)
	v.SetDefault("risk.stop_loss_mode", "user-approval")

	// Rate-limiter defaults
	v.SetDefault("rate.query_per_sec", 5.0)
	v.SetDefault("rate.order_per_sec", 5.0)
	v.SetDefault("rate.min_interval_sec", 0.7)

	// Cache defaults
	v.SetDefault("cache.l1_max_size", 1000)

	// Pipeline defaults
	v.SetDefault("pipeline.max_concurrent", 3)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8081)

	// Monitoring defaults
	v.SetDefault("monitoring.prometheus_port", 9100)
	v.SetDefault("monitoring.enable_metrics", true)

	// Exchange fee defaults (Binance-like structure)
	v.SetDefault("exchanges.binance.fees.maker", 0.001)          // 0.1% maker fee
	v.SetDefault("exchanges.binance.fees.taker", 0.001)          // 0.1% taker fee
	v.SetDefault("exchanges.binance.fees.base_slippage", 0.0005) // 0.05% base slippage
	v.SetDefault("exchanges.binance.fees.market_impact", 0.0001) // 0.01% market impact
	v.SetDefault("exchanges.binance.fees.max_slippage", 0.003)   // 0.3% max slippage
	v.SetDefault("exchanges.binance.fees.withdrawal", 0.0)       // No withdrawal fee by default
}

// Note: Comprehensive validation is now in validation.go
// The Config.Validate() method is called during Load()

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAPIAddr returns the API server address
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetTimeout returns the LLM timeout as time.Duration
func (c *LLMConfig) GetTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}
