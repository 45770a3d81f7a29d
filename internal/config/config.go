package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Broker     BrokerConfig     `mapstructure:"broker"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Collectors CollectorsConfig `mapstructure:"collectors"`
	Sentiment  SentimentConfig  `mapstructure:"sentiment"`
	Trading    TradingConfig    `mapstructure:"trading"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Server     ServerConfig     `mapstructure:"server"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
}

// BrokerConfig contains Tradovate connection settings
type BrokerConfig struct {
	Username              string  `mapstructure:"username"`
	Password              string  `mapstructure:"password"`
	AppID                 string  `mapstructure:"app_id"`
	AppVersion            string  `mapstructure:"app_version"`
	DeviceID              string  `mapstructure:"device_id"`
	CID                   int     `mapstructure:"cid"`    // API key client id
	Secret                string  `mapstructure:"secret"` // API key secret
	Demo                  bool    `mapstructure:"demo"`
	HeartbeatSeconds      int     `mapstructure:"heartbeat_seconds"`
	RequestTimeoutSeconds int     `mapstructure:"request_timeout_seconds"`
	ReauthMarginMinutes   int     `mapstructure:"reauth_margin_minutes"`
	RequestsPerSecond     float64 `mapstructure:"requests_per_second"`
	RequestBurst          int     `mapstructure:"request_burst"`
}

// DatabaseConfig contains PostgreSQL settings for the trade journal.
// An empty URL disables journaling entirely.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains Redis settings for the shared signal cache
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig contains NATS messaging settings.
// An empty URL disables event publishing.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// LLMConfig contains Gemini sentiment scoring settings
type LLMConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Endpoint    string  `mapstructure:"endpoint"`
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	TopK        int     `mapstructure:"top_k"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Timeout     int     `mapstructure:"timeout"` // milliseconds
	MaxRetries  int     `mapstructure:"max_retries"`
}

// CollectorsConfig contains social/news data source credentials
type CollectorsConfig struct {
	Twitter TwitterConfig `mapstructure:"twitter"`
	Reddit  RedditConfig  `mapstructure:"reddit"`
	News    NewsConfig    `mapstructure:"news"`
}

// TwitterConfig contains Twitter API v2 credentials
type TwitterConfig struct {
	BearerToken string `mapstructure:"bearer_token"`
}

// RedditConfig contains Reddit API credentials
type RedditConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	UserAgent    string `mapstructure:"user_agent"`
}

// NewsConfig contains news provider API keys
type NewsConfig struct {
	APIKey          string `mapstructure:"api_key"`           // NewsAPI
	AlphaVantageKey string `mapstructure:"alpha_vantage_key"` // Alpha Vantage news feed
}

// SentimentConfig contains sentiment aggregation settings
type SentimentConfig struct {
	TwitterWeight       float64 `mapstructure:"twitter_weight"`
	RedditWeight        float64 `mapstructure:"reddit_weight"`
	NewsWeight          float64 `mapstructure:"news_weight"`
	HalfLifeMinutes     float64 `mapstructure:"half_life_minutes"`
	WindowMinutes       int     `mapstructure:"window_minutes"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	ScoreBatchSize      int     `mapstructure:"score_batch_size"`
	UpdateSeconds       int     `mapstructure:"update_seconds"`
}

// TradingConfig contains trading loop settings
type TradingConfig struct {
	Symbols             []string `mapstructure:"symbols"`
	BarIntervalMinutes  int      `mapstructure:"bar_interval_minutes"`
	UseSentiment        bool     `mapstructure:"use_sentiment"`
	UseTechnicals       bool     `mapstructure:"use_technicals"`
	CooldownSeconds     int      `mapstructure:"cooldown_seconds"`
	MaxContracts        int      `mapstructure:"max_contracts"`
	HistoryHours        int      `mapstructure:"history_hours"`
	DecisionIntervalSec int      `mapstructure:"decision_interval_seconds"`
}

// RiskConfig contains risk management settings
type RiskConfig struct {
	AccountSize     float64 `mapstructure:"account_size"`
	RiskPerTradePct float64 `mapstructure:"risk_per_trade_pct"` // percent of account risked per trade
	MaxDailyLoss    float64 `mapstructure:"max_daily_loss"`     // dollars
	MaxTradesPerDay int     `mapstructure:"max_trades_per_day"`
	MaxPositionSize int     `mapstructure:"max_position_size"` // contracts
}

// ServerConfig contains signal server settings
type ServerConfig struct {
	Host                  string `mapstructure:"host"`
	Port                  int    `mapstructure:"port"`
	SignalCacheTTLSeconds int    `mapstructure:"signal_cache_ttl_seconds"`
	CollectIntervalSec    int    `mapstructure:"collect_interval_seconds"`
}

// AlertsConfig contains alerting settings
type AlertsConfig struct {
	TelegramToken  string `mapstructure:"telegram_token"`
	TelegramChatID int64  `mapstructure:"telegram_chat_id"`
}

// MonitoringConfig contains monitoring settings
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// MetricsPort returns the metrics listen port for the named service. An
// explicit monitoring.prometheus_port wins; otherwise each process gets its
// registered port so the bot and the signal server can share a host.
func (m MonitoringConfig) MetricsPort(service string) int {
	if m.PrometheusPort != 0 {
		return m.PrometheusPort
	}
	if port := GetServiceMetricsPort(service); port != 0 {
		return port
	}
	return MetricsPortBot
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
	v.SetEnvPrefix("FUTURESFUNK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Bind the unprefixed env vars the bot has always used
	bindLegacyEnv(v)

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

	// Symbols may arrive as a comma-separated string from DEFAULT_SYMBOLS
	cfg.Trading.Symbols = splitSymbols(cfg.Trading.Symbols)

	// When VAULT_ENABLED is set, Vault-held secrets override whatever the
	// environment supplied, and they must be in place before validation.
	if vaultCfg := GetVaultConfigFromEnv(); vaultCfg.Enabled {
		if err := LoadSecretsFromVault(context.Background(), &cfg, vaultCfg); err != nil {
			return nil, fmt.Errorf("failed to load secrets from Vault: %w", err)
		}
	}

	// Validate configuration using comprehensive validation
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// splitSymbols normalizes symbol lists that viper may deliver as a single
// comma-separated entry ("MNQ,MES") into discrete uppercase symbols.
func splitSymbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		for _, part := range strings.Split(s, ",") {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// bindLegacyEnv maps bare environment variable names onto config keys.
// These take effect only when the variable is actually set.
func bindLegacyEnv(v *viper.Viper) {
	legacy := map[string]string{
		"broker.username":                   "TRADOVATE_USERNAME",
		"broker.password":                   "TRADOVATE_PASSWORD",
		"broker.app_id":                     "TRADOVATE_APP_ID",
		"broker.app_version":                "TRADOVATE_APP_VERSION",
		"broker.device_id":                  "TRADOVATE_DEVICE_ID",
		"broker.cid":                        "TRADOVATE_CID",
		"broker.secret":                     "TRADOVATE_SECRET",
		"broker.demo":                       "TRADOVATE_DEMO",
		"llm.api_key":                       "GEMINI_API_KEY",
		"collectors.twitter.bearer_token":   "TWITTER_BEARER_TOKEN",
		"collectors.reddit.client_id":       "REDDIT_CLIENT_ID",
		"collectors.reddit.client_secret":   "REDDIT_CLIENT_SECRET",
		"collectors.reddit.user_agent":      "REDDIT_USER_AGENT",
		"collectors.news.api_key":           "NEWS_API_KEY",
		"collectors.news.alpha_vantage_key": "ALPHA_VANTAGE_API_KEY",
		"server.host":                       "SERVER_HOST",
		"server.port":                       "SERVER_PORT",
		"trading.symbols":                   "DEFAULT_SYMBOLS",
		"trading.cooldown_seconds":          "COOLDOWN_SECONDS",
		"sentiment.confidence_threshold":    "CONFIDENCE_THRESHOLD",
		"sentiment.twitter_weight":          "TWITTER_WEIGHT",
		"sentiment.reddit_weight":           "REDDIT_WEIGHT",
		"sentiment.news_weight":             "NEWS_WEIGHT",
		"risk.max_daily_loss":               "MAX_DAILY_LOSS",
		"risk.max_trades_per_day":           "MAX_TRADES_PER_DAY",
		"database.url":                      "DATABASE_URL",
		"app.log_level":                     "LOG_LEVEL",
	}

	for key, env := range legacy {
		// BindEnv only errors on empty input, which cannot happen here
		_ = v.BindEnv(key, env)
	}
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "FuturesFunk")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	// Broker defaults
	v.SetDefault("broker.app_id", "FuturesFunk")
	v.SetDefault("broker.app_version", "1.0")
	v.SetDefault("broker.device_id", "futuresfunk-bot")
	v.SetDefault("broker.demo", true)
	v.SetDefault("broker.heartbeat_seconds", 25)
	v.SetDefault("broker.request_timeout_seconds", 10)
	v.SetDefault("broker.reauth_margin_minutes", 60)
	v.SetDefault("broker.requests_per_second", 2.0)
	v.SetDefault("broker.request_burst", 10)

	// Database defaults (empty URL = journaling disabled)
	v.SetDefault("database.url", "")
	v.SetDefault("database.pool_size", 10)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// NATS defaults (empty URL = event publishing disabled)
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "futuresfunk")

	// LLM defaults
	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.endpoint", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.top_p", 0.8)
	v.SetDefault("llm.top_k", 40)
	v.SetDefault("llm.max_tokens", 500)
	v.SetDefault("llm.timeout", 30000)
	v.SetDefault("llm.max_retries", 3)

	// Collector defaults
	v.SetDefault("collectors.reddit.user_agent", "TradingBot/1.0")

	// Sentiment defaults
	v.SetDefault("sentiment.twitter_weight", 0.3)
	v.SetDefault("sentiment.reddit_weight", 0.3)
	v.SetDefault("sentiment.news_weight", 0.4)
	v.SetDefault("sentiment.half_life_minutes", 30.0)
	v.SetDefault("sentiment.window_minutes", 60)
	v.SetDefault("sentiment.confidence_threshold", 0.55)
	v.SetDefault("sentiment.score_batch_size", 15)
	v.SetDefault("sentiment.update_seconds", 60)

	// Trading defaults
	v.SetDefault("trading.symbols", []string{"MNQ", "MES", "ES", "NQ"})
	v.SetDefault("trading.bar_interval_minutes", 1)
	v.SetDefault("trading.use_sentiment", true)
	v.SetDefault("trading.use_technicals", true)
	v.SetDefault("trading.cooldown_seconds", 30)
	v.SetDefault("trading.max_contracts", 1)
	v.SetDefault("trading.history_hours", 24)
	v.SetDefault("trading.decision_interval_seconds", 1)

	// Risk defaults
	v.SetDefault("risk.account_size", 10000.0)
	v.SetDefault("risk.risk_per_trade_pct", 1.0)
	v.SetDefault("risk.max_daily_loss", 500.0)
	v.SetDefault("risk.max_trades_per_day", 10)
	v.SetDefault("risk.max_position_size", 5)

	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8787)
	v.SetDefault("server.signal_cache_ttl_seconds", 30)
	v.SetDefault("server.collect_interval_seconds", 60)

	// Monitoring defaults
	v.SetDefault("monitoring.enable_metrics", true)
}

// Tradovate endpoints by environment
const (
	demoRESTURL = "https://demo.tradovateapi.com/v1"
	liveRESTURL = "https://live.tradovateapi.com/v1"

	demoMarketDataURL = "https://md-demo.tradovateapi.com/v1"
	liveMarketDataURL = "https://md-live.tradovateapi.com/v1"

	demoSocketURL = "wss://demo.tradovateapi.com/v1/websocket"
	liveSocketURL = "wss://live.tradovateapi.com/v1/websocket"

	demoMarketSocketURL = "wss://md-demo.tradovateapi.com/v1/websocket"
	liveMarketSocketURL = "wss://md-live.tradovateapi.com/v1/websocket"
)

// RESTBaseURL returns the REST API base URL for the configured environment
func (c *BrokerConfig) RESTBaseURL() string {
	if c.Demo {
		return demoRESTURL
	}
	return liveRESTURL
}

// MarketDataBaseURL returns the market data REST base URL
func (c *BrokerConfig) MarketDataBaseURL() string {
	if c.Demo {
		return demoMarketDataURL
	}
	return liveMarketDataURL
}

// TradingSocketURL returns the order/account WebSocket URL
func (c *BrokerConfig) TradingSocketURL() string {
	if c.Demo {
		return demoSocketURL
	}
	return liveSocketURL
}

// MarketSocketURL returns the market data WebSocket URL
func (c *BrokerConfig) MarketSocketURL() string {
	if c.Demo {
		return demoMarketSocketURL
	}
	return liveMarketSocketURL
}

// HeartbeatInterval returns the WebSocket heartbeat interval
func (c *BrokerConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// RequestTimeout returns the per-request timeout for socket RPCs
func (c *BrokerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ReauthMargin returns how long before token expiry re-authentication starts
func (c *BrokerConfig) ReauthMargin() time.Duration {
	return time.Duration(c.ReauthMarginMinutes) * time.Minute
}

// Enabled reports whether the trade journal is configured
func (c *DatabaseConfig) Enabled() bool {
	return c.URL != ""
}

// GetRedisAddr returns the Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Enabled reports whether NATS event publishing is configured
func (c *NATSConfig) Enabled() bool {
	return c.URL != ""
}

// Enabled reports whether Gemini scoring is configured
func (c *LLMConfig) Enabled() bool {
	return c.APIKey != ""
}

// GetTimeout returns the LLM timeout as time.Duration
func (c *LLMConfig) GetTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

// Enabled reports whether Twitter collection is configured
func (c *TwitterConfig) Enabled() bool {
	return c.BearerToken != ""
}

// Enabled reports whether Reddit collection is configured
func (c *RedditConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Enabled reports whether news collection is configured. Either provider
// key is enough; the collector fans out only to configured backends.
func (c *NewsConfig) Enabled() bool {
	return c.APIKey != "" || c.AlphaVantageKey != ""
}

// HalfLife returns the sentiment decay half-life
func (c *SentimentConfig) HalfLife() time.Duration {
	return time.Duration(c.HalfLifeMinutes * float64(time.Minute))
}

// Window returns the sentiment aggregation window
func (c *SentimentConfig) Window() time.Duration {
	return time.Duration(c.WindowMinutes) * time.Minute
}

// UpdateInterval returns the sentiment refresh interval
func (c *SentimentConfig) UpdateInterval() time.Duration {
	return time.Duration(c.UpdateSeconds) * time.Second
}

// Cooldown returns the per-symbol trade cooldown
func (c *TradingConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// DecisionInterval returns the main loop cadence
func (c *TradingConfig) DecisionInterval() time.Duration {
	return time.Duration(c.DecisionIntervalSec) * time.Second
}

// GetAddr returns the signal server listen address
func (c *ServerConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SignalCacheTTL returns the signal cache lifetime
func (c *ServerConfig) SignalCacheTTL() time.Duration {
	return time.Duration(c.SignalCacheTTLSeconds) * time.Second
}

// CollectInterval returns the background collection cadence
func (c *ServerConfig) CollectInterval() time.Duration {
	return time.Duration(c.CollectIntervalSec) * time.Second
}

// Enabled reports whether Telegram alerting is configured
func (c *AlertsConfig) Enabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != 0
}
