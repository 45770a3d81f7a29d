package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	sb.WriteString("\nPlease fix the above errors and try again.\n")
	return sb.String()
}

// Validate performs comprehensive configuration validation
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateApp()...)
	errors = append(errors, c.validateBroker()...)
	errors = append(errors, c.validateDatabase()...)
	errors = append(errors, c.validateRedis()...)
	errors = append(errors, c.validateNATS()...)
	errors = append(errors, c.validateLLM()...)
	errors = append(errors, c.validateSentiment()...)
	errors = append(errors, c.validateTrading()...)
	errors = append(errors, c.validateRisk()...)
	errors = append(errors, c.validateServer()...)
	errors = append(errors, c.validateEnvironmentRequirements()...)

	if len(errors) > 0 {
		return errors
	}

	return nil
}

func (c *Config) validateApp() ValidationErrors {
	var errors ValidationErrors

	if c.App.Name == "" {
		errors = append(errors, ValidationError{
			Field:   "app.name",
			Message: "Application name is required",
		})
	}

	if c.App.Environment == "" {
		errors = append(errors, ValidationError{
			Field:   "app.environment",
			Message: "Environment is required (development, staging, or production)",
		})
	} else {
		validEnvs := []string{"development", "staging", "production"}
		valid := false
		for _, env := range validEnvs {
			if c.App.Environment == env {
				valid = true
				break
			}
		}
		if !valid {
			errors = append(errors, ValidationError{
				Field:   "app.environment",
				Message: fmt.Sprintf("Invalid environment '%s'. Must be one of: %v", c.App.Environment, validEnvs),
			})
		}
	}

	if c.App.LogLevel == "" {
		errors = append(errors, ValidationError{
			Field:   "app.log_level",
			Message: "Log level is required (debug, info, warn, error)",
		})
	}

	return errors
}

func (c *Config) validateBroker() ValidationErrors {
	var errors ValidationErrors

	// Live trading requires credentials; demo can run without for dry testing
	if !c.Broker.Demo {
		if c.Broker.Username == "" {
			errors = append(errors, ValidationError{
				Field:   "broker.username",
				Message: "Tradovate username is required for live trading",
			})
		}
		if c.Broker.Password == "" {
			errors = append(errors, ValidationError{
				Field:   "broker.password",
				Message: "Tradovate password is required for live trading",
			})
		}
	}

	if c.Broker.HeartbeatSeconds < 1 || c.Broker.HeartbeatSeconds > 60 {
		errors = append(errors, ValidationError{
			Field:   "broker.heartbeat_seconds",
			Message: fmt.Sprintf("Invalid heartbeat interval %d. Must be between 1-60 seconds", c.Broker.HeartbeatSeconds),
		})
	}

	if c.Broker.RequestTimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "broker.request_timeout_seconds",
			Message: "Request timeout must be at least 1 second",
		})
	}

	if c.Broker.RequestsPerSecond <= 0 {
		errors = append(errors, ValidationError{
			Field:   "broker.requests_per_second",
			Message: "REST rate limit must be greater than 0",
		})
	}

	return errors
}

func (c *Config) validateDatabase() ValidationErrors {
	var errors ValidationErrors

	// Empty URL means journaling is disabled
	if c.Database.URL != "" {
		if !strings.HasPrefix(c.Database.URL, "postgres://") && !strings.HasPrefix(c.Database.URL, "postgresql://") {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "Database URL must start with 'postgres://' or 'postgresql://'",
			})
		}

		if c.Database.PoolSize < 1 {
			errors = append(errors, ValidationError{
				Field:   "database.pool_size",
				Message: "Database pool size must be at least 1",
			})
		}
	}

	return errors
}

func (c *Config) validateRedis() ValidationErrors {
	var errors ValidationErrors

	if !c.Redis.Enabled {
		return errors
	}

	if c.Redis.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "redis.host",
			Message: "Redis host is required when Redis is enabled",
		})
	}

	if c.Redis.Port == 0 {
		errors = append(errors, ValidationError{
			Field:   "redis.port",
			Message: "Redis port is required when Redis is enabled",
		})
	} else if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "redis.port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.Redis.Port),
		})
	}

	return errors
}

func (c *Config) validateNATS() ValidationErrors {
	var errors ValidationErrors

	// Empty URL means event publishing is disabled
	if c.NATS.URL != "" && !strings.HasPrefix(c.NATS.URL, "nats://") {
		errors = append(errors, ValidationError{
			Field:   "nats.url",
			Message: "NATS URL must start with 'nats://'",
		})
	}

	return errors
}

func (c *Config) validateLLM() ValidationErrors {
	var errors ValidationErrors

	if c.LLM.Model == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.model",
			Message: "LLM model is required",
		})
	}

	if c.LLM.Endpoint == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.endpoint",
			Message: "LLM endpoint is required",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: fmt.Sprintf("Invalid temperature %.2f. Must be between 0-2", c.LLM.Temperature),
		})
	}

	if c.LLM.TopP < 0 || c.LLM.TopP > 1 {
		errors = append(errors, ValidationError{
			Field:   "llm.top_p",
			Message: fmt.Sprintf("Invalid top_p %.2f. Must be between 0-1", c.LLM.TopP),
		})
	}

	if c.LLM.MaxTokens < 1 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "LLM max_tokens must be at least 1",
		})
	}

	if c.LLM.Timeout < 1000 {
		errors = append(errors, ValidationError{
			Field:   "llm.timeout",
			Message: "LLM timeout must be at least 1000ms",
		})
	}

	return errors
}

func (c *Config) validateSentiment() ValidationErrors {
	var errors ValidationErrors

	weights := map[string]float64{
		"sentiment.twitter_weight": c.Sentiment.TwitterWeight,
		"sentiment.reddit_weight":  c.Sentiment.RedditWeight,
		"sentiment.news_weight":    c.Sentiment.NewsWeight,
	}
	for field, w := range weights {
		if w < 0 {
			errors = append(errors, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("Source weight %.2f must be non-negative", w),
			})
		}
	}

	if c.Sentiment.ConfidenceThreshold < 0 || c.Sentiment.ConfidenceThreshold > 1 {
		errors = append(errors, ValidationError{
			Field:   "sentiment.confidence_threshold",
			Message: fmt.Sprintf("Invalid confidence_threshold %.2f. Must be between 0-1", c.Sentiment.ConfidenceThreshold),
		})
	}

	if c.Sentiment.HalfLifeMinutes <= 0 {
		errors = append(errors, ValidationError{
			Field:   "sentiment.half_life_minutes",
			Message: "Sentiment half-life must be greater than 0",
		})
	}

	if c.Sentiment.WindowMinutes < 1 {
		errors = append(errors, ValidationError{
			Field:   "sentiment.window_minutes",
			Message: "Sentiment window must be at least 1 minute",
		})
	}

	if c.Sentiment.ScoreBatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "sentiment.score_batch_size",
			Message: "Score batch size must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateTrading() ValidationErrors {
	var errors ValidationErrors

	if len(c.Trading.Symbols) == 0 {
		errors = append(errors, ValidationError{
			Field:   "trading.symbols",
			Message: "At least one trading symbol is required",
		})
	}

	if c.Trading.BarIntervalMinutes < 1 {
		errors = append(errors, ValidationError{
			Field:   "trading.bar_interval_minutes",
			Message: "Bar interval must be at least 1 minute",
		})
	}

	if c.Trading.CooldownSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "trading.cooldown_seconds",
			Message: "Cooldown must be non-negative",
		})
	}

	if c.Trading.MaxContracts < 1 {
		errors = append(errors, ValidationError{
			Field:   "trading.max_contracts",
			Message: "Max contracts must be at least 1",
		})
	}

	if c.Trading.DecisionIntervalSec < 1 {
		errors = append(errors, ValidationError{
			Field:   "trading.decision_interval_seconds",
			Message: "Decision interval must be at least 1 second",
		})
	}

	return errors
}

func (c *Config) validateRisk() ValidationErrors {
	var errors ValidationErrors

	if c.Risk.AccountSize <= 0 {
		errors = append(errors, ValidationError{
			Field:   "risk.account_size",
			Message: "Account size must be greater than 0",
		})
	}

	if c.Risk.RiskPerTradePct <= 0 || c.Risk.RiskPerTradePct > 100 {
		errors = append(errors, ValidationError{
			Field:   "risk.risk_per_trade_pct",
			Message: fmt.Sprintf("Invalid risk_per_trade_pct %.2f. Must be between 0-100", c.Risk.RiskPerTradePct),
		})
	}

	if c.Risk.MaxDailyLoss <= 0 {
		errors = append(errors, ValidationError{
			Field:   "risk.max_daily_loss",
			Message: "Max daily loss must be greater than 0",
		})
	}

	if c.Risk.MaxTradesPerDay < 1 {
		errors = append(errors, ValidationError{
			Field:   "risk.max_trades_per_day",
			Message: "Max trades per day must be at least 1",
		})
	}

	if c.Risk.MaxPositionSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "risk.max_position_size",
			Message: "Max position size must be at least 1 contract",
		})
	}

	return errors
}

func (c *Config) validateServer() ValidationErrors {
	var errors ValidationErrors

	if c.Server.Port == 0 {
		errors = append(errors, ValidationError{
			Field:   "server.port",
			Message: "Server port is required",
		})
	} else if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.Server.Port),
		})
	}

	if c.Server.SignalCacheTTLSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "server.signal_cache_ttl_seconds",
			Message: "Signal cache TTL must be at least 1 second",
		})
	}

	return errors
}

func (c *Config) validateEnvironmentRequirements() ValidationErrors {
	var errors ValidationErrors

	// Production-specific validations
	if c.App.Environment == "production" {
		secretErrors := ValidateProductionSecrets(c)
		errors = append(errors, secretErrors...)

		// Demo mode in production is allowed for rehearsal, but live trading
		// needs full API key credentials, not just username/password
		if !c.Broker.Demo && (c.Broker.CID == 0 || c.Broker.Secret == "") {
			errors = append(errors, ValidationError{
				Field:   "broker.cid",
				Message: "API key credentials (cid and secret) are required for live trading in production",
			})
		}
	}

	return errors
}

// ValidateAndLoad loads and validates configuration
// Returns the loaded config and any validation errors
// configPath can be empty to use default config locations
func ValidateAndLoad(configPath string) (*Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Validation is already called within Load(), but we can call it again
	// for explicit validation if Load() is modified in the future
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
