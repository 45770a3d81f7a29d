package config

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "FuturesFunk", cfg.App.Name)
	assert.Equal(t, "development", cfg.App.Environment)
	assert.Equal(t, "info", cfg.App.LogLevel)

	assert.True(t, cfg.Broker.Demo)
	assert.Equal(t, "FuturesFunk", cfg.Broker.AppID)
	assert.Equal(t, 25, cfg.Broker.HeartbeatSeconds)
	assert.Equal(t, 10, cfg.Broker.RequestTimeoutSeconds)
	assert.Equal(t, 60, cfg.Broker.ReauthMarginMinutes)

	assert.Equal(t, "gemini-2.0-flash", cfg.LLM.Model)
	assert.Equal(t, 0.3, cfg.LLM.Temperature)
	assert.Equal(t, 0.8, cfg.LLM.TopP)
	assert.Equal(t, 40, cfg.LLM.TopK)
	assert.Equal(t, 500, cfg.LLM.MaxTokens)

	assert.Equal(t, 0.3, cfg.Sentiment.TwitterWeight)
	assert.Equal(t, 0.3, cfg.Sentiment.RedditWeight)
	assert.Equal(t, 0.4, cfg.Sentiment.NewsWeight)
	assert.Equal(t, 0.55, cfg.Sentiment.ConfidenceThreshold)
	assert.Equal(t, 30.0, cfg.Sentiment.HalfLifeMinutes)

	assert.Equal(t, []string{"MNQ", "MES", "ES", "NQ"}, cfg.Trading.Symbols)
	assert.Equal(t, 30, cfg.Trading.CooldownSeconds)
	assert.Equal(t, 24, cfg.Trading.HistoryHours)

	assert.Equal(t, 10000.0, cfg.Risk.AccountSize)
	assert.Equal(t, 1.0, cfg.Risk.RiskPerTradePct)
	assert.Equal(t, 500.0, cfg.Risk.MaxDailyLoss)
	assert.Equal(t, 10, cfg.Risk.MaxTradesPerDay)
	assert.Equal(t, 5, cfg.Risk.MaxPositionSize)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8787, cfg.Server.Port)
	assert.Equal(t, 30, cfg.Server.SignalCacheTTLSeconds)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := strings.Join([]string{
		"app:",
		"  name: CustomBot",
		"  environment: staging",
		"broker:",
		"  demo: false",
		"  username: trader",
		"  password: hunter2hunter2",
		"trading:",
		"  symbols:",
		"    - MES",
		"  cooldown_seconds: 60",
		"risk:",
		"  max_daily_loss: 750",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "CustomBot", cfg.App.Name)
	assert.Equal(t, "staging", cfg.App.Environment)
	assert.False(t, cfg.Broker.Demo)
	assert.Equal(t, "trader", cfg.Broker.Username)
	assert.Equal(t, []string{"MES"}, cfg.Trading.Symbols)
	assert.Equal(t, 60, cfg.Trading.CooldownSeconds)
	assert.Equal(t, 750.0, cfg.Risk.MaxDailyLoss)

	// Defaults still fill in what the file omits
	assert.Equal(t, 25, cfg.Broker.HeartbeatSeconds)
	assert.Equal(t, 8787, cfg.Server.Port)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoad_LegacyEnv(t *testing.T) {
	t.Setenv("TRADOVATE_USERNAME", "envtrader")
	t.Setenv("TRADOVATE_PASSWORD", "envpass12345")
	t.Setenv("TRADOVATE_CID", "4211")
	t.Setenv("GEMINI_API_KEY", "gm-key-123")
	t.Setenv("TWITTER_BEARER_TOKEN", "tw-token")
	t.Setenv("DEFAULT_SYMBOLS", "mnq, mes")
	t.Setenv("COOLDOWN_SECONDS", "45")
	t.Setenv("CONFIDENCE_THRESHOLD", "0.7")
	t.Setenv("MAX_DAILY_LOSS", "750")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "envtrader", cfg.Broker.Username)
	assert.Equal(t, "envpass12345", cfg.Broker.Password)
	assert.Equal(t, 4211, cfg.Broker.CID)
	assert.Equal(t, "gm-key-123", cfg.LLM.APIKey)
	assert.Equal(t, "tw-token", cfg.Collectors.Twitter.BearerToken)
	assert.Equal(t, []string{"MNQ", "MES"}, cfg.Trading.Symbols)
	assert.Equal(t, 45, cfg.Trading.CooldownSeconds)
	assert.Equal(t, 0.7, cfg.Sentiment.ConfidenceThreshold)
	assert.Equal(t, 750.0, cfg.Risk.MaxDailyLoss)
	assert.Equal(t, "debug", cfg.App.LogLevel)
}

func TestLoad_PrefixedEnv(t *testing.T) {
	t.Setenv("FUTURESFUNK_SERVER_PORT", "9000")
	t.Setenv("FUTURESFUNK_APP_ENVIRONMENT", "staging")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "staging", cfg.App.Environment)
}

func TestLoad_VaultSecrets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/secret/data/futuresfunk/production/broker":
			json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{
					"data": map[string]any{
						"username": "vaulttrader",
						"password": "Kx9#mVlt!Passage21",
						"cid":      "5150",
						"secret":   "vlt-api-credential-01",
					},
				},
			})
		case "/v1/secret/data/futuresfunk/production/llm":
			json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{
					"data": map[string]any{"gemini_api_key": "gm-vlt-key"},
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"errors":[]}`))
		}
	}))
	defer srv.Close()

	t.Setenv("VAULT_ENABLED", "true")
	t.Setenv("VAULT_ADDR", srv.URL)
	t.Setenv("VAULT_TOKEN", "unit-token")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "vaulttrader", cfg.Broker.Username)
	assert.Equal(t, "Kx9#mVlt!Passage21", cfg.Broker.Password)
	assert.Equal(t, 5150, cfg.Broker.CID)
	assert.Equal(t, "vlt-api-credential-01", cfg.Broker.Secret)
	assert.Equal(t, "gm-vlt-key", cfg.LLM.APIKey)
}

func TestLoad_VaultEnabledWithoutToken(t *testing.T) {
	t.Setenv("VAULT_ENABLED", "true")
	t.Setenv("VAULT_ADDR", "http://127.0.0.1:1")
	t.Setenv("VAULT_TOKEN", "")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Vault")
}

func TestLoad_VaultDisabledSkipsLookup(t *testing.T) {
	// A dead VAULT_ADDR must not matter when the integration is off.
	t.Setenv("VAULT_ENABLED", "false")
	t.Setenv("VAULT_ADDR", "http://127.0.0.1:1")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Broker.Password)
}

func TestSplitSymbols(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{
			name:     "already discrete",
			input:    []string{"MNQ", "MES"},
			expected: []string{"MNQ", "MES"},
		},
		{
			name:     "comma joined",
			input:    []string{"MNQ,MES,ES"},
			expected: []string{"MNQ", "MES", "ES"},
		},
		{
			name:     "lowercase with spaces",
			input:    []string{"mnq , mes "},
			expected: []string{"MNQ", "MES"},
		},
		{
			name:     "empty entries dropped",
			input:    []string{"MNQ,,MES", ""},
			expected: []string{"MNQ", "MES"},
		},
		{
			name:     "empty input",
			input:    nil,
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, splitSymbols(tt.input))
		})
	}
}

func TestBrokerConfig_URLs(t *testing.T) {
	demo := BrokerConfig{Demo: true}
	assert.Equal(t, "https://demo.tradovateapi.com/v1", demo.RESTBaseURL())
	assert.Equal(t, "https://md-demo.tradovateapi.com/v1", demo.MarketDataBaseURL())
	assert.Equal(t, "wss://demo.tradovateapi.com/v1/websocket", demo.TradingSocketURL())
	assert.Equal(t, "wss://md-demo.tradovateapi.com/v1/websocket", demo.MarketSocketURL())

	live := BrokerConfig{Demo: false}
	assert.Equal(t, "https://live.tradovateapi.com/v1", live.RESTBaseURL())
	assert.Equal(t, "https://md-live.tradovateapi.com/v1", live.MarketDataBaseURL())
	assert.Equal(t, "wss://live.tradovateapi.com/v1/websocket", live.TradingSocketURL())
	assert.Equal(t, "wss://md-live.tradovateapi.com/v1/websocket", live.MarketSocketURL())
}

func TestBrokerConfig_Durations(t *testing.T) {
	cfg := BrokerConfig{
		HeartbeatSeconds:      25,
		RequestTimeoutSeconds: 10,
		ReauthMarginMinutes:   60,
	}

	assert.Equal(t, 25*time.Second, cfg.HeartbeatInterval())
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout())
	assert.Equal(t, time.Hour, cfg.ReauthMargin())
}

func TestEnabledHelpers(t *testing.T) {
	t.Run("database", func(t *testing.T) {
		assert.False(t, (&DatabaseConfig{}).Enabled())
		assert.True(t, (&DatabaseConfig{URL: "postgres://localhost/db"}).Enabled())
	})

	t.Run("nats", func(t *testing.T) {
		assert.False(t, (&NATSConfig{}).Enabled())
		assert.True(t, (&NATSConfig{URL: "nats://localhost:4222"}).Enabled())
	})

	t.Run("llm", func(t *testing.T) {
		assert.False(t, (&LLMConfig{}).Enabled())
		assert.True(t, (&LLMConfig{APIKey: "key"}).Enabled())
	})

	t.Run("twitter", func(t *testing.T) {
		assert.False(t, (&TwitterConfig{}).Enabled())
		assert.True(t, (&TwitterConfig{BearerToken: "token"}).Enabled())
	})

	t.Run("reddit requires both id and secret", func(t *testing.T) {
		assert.False(t, (&RedditConfig{}).Enabled())
		assert.False(t, (&RedditConfig{ClientID: "id"}).Enabled())
		assert.False(t, (&RedditConfig{ClientSecret: "secret"}).Enabled())
		assert.True(t, (&RedditConfig{ClientID: "id", ClientSecret: "secret"}).Enabled())
	})

	t.Run("news", func(t *testing.T) {
		assert.False(t, (&NewsConfig{}).Enabled())
		assert.True(t, (&NewsConfig{AlphaVantageKey: "av"}).Enabled())
		assert.True(t, (&NewsConfig{APIKey: "key"}).Enabled())
	})

	t.Run("alerts require token and chat id", func(t *testing.T) {
		assert.False(t, (&AlertsConfig{}).Enabled())
		assert.False(t, (&AlertsConfig{TelegramToken: "tok"}).Enabled())
		assert.False(t, (&AlertsConfig{TelegramChatID: 42}).Enabled())
		assert.True(t, (&AlertsConfig{TelegramToken: "tok", TelegramChatID: 42}).Enabled())
	})
}

func TestSentimentConfig_Durations(t *testing.T) {
	cfg := SentimentConfig{
		HalfLifeMinutes: 30,
		WindowMinutes:   60,
		UpdateSeconds:   60,
	}

	assert.Equal(t, 30*time.Minute, cfg.HalfLife())
	assert.Equal(t, time.Hour, cfg.Window())
	assert.Equal(t, time.Minute, cfg.UpdateInterval())
}

func TestSentimentConfig_FractionalHalfLife(t *testing.T) {
	cfg := SentimentConfig{HalfLifeMinutes: 0.5}
	assert.Equal(t, 30*time.Second, cfg.HalfLife())
}

func TestServerConfig_Helpers(t *testing.T) {
	cfg := ServerConfig{
		Host:                  "0.0.0.0",
		Port:                  8787,
		SignalCacheTTLSeconds: 30,
		CollectIntervalSec:    60,
	}

	assert.Equal(t, "0.0.0.0:8787", cfg.GetAddr())
	assert.Equal(t, 30*time.Second, cfg.SignalCacheTTL())
	assert.Equal(t, time.Minute, cfg.CollectInterval())
}

func TestRedisConfig_GetRedisAddr(t *testing.T) {
	cfg := RedisConfig{Host: "localhost", Port: 6379}
	assert.Equal(t, "localhost:6379", cfg.GetRedisAddr())
}

func TestTradingConfig_Durations(t *testing.T) {
	cfg := TradingConfig{CooldownSeconds: 30, DecisionIntervalSec: 1}
	assert.Equal(t, 30*time.Second, cfg.Cooldown())
	assert.Equal(t, time.Second, cfg.DecisionInterval())
}

func TestLLMConfig_GetTimeout(t *testing.T) {
	cfg := LLMConfig{Timeout: 30000}
	assert.Equal(t, 30*time.Second, cfg.GetTimeout())
}
