package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded cardinality constants for metric labels.
// These ensure metrics don't have unbounded label values which can cause memory issues.
const (
	// Risk gate block reasons (bounded set)
	BlockReasonKillSwitch   = "kill_switch"
	BlockReasonDailyLoss    = "daily_loss_limit"
	BlockReasonTradeLimit   = "trade_limit"
	BlockReasonConfidence   = "low_confidence"
	BlockReasonCooldown     = "cooldown"
	BlockReasonPositionSize = "position_limit"
	BlockReasonOther        = "other"

	// Broker API error categories (bounded set)
	BrokerErrorTimeout     = "timeout"
	BrokerErrorRateLimit   = "rate_limit"
	BrokerErrorAuth        = "authentication"
	BrokerErrorNetwork     = "network"
	BrokerErrorInvalidReq  = "invalid_request"
	BrokerErrorServerError = "server_error"
	BrokerErrorOther       = "other"

	// WebSocket stream names (bounded set)
	SocketTrading    = "trading"
	SocketMarketData = "market_data"
)

// NormalizeBlockReason maps arbitrary risk gate reasons to bounded set
func NormalizeBlockReason(reason string) string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "kill"):
		return BlockReasonKillSwitch
	case strings.Contains(lower, "daily loss") || strings.Contains(lower, "loss limit"):
		return BlockReasonDailyLoss
	case strings.Contains(lower, "trade limit") || strings.Contains(lower, "trades per day") || strings.Contains(lower, "max trades"):
		return BlockReasonTradeLimit
	case strings.Contains(lower, "confidence") || strings.Contains(lower, "threshold"):
		return BlockReasonConfidence
	case strings.Contains(lower, "cooldown"):
		return BlockReasonCooldown
	case strings.Contains(lower, "position"):
		return BlockReasonPositionSize
	default:
		return BlockReasonOther
	}
}

// NormalizeBrokerError maps arbitrary error messages to bounded set
func NormalizeBrokerError(err error) string {
	if err == nil {
		return ""
	}
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return BrokerErrorTimeout
	case strings.Contains(errStr, "rate") || strings.Contains(errStr, "429"):
		return BrokerErrorRateLimit
	case strings.Contains(errStr, "auth") || strings.Contains(errStr, "401") || strings.Contains(errStr, "403") || strings.Contains(errStr, "p-ticket"):
		return BrokerErrorAuth
	case strings.Contains(errStr, "network") || strings.Contains(errStr, "connection"):
		return BrokerErrorNetwork
	case strings.Contains(errStr, "400") || strings.Contains(errStr, "invalid"):
		return BrokerErrorInvalidReq
	case strings.Contains(errStr, "500") || strings.Contains(errStr, "502") || strings.Contains(errStr, "503"):
		return BrokerErrorServerError
	default:
		return BrokerErrorOther
	}
}

// Trading Performance Metrics
var (
	// Total P&L
	TotalPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "futuresfunk_total_pnl",
		Help: "Total profit and loss in USD",
	})

	// Realized P&L for the current UTC trading day
	DailyPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "futuresfunk_daily_pnl",
		Help: "Realized profit and loss for the current UTC day in USD",
	})

	// Trades recorded for the current UTC trading day
	DailyTrades = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "futuresfunk_daily_trades",
		Help: "Number of trades recorded for the current UTC day",
	})

	// Win rate (0.0 to 1.0)
	WinRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "futuresfunk_win_rate",
		Help: "Win rate as a ratio (0.0 to 1.0)",
	})

	// Total trades
	TotalTrades = promauto.NewCounter(prometheus.CounterOpts{
		Name: "futuresfunk_total_trades",
		Help: "Total number of trades executed",
	})

	// Net position by symbol (contracts, negative = short)
	PositionBySymbol = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "futuresfunk_position_contracts",
		Help: "Net position in contracts by symbol (negative = short)",
	}, []string{"symbol"})

	// Position value by symbol
	PositionValueBySymbol = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "futuresfunk_position_value_by_symbol",
		Help: "Position value in USD by trading symbol",
	}, []string{"symbol"})

	// Risk/reward ratio
	RiskRewardRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "futuresfunk_risk_reward_ratio",
		Help: "Average risk/reward ratio",
	})

	// Winning trades value
	WinningTradesValue = promauto.NewCounter(prometheus.CounterOpts{
		Name: "futuresfunk_winning_trades_value",
		Help: "Total value of winning trades in USD",
	})

	// Losing trades value
	LosingTradesValue = promauto.NewCounter(prometheus.CounterOpts{
		Name: "futuresfunk_losing_trades_value",
		Help: "Total value (absolute) of losing trades in USD",
	})

	// Kill switch status (1 = engaged, 0 = trading allowed)
	KillSwitchStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "futuresfunk_kill_switch",
		Help: "Kill switch status (1 = engaged, 0 = trading allowed)",
	})

	// Trades blocked by the risk gate
	BlockedTrades = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "futuresfunk_blocked_trades_total",
		Help: "Total trade intents rejected by the risk gate, by reason",
	}, []string{"reason"})
)

// Broker Connectivity Metrics
var (
	// WebSocket connection status (1 = connected, 0 = disconnected)
	SocketConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "futuresfunk_socket_connected",
		Help: "WebSocket connection status (1 = connected, 0 = disconnected)",
	}, []string{"socket"})

	// WebSocket reconnects
	SocketReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "futuresfunk_socket_reconnects_total",
		Help: "Total number of WebSocket reconnects",
	}, []string{"socket"})

	// Heartbeats sent
	HeartbeatsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "futuresfunk_heartbeats_sent_total",
		Help: "Total number of WebSocket heartbeats sent",
	}, []string{"socket"})

	// Socket request round-trip duration
	SocketRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "futuresfunk_socket_request_duration_ms",
		Help:    "WebSocket request round-trip duration in milliseconds",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"socket", "endpoint"})

	// Broker REST API latency
	BrokerAPILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "futuresfunk_broker_api_latency_ms",
		Help:    "Broker REST API latency in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"endpoint"})

	// Broker API errors
	BrokerAPIErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "futuresfunk_broker_api_errors_total",
		Help: "Total broker API errors by category",
	}, []string{"endpoint", "error_type"})

	// Access token renewals
	AuthRenewals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "futuresfunk_auth_renewals_total",
		Help: "Total number of access token renewals",
	})

	// Market data events by type (quote, tick, bar, dom)
	MarketDataEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "futuresfunk_market_data_events_total",
		Help: "Total market data events received by type",
	}, []string{"type"})

	// Order execution latency
	OrderExecutionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "futuresfunk_order_execution_latency_ms",
		Help:    "Order execution latency in milliseconds",
		Buckets: []float64{100, 250, 500, 1000, 2500, 5000},
	})

	// Orders placed by type (market, oso, cancel, liquidation)
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "futuresfunk_orders_placed_total",
		Help: "Total orders submitted to the broker by type",
	}, []string{"order_type"})
)

// Sentiment Pipeline Metrics
var (
	// Items collected by source
	ItemsCollected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "futuresfunk_items_collected_total",
		Help: "Total sentiment items collected by source",
	}, []string{"source"})

	// Collector errors by source
	CollectorErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "futuresfunk_collector_errors_total",
		Help: "Total collector errors by source",
	}, []string{"source"})

	// LLM scoring requests by outcome (success, failure, fallback)
	ScoringRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "futuresfunk_scoring_requests_total",
		Help: "Total LLM scoring requests by model and outcome",
	}, []string{"model", "outcome"})

	// LLM request duration
	LLMRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "futuresfunk_llm_request_duration_ms",
		Help:    "LLM request duration in milliseconds",
		Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000},
	})

	// Aggregate sentiment score by symbol (-1.0 to 1.0)
	SentimentScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "futuresfunk_sentiment_score",
		Help: "Aggregate sentiment score by symbol (-1.0 bearish to 1.0 bullish)",
	}, []string{"symbol"})

	// Aggregate sentiment confidence by symbol (0.0 to 1.0)
	SentimentConfidence = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "futuresfunk_sentiment_confidence",
		Help: "Aggregate sentiment confidence by symbol (0.0 to 1.0)",
	}, []string{"symbol"})
)

// Decision Metrics
var (
	// Decisions by symbol and action
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "futuresfunk_decisions_total",
		Help: "Total trading decisions by symbol and action",
	}, []string{"symbol", "action"})

	// Decision confidence by symbol
	DecisionConfidence = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "futuresfunk_decision_confidence",
		Help: "Latest decision confidence by symbol (0.0 to 1.0)",
	}, []string{"symbol"})

	// Decision cycle latency
	DecisionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "futuresfunk_decision_latency_ms",
		Help:    "Decision cycle latency in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
	})
)

// System Health Metrics
var (
	// Database connections
	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "futuresfunk_database_connections_active",
		Help: "Number of active database connections",
	})

	DatabaseConnectionsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "futuresfunk_database_connections_idle",
		Help: "Number of idle database connections",
	})

	// Redis cache hit rate
	RedisCacheHitRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "futuresfunk_redis_cache_hit_rate",
		Help: "Redis cache hit rate as a ratio (0.0 to 1.0)",
	})

	// Redis operations
	RedisOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "futuresfunk_redis_operations_total",
		Help: "Total number of Redis operations by type",
	}, []string{"operation"})

	// Signal cache hits and misses
	SignalCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "futuresfunk_signal_cache_hits_total",
		Help: "Total signal cache hits",
	})

	SignalCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "futuresfunk_signal_cache_misses_total",
		Help: "Total signal cache misses",
	})

	// API request duration
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "futuresfunk_api_request_duration_ms",
		Help:    "API request duration in milliseconds",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"method", "path", "status_code"})

	// HTTP requests
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "futuresfunk_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status_code"})

	// Errors
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "futuresfunk_errors_total",
		Help: "Total number of errors by type",
	}, []string{"type", "component"})

	// Database query duration
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "futuresfunk_database_query_duration_ms",
		Help:    "Database query duration in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	}, []string{"query_type"})

	// Event bus
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "futuresfunk_events_published_total",
		Help: "Total events published on the internal bus by type",
	}, []string{"type"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "futuresfunk_events_dropped_total",
		Help: "Total events dropped from full subscriber buffers by type",
	}, []string{"type"})

	// NATS messages
	NATSMessagesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "futuresfunk_nats_messages_published_total",
		Help: "Total number of NATS messages published",
	})
)

// Helper functions to update metrics

// UpdateDatabaseConnections updates database connection metrics
func UpdateDatabaseConnections(active, idle int32) {
	DatabaseConnectionsActive.Set(float64(active))
	DatabaseConnectionsIdle.Set(float64(idle))
}

// RecordAPIRequest records an API request with duration
func RecordAPIRequest(method, path, statusCode string, durationMs float64) {
	APIRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationMs)
	HTTPRequests.WithLabelValues(method, path, statusCode).Inc()
}

// RecordError records an error
func RecordError(errorType, component string) {
	Errors.WithLabelValues(errorType, component).Inc()
}

// RecordDatabaseQuery records a database query
func RecordDatabaseQuery(queryType string, durationMs float64) {
	DatabaseQueryDuration.WithLabelValues(queryType).Observe(durationMs)
}

// SetSocketConnected sets WebSocket connection status
func SetSocketConnected(socket string, connected bool) {
	status := 0.0
	if connected {
		status = 1.0
	}
	SocketConnected.WithLabelValues(socket).Set(status)
}

// RecordSocketReconnect records a WebSocket reconnect
func RecordSocketReconnect(socket string) {
	SocketReconnects.WithLabelValues(socket).Inc()
}

// RecordHeartbeat records a WebSocket heartbeat
func RecordHeartbeat(socket string) {
	HeartbeatsSent.WithLabelValues(socket).Inc()
}

// RecordSocketRequest records a WebSocket request round trip
func RecordSocketRequest(socket, endpoint string, durationMs float64) {
	SocketRequestDuration.WithLabelValues(socket, endpoint).Observe(durationMs)
}

// RecordBrokerAPICall records a broker REST call with normalized error category
func RecordBrokerAPICall(endpoint string, durationMs float64, err error) {
	BrokerAPILatency.WithLabelValues(endpoint).Observe(durationMs)
	if err != nil {
		errorCategory := NormalizeBrokerError(err)
		BrokerAPIErrors.WithLabelValues(endpoint, errorCategory).Inc()
	}
}

// RecordAuthRenewal records an access token renewal
func RecordAuthRenewal() {
	AuthRenewals.Inc()
}

// RecordMarketDataEvent records a market data event by type
func RecordMarketDataEvent(eventType string) {
	MarketDataEvents.WithLabelValues(eventType).Inc()
}

// RecordOrderPlaced records an order submitted to the broker
func RecordOrderPlaced(orderType string) {
	OrdersPlaced.WithLabelValues(orderType).Inc()
}

// RecordOrderExecution records order execution latency
func RecordOrderExecution(durationMs float64) {
	OrderExecutionLatency.Observe(durationMs)
}

// RecordCollectedItems records items collected from a sentiment source
func RecordCollectedItems(source string, count int) {
	ItemsCollected.WithLabelValues(source).Add(float64(count))
}

// RecordCollectorError records a collector failure
func RecordCollectorError(source string) {
	CollectorErrors.WithLabelValues(source).Inc()
}

// RecordScoring records an LLM scoring request
func RecordScoring(model, outcome string, durationMs float64) {
	ScoringRequests.WithLabelValues(model, outcome).Inc()
	LLMRequestDuration.Observe(durationMs)
}

// UpdateSentiment updates the aggregate sentiment gauges for a symbol
func UpdateSentiment(symbol string, score, confidence float64) {
	SentimentScore.WithLabelValues(symbol).Set(score)
	SentimentConfidence.WithLabelValues(symbol).Set(confidence)
}

// RecordDecision records a trading decision
func RecordDecision(symbol, action string, confidence float64) {
	Decisions.WithLabelValues(symbol, action).Inc()
	DecisionConfidence.WithLabelValues(symbol).Set(confidence)
}

// RecordDecisionLatency records decision cycle latency
func RecordDecisionLatency(durationMs float64) {
	DecisionLatency.Observe(durationMs)
}

// RecordBlockedTrade records a trade intent rejected by the risk gate,
// with normalized reason
func RecordBlockedTrade(reason string) {
	normalizedReason := NormalizeBlockReason(reason)
	BlockedTrades.WithLabelValues(normalizedReason).Inc()
}

// RecordTrade records a completed trade
func RecordTrade(profitLoss float64) {
	TotalTrades.Inc()
	if profitLoss > 0 {
		WinningTradesValue.Add(profitLoss)
	} else {
		LosingTradesValue.Add(-profitLoss) // Store absolute value
	}
}

// UpdateDailyRisk updates the daily risk tracking gauges
func UpdateDailyRisk(dailyPnL float64, dailyTrades int) {
	DailyPnL.Set(dailyPnL)
	DailyTrades.Set(float64(dailyTrades))
}

// UpdateKillSwitch updates the kill switch gauge
func UpdateKillSwitch(engaged bool) {
	status := 0.0
	if engaged {
		status = 1.0
	}
	KillSwitchStatus.Set(status)
}

// UpdatePosition updates position gauges for a symbol
func UpdatePosition(symbol string, contracts int, value float64) {
	PositionBySymbol.WithLabelValues(symbol).Set(float64(contracts))
	PositionValueBySymbol.WithLabelValues(symbol).Set(value)
}

// RecordRedisOperation records a Redis operation
func RecordRedisOperation(operation string) {
	RedisOperations.WithLabelValues(operation).Inc()
}

// RecordSignalCacheHit records a signal cache hit
func RecordSignalCacheHit() {
	SignalCacheHits.Inc()
}

// RecordSignalCacheMiss records a signal cache miss
func RecordSignalCacheMiss() {
	SignalCacheMisses.Inc()
}

// RecordEventPublished records an event published on the internal bus
func RecordEventPublished(eventType string) {
	EventsPublished.WithLabelValues(eventType).Inc()
}

// RecordEventDropped records an event dropped from a full subscriber buffer
func RecordEventDropped(eventType string) {
	EventsDropped.WithLabelValues(eventType).Inc()
}
