// Shared harness for end-to-end pipeline tests. Each test wires the
// real supervisor, decider, risk gate and order manager to the in-memory
// broker and drives the running loops the way cmd/bot does.
package e2e

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/futuresfunk/internal/bot"
	"github.com/ajitpratap0/futuresfunk/internal/broker"
	"github.com/ajitpratap0/futuresfunk/internal/clock"
	"github.com/ajitpratap0/futuresfunk/internal/collectors"
	"github.com/ajitpratap0/futuresfunk/internal/config"
	"github.com/ajitpratap0/futuresfunk/internal/decision"
	"github.com/ajitpratap0/futuresfunk/internal/events"
	"github.com/ajitpratap0/futuresfunk/internal/market"
	"github.com/ajitpratap0/futuresfunk/internal/orders"
	"github.com/ajitpratap0/futuresfunk/internal/risk"
	"github.com/ajitpratap0/futuresfunk/internal/sentiment"
)

var sessionStart = time.Date(2025, 6, 3, 14, 30, 0, 0, time.UTC)

const (
	pollWait = 2 * time.Second
	pollTick = 5 * time.Millisecond
)

// startEmbeddedNATS starts an in-process NATS server on a random port.
func startEmbeddedNATS(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // Random port
		NoLog:  true,
		NoSigs: true,
	}
	ns, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go ns.Start()

	if !ns.ReadyForConnections(4 * time.Second) {
		t.Fatal("NATS server did not start in time")
	}
	t.Cleanup(ns.Shutdown)

	return ns
}

// stack holds a fully wired trading pipeline over the in-memory broker.
type stack struct {
	sup   *bot.Supervisor
	mock  *broker.MockBroker
	store *market.Store
	gate  *risk.Gate
	mgr   *orders.Manager
	bus   *events.Bus
	clk   *clock.Fake
}

func technicalCfg() config.TradingConfig {
	return config.TradingConfig{
		Symbols:         []string{"MNQ"},
		UseTechnicals:   true,
		CooldownSeconds: 30,
		MaxContracts:    3,
		HistoryHours:    1,
	}
}

func sentimentTradingCfg() config.TradingConfig {
	return config.TradingConfig{
		Symbols:         []string{"MNQ"},
		UseSentiment:    true,
		CooldownSeconds: 30,
		MaxContracts:    3,
		HistoryHours:    1,
	}
}

func sentimentCfg() config.SentimentConfig {
	return config.SentimentConfig{
		TwitterWeight:       0.3,
		RedditWeight:        0.3,
		NewsWeight:          0.4,
		HalfLifeMinutes:     30,
		WindowMinutes:       60,
		ConfidenceThreshold: 0.55,
		ScoreBatchSize:      100,
		UpdateSeconds:       60,
	}
}

// newStack wires a supervisor over a fresh mock broker. mutate may add
// collectors or a scorer before construction.
func newStack(t *testing.T, cfg config.TradingConfig, sentCfg config.SentimentConfig, mutate func(*bot.Deps), opts ...bot.Option) *stack {
	t.Helper()

	clk := clock.NewFake(sessionStart)
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	mock := broker.NewMock()
	store := market.NewStore(bus)
	gate := risk.NewGate(config.RiskConfig{
		AccountSize:     10000,
		RiskPerTradePct: 1.0,
		MaxDailyLoss:    500,
		MaxTradesPerDay: 10,
		MaxPositionSize: 3,
	}, bus, risk.WithClock(clk))
	mgr := orders.NewManager(cfg, gate, mock, bus, orders.WithClock(clk))
	decider := decision.NewDecider(cfg, sentCfg, gate, nil, bus, decision.WithClock(clk))
	aggregator := sentiment.NewAggregator(sentCfg, clk)

	deps := bot.Deps{
		Bus:        bus,
		Broker:     mock,
		Store:      store,
		Gate:       gate,
		Decider:    decider,
		Orders:     mgr,
		Aggregator: aggregator,
	}
	if mutate != nil {
		mutate(&deps)
	}

	sup := bot.New(cfg, sentCfg, deps, append([]bot.Option{bot.WithClock(clk)}, opts...)...)
	return &stack{sup: sup, mock: mock, store: store, gate: gate, mgr: mgr, bus: bus, clk: clk}
}

// run starts the supervisor loops and returns a stop function that
// cancels them and drains the final shutdown. Cleanup calls stop if the
// test has not already.
func (s *stack) run(t *testing.T, ctx context.Context) (stop func()) {
	t.Helper()

	require.NoError(t, s.sup.Start(ctx))

	runCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- s.sup.Run(runCtx) }()

	var once sync.Once
	stop = func() {
		once.Do(func() {
			cancel()
			select {
			case <-errCh:
			case <-time.After(pollWait):
				t.Error("supervisor did not stop after cancellation")
			}
			s.sup.Shutdown(context.Background())
		})
	}
	t.Cleanup(stop)
	return stop
}

func (s *stack) fillCount() int {
	return len(s.mock.Fills())
}

// flat reports whether the order manager sees no open position.
func (s *stack) flat(symbol string) bool {
	pos := s.mgr.Position(symbol)
	return pos == nil || pos.Quantity == 0
}

func (s *stack) long(symbol string) bool {
	pos := s.mgr.Position(symbol)
	return pos != nil && pos.Side == orders.SideLong
}

// crossoverBars returns n minute bars that close flat at base and jump
// on the final bar, so the fast EMA crosses the slow one exactly on the
// last completed bar of history.
func crossoverBars(n int, base, jump float64) []broker.Bar {
	bars := make([]broker.Bar, n)
	start := sessionStart.Add(-time.Duration(n) * time.Minute)
	for i := range bars {
		c := base
		if i == n-1 {
			c = base + jump
		}
		bars[i] = broker.Bar{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      c - 0.5,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    100,
		}
	}
	return bars
}

func quoteAt(symbol string, last float64) broker.Quote {
	return broker.Quote{
		Symbol:    symbol,
		Bid:       last - 0.5,
		Ask:       last + 0.5,
		Last:      last,
		Timestamp: sessionStart,
	}
}

// feedCollector hands out a fixed batch of observations for its source.
type feedCollector struct {
	source sentiment.Source
	obs    []sentiment.Observation
}

func newFeed(source sentiment.Source, symbol string, n int) *feedCollector {
	obs := make([]sentiment.Observation, n)
	for i := range obs {
		obs[i] = sentiment.Observation{
			Source:     source,
			Symbol:     symbol,
			Text:       fmt.Sprintf("%s post %d", source, i),
			Engagement: 1,
			Timestamp:  sessionStart,
		}
	}
	return &feedCollector{source: source, obs: obs}
}

func (f *feedCollector) Source() sentiment.Source { return f.source }

func (f *feedCollector) Initialize(context.Context) bool { return true }

func (f *feedCollector) Enabled() bool { return true }

func (f *feedCollector) LastCollectTime() time.Time { return time.Time{} }

func (f *feedCollector) Stats() collectors.Stats { return collectors.Stats{} }

func (f *feedCollector) Collect(_ context.Context, _ string, limit int) []sentiment.Observation {
	if limit < len(f.obs) {
		return f.obs[:limit]
	}
	return f.obs
}

// swappableScorer returns whatever result the test last set, so a
// running pipeline can be steered mid-flight.
type swappableScorer struct {
	mu     sync.Mutex
	result sentiment.Result
}

func (s *swappableScorer) set(result sentiment.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = result
}

func (s *swappableScorer) Enabled() bool { return true }

func (s *swappableScorer) Analyze(context.Context, []string, string, []string) sentiment.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func (s *swappableScorer) Decide(context.Context, sentiment.Result, *int, string) (sentiment.Decision, error) {
	return sentiment.Decision{}, nil
}

func buyResult() sentiment.Result {
	return sentiment.Result{SentimentScore: 0.8, Confidence: 0.9, Action: sentiment.ActionBuy}
}

func sellResult() sentiment.Result {
	return sentiment.Result{SentimentScore: -0.8, Confidence: 0.9, Action: sentiment.ActionSell}
}
