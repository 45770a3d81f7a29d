package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

var testStart = time.Date(2025, 6, 3, 14, 30, 0, 0, time.UTC)

// fakeCollector returns canned observations and records how it was
// called.
type fakeCollector struct {
	source  sentiment.Source
	enabled bool
	obs     []sentiment.Observation

	mu        sync.Mutex
	initCalls int
	calls     int
	lastLimit int
}

func (f *fakeCollector) Source() sentiment.Source { return f.source }

func (f *fakeCollector) Initialize(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	return f.enabled
}

func (f *fakeCollector) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

func (f *fakeCollector) LastCollectTime() time.Time { return time.Time{} }

func (f *fakeCollector) Stats() collectors.Stats { return collectors.Stats{} }

func (f *fakeCollector) Collect(_ context.Context, _ string, limit int) []sentiment.Observation {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastLimit = limit
	return f.obs
}

func (f *fakeCollector) collectCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeScorer records the batch it was asked to analyze.
type fakeScorer struct {
	enabled bool
	result  sentiment.Result

	mu         sync.Mutex
	calls      int
	gotTexts   []string
	gotSources []string
}

func (f *fakeScorer) Enabled() bool { return f.enabled }

func (f *fakeScorer) Analyze(_ context.Context, texts []string, _ string, sources []string) sentiment.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.gotTexts = append([]string(nil), texts...)
	f.gotSources = append([]string(nil), sources...)
	return f.result
}

func (f *fakeScorer) Decide(context.Context, sentiment.Result, *int, string) (sentiment.Decision, error) {
	return sentiment.Decision{}, nil
}

type env struct {
	mock  *broker.MockBroker
	store *market.Store
	gate  *risk.Gate
	mgr   *orders.Manager
	bus   *events.Bus
	clk   *clock.Fake
}

func tradingCfg() config.TradingConfig {
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
		ScoreBatchSize:      2,
		UpdateSeconds:       60,
	}
}

// newTestSupervisor wires a supervisor to a mock broker with a 3
// contract cap and a 30 s cooldown. mutate may swap collaborators in
// before construction.
func newTestSupervisor(t *testing.T, cfg config.TradingConfig, sentCfg config.SentimentConfig, mutate func(*Deps), opts ...Option) (*Supervisor, *env) {
	t.Helper()

	clk := clock.NewFake(testStart)
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

	deps := Deps{
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

	sup := New(cfg, sentCfg, deps, append([]Option{WithClock(clk)}, opts...)...)
	return sup, &env{mock: mock, store: store, gate: gate, mgr: mgr, bus: bus, clk: clk}
}

// pumpUser drains the mock's user stream into the order manager, the
// way the user pump does while running.
func pumpUser(mgr *orders.Manager, mock *broker.MockBroker) {
	for {
		select {
		case ev := <-mock.UserEvents():
			mgr.HandleUserEvent(ev)
		default:
			return
		}
	}
}

func drain(sub *events.Subscription) []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-sub.C:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func genBars(n int, base float64) []broker.Bar {
	bars := make([]broker.Bar, n)
	start := testStart.Add(-time.Duration(n) * time.Minute)
	for i := range bars {
		c := base + float64(i)
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

func strongBuy(symbol string) *sentiment.Aggregate {
	return &sentiment.Aggregate{
		Symbol:         symbol,
		CompositeScore: 0.8,
		Confidence:     0.9,
		Action:         sentiment.ActionBuy,
		DataPoints:     12,
		Timestamp:      testStart,
	}
}

func strongSell(symbol string) *sentiment.Aggregate {
	return &sentiment.Aggregate{
		Symbol:         symbol,
		CompositeScore: -0.8,
		Confidence:     0.9,
		Action:         sentiment.ActionSell,
		DataPoints:     12,
		Timestamp:      testStart,
	}
}

func mnqQuote(last float64) broker.Quote {
	return broker.Quote{
		Symbol:    "MNQ",
		Bid:       last - 0.5,
		Ask:       last + 0.5,
		Last:      last,
		Timestamp: testStart,
	}
}

func TestNewDefaults(t *testing.T) {
	cfg := config.TradingConfig{Symbols: []string{"MNQ", "", "MNQ", "MES"}}
	sup, _ := newTestSupervisor(t, cfg, config.SentimentConfig{}, nil)

	assert.Equal(t, []string{"MNQ", "MES"}, sup.Symbols(), "blank and duplicate symbols dropped")
	assert.Equal(t, DefaultDecisionInterval, sup.decisionInterval)
	assert.Equal(t, DefaultSentimentInterval, sup.sentimentInterval)
	assert.Equal(t, DefaultCollectGap, sup.collectGap)
	assert.Equal(t, DefaultBarIntervalMin, sup.barInterval)
	assert.Equal(t, DefaultHistoryHours, sup.historyHours)
	assert.Equal(t, defaultScoreBatch, sup.scoreBatch)
	require.NotNil(t, sup.scorer)
	assert.False(t, sup.scorer.Enabled(), "nil scorer becomes a disabled one")
}

func TestStartSubscribesAndSeeds(t *testing.T) {
	ctx := context.Background()
	collector := &fakeCollector{source: sentiment.SourceTwitter, enabled: true}

	sup, env := newTestSupervisor(t, tradingCfg(), sentimentCfg(), func(d *Deps) {
		d.Collectors = []collectors.Collector{collector}
	})
	env.mock.SeedBars("MNQ", genBars(25, 19976))

	require.NoError(t, sup.Start(ctx))

	assert.Equal(t, 25, env.store.BarCount("MNQ"), "history seeded into the store")

	st := sup.state("MNQ")
	require.NotNil(t, st)
	assert.True(t, st.engine.Ready(), "indicators warm from seeded history")

	collector.mu.Lock()
	initCalls := collector.initCalls
	collector.mu.Unlock()
	assert.Equal(t, 1, initCalls, "collectors probed on start")
}

func TestStartRequiresSymbols(t *testing.T) {
	sup, _ := newTestSupervisor(t, config.TradingConfig{}, config.SentimentConfig{}, nil)

	err := sup.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no symbols configured")
}

func TestStartSurvivesMissingHistory(t *testing.T) {
	ctx := context.Background()
	sup, env := newTestSupervisor(t, tradingCfg(), sentimentCfg(), nil)

	// No bars seeded: that symbol starts cold and warms up from live
	// bars instead of failing the start.
	require.NoError(t, sup.Start(ctx))
	assert.Zero(t, env.store.BarCount("MNQ"))
	assert.False(t, sup.state("MNQ").engine.Ready())
}

func TestProcessSymbolTradeCycle(t *testing.T) {
	ctx := context.Background()
	sup, env := newTestSupervisor(t, tradingCfg(), sentimentCfg(), nil)

	env.store.ApplyQuote(mnqQuote(20000))
	sup.state("MNQ").agg = strongBuy("MNQ")

	// Strong sentiment plus a live quote - the entry goes out as a
	// bracket and fills at the offer.
	require.NoError(t, sup.processSymbol(ctx, "MNQ"))

	fills := env.mock.Fills()
	require.Len(t, fills, 1)
	assert.Equal(t, 3, fills[0].Qty, "0.9 confidence sizes to the position cap")
	assert.Equal(t, 20000.5, fills[0].Price, "entry lifts the offer")
	assert.True(t, env.mgr.CooldownActive("MNQ"))

	working := env.mgr.WorkingOrders()
	require.Len(t, working, 1)
	assert.Equal(t, orders.TypeBracket, working[0].Type)
	assert.Less(t, working[0].StopPrice, 20000.0, "stop sits below the entry")
	assert.Greater(t, working[0].Price, 20000.0, "target sits above the entry")

	// Cooldown mutes the symbol even while the signal persists.
	require.NoError(t, sup.processSymbol(ctx, "MNQ"))
	assert.Len(t, env.mock.Fills(), 1)

	// Position reported, cooldown expired: a same-side signal holds
	// instead of pyramiding.
	pumpUser(env.mgr, env.mock)
	env.clk.Advance(31 * time.Second)
	require.NoError(t, sup.processSymbol(ctx, "MNQ"))
	assert.Len(t, env.mock.Fills(), 1)

	pos := env.mgr.Position("MNQ")
	require.NotNil(t, pos)
	assert.Equal(t, orders.SideLong, pos.Side)

	// An opposing signal reverses: the long is flattened, no entry is
	// placed this cycle, and the cooldown restarts.
	sup.state("MNQ").agg = strongSell("MNQ")
	require.NoError(t, sup.processSymbol(ctx, "MNQ"))

	fills = env.mock.Fills()
	require.Len(t, fills, 2, "reversal liquidates without entering")
	assert.Equal(t, 3, fills[1].Qty)
	assert.Equal(t, 19999.5, fills[1].Price, "liquidation hits the bid")
	assert.True(t, env.mgr.CooldownActive("MNQ"))

	// Flat again after the cooldown, the persisting short signal enters.
	pumpUser(env.mgr, env.mock)
	env.clk.Advance(31 * time.Second)
	require.NoError(t, sup.processSymbol(ctx, "MNQ"))

	fills = env.mock.Fills()
	require.Len(t, fills, 3)
	assert.Equal(t, 19999.5, fills[2].Price, "short entry hits the bid")
}

func TestProcessSymbolBlockedByKillSwitch(t *testing.T) {
	ctx := context.Background()
	sup, env := newTestSupervisor(t, tradingCfg(), sentimentCfg(), nil)

	env.store.ApplyQuote(mnqQuote(20000))
	sup.state("MNQ").agg = strongBuy("MNQ")
	env.gate.Kill("manual stop")

	require.NoError(t, sup.processSymbol(ctx, "MNQ"))
	assert.Empty(t, env.mock.Fills())

	env.gate.Resume()
	require.NoError(t, sup.processSymbol(ctx, "MNQ"))
	assert.Len(t, env.mock.Fills(), 1, "resume lets the signal through")
}

func TestProcessSymbolWaitsForIndicators(t *testing.T) {
	ctx := context.Background()
	cfg := tradingCfg()
	cfg.UseTechnicals = true
	sup, env := newTestSupervisor(t, cfg, sentimentCfg(), nil)

	env.store.ApplyQuote(mnqQuote(20000))
	sup.state("MNQ").agg = strongBuy("MNQ")

	// Cold engine: no decision until the slow EMA window has data.
	require.NoError(t, sup.processSymbol(ctx, "MNQ"))
	assert.Empty(t, env.mock.Fills())

	st := sup.state("MNQ")
	bars := genBars(25, 19976)
	closes := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	for i, b := range bars {
		closes[i], highs[i], lows[i] = b.Close, b.High, b.Low
	}
	st.engine.Seed(closes, highs, lows)
	require.True(t, st.engine.Ready())

	require.NoError(t, sup.processSymbol(ctx, "MNQ"))
	require.Len(t, env.mock.Fills(), 1)

	// ATR-scaled protective prices straddle the entry.
	working := env.mgr.WorkingOrders()
	require.Len(t, working, 1)
	assert.Less(t, working[0].StopPrice, 20000.0)
	assert.Greater(t, working[0].Price, 20000.0)
}

func TestProcessSymbolNoQuote(t *testing.T) {
	ctx := context.Background()
	sup, env := newTestSupervisor(t, tradingCfg(), sentimentCfg(), nil)

	sup.state("MNQ").agg = strongBuy("MNQ")

	require.NoError(t, sup.processSymbol(ctx, "MNQ"))
	assert.Empty(t, env.mock.Fills(), "no entry without a price reference")
}

func TestBracketPrices(t *testing.T) {
	cfg := tradingCfg()
	cfg.UseTechnicals = true
	sup, _ := newTestSupervisor(t, cfg, sentimentCfg(), nil)
	st := sup.state("MNQ")

	t.Run("engine reading wins", func(t *testing.T) {
		bars := genBars(25, 19976)
		closes := make([]float64, len(bars))
		highs := make([]float64, len(bars))
		lows := make([]float64, len(bars))
		for i, b := range bars {
			closes[i], highs[i], lows[i] = b.Close, b.High, b.Low
		}
		st.engine.Seed(closes, highs, lows)

		stop, target, ok := sup.bracketPrices(st, 20000, true, nil)
		require.True(t, ok)
		assert.Less(t, stop, 20000.0)
		assert.Greater(t, target, 20000.0)

		stop, target, ok = sup.bracketPrices(st, 20000, false, nil)
		require.True(t, ok)
		assert.Greater(t, stop, 20000.0, "short stop sits above the entry")
		assert.Less(t, target, 20000.0)
	})

	t.Run("risk distances as fallback", func(t *testing.T) {
		cold, _ := newTestSupervisor(t, tradingCfg(), sentimentCfg(), nil)
		params := &risk.Parameters{StopDistance: 50, TargetDistance: 100}

		stop, target, ok := cold.bracketPrices(cold.state("MNQ"), 20000, true, params)
		require.True(t, ok)
		assert.Equal(t, 19950.0, stop)
		assert.Equal(t, 20100.0, target)

		stop, target, ok = cold.bracketPrices(cold.state("MNQ"), 20000, false, params)
		require.True(t, ok)
		assert.Equal(t, 20050.0, stop)
		assert.Equal(t, 19900.0, target)
	})

	t.Run("nothing to price from", func(t *testing.T) {
		cold, _ := newTestSupervisor(t, tradingCfg(), sentimentCfg(), nil)

		_, _, ok := cold.bracketPrices(cold.state("MNQ"), 20000, true, nil)
		assert.False(t, ok)
	})
}

func TestUpdateSentimentScoresBatch(t *testing.T) {
	ctx := context.Background()

	twitter := &fakeCollector{
		source:  sentiment.SourceTwitter,
		enabled: true,
		obs: []sentiment.Observation{
			{Source: sentiment.SourceTwitter, Symbol: "MNQ", Text: "breakout incoming", Timestamp: testStart},
			{Source: sentiment.SourceTwitter, Symbol: "MNQ", Text: "longs stacking", Timestamp: testStart},
			{Source: sentiment.SourceTwitter, Symbol: "MNQ", Text: "volume surging", Timestamp: testStart},
		},
	}
	news := &fakeCollector{source: sentiment.SourceNews, enabled: true}
	scorer := &fakeScorer{
		enabled: true,
		result: sentiment.Result{
			SentimentScore: 0.7,
			Confidence:     0.9,
			Action:         sentiment.ActionBuy,
		},
	}

	sup, _ := newTestSupervisor(t, tradingCfg(), sentimentCfg(), func(d *Deps) {
		d.Collectors = []collectors.Collector{twitter, news}
		d.Scorer = scorer
	})

	sup.updateSentiment(ctx, "MNQ")

	assert.Equal(t, 30, twitter.lastLimit, "social feeds page 30 items")
	assert.Equal(t, 20, news.lastLimit, "news providers page 20 items")

	scorer.mu.Lock()
	calls, texts, sources := scorer.calls, scorer.gotTexts, scorer.gotSources
	scorer.mu.Unlock()
	assert.Equal(t, 1, calls, "one model call per pass")
	assert.Equal(t, []string{"breakout incoming", "longs stacking"}, texts, "batch truncated to the configured size")
	assert.Equal(t, []string{"twitter", "twitter"}, sources)

	agg := sup.state("MNQ").aggregate()
	require.NotNil(t, agg)
	assert.Equal(t, "MNQ", agg.Symbol)
	assert.Equal(t, 3, agg.DataPoints, "unscored observations still count")
	assert.Greater(t, agg.CompositeScore, 0.0)
}

func TestUpdateSentimentCollectGap(t *testing.T) {
	ctx := context.Background()

	twitter := &fakeCollector{
		source:  sentiment.SourceTwitter,
		enabled: true,
		obs: []sentiment.Observation{
			{Source: sentiment.SourceTwitter, Symbol: "MNQ", Text: "chop", Timestamp: testStart},
		},
	}
	sup, env := newTestSupervisor(t, tradingCfg(), sentimentCfg(), func(d *Deps) {
		d.Collectors = []collectors.Collector{twitter}
	})

	sup.updateSentiment(ctx, "MNQ")
	require.Equal(t, 1, twitter.collectCalls())

	// Within the gap nothing is collected, even across repeated passes.
	sup.updateSentiment(ctx, "MNQ")
	env.clk.Advance(10 * time.Second)
	sup.updateSentiment(ctx, "MNQ")
	assert.Equal(t, 1, twitter.collectCalls())

	env.clk.Advance(21 * time.Second)
	sup.updateSentiment(ctx, "MNQ")
	assert.Equal(t, 2, twitter.collectCalls())
}

func TestUpdateSentimentNoData(t *testing.T) {
	ctx := context.Background()

	empty := &fakeCollector{source: sentiment.SourceReddit, enabled: true}
	sup, _ := newTestSupervisor(t, tradingCfg(), sentimentCfg(), func(d *Deps) {
		d.Collectors = []collectors.Collector{empty}
	})

	sup.updateSentiment(ctx, "MNQ")

	assert.Nil(t, sup.state("MNQ").aggregate(), "empty pass leaves no aggregate")
	assert.Equal(t, 30, empty.lastLimit)

	// The gap still applies: an empty pass was still an API pass.
	sup.updateSentiment(ctx, "MNQ")
	assert.Equal(t, 1, empty.collectCalls())
}

func TestUpdateSentimentDisabledScorer(t *testing.T) {
	ctx := context.Background()

	twitter := &fakeCollector{
		source:  sentiment.SourceTwitter,
		enabled: true,
		obs: []sentiment.Observation{
			{Source: sentiment.SourceTwitter, Symbol: "MNQ", Text: "quiet tape", Timestamp: testStart},
		},
	}
	sup, _ := newTestSupervisor(t, tradingCfg(), sentimentCfg(), func(d *Deps) {
		d.Collectors = []collectors.Collector{twitter}
	})

	sup.updateSentiment(ctx, "MNQ")

	agg := sup.state("MNQ").aggregate()
	require.NotNil(t, agg, "aggregation still runs without a scorer")
	assert.Zero(t, agg.CompositeScore, "unscored observations are neutral")
	assert.Equal(t, sentiment.ActionHold, agg.Action)
}

func TestHandleStreamStatus(t *testing.T) {
	ctx := context.Background()
	sup, env := newTestSupervisor(t, tradingCfg(), sentimentCfg(), nil)

	sub := env.bus.Subscribe(events.KindStreamDown, events.KindStreamUp)
	defer sub.Unsubscribe()

	sup.handleStreamStatus(ctx, broker.StreamStatus{
		Socket: "market", Up: false, Reason: "read failure", Timestamp: testStart,
	})
	sup.handleStreamStatus(ctx, broker.StreamStatus{
		Socket: "market", Up: true, Timestamp: testStart.Add(time.Second),
	})

	got := drain(sub)
	require.Len(t, got, 2)

	down, ok := got[0].(events.StreamDown)
	require.True(t, ok)
	assert.Equal(t, "market", down.Socket)
	assert.Equal(t, "read failure", down.Reason)

	up, ok := got[1].(events.StreamUp)
	require.True(t, ok)
	assert.Equal(t, "market", up.Socket)
}

func TestHandleMarketEvent(t *testing.T) {
	ctx := context.Background()
	sup, env := newTestSupervisor(t, tradingCfg(), sentimentCfg(), nil)
	st := sup.state("MNQ")

	sup.handleMarketEvent(ctx, broker.QuoteEvent{Quotes: []broker.Quote{mnqQuote(20000)}})
	q, ok := env.store.Quote("MNQ")
	require.True(t, ok)
	assert.Equal(t, 20000.0, q.Last)

	bar := broker.Bar{Timestamp: testStart, Open: 20000, High: 20002, Low: 19999, Close: 20001, Volume: 50}

	// Forming bars update the store but never advance the engine.
	sup.handleMarketEvent(ctx, broker.BarEvent{Symbol: "MNQ", Bar: bar, Complete: false})
	assert.Zero(t, st.engine.Samples())

	sup.handleMarketEvent(ctx, broker.BarEvent{Symbol: "MNQ", Bar: bar, Complete: true})
	assert.Equal(t, 1, st.engine.Samples())
	assert.Equal(t, 1, env.store.BarCount("MNQ"))

	// A replay of the same completed minute (chart subscription after a
	// reconnect) is absorbed by the store and must not reach the engine.
	sup.handleMarketEvent(ctx, broker.BarEvent{Symbol: "MNQ", Bar: bar, Complete: true})
	assert.Equal(t, 1, st.engine.Samples(), "replayed minute must not double-count")
	assert.Equal(t, 1, env.store.BarCount("MNQ"))

	// Bars for contracts the bot does not trade are stored and nothing
	// else.
	sup.handleMarketEvent(ctx, broker.BarEvent{Symbol: "MES", Bar: bar, Complete: true})
	assert.Equal(t, 1, env.store.BarCount("MES"))

	sup.handleMarketEvent(ctx, broker.TickEvent{Symbol: "MNQ", Price: 20001.25, Size: 2})
	ticks := env.store.Ticks("MNQ")
	require.Len(t, ticks, 1)
	assert.Equal(t, 20001.25, ticks[0].Price)
}

func TestRunLifecycle(t *testing.T) {
	cfg := tradingCfg()
	cfg.UseSentiment = false

	sup, env := newTestSupervisor(t, cfg, sentimentCfg(), nil,
		WithIntervals(10*time.Millisecond, 0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, sup.Start(ctx))

	errCh := make(chan error, 1)
	go func() { errCh <- sup.Run(ctx) }()

	// The market pump picks quotes off the stream into the store.
	env.mock.PushQuote(mnqQuote(20010))
	require.Eventually(t, func() bool {
		q, ok := env.store.Quote("MNQ")
		return ok && q.Last == 20010.0
	}, 2*time.Second, 5*time.Millisecond)

	// The user pump mirrors fills into the order manager.
	_, err := env.mgr.PlaceBracket(context.Background(), "MNQ", broker.ActionBuy, 1, 19950, 20100)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		pos := env.mgr.Position("MNQ")
		return pos != nil && pos.Side == orders.SideLong
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}

	// Shutdown cancels the resting bracket legs and closes the session.
	sup.Shutdown(context.Background())

	states, err := env.mock.Orders(context.Background())
	require.NoError(t, err)
	for _, state := range states {
		assert.NotEqual(t, broker.StatusWorking, state.Status,
			"no working orders may survive shutdown")
	}
}
