// Package bot runs the autonomous trading agent. The supervisor owns
// the broker session, keeps per-symbol market state and indicators
// current from the live streams, refreshes sentiment on its own
// cadence and turns fused decisions into bracket orders.
package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/futuresfunk/internal/alerts"
	"github.com/ajitpratap0/futuresfunk/internal/broker"
	"github.com/ajitpratap0/futuresfunk/internal/clock"
	"github.com/ajitpratap0/futuresfunk/internal/collectors"
	"github.com/ajitpratap0/futuresfunk/internal/config"
	"github.com/ajitpratap0/futuresfunk/internal/decision"
	"github.com/ajitpratap0/futuresfunk/internal/events"
	"github.com/ajitpratap0/futuresfunk/internal/indicators"
	"github.com/ajitpratap0/futuresfunk/internal/journal"
	"github.com/ajitpratap0/futuresfunk/internal/market"
	"github.com/ajitpratap0/futuresfunk/internal/metrics"
	"github.com/ajitpratap0/futuresfunk/internal/orders"
	"github.com/ajitpratap0/futuresfunk/internal/risk"
	"github.com/ajitpratap0/futuresfunk/internal/sentiment"
)

// Loop cadences and backoffs. The decision and sentiment intervals are
// configurable; the rest match the upstream API etiquette the
// collectors were built around.
const (
	DefaultDecisionInterval  = time.Second
	DefaultSentimentInterval = 60 * time.Second
	DefaultCollectGap        = 30 * time.Second
	DefaultHistoryHours      = 24
	DefaultBarIntervalMin    = 1

	decisionErrorBackoff  = 5 * time.Second
	sentimentErrorBackoff = 30 * time.Second

	defaultScoreBatch  = 15
	socialCollectLimit = 30
	newsCollectLimit   = 20
)

// Deps carries the collaborating components the supervisor drives.
// Broker, Store, Gate, Decider and Orders are required; the rest may
// be nil (or empty) and the matching feature goes quiet.
type Deps struct {
	Bus        *events.Bus
	Broker     broker.Broker
	Store      *market.Store
	Gate       *risk.Gate
	Decider    *decision.Decider
	Orders     *orders.Manager
	Aggregator *sentiment.Aggregator
	Scorer     sentiment.Scorer
	Collectors []collectors.Collector
	Journal    *journal.Journal
	Recorder   *journal.Recorder
	Alerts     *alerts.Manager
}

// symbolState is the per-symbol slice of supervisor state. The mutex
// covers the indicator engine, which is not safe for concurrent use,
// and the cached sentiment aggregate the decision loop reads.
type symbolState struct {
	mu          sync.Mutex
	engine      *indicators.Engine
	agg         *sentiment.Aggregate
	lastCollect time.Time
}

// aggregate returns the latest cached sentiment snapshot, or nil before
// the first pass completes.
func (st *symbolState) aggregate() *sentiment.Aggregate {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.agg
}

// Supervisor coordinates the bot's loops. Construct with New, bring the
// session up with Start, run the loops with Run and tear down with
// Shutdown once the run context has been cancelled.
type Supervisor struct {
	cfg     config.TradingConfig
	sentCfg config.SentimentConfig

	bus        *events.Bus
	broker     broker.Broker
	store      *market.Store
	gate       *risk.Gate
	decider    *decision.Decider
	orders     *orders.Manager
	aggregator *sentiment.Aggregator
	scorer     sentiment.Scorer
	collectors []collectors.Collector
	journal    *journal.Journal
	recorder   *journal.Recorder
	alerts     *alerts.Manager
	clk        clock.Clock

	decisionInterval  time.Duration
	sentimentInterval time.Duration
	collectGap        time.Duration
	barInterval       int
	historyHours      int
	scoreBatch        int

	symbols []string
	states  map[string]*symbolState
}

// Option customizes supervisor construction.
type Option func(*Supervisor)

// WithClock overrides the wall clock used for history ranges and the
// collection gap.
func WithClock(c clock.Clock) Option {
	return func(s *Supervisor) {
		if c != nil {
			s.clk = c
		}
	}
}

// WithCollectGap overrides the minimum spacing between sentiment
// collection passes for one symbol.
func WithCollectGap(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.collectGap = d
		}
	}
}

// WithIntervals overrides the decision and sentiment loop cadences.
// Zero leaves the configured value in place.
func WithIntervals(decisionEvery, sentimentEvery time.Duration) Option {
	return func(s *Supervisor) {
		if decisionEvery > 0 {
			s.decisionInterval = decisionEvery
		}
		if sentimentEvery > 0 {
			s.sentimentInterval = sentimentEvery
		}
	}
}

// New wires a supervisor for the configured symbols. A nil scorer
// behaves as a disabled one; decisions then run on technicals and
// whatever unscored sentiment the aggregator produces.
func New(tradingCfg config.TradingConfig, sentimentCfg config.SentimentConfig, deps Deps, opts ...Option) *Supervisor {
	s := &Supervisor{
		cfg:        tradingCfg,
		sentCfg:    sentimentCfg,
		bus:        deps.Bus,
		broker:     deps.Broker,
		store:      deps.Store,
		gate:       deps.Gate,
		decider:    deps.Decider,
		orders:     deps.Orders,
		aggregator: deps.Aggregator,
		scorer:     deps.Scorer,
		collectors: deps.Collectors,
		journal:    deps.Journal,
		recorder:   deps.Recorder,
		alerts:     deps.Alerts,
		clk:        clock.System(),

		decisionInterval:  tradingCfg.DecisionInterval(),
		sentimentInterval: sentimentCfg.UpdateInterval(),
		collectGap:        DefaultCollectGap,
		barInterval:       tradingCfg.BarIntervalMinutes,
		historyHours:      tradingCfg.HistoryHours,
		scoreBatch:        sentimentCfg.ScoreBatchSize,

		states: make(map[string]*symbolState),
	}
	if s.scorer == nil {
		s.scorer = sentiment.Disabled()
	}
	if s.decisionInterval <= 0 {
		s.decisionInterval = DefaultDecisionInterval
	}
	if s.sentimentInterval <= 0 {
		s.sentimentInterval = DefaultSentimentInterval
	}
	if s.barInterval <= 0 {
		s.barInterval = DefaultBarIntervalMin
	}
	if s.historyHours <= 0 {
		s.historyHours = DefaultHistoryHours
	}
	if s.scoreBatch <= 0 {
		s.scoreBatch = defaultScoreBatch
	}

	for _, symbol := range tradingCfg.Symbols {
		if symbol == "" {
			continue
		}
		if _, ok := s.states[symbol]; ok {
			continue
		}
		s.symbols = append(s.symbols, symbol)
		s.states[symbol] = &symbolState{engine: indicators.NewEngine()}
	}

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Symbols returns the contracts the supervisor trades, in config order.
func (s *Supervisor) Symbols() []string {
	out := make([]string, len(s.symbols))
	copy(out, s.symbols)
	return out
}

// Start brings the trading session up: broker connection, market data
// subscriptions, position sync, indicator seeding from history, and
// collector initialization. Connection and sync failures abort the
// start; a symbol without history trades once live bars warm it up.
func (s *Supervisor) Start(ctx context.Context) error {
	if len(s.symbols) == 0 {
		return fmt.Errorf("no symbols configured")
	}

	log.Info().
		Strs("symbols", s.symbols).
		Bool("sentiment", s.cfg.UseSentiment).
		Bool("technicals", s.cfg.UseTechnicals).
		Msg("Starting trading bot")

	if err := s.broker.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}

	for _, symbol := range s.symbols {
		if err := s.broker.SubscribeQuote(ctx, symbol); err != nil {
			return fmt.Errorf("failed to subscribe quotes for %s: %w", symbol, err)
		}
		if err := s.broker.SubscribeBars(ctx, symbol, s.barInterval); err != nil {
			return fmt.Errorf("failed to subscribe bars for %s: %w", symbol, err)
		}
	}
	log.Info().
		Int("symbols", len(s.symbols)).
		Int("bar_interval_min", s.barInterval).
		Msg("Market data subscribed")

	if err := s.orders.SyncPositions(ctx); err != nil {
		return fmt.Errorf("failed to sync positions: %w", err)
	}

	s.seedHistory(ctx)

	if s.cfg.UseSentiment {
		s.initCollectors(ctx)
	}
	return nil
}

// seedHistory warms each symbol's bar store and indicator engine from
// recent history so the decision loop does not wait a full EMA window
// of live bars before trading.
func (s *Supervisor) seedHistory(ctx context.Context) {
	to := s.clk.Now().UTC()
	from := to.Add(-time.Duration(s.historyHours) * time.Hour)

	for _, symbol := range s.symbols {
		bars, err := s.broker.HistoricalBars(ctx, symbol, s.barInterval, from, to)
		if err != nil {
			log.Error().Err(err).Str("symbol", symbol).Msg("Failed to load historical bars")
			continue
		}

		n := s.store.SeedHistory(symbol, bars)

		st := s.state(symbol)
		st.mu.Lock()
		st.engine.Seed(s.store.Closes(symbol), s.store.Highs(symbol), s.store.Lows(symbol))
		ready := st.engine.Ready()
		st.mu.Unlock()

		log.Info().
			Str("symbol", symbol).
			Int("bars", n).
			Bool("indicators_ready", ready).
			Msg("Historical bars loaded")
	}
}

// initCollectors probes every collector's credentials in parallel.
// Collectors that fail stay disabled and are skipped on every pass.
func (s *Supervisor) initCollectors(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range s.collectors {
		g.Go(func() error {
			if c.Initialize(gctx) {
				log.Info().Str("source", string(c.Source())).Msg("Collector initialized")
			} else {
				log.Warn().Str("source", string(c.Source())).Msg("Collector disabled")
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Info().Bool("scorer", s.scorer.Enabled()).Msg("Sentiment pipeline initialized")
}

// Run drives the event pumps and the trading loops until the context
// is cancelled or a stream closes. Loop errors are logged and retried
// after a backoff; only cancellation ends the run.
func (s *Supervisor) Run(ctx context.Context) error {
	log.Info().
		Dur("decision_interval", s.decisionInterval).
		Dur("sentiment_interval", s.sentimentInterval).
		Msg("Trading loops started")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.marketPump(gctx) })
	g.Go(func() error { return s.userPump(gctx) })
	g.Go(func() error { return s.decisionLoop(gctx) })
	if s.cfg.UseSentiment {
		g.Go(func() error { return s.sentimentLoop(gctx) })
	}
	if s.recorder != nil {
		g.Go(func() error {
			s.recorder.Run(gctx)
			return nil
		})
	}

	return g.Wait()
}

// Shutdown cancels working orders and closes the broker session. Open
// positions are left in place with their protective legs already
// cancelled by the bracket's OCO handling at the broker. Call after
// the Run context has been cancelled.
func (s *Supervisor) Shutdown(ctx context.Context) {
	log.Info().Msg("Shutting down trading bot")

	if n, err := s.orders.CancelAll(ctx, ""); err != nil {
		log.Error().Err(err).Msg("Failed to cancel working orders")
	} else if n > 0 {
		log.Info().Int("count", n).Msg("Working orders cancelled")
	}

	if err := s.broker.Disconnect(); err != nil {
		log.Error().Err(err).Msg("Failed to disconnect broker")
	}

	log.Info().Msg("Trading bot stopped")
}

// ===== EVENT PUMPS =====

// marketPump drains the market data stream into the bar/quote store
// and the per-symbol indicator engines.
func (s *Supervisor) marketPump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-s.broker.MarketEvents():
			if !ok {
				log.Info().Msg("Market stream closed")
				return nil
			}
			s.handleMarketEvent(ctx, ev)
		}
	}
}

func (s *Supervisor) handleMarketEvent(ctx context.Context, ev broker.MarketEvent) {
	switch e := ev.(type) {
	case broker.QuoteEvent:
		for _, q := range e.Quotes {
			s.store.ApplyQuote(q)
		}
	case broker.BarEvent:
		// The store suppresses a current-bar replay after a reconnect;
		// the engine must skip the same minute or it double-counts.
		appended := s.store.ApplyBar(e.Symbol, e.Bar, e.Complete)
		if !appended {
			return
		}
		st := s.state(e.Symbol)
		if st == nil {
			return
		}
		st.mu.Lock()
		st.engine.Update(e.Bar.Close, e.Bar.High, e.Bar.Low)
		st.mu.Unlock()
	case broker.TickEvent:
		s.store.ApplyTick(e.Symbol, broker.Tick{
			Timestamp: s.clk.Now().UTC(),
			Price:     e.Price,
			Size:      e.Size,
		})
	case broker.StreamStatus:
		s.handleStreamStatus(ctx, e)
	}
}

// userPump feeds order, position and fill reports to the order manager,
// which mirrors them into local state and books realized P&L.
func (s *Supervisor) userPump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-s.broker.UserEvents():
			if !ok {
				log.Info().Msg("User stream closed")
				return nil
			}
			if status, isStatus := ev.(broker.StreamStatus); isStatus {
				s.handleStreamStatus(ctx, status)
				continue
			}
			s.orders.HandleUserEvent(ev)
		}
	}
}

// handleStreamStatus republishes broker stream transitions on the bus
// and raises a warning alert on drops. The broker client handles the
// reconnects itself; this is visibility, not recovery.
func (s *Supervisor) handleStreamStatus(ctx context.Context, status broker.StreamStatus) {
	if status.Up {
		log.Info().Str("socket", status.Socket).Msg("Stream restored")
		s.publish(events.StreamUp{Socket: status.Socket, Timestamp: status.Timestamp})
		return
	}

	log.Warn().Str("socket", status.Socket).Str("reason", status.Reason).Msg("Stream down")
	s.publish(events.StreamDown{Socket: status.Socket, Reason: status.Reason, Timestamp: status.Timestamp})

	if s.alerts != nil {
		_ = s.alerts.SendWarning(ctx, "Stream down",
			fmt.Sprintf("%s stream dropped: %s", status.Socket, status.Reason),
			map[string]interface{}{"socket": status.Socket})
	}
}

func (s *Supervisor) publish(ev events.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}

// ===== DECISION LOOP =====

// decisionLoop evaluates every symbol each tick. An error on one
// symbol abandons the rest of the pass and backs off before the next.
func (s *Supervisor) decisionLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.decisionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, symbol := range s.symbols {
				if err := s.processSymbol(ctx, symbol); err != nil {
					log.Error().Err(err).Str("symbol", symbol).Msg("Main loop error")
					if err := sleepCtx(ctx, decisionErrorBackoff); err != nil {
						return err
					}
					break
				}
			}
		}
	}
}

// processSymbol runs one decision cycle: risk gate, cooldown, indicator
// readiness, signal fusion, then placement. A same-side open position
// holds (no pyramiding); an opposing one is reversed by the order
// manager, which flattens and lets the next cycle re-enter after the
// cooldown. Only placement failures surface as errors.
func (s *Supervisor) processSymbol(ctx context.Context, symbol string) error {
	if ok, reason := s.gate.CanTrade(); !ok {
		log.Debug().Str("symbol", symbol).Str("reason", reason).Msg("Trading blocked")
		return nil
	}
	if s.orders.CooldownActive(symbol) {
		return nil
	}

	st := s.state(symbol)

	var vals *indicators.Values
	if s.cfg.UseTechnicals {
		st.mu.Lock()
		ready := st.engine.Ready()
		current := st.engine.Current()
		st.mu.Unlock()
		if !ready {
			log.Debug().Str("symbol", symbol).Msg("Indicators warming up")
			return nil
		}
		vals = &current
	}

	var price float64
	if q, ok := s.store.Quote(symbol); ok {
		price = q.Price()
	}

	intent := s.decider.Decide(ctx, decision.Inputs{
		Symbol:     symbol,
		Aggregate:  st.aggregate(),
		Indicators: vals,
		Price:      price,
	})
	if !intent.Actionable() {
		return nil
	}
	if price <= 0 {
		log.Debug().Str("symbol", symbol).Msg("No quote yet, entry skipped")
		return nil
	}

	action := broker.ActionBuy
	if intent.Action == sentiment.ActionSell {
		action = broker.ActionSell
	}

	if pos := s.orders.Position(symbol); pos != nil && sameSide(pos.Side, action) {
		log.Debug().
			Str("symbol", symbol).
			Str("side", string(pos.Side)).
			Msg("Already positioned, holding")
		return nil
	}

	stop, target, ok := s.bracketPrices(st, price, action == broker.ActionBuy, intent.Risk)
	if !ok {
		log.Warn().Str("symbol", symbol).Msg("No protective prices available, entry skipped")
		return nil
	}

	order, err := s.orders.PlaceBracket(ctx, symbol, action, intent.Quantity, stop, target)
	if err != nil {
		if s.alerts != nil {
			_ = s.alerts.SendCritical(ctx, "Order placement failed",
				fmt.Sprintf("Failed to place %s bracket for %s: %v", action, symbol, err),
				map[string]interface{}{"symbol": symbol, "action": string(action)})
		}
		return fmt.Errorf("failed to execute trade for %s: %w", symbol, err)
	}
	if order != nil {
		log.Info().
			Str("symbol", symbol).
			Str("action", string(action)).
			Int("qty", order.Qty).
			Float64("entry", price).
			Float64("stop", stop).
			Float64("target", target).
			Str("reasoning", intent.Reasoning).
			Msg("Trade executed")
	}
	return nil
}

// bracketPrices derives the protective prices for an entry: ATR-scaled
// from the engine when a reading exists, otherwise offset from the
// entry by the risk calculator's distances.
func (s *Supervisor) bracketPrices(st *symbolState, entry float64, long bool, params *risk.Parameters) (float64, float64, bool) {
	if s.cfg.UseTechnicals {
		st.mu.Lock()
		stop, target, ok := st.engine.StopTarget(entry, long)
		st.mu.Unlock()
		if ok {
			return stop, target, true
		}
	}

	if params == nil || params.StopDistance <= 0 || params.TargetDistance <= 0 {
		return 0, 0, false
	}
	if long {
		return entry - params.StopDistance, entry + params.TargetDistance, true
	}
	return entry + params.StopDistance, entry - params.TargetDistance, true
}

// ===== SENTIMENT LOOP =====

// sentimentLoop refreshes all symbols, then sleeps for the configured
// interval; a failed pass retries sooner.
func (s *Supervisor) sentimentLoop(ctx context.Context) error {
	for {
		if err := s.refreshSentiment(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Msg("Sentiment loop error")
			if err := sleepCtx(ctx, sentimentErrorBackoff); err != nil {
				return err
			}
			continue
		}
		if err := sleepCtx(ctx, s.sentimentInterval); err != nil {
			return err
		}
	}
}

func (s *Supervisor) refreshSentiment(ctx context.Context) error {
	for _, symbol := range s.symbols {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.updateSentiment(ctx, symbol)
	}
	return nil
}

// updateSentiment collects fresh observations for one symbol, scores
// the newest batch through the model and replaces the cached aggregate
// the decision loop reads. A minimum re-collect gap keeps overlapping
// cadences from hammering the upstream APIs.
func (s *Supervisor) updateSentiment(ctx context.Context, symbol string) {
	st := s.state(symbol)

	now := s.clk.Now().UTC()
	st.mu.Lock()
	last := st.lastCollect
	st.mu.Unlock()
	if !last.IsZero() && now.Sub(last) < s.collectGap {
		return
	}

	observations := s.collect(ctx, symbol)

	st.mu.Lock()
	st.lastCollect = now
	st.mu.Unlock()

	if len(observations) == 0 {
		log.Debug().Str("symbol", symbol).Msg("No sentiment data collected")
		return
	}

	results := s.score(ctx, symbol, observations)
	agg := s.aggregator.Aggregate(observations, results, symbol, s.sentCfg.WindowMinutes)

	st.mu.Lock()
	st.agg = &agg
	st.mu.Unlock()

	metrics.UpdateSentiment(symbol, agg.CompositeScore, agg.Confidence)
	s.journalSentiment(ctx, agg)

	log.Debug().
		Str("symbol", symbol).
		Float64("score", agg.CompositeScore).
		Float64("confidence", agg.Confidence).
		Str("action", agg.Action).
		Int("data_points", agg.DataPoints).
		Msg("Sentiment updated")
}

// collect fans out to every enabled collector in parallel and merges
// their observations. Collectors absorb their own failures, so a bad
// feed shows up as an empty contribution, not an error.
func (s *Supervisor) collect(ctx context.Context, symbol string) []sentiment.Observation {
	var (
		mu  sync.Mutex
		all []sentiment.Observation
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range s.collectors {
		if !c.Enabled() {
			continue
		}
		g.Go(func() error {
			obs := c.Collect(gctx, symbol, collectLimit(c.Source()))
			if len(obs) == 0 {
				return nil
			}
			mu.Lock()
			all = append(all, obs...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return all
}

// score runs a single model call over the newest batch and keys the
// result to every observation in it. Observations outside the batch
// stay unkeyed; the aggregator treats them as neutral at low
// confidence.
func (s *Supervisor) score(ctx context.Context, symbol string, observations []sentiment.Observation) map[string]sentiment.Result {
	results := make(map[string]sentiment.Result)
	if !s.scorer.Enabled() {
		return results
	}

	batch := observations
	if len(batch) > s.scoreBatch {
		batch = batch[:s.scoreBatch]
	}

	texts := make([]string, len(batch))
	sources := make([]string, len(batch))
	for i, obs := range batch {
		texts[i] = obs.Text
		sources[i] = string(obs.Source)
	}

	res := s.scorer.Analyze(ctx, texts, symbol, sources)
	for _, obs := range batch {
		results[sentiment.ResultKey(obs.Text)] = res
	}
	return results
}

// journalSentiment persists the aggregate snapshot. Journaling is
// observability, so failures are logged and swallowed.
func (s *Supervisor) journalSentiment(ctx context.Context, agg sentiment.Aggregate) {
	if s.journal == nil || !s.journal.Enabled() {
		return
	}

	raw := make(map[string]any, len(agg.SourceBreakdown))
	for source, score := range agg.SourceBreakdown {
		raw[source] = score
	}

	rec := &journal.SentimentRecord{
		Symbol:     agg.Symbol,
		Source:     "aggregate",
		Score:      agg.CompositeScore,
		Confidence: agg.Confidence,
		Action:     agg.Action,
		DataPoints: agg.DataPoints,
		Themes:     agg.Themes,
		Raw:        raw,
	}
	if err := s.journal.RecordSentiment(ctx, rec); err != nil {
		log.Warn().Err(err).Str("symbol", agg.Symbol).Msg("Failed to journal sentiment")
	}
}

// ===== HELPERS =====

func (s *Supervisor) state(symbol string) *symbolState {
	return s.states[symbol]
}

// collectLimit mirrors the per-source fetch sizes: social feeds page 30
// items, news providers 20.
func collectLimit(source sentiment.Source) int {
	if source == sentiment.SourceNews {
		return newsCollectLimit
	}
	return socialCollectLimit
}

func sameSide(side orders.Side, action broker.Action) bool {
	return (side == orders.SideLong && action == broker.ActionBuy) ||
		(side == orders.SideShort && action == broker.ActionSell)
}

// sleepCtx pauses for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
