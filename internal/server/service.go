package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/futuresfunk/internal/clock"
	"github.com/ajitpratap0/futuresfunk/internal/collectors"
	"github.com/ajitpratap0/futuresfunk/internal/config"
	"github.com/ajitpratap0/futuresfunk/internal/decision"
	"github.com/ajitpratap0/futuresfunk/internal/metrics"
	"github.com/ajitpratap0/futuresfunk/internal/risk"
	"github.com/ajitpratap0/futuresfunk/internal/sentiment"
)

// Cache lifetimes and collection cadences. The collect gap and per-source
// limits match the trading bot's sentiment pipeline; both run against the
// same upstream APIs.
const (
	DefaultSignalCacheTTL  = 30 * time.Second
	DefaultCollectInterval = 60 * time.Second
	DefaultCollectGap      = 30 * time.Second

	defaultScoreBatch  = 15
	socialCollectLimit = 30
	newsCollectLimit   = 20
)

// Component keys reported under /health. These are the contract names
// consumers key on, not the collector source labels.
const (
	componentMicroBlog           = "microBlog"
	componentForum               = "forum"
	componentNews                = "news"
	componentScorer              = "scorer"
	componentBackgroundCollector = "backgroundCollector"
)

// Signal is the consumer-facing trading call for one symbol.
type Signal struct {
	Action     string  `json:"action"`
	Qty        int     `json:"qty"`
	Confidence float64 `json:"confidence"`
}

// holdSignal is the degraded answer: flat, zero size, zero confidence.
func holdSignal() Signal {
	return Signal{Action: sentiment.ActionHold}
}

// Health is the /health response body.
type Health struct {
	Status     string          `json:"status"`
	Timestamp  time.Time       `json:"timestamp"`
	Components map[string]bool `json:"components"`
}

// Metrics is the /metrics response body. RiskStats mirrors the shared
// gate so signal consumers see the same daily accounting the bot trades
// under.
type Metrics struct {
	TotalRequests    int64            `json:"total_requests"`
	SignalsGenerated map[string]int64 `json:"signals_generated"`
	LastSignalTime   *time.Time       `json:"last_signal_time"`
	UptimeSeconds    float64          `json:"uptime_seconds"`
	RiskStats        risk.Stats       `json:"risk_stats"`
}

// Deps carries the pipeline components the service drives. Gate,
// Decider and Aggregator are required; a nil Scorer behaves as a
// disabled one and a nil Shared cache disables the Redis tier.
type Deps struct {
	Collectors []collectors.Collector
	Scorer     sentiment.Scorer
	Aggregator *sentiment.Aggregator
	Decider    *decision.Decider
	Gate       *risk.Gate
	Shared     *RedisSignalCache
}

// Service computes trading signals on demand and keeps the sentiment
// observations behind them fresh. Computed signals are cached locally
// for the configured TTL and optionally mirrored to Redis so replicas
// answer from the same view.
type Service struct {
	sentCfg config.SentimentConfig

	collectors []collectors.Collector
	scorer     sentiment.Scorer
	aggregator *sentiment.Aggregator
	decider    *decision.Decider
	gate       *risk.Gate
	clk        clock.Clock

	signals *cache.Cache
	shared  *RedisSignalCache

	mu            sync.Mutex
	observations  map[string][]sentiment.Observation
	lastCollect   map[string]time.Time
	totalRequests int64
	byAction      map[string]int64
	lastSignal    time.Time

	symbols         []string
	collectInterval time.Duration
	collectGap      time.Duration
	scoreBatch      int
	started         time.Time
	running         atomic.Bool
}

// Option customizes service construction.
type Option func(*Service)

// WithClock overrides the wall clock used for collection gaps and the
// uptime counter.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clk = c
		}
	}
}

// WithCollectGap overrides the minimum spacing between collection
// passes for one symbol.
func WithCollectGap(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.collectGap = d
		}
	}
}

// WithCollectInterval overrides the background collection cadence.
func WithCollectInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.collectInterval = d
		}
	}
}

// NewService wires the signal pipeline for the configured symbols.
// Symbols outside this set are still served: the first request collects
// for them on demand.
func NewService(cfg config.ServerConfig, sentimentCfg config.SentimentConfig, symbols []string, deps Deps, opts ...Option) *Service {
	ttl := cfg.SignalCacheTTL()
	if ttl <= 0 {
		ttl = DefaultSignalCacheTTL
	}

	s := &Service{
		sentCfg:    sentimentCfg,
		collectors: deps.Collectors,
		scorer:     deps.Scorer,
		aggregator: deps.Aggregator,
		decider:    deps.Decider,
		gate:       deps.Gate,
		clk:        clock.System(),

		signals: cache.New(ttl, 2*ttl),
		shared:  deps.Shared,

		observations: make(map[string][]sentiment.Observation),
		lastCollect:  make(map[string]time.Time),
		byAction: map[string]int64{
			sentiment.ActionBuy:  0,
			sentiment.ActionSell: 0,
			sentiment.ActionHold: 0,
		},

		collectInterval: cfg.CollectInterval(),
		collectGap:      DefaultCollectGap,
		scoreBatch:      sentimentCfg.ScoreBatchSize,
	}
	if s.scorer == nil {
		s.scorer = sentiment.Disabled()
	}
	if s.collectInterval <= 0 {
		s.collectInterval = DefaultCollectInterval
	}
	if s.scoreBatch <= 0 {
		s.scoreBatch = defaultScoreBatch
	}

	seen := make(map[string]struct{})
	for _, symbol := range symbols {
		if symbol == "" {
			continue
		}
		if _, ok := seen[symbol]; ok {
			continue
		}
		seen[symbol] = struct{}{}
		s.symbols = append(s.symbols, symbol)
	}

	for _, opt := range opts {
		opt(s)
	}
	s.started = s.clk.Now().UTC()
	return s
}

// Initialize probes every collector's credentials in parallel.
// Collectors that fail stay disabled and are skipped on every pass.
func (s *Service) Initialize(ctx context.Context) {
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

	log.Info().
		Bool("scorer", s.scorer.Enabled()).
		Int("symbols", len(s.symbols)).
		Msg("Signal service initialized")
}

// Run keeps observations fresh for the configured symbols until the
// context is cancelled. Signals for symbols collected here are computed
// from warm data; anything else pays for its own first collection.
func (s *Service) Run(ctx context.Context) error {
	s.running.Store(true)
	defer s.running.Store(false)

	log.Info().
		Dur("interval", s.collectInterval).
		Int("symbols", len(s.symbols)).
		Msg("Background collection started")

	for {
		s.collectPass(ctx)
		if err := sleepCtx(ctx, s.collectInterval); err != nil {
			return err
		}
	}
}

func (s *Service) collectPass(ctx context.Context) {
	for _, symbol := range s.symbols {
		if ctx.Err() != nil {
			return
		}
		s.collectSymbol(ctx, symbol)
	}
}

// Signal answers one /signal request. It never fails: any gap in the
// pipeline degrades to a HOLD with zero size and confidence.
func (s *Service) Signal(ctx context.Context, symbol string) Signal {
	s.mu.Lock()
	s.totalRequests++
	s.mu.Unlock()

	if v, ok := s.signals.Get(symbol); ok {
		if sig, ok := v.(Signal); ok {
			metrics.RecordSignalCacheHit()
			return sig
		}
	}
	if sig, ok := s.shared.Get(ctx, symbol); ok {
		metrics.RecordSignalCacheHit()
		s.signals.Set(symbol, sig, cache.DefaultExpiration)
		return sig
	}
	metrics.RecordSignalCacheMiss()

	sig, fresh := s.compute(ctx, symbol)
	if fresh {
		s.signals.Set(symbol, sig, cache.DefaultExpiration)
		s.shared.Set(ctx, symbol, sig)
	}
	s.record(sig)
	return sig
}

// compute runs the collect, score, aggregate, decide pipeline for one
// symbol. The second return is false when there was nothing to work
// from; those holds are not cached so data arriving later is picked up
// immediately.
func (s *Service) compute(ctx context.Context, symbol string) (Signal, bool) {
	s.mu.Lock()
	obs, collected := s.observations[symbol]
	s.mu.Unlock()

	if !collected {
		s.collectSymbol(ctx, symbol)
		s.mu.Lock()
		obs = s.observations[symbol]
		s.mu.Unlock()
	}

	if len(obs) == 0 {
		log.Debug().Str("symbol", symbol).Msg("No observations for signal")
		return holdSignal(), false
	}

	results := s.score(ctx, symbol, obs)
	agg := s.aggregator.Aggregate(obs, results, symbol, s.sentCfg.WindowMinutes)
	metrics.UpdateSentiment(symbol, agg.CompositeScore, agg.Confidence)

	intent := s.decider.Decide(ctx, decision.Inputs{Symbol: symbol, Aggregate: &agg})

	return Signal{Action: intent.Action, Qty: intent.Quantity, Confidence: intent.Confidence}, true
}

// record updates the signal counters behind /metrics. Cache hits are
// not re-recorded; the counters track generated signals, not traffic.
func (s *Service) record(sig Signal) {
	now := s.clk.Now().UTC()

	s.mu.Lock()
	s.lastSignal = now
	s.byAction[sig.Action]++
	s.mu.Unlock()
}

// collectSymbol refreshes one symbol's observation set, honoring the
// minimum re-collect gap shared with the trading bot.
func (s *Service) collectSymbol(ctx context.Context, symbol string) {
	now := s.clk.Now().UTC()

	s.mu.Lock()
	last, seen := s.lastCollect[symbol]
	s.mu.Unlock()
	if seen && now.Sub(last) < s.collectGap {
		return
	}

	obs := s.collect(ctx, symbol)

	s.mu.Lock()
	s.observations[symbol] = obs
	s.lastCollect[symbol] = now
	s.mu.Unlock()

	log.Debug().Str("symbol", symbol).Int("count", len(obs)).Msg("Observations collected")
}

// collect fans out to every enabled collector in parallel and merges
// their observations. Collectors absorb their own failures, so a bad
// feed shows up as an empty contribution, not an error.
func (s *Service) collect(ctx context.Context, symbol string) []sentiment.Observation {
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
func (s *Service) score(ctx context.Context, symbol string, observations []sentiment.Observation) map[string]sentiment.Result {
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

// Health reports per-component readiness for /health. Status degrades
// when the background collector is not running.
func (s *Service) Health() Health {
	components := map[string]bool{
		componentMicroBlog:           false,
		componentForum:               false,
		componentNews:                false,
		componentScorer:              s.scorer.Enabled(),
		componentBackgroundCollector: s.running.Load(),
	}
	for _, c := range s.collectors {
		components[componentKey(c.Source())] = c.Enabled()
	}

	status := "healthy"
	if !s.running.Load() {
		status = "degraded"
	}

	return Health{
		Status:     status,
		Timestamp:  s.clk.Now().UTC(),
		Components: components,
	}
}

// Metrics snapshots the request counters and the shared risk gate.
func (s *Service) Metrics() Metrics {
	now := s.clk.Now().UTC()

	s.mu.Lock()
	generated := make(map[string]int64, len(s.byAction))
	for action, n := range s.byAction {
		generated[action] = n
	}
	total := s.totalRequests
	last := s.lastSignal
	s.mu.Unlock()

	m := Metrics{
		TotalRequests:    total,
		SignalsGenerated: generated,
		UptimeSeconds:    now.Sub(s.started).Seconds(),
		RiskStats:        s.gate.Stats(),
	}
	if !last.IsZero() {
		m.LastSignalTime = &last
	}
	return m
}

// Symbols returns the symbols collected in the background, in config
// order.
func (s *Service) Symbols() []string {
	out := make([]string, len(s.symbols))
	copy(out, s.symbols)
	return out
}

// componentKey maps a collector source to its /health component name.
func componentKey(source sentiment.Source) string {
	switch source {
	case sentiment.SourceTwitter:
		return componentMicroBlog
	case sentiment.SourceReddit:
		return componentForum
	case sentiment.SourceNews:
		return componentNews
	}
	return string(source)
}

// collectLimit mirrors the per-source fetch sizes: social feeds page 30
// items, news providers 20.
func collectLimit(source sentiment.Source) int {
	if source == sentiment.SourceNews {
		return newsCollectLimit
	}
	return socialCollectLimit
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
