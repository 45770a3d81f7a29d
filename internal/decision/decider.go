// Package decision fuses sentiment and technical readings into sized
// trade intents. Risk runs first: a refused gate check short-circuits
// to HOLD before any signal math happens.
package decision

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/futuresfunk/internal/clock"
	"github.com/ajitpratap0/futuresfunk/internal/config"
	"github.com/ajitpratap0/futuresfunk/internal/events"
	"github.com/ajitpratap0/futuresfunk/internal/indicators"
	"github.com/ajitpratap0/futuresfunk/internal/metrics"
	"github.com/ajitpratap0/futuresfunk/internal/risk"
	"github.com/ajitpratap0/futuresfunk/internal/sentiment"
)

// Market regimes forwarded to the model during adjudication.
const (
	RegimeTrending = "trending"
	RegimeVolatile = "volatile"
	RegimeRanging  = "ranging"
)

// Regime classification thresholds, both relative to price.
const (
	trendingEMASpreadPct = 0.001
	volatileATRPct       = 0.015
)

// Agreement-table constants. Confidence is boosted when the signal
// families agree, scaled down when one side is neutral, and floored
// when they conflict outright.
const (
	agreementBoost    = 1.2
	overrideScale     = 0.6
	sentimentScale    = 0.9
	technicalFlatConf = 0.5
	conflictConf      = 0.3
	strongScore       = 0.6
	strongConf        = 0.7
)

// Intent is a sized trading decision for one symbol. A HOLD carries
// zero quantity and the reasoning that produced it.
type Intent struct {
	Symbol         string           `json:"symbol"`
	Action         string           `json:"action"`
	Quantity       int              `json:"qty"`
	Confidence     float64          `json:"confidence"`
	SentimentScore float64          `json:"sentiment_score"`
	Reasoning      string           `json:"reasoning"`
	Timestamp      time.Time        `json:"timestamp"`
	Risk           *risk.Parameters `json:"risk_params,omitempty"`
}

// Actionable reports whether the intent should reach the order manager.
func (i Intent) Actionable() bool {
	return i.Action != sentiment.ActionHold && i.Quantity > 0
}

// Inputs carries one decision cycle's raw state for a symbol. The
// aggregate is nil before the first sentiment pass completes; the
// indicator snapshot is nil until the engine is warmed up. Price 0
// means no quote yet.
type Inputs struct {
	Symbol     string
	Aggregate  *sentiment.Aggregate
	Indicators *indicators.Values
	Price      float64
}

// Decider applies the fusion rules. It holds no per-symbol state and is
// safe for concurrent use across symbols.
type Decider struct {
	gate          *risk.Gate
	scorer        sentiment.Scorer
	bus           *events.Bus
	clk           clock.Clock
	useSentiment  bool
	useTechnicals bool
	adjudicate    bool
	threshold     float64
	maxContracts  int
}

// DeciderOption customizes decider construction.
type DeciderOption func(*Decider)

// WithClock overrides the wall clock.
func WithClock(c clock.Clock) DeciderOption {
	return func(d *Decider) {
		if c != nil {
			d.clk = c
		}
	}
}

// WithoutAdjudication keeps the rule-based result even when the scorer
// has a model available.
func WithoutAdjudication() DeciderOption {
	return func(d *Decider) { d.adjudicate = false }
}

// NewDecider wires the fusion table to its collaborators. The scorer
// may be nil, which disables model adjudication; sentiment fusion still
// works off whatever aggregate the caller supplies.
func NewDecider(tradingCfg config.TradingConfig, sentimentCfg config.SentimentConfig, gate *risk.Gate, scorer sentiment.Scorer, bus *events.Bus, opts ...DeciderOption) *Decider {
	threshold := sentimentCfg.ConfidenceThreshold
	if threshold <= 0 {
		threshold = sentiment.DefaultConfidenceThreshold
	}
	maxContracts := tradingCfg.MaxContracts
	if maxContracts <= 0 {
		maxContracts = 1
	}

	d := &Decider{
		gate:          gate,
		scorer:        scorer,
		bus:           bus,
		clk:           clock.System(),
		useSentiment:  tradingCfg.UseSentiment,
		useTechnicals: tradingCfg.UseTechnicals,
		adjudicate:    true,
		threshold:     threshold,
		maxContracts:  maxContracts,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decide produces the intent for one cycle, publishes it on the bus and
// records the decision metrics. Every cycle yields an intent, HOLDs
// included.
func (d *Decider) Decide(ctx context.Context, in Inputs) Intent {
	start := time.Now()
	intent := d.decide(ctx, in)

	metrics.RecordDecision(in.Symbol, intent.Action, intent.Confidence)
	metrics.RecordDecisionLatency(float64(time.Since(start)) / float64(time.Millisecond))
	d.publish(intent)

	log.Debug().
		Str("symbol", in.Symbol).
		Str("action", intent.Action).
		Int("qty", intent.Quantity).
		Float64("confidence", intent.Confidence).
		Str("reasoning", intent.Reasoning).
		Msg("Decision made")
	return intent
}

// Hold builds a zero-quantity intent for cycles that never reach the
// fusion rules. It is not published.
func (d *Decider) Hold(symbol, reason string) Intent {
	return Intent{
		Symbol:    symbol,
		Action:    sentiment.ActionHold,
		Reasoning: reason,
		Timestamp: d.clk.Now().UTC(),
	}
}

func (d *Decider) decide(ctx context.Context, in Inputs) Intent {
	agg := in.Aggregate
	if !d.useSentiment {
		agg = nil
	}

	var technical *int
	volatility := 0.0
	regime := ""
	if d.useTechnicals && in.Indicators != nil {
		sig := in.Indicators.Signal
		technical = &sig
		volatility = in.Indicators.ATR
		regime = Regime(*in.Indicators, in.Price)
	}

	// Sizing uses the raw sentiment confidence, not the fused one; with
	// sentiment out of play, the flat technical confidence stands in.
	score := 0.0
	sizingConf := technicalFlatConf
	if agg != nil {
		score = agg.CompositeScore
		sizingConf = agg.Confidence
	}

	params := d.gate.Calculate(sizingConf, volatility, in.Price)
	if !params.CanTrade {
		return Intent{
			Symbol:         in.Symbol,
			Action:         sentiment.ActionHold,
			SentimentScore: score,
			Reasoning:      params.Reason,
			Timestamp:      d.clk.Now().UTC(),
			Risk:           &params,
		}
	}

	if agg == nil {
		return d.technicalIntent(in.Symbol, technical, params)
	}

	action, confidence := fuse(agg, technical, d.threshold)
	reasoning := fmt.Sprintf("Sentiment: %.2f", agg.CompositeScore)
	if technical != nil {
		reasoning += fmt.Sprintf(", Technical: %d", *technical)
	}

	if d.adjudicate && d.scorer != nil && d.scorer.Enabled() {
		action, confidence, reasoning = d.adjudicated(ctx, in.Symbol, agg, technical, regime, action, confidence, reasoning)
	}

	quantity := 0
	if action != sentiment.ActionHold {
		quantity = min(params.PositionSize, d.gate.MaxPositionSize())
	}

	return Intent{
		Symbol:         in.Symbol,
		Action:         action,
		Quantity:       quantity,
		Confidence:     confidence,
		SentimentScore: agg.CompositeScore,
		Reasoning:      reasoning,
		Timestamp:      d.clk.Now().UTC(),
		Risk:           &params,
	}
}

// technicalIntent handles cycles with no sentiment in play: the
// crossover signal decides direction and the configured contract cap
// decides size, the way the loop traded before sentiment existed.
func (d *Decider) technicalIntent(symbol string, technical *int, params risk.Parameters) Intent {
	intent := Intent{
		Symbol:     symbol,
		Action:     sentiment.ActionHold,
		Confidence: technicalFlatConf,
		Reasoning:  "No signal",
		Timestamp:  d.clk.Now().UTC(),
		Risk:       &params,
	}
	if technical == nil {
		intent.Confidence = 0
		return intent
	}

	intent.Reasoning = fmt.Sprintf("Technical: %d", *technical)
	if *technical == 0 {
		return intent
	}

	intent.Action = actionFromSignal(*technical)
	intent.Quantity = min(d.maxContracts, d.gate.MaxPositionSize())
	return intent
}

// fuse combines the sentiment aggregate with the technical signal per
// the agreement table. A nil technical means sentiment stands alone,
// gated by the confidence threshold.
func fuse(agg *sentiment.Aggregate, technical *int, threshold float64) (string, float64) {
	if technical == nil {
		if agg.Confidence < threshold {
			return sentiment.ActionHold, agg.Confidence
		}
		return agg.Action, agg.Confidence
	}

	sentSignal := signalFromAction(agg.Action)
	switch {
	case sentSignal == *technical:
		return agg.Action, min(1.0, agg.Confidence*agreementBoost)
	case sentSignal == -*technical:
		// Outright conflict: stand aside unless sentiment is strong.
		if math.Abs(agg.CompositeScore) > strongScore && agg.Confidence > strongConf {
			return agg.Action, agg.Confidence * overrideScale
		}
		return sentiment.ActionHold, conflictConf
	case *technical == 0:
		return agg.Action, agg.Confidence * sentimentScale
	default:
		return actionFromSignal(*technical), technicalFlatConf
	}
}

// adjudicated lets the model overrule the rule-based fusion. Any model
// or parse failure keeps the rule-based result.
func (d *Decider) adjudicated(ctx context.Context, symbol string, agg *sentiment.Aggregate, technical *int, regime, action string, confidence float64, reasoning string) (string, float64, string) {
	sent := sentiment.Result{
		SentimentScore: agg.CompositeScore,
		Confidence:     agg.Confidence,
		Action:         agg.Action,
		Reasoning:      "Themes: " + strings.Join(agg.Themes, ", "),
		KeyThemes:      agg.Themes,
		Urgency:        sentiment.UrgencyMedium,
		MarketImpact:   sentiment.ImpactNeutral,
	}

	decision, err := d.scorer.Decide(ctx, sent, technical, regime)
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("Gemini decision failed, using rule-based")
		return action, confidence, reasoning
	}

	if decision.Action != "" {
		action = decision.Action
	}
	if decision.Confidence > 0 {
		confidence = decision.Confidence
	}
	if decision.Reasoning != "" {
		reasoning = decision.Reasoning
	} else {
		reasoning = "Gemini decision"
	}
	return action, confidence, reasoning
}

// Regime classifies the market for the adjudication prompt: trending
// when the EMA spread exceeds 0.1% of price, volatile when ATR exceeds
// 1.5% of price, ranging otherwise.
func Regime(vals indicators.Values, price float64) string {
	if price <= 0 {
		return ""
	}
	if math.Abs(vals.EMAFast-vals.EMASlow)/price > trendingEMASpreadPct {
		return RegimeTrending
	}
	if vals.ATR/price > volatileATRPct {
		return RegimeVolatile
	}
	return RegimeRanging
}

func (d *Decider) publish(intent Intent) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(events.DecisionMade{
		Symbol:         intent.Symbol,
		Action:         intent.Action,
		Qty:            intent.Quantity,
		Confidence:     intent.Confidence,
		SentimentScore: intent.SentimentScore,
		Reasoning:      intent.Reasoning,
		Timestamp:      intent.Timestamp,
	})
}

func signalFromAction(action string) int {
	switch action {
	case sentiment.ActionBuy:
		return 1
	case sentiment.ActionSell:
		return -1
	default:
		return 0
	}
}

func actionFromSignal(signal int) string {
	switch {
	case signal > 0:
		return sentiment.ActionBuy
	case signal < 0:
		return sentiment.ActionSell
	default:
		return sentiment.ActionHold
	}
}
