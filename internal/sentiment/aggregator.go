package sentiment

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ajitpratap0/futuresfunk/internal/clock"
	"github.com/ajitpratap0/futuresfunk/internal/config"
)

// Aggregation defaults, used when the config leaves a knob unset.
const (
	DefaultHalfLifeMinutes     = 30.0
	DefaultWindowMinutes       = 60
	DefaultConfidenceThreshold = 0.55
)

// actionThreshold is the composite score magnitude beyond which the
// aggregate leans BUY or SELL.
const actionThreshold = 0.3

// maxThemes caps how many recurring themes an aggregate reports.
const maxThemes = 5

// missingScoreConfidence weights observations that were never scored,
// so raw engagement alone cannot move the composite much.
const missingScoreConfidence = 0.3

// Aggregator folds per-item sentiment scores into one reading per
// symbol. Items decay exponentially with age, sources are weighted by
// configured reliability, and disagreement between sources drags the
// overall confidence down.
type Aggregator struct {
	weights   map[Source]float64
	halfLife  float64
	window    int
	threshold float64
	clk       clock.Clock
}

// NewAggregator builds an aggregator from config. Weights that do not
// sum to one are normalized. A nil clock uses the system clock.
func NewAggregator(cfg config.SentimentConfig, clk clock.Clock) *Aggregator {
	weights := map[Source]float64{
		SourceTwitter: cfg.TwitterWeight,
		SourceReddit:  cfg.RedditWeight,
		SourceNews:    cfg.NewsWeight,
	}
	if weights[SourceTwitter] == 0 && weights[SourceReddit] == 0 && weights[SourceNews] == 0 {
		weights = map[Source]float64{SourceTwitter: 0.3, SourceReddit: 0.3, SourceNews: 0.4}
	}

	var total float64
	for _, w := range weights {
		total += w
	}
	if math.Abs(total-1.0) > 0.01 {
		log.Warn().Float64("total", total).Msg("Source weights don't sum to 1, normalizing")
		for source := range weights {
			weights[source] /= total
		}
	}

	halfLife := cfg.HalfLifeMinutes
	if halfLife <= 0 {
		halfLife = DefaultHalfLifeMinutes
	}
	window := cfg.WindowMinutes
	if window <= 0 {
		window = DefaultWindowMinutes
	}
	threshold := cfg.ConfidenceThreshold
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	if clk == nil {
		clk = clock.System()
	}

	return &Aggregator{
		weights:   weights,
		halfLife:  halfLife,
		window:    window,
		threshold: threshold,
		clk:       clk,
	}
}

// Aggregate blends scored observations for a symbol into one reading.
// results maps ResultKey(observation text) to the scorer output; items
// without a score contribute at low confidence. windowMinutes <= 0
// uses the configured window.
func (a *Aggregator) Aggregate(observations []Observation, results map[string]Result, symbol string, windowMinutes int) Aggregate {
	if windowMinutes <= 0 {
		windowMinutes = a.window
	}
	if len(observations) == 0 {
		return a.emptyAggregate(symbol, windowMinutes)
	}

	now := a.clk.Now().UTC()
	cutoff := now.Add(-time.Duration(windowMinutes) * time.Minute)

	type samples struct {
		scores  []float64
		weights []float64
	}
	bySource := make(map[Source]*samples)

	var recent int
	for _, obs := range observations {
		if obs.Timestamp.Before(cutoff) {
			continue
		}
		recent++

		score, conf := 0.0, missingScoreConfidence
		if r, ok := results[ResultKey(obs.Text)]; ok {
			score, conf = r.SentimentScore, r.Confidence
		}

		ageMinutes := now.Sub(obs.Timestamp).Minutes()
		timeWeight := math.Exp(-0.693 * ageMinutes / a.halfLife)
		weight := timeWeight * obs.Engagement * conf

		s := bySource[obs.Source]
		if s == nil {
			s = &samples{}
			bySource[obs.Source] = s
		}
		s.scores = append(s.scores, score)
		s.weights = append(s.weights, weight)
	}

	if recent == 0 {
		return a.emptyAggregate(symbol, windowMinutes)
	}

	// Weighted mean and spread per source. A tight cluster of scores
	// earns more confidence than a scattered one, and thin sources are
	// discounted until they carry around ten items.
	sourceScores := make(map[string]float64)
	sourceConfidences := make(map[string]float64)
	for source, s := range bySource {
		if floats.Sum(s.weights) <= 0 {
			continue
		}
		avg := stat.Mean(s.scores, s.weights)
		variance := stat.MomentAbout(2, s.scores, avg, s.weights)
		consistency := 1.0 / (1.0 + variance)
		volume := math.Min(1.0, float64(len(s.scores))/10.0)

		sourceScores[string(source)] = avg
		sourceConfidences[string(source)] = consistency * volume
	}

	var composite, totalWeight float64
	for source, score := range sourceScores {
		weight := a.weights[Source(source)]
		conf, ok := sourceConfidences[source]
		if !ok {
			conf = 0.5
		}
		composite += score * weight * conf
		totalWeight += weight * conf
	}
	if totalWeight > 0 {
		composite /= totalWeight
	}

	// Cross-source agreement: variance of the per-source means around
	// the composite. A single source never earns full confidence.
	agreement := 0.7
	if len(sourceScores) > 1 {
		avgs := make([]float64, 0, len(sourceScores))
		for _, v := range sourceScores {
			avgs = append(avgs, v)
		}
		variance := stat.MomentAbout(2, avgs, composite, nil)
		agreement = 1.0 / (1.0 + variance*4)
	}

	volume := math.Min(1.0, float64(recent)/20.0)

	var avgSourceConfidence float64
	if len(sourceConfidences) > 0 {
		confs := make([]float64, 0, len(sourceConfidences))
		for _, v := range sourceConfidences {
			confs = append(confs, v)
		}
		avgSourceConfidence = stat.Mean(confs, nil)
	}

	confidence := agreement * volume * avgSourceConfidence

	scored := make([]Result, 0, len(results))
	for _, r := range results {
		scored = append(scored, r)
	}

	return Aggregate{
		Symbol:            symbol,
		CompositeScore:    composite,
		Confidence:        confidence,
		Action:            a.determineAction(composite, confidence),
		SourceBreakdown:   sourceScores,
		DataPoints:        recent,
		TimeWindowMinutes: windowMinutes,
		Timestamp:         now,
		Themes:            topThemes(scored),
	}
}

// QuickAggregate averages scorer results directly, without raw
// observations. Used where only scored batches are at hand.
func (a *Aggregator) QuickAggregate(results []Result, symbol string) Aggregate {
	if len(results) == 0 {
		return a.emptyAggregate(symbol, a.window)
	}

	var totalScore, totalConfidence float64
	for _, r := range results {
		totalScore += r.SentimentScore * r.Confidence
		totalConfidence += r.Confidence
	}

	var composite, avgConfidence float64
	if totalConfidence > 0 {
		composite = totalScore / totalConfidence
		avgConfidence = totalConfidence / float64(len(results))
	}

	return Aggregate{
		Symbol:            symbol,
		CompositeScore:    composite,
		Confidence:        avgConfidence,
		Action:            a.determineAction(composite, avgConfidence),
		SourceBreakdown:   map[string]float64{},
		DataPoints:        len(results),
		TimeWindowMinutes: a.window,
		Timestamp:         a.clk.Now().UTC(),
		Themes:            topThemes(results),
	}
}

// Threshold exposes the configured confidence floor below which the
// aggregate always reads HOLD.
func (a *Aggregator) Threshold() float64 { return a.threshold }

func (a *Aggregator) determineAction(score, confidence float64) string {
	if confidence < a.threshold {
		return ActionHold
	}
	switch {
	case score > actionThreshold:
		return ActionBuy
	case score < -actionThreshold:
		return ActionSell
	default:
		return ActionHold
	}
}

func (a *Aggregator) emptyAggregate(symbol string, windowMinutes int) Aggregate {
	return Aggregate{
		Symbol:            symbol,
		CompositeScore:    0,
		Confidence:        0,
		Action:            ActionHold,
		SourceBreakdown:   map[string]float64{},
		DataPoints:        0,
		TimeWindowMinutes: windowMinutes,
		Timestamp:         a.clk.Now().UTC(),
		Themes:            []string{},
	}
}

// topThemes ranks recurring themes by count, ties broken
// alphabetically so output is stable.
func topThemes(results []Result) []string {
	counts := make(map[string]int)
	for _, r := range results {
		for _, theme := range r.KeyThemes {
			counts[theme]++
		}
	}

	themes := make([]string, 0, len(counts))
	for theme := range counts {
		themes = append(themes, theme)
	}
	sort.Slice(themes, func(i, j int) bool {
		if counts[themes[i]] != counts[themes[j]] {
			return counts[themes[i]] > counts[themes[j]]
		}
		return themes[i] < themes[j]
	})

	if len(themes) > maxThemes {
		themes = themes[:maxThemes]
	}
	return themes
}
