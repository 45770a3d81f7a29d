// Package sentiment turns raw social media and news text into trading
// signals. Collectors feed Observations in, a model-backed Scorer rates
// batches of text, and the Aggregator folds the scores into a single
// per-symbol reading with time decay and source weighting.
package sentiment

import "time"

// Source identifies where an observation was collected from.
type Source string

const (
	SourceTwitter Source = "twitter"
	SourceReddit  Source = "reddit"
	SourceNews    Source = "news"
)

// Sources lists all known data sources.
var Sources = []Source{SourceTwitter, SourceReddit, SourceNews}

// Trading actions shared across the pipeline.
const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
	ActionHold = "HOLD"
)

// Urgency levels reported by the scorer.
const (
	UrgencyLow    = "LOW"
	UrgencyMedium = "MEDIUM"
	UrgencyHigh   = "HIGH"
)

// Market impact labels reported by the scorer.
const (
	ImpactPositive = "POSITIVE"
	ImpactNegative = "NEGATIVE"
	ImpactNeutral  = "NEUTRAL"
)

// Observation is a single piece of collected text tied to a symbol.
type Observation struct {
	Source     Source            `json:"source"`
	Symbol     string            `json:"symbol"`
	Text       string            `json:"text"`
	Author     string            `json:"author,omitempty"`
	URL        string            `json:"url,omitempty"`
	Engagement float64           `json:"engagement_score"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// resultKeyLimit bounds the observation text prefix used to key scorer
// results during aggregation.
const resultKeyLimit = 100

// ResultKey derives the lookup key that maps an observation to its
// scored result. Both the scoring side and the aggregation side must
// use it so keys line up.
func ResultKey(text string) string {
	if len(text) > resultKeyLimit {
		return text[:resultKeyLimit]
	}
	return text
}

// Result is the scorer's assessment of a batch of text.
type Result struct {
	SentimentScore float64  `json:"sentiment_score"`
	Confidence     float64  `json:"confidence"`
	Action         string   `json:"action"`
	Reasoning      string   `json:"reasoning"`
	KeyThemes      []string `json:"key_themes"`
	Urgency        string   `json:"urgency"`
	MarketImpact   string   `json:"market_impact"`
}

// NeutralResult is returned whenever scoring is unavailable or fails.
func NeutralResult() Result {
	return Result{
		SentimentScore: 0,
		Confidence:     0,
		Action:         ActionHold,
		Reasoning:      "Unable to analyze - using default",
		Urgency:        UrgencyLow,
		MarketImpact:   ImpactNeutral,
	}
}

// Aggregate is the blended sentiment reading for one symbol over a
// time window.
type Aggregate struct {
	Symbol            string             `json:"symbol"`
	CompositeScore    float64            `json:"composite_score"`
	Confidence        float64            `json:"confidence"`
	Action            string             `json:"action"`
	SourceBreakdown   map[string]float64 `json:"source_breakdown"`
	DataPoints        int                `json:"data_points"`
	TimeWindowMinutes int                `json:"time_window_minutes"`
	Timestamp         time.Time          `json:"timestamp"`
	Themes            []string           `json:"themes"`
}

// Decision is the model's adjudicated trading call combining sentiment
// with technical context. Quantity is advisory; position sizing is
// owned by the risk layer.
type Decision struct {
	Action     string  `json:"action"`
	Quantity   int     `json:"quantity"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}
