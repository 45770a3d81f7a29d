package sentiment

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/futuresfunk/internal/config"
	"github.com/ajitpratap0/futuresfunk/internal/llm"
	"github.com/ajitpratap0/futuresfunk/internal/metrics"
	"github.com/ajitpratap0/futuresfunk/internal/risk"
)

// Prompt shaping limits. Batches larger than the item cap are
// truncated so a burst of collected posts cannot blow the context
// window.
const (
	promptItemCap      = 20
	promptExcerptLimit = 500
)

const geminiSystemPrompt = `You are an expert financial sentiment analyzer specializing in futures markets.
Your task is to analyze text data from social media and news to determine market sentiment.

You must output ONLY a valid JSON object with the following structure:
{
    "sentiment_score": <float between -1.0 and 1.0>,
    "confidence": <float between 0.0 and 1.0>,
    "action": "<BUY|SELL|HOLD>",
    "reasoning": "<brief explanation>",
    "key_themes": ["<theme1>", "<theme2>"],
    "urgency": "<LOW|MEDIUM|HIGH>",
    "market_impact": "<POSITIVE|NEGATIVE|NEUTRAL>"
}

Guidelines:
- sentiment_score: -1.0 = extremely bearish, 0 = neutral, +1.0 = extremely bullish
- confidence: How confident you are in the analysis (consider data quality, consistency)
- action: BUY if sentiment_score > 0.3 and confidence > 0.6
         SELL if sentiment_score < -0.3 and confidence > 0.6
         HOLD otherwise
- Consider the source reliability (news > verified accounts > general social media)
- Look for consensus across multiple data points
- Be skeptical of extreme sentiment without substantiation
- Consider contrarian indicators (extreme bullishness can be bearish)

IMPORTANT: Output ONLY the JSON object, no other text.`

const decisionPromptTemplate = `As a trading decision system, combine the following signals to make a final decision.

## Sentiment Analysis
- Score: %.2f
- Confidence: %.2f
- Suggested Action: %s
- Key Themes: %s
- Urgency: %s
- Reasoning: %s

## Technical Signal
- Signal: %s (1=bullish, -1=bearish, 0=neutral)

## Market Regime
- Current Regime: %s

Based on all available information, output a JSON decision:
{
    "action": "<BUY|SELL|HOLD>",
    "quantity": <1-5>,
    "confidence": <0.0-1.0>,
    "reasoning": "<brief explanation>"
}

Rules:
- Require agreement between sentiment and technicals for high confidence trades
- In volatile regimes, reduce position sizes and require higher confidence
- In trending regimes, align with the trend
- HOLD when signals conflict or confidence is low

Output ONLY the JSON object.`

// Scorer rates batches of collected text. Analyze never fails: any
// model or parse problem yields the neutral result so the aggregation
// pipeline keeps moving. Decide returns errors because its caller
// falls back to rule-based combination.
type Scorer interface {
	Enabled() bool
	Analyze(ctx context.Context, texts []string, symbol string, sources []string) Result
	Decide(ctx context.Context, sent Result, technical *int, regime string) (Decision, error)
}

// GeminiScorer scores sentiment with a generative model behind a
// circuit breaker.
type GeminiScorer struct {
	client  *llm.Client
	symbols *config.SymbolMap
	breaker *risk.Breaker
}

// ScorerOption customizes scorer construction.
type ScorerOption func(*GeminiScorer)

// WithBreaker overrides the default model circuit breaker, letting the
// caller attach open-state hooks.
func WithBreaker(b *risk.Breaker) ScorerOption {
	return func(s *GeminiScorer) {
		if b != nil {
			s.breaker = b
		}
	}
}

// NewGeminiScorer wraps the model client. A nil symbol map falls back
// to the default contract mappings.
func NewGeminiScorer(client *llm.Client, symbols *config.SymbolMap, opts ...ScorerOption) *GeminiScorer {
	if symbols == nil {
		symbols = config.DefaultSymbolMap()
	}

	s := &GeminiScorer{
		client:  client,
		symbols: symbols,
		breaker: risk.NewBreaker("sentiment-model", risk.ModelBreakerSettings),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enabled reports whether the underlying model client is configured.
func (s *GeminiScorer) Enabled() bool {
	return s.client != nil && s.client.Enabled()
}

// Analyze scores a batch of texts for one symbol. It always returns a
// usable result; failures are logged and come back neutral.
func (s *GeminiScorer) Analyze(ctx context.Context, texts []string, symbol string, sources []string) Result {
	if !s.Enabled() || len(texts) == 0 {
		return NeutralResult()
	}

	prompt := s.buildAnalysisPrompt(texts, symbol, sources)

	out, err := s.breaker.Execute(func() (interface{}, error) {
		return s.client.GenerateText(ctx, prompt)
	})
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("Sentiment analysis failed")
		metrics.RecordError("sentiment_analysis", "sentiment")
		return NeutralResult()
	}

	return parseAnalysis(out.(string))
}

// Decide asks the model to adjudicate sentiment against the technical
// signal and market regime. technical is nil when no indicator reading
// is available.
func (s *GeminiScorer) Decide(ctx context.Context, sent Result, technical *int, regime string) (Decision, error) {
	if !s.Enabled() {
		return Decision{}, llm.ErrDisabled
	}

	technicalLabel := "Not available"
	if technical != nil {
		technicalLabel = fmt.Sprintf("%d", *technical)
	}
	if regime == "" {
		regime = "Unknown"
	}

	prompt := fmt.Sprintf(decisionPromptTemplate,
		sent.SentimentScore,
		sent.Confidence,
		sent.Action,
		strings.Join(sent.KeyThemes, ", "),
		sent.Urgency,
		sent.Reasoning,
		technicalLabel,
		regime,
	)

	out, err := s.breaker.Execute(func() (interface{}, error) {
		return s.client.GenerateText(ctx, prompt)
	})
	if err != nil {
		metrics.RecordError("decision_generation", "sentiment")
		return Decision{}, fmt.Errorf("failed to generate trading decision: %w", err)
	}

	var decision Decision
	if err := llm.ParseJSONResponse(out.(string), &decision); err != nil {
		metrics.RecordError("decision_parse", "sentiment")
		return Decision{}, fmt.Errorf("failed to parse trading decision: %w", err)
	}
	decision.Action = strings.ToUpper(decision.Action)

	return decision, nil
}

func (s *GeminiScorer) buildAnalysisPrompt(texts []string, symbol string, sources []string) string {
	name := s.symbols.Name(symbol)

	var b strings.Builder
	b.WriteString(geminiSystemPrompt)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "## Market Data for %s (%s)\n\n", name, symbol)

	for i, text := range texts {
		if i >= promptItemCap {
			break
		}
		source := "unknown"
		if i < len(sources) {
			source = sources[i]
		}
		if len(text) > promptExcerptLimit {
			text = text[:promptExcerptLimit] + "..."
		}
		fmt.Fprintf(&b, "### Source: %s\n%s\n\n", source, text)
	}

	fmt.Fprintf(&b, "\nAnalyze the above data and provide your sentiment assessment for %s futures.", name)
	return b.String()
}

// parseAnalysis decodes the model's JSON, tolerating absent fields so
// a partially conforming response still yields a usable result.
func parseAnalysis(content string) Result {
	var raw struct {
		SentimentScore *float64 `json:"sentiment_score"`
		Confidence     *float64 `json:"confidence"`
		Action         *string  `json:"action"`
		Reasoning      *string  `json:"reasoning"`
		KeyThemes      []string `json:"key_themes"`
		Urgency        *string  `json:"urgency"`
		MarketImpact   *string  `json:"market_impact"`
	}

	if err := llm.ParseJSONResponse(content, &raw); err != nil {
		log.Warn().Err(err).Msg("Failed to parse sentiment response")
		return NeutralResult()
	}

	result := Result{
		Confidence:   0.5,
		Action:       ActionHold,
		Reasoning:    "No reasoning provided",
		KeyThemes:    raw.KeyThemes,
		Urgency:      UrgencyLow,
		MarketImpact: ImpactNeutral,
	}
	if raw.SentimentScore != nil {
		result.SentimentScore = *raw.SentimentScore
	}
	if raw.Confidence != nil {
		result.Confidence = *raw.Confidence
	}
	if raw.Action != nil {
		result.Action = strings.ToUpper(*raw.Action)
	}
	if raw.Reasoning != nil {
		result.Reasoning = *raw.Reasoning
	}
	if raw.Urgency != nil {
		result.Urgency = strings.ToUpper(*raw.Urgency)
	}
	if raw.MarketImpact != nil {
		result.MarketImpact = strings.ToUpper(*raw.MarketImpact)
	}

	return result
}

// disabledScorer satisfies Scorer when no model is configured.
type disabledScorer struct{}

// Disabled returns a Scorer that always reports neutral sentiment.
func Disabled() Scorer { return disabledScorer{} }

func (disabledScorer) Enabled() bool { return false }

func (disabledScorer) Analyze(context.Context, []string, string, []string) Result {
	return NeutralResult()
}

func (disabledScorer) Decide(context.Context, Result, *int, string) (Decision, error) {
	return Decision{}, llm.ErrDisabled
}
