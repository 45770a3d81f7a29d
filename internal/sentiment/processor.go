package sentiment

import (
	"regexp"
	"strconv"
	"strings"
)

// ProcessedText carries cleaned text and the financial entities pulled
// out of it.
type ProcessedText struct {
	CleanedText       string         `json:"cleaned_text"`
	Tickers           []string       `json:"tickers"`
	Prices            []float64      `json:"prices"`
	Percentages       []float64      `json:"percentages"`
	SentimentKeywords map[string]int `json:"sentiment_keywords"`
	WordCount         int            `json:"word_count"`
}

var (
	tickerRe     = regexp.MustCompile(`\$([A-Z]{1,5})\b`)
	priceRe      = regexp.MustCompile(`\$[\d,]+\.?\d*`)
	percentageRe = regexp.MustCompile(`[-+]?\d+\.?\d*%`)
	urlRe        = regexp.MustCompile(`https?://\S+`)
	mentionRe    = regexp.MustCompile(`@\w+`)
	hashtagRe    = regexp.MustCompile(`#(\w+)`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	// Keep basic punctuation plus % and $, drop everything else.
	specialRe = regexp.MustCompile(`[^\w\s.,!?%$-]`)
)

// slangMappings expands trader shorthand before keyword extraction.
// Expansion runs word by word, so multi-word entries only document the
// phrases; they never match a single token.
var slangMappings = map[string]string{
	"hodl":          "hold",
	"fomo":          "fear of missing out",
	"fud":           "fear uncertainty doubt",
	"btfd":          "buy the dip",
	"ath":           "all time high",
	"atl":           "all time low",
	"dd":            "due diligence",
	"yolo":          "high risk trade",
	"tendies":       "profits",
	"bagholder":     "holding losing position",
	"diamond hands": "holding through volatility",
	"paper hands":   "selling at first sign of loss",
	"moon":          "price increase significantly",
	"mooning":       "price increasing significantly",
	"to the moon":   "expecting large price increase",
	"rekt":          "significant loss",
	"pump":          "price manipulation upward",
	"dump":          "price manipulation downward",
	"short squeeze": "forced buying by short sellers",
	"gamma squeeze": "options driven price spike",
	"calls":         "bullish options",
	"puts":          "bearish options",
}

var bullishKeywords = []string{
	"bullish", "buy", "long", "calls", "moon", "rocket", "green",
	"rally", "breakout", "support", "upgrade", "beat", "growth",
	"strong", "surge", "soar", "gain", "profit", "winner", "outperform",
	"accumulate", "undervalued", "opportunity", "upside", "momentum",
}

var bearishKeywords = []string{
	"bearish", "sell", "short", "puts", "crash", "dump", "red",
	"collapse", "breakdown", "resistance", "downgrade", "miss", "weak",
	"plunge", "drop", "fall", "loss", "loser", "underperform", "overvalued",
	"risk", "warning", "downside", "correction", "recession", "fear",
}

// TextProcessor cleans and normalizes collected text and extracts
// tickers, prices, percentages and sentiment keywords.
type TextProcessor struct {
	bullish map[string]bool
	bearish map[string]bool
}

// NewTextProcessor builds a processor with the keyword sets indexed
// for lookup.
func NewTextProcessor() *TextProcessor {
	p := &TextProcessor{
		bullish: make(map[string]bool, len(bullishKeywords)),
		bearish: make(map[string]bool, len(bearishKeywords)),
	}
	for _, w := range bullishKeywords {
		p.bullish[w] = true
	}
	for _, w := range bearishKeywords {
		p.bearish[w] = true
	}
	return p
}

// Process cleans one text and extracts its entities. Entities are
// pulled from the raw text before cleaning lowercases it and strips
// the markers they depend on.
func (p *TextProcessor) Process(text string) ProcessedText {
	if text == "" {
		return ProcessedText{}
	}

	tickers := p.extractTickers(text)
	prices := p.extractPrices(text)
	percentages := p.extractPercentages(text)

	cleaned := p.cleanText(text)
	cleaned = p.expandSlang(cleaned)

	keywords := p.extractKeywords(cleaned)

	return ProcessedText{
		CleanedText:       cleaned,
		Tickers:           tickers,
		Prices:            prices,
		Percentages:       percentages,
		SentimentKeywords: keywords,
		WordCount:         len(strings.Fields(cleaned)),
	}
}

// KeywordSentiment scores extracted keywords from -1 (all bearish) to
// +1 (all bullish). No keywords scores 0.
func (p *TextProcessor) KeywordSentiment(keywords map[string]int) float64 {
	var bullish, bearish int
	for word, count := range keywords {
		switch {
		case p.bullish[word]:
			bullish += count
		case p.bearish[word]:
			bearish += count
		}
	}

	total := bullish + bearish
	if total == 0 {
		return 0
	}
	return float64(bullish-bearish) / float64(total)
}

func (p *TextProcessor) cleanText(text string) string {
	text = strings.ToLower(text)
	text = urlRe.ReplaceAllString(text, " ")
	// Drop mentions but keep hashtag bodies, they often carry tickers.
	text = mentionRe.ReplaceAllString(text, " ")
	text = hashtagRe.ReplaceAllString(text, "$1")
	text = whitespaceRe.ReplaceAllString(text, " ")
	text = specialRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func (p *TextProcessor) expandSlang(text string) string {
	words := strings.Fields(text)
	expanded := make([]string, 0, len(words))
	for _, word := range words {
		if repl, ok := slangMappings[strings.Trim(word, ".,!?")]; ok {
			expanded = append(expanded, repl)
		} else {
			expanded = append(expanded, word)
		}
	}
	return strings.Join(expanded, " ")
}

func (p *TextProcessor) extractTickers(text string) []string {
	matches := tickerRe.FindAllStringSubmatch(strings.ToUpper(text), -1)
	seen := make(map[string]bool, len(matches))
	var tickers []string
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			tickers = append(tickers, m[1])
		}
	}
	return tickers
}

func (p *TextProcessor) extractPrices(text string) []float64 {
	var prices []float64
	for _, m := range priceRe.FindAllString(text, -1) {
		raw := strings.NewReplacer("$", "", ",", "").Replace(m)
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			prices = append(prices, v)
		}
	}
	return prices
}

func (p *TextProcessor) extractPercentages(text string) []float64 {
	var percentages []float64
	for _, m := range percentageRe.FindAllString(text, -1) {
		if v, err := strconv.ParseFloat(strings.TrimSuffix(m, "%"), 64); err == nil {
			percentages = append(percentages, v)
		}
	}
	return percentages
}

func (p *TextProcessor) extractKeywords(text string) map[string]int {
	keywords := make(map[string]int)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?")
		if p.bullish[word] || p.bearish[word] {
			keywords[word]++
		}
	}
	return keywords
}
