package collectors

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/futuresfunk/internal/config"
	"github.com/ajitpratap0/futuresfunk/internal/metrics"
	"github.com/ajitpratap0/futuresfunk/internal/sentiment"
)

const (
	newsAPIBaseURL      = "https://newsapi.org"
	alphaVantageBaseURL = "https://www.alphavantage.co"

	newsAPIInterval = time.Second
	// Alpha Vantage free tier allows 5 requests per minute.
	alphaVantageInterval = 12 * time.Second

	newsAPIPageCap     = 100
	alphaVantageCap    = 50
	newsContentLimit   = 500
	newsLookback       = 24 * time.Hour
	alphaVantageLayout = "20060102T150405"

	// Narrows the NEWS_SENTIMENT feed to macro and market coverage
	alphaVantageTopics = "financial_markets,economy_fiscal,economy_monetary"
)

var _ Collector = (*NewsCollector)(nil)

// NewsCollector merges headlines from NewsAPI and the Alpha Vantage news
// feed. Either backend runs alone when only one key is configured.
type NewsCollector struct {
	baseCollector
	newsHTTP    *resty.Client
	avHTTP      *resty.Client
	newsLimiter *rate.Limiter
	avLimiter   *rate.Limiter
	symbols     *config.SymbolMap
	cfg         config.NewsConfig
}

func NewNewsCollector(cfg config.NewsConfig, symbols *config.SymbolMap, opts ...Option) *NewsCollector {
	if symbols == nil {
		symbols = config.DefaultSymbolMap()
	}
	newHTTP := func(baseURL string) *resty.Client {
		return resty.New().
			SetBaseURL(baseURL).
			SetTimeout(15*time.Second).
			SetHeader("Accept", "application/json")
	}
	return &NewsCollector{
		baseCollector: newBaseCollector(sentiment.SourceNews, opts...),
		newsHTTP:      newHTTP(newsAPIBaseURL),
		avHTTP:        newHTTP(alphaVantageBaseURL),
		newsLimiter:   rate.NewLimiter(rate.Every(newsAPIInterval), 1),
		avLimiter:     rate.NewLimiter(rate.Every(alphaVantageInterval), 1),
		symbols:       symbols,
		cfg:           cfg,
	}
}

// Initialize reports which news backends are configured.
func (c *NewsCollector) Initialize(ctx context.Context) bool {
	if !c.cfg.Enabled() {
		log.Warn().Msg("No news API keys configured, collector disabled")
		c.setEnabled(false)
		return false
	}
	c.setEnabled(true)
	log.Info().
		Bool("newsapi", c.cfg.APIKey != "").
		Bool("alpha_vantage", c.cfg.AlphaVantageKey != "").
		Msg("News collector initialized")
	return true
}

// Collect fans out to the configured backends in parallel and merges the
// results newest-first. A failing backend logs and contributes nothing;
// the other still delivers.
func (c *NewsCollector) Collect(ctx context.Context, symbol string, limit int) []sentiment.Observation {
	if !c.Enabled() {
		return nil
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	terms := c.symbols.Terms(symbol, "news")
	perBackend := max(limit/2, 1)

	var fromNewsAPI, fromAlphaVantage []sentiment.Observation
	g, gctx := errgroup.WithContext(ctx)
	if c.cfg.APIKey != "" {
		g.Go(func() error {
			obs, err := c.collectNewsAPI(gctx, terms, symbol, perBackend)
			if err != nil {
				log.Warn().Err(err).Str("symbol", symbol).Msg("NewsAPI collection failed")
				metrics.RecordCollectorError(string(sentiment.SourceNews))
				return nil
			}
			fromNewsAPI = obs
			return nil
		})
	}
	if c.cfg.AlphaVantageKey != "" {
		g.Go(func() error {
			obs, err := c.collectAlphaVantage(gctx, terms, symbol, perBackend)
			if err != nil {
				log.Warn().Err(err).Str("symbol", symbol).Msg("Alpha Vantage collection failed")
				metrics.RecordCollectorError(string(sentiment.SourceNews))
				return nil
			}
			fromAlphaVantage = obs
			return nil
		})
	}
	_ = g.Wait() // backends swallow their own errors

	observations := append(fromNewsAPI, fromAlphaVantage...)
	sort.Slice(observations, func(i, j int) bool {
		return observations[i].Timestamp.After(observations[j].Timestamp)
	})
	if len(observations) > limit {
		observations = observations[:limit]
	}

	c.markCollected()
	metrics.RecordCollectedItems(string(sentiment.SourceNews), len(observations))
	log.Debug().Str("symbol", symbol).Int("count", len(observations)).Msg("Collected news articles")
	return observations
}

type newsAPIResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Articles []struct {
		Source struct {
			Name string `json:"name"`
		} `json:"source"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Content     string `json:"content"`
		URL         string `json:"url"`
		PublishedAt string `json:"publishedAt"`
	} `json:"articles"`
}

func (c *NewsCollector) collectNewsAPI(ctx context.Context, terms []string, symbol string, limit int) ([]sentiment.Observation, error) {
	if err := c.newsLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	// Quoted terms keep multi-word phrases intact in the query
	quoted := make([]string, len(terms))
	for i, term := range terms {
		quoted[i] = `"` + term + `"`
	}

	var result newsAPIResponse
	if err := c.guard(func() error {
		resp, err := c.newsHTTP.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"q":        strings.Join(quoted, " OR "),
				"from":     time.Now().UTC().Add(-newsLookback).Format("2006-01-02"),
				"sortBy":   "publishedAt",
				"language": "en",
				"pageSize": strconv.Itoa(min(limit, newsAPIPageCap)),
				"apiKey":   c.cfg.APIKey,
			}).
			SetResult(&result).
			Get("/v2/everything")
		if err != nil {
			return fmt.Errorf("newsapi request failed: %w", err)
		}
		if resp.IsError() || result.Status != "ok" {
			reason := result.Message
			if reason == "" {
				reason = fmt.Sprintf("status %d", resp.StatusCode())
			}
			return fmt.Errorf("newsapi rejected request: %s", reason)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	observations := make([]sentiment.Observation, 0, len(result.Articles))
	for _, article := range result.Articles {
		text := article.Title
		if article.Description != "" {
			text += "\n\n" + article.Description
		}
		if article.Content != "" {
			content := article.Content
			if len(content) > newsContentLimit {
				content = content[:newsContentLimit]
			}
			text += "\n\n" + content
		}

		ts := time.Now().UTC()
		if parsed, err := time.Parse(time.RFC3339, article.PublishedAt); err == nil {
			ts = parsed.UTC()
		}

		observations = append(observations, sentiment.Observation{
			Source:     sentiment.SourceNews,
			Symbol:     symbol,
			Text:       text,
			Author:     article.Source.Name,
			URL:        article.URL,
			Engagement: sourceReputation(article.Source.Name),
			Timestamp:  ts,
			Metadata: map[string]string{
				"source_name": article.Source.Name,
				"api":         "newsapi",
			},
		})
	}
	return observations, nil
}

type alphaVantageResponse struct {
	Feed []struct {
		Title         string  `json:"title"`
		URL           string  `json:"url"`
		TimePublished string  `json:"time_published"`
		Summary       string  `json:"summary"`
		Source        string  `json:"source"`
		Score         float64 `json:"overall_sentiment_score"`
		Label         string  `json:"overall_sentiment_label"`
	} `json:"feed"`
	Note        string `json:"Note"`
	Information string `json:"Information"`
}

func (c *NewsCollector) collectAlphaVantage(ctx context.Context, terms []string, symbol string, limit int) ([]sentiment.Observation, error) {
	if err := c.avLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	var result alphaVantageResponse
	if err := c.guard(func() error {
		resp, err := c.avHTTP.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"function":  "NEWS_SENTIMENT",
				"topics":    alphaVantageTopics,
				"time_from": time.Now().UTC().Add(-newsLookback).Format(alphaVantageLayout),
				"limit":     strconv.Itoa(min(limit, alphaVantageCap)),
				"apikey":    c.cfg.AlphaVantageKey,
			}).
			SetResult(&result).
			Get("/query")
		if err != nil {
			return fmt.Errorf("alpha vantage request failed: %w", err)
		}
		if resp.IsError() {
			return fmt.Errorf("alpha vantage returned status %d", resp.StatusCode())
		}
		// Quota exhaustion comes back as 200 with an explanatory note
		if len(result.Feed) == 0 && (result.Note != "" || result.Information != "") {
			return fmt.Errorf("alpha vantage throttled: %s%s", result.Note, result.Information)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	observations := make([]sentiment.Observation, 0, len(result.Feed))
	for _, item := range result.Feed {
		// The topic feed is market-wide; keep only items naming the symbol
		if !mentionsAny(item.Title+" "+item.Summary, terms) {
			continue
		}

		text := item.Title
		if item.Summary != "" {
			text += "\n\n" + item.Summary
		}

		ts := time.Now().UTC()
		if parsed, err := time.Parse(alphaVantageLayout, item.TimePublished); err == nil {
			ts = parsed.UTC()
		}

		observations = append(observations, sentiment.Observation{
			Source:     sentiment.SourceNews,
			Symbol:     symbol,
			Text:       text,
			Author:     item.Source,
			URL:        item.URL,
			Engagement: (item.Score + 1) / 2,
			Timestamp:  ts,
			Metadata: map[string]string{
				"source_name":     item.Source,
				"api":             "alphavantage",
				"sentiment_score": strconv.FormatFloat(item.Score, 'f', -1, 64),
				"sentiment_label": item.Label,
			},
		})
	}
	return observations, nil
}

// Reputation tiers for news outlets. Matching is substring on the
// lowercased source name, so "Bloomberg Markets" tiers with "bloomberg".
var (
	premiumOutlets = []string{
		"bloomberg", "reuters", "cnbc", "wall street journal", "wsj",
		"financial times", "ft", "marketwatch", "barron's",
	}
	financialOutlets = []string{
		"yahoo finance", "investing.com", "seekingalpha", "benzinga",
		"thestreet", "business insider", "forbes", "fortune",
	}
	generalOutlets = []string{
		"cnn", "bbc", "new york times", "washington post", "associated press",
	}
)

// sourceReputation scores an outlet's reliability, standing in for the
// engagement signal social posts carry.
func sourceReputation(name string) float64 {
	lower := strings.ToLower(name)
	for _, outlet := range premiumOutlets {
		if strings.Contains(lower, outlet) {
			return 0.95
		}
	}
	for _, outlet := range financialOutlets {
		if strings.Contains(lower, outlet) {
			return 0.75
		}
	}
	for _, outlet := range generalOutlets {
		if strings.Contains(lower, outlet) {
			return 0.55
		}
	}
	return 0.4
}
