package collectors

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/futuresfunk/internal/config"
	"github.com/ajitpratap0/futuresfunk/internal/metrics"
	"github.com/ajitpratap0/futuresfunk/internal/sentiment"
)

const (
	twitterBaseURL = "https://api.twitter.com"

	// Recent search allows 450 app-auth requests per 15 minutes. Half a
	// request per second stays inside that with headroom for the
	// monitored-account supplement.
	twitterRequestInterval = 2 * time.Second
	twitterBurst           = 5

	// max_results ceiling on the v2 search and timeline endpoints
	twitterResultsCap = 100

	defaultAccountLimit = 20
)

// InfluentialAccounts are high-signal market news desks polled by
// CollectFromAccounts in addition to keyword search. Breaking headlines hit
// these feeds before keyword search surfaces them.
var InfluentialAccounts = []string{
	"unusual_whales",
	"DeItaone",
	"Fxhedgers",
	"zaborhedge",
	"LiveSquawk",
	"financialjuice",
}

var _ Collector = (*TwitterCollector)(nil)

// TwitterCollector pulls recent tweets from the Twitter API v2 using
// app-only bearer authentication.
type TwitterCollector struct {
	baseCollector
	http    *resty.Client
	limiter *rate.Limiter
	symbols *config.SymbolMap
	bearer  string
}

func NewTwitterCollector(cfg config.TwitterConfig, symbols *config.SymbolMap, opts ...Option) *TwitterCollector {
	if symbols == nil {
		symbols = config.DefaultSymbolMap()
	}
	return &TwitterCollector{
		baseCollector: newBaseCollector(sentiment.SourceTwitter, opts...),
		http: resty.New().
			SetBaseURL(twitterBaseURL).
			SetTimeout(15*time.Second).
			SetAuthToken(cfg.BearerToken).
			SetHeader("Accept", "application/json"),
		limiter: rate.NewLimiter(rate.Every(twitterRequestInterval), twitterBurst),
		symbols: symbols,
		bearer:  cfg.BearerToken,
	}
}

// Initialize checks that a bearer token is configured. Credential problems
// surface on the first real request; search quota is too tight to spend on
// a verification call.
func (c *TwitterCollector) Initialize(ctx context.Context) bool {
	if c.bearer == "" {
		log.Warn().Msg("Twitter bearer token not configured, collector disabled")
		c.setEnabled(false)
		return false
	}
	c.setEnabled(true)
	log.Info().Msg("Twitter collector initialized")
	return true
}

type tweet struct {
	ID            string    `json:"id"`
	Text          string    `json:"text"`
	AuthorID      string    `json:"author_id"`
	CreatedAt     time.Time `json:"created_at"`
	PublicMetrics struct {
		Likes    int `json:"like_count"`
		Retweets int `json:"retweet_count"`
		Replies  int `json:"reply_count"`
		Quotes   int `json:"quote_count"`
	} `json:"public_metrics"`
}

type twitterUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Verified bool   `json:"verified"`
}

type tweetSearchResponse struct {
	Data     []tweet `json:"data"`
	Includes struct {
		Users []twitterUser `json:"users"`
	} `json:"includes"`
}

// Collect searches recent tweets for the symbol's tracked terms. Retweets
// are excluded at the query level; engagement still counts them.
func (c *TwitterCollector) Collect(ctx context.Context, symbol string, limit int) []sentiment.Observation {
	if !c.Enabled() {
		return nil
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	terms := c.symbols.Terms(symbol, "twitter")
	query := strings.Join(terms, " OR ") + " -is:retweet lang:en"

	if err := c.limiter.Wait(ctx); err != nil {
		return nil
	}

	var result tweetSearchResponse
	err := c.guard(func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"query":        query,
				"max_results":  strconv.Itoa(min(limit, twitterResultsCap)),
				"tweet.fields": "created_at,public_metrics,author_id",
				"expansions":   "author_id",
				"user.fields":  "username,verified",
			}).
			SetResult(&result).
			Get("/2/tweets/search/recent")
		if err != nil {
			return fmt.Errorf("failed to search tweets: %w", err)
		}
		if resp.IsError() {
			return fmt.Errorf("tweet search returned status %d", resp.StatusCode())
		}
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("Twitter search failed")
		metrics.RecordCollectorError(string(sentiment.SourceTwitter))
		return nil
	}

	users := make(map[string]twitterUser, len(result.Includes.Users))
	for _, u := range result.Includes.Users {
		users[u.ID] = u
	}

	observations := make([]sentiment.Observation, 0, len(result.Data))
	for _, tw := range result.Data {
		observations = append(observations, observationFromTweet(tw, users, symbol))
	}

	c.markCollected()
	metrics.RecordCollectedItems(string(sentiment.SourceTwitter), len(observations))
	log.Debug().Str("symbol", symbol).Int("count", len(observations)).Msg("Collected tweets")
	return observations
}

func observationFromTweet(tw tweet, users map[string]twitterUser, symbol string) sentiment.Observation {
	m := tw.PublicMetrics
	raw := float64(m.Likes) + float64(m.Retweets)*2.0 + float64(m.Replies)*1.5 + float64(m.Quotes)*2.0
	engagement := engagementScale(raw, 10)

	var author, url string
	user, known := users[tw.AuthorID]
	if known {
		author = user.Username
		url = fmt.Sprintf("https://twitter.com/%s/status/%s", user.Username, tw.ID)
		if user.Verified {
			engagement = math.Min(1, engagement*1.5)
		}
	}

	ts := tw.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	return sentiment.Observation{
		Source:     sentiment.SourceTwitter,
		Symbol:     symbol,
		Text:       tw.Text,
		Author:     author,
		URL:        url,
		Engagement: engagement,
		Timestamp:  ts,
		Metadata: map[string]string{
			"tweet_id": tw.ID,
			"likes":    strconv.Itoa(m.Likes),
			"retweets": strconv.Itoa(m.Retweets),
			"replies":  strconv.Itoa(m.Replies),
			"verified": strconv.FormatBool(known && user.Verified),
		},
	}
}

type userLookupResponse struct {
	Data twitterUser `json:"data"`
}

type userTweetsResponse struct {
	Data []tweet `json:"data"`
}

// CollectFromAccounts pulls the latest posts from a fixed list of monitored
// accounts regardless of search terms. A failing account is skipped so the
// rest of the list still delivers.
func (c *TwitterCollector) CollectFromAccounts(ctx context.Context, accounts []string, symbol string, limit int) []sentiment.Observation {
	if !c.Enabled() {
		return nil
	}
	if limit <= 0 {
		limit = defaultAccountLimit
	}

	var observations []sentiment.Observation
	for _, account := range accounts {
		obs, err := c.collectAccount(ctx, account, symbol, limit)
		if err != nil {
			log.Warn().Err(err).Str("account", account).Msg("Monitored account fetch failed")
			continue
		}
		observations = append(observations, obs...)
	}

	if len(observations) > 0 {
		c.markCollected()
		metrics.RecordCollectedItems(string(sentiment.SourceTwitter), len(observations))
	}
	return observations
}

func (c *TwitterCollector) collectAccount(ctx context.Context, account, symbol string, limit int) ([]sentiment.Observation, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var lookup userLookupResponse
	err := c.guard(func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetResult(&lookup).
			Get("/2/users/by/username/" + account)
		if err != nil {
			return fmt.Errorf("failed to look up user %s: %w", account, err)
		}
		if resp.IsError() || lookup.Data.ID == "" {
			return fmt.Errorf("user lookup for %s returned status %d", account, resp.StatusCode())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var timeline userTweetsResponse
	err = c.guard(func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"max_results":  strconv.Itoa(min(limit, twitterResultsCap)),
				"tweet.fields": "created_at,public_metrics",
			}).
			SetResult(&timeline).
			Get("/2/users/" + lookup.Data.ID + "/tweets")
		if err != nil {
			return fmt.Errorf("failed to fetch timeline for %s: %w", account, err)
		}
		if resp.IsError() {
			return fmt.Errorf("timeline for %s returned status %d", account, resp.StatusCode())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	observations := make([]sentiment.Observation, 0, len(timeline.Data))
	for _, tw := range timeline.Data {
		m := tw.PublicMetrics
		ts := tw.CreatedAt
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		observations = append(observations, sentiment.Observation{
			Source:     sentiment.SourceTwitter,
			Symbol:     symbol,
			Text:       tw.Text,
			Author:     account,
			URL:        fmt.Sprintf("https://twitter.com/%s/status/%s", account, tw.ID),
			Engagement: engagementScale(float64(m.Likes)+2*float64(m.Retweets), 10),
			Timestamp:  ts,
			Metadata: map[string]string{
				"tweet_id":          tw.ID,
				"monitored_account": "true",
			},
		})
	}
	return observations, nil
}
