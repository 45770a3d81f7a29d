package collectors

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/futuresfunk/internal/config"
	"github.com/ajitpratap0/futuresfunk/internal/metrics"
	"github.com/ajitpratap0/futuresfunk/internal/sentiment"
)

const (
	redditAuthURL = "https://www.reddit.com"
	redditAPIURL  = "https://oauth.reddit.com"

	// Free-tier OAuth clients get 60 requests per minute.
	redditRequestInterval = time.Second
	redditBurst           = 4

	redditSelftextLimit = 1000
	redditHotScanLimit  = 25
	redditSearchCap     = 20

	// Refresh the app-only token a minute before it expires.
	redditTokenMargin = time.Minute
)

// TradingSubreddits are scanned in order until the item limit fills.
var TradingSubreddits = []string{
	"wallstreetbets",
	"stocks",
	"investing",
	"futures",
	"options",
	"StockMarket",
	"daytrading",
}

var _ Collector = (*RedditCollector)(nil)

// RedditCollector reads posts from trading subreddits through the OAuth
// application-only grant: keyword search plus a scan of each hot page for
// term mentions the search index has not picked up yet.
type RedditCollector struct {
	baseCollector
	auth    *resty.Client // www.reddit.com, token endpoint only
	api     *resty.Client // oauth.reddit.com
	limiter *rate.Limiter
	symbols *config.SymbolMap
	cfg     config.RedditConfig

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewRedditCollector(cfg config.RedditConfig, symbols *config.SymbolMap, opts ...Option) *RedditCollector {
	if symbols == nil {
		symbols = config.DefaultSymbolMap()
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "futuresfunk/1.0"
	}
	newHTTP := func(baseURL string) *resty.Client {
		return resty.New().
			SetBaseURL(baseURL).
			SetTimeout(15*time.Second).
			SetHeader("User-Agent", userAgent).
			SetHeader("Accept", "application/json")
	}
	return &RedditCollector{
		baseCollector: newBaseCollector(sentiment.SourceReddit, opts...),
		auth:          newHTTP(redditAuthURL),
		api:           newHTTP(redditAPIURL),
		limiter:       rate.NewLimiter(rate.Every(redditRequestInterval), redditBurst),
		symbols:       symbols,
		cfg:           cfg,
	}
}

type redditTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
}

// ensureToken fetches or refreshes the application-only OAuth token.
func (c *RedditCollector) ensureToken(ctx context.Context) error {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token != "" && time.Until(c.tokenExpiry) > redditTokenMargin {
		return nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var tok redditTokenResponse
	if err := c.guard(func() error {
		resp, err := c.auth.R().
			SetContext(ctx).
			SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret).
			SetFormData(map[string]string{"grant_type": "client_credentials"}).
			SetResult(&tok).
			Post("/api/v1/access_token")
		if err != nil {
			return fmt.Errorf("failed to request reddit token: %w", err)
		}
		if resp.IsError() || tok.AccessToken == "" {
			reason := tok.Error
			if reason == "" {
				reason = fmt.Sprintf("status %d", resp.StatusCode())
			}
			return fmt.Errorf("reddit token request rejected: %s", reason)
		}
		return nil
	}); err != nil {
		return err
	}

	c.token = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return nil
}

func (c *RedditCollector) currentToken() string {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	return c.token
}

// Initialize verifies the credentials by fetching an OAuth token.
func (c *RedditCollector) Initialize(ctx context.Context) bool {
	if !c.cfg.Enabled() {
		log.Warn().Msg("Reddit credentials not configured, collector disabled")
		c.setEnabled(false)
		return false
	}
	if err := c.ensureToken(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to initialize Reddit collector")
		c.setEnabled(false)
		return false
	}
	c.setEnabled(true)
	log.Info().Msg("Reddit collector initialized")
	return true
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	Author      string  `json:"author"`
	Permalink   string  `json:"permalink"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	UpvoteRatio float64 `json:"upvote_ratio"`
	Awards      int     `json:"total_awards_received"`
	CreatedUTC  float64 `json:"created_utc"`
}

// Collect walks the trading subreddits until limit items are in hand. A
// failing subreddit is skipped; dedup runs across all of them.
func (c *RedditCollector) Collect(ctx context.Context, symbol string, limit int) []sentiment.Observation {
	if !c.Enabled() {
		return nil
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if err := c.ensureToken(ctx); err != nil {
		log.Warn().Err(err).Msg("Reddit token refresh failed")
		metrics.RecordCollectorError(string(sentiment.SourceReddit))
		return nil
	}

	terms := c.symbols.Terms(symbol, "reddit")
	query := strings.Join(terms, " OR ")

	seen := make(map[string]bool)
	observations := make([]sentiment.Observation, 0, limit)
	for _, subreddit := range TradingSubreddits {
		if len(observations) >= limit {
			break
		}
		obs, err := c.collectSubreddit(ctx, subreddit, query, terms, symbol, limit-len(observations), seen)
		if err != nil {
			log.Warn().Err(err).Str("subreddit", subreddit).Msg("Subreddit collection failed")
			continue
		}
		observations = append(observations, obs...)
	}

	c.markCollected()
	metrics.RecordCollectedItems(string(sentiment.SourceReddit), len(observations))
	log.Debug().Str("symbol", symbol).Int("count", len(observations)).Msg("Collected reddit posts")
	return observations
}

func (c *RedditCollector) collectSubreddit(ctx context.Context, subreddit, query string, terms []string, symbol string, remaining int, seen map[string]bool) ([]sentiment.Observation, error) {
	var observations []sentiment.Observation

	searched, err := c.search(ctx, subreddit, query, min(redditSearchCap, remaining))
	if err != nil {
		return nil, err
	}
	for _, post := range searched {
		if seen[post.ID] {
			continue
		}
		seen[post.ID] = true
		observations = append(observations, observationFromPost(post, subreddit, symbol))
	}
	if len(observations) >= remaining {
		return observations, nil
	}

	// The hot page catches ticker chatter the search index lags on
	hot, err := c.hot(ctx, subreddit, redditHotScanLimit)
	if err != nil {
		return nil, err
	}
	for _, post := range hot {
		if len(observations) >= remaining {
			break
		}
		if seen[post.ID] || !mentionsAny(post.Title+" "+post.Selftext, terms) {
			continue
		}
		seen[post.ID] = true
		observations = append(observations, observationFromPost(post, subreddit, symbol))
	}
	return observations, nil
}

func (c *RedditCollector) search(ctx context.Context, subreddit, query string, limit int) ([]redditPost, error) {
	return c.listing(ctx, "/r/"+subreddit+"/search", map[string]string{
		"q":           query,
		"sort":        "hot",
		"t":           "day",
		"limit":       strconv.Itoa(limit),
		"restrict_sr": "true",
	})
}

func (c *RedditCollector) hot(ctx context.Context, subreddit string, limit int) ([]redditPost, error) {
	return c.listing(ctx, "/r/"+subreddit+"/hot", map[string]string{
		"limit": strconv.Itoa(limit),
	})
}

func (c *RedditCollector) listing(ctx context.Context, path string, params map[string]string) ([]redditPost, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var listing redditListing
	if err := c.guard(func() error {
		resp, err := c.api.R().
			SetContext(ctx).
			SetAuthToken(c.currentToken()).
			SetQueryParams(params).
			SetResult(&listing).
			Get(path)
		if err != nil {
			return fmt.Errorf("request %s failed: %w", path, err)
		}
		if resp.IsError() {
			return fmt.Errorf("%s returned status %d", path, resp.StatusCode())
		}
		return nil
	}); err != nil {
		return nil, err
	}

	posts := make([]redditPost, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		posts = append(posts, child.Data)
	}
	return posts, nil
}

func observationFromPost(post redditPost, subreddit, symbol string) sentiment.Observation {
	text := post.Title
	if post.Selftext != "" {
		body := post.Selftext
		if len(body) > redditSelftextLimit {
			body = body[:redditSelftextLimit]
		}
		text += "\n\n" + body
	}

	author := post.Author
	if author == "" {
		author = "[deleted]"
	}

	ts := time.Now().UTC()
	if post.CreatedUTC > 0 {
		ts = time.Unix(int64(post.CreatedUTC), 0).UTC()
	}

	// Upvote ratio scales raw engagement: a controversial 50/50 post
	// counts half as much as a unanimous one.
	raw := float64(post.Score) + 2*float64(post.NumComments) + 5*float64(post.Awards)
	quality := 0.5 + post.UpvoteRatio*0.5

	return sentiment.Observation{
		Source:     sentiment.SourceReddit,
		Symbol:     symbol,
		Text:       text,
		Author:     author,
		URL:        "https://reddit.com" + post.Permalink,
		Engagement: engagementScale(raw*quality, 12),
		Timestamp:  ts,
		Metadata: map[string]string{
			"post_id":      post.ID,
			"subreddit":    subreddit,
			"score":        strconv.Itoa(post.Score),
			"num_comments": strconv.Itoa(post.NumComments),
			"upvote_ratio": strconv.FormatFloat(post.UpvoteRatio, 'f', -1, 64),
			"is_post":      "true",
		},
	}
}

// mentionsAny reports whether text contains any term, case-insensitively.
func mentionsAny(text string, terms []string) bool {
	lower := strings.ToLower(text)
	for _, term := range terms {
		if strings.Contains(lower, strings.ToLower(term)) {
			return true
		}
	}
	return false
}
