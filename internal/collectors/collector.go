// Package collectors gathers raw market chatter from social and news APIs
// and normalizes it into sentiment observations for scoring. Each collector
// wraps one upstream API, owns its own rate limiter, and degrades to an
// empty result on failure so one dead feed never stalls the others.
package collectors

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/ajitpratap0/futuresfunk/internal/risk"
	"github.com/ajitpratap0/futuresfunk/internal/sentiment"
)

// defaultLimit caps a single collection pass when the caller does not say
// how many items it wants.
const defaultLimit = 50

// Collector is one upstream data feed.
type Collector interface {
	// Source identifies the feed in observations and metrics labels.
	Source() sentiment.Source

	// Initialize verifies credentials and marks the collector enabled.
	// Returns false when the feed is not configured or unreachable.
	Initialize(ctx context.Context) bool

	// Collect fetches up to limit recent items mentioning the symbol.
	// Failures are logged and produce an empty slice, never an error.
	Collect(ctx context.Context, symbol string, limit int) []sentiment.Observation

	// Enabled reports whether Initialize succeeded.
	Enabled() bool

	// LastCollectTime is the UTC time of the last successful pass.
	LastCollectTime() time.Time

	// Stats summarizes collector health for the status endpoints.
	Stats() Stats
}

// Stats is a point-in-time health snapshot of one collector.
type Stats struct {
	Source      sentiment.Source `json:"source"`
	Enabled     bool             `json:"enabled"`
	LastCollect time.Time        `json:"last_collect_time"`
}

// baseCollector carries the state shared by every collector implementation.
type baseCollector struct {
	source  sentiment.Source
	breaker *risk.Breaker

	mu          sync.Mutex
	enabled     bool
	lastCollect time.Time
}

// Option customizes collector construction.
type Option func(*baseCollector)

// WithBreaker overrides the default backend circuit breaker, letting
// the caller attach open-state hooks or tighter thresholds.
func WithBreaker(b *risk.Breaker) Option {
	return func(c *baseCollector) {
		if b != nil {
			c.breaker = b
		}
	}
}

func newBaseCollector(source sentiment.Source, opts ...Option) baseCollector {
	c := baseCollector{
		source:  source,
		breaker: risk.NewBreaker(string(source)+"-api", risk.CollectorBreakerSettings),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (b *baseCollector) Source() sentiment.Source { return b.source }

func (b *baseCollector) Enabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enabled
}

func (b *baseCollector) LastCollectTime() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastCollect
}

func (b *baseCollector) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{Source: b.source, Enabled: b.enabled, LastCollect: b.lastCollect}
}

func (b *baseCollector) setEnabled(enabled bool) {
	b.mu.Lock()
	b.enabled = enabled
	b.mu.Unlock()
}

// markCollected records a successful collection pass.
func (b *baseCollector) markCollected() {
	b.mu.Lock()
	b.lastCollect = time.Now().UTC()
	b.mu.Unlock()
}

// guard routes one backend exchange through the collector's circuit
// breaker. While the breaker is open the exchange is skipped entirely,
// so a failing API stops consuming request quota.
func (b *baseCollector) guard(fn func() error) error {
	if b.breaker == nil {
		return fn()
	}
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// engagementScale maps a raw engagement count onto [0, 1] with logarithmic
// damping so a single viral item cannot dominate the weighted aggregate.
// Negative counts (downvoted posts) clamp to zero rather than feeding
// log1p a value below -1.
func engagementScale(raw, divisor float64) float64 {
	if raw < 0 {
		raw = 0
	}
	return math.Min(1, math.Log1p(raw)/divisor)
}
