package risk

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Breaker thresholds tuned per dependency class. Model outages tend to
// last minutes, so that breaker stays open longest between probes.
// Collector backends are quota-bound: once one starts failing, the
// breaker stops burning request budget on it for a while.
var (
	ModelBreakerSettings = BreakerSettings{
		MinRequests:     3,
		FailureRatio:    0.6,
		OpenTimeout:     60 * time.Second,
		HalfOpenMaxReqs: 2,
		CountInterval:   10 * time.Second,
	}

	CollectorBreakerSettings = BreakerSettings{
		MinRequests:     5,
		FailureRatio:    0.6,
		OpenTimeout:     2 * time.Minute,
		HalfOpenMaxReqs: 2,
		CountInterval:   time.Minute,
	}
)

// BreakerSettings holds the trip thresholds for one breaker.
type BreakerSettings struct {
	MinRequests     uint32
	FailureRatio    float64
	OpenTimeout     time.Duration
	HalfOpenMaxReqs uint32
	CountInterval   time.Duration
}

type breakerMetrics struct {
	state    *prometheus.GaugeVec
	requests *prometheus.CounterVec
	failures *prometheus.CounterVec
}

var (
	sharedBreakerMetrics *breakerMetrics
	breakerMetricsOnce   sync.Once
)

// getBreakerMetrics registers the shared collectors exactly once; every
// breaker reports under its own service label.
func getBreakerMetrics() *breakerMetrics {
	breakerMetricsOnce.Do(func() {
		sharedBreakerMetrics = &breakerMetrics{
			state: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "circuit_breaker_state",
					Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
				},
				[]string{"service"},
			),
			requests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "circuit_breaker_requests_total",
					Help: "Total number of requests through circuit breaker",
				},
				[]string{"service", "result"},
			),
			failures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "circuit_breaker_failures_total",
					Help: "Total number of failures tracked by circuit breaker",
				},
				[]string{"service"},
			),
		}
	})
	return sharedBreakerMetrics
}

// Breaker wraps a gobreaker circuit breaker with state metrics, state
// change logging and an optional open-state hook for alerting.
type Breaker struct {
	cb      *gobreaker.CircuitBreaker
	metrics *breakerMetrics
	onOpen  func(name string)
}

// BreakerOption customizes breaker construction.
type BreakerOption func(*Breaker)

// WithOnOpen registers a hook invoked whenever the breaker transitions
// to the open state.
func WithOnOpen(fn func(name string)) BreakerOption {
	return func(b *Breaker) { b.onOpen = fn }
}

// NewBreaker creates a named circuit breaker with the given thresholds.
func NewBreaker(name string, settings BreakerSettings, opts ...BreakerOption) *Breaker {
	b := &Breaker{metrics: getBreakerMetrics()}
	for _, opt := range opts {
		opt(b)
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: settings.HalfOpenMaxReqs,
		Interval:    settings.CountInterval,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= settings.MinRequests && failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
			b.metrics.state.WithLabelValues(name).Set(breakerStateValue(to))
			if to == gobreaker.StateOpen && b.onOpen != nil {
				b.onOpen(name)
			}
		},
	})
	b.metrics.state.WithLabelValues(name).Set(breakerStateValue(b.cb.State()))

	return b
}

// Execute runs fn through the breaker and records the outcome. While
// the breaker is open, fn is not invoked and gobreaker.ErrOpenState is
// returned.
func (b *Breaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	out, err := b.cb.Execute(fn)

	result := "success"
	if err != nil {
		result = "failure"
		b.metrics.failures.WithLabelValues(b.cb.Name()).Inc()
	}
	b.metrics.requests.WithLabelValues(b.cb.Name(), result).Inc()

	return out, err
}

// Name returns the breaker's configured name.
func (b *Breaker) Name() string { return b.cb.Name() }

// State returns the current gobreaker state.
func (b *Breaker) State() gobreaker.State { return b.cb.State() }

// Open reports whether the breaker is currently rejecting requests.
func (b *Breaker) Open() bool { return b.cb.State() == gobreaker.StateOpen }

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
