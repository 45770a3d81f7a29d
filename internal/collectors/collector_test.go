package collectors

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/futuresfunk/internal/config"
	"github.com/ajitpratap0/futuresfunk/internal/sentiment"
)

func writeJSON(t *testing.T, w http.ResponseWriter, payload any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(payload))
}

// requestLog records request paths; news backends hit the test server
// concurrently, hence the mutex.
type requestLog struct {
	mu    sync.Mutex
	paths []string
}

func (l *requestLog) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l.mu.Lock()
		l.paths = append(l.paths, r.URL.Path)
		l.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (l *requestLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.paths...)
}

func TestEngagementScale(t *testing.T) {
	tests := []struct {
		name    string
		raw     float64
		divisor float64
		want    float64
	}{
		{"zero engagement", 0, 10, 0},
		{"downvoted post clamps to zero", -37.5, 12, 0},
		{"viral post caps at one", 1e6, 10, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, engagementScale(tt.raw, tt.divisor))
		})
	}
}

func TestCollectorStats(t *testing.T) {
	c := NewTwitterCollector(config.TwitterConfig{BearerToken: "tok"}, nil)

	stats := c.Stats()
	assert.Equal(t, sentiment.SourceTwitter, stats.Source)
	assert.False(t, stats.Enabled)
	assert.True(t, stats.LastCollect.IsZero())

	require.True(t, c.Initialize(context.Background()))
	c.markCollected()

	stats = c.Stats()
	assert.True(t, stats.Enabled)
	assert.WithinDuration(t, time.Now().UTC(), stats.LastCollect, time.Second)
}
