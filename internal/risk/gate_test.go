package risk

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/futuresfunk/internal/alerts"
	"github.com/ajitpratap0/futuresfunk/internal/clock"
	"github.com/ajitpratap0/futuresfunk/internal/config"
	"github.com/ajitpratap0/futuresfunk/internal/events"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		AccountSize:     10000,
		RiskPerTradePct: 1.0,
		MaxDailyLoss:    500,
		MaxTradesPerDay: 10,
		MaxPositionSize: 5,
	}
}

func newTestGate(t *testing.T) (*Gate, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 6, 3, 14, 30, 0, 0, time.UTC))
	return NewGate(testRiskConfig(), nil, WithClock(clk)), clk
}

// recordingAlerter captures alerts for assertion.
type recordingAlerter struct {
	mu     sync.Mutex
	alerts []alerts.Alert
}

func (r *recordingAlerter) Send(_ context.Context, a alerts.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recordingAlerter) sent() []alerts.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]alerts.Alert(nil), r.alerts...)
}

func drainKillEvents(sub *events.Subscription) []events.KillSwitch {
	var out []events.KillSwitch
	for {
		select {
		case ev := <-sub.C:
			if ks, ok := ev.(events.KillSwitch); ok {
				out = append(out, ks)
			}
		default:
			return out
		}
	}
}

func TestGateCanTrade(t *testing.T) {
	t.Run("allows under limits", func(t *testing.T) {
		gate, _ := newTestGate(t)

		allowed, reason := gate.CanTrade()
		assert.True(t, allowed)
		assert.Empty(t, reason)
	})

	t.Run("blocks when killed", func(t *testing.T) {
		gate, _ := newTestGate(t)
		gate.Kill("maintenance")

		allowed, reason := gate.CanTrade()
		assert.False(t, allowed)
		assert.Equal(t, "Kill switch activated - trading disabled", reason)
	})

	t.Run("blocks at daily loss limit", func(t *testing.T) {
		gate, _ := newTestGate(t)
		gate.CanTrade() // pin the accounting day
		gate.RecordTrade(-500)
		gate.Resume() // clear the latch so the loss check itself is observed

		allowed, reason := gate.CanTrade()
		assert.False(t, allowed)
		assert.Equal(t, "Daily loss limit reached: $500.00", reason)
	})

	t.Run("blocks at max daily trades", func(t *testing.T) {
		cfg := testRiskConfig()
		cfg.MaxTradesPerDay = 2
		clk := clock.NewFake(time.Date(2025, 6, 3, 14, 30, 0, 0, time.UTC))
		gate := NewGate(cfg, nil, WithClock(clk))

		gate.CanTrade()
		gate.RecordTrade(25)
		gate.RecordTrade(10)

		allowed, reason := gate.CanTrade()
		assert.False(t, allowed)
		assert.Equal(t, "Max daily trades reached: 2", reason)
	})

	t.Run("first check initializes the accounting day", func(t *testing.T) {
		gate, _ := newTestGate(t)

		// P&L recorded before any gate check belongs to no accounting
		// day and is wiped by the first check.
		gate.RecordTrade(-600)

		allowed, reason := gate.CanTrade()
		assert.True(t, allowed)
		assert.Empty(t, reason)
		assert.Zero(t, gate.Stats().DailyPnL)
	})
}

func TestGateCalculateSizing(t *testing.T) {
	gate, _ := newTestGate(t)

	tests := []struct {
		confidence float64
		want       int
	}{
		{0.54, 0},
		{0.55, 1},
		{0.64, 1},
		{0.65, 2},
		{0.75, 3},
		{0.85, 4},
		{0.94, 4},
		{0.95, 5},
		{0.99, 5},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("confidence %.2f", tt.confidence), func(t *testing.T) {
			params := gate.Calculate(tt.confidence, 0, 0)
			require.True(t, params.CanTrade)
			assert.Equal(t, tt.want, params.PositionSize)
		})
	}

	t.Run("capped by max position size", func(t *testing.T) {
		cfg := testRiskConfig()
		cfg.MaxPositionSize = 3
		capped := NewGate(cfg, nil, WithClock(clock.NewFake(time.Date(2025, 6, 3, 14, 30, 0, 0, time.UTC))))

		params := capped.Calculate(0.99, 0, 0)
		assert.Equal(t, 3, params.PositionSize)
	})
}

func TestGateCalculateVolatilityAdjustment(t *testing.T) {
	gate, _ := newTestGate(t)
	const price = 20000.0

	t.Run("very high volatility halves", func(t *testing.T) {
		params := gate.Calculate(0.99, 500, price) // 2.5% of price
		assert.Equal(t, 2, params.PositionSize)
	})

	t.Run("high volatility trims to three quarters", func(t *testing.T) {
		params := gate.Calculate(0.99, 300, price) // 1.5% of price
		assert.Equal(t, 3, params.PositionSize)
	})

	t.Run("normal volatility keeps base", func(t *testing.T) {
		params := gate.Calculate(0.99, 100, price) // 0.5% of price
		assert.Equal(t, 5, params.PositionSize)
	})

	t.Run("halving never drops a live signal below one", func(t *testing.T) {
		params := gate.Calculate(0.60, 500, price)
		assert.Equal(t, 1, params.PositionSize)
	})

	t.Run("refused tier stays zero", func(t *testing.T) {
		params := gate.Calculate(0.50, 500, price)
		assert.Equal(t, 0, params.PositionSize)
	})

	t.Run("no price means no adjustment", func(t *testing.T) {
		params := gate.Calculate(0.99, 500, 0)
		assert.Equal(t, 5, params.PositionSize)
	})
}

func TestGateCalculateRiskParameters(t *testing.T) {
	gate, _ := newTestGate(t)

	t.Run("max loss scales with confidence", func(t *testing.T) {
		params := gate.Calculate(0.8, 0, 0)
		// 10000 * 1% * 0.8
		assert.InDelta(t, 80.0, params.MaxLossPerTrade, 1e-9)
	})

	t.Run("volatility drives stop and target", func(t *testing.T) {
		params := gate.Calculate(0.8, 40, 20000)
		assert.InDelta(t, 60.0, params.StopDistance, 1e-9)
		assert.InDelta(t, 80.0, params.TargetDistance, 1e-9)
		assert.InDelta(t, 80.0/60.0, params.RiskRewardRatio, 1e-9)
	})

	t.Run("price fallback without volatility", func(t *testing.T) {
		params := gate.Calculate(0.8, 0, 5000)
		assert.InDelta(t, 25.0, params.StopDistance, 1e-9)
		assert.InDelta(t, 50.0, params.TargetDistance, 1e-9)
		assert.InDelta(t, 2.0, params.RiskRewardRatio, 1e-9)
	})

	t.Run("default price fallback", func(t *testing.T) {
		params := gate.Calculate(0.8, 0, 0)
		assert.InDelta(t, 0.5, params.StopDistance, 1e-9)
		assert.InDelta(t, 1.0, params.TargetDistance, 1e-9)
	})

	t.Run("blocked gate zeroes everything", func(t *testing.T) {
		blocked, _ := newTestGate(t)
		blocked.Kill("halted")

		params := blocked.Calculate(0.99, 40, 20000)
		assert.False(t, params.CanTrade)
		assert.Equal(t, "Kill switch activated - trading disabled", params.Reason)
		assert.Zero(t, params.PositionSize)
		assert.Zero(t, params.MaxLossPerTrade)
		assert.Zero(t, params.StopDistance)
		assert.Zero(t, params.TargetDistance)
		assert.Zero(t, params.RiskRewardRatio)
	})
}

func TestGateRecordTrade(t *testing.T) {
	t.Run("accumulates pnl and trade count", func(t *testing.T) {
		gate, _ := newTestGate(t)
		gate.CanTrade()

		gate.RecordTrade(100)
		gate.RecordTrade(-50)

		stats := gate.Stats()
		assert.InDelta(t, 50.0, stats.DailyPnL, 1e-9)
		assert.Equal(t, 2, stats.DailyTrades)
		assert.InDelta(t, 550.0, stats.RemainingLossBudget, 1e-9)
		assert.Equal(t, 8, stats.RemainingTrades)
		assert.False(t, stats.Killed)
	})

	t.Run("loss breach latches the kill switch", func(t *testing.T) {
		recorder := &recordingAlerter{}
		bus := events.NewBus()
		defer bus.Close()
		sub := bus.Subscribe(events.KindKillSwitch)

		clk := clock.NewFake(time.Date(2025, 6, 3, 14, 30, 0, 0, time.UTC))
		gate := NewGate(testRiskConfig(), bus, WithClock(clk), WithAlerts(alerts.NewManager(recorder)))
		gate.CanTrade()

		gate.RecordTrade(-600)

		stats := gate.Stats()
		assert.True(t, stats.Killed)
		assert.Equal(t, "Daily loss limit breached: $600.00", stats.KillReason)

		allowed, reason := gate.CanTrade()
		assert.False(t, allowed)
		assert.Equal(t, "Kill switch activated - trading disabled", reason)

		killEvents := drainKillEvents(sub)
		require.Len(t, killEvents, 1)
		assert.True(t, killEvents[0].Engaged)
		assert.Equal(t, "Daily loss limit breached: $600.00", killEvents[0].Reason)
		assert.Equal(t, clk.Now().UTC(), killEvents[0].Timestamp)

		sent := recorder.sent()
		require.Len(t, sent, 1)
		assert.Equal(t, alerts.SeverityCritical, sent[0].Severity)
		assert.Equal(t, "Kill Switch Engaged", sent[0].Title)
	})

	t.Run("further losses do not re-fire the latch", func(t *testing.T) {
		bus := events.NewBus()
		defer bus.Close()
		sub := bus.Subscribe(events.KindKillSwitch)

		gate := NewGate(testRiskConfig(), bus, WithClock(clock.NewFake(time.Date(2025, 6, 3, 14, 30, 0, 0, time.UTC))))
		gate.CanTrade()

		gate.RecordTrade(-600)
		gate.RecordTrade(-100)

		assert.Len(t, drainKillEvents(sub), 1)
		assert.InDelta(t, -700.0, gate.Stats().DailyPnL, 1e-9)
		assert.Equal(t, 2, gate.Stats().DailyTrades)
	})
}

func TestGateKillResume(t *testing.T) {
	t.Run("kill stores reason and notifies once", func(t *testing.T) {
		recorder := &recordingAlerter{}
		bus := events.NewBus()
		defer bus.Close()
		sub := bus.Subscribe(events.KindKillSwitch)

		gate := NewGate(testRiskConfig(), bus,
			WithClock(clock.NewFake(time.Date(2025, 6, 3, 14, 30, 0, 0, time.UTC))),
			WithAlerts(alerts.NewManager(recorder)),
		)

		gate.Kill("fat finger")
		gate.Kill("fat finger")

		stats := gate.Stats()
		assert.True(t, stats.Killed)
		assert.Equal(t, "fat finger", stats.KillReason)

		killEvents := drainKillEvents(sub)
		require.Len(t, killEvents, 1)
		assert.True(t, killEvents[0].Engaged)
		assert.Equal(t, "fat finger", killEvents[0].Reason)
		assert.Len(t, recorder.sent(), 1)
	})

	t.Run("empty reason records a manual stop", func(t *testing.T) {
		gate, _ := newTestGate(t)
		gate.Kill("")
		assert.Equal(t, "Manual kill switch", gate.Stats().KillReason)
	})

	t.Run("resume clears the latch", func(t *testing.T) {
		bus := events.NewBus()
		defer bus.Close()
		sub := bus.Subscribe(events.KindKillSwitch)

		gate := NewGate(testRiskConfig(), bus, WithClock(clock.NewFake(time.Date(2025, 6, 3, 14, 30, 0, 0, time.UTC))))
		gate.Kill("halt")
		drainKillEvents(sub)

		gate.Resume()

		allowed, _ := gate.CanTrade()
		assert.True(t, allowed)

		stats := gate.Stats()
		assert.False(t, stats.Killed)
		assert.Empty(t, stats.KillReason)

		killEvents := drainKillEvents(sub)
		require.Len(t, killEvents, 1)
		assert.False(t, killEvents[0].Engaged)
		assert.Equal(t, "manual resume", killEvents[0].Reason)
	})

	t.Run("resume does not clear a breached loss limit", func(t *testing.T) {
		gate, _ := newTestGate(t)
		gate.CanTrade()
		gate.RecordTrade(-600)

		gate.Resume()

		allowed, reason := gate.CanTrade()
		assert.False(t, allowed)
		assert.Equal(t, "Daily loss limit reached: $600.00", reason)
	})

	t.Run("resume when not killed publishes nothing", func(t *testing.T) {
		bus := events.NewBus()
		defer bus.Close()
		sub := bus.Subscribe(events.KindKillSwitch)

		gate := NewGate(testRiskConfig(), bus, WithClock(clock.NewFake(time.Date(2025, 6, 3, 14, 30, 0, 0, time.UTC))))
		gate.Resume()

		assert.Empty(t, drainKillEvents(sub))
	})
}

func TestGateDayRollover(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	sub := bus.Subscribe(events.KindKillSwitch)

	clk := clock.NewFake(time.Date(2025, 6, 3, 14, 30, 0, 0, time.UTC))
	gate := NewGate(testRiskConfig(), bus, WithClock(clk))

	gate.CanTrade()
	gate.RecordTrade(-600)
	drainKillEvents(sub)

	allowed, _ := gate.CanTrade()
	require.False(t, allowed)

	clk.Advance(24 * time.Hour)

	allowed, reason := gate.CanTrade()
	assert.True(t, allowed)
	assert.Empty(t, reason)

	stats := gate.Stats()
	assert.Equal(t, "2025-06-04", stats.Date)
	assert.Zero(t, stats.DailyPnL)
	assert.Zero(t, stats.DailyTrades)
	assert.False(t, stats.Killed)
	assert.Empty(t, stats.KillReason)

	killEvents := drainKillEvents(sub)
	require.Len(t, killEvents, 1)
	assert.False(t, killEvents[0].Engaged)
	assert.Equal(t, "daily reset", killEvents[0].Reason)
}

func TestGateStats(t *testing.T) {
	gate, _ := newTestGate(t)

	stats := gate.Stats()
	assert.Empty(t, stats.Date)
	assert.InDelta(t, 500.0, stats.MaxDailyLoss, 1e-9)
	assert.Equal(t, 10, stats.MaxTradesPerDay)
	assert.InDelta(t, 500.0, stats.RemainingLossBudget, 1e-9)
	assert.Equal(t, 10, stats.RemainingTrades)

	gate.CanTrade()
	assert.Equal(t, "2025-06-03", gate.Stats().Date)
}

func TestGateSerializesAccounting(t *testing.T) {
	gate, _ := newTestGate(t)
	gate.CanTrade() // pin the accounting day before concurrent recording

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gate.RecordTrade(1)
			gate.CanTrade()
		}()
	}
	wg.Wait()

	stats := gate.Stats()
	assert.InDelta(t, 20.0, stats.DailyPnL, 1e-9)
	assert.Equal(t, 20, stats.DailyTrades)
}
