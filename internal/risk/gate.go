// Package risk enforces the trading guardrails: daily loss and trade
// budgets behind a kill-switch latch, confidence-scaled position
// sizing, and circuit breakers around external dependencies.
package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/futuresfunk/internal/alerts"
	"github.com/ajitpratap0/futuresfunk/internal/clock"
	"github.com/ajitpratap0/futuresfunk/internal/config"
	"github.com/ajitpratap0/futuresfunk/internal/events"
	"github.com/ajitpratap0/futuresfunk/internal/metrics"
)

// Stop and target distances default to ATR multiples; without a
// volatility reading they fall back to fractions of price.
const (
	stopATRMultiple   = 1.5
	targetATRMultiple = 2.0
	fallbackStopPct   = 0.005
	fallbackTargetPct = 0.01
	fallbackPrice     = 100.0
)

// Parameters sizes one prospective trade. A refused gate check yields
// the zero value with CanTrade false and the blocking reason.
type Parameters struct {
	PositionSize    int     `json:"position_size"`
	MaxLossPerTrade float64 `json:"max_loss_per_trade"`
	StopDistance    float64 `json:"stop_distance"`
	TargetDistance  float64 `json:"target_distance"`
	RiskRewardRatio float64 `json:"risk_reward_ratio"`
	CanTrade        bool    `json:"can_trade"`
	Reason          string  `json:"reason,omitempty"`
}

// Stats is a snapshot of the gate's daily accounting.
type Stats struct {
	Date                string  `json:"date"`
	DailyPnL            float64 `json:"daily_pnl"`
	DailyTrades         int     `json:"daily_trades"`
	MaxDailyLoss        float64 `json:"max_daily_loss"`
	MaxTradesPerDay     int     `json:"max_trades_per_day"`
	Killed              bool    `json:"killed"`
	KillReason          string  `json:"kill_reason,omitempty"`
	RemainingLossBudget float64 `json:"remaining_loss_budget"`
	RemainingTrades     int     `json:"remaining_trades"`
}

// Gate tracks realized P&L and trade count for the current UTC day and
// decides whether new entries are allowed. It is process-wide: every
// method serializes on one mutex so recorded fills and gate checks
// always observe a consistent day.
type Gate struct {
	cfg    config.RiskConfig
	clk    clock.Clock
	bus    *events.Bus
	alerts *alerts.Manager

	mu          sync.Mutex
	date        string
	dailyPnL    float64
	dailyTrades int
	killed      bool
	killReason  string
}

// GateOption customizes gate construction.
type GateOption func(*Gate)

// WithClock overrides the wall clock, pinning the UTC day boundary in
// tests.
func WithClock(c clock.Clock) GateOption {
	return func(g *Gate) {
		if c != nil {
			g.clk = c
		}
	}
}

// WithAlerts routes kill-switch engagements to the alert manager.
func WithAlerts(m *alerts.Manager) GateOption {
	return func(g *Gate) { g.alerts = m }
}

// NewGate creates a risk gate. Kill-switch transitions are published on
// the bus when one is provided.
func NewGate(cfg config.RiskConfig, bus *events.Bus, opts ...GateOption) *Gate {
	g := &Gate{
		cfg: cfg,
		clk: clock.System(),
		bus: bus,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CanTrade reports whether a new entry is currently allowed. The first
// check of each UTC day resets the daily counters and clears the
// kill-switch latch before the limits are evaluated.
func (g *Gate) CanTrade() (bool, string) {
	return g.check()
}

// Calculate sizes a prospective trade from signal confidence and, when
// available, current volatility (ATR) and price. Zero volatility or
// price means the reading is absent.
func (g *Gate) Calculate(confidence, volatility, price float64) Parameters {
	allowed, reason := g.check()
	if !allowed {
		return Parameters{Reason: reason}
	}

	size := baseSize(confidence, g.cfg.MaxPositionSize)
	if volatility > 0 && price > 0 {
		size = adjustForVolatility(size, volatility, price)
	}

	maxLoss := g.cfg.AccountSize * g.cfg.RiskPerTradePct / 100 * confidence

	var stop, target float64
	if volatility > 0 {
		stop = volatility * stopATRMultiple
		target = volatility * targetATRMultiple
	} else {
		ref := price
		if ref <= 0 {
			ref = fallbackPrice
		}
		stop = ref * fallbackStopPct
		target = ref * fallbackTargetPct
	}

	var riskReward float64
	if stop > 0 {
		riskReward = target / stop
	}

	return Parameters{
		PositionSize:    size,
		MaxLossPerTrade: maxLoss,
		StopDistance:    stop,
		TargetDistance:  target,
		RiskRewardRatio: riskReward,
		CanTrade:        true,
	}
}

// RecordTrade books the realized P&L of a completed trade against the
// daily budget and counts it toward the trade limit. Breaching the
// daily loss limit latches the kill switch.
func (g *Gate) RecordTrade(pnl float64) {
	g.mu.Lock()
	g.dailyTrades++
	g.dailyPnL += pnl
	dailyPnL := g.dailyPnL
	dailyTrades := g.dailyTrades

	var latched bool
	if dailyPnL <= -g.cfg.MaxDailyLoss && !g.killed {
		g.killed = true
		g.killReason = fmt.Sprintf("Daily loss limit breached: $%.2f", math.Abs(dailyPnL))
		latched = true
	}
	reason := g.killReason
	now := g.clk.Now().UTC()
	g.mu.Unlock()

	log.Info().
		Float64("pnl", pnl).
		Float64("daily_pnl", dailyPnL).
		Int("daily_trades", dailyTrades).
		Msg("Trade recorded")

	metrics.RecordTrade(pnl)
	metrics.UpdateDailyRisk(dailyPnL, dailyTrades)

	if latched {
		log.Warn().
			Float64("daily_pnl", dailyPnL).
			Msg("Daily loss limit breached - activating kill switch")
		g.engageKill(reason, dailyPnL, dailyTrades, now)
	}
}

// Kill latches the kill switch. The reason is kept for Stats and the
// /kill endpoint; an empty reason records a manual stop.
func (g *Gate) Kill(reason string) {
	if reason == "" {
		reason = "Manual kill switch"
	}

	g.mu.Lock()
	engaged := !g.killed
	g.killed = true
	g.killReason = reason
	dailyPnL := g.dailyPnL
	dailyTrades := g.dailyTrades
	now := g.clk.Now().UTC()
	g.mu.Unlock()

	log.Warn().Str("reason", reason).Msg("Kill switch activated")
	if engaged {
		g.engageKill(reason, dailyPnL, dailyTrades, now)
	}
}

// Resume clears the kill-switch latch. Daily counters are untouched, so
// a breached loss limit keeps blocking until the UTC day rolls over.
func (g *Gate) Resume() {
	g.mu.Lock()
	resumed := g.killed
	g.killed = false
	g.killReason = ""
	now := g.clk.Now().UTC()
	g.mu.Unlock()

	log.Info().Msg("Trading resumed - kill switch deactivated")
	metrics.UpdateKillSwitch(false)
	if resumed {
		g.publish(events.KillSwitch{Engaged: false, Reason: "manual resume", Timestamp: now})
	}
}

// MaxPositionSize is the configured per-trade contract cap.
func (g *Gate) MaxPositionSize() int {
	return g.cfg.MaxPositionSize
}

// Stats snapshots the current accounting day. It never rolls the day
// forward; only gate checks do that.
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		Date:                g.date,
		DailyPnL:            g.dailyPnL,
		DailyTrades:         g.dailyTrades,
		MaxDailyLoss:        g.cfg.MaxDailyLoss,
		MaxTradesPerDay:     g.cfg.MaxTradesPerDay,
		Killed:              g.killed,
		KillReason:          g.killReason,
		RemainingLossBudget: g.cfg.MaxDailyLoss + g.dailyPnL,
		RemainingTrades:     g.cfg.MaxTradesPerDay - g.dailyTrades,
	}
}

func (g *Gate) check() (bool, string) {
	g.mu.Lock()
	reset, unkilled := g.rollDayLocked()
	allowed, reason := g.allowedLocked()
	now := g.clk.Now().UTC()
	g.mu.Unlock()

	if reset {
		metrics.UpdateDailyRisk(0, 0)
	}
	if unkilled {
		metrics.UpdateKillSwitch(false)
		g.publish(events.KillSwitch{Engaged: false, Reason: "daily reset", Timestamp: now})
	}
	if !allowed {
		metrics.RecordBlockedTrade(reason)
	}
	return allowed, reason
}

// rollDayLocked resets the daily counters when the UTC date has moved
// past the recorded accounting day. A fresh day also clears the
// kill-switch latch.
func (g *Gate) rollDayLocked() (reset, unkilled bool) {
	today := g.clk.Now().UTC().Format(time.DateOnly)
	if g.date == today {
		return false, false
	}

	unkilled = g.killed
	g.date = today
	g.dailyPnL = 0
	g.dailyTrades = 0
	g.killed = false
	g.killReason = ""

	log.Info().Str("date", today).Msg("Daily counters reset")
	return true, unkilled
}

func (g *Gate) allowedLocked() (bool, string) {
	if g.killed {
		return false, "Kill switch activated - trading disabled"
	}
	if g.dailyPnL <= -g.cfg.MaxDailyLoss {
		return false, fmt.Sprintf("Daily loss limit reached: $%.2f", math.Abs(g.dailyPnL))
	}
	if g.dailyTrades >= g.cfg.MaxTradesPerDay {
		return false, fmt.Sprintf("Max daily trades reached: %d", g.dailyTrades)
	}
	return true, ""
}

// engageKill fires the side effects of a false→true latch transition.
// Called outside the mutex: the alert path may do network I/O.
func (g *Gate) engageKill(reason string, dailyPnL float64, dailyTrades int, now time.Time) {
	metrics.UpdateKillSwitch(true)
	g.publish(events.KillSwitch{Engaged: true, Reason: reason, Timestamp: now})

	if g.alerts != nil {
		_ = g.alerts.SendCritical(context.Background(), "Kill Switch Engaged", reason, map[string]interface{}{
			"daily_pnl":    dailyPnL,
			"daily_trades": dailyTrades,
		})
	}
}

func (g *Gate) publish(ev events.Event) {
	if g.bus != nil {
		g.bus.Publish(ev)
	}
}

// baseSize maps signal confidence to a contract count. Below 0.55 the
// signal is not tradable at all.
func baseSize(confidence float64, maxPosition int) int {
	switch {
	case confidence < 0.55:
		return 0
	case confidence < 0.65:
		return 1
	case confidence < 0.75:
		return 2
	case confidence < 0.85:
		return 3
	case confidence < 0.95:
		return 4
	default:
		return min(5, maxPosition)
	}
}

// adjustForVolatility shrinks the position as volatility rises. A zero
// base stays zero: the volatility floor never manufactures exposure a
// confidence tier refused.
func adjustForVolatility(base int, volatility, price float64) int {
	if base == 0 {
		return 0
	}

	volPct := volatility / price
	switch {
	case volPct > 0.02:
		return max(1, base/2)
	case volPct > 0.01:
		return max(1, int(float64(base)*0.75))
	default:
		return base
	}
}
