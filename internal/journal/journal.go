// Package journal persists trades, sentiment readings and daily performance
// to PostgreSQL. It is an optional audit trail: with no pool configured every
// operation returns ErrDisabled and callers carry on without it. Journaling
// never gates trading — enforcement lives in the risk gate, which keeps its
// own counters in memory.
package journal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/futuresfunk/internal/clock"
)

// ErrDisabled is returned by every operation when no database is configured.
var ErrDisabled = errors.New("journal disabled")

// Trade row statuses.
const (
	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"
)

// PoolInterface is the subset of pgxpool.Pool the journal uses, split out so
// tests can substitute a mock pool.
type PoolInterface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Trade is one journaled round trip. Exit fields stay NULL until the trade
// closes; signal context fields are NULL when the entry had none.
type Trade struct {
	ID             uuid.UUID
	Symbol         string
	Action         string // BUY or SELL
	Quantity       int
	EntryPrice     float64
	ExitPrice      *float64
	StopLoss       *float64
	TakeProfit     *float64
	PnL            *float64
	Status         string // OPEN or CLOSED
	EntryTime      time.Time
	ExitTime       *time.Time
	SentimentScore *float64
	Confidence     *float64
	Reasoning      *string
	CreatedAt      time.Time
}

// SentimentRecord is one persisted sentiment reading for a symbol.
type SentimentRecord struct {
	ID         uuid.UUID
	Symbol     string
	Source     string
	Score      float64
	Confidence float64
	Action     string
	DataPoints int
	Themes     []string
	Raw        map[string]any
	CreatedAt  time.Time
}

// DailyPerformance is the rolled-up result for one UTC trading day.
type DailyPerformance struct {
	Date        time.Time
	Trades      int
	Wins        int
	Losses      int
	GrossPnL    float64
	Fees        float64
	NetPnL      float64
	MaxDrawdown float64
}

// Statistics summarizes the whole journal. ProfitFactor is +Inf when closed
// trades exist but none lost money.
type Statistics struct {
	TotalTrades     int64
	CompletedTrades int64
	TotalPnL        float64
	WinRate         float64
	AvgWin          float64
	AvgLoss         float64
	ProfitFactor    float64
}

// Journal writes and reads the trading audit trail.
type Journal struct {
	pool PoolInterface
	clk  clock.Clock
}

// Option customizes journal construction.
type Option func(*Journal)

// WithClock substitutes the time source, used by tests.
func WithClock(c clock.Clock) Option {
	return func(j *Journal) {
		if c != nil {
			j.clk = c
		}
	}
}

// New creates a journal on the given pool. A nil pool yields a disabled
// journal whose operations return ErrDisabled.
func New(pool PoolInterface, opts ...Option) *Journal {
	j := &Journal{pool: pool, clk: clock.System()}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// NewWithPool creates a journal backed by a pgxpool.Pool.
func NewWithPool(pool *pgxpool.Pool, opts ...Option) *Journal {
	if pool == nil {
		return New(nil, opts...)
	}
	return New(pool, opts...)
}

// Enabled reports whether the journal has a database behind it. It is safe
// to call on a nil journal.
func (j *Journal) Enabled() bool {
	return j != nil && j.pool != nil
}

// RecordTrade inserts a new trade row. A zero ID is assigned, a zero entry
// time defaults to now, and an empty status defaults to OPEN.
func (j *Journal) RecordTrade(ctx context.Context, t *Trade) error {
	if !j.Enabled() {
		return ErrDisabled
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.EntryTime.IsZero() {
		t.EntryTime = j.clk.Now().UTC()
	}
	if t.Status == "" {
		t.Status = StatusOpen
	}

	query := `
		INSERT INTO trades (
			id, symbol, action, quantity, entry_price, stop_loss, take_profit,
			status, entry_time, sentiment_score, confidence, reasoning
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := j.pool.Exec(ctx, query,
		t.ID,
		t.Symbol,
		t.Action,
		t.Quantity,
		t.EntryPrice,
		t.StopLoss,
		t.TakeProfit,
		t.Status,
		t.EntryTime,
		t.SentimentScore,
		t.Confidence,
		t.Reasoning,
	)
	if err != nil {
		return fmt.Errorf("failed to record trade: %w", err)
	}

	log.Debug().
		Str("trade_id", t.ID.String()).
		Str("symbol", t.Symbol).
		Str("action", t.Action).
		Int("quantity", t.Quantity).
		Msg("Trade journaled")

	return nil
}

// UpdateTradeExit closes a trade row with its exit price and realized P&L.
func (j *Journal) UpdateTradeExit(ctx context.Context, id uuid.UUID, exitPrice, pnl float64, at time.Time) error {
	if !j.Enabled() {
		return ErrDisabled
	}
	if at.IsZero() {
		at = j.clk.Now().UTC()
	}

	query := `
		UPDATE trades
		SET exit_price = $2,
		    pnl = $3,
		    status = 'CLOSED',
		    exit_time = $4
		WHERE id = $1
	`

	tag, err := j.pool.Exec(ctx, query, id, exitPrice, pnl, at)
	if err != nil {
		return fmt.Errorf("failed to update trade exit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trade not found: %s", id)
	}

	log.Debug().
		Str("trade_id", id.String()).
		Float64("exit_price", exitPrice).
		Float64("pnl", pnl).
		Msg("Trade exit journaled")

	return nil
}

// GetOpenTrades returns trades without an exit, oldest first.
func (j *Journal) GetOpenTrades(ctx context.Context) ([]Trade, error) {
	if !j.Enabled() {
		return nil, ErrDisabled
	}

	query := `
		SELECT id, symbol, action, quantity, entry_price, stop_loss, take_profit,
		       status, entry_time, sentiment_score, confidence, reasoning, created_at
		FROM trades
		WHERE status = 'OPEN'
		ORDER BY entry_time ASC
	`

	rows, err := j.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query open trades: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(
			&t.ID, &t.Symbol, &t.Action, &t.Quantity, &t.EntryPrice,
			&t.StopLoss, &t.TakeProfit, &t.Status, &t.EntryTime,
			&t.SentimentScore, &t.Confidence, &t.Reasoning, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}

	return trades, nil
}

// RecordSentiment inserts one sentiment reading. A zero ID is assigned and a
// zero timestamp defaults to now.
func (j *Journal) RecordSentiment(ctx context.Context, rec *SentimentRecord) error {
	if !j.Enabled() {
		return ErrDisabled
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = j.clk.Now().UTC()
	}

	query := `
		INSERT INTO sentiment_history (
			id, symbol, source, score, confidence, action, data_points, themes, raw, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := j.pool.Exec(ctx, query,
		rec.ID,
		rec.Symbol,
		rec.Source,
		rec.Score,
		rec.Confidence,
		rec.Action,
		rec.DataPoints,
		rec.Themes,
		rec.Raw,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record sentiment: %w", err)
	}

	log.Debug().
		Str("symbol", rec.Symbol).
		Str("source", rec.Source).
		Float64("score", rec.Score).
		Msg("Sentiment journaled")

	return nil
}

// GetSentimentHistory returns readings for a symbol inside the lookback
// window, newest first. A non-positive hours defaults to 24.
func (j *Journal) GetSentimentHistory(ctx context.Context, symbol string, hours int) ([]SentimentRecord, error) {
	if !j.Enabled() {
		return nil, ErrDisabled
	}
	if hours <= 0 {
		hours = 24
	}
	cutoff := j.clk.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	query := `
		SELECT id, symbol, source, score, confidence, action, data_points, themes, raw, created_at
		FROM sentiment_history
		WHERE symbol = $1 AND created_at >= $2
		ORDER BY created_at DESC
	`

	rows, err := j.pool.Query(ctx, query, symbol, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query sentiment history: %w", err)
	}
	defer rows.Close()

	var records []SentimentRecord
	for rows.Next() {
		var rec SentimentRecord
		if err := rows.Scan(
			&rec.ID, &rec.Symbol, &rec.Source, &rec.Score, &rec.Confidence,
			&rec.Action, &rec.DataPoints, &rec.Themes, &rec.Raw, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sentiment row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sentiment rows: %w", err)
	}

	return records, nil
}

// UpsertDailyPerformance folds one realized P&L booking into the day's row,
// creating it on first use. Wins count bookings with positive P&L; everything
// else, scratch trades included, counts as a loss. MaxDrawdown latches the
// most negative net P&L the day has visited.
func (j *Journal) UpsertDailyPerformance(ctx context.Context, day time.Time, pnl, fees float64) error {
	if !j.Enabled() {
		return ErrDisabled
	}
	if day.IsZero() {
		day = j.clk.Now()
	}

	query := `
		INSERT INTO daily_performance (date, trades, wins, losses, gross_pnl, fees, net_pnl, max_drawdown)
		VALUES ($1, 1,
		        CASE WHEN $2 > 0 THEN 1 ELSE 0 END,
		        CASE WHEN $2 > 0 THEN 0 ELSE 1 END,
		        $2, $3, $2 - $3, LEAST(0, $2 - $3))
		ON CONFLICT (date) DO UPDATE SET
			trades = daily_performance.trades + 1,
			wins = daily_performance.wins + EXCLUDED.wins,
			losses = daily_performance.losses + EXCLUDED.losses,
			gross_pnl = daily_performance.gross_pnl + EXCLUDED.gross_pnl,
			fees = daily_performance.fees + EXCLUDED.fees,
			net_pnl = daily_performance.net_pnl + EXCLUDED.net_pnl,
			max_drawdown = LEAST(daily_performance.max_drawdown, daily_performance.net_pnl + EXCLUDED.net_pnl),
			updated_at = NOW()
	`

	if _, err := j.pool.Exec(ctx, query, dateOf(day), pnl, fees); err != nil {
		return fmt.Errorf("failed to upsert daily performance: %w", err)
	}
	return nil
}

// GetDailyPerformance returns the rolled-up row for the given day, or nil
// when no trades were booked that day.
func (j *Journal) GetDailyPerformance(ctx context.Context, day time.Time) (*DailyPerformance, error) {
	if !j.Enabled() {
		return nil, ErrDisabled
	}
	if day.IsZero() {
		day = j.clk.Now()
	}

	query := `
		SELECT date, trades, wins, losses, gross_pnl, fees, net_pnl, max_drawdown
		FROM daily_performance
		WHERE date = $1
	`

	var perf DailyPerformance
	err := j.pool.QueryRow(ctx, query, dateOf(day)).Scan(
		&perf.Date, &perf.Trades, &perf.Wins, &perf.Losses,
		&perf.GrossPnL, &perf.Fees, &perf.NetPnL, &perf.MaxDrawdown,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get daily performance: %w", err)
	}

	return &perf, nil
}

// GetStatistics computes the all-time summary across the trades table.
func (j *Journal) GetStatistics(ctx context.Context) (*Statistics, error) {
	if !j.Enabled() {
		return nil, ErrDisabled
	}

	query := `
		SELECT
			COUNT(*) AS total_trades,
			COUNT(*) FILTER (WHERE status = 'CLOSED') AS completed_trades,
			COALESCE(SUM(pnl) FILTER (WHERE status = 'CLOSED'), 0) AS total_pnl,
			COUNT(*) FILTER (WHERE status = 'CLOSED' AND pnl > 0) AS winning_trades,
			COUNT(*) FILTER (WHERE status = 'CLOSED' AND pnl < 0) AS losing_trades,
			COALESCE(SUM(pnl) FILTER (WHERE status = 'CLOSED' AND pnl > 0), 0) AS gross_wins,
			COALESCE(ABS(SUM(pnl) FILTER (WHERE status = 'CLOSED' AND pnl < 0)), 0) AS gross_losses
		FROM trades
	`

	var (
		stats                  Statistics
		wins, losses           int64
		grossWins, grossLosses float64
	)
	err := j.pool.QueryRow(ctx, query).Scan(
		&stats.TotalTrades,
		&stats.CompletedTrades,
		&stats.TotalPnL,
		&wins,
		&losses,
		&grossWins,
		&grossLosses,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get statistics: %w", err)
	}

	if stats.CompletedTrades == 0 {
		return &stats, nil
	}

	stats.WinRate = float64(wins) / float64(stats.CompletedTrades)
	if wins > 0 {
		stats.AvgWin = grossWins / float64(wins)
	}
	if losses > 0 {
		stats.AvgLoss = grossLosses / float64(losses)
		stats.ProfitFactor = grossWins / grossLosses
	} else {
		stats.ProfitFactor = math.Inf(1)
	}

	return &stats, nil
}

// dateOf truncates a timestamp to its UTC calendar day.
func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
