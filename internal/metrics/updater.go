package metrics

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Updater periodically refreshes gauges from the trade journal
type Updater struct {
	db       *pgxpool.Pool
	interval time.Duration
	stopCh   chan struct{}
}

// NewUpdater creates a new metrics updater
func NewUpdater(db *pgxpool.Pool, interval time.Duration) *Updater {
	return &Updater{
		db:       db,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the metrics update loop
func (u *Updater) Start(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	// Update immediately on start
	u.update(ctx)

	for {
		select {
		case <-ticker.C:
			u.update(ctx)
		case <-u.stopCh:
			log.Info().Msg("Metrics updater stopped")
			return
		case <-ctx.Done():
			log.Info().Msg("Metrics updater context cancelled")
			return
		}
	}
}

// Stop stops the metrics updater
func (u *Updater) Stop() {
	close(u.stopCh)
}

// update fetches and updates all metrics
func (u *Updater) update(ctx context.Context) {
	log.Debug().Msg("Updating metrics from trade journal")

	u.updateTradingMetrics(ctx)
	u.updateDailyMetrics(ctx)
	u.updatePositionMetrics(ctx)
	u.updateDatabaseMetrics()

	log.Debug().Msg("Metrics updated successfully")
}

// updateTradingMetrics updates all-time trading performance metrics
func (u *Updater) updateTradingMetrics(ctx context.Context) {
	var totalPnL float64
	var totalTrades, winningTrades int64

	query := `
		SELECT
			COALESCE(SUM(pnl), 0) as total_pnl,
			COUNT(*) as total_trades,
			COUNT(*) FILTER (WHERE pnl > 0) as winning_trades
		FROM trades
		WHERE status = 'CLOSED'
	`

	err := u.db.QueryRow(ctx, query).Scan(&totalPnL, &totalTrades, &winningTrades)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch trading metrics")
		return
	}

	TotalPnL.Set(totalPnL)

	if totalTrades > 0 {
		winRate := float64(winningTrades) / float64(totalTrades)
		WinRate.Set(winRate)
	} else {
		WinRate.Set(0)
	}

	// Average risk/reward realized across closed trades
	var avgWin, avgLoss float64
	query = `
		SELECT
			COALESCE(AVG(pnl) FILTER (WHERE pnl > 0), 0) as avg_win,
			COALESCE(ABS(AVG(pnl) FILTER (WHERE pnl < 0)), 0) as avg_loss
		FROM trades
		WHERE status = 'CLOSED'
	`

	err = u.db.QueryRow(ctx, query).Scan(&avgWin, &avgLoss)
	if err == nil && avgLoss > 0 {
		RiskRewardRatio.Set(avgWin / avgLoss)
	}
}

// updateDailyMetrics updates the current UTC day risk gauges
func (u *Updater) updateDailyMetrics(ctx context.Context) {
	query := `
		SELECT
			COALESCE(SUM(pnl), 0) as daily_pnl,
			COUNT(*) as daily_trades
		FROM trades
		WHERE status = 'CLOSED'
		AND exit_time >= (date_trunc('day', now() AT TIME ZONE 'UTC') AT TIME ZONE 'UTC')
	`

	var dailyPnL float64
	var dailyTrades int64
	err := u.db.QueryRow(ctx, query).Scan(&dailyPnL, &dailyTrades)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch daily metrics")
		return
	}

	DailyPnL.Set(dailyPnL)
	DailyTrades.Set(float64(dailyTrades))
}

// updatePositionMetrics updates open position gauges by symbol
func (u *Updater) updatePositionMetrics(ctx context.Context) {
	query := `
		SELECT
			symbol,
			SUM(CASE WHEN action = 'BUY' THEN quantity ELSE -quantity END) as net_contracts,
			SUM(quantity * entry_price) as position_value
		FROM trades
		WHERE status = 'OPEN'
		GROUP BY symbol
	`

	rows, err := u.db.Query(ctx, query)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch position values")
		return
	}
	defer rows.Close()

	for rows.Next() {
		var symbol string
		var contracts int64
		var value float64
		if err := rows.Scan(&symbol, &contracts, &value); err != nil {
			continue
		}
		UpdatePosition(symbol, int(contracts), value)
	}
}

// updateDatabaseMetrics updates database connection pool metrics
func (u *Updater) updateDatabaseMetrics() {
	stat := u.db.Stat()
	UpdateDatabaseConnections(stat.AcquiredConns(), stat.IdleConns())
}
