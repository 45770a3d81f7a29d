package journal

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/futuresfunk/internal/clock"
)

var testStart = time.Date(2025, 6, 3, 14, 30, 0, 0, time.UTC)

var openTradeColumns = []string{
	"id", "symbol", "action", "quantity", "entry_price", "stop_loss", "take_profit",
	"status", "entry_time", "sentiment_score", "confidence", "reasoning", "created_at",
}

func newTestJournal(t *testing.T) (*Journal, pgxmock.PgxPoolIface, *clock.Fake) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	clk := clock.NewFake(testStart)
	return New(mock, WithClock(clk)), mock, clk
}

func fptr(v float64) *float64 { return &v }
func sptr(v string) *string   { return &v }

func TestJournalDisabled(t *testing.T) {
	var j *Journal
	assert.False(t, j.Enabled())

	j = New(nil)
	assert.False(t, j.Enabled())

	ctx := context.Background()
	assert.ErrorIs(t, j.RecordTrade(ctx, &Trade{Symbol: "MNQ"}), ErrDisabled)
	assert.ErrorIs(t, j.UpdateTradeExit(ctx, uuid.New(), 20000, 10, testStart), ErrDisabled)
	assert.ErrorIs(t, j.RecordSentiment(ctx, &SentimentRecord{Symbol: "MNQ"}), ErrDisabled)
	assert.ErrorIs(t, j.UpsertDailyPerformance(ctx, testStart, 10, 0), ErrDisabled)

	_, err := j.GetOpenTrades(ctx)
	assert.ErrorIs(t, err, ErrDisabled)
	_, err = j.GetSentimentHistory(ctx, "MNQ", 24)
	assert.ErrorIs(t, err, ErrDisabled)
	_, err = j.GetDailyPerformance(ctx, testStart)
	assert.ErrorIs(t, err, ErrDisabled)
	_, err = j.GetStatistics(ctx)
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestJournalRecordTrade(t *testing.T) {
	j, mock, _ := newTestJournal(t)

	trade := &Trade{
		Symbol:         "MNQ",
		Action:         "BUY",
		Quantity:       2,
		EntryPrice:     20000.5,
		StopLoss:       fptr(19950),
		TakeProfit:     fptr(20100),
		SentimentScore: fptr(0.62),
		Confidence:     fptr(0.8),
		Reasoning:      sptr("Bullish breadth across index futures"),
	}

	mock.ExpectExec("INSERT INTO trades").
		WithArgs(pgxmock.AnyArg(), "MNQ", "BUY", 2, 20000.5,
			trade.StopLoss, trade.TakeProfit, StatusOpen, testStart,
			trade.SentimentScore, trade.Confidence, trade.Reasoning).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, j.RecordTrade(context.Background(), trade))

	// Defaults filled in on the way through.
	assert.NotEqual(t, uuid.Nil, trade.ID)
	assert.Equal(t, StatusOpen, trade.Status)
	assert.Equal(t, testStart, trade.EntryTime)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJournalRecordTradeError(t *testing.T) {
	j, mock, _ := newTestJournal(t)

	mock.ExpectExec("INSERT INTO trades").
		WillReturnError(assert.AnError)

	err := j.RecordTrade(context.Background(), &Trade{Symbol: "MNQ", Action: "BUY", Quantity: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to record trade")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJournalUpdateTradeExit(t *testing.T) {
	j, mock, _ := newTestJournal(t)

	id := uuid.New()
	at := testStart.Add(45 * time.Minute)

	mock.ExpectExec("UPDATE trades").
		WithArgs(id, 20010.25, 39.0, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, j.UpdateTradeExit(context.Background(), id, 20010.25, 39.0, at))
	require.NoError(t, mock.ExpectationsWereMet())

	t.Run("not found", func(t *testing.T) {
		mock.ExpectExec("UPDATE trades").
			WithArgs(id, 20010.25, 39.0, at).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := j.UpdateTradeExit(context.Background(), id, 20010.25, 39.0, at)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "trade not found")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestJournalGetOpenTrades(t *testing.T) {
	j, mock, _ := newTestJournal(t)

	id1, id2 := uuid.New(), uuid.New()
	rows := pgxmock.NewRows(openTradeColumns).
		AddRow(id1, "MNQ", "BUY", 2, 20000.5, fptr(19950), fptr(20100),
			StatusOpen, testStart, fptr(0.62), fptr(0.8), sptr("breakout"), testStart).
		AddRow(id2, "MES", "SELL", 1, 6000.0, nil, nil,
			StatusOpen, testStart.Add(time.Minute), nil, nil, nil, testStart.Add(time.Minute))

	mock.ExpectQuery("SELECT(.+)FROM trades").WillReturnRows(rows)

	trades, err := j.GetOpenTrades(context.Background())
	require.NoError(t, err)
	require.Len(t, trades, 2)

	assert.Equal(t, id1, trades[0].ID)
	assert.Equal(t, "BUY", trades[0].Action)
	require.NotNil(t, trades[0].StopLoss)
	assert.Equal(t, 19950.0, *trades[0].StopLoss)

	assert.Equal(t, "MES", trades[1].Symbol)
	assert.Nil(t, trades[1].StopLoss)
	assert.Nil(t, trades[1].Reasoning)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJournalRecordSentiment(t *testing.T) {
	j, mock, _ := newTestJournal(t)

	rec := &SentimentRecord{
		Symbol:     "MNQ",
		Source:     "twitter",
		Score:      0.45,
		Confidence: 0.7,
		Action:     "BUY",
		DataPoints: 18,
		Themes:     []string{"fed", "cpi"},
		Raw:        map[string]any{"composite_score": 0.45, "twitter": 0.5},
	}

	mock.ExpectExec("INSERT INTO sentiment_history").
		WithArgs(pgxmock.AnyArg(), "MNQ", "twitter", 0.45, 0.7, "BUY", 18,
			rec.Themes, rec.Raw, testStart).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, j.RecordSentiment(context.Background(), rec))
	assert.NotEqual(t, uuid.Nil, rec.ID)
	assert.Equal(t, testStart, rec.CreatedAt)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJournalGetSentimentHistory(t *testing.T) {
	j, mock, _ := newTestJournal(t)

	cutoff := testStart.Add(-24 * time.Hour)
	cols := []string{"id", "symbol", "source", "score", "confidence", "action", "data_points", "themes", "raw", "created_at"}
	rows := pgxmock.NewRows(cols).
		AddRow(uuid.New(), "MNQ", "news", -0.2, 0.6, "SELL", 12,
			[]string{"rates"}, map[string]any{"news": -0.2}, testStart.Add(-time.Hour)).
		AddRow(uuid.New(), "MNQ", "twitter", 0.3, 0.5, "HOLD", 25,
			nil, nil, testStart.Add(-3*time.Hour))

	mock.ExpectQuery("SELECT(.+)FROM sentiment_history").
		WithArgs("MNQ", cutoff).
		WillReturnRows(rows)

	// Zero hours falls back to the 24 h window.
	records, err := j.GetSentimentHistory(context.Background(), "MNQ", 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "news", records[0].Source)
	assert.Equal(t, -0.2, records[0].Score)
	assert.Equal(t, []string{"rates"}, records[0].Themes)
	assert.Nil(t, records[1].Themes)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJournalUpsertDailyPerformance(t *testing.T) {
	j, mock, _ := newTestJournal(t)

	day := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO daily_performance").
		WithArgs(day, -4.0, 2.68).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	// Timestamps collapse onto their UTC calendar day.
	require.NoError(t, j.UpsertDailyPerformance(context.Background(), testStart, -4.0, 2.68))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJournalGetDailyPerformance(t *testing.T) {
	j, mock, _ := newTestJournal(t)

	day := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)
	cols := []string{"date", "trades", "wins", "losses", "gross_pnl", "fees", "net_pnl", "max_drawdown"}

	mock.ExpectQuery("SELECT(.+)FROM daily_performance").
		WithArgs(day).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(day, 3, 2, 1, 55.0, 4.02, 50.98, -12.0))

	perf, err := j.GetDailyPerformance(context.Background(), testStart)
	require.NoError(t, err)
	require.NotNil(t, perf)
	assert.Equal(t, 3, perf.Trades)
	assert.Equal(t, 2, perf.Wins)
	assert.Equal(t, 55.0, perf.GrossPnL)
	assert.Equal(t, -12.0, perf.MaxDrawdown)

	require.NoError(t, mock.ExpectationsWereMet())

	t.Run("no row for day", func(t *testing.T) {
		mock.ExpectQuery("SELECT(.+)FROM daily_performance").
			WithArgs(day).
			WillReturnError(pgx.ErrNoRows)

		perf, err := j.GetDailyPerformance(context.Background(), testStart)
		require.NoError(t, err)
		assert.Nil(t, perf)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestJournalGetStatistics(t *testing.T) {
	cols := []string{"total_trades", "completed_trades", "total_pnl", "winning_trades", "losing_trades", "gross_wins", "gross_losses"}

	t.Run("mixed results", func(t *testing.T) {
		j, mock, _ := newTestJournal(t)
		mock.ExpectQuery("SELECT(.+)FROM trades").
			WillReturnRows(pgxmock.NewRows(cols).
				AddRow(int64(10), int64(8), 450.0, int64(5), int64(2), 600.0, 150.0))

		stats, err := j.GetStatistics(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(10), stats.TotalTrades)
		assert.Equal(t, int64(8), stats.CompletedTrades)
		assert.Equal(t, 450.0, stats.TotalPnL)
		assert.InDelta(t, 0.625, stats.WinRate, 1e-9)
		assert.InDelta(t, 120.0, stats.AvgWin, 1e-9)
		assert.InDelta(t, 75.0, stats.AvgLoss, 1e-9)
		assert.InDelta(t, 4.0, stats.ProfitFactor, 1e-9)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no completed trades", func(t *testing.T) {
		j, mock, _ := newTestJournal(t)
		mock.ExpectQuery("SELECT(.+)FROM trades").
			WillReturnRows(pgxmock.NewRows(cols).
				AddRow(int64(2), int64(0), 0.0, int64(0), int64(0), 0.0, 0.0))

		stats, err := j.GetStatistics(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.TotalTrades)
		assert.Zero(t, stats.WinRate)
		assert.Zero(t, stats.ProfitFactor)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no losing trades", func(t *testing.T) {
		j, mock, _ := newTestJournal(t)
		mock.ExpectQuery("SELECT(.+)FROM trades").
			WillReturnRows(pgxmock.NewRows(cols).
				AddRow(int64(3), int64(3), 300.0, int64(3), int64(0), 300.0, 0.0))

		stats, err := j.GetStatistics(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1.0, stats.WinRate)
		assert.Equal(t, 100.0, stats.AvgWin)
		assert.Zero(t, stats.AvgLoss)
		assert.True(t, math.IsInf(stats.ProfitFactor, 1))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
