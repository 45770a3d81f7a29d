package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConnectedMock(t *testing.T) *MockBroker {
	t.Helper()
	m := NewMock()
	require.NoError(t, m.Connect(context.Background()))
	return m
}

// drainUserEvents collects everything currently buffered on the user
// stream.
func drainUserEvents(m *MockBroker) []UserEvent {
	var events []UserEvent
	for {
		select {
		case ev := <-m.UserEvents():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestMockBrokerMarketOrderFill(t *testing.T) {
	m := newConnectedMock(t)
	ctx := context.Background()
	m.SetQuote(Quote{Symbol: "MNQH5", Bid: 18200.25, Ask: 18200.5, Last: 18200.25})

	result, err := m.PlaceOrder(ctx, OrderRequest{Symbol: "MNQH5", Action: ActionBuy, Qty: 2, Type: OrderTypeMarket})
	require.NoError(t, err)
	assert.NotZero(t, result.OrderID)

	fills := m.Fills()
	require.Len(t, fills, 1)
	assert.Equal(t, 18200.5, fills[0].Price, "buys lift the offer")
	assert.Equal(t, 2, fills[0].Qty)

	positions, err := m.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 2, positions[0].NetPos)
	assert.Equal(t, 18200.5, positions[0].NetPrice)

	events := drainUserEvents(m)
	require.Len(t, events, 3)
	order := events[0].(OrderEvent).Order
	assert.Equal(t, StatusFilled, order.Status)
	fill := events[1].(FillEvent).Fill
	assert.Equal(t, order.ID, fill.OrderID)
	pos := events[2].(PositionEvent).Position
	assert.Equal(t, 2, pos.NetPos)
}

func TestMockBrokerSellHitsTheBid(t *testing.T) {
	m := newConnectedMock(t)
	m.SetQuote(Quote{Symbol: "ESH5", Bid: 5001.25, Ask: 5001.5})

	_, err := m.PlaceOrder(context.Background(), OrderRequest{Symbol: "ESH5", Action: ActionSell, Qty: 1, Type: OrderTypeMarket})
	require.NoError(t, err)

	fills := m.Fills()
	require.Len(t, fills, 1)
	assert.Equal(t, 5001.25, fills[0].Price)
}

func TestMockBrokerBracket(t *testing.T) {
	m := newConnectedMock(t)
	ctx := context.Background()
	m.SetQuote(Quote{Symbol: "MNQH5", Bid: 18200.25, Ask: 18200.5})

	result, err := m.PlaceBracket(ctx, BracketRequest{
		Symbol:     "MNQH5",
		Action:     ActionBuy,
		Qty:        1,
		StopLoss:   18150.0,
		TakeProfit: 18280.0,
	})
	require.NoError(t, err)
	assert.NotZero(t, result.OrderID)

	orders, err := m.Orders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 3, "entry plus two exit legs")

	var filled, working int
	for _, o := range orders {
		switch o.Status {
		case StatusFilled:
			filled++
			assert.Equal(t, ActionBuy, o.Action)
		case StatusWorking:
			working++
			assert.Equal(t, ActionSell, o.Action, "exit legs flip the entry side")
		}
	}
	assert.Equal(t, 1, filled)
	assert.Equal(t, 2, working)

	// Working legs can be cancelled, the filled entry cannot
	for _, o := range orders {
		if o.Status == StatusWorking {
			require.NoError(t, m.CancelOrder(ctx, o.ID))
		} else {
			require.Error(t, m.CancelOrder(ctx, o.ID))
		}
	}
}

func TestMockBrokerLiquidate(t *testing.T) {
	m := newConnectedMock(t)
	ctx := context.Background()
	m.SetQuote(Quote{Symbol: "MNQH5", Bid: 18200.25, Ask: 18200.5})

	_, err := m.PlaceOrder(ctx, OrderRequest{Symbol: "MNQH5", Action: ActionBuy, Qty: 2, Type: OrderTypeMarket})
	require.NoError(t, err)

	require.NoError(t, m.Liquidate(ctx, "MNQH5"))

	positions, err := m.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 0, positions[0].NetPos)
	assert.Equal(t, 0.0, positions[0].NetPrice)

	require.Len(t, m.Fills(), 2, "entry fill plus liquidation fill")

	// Flat position is a no-op
	require.NoError(t, m.Liquidate(ctx, "MNQH5"))
	assert.Len(t, m.Fills(), 2)
}

func TestMockBrokerPositionBlending(t *testing.T) {
	m := newConnectedMock(t)
	ctx := context.Background()

	buy := func(qty int) {
		_, err := m.PlaceOrder(ctx, OrderRequest{Symbol: "MESU5", Action: ActionBuy, Qty: qty, Type: OrderTypeMarket})
		require.NoError(t, err)
	}
	sell := func(qty int) {
		_, err := m.PlaceOrder(ctx, OrderRequest{Symbol: "MESU5", Action: ActionSell, Qty: qty, Type: OrderTypeMarket})
		require.NoError(t, err)
	}
	position := func() Position {
		positions, err := m.Positions(ctx)
		require.NoError(t, err)
		require.Len(t, positions, 1)
		return positions[0]
	}

	m.SetQuote(Quote{Symbol: "MESU5", Bid: 99.5, Ask: 100})
	buy(1)
	assert.Equal(t, 1, position().NetPos)
	assert.Equal(t, 100.0, position().NetPrice)

	m.SetQuote(Quote{Symbol: "MESU5", Bid: 101.5, Ask: 102})
	buy(1)
	assert.Equal(t, 2, position().NetPos)
	assert.Equal(t, 101.0, position().NetPrice, "adds blend the entry price")

	m.SetQuote(Quote{Symbol: "MESU5", Bid: 101, Ask: 101.5})
	sell(1)
	assert.Equal(t, 1, position().NetPos)
	assert.Equal(t, 101.0, position().NetPrice, "reductions keep the entry price")

	m.SetQuote(Quote{Symbol: "MESU5", Bid: 99, Ask: 99.5})
	sell(2)
	assert.Equal(t, -1, position().NetPos)
	assert.Equal(t, 99.0, position().NetPrice, "flips re-price at the crossing fill")
}

func TestMockBrokerValidation(t *testing.T) {
	m := newConnectedMock(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  OrderRequest
	}{
		{"Empty symbol", OrderRequest{Action: ActionBuy, Qty: 1, Type: OrderTypeMarket}},
		{"Invalid action", OrderRequest{Symbol: "MNQH5", Action: Action("Hold"), Qty: 1, Type: OrderTypeMarket}},
		{"Zero quantity", OrderRequest{Symbol: "MNQH5", Action: ActionBuy, Type: OrderTypeMarket}},
		{"Limit without price", OrderRequest{Symbol: "MNQH5", Action: ActionBuy, Qty: 1, Type: OrderTypeLimit}},
		{"Stop without trigger", OrderRequest{Symbol: "MNQH5", Action: ActionSell, Qty: 1, Type: OrderTypeStop}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.PlaceOrder(ctx, tt.req)
			require.ErrorIs(t, err, ErrRejected)
		})
	}

	assert.Empty(t, m.Fills())
}

func TestMockBrokerSubscriptionsRequireConnect(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	require.ErrorIs(t, m.SubscribeQuote(ctx, "MNQH5"), ErrNotConnected)
	require.ErrorIs(t, m.SubscribeBars(ctx, "MNQH5", 1), ErrNotConnected)

	require.NoError(t, m.Connect(ctx))
	require.NoError(t, m.SubscribeQuote(ctx, "MNQH5"))
	require.NoError(t, m.SubscribeBars(ctx, "MNQH5", 1))
}

func TestMockBrokerSeededData(t *testing.T) {
	m := newConnectedMock(t)
	ctx := context.Background()

	bars := []Bar{
		{Timestamp: time.Date(2025, 1, 7, 14, 30, 0, 0, time.UTC), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{Timestamp: time.Date(2025, 1, 7, 14, 31, 0, 0, time.UTC), Open: 1.5, High: 2.5, Low: 1, Close: 2, Volume: 8},
	}
	m.SeedBars("MNQH5", bars)

	got, err := m.HistoricalBars(ctx, "MNQH5", 1, time.Time{}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, bars, got)

	m.SetBalance(Balance{TotalCashValue: 25000, RealizedPnL: -150})
	balance, err := m.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 25000.0, balance.TotalCashValue)
	assert.Equal(t, -150.0, balance.RealizedPnL)
}

func TestMockBrokerPushedMarketData(t *testing.T) {
	m := newConnectedMock(t)

	m.PushQuote(Quote{Symbol: "MNQH5", Bid: 18200.25, Ask: 18200.5})
	select {
	case ev := <-m.MarketEvents():
		quote, ok := ev.(QuoteEvent)
		require.True(t, ok)
		require.Len(t, quote.Quotes, 1)
		assert.Equal(t, "MNQH5", quote.Quotes[0].Symbol)
	default:
		t.Fatal("pushed quote not delivered")
	}

	bar := Bar{Timestamp: time.Now().UTC(), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 3}
	m.PushBar("MNQH5", bar, true)
	select {
	case ev := <-m.MarketEvents():
		barEv, ok := ev.(BarEvent)
		require.True(t, ok)
		assert.True(t, barEv.Complete)
		assert.Equal(t, 1.5, barEv.Bar.Close)
	default:
		t.Fatal("pushed bar not delivered")
	}
}
