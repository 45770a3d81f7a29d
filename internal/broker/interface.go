package broker

import (
	"context"
	"time"
)

// Broker is the trading port the rest of the system depends on. Client
// implements it against the live API; MockBroker implements it for paper
// trading and tests.
type Broker interface {
	// Connect authenticates, loads accounts and opens both streams.
	Connect(ctx context.Context) error

	// Disconnect tears down streams and forgets the session.
	Disconnect() error

	// MarketEvents returns the market data stream: quotes, bars, DOM,
	// ticks, and stream status changes.
	MarketEvents() <-chan MarketEvent

	// UserEvents returns the trading stream: order updates, position
	// updates, fills, and stream status changes.
	UserEvents() <-chan UserEvent

	// SubscribeQuote starts real-time quotes for a symbol.
	SubscribeQuote(ctx context.Context, symbol string) error

	// SubscribeBars starts live minute-bar updates for a symbol.
	SubscribeBars(ctx context.Context, symbol string, intervalMinutes int) error

	// PlaceOrder places a single order.
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)

	// PlaceBracket places a market entry with stop-loss and take-profit legs.
	PlaceBracket(ctx context.Context, req BracketRequest) (*OrderResult, error)

	// CancelOrder cancels a working order.
	CancelOrder(ctx context.Context, orderID int64) error

	// ModifyOrder changes quantity or prices of a working order.
	ModifyOrder(ctx context.Context, orderID int64, mod OrderModification) error

	// Liquidate flattens the position in a symbol.
	Liquidate(ctx context.Context, symbol string) error

	// Positions lists current positions for the active account.
	Positions(ctx context.Context) ([]Position, error)

	// Orders lists orders for the active account.
	Orders(ctx context.Context) ([]OrderState, error)

	// Balance fetches the cash balance snapshot for the active account.
	Balance(ctx context.Context) (*Balance, error)

	// HistoricalBars fetches minute bars oldest-first for the given range.
	HistoricalBars(ctx context.Context, symbol string, intervalMinutes int, from, to time.Time) ([]Bar, error)
}
