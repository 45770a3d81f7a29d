package broker

import "time"

// Action is the order direction in broker terms.
type Action string

const (
	ActionBuy  Action = "Buy"
	ActionSell Action = "Sell"
)

// Opposite returns the flattening direction for an action.
func (a Action) Opposite() Action {
	if a == ActionBuy {
		return ActionSell
	}
	return ActionBuy
}

// OrderType represents the broker order types used by the bot.
type OrderType string

const (
	OrderTypeMarket    OrderType = "Market"
	OrderTypeLimit     OrderType = "Limit"
	OrderTypeStop      OrderType = "Stop"
	OrderTypeStopLimit OrderType = "StopLimit"
)

// Quote is the latest top-of-book snapshot for a contract.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Last      float64   `json:"last"`
	BidSize   int64     `json:"bid_size"`
	AskSize   int64     `json:"ask_size"`
	Volume    int64     `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// Mid returns the bid/ask midpoint, falling back to the last trade when
// one side is missing.
func (q Quote) Mid() float64 {
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	return q.Last
}

// Spread returns the bid/ask spread, or 0 when either side is missing.
func (q Quote) Spread() float64 {
	if q.Bid > 0 && q.Ask > 0 {
		return q.Ask - q.Bid
	}
	return 0
}

// Price returns the best tradable price reference: last trade, then mid.
func (q Quote) Price() float64 {
	if q.Last > 0 {
		return q.Last
	}
	return q.Mid()
}

// Tick is a single trade print.
type Tick struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Size      int64     `json:"size"`
	Bid       float64   `json:"bid,omitempty"`
	Ask       float64   `json:"ask,omitempty"`
}

// Bar is one OHLCV candle.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// Account is one trading account attached to the credentials.
type Account struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	UserID      int64  `json:"userId"`
	AccountType string `json:"accountType"`
	Active      bool   `json:"active"`
}

// Balance is a cash balance snapshot for the active account.
type Balance struct {
	TotalCashValue  float64 `json:"totalCashValue"`
	OpenPnL         float64 `json:"openPnL"`
	RealizedPnL     float64 `json:"realizedPnL"`
	WeekRealizedPnL float64 `json:"weekRealizedPnL"`
}

// Contract identifies a tradable contract by broker id and symbol name.
type Contract struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Position is the broker-side net position for a contract. NetPos is
// signed: positive long, negative short, zero flat.
type Position struct {
	ContractID int64     `json:"contract_id"`
	Symbol     string    `json:"symbol"`
	NetPos     int       `json:"net_pos"`
	NetPrice   float64   `json:"net_price"`
	Timestamp  time.Time `json:"timestamp"`
}

// Broker order status vocabulary.
const (
	StatusPending  = "Pending"
	StatusWorking  = "Working"
	StatusFilled   = "Filled"
	StatusCanceled = "Canceled"
	StatusRejected = "Rejected"
)

// OrderState is the broker-side view of an order, as returned by order
// listing and order update events. Status carries the broker's own
// vocabulary (Pending, Working, Filled, Canceled, Rejected).
type OrderState struct {
	ID         int64     `json:"id"`
	AccountID  int64     `json:"account_id"`
	ContractID int64     `json:"contract_id"`
	Symbol     string    `json:"symbol"`
	Action     Action    `json:"action"`
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
}

// Fill is a single execution against an order.
type Fill struct {
	OrderID   int64     `json:"order_id"`
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Qty       int       `json:"qty"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderRequest places a single order.
type OrderRequest struct {
	Symbol    string
	Action    Action
	Qty       int
	Type      OrderType
	Price     float64 // limit price, for Limit/StopLimit
	StopPrice float64 // trigger price, for Stop/StopLimit
}

// BracketRequest places a market entry with an attached stop-loss and
// take-profit (order-sends-order).
type BracketRequest struct {
	Symbol     string
	Action     Action
	Qty        int
	StopLoss   float64
	TakeProfit float64
}

// OrderModification carries the fields of a working order to change.
// Zero values leave the current value in place.
type OrderModification struct {
	Qty       int
	Price     float64
	StopPrice float64
}

// OrderResult is the broker's response to a placement request.
type OrderResult struct {
	OrderID       int64  `json:"orderId"`
	FailureReason string `json:"failureReason"`
	FailureText   string `json:"failureText"`
}

// ===== STREAM EVENTS =====

// MarketEvent is implemented by everything delivered on the market data
// stream returned by MarketEvents.
type MarketEvent interface{ marketEvent() }

// UserEvent is implemented by everything delivered on the trading stream
// returned by UserEvents.
type UserEvent interface{ userEvent() }

// QuoteEvent carries one or more top-of-book updates; pushes may batch
// several entries in one frame.
type QuoteEvent struct {
	Quotes []Quote
}

// DOMLevel is one price level of a depth-of-market snapshot.
type DOMLevel struct {
	Price float64 `json:"price"`
	Size  int64   `json:"size"`
}

// DOMEvent carries a depth-of-market snapshot.
type DOMEvent struct {
	Symbol string
	Bids   []DOMLevel
	Asks   []DOMLevel
}

// BarEvent carries a single bar update. Complete marks a closed bar;
// otherwise the bar is still forming and replaces the previous partial.
type BarEvent struct {
	Symbol   string
	Bar      Bar
	Complete bool
}

// TickEvent carries a single trade print for a subscribed contract.
type TickEvent struct {
	Symbol string
	Price  float64
	Size   int64
}

// OrderEvent reports an order state change on the user stream.
type OrderEvent struct {
	Order OrderState
}

// PositionEvent reports a position change on the user stream.
type PositionEvent struct {
	Position Position
}

// FillEvent reports an execution on the user stream.
type FillEvent struct {
	Fill Fill
}

// StreamStatus reports a stream going down or coming back up. It is
// delivered on the event channel of the stream it concerns so consumers
// can react to gaps in their feed.
type StreamStatus struct {
	Socket    string
	Up        bool
	Reason    string
	Timestamp time.Time
}

func (QuoteEvent) marketEvent()   {}
func (DOMEvent) marketEvent()     {}
func (BarEvent) marketEvent()     {}
func (TickEvent) marketEvent()    {}
func (StreamStatus) marketEvent() {}

func (OrderEvent) userEvent()    {}
func (PositionEvent) userEvent() {}
func (FillEvent) userEvent()     {}
func (StreamStatus) userEvent()  {}
