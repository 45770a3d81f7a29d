// Package events provides the typed in-process event bus connecting the
// trading pipeline stages, plus an optional NATS mirror for external
// consumers. Payloads are flat value types so every other package can
// publish without import cycles.
package events

import "time"

// Kind identifies an event variant on the bus.
type Kind string

const (
	KindQuoteUpdate    Kind = "quote_update"
	KindBarComplete    Kind = "bar_complete"
	KindOrderUpdate    Kind = "order_update"
	KindOrderFilled    Kind = "order_filled"
	KindPositionUpdate Kind = "position_update"
	KindFillRecorded   Kind = "fill_recorded"
	KindStreamDown     Kind = "stream_down"
	KindStreamUp       Kind = "stream_up"
	KindKillSwitch     Kind = "kill_switch"
	KindDecisionMade   Kind = "decision_made"
)

// Event is implemented by every bus payload.
type Event interface {
	EventKind() Kind
}

// QuoteUpdate is published for each quote the market stream delivers.
type QuoteUpdate struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Last      float64   `json:"last"`
	Timestamp time.Time `json:"timestamp"`
}

// BarComplete is published when a forming bar closes.
type BarComplete struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// OrderUpdate is published on every order status transition.
type OrderUpdate struct {
	OrderID   int64     `json:"order_id"`
	Symbol    string    `json:"symbol"`
	Action    string    `json:"action"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderFilled is published when an order reaches full fill.
type OrderFilled struct {
	OrderID   int64     `json:"order_id"`
	Symbol    string    `json:"symbol"`
	Action    string    `json:"action"`
	Qty       int       `json:"qty"`
	FillPrice float64   `json:"fill_price"`
	Timestamp time.Time `json:"timestamp"`
}

// PositionUpdate is published when the broker reports a net position change.
type PositionUpdate struct {
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Qty       int       `json:"qty"`
	AvgPrice  float64   `json:"avg_price"`
	Timestamp time.Time `json:"timestamp"`
}

// FillRecorded is published after realized P&L is booked against the risk gate.
// Price is the closing fill price and Qty the number of contracts closed by it.
type FillRecorded struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Qty       int       `json:"qty"`
	PnL       float64   `json:"pnl"`
	Timestamp time.Time `json:"timestamp"`
}

// StreamDown is published when a broker socket closes unexpectedly.
type StreamDown struct {
	Socket    string    `json:"socket"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// StreamUp is published when a broker socket (re)connects and is authorized.
type StreamUp struct {
	Socket    string    `json:"socket"`
	Timestamp time.Time `json:"timestamp"`
}

// KillSwitch is published when trading is halted or resumed.
type KillSwitch struct {
	Engaged   bool      `json:"engaged"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// DecisionMade is published for every decider cycle that produced an intent,
// including HOLD (needed for monitoring and the signal façade).
type DecisionMade struct {
	Symbol         string    `json:"symbol"`
	Action         string    `json:"action"`
	Qty            int       `json:"qty"`
	Confidence     float64   `json:"confidence"`
	SentimentScore float64   `json:"sentiment_score"`
	Reasoning      string    `json:"reasoning"`
	Timestamp      time.Time `json:"timestamp"`
}

func (QuoteUpdate) EventKind() Kind    { return KindQuoteUpdate }
func (BarComplete) EventKind() Kind    { return KindBarComplete }
func (OrderUpdate) EventKind() Kind    { return KindOrderUpdate }
func (OrderFilled) EventKind() Kind    { return KindOrderFilled }
func (PositionUpdate) EventKind() Kind { return KindPositionUpdate }
func (FillRecorded) EventKind() Kind   { return KindFillRecorded }
func (StreamDown) EventKind() Kind     { return KindStreamDown }
func (StreamUp) EventKind() Kind       { return KindStreamUp }
func (KillSwitch) EventKind() Kind     { return KindKillSwitch }
func (DecisionMade) EventKind() Kind   { return KindDecisionMade }
