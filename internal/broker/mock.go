package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MockBroker simulates the broker for paper trading and tests. Market
// orders fill immediately by crossing the spread of the stored quote;
// bracket exits rest as working orders until cancelled.
type MockBroker struct {
	mu sync.RWMutex

	connected bool
	nextID    int64

	quotes    map[string]Quote
	orders    map[int64]*OrderState
	positions map[string]*Position
	fills     []Fill
	bars      map[string][]Bar
	balance   Balance

	quoteSubs map[string]struct{}
	barSubs   map[string]int

	marketEvents chan MarketEvent
	userEvents   chan UserEvent
}

var _ Broker = (*MockBroker)(nil)

// NewMock creates a paper broker with an empty book and a default cash
// balance.
func NewMock() *MockBroker {
	log.Info().Msg("Mock broker initialized (paper trading mode)")

	return &MockBroker{
		nextID:       1000,
		quotes:       make(map[string]Quote),
		orders:       make(map[int64]*OrderState),
		positions:    make(map[string]*Position),
		bars:         make(map[string][]Bar),
		balance:      Balance{TotalCashValue: 50000},
		quoteSubs:    make(map[string]struct{}),
		barSubs:      make(map[string]int),
		marketEvents: make(chan MarketEvent, marketEventBuffer),
		userEvents:   make(chan UserEvent, userEventBuffer),
	}
}

func (m *MockBroker) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *MockBroker) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *MockBroker) MarketEvents() <-chan MarketEvent { return m.marketEvents }
func (m *MockBroker) UserEvents() <-chan UserEvent     { return m.userEvents }

func (m *MockBroker) SubscribeQuote(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.quoteSubs[symbol] = struct{}{}
	return nil
}

func (m *MockBroker) SubscribeBars(ctx context.Context, symbol string, intervalMinutes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.barSubs[symbol] = intervalMinutes
	return nil
}

// PlaceOrder simulates a market fill at the quoted spread; limit and stop
// orders rest as working.
func (m *MockBroker) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if err := validateOrderRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	m.mu.Lock()
	order := m.newOrderLocked(req.Symbol, req.Action)
	var events []UserEvent
	if req.Type == OrderTypeMarket {
		events = m.fillLocked(order, req.Qty)
	} else {
		events = []UserEvent{OrderEvent{Order: *order}}
	}
	m.mu.Unlock()

	log.Info().
		Int64("order_id", order.ID).
		Str("symbol", req.Symbol).
		Str("action", string(req.Action)).
		Int("qty", req.Qty).
		Str("type", string(req.Type)).
		Msg("Order placed")

	for _, ev := range events {
		m.emitUser(ev)
	}
	return &OrderResult{OrderID: order.ID}, nil
}

// PlaceBracket fills the entry immediately and leaves the stop and target
// exits working.
func (m *MockBroker) PlaceBracket(ctx context.Context, req BracketRequest) (*OrderResult, error) {
	if req.Qty <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrRejected)
	}

	m.mu.Lock()
	entry := m.newOrderLocked(req.Symbol, req.Action)
	fillEvents := m.fillLocked(entry, req.Qty)
	stop := m.newOrderLocked(req.Symbol, req.Action.Opposite())
	target := m.newOrderLocked(req.Symbol, req.Action.Opposite())
	m.mu.Unlock()

	log.Info().
		Int64("order_id", entry.ID).
		Str("symbol", req.Symbol).
		Str("action", string(req.Action)).
		Int("qty", req.Qty).
		Float64("stop_loss", req.StopLoss).
		Float64("take_profit", req.TakeProfit).
		Msg("Bracket order placed")

	for _, ev := range fillEvents {
		m.emitUser(ev)
	}
	m.emitUser(OrderEvent{Order: *stop})
	m.emitUser(OrderEvent{Order: *target})
	return &OrderResult{OrderID: entry.ID}, nil
}

func (m *MockBroker) CancelOrder(ctx context.Context, orderID int64) error {
	m.mu.Lock()
	order, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("order not found: %d", orderID)
	}
	if order.Status != StatusWorking && order.Status != StatusPending {
		m.mu.Unlock()
		return fmt.Errorf("cannot cancel order in status: %s", order.Status)
	}
	order.Status = StatusCanceled
	order.Timestamp = time.Now().UTC()
	snapshot := *order
	m.mu.Unlock()

	log.Info().Int64("order_id", orderID).Msg("Order cancelled")
	m.emitUser(OrderEvent{Order: snapshot})
	return nil
}

func (m *MockBroker) ModifyOrder(ctx context.Context, orderID int64, mod OrderModification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("order not found: %d", orderID)
	}
	if order.Status != StatusWorking && order.Status != StatusPending {
		return fmt.Errorf("cannot modify order in status: %s", order.Status)
	}
	order.Timestamp = time.Now().UTC()
	return nil
}

// Liquidate flattens the symbol with a simulated market fill.
func (m *MockBroker) Liquidate(ctx context.Context, symbol string) error {
	m.mu.Lock()
	pos, ok := m.positions[symbol]
	if !ok || pos.NetPos == 0 {
		m.mu.Unlock()
		return nil
	}
	action := ActionSell
	qty := pos.NetPos
	if qty < 0 {
		action = ActionBuy
		qty = -qty
	}
	order := m.newOrderLocked(symbol, action)
	events := m.fillLocked(order, qty)
	m.mu.Unlock()

	log.Info().Str("symbol", symbol).Int("qty", qty).Msg("Position liquidated")

	for _, ev := range events {
		m.emitUser(ev)
	}
	return nil
}

func (m *MockBroker) Positions(ctx context.Context) ([]Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Position, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, *pos)
	}
	return out, nil
}

func (m *MockBroker) Orders(ctx context.Context) ([]OrderState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]OrderState, 0, len(m.orders))
	for _, order := range m.orders {
		out = append(out, *order)
	}
	return out, nil
}

func (m *MockBroker) Balance(ctx context.Context) (*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bal := m.balance
	return &bal, nil
}

func (m *MockBroker) HistoricalBars(ctx context.Context, symbol string, intervalMinutes int, from, to time.Time) ([]Bar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seeded := m.bars[symbol]
	out := make([]Bar, len(seeded))
	copy(out, seeded)
	return out, nil
}

// ===== TEST AND PAPER TRADING HELPERS =====

// SetQuote stores the quote used to price simulated fills.
func (m *MockBroker) SetQuote(q Quote) {
	m.mu.Lock()
	if q.Timestamp.IsZero() {
		q.Timestamp = time.Now().UTC()
	}
	m.quotes[q.Symbol] = q
	m.mu.Unlock()
}

// PushQuote stores the quote and emits it on the market stream.
func (m *MockBroker) PushQuote(q Quote) {
	m.SetQuote(q)
	m.emitMarket(QuoteEvent{Quotes: []Quote{q}})
}

// PushBar emits a bar on the market stream.
func (m *MockBroker) PushBar(symbol string, bar Bar, complete bool) {
	m.emitMarket(BarEvent{Symbol: symbol, Bar: bar, Complete: complete})
}

// SeedBars sets the history returned by HistoricalBars.
func (m *MockBroker) SeedBars(symbol string, bars []Bar) {
	m.mu.Lock()
	m.bars[symbol] = append([]Bar(nil), bars...)
	m.mu.Unlock()
}

// SetBalance overrides the reported account balance.
func (m *MockBroker) SetBalance(bal Balance) {
	m.mu.Lock()
	m.balance = bal
	m.mu.Unlock()
}

// Fills returns a snapshot of every simulated fill.
func (m *MockBroker) Fills() []Fill {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Fill, len(m.fills))
	copy(out, m.fills)
	return out
}

// ===== INTERNAL =====

func validateOrderRequest(req OrderRequest) error {
	if req.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if req.Action != ActionBuy && req.Action != ActionSell {
		return fmt.Errorf("invalid action: %s", req.Action)
	}
	if req.Qty <= 0 {
		return fmt.Errorf("quantity must be positive")
	}
	if req.Type == OrderTypeLimit && req.Price <= 0 {
		return fmt.Errorf("limit orders must have a positive price")
	}
	if (req.Type == OrderTypeStop || req.Type == OrderTypeStopLimit) && req.StopPrice <= 0 {
		return fmt.Errorf("stop orders must have a positive stop price")
	}
	return nil
}

func (m *MockBroker) newOrderLocked(symbol string, action Action) *OrderState {
	m.nextID++
	order := &OrderState{
		ID:        m.nextID,
		Symbol:    symbol,
		Action:    action,
		Status:    StatusWorking,
		Timestamp: time.Now().UTC(),
	}
	m.orders[order.ID] = order
	return order
}

// fillLocked fills the order at the quoted spread and updates the
// position. Returns the fill and position events for the caller to emit
// after unlocking.
func (m *MockBroker) fillLocked(order *OrderState, qty int) []UserEvent {
	now := time.Now().UTC()
	price := m.fillPriceLocked(order.Symbol, order.Action)

	order.Status = StatusFilled
	order.Timestamp = now

	fill := Fill{OrderID: order.ID, Symbol: order.Symbol, Price: price, Qty: qty, Timestamp: now}
	m.fills = append(m.fills, fill)

	pos := m.applyFillLocked(order.Symbol, order.Action, qty, price, now)

	return []UserEvent{
		OrderEvent{Order: *order},
		FillEvent{Fill: fill},
		PositionEvent{Position: pos},
	}
}

// fillPriceLocked crosses the spread: buys lift the offer, sells hit the
// bid. Falls back to last, then a placeholder when no quote is stored.
func (m *MockBroker) fillPriceLocked(symbol string, action Action) float64 {
	q, ok := m.quotes[symbol]
	if !ok {
		return 100.0
	}
	if action == ActionBuy && q.Ask > 0 {
		return q.Ask
	}
	if action == ActionSell && q.Bid > 0 {
		return q.Bid
	}
	return q.Price()
}

func (m *MockBroker) applyFillLocked(symbol string, action Action, qty int, price float64, ts time.Time) Position {
	pos, ok := m.positions[symbol]
	if !ok {
		pos = &Position{Symbol: symbol}
		m.positions[symbol] = pos
	}

	delta := qty
	if action == ActionSell {
		delta = -qty
	}
	prev := pos.NetPos
	next := prev + delta

	switch {
	case next == 0:
		pos.NetPrice = 0
	case prev == 0 || (prev > 0) == (delta > 0):
		// Adding to (or opening) a position: blend the entry price
		total := abs(prev) + abs(delta)
		pos.NetPrice = (pos.NetPrice*float64(abs(prev)) + price*float64(abs(delta))) / float64(total)
	case (next > 0) != (prev > 0):
		// Flipped through flat: remainder is priced at the fill
		pos.NetPrice = price
	}
	pos.NetPos = next
	pos.Timestamp = ts
	return *pos
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func (m *MockBroker) emitMarket(ev MarketEvent) {
	select {
	case m.marketEvents <- ev:
		return
	default:
	}
	select {
	case <-m.marketEvents:
	default:
	}
	select {
	case m.marketEvents <- ev:
	default:
	}
}

func (m *MockBroker) emitUser(ev UserEvent) {
	select {
	case m.userEvents <- ev:
		return
	default:
	}
	select {
	case <-m.userEvents:
	default:
	}
	select {
	case m.userEvents <- ev:
	default:
	}
}
