// Package orders tracks the broker-side order book and net positions for
// the trading loop. Placements run behind the risk gate and a per-symbol
// cooldown; bracket entries against an opposing position flatten it first.
// The fill and position handlers keep local state in sync with the user
// stream and book realized P&L against the gate.
package orders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/futuresfunk/internal/broker"
	"github.com/ajitpratap0/futuresfunk/internal/clock"
	"github.com/ajitpratap0/futuresfunk/internal/config"
	"github.com/ajitpratap0/futuresfunk/internal/events"
	"github.com/ajitpratap0/futuresfunk/internal/metrics"
	"github.com/ajitpratap0/futuresfunk/internal/risk"
)

// DefaultCooldown mutes a symbol after a placement when no interval is
// configured.
const DefaultCooldown = 30 * time.Second

// Status is the local lifecycle state of a managed order.
//
//	pending → working → filled
//	                  ↘ cancelled
//	                  ↘ rejected
type Status string

const (
	StatusPending   Status = "pending"
	StatusWorking   Status = "working"
	StatusFilled    Status = "filled"
	StatusCancelled Status = "cancelled"
	StatusRejected  Status = "rejected"
)

// Type labels what kind of order was placed. Bracket marks an OSO entry
// whose protective legs rest at the broker.
type Type string

const (
	TypeMarket  Type = "Market"
	TypeLimit   Type = "Limit"
	TypeStop    Type = "Stop"
	TypeBracket Type = "Bracket"
)

// Side is the direction of a held position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
	SideFlat  Side = "flat"
)

// Order is the manager's view of one placement.
type Order struct {
	ID        int64         `json:"order_id"`
	Symbol    string        `json:"symbol"`
	Action    broker.Action `json:"action"`
	Qty       int           `json:"quantity"`
	Type      Type          `json:"order_type"`
	Status    Status        `json:"status"`
	Price     float64       `json:"price,omitempty"`      // limit price; take-profit for brackets
	StopPrice float64       `json:"stop_price,omitempty"` // stop trigger; stop-loss for brackets
	FillPrice float64       `json:"fill_price,omitempty"`
	FilledQty int           `json:"filled_qty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Position is the net position in one symbol, as last reported by the
// broker.
type Position struct {
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Quantity  int       `json:"quantity"`
	AvgPrice  float64   `json:"avg_price"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats summarizes the book for the health and metrics surfaces. Risk
// counters live on the gate.
type Stats struct {
	OpenPositions int `json:"open_positions"`
	WorkingOrders int `json:"working_orders"`
}

// Manager places orders behind the risk gate and mirrors the broker's
// order and position state. All methods are safe for concurrent use.
type Manager struct {
	gate   *risk.Gate
	broker broker.Broker
	bus    *events.Bus
	clk    clock.Clock

	cooldown time.Duration

	onFill           func(Order, float64, int)
	onPositionChange func(Position)

	mu        sync.RWMutex
	orders    map[int64]*Order
	positions map[string]*Position
	lastTrade map[string]time.Time
}

// Option customizes Manager construction.
type Option func(*Manager)

// WithClock overrides the wall clock used for cooldowns and timestamps.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clk = c
		}
	}
}

// WithOnFill registers a callback fired when an order reaches full fill,
// with the final fill price and the quantity of the completing execution.
func WithOnFill(fn func(Order, float64, int)) Option {
	return func(m *Manager) { m.onFill = fn }
}

// WithOnPositionChange registers a callback fired on every broker
// position report.
func WithOnPositionChange(fn func(Position)) Option {
	return func(m *Manager) { m.onPositionChange = fn }
}

// NewManager creates an order manager on top of the broker port. The bus
// may be nil when nothing consumes order events.
func NewManager(cfg config.TradingConfig, gate *risk.Gate, b broker.Broker, bus *events.Bus, opts ...Option) *Manager {
	m := &Manager{
		gate:      gate,
		broker:    b,
		bus:       bus,
		clk:       clock.System(),
		cooldown:  cfg.Cooldown(),
		orders:    make(map[int64]*Order),
		positions: make(map[string]*Position),
		lastTrade: make(map[string]time.Time),
	}
	if m.cooldown <= 0 {
		m.cooldown = DefaultCooldown
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ===== PLACEMENTS =====

// PlaceMarket places a market order. A risk-gate refusal returns nil
// without error.
func (m *Manager) PlaceMarket(ctx context.Context, symbol string, action broker.Action, qty int) (*Order, error) {
	if !m.allowed() {
		return nil, nil
	}
	qty = m.clampQty(qty)

	result, err := m.broker.PlaceOrder(ctx, broker.OrderRequest{
		Symbol: symbol,
		Action: action,
		Qty:    qty,
		Type:   broker.OrderTypeMarket,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to place market order: %w", err)
	}

	order := m.track(result.OrderID, symbol, action, qty, TypeMarket, 0, 0)
	log.Info().
		Int64("order_id", order.ID).
		Str("symbol", symbol).
		Str("action", string(action)).
		Int("qty", qty).
		Msg("Market order placed")
	return &order, nil
}

// PlaceLimit places a resting limit order.
func (m *Manager) PlaceLimit(ctx context.Context, symbol string, action broker.Action, qty int, price float64) (*Order, error) {
	if !m.allowed() {
		return nil, nil
	}
	qty = m.clampQty(qty)

	result, err := m.broker.PlaceOrder(ctx, broker.OrderRequest{
		Symbol: symbol,
		Action: action,
		Qty:    qty,
		Type:   broker.OrderTypeLimit,
		Price:  price,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to place limit order: %w", err)
	}

	order := m.track(result.OrderID, symbol, action, qty, TypeLimit, price, 0)
	log.Info().
		Int64("order_id", order.ID).
		Str("symbol", symbol).
		Str("action", string(action)).
		Int("qty", qty).
		Float64("price", price).
		Msg("Limit order placed")
	return &order, nil
}

// PlaceStop places a resting stop order.
func (m *Manager) PlaceStop(ctx context.Context, symbol string, action broker.Action, qty int, stopPrice float64) (*Order, error) {
	if !m.allowed() {
		return nil, nil
	}
	qty = m.clampQty(qty)

	result, err := m.broker.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:    symbol,
		Action:    action,
		Qty:       qty,
		Type:      broker.OrderTypeStop,
		StopPrice: stopPrice,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to place stop order: %w", err)
	}

	order := m.track(result.OrderID, symbol, action, qty, TypeStop, 0, stopPrice)
	log.Info().
		Int64("order_id", order.ID).
		Str("symbol", symbol).
		Str("action", string(action)).
		Int("qty", qty).
		Float64("stop_price", stopPrice).
		Msg("Stop order placed")
	return &order, nil
}

// PlaceBracket places a market entry with protective stop-loss and
// take-profit legs. Entries honor the per-symbol cooldown. An entry
// against a non-flat position flattens it instead; the fresh entry then
// waits out the cooldown stamped by the flatten.
func (m *Manager) PlaceBracket(ctx context.Context, symbol string, action broker.Action, qty int, stopLoss, takeProfit float64) (*Order, error) {
	if !m.allowed() {
		return nil, nil
	}
	if m.CooldownActive(symbol) {
		log.Debug().Str("symbol", symbol).Msg("Cooldown active, entry skipped")
		return nil, nil
	}
	if reversed, err := m.reverseIfOpposed(ctx, symbol, action); reversed || err != nil {
		return nil, err
	}
	qty = m.clampQty(qty)

	result, err := m.broker.PlaceBracket(ctx, broker.BracketRequest{
		Symbol:     symbol,
		Action:     action,
		Qty:        qty,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to place bracket order: %w", err)
	}

	order := m.track(result.OrderID, symbol, action, qty, TypeBracket, takeProfit, stopLoss)
	log.Info().
		Int64("order_id", order.ID).
		Str("symbol", symbol).
		Str("action", string(action)).
		Int("qty", qty).
		Float64("stop", stopLoss).
		Float64("target", takeProfit).
		Msg("Bracket order placed")
	return &order, nil
}

// reverseIfOpposed flattens a position that opposes the incoming entry.
func (m *Manager) reverseIfOpposed(ctx context.Context, symbol string, action broker.Action) (bool, error) {
	pos := m.Position(symbol)
	if pos == nil || pos.Side == SideFlat || !opposes(pos.Side, action) {
		return false, nil
	}

	if err := m.Flatten(ctx, symbol); err != nil {
		return true, fmt.Errorf("failed to reverse %s: %w", symbol, err)
	}
	log.Info().
		Str("symbol", symbol).
		Str("side", string(pos.Side)).
		Str("signal", string(action)).
		Msg("Position reversed")
	return true, nil
}

// ===== CANCELS AND FLATTENING =====

// CancelOrder cancels one order at the broker and marks it locally.
func (m *Manager) CancelOrder(ctx context.Context, orderID int64) error {
	if err := m.broker.CancelOrder(ctx, orderID); err != nil {
		return fmt.Errorf("failed to cancel order %d: %w", orderID, err)
	}
	m.transition(orderID, StatusCancelled)
	return nil
}

// CancelAll cancels every working or pending order at the broker,
// narrowed to one symbol when given. Returns how many were cancelled;
// individual cancel failures are logged and skipped.
func (m *Manager) CancelAll(ctx context.Context, symbol string) (int, error) {
	states, err := m.broker.Orders(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list orders: %w", err)
	}

	cancelled := 0
	for _, state := range states {
		if symbol != "" && state.Symbol != symbol {
			continue
		}
		if state.Status != broker.StatusWorking && state.Status != broker.StatusPending {
			continue
		}
		if err := m.CancelOrder(ctx, state.ID); err != nil {
			log.Warn().Err(err).Int64("order_id", state.ID).Msg("Cancel failed")
			continue
		}
		cancelled++
	}

	log.Info().Int("count", cancelled).Msg("Orders cancelled")
	return cancelled, nil
}

// Flatten closes the position in a symbol at market and stamps the
// cooldown. Local position state is left to the broker's own fill and
// position reports, which carry the exit price the P&L booking needs.
func (m *Manager) Flatten(ctx context.Context, symbol string) error {
	if err := m.broker.Liquidate(ctx, symbol); err != nil {
		return fmt.Errorf("failed to flatten %s: %w", symbol, err)
	}

	m.mu.Lock()
	m.lastTrade[symbol] = m.clk.Now().UTC()
	m.mu.Unlock()

	log.Info().Str("symbol", symbol).Msg("Position flattened")
	return nil
}

// FlattenAll closes every non-flat position. Returns how many were
// flattened; failures are logged and skipped.
func (m *Manager) FlattenAll(ctx context.Context) int {
	m.mu.RLock()
	symbols := make([]string, 0, len(m.positions))
	for symbol, pos := range m.positions {
		if pos.Side != SideFlat {
			symbols = append(symbols, symbol)
		}
	}
	m.mu.RUnlock()

	flattened := 0
	for _, symbol := range symbols {
		if err := m.Flatten(ctx, symbol); err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("Flatten failed")
			continue
		}
		flattened++
	}

	log.Info().Int("count", flattened).Msg("All positions flattened")
	return flattened
}

// SyncPositions refreshes local position state from the broker's account
// snapshot.
func (m *Manager) SyncPositions(ctx context.Context) error {
	positions, err := m.broker.Positions(ctx)
	if err != nil {
		return fmt.Errorf("failed to sync positions: %w", err)
	}

	m.mu.Lock()
	for _, p := range positions {
		pos := m.positionFromNet(p)
		m.positions[p.Symbol] = &pos
	}
	m.mu.Unlock()

	log.Info().Int("count", len(positions)).Msg("Positions synced")
	return nil
}

// ===== EVENT HANDLERS =====

// HandleUserEvent dispatches one trading-stream event. StreamStatus is
// ignored here; the supervisor reacts to stream health itself.
func (m *Manager) HandleUserEvent(ev broker.UserEvent) {
	switch e := ev.(type) {
	case broker.FillEvent:
		m.handleFill(e.Fill)
	case broker.PositionEvent:
		m.handlePosition(e.Position)
	case broker.OrderEvent:
		m.handleOrder(e.Order)
	}
}

// handleFill applies one execution: updates the tracked order, fires the
// full-fill hooks, and books realized P&L for the closed part of the
// position. The broker's position report arrives separately and stays
// authoritative for what remains.
func (m *Manager) handleFill(fill broker.Fill) {
	ts := fill.Timestamp
	if ts.IsZero() {
		ts = m.clk.Now().UTC()
	}

	var (
		snapshot  Order
		tracked   bool
		completed bool
		action    broker.Action
	)

	m.mu.Lock()
	if order, ok := m.orders[fill.OrderID]; ok {
		tracked = true
		action = order.Action
		order.FillPrice = fill.Price
		order.FilledQty += fill.Qty
		if order.Status != StatusFilled && order.FilledQty >= order.Qty {
			order.Status = StatusFilled
			order.Timestamp = ts
			completed = true
		}
		snapshot = *order
	}
	pnl, closed := m.realizeLocked(fill.Symbol, action, fill.Price, fill.Qty)
	m.mu.Unlock()

	if tracked {
		log.Info().
			Int64("order_id", fill.OrderID).
			Float64("price", fill.Price).
			Int("qty", fill.Qty).
			Msg("Order filled")
	}
	if completed {
		m.publishOrder(snapshot)
		m.publish(events.OrderFilled{
			OrderID:   snapshot.ID,
			Symbol:    snapshot.Symbol,
			Action:    string(snapshot.Action),
			Qty:       snapshot.FilledQty,
			FillPrice: snapshot.FillPrice,
			Timestamp: ts,
		})
		if m.onFill != nil {
			m.onFill(snapshot, fill.Price, fill.Qty)
		}
	}

	if closed > 0 {
		m.gate.RecordTrade(pnl)
		m.publish(events.FillRecorded{Symbol: fill.Symbol, Price: fill.Price, Qty: closed, PnL: pnl, Timestamp: ts})
		log.Debug().
			Str("symbol", fill.Symbol).
			Int("closed_qty", closed).
			Float64("pnl", pnl).
			Msg("Realized P&L attributed")
	}
}

// handleOrder reconciles a broker-side status change with the local book.
// Fill transitions come from the fill handler, which also has the price.
func (m *Manager) handleOrder(state broker.OrderState) {
	status, ok := statusFromBroker(state.Status)
	if !ok {
		return
	}
	m.transition(state.ID, status)
}

// handlePosition applies the broker's net position report: positive long,
// negative short, zero flat.
func (m *Manager) handlePosition(p broker.Position) {
	pos := m.positionFromNet(p)

	m.mu.Lock()
	stored := pos
	m.positions[p.Symbol] = &stored
	m.mu.Unlock()

	log.Info().
		Str("symbol", p.Symbol).
		Str("side", string(pos.Side)).
		Int("qty", pos.Quantity).
		Msg("Position updated")

	metrics.UpdatePosition(p.Symbol, p.NetPos, float64(pos.Quantity)*pos.AvgPrice*PointValue(p.Symbol))
	m.publish(events.PositionUpdate{
		Symbol:    p.Symbol,
		Side:      string(pos.Side),
		Qty:       pos.Quantity,
		AvgPrice:  pos.AvgPrice,
		Timestamp: pos.Timestamp,
	})
	if m.onPositionChange != nil {
		m.onPositionChange(pos)
	}
}

// realizeLocked books the closed quantity of a fill against the tracked
// position and returns its realized P&L. An untracked fill is assumed to
// oppose the position: the only untracked orders this bot produces are
// bracket exit legs and liquidations. The local quantity is reduced so a
// multi-fill exit is not double counted; the broker's next position
// report remains authoritative.
func (m *Manager) realizeLocked(symbol string, action broker.Action, price float64, qty int) (float64, int) {
	pos, ok := m.positions[symbol]
	if !ok || pos.Side == SideFlat || pos.Quantity <= 0 || price <= 0 || qty <= 0 {
		return 0, 0
	}
	if action != "" && !opposes(pos.Side, action) {
		return 0, 0
	}

	closed := min(qty, pos.Quantity)
	points := price - pos.AvgPrice
	if pos.Side == SideShort {
		points = -points
	}

	pos.Quantity -= closed
	if pos.Quantity == 0 {
		pos.Side = SideFlat
	}

	return points * float64(closed) * PointValue(symbol), closed
}

// ===== STATE ACCESS =====

// CooldownActive reports whether the symbol is still muted after a recent
// placement or flatten.
func (m *Manager) CooldownActive(symbol string) bool {
	m.mu.RLock()
	last, ok := m.lastTrade[symbol]
	m.mu.RUnlock()
	return ok && m.clk.Now().Sub(last) < m.cooldown
}

// Position returns a copy of the tracked position for a symbol, or nil
// when the broker has never reported one.
func (m *Manager) Position(symbol string) *Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[symbol]
	if !ok {
		return nil
	}
	out := *pos
	return &out
}

// Positions returns a copy of every tracked position.
func (m *Manager) Positions() map[string]Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Position, len(m.positions))
	for symbol, pos := range m.positions {
		out[symbol] = *pos
	}
	return out
}

// Order returns a copy of a tracked order, or nil for unknown ids.
func (m *Manager) Order(orderID int64) *Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order, ok := m.orders[orderID]
	if !ok {
		return nil
	}
	out := *order
	return &out
}

// WorkingOrders returns the orders still working at the broker.
func (m *Manager) WorkingOrders() []Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Order
	for _, order := range m.orders {
		if order.Status == StatusWorking {
			out = append(out, *order)
		}
	}
	return out
}

// Stats counts open positions and working orders.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var st Stats
	for _, pos := range m.positions {
		if pos.Side != SideFlat {
			st.OpenPositions++
		}
	}
	for _, order := range m.orders {
		if order.Status == StatusWorking {
			st.WorkingOrders++
		}
	}
	return st
}

// ===== INTERNAL =====

// allowed consults the risk gate. A refusal is a logged no-op, not an
// error, so a blocked day cannot crash the loop.
func (m *Manager) allowed() bool {
	ok, reason := m.gate.CanTrade()
	if !ok {
		log.Warn().Str("reason", reason).Msg("Cannot trade")
	}
	return ok
}

// clampQty caps the quantity at the configured per-trade position limit.
func (m *Manager) clampQty(qty int) int {
	if limit := m.gate.MaxPositionSize(); limit > 0 {
		return min(qty, limit)
	}
	return qty
}

// track stores a broker-accepted order as working, stamps the symbol
// cooldown and publishes the transition.
func (m *Manager) track(orderID int64, symbol string, action broker.Action, qty int, typ Type, price, stopPrice float64) Order {
	now := m.clk.Now().UTC()
	order := &Order{
		ID:        orderID,
		Symbol:    symbol,
		Action:    action,
		Qty:       qty,
		Type:      typ,
		Status:    StatusWorking,
		Price:     price,
		StopPrice: stopPrice,
		Timestamp: now,
	}

	m.mu.Lock()
	m.orders[orderID] = order
	m.lastTrade[symbol] = now
	snapshot := *order
	m.mu.Unlock()

	m.publishOrder(snapshot)
	return snapshot
}

// transition applies a local status change and publishes it. Terminal
// states are sticky and working never regresses to pending.
func (m *Manager) transition(orderID int64, status Status) {
	m.mu.Lock()
	order, ok := m.orders[orderID]
	if !ok || order.Status == status || terminal(order.Status) ||
		(order.Status == StatusWorking && status == StatusPending) {
		m.mu.Unlock()
		return
	}
	order.Status = status
	order.Timestamp = m.clk.Now().UTC()
	snapshot := *order
	m.mu.Unlock()

	m.publishOrder(snapshot)
}

func terminal(s Status) bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// statusFromBroker maps the broker status vocabulary onto the local state
// machine. Filled is excluded: fills carry prices, so the fill handler
// owns that transition.
func statusFromBroker(s string) (Status, bool) {
	switch s {
	case broker.StatusPending:
		return StatusPending, true
	case broker.StatusWorking:
		return StatusWorking, true
	case broker.StatusCanceled:
		return StatusCancelled, true
	case broker.StatusRejected:
		return StatusRejected, true
	default:
		return "", false
	}
}

// sideForNet maps a signed net position onto a side.
func sideForNet(netPos int) Side {
	switch {
	case netPos > 0:
		return SideLong
	case netPos < 0:
		return SideShort
	default:
		return SideFlat
	}
}

// positionFromNet converts the broker's signed report into the local view.
func (m *Manager) positionFromNet(p broker.Position) Position {
	qty := p.NetPos
	if qty < 0 {
		qty = -qty
	}
	ts := p.Timestamp
	if ts.IsZero() {
		ts = m.clk.Now().UTC()
	}
	return Position{
		Symbol:    p.Symbol,
		Side:      sideForNet(p.NetPos),
		Quantity:  qty,
		AvgPrice:  p.NetPrice,
		Timestamp: ts,
	}
}

// opposes reports whether an order direction would reduce the position.
func opposes(side Side, action broker.Action) bool {
	return (side == SideLong && action == broker.ActionSell) ||
		(side == SideShort && action == broker.ActionBuy)
}

func (m *Manager) publishOrder(o Order) {
	m.publish(events.OrderUpdate{
		OrderID:   o.ID,
		Symbol:    o.Symbol,
		Action:    string(o.Action),
		Status:    string(o.Status),
		Timestamp: o.Timestamp,
	})
}

func (m *Manager) publish(ev events.Event) {
	if m.bus != nil {
		m.bus.Publish(ev)
	}
}
