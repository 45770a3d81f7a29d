package journal

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/futuresfunk/internal/events"
	"github.com/ajitpratap0/futuresfunk/internal/orders"
)

// decisionMaxAge bounds how old a cached decision may be before an entry
// fill stops inheriting its signal context.
const decisionMaxAge = time.Minute

// OrderBook looks up tracked orders so entry rows can carry the bracket's
// protective prices. The orders manager satisfies it.
type OrderBook interface {
	Order(id int64) *orders.Order
}

// Recorder subscribes to the event bus and journals trading activity: a
// completed entry order opens a trade row, realized P&L bookings roll the
// daily performance forward and close the row once the position is gone.
// DecisionMade events are cached per symbol so entries carry the signal
// that produced them. All failures are logged and swallowed — journaling
// never interrupts trading.
type Recorder struct {
	journal *Journal
	bus     *events.Bus
	book    OrderBook
	fee     float64 // round-turn fee per contract, applied on exit bookings

	mu        sync.Mutex
	open      map[string][]*openTrade
	decisions map[string]events.DecisionMade
}

// openTrade tracks a journaled entry until its exits drain it.
type openTrade struct {
	id        uuid.UUID
	action    string
	remaining int
	pnl       float64
}

// RecorderOption customizes recorder construction.
type RecorderOption func(*Recorder)

// WithOrderBook lets entry rows pull stop/target prices off the originating
// bracket order.
func WithOrderBook(book OrderBook) RecorderOption {
	return func(r *Recorder) {
		r.book = book
	}
}

// WithRoundTurnFee sets the per-contract commission folded into daily net
// P&L on every exit booking.
func WithRoundTurnFee(fee float64) RecorderOption {
	return func(r *Recorder) {
		if fee >= 0 {
			r.fee = fee
		}
	}
}

// NewRecorder creates a recorder writing through the given journal.
func NewRecorder(j *Journal, bus *events.Bus, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		journal:   j,
		bus:       bus,
		open:      make(map[string][]*openTrade),
		decisions: make(map[string]events.DecisionMade),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run consumes bus events until the context is cancelled or the bus closes.
// With a disabled journal it just parks, so callers can start it
// unconditionally.
func (r *Recorder) Run(ctx context.Context) {
	if !r.journal.Enabled() {
		log.Debug().Msg("Journal disabled, recorder idle")
		<-ctx.Done()
		return
	}

	r.restore(ctx)

	sub := r.bus.Subscribe(events.KindDecisionMade, events.KindOrderFilled, events.KindFillRecorded)
	defer sub.Unsubscribe()

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			r.handle(ctx, ev)
		case <-ctx.Done():
			return
		}
	}
}

// restore reloads open trades so exits arriving after a restart still close
// their rows.
func (r *Recorder) restore(ctx context.Context) {
	trades, err := r.journal.GetOpenTrades(ctx)
	if err != nil {
		if !errors.Is(err, ErrDisabled) {
			log.Warn().Err(err).Msg("Failed to restore open trades from journal")
		}
		return
	}
	if len(trades) == 0 {
		return
	}

	r.mu.Lock()
	for i := range trades {
		t := &trades[i]
		r.open[t.Symbol] = append(r.open[t.Symbol], &openTrade{
			id:        t.ID,
			action:    t.Action,
			remaining: t.Quantity,
		})
	}
	r.mu.Unlock()

	log.Info().Int("count", len(trades)).Msg("Open trades restored from journal")
}

func (r *Recorder) handle(ctx context.Context, ev events.Event) {
	switch e := ev.(type) {
	case events.DecisionMade:
		if e.Action == "HOLD" {
			return
		}
		r.mu.Lock()
		r.decisions[e.Symbol] = e
		r.mu.Unlock()
	case events.OrderFilled:
		r.recordEntry(ctx, e)
	case events.FillRecorded:
		r.recordExit(ctx, e)
	}
}

// recordEntry opens a trade row for a completed order. A fill whose side
// opposes the open queue is a close — its row is settled by the matching
// FillRecorded booking, not opened anew.
func (r *Recorder) recordEntry(ctx context.Context, ev events.OrderFilled) {
	action := strings.ToUpper(ev.Action)

	r.mu.Lock()
	if q := r.open[ev.Symbol]; len(q) > 0 && q[0].action != action {
		r.mu.Unlock()
		log.Debug().
			Str("symbol", ev.Symbol).
			Int64("order_id", ev.OrderID).
			Msg("Closing fill, exit booked separately")
		return
	}
	decision, hasDecision := r.decisions[ev.Symbol]
	r.mu.Unlock()

	t := &Trade{
		Symbol:     ev.Symbol,
		Action:     action,
		Quantity:   ev.Qty,
		EntryPrice: ev.FillPrice,
		EntryTime:  ev.Timestamp,
	}

	if hasDecision && decision.Action == action && freshEnough(decision.Timestamp, ev.Timestamp) {
		score := decision.SentimentScore
		conf := decision.Confidence
		t.SentimentScore = &score
		t.Confidence = &conf
		if decision.Reasoning != "" {
			reason := decision.Reasoning
			t.Reasoning = &reason
		}
	}

	if r.book != nil {
		if ord := r.book.Order(ev.OrderID); ord != nil && ord.Type == orders.TypeBracket {
			if ord.StopPrice > 0 {
				sl := ord.StopPrice
				t.StopLoss = &sl
			}
			if ord.Price > 0 {
				tp := ord.Price
				t.TakeProfit = &tp
			}
		}
	}

	if err := r.journal.RecordTrade(ctx, t); err != nil {
		log.Warn().Err(err).Str("symbol", ev.Symbol).Msg("Failed to journal trade entry")
		return
	}

	r.mu.Lock()
	r.open[ev.Symbol] = append(r.open[ev.Symbol], &openTrade{
		id:        t.ID,
		action:    action,
		remaining: t.Quantity,
	})
	r.mu.Unlock()
}

// recordExit books one realized P&L chunk: the daily row always absorbs it,
// and the oldest open trade for the symbol closes once its quantity drains.
// Partial exits accumulate on the open trade so the final row carries the
// whole round trip.
func (r *Recorder) recordExit(ctx context.Context, ev events.FillRecorded) {
	fees := r.fee * float64(ev.Qty)
	if err := r.journal.UpsertDailyPerformance(ctx, ev.Timestamp, ev.PnL, fees); err != nil {
		log.Warn().Err(err).Str("symbol", ev.Symbol).Msg("Failed to journal daily performance")
	}

	r.mu.Lock()
	q := r.open[ev.Symbol]
	if len(q) == 0 {
		r.mu.Unlock()
		log.Debug().Str("symbol", ev.Symbol).Msg("Realized fill without a journaled entry")
		return
	}
	head := q[0]
	head.remaining -= ev.Qty
	head.pnl += ev.PnL
	done := head.remaining <= 0
	if done {
		r.open[ev.Symbol] = q[1:]
	}
	r.mu.Unlock()

	if !done {
		return
	}
	if err := r.journal.UpdateTradeExit(ctx, head.id, ev.Price, head.pnl, ev.Timestamp); err != nil {
		log.Warn().
			Err(err).
			Str("symbol", ev.Symbol).
			Str("trade_id", head.id.String()).
			Msg("Failed to journal trade exit")
	}
}

// freshEnough reports whether a cached decision is recent enough to count as
// the context for an entry filled at the given time.
func freshEnough(decidedAt, filledAt time.Time) bool {
	if decidedAt.IsZero() || filledAt.IsZero() {
		return true
	}
	return filledAt.Sub(decidedAt) <= decisionMaxAge
}
