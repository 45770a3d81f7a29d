package market

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/futuresfunk/internal/broker"
	"github.com/ajitpratap0/futuresfunk/internal/events"
)

const (
	// DefaultTickCapacity bounds the per-symbol tick ring.
	DefaultTickCapacity = 10000
	// DefaultBarCapacity bounds the per-symbol completed-bar ring.
	DefaultBarCapacity = 500
)

// Store holds live market state per symbol: the latest quote, a bounded
// tick ring, a bounded ring of completed bars and at most one forming
// bar. It is written only by the market-stream path and read by the
// decision path.
type Store struct {
	mu      sync.RWMutex
	symbols map[string]*symbolState
	tickCap int
	barCap  int
	bus     *events.Bus
}

type symbolState struct {
	quote    broker.Quote
	hasQuote bool
	ticks    *ring[broker.Tick]
	bars     *ring[broker.Bar]
	forming  *broker.Bar
}

// Option customizes store construction.
type Option func(*Store)

// WithTickCapacity overrides the tick ring size.
func WithTickCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.tickCap = n
		}
	}
}

// WithBarCapacity overrides the completed-bar ring size.
func WithBarCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.barCap = n
		}
	}
}

// NewStore creates a market store. Quote updates and completed bars are
// published on the bus when one is provided.
func NewStore(bus *events.Bus, opts ...Option) *Store {
	s := &Store{
		symbols: make(map[string]*symbolState),
		tickCap: DefaultTickCapacity,
		barCap:  DefaultBarCapacity,
		bus:     bus,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) ensureState(symbol string) *symbolState {
	state, ok := s.symbols[symbol]
	if !ok {
		state = &symbolState{
			ticks: newRing[broker.Tick](s.tickCap),
			bars:  newRing[broker.Bar](s.barCap),
		}
		s.symbols[symbol] = state
	}
	return state
}

// ApplyQuote stores the latest top-of-book snapshot for the symbol.
func (s *Store) ApplyQuote(q broker.Quote) {
	if q.Symbol == "" {
		return
	}

	s.mu.Lock()
	state := s.ensureState(q.Symbol)
	state.quote = q
	state.hasQuote = true
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(events.QuoteUpdate{
			Symbol:    q.Symbol,
			Bid:       q.Bid,
			Ask:       q.Ask,
			Last:      q.Last,
			Timestamp: q.Timestamp,
		})
	}
}

// ApplyBar processes one bar update from the stream. A complete bar is
// appended to the ring and announced on the bus; an incomplete bar
// replaces the current forming bar. A complete bar re-delivered with the
// timestamp of the latest stored bar (subscription replay after a
// reconnect) replaces it in place instead of appending twice. The return
// reports whether a new complete bar was appended, so callers folding
// bars into downstream state skip the replayed minute too.
func (s *Store) ApplyBar(symbol string, bar broker.Bar, complete bool) bool {
	if symbol == "" {
		return false
	}

	s.mu.Lock()
	state := s.ensureState(symbol)

	if !complete {
		forming := bar
		state.forming = &forming
		s.mu.Unlock()
		return false
	}

	replaced := state.bars.replaceLastIf(func(last broker.Bar) bool {
		return last.Timestamp.Equal(bar.Timestamp)
	}, bar)
	if !replaced {
		state.bars.push(bar)
	}
	state.forming = nil
	s.mu.Unlock()

	if replaced || s.bus == nil {
		return !replaced
	}
	s.bus.Publish(events.BarComplete{
		Symbol:    symbol,
		Timestamp: bar.Timestamp,
		Open:      bar.Open,
		High:      bar.High,
		Low:       bar.Low,
		Close:     bar.Close,
		Volume:    bar.Volume,
	})
	return true
}

// ApplyTick appends a trade print and folds it into the forming bar:
// high/low extend, close tracks the print, volume accumulates. The first
// tick of a minute opens a fresh forming bar.
func (s *Store) ApplyTick(symbol string, t broker.Tick) {
	if symbol == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.ensureState(symbol)
	state.ticks.push(t)

	if state.forming == nil {
		state.forming = &broker.Bar{
			Timestamp: t.Timestamp.Truncate(time.Minute),
			Open:      t.Price,
			High:      t.Price,
			Low:       t.Price,
			Close:     t.Price,
			Volume:    t.Size,
		}
		return
	}

	if t.Price > state.forming.High {
		state.forming.High = t.Price
	}
	if t.Price < state.forming.Low {
		state.forming.Low = t.Price
	}
	state.forming.Close = t.Price
	state.forming.Volume += t.Size
}

// SeedHistory appends historical bars oldest-first, as returned by the
// REST chart endpoint. No events fire for seeded bars. Returns the count
// stored.
func (s *Store) SeedHistory(symbol string, bars []broker.Bar) int {
	if symbol == "" || len(bars) == 0 {
		return 0
	}

	s.mu.Lock()
	state := s.ensureState(symbol)
	for _, bar := range bars {
		state.bars.push(bar)
	}
	count := state.bars.len()
	s.mu.Unlock()

	log.Info().
		Str("symbol", symbol).
		Int("seeded", len(bars)).
		Int("retained", count).
		Msg("Historical bars loaded")
	return len(bars)
}

// Quote returns the latest quote for the symbol.
func (s *Store) Quote(symbol string) (broker.Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.symbols[symbol]
	if !ok || !state.hasQuote {
		return broker.Quote{}, false
	}
	return state.quote, true
}

// Forming returns the current forming bar, if any.
func (s *Store) Forming(symbol string) (broker.Bar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.symbols[symbol]
	if !ok || state.forming == nil {
		return broker.Bar{}, false
	}
	return *state.forming, true
}

// Bars returns the completed bars oldest-first.
func (s *Store) Bars(symbol string) []broker.Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.symbols[symbol]
	if !ok {
		return nil
	}
	return state.bars.items()
}

// LastBars returns up to n of the most recent completed bars,
// oldest-first.
func (s *Store) LastBars(symbol string, n int) []broker.Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.symbols[symbol]
	if !ok {
		return nil
	}
	return state.bars.last(n)
}

// BarCount returns the number of completed bars held for the symbol.
func (s *Store) BarCount(symbol string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.symbols[symbol]
	if !ok {
		return 0
	}
	return state.bars.len()
}

// Ticks returns the retained trade prints oldest-first.
func (s *Store) Ticks(symbol string) []broker.Tick {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.symbols[symbol]
	if !ok {
		return nil
	}
	return state.ticks.items()
}

// Closes returns the close of every completed bar, oldest-first.
func (s *Store) Closes(symbol string) []float64 {
	return s.barField(symbol, func(b broker.Bar) float64 { return b.Close })
}

// Highs returns the high of every completed bar, oldest-first.
func (s *Store) Highs(symbol string) []float64 {
	return s.barField(symbol, func(b broker.Bar) float64 { return b.High })
}

// Lows returns the low of every completed bar, oldest-first.
func (s *Store) Lows(symbol string) []float64 {
	return s.barField(symbol, func(b broker.Bar) float64 { return b.Low })
}

func (s *Store) barField(symbol string, field func(broker.Bar) float64) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.symbols[symbol]
	if !ok {
		return nil
	}
	bars := state.bars.items()
	out := make([]float64, len(bars))
	for i, bar := range bars {
		out[i] = field(bar)
	}
	return out
}

// Stats reports per-symbol retention counts for monitoring.
func (s *Store) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	perSymbol := make(map[string]interface{}, len(s.symbols))
	for symbol, state := range s.symbols {
		perSymbol[symbol] = map[string]interface{}{
			"ticks":       state.ticks.len(),
			"bars":        state.bars.len(),
			"has_quote":   state.hasQuote,
			"has_forming": state.forming != nil,
		}
	}
	return map[string]interface{}{
		"symbols":       len(s.symbols),
		"tick_capacity": s.tickCap,
		"bar_capacity":  s.barCap,
		"per_symbol":    perSymbol,
	}
}
