package indicators

import (
	"math"

	"github.com/rs/zerolog/log"
)

// Default periods for the bar-driven engine.
const (
	DefaultFastPeriod = 9
	DefaultSlowPeriod = 21
	DefaultATRPeriod  = 14
	DefaultRSIPeriod  = 14

	// ATR multipliers for protective stop and profit target.
	DefaultStopMultiplier   = 1.5
	DefaultTargetMultiplier = 2.0
)

// Values is a snapshot of the engine's current readings. Signal is +1 on
// a fast-over-slow cross, -1 on the reverse cross, 0 otherwise. RSI reads
// 50 until enough deltas have accumulated.
type Values struct {
	EMAFast   float64 `json:"ema_fast"`
	EMASlow   float64 `json:"ema_slow"`
	ATR       float64 `json:"atr"`
	RSI       float64 `json:"rsi"`
	Signal    int     `json:"signal"`
	CrossUp   bool    `json:"cross_up"`
	CrossDown bool    `json:"cross_down"`
}

// Engine computes EMA crossover, ATR and RSI incrementally from completed
// bars for a single symbol. It is not safe for concurrent use; the trading
// loop owns one engine per symbol.
type Engine struct {
	fastPeriod int
	slowPeriod int
	atrPeriod  int
	rsiPeriod  int

	fastMult   float64
	slowMult   float64
	atrMult    float64
	rsiMult    float64
	stopMult   float64
	targetMult float64

	samples int

	emaFast  float64
	emaSlow  float64
	prevFast float64
	prevSlow float64
	hasEMA   bool
	hasPrev  bool

	atr    float64
	hasATR bool

	prevClose    float64
	hasPrevClose bool

	avgGain  float64
	avgLoss  float64
	gainSum  float64
	lossSum  float64
	deltas   int
	rsiReady bool
}

// EngineOption customizes engine construction.
type EngineOption func(*Engine)

// WithEMAPeriods overrides the fast/slow crossover periods.
func WithEMAPeriods(fast, slow int) EngineOption {
	return func(e *Engine) {
		if fast > 0 && slow > fast {
			e.fastPeriod = fast
			e.slowPeriod = slow
		}
	}
}

// WithATRPeriod overrides the ATR smoothing period.
func WithATRPeriod(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.atrPeriod = n
		}
	}
}

// WithRSIPeriod overrides the RSI smoothing period.
func WithRSIPeriod(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.rsiPeriod = n
		}
	}
}

// WithStopTarget overrides the ATR multipliers used for bracket pricing.
func WithStopTarget(stop, target float64) EngineOption {
	return func(e *Engine) {
		if stop > 0 && target > 0 {
			e.stopMult = stop
			e.targetMult = target
		}
	}
}

// NewEngine creates an indicator engine with 9/21 EMA, ATR(14), RSI(14).
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		fastPeriod: DefaultFastPeriod,
		slowPeriod: DefaultSlowPeriod,
		atrPeriod:  DefaultATRPeriod,
		rsiPeriod:  DefaultRSIPeriod,
		stopMult:   DefaultStopMultiplier,
		targetMult: DefaultTargetMultiplier,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.fastMult = emaMultiplier(e.fastPeriod)
	e.slowMult = emaMultiplier(e.slowPeriod)
	e.atrMult = emaMultiplier(e.atrPeriod)
	e.rsiMult = emaMultiplier(e.rsiPeriod)
	return e
}

func emaMultiplier(period int) float64 {
	return 2.0 / (float64(period) + 1.0)
}

// Ready reports whether enough bars have been observed for the slow EMA
// to be meaningful. The decision loop holds until this turns true.
func (e *Engine) Ready() bool {
	return e.samples >= e.slowPeriod
}

// Samples returns the number of bars folded into the engine.
func (e *Engine) Samples() int {
	return e.samples
}

// Update folds one completed bar into the engine and returns the
// resulting snapshot. Previous EMA values are captured before the update
// so the crossover test compares consecutive bars.
func (e *Engine) Update(close, high, low float64) Values {
	e.prevFast = e.emaFast
	e.prevSlow = e.emaSlow
	e.hasPrev = e.hasEMA

	if e.hasEMA {
		e.emaFast = (close-e.emaFast)*e.fastMult + e.emaFast
		e.emaSlow = (close-e.emaSlow)*e.slowMult + e.emaSlow
	} else {
		e.emaFast = close
		e.emaSlow = close
		e.hasEMA = true
	}

	prevClose := close
	if e.hasPrevClose {
		prevClose = e.prevClose
	}
	tr := trueRange(high, low, prevClose)
	if e.hasATR {
		e.atr = (tr-e.atr)*e.atrMult + e.atr
	} else {
		e.atr = tr
		e.hasATR = true
	}

	if e.hasPrevClose {
		e.updateRSI(close - e.prevClose)
	}
	e.prevClose = close
	e.hasPrevClose = true

	e.samples++
	return e.values()
}

// Seed initializes the engine from historical bars, oldest-first. Each
// EMA seeds with the simple average of its first period closes and runs
// the incremental form over the remainder; histories shorter than a
// period fall back to the incremental form throughout. Slices may differ
// in length; ATR uses only the index range covered by all three.
func (e *Engine) Seed(closes, highs, lows []float64) Values {
	if len(closes) == 0 {
		return e.values()
	}

	e.emaFast, e.prevFast, e.hasEMA, e.hasPrev = seededEMA(closes, e.fastPeriod, e.fastMult)
	slow, prevSlow, okSlow, okPrevSlow := seededEMA(closes, e.slowPeriod, e.slowMult)
	e.emaSlow = slow
	e.prevSlow = prevSlow
	e.hasEMA = e.hasEMA && okSlow
	e.hasPrev = e.hasPrev && okPrevSlow

	n := len(closes)
	if len(highs) < n {
		n = len(highs)
	}
	if len(lows) < n {
		n = len(lows)
	}
	if n >= 2 {
		trs := make([]float64, 0, n-1)
		for i := 1; i < n; i++ {
			trs = append(trs, trueRange(highs[i], lows[i], closes[i-1]))
		}
		e.atr, _, e.hasATR, _ = seededEMA(trs, e.atrPeriod, e.atrMult)
	}

	e.seedRSI(closes)

	e.prevClose = closes[len(closes)-1]
	e.hasPrevClose = true
	e.samples = len(closes)

	v := e.values()
	log.Info().
		Int("bars", len(closes)).
		Bool("ready", e.Ready()).
		Float64("ema_fast", v.EMAFast).
		Float64("ema_slow", v.EMASlow).
		Float64("atr", v.ATR).
		Msg("Indicator engine seeded")
	return v
}

// Current returns the latest snapshot without folding in new data.
func (e *Engine) Current() Values {
	return e.values()
}

// StopTarget derives bracket prices from the entry and the current ATR:
// stop at entry -/+ 1.5*ATR, target at entry +/- 2*ATR depending on side.
// ok is false until an ATR exists.
func (e *Engine) StopTarget(entry float64, long bool) (stop, target float64, ok bool) {
	if !e.hasATR || e.atr <= 0 {
		return 0, 0, false
	}
	if long {
		return entry - e.stopMult*e.atr, entry + e.targetMult*e.atr, true
	}
	return entry + e.stopMult*e.atr, entry - e.targetMult*e.atr, true
}

// ATRValue returns the current ATR and whether one exists yet.
func (e *Engine) ATRValue() (float64, bool) {
	return e.atr, e.hasATR
}

// Reset clears all accumulated state.
func (e *Engine) Reset() {
	mults := *e
	*e = Engine{
		fastPeriod: mults.fastPeriod,
		slowPeriod: mults.slowPeriod,
		atrPeriod:  mults.atrPeriod,
		rsiPeriod:  mults.rsiPeriod,
		fastMult:   mults.fastMult,
		slowMult:   mults.slowMult,
		atrMult:    mults.atrMult,
		rsiMult:    mults.rsiMult,
		stopMult:   mults.stopMult,
		targetMult: mults.targetMult,
	}
}

func (e *Engine) values() Values {
	v := Values{
		EMAFast: e.emaFast,
		EMASlow: e.emaSlow,
		ATR:     e.atr,
		RSI:     e.rsi(),
	}
	if e.hasPrev && e.hasEMA {
		v.CrossUp = e.prevFast <= e.prevSlow && e.emaFast > e.emaSlow
		v.CrossDown = e.prevFast >= e.prevSlow && e.emaFast < e.emaSlow
	}
	if v.CrossUp {
		v.Signal = 1
	} else if v.CrossDown {
		v.Signal = -1
	}
	return v
}

// updateRSI folds one close-to-close delta into the smoothed gain/loss
// averages. The first rsiPeriod deltas build a simple average; the
// EMA recurrence takes over from there.
func (e *Engine) updateRSI(delta float64) {
	gain := math.Max(0, delta)
	loss := math.Max(0, -delta)

	if !e.rsiReady {
		e.gainSum += gain
		e.lossSum += loss
		e.deltas++
		if e.deltas >= e.rsiPeriod {
			e.avgGain = e.gainSum / float64(e.rsiPeriod)
			e.avgLoss = e.lossSum / float64(e.rsiPeriod)
			e.rsiReady = true
		}
		return
	}

	e.avgGain = (gain-e.avgGain)*e.rsiMult + e.avgGain
	e.avgLoss = (loss-e.avgLoss)*e.rsiMult + e.avgLoss
}

func (e *Engine) seedRSI(closes []float64) {
	for i := 1; i < len(closes); i++ {
		e.updateRSI(closes[i] - closes[i-1])
	}
}

// rsi reads 50 while warming up and 100 when no losses have been seen.
func (e *Engine) rsi() float64 {
	if !e.rsiReady {
		return 50.0
	}
	if e.avgLoss == 0 {
		return 100.0
	}
	rs := e.avgGain / e.avgLoss
	return 100.0 - 100.0/(1.0+rs)
}

func trueRange(high, low, prevClose float64) float64 {
	tr := high - low
	if d := math.Abs(high - prevClose); d > tr {
		tr = d
	}
	if d := math.Abs(low - prevClose); d > tr {
		tr = d
	}
	return tr
}

// seededEMA computes the final and previous EMA over the series. With at
// least period samples the seed is the simple average of the first
// period values; shorter series start from the first value. prev is the
// value one step before the end, when the series produced one.
func seededEMA(series []float64, period int, mult float64) (last, prev float64, ok, prevOK bool) {
	if len(series) == 0 {
		return 0, 0, false, false
	}

	if len(series) < period {
		last = series[0]
		for i := 1; i < len(series); i++ {
			prev = last
			prevOK = true
			last = (series[i]-last)*mult + last
		}
		return last, prev, true, prevOK
	}

	var sum float64
	for _, v := range series[:period] {
		sum += v
	}
	last = sum / float64(period)
	for i := period; i < len(series); i++ {
		prev = last
		prevOK = true
		last = (series[i]-last)*mult + last
	}
	return last, prev, true, prevOK
}
