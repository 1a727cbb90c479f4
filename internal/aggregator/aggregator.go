package aggregator

import (
	"sync"
	"time"

	"mcap_candle_stream/internal/bus"
	"mcap_candle_stream/internal/model"
)

// ClosedCandleHook is invoked after a candle freezes, letting an indicator
// engine precompute off the finished bar. It runs inline and must be fast.
type ClosedCandleHook func(token string, timeframe time.Duration, c model.Candle)

// Aggregator builds market-cap OHLCV candles for one (token, timeframe)
// pair. All mutation is serialized by its own mutex; aggregators for
// different keys run fully in parallel.
type Aggregator struct {
	token     string
	timeframe time.Duration
	tfMs      int64

	mu            sync.Mutex
	open          *model.Candle
	closed        []model.Candle // ring, oldest at head when full
	head          int
	histCap       int
	lastPrice     float64
	lastMarketCap float64
	supply        float64

	bus     bus.Bus
	onClose ClosedCandleHook
}

func New(b bus.Bus, token string, timeframe time.Duration, supply float64, historySize int, hook ClosedCandleHook) *Aggregator {
	if historySize <= 0 {
		historySize = 500
	}
	return &Aggregator{
		token:     token,
		timeframe: timeframe,
		tfMs:      timeframe.Milliseconds(),
		closed:    make([]model.Candle, 0, historySize),
		histCap:   historySize,
		supply:    supply,
		bus:       b,
		onClose:   hook,
	}
}

// ProcessSwap feeds one trade into the candle state machine and returns the
// update that was published, or nil if the event was rejected. Events with
// a non-positive price are dropped silently; nothing here ever errors out.
func (a *Aggregator) ProcessSwap(ev model.SwapEvent) *model.CandleUpdate {
	if ev.PriceUSD <= 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	mc := ev.MarketCapUSD
	if mc <= 0 {
		mc = ev.PriceUSD * a.supply
	}
	bucket := ev.Timestamp / a.tfMs * a.tfMs
	vol := ev.VolumeUSD()

	switch {
	case a.open == nil:
		a.open = &model.Candle{
			BucketStart: bucket,
			Open:        mc, High: mc, Low: mc, Close: mc,
			Volume: vol,
			Trades: 1,
		}
	case bucket > a.open.BucketStart:
		prevClose := a.closeOpen()
		a.gapFill(prevClose, a.open.BucketStart+a.tfMs, bucket)
		a.open = &model.Candle{
			BucketStart: bucket,
			Open:        mc, High: mc, Low: mc, Close: mc,
			Volume: vol,
			Trades: 1,
		}
	default:
		// Same bucket, or a late event merging into the open bar.
		if mc > a.open.High {
			a.open.High = mc
		}
		if mc < a.open.Low {
			a.open.Low = mc
		}
		a.open.Close = mc
		a.open.Volume += vol
		a.open.Trades++
	}

	a.lastPrice = ev.PriceUSD
	a.lastMarketCap = mc

	upd := a.publishCandle(*a.open)
	return &upd
}

// closeOpen freezes the open candle, appends it to history, publishes the
// is_closed update and fires the precompute hook. Returns the frozen close.
// The open pointer is left for the caller to replace.
func (a *Aggregator) closeOpen() float64 {
	a.open.IsClosed = true
	frozen := *a.open
	a.appendClosed(frozen)
	a.publishCandle(frozen)
	if a.onClose != nil {
		a.onClose(a.token, a.timeframe, frozen)
	}
	return frozen.Close
}

// gapFill emits a flat zero-volume closed candle for every empty bucket in
// [from, to), all priced at the previous close.
func (a *Aggregator) gapFill(prevClose float64, from, to int64) {
	for b := from; b < to; b += a.tfMs {
		c := model.Candle{
			BucketStart: b,
			Open:        prevClose, High: prevClose, Low: prevClose, Close: prevClose,
			IsClosed: true,
		}
		a.appendClosed(c)
		a.publishCandle(c)
		if a.onClose != nil {
			a.onClose(a.token, a.timeframe, c)
		}
	}
}

func (a *Aggregator) appendClosed(c model.Candle) {
	if len(a.closed) < a.histCap {
		a.closed = append(a.closed, c)
		return
	}
	a.closed[a.head] = c
	a.head = (a.head + 1) % a.histCap
}

func (a *Aggregator) publishCandle(c model.Candle) model.CandleUpdate {
	upd := model.CandleUpdate{
		Token:       a.token,
		TimeframeMs: a.tfMs,
		Candle:      c,
		IsClosed:    c.IsClosed,
	}
	a.bus.Publish(model.CandleChannel(a.token, a.tfMs), upd)
	return upd
}

// SetSupply records a mint/burn. The open candle is rescaled by the supply
// ratio and its close recomputed from the last observed price; closed
// history stays on the old supply basis. A SupplyChange notice goes out on
// its own channel, separate from candle updates.
func (a *Aggregator) SetSupply(newSupply float64) {
	if newSupply <= 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	oldSupply := a.supply
	oldMc := a.lastMarketCap
	a.supply = newSupply

	if a.open != nil && a.lastPrice > 0 && oldSupply > 0 {
		r := newSupply / oldSupply
		a.open.Open *= r
		a.open.High *= r
		a.open.Low *= r
		a.open.Close = a.lastPrice * newSupply
		if a.open.Close > a.open.High {
			a.open.High = a.open.Close
		}
		if a.open.Close < a.open.Low {
			a.open.Low = a.open.Close
		}
		a.lastMarketCap = a.open.Close
	} else if a.lastPrice > 0 {
		a.lastMarketCap = a.lastPrice * newSupply
	}

	a.bus.Publish(model.SupplyChannel(a.token), model.SupplyChange{
		Token:        a.token,
		OldSupply:    oldSupply,
		NewSupply:    newSupply,
		OldMarketCap: oldMc,
		NewMarketCap: a.lastMarketCap,
	})
}

// History returns the closed candles in chronological order, oldest first.
func (a *Aggregator) History() []model.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.Candle, 0, len(a.closed))
	out = append(out, a.closed[a.head:]...)
	out = append(out, a.closed[:a.head]...)
	return out
}

// Open returns a copy of the current open candle, if any.
func (a *Aggregator) Open() (model.Candle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.open == nil {
		return model.Candle{}, false
	}
	return *a.open, true
}

// Chart returns history plus the open bar in the outbound wire shape.
func (a *Aggregator) Chart() []model.ChartCandle {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.ChartCandle, 0, len(a.closed)+1)
	for _, c := range a.closed[a.head:] {
		out = append(out, c.Chart())
	}
	for _, c := range a.closed[:a.head] {
		out = append(out, c.Chart())
	}
	if a.open != nil {
		out = append(out, a.open.Chart())
	}
	return out
}

// Supply returns the cached circulating supply this aggregator prices with.
func (a *Aggregator) Supply() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.supply
}
