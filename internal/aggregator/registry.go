package aggregator

import (
	"sync"
	"time"

	"mcap_candle_stream/internal/bus"
	"mcap_candle_stream/internal/model"
)

// Config carries the aggregation knobs; zero values fall back to defaults.
type Config struct {
	Timeframes    []time.Duration
	HistorySize   int
	DefaultSupply float64
	SupplyTTL     time.Duration
}

var defaultTimeframes = []time.Duration{
	60 * time.Second,
	300 * time.Second,
	900 * time.Second,
	3600 * time.Second,
}

func (c Config) withDefaults() Config {
	if len(c.Timeframes) == 0 {
		c.Timeframes = defaultTimeframes
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 500
	}
	if c.DefaultSupply <= 0 {
		c.DefaultSupply = 1e9
	}
	if c.SupplyTTL <= 0 {
		c.SupplyTTL = 10 * time.Minute
	}
	return c
}

type key struct {
	token string
	tfMs  int64
}

type supplyRecord struct {
	value     float64
	updatedAt time.Time
}

// Registry owns every live Aggregator and the per-token supply cache, and
// fans a single swap out to all configured timeframes.
type Registry struct {
	cfg  Config
	bus  bus.Bus
	hook ClosedCandleHook

	mu     sync.RWMutex
	aggs   map[key]*Aggregator
	supply map[string]supplyRecord
}

func NewRegistry(b bus.Bus, cfg Config, hook ClosedCandleHook) *Registry {
	return &Registry{
		cfg:    cfg.withDefaults(),
		bus:    b,
		hook:   hook,
		aggs:   make(map[key]*Aggregator),
		supply: make(map[string]supplyRecord),
	}
}

// GetOrCreate is idempotent: an existing aggregator is returned untouched
// even when supplyHint differs from what it was seeded with. A new one is
// seeded with supplyHint, falling back to the cached supply, then the
// configured default.
func (r *Registry) GetOrCreate(token string, timeframe time.Duration, supplyHint float64) *Aggregator {
	k := key{token: token, tfMs: timeframe.Milliseconds()}

	r.mu.RLock()
	a, ok := r.aggs[k]
	r.mu.RUnlock()
	if ok {
		return a
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.aggs[k]; ok {
		return a
	}

	seed := supplyHint
	if seed <= 0 {
		if rec, ok := r.supply[token]; ok && time.Since(rec.updatedAt) < r.cfg.SupplyTTL {
			seed = rec.value
		}
	}
	if seed <= 0 {
		seed = r.cfg.DefaultSupply
	}

	a = New(r.bus, token, timeframe, seed, r.cfg.HistorySize, r.hook)
	r.aggs[k] = a
	return a
}

// ProcessSwap fans one event to the aggregator of every timeframe given,
// or to the configured set when none are. Timeframes proceed independently;
// within one timeframe events keep arrival order.
func (r *Registry) ProcessSwap(ev model.SwapEvent, timeframes ...time.Duration) {
	if len(timeframes) == 0 {
		timeframes = r.cfg.Timeframes
	}

	// An explicit market cap implies the circulating supply; use it to
	// seed aggregators created by this very event.
	var hint float64
	if ev.MarketCapUSD > 0 && ev.PriceUSD > 0 {
		hint = ev.MarketCapUSD / ev.PriceUSD
	}

	for _, tf := range timeframes {
		r.GetOrCreate(ev.TokenAddress, tf, hint).ProcessSwap(ev)
	}
}

// SetSupply records a mint/burn notification and propagates the new supply
// to every live aggregator for the token.
func (r *Registry) SetSupply(token string, newSupply float64) {
	if newSupply <= 0 {
		return
	}

	r.mu.Lock()
	r.supply[token] = supplyRecord{value: newSupply, updatedAt: time.Now()}
	var targets []*Aggregator
	for k, a := range r.aggs {
		if k.token == token {
			targets = append(targets, a)
		}
	}
	r.mu.Unlock()

	for _, a := range targets {
		a.SetSupply(newSupply)
	}
}

// Supply returns the cached circulating supply if it is still fresh.
func (r *Registry) Supply(token string) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.supply[token]
	if !ok || time.Since(rec.updatedAt) >= r.cfg.SupplyTTL {
		return 0, false
	}
	return rec.value, true
}

// Lookup returns the aggregator for a key if one exists.
func (r *Registry) Lookup(token string, timeframe time.Duration) (*Aggregator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.aggs[key{token: token, tfMs: timeframe.Milliseconds()}]
	return a, ok
}

// RemoveToken drops every aggregator and the cached supply for a token.
// Already-published updates are unaffected.
func (r *Registry) RemoveToken(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.aggs {
		if k.token == token {
			delete(r.aggs, k)
		}
	}
	delete(r.supply, token)
}

// Chart exposes the chart DTO for one key; empty when the key is unknown.
func (r *Registry) Chart(token string, timeframe time.Duration) []model.ChartCandle {
	a, ok := r.Lookup(token, timeframe)
	if !ok {
		return nil
	}
	return a.Chart()
}

// Timeframes returns the configured timeframe set.
func (r *Registry) Timeframes() []time.Duration {
	return r.cfg.Timeframes
}
