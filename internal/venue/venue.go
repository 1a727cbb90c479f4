package venue

import (
	"errors"
	"fmt"

	"mcap_candle_stream/internal/model"
)

// Registry errors.
var (
	ErrUnknownVenue = errors.New("unknown venue")
	ErrBadSwap      = errors.New("malformed swap")
)

// RawSwap is the venue-tagged wire form a swap arrives in before
// normalization. Venues differ in which price fields they populate.
type RawSwap struct {
	Venue        string  `json:"venue"`
	Signature    string  `json:"signature"`
	Timestamp    int64   `json:"timestamp"`
	Side         string  `json:"side"`
	TokenAddress string  `json:"token_address"`
	AmountToken  float64 `json:"amount_token"`
	AmountBase   float64 `json:"amount_base"`
	PriceUSD     float64 `json:"price_usd"`
	BasePriceUSD float64 `json:"base_price_usd"`
	MarketCapUSD float64 `json:"market_cap_usd"`
	Trader       string  `json:"trader"`
}

// Normalizer turns one venue's raw swap into the canonical SwapEvent.
type Normalizer interface {
	Venue() model.Venue
	Normalize(raw RawSwap) (model.SwapEvent, error)
}

// Registry resolves the closed set of venue normalizers at startup. Looking
// up a venue outside the set is a typed error, never a silent no-op.
type Registry struct {
	byVenue map[model.Venue]Normalizer
}

func NewRegistry(normalizers ...Normalizer) *Registry {
	r := &Registry{byVenue: make(map[model.Venue]Normalizer, len(normalizers))}
	for _, n := range normalizers {
		r.byVenue[n.Venue()] = n
	}
	return r
}

// Default returns the registry over every supported venue.
func Default() *Registry {
	return NewRegistry(Raydium{}, PumpFun{}, Orca{})
}

func (r *Registry) Normalize(raw RawSwap) (model.SwapEvent, error) {
	n, ok := r.byVenue[model.Venue(raw.Venue)]
	if !ok {
		return model.SwapEvent{}, fmt.Errorf("%w: %q", ErrUnknownVenue, raw.Venue)
	}
	return n.Normalize(raw)
}

// validate checks the fields every venue must carry.
func validate(raw RawSwap) error {
	if raw.TokenAddress == "" {
		return fmt.Errorf("%w: missing token address", ErrBadSwap)
	}
	if raw.Timestamp <= 0 {
		return fmt.Errorf("%w: missing timestamp", ErrBadSwap)
	}
	if raw.Side != string(model.Buy) && raw.Side != string(model.Sell) {
		return fmt.Errorf("%w: bad side %q", ErrBadSwap, raw.Side)
	}
	return nil
}

func base(raw RawSwap, v model.Venue) model.SwapEvent {
	return model.SwapEvent{
		Signature:    raw.Signature,
		Timestamp:    raw.Timestamp,
		Source:       v,
		Side:         model.Side(raw.Side),
		TokenAddress: raw.TokenAddress,
		AmountToken:  raw.AmountToken,
		AmountBase:   raw.AmountBase,
		PriceUSD:     raw.PriceUSD,
		MarketCapUSD: raw.MarketCapUSD,
		Trader:       raw.Trader,
	}
}

// Raydium reports the token price directly but may omit it on thin pools,
// in which case it is derived from the base leg.
type Raydium struct{}

func (Raydium) Venue() model.Venue { return model.VenueRaydium }

func (Raydium) Normalize(raw RawSwap) (model.SwapEvent, error) {
	if err := validate(raw); err != nil {
		return model.SwapEvent{}, err
	}
	ev := base(raw, model.VenueRaydium)
	if ev.PriceUSD <= 0 && raw.AmountToken > 0 && raw.BasePriceUSD > 0 {
		ev.PriceUSD = raw.AmountBase * raw.BasePriceUSD / raw.AmountToken
	}
	return ev, nil
}

// PumpFun swaps carry the bonding-curve market cap alongside the price; the
// market cap is authoritative and kept as the override.
type PumpFun struct{}

func (PumpFun) Venue() model.Venue { return model.VenuePumpFun }

func (PumpFun) Normalize(raw RawSwap) (model.SwapEvent, error) {
	if err := validate(raw); err != nil {
		return model.SwapEvent{}, err
	}
	if raw.MarketCapUSD < 0 {
		return model.SwapEvent{}, fmt.Errorf("%w: negative market cap", ErrBadSwap)
	}
	return base(raw, model.VenuePumpFun), nil
}

// Orca quotes in the base asset only; the USD price is always derived.
type Orca struct{}

func (Orca) Venue() model.Venue { return model.VenueOrca }

func (Orca) Normalize(raw RawSwap) (model.SwapEvent, error) {
	if err := validate(raw); err != nil {
		return model.SwapEvent{}, err
	}
	ev := base(raw, model.VenueOrca)
	if ev.PriceUSD <= 0 {
		if raw.AmountToken <= 0 || raw.BasePriceUSD <= 0 {
			return model.SwapEvent{}, fmt.Errorf("%w: cannot derive price", ErrBadSwap)
		}
		ev.PriceUSD = raw.AmountBase * raw.BasePriceUSD / raw.AmountToken
	}
	return ev, nil
}
