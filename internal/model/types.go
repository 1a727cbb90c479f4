package model

import "strconv"

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

var Sides = []Side{Buy, Sell}

// Venue is the source exchange/program a swap was observed on.
type Venue string

const (
	VenueRaydium Venue = "raydium"
	VenuePumpFun Venue = "pumpfun"
	VenueOrca    Venue = "orca"
)

func (v Venue) String() string { return string(v) }

// SwapEvent is one executed trade as delivered by the ingestion side.
// Timestamp is unix milliseconds. MarketCapUSD is an optional pre-computed
// override; zero means "compute from price and supply".
type SwapEvent struct {
	Signature    string  `json:"signature"`
	Timestamp    int64   `json:"timestamp"`
	Source       Venue   `json:"source"`
	Side         Side    `json:"side"`
	TokenAddress string  `json:"token_address"`
	AmountToken  float64 `json:"amount_token"`
	AmountBase   float64 `json:"amount_base"`
	PriceUSD     float64 `json:"price_usd"`
	MarketCapUSD float64 `json:"market_cap_usd,omitempty"`
	Trader       string  `json:"trader"`
}

// VolumeUSD is the USD notional of the swap.
func (e SwapEvent) VolumeUSD() float64 { return e.AmountToken * e.PriceUSD }

// Candle is one OHLCV bar denominated in market cap USD, not price.
// BucketStart is unix milliseconds aligned to the timeframe.
type Candle struct {
	BucketStart int64   `json:"bucket_start"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
	Trades      uint64  `json:"trades"`
	IsClosed    bool    `json:"is_closed"`
}

// Chart converts a candle to the wire shape chart consumers expect.
func (c Candle) Chart() ChartCandle {
	return ChartCandle{
		Time:   c.BucketStart / 1000,
		Open:   c.Open,
		High:   c.High,
		Low:    c.Low,
		Close:  c.Close,
		Volume: c.Volume,
	}
}

// ChartCandle is the outbound representation, time in epoch seconds.
type ChartCandle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// CandleUpdate is published on every processed swap and on every close.
type CandleUpdate struct {
	Token       string `json:"token"`
	TimeframeMs int64  `json:"timeframe_ms"`
	Candle      Candle `json:"candle"`
	IsClosed    bool   `json:"is_closed"`
}

// SupplyChange notifies subscribers that a token's circulating supply moved
// (mint/burn) and what that did to the current market cap.
type SupplyChange struct {
	Token        string  `json:"token"`
	OldSupply    float64 `json:"old_supply"`
	NewSupply    float64 `json:"new_supply"`
	OldMarketCap float64 `json:"old_market_cap"`
	NewMarketCap float64 `json:"new_market_cap"`
}

// CandleChannel names the bus channel for one token+timeframe stream.
// Timeframe is encoded in seconds.
func CandleChannel(token string, timeframeMs int64) string {
	return "candles:" + token + ":" + strconv.FormatInt(timeframeMs/1000, 10)
}

// SupplyChannel names the bus channel carrying supply-change notices.
func SupplyChannel(token string) string {
	return "supply_change:" + token
}
