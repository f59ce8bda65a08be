package model

import (
	"encoding/json"
	"time"
)

// Candle represents one closed OHLCV bar for a single symbol and interval.
// Prices and volume are float64 quote-asset values as delivered by the venue.
// A candle is immutable once closed.
type Candle struct {
	Symbol   string    `json:"symbol"`
	Interval string    `json:"interval"`
	OpenTime time.Time `json:"open_time"` // bucket start (UTC)
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Key returns a unique key for this candle's symbol+interval.
func (c *Candle) Key() string {
	return c.Symbol + ":" + c.Interval
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// PriceUpdate carries the latest close of a still-forming candle.
// It never enters the candle window; lanes use it for intrabar
// take-profit checks only.
type PriceUpdate struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	At     time.Time `json:"at"`
}
