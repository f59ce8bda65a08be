package model

import "encoding/json"

// TrendClass classifies the direction of the market over a candle window.
type TrendClass string

const (
	TrendUp       TrendClass = "UP"
	TrendDown     TrendClass = "DOWN"
	TrendSideways TrendClass = "SIDEWAYS"
	TrendUnknown  TrendClass = "UNKNOWN"
)

// IndicatorSnapshot is the immutable result of one indicator evaluation over
// a candle window. A fresh snapshot is produced per evaluation cycle; it is
// never mutated afterwards.
type IndicatorSnapshot struct {
	Trend      TrendClass `json:"trend"`
	Overbought bool       `json:"overbought"`
	Oversold   bool       `json:"oversold"`
	Momentum   float64    `json:"momentum"` // signed; MACD histogram of the last bar
	VolumeSpike bool      `json:"volume_spike"`
}

// Neutral reports whether this is the insufficient-data sentinel snapshot.
// Callers must treat a neutral snapshot as Hold, never as a trade signal.
func (s IndicatorSnapshot) Neutral() bool {
	return s.Trend == TrendUnknown && !s.Overbought && !s.Oversold &&
		s.Momentum == 0 && !s.VolumeSpike
}

// JSON returns the JSON-encoded snapshot.
func (s IndicatorSnapshot) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
