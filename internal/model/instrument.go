package model

// ScanCandidate is one entry of the ranked list produced by a market scan.
type ScanCandidate struct {
	Symbol        string     `json:"symbol"`
	Price         float64    `json:"price"`
	ChangePercent float64    `json:"change_percent"` // move over the scanned window
	Trend         TrendClass `json:"trend"`          // suggested direction
}

// AccountPosition is a position as reported by the venue account endpoint.
// Qty is signed: positive = long, negative = short.
type AccountPosition struct {
	Symbol     string  `json:"symbol"`
	Qty        float64 `json:"qty"`
	EntryPrice float64 `json:"entry_price"`
	Notional   float64 `json:"notional"`
}

// Side derives the position side from the signed quantity.
func (a *AccountPosition) Side() PositionSide {
	switch {
	case a.Qty > 0:
		return PositionLong
	case a.Qty < 0:
		return PositionShort
	default:
		return PositionFlat
	}
}
