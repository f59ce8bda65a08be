package indicator

import "trendbotv1/internal/model"

// Config holds the lookbacks and thresholds for snapshot evaluation.
// Every numeric policy knob is configuration; nothing is hardcoded in the
// evaluation itself.
type Config struct {
	FastEMA    int // trend EMA pair, e.g. 9/21
	SlowEMA    int
	RSIPeriod  int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
	ADXPeriod  int

	RSIOverbought float64 // e.g. 70
	RSIOversold   float64 // e.g. 30
	RSIBullish    float64 // trend confirmation floor, e.g. 60
	RSIBearish    float64 // trend confirmation ceiling, e.g. 40
	ADXThreshold  float64 // trending vs ranging cutoff, e.g. 20

	SidewaysRangePct float64 // tight-range cutoff over the recent span, e.g. 1.5
	VolumeSpikeMult  float64 // last volume vs recent average, e.g. 2.0

	RecentSpan int // bars inspected for range/volume checks, e.g. 20
}

// DefaultConfig returns the conventional parameter set.
func DefaultConfig() Config {
	return Config{
		FastEMA:    9,
		SlowEMA:    21,
		RSIPeriod:  14,
		MACDFast:   12,
		MACDSlow:   26,
		MACDSignal: 9,
		ADXPeriod:  14,

		RSIOverbought: 70,
		RSIOversold:   30,
		RSIBullish:    60,
		RSIBearish:    40,
		ADXThreshold:  20,

		SidewaysRangePct: 1.5,
		VolumeSpikeMult:  2.0,
		RecentSpan:       20,
	}
}

// MinWindow returns the minimum window length required for a non-neutral
// snapshot, derived from the slowest lookback in the config.
func (c Config) MinWindow() int {
	min := c.SlowEMA
	if v := c.RSIPeriod + 1; v > min {
		min = v
	}
	if v := c.MACDSlow + c.MACDSignal; v > min {
		min = v
	}
	if v := 2*c.ADXPeriod + 1; v > min {
		min = v
	}
	if c.RecentSpan > min {
		min = c.RecentSpan
	}
	return min
}

// Evaluate derives an IndicatorSnapshot from a candle window.
// Windows shorter than MinWindow yield the neutral sentinel snapshot.
func Evaluate(window []model.Candle, cfg Config) model.IndicatorSnapshot {
	if len(window) < cfg.MinWindow() {
		return model.IndicatorSnapshot{Trend: model.TrendUnknown}
	}

	closes := make([]float64, len(window))
	volumes := make([]float64, len(window))
	for i, c := range window {
		closes[i] = c.Close
		volumes[i] = c.Volume
	}

	emaFast := Last(EMASeries(closes, cfg.FastEMA))
	emaSlow := Last(EMASeries(closes, cfg.SlowEMA))
	rsi := RSISeries(closes, cfg.RSIPeriod)
	adx := ADXSeries(window, cfg.ADXPeriod)
	_, _, hist := MACD(closes, cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal)

	lastClose := Last(closes)
	lastRSI := Last(rsi)
	lastADX := Last(adx)

	snap := model.IndicatorSnapshot{
		Trend:       model.TrendUnknown,
		Overbought:  lastRSI >= cfg.RSIOverbought,
		Oversold:    lastRSI <= cfg.RSIOversold,
		Momentum:    Last(hist),
		VolumeSpike: volumeSpike(volumes, cfg),
	}

	trending := lastADX > cfg.ADXThreshold
	switch {
	case trending && emaFast > emaSlow && lastClose > emaFast && lastRSI > cfg.RSIBullish:
		snap.Trend = model.TrendUp
	case trending && emaFast < emaSlow && lastClose < emaFast && lastRSI < cfg.RSIBearish:
		snap.Trend = model.TrendDown
	case sidewaysReasons(window, rsi, adx, cfg) >= 3:
		snap.Trend = model.TrendSideways
	}
	return snap
}

// sidewaysReasons counts independent signs of range-bound behavior over the
// recent span. Three or more classify the window as sideways.
func sidewaysReasons(window []model.Candle, rsi, adx []float64, cfg Config) int {
	span := cfg.RecentSpan
	if span > len(window) {
		span = len(window)
	}
	recent := window[len(window)-span:]

	var reasons int

	// Tight price range
	max, min := recent[0].Close, recent[0].Close
	for _, c := range recent {
		if c.Close > max {
			max = c.Close
		}
		if c.Close < min {
			min = c.Close
		}
	}
	if min > 0 && (max-min)/min*100 <= cfg.SidewaysRangePct {
		reasons++
	}

	// Weak momentum: average RSI near the midline
	if avg := avgTail(rsi, span); avg > 45 && avg < 55 {
		reasons++
	}

	// Weak trend strength
	if avgTail(adx, span) < cfg.ADXThreshold {
		reasons++
	}

	// Flat volume
	var volSum, volMax, volMin float64
	volMin = recent[0].Volume
	for _, c := range recent {
		volSum += c.Volume
		if c.Volume > volMax {
			volMax = c.Volume
		}
		if c.Volume < volMin {
			volMin = c.Volume
		}
	}
	if avgVol := volSum / float64(span); avgVol > 0 && (volMax-volMin)/avgVol*100 < 30 {
		reasons++
	}

	// Many small-bodied candles
	small := 0
	for i := 1; i < len(recent); i++ {
		prev := recent[i-1].Close
		if prev == 0 {
			continue
		}
		body := recent[i].Close - prev
		if body < 0 {
			body = -body
		}
		if body/prev*100 < 0.5 {
			small++
		}
	}
	if small > span*3/5 {
		reasons++
	}

	return reasons
}

func avgTail(series []float64, span int) float64 {
	if span > len(series) {
		span = len(series)
	}
	if span == 0 {
		return 0
	}
	var sum float64
	for _, v := range series[len(series)-span:] {
		sum += v
	}
	return sum / float64(span)
}

func volumeSpike(volumes []float64, cfg Config) bool {
	span := cfg.RecentSpan
	if span >= len(volumes) {
		span = len(volumes) - 1
	}
	if span < 1 {
		return false
	}
	base := volumes[len(volumes)-1-span : len(volumes)-1]
	var sum float64
	for _, v := range base {
		sum += v
	}
	avg := sum / float64(len(base))
	return avg > 0 && volumes[len(volumes)-1] >= avg*cfg.VolumeSpikeMult
}
