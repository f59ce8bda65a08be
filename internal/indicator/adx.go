package indicator

import (
	"math"

	"trendbotv1/internal/model"
)

// ADXSeries returns the average directional index over the candle window
// using Wilder's smoothing. Entries before warmup (2*period) are zero.
// Output is aligned with the input window.
func ADXSeries(window []model.Candle, period int) []float64 {
	out := make([]float64, len(window))
	if len(window) < 2*period+1 || period < 1 {
		return out
	}

	n := len(window) - 1
	tr := make([]float64, n)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)

	for i := 1; i < len(window); i++ {
		curr, prev := window[i], window[i-1]
		highDiff := curr.High - prev.High
		lowDiff := prev.Low - curr.Low

		if highDiff > lowDiff && highDiff > 0 {
			plusDM[i-1] = highDiff
		}
		if lowDiff > highDiff && lowDiff > 0 {
			minusDM[i-1] = lowDiff
		}

		tr[i-1] = math.Max(curr.High-curr.Low,
			math.Max(math.Abs(curr.High-prev.Close), math.Abs(curr.Low-prev.Close)))
	}

	var tr14, plusDM14, minusDM14 float64
	for i := 0; i < period; i++ {
		tr14 += tr[i]
		plusDM14 += plusDM[i]
		minusDM14 += minusDM[i]
	}

	p := float64(period)
	dx := make([]float64, 0, n-period)
	for i := period; i < n; i++ {
		tr14 = tr14 - tr14/p + tr[i]
		plusDM14 = plusDM14 - plusDM14/p + plusDM[i]
		minusDM14 = minusDM14 - minusDM14/p + minusDM[i]

		if tr14 == 0 {
			dx = append(dx, 0)
			continue
		}
		plusDI := plusDM14 / tr14 * 100
		minusDI := minusDM14 / tr14 * 100
		if plusDI+minusDI == 0 {
			dx = append(dx, 0)
			continue
		}
		dx = append(dx, math.Abs(plusDI-minusDI)/(plusDI+minusDI)*100)
	}

	if len(dx) < period {
		return out
	}

	var adx float64
	for i := 0; i < period; i++ {
		adx += dx[i]
	}
	adx /= p

	// adx[k] describes window[2*period+k]
	idx := 2 * period
	out[idx] = adx
	for i := period; i < len(dx); i++ {
		adx = (adx*(p-1) + dx[i]) / p
		idx++
		if idx < len(out) {
			out[idx] = adx
		}
	}
	return out
}
