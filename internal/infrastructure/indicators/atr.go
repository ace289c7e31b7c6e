package indicators

import "math"

// CalculateATR computes the Average True Range with Wilder smoothing.
// Entries before index period-1 are zero.
func CalculateATR(highs, lows, closes []float64, period int) []float64 {
	length := len(closes)
	atr := make([]float64, length)
	if length < period+1 {
		return atr
	}

	trs := make([]float64, length)
	trs[0] = highs[0] - lows[0]
	for i := 1; i < length; i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])

		tr := hl
		if hc > tr {
			tr = hc
		}
		if lc > tr {
			tr = lc
		}
		trs[i] = tr
	}

	sumTR := 0.0
	for i := 0; i < period; i++ {
		sumTR += trs[i]
	}
	atr[period-1] = sumTR / float64(period)

	for i := period; i < length; i++ {
		atr[i] = (atr[i-1]*float64(period-1) + trs[i]) / float64(period)
	}

	return atr
}

// LatestATRPct returns the most recent ATR as a percent of the last close,
// which is the volatility proxy the risk gate samples. Returns 0 while there
// is not enough history.
func LatestATRPct(highs, lows, closes []float64, period int) float64 {
	length := len(closes)
	if length < period+1 || closes[length-1] <= 0 {
		return 0
	}
	atr := CalculateATR(highs, lows, closes, period)
	return atr[length-1] / closes[length-1] * 100
}
