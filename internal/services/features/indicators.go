package features

import "math"

// EMA returns the exponential moving average of the last value in the series,
// seeded by SMA over the first period values. Returns (0, false) when the
// series is shorter than the period.
func EMA(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period {
		return 0, false
	}
	sum := 0.0
	for _, c := range closes[:period] {
		sum += c
	}
	ema := sum / float64(period)
	k := 2.0 / (float64(period) + 1)
	for _, c := range closes[period:] {
		ema = c*k + ema*(1-k)
	}
	return ema, true
}

// emaSeries computes the full EMA series for MACD composition.
func emaSeries(closes []float64, period int) []float64 {
	if period <= 0 || len(closes) < period {
		return nil
	}
	out := make([]float64, 0, len(closes)-period+1)
	sum := 0.0
	for _, c := range closes[:period] {
		sum += c
	}
	ema := sum / float64(period)
	out = append(out, ema)
	k := 2.0 / (float64(period) + 1)
	for _, c := range closes[period:] {
		ema = c*k + ema*(1-k)
		out = append(out, ema)
	}
	return out
}

// RSI computes the Wilder relative strength index. Needs period+1 closes.
func RSI(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			avgGain += d
		} else {
			avgLoss -= d
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	for i := period + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if d > 0 {
			gain = d
		} else {
			loss = -d
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}
	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// MACD returns the MACD line, signal line, and histogram.
func MACD(closes []float64, fast, slow, signal int) (macd, sig, hist float64, ok bool) {
	if fast <= 0 || slow <= fast || signal <= 0 {
		return 0, 0, 0, false
	}
	fastS := emaSeries(closes, fast)
	slowS := emaSeries(closes, slow)
	if slowS == nil {
		return 0, 0, 0, false
	}
	// Align: slow series starts (slow-fast) points later than fast.
	offset := slow - fast
	macdLine := make([]float64, len(slowS))
	for i := range slowS {
		macdLine[i] = fastS[i+offset] - slowS[i]
	}
	sigS := emaSeries(macdLine, signal)
	if sigS == nil {
		return 0, 0, 0, false
	}
	macd = macdLine[len(macdLine)-1]
	sig = sigS[len(sigS)-1]
	return macd, sig, macd - sig, true
}

// BollingerWidth returns the normalized band width (2 sigma each side) over
// the trailing period, a cheap volatility regime proxy.
func BollingerWidth(closes []float64, period int) (float64, bool) {
	if period <= 1 || len(closes) < period {
		return 0, false
	}
	window := closes[len(closes)-period:]
	mean := 0.0
	for _, c := range window {
		mean += c
	}
	mean /= float64(period)
	if mean == 0 {
		return 0, false
	}
	variance := 0.0
	for _, c := range window {
		d := c - mean
		variance += d * d
	}
	sd := math.Sqrt(variance / float64(period))
	return 4 * sd / mean, true
}

// RealizedVolatility is the standard deviation of log returns over the
// trailing period.
func RealizedVolatility(closes []float64, period int) (float64, bool) {
	if period <= 1 || len(closes) < period+1 {
		return 0, false
	}
	window := closes[len(closes)-period-1:]
	returns := make([]float64, 0, period)
	for i := 1; i < len(window); i++ {
		if window[i-1] <= 0 || window[i] <= 0 {
			return 0, false
		}
		returns = append(returns, math.Log(window[i]/window[i-1]))
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(returns))), true
}

// Momentum is the fractional price change over the trailing period.
func Momentum(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}
	prev := closes[len(closes)-period-1]
	if prev == 0 {
		return 0, false
	}
	return (closes[len(closes)-1] - prev) / prev, true
}

// MEVComposite folds momentum, volatility and volume pressure into a single
// [-1, 1] opportunity score. Tanh keeps outliers from saturating the blend
// weights.
func MEVComposite(momentum, volatility, volumeRatio float64) float64 {
	m := math.Tanh(momentum * 10)
	v := math.Tanh(volatility * 20)
	vol := math.Tanh(volumeRatio - 1)
	score := 0.5*m + 0.3*v + 0.2*vol
	return math.Max(-1, math.Min(1, score))
}
