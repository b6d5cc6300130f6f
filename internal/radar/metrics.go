package radar

import (
	"math"
	"sort"
)

// Metrics are the performance figures derived from one returns series. All
// of these are statistics over floats, not ledger money, so they stay
// float64 end to end.
type Metrics struct {
	PnLTotal     float64
	PnLDay       float64
	WinRate      float64
	Sharpe       float64
	MaxDrawdown  float64
	TradesCount  int
	AvgReward    float64
	Volatility   float64
	VaR95        float64
	ProfitFactor float64
	Sortino      float64
}

// Compute derives the metrics from a returns series. An empty series has no
// metrics; ok reports whether anything was computed.
//
// Conventions: variance is the population variance, the Sortino downside
// deviation divides by the full sample size, and VaR95 is the negated value
// at the truncated 5th-percentile index. Ratios fall back to zero when
// their denominator would be zero.
func Compute(returns []float64) (Metrics, bool) {
	n := len(returns)
	if n == 0 {
		return Metrics{}, false
	}

	var total, sumPos, sumNeg float64
	wins := 0
	for _, r := range returns {
		total += r
		if r > 0 {
			wins++
			sumPos += r
		}
		if r < 0 {
			sumNeg += -r
		}
	}
	mean := total / float64(n)

	var variance, downsideVar float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
		if r < 0 {
			downsideVar += r * r
		}
	}
	variance /= float64(n)
	downsideVar /= float64(n)
	std := math.Sqrt(variance)
	downsideStd := math.Sqrt(downsideVar)

	m := Metrics{
		PnLTotal:    total,
		PnLDay:      total,
		WinRate:     float64(wins) / float64(n),
		TradesCount: n,
		AvgReward:   mean,
		Volatility:  std,
	}
	if std > 0 {
		m.Sharpe = mean / std
	}
	if downsideStd > 0 {
		m.Sortino = mean / downsideStd
	}
	if sumNeg > 0 {
		m.ProfitFactor = sumPos / sumNeg
	}

	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)
	idx := int(0.05*float64(n)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	m.VaR95 = -sorted[idx]

	var cumulative, peak, maxDD float64
	for _, r := range returns {
		cumulative += r
		if cumulative > peak {
			peak = cumulative
		}
		if dd := peak - cumulative; dd > maxDD {
			maxDD = dd
		}
	}
	m.MaxDrawdown = maxDD

	return m, true
}

// recommend summarizes the metrics for the operator. The ops dashboard is
// Russian and renders these strings verbatim.
func recommend(sharpe, winRate float64) string {
	switch {
	case sharpe >= 2.0 && winRate >= 0.6:
		return "Отличные показатели: стратегия показывает высокую эффективность."
	case sharpe >= 1.0 && winRate >= 0.5:
		return "Умеренные результаты: стратегия работает стабильно."
	default:
		return "Слабые показатели: рассмотрите изменение параметров или повторное обучение."
	}
}
