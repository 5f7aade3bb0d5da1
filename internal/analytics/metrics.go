// Package analytics computes performance metrics over snapshot and trade
// histories. Everything here is a pure function over its inputs so the
// dashboard and tests can call it without any store access.
package analytics

import (
	"math"

	"algorunner/pkg/types"
)

// DefaultAnnualization is trading days per year, for Sharpe scaling.
const DefaultAnnualization = 252

// TotalReturn is the percent return from initial to final equity. A
// non-positive initial balance yields 0.
func TotalReturn(initial, final float64) float64 {
	if initial <= 0 {
		return 0
	}
	return (final - initial) / initial * 100
}

// DailyReturns converts a snapshot sequence into period-over-period
// returns. Pairs whose previous equity is non-positive are skipped.
func DailyReturns(snapshots []types.Snapshot) []float64 {
	returns := make([]float64, 0, len(snapshots))
	for i := 1; i < len(snapshots); i++ {
		prev, _ := snapshots[i-1].Equity.Float64()
		curr, _ := snapshots[i].Equity.Float64()
		if prev > 0 {
			returns = append(returns, (curr-prev)/prev)
		}
	}
	return returns
}

// SharpeRatio is mean/stdev of the returns scaled by √annualization.
// Stdev is the population deviation (divide by N). Empty input or zero
// deviation yields 0.
func SharpeRatio(returns []float64, annualization float64) float64 {
	if len(returns) == 0 {
		return 0
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
	variance /= float64(len(returns))
	stdev := math.Sqrt(variance)
	if stdev == 0 {
		return 0
	}
	return mean / stdev * math.Sqrt(annualization)
}

// MaxDrawdown is the largest peak-to-trough equity decline, as a fraction
// of the peak. 0 for an empty history.
func MaxDrawdown(snapshots []types.Snapshot) float64 {
	peak := 0.0
	maxDD := 0.0
	for _, s := range snapshots {
		equity, _ := s.Equity.Float64()
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// WinRate is the fraction of trades with positive P&L. 0 for no trades.
func WinRate(pnls []float64) float64 {
	if len(pnls) == 0 {
		return 0
	}
	wins := 0
	for _, p := range pnls {
		if p > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(pnls))
}
