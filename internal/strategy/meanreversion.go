package strategy

import (
	"fmt"
	"math"
	"time"

	"algorunner/internal/indicator"
	"algorunner/pkg/types"
)

// MeanReversion buys when price drops well below its rolling mean and sells
// when it reverts (or overshoots to the upside).
type MeanReversion struct {
	tracker

	windowSeconds int
	stdThreshold  float64
	exitThreshold float64
}

// NewMeanReversion creates a mean-reversion strategy.
//
// Recognized params: window_seconds (rolling window for mean/std, default
// 60), std_threshold (entry z-score distance, default 2.0), exit_threshold
// (z-score band around the mean that triggers exit, default 0.5).
func NewMeanReversion(name string, symbols []string, params map[string]float64, enabled bool, sizePct, cashAlloc float64, cooldown time.Duration) *MeanReversion {
	return &MeanReversion{
		tracker:       newTracker(name, symbols, enabled, sizePct, cashAlloc, cooldown),
		windowSeconds: int(paramOr(params, "window_seconds", 60)),
		stdThreshold:  paramOr(params, "std_threshold", 2.0),
		exitThreshold: paramOr(params, "exit_threshold", 0.5),
	}
}

func (s *MeanReversion) OnTick(symbol string, price float64, ind indicator.Set) *types.Signal {
	mean, okMean := ind[indicator.MeanKey(s.windowSeconds)]
	std, okStd := ind[indicator.StdKey(s.windowSeconds)]
	if !okMean || !okStd || std == 0 {
		return nil
	}

	if s.inCooldown(symbol) {
		return nil
	}

	z := (price - mean) / std

	if z < -s.stdThreshold && !s.hasPosition(symbol) {
		return s.signal(types.Buy, symbol, price,
			fmt.Sprintf("Oversold: z=%.2f < -%g", z, s.stdThreshold))
	}

	if math.Abs(z) < s.exitThreshold && s.hasPosition(symbol) {
		return s.signal(types.Sell, symbol, price,
			fmt.Sprintf("Reverted: z=%.2f within %g of mean", z, s.exitThreshold))
	}

	// Take profit on an overshoot above the mean.
	if z > s.stdThreshold && s.hasPosition(symbol) {
		return s.signal(types.Sell, symbol, price,
			fmt.Sprintf("Take profit: z=%.2f > %g", z, s.stdThreshold))
	}

	return nil
}

func (s *MeanReversion) OnBar(symbol string, bar types.Bar, ind indicator.Set) *types.Signal {
	return nil
}
