package strategy

import (
	"fmt"
	"time"

	"algorunner/internal/indicator"
	"algorunner/pkg/types"
)

// Momentum buys into quick price increases and exits on reversals.
// It reads the momentum_{lookback}s indicator computed by the tick buffer.
type Momentum struct {
	tracker

	thresholdPct     float64
	exitThresholdPct float64
	lookbackSeconds  int
}

// NewMomentum creates a momentum strategy.
//
// Recognized params: threshold_pct (minimum % move to buy, default 0.05),
// exit_threshold_pct (% reversal to sell, default 0.03), lookback_seconds
// (momentum window, default 10).
func NewMomentum(name string, symbols []string, params map[string]float64, enabled bool, sizePct, cashAlloc float64, cooldown time.Duration) *Momentum {
	return &Momentum{
		tracker:          newTracker(name, symbols, enabled, sizePct, cashAlloc, cooldown),
		thresholdPct:     paramOr(params, "threshold_pct", 0.05),
		exitThresholdPct: paramOr(params, "exit_threshold_pct", 0.03),
		lookbackSeconds:  int(paramOr(params, "lookback_seconds", 10)),
	}
}

func (s *Momentum) OnTick(symbol string, price float64, ind indicator.Set) *types.Signal {
	mom, ok := ind[indicator.MomentumKey(s.lookbackSeconds)]
	if !ok {
		// Not enough buffered ticks yet.
		return nil
	}

	if s.inCooldown(symbol) {
		return nil
	}

	if mom > s.thresholdPct && !s.hasPosition(symbol) {
		return s.signal(types.Buy, symbol, price,
			fmt.Sprintf("Momentum %.3f%% > %g%%", mom, s.thresholdPct))
	}

	if mom < -s.exitThresholdPct && s.hasPosition(symbol) {
		return s.signal(types.Sell, symbol, price,
			fmt.Sprintf("Reversal %.3f%% < -%g%%", mom, s.exitThresholdPct))
	}

	return nil
}

func (s *Momentum) OnBar(symbol string, bar types.Bar, ind indicator.Set) *types.Signal {
	return nil
}

func paramOr(params map[string]float64, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		return v
	}
	return def
}
