package strategy

import (
	"fmt"
	"time"

	"algorunner/internal/indicator"
	"algorunner/pkg/types"
)

// SMACrossover is a trend-following strategy: buy when the short moving
// average crosses above the long one, sell on the crossunder.
//
// In real time the short/long SMAs are approximated by the tick buffer's
// rolling means (e.g. 30s vs 120s). The strategy is edge-triggered: it keeps
// the previous short-above-long state per symbol and only acts on a
// transition, never on the level itself.
type SMACrossover struct {
	tracker

	shortWindow int
	longWindow  int

	// prevShortAbove is tri-state per symbol: absent means no prior
	// observation yet (first call only records state).
	prevShortAbove map[string]bool
}

// NewSMACrossover creates an SMA crossover strategy.
//
// Recognized params: short_window_seconds (default 30), long_window_seconds
// (default 120).
func NewSMACrossover(name string, symbols []string, params map[string]float64, enabled bool, sizePct, cashAlloc float64, cooldown time.Duration) *SMACrossover {
	return &SMACrossover{
		tracker:        newTracker(name, symbols, enabled, sizePct, cashAlloc, cooldown),
		shortWindow:    int(paramOr(params, "short_window_seconds", 30)),
		longWindow:     int(paramOr(params, "long_window_seconds", 120)),
		prevShortAbove: make(map[string]bool),
	}
}

func (s *SMACrossover) OnTick(symbol string, price float64, ind indicator.Set) *types.Signal {
	shortSMA, okShort := ind[indicator.MeanKey(s.shortWindow)]
	longSMA, okLong := ind[indicator.MeanKey(s.longWindow)]
	if !okShort || !okLong {
		return nil
	}

	if s.inCooldown(symbol) {
		return nil
	}

	shortAbove := shortSMA > longSMA

	s.mu.Lock()
	prev, seen := s.prevShortAbove[symbol]
	s.prevShortAbove[symbol] = shortAbove
	s.mu.Unlock()

	if !seen {
		// Need a prior observation to detect a crossover.
		return nil
	}

	if shortAbove && !prev && !s.hasPosition(symbol) {
		return s.signal(types.Buy, symbol, price,
			fmt.Sprintf("SMA crossover: %.2f > %.2f", shortSMA, longSMA))
	}

	if !shortAbove && prev && s.hasPosition(symbol) {
		return s.signal(types.Sell, symbol, price,
			fmt.Sprintf("SMA crossunder: %.2f < %.2f", shortSMA, longSMA))
	}

	return nil
}

func (s *SMACrossover) OnBar(symbol string, bar types.Bar, ind indicator.Set) *types.Signal {
	return nil
}
