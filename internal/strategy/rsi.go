package strategy

import (
	"fmt"
	"math"
	"time"

	"algorunner/internal/indicator"
	"algorunner/pkg/types"
)

// RSI is a mean-reversion strategy on the Relative Strength Index: buy when
// oversold, sell when overbought.
//
// The index is computed from a per-symbol ring of the last period+1 prices.
// Average gain and loss are simple means over the last period differences
// (not Wilder's exponential smoothing), matching the batch variant in the
// scheduled engine.
type RSI struct {
	tracker

	period     int
	oversold   float64
	overbought float64

	prices map[string][]float64
}

// NewRSI creates an RSI strategy.
//
// Recognized params: period (default 14), oversold (default 30),
// overbought (default 70).
func NewRSI(name string, symbols []string, params map[string]float64, enabled bool, sizePct, cashAlloc float64, cooldown time.Duration) *RSI {
	return &RSI{
		tracker:    newTracker(name, symbols, enabled, sizePct, cashAlloc, cooldown),
		period:     int(paramOr(params, "period", 14)),
		oversold:   paramOr(params, "oversold", 30),
		overbought: paramOr(params, "overbought", 70),
		prices:     make(map[string][]float64),
	}
}

// observe pushes a price into the symbol's ring and computes RSI once
// period+1 prices have been seen.
func (s *RSI) observe(symbol string, price float64) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ring := append(s.prices[symbol], price)
	if len(ring) > s.period+1 {
		ring = ring[len(ring)-(s.period+1):]
	}
	s.prices[symbol] = ring

	if len(ring) < s.period+1 {
		return 0, false
	}
	return ComputeRSI(ring, s.period), true
}

// ComputeRSI calculates simple-mean RSI over the last period differences of
// the given price series. RSI is 100 when there are no losses in the window.
func ComputeRSI(prices []float64, period int) float64 {
	var gains, losses []float64
	for i := 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gains = append(gains, change)
			losses = append(losses, 0)
		} else {
			gains = append(gains, 0)
			losses = append(losses, math.Abs(change))
		}
	}

	avgGain := tailMean(gains, period)
	avgLoss := tailMean(losses, period)

	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// tailMean averages the last n values, dividing by n even when fewer are
// available.
func tailMean(vals []float64, n int) float64 {
	start := len(vals) - n
	if start < 0 {
		start = 0
	}
	var sum float64
	for _, v := range vals[start:] {
		sum += v
	}
	return sum / float64(n)
}

func (s *RSI) OnTick(symbol string, price float64, ind indicator.Set) *types.Signal {
	rsi, ok := s.observe(symbol, price)
	if !ok {
		return nil
	}

	if s.inCooldown(symbol) {
		return nil
	}

	if rsi < s.oversold && !s.hasPosition(symbol) {
		return s.signal(types.Buy, symbol, price,
			fmt.Sprintf("RSI oversold: %.1f < %g", rsi, s.oversold))
	}

	if rsi > s.overbought && s.hasPosition(symbol) {
		return s.signal(types.Sell, symbol, price,
			fmt.Sprintf("RSI overbought: %.1f > %g", rsi, s.overbought))
	}

	return nil
}

func (s *RSI) OnBar(symbol string, bar types.Bar, ind indicator.Set) *types.Signal {
	return nil
}
