// Package indicator maintains a rolling per-symbol tick buffer and derives
// rolling indicators from it on demand.
//
// The buffer is time-windowed, not count-based: every Add prunes ticks older
// than the configured max age, so indicators always reflect a bounded slice
// of recent trading. Indicators are recomputed from the raw ticks on every
// call — within the engine's tick-processing latency budget this is cheaper
// than maintaining incremental state for each window.
package indicator

import (
	"fmt"
	"math"
	"sync"
	"time"

	"algorunner/pkg/types"
)

// Window sets evaluated by Indicators. Momentum is sampled at short
// horizons; mean/std need wider windows so at least five prices land inside.
var (
	momentumWindows = []int{5, 10, 15, 30, 60}
	statWindows     = []int{30, 60, 120}
)

// minStatPrices is the minimum window population for mean/std emission.
const minStatPrices = 5

// Set is a computed indicator mapping: keys like "momentum_10s", "mean_60s",
// "std_60s", "vwap", "tick_count", "last_price". Missing key = not enough
// data for that indicator yet.
type Set map[string]float64

// Buffer holds recent ticks per symbol. Safe for concurrent use; in the
// streaming engine it is written only from the stream receive path.
type Buffer struct {
	mu      sync.Mutex
	maxAge  time.Duration
	buffers map[string][]types.Tick

	now func() time.Time
}

// NewBuffer creates a tick buffer that retains ticks for maxAge
// (120s covers the longest stat window).
func NewBuffer(maxAge time.Duration) *Buffer {
	return &Buffer{
		maxAge:  maxAge,
		buffers: make(map[string][]types.Tick),
		now:     time.Now,
	}
}

// Add appends a tick stamped with the current time and prunes expired ticks.
func (b *Buffer) Add(symbol string, price float64, size int64) {
	b.AddAt(symbol, price, size, b.now())
}

// AddAt appends a tick with an explicit timestamp.
func (b *Buffer) AddAt(symbol string, price float64, size int64, ts time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buffers[symbol] = append(b.buffers[symbol], types.Tick{
		Price:     price,
		Size:      size,
		Timestamp: ts,
	})
	b.pruneLocked(symbol)
}

// pruneLocked drops ticks older than maxAge from the front of the buffer.
// Ticks are appended in receive order, so the expired prefix is contiguous.
func (b *Buffer) pruneLocked(symbol string) {
	cutoff := b.now().Add(-b.maxAge)
	buf := b.buffers[symbol]
	i := 0
	for i < len(buf) && buf[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.buffers[symbol] = append(buf[:0:0], buf[i:]...)
	}
}

// TickCount returns the number of buffered ticks for a symbol.
func (b *Buffer) TickCount(symbol string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffers[symbol])
}

// Indicators computes the indicator set for a symbol from the current buffer
// contents. Returns an empty set when fewer than 2 ticks are buffered.
// Pure function of buffer state and the current time.
func (b *Buffer) Indicators(symbol string) Set {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pruneLocked(symbol)
	buf := b.buffers[symbol]
	if len(buf) < 2 {
		return Set{}
	}

	now := b.now()
	ind := Set{
		"tick_count": float64(len(buf)),
		"last_price": buf[len(buf)-1].Price,
	}

	for _, secs := range momentumWindows {
		if m, ok := momentum(buf, now, secs); ok {
			ind[momentumKey(secs)] = m
		}
	}

	for _, secs := range statWindows {
		prices := pricesInWindow(buf, now, secs)
		if len(prices) >= minStatPrices {
			ind[meanKey(secs)] = mean(prices)
			ind[stdKey(secs)] = sampleStdev(prices)
		}
	}

	if v, ok := vwap(buf); ok {
		ind["vwap"] = v
	}

	return ind
}

// momentum is the percent change from the oldest in-window price to the
// latest price. Not emitted when no tick falls inside the window or the
// reference price is zero.
func momentum(buf []types.Tick, now time.Time, secs int) (float64, bool) {
	cutoff := now.Add(-time.Duration(secs) * time.Second)

	var oldPrice float64
	found := false
	for _, t := range buf {
		if !t.Timestamp.Before(cutoff) {
			oldPrice = t.Price
			found = true
			break
		}
	}
	if !found || oldPrice == 0 {
		return 0, false
	}

	last := buf[len(buf)-1].Price
	return ((last - oldPrice) / oldPrice) * 100, true
}

func pricesInWindow(buf []types.Tick, now time.Time, secs int) []float64 {
	cutoff := now.Add(-time.Duration(secs) * time.Second)
	var prices []float64
	for _, t := range buf {
		if !t.Timestamp.Before(cutoff) {
			prices = append(prices, t.Price)
		}
	}
	return prices
}

// vwap over the entire buffer. Not emitted when total volume is zero.
func vwap(buf []types.Tick) (float64, bool) {
	var totalValue, totalVolume float64
	for _, t := range buf {
		totalValue += t.Price * float64(t.Size)
		totalVolume += float64(t.Size)
	}
	if totalVolume == 0 {
		return 0, false
	}
	return totalValue / totalVolume, true
}

func mean(prices []float64) float64 {
	var sum float64
	for _, p := range prices {
		sum += p
	}
	return sum / float64(len(prices))
}

// sampleStdev is the Bessel-corrected standard deviation; 0 for a single
// price.
func sampleStdev(prices []float64) float64 {
	n := len(prices)
	if n < 2 {
		return 0
	}
	m := mean(prices)
	var ss float64
	for _, p := range prices {
		d := p - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-1))
}

// Key helpers shared with the strategy layer, which looks indicators up by
// the window it was configured with.

// MomentumKey returns the indicator key for an N-second momentum window.
func MomentumKey(secs int) string { return momentumKey(secs) }

// MeanKey returns the indicator key for an N-second rolling mean.
func MeanKey(secs int) string { return meanKey(secs) }

// StdKey returns the indicator key for an N-second rolling stdev.
func StdKey(secs int) string { return stdKey(secs) }

func momentumKey(secs int) string { return fmt.Sprintf("momentum_%ds", secs) }
func meanKey(secs int) string     { return fmt.Sprintf("mean_%ds", secs) }
func stdKey(secs int) string      { return fmt.Sprintf("std_%ds", secs) }
