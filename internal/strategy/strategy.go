// Package strategy implements the five-strategy family shared by both
// engines: momentum, mean reversion, SMA crossover, RSI, and buy-and-hold.
//
// The streaming contract is per-tick and per-bar: a strategy receives the
// latest price together with the indicator set derived from the tick buffer
// and returns at most one signal per call. Each strategy owns its per-symbol
// state (positions, cooldowns, price rings) for the process lifetime;
// cross-strategy isolation is total.
package strategy

import (
	"sync"
	"time"

	"algorunner/internal/indicator"
	"algorunner/pkg/types"
)

// Defaults shared across the family.
const (
	DefaultPositionSizePct = 0.1
	DefaultCashAllocation  = 1000
	DefaultCooldown        = 5 * time.Second
)

// Strategy is the capability set every variant implements. OnTick and OnBar
// are synchronous and never block on I/O; a nil return means no action.
type Strategy interface {
	Name() string
	Symbols() []string
	Enabled() bool
	CashAllocation() float64
	PositionSizePct() float64

	OnTick(symbol string, price float64, ind indicator.Set) *types.Signal
	OnBar(symbol string, bar types.Bar, ind indicator.Set) *types.Signal

	// Position tracking, authoritative within the streaming engine.
	Position(symbol string) float64
	SetPosition(symbol string, qty float64)
}

// tracker carries the state and behavior common to all variants: identity,
// per-symbol position quantities, and the per-symbol signal cooldown.
// A single mutex serializes access; the engine may touch positions from the
// signal-handling path while ticks arrive.
type tracker struct {
	name            string
	symbols         []string
	enabled         bool
	positionSizePct float64
	cashAllocation  float64
	cooldown        time.Duration

	mu             sync.Mutex
	positions      map[string]float64
	lastSignalTime map[string]time.Time

	now func() time.Time
}

func newTracker(name string, symbols []string, enabled bool, sizePct, cashAlloc float64, cooldown time.Duration) tracker {
	if sizePct <= 0 {
		sizePct = DefaultPositionSizePct
	}
	if cashAlloc <= 0 {
		cashAlloc = DefaultCashAllocation
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return tracker{
		name:            name,
		symbols:         symbols,
		enabled:         enabled,
		positionSizePct: sizePct,
		cashAllocation:  cashAlloc,
		cooldown:        cooldown,
		positions:       make(map[string]float64),
		lastSignalTime:  make(map[string]time.Time),
		now:             time.Now,
	}
}

func (t *tracker) Name() string             { return t.name }
func (t *tracker) Symbols() []string        { return t.symbols }
func (t *tracker) Enabled() bool            { return t.enabled }
func (t *tracker) CashAllocation() float64  { return t.cashAllocation }
func (t *tracker) PositionSizePct() float64 { return t.positionSizePct }

// Position returns the tracked quantity for a symbol (0 if none).
func (t *tracker) Position(symbol string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.positions[symbol]
}

// SetPosition overwrites the tracked quantity for a symbol.
func (t *tracker) SetPosition(symbol string, qty float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.positions[symbol] = qty
}

func (t *tracker) hasPosition(symbol string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.positions[symbol] > 0
}

// inCooldown reports whether a signal for symbol was emitted within the
// cooldown window. A strategy in cooldown must stay silent for that symbol.
func (t *tracker) inCooldown(symbol string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.lastSignalTime[symbol]
	if !ok {
		return false
	}
	return t.now().Sub(last) < t.cooldown
}

func (t *tracker) recordSignal(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSignalTime[symbol] = t.now()
}

// signal builds a Signal stamped with the tracker's clock and records the
// emission for cooldown purposes.
func (t *tracker) signal(side types.Side, symbol string, price float64, reason string) *types.Signal {
	t.recordSignal(symbol)
	return &types.Signal{
		Side:      side,
		Symbol:    symbol,
		Strategy:  t.name,
		Reason:    reason,
		Price:     price,
		Timestamp: t.now(),
	}
}
