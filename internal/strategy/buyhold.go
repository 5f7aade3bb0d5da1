package strategy

import (
	"time"

	"algorunner/internal/indicator"
	"algorunner/pkg/types"
)

// BuyAndHold buys each symbol once and holds forever. Used as a benchmark
// to compare the other strategies against; it never emits a sell.
type BuyAndHold struct {
	tracker

	bought map[string]bool
}

// NewBuyAndHold creates a buy-and-hold strategy. It takes no params.
func NewBuyAndHold(name string, symbols []string, enabled bool, sizePct, cashAlloc float64, cooldown time.Duration) *BuyAndHold {
	return &BuyAndHold{
		tracker: newTracker(name, symbols, enabled, sizePct, cashAlloc, cooldown),
		bought:  make(map[string]bool),
	}
}

func (s *BuyAndHold) OnTick(symbol string, price float64, ind indicator.Set) *types.Signal {
	s.mu.Lock()
	alreadyBought := s.bought[symbol]
	s.mu.Unlock()

	if alreadyBought {
		return nil
	}

	if s.hasPosition(symbol) {
		return nil
	}

	s.mu.Lock()
	s.bought[symbol] = true
	s.mu.Unlock()

	return s.signal(types.Buy, symbol, price, "Buy and hold initial purchase")
}

// OnBar also attempts the initial purchase in case the first tick was
// missed.
func (s *BuyAndHold) OnBar(symbol string, bar types.Bar, ind indicator.Set) *types.Signal {
	return s.OnTick(symbol, bar.Close, ind)
}
