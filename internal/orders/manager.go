// Package orders submits market orders to the brokerage behind a set of
// hard safety rails: a global submission rate limit, a per-symbol
// cooldown, and a position exposure cap against account equity. The
// manager also refuses to operate against anything but a paper trading
// endpoint.
package orders

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"algorunner/internal/broker"
	"algorunner/internal/config"
	"algorunner/pkg/types"
)

const rateWindow = time.Minute

// Submitter is the slice of the broker client the manager needs.
type Submitter interface {
	SubmitOrder(ctx context.Context, req broker.OrderRequest) (*broker.Order, error)
	GetAccount(ctx context.Context) (*broker.Account, error)
	GetPositions(ctx context.Context) ([]broker.BrokerPosition, error)
}

// Manager gates order submissions behind the configured safety rails.
type Manager struct {
	client Submitter
	cfg    config.SafetyConfig
	logger *slog.Logger

	mu            sync.Mutex
	orderTimes    []time.Time          // submissions in the trailing window
	lastOrderTime map[string]time.Time // per-symbol, for cooldown
	equity        float64
	positions     map[string]broker.BrokerPosition

	// stats
	submitted int
	rejected  int

	now func() time.Time
}

// NewManager builds an order manager. It returns an error when paper_only
// is set but the trading endpoint is not a paper endpoint: that mismatch
// must never be survivable.
func NewManager(client Submitter, alpaca config.AlpacaConfig, safety config.SafetyConfig, logger *slog.Logger) (*Manager, error) {
	if safety.PaperOnly && !strings.Contains(alpaca.BaseURL, "paper") {
		return nil, fmt.Errorf("paper_only is set but base_url %q is not a paper endpoint", alpaca.BaseURL)
	}
	return &Manager{
		client:        client,
		cfg:           safety,
		logger:        logger.With("component", "orders"),
		lastOrderTime: make(map[string]time.Time),
		positions:     make(map[string]broker.BrokerPosition),
		now:           time.Now,
	}, nil
}

// RefreshAccount re-fetches equity and broker positions. The exposure cap
// is checked against these cached values, so the engine refreshes them
// periodically rather than per order.
func (m *Manager) RefreshAccount(ctx context.Context) error {
	account, err := m.client.GetAccount(ctx)
	if err != nil {
		return fmt.Errorf("refresh account: %w", err)
	}
	positions, err := m.client.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("refresh positions: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.equity = account.EquityFloat()
	m.positions = make(map[string]broker.BrokerPosition, len(positions))
	for _, p := range positions {
		m.positions[p.Symbol] = p
	}
	return nil
}

// Equity returns the cached account equity.
func (m *Manager) Equity() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.equity
}

// Stats returns cumulative submitted and rejected counts.
func (m *Manager) Stats() (submitted, rejected int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitted, m.rejected
}

// Submit runs the safety checks and, if they all pass, posts a market
// order sized in dollars for buys and in the full held quantity for
// sells. A safety rejection returns (nil, nil); only transport and broker
// failures return an error.
func (m *Manager) Submit(ctx context.Context, sig *types.Signal, dollarAmount float64) (*broker.Order, error) {
	m.mu.Lock()
	now := m.now()

	if !m.allowRateLocked(now) {
		m.rejected++
		m.mu.Unlock()
		m.logger.Warn("order rejected: rate limit",
			"symbol", sig.Symbol, "side", sig.Side, "limit", m.cfg.MaxOrdersPerMinute)
		return nil, nil
	}

	cooldown := time.Duration(m.cfg.CooldownSeconds) * time.Second
	if last, ok := m.lastOrderTime[sig.Symbol]; ok && cooldown > 0 && now.Sub(last) < cooldown {
		m.rejected++
		m.mu.Unlock()
		m.logger.Warn("order rejected: cooldown",
			"symbol", sig.Symbol, "side", sig.Side, "since_last", now.Sub(last))
		return nil, nil
	}

	var req broker.OrderRequest
	if sig.Side == types.Buy {
		if !m.allowExposureLocked(sig.Symbol, dollarAmount) {
			m.rejected++
			m.mu.Unlock()
			m.logger.Warn("order rejected: position cap",
				"symbol", sig.Symbol, "amount", dollarAmount,
				"max_position_pct", m.cfg.MaxPositionPct, "equity", m.equity)
			return nil, nil
		}
		notional := math.Round(dollarAmount*100) / 100
		req = broker.OrderRequest{
			Symbol:      sig.Symbol,
			Side:        string(types.Buy),
			Type:        "market",
			TimeInForce: "day",
			Notional:    strconv.FormatFloat(notional, 'f', 2, 64),
		}
	} else {
		pos, ok := m.positions[sig.Symbol]
		if !ok {
			m.rejected++
			m.mu.Unlock()
			m.logger.Warn("order rejected: no position to sell", "symbol", sig.Symbol)
			return nil, nil
		}
		req = broker.OrderRequest{
			Symbol:      sig.Symbol,
			Side:        string(types.Sell),
			Type:        "market",
			TimeInForce: "day",
			Qty:         pos.Qty,
		}
	}

	m.mu.Unlock()

	order, err := m.client.SubmitOrder(ctx, req)
	if err != nil {
		// A failed POST consumes no rate budget and starts no cooldown.
		return nil, err
	}

	m.mu.Lock()
	m.orderTimes = append(m.orderTimes, now)
	m.lastOrderTime[sig.Symbol] = now
	m.submitted++
	m.mu.Unlock()

	m.logger.Info("order accepted",
		"id", order.ID,
		"symbol", sig.Symbol,
		"side", sig.Side,
		"strategy", sig.Strategy,
		"reason", sig.Reason,
	)
	return order, nil
}

// allowRateLocked prunes the trailing window and checks the global rate
// limit. Caller holds mu.
func (m *Manager) allowRateLocked(now time.Time) bool {
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(m.orderTimes) && !m.orderTimes[i].After(cutoff) {
		i++
	}
	if i > 0 {
		m.orderTimes = append(m.orderTimes[:0:0], m.orderTimes[i:]...)
	}
	return len(m.orderTimes) < m.cfg.MaxOrdersPerMinute
}

// allowExposureLocked checks that current market value plus the prospective
// buy stays under max_position_pct of equity. Caller holds mu. Unknown
// equity (never refreshed) fails closed.
func (m *Manager) allowExposureLocked(symbol string, dollarAmount float64) bool {
	if m.equity <= 0 {
		return false
	}
	current := 0.0
	if pos, ok := m.positions[symbol]; ok {
		current = pos.MarketValueFloat()
	}
	return current+dollarAmount <= m.cfg.MaxPositionPct*m.equity
}
