package engine

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"algorunner/internal/broker"
	"algorunner/internal/config"
	"algorunner/internal/indicator"
	"algorunner/internal/orders"
	"algorunner/internal/store"
	"algorunner/internal/strategy"
	"algorunner/pkg/types"
)

// fakeBroker accepts every order and reports a large account.
type fakeBroker struct {
	orders []broker.OrderRequest
	fills  map[string]string // symbol -> filled_qty
}

func (f *fakeBroker) SubmitOrder(_ context.Context, req broker.OrderRequest) (*broker.Order, error) {
	f.orders = append(f.orders, req)
	return &broker.Order{
		ID:        "ord-1",
		Symbol:    req.Symbol,
		Side:      req.Side,
		Status:    "accepted",
		FilledQty: f.fills[req.Symbol],
	}, nil
}

func (f *fakeBroker) GetAccount(context.Context) (*broker.Account, error) {
	return &broker.Account{Equity: "100000", BuyingPower: "200000", Status: "ACTIVE"}, nil
}

func (f *fakeBroker) GetPositions(context.Context) ([]broker.BrokerPosition, error) {
	return []broker.BrokerPosition{{Symbol: "AAPL", Qty: "3", MarketValue: "450"}}, nil
}

type fakeRecorder struct {
	records []store.TradeRecord
}

func (f *fakeRecorder) RecordTrade(_ context.Context, rec store.TradeRecord) (string, error) {
	f.records = append(f.records, rec)
	return "trade-1", nil
}

// panicky always blows up in OnTick, to exercise loop isolation.
type panicky struct {
	strategy.Strategy
}

func (panicky) OnTick(string, float64, indicator.Set) *types.Signal {
	panic("boom")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEngine(t *testing.T, fb *fakeBroker, rec TradeRecorder, strategies ...strategy.Strategy) *Engine {
	t.Helper()
	manager, err := orders.NewManager(fb,
		config.AlpacaConfig{BaseURL: "https://paper-api.alpaca.markets"},
		config.SafetyConfig{MaxPositionPct: 0.25, MaxOrdersPerMinute: 100, PaperOnly: true},
		testLogger())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := manager.RefreshAccount(context.Background()); err != nil {
		t.Fatalf("RefreshAccount: %v", err)
	}

	stream := broker.NewStream(config.AlpacaConfig{}, nil, testLogger())
	buffer := indicator.NewBuffer(120 * time.Second)
	return New(stream, buffer, manager, rec, strategies, testLogger())
}

func buyAndHold(symbols ...string) *strategy.BuyAndHold {
	return strategy.NewBuyAndHold("bh", symbols, true, 0.1, 1000, 0)
}

func TestSymbolIndexSkipsDisabled(t *testing.T) {
	t.Parallel()
	enabled := buyAndHold("AAPL")
	disabled := strategy.NewBuyAndHold("off", []string{"TSLA"}, false, 0.1, 1000, 0)

	e := newTestEngine(t, &fakeBroker{}, nil, enabled, disabled)

	syms := e.Symbols()
	if len(syms) != 1 || syms[0] != "AAPL" {
		t.Errorf("Symbols = %v, want [AAPL]", syms)
	}
}

func TestHandleTradeSubmitsAndBooksPosition(t *testing.T) {
	t.Parallel()
	fb := &fakeBroker{fills: map[string]string{"AAPL": "2"}}
	rec := &fakeRecorder{}
	bh := buyAndHold("AAPL")
	e := newTestEngine(t, fb, rec, bh)

	e.handleTrade(context.Background(), broker.TradeEvent{
		Symbol: "AAPL",
		Tick:   types.Tick{Price: 100, Size: 10, Timestamp: time.Now()},
	})

	if len(fb.orders) != 1 {
		t.Fatalf("broker orders = %d, want 1", len(fb.orders))
	}
	// Buy sized as cash_allocation * position_size_pct = 100 dollars.
	if got := fb.orders[0].Notional; got != "100.00" {
		t.Errorf("notional = %q, want \"100.00\"", got)
	}
	// Position booked from the broker's filled quantity.
	if got := bh.Position("AAPL"); got != 2 {
		t.Errorf("position = %v, want 2 (filled qty)", got)
	}

	if len(rec.records) != 1 {
		t.Fatalf("recorded trades = %d, want 1", len(rec.records))
	}
	if rec.records[0].AlgorithmID != "bh" || rec.records[0].Side != "buy" {
		t.Errorf("trade record = %+v", rec.records[0])
	}
}

func TestApplyFillFallsBackToSignalPrice(t *testing.T) {
	t.Parallel()
	fb := &fakeBroker{} // no filled_qty reported
	bh := buyAndHold("AAPL")
	e := newTestEngine(t, fb, nil, bh)

	e.handleTrade(context.Background(), broker.TradeEvent{
		Symbol: "AAPL",
		Tick:   types.Tick{Price: 50, Size: 10, Timestamp: time.Now()},
	})

	// 1000 * 0.1 / 50 = 2 shares estimated.
	if got := bh.Position("AAPL"); got != 2 {
		t.Errorf("position = %v, want 2 (dollar/price estimate)", got)
	}
}

func TestStrategyPanicIsolated(t *testing.T) {
	t.Parallel()
	fb := &fakeBroker{fills: map[string]string{"AAPL": "1"}}
	bad := panicky{Strategy: strategy.NewBuyAndHold("bad", []string{"AAPL"}, true, 0.1, 1000, 0)}
	good := buyAndHold("AAPL")
	e := newTestEngine(t, fb, nil, bad, good)

	e.handleTrade(context.Background(), broker.TradeEvent{
		Symbol: "AAPL",
		Tick:   types.Tick{Price: 100, Size: 10, Timestamp: time.Now()},
	})

	// The panicking strategy is contained; the healthy one still trades.
	if len(fb.orders) != 1 {
		t.Errorf("broker orders = %d, want 1 from healthy strategy", len(fb.orders))
	}
	if got := good.Position("AAPL"); got != 1 {
		t.Errorf("healthy strategy position = %v, want 1", got)
	}
}

func TestSellZeroesPosition(t *testing.T) {
	t.Parallel()
	fb := &fakeBroker{}
	bh := buyAndHold("AAPL")
	bh.SetPosition("AAPL", 3)
	e := newTestEngine(t, fb, nil, bh)

	e.handleSignal(context.Background(), bh, &types.Signal{
		Side: types.Sell, Symbol: "AAPL", Strategy: "bh", Price: 150,
	})

	if len(fb.orders) != 1 || fb.orders[0].Side != "sell" {
		t.Fatalf("orders = %+v, want one sell", fb.orders)
	}
	// Sells liquidate the broker position (qty 3 from the account fake).
	if got := fb.orders[0].Qty; got != "3" {
		t.Errorf("sell qty = %q, want \"3\"", got)
	}
	if got := bh.Position("AAPL"); got != 0 {
		t.Errorf("position after sell = %v, want 0", got)
	}
}
