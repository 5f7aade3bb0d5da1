// Package engine runs the streaming trading loop: market-data events in,
// indicator updates, strategy evaluation, and guarded order submission out.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"algorunner/internal/broker"
	"algorunner/internal/indicator"
	"algorunner/internal/orders"
	"algorunner/internal/store"
	"algorunner/internal/strategy"
	"algorunner/pkg/types"
)

const (
	accountRefreshInterval = time.Minute
	statsInterval          = 30 * time.Second
)

// TradeRecorder is the slice of the store client the engine uses. Nil
// disables trade recording.
type TradeRecorder interface {
	RecordTrade(ctx context.Context, rec store.TradeRecord) (string, error)
}

// Engine owns the event loop. All strategy evaluation happens on the
// single loop goroutine; the account refresher and stats logger run
// alongside and touch only the order manager and counters.
type Engine struct {
	stream     *broker.Stream
	buffer     *indicator.Buffer
	orders     *orders.Manager
	recorder   TradeRecorder
	strategies []strategy.Strategy
	bySymbol   map[string][]strategy.Strategy
	logger     *slog.Logger

	statsMu     sync.Mutex
	tickCount   int64
	signalCount int64
	orderCount  int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires an engine. recorder may be nil.
func New(stream *broker.Stream, buffer *indicator.Buffer, om *orders.Manager, recorder TradeRecorder, strategies []strategy.Strategy, logger *slog.Logger) *Engine {
	bySymbol := make(map[string][]strategy.Strategy)
	for _, st := range strategies {
		if !st.Enabled() {
			continue
		}
		for _, sym := range st.Symbols() {
			bySymbol[sym] = append(bySymbol[sym], st)
		}
	}
	return &Engine{
		stream:     stream,
		buffer:     buffer,
		orders:     om,
		recorder:   recorder,
		strategies: strategies,
		bySymbol:   bySymbol,
		logger:     logger.With("component", "engine"),
	}
}

// Symbols returns the union of symbols across enabled strategies.
func (e *Engine) Symbols() []string {
	syms := make([]string, 0, len(e.bySymbol))
	for sym := range e.bySymbol {
		syms = append(syms, sym)
	}
	return syms
}

// Start refreshes the account cache and launches the loop goroutines.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.orders.RefreshAccount(ctx); err != nil {
		return err
	}

	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(3)
	go e.run(ctx)
	go e.refreshLoop(ctx)
	go e.statsLoop(ctx)

	e.logger.Info("engine started",
		"strategies", len(e.strategies),
		"symbols", len(e.bySymbol),
	)
	return nil
}

// Stop cancels the loops and waits for them to drain.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.stream.Close()
	e.wg.Wait()
	e.logger.Info("engine stopped")
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stream.Done():
			e.logger.Error("stream closed, event loop exiting")
			return
		case ev := <-e.stream.Trades():
			e.handleTrade(ctx, ev)
		case ev := <-e.stream.Bars():
			e.handleBar(ctx, ev)
		case <-e.stream.Quotes():
			// Quotes keep the subscription warm; no strategy consumes them.
		}
	}
}

func (e *Engine) handleTrade(ctx context.Context, ev broker.TradeEvent) {
	e.buffer.AddAt(ev.Symbol, ev.Tick.Price, ev.Tick.Size, ev.Tick.Timestamp)

	e.statsMu.Lock()
	e.tickCount++
	e.statsMu.Unlock()

	ind := e.buffer.Indicators(ev.Symbol)
	for _, st := range e.bySymbol[ev.Symbol] {
		sig := e.safeOnTick(st, ev.Symbol, ev.Tick.Price, ind)
		if sig != nil {
			e.handleSignal(ctx, st, sig)
		}
	}
}

func (e *Engine) handleBar(ctx context.Context, ev broker.BarEvent) {
	ind := e.buffer.Indicators(ev.Symbol)
	for _, st := range e.bySymbol[ev.Symbol] {
		sig := e.safeOnBar(st, ev.Symbol, ev.Bar, ind)
		if sig != nil {
			e.handleSignal(ctx, st, sig)
		}
	}
}

// safeOnTick evaluates one strategy with panic isolation: a strategy
// failure is logged and treated as no-signal, and the rest continue.
func (e *Engine) safeOnTick(st strategy.Strategy, symbol string, price float64, ind indicator.Set) (sig *types.Signal) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("strategy panicked in on_tick",
				"strategy", st.Name(), "symbol", symbol, "panic", r)
			sig = nil
		}
	}()
	return st.OnTick(symbol, price, ind)
}

func (e *Engine) safeOnBar(st strategy.Strategy, symbol string, bar types.Bar, ind indicator.Set) (sig *types.Signal) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("strategy panicked in on_bar",
				"strategy", st.Name(), "symbol", symbol, "panic", r)
			sig = nil
		}
	}()
	return st.OnBar(symbol, bar, ind)
}

// handleSignal sizes, submits, and books a signal. Buys are sized as
// cash_allocation * position_size_pct dollars; sells liquidate the whole
// broker position so the dollar amount is irrelevant.
func (e *Engine) handleSignal(ctx context.Context, st strategy.Strategy, sig *types.Signal) {
	e.statsMu.Lock()
	e.signalCount++
	e.statsMu.Unlock()

	e.logger.Info("signal",
		"strategy", sig.Strategy,
		"symbol", sig.Symbol,
		"side", sig.Side,
		"price", sig.Price,
		"reason", sig.Reason,
	)

	dollar := 0.0
	if sig.Side == types.Buy {
		dollar = st.CashAllocation() * st.PositionSizePct()
	}

	order, err := e.orders.Submit(ctx, sig, dollar)
	if err != nil {
		e.logger.Error("order submission failed",
			"strategy", sig.Strategy, "symbol", sig.Symbol, "error", err)
		return
	}
	if order == nil {
		return // safety rejection, already logged
	}

	e.statsMu.Lock()
	e.orderCount++
	e.statsMu.Unlock()

	e.applyFill(st, sig, order, dollar)
	e.recordTrade(ctx, sig, order)
}

// applyFill updates the strategy's position book from the broker response,
// falling back to the signal price when the fill has not been reported yet.
func (e *Engine) applyFill(st strategy.Strategy, sig *types.Signal, order *broker.Order, dollar float64) {
	if sig.Side == types.Sell {
		st.SetPosition(sig.Symbol, 0)
		return
	}
	qty, ok := order.FilledQtyFloat()
	if !ok && sig.Price > 0 {
		qty = dollar / sig.Price
	}
	st.SetPosition(sig.Symbol, st.Position(sig.Symbol)+qty)
}

// recordTrade books the fill to the dashboard store, best effort.
func (e *Engine) recordTrade(ctx context.Context, sig *types.Signal, order *broker.Order) {
	if e.recorder == nil {
		return
	}
	status := order.Status
	if status == "" {
		status = "submitted"
	}
	rec := store.TradeRecord{
		AlgorithmID:   sig.Strategy,
		Symbol:        sig.Symbol,
		Side:          string(sig.Side),
		OrderType:     "market",
		Status:        status,
		AlpacaOrderID: order.ID,
		Notes:         sig.Reason,
	}
	if price, ok := order.FilledAvgPriceFloat(); ok {
		rec.FilledPrice = decimal.NewFromFloat(price)
	} else {
		rec.FilledPrice = decimal.NewFromFloat(sig.Price)
	}
	if qty, ok := order.FilledQtyFloat(); ok {
		rec.FilledQty = decimal.NewFromFloat(qty)
		rec.Quantity = rec.FilledQty
	}
	if _, err := e.recorder.RecordTrade(ctx, rec); err != nil {
		e.logger.Warn("trade not recorded",
			"symbol", sig.Symbol, "order_id", order.ID, "error", err)
	}
}

func (e *Engine) refreshLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(accountRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.orders.RefreshAccount(ctx); err != nil {
				e.logger.Warn("account refresh failed", "error", err)
			}
		}
	}
}

func (e *Engine) statsLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.statsMu.Lock()
			ticks, signals, submitted := e.tickCount, e.signalCount, e.orderCount
			e.statsMu.Unlock()
			_, rejected := e.orders.Stats()
			e.logger.Info("stats",
				"ticks", ticks,
				"signals", signals,
				"orders", submitted,
				"rejected", rejected,
				"equity", e.orders.Equity(),
			)
		}
	}
}
