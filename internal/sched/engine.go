// Package sched implements the batch engine: once a minute it loads the
// enabled algorithms from the dashboard store, evaluates their strategies
// against daily bars, and books any resulting orders transactionally
// against each algorithm's own cash ledger. Cash and position arithmetic
// uses decimals; float drift in a ledger compounds.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"algorunner/internal/broker"
	"algorunner/internal/store"
	"algorunner/internal/strategy"
	"algorunner/pkg/types"
)

// Batch routine defaults, applied when the algorithm config omits a key.
const (
	defaultSMAShortPeriod = 10
	defaultSMALongPeriod  = 50
	defaultRSIPeriod      = 14
	defaultRSIOversold    = 30
	defaultRSIOverbought  = 70
	defaultLookbackDays   = 20
	defaultThresholdPct   = 5
	defaultMeanRevWindow  = 20
	defaultStdThreshold   = 2.0
	defaultExitThreshold  = 0.5
	defaultSizePct        = 0.1
	defaultBuyAndHoldPct  = 1.0
)

// Broker is the slice of the brokerage client the engine needs.
type Broker interface {
	GetClock(ctx context.Context) (*broker.Clock, error)
	SubmitOrder(ctx context.Context, req broker.OrderRequest) (*broker.Order, error)
	GetBars(ctx context.Context, symbol string, limit int) ([]types.Bar, error)
	GetLatestTrade(ctx context.Context, symbol string) (float64, error)
}

// Store is the slice of the dashboard store the engine needs.
type Store interface {
	ListEnabledAlgorithms(ctx context.Context) ([]types.Algorithm, error)
	UpdateAlgorithmCash(ctx context.Context, algorithmID string, cash decimal.Decimal) error
	GetPosition(ctx context.Context, algorithmID, symbol string) (*types.Position, error)
	UpsertPosition(ctx context.Context, pos types.Position) error
	DeletePosition(ctx context.Context, algorithmID, symbol string) error
	RecordTrade(ctx context.Context, rec store.TradeRecord) (string, error)
	RecordSnapshot(ctx context.Context, snap types.Snapshot) error
	LatestSnapshot(ctx context.Context, algorithmID string) (*types.Snapshot, error)
	StartingBalance(ctx context.Context) decimal.Decimal
}

// Engine is the scheduled batch engine. RunOnce is the unit of work; the
// cmd binary drives it from a cron schedule.
type Engine struct {
	broker Broker
	store  Store
	logger *slog.Logger

	now func() time.Time
}

// New wires a scheduled engine.
func New(b Broker, s Store, logger *slog.Logger) *Engine {
	return &Engine{
		broker: b,
		store:  s,
		logger: logger.With("component", "sched"),
		now:    time.Now,
	}
}

// RunOnce performs one scheduled invocation. A single failed call never
// aborts the run: the affected algorithm or symbol is skipped and the
// rest proceed.
func (e *Engine) RunOnce(ctx context.Context) error {
	clock, err := e.broker.GetClock(ctx)
	if err != nil {
		return fmt.Errorf("market clock: %w", err)
	}

	if !clock.IsOpen {
		// Keep the equity curve alive across the close: snapshot hourly.
		if e.now().Minute() == 0 {
			e.snapshotAll(ctx)
		}
		e.logger.Debug("market closed, skipping run")
		return nil
	}

	algos, err := e.store.ListEnabledAlgorithms(ctx)
	if err != nil {
		return fmt.Errorf("load algorithms: %w", err)
	}

	for _, algo := range algos {
		if err := e.runAlgorithm(ctx, algo); err != nil {
			e.logger.Error("algorithm run failed",
				"algorithm", algo.Name, "strategy", algo.StrategyType, "error", err)
		}
	}
	return nil
}

func (e *Engine) runAlgorithm(ctx context.Context, algo types.Algorithm) error {
	switch algo.StrategyType {
	case types.StrategySMACrossover:
		e.runSMACrossover(ctx, algo)
	case types.StrategyRSI:
		e.runRSI(ctx, algo)
	case types.StrategyMomentum:
		e.runMomentum(ctx, algo)
	case types.StrategyMeanReversion:
		e.runMeanReversion(ctx, algo)
	case types.StrategyBuyAndHold:
		e.runBuyAndHold(ctx, algo)
	default:
		return fmt.Errorf("unknown strategy type %q", algo.StrategyType)
	}
	return nil
}

// runSMACrossover compares a short and long SMA over daily closes. Unlike
// the streaming variant there is no edge tracking: any minute in which the
// short SMA sits above the long one and no position exists is a buy.
func (e *Engine) runSMACrossover(ctx context.Context, algo types.Algorithm) {
	shortPeriod := intParam(algo.Config, "short_period", defaultSMAShortPeriod)
	longPeriod := intParam(algo.Config, "long_period", defaultSMALongPeriod)
	sizePct := algo.Config["position_size_pct"]
	if sizePct <= 0 {
		sizePct = defaultSizePct
	}

	for _, symbol := range algo.Symbols {
		bars := e.getBars(ctx, symbol, longPeriod+5)
		if len(bars) < longPeriod {
			continue
		}
		closes := closesOf(bars)
		shortSMA := tailSMA(closes, shortPeriod)
		longSMA := tailSMA(closes, longPeriod)

		pos := e.getPosition(ctx, algo.ID, symbol)
		switch {
		case shortSMA > longSMA && pos == nil:
			e.submitBuy(ctx, algo, symbol, sizePct, bars, "SMA crossover buy signal")
		case shortSMA < longSMA && pos != nil:
			e.submitSell(ctx, algo, symbol, pos, bars, "SMA crossover sell signal")
		}
	}
}

func (e *Engine) runRSI(ctx context.Context, algo types.Algorithm) {
	period := intParam(algo.Config, "period", defaultRSIPeriod)
	oversold := floatParam(algo.Config, "oversold", defaultRSIOversold)
	overbought := floatParam(algo.Config, "overbought", defaultRSIOverbought)
	sizePct := algo.Config["position_size_pct"]
	if sizePct <= 0 {
		sizePct = defaultSizePct
	}

	for _, symbol := range algo.Symbols {
		bars := e.getBars(ctx, symbol, period+5)
		if len(bars) < period+1 {
			continue
		}
		rsi := strategy.ComputeRSI(closesOf(bars), period)

		pos := e.getPosition(ctx, algo.ID, symbol)
		switch {
		case rsi < oversold && pos == nil:
			e.submitBuy(ctx, algo, symbol, sizePct, bars, fmt.Sprintf("RSI oversold (%.1f)", rsi))
		case rsi > overbought && pos != nil:
			e.submitSell(ctx, algo, symbol, pos, bars, fmt.Sprintf("RSI overbought (%.1f)", rsi))
		}
	}
}

func (e *Engine) runMomentum(ctx context.Context, algo types.Algorithm) {
	lookbackDays := intParam(algo.Config, "lookback_days", defaultLookbackDays)
	thresholdPct := floatParam(algo.Config, "threshold_pct", defaultThresholdPct)
	sizePct := algo.Config["position_size_pct"]
	if sizePct <= 0 {
		sizePct = defaultSizePct
	}

	for _, symbol := range algo.Symbols {
		bars := e.getBars(ctx, symbol, lookbackDays+1)
		if len(bars) < lookbackDays {
			continue
		}
		startPrice := bars[0].Close
		endPrice := bars[len(bars)-1].Close
		if startPrice == 0 {
			continue
		}
		momentumPct := (endPrice - startPrice) / startPrice * 100

		pos := e.getPosition(ctx, algo.ID, symbol)
		switch {
		case momentumPct > thresholdPct && pos == nil:
			e.submitBuy(ctx, algo, symbol, sizePct, bars, fmt.Sprintf("Momentum buy (%.1f%%)", momentumPct))
		case momentumPct < -thresholdPct && pos != nil:
			e.submitSell(ctx, algo, symbol, pos, bars, fmt.Sprintf("Momentum sell (%.1f%%)", momentumPct))
		}
	}
}

// runMeanReversion scores the latest close against the mean and sample
// stdev of the trailing window of daily closes.
func (e *Engine) runMeanReversion(ctx context.Context, algo types.Algorithm) {
	window := intParam(algo.Config, "window", defaultMeanRevWindow)
	stdThreshold := floatParam(algo.Config, "std_threshold", defaultStdThreshold)
	exitThreshold := floatParam(algo.Config, "exit_threshold", defaultExitThreshold)
	sizePct := algo.Config["position_size_pct"]
	if sizePct <= 0 {
		sizePct = defaultSizePct
	}

	for _, symbol := range algo.Symbols {
		bars := e.getBars(ctx, symbol, window+5)
		if len(bars) < window {
			continue
		}
		closes := closesOf(bars)
		windowed := closes[len(closes)-window:]
		m, sd := meanStdev(windowed)
		if sd == 0 {
			continue
		}
		z := (closes[len(closes)-1] - m) / sd

		pos := e.getPosition(ctx, algo.ID, symbol)
		switch {
		case z < -stdThreshold && pos == nil:
			e.submitBuy(ctx, algo, symbol, sizePct, bars, fmt.Sprintf("Mean reversion buy (z=%.2f)", z))
		case (z > stdThreshold || math.Abs(z) < exitThreshold) && pos != nil:
			e.submitSell(ctx, algo, symbol, pos, bars, fmt.Sprintf("Mean reversion exit (z=%.2f)", z))
		}
	}
}

func (e *Engine) runBuyAndHold(ctx context.Context, algo types.Algorithm) {
	sizePct := algo.Config["position_size_pct"]
	if sizePct <= 0 {
		sizePct = defaultBuyAndHoldPct
	}

	for _, symbol := range algo.Symbols {
		if e.getPosition(ctx, algo.ID, symbol) != nil {
			continue
		}
		bars := e.getBars(ctx, symbol, 1)
		if len(bars) == 0 {
			continue
		}
		e.submitBuy(ctx, algo, symbol, sizePct, bars, "Buy and hold initial purchase")
	}
}

// getBars fetches daily bars, falling back to a single synthetic bar built
// from the latest trade when the data API returns nothing (weekends, thin
// IEX coverage). The evaluation proceeds best effort either way.
func (e *Engine) getBars(ctx context.Context, symbol string, limit int) []types.Bar {
	bars, err := e.broker.GetBars(ctx, symbol, limit)
	if err != nil {
		e.logger.Warn("bars fetch failed", "symbol", symbol, "error", err)
		bars = nil
	}
	if len(bars) > 0 {
		return bars
	}
	price, err := e.broker.GetLatestTrade(ctx, symbol)
	if err != nil || price <= 0 {
		return nil
	}
	now := e.now()
	return []types.Bar{{
		Open: price, High: price, Low: price, Close: price,
		Timestamp: now,
	}}
}

func (e *Engine) getPosition(ctx context.Context, algorithmID, symbol string) *types.Position {
	pos, err := e.store.GetPosition(ctx, algorithmID, symbol)
	if err != nil {
		e.logger.Warn("position fetch failed",
			"algorithm", algorithmID, "symbol", symbol, "error", err)
		return nil
	}
	return pos
}

// submitBuy sizes a buy off the algorithm's own cash ledger, submits it,
// and books the fill: Trade row, Position upsert, cash decrement, and a
// trade-triggered snapshot.
func (e *Engine) submitBuy(ctx context.Context, algo types.Algorithm, symbol string, sizePct float64, bars []types.Bar, notes string) {
	barClose := decimal.NewFromFloat(bars[len(bars)-1].Close)
	if barClose.IsZero() {
		return
	}

	dollar := algo.CashBalance.Mul(decimal.NewFromFloat(sizePct))
	qty := dollar.Div(barClose).IntPart()
	if qty <= 0 {
		e.logger.Info("buy skipped: sized to zero",
			"algorithm", algo.Name, "symbol", symbol, "cash", algo.CashBalance)
		return
	}

	qtyDec := decimal.NewFromInt(qty)
	estimatedCost := qtyDec.Mul(barClose)
	if estimatedCost.GreaterThan(algo.CashBalance) {
		e.logger.Warn("buy rejected: insufficient cash",
			"algorithm", algo.Name, "symbol", symbol,
			"cost", estimatedCost, "cash", algo.CashBalance)
		return
	}

	order, err := e.broker.SubmitOrder(ctx, broker.OrderRequest{
		Symbol:      symbol,
		Side:        string(types.Buy),
		Type:        "market",
		TimeInForce: "day",
		Qty:         qtyDec.String(),
	})
	if err != nil {
		e.logger.Error("buy submission failed",
			"algorithm", algo.Name, "symbol", symbol, "error", err)
		return
	}

	fillPrice := barClose
	if p, ok := order.FilledAvgPriceFloat(); ok {
		fillPrice = decimal.NewFromFloat(p)
	}

	e.recordTrade(ctx, algo, symbol, types.Buy, qtyDec, fillPrice, order, notes)
	e.applyBuy(ctx, algo, symbol, qtyDec, fillPrice)
	e.snapshotAlgorithm(ctx, algo.ID, "trade")
}

// submitSell liquidates the full position and books the proceeds.
func (e *Engine) submitSell(ctx context.Context, algo types.Algorithm, symbol string, pos *types.Position, bars []types.Bar, notes string) {
	if pos.Quantity <= 0 {
		return
	}
	qtyDec := decimal.NewFromInt(pos.Quantity)

	order, err := e.broker.SubmitOrder(ctx, broker.OrderRequest{
		Symbol:      symbol,
		Side:        string(types.Sell),
		Type:        "market",
		TimeInForce: "day",
		Qty:         qtyDec.String(),
	})
	if err != nil {
		e.logger.Error("sell submission failed",
			"algorithm", algo.Name, "symbol", symbol, "error", err)
		return
	}

	fillPrice := decimal.NewFromFloat(bars[len(bars)-1].Close)
	if p, ok := order.FilledAvgPriceFloat(); ok {
		fillPrice = decimal.NewFromFloat(p)
	}

	e.recordTrade(ctx, algo, symbol, types.Sell, qtyDec, fillPrice, order, notes)
	e.applySell(ctx, algo, symbol, pos, qtyDec, fillPrice)
	e.snapshotAlgorithm(ctx, algo.ID, "trade")
}

func (e *Engine) recordTrade(ctx context.Context, algo types.Algorithm, symbol string, side types.Side, qty, fillPrice decimal.Decimal, order *broker.Order, notes string) {
	status := order.Status
	if status == "" {
		status = "submitted"
	}
	if _, err := e.store.RecordTrade(ctx, store.TradeRecord{
		AlgorithmID:   algo.ID,
		Symbol:        symbol,
		Side:          string(side),
		Quantity:      qty,
		OrderType:     "market",
		Status:        status,
		AlpacaOrderID: order.ID,
		Notes:         notes,
		FilledPrice:   fillPrice,
		FilledQty:     qty,
	}); err != nil {
		e.logger.Warn("trade not recorded",
			"algorithm", algo.Name, "symbol", symbol, "error", err)
	}
	e.logger.Info("order submitted",
		"algorithm", algo.Name, "symbol", symbol, "side", side,
		"qty", qty, "fill_price", fillPrice, "notes", notes)
}

// applyBuy upserts the position (weighted-average entry price) and debits
// cash by qty * fill.
func (e *Engine) applyBuy(ctx context.Context, algo types.Algorithm, symbol string, qty, fillPrice decimal.Decimal) {
	existing := e.getPosition(ctx, algo.ID, symbol)
	pos := types.Position{
		ID:            uuid.NewString(),
		AlgorithmID:   algo.ID,
		Symbol:        symbol,
		Quantity:      qty.IntPart(),
		AvgEntryPrice: fillPrice,
		UpdatedAt:     e.now(),
	}
	if existing != nil {
		newQty := decimal.NewFromInt(existing.Quantity).Add(qty)
		oldValue := decimal.NewFromInt(existing.Quantity).Mul(existing.AvgEntryPrice)
		newValue := qty.Mul(fillPrice)
		pos.ID = existing.ID
		pos.Quantity = newQty.IntPart()
		if !newQty.IsZero() {
			pos.AvgEntryPrice = oldValue.Add(newValue).Div(newQty)
		}
	}
	if err := e.store.UpsertPosition(ctx, pos); err != nil {
		e.logger.Error("position upsert failed",
			"algorithm", algo.Name, "symbol", symbol, "error", err)
		return
	}

	newCash := algo.CashBalance.Sub(qty.Mul(fillPrice))
	if err := e.store.UpdateAlgorithmCash(ctx, algo.ID, newCash); err != nil {
		e.logger.Error("cash update failed",
			"algorithm", algo.Name, "error", err)
	}
}

// applySell decrements (or deletes) the position and credits cash by
// qty * fill.
func (e *Engine) applySell(ctx context.Context, algo types.Algorithm, symbol string, pos *types.Position, qty, fillPrice decimal.Decimal) {
	remaining := pos.Quantity - qty.IntPart()
	if remaining <= 0 {
		if err := e.store.DeletePosition(ctx, algo.ID, symbol); err != nil {
			e.logger.Error("position delete failed",
				"algorithm", algo.Name, "symbol", symbol, "error", err)
			return
		}
	} else {
		updated := *pos
		updated.Quantity = remaining
		updated.UpdatedAt = e.now()
		if err := e.store.UpsertPosition(ctx, updated); err != nil {
			e.logger.Error("position update failed",
				"algorithm", algo.Name, "symbol", symbol, "error", err)
			return
		}
	}

	newCash := algo.CashBalance.Add(qty.Mul(fillPrice))
	if err := e.store.UpdateAlgorithmCash(ctx, algo.ID, newCash); err != nil {
		e.logger.Error("cash update failed",
			"algorithm", algo.Name, "error", err)
	}
}

// snapshotAll emits a snapshot for every enabled algorithm, used for the
// hourly off-hours equity curve.
func (e *Engine) snapshotAll(ctx context.Context) {
	algos, err := e.store.ListEnabledAlgorithms(ctx)
	if err != nil {
		e.logger.Warn("snapshot sweep: load algorithms failed", "error", err)
		return
	}
	for _, algo := range algos {
		e.snapshotAlgorithm(ctx, algo.ID, "scheduled")
	}
}

// snapshotAlgorithm computes and records a portfolio snapshot:
// equity = cash + sum(qty * latest price) over open positions,
// daily_pnl = equity delta against the previous snapshot, and
// total_pnl = equity - starting balance.
func (e *Engine) snapshotAlgorithm(ctx context.Context, algorithmID, trigger string) {
	algo, ok := e.findAlgorithm(ctx, algorithmID)
	if !ok {
		return
	}

	equity := algo.CashBalance
	snapPositions := make([]types.SnapshotPosition, 0, len(algo.Symbols))
	for _, symbol := range algo.Symbols {
		pos := e.getPosition(ctx, algo.ID, symbol)
		if pos == nil {
			continue
		}
		price, err := e.broker.GetLatestTrade(ctx, symbol)
		if err != nil || price <= 0 {
			// No quote: value the holding at its entry price rather
			// than drop it from equity.
			price, _ = pos.AvgEntryPrice.Float64()
		}
		priceDec := decimal.NewFromFloat(price)
		qtyDec := decimal.NewFromInt(pos.Quantity)
		value := qtyDec.Mul(priceDec)
		equity = equity.Add(value)
		snapPositions = append(snapPositions, types.SnapshotPosition{
			Symbol:        symbol,
			Quantity:      pos.Quantity,
			AvgEntryPrice: pos.AvgEntryPrice,
			CurrentPrice:  priceDec,
			MarketValue:   value,
			UnrealizedPnL: value.Sub(qtyDec.Mul(pos.AvgEntryPrice)),
		})
	}

	dailyPnL := decimal.Zero
	if prev, err := e.store.LatestSnapshot(ctx, algo.ID); err == nil && prev != nil {
		dailyPnL = equity.Sub(prev.Equity)
	}
	totalPnL := equity.Sub(e.store.StartingBalance(ctx))

	snap := types.Snapshot{
		ID:           uuid.NewString(),
		AlgorithmID:  algo.ID,
		Equity:       equity,
		Cash:         algo.CashBalance,
		BuyingPower:  algo.CashBalance,
		DailyPnL:     dailyPnL,
		TotalPnL:     totalPnL,
		Positions:    snapPositions,
		Trigger:      trigger,
		SnapshotDate: e.now().Format("2006-01-02"),
	}
	if err := e.store.RecordSnapshot(ctx, snap); err != nil {
		e.logger.Warn("snapshot not recorded", "algorithm", algo.Name, "error", err)
		return
	}
	e.logger.Info("snapshot",
		"algorithm", algo.Name, "equity", equity, "trigger", trigger)
}

// findAlgorithm re-reads the algorithm so the snapshot sees the cash
// balance committed by the trade that triggered it.
func (e *Engine) findAlgorithm(ctx context.Context, algorithmID string) (types.Algorithm, bool) {
	algos, err := e.store.ListEnabledAlgorithms(ctx)
	if err != nil {
		e.logger.Warn("snapshot: load algorithms failed", "error", err)
		return types.Algorithm{}, false
	}
	for _, a := range algos {
		if a.ID == algorithmID {
			return a, true
		}
	}
	return types.Algorithm{}, false
}

// meanStdev returns the mean and sample (Bessel-corrected) stdev.
func meanStdev(vals []float64) (float64, float64) {
	n := len(vals)
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	m := sum / float64(n)
	if n < 2 {
		return m, 0
	}
	var ss float64
	for _, v := range vals {
		d := v - m
		ss += d * d
	}
	return m, math.Sqrt(ss / float64(n-1))
}

func closesOf(bars []types.Bar) []float64 {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return closes
}

func tailSMA(closes []float64, n int) float64 {
	if n <= 0 || n > len(closes) {
		return 0
	}
	sum := 0.0
	for _, c := range closes[len(closes)-n:] {
		sum += c
	}
	return sum / float64(n)
}

func intParam(cfg map[string]float64, key string, def int) int {
	if v, ok := cfg[key]; ok && v > 0 {
		return int(v)
	}
	return def
}

func floatParam(cfg map[string]float64, key string, def float64) float64 {
	if v, ok := cfg[key]; ok {
		return v
	}
	return def
}
