// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for both engines — signals, ticks,
// bars, and the dashboard-store records (algorithms, positions, trades,
// snapshots). It has no dependencies on internal packages, so it can be
// imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of a signal or order: buy or sell.
// The string values match the Alpaca order API.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Strategy kinds recognized by the config factory and the scheduled engine.
const (
	StrategySMACrossover  = "sma_crossover"
	StrategyRSI           = "rsi"
	StrategyMomentum      = "momentum"
	StrategyBuyAndHold    = "buy_and_hold"
	StrategyMeanReversion = "mean_reversion"
)

// ————————————————————————————————————————————————————————————————————————
// Market data
// ————————————————————————————————————————————————————————————————————————

// Tick is a single executed trade print. Ticks are transient: they live only
// in the streaming engine's tick buffer and are pruned by age.
type Tick struct {
	Price     float64
	Size      int64
	Timestamp time.Time
}

// Bar is an OHLCV aggregate over a fixed interval (1-minute on the stream,
// 1-day from the bars endpoint).
type Bar struct {
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
	Timestamp time.Time
}

// Signal is a strategy's intent: buy or sell a symbol, with the reason and
// the price observed at emission.
type Signal struct {
	Side      Side
	Symbol    string
	Strategy  string
	Reason    string
	Price     float64
	Timestamp time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Dashboard-store records
// ————————————————————————————————————————————————————————————————————————

// Algorithm is one configured trading algorithm with its own cash ledger.
// Owned by the dashboard store; the engines mutate it through the store
// client. CashBalance is never negative after a trade commits.
type Algorithm struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Description  string             `json:"description"`
	StrategyType string             `json:"strategy_type"`
	Config       map[string]float64 `json:"config"`
	Symbols      []string           `json:"symbols"`
	Enabled      bool               `json:"enabled"`
	CashBalance  decimal.Decimal    `json:"cash_balance"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// Position is a per-(algorithm, symbol) holding. A row exists iff
// Quantity > 0; the scheduled engine deletes the row when the quantity
// reaches zero.
type Position struct {
	ID            string          `json:"id"`
	AlgorithmID   string          `json:"algorithm_id"`
	Symbol        string          `json:"symbol"`
	Quantity      int64           `json:"quantity"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	MarketValue   decimal.Decimal `json:"market_value,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Trade records one order submission as reported by the broker.
// Trades are append-only.
type Trade struct {
	ID            string          `json:"id"`
	AlgorithmID   string          `json:"algorithm_id"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	OrderType     string          `json:"order_type"`
	Status        string          `json:"status"`
	AlpacaOrderID string          `json:"alpaca_order_id"`
	Notes         string          `json:"notes"`
	FilledPrice   decimal.Decimal `json:"filled_price"`
	FilledQty     decimal.Decimal `json:"filled_qty"`
	SubmittedAt   time.Time       `json:"submitted_at"`
}

// SnapshotPosition is one holding embedded in a snapshot.
type SnapshotPosition struct {
	Symbol        string          `json:"symbol"`
	Quantity      int64           `json:"quantity"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// Snapshot is a point-in-time record of an algorithm's equity, used by the
// dashboard to compute performance. Snapshots are append-only; an initial
// snapshot seeded with the default starting balance is created alongside
// the algorithm.
type Snapshot struct {
	ID           string             `json:"id"`
	AlgorithmID  string             `json:"algorithm_id"`
	SnapshotDate string             `json:"snapshot_date"`
	Equity       decimal.Decimal    `json:"equity"`
	Cash         decimal.Decimal    `json:"cash"`
	BuyingPower  decimal.Decimal    `json:"buying_power"`
	DailyPnL     decimal.Decimal    `json:"daily_pnl"`
	TotalPnL     decimal.Decimal    `json:"total_pnl"`
	Positions    []SnapshotPosition `json:"positions"`
	Trigger      string             `json:"trigger,omitempty"`
}
