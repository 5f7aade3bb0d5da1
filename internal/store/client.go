// Package store is the HTTP client for the dashboard store, which owns
// the persistent data model: algorithms, positions, trades, snapshots,
// and system state. The engines never touch the database directly; every
// write goes through this API.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"algorunner/pkg/types"
)

const defaultStartingBalance = 1000

// Client talks to the dashboard store REST API.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewClient creates a store client against the given base URL.
func NewClient(apiURL string, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(apiURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		logger: logger.With("component", "store"),
	}
}

// TradeRecord is the body of POST /api/trades.
type TradeRecord struct {
	AlgorithmID   string          `json:"algorithm_id"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	OrderType     string          `json:"order_type"`
	Status        string          `json:"status"`
	AlpacaOrderID string          `json:"alpaca_order_id"`
	Notes         string          `json:"notes"`
	FilledPrice   decimal.Decimal `json:"filled_price"`
	FilledQty     decimal.Decimal `json:"filled_qty"`
}

// RecordTrade appends a trade row and returns its id.
func (c *Client) RecordTrade(ctx context.Context, rec TradeRecord) (string, error) {
	var result struct {
		ID string `json:"id"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(rec).
		SetResult(&result).
		Post("/api/trades")
	if err != nil {
		return "", fmt.Errorf("record trade: %w", err)
	}
	if resp.StatusCode() != http.StatusCreated {
		return "", fmt.Errorf("record trade: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result.ID, nil
}

// ListEnabledAlgorithms fetches every algorithm with enabled set.
func (c *Client) ListEnabledAlgorithms(ctx context.Context) ([]types.Algorithm, error) {
	var result []types.Algorithm
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("enabled", "true").
		SetResult(&result).
		Get("/api/algorithms")
	if err != nil {
		return nil, fmt.Errorf("list algorithms: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("list algorithms: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}

// UpdateAlgorithmCash persists an algorithm's cash balance after a fill.
func (c *Client) UpdateAlgorithmCash(ctx context.Context, algorithmID string, cash decimal.Decimal) error {
	body := map[string]string{"cash_balance": cash.String()}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Put("/api/algorithms/" + algorithmID)
	if err != nil {
		return fmt.Errorf("update cash %s: %w", algorithmID, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("update cash %s: status %d: %s", algorithmID, resp.StatusCode(), resp.String())
	}
	return nil
}

// GetPosition fetches one algorithm/symbol position; nil when the
// algorithm holds no position in the symbol.
func (c *Client) GetPosition(ctx context.Context, algorithmID, symbol string) (*types.Position, error) {
	var result types.Position
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/api/algorithms/" + algorithmID + "/positions/" + symbol)
	if err != nil {
		return nil, fmt.Errorf("get position %s/%s: %w", algorithmID, symbol, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get position %s/%s: status %d: %s", algorithmID, symbol, resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// UpsertPosition creates or replaces an algorithm/symbol position.
func (c *Client) UpsertPosition(ctx context.Context, pos types.Position) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(pos).
		Put("/api/algorithms/" + pos.AlgorithmID + "/positions/" + pos.Symbol)
	if err != nil {
		return fmt.Errorf("upsert position %s/%s: %w", pos.AlgorithmID, pos.Symbol, err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return fmt.Errorf("upsert position %s/%s: status %d: %s", pos.AlgorithmID, pos.Symbol, resp.StatusCode(), resp.String())
	}
	return nil
}

// DeletePosition removes an algorithm/symbol position after a full exit.
func (c *Client) DeletePosition(ctx context.Context, algorithmID, symbol string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Delete("/api/algorithms/" + algorithmID + "/positions/" + symbol)
	if err != nil {
		return fmt.Errorf("delete position %s/%s: %w", algorithmID, symbol, err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusNoContent {
		return fmt.Errorf("delete position %s/%s: status %d: %s", algorithmID, symbol, resp.StatusCode(), resp.String())
	}
	return nil
}

// RecordSnapshot appends a portfolio snapshot for an algorithm.
func (c *Client) RecordSnapshot(ctx context.Context, snap types.Snapshot) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(snap).
		Post("/api/algorithms/" + snap.AlgorithmID + "/snapshots")
	if err != nil {
		return fmt.Errorf("record snapshot %s: %w", snap.AlgorithmID, err)
	}
	if resp.StatusCode() != http.StatusCreated && resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("record snapshot %s: status %d: %s", snap.AlgorithmID, resp.StatusCode(), resp.String())
	}
	return nil
}

// LatestSnapshot fetches the most recent snapshot for an algorithm; nil
// when none has been recorded yet.
func (c *Client) LatestSnapshot(ctx context.Context, algorithmID string) (*types.Snapshot, error) {
	var result []types.Snapshot
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("limit", "1").
		SetResult(&result).
		Get("/api/algorithms/" + algorithmID + "/snapshots")
	if err != nil {
		return nil, fmt.Errorf("latest snapshot %s: %w", algorithmID, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("latest snapshot %s: status %d: %s", algorithmID, resp.StatusCode(), resp.String())
	}
	if len(result) == 0 {
		return nil, nil
	}
	return &result[0], nil
}

// StartingBalance reads the default starting balance from system state,
// falling back to 1000 when the key is absent or the store is unreachable.
func (c *Client) StartingBalance(ctx context.Context) decimal.Decimal {
	var result struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/api/state/default_starting_balance")
	if err != nil || resp.StatusCode() != http.StatusOK {
		return decimal.NewFromInt(defaultStartingBalance)
	}
	v, err := decimal.NewFromString(result.Value)
	if err != nil {
		c.logger.Warn("malformed starting balance", "value", result.Value)
		return decimal.NewFromInt(defaultStartingBalance)
	}
	return v
}
