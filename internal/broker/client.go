// Package broker implements the Alpaca paper-brokerage clients.
//
// The REST client (Client) covers the trading and market-data endpoints the
// engines need:
//   - GetClock:       GET  /v2/clock                      — market open/close state
//   - GetAccount:     GET  /v2/account                    — equity and buying power
//   - GetPositions:   GET  /v2/positions                  — broker-side holdings
//   - SubmitOrder:    POST /v2/orders                     — market orders (notional or qty)
//   - GetBars:        GET  /v2/stocks/{sym}/bars          — daily OHLCV bars (IEX feed)
//   - GetLatestTrade: GET  /v2/stocks/{sym}/trades/latest — last trade price fallback
//
// Every request carries the APCA auth headers and is retried on 5xx errors.
// The stream client lives in stream.go.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"algorunner/internal/config"
	"algorunner/pkg/types"
)

// dataBaseURL serves the stocks market-data REST endpoints, which live on a
// different host than the trading API.
const dataBaseURL = "https://data.alpaca.markets"

// Client is the Alpaca REST API client.
type Client struct {
	http    *resty.Client
	dataURL string
	logger  *slog.Logger
}

// NewClient creates a REST client with auth headers and retry.
func NewClient(cfg config.AlpacaConfig, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
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
		SetHeader("APCA-API-KEY-ID", cfg.APIKey).
		SetHeader("APCA-API-SECRET-KEY", cfg.SecretKey).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:    httpClient,
		dataURL: dataBaseURL,
		logger:  logger.With("component", "broker"),
	}
}

// Clock is the market clock returned by /v2/clock.
type Clock struct {
	IsOpen    bool   `json:"is_open"`
	NextOpen  string `json:"next_open"`
	NextClose string `json:"next_close"`
}

// Account is the subset of /v2/account the engines read. Alpaca encodes
// monetary fields as strings.
type Account struct {
	Equity      string `json:"equity"`
	BuyingPower string `json:"buying_power"`
	Status      string `json:"status"`
}

// EquityFloat parses the account equity, 0 on malformed input.
func (a Account) EquityFloat() float64 {
	v, _ := strconv.ParseFloat(a.Equity, 64)
	return v
}

// BuyingPowerFloat parses the buying power, 0 on malformed input.
func (a Account) BuyingPowerFloat() float64 {
	v, _ := strconv.ParseFloat(a.BuyingPower, 64)
	return v
}

// BrokerPosition is one row of /v2/positions.
type BrokerPosition struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	MarketValue   string `json:"market_value"`
	AvgEntryPrice string `json:"avg_entry_price"`
}

// MarketValueFloat parses the position's market value, 0 on malformed input.
func (p BrokerPosition) MarketValueFloat() float64 {
	v, _ := strconv.ParseFloat(p.MarketValue, 64)
	return v
}

// OrderRequest is the body of POST /v2/orders. Exactly one of Notional
// (buys) or Qty (sells) is set.
type OrderRequest struct {
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	TimeInForce string `json:"time_in_force"`
	Notional    string `json:"notional,omitempty"`
	Qty         string `json:"qty,omitempty"`
}

// Order is the broker's order record as returned by POST /v2/orders.
type Order struct {
	ID             string `json:"id"`
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	Status         string `json:"status"`
	FilledAvgPrice string `json:"filled_avg_price"`
	FilledQty      string `json:"filled_qty"`
}

// FilledAvgPriceFloat parses the fill price; ok is false when the broker
// has not reported one (e.g. after hours).
func (o Order) FilledAvgPriceFloat() (float64, bool) {
	if o.FilledAvgPrice == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(o.FilledAvgPrice, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return v, true
}

// FilledQtyFloat parses the filled quantity; ok is false when absent or zero.
func (o Order) FilledQtyFloat() (float64, bool) {
	if o.FilledQty == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(o.FilledQty, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return v, true
}

// GetClock fetches the market clock.
func (c *Client) GetClock(ctx context.Context) (*Clock, error) {
	var result Clock
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/v2/clock")
	if err != nil {
		return nil, fmt.Errorf("get clock: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get clock: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// GetAccount fetches the trading account.
func (c *Client) GetAccount(ctx context.Context) (*Account, error) {
	var result Account
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/v2/account")
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get account: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// GetPositions fetches all broker-side positions.
func (c *Client) GetPositions(ctx context.Context) ([]BrokerPosition, error) {
	var result []BrokerPosition
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/v2/positions")
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get positions: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}

// SubmitOrder posts a market order.
func (c *Client) SubmitOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	var result Order
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		Post("/v2/orders")
	if err != nil {
		return nil, fmt.Errorf("submit order: %w", err)
	}
	if resp.StatusCode() >= 400 {
		return nil, fmt.Errorf("submit order: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Info("order submitted",
		"id", result.ID,
		"symbol", result.Symbol,
		"side", result.Side,
		"status", result.Status,
	)
	return &result, nil
}

// alpacaBar is the wire shape of one daily bar.
type alpacaBar struct {
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
	Volume    int64   `json:"v"`
	Timestamp string  `json:"t"`
}

// GetBars fetches up to limit daily OHLCV bars for a symbol (IEX feed),
// oldest first.
func (c *Client) GetBars(ctx context.Context, symbol string, limit int) ([]types.Bar, error) {
	var result struct {
		Bars []alpacaBar `json:"bars"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"timeframe": "1Day",
			"limit":     strconv.Itoa(limit),
			"feed":      "iex",
		}).
		SetResult(&result).
		Get(c.dataURL + "/v2/stocks/" + symbol + "/bars")
	if err != nil {
		return nil, fmt.Errorf("get bars %s: %w", symbol, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get bars %s: status %d: %s", symbol, resp.StatusCode(), resp.String())
	}

	bars := make([]types.Bar, 0, len(result.Bars))
	for _, b := range result.Bars {
		ts, _ := time.Parse(time.RFC3339, b.Timestamp)
		bars = append(bars, types.Bar{
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
			Timestamp: ts,
		})
	}
	return bars, nil
}

// GetLatestTrade fetches the most recent trade price for a symbol. Used as
// a fallback when no recent bars are available.
func (c *Client) GetLatestTrade(ctx context.Context, symbol string) (float64, error) {
	var result struct {
		Trade struct {
			Price float64 `json:"p"`
		} `json:"trade"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get(c.dataURL + "/v2/stocks/" + symbol + "/trades/latest")
	if err != nil {
		return 0, fmt.Errorf("get latest trade %s: %w", symbol, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, fmt.Errorf("get latest trade %s: status %d: %s", symbol, resp.StatusCode(), resp.String())
	}
	return result.Trade.Price, nil
}
