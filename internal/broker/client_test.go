package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"algorunner/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(config.AlpacaConfig{
		APIKey:    "key-id",
		SecretKey: "secret",
		BaseURL:   srv.URL,
	}, testLogger())
	c.dataURL = srv.URL
	return c, srv
}

func TestGetClockSendsAuthHeaders(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/clock" {
			t.Errorf("path = %q, want /v2/clock", r.URL.Path)
		}
		if got := r.Header.Get("APCA-API-KEY-ID"); got != "key-id" {
			t.Errorf("key header = %q", got)
		}
		if got := r.Header.Get("APCA-API-SECRET-KEY"); got != "secret" {
			t.Errorf("secret header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"is_open":true,"next_open":"2025-06-03T13:30:00Z","next_close":"2025-06-02T20:00:00Z"}`))
	})

	clock, err := c.GetClock(context.Background())
	if err != nil {
		t.Fatalf("GetClock: %v", err)
	}
	if !clock.IsOpen {
		t.Error("IsOpen = false, want true")
	}
}

func TestGetAccountParsesStringAmounts(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"equity":"100000.50","buying_power":"200001","status":"ACTIVE"}`))
	})

	account, err := c.GetAccount(context.Background())
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got := account.EquityFloat(); got != 100000.50 {
		t.Errorf("EquityFloat = %v, want 100000.50", got)
	}
	if got := account.BuyingPowerFloat(); got != 200001 {
		t.Errorf("BuyingPowerFloat = %v, want 200001", got)
	}
}

func TestSubmitOrderPostsBody(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/orders" {
			t.Errorf("%s %s, want POST /v2/orders", r.Method, r.URL.Path)
		}
		var req OrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if req.Symbol != "AAPL" || req.Side != "buy" || req.Type != "market" || req.TimeInForce != "day" {
			t.Errorf("order body = %+v", req)
		}
		if req.Notional != "100.00" || req.Qty != "" {
			t.Errorf("sizing = notional %q qty %q, want notional only", req.Notional, req.Qty)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"ord-1","symbol":"AAPL","side":"buy","status":"accepted","filled_avg_price":"","filled_qty":""}`))
	})

	order, err := c.SubmitOrder(context.Background(), OrderRequest{
		Symbol:      "AAPL",
		Side:        "buy",
		Type:        "market",
		TimeInForce: "day",
		Notional:    "100.00",
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if order.ID != "ord-1" {
		t.Errorf("order ID = %q", order.ID)
	}
	if _, ok := order.FilledAvgPriceFloat(); ok {
		t.Error("empty filled_avg_price must report not-ok")
	}
}

func TestSubmitOrderBrokerRejection(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"insufficient buying power"}`, http.StatusForbidden)
	})

	if _, err := c.SubmitOrder(context.Background(), OrderRequest{Symbol: "AAPL"}); err == nil {
		t.Fatal("403 from broker: want error")
	}
}

func TestGetBarsParsesAndOrders(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/stocks/AAPL/bars" {
			t.Errorf("path = %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("timeframe") != "1Day" || q.Get("limit") != "15" || q.Get("feed") != "iex" {
			t.Errorf("query = %v", q)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"bars":[
			{"o":100,"h":102,"l":99,"c":101,"v":5000,"t":"2025-05-30T04:00:00Z"},
			{"o":101,"h":104,"l":100,"c":103,"v":6000,"t":"2025-06-02T04:00:00Z"}
		]}`))
	})

	bars, err := c.GetBars(context.Background(), "AAPL", 15)
	if err != nil {
		t.Fatalf("GetBars: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("len = %d, want 2", len(bars))
	}
	if bars[0].Close != 101 || bars[1].Close != 103 {
		t.Errorf("closes = %v, %v", bars[0].Close, bars[1].Close)
	}
	if bars[1].Volume != 6000 {
		t.Errorf("volume = %d", bars[1].Volume)
	}
}

func TestGetLatestTrade(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/stocks/AAPL/trades/latest" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"trade":{"p":187.23,"s":100}}`))
	})

	price, err := c.GetLatestTrade(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("GetLatestTrade: %v", err)
	}
	if price != 187.23 {
		t.Errorf("price = %v, want 187.23", price)
	}
}

func TestOrderFillParsing(t *testing.T) {
	t.Parallel()
	o := Order{FilledAvgPrice: "150.25", FilledQty: "3.5"}
	if p, ok := o.FilledAvgPriceFloat(); !ok || p != 150.25 {
		t.Errorf("FilledAvgPriceFloat = %v, %v", p, ok)
	}
	if q, ok := o.FilledQtyFloat(); !ok || q != 3.5 {
		t.Errorf("FilledQtyFloat = %v, %v", q, ok)
	}

	zero := Order{FilledAvgPrice: "0", FilledQty: "0"}
	if _, ok := zero.FilledAvgPriceFloat(); ok {
		t.Error("zero fill price must report not-ok")
	}
	if _, ok := zero.FilledQtyFloat(); ok {
		t.Error("zero fill qty must report not-ok")
	}
}
