package broker

import (
	"encoding/json"
	"testing"

	"algorunner/internal/config"
)

func newTestStream() *Stream {
	return NewStream(config.AlpacaConfig{}, []string{"AAPL"}, testLogger())
}

func TestDispatchTrade(t *testing.T) {
	t.Parallel()
	s := newTestStream()

	s.dispatch(wsMessage{
		Type:   "t",
		Symbol: "AAPL",
		Price:  187.5,
		Size:   100,
		Time:   "2025-06-02T15:00:00.123456789Z",
	})

	select {
	case ev := <-s.Trades():
		if ev.Symbol != "AAPL" || ev.Tick.Price != 187.5 || ev.Tick.Size != 100 {
			t.Errorf("trade event = %+v", ev)
		}
		if ev.Tick.Timestamp.IsZero() {
			t.Error("timestamp not parsed")
		}
	default:
		t.Fatal("no trade event dispatched")
	}
}

func TestDispatchBar(t *testing.T) {
	t.Parallel()
	s := newTestStream()

	s.dispatch(wsMessage{
		Type: "b", Symbol: "AAPL",
		Open: 100, High: 102, Low: 99, Close: 101, Volume: 5000,
		Time: "2025-06-02T15:00:00Z",
	})

	select {
	case ev := <-s.Bars():
		if ev.Bar.Close != 101 || ev.Bar.Volume != 5000 {
			t.Errorf("bar event = %+v", ev)
		}
	default:
		t.Fatal("no bar event dispatched")
	}
}

func TestDispatchQuote(t *testing.T) {
	t.Parallel()
	s := newTestStream()

	s.dispatch(wsMessage{
		Type: "q", Symbol: "AAPL",
		BidPx: 187.4, AskPx: 187.6, BidSize: 2, AskSize: 3,
	})

	select {
	case ev := <-s.Quotes():
		if ev.BidPrice != 187.4 || ev.AskPrice != 187.6 {
			t.Errorf("quote event = %+v", ev)
		}
	default:
		t.Fatal("no quote event dispatched")
	}
}

func TestSubscribePayloadTradesAndBarsOnly(t *testing.T) {
	t.Parallel()
	s := newTestStream()

	sub := s.subscribePayload()
	if sub["action"] != "subscribe" {
		t.Errorf("action = %v, want subscribe", sub["action"])
	}
	for _, key := range []string{"trades", "bars"} {
		symbols, ok := sub[key].([]string)
		if !ok || len(symbols) != 1 || symbols[0] != "AAPL" {
			t.Errorf("%s = %v, want [AAPL]", key, sub[key])
		}
	}
	if _, ok := sub["quotes"]; ok {
		t.Error("subscribe payload must not request quotes")
	}
}

func TestDispatchControlMessagesProduceNoEvents(t *testing.T) {
	t.Parallel()
	s := newTestStream()

	s.dispatch(wsMessage{Type: "success", Msg: "connected"})
	s.dispatch(wsMessage{Type: "subscription"})
	s.dispatch(wsMessage{Type: "error", Code: 406, Msg: "connection limit exceeded"})

	select {
	case ev := <-s.Trades():
		t.Errorf("unexpected trade event: %+v", ev)
	default:
	}
	select {
	case ev := <-s.Bars():
		t.Errorf("unexpected bar event: %+v", ev)
	default:
	}
}

func TestDispatchFullChannelDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()
	s := newTestStream()

	// The trade channel holds 256 events; the 257th must not block.
	msg := wsMessage{Type: "t", Symbol: "AAPL", Price: 1, Size: 1, Time: "2025-06-02T15:00:00Z"}
	for i := 0; i < 257; i++ {
		s.dispatch(msg)
	}

	if got := len(s.trades); got != 256 {
		t.Errorf("buffered trades = %d, want 256", got)
	}
}

func TestWireFrameDecoding(t *testing.T) {
	t.Parallel()
	frame := []byte(`[{"T":"t","S":"TSLA","p":250.1,"s":50,"t":"2025-06-02T15:00:00Z"},{"T":"q","S":"TSLA","bp":250.0,"ap":250.2,"bs":1,"as":2}]`)

	var msgs []wsMessage
	if err := json.Unmarshal(frame, &msgs); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	if msgs[0].Type != "t" || msgs[0].Price != 250.1 {
		t.Errorf("trade message = %+v", msgs[0])
	}
	if msgs[1].Type != "q" || msgs[1].AskPx != 250.2 {
		t.Errorf("quote message = %+v", msgs[1])
	}
}
