package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"algorunner/internal/config"
	"algorunner/pkg/types"
)

const (
	wsDialTimeout = 10 * time.Second
	wsReadTimeout = 30 * time.Second
)

// TradeEvent is a trade tick from the market-data stream.
type TradeEvent struct {
	Symbol string
	Tick   types.Tick
}

// BarEvent is a minute bar from the market-data stream.
type BarEvent struct {
	Symbol string
	Bar    types.Bar
}

// QuoteEvent is an NBBO quote update from the market-data stream.
type QuoteEvent struct {
	Symbol   string
	BidPrice float64
	AskPrice float64
	BidSize  int64
	AskSize  int64
}

// Stream is the Alpaca market-data WebSocket client. It authenticates,
// subscribes to the configured symbols, and fans incoming messages out to
// typed channels. It does not reconnect: when the connection drops the
// read loop exits and Running reports false, and the caller decides
// whether to restart the process.
type Stream struct {
	cfg     config.AlpacaConfig
	symbols []string
	logger  *slog.Logger

	conn   *websocket.Conn
	connMu sync.Mutex

	trades chan TradeEvent
	bars   chan BarEvent
	quotes chan QuoteEvent

	running bool
	mu      sync.RWMutex
	done    chan struct{}
}

// NewStream creates a stream client for the given symbols.
func NewStream(cfg config.AlpacaConfig, symbols []string, logger *slog.Logger) *Stream {
	return &Stream{
		cfg:     cfg,
		symbols: symbols,
		logger:  logger.With("component", "stream"),
		trades:  make(chan TradeEvent, 256),
		bars:    make(chan BarEvent, 64),
		quotes:  make(chan QuoteEvent, 256),
		done:    make(chan struct{}),
	}
}

// Trades returns the trade tick channel.
func (s *Stream) Trades() <-chan TradeEvent { return s.trades }

// Bars returns the minute bar channel.
func (s *Stream) Bars() <-chan BarEvent { return s.bars }

// Quotes returns the quote channel.
func (s *Stream) Quotes() <-chan QuoteEvent { return s.quotes }

// Running reports whether the read loop is still consuming the connection.
func (s *Stream) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Done is closed when the read loop exits.
func (s *Stream) Done() <-chan struct{} { return s.done }

// wsMessage is the union of Alpaca stream message shapes; T discriminates.
type wsMessage struct {
	Type    string  `json:"T"`
	Msg     string  `json:"msg"`
	Code    int     `json:"code"`
	Symbol  string  `json:"S"`
	Price   float64 `json:"p"`
	Size    int64   `json:"s"`
	Open    float64 `json:"o"`
	High    float64 `json:"h"`
	Low     float64 `json:"l"`
	Close   float64 `json:"c"`
	Volume  int64   `json:"v"`
	BidPx   float64 `json:"bp"`
	AskPx   float64 `json:"ap"`
	BidSize int64   `json:"bs"`
	AskSize int64   `json:"as"`
	Time    string  `json:"t"`
}

// Connect dials the data feed, authenticates, and subscribes to trades
// and bars for the configured symbols, then starts the read loop. Quotes
// are not subscribed; the quote channel exists for servers that push them
// anyway.
func (s *Stream) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: wsDialTimeout}
	conn, _, err := dialer.DialContext(ctx, s.cfg.DataURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.cfg.DataURL, err)
	}

	// The server greets with [{"T":"success","msg":"connected"}] before
	// accepting auth.
	if _, err := s.readMessages(conn); err != nil {
		conn.Close()
		return fmt.Errorf("read welcome: %w", err)
	}

	auth := map[string]string{
		"action": "auth",
		"key":    s.cfg.APIKey,
		"secret": s.cfg.SecretKey,
	}
	if err := conn.WriteJSON(auth); err != nil {
		conn.Close()
		return fmt.Errorf("send auth: %w", err)
	}
	msgs, err := s.readMessages(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("read auth response: %w", err)
	}
	if len(msgs) == 0 || msgs[0].Msg != "authenticated" {
		conn.Close()
		return fmt.Errorf("authentication rejected: %+v", msgs)
	}

	if err := conn.WriteJSON(s.subscribePayload()); err != nil {
		conn.Close()
		return fmt.Errorf("send subscribe: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	s.logger.Info("stream connected", "url", s.cfg.DataURL, "symbols", s.symbols)

	go s.readLoop(ctx)
	return nil
}

// subscribePayload is the subscription request sent after auth: trades
// and bars only.
func (s *Stream) subscribePayload() map[string]any {
	return map[string]any{
		"action": "subscribe",
		"trades": s.symbols,
		"bars":   s.symbols,
	}
}

// readMessages reads one frame and decodes it as an array of messages.
func (s *Stream) readMessages(conn *websocket.Conn) ([]wsMessage, error) {
	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var msgs []wsMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return msgs, nil
}

func (s *Stream) readLoop(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.connMu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.connMu.Unlock()
		close(s.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			// A quiet market hits the read deadline without the
			// connection being dead: ping and keep reading.
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				deadline := time.Now().Add(5 * time.Second)
				if perr := conn.WriteControl(websocket.PingMessage, nil, deadline); perr == nil {
					continue
				}
			}
			s.logger.Error("stream read failed", "error", err)
			return
		}

		var msgs []wsMessage
		if err := json.Unmarshal(data, &msgs); err != nil {
			s.logger.Warn("undecodable frame", "error", err)
			continue
		}
		for _, msg := range msgs {
			s.dispatch(msg)
		}
	}
}

// dispatch routes one stream message to its typed channel. Full channels
// drop the message rather than stall the read loop.
func (s *Stream) dispatch(msg wsMessage) {
	switch msg.Type {
	case "t":
		ts, _ := time.Parse(time.RFC3339Nano, msg.Time)
		ev := TradeEvent{
			Symbol: msg.Symbol,
			Tick: types.Tick{
				Price:     msg.Price,
				Size:      msg.Size,
				Timestamp: ts,
			},
		}
		select {
		case s.trades <- ev:
		default:
			s.logger.Warn("trade channel full, dropping", "symbol", msg.Symbol)
		}
	case "b":
		ts, _ := time.Parse(time.RFC3339Nano, msg.Time)
		ev := BarEvent{
			Symbol: msg.Symbol,
			Bar: types.Bar{
				Open:      msg.Open,
				High:      msg.High,
				Low:       msg.Low,
				Close:     msg.Close,
				Volume:    msg.Volume,
				Timestamp: ts,
			},
		}
		select {
		case s.bars <- ev:
		default:
			s.logger.Warn("bar channel full, dropping", "symbol", msg.Symbol)
		}
	case "q":
		ev := QuoteEvent{
			Symbol:   msg.Symbol,
			BidPrice: msg.BidPx,
			AskPrice: msg.AskPx,
			BidSize:  msg.BidSize,
			AskSize:  msg.AskSize,
		}
		select {
		case s.quotes <- ev:
		default:
		}
	case "error":
		s.logger.Error("stream error message", "code", msg.Code, "msg", msg.Msg)
	case "subscription":
		s.logger.Info("subscription confirmed")
	case "success":
	default:
		s.logger.Debug("unhandled message type", "type", msg.Type)
	}
}

// Close shuts the connection down; the read loop exits on the resulting
// read error.
func (s *Stream) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return s.conn.Close()
}
