package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// binanceWriteWait is the time allowed to write a message to the peer.
	binanceWriteWait = 10 * time.Second

	// binancePongWait is the time allowed to read the next pong message.
	binancePongWait = 30 * time.Second

	// binancePingPeriod sends pings at this interval. Must be less than pongWait.
	binancePingPeriod = (binancePongWait * 9) / 10

	// binanceReconnectDelay is the base delay before attempting to reconnect.
	binanceReconnectDelay = 2 * time.Second

	// binanceMaxReconnectDelay caps the exponential backoff.
	binanceMaxReconnectDelay = 60 * time.Second
)

// FundingRateHandler is called for every funding-rate update received via
// WebSocket.
type FundingRateHandler func(symbol string, rate float64, observedAt time.Time)

// BinanceWSClient streams the all-market mark-price feed, which carries the
// current funding rate per contract. The stream pushes every contract, so a
// single subscription covers the whole watch list.
type BinanceWSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// Handlers
	rateHandlers []FundingRateHandler
	handlerMu    sync.RWMutex

	// reconnectDelay is the base backoff between reconnect attempts.
	reconnectDelay time.Duration

	// done is closed when the client shuts down.
	done chan struct{}
}

// NewBinanceWSClient creates a Binance futures WebSocket client.
//
// wsURL is the full stream endpoint, e.g.
// "wss://fstream.binance.com/ws/!markPrice@arr".
func NewBinanceWSClient(wsURL string) *BinanceWSClient {
	return &BinanceWSClient{
		wsURL:          wsURL,
		reconnectDelay: binanceReconnectDelay,
		done:           make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops.
func (w *BinanceWSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("binance/ws: client is closed")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("binance/ws: connect: %w", err)
	}

	w.conn = conn

	// Configure read deadline and pong handler.
	conn.SetReadDeadline(time.Now().Add(binancePongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(binancePongWait))
		return nil
	})

	// Each connection gets its own loops; loops from a previous connection
	// never touch this one.
	go w.readLoop(conn)
	go w.pingLoop(conn)

	return nil
}

// OnFundingRate registers a handler that is called for every mark-price
// update carrying a funding rate.
func (w *BinanceWSClient) OnFundingRate(handler FundingRateHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.rateHandlers = append(w.rateHandlers, handler)
}

// Close shuts down the WebSocket connection.
func (w *BinanceWSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}

	return nil
}

// binanceMarkPriceEvent is one entry of the !markPrice@arr stream payload.
type binanceMarkPriceEvent struct {
	EventType   string `json:"e"`
	EventTime   int64  `json:"E"`
	Symbol      string `json:"s"`
	FundingRate string `json:"r"`
}

// readLoop reads messages from one connection and dispatches them to
// handlers. When the read fails, only the failed connection is closed; a
// replacement established by reconnect is left alone.
func (w *BinanceWSClient) readLoop(conn *websocket.Conn) {
	for {
		select {
		case <-w.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()

			select {
			case <-w.done:
				return
			default:
			}

			w.reconnect()
			return
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic pings on one connection to keep it alive. It exits
// on the first write failure; the replacement connection starts its own loop.
func (w *BinanceWSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(binancePingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(binanceWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses one stream message. The arr stream delivers a JSON
// array of events; a single-contract stream delivers a bare object. Both
// shapes are accepted.
func (w *BinanceWSClient) handleMessage(raw []byte) {
	var events []binanceMarkPriceEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		var single binanceMarkPriceEvent
		if err := json.Unmarshal(raw, &single); err != nil {
			return
		}
		events = []binanceMarkPriceEvent{single}
	}

	w.handlerMu.RLock()
	handlers := w.rateHandlers
	w.handlerMu.RUnlock()

	for _, ev := range events {
		if ev.EventType != "markPriceUpdate" {
			continue
		}
		rate, err := strconv.ParseFloat(ev.FundingRate, 64)
		if err != nil {
			continue
		}
		observedAt := time.UnixMilli(ev.EventTime)

		for _, h := range handlers {
			h(ev.Symbol, rate, observedAt)
		}
	}
}

// reconnect attempts to re-establish the WebSocket connection with
// exponential backoff.
func (w *BinanceWSClient) reconnect() {
	delay := w.reconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		delay *= 2
		if delay > binanceMaxReconnectDelay {
			delay = binanceMaxReconnectDelay
		}
	}
}
