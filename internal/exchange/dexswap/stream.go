package dexswap

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantfall/tradegate/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// MarkPrice is one tick of the gateway's mark-price channel.
type MarkPrice struct {
	Market    string    `json:"market"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// MarkPriceHandler is called for every mark-price tick.
type MarkPriceHandler func(MarkPrice)

// Stream is a WebSocket client for the dexswap mark-price feed. Besides
// dispatching to registered handlers it can append every tick to a bus
// stream for downstream strategy processes.
type Stream struct {
	wsURL  string
	bus    domain.SignalBus
	logger *slog.Logger

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool

	// Subscriptions to restore on reconnect.
	markets []string

	handlerMu sync.RWMutex
	handlers  []MarkPriceHandler

	// done is closed when the stream is shut down.
	done chan struct{}
}

// NewStream creates a stream client. The bus may be nil when tick fan-out
// is not needed.
func NewStream(wsURL string, bus domain.SignalBus, logger *slog.Logger) *Stream {
	return &Stream{
		wsURL:  wsURL,
		bus:    bus,
		logger: logger.With(slog.String("component", "dexswap_stream")),
		done:   make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the read and
// ping loops.
func (s *Stream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("dexswap/stream: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dexswap/stream: connect: %w", err)
	}

	s.conn = conn

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go s.readLoop()
	go s.pingLoop()

	// Restore subscriptions after reconnect.
	if len(s.markets) > 0 {
		if err := s.sendSubscribe(s.markets); err != nil {
			return fmt.Errorf("dexswap/stream: restore subscriptions: %w", err)
		}
	}

	return nil
}

// Subscribe subscribes to mark prices for the given markets.
func (s *Stream) Subscribe(ctx context.Context, markets []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("dexswap/stream: not connected")
	}
	if err := s.sendSubscribe(markets); err != nil {
		return fmt.Errorf("dexswap/stream: subscribe: %w", err)
	}
	s.markets = append(s.markets, markets...)
	return nil
}

// OnMarkPrice registers a handler called for every tick.
func (s *Stream) OnMarkPrice(handler MarkPriceHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handlers = append(s.handlers, handler)
}

// Close shuts down the connection and stops the loops.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	close(s.done)

	if s.conn != nil {
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return s.conn.Close()
	}

	return nil
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// sendSubscribe sends a subscribe command. Caller must hold s.mu.
func (s *Stream) sendSubscribe(markets []string) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	cmd := map[string]any{
		"op":      "subscribe",
		"channel": "mark_price",
		"markets": markets,
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads and dispatches messages. On disconnect it reconnects with
// exponential backoff.
func (s *Stream) readLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.reconnect()
			return // readLoop is restarted by reconnect -> Connect
		}

		s.handleMessage(message)
	}
}

// pingLoop keeps the connection alive.
func (s *Stream) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a tick and fans it out to handlers and the bus
// stream.
func (s *Stream) handleMessage(raw []byte) {
	var envelope struct {
		Channel string `json:"channel"`
		Market  string `json:"market"`
		Price   string `json:"price"`
		TS      int64  `json:"ts"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return // Silently drop unparseable messages.
	}
	if envelope.Channel != "mark_price" {
		return
	}

	tick := MarkPrice{
		Market:    envelope.Market,
		Price:     unscale(envelope.Price),
		Timestamp: time.UnixMilli(envelope.TS).UTC(),
	}

	s.handlerMu.RLock()
	handlers := s.handlers
	s.handlerMu.RUnlock()
	for _, h := range handlers {
		h(tick)
	}

	if s.bus != nil {
		payload, _ := json.Marshal(tick)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.bus.StreamAppend(ctx, "prices", payload); err != nil {
			s.logger.Warn("append price tick failed",
				slog.String("market", tick.Market),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}
}

// reconnect re-establishes the connection with exponential backoff. It
// blocks until successful or the stream is closed.
func (s *Stream) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-s.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := s.Connect(ctx)
		cancel()

		if err == nil {
			return
		}
		s.logger.Warn("reconnect failed", slog.String("error", err.Error()))

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
