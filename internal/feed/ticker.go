package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"github.com/mohamedkhairy/squareoff-engine/internal/config"
	"github.com/mohamedkhairy/squareoff-engine/internal/models"
	"github.com/mohamedkhairy/squareoff-engine/pkg/logger"
)

var (
	// ErrNotConnected is returned when operations are attempted on a
	// disconnected ticker
	ErrNotConnected = errors.New("ticker is not connected")
	// ErrAlreadyConnected is returned when Connect is called twice
	ErrAlreadyConnected = errors.New("ticker is already connected")
)

// json decodes tick frames on the hot path
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Feed delivers an ordered sequence of price ticks plus connection
// lifecycle events. Reconnect and backoff policy live here, not in the
// engine.
type Feed interface {
	Connect() error
	Subscribe(tokens []string) error
	SetOnTick(func(models.Tick))
	SetOnConnect(func())
	SetOnDisconnect(func(error))
	IsConnected() bool
	Close() error
}

// TickerConfig holds configuration for the websocket ticker
type TickerConfig struct {
	URL               string
	APIKey            string
	AccessToken       string
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	WriteTimeout      time.Duration
	PingPeriod        time.Duration
	PongWait          time.Duration
}

// DefaultTickerConfig returns a TickerConfig for the broker feed
func DefaultTickerConfig(cfg config.BrokerConfig, worker config.WorkerConfig) TickerConfig {
	return TickerConfig{
		URL:               fmt.Sprintf("%s?api_key=%s&access_token=%s", cfg.WSURL, cfg.APIKey, cfg.AccessToken),
		APIKey:            cfg.APIKey,
		AccessToken:       cfg.AccessToken,
		ReconnectDelay:    worker.FeedReconnectDelay,
		MaxReconnectDelay: worker.FeedMaxReconnect,
		WriteTimeout:      10 * time.Second,
		PingPeriod:        54 * time.Second,
		PongWait:          60 * time.Second,
	}
}

// tickFrame is the wire shape of one tick in a feed message
type tickFrame struct {
	InstrumentToken string  `json:"instrument_token"`
	LastPrice       float64 `json:"last_price"`
	Timestamp       int64   `json:"timestamp"`
}

// subscribeFrame is the wire shape of a subscribe request
type subscribeFrame struct {
	Action string   `json:"a"`
	Tokens []string `json:"v"`
}

// Ticker is a websocket Feed with automatic reconnection and
// exponential backoff. Subscriptions are re-declared on every
// (re)connect.
type Ticker struct {
	config TickerConfig

	mu                sync.RWMutex
	conn              *websocket.Conn
	connected         bool
	started           bool
	subscribed        []string
	reconnectAttempts int

	onTick       func(models.Tick)
	onConnect    func()
	onDisconnect func(error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTicker creates a Ticker
func NewTicker(cfg TickerConfig) *Ticker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Ticker{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetOnTick sets the tick callback. Ticks are delivered in arrival
// order from a single goroutine.
func (t *Ticker) SetOnTick(callback func(models.Tick)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTick = callback
}

// SetOnConnect sets the callback for when connection is established
func (t *Ticker) SetOnConnect(callback func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onConnect = callback
}

// SetOnDisconnect sets the callback for when connection is lost
func (t *Ticker) SetOnDisconnect(callback func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDisconnect = callback
}

// Connect starts the connect loop with automatic reconnection
func (t *Ticker) Connect() error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return ErrAlreadyConnected
	}
	t.started = true
	t.mu.Unlock()

	t.wg.Add(1)
	go t.connectLoop()
	return nil
}

// Subscribe declares interest in the given instrument tokens. The set
// replaces any previous subscription and is re-sent on reconnect.
func (t *Ticker) Subscribe(tokens []string) error {
	t.mu.Lock()
	t.subscribed = append([]string(nil), tokens...)
	conn := t.conn
	connected := t.connected
	t.mu.Unlock()

	if !connected || conn == nil {
		// Will be declared on the next connect
		return nil
	}
	return t.sendSubscribe(conn, tokens)
}

// IsConnected reports whether the websocket is currently connected
func (t *Ticker) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// Close stops the ticker and any reconnection attempts
func (t *Ticker) Close() error {
	t.cancel()

	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.connected = false
	t.mu.Unlock()

	t.wg.Wait()
	return nil
}

// connectLoop handles connection and reconnection
func (t *Ticker) connectLoop() {
	defer t.wg.Done()

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		err := t.attemptConnection()
		if err == nil {
			t.mu.RLock()
			onConnect := t.onConnect
			tokens := append([]string(nil), t.subscribed...)
			conn := t.conn
			t.mu.RUnlock()

			if len(tokens) > 0 {
				if err := t.sendSubscribe(conn, tokens); err != nil {
					logger.Error("Failed to subscribe after connect", logger.ErrorField(err))
				}
			}
			if onConnect != nil {
				onConnect()
			}

			// readPump returns when the connection drops
			readErr := t.readPump(conn)

			t.mu.Lock()
			t.connected = false
			t.conn = nil
			onDisconnect := t.onDisconnect
			t.mu.Unlock()

			if onDisconnect != nil {
				onDisconnect(readErr)
			}
		} else {
			logger.Error("Feed connection failed", logger.ErrorField(err))
		}

		delay := t.calculateBackoff()
		logger.FeedReconnects.Inc()
		logger.Warn("Reconnecting market feed",
			logger.Duration("delay", delay),
			logger.Int("attempt", t.reconnectAttempts+1),
		)

		select {
		case <-t.ctx.Done():
			return
		case <-time.After(delay):
			t.mu.Lock()
			t.reconnectAttempts++
			t.mu.Unlock()
		}
	}
}

// attemptConnection dials the feed endpoint once
func (t *Ticker) attemptConnection() error {
	logger.Info("Connecting to market feed")

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.Dial(t.config.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial feed: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(t.config.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(t.config.PongWait))
		return nil
	})

	t.mu.Lock()
	t.conn = conn
	t.connected = true
	t.reconnectAttempts = 0
	t.mu.Unlock()

	logger.Info("Market feed connected")
	return nil
}

// calculateBackoff returns the exponential backoff delay
func (t *Ticker) calculateBackoff() time.Duration {
	t.mu.RLock()
	attempts := t.reconnectAttempts
	baseDelay := t.config.ReconnectDelay
	maxDelay := t.config.MaxReconnectDelay
	t.mu.RUnlock()

	if attempts > 30 {
		attempts = 30
	}
	delay := baseDelay * time.Duration(1<<uint(attempts))
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}
	return delay
}

// sendSubscribe sends a subscribe frame for the given tokens
func (t *Ticker) sendSubscribe(conn *websocket.Conn, tokens []string) error {
	frame, err := json.Marshal(subscribeFrame{Action: "subscribe", Tokens: tokens})
	if err != nil {
		return fmt.Errorf("failed to marshal subscribe frame: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("failed to send subscribe frame: %w", err)
	}

	logger.Info("Subscribed to instruments", logger.Int("tokens", len(tokens)))
	return nil
}

// readPump reads feed messages until the connection drops, sending
// pings on a ticker. Returns the error that ended the connection.
func (t *Ticker) readPump(conn *websocket.Conn) error {
	pingTicker := time.NewTicker(t.config.PingPeriod)
	defer pingTicker.Stop()

	done := make(chan struct{})
	defer close(done)

	// writePump for pings; reads and writes must not share the
	// goroutine with gorilla/websocket
	go func() {
		for {
			select {
			case <-done:
				return
			case <-t.ctx.Done():
				return
			case <-pingTicker.C:
				conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
				if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(t.config.WriteTimeout)); err != nil {
					return
				}
			}
		}
	}()

	for {
		select {
		case <-t.ctx.Done():
			return nil
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error("Feed read error", logger.ErrorField(err))
			}
			conn.Close()
			return err
		}

		t.handleMessage(message)
	}
}

// handleMessage decodes a tick frame and dispatches it in order
func (t *Ticker) handleMessage(message []byte) {
	var frames []tickFrame
	if err := json.Unmarshal(message, &frames); err != nil {
		logger.Warn("Failed to decode tick frame", logger.ErrorField(err))
		return
	}

	t.mu.RLock()
	onTick := t.onTick
	t.mu.RUnlock()
	if onTick == nil {
		return
	}

	for _, frame := range frames {
		if frame.InstrumentToken == "" || frame.LastPrice <= 0 {
			continue
		}
		ts := time.Now()
		if frame.Timestamp > 0 {
			ts = time.Unix(frame.Timestamp, 0)
		}
		onTick(models.Tick{
			InstrumentToken: frame.InstrumentToken,
			LastPrice:       frame.LastPrice,
			Timestamp:       ts,
		})
	}
}
