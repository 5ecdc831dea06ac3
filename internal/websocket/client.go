package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Audio clips arrive base64 encoded inside a single frame.
	maxMessageSize = 16 << 20

	sendBufferSize = 256
)

// ConnState mirrors the browser WebSocket ready states.
type ConnState string

const (
	StateConnecting ConnState = "CONNECTING"
	StateOpen       ConnState = "OPEN"
	StateClosing    ConnState = "CLOSING"
	StateClosed     ConnState = "CLOSED"
)

var (
	ErrNotConnected   = errors.New("websocket: not connected")
	ErrSendBufferFull = errors.New("websocket: send buffer full")
)

// Client is the companion's single connection to the server. Inbound JSON
// objects are handed to message listeners in arrival order from the read
// goroutine; state listeners see every transition.
type Client struct {
	dialer    *websocket.Dialer
	validator *OutboundValidator
	logger    *zap.Logger

	mu    sync.Mutex
	conn  *websocket.Conn
	send  chan []byte
	state ConnState
	gen   uint64

	listenerMu sync.RWMutex
	onState    []func(ConnState)
	onMessage  []func(map[string]any)
}

type ClientOption func(*Client)

// WithDialer replaces the default dialer.
func WithDialer(d *websocket.Dialer) ClientOption {
	return func(c *Client) { c.dialer = d }
}

func NewClient(validator *OutboundValidator, logger *zap.Logger, opts ...ClientOption) *Client {
	c := &Client{
		dialer:    websocket.DefaultDialer,
		validator: validator,
		logger:    logger,
		state:     StateClosed,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) OnStateChange(fn func(ConnState)) {
	c.listenerMu.Lock()
	c.onState = append(c.onState, fn)
	c.listenerMu.Unlock()
}

func (c *Client) OnMessage(fn func(raw map[string]any)) {
	c.listenerMu.Lock()
	c.onMessage = append(c.onMessage, fn)
	c.listenerMu.Unlock()
}

func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials rawURL, appending token as a query parameter when set. An
// existing connection is closed first. Failure leaves the client CLOSED;
// there is no automatic reconnect.
func (c *Client) Connect(ctx context.Context, rawURL, token string) error {
	c.Disconnect()

	target, err := withToken(rawURL, token)
	if err != nil {
		return err
	}

	c.setState(StateConnecting)
	conn, _, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		c.logger.Error("WebSocket dial failed", zap.String("url", rawURL), zap.Error(err))
		c.setState(StateClosed)
		return fmt.Errorf("dial %s: %w", rawURL, err)
	}

	send := make(chan []byte, sendBufferSize)
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.conn = conn
	c.send = send
	c.state = StateOpen
	c.mu.Unlock()

	c.logger.Info("WebSocket connected", zap.String("url", rawURL))

	go c.writePump(conn, send)
	c.notify(StateOpen)
	go c.readPump(conn, gen)
	return nil
}

// Disconnect closes the current connection, if any.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.state = StateClosed
	close(c.send)
	c.conn, c.send = nil, nil
	c.mu.Unlock()

	c.notify(StateClosed)
	c.logger.Info("WebSocket disconnected")
}

// Send validates msg, encodes it as JSON and queues it for the write pump.
func (c *Client) Send(msg any) error {
	if c.validator != nil {
		if err := c.validator.Validate(msg); err != nil {
			return err
		}
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode outbound message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen || c.send == nil {
		c.logger.Warn("WebSocket is not open, dropping message", zap.ByteString("payload", payload))
		return ErrNotConnected
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// readPump pumps messages from the websocket connection to the listeners.
func (c *Client) readPump(conn *websocket.Conn, gen uint64) {
	defer func() {
		conn.Close()
		c.mu.Lock()
		current := c.gen == gen
		if current {
			close(c.send)
			c.conn, c.send = nil, nil
			c.state = StateClosed
		}
		c.mu.Unlock()
		if current {
			c.notify(StateClosed)
		}
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		if messageType != websocket.TextMessage {
			c.logger.Warn("Received non-text message", zap.Int("type", messageType))
			continue
		}

		var raw map[string]any
		if err := json.Unmarshal(message, &raw); err != nil {
			c.logger.Warn("Failed to parse WebSocket message", zap.Error(err))
			continue
		}
		if raw == nil {
			continue
		}
		c.dispatch(raw)
	}
}

// writePump pumps messages from the send buffer to the websocket connection.
func (c *Client) writePump(conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) dispatch(raw map[string]any) {
	c.listenerMu.RLock()
	listeners := append([]func(map[string]any){}, c.onMessage...)
	c.listenerMu.RUnlock()

	for _, fn := range listeners {
		c.safeCall(func() { fn(raw) })
	}
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.notify(s)
}

func (c *Client) notify(s ConnState) {
	c.listenerMu.RLock()
	listeners := append([]func(ConnState){}, c.onState...)
	c.listenerMu.RUnlock()

	for _, fn := range listeners {
		c.safeCall(func() { fn(s) })
	}
}

// safeCall keeps a failing listener from taking the pump down.
func (c *Client) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("WebSocket listener panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

func withToken(rawURL, token string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse websocket url: %w", err)
	}
	if token == "" {
		return u.String(), nil
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
