package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	ws "github.com/gorilla/websocket"

	"github.com/hydrodrone/mission/pkg/streaming"
)

const (
	sendChSize = 10_000
	maxBackoff = 30 * time.Second
	writeWait  = 10 * time.Second
)

// connection manages a WebSocket connection with a single write goroutine.
type connection struct {
	mu     sync.Mutex
	conn   *ws.Conn
	sendCh chan []byte
	done   chan struct{} // closed on shutdown
	closed bool

	wsURL        string
	secret       string
	initialRetry time.Duration
	maxReconnect int

	// Cached hello message for reconnect replay.
	hello []byte

	onEnvelope  func(streaming.Envelope)
	onReconnect func()
	logger      *slog.Logger
}

func newConnection(logger *slog.Logger, onEnvelope func(streaming.Envelope)) *connection {
	return &connection{
		sendCh:       make(chan []byte, sendChSize),
		done:         make(chan struct{}),
		initialRetry: time.Second,
		maxReconnect: 10,
		onEnvelope:   onEnvelope,
		logger:       logger,
	}
}

// dial connects to the relay, sends the hello message and starts read/write loops.
func (c *connection) dial(rawURL, secret string, hello []byte) error {
	c.wsURL = rawURL
	c.secret = secret
	c.hello = hello

	conn, err := c.dialOnce()
	if err != nil {
		return err
	}
	if err := c.greet(conn); err != nil {
		_ = conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.writeLoop(conn)
	go c.readLoop(conn)
	return nil
}

// dialOnce performs a single WebSocket dial with the secret query param.
func (c *connection) dialOnce() (*ws.Conn, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if c.secret != "" {
		q := u.Query()
		q.Set("secret", c.secret)
		u.RawQuery = q.Encode()
	}

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

func (c *connection) greet(conn *ws.Conn) error {
	if c.hello == nil {
		return nil
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("set hello deadline: %w", err)
	}
	if err := conn.WriteMessage(ws.TextMessage, c.hello); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}
	return nil
}

// writeLoop drains sendCh and writes messages to conn.
// Only one writeLoop runs at a time; it returns on error or shutdown.
func (c *connection) writeLoop(conn *ws.Conn) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.sendCh:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("WebSocket SetWriteDeadline error", "error", err)
				go c.reconnect(conn)
				return
			}
			if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
				c.logger.Warn("WebSocket write error", "error", err)
				go c.reconnect(conn)
				return
			}
		}
	}
}

// readLoop decodes envelopes from the relay until the connection fails.
func (c *connection) readLoop(conn *ws.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Warn("WebSocket read error", "error", err)
			go c.reconnect(conn)
			return
		}

		var env streaming.Envelope
		if err := json.Unmarshal(message, &env); err != nil || env.Type == "" {
			c.logger.Debug("Non-envelope message received", "raw", string(message))
			continue
		}
		if c.onEnvelope != nil {
			c.onEnvelope(env)
		}
	}
}

// reconnect re-establishes the connection with exponential backoff. Both
// loops of a failed connection may call it; only the first one for a given
// conn proceeds. On success it replays the hello message and restarts the
// read/write loops.
func (c *connection) reconnect(failed *ws.Conn) {
	c.mu.Lock()
	if c.closed || c.conn != failed {
		c.mu.Unlock()
		return
	}
	_ = c.conn.Close()
	c.conn = nil
	c.mu.Unlock()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialRetry
	b.MaxInterval = maxBackoff
	b.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		select {
		case <-c.done:
			return backoff.Permanent(fmt.Errorf("connection closed"))
		default:
		}

		conn, err := c.dialOnce()
		if err != nil {
			c.logger.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			return err
		}
		if err := c.greet(conn); err != nil {
			c.logger.Warn("Failed to replay hello after reconnect", "error", err)
			_ = conn.Close()
			return err
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return backoff.Permanent(fmt.Errorf("connection closed"))
		}
		c.conn = conn
		c.mu.Unlock()

		c.logger.Info("WebSocket reconnected", "attempt", attempt)
		go c.writeLoop(conn)
		go c.readLoop(conn)
		return nil
	}

	policy := backoff.WithMaxRetries(b, uint64(c.maxReconnect))
	if err := backoff.Retry(operation, policy); err != nil {
		c.logger.Error("WebSocket reconnect failed", "attempts", attempt, "error", err)
		return
	}
	if c.onReconnect != nil {
		c.onReconnect()
	}
}

// send pushes data to the write loop. Non-blocking; drops if channel full.
func (c *connection) send(data []byte) bool {
	select {
	case c.sendCh <- data:
		return true
	default:
		c.logger.Warn("WebSocket send channel full, dropping message")
		return false
	}
}

// close sends a WebSocket close frame and shuts down all goroutines.
func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return conn.Close()
	}
	return nil
}
