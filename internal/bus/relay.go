package bus

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/hydrodrone/mission/pkg/streaming"
)

const clientSendSize = 1024

// Relay rebroadcasts every envelope to every other connected client. A
// client that sent a hello only receives the topics it listed; one that
// did not receives everything.
type Relay struct {
	secret   string
	upgrader ws.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

type client struct {
	conn *ws.Conn
	send chan []byte
	once sync.Once

	mu       sync.RWMutex
	node     string
	topics   []string
	filtered bool
}

// NewRelay returns a relay that requires secret as query parameter when it
// is not empty.
func NewRelay(secret string, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		secret:   secret,
		upgrader: ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		logger:   logger.With("component", "relay"),
		clients:  make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the client until it leaves.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if r.secret != "" && subtle.ConstantTimeCompare([]byte(req.URL.Query().Get("secret")), []byte(r.secret)) != 1 {
		http.Error(w, "invalid secret", http.StatusUnauthorized)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("Upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientSendSize)}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = conn.Close()
		return
	}
	r.clients[c] = struct{}{}
	r.wg.Add(1)
	r.mu.Unlock()
	r.logger.Info("Client connected", "remote", req.RemoteAddr)

	go c.writeLoop(r.logger)
	r.readLoop(c)
}

func (r *Relay) readLoop(c *client) {
	defer r.wg.Done()
	defer r.remove(c)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var env streaming.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			r.logger.Debug("Dropping non-envelope frame", "raw", string(data))
			continue
		}

		if env.Type == TypeHello {
			var h Hello
			if err := json.Unmarshal(env.Payload, &h); err != nil {
				r.logger.Warn("Bad hello", "error", err)
				continue
			}
			c.mu.Lock()
			c.node, c.topics, c.filtered = h.Node, h.Topics, true
			c.mu.Unlock()
			r.logger.Info("Client registered", "node", h.Node, "topics", h.Topics)
			continue
		}

		r.broadcast(c, env.Type, data)
	}
}

func (r *Relay) broadcast(from *client, topic string, data []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for c := range r.clients {
		if c == from || !c.wants(topic) {
			continue
		}
		select {
		case c.send <- data:
		default:
			r.logger.Warn("Client send queue full, dropping", "node", c.name(), "topic", topic)
		}
	}
}

func (r *Relay) remove(c *client) {
	r.mu.Lock()
	delete(r.clients, c)
	r.mu.Unlock()
	c.stop()
	r.logger.Info("Client disconnected", "node", c.name())
}

// Clients returns the number of connected clients.
func (r *Relay) Clients() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Subscribers returns the number of clients receiving topic.
func (r *Relay) Subscribers(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for c := range r.clients {
		if c.wants(topic) {
			n++
		}
	}
	return n
}

// Disconnect drops every client connection. Clients may reconnect.
func (r *Relay) Disconnect() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for c := range r.clients {
		_ = c.conn.Close()
	}
}

// Close disconnects every client and refuses new ones.
func (r *Relay) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.Disconnect()
	r.wg.Wait()
}

func (c *client) wants(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.filtered || slices.Contains(c.topics, topic)
}

func (c *client) name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.node
}

func (c *client) stop() {
	c.once.Do(func() { close(c.send) })
}

func (c *client) writeLoop(logger *slog.Logger) {
	for data := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			break
		}
		if err := c.conn.WriteMessage(ws.TextMessage, data); err != nil {
			logger.Debug("Write to client failed", "node", c.name(), "error", err)
			break
		}
	}
	_ = c.conn.Close()
}
