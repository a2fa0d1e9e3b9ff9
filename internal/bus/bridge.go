// Package bus links the in-process dispatchers of the mission, winch and
// vision nodes through a websocket relay. Every frame on the wire is a
// streaming.Envelope whose Type is the topic.
package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hydrodrone/mission/internal/dispatcher"
	"github.com/hydrodrone/mission/pkg/streaming"
)

// TypeHello announces a node and the topics it wants from the relay.
const TypeHello = "hello"

var ErrSendDropped = errors.New("bus send queue full")

// Hello is the payload of the first envelope on every connection.
type Hello struct {
	Node   string   `json:"node"`
	Topics []string `json:"topics"`
}

// Config holds Bridge configuration.
type Config struct {
	URL    string
	Secret string
	Node   string
	// Forward lists local topics sent to the relay.
	Forward []string
	// Subscribe lists remote topics published on the local dispatcher.
	Subscribe []string
	// Reconnect is the first backoff interval; MaxReconnect bounds the
	// attempts after a connection drops.
	Reconnect    time.Duration
	MaxReconnect int
}

// Bridge forwards selected local topics to the relay and publishes remote
// envelopes on the local dispatcher.
type Bridge struct {
	conn   *connection
	cfg    Config
	local  *dispatcher.Dispatcher
	logger *slog.Logger

	reconnects atomic.Int64
}

// New creates a bridge over local. A topic listed in both Forward and
// Subscribe is only forwarded, so relayed messages never echo back.
func New(cfg Config, local *dispatcher.Dispatcher, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "bus", "node", cfg.Node)

	var subscribe []string
	for _, topic := range cfg.Subscribe {
		if slices.Contains(cfg.Forward, topic) {
			logger.Warn("Topic is forwarded and subscribed, keeping forward only", "topic", topic)
			continue
		}
		subscribe = append(subscribe, topic)
	}
	cfg.Subscribe = subscribe

	b := &Bridge{cfg: cfg, local: local, logger: logger}
	b.conn = newConnection(logger, b.deliver)
	b.conn.onReconnect = func() { b.reconnects.Add(1) }
	if cfg.Reconnect > 0 {
		b.conn.initialRetry = cfg.Reconnect
	}
	if cfg.MaxReconnect > 0 {
		b.conn.maxReconnect = cfg.MaxReconnect
	}
	return b
}

// Start connects to the relay and subscribes the forwarded topics.
func (b *Bridge) Start() error {
	env, err := streaming.NewEnvelope(TypeHello, Hello{Node: b.cfg.Node, Topics: b.cfg.Subscribe})
	if err != nil {
		return err
	}
	hello, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal hello: %w", err)
	}
	if err := b.conn.dial(b.cfg.URL, b.cfg.Secret, hello); err != nil {
		return err
	}

	for _, topic := range b.cfg.Forward {
		b.local.Subscribe(topic, b.forward)
	}
	b.logger.Info("Bus bridge connected", "url", b.cfg.URL, "forward", b.cfg.Forward, "subscribe", b.cfg.Subscribe)
	return nil
}

// Send marshals payload under topic and queues it for the relay.
func (b *Bridge) Send(topic string, payload any) error {
	env, err := streaming.NewEnvelope(topic, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", topic, err)
	}
	if !b.conn.send(data) {
		return ErrSendDropped
	}
	return nil
}

// Reconnects returns how many times the connection was re-established.
func (b *Bridge) Reconnects() int64 {
	return b.reconnects.Load()
}

// Close disconnects from the relay.
func (b *Bridge) Close() error {
	return b.conn.close()
}

func (b *Bridge) forward(m dispatcher.Message) error {
	return b.Send(m.Topic, m.Payload)
}

// deliver publishes a relayed envelope locally with its raw JSON payload.
func (b *Bridge) deliver(env streaming.Envelope) {
	if !slices.Contains(b.cfg.Subscribe, env.Type) {
		b.logger.Debug("Ignoring unsubscribed topic", "topic", env.Type)
		return
	}
	err := b.local.Publish(dispatcher.Message{
		Topic:   env.Type,
		Payload: env.Payload,
	})
	if err != nil {
		b.logger.Warn("Delivering relayed message", "topic", env.Type, "error", err)
	}
}

// HTTPToWS converts an HTTP(S) URL to a WebSocket URL.
func HTTPToWS(httpURL string) string {
	s := strings.TrimRight(httpURL, "/")
	s = strings.Replace(s, "https://", "wss://", 1)
	s = strings.Replace(s, "http://", "ws://", 1)
	return s
}
