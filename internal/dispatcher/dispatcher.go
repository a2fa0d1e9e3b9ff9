package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName scopes the bus instruments.
const meterName = "github.com/hydrodrone/mission/internal/dispatcher"

var (
	ErrClosed    = errors.New("dispatcher closed")
	ErrQueueFull = errors.New("queue full")
)

// Message is a payload published on a topic.
type Message struct {
	Topic     string
	Payload   any
	Timestamp time.Time
}

// HandlerFunc processes a message delivered to a subscriber.
type HandlerFunc func(Message) error

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures a subscription.
type Option func(*config)

type config struct {
	bufferSize int
	blocking   bool
	logged     bool
}

// Buffered makes the subscriber async with a queue of the given size.
func Buffered(size int) Option {
	return func(c *config) {
		c.bufferSize = size
	}
}

// Blocking makes a buffered subscriber block when the queue is full instead of dropping.
func Blocking() Option {
	return func(c *config) {
		c.blocking = true
	}
}

// Logged adds debug logging to the subscriber.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

type buffer struct {
	topic string
	ch    chan Message
}

// Dispatcher fans messages out to every subscriber of their topic.
type Dispatcher struct {
	logger Logger

	queueSize metric.Int64ObservableGauge
	delivered metric.Int64Counter
	dropped   metric.Int64Counter

	mu      sync.RWMutex
	subs    map[string][]HandlerFunc
	buffers []buffer
	closed  bool
	wg      sync.WaitGroup
}

// New creates a bus logging through logger, which may be nil. Instruments
// come from the global meter provider and are no-ops until one is installed.
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		subs:   make(map[string][]HandlerFunc),
		logger: logger,
	}

	m := otel.GetMeterProvider().Meter(meterName)

	var err error

	d.queueSize, err = m.Int64ObservableGauge(
		"bus.queue.size",
		metric.WithDescription("Current number of messages waiting in subscriber queues"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			d.mu.RLock()
			defer d.mu.RUnlock()
			for _, b := range d.buffers {
				o.ObserveInt64(d.queueSize, int64(len(b.ch)),
					metric.WithAttributes(attribute.String("topic", b.topic)))
			}
			return nil
		},
		d.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	d.delivered, err = m.Int64Counter(
		"bus.messages.delivered",
		metric.WithDescription("Total messages delivered to subscribers"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating delivered counter: %w", err)
	}

	d.dropped, err = m.Int64Counter(
		"bus.messages.dropped",
		metric.WithDescription("Total messages dropped due to full queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	return d, nil
}

// Subscribe adds a handler for the given topic with optional configuration.
// Every subscriber of a topic receives every message published on it.
func (d *Dispatcher) Subscribe(topic string, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := d.counted(topic, h)

	if cfg.logged {
		handler = d.withLogging(topic, handler)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if cfg.bufferSize > 0 {
		handler = d.withBuffer(topic, cfg.bufferSize, cfg.blocking, handler)
	}

	d.subs[topic] = append(d.subs[topic], handler)
}

// Publish delivers m to every subscriber of m.Topic. Synchronous subscribers
// run before Publish returns; their errors and dropped deliveries are joined
// into the returned error.
func (d *Dispatcher) Publish(m Message) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return ErrClosed
	}
	handlers := append([]HandlerFunc(nil), d.subs[m.Topic]...)
	d.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h(m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishPayload is shorthand for Publish(Message{Topic: topic, Payload: payload}).
func (d *Dispatcher) PublishPayload(topic string, payload any) error {
	return d.Publish(Message{Topic: topic, Payload: payload})
}

// HasSubscribers returns true if anything listens on topic.
func (d *Dispatcher) HasSubscribers(topic string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs[topic]) > 0
}

// Close stops accepting messages and waits for buffered subscribers to
// drain their queues.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, b := range d.buffers {
		close(b.ch)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) counted(topic string, h HandlerFunc) HandlerFunc {
	attr := metric.WithAttributes(attribute.String("topic", topic))
	return func(m Message) error {
		err := h(m)
		d.delivered.Add(context.Background(), 1, attr)
		return err
	}
}

// withBuffer must be called with d.mu held.
func (d *Dispatcher) withBuffer(topic string, size int, blocking bool, h HandlerFunc) HandlerFunc {
	ch := make(chan Message, size)
	d.buffers = append(d.buffers, buffer{topic: topic, ch: ch})

	attr := metric.WithAttributes(attribute.String("topic", topic))

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for m := range ch {
			if err := h(m); err != nil && d.logger != nil {
				d.logger.Error("subscriber failed", "topic", topic, "error", err)
			}
		}
	}()

	// Sends happen under the read lock so Close cannot close ch mid-send.
	if blocking {
		return func(m Message) error {
			d.mu.RLock()
			defer d.mu.RUnlock()
			if d.closed {
				return ErrClosed
			}
			ch <- m
			return nil
		}
	}

	return func(m Message) error {
		d.mu.RLock()
		defer d.mu.RUnlock()
		if d.closed {
			return ErrClosed
		}
		select {
		case ch <- m:
			return nil
		default:
			d.dropped.Add(context.Background(), 1, attr)
			return fmt.Errorf("%w: %s", ErrQueueFull, topic)
		}
	}
}

func (d *Dispatcher) withLogging(topic string, h HandlerFunc) HandlerFunc {
	return func(m Message) error {
		start := time.Now()
		if d.logger != nil {
			d.logger.Debug("handling message", "topic", topic)
		}

		err := h(m)

		if d.logger == nil {
			return err
		}
		if err != nil {
			d.logger.Error("message failed", "topic", topic, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("message complete", "topic", topic, "duration", time.Since(start))
		}
		return err
	}
}
