package notify

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

// Publisher writes an encoded event to a broker.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, body []byte) error
	Close() error
}

// DispatcherConfig controls queueing and retries.
type DispatcherConfig struct {
	// QueueSize bounds the number of pending events; further events are dropped.
	QueueSize int
	// Workers is the number of concurrent publishing goroutines.
	Workers int
	// MaxRetries bounds publish retries per event.
	MaxRetries uint64
	// InitialBackoff is the first retry delay; later delays grow exponentially.
	InitialBackoff time.Duration
	// PublishTimeout bounds a single publish attempt.
	PublishTimeout time.Duration
}

func (c *DispatcherConfig) setDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
}

type message struct {
	topic string
	key   string
	body  []byte
}

// Dispatcher is an asynchronous Notifier. Publish enqueues and returns
// immediately; Run drains the queue into the Publisher with retries.
type Dispatcher struct {
	pub   Publisher
	cfg   DispatcherConfig
	lg    *zap.Logger
	queue chan message

	events metric.Int64Counter
}

// NewDispatcher creates a Dispatcher. Call Run to start delivering.
func NewDispatcher(pub Publisher, cfg DispatcherConfig, lg *zap.Logger, mp metric.MeterProvider) *Dispatcher {
	cfg.setDefaults()
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	events, _ := mp.Meter("notify").Int64Counter("notify.events",
		metric.WithDescription("Notification events by outcome"),
	)
	return &Dispatcher{
		pub:    pub,
		cfg:    cfg,
		lg:     lg,
		queue:  make(chan message, cfg.QueueSize),
		events: events,
	}
}

// Publish implements Notifier. It never blocks; when the queue is full the
// event is dropped and logged.
func (d *Dispatcher) Publish(ctx context.Context, ev Event) {
	msg := message{topic: ev.Topic(), key: ev.Key(), body: Marshal(ev)}
	select {
	case d.queue <- msg:
	default:
		d.record(ctx, msg.topic, "dropped")
		d.lg.Warn("Notification queue full, dropping event",
			zap.String("topic", msg.topic),
			zap.String("key", msg.key),
		)
	}
}

// Len returns the number of queued events.
func (d *Dispatcher) Len() int { return len(d.queue) }

// Cap returns the queue capacity.
func (d *Dispatcher) Cap() int { return cap(d.queue) }

// Run delivers queued events until ctx is cancelled, then flushes what is
// already queued and closes the Publisher.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for range d.cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.work(ctx)
		}()
	}
	wg.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), d.cfg.PublishTimeout)
	defer cancel()
	for {
		select {
		case msg := <-d.queue:
			d.deliver(flushCtx, msg)
		default:
			return d.pub.Close()
		}
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-d.queue:
			d.deliver(ctx, msg)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg message) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.InitialBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(b, d.cfg.MaxRetries), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		pubCtx, cancel := context.WithTimeout(ctx, d.cfg.PublishTimeout)
		defer cancel()
		return d.pub.Publish(pubCtx, msg.topic, msg.key, msg.body)
	}, policy)
	if err != nil {
		d.record(ctx, msg.topic, "failed")
		d.lg.Error("Notification delivery failed",
			zap.String("topic", msg.topic),
			zap.String("key", msg.key),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
		return
	}
	d.record(ctx, msg.topic, "published")
}

func (d *Dispatcher) record(ctx context.Context, topic, outcome string) {
	d.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("outcome", outcome),
	))
}
