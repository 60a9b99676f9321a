package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/metrics"
)

// Sink delivers encoded messages to one destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, m Message) error
	Close() error
}

const (
	defaultQueueSize = 256
	sendTimeout      = 5 * time.Second
	drainTimeout     = 10 * time.Second
)

var _ Emitter = (*Dispatcher)(nil)

// Dispatcher queues events and fans them out to every sink from a single
// worker. A full queue drops the event.
type Dispatcher struct {
	queue chan Message
	sinks []Sink
	lg    *zap.Logger
	now   func() time.Time

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher creates a Dispatcher with a queue of size events.
func NewDispatcher(lg *zap.Logger, size int, sinks ...Sink) *Dispatcher {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Dispatcher{
		queue: make(chan Message, size),
		sinks: sinks,
		lg:    lg,
		now:   time.Now,
	}
}

// Emit encodes the event and enqueues it without blocking.
func (d *Dispatcher) Emit(_ context.Context, name string, payload Payload, opts ...Option) {
	m := Message{Event: name, EmittedAt: d.now()}
	for _, o := range opts {
		o(&m)
	}
	m.Body = encodeEnvelope(&m, payload)

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		metrics.RecordNotificationDrop("closed")
		return
	}
	select {
	case d.queue <- m:
	default:
		metrics.RecordNotificationDrop("queue_full")
		d.lg.Warn("Notification queue full, dropping event",
			zap.String("event", name),
			zap.String("room", m.Room),
		)
	}
}

// Run delivers queued events until ctx is done, then drains what is left
// and closes the sinks.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case m := <-d.queue:
			d.deliver(ctx, m)
		case <-ctx.Done():
			d.shutdown()
			return nil
		}
	}
}

func (d *Dispatcher) shutdown() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
drain:
	for {
		select {
		case m := <-d.queue:
			d.deliver(ctx, m)
		default:
			break drain
		}
	}

	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			d.lg.Warn("Close notification sink", zap.String("sink", s.Name()), zap.Error(err))
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, m Message) {
	for _, s := range d.sinks {
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := s.Send(sendCtx, m)
		cancel()
		if err != nil {
			metrics.RecordNotificationDrop("sink_error")
			d.lg.Error("Deliver notification",
				zap.String("sink", s.Name()),
				zap.String("event", m.Event),
				zap.Error(err),
			)
		}
	}
}
