package events

import (
	"context"
	"time"

	"github.com/wolfman30/appointment-engine/internal/observability/metrics"
	"github.com/wolfman30/appointment-engine/pkg/logging"
)

// Sink receives envelopes from the dispatcher.
type Sink interface {
	Deliver(ctx context.Context, env Envelope) error
}

// LogSink only logs envelopes. Used when no database is configured.
type LogSink struct {
	logger *logging.Logger
}

func NewLogSink(logger *logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Deliver(_ context.Context, env Envelope) error {
	s.logger.Info("booking event", "event_id", env.EventID, "type", env.EventType, "aggregate", env.Aggregate)
	return nil
}

// Dispatcher hands events to a sink on its own goroutine. Publish never
// blocks the caller; when the buffer is full or the sink keeps failing the
// event is dropped, logged and counted.
type Dispatcher struct {
	sink        Sink
	queue       chan Envelope
	maxAttempts int
	baseDelay   time.Duration
	drainWait   time.Duration
	metrics     *metrics.BookingMetrics
	logger      *logging.Logger
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

func WithBufferSize(size int) DispatcherOption {
	return func(d *Dispatcher) {
		if size > 0 {
			d.queue = make(chan Envelope, size)
		}
	}
}

func WithMaxAttempts(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

func WithRetryDelay(delay time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if delay > 0 {
			d.baseDelay = delay
		}
	}
}

func WithDispatchMetrics(m *metrics.BookingMetrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

func NewDispatcher(sink Sink, logger *logging.Logger, opts ...DispatcherOption) *Dispatcher {
	if sink == nil {
		panic("events: sink required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	d := &Dispatcher{
		sink:        sink,
		queue:       make(chan Envelope, 256),
		maxAttempts: 5,
		baseDelay:   500 * time.Millisecond,
		drainWait:   5 * time.Second,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Publish wraps evt in an envelope and queues it. It reports whether the
// event was queued.
func (d *Dispatcher) Publish(aggregate string, evt CanonicalEvent, opts ...EnvelopeOption) bool {
	env, err := NewEnvelope(aggregate, evt, opts...)
	if err != nil {
		d.logger.Error("failed to build event envelope", "aggregate", aggregate, "error", err)
		return false
	}
	select {
	case d.queue <- env:
		return true
	default:
		d.logger.Warn("event buffer full, dropping event", "event_id", env.EventID, "type", env.EventType)
		d.metrics.ObserveEventDropped(env.EventType)
		return false
	}
}

// Start delivers queued envelopes until ctx is canceled, then makes one
// last attempt at whatever is still buffered.
func (d *Dispatcher) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return
		case env := <-d.queue:
			d.deliver(ctx, env)
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case env := <-d.queue:
			d.lastAttempt(env)
		default:
			return
		}
	}
}

// lastAttempt delivers once after shutdown, bounded by drainWait.
func (d *Dispatcher) lastAttempt(env Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), d.drainWait)
	defer cancel()
	if err := d.sink.Deliver(ctx, env); err != nil {
		d.dropped(env, err)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, env Envelope) {
	delay := d.baseDelay
	var err error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if err = d.sink.Deliver(ctx, env); err == nil {
			return
		}
		d.logger.Warn("event delivery failed", "event_id", env.EventID, "type", env.EventType, "attempt", attempt, "error", err)
		if attempt == d.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			d.lastAttempt(env)
			return
		case <-time.After(delay):
		}
		delay *= 2
	}
	d.dropped(env, err)
}

func (d *Dispatcher) dropped(env Envelope, err error) {
	d.logger.Error("dropping event after retries", "event_id", env.EventID, "type", env.EventType, "aggregate", env.Aggregate, "error", err)
	d.metrics.ObserveEventDropped(env.EventType)
}
