package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/jobs"
	"github.com/noah-isme/lms-api/pkg/middleware/requestid"
)

// ErrBusClosed is returned when publishing or subscribing after Close.
var ErrBusClosed = errors.New("event bus closed")

// Handler reacts to a single event.
type Handler func(ctx context.Context, event Event) error

// Observer receives handler timings. outcome is "success" or "error".
type Observer interface {
	ObserveEventHandler(eventType, outcome string, duration time.Duration)
}

// BusConfig configures dispatch behaviour.
type BusConfig struct {
	// Async dispatches through a worker queue with retries instead of inline.
	Async      bool
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
	Observer   Observer
}

type delivery struct {
	event   Event
	handler Handler
}

// Bus is an in-process event dispatcher.
//
// In sync mode handlers run inline in Publish and the first error is returned
// to the publisher. In async mode each (event, handler) pair becomes a job on
// a jobs.Queue; failures are retried with backoff unless the error is a client
// error, which is dropped and logged.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	closed   bool

	logger   *zap.Logger
	observer Observer
	queue    *jobs.Queue
}

// NewBus constructs a bus. Call Start before publishing in async mode.
func NewBus(cfg BusConfig) *Bus {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	b := &Bus{
		handlers: make(map[EventType][]Handler),
		logger:   cfg.Logger,
		observer: cfg.Observer,
	}
	if cfg.Async {
		b.queue = jobs.NewQueue("events", b.runJob, jobs.QueueConfig{
			Workers:     cfg.Workers,
			BufferSize:  cfg.BufferSize,
			MaxRetries:  cfg.MaxRetries,
			RetryDelay:  cfg.RetryDelay,
			Logger:      cfg.Logger,
			OnExhausted: b.dropped,
		})
	}
	return b
}

// Async reports whether Publish returns before handlers run.
func (b *Bus) Async() bool {
	return b.queue != nil
}

// Start launches async workers. It is a no-op in sync mode.
func (b *Bus) Start(ctx context.Context) {
	if b.queue != nil {
		b.queue.Start(ctx)
	}
}

// Close stops accepting events and waits for in-flight async handlers.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	if b.queue != nil {
		b.queue.Stop()
	}
	b.logger.Info("event bus closed")
}

// Subscribe registers handler for eventType. Handlers run in registration order.
func (b *Bus) Subscribe(eventType EventType, handler Handler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.logger.Debug("subscribed handler", zap.String("event_type", string(eventType)))
	return nil
}

// Publish dispatches event to its subscribers.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	handlers := append([]Handler(nil), b.handlers[event.EventType()]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.Debug("no handlers for event", zap.String("event_type", string(event.EventType())))
		return nil
	}

	if b.queue != nil {
		for _, h := range handlers {
			job := jobs.Job{ID: uuid.NewString(), Type: string(event.EventType()), Payload: delivery{event: event, handler: h}}
			if err := b.queue.Enqueue(job); err != nil {
				return fmt.Errorf("enqueue %s: %w", event.EventType(), err)
			}
		}
		return nil
	}

	for _, h := range handlers {
		if err := b.execute(ctx, event, h); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) execute(ctx context.Context, event Event, handler Handler) error {
	start := time.Now()
	err := handler(ctx, event)
	duration := time.Since(start)

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	if b.observer != nil {
		b.observer.ObserveEventHandler(string(event.EventType()), outcome, duration)
	}
	if err != nil {
		b.logger.Warn("event handler failed",
			zap.String("event_type", string(event.EventType())),
			zap.String("correlation_id", event.CorrelationID()),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
	}
	return err
}

func (b *Bus) runJob(ctx context.Context, job jobs.Job) error {
	d, ok := job.Payload.(delivery)
	if !ok {
		return jobs.Permanent(fmt.Errorf("unexpected event payload %T", job.Payload))
	}
	ctx = requestid.WithContext(ctx, d.event.CorrelationID())
	if err := b.execute(ctx, d.event, d.handler); err != nil {
		if appErrors.IsClientError(err) {
			return jobs.Permanent(err)
		}
		return err
	}
	return nil
}

func (b *Bus) dropped(job jobs.Job, err error) {
	fields := []zap.Field{zap.String("job_id", job.ID), zap.String("event_type", job.Type), zap.Int("attempts", job.Attempt), zap.Error(err)}
	if d, ok := job.Payload.(delivery); ok {
		fields = append(fields, zap.String("correlation_id", d.event.CorrelationID()), zap.String("aggregate_id", d.event.AggregateID()))
	}
	b.logger.Error("event dropped", fields...)
}
