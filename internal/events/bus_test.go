package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/middleware/requestid"
)

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveEventHandler(eventType, outcome string, duration time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, eventType+":"+outcome)
}

func (o *recordingObserver) snapshot() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.outcomes...)
}

func testEvent(ctx context.Context) StudentEnrolledInClass {
	return NewStudentEnrolledInClass(ctx, models.User{ID: "stu-1"}, models.Class{ID: "class-1"})
}

func TestNewBaseEventUsesRequestID(t *testing.T) {
	ctx := requestid.WithContext(context.Background(), "req-123")
	evt := testEvent(ctx)

	assert.Equal(t, TypeStudentEnrolledInClass, evt.EventType())
	assert.Equal(t, "class-1", evt.AggregateID())
	assert.Equal(t, "req-123", evt.CorrelationID())
	assert.False(t, evt.OccurredAt().IsZero())

	detached := testEvent(context.Background())
	assert.NotEmpty(t, detached.CorrelationID())
}

func TestBusSyncRunsHandlersInOrder(t *testing.T) {
	observer := &recordingObserver{}
	bus := NewBus(BusConfig{Observer: observer})

	var order []string
	require.NoError(t, bus.Subscribe(TypeStudentEnrolledInClass, func(ctx context.Context, e Event) error {
		order = append(order, "first")
		return nil
	}))
	require.NoError(t, bus.Subscribe(TypeStudentEnrolledInClass, func(ctx context.Context, e Event) error {
		order = append(order, "second")
		_, ok := e.(StudentEnrolledInClass)
		assert.True(t, ok)
		return nil
	}))

	require.NoError(t, bus.Publish(context.Background(), testEvent(context.Background())))
	assert.Equal(t, []string{"first", "second"}, order)
	assert.False(t, bus.Async())
	assert.Equal(t, []string{
		string(TypeStudentEnrolledInClass) + ":success",
		string(TypeStudentEnrolledInClass) + ":success",
	}, observer.snapshot())
}

func TestBusSyncReturnsFirstHandlerError(t *testing.T) {
	bus := NewBus(BusConfig{})
	failure := appErrors.Clone(appErrors.ErrAssignmentCreation, "test unpublished")
	calledSecond := false

	require.NoError(t, bus.Subscribe(TypeStudentEnrolledInClass, func(ctx context.Context, e Event) error {
		return failure
	}))
	require.NoError(t, bus.Subscribe(TypeStudentEnrolledInClass, func(ctx context.Context, e Event) error {
		calledSecond = true
		return nil
	}))

	err := bus.Publish(context.Background(), testEvent(context.Background()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrAssignmentCreation))
	assert.False(t, calledSecond)
}

func TestBusPublishWithoutHandlers(t *testing.T) {
	bus := NewBus(BusConfig{})
	assert.NoError(t, bus.Publish(context.Background(), testEvent(context.Background())))
	assert.Error(t, bus.Publish(context.Background(), nil))
	assert.Error(t, bus.Subscribe(TypeTestAssignedToClass, nil))
}

func TestBusClosedRejectsPublish(t *testing.T) {
	bus := NewBus(BusConfig{})
	bus.Close()
	assert.ErrorIs(t, bus.Publish(context.Background(), testEvent(context.Background())), ErrBusClosed)
	assert.ErrorIs(t, bus.Subscribe(TypeTestAssignedToClass, func(context.Context, Event) error { return nil }), ErrBusClosed)
}

func TestBusAsyncRetriesTransientFailures(t *testing.T) {
	bus := NewBus(BusConfig{Async: true, Workers: 1, MaxRetries: 3, RetryDelay: 5 * time.Millisecond})
	bus.Start(context.Background())
	defer bus.Close()

	var calls int32
	done := make(chan string, 1)
	require.NoError(t, bus.Subscribe(TypeStudentEnrolledInClass, func(ctx context.Context, e Event) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("connection reset")
		}
		done <- requestid.FromContext(ctx)
		return nil
	}))

	ctx := requestid.WithContext(context.Background(), "req-async")
	require.NoError(t, bus.Publish(ctx, testEvent(ctx)))
	assert.True(t, bus.Async())

	select {
	case correlation := <-done:
		assert.Equal(t, "req-async", correlation)
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not succeed after retries")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestBusAsyncDoesNotRetryClientErrors(t *testing.T) {
	bus := NewBus(BusConfig{Async: true, Workers: 1, MaxRetries: 5, RetryDelay: 5 * time.Millisecond})
	bus.Start(context.Background())

	var calls int32
	require.NoError(t, bus.Subscribe(TypeStudentEnrolledInClass, func(ctx context.Context, e Event) error {
		atomic.AddInt32(&calls, 1)
		return appErrors.Clone(appErrors.ErrNotFound, "class not found")
	}))

	require.NoError(t, bus.Publish(context.Background(), testEvent(context.Background())))
	time.Sleep(100 * time.Millisecond)
	bus.Close()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
