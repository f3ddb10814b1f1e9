// Package events defines the domain events that drive assignment propagation
// and the in-process bus that dispatches them to listeners.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/middleware/requestid"
)

// EventType names a domain event.
type EventType string

const (
	TypeTestAssignedToClass    EventType = "assignment.test_assigned_to_class"
	TypeStudentEnrolledInClass EventType = "enrollment.student_enrolled_in_class"
)

// Event is implemented by every domain event.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	AggregateID() string
	CorrelationID() string
}

// BaseEvent carries the metadata shared by all events.
type BaseEvent struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	Aggregate   string    `json:"aggregate_id"`
	Correlation string    `json:"correlation_id,omitempty"`
}

// NewBaseEvent stamps a new event. The correlation id is taken from the request
// id on ctx, or generated when the event is raised outside a request.
func NewBaseEvent(ctx context.Context, eventType EventType, aggregateID string) BaseEvent {
	correlation := requestid.FromContext(ctx)
	if correlation == "" {
		correlation = uuid.NewString()
	}
	return BaseEvent{
		ID:          uuid.NewString(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		Aggregate:   aggregateID,
		Correlation: correlation,
	}
}

func (e BaseEvent) EventType() EventType  { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) AggregateID() string   { return e.Aggregate }
func (e BaseEvent) CorrelationID() string { return e.Correlation }

// TestAssignedToClass is raised when a teacher attaches a test to a class.
type TestAssignedToClass struct {
	BaseEvent
	Test    models.Test              `json:"test"`
	Class   models.Class             `json:"class"`
	Options models.AssignmentOptions `json:"options"`
}

// NewTestAssignedToClass builds the event. The class is the aggregate.
func NewTestAssignedToClass(ctx context.Context, test models.Test, class models.Class, opts models.AssignmentOptions) TestAssignedToClass {
	return TestAssignedToClass{
		BaseEvent: NewBaseEvent(ctx, TypeTestAssignedToClass, class.ID),
		Test:      test,
		Class:     class,
		Options:   opts,
	}
}

// StudentEnrolledInClass is raised when a student's enrollment becomes active.
type StudentEnrolledInClass struct {
	BaseEvent
	Student models.User  `json:"student"`
	Class   models.Class `json:"class"`
}

// NewStudentEnrolledInClass builds the event. The class is the aggregate.
func NewStudentEnrolledInClass(ctx context.Context, student models.User, class models.Class) StudentEnrolledInClass {
	return StudentEnrolledInClass{
		BaseEvent: NewBaseEvent(ctx, TypeStudentEnrolledInClass, class.ID),
		Student:   student,
		Class:     class,
	}
}
