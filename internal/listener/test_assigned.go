package listener

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/events"
	"github.com/noah-isme/lms-api/internal/service"
)

// CreateAssignmentsForTest turns a TestAssignedToClass event into the class
// assignment and one student assignment per active enrollee.
type CreateAssignmentsForTest struct {
	factory assignmentFactory
	cache   cacheInvalidator
	metrics fanOutRecorder
	logger  *zap.Logger
}

// NewCreateAssignmentsForTest constructs the listener. cache and metrics may be nil.
func NewCreateAssignmentsForTest(factory assignmentFactory, cache cacheInvalidator, metrics fanOutRecorder, logger *zap.Logger) *CreateAssignmentsForTest {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CreateAssignmentsForTest{factory: factory, cache: cache, metrics: metrics, logger: logger}
}

// Handle implements events.Handler.
func (l *CreateAssignmentsForTest) Handle(ctx context.Context, event events.Event) error {
	evt, ok := event.(events.TestAssignedToClass)
	if !ok {
		return fmt.Errorf("create assignments for test: unexpected event %T", event)
	}
	_, _, err := l.Run(ctx, evt)
	return err
}

// Run executes the listener and returns the assignment id and how many
// student rows were written.
func (l *CreateAssignmentsForTest) Run(ctx context.Context, evt events.TestAssignedToClass) (string, int, error) {
	assignment, created, err := l.factory.CreateFromTest(ctx, evt.Test, evt.Options)
	if err != nil {
		return "", 0, err
	}
	count, err := l.factory.CreateStudentAssignments(ctx, assignment)
	if l.metrics != nil {
		l.metrics.RecordStudentAssignmentsCreated(TriggerTestAssigned, count)
	}
	if created || count > 0 {
		invalidate(ctx, l.cache, l.logger,
			service.ClassAssignmentsCachePattern(assignment.ClassID),
			service.StudentAssignmentsCachePattern(""),
		)
	}
	if err != nil {
		return assignment.ID, count, err
	}

	l.logger.Info("assignments propagated for test",
		zap.String("correlation_id", evt.CorrelationID()),
		zap.String("assignment_id", assignment.ID),
		zap.String("test_id", evt.Test.ID),
		zap.String("class_id", assignment.ClassID),
		zap.Bool("assignment_created", created),
		zap.Int("student_assignments_created", count),
	)
	return assignment.ID, count, nil
}
