package listener

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/events"
	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

// CreateAssignmentsForNewStudent gives a newly active student every published
// assignment of the class.
type CreateAssignmentsForNewStudent struct {
	factory     assignmentFactory
	assignments classAssignmentLister
	cache       cacheInvalidator
	metrics     fanOutRecorder
	logger      *zap.Logger
}

// NewCreateAssignmentsForNewStudent constructs the listener. cache and metrics may be nil.
func NewCreateAssignmentsForNewStudent(factory assignmentFactory, assignments classAssignmentLister, cache cacheInvalidator, metrics fanOutRecorder, logger *zap.Logger) *CreateAssignmentsForNewStudent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CreateAssignmentsForNewStudent{factory: factory, assignments: assignments, cache: cache, metrics: metrics, logger: logger}
}

// Handle implements events.Handler.
func (l *CreateAssignmentsForNewStudent) Handle(ctx context.Context, event events.Event) error {
	evt, ok := event.(events.StudentEnrolledInClass)
	if !ok {
		return fmt.Errorf("create assignments for new student: unexpected event %T", event)
	}
	_, err := l.Run(ctx, evt)
	return err
}

// Run executes the listener and returns how many student rows were written.
func (l *CreateAssignmentsForNewStudent) Run(ctx context.Context, evt events.StudentEnrolledInClass) (int, error) {
	published, err := l.assignments.ListByClass(ctx, models.AssignmentFilter{ClassID: evt.Class.ID, PublishedOnly: true})
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class assignments")
	}

	created := 0
	for i := range published {
		ok, err := l.factory.EnsureStudentAssignment(ctx, &published[i], evt.Student.ID)
		if err != nil {
			l.record(ctx, evt.Student.ID, created)
			return created, err
		}
		if ok {
			created++
		}
	}
	l.record(ctx, evt.Student.ID, created)

	l.logger.Info("assignments propagated for student",
		zap.String("correlation_id", evt.CorrelationID()),
		zap.String("student_id", evt.Student.ID),
		zap.String("class_id", evt.Class.ID),
		zap.Int("published_assignments", len(published)),
		zap.Int("student_assignments_created", created),
	)
	return created, nil
}

func (l *CreateAssignmentsForNewStudent) record(ctx context.Context, studentID string, created int) {
	if l.metrics != nil {
		l.metrics.RecordStudentAssignmentsCreated(TriggerStudentEnrolled, created)
	}
	if created > 0 {
		invalidate(ctx, l.cache, l.logger, service.StudentAssignmentsCachePattern(studentID))
	}
}
