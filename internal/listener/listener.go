// Package listener contains the event handlers that propagate assignments to
// students. Both handlers are idempotent and may be re-run safely.
package listener

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/events"
	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
)

// Trigger labels used for the student_assignments_created_total metric.
const (
	TriggerTestAssigned    = "test_assigned"
	TriggerStudentEnrolled = "student_enrolled"
)

type assignmentFactory interface {
	CreateFromTest(ctx context.Context, test models.Test, opts models.AssignmentOptions) (*models.Assignment, bool, error)
	CreateStudentAssignments(ctx context.Context, assignment *models.Assignment) (int, error)
	EnsureStudentAssignment(ctx context.Context, assignment *models.Assignment, studentID string) (bool, error)
}

type classAssignmentLister interface {
	ListByClass(ctx context.Context, filter models.AssignmentFilter) ([]models.Assignment, error)
}

type cacheInvalidator interface {
	Invalidate(ctx context.Context, pattern string) error
}

type fanOutRecorder interface {
	RecordStudentAssignmentsCreated(trigger string, n int)
}

// Subscriber is the part of the event bus listeners register with.
type Subscriber interface {
	Subscribe(eventType events.EventType, handler events.Handler) error
}

// Register subscribes both listeners to their events.
func Register(bus Subscriber, forTest *CreateAssignmentsForTest, forStudent *CreateAssignmentsForNewStudent) error {
	if err := bus.Subscribe(events.TypeTestAssignedToClass, forTest.Handle); err != nil {
		return fmt.Errorf("subscribe %s: %w", events.TypeTestAssignedToClass, err)
	}
	if err := bus.Subscribe(events.TypeStudentEnrolledInClass, forStudent.Handle); err != nil {
		return fmt.Errorf("subscribe %s: %w", events.TypeStudentEnrolledInClass, err)
	}
	return nil
}

func invalidate(ctx context.Context, cache cacheInvalidator, logger *zap.Logger, patterns ...string) {
	if cache == nil {
		return
	}
	for _, p := range patterns {
		if err := cache.Invalidate(ctx, p); err != nil {
			logger.Warn("cache invalidation failed", zap.String("pattern", p), zap.Error(err))
		}
	}
}

var _ cacheInvalidator = (*service.CacheService)(nil)
var _ fanOutRecorder = (*service.MetricsService)(nil)
