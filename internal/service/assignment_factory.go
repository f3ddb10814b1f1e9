package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type autoAssignmentStore interface {
	CreateAutoIfAbsent(ctx context.Context, assignment *models.Assignment) (bool, error)
	FindAutoByTestAndClass(ctx context.Context, testID, classID string) (*models.Assignment, error)
}

type activeEnrollmentReader interface {
	ListActiveByClass(ctx context.Context, classID string) ([]models.ClassEnrollment, error)
}

type studentAssignmentWriter interface {
	Ensure(ctx context.Context, sa *models.StudentAssignment) (bool, error)
}

// AssignmentFactory builds assignments from tests and materializes them per student.
type AssignmentFactory struct {
	assignments        autoAssignmentStore
	enrollments        activeEnrollmentReader
	studentAssignments studentAssignmentWriter
	metrics            *MetricsService
	logger             *zap.Logger
	now                func() time.Time
}

// NewAssignmentFactory constructs the factory.
func NewAssignmentFactory(assignments autoAssignmentStore, enrollments activeEnrollmentReader, studentAssignments studentAssignmentWriter, metrics *MetricsService, logger *zap.Logger) *AssignmentFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignmentFactory{
		assignments:        assignments,
		enrollments:        enrollments,
		studentAssignments: studentAssignments,
		metrics:            metrics,
		logger:             logger,
		now:                func() time.Time { return time.Now().UTC() },
	}
}

// CreateFromTest returns the auto_test assignment for the test's class,
// creating it when absent. The bool reports whether this call wrote the row.
// Tests that are unpublished or unattached fail with ErrAssignmentCreation.
func (f *AssignmentFactory) CreateFromTest(ctx context.Context, test models.Test, opts models.AssignmentOptions) (*models.Assignment, bool, error) {
	if !test.CanBeAutoAssigned() {
		return nil, false, appErrors.Clone(appErrors.ErrAssignmentCreation,
			fmt.Sprintf("test %s cannot be auto-assigned: it must be published and attached to a class", test.ID))
	}

	assignment := f.buildFromTest(test, opts)
	created, err := f.assignments.CreateAutoIfAbsent(ctx, assignment)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create assignment")
	}
	if !created {
		existing, err := f.assignments.FindAutoByTestAndClass(ctx, test.ID, assignment.ClassID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, false, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "assignment vanished after conflict")
			}
			return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load existing assignment")
		}
		f.logger.Debug("auto assignment already exists",
			zap.String("assignment_id", existing.ID),
			zap.String("test_id", test.ID),
			zap.String("class_id", existing.ClassID),
		)
		return existing, false, nil
	}

	f.metrics.RecordAssignmentCreated(string(models.AssignmentSourceAutoTest))
	f.logger.Info("assignment created from test",
		zap.String("assignment_id", assignment.ID),
		zap.String("test_id", test.ID),
		zap.String("class_id", assignment.ClassID),
		zap.String("type", string(assignment.Type)),
	)
	return assignment, true, nil
}

func (f *AssignmentFactory) buildFromTest(test models.Test, opts models.AssignmentOptions) *models.Assignment {
	now := f.now()
	testID := test.ID
	sourceID := test.ID

	title := test.Title
	if opts.Title != nil {
		title = *opts.Title
	}
	published := true
	if opts.IsPublished != nil {
		published = *opts.IsPublished
	}
	settings := opts.Settings
	if settings == nil {
		settings = models.AssignmentSettings{}
	}

	return &models.Assignment{
		ClassID:       *test.ClassID,
		TestID:        &testID,
		Title:         title,
		Description:   opts.Description,
		Type:          models.AssignmentTypeForTest(test.Type),
		SourceType:    models.AssignmentSourceAutoTest,
		SourceID:      &sourceID,
		AutoCreatedAt: &now,
		IsPublished:   published,
		DueDate:       opts.DueDate,
		Settings:      settings,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// CreateStudentAssignments ensures every actively enrolled student of the
// assignment's class holds it. It returns the number of rows written by this call.
func (f *AssignmentFactory) CreateStudentAssignments(ctx context.Context, assignment *models.Assignment) (int, error) {
	enrollments, err := f.enrollments.ListActiveByClass(ctx, assignment.ClassID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class enrollments")
	}

	created := 0
	for _, enrollment := range enrollments {
		if enrollment.Status != models.EnrollmentStatusActive {
			continue
		}
		ok, err := f.EnsureStudentAssignment(ctx, assignment, enrollment.StudentID)
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// EnsureStudentAssignment writes the student's row for assignment unless it
// already exists. Both propagation triggers go through here.
func (f *AssignmentFactory) EnsureStudentAssignment(ctx context.Context, assignment *models.Assignment, studentID string) (bool, error) {
	sa := models.NewStudentAssignment(assignment, studentID, f.now())
	created, err := f.studentAssignments.Ensure(ctx, &sa)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student assignment")
	}
	return created, nil
}
