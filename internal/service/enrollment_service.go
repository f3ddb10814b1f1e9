package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/events"
	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/database"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.ClassEnrollment, error)
	FindByClassAndStudent(ctx context.Context, classID, studentID string) (*models.ClassEnrollment, error)
	Create(ctx context.Context, enrollment *models.ClassEnrollment) error
	UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus) error
	Delete(ctx context.Context, id string) error
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// EnrollStudentRequest describes enrollment creation request.
type EnrollStudentRequest struct {
	StudentID string                  `json:"student_id" validate:"required"`
	ClassID   string                  `json:"class_id" validate:"required"`
	Status    models.EnrollmentStatus `json:"status" validate:"omitempty,oneof=active pending"`
}

// EnrollmentService orchestrates enrollment workflows and raises
// StudentEnrolledInClass whenever an enrollment becomes active.
type EnrollmentService struct {
	repo      enrollmentRepository
	students  studentReader
	classes   classReader
	publisher EventPublisher
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, students studentReader, classes classReader, publisher EventPublisher, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, students: students, classes: classes, publisher: publisher, validator: validate, logger: logger}
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return enrollments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Enroll registers a student in a class. Active enrollments receive every
// published assignment of the class.
func (s *EnrollmentService) Enroll(ctx context.Context, req EnrollStudentRequest) (*models.ClassEnrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	student, err := s.loadStudent(ctx, req.StudentID)
	if err != nil {
		return nil, err
	}
	class, err := s.classes.FindByID(ctx, req.ClassID)
	if err != nil {
		return nil, notFoundOrInternal(err, "class not found", "failed to load class")
	}

	existing, err := s.repo.FindByClassAndStudent(ctx, req.ClassID, req.StudentID)
	switch {
	case err == nil:
		if existing.Status == models.EnrollmentStatusInactive {
			return nil, appErrors.Clone(appErrors.ErrConflict, "student has an inactive enrollment in class; activate it instead")
		}
		return nil, appErrors.Clone(appErrors.ErrConflict, "student already enrolled in class")
	case !errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate enrollment")
	}

	status := req.Status
	if status == "" {
		status = models.EnrollmentStatusActive
	}
	enrollment := &models.ClassEnrollment{ClassID: class.ID, StudentID: student.ID, Status: status}
	if err := s.repo.Create(ctx, enrollment); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "student already enrolled in class")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}

	// The row is committed before publishing so a concurrent test fan-out
	// either sees this enrollment or is seen by its listener.
	if enrollment.Status == models.EnrollmentStatusActive {
		if err := s.publishEnrolled(ctx, *student, *class); err != nil {
			s.discard(ctx, enrollment)
			return nil, err
		}
	}
	return enrollment, nil
}

// discard removes an enrollment whose propagation failed so the request can
// be retried.
func (s *EnrollmentService) discard(ctx context.Context, enrollment *models.ClassEnrollment) {
	if err := s.repo.Delete(context.WithoutCancel(ctx), enrollment.ID); err != nil {
		s.logger.Error("failed to roll back enrollment",
			zap.String("enrollment_id", enrollment.ID),
			zap.Error(err),
		)
	}
}

// Activate marks an enrollment active and raises StudentEnrolledInClass.
// Activating an already active enrollment re-raises the event, which backfills
// any assignment rows the student is missing.
func (s *EnrollmentService) Activate(ctx context.Context, id string) (*models.ClassEnrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOrInternal(err, "enrollment not found", "failed to load enrollment")
	}
	student, err := s.loadStudent(ctx, enrollment.StudentID)
	if err != nil {
		return nil, err
	}
	class, err := s.classes.FindByID(ctx, enrollment.ClassID)
	if err != nil {
		return nil, notFoundOrInternal(err, "class not found", "failed to load class")
	}

	if enrollment.Status != models.EnrollmentStatusActive {
		if err := s.repo.UpdateStatus(ctx, id, models.EnrollmentStatusActive); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment status")
		}
		enrollment.Status = models.EnrollmentStatusActive
	}
	if err := s.publishEnrolled(ctx, *student, *class); err != nil {
		return nil, err
	}
	return enrollment, nil
}

// Deactivate marks an enrollment inactive. Student assignments already
// created are kept.
func (s *EnrollmentService) Deactivate(ctx context.Context, id string) (*models.ClassEnrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOrInternal(err, "enrollment not found", "failed to load enrollment")
	}
	if enrollment.Status == models.EnrollmentStatusInactive {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment already inactive")
	}
	if err := s.repo.UpdateStatus(ctx, id, models.EnrollmentStatusInactive); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment status")
	}
	enrollment.Status = models.EnrollmentStatusInactive
	return enrollment, nil
}

func (s *EnrollmentService) loadStudent(ctx context.Context, id string) (*models.User, error) {
	student, err := s.students.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOrInternal(err, "student not found", "failed to load student")
	}
	if student.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "user is not a student")
	}
	return student, nil
}

func (s *EnrollmentService) publishEnrolled(ctx context.Context, student models.User, class models.Class) error {
	if err := s.publisher.Publish(ctx, events.NewStudentEnrolledInClass(ctx, student, class)); err != nil {
		s.logger.Error("student enrollment propagation failed",
			zap.String("student_id", student.ID),
			zap.String("class_id", class.ID),
			zap.Error(err),
		)
		return appErrors.FromError(err)
	}
	return nil
}
