package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/events"
	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

// EventPublisher dispatches domain events to listeners.
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
	Async() bool
}

type testStore interface {
	FindByID(ctx context.Context, id string) (*models.Test, error)
	AttachToClass(ctx context.Context, id, classID string) (bool, error)
}

type classReader interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
}

type assignmentReader interface {
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
	FindAutoByTestAndClass(ctx context.Context, testID, classID string) (*models.Assignment, error)
	ListByClass(ctx context.Context, filter models.AssignmentFilter) ([]models.Assignment, error)
}

type studentAssignmentReader interface {
	ListByAssignment(ctx context.Context, assignmentID string) ([]models.RosterEntry, error)
	ListByStudent(ctx context.Context, filter models.StudentAssignmentFilter) ([]models.StudentAssignmentDetail, int, error)
	CountByAssignment(ctx context.Context, assignmentID string) (int, error)
}

// AssignTestRequest carries the optional overrides for a test assignment.
type AssignTestRequest struct {
	Title       *string                `json:"title" validate:"omitempty,min=1,max=255"`
	Description *string                `json:"description" validate:"omitempty,max=5000"`
	DueDate     *time.Time             `json:"due_date"`
	IsPublished *bool                  `json:"is_published"`
	Settings    map[string]interface{} `json:"settings"`
}

func (r AssignTestRequest) options() models.AssignmentOptions {
	opts := models.AssignmentOptions{
		Title:       r.Title,
		Description: r.Description,
		DueDate:     r.DueDate,
		IsPublished: r.IsPublished,
	}
	if r.Settings != nil {
		opts.Settings = models.AssignmentSettings(r.Settings)
	}
	return opts
}

// AssignTestResult reports the outcome of assigning a test to a class.
// When Queued is set the assignment is created asynchronously.
type AssignTestResult struct {
	Assignment   *models.Assignment `json:"assignment,omitempty"`
	StudentCount int                `json:"student_count"`
	Queued       bool               `json:"queued"`
}

type studentAssignmentPage struct {
	Items []models.StudentAssignmentDetail `json:"items"`
	Total int                              `json:"total"`
}

// AssignmentService exposes the teacher and student facing assignment workflows.
type AssignmentService struct {
	tests              testStore
	classes            classReader
	assignments        assignmentReader
	studentAssignments studentAssignmentReader
	publisher          EventPublisher
	cache              *CacheService
	validator          *validator.Validate
	logger             *zap.Logger
}

// NewAssignmentService constructs AssignmentService.
func NewAssignmentService(tests testStore, classes classReader, assignments assignmentReader, studentAssignments studentAssignmentReader, publisher EventPublisher, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *AssignmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignmentService{
		tests:              tests,
		classes:            classes,
		assignments:        assignments,
		studentAssignments: studentAssignments,
		publisher:          publisher,
		cache:              cache,
		validator:          validate,
		logger:             logger,
	}
}

// AssignTestToClass attaches a test to a class when needed and raises
// TestAssignedToClass. With a synchronous bus the resulting assignment is returned.
func (s *AssignmentService) AssignTestToClass(ctx context.Context, classID, testID string, req AssignTestRequest) (*AssignTestResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}
	class, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		return nil, notFoundOrInternal(err, "class not found", "failed to load class")
	}
	test, err := s.tests.FindByID(ctx, testID)
	if err != nil {
		return nil, notFoundOrInternal(err, "test not found", "failed to load test")
	}

	if !test.IsPublished {
		return nil, appErrors.Clone(appErrors.ErrAssignmentCreation, "test must be published before it can be assigned")
	}
	if test.ClassID != nil && *test.ClassID != classID {
		return nil, appErrors.Clone(appErrors.ErrConflict, "test already attached to another class")
	}
	if test.ClassID == nil {
		attached, err := s.tests.AttachToClass(ctx, test.ID, classID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to attach test")
		}
		if !attached {
			return nil, appErrors.Clone(appErrors.ErrConflict, "test already attached to another class")
		}
		test.ClassID = &classID
	}

	if err := s.publisher.Publish(ctx, events.NewTestAssignedToClass(ctx, *test, *class, req.options())); err != nil {
		return nil, appErrors.FromError(err)
	}
	if s.publisher.Async() {
		return &AssignTestResult{Queued: true}, nil
	}

	assignment, err := s.assignments.FindAutoByTestAndClass(ctx, test.ID, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	count, err := s.studentAssignments.CountByAssignment(ctx, assignment.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count student assignments")
	}
	return &AssignTestResult{Assignment: assignment, StudentCount: count}, nil
}

// ListClassAssignments returns a class's assignments, optionally published only.
func (s *AssignmentService) ListClassAssignments(ctx context.Context, classID string, publishedOnly bool) ([]models.Assignment, error) {
	key := classAssignmentsCacheKey(classID, publishedOnly)
	var cached []models.Assignment
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return cached, nil
	}

	if _, err := s.classes.FindByID(ctx, classID); err != nil {
		return nil, notFoundOrInternal(err, "class not found", "failed to load class")
	}
	assignments, err := s.assignments.ListByClass(ctx, models.AssignmentFilter{ClassID: classID, PublishedOnly: publishedOnly})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assignments")
	}
	if assignments == nil {
		assignments = []models.Assignment{}
	}
	_ = s.cache.Set(ctx, key, assignments, 0)
	return assignments, nil
}

// ListStudentAssignments returns a student's assignments with pagination metadata.
func (s *AssignmentService) ListStudentAssignments(ctx context.Context, filter models.StudentAssignmentFilter) ([]models.StudentAssignmentDetail, *models.Pagination, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid status filter")
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}

	key := studentAssignmentsCacheKey(filter)
	var page studentAssignmentPage
	if hit, _ := s.cache.Get(ctx, key, &page); !hit {
		items, total, err := s.studentAssignments.ListByStudent(ctx, filter)
		if err != nil {
			return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list student assignments")
		}
		if items == nil {
			items = []models.StudentAssignmentDetail{}
		}
		page = studentAssignmentPage{Items: items, Total: total}
		_ = s.cache.Set(ctx, key, page, 0)
	}
	return page.Items, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: page.Total}, nil
}

// ListAssignmentRoster returns the assignment and the students holding it.
func (s *AssignmentService) ListAssignmentRoster(ctx context.Context, assignmentID string) (*models.Assignment, []models.RosterEntry, error) {
	assignment, err := s.assignments.FindByID(ctx, assignmentID)
	if err != nil {
		return nil, nil, notFoundOrInternal(err, "assignment not found", "failed to load assignment")
	}
	roster, err := s.studentAssignments.ListByAssignment(ctx, assignmentID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	if roster == nil {
		roster = []models.RosterEntry{}
	}
	return assignment, roster, nil
}

func notFoundOrInternal(err error, notFound, internal string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, internal)
}
