package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/database"
)

const assignmentColumns = `id, class_id, test_id, title, description, type, source_type, source_id, auto_created_at,
        is_published, due_date, assignment_settings, created_at, updated_at`

// AssignmentRepository persists class assignments.
type AssignmentRepository struct {
	db *sqlx.DB
}

// NewAssignmentRepository constructs the repository.
func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// CreateAutoIfAbsent inserts an auto_test assignment unless one already exists
// for the same (test_id, class_id). It reports whether a row was written.
func (r *AssignmentRepository) CreateAutoIfAbsent(ctx context.Context, assignment *models.Assignment) (bool, error) {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if assignment.CreatedAt.IsZero() {
		assignment.CreatedAt = now
	}
	if assignment.UpdatedAt.IsZero() {
		assignment.UpdatedAt = now
	}
	assignment.SourceType = models.AssignmentSourceAutoTest

	const query = `INSERT INTO assignments (` + assignmentColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (test_id, class_id) WHERE source_type = 'auto_test' DO NOTHING RETURNING id`

	var insertedID string
	err := r.db.QueryRowxContext(ctx, query,
		assignment.ID, assignment.ClassID, assignment.TestID, assignment.Title, assignment.Description,
		assignment.Type, assignment.SourceType, assignment.SourceID, assignment.AutoCreatedAt,
		assignment.IsPublished, assignment.DueDate, assignment.Settings, assignment.CreatedAt, assignment.UpdatedAt,
	).Scan(&insertedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || database.IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("create auto assignment: %w", err)
	}
	return true, nil
}

// FindAutoByTestAndClass returns the auto_test assignment for a (test, class) pair.
func (r *AssignmentRepository) FindAutoByTestAndClass(ctx context.Context, testID, classID string) (*models.Assignment, error) {
	const query = `SELECT ` + assignmentColumns + ` FROM assignments
WHERE test_id = $1 AND class_id = $2 AND source_type = $3 LIMIT 1`
	var assignment models.Assignment
	if err := r.db.GetContext(ctx, &assignment, query, testID, classID, models.AssignmentSourceAutoTest); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find auto assignment: %w", err)
	}
	return &assignment, nil
}

// FindByID returns an assignment by id.
func (r *AssignmentRepository) FindByID(ctx context.Context, id string) (*models.Assignment, error) {
	const query = `SELECT ` + assignmentColumns + ` FROM assignments WHERE id = $1`
	var assignment models.Assignment
	if err := r.db.GetContext(ctx, &assignment, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find assignment: %w", err)
	}
	return &assignment, nil
}

// ListByClass returns a class's assignments, newest first.
func (r *AssignmentRepository) ListByClass(ctx context.Context, filter models.AssignmentFilter) ([]models.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE class_id = $1`
	if filter.PublishedOnly {
		query += ` AND is_published = TRUE`
	}
	query += ` ORDER BY created_at DESC, id`

	var assignments []models.Assignment
	if err := r.db.SelectContext(ctx, &assignments, query, filter.ClassID); err != nil {
		return nil, fmt.Errorf("list class assignments: %w", err)
	}
	return assignments, nil
}
