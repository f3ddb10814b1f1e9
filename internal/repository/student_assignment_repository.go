package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/database"
)

// StudentAssignmentRepository persists per-student assignment rows.
type StudentAssignmentRepository struct {
	db *sqlx.DB
}

// NewStudentAssignmentRepository constructs the repository.
func NewStudentAssignmentRepository(db *sqlx.DB) *StudentAssignmentRepository {
	return &StudentAssignmentRepository{db: db}
}

// Ensure inserts the row unless (assignment_id, student_id) already exists.
// Existence check and insert are a single statement; a conflict is not an error.
func (r *StudentAssignmentRepository) Ensure(ctx context.Context, sa *models.StudentAssignment) (bool, error) {
	if sa.ID == "" {
		sa.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if sa.AssignedAt.IsZero() {
		sa.AssignedAt = now
	}
	if sa.CreatedAt.IsZero() {
		sa.CreatedAt = now
	}
	if sa.UpdatedAt.IsZero() {
		sa.UpdatedAt = now
	}
	if sa.Status == "" {
		sa.Status = models.StudentAssignmentNotStarted
	}
	if sa.AttemptNumber == 0 {
		sa.AttemptNumber = 1
	}

	const query = `INSERT INTO student_assignments (id, assignment_id, student_id, assignment_type, status,
        attempt_number, attempt_count, time_spent_minutes, assigned_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (assignment_id, student_id) DO NOTHING RETURNING id`

	var insertedID string
	err := r.db.QueryRowxContext(ctx, query,
		sa.ID, sa.AssignmentID, sa.StudentID, sa.AssignmentType, sa.Status,
		sa.AttemptNumber, sa.AttemptCount, sa.TimeSpentMinutes, sa.AssignedAt, sa.CreatedAt, sa.UpdatedAt,
	).Scan(&insertedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || database.IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("ensure student assignment: %w", err)
	}
	return true, nil
}

// ListByAssignment returns the roster for an assignment ordered by student name.
func (r *StudentAssignmentRepository) ListByAssignment(ctx context.Context, assignmentID string) ([]models.RosterEntry, error) {
	const query = `SELECT sa.id, sa.assignment_id, sa.student_id, sa.assignment_type, sa.status, sa.attempt_number,
        sa.attempt_count, sa.time_spent_minutes, sa.assigned_at, sa.created_at, sa.updated_at,
        COALESCE(u.full_name, '') AS student_name
        FROM student_assignments sa
        LEFT JOIN users u ON u.id = sa.student_id
        WHERE sa.assignment_id = $1
        ORDER BY student_name, sa.student_id`
	var roster []models.RosterEntry
	if err := r.db.SelectContext(ctx, &roster, query, assignmentID); err != nil {
		return nil, fmt.Errorf("list assignment roster: %w", err)
	}
	return roster, nil
}

// CountByAssignment returns how many students hold the assignment.
func (r *StudentAssignmentRepository) CountByAssignment(ctx context.Context, assignmentID string) (int, error) {
	const query = `SELECT COUNT(*) FROM student_assignments WHERE assignment_id = $1`
	var total int
	if err := r.db.GetContext(ctx, &total, query, assignmentID); err != nil {
		return 0, fmt.Errorf("count student assignments: %w", err)
	}
	return total, nil
}

// ListByStudent returns a student's assignments with pagination.
func (r *StudentAssignmentRepository) ListByStudent(ctx context.Context, filter models.StudentAssignmentFilter) ([]models.StudentAssignmentDetail, int, error) {
	base := `FROM student_assignments sa
JOIN assignments a ON a.id = sa.assignment_id`
	conditions := []string{"sa.student_id = $1"}
	args := []interface{}{filter.StudentID}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("sa.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	clause := " WHERE " + strings.Join(conditions, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT sa.id, sa.assignment_id, sa.student_id, sa.assignment_type, sa.status, sa.attempt_number,
        sa.attempt_count, sa.time_spent_minutes, sa.assigned_at, sa.created_at, sa.updated_at,
        a.class_id, a.title AS assignment_title, a.due_date
        %s ORDER BY sa.assigned_at DESC, sa.id LIMIT %d OFFSET %d`, base+clause, size, offset)

	var items []models.StudentAssignmentDetail
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list student assignments: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count student assignments: %w", err)
	}
	return items, total, nil
}
