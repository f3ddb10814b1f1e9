package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-api/internal/models"
)

// TestRepository reads teacher-authored tests.
type TestRepository struct {
	db *sqlx.DB
}

// NewTestRepository constructs the repository.
func NewTestRepository(db *sqlx.DB) *TestRepository {
	return &TestRepository{db: db}
}

// FindByID returns a test by id.
func (r *TestRepository) FindByID(ctx context.Context, id string) (*models.Test, error) {
	const query = `SELECT id, type, title, is_published, class_id, creator_id, created_at, updated_at FROM tests WHERE id = $1`
	var test models.Test
	if err := r.db.GetContext(ctx, &test, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find test: %w", err)
	}
	return &test, nil
}

// AttachToClass sets class_id when the test is unattached or already attached to
// the same class. It returns false when the test belongs to another class.
func (r *TestRepository) AttachToClass(ctx context.Context, id, classID string) (bool, error) {
	const query = `UPDATE tests SET class_id = $2, updated_at = $3 WHERE id = $1 AND (class_id IS NULL OR class_id = $2)`
	res, err := r.db.ExecContext(ctx, query, id, classID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("attach test to class: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("attach test rows affected: %w", err)
	}
	return affected > 0, nil
}
