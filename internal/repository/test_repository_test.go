package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
)

func newTestRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestTestRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newTestRepoMock(t)
	defer cleanup()
	repo := NewTestRepository(db)

	rows := sqlmock.NewRows([]string{"id", "type", "title", "is_published", "class_id", "creator_id", "created_at", "updated_at"}).
		AddRow("test-1", "speaking", "Speaking 1", true, nil, "teacher-1", time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM tests WHERE id = $1")).
		WithArgs("test-1").
		WillReturnRows(rows)

	test, err := repo.FindByID(context.Background(), "test-1")
	require.NoError(t, err)
	assert.Equal(t, models.TestTypeSpeaking, test.Type)
	assert.Nil(t, test.ClassID)
	assert.False(t, test.CanBeAutoAssigned())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTestRepositoryAttachToClass(t *testing.T) {
	db, mock, cleanup := newTestRepoMock(t)
	defer cleanup()
	repo := NewTestRepository(db)

	query := regexp.QuoteMeta("UPDATE tests SET class_id = $2, updated_at = $3 WHERE id = $1 AND (class_id IS NULL OR class_id = $2)")
	mock.ExpectExec(query).
		WithArgs("test-1", "class-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).
		WithArgs("test-1", "class-2", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	attached, err := repo.AttachToClass(context.Background(), "test-1", "class-1")
	require.NoError(t, err)
	assert.True(t, attached)

	attached, err = repo.AttachToClass(context.Background(), "test-1", "class-2")
	require.NoError(t, err)
	assert.False(t, attached)
	require.NoError(t, mock.ExpectationsWereMet())
}
