package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
)

func newAssignmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func autoAssignmentFixture() *models.Assignment {
	testID := "test-1"
	now := time.Now().UTC()
	return &models.Assignment{
		ClassID:       "class-1",
		TestID:        &testID,
		SourceID:      &testID,
		Title:         "Reading 1",
		Type:          models.AssignmentTypeReading,
		AutoCreatedAt: &now,
		IsPublished:   true,
		Settings:      models.AssignmentSettings{"shuffle": true},
	}
}

func anyArgs(n int) []driver.Value {
	args := make([]driver.Value, n)
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	return args
}

func TestAssignmentRepositoryCreateAutoIfAbsentInserts(t *testing.T) {
	db, mock, cleanup := newAssignmentRepoMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO assignments") + "(?s).*" + regexp.QuoteMeta("ON CONFLICT (test_id, class_id) WHERE source_type = 'auto_test' DO NOTHING RETURNING id")).
		WithArgs(anyArgs(14)...).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("asg-1"))

	assignment := autoAssignmentFixture()
	created, err := repo.CreateAutoIfAbsent(context.Background(), assignment)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, assignment.ID)
	assert.Equal(t, models.AssignmentSourceAutoTest, assignment.SourceType)
	assert.False(t, assignment.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignmentRepositoryCreateAutoIfAbsentConflict(t *testing.T) {
	db, mock, cleanup := newAssignmentRepoMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO assignments")).
		WithArgs(anyArgs(14)...).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	created, err := repo.CreateAutoIfAbsent(context.Background(), autoAssignmentFixture())
	require.NoError(t, err)
	assert.False(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignmentRepositoryCreateAutoIfAbsentUniqueViolation(t *testing.T) {
	db, mock, cleanup := newAssignmentRepoMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO assignments")).
		WithArgs(anyArgs(14)...).
		WillReturnError(&pq.Error{Code: "23505"})

	created, err := repo.CreateAutoIfAbsent(context.Background(), autoAssignmentFixture())
	require.NoError(t, err)
	assert.False(t, created)
}

func TestAssignmentRepositoryCreateAutoIfAbsentForeignKeyError(t *testing.T) {
	db, mock, cleanup := newAssignmentRepoMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)

	fk := &pq.Error{Code: "23503"}
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO assignments")).
		WithArgs(anyArgs(14)...).
		WillReturnError(fk)

	created, err := repo.CreateAutoIfAbsent(context.Background(), autoAssignmentFixture())
	require.Error(t, err)
	assert.False(t, created)
	assert.True(t, errors.Is(err, fk))
}

func TestAssignmentRepositoryFindAutoByTestAndClass(t *testing.T) {
	db, mock, cleanup := newAssignmentRepoMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "class_id", "test_id", "title", "description", "type", "source_type", "source_id",
		"auto_created_at", "is_published", "due_date", "assignment_settings", "created_at", "updated_at"}).
		AddRow("asg-1", "class-1", "test-1", "Reading 1", nil, "reading_task", "auto_test", "test-1",
			now, true, nil, []byte(`{"shuffle":true}`), now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM assignments") + "\\s+" + regexp.QuoteMeta("WHERE test_id = $1 AND class_id = $2 AND source_type = $3")).
		WithArgs("test-1", "class-1", models.AssignmentSourceAutoTest).
		WillReturnRows(rows)

	assignment, err := repo.FindAutoByTestAndClass(context.Background(), "test-1", "class-1")
	require.NoError(t, err)
	assert.Equal(t, "asg-1", assignment.ID)
	assert.Equal(t, models.AssignmentTypeReading, assignment.Type)
	assert.Equal(t, true, assignment.Settings["shuffle"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignmentRepositoryFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newAssignmentRepoMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM assignments WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestAssignmentRepositoryListByClassPublishedOnly(t *testing.T) {
	db, mock, cleanup := newAssignmentRepoMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "class_id", "test_id", "title", "description", "type", "source_type", "source_id",
		"auto_created_at", "is_published", "due_date", "assignment_settings", "created_at", "updated_at"}).
		AddRow("asg-1", "class-1", nil, "Essay", nil, "writing_task", "manual", nil, nil, true, nil, []byte(`{}`), now, now)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE class_id = $1 AND is_published = TRUE ORDER BY created_at DESC")).
		WithArgs("class-1").
		WillReturnRows(rows)

	assignments, err := repo.ListByClass(context.Background(), models.AssignmentFilter{ClassID: "class-1", PublishedOnly: true})
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Nil(t, assignments[0].TestID)
	require.NoError(t, mock.ExpectationsWereMet())
}
