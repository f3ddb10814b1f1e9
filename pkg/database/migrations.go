package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Migration is one forward-only schema change embedded in the binary.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
}

const migrationsTable = "schema_migrations"

const migration001ReferenceTables = `
CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY,
    full_name VARCHAR(255) NOT NULL,
    email VARCHAR(255) NOT NULL UNIQUE,
    role VARCHAR(20) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS classes (
    id UUID PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    teacher_id UUID REFERENCES users(id),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS tests (
    id UUID PRIMARY KEY,
    type VARCHAR(30) NOT NULL,
    title VARCHAR(255) NOT NULL,
    is_published BOOLEAN NOT NULL DEFAULT FALSE,
    class_id UUID REFERENCES classes(id),
    creator_id UUID NOT NULL REFERENCES users(id),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS class_enrollments (
    id UUID PRIMARY KEY,
    class_id UUID NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
    student_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    status VARCHAR(20) NOT NULL DEFAULT 'active',
    enrolled_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT class_enrollments_status_check CHECK (status IN ('active', 'inactive', 'pending')),
    UNIQUE (class_id, student_id)
);

CREATE INDEX IF NOT EXISTS idx_class_enrollments_class_status ON class_enrollments(class_id, status);
`

const migration002Assignments = `
CREATE TABLE IF NOT EXISTS assignments (
    id UUID PRIMARY KEY,
    class_id UUID NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
    test_id UUID REFERENCES tests(id) ON DELETE SET NULL,
    title VARCHAR(255) NOT NULL,
    description TEXT,
    type VARCHAR(30) NOT NULL DEFAULT 'general_task',
    source_type VARCHAR(20) NOT NULL DEFAULT 'manual',
    source_id UUID,
    auto_created_at TIMESTAMPTZ,
    is_published BOOLEAN NOT NULL DEFAULT TRUE,
    due_date TIMESTAMPTZ,
    assignment_settings JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT assignments_type_check CHECK (type IN ('reading_task', 'writing_task', 'listening_task', 'speaking_task', 'general_task')),
    CONSTRAINT assignments_source_type_check CHECK (source_type IN ('auto_test', 'manual'))
);

CREATE INDEX IF NOT EXISTS idx_assignments_test_class ON assignments(test_id, class_id);
CREATE INDEX IF NOT EXISTS idx_assignments_class_type ON assignments(class_id, type);
CREATE UNIQUE INDEX IF NOT EXISTS uq_assignments_auto_test_class
    ON assignments(test_id, class_id) WHERE source_type = 'auto_test';
`

const migration003StudentAssignments = `
CREATE TABLE IF NOT EXISTS student_assignments (
    id UUID PRIMARY KEY,
    assignment_id UUID NOT NULL REFERENCES assignments(id) ON DELETE CASCADE,
    student_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    assignment_type VARCHAR(30) NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'not_started',
    attempt_number INTEGER NOT NULL DEFAULT 1,
    attempt_count INTEGER NOT NULL DEFAULT 0,
    time_spent_minutes INTEGER NOT NULL DEFAULT 0,
    assigned_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT student_assignments_status_check CHECK (status IN ('not_started', 'in_progress', 'submitted', 'reviewed', 'done')),
    CONSTRAINT uq_student_assignments_assignment_student UNIQUE (assignment_id, student_id)
);

CREATE INDEX IF NOT EXISTS idx_student_assignments_student ON student_assignments(student_id, status);
`

// Migrations returns the embedded schema history in apply order.
func Migrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_reference_tables", UpSQL: migration001ReferenceTables},
		{Version: 2, Name: "create_assignments", UpSQL: migration002Assignments},
		{Version: 3, Name: "create_student_assignments", UpSQL: migration003StudentAssignments},
	}
}

// Migrator applies embedded migrations and records them in schema_migrations.
type Migrator struct {
	db         *sqlx.DB
	migrations []Migration
}

// NewMigrator constructs a migrator for the given migrations (defaults to Migrations()).
func NewMigrator(db *sqlx.DB, migrations ...Migration) *Migrator {
	if len(migrations) == 0 {
		migrations = Migrations()
	}
	return &Migrator{db: db, migrations: migrations}
}

// Migrate applies every pending migration, each inside its own transaction.
// It returns the versions that were applied.
func (m *Migrator) Migrate(ctx context.Context) ([]int, error) {
	const ensure = `CREATE TABLE IF NOT EXISTS ` + migrationsTable + ` (
    version INTEGER PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := m.db.ExecContext(ctx, ensure); err != nil {
		return nil, fmt.Errorf("ensure migrations table: %w", err)
	}

	var versions []int
	if err := m.db.SelectContext(ctx, &versions, `SELECT version FROM `+migrationsTable+` ORDER BY version`); err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	applied := make(map[int]struct{}, len(versions))
	for _, v := range versions {
		applied[v] = struct{}{}
	}

	var done []int
	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			return done, err
		}
		done = append(done, mig.Version)
	}
	return done, nil
}

func (m *Migrator) apply(ctx context.Context, mig Migration) (err error) {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", mig.Version, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, mig.UpSQL); err != nil {
		return fmt.Errorf("apply migration %d (%s): %w", mig.Version, mig.Name, err)
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO `+migrationsTable+` (version, name) VALUES ($1, $2)`, mig.Version, mig.Name); err != nil {
		return fmt.Errorf("record migration %d: %w", mig.Version, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", mig.Version, err)
	}
	return nil
}
