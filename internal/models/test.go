package models

import "time"

// TestType identifies the English skill a test practises.
type TestType string

// Known test types. Any other value is accepted and maps to a general task.
const (
	TestTypeReading   TestType = "reading"
	TestTypeWriting   TestType = "writing"
	TestTypeListening TestType = "listening"
	TestTypeSpeaking  TestType = "speaking"
)

// Test is a teacher-authored assessment that can be attached to a class.
type Test struct {
	ID          string    `db:"id" json:"id"`
	Type        TestType  `db:"type" json:"type"`
	Title       string    `db:"title" json:"title"`
	IsPublished bool      `db:"is_published" json:"is_published"`
	ClassID     *string   `db:"class_id" json:"class_id,omitempty"`
	CreatorID   string    `db:"creator_id" json:"creator_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// CanBeAutoAssigned reports whether the test is published and attached to a class.
func (t Test) CanBeAutoAssigned() bool {
	return t.IsPublished && t.ClassID != nil && *t.ClassID != ""
}

// AssignmentType returns the assignment type produced when this test is assigned.
func (t Test) AssignmentType() AssignmentType {
	return AssignmentTypeForTest(t.Type)
}
