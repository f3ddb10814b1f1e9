package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// AssignmentType tags the kind of work an assignment represents.
type AssignmentType string

const (
	AssignmentTypeReading   AssignmentType = "reading_task"
	AssignmentTypeWriting   AssignmentType = "writing_task"
	AssignmentTypeListening AssignmentType = "listening_task"
	AssignmentTypeSpeaking  AssignmentType = "speaking_task"
	AssignmentTypeGeneral   AssignmentType = "general_task"
)

// AssignmentSourceType records how an assignment came to exist.
type AssignmentSourceType string

const (
	AssignmentSourceAutoTest AssignmentSourceType = "auto_test"
	AssignmentSourceManual   AssignmentSourceType = "manual"
)

var assignmentTypeByTestType = map[TestType]AssignmentType{
	TestTypeReading:   AssignmentTypeReading,
	TestTypeWriting:   AssignmentTypeWriting,
	TestTypeListening: AssignmentTypeListening,
	TestTypeSpeaking:  AssignmentTypeSpeaking,
}

// AssignmentTypeForTest maps a test type to the assignment type it produces.
// Unknown test types fall back to AssignmentTypeGeneral.
func AssignmentTypeForTest(t TestType) AssignmentType {
	if at, ok := assignmentTypeByTestType[t]; ok {
		return at
	}
	return AssignmentTypeGeneral
}

// AssignmentSettings is an opaque key/value bag persisted as JSONB.
type AssignmentSettings map[string]interface{}

// Value marshals settings to JSON for persistence.
func (s AssignmentSettings) Value() (driver.Value, error) {
	if s == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal assignment settings: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the settings map.
func (s *AssignmentSettings) Scan(value interface{}) error {
	if value == nil {
		*s = AssignmentSettings{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for AssignmentSettings", value)
	}
	if len(data) == 0 {
		*s = AssignmentSettings{}
		return nil
	}
	out := AssignmentSettings{}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("unmarshal assignment settings: %w", err)
	}
	*s = out
	return nil
}

// Assignment is a class-scoped unit of work, optionally created from a Test.
type Assignment struct {
	ID            string               `db:"id" json:"id"`
	ClassID       string               `db:"class_id" json:"class_id"`
	TestID        *string              `db:"test_id" json:"test_id,omitempty"`
	Title         string               `db:"title" json:"title"`
	Description   *string              `db:"description" json:"description,omitempty"`
	Type          AssignmentType       `db:"type" json:"type"`
	SourceType    AssignmentSourceType `db:"source_type" json:"source_type"`
	SourceID      *string              `db:"source_id" json:"source_id,omitempty"`
	AutoCreatedAt *time.Time           `db:"auto_created_at" json:"auto_created_at,omitempty"`
	IsPublished   bool                 `db:"is_published" json:"is_published"`
	DueDate       *time.Time           `db:"due_date" json:"due_date,omitempty"`
	Settings      AssignmentSettings   `db:"assignment_settings" json:"assignment_settings"`
	CreatedAt     time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time            `db:"updated_at" json:"updated_at"`
}

// AssignmentOptions are caller overrides applied when an assignment is built from a test.
type AssignmentOptions struct {
	Title       *string            `json:"title,omitempty"`
	Description *string            `json:"description,omitempty"`
	DueDate     *time.Time         `json:"due_date,omitempty"`
	IsPublished *bool              `json:"is_published,omitempty"`
	Settings    AssignmentSettings `json:"settings,omitempty"`
}

// AssignmentFilter narrows class assignment listings.
type AssignmentFilter struct {
	ClassID       string
	PublishedOnly bool
}
