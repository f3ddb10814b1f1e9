package models

import "time"

// StudentAssignmentStatus tracks a student's progress on an assignment.
type StudentAssignmentStatus string

const (
	StudentAssignmentNotStarted StudentAssignmentStatus = "not_started"
	StudentAssignmentInProgress StudentAssignmentStatus = "in_progress"
	StudentAssignmentSubmitted  StudentAssignmentStatus = "submitted"
	StudentAssignmentReviewed   StudentAssignmentStatus = "reviewed"
	StudentAssignmentDone       StudentAssignmentStatus = "done"
)

// Valid reports whether s is a known status.
func (s StudentAssignmentStatus) Valid() bool {
	switch s {
	case StudentAssignmentNotStarted, StudentAssignmentInProgress, StudentAssignmentSubmitted,
		StudentAssignmentReviewed, StudentAssignmentDone:
		return true
	}
	return false
}

// StudentAssignment is the per-student materialization of an Assignment.
type StudentAssignment struct {
	ID               string                  `db:"id" json:"id"`
	AssignmentID     string                  `db:"assignment_id" json:"assignment_id"`
	StudentID        string                  `db:"student_id" json:"student_id"`
	AssignmentType   AssignmentType          `db:"assignment_type" json:"assignment_type"`
	Status           StudentAssignmentStatus `db:"status" json:"status"`
	AttemptNumber    int                     `db:"attempt_number" json:"attempt_number"`
	AttemptCount     int                     `db:"attempt_count" json:"attempt_count"`
	TimeSpentMinutes int                     `db:"time_spent_minutes" json:"time_spent_minutes"`
	AssignedAt       time.Time               `db:"assigned_at" json:"assigned_at"`
	CreatedAt        time.Time               `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time               `db:"updated_at" json:"updated_at"`
}

// NewStudentAssignment returns the initial row for a student, with the type copied from the assignment.
func NewStudentAssignment(assignment *Assignment, studentID string, now time.Time) StudentAssignment {
	return StudentAssignment{
		AssignmentID:     assignment.ID,
		StudentID:        studentID,
		AssignmentType:   assignment.Type,
		Status:           StudentAssignmentNotStarted,
		AttemptNumber:    1,
		AttemptCount:     0,
		TimeSpentMinutes: 0,
		AssignedAt:       now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// StudentAssignmentDetail adds assignment context for student-facing listings.
type StudentAssignmentDetail struct {
	StudentAssignment
	ClassID         string     `db:"class_id" json:"class_id"`
	AssignmentTitle string     `db:"assignment_title" json:"assignment_title"`
	DueDate         *time.Time `db:"due_date" json:"due_date,omitempty"`
}

// RosterEntry is one student's row on an assignment roster.
type RosterEntry struct {
	StudentAssignment
	StudentName string `db:"student_name" json:"student_name"`
}

// StudentAssignmentFilter narrows a student's assignment listing.
type StudentAssignmentFilter struct {
	StudentID string
	Status    StudentAssignmentStatus
	Page      int
	PageSize  int
}
