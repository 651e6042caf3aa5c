package task

import (
	"time"

	"github.com/google/uuid"
)

// Patient task statuses.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusSkipped    = "skipped"
	StatusOverdue    = "overdue"
)

// Task categories.
const (
	CategoryExercise = "exercise"
	CategoryForm     = "form"
	CategoryVideo    = "video"
	CategoryCheckIn  = "check_in"
)

// TaskTemplate maps to the task_template table. Templates are keyed by
// surgery type and a recovery day offset; patient tasks are stamped out from
// them when a patient is enrolled.
type TaskTemplate struct {
	ID          uuid.UUID `db:"id" json:"id"`
	SurgeryType string    `db:"surgery_type" json:"surgery_type"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description,omitempty"`
	Category    string    `db:"category" json:"category"`
	DayOffset   int       `db:"day_offset" json:"day_offset"`
	Required    bool      `db:"required" json:"required"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// PatientTask maps to the patient_task table. StatusChangedAt is the
// last-write-wins timestamp used to reconcile offline client updates.
type PatientTask struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	PatientID       uuid.UUID  `db:"patient_id" json:"patient_id"`
	TemplateID      *uuid.UUID `db:"template_id" json:"template_id,omitempty"`
	Title           string     `db:"title" json:"title"`
	Description     string     `db:"description" json:"description,omitempty"`
	Category        string     `db:"category" json:"category"`
	ScheduledDay    int        `db:"scheduled_day" json:"scheduled_day"`
	Status          string     `db:"status" json:"status"`
	StatusChangedAt time.Time  `db:"status_changed_at" json:"status_changed_at"`
	CompletedAt     *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Terminal reports whether no further transition may leave the status.
func Terminal(status string) bool {
	return status == StatusCompleted || status == StatusSkipped
}

// CanTransition is the task state machine. Completed and skipped are
// terminal; an overdue task can still be finished or skipped.
func CanTransition(from, to string) bool {
	if from == to {
		return false
	}
	switch from {
	case StatusPending:
		return to == StatusInProgress || to == StatusCompleted ||
			to == StatusSkipped || to == StatusOverdue
	case StatusInProgress:
		return to == StatusCompleted || to == StatusSkipped || to == StatusOverdue
	case StatusOverdue:
		return to == StatusCompleted || to == StatusSkipped
	}
	return false
}

func validStatus(s string) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusSkipped, StatusOverdue:
		return true
	}
	return false
}

func validCategory(s string) bool {
	switch s {
	case CategoryExercise, CategoryForm, CategoryVideo, CategoryCheckIn:
		return true
	}
	return false
}
