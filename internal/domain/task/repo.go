package task

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type TemplateRepository interface {
	Create(ctx context.Context, t *TaskTemplate) error
	GetByID(ctx context.Context, id uuid.UUID) (*TaskTemplate, error)
	ListBySurgeryType(ctx context.Context, surgeryType string) ([]*TaskTemplate, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type PatientTaskRepository interface {
	Create(ctx context.Context, t *PatientTask) error
	CreateBatch(ctx context.Context, tasks []*PatientTask) error
	GetByID(ctx context.Context, id uuid.UUID) (*PatientTask, error)
	// ListForDay returns the patient's tasks scheduled for the given
	// recovery day plus any earlier tasks still open.
	ListForDay(ctx context.Context, patientID uuid.UUID, day int) ([]*PatientTask, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, status string, limit, offset int) ([]*PatientTask, int, error)
	// SetStatus moves the task and stamps status_changed_at. When the
	// guard timestamp is non-zero the update applies only if the stored
	// status_changed_at is older, implementing last-write-wins.
	SetStatus(ctx context.Context, id uuid.UUID, status string, changedAt time.Time) (*PatientTask, error)
	// MarkOverdue flips open tasks scheduled before the given day to
	// overdue and returns the affected tasks.
	MarkOverdue(ctx context.Context, patientID uuid.UUID, beforeDay int) ([]*PatientTask, error)
	// PatientsWithOpenTasks lists patient ids that have at least one
	// pending or in-progress task, for the overdue sweep.
	PatientsWithOpenTasks(ctx context.Context) ([]uuid.UUID, error)
}
