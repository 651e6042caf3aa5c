package alert

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *Alert) error
	GetByID(ctx context.Context, id uuid.UUID) (*Alert, error)
	// Acknowledge moves an open alert to acknowledged. Acknowledging an
	// already-acknowledged alert is a no-op.
	Acknowledge(ctx context.Context, id uuid.UUID, userID string) (*Alert, error)
	Resolve(ctx context.Context, id uuid.UUID) (*Alert, error)
	List(ctx context.Context, status string, severity string, limit, offset int) ([]*Alert, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Alert, int, error)
}
