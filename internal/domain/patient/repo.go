package patient

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	SetStatus(ctx context.Context, id uuid.UUID, status string) error
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
	ListByProvider(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]*Patient, int, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error)
}
