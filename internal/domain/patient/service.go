package patient

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/recoverly/recoverly/internal/platform/apperr"
)

type Service struct {
	patients Repository
	now      func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{patients: repo, now: time.Now}
}

var validStatuses = map[string]bool{
	StatusActive: true, StatusDischarged: true, StatusInactive: true,
}

func (s *Service) Create(ctx context.Context, p *Patient) error {
	if p.FirstName == "" || p.LastName == "" {
		return apperr.Validation("first_name and last_name are required")
	}
	if p.SurgeryDate.IsZero() {
		return apperr.Validation("surgery_date is required")
	}
	if p.SurgeryType == "" {
		return apperr.Validation("surgery_type is required")
	}
	if p.Status == "" {
		p.Status = StatusActive
	}
	if !validStatuses[p.Status] {
		return apperr.Validation("invalid status %q", p.Status)
	}
	return s.patients.Create(ctx, p)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

// Update modifies patient demographics and surgery details. The surgery date
// is provider-mutable; status changes go through SetStatus.
func (s *Service) Update(ctx context.Context, p *Patient) error {
	if p.SurgeryDate.IsZero() {
		return apperr.Validation("surgery_date is required")
	}
	if p.SurgeryType == "" {
		return apperr.Validation("surgery_type is required")
	}
	return s.patients.Update(ctx, p)
}

// SetStatus soft-deletes or reactivates a patient. There is no hard delete.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	if !validStatuses[status] {
		return apperr.Validation("invalid status %q", status)
	}
	return s.patients.SetStatus(ctx, id, status)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, limit, offset)
}

func (s *Service) ListByProvider(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]*Patient, int, error) {
	return s.patients.ListByProvider(ctx, providerID, limit, offset)
}

func (s *Service) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	return s.patients.Search(ctx, params, limit, offset)
}

// CurrentRecoveryDay returns the patient's recovery day as of now.
func (s *Service) CurrentRecoveryDay(ctx context.Context, id uuid.UUID) (int, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	return RecoveryDay(p.SurgeryDate, s.now())
}
