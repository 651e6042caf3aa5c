package patient

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/recoverly/recoverly/internal/platform/apperr"
)

// ---------- Fake repository ----------

type fakeRepo struct {
	byID map[uuid.UUID]*Patient
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byID: make(map[uuid.UUID]*Patient)}
}

func (r *fakeRepo) Create(_ context.Context, p *Patient) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now().UTC()
	r.byID[p.ID] = p
	return nil
}

func (r *fakeRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := r.byID[id]
	if !ok {
		return nil, apperr.NotFound("patient", id.String())
	}
	return p, nil
}

func (r *fakeRepo) Update(_ context.Context, p *Patient) error {
	if _, ok := r.byID[p.ID]; !ok {
		return apperr.NotFound("patient", p.ID.String())
	}
	r.byID[p.ID] = p
	return nil
}

func (r *fakeRepo) SetStatus(_ context.Context, id uuid.UUID, status string) error {
	p, ok := r.byID[id]
	if !ok {
		return apperr.NotFound("patient", id.String())
	}
	p.Status = status
	return nil
}

func (r *fakeRepo) List(_ context.Context, limit, offset int) ([]*Patient, int, error) {
	var items []*Patient
	for _, p := range r.byID {
		items = append(items, p)
	}
	return items, len(items), nil
}

func (r *fakeRepo) ListByProvider(_ context.Context, providerID uuid.UUID, limit, offset int) ([]*Patient, int, error) {
	var items []*Patient
	for _, p := range r.byID {
		if p.ProviderID != nil && *p.ProviderID == providerID {
			items = append(items, p)
		}
	}
	return items, len(items), nil
}

func (r *fakeRepo) Search(_ context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	return r.List(nil, limit, offset)
}

// ---------- Service Tests ----------

func TestPatientService_Create(t *testing.T) {
	svc := NewService(newFakeRepo())

	p := &Patient{
		FirstName:   "Ana",
		LastName:    "Reyes",
		SurgeryDate: date(2024, 3, 10),
		SurgeryType: "hip_replacement",
	}
	if err := svc.Create(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Status != StatusActive {
		t.Errorf("expected default status %q, got %q", StatusActive, p.Status)
	}
	if p.ID == uuid.Nil {
		t.Error("expected an assigned id")
	}
}

func TestPatientService_Create_Validation(t *testing.T) {
	svc := NewService(newFakeRepo())

	cases := []struct {
		name string
		p    Patient
	}{
		{"missing name", Patient{SurgeryDate: date(2024, 3, 10), SurgeryType: "acl_repair"}},
		{"missing surgery date", Patient{FirstName: "A", LastName: "B", SurgeryType: "acl_repair"}},
		{"missing surgery type", Patient{FirstName: "A", LastName: "B", SurgeryDate: date(2024, 3, 10)}},
		{"bad status", Patient{FirstName: "A", LastName: "B", SurgeryDate: date(2024, 3, 10), SurgeryType: "acl_repair", Status: "paused"}},
	}
	for _, tc := range cases {
		p := tc.p
		if err := svc.Create(context.Background(), &p); !apperr.IsValidation(err) {
			t.Errorf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestPatientService_SetStatus(t *testing.T) {
	svc := NewService(newFakeRepo())
	ctx := context.Background()

	p := &Patient{FirstName: "A", LastName: "B", SurgeryDate: date(2024, 3, 10), SurgeryType: "acl_repair"}
	if err := svc.Create(ctx, p); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := svc.SetStatus(ctx, p.ID, StatusDischarged); err != nil {
		t.Fatalf("discharge failed: %v", err)
	}
	if err := svc.SetStatus(ctx, p.ID, "deleted"); !apperr.IsValidation(err) {
		t.Errorf("expected validation error for unknown status, got %v", err)
	}
}

func TestPatientService_CurrentRecoveryDay(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	svc.now = func() time.Time { return date(2024, 3, 17) }
	ctx := context.Background()

	p := &Patient{FirstName: "A", LastName: "B", SurgeryDate: date(2024, 3, 10), SurgeryType: "acl_repair"}
	if err := svc.Create(ctx, p); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	day, err := svc.CurrentRecoveryDay(ctx, p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if day != 7 {
		t.Errorf("got day %d, want 7", day)
	}

	if _, err := svc.CurrentRecoveryDay(ctx, uuid.New()); !apperr.IsNotFound(err) {
		t.Errorf("expected not found for unknown patient, got %v", err)
	}
}
