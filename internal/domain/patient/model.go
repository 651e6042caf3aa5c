package patient

import (
	"time"

	"github.com/google/uuid"
)

// Valid patient statuses. Patients are never hard-deleted; discharge or
// deactivation flips the status instead.
const (
	StatusActive     = "active"
	StatusDischarged = "discharged"
	StatusInactive   = "inactive"
)

// Patient maps to the patient table.
type Patient struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	FirstName   string     `db:"first_name" json:"first_name"`
	LastName    string     `db:"last_name" json:"last_name"`
	Email       *string    `db:"email" json:"email,omitempty"`
	Phone       *string    `db:"phone" json:"phone,omitempty"`
	SurgeryDate time.Time  `db:"surgery_date" json:"surgery_date"`
	SurgeryType string     `db:"surgery_type" json:"surgery_type"`
	Status      string     `db:"status" json:"status"`
	ProviderID  *uuid.UUID `db:"provider_id" json:"provider_id,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// RecoveryDayAt returns the patient's recovery day at the given reference
// time.
func (p *Patient) RecoveryDayAt(ref time.Time) (int, error) {
	return RecoveryDay(p.SurgeryDate, ref)
}
