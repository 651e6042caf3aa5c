package alert

import (
	"time"

	"github.com/google/uuid"
)

// Alert severities.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Alert statuses.
const (
	StatusOpen         = "open"
	StatusAcknowledged = "acknowledged"
	StatusResolved     = "resolved"
)

// Alert sources.
const (
	SourcePainReport = "pain_report"
	SourceResponder  = "responder"
	SourceManual     = "manual"
)

// Alert maps to the alert table. An alert is the durable record of an
// escalation; realtime delivery to providers rides on top of it.
type Alert struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	PatientID      uuid.UUID  `db:"patient_id" json:"patient_id"`
	ConversationID *uuid.UUID `db:"conversation_id" json:"conversation_id,omitempty"`
	Source         string     `db:"source" json:"source"`
	Severity       string     `db:"severity" json:"severity"`
	Status         string     `db:"status" json:"status"`
	PainLevel      *int       `db:"pain_level" json:"pain_level,omitempty"`
	Message        string     `db:"message" json:"message"`
	AcknowledgedBy *string    `db:"acknowledged_by" json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

func validSeverity(s string) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

func validSource(s string) bool {
	switch s {
	case SourcePainReport, SourceResponder, SourceManual:
		return true
	}
	return false
}
