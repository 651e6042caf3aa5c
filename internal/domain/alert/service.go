package alert

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/recoverly/recoverly/internal/platform/apperr"
	"github.com/recoverly/recoverly/internal/platform/db"
	"github.com/recoverly/recoverly/internal/platform/realtime"
)

type Service struct {
	alerts    Repository
	publisher realtime.Publisher
	logger    zerolog.Logger
}

func NewService(alerts Repository, publisher realtime.Publisher, logger zerolog.Logger) *Service {
	return &Service{alerts: alerts, publisher: publisher, logger: logger}
}

// Escalate records a pain-report escalation as an open alert and pushes it
// to the tenant's provider feed. The write is synchronous: the caller needs
// the alert durable before replying to the patient. A failure here is
// wrapped so the dispatcher can degrade instead of dropping the turn.
func (s *Service) Escalate(ctx context.Context, patientID, conversationID uuid.UUID, painLevel int, message string) error {
	severity := SeverityHigh
	if painLevel >= 10 {
		severity = SeverityCritical
	}
	a := &Alert{
		PatientID:      patientID,
		ConversationID: &conversationID,
		Source:         SourcePainReport,
		Severity:       severity,
		PainLevel:      &painLevel,
		Message:        message,
	}
	if err := s.alerts.Create(ctx, a); err != nil {
		return fmt.Errorf("create escalation alert: %v: %w", err, apperr.ErrEscalationWrite)
	}
	s.publishCreated(ctx, a)
	return nil
}

// CreateManual records a provider-raised alert.
func (s *Service) CreateManual(ctx context.Context, a *Alert) error {
	if a.PatientID == uuid.Nil {
		return apperr.Validation("patient_id is required")
	}
	if !validSeverity(a.Severity) {
		return apperr.Validation("invalid severity %q", a.Severity)
	}
	if a.Message == "" {
		return apperr.Validation("message is required")
	}
	a.Source = SourceManual
	if err := s.alerts.Create(ctx, a); err != nil {
		return err
	}
	s.publishCreated(ctx, a)
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Alert, error) {
	return s.alerts.GetByID(ctx, id)
}

// Acknowledge marks the alert as seen by a provider. Idempotent.
func (s *Service) Acknowledge(ctx context.Context, id uuid.UUID, userID string) (*Alert, error) {
	if userID == "" {
		return nil, apperr.Validation("acknowledging user is required")
	}
	return s.alerts.Acknowledge(ctx, id, userID)
}

func (s *Service) Resolve(ctx context.Context, id uuid.UUID) (*Alert, error) {
	return s.alerts.Resolve(ctx, id)
}

func (s *Service) List(ctx context.Context, status, severity string, limit, offset int) ([]*Alert, int, error) {
	if status != "" && status != StatusOpen && status != StatusAcknowledged && status != StatusResolved {
		return nil, 0, apperr.Validation("invalid status %q", status)
	}
	if severity != "" && !validSeverity(severity) {
		return nil, 0, apperr.Validation("invalid severity %q", severity)
	}
	return s.alerts.List(ctx, status, severity, limit, offset)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Alert, int, error) {
	return s.alerts.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) publishCreated(ctx context.Context, a *Alert) {
	if s.publisher == nil {
		return
	}
	data, _ := json.Marshal(a)
	evt := realtime.Event{
		ID:        a.ID.String(),
		Type:      realtime.EventAlertCreated,
		Topic:     realtime.AlertTopic(db.TenantFromContext(ctx)),
		Timestamp: a.CreatedAt,
		Data:      data,
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Error().Err(err).Str("topic", evt.Topic).Msg("publish failed")
	}
}
