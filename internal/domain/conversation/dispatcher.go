package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/recoverly/recoverly/internal/platform/apperr"
	"github.com/recoverly/recoverly/internal/platform/responder"
)

// contextWindow is how many prior messages are handed to the responder.
const contextWindow = 10

// Escalator raises a clinical alert for a patient. Implemented by the alert
// service; declared here so the dispatcher does not depend on that package.
type Escalator interface {
	Escalate(ctx context.Context, patientID, conversationID uuid.UUID, painLevel int, message string) error
}

// PatientInfo is the slice of patient state the responder context needs.
type PatientInfo struct {
	RecoveryDay int
	SurgeryType string
	CurrentTask string
}

// PatientDirectory resolves responder context for a patient.
type PatientDirectory interface {
	Info(ctx context.Context, patientID uuid.UUID) (*PatientInfo, error)
}

// SendRequest is an inbound patient message.
type SendRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
	Content   string    `json:"content"`
	PainLevel *int      `json:"pain_level,omitempty"`
}

// DispatchResult reports everything that happened during one send turn.
type DispatchResult struct {
	Conversation       *Conversation `json:"conversation"`
	UserMessage        *Message      `json:"user_message"`
	Reply              *Message      `json:"reply"`
	Escalated          bool          `json:"escalated"`
	EscalationDegraded bool          `json:"escalation_degraded,omitempty"`
	Fallback           bool          `json:"fallback,omitempty"`
}

// Dispatcher runs the send pipeline: persist the patient's message, raise an
// escalation when warranted, obtain a reply, and persist it. The patient's
// message is durable before any downstream call; a responder failure can
// never lose it.
type Dispatcher struct {
	sessions  *Service
	patients  PatientDirectory
	responder responder.Client
	escalator Escalator

	painThreshold int
	replyTimeout  time.Duration
	logger        zerolog.Logger
}

type DispatcherOption func(*Dispatcher)

func WithPainThreshold(n int) DispatcherOption {
	return func(d *Dispatcher) { d.painThreshold = n }
}

func WithReplyTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.replyTimeout = timeout }
}

func NewDispatcher(sessions *Service, patients PatientDirectory, rc responder.Client,
	escalator Escalator, logger zerolog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sessions:      sessions,
		patients:      patients,
		responder:     rc,
		escalator:     escalator,
		painThreshold: 8,
		replyTimeout:  10 * time.Second,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send processes one patient message end to end. The returned result always
// carries a non-nil reply: when the responder fails or is not configured, a
// canned fallback stands in.
func (d *Dispatcher) Send(ctx context.Context, req SendRequest) (*DispatchResult, error) {
	if req.PatientID == uuid.Nil {
		return nil, apperr.Validation("patient_id is required")
	}
	if req.Content == "" {
		return nil, apperr.Validation("content is required")
	}
	if req.PainLevel != nil && (*req.PainLevel < 0 || *req.PainLevel > 10) {
		return nil, apperr.Validation("pain_level must be between 0 and 10")
	}

	cv, err := d.sessions.GetOrCreateActive(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}

	userMsg := &Message{
		ConversationID: cv.ID,
		Sender:         SenderPatient,
		Content:        req.Content,
		PainLevel:      req.PainLevel,
	}
	if err := d.sessions.Append(ctx, userMsg); err != nil {
		return nil, err
	}

	result := &DispatchResult{Conversation: cv, UserMessage: userMsg}

	// Escalation is checked before the reply so a high pain report raises
	// an alert even if the responder hangs or fails afterwards.
	if req.PainLevel != nil && *req.PainLevel >= d.painThreshold {
		result.Escalated = true
		if err := d.escalate(ctx, cv, req); err != nil {
			// The patient still gets acknowledged in this turn; the
			// degradation is surfaced for the caller and the logs.
			result.EscalationDegraded = true
			d.logger.Error().Err(err).
				Str("patient_id", req.PatientID.String()).
				Int("pain_level", *req.PainLevel).
				Msg("escalation write failed")
		}
	}

	reply, fellBack := d.obtainReply(ctx, cv, req, result.Escalated)
	result.Fallback = fellBack

	// A caller that went away mid-turn gets no reply appended; the user
	// message is already durable and the turn is not an error.
	if ctx.Err() != nil {
		d.logger.Warn().
			Str("conversation_id", cv.ID.String()).
			Msg("send canceled after user message persisted, reply discarded")
		return result, nil
	}

	replyMsg := &Message{
		ConversationID: cv.ID,
		Sender:         SenderAssistant,
		Content:        reply.Text,
		Actions:        reply.Actions,
	}
	if err := d.sessions.Append(ctx, replyMsg); err != nil {
		// The user message is already durable; report the failed reply
		// rather than dropping the whole turn.
		return result, err
	}
	result.Reply = replyMsg
	return result, nil
}

func (d *Dispatcher) escalate(ctx context.Context, cv *Conversation, req SendRequest) error {
	if d.escalator == nil {
		return fmt.Errorf("no escalator configured: %w", apperr.ErrEscalationWrite)
	}
	return d.escalator.Escalate(ctx, req.PatientID, cv.ID, *req.PainLevel, req.Content)
}

// obtainReply asks the responder and falls back to a canned reply on any
// failure. An escalated turn always uses the escalation acknowledgement so
// the patient is told help is on the way in the same turn.
func (d *Dispatcher) obtainReply(ctx context.Context, cv *Conversation, req SendRequest, escalated bool) (*responder.Reply, bool) {
	if escalated {
		return escalationAck(*req.PainLevel), false
	}
	if d.responder == nil {
		return FallbackReply(req.Content), true
	}

	rctx, cancel := context.WithTimeout(ctx, d.replyTimeout)
	defer cancel()

	reply, err := d.responder.Reply(rctx, responder.Request{
		PatientID: req.PatientID.String(),
		Message:   req.Content,
		Context:   d.buildContext(ctx, cv, req),
	})
	if err != nil {
		d.logger.Warn().Err(err).
			Str("conversation_id", cv.ID.String()).
			Msg("responder failed, using fallback")
		return FallbackReply(req.Content), true
	}
	return reply, false
}

func (d *Dispatcher) buildContext(ctx context.Context, cv *Conversation, req SendRequest) responder.Context {
	rc := responder.Context{}

	if d.patients != nil {
		if info, err := d.patients.Info(ctx, req.PatientID); err == nil {
			rc.RecoveryDay = info.RecoveryDay
			rc.SurgeryType = info.SurgeryType
			rc.CurrentTask = info.CurrentTask
		} else {
			d.logger.Warn().Err(err).Msg("patient info unavailable for responder context")
		}
	}

	recent, err := d.sessions.Recent(ctx, cv.ID, contextWindow)
	if err != nil {
		d.logger.Warn().Err(err).Msg("recent messages unavailable for responder context")
		return rc
	}
	for _, m := range recent {
		rc.RecentMessages = append(rc.RecentMessages, responder.ContextMessage{
			Sender:  m.Sender,
			Content: m.Content,
		})
	}
	return rc
}

// escalationAck mirrors the alert severity mapping so the action carries the
// same severity the alert row was written with.
func escalationAck(painLevel int) *responder.Reply {
	severity := "high"
	if painLevel >= 10 {
		severity = "critical"
	}
	return &responder.Reply{
		Text: "Thank you for telling me. Your pain level is high, so I've notified your care team; someone will follow up with you shortly. If your symptoms feel like an emergency, please call emergency services now.",
		Actions: []responder.Action{
			{Type: responder.ActionEscalation, Severity: severity},
		},
	}
}
