package conversation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/recoverly/recoverly/internal/platform/apperr"
	"github.com/recoverly/recoverly/internal/platform/realtime"
)

// Service is the conversation session manager: it owns conversation
// lifecycle, message history, and the publish side of realtime delivery.
type Service struct {
	conversations ConversationRepository
	messages      MessageRepository
	publisher     realtime.Publisher
	logger        zerolog.Logger
}

func NewService(conversations ConversationRepository, messages MessageRepository,
	publisher realtime.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		conversations: conversations,
		messages:      messages,
		publisher:     publisher,
		logger:        logger,
	}
}

// GetOrCreateActive returns the patient's active conversation, creating one
// lazily on first interaction.
func (s *Service) GetOrCreateActive(ctx context.Context, patientID uuid.UUID) (*Conversation, error) {
	if patientID == uuid.Nil {
		return nil, apperr.Validation("patient_id is required")
	}
	return s.conversations.GetOrCreateActive(ctx, patientID)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	return s.conversations.GetByID(ctx, id)
}

// History returns the conversation's messages ordered by creation time
// ascending.
func (s *Service) History(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	return s.messages.ListByConversation(ctx, conversationID, limit, offset)
}

// Recent returns the newest n messages, oldest first, for responder context.
func (s *Service) Recent(ctx context.Context, conversationID uuid.UUID, n int) ([]*Message, error) {
	return s.messages.Recent(ctx, conversationID, n)
}

// MarkRead sets the message's read timestamp. Re-reading is a no-op.
func (s *Service) MarkRead(ctx context.Context, messageID uuid.UUID) error {
	return s.messages.MarkRead(ctx, messageID)
}

// SetStatus transitions the conversation. Only an active conversation may
// move; archived and escalated are terminal.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	if !validStatus(status) {
		return apperr.Validation("invalid status %q", status)
	}
	cv, err := s.conversations.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if cv.Status == status {
		return nil
	}
	if cv.Status != StatusActive {
		return apperr.Validation("conversation is %s; cannot transition to %s", cv.Status, status)
	}
	if err := s.conversations.SetStatus(ctx, id, status); err != nil {
		return err
	}
	s.publish(ctx, realtime.Event{
		ID:    id.String() + ":" + status,
		Type:  realtime.EventConversation,
		Topic: realtime.ConversationTopic(id),
	})
	return nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Conversation, int, error) {
	return s.conversations.ListByPatient(ctx, patientID, limit, offset)
}

// Append persists a message into a conversation and pushes it to
// subscribers. Persistence comes first: the push is best-effort and its
// failure is absorbed.
func (s *Service) Append(ctx context.Context, m *Message) error {
	if m.ConversationID == uuid.Nil {
		return apperr.Validation("conversation_id is required")
	}
	if !validSender(m.Sender) {
		return apperr.Validation("invalid sender %q", m.Sender)
	}
	if m.Content == "" {
		return apperr.Validation("content is required")
	}

	if err := s.messages.Create(ctx, m); err != nil {
		return apperr.Transient("persist message", err)
	}

	data, _ := json.Marshal(m)
	s.publish(ctx, realtime.Event{
		ID:        m.ID.String(),
		Type:      realtime.EventMessageCreated,
		Topic:     realtime.ConversationTopic(m.ConversationID),
		Timestamp: m.CreatedAt,
		Data:      data,
	})
	return nil
}

// AppendSystem appends a synthetic system message to the patient's active
// conversation. Used by task completion.
func (s *Service) AppendSystem(ctx context.Context, patientID uuid.UUID, content string) error {
	cv, err := s.GetOrCreateActive(ctx, patientID)
	if err != nil {
		return err
	}
	return s.Append(ctx, &Message{
		ConversationID: cv.ID,
		Sender:         SenderSystem,
		Content:        content,
	})
}

// BackfillEvents reloads a conversation's full history as realtime events,
// for feed recovery after a dropped subscription.
func (s *Service) BackfillEvents(ctx context.Context, conversationID uuid.UUID) ([]realtime.Event, error) {
	msgs, _, err := s.messages.ListByConversation(ctx, conversationID, 1000, 0)
	if err != nil {
		return nil, err
	}
	events := make([]realtime.Event, 0, len(msgs))
	for _, m := range msgs {
		data, _ := json.Marshal(m)
		events = append(events, realtime.Event{
			ID:        m.ID.String(),
			Type:      realtime.EventMessageCreated,
			Topic:     realtime.ConversationTopic(conversationID),
			Timestamp: m.CreatedAt,
			Data:      data,
		})
	}
	return events, nil
}

func (s *Service) publish(ctx context.Context, evt realtime.Event) {
	if s.publisher == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Error().Err(err).Str("topic", evt.Topic).Msg("publish failed")
	}
}
