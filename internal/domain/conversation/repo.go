package conversation

import (
	"context"

	"github.com/google/uuid"
)

type ConversationRepository interface {
	// GetOrCreateActive returns the patient's active conversation, creating
	// one atomically if none exists. Safe under concurrent calls.
	GetOrCreateActive(ctx context.Context, patientID uuid.UUID) (*Conversation, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Conversation, error)
	SetStatus(ctx context.Context, id uuid.UUID, status string) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Conversation, int, error)
}

type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*Message, error)
	// ListByConversation returns messages ordered by creation time ascending.
	ListByConversation(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*Message, int, error)
	// Recent returns the newest n messages, oldest first.
	Recent(ctx context.Context, conversationID uuid.UUID, n int) ([]*Message, error)
	// MarkRead sets read_at once; marking an already-read message is a no-op.
	MarkRead(ctx context.Context, id uuid.UUID) error
}
