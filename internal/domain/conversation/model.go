package conversation

import (
	"time"

	"github.com/google/uuid"

	"github.com/recoverly/recoverly/internal/platform/responder"
)

// Conversation statuses. A patient has at most one active conversation;
// archiving or escalating frees the slot.
const (
	StatusActive    = "active"
	StatusArchived  = "archived"
	StatusEscalated = "escalated"
)

// Sender classes.
const (
	SenderPatient   = "patient"
	SenderProvider  = "provider"
	SenderAssistant = "assistant"
	SenderSystem    = "system"
)

// Conversation maps to the conversation table.
type Conversation struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Message maps to the message table. Messages are immutable once created
// except for the read timestamp. Actions are the typed variants decoded at
// the responder boundary, never free-form JSON.
type Message struct {
	ID             uuid.UUID          `db:"id" json:"id"`
	ConversationID uuid.UUID          `db:"conversation_id" json:"conversation_id"`
	Sender         string             `db:"sender" json:"sender"`
	Content        string             `db:"content" json:"content"`
	PainLevel      *int               `db:"pain_level" json:"pain_level,omitempty"`
	Actions        []responder.Action `db:"actions" json:"actions,omitempty"`
	ReadAt         *time.Time         `db:"read_at" json:"read_at,omitempty"`
	CreatedAt      time.Time          `db:"created_at" json:"created_at"`
}

func validSender(s string) bool {
	switch s {
	case SenderPatient, SenderProvider, SenderAssistant, SenderSystem:
		return true
	}
	return false
}

func validStatus(s string) bool {
	switch s {
	case StatusActive, StatusArchived, StatusEscalated:
		return true
	}
	return false
}
