package conversation

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/recoverly/recoverly/internal/platform/apperr"
	"github.com/recoverly/recoverly/internal/platform/realtime"
)

func newTestService() (*Service, *realtime.Hub) {
	hub := realtime.NewHub(zerolog.Nop())
	svc := NewService(newFakeConvRepo(), &fakeMsgRepo{}, hub, zerolog.Nop())
	return svc, hub
}

func TestService_GetOrCreateActive_ReusesConversation(t *testing.T) {
	svc, _ := newTestService()
	patientID := uuid.New()

	first, err := svc.GetOrCreateActive(context.Background(), patientID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.GetOrCreateActive(context.Background(), patientID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID != second.ID {
		t.Error("expected the same active conversation on repeat calls")
	}
}

func TestService_GetOrCreateActive_NewAfterArchive(t *testing.T) {
	svc, _ := newTestService()
	patientID := uuid.New()
	ctx := context.Background()

	first, _ := svc.GetOrCreateActive(ctx, patientID)
	if err := svc.SetStatus(ctx, first.ID, StatusArchived); err != nil {
		t.Fatalf("archive failed: %v", err)
	}
	second, err := svc.GetOrCreateActive(ctx, patientID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID == second.ID {
		t.Error("archiving should free the active slot for a new conversation")
	}
}

func TestService_SetStatus_TerminalStates(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	cv, _ := svc.GetOrCreateActive(ctx, uuid.New())

	if err := svc.SetStatus(ctx, cv.ID, StatusEscalated); err != nil {
		t.Fatalf("escalate failed: %v", err)
	}
	// Escalated is terminal; moving back to active is rejected.
	if err := svc.SetStatus(ctx, cv.ID, StatusActive); !apperr.IsValidation(err) {
		t.Errorf("expected validation error reactivating an escalated conversation, got %v", err)
	}
	// Setting the same status again is a no-op.
	if err := svc.SetStatus(ctx, cv.ID, StatusEscalated); err != nil {
		t.Errorf("idempotent status set should succeed, got %v", err)
	}
}

func TestService_Append_PublishesToSubscribers(t *testing.T) {
	svc, hub := newTestService()
	ctx := context.Background()
	cv, _ := svc.GetOrCreateActive(ctx, uuid.New())

	events, cancel := hub.Listen(realtime.ConversationTopic(cv.ID))
	defer cancel()

	msg := &Message{ConversationID: cv.ID, Sender: SenderPatient, Content: "hello"}
	if err := svc.Append(ctx, msg); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	select {
	case evt := <-events:
		if evt.Type != realtime.EventMessageCreated {
			t.Errorf("expected %s event, got %s", realtime.EventMessageCreated, evt.Type)
		}
		if evt.ID != msg.ID.String() {
			t.Error("event id should match the message id")
		}
	default:
		t.Fatal("expected a published event")
	}
}

func TestService_Append_Validation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	cv, _ := svc.GetOrCreateActive(ctx, uuid.New())

	cases := []*Message{
		{Sender: SenderPatient, Content: "no conversation"},
		{ConversationID: cv.ID, Sender: "robot", Content: "bad sender"},
		{ConversationID: cv.ID, Sender: SenderPatient},
	}
	for i, m := range cases {
		if err := svc.Append(ctx, m); !apperr.IsValidation(err) {
			t.Errorf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestService_MarkRead_Idempotent(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	cv, _ := svc.GetOrCreateActive(ctx, uuid.New())

	msg := &Message{ConversationID: cv.ID, Sender: SenderAssistant, Content: "hi"}
	if err := svc.Append(ctx, msg); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	if err := svc.MarkRead(ctx, msg.ID); err != nil {
		t.Fatalf("first mark read failed: %v", err)
	}
	stored, _ := svc.messages.GetByID(ctx, msg.ID)
	firstRead := *stored.ReadAt

	if err := svc.MarkRead(ctx, msg.ID); err != nil {
		t.Fatalf("second mark read failed: %v", err)
	}
	stored, _ = svc.messages.GetByID(ctx, msg.ID)
	if !stored.ReadAt.Equal(firstRead) {
		t.Error("re-reading must not move the read timestamp")
	}
}

func TestService_AppendSystem_CreatesConversationLazily(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	patientID := uuid.New()

	if err := svc.AppendSystem(ctx, patientID, "Task completed: Walk 10 minutes"); err != nil {
		t.Fatalf("append system failed: %v", err)
	}
	cv, err := svc.GetOrCreateActive(ctx, patientID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msgs, _, err := svc.History(ctx, cv.ID, 10, 0)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Sender != SenderSystem {
		t.Fatalf("expected one system message, got %d", len(msgs))
	}
}
