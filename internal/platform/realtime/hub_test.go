package realtime

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestHub_PublishReachesTopicListeners(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	topic := ConversationTopic(uuid.New())

	events, cancel := hub.Listen(topic)
	defer cancel()

	other, cancelOther := hub.Listen("tasks:other")
	defer cancelOther()

	evt := Event{ID: "m1", Type: EventMessageCreated, Topic: topic}
	if err := hub.Publish(context.Background(), evt); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case got := <-events:
		if got.ID != "m1" {
			t.Errorf("got event %q, want m1", got.ID)
		}
		if got.Timestamp.IsZero() {
			t.Error("publish should stamp a timestamp")
		}
	default:
		t.Fatal("subscriber did not receive the event")
	}

	select {
	case <-other:
		t.Fatal("event leaked to an unrelated topic")
	default:
	}
}

func TestHub_PublishRequiresTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	if err := hub.Publish(context.Background(), Event{ID: "x"}); err == nil {
		t.Fatal("expected error for event without topic")
	}
}

func TestHub_ListenCancelIsIdempotent(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	_, cancel := hub.Listen("alerts:default")
	cancel()
	cancel() // second cancel must not panic or double-close

	// The topic is released; publishing is a no-op.
	if err := hub.Publish(context.Background(), Event{ID: "a", Topic: "alerts:default"}); err != nil {
		t.Fatalf("publish after cancel failed: %v", err)
	}
}

func TestHub_SlowFeedIsDisconnectedNotStarved(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	topic := "tasks:slow"

	events, cancel := hub.Listen(topic)
	defer cancel()

	// Overrun the subscriber's buffer without draining it. The overflowing
	// publish must close the channel so the consumer's reconnect path runs,
	// instead of silently losing the event.
	for i := 0; i < 70; i++ {
		hub.Broadcast(Event{ID: "e", Topic: topic})
	}

	delivered := 0
	closed := false
	for {
		if _, ok := <-events; !ok {
			closed = true
			break
		}
		delivered++
		if delivered > 70 {
			break
		}
	}
	if !closed {
		t.Fatal("overflowed feed channel should be closed")
	}
	if delivered != cap(events) {
		t.Errorf("expected a full buffer of %d events before the close, got %d", cap(events), delivered)
	}

	// The dropped feed is gone from the hub; further publishes are no-ops.
	if err := hub.Publish(context.Background(), Event{ID: "after", Topic: topic}); err != nil {
		t.Fatalf("publish after drop failed: %v", err)
	}
	cancel() // must not double-close
}

func TestHub_ClientSubscriptions(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := &Client{ID: "c1", Topics: []string{"alerts:default"}, Send: make(chan []byte, 4)}

	hub.Register(client)
	if hub.TopicCount("alerts:default") != 1 {
		t.Fatal("expected one subscriber after register")
	}

	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{"tasks:p1"}})
	if hub.TopicCount("tasks:p1") != 1 {
		t.Fatal("expected subscription via control message")
	}

	hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Topics: []string{"alerts:default"}})
	if hub.TopicCount("alerts:default") != 0 {
		t.Fatal("expected unsubscribe to release the topic")
	}

	hub.Broadcast(Event{ID: "t1", Topic: "tasks:p1"})
	select {
	case <-client.Send:
	default:
		t.Fatal("client did not receive broadcast")
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Fatal("expected no clients after unregister")
	}
}
