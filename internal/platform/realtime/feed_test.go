package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// flakySource fails the first n subscribe attempts, then delegates to a hub.
type flakySource struct {
	mu       sync.Mutex
	failures int
	attempts int
	hub      *Hub
}

func (s *flakySource) Subscribe(ctx context.Context, topic string) (<-chan Event, func(), error) {
	s.mu.Lock()
	s.attempts++
	fail := s.attempts <= s.failures
	s.mu.Unlock()
	if fail {
		return nil, nil, errors.New("subscribe refused")
	}
	return s.hub.SubscribeTopic(ctx, topic)
}

func (s *flakySource) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func collect(t *testing.T, ch <-chan Event, n int, timeout time.Duration) []Event {
	t.Helper()
	var got []Event
	deadline := time.After(timeout)
	for len(got) < n {
		select {
		case evt := <-ch:
			got = append(got, evt)
		case <-deadline:
			t.Fatalf("timed out after %d of %d events", len(got), n)
		}
	}
	return got
}

func testFeedConfig() FeedConfig {
	return FeedConfig{
		ReconnectMin: 5 * time.Millisecond,
		ReconnectMax: 20 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	}
}

func TestFeed_DeliversPushedEvents(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	feed := NewFeed(&flakySource{hub: hub}, "tasks:p1", nil, testFeedConfig(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go feed.Run(ctx)

	// Give the feed a moment to subscribe before publishing.
	time.Sleep(20 * time.Millisecond)
	hub.Broadcast(Event{ID: "e1", Topic: "tasks:p1"})
	hub.Broadcast(Event{ID: "e2", Topic: "tasks:p1"})

	got := collect(t, feed.Events(), 2, time.Second)
	if got[0].ID != "e1" || got[1].ID != "e2" {
		t.Errorf("expected e1,e2 in order, got %s,%s", got[0].ID, got[1].ID)
	}
}

func TestFeed_DedupesPushAndBackfill(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	backfill := func(context.Context) ([]Event, error) {
		return []Event{
			{ID: "e1", Topic: "tasks:p1"},
			{ID: "e2", Topic: "tasks:p1"},
		}, nil
	}
	feed := NewFeed(&flakySource{hub: hub}, "tasks:p1", backfill, testFeedConfig(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go feed.Run(ctx)

	time.Sleep(20 * time.Millisecond)
	// e2 arrives by push too; the consumer must see it exactly once.
	hub.Broadcast(Event{ID: "e2", Topic: "tasks:p1"})
	hub.Broadcast(Event{ID: "e3", Topic: "tasks:p1"})

	got := collect(t, feed.Events(), 3, time.Second)
	seen := map[string]int{}
	for _, evt := range got {
		seen[evt.ID]++
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("event %s delivered %d times", id, count)
		}
	}
	if len(seen) != 3 {
		t.Errorf("expected e1,e2,e3, got %v", seen)
	}

	select {
	case evt := <-feed.Events():
		t.Errorf("unexpected extra event %s", evt.ID)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestFeed_ReconnectsAfterSubscribeFailure(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	src := &flakySource{hub: hub, failures: 2}
	backfill := func(context.Context) ([]Event, error) {
		return []Event{{ID: "state", Topic: "tasks:p1"}}, nil
	}
	feed := NewFeed(src, "tasks:p1", backfill, testFeedConfig(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go feed.Run(ctx)

	// The feed keeps retrying and eventually subscribes; backfill delivers
	// the current state even though every push during the outage was lost.
	got := collect(t, feed.Events(), 1, time.Second)
	if got[0].ID != "state" {
		t.Errorf("expected backfilled event, got %s", got[0].ID)
	}
	if src.attemptCount() < 3 {
		t.Errorf("expected at least 3 subscribe attempts, got %d", src.attemptCount())
	}
}

func TestFeed_ClosesOnCancel(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	feed := NewFeed(&flakySource{hub: hub}, "tasks:p1", nil, testFeedConfig(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		feed.Run(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("feed did not stop after cancel")
	}
	if _, open := <-feed.Events(); open {
		// Draining until closed is fine; the channel must eventually close.
		for range feed.Events() {
		}
	}
}
