package realtime

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/recoverly/recoverly/internal/platform/apperr"
)

// Source is a push channel a Feed consumes from. The returned channel is
// closed when the subscription drops; the cancel function releases it.
type Source interface {
	Subscribe(ctx context.Context, topic string) (<-chan Event, func(), error)
}

// SubscribeTopic adapts the hub to the Source interface for in-process feeds.
func (h *Hub) SubscribeTopic(_ context.Context, topic string) (<-chan Event, func(), error) {
	ch, cancel := h.Listen(topic)
	return ch, cancel, nil
}

// BackfillFunc reloads the full current state of a topic as events. The feed
// calls it after every (re)connect and while polling during an outage, so a
// dropped subscription never leaves the consumer silently stale.
type BackfillFunc func(ctx context.Context) ([]Event, error)

// FeedConfig tunes reconnect and polling behaviour.
type FeedConfig struct {
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	PollInterval time.Duration
}

// DefaultFeedConfig returns the reconnect/poll settings used in production.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		ReconnectMin: 500 * time.Millisecond,
		ReconnectMax: 30 * time.Second,
		PollInterval: 10 * time.Second,
	}
}

// Feed is a resilient consumer of one topic. It dedupes events by id, so an
// event delivered both by push and by backfill reaches the consumer exactly
// once. Push and backfill both funnel through the same emit path; the
// consumer never has to merge two sources itself.
type Feed struct {
	source   Source
	topic    string
	backfill BackfillFunc
	cfg      FeedConfig
	logger   zerolog.Logger

	out  chan Event
	seen map[string]struct{}
}

func NewFeed(source Source, topic string, backfill BackfillFunc, cfg FeedConfig, logger zerolog.Logger) *Feed {
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = 500 * time.Millisecond
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = cfg.ReconnectMin
	}
	return &Feed{
		source:   source,
		topic:    topic,
		backfill: backfill,
		cfg:      cfg,
		logger:   logger,
		out:      make(chan Event, 64),
		seen:     make(map[string]struct{}),
	}
}

// Events returns the deduplicated event stream. Closed when Run returns.
func (f *Feed) Events() <-chan Event {
	return f.out
}

// Run consumes the topic until ctx is cancelled. Subscription failures are
// absorbed: the feed logs them, falls back to polling backfill, and retries
// with capped exponential backoff.
func (f *Feed) Run(ctx context.Context) {
	defer close(f.out)

	backoff := f.cfg.ReconnectMin
	for {
		if ctx.Err() != nil {
			return
		}

		ch, cancel, err := f.source.Subscribe(ctx, f.topic)
		if err != nil {
			f.logger.Warn().Err(err).Str("topic", f.topic).
				Msgf("realtime feed: %v, retrying in %s", apperr.ErrSubscription, backoff)
			if !f.pollUntil(ctx, backoff) {
				return
			}
			backoff = f.nextBackoff(backoff)
			continue
		}

		backoff = f.cfg.ReconnectMin

		// Full reload on every (re)connect to pick up anything missed
		// while disconnected.
		f.runBackfill(ctx)

		if !f.consume(ctx, ch, cancel) {
			return
		}

		f.logger.Warn().Str("topic", f.topic).
			Msgf("realtime feed: %v, reconnecting", apperr.ErrSubscription)
	}
}

// consume drains the push channel. Returns false when ctx was cancelled,
// true when the subscription dropped and the feed should reconnect.
func (f *Feed) consume(ctx context.Context, ch <-chan Event, cancel func()) bool {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return false
		case evt, ok := <-ch:
			if !ok {
				return true
			}
			f.emit(ctx, evt)
		}
	}
}

// pollUntil waits out the backoff window, running a backfill poll at the
// configured interval so the consumer does not go stale during the outage.
// Returns false when ctx was cancelled.
func (f *Feed) pollUntil(ctx context.Context, wait time.Duration) bool {
	deadline := time.Now().Add(wait)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		step := f.cfg.PollInterval
		if step <= 0 || step > remaining {
			step = remaining
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(step):
			f.runBackfill(ctx)
		}
	}
}

func (f *Feed) runBackfill(ctx context.Context) {
	if f.backfill == nil {
		return
	}
	events, err := f.backfill(ctx)
	if err != nil {
		f.logger.Warn().Err(err).Str("topic", f.topic).Msg("realtime feed: backfill failed")
		return
	}
	for _, evt := range events {
		f.emit(ctx, evt)
	}
}

// emit forwards an event exactly once per id.
func (f *Feed) emit(ctx context.Context, evt Event) {
	if evt.ID != "" {
		if _, dup := f.seen[evt.ID]; dup {
			return
		}
		f.seen[evt.ID] = struct{}{}
	}
	select {
	case f.out <- evt:
	case <-ctx.Done():
	}
}

func (f *Feed) nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > f.cfg.ReconnectMax {
		next = f.cfg.ReconnectMax
	}
	return next
}
