package realtime

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"qtech-backend/internal/logging"
	"qtech-backend/internal/metrics"
	"qtech-backend/internal/queue"
)

// Broadcaster is the queue.Notifier that publishes each committed change to
// the owning user's topic and the service topic, and marks the display feed
// stale. Publish failures are logged and counted, never returned.
type Broadcaster struct {
	bus     Bus
	display *DisplayFeed
	log     zerolog.Logger
}

var _ queue.Notifier = (*Broadcaster)(nil)

func NewBroadcaster(bus Bus, display *DisplayFeed) *Broadcaster {
	return &Broadcaster{bus: bus, display: display, log: logging.With("broadcaster")}
}

func (b *Broadcaster) Notify(ctx context.Context, change queue.Change) {
	ev := NewEvent(change)
	payload, err := json.Marshal(ev)
	if err != nil {
		b.log.Error().Err(err).Int64("queue_id", ev.QueueID).Msg("encode event")
		return
	}

	b.publish(ctx, UserTopic(ev.UserID), payload, ev)
	b.publish(ctx, ServiceTopic(ev.ServiceID), payload, ev)
	if b.display != nil {
		b.display.MarkDirty()
	}
}

func (b *Broadcaster) publish(ctx context.Context, topic string, payload []byte, ev Event) {
	scope := Scope(topic)
	if err := b.bus.Publish(ctx, topic, payload); err != nil {
		metrics.EventPublishFailures.WithLabelValues(scope).Inc()
		b.log.Warn().Err(err).
			Str("topic", topic).
			Str("kind", string(ev.Kind)).
			Int64("queue_id", ev.QueueID).
			Msg("publish failed")
		return
	}
	metrics.EventsPublished.WithLabelValues(scope).Inc()
}
