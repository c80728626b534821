// Package notify turns per-user lifecycle events into push notifications.
// Every (queue id, transition) pair is handed to the producer at most once,
// even when several API instances receive the same event.
package notify

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"qtech-backend/internal/logging"
	"qtech-backend/internal/metrics"
	"qtech-backend/internal/models"
	"qtech-backend/internal/realtime"
)

// Notification is the structured push request. Rendering text is left to
// the delivery service.
type Notification struct {
	EventID       string             `json:"event_id"`
	Type          realtime.EventKind `json:"type"`
	UserID        int64              `json:"user_id"`
	QueueID       int64              `json:"queue_id"`
	QueueNumber   string             `json:"queue_number"`
	ServiceID     int64              `json:"service_id"`
	Action        models.QueueAction `json:"action"`
	CounterNumber string             `json:"counter_number,omitempty"`
	CounterName   string             `json:"counter_name,omitempty"`
	OccurredAt    time.Time          `json:"occurred_at"`
}

// pushActions are the transitions a student is told about.
var pushActions = map[models.QueueAction]bool{
	models.ActionCalled:    true,
	models.ActionCompleted: true,
	models.ActionSkipped:   true,
}

type Service struct {
	bus      realtime.Bus
	dedupe   Deduper
	producer Producer
	log      zerolog.Logger
}

func NewService(bus realtime.Bus, dedupe Deduper, producer Producer) *Service {
	return &Service{bus: bus, dedupe: dedupe, producer: producer, log: logging.With("notify")}
}

func (s *Service) String() string { return "push-notifier" }

// Serve consumes every user topic until ctx ends. It satisfies suture.Service.
func (s *Service) Serve(ctx context.Context) error {
	sub, err := s.bus.Subscribe(ctx, realtime.AllUsersTopic)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.C:
			if !ok {
				return realtime.ErrBusClosed
			}
			s.handle(ctx, msg)
		}
	}
}

func (s *Service) handle(ctx context.Context, msg realtime.Message) {
	var ev realtime.Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		s.log.Warn().Err(err).Str("topic", msg.Topic).Msg("undecodable event")
		return
	}
	if !pushActions[ev.Action] {
		return
	}

	first, err := s.dedupe.First(ctx, ev.DedupKey())
	if err != nil {
		metrics.NotificationsSent.WithLabelValues("error").Inc()
		s.log.Warn().Err(err).Str("key", ev.DedupKey()).Msg("dedupe failed, skipping")
		return
	}
	if !first {
		metrics.NotificationsSent.WithLabelValues("duplicate").Inc()
		return
	}

	n := Notification{
		EventID:       ev.ID,
		Type:          ev.Kind,
		UserID:        ev.UserID,
		QueueID:       ev.QueueID,
		QueueNumber:   ev.QueueNumber,
		ServiceID:     ev.ServiceID,
		Action:        ev.Action,
		CounterNumber: ev.CounterNumber,
		CounterName:   ev.CounterName,
		OccurredAt:    ev.OccurredAt,
	}
	if err := s.producer.Send(ctx, n); err != nil {
		metrics.NotificationsSent.WithLabelValues("error").Inc()
		s.log.Error().Err(err).Int64("queue_id", n.QueueID).Str("action", string(n.Action)).Msg("push hand-off failed")
		return
	}
	metrics.NotificationsSent.WithLabelValues("sent").Inc()
	s.log.Debug().Int64("queue_id", n.QueueID).Int64("user_id", n.UserID).Str("action", string(n.Action)).Msg("push queued")
}

// LogProducer records notifications in the log when no broker is configured.
type LogProducer struct {
	log zerolog.Logger
}

func NewLogProducer() *LogProducer {
	return &LogProducer{log: logging.With("notify")}
}

func (p *LogProducer) Send(_ context.Context, n Notification) error {
	p.log.Info().Int64("user_id", n.UserID).Str("queue_number", n.QueueNumber).Str("type", string(n.Type)).Msg("push notification")
	return nil
}

func (p *LogProducer) Close() error { return nil }
