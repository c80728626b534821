// Package realtime fans committed queue transitions out to subscribers on
// three scopes: one topic per user, one per service and the display feed.
package realtime

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"qtech-backend/internal/models"
	"qtech-backend/internal/queue"
)

type EventKind string

const (
	EventQueueCalled    EventKind = "queue_called"
	EventQueueCompleted EventKind = "queue_completed"
	EventQueueUpdated   EventKind = "queue_updated"
	EventDisplayBoard   EventKind = "display_board"
	EventServiceState   EventKind = "service_snapshot"
)

// Event is one lifecycle notification. Consumers dedupe on
// (QueueID, Action); ID is unique per publish.
type Event struct {
	ID            string             `json:"id"`
	Kind          EventKind          `json:"type"`
	QueueID       int64              `json:"queue_id"`
	QueueNumber   string             `json:"queue_number"`
	ServiceID     int64              `json:"service_id"`
	UserID        int64              `json:"user_id"`
	Status        models.QueueStatus `json:"status"`
	Action        models.QueueAction `json:"action"`
	CounterID     *int64             `json:"counter_id,omitempty"`
	CounterNumber string             `json:"counter_number,omitempty"`
	CounterName   string             `json:"counter_name,omitempty"`
	OccurredAt    time.Time          `json:"occurred_at"`
}

func kindFor(a models.QueueAction) EventKind {
	switch a {
	case models.ActionCalled:
		return EventQueueCalled
	case models.ActionCompleted:
		return EventQueueCompleted
	}
	return EventQueueUpdated
}

// NewEvent builds the event for a committed change.
func NewEvent(c queue.Change) Event {
	ev := Event{
		ID:          uuid.NewString(),
		Kind:        kindFor(c.Action),
		QueueID:     c.Entry.ID,
		QueueNumber: c.Entry.QueueNumber,
		ServiceID:   c.Entry.ServiceID,
		UserID:      c.Entry.UserID,
		Status:      c.Entry.Status,
		Action:      c.Action,
		CounterID:   c.Entry.CounterID,
		OccurredAt:  c.At,
	}
	if c.Counter != nil {
		id := c.Counter.ID
		ev.CounterID = &id
		ev.CounterNumber = c.Counter.CounterNumber
		ev.CounterName = c.Counter.Name
	}
	return ev
}

// DedupKey identifies the transition an event reports.
func (e Event) DedupKey() string {
	return strconv.FormatInt(e.QueueID, 10) + ":" + string(e.Action)
}

const (
	scopeUser    = "user"
	scopeService = "service"
	scopeDisplay = "display"

	// DisplayTopic carries the aggregated display board.
	DisplayTopic = scopeDisplay
	// AllUsersTopic matches every per-user topic.
	AllUsersTopic = scopeUser + ":*"
)

func UserTopic(userID int64) string {
	return scopeUser + ":" + strconv.FormatInt(userID, 10)
}

func ServiceTopic(serviceID int64) string {
	return scopeService + ":" + strconv.FormatInt(serviceID, 10)
}

// Scope is the subscription scope of a topic: user, service or display.
func Scope(topic string) string {
	if i := strings.IndexByte(topic, ':'); i >= 0 {
		return topic[:i]
	}
	return topic
}

// Match reports whether topic is selected by pattern. A pattern ending in
// '*' matches by prefix.
func Match(pattern, topic string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(topic, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == topic
}
