package models

import "time"

// QueueStatus is the lifecycle state of a queue entry.
type QueueStatus string

const (
	StatusWaiting   QueueStatus = "waiting"
	StatusCalled    QueueStatus = "called"
	StatusServing   QueueStatus = "serving"
	StatusCompleted QueueStatus = "completed"
	StatusSkipped   QueueStatus = "skipped"
	StatusCancelled QueueStatus = "cancelled"
)

// ActiveStatuses hold a counter.
var ActiveStatuses = []QueueStatus{StatusCalled, StatusServing}

// PendingStatuses are all non-terminal statuses.
var PendingStatuses = []QueueStatus{StatusWaiting, StatusCalled, StatusServing}

func (s QueueStatus) Valid() bool {
	switch s {
	case StatusWaiting, StatusCalled, StatusServing, StatusCompleted, StatusSkipped, StatusCancelled:
		return true
	}
	return false
}

func (s QueueStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusSkipped || s == StatusCancelled
}

// QueueEntry is one request for service. Rows are never deleted.
type QueueEntry struct {
	ID                int64       `json:"id"`
	UserID            int64       `json:"user_id"`
	ServiceID         int64       `json:"service_id"`
	CounterID         *int64      `json:"counter_id"`
	QueueNumber       string      `json:"queue_number"`
	QueuePosition     int         `json:"queue_position"`
	Status            QueueStatus `json:"status"`
	EstimatedWaitTime int         `json:"estimated_wait_time"` // minutes, frozen at admission
	RequestedAt       time.Time   `json:"requested_at"`
	CalledAt          *time.Time  `json:"called_at"`
	StartedServingAt  *time.Time  `json:"started_serving_at"`
	CompletedAt       *time.Time  `json:"completed_at"`
	CancelledAt       *time.Time  `json:"cancelled_at"`
	SkippedAt         *time.Time  `json:"skipped_at"`
}

// Action names recorded in queue_logs and carried on events.
type QueueAction string

const (
	ActionRequested      QueueAction = "requested"
	ActionCalled         QueueAction = "called"
	ActionStartedServing QueueAction = "started_serving"
	ActionCompleted      QueueAction = "completed"
	ActionCancelled      QueueAction = "cancelled"
	ActionSkipped        QueueAction = "skipped"
)

// QueueLog is the append-only audit row written for every transition.
type QueueLog struct {
	ID              int64             `json:"id"`
	QueueEntryID    int64             `json:"queue_entry_id"`
	ServiceID       int64             `json:"service_id"`
	CounterID       *int64            `json:"counter_id"`
	ActorUserID     int64             `json:"actor_user_id"`
	Action          QueueAction       `json:"action"`
	ActionTimestamp time.Time         `json:"action_timestamp"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}
