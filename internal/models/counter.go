package models

import "time"

// CounterStatus is the staff-controlled operational state of a window.
type CounterStatus string

const (
	CounterOpen   CounterStatus = "open"
	CounterBusy   CounterStatus = "busy"
	CounterClosed CounterStatus = "closed"
	CounterBreak  CounterStatus = "break"
)

func (s CounterStatus) Valid() bool {
	switch s {
	case CounterOpen, CounterBusy, CounterClosed, CounterBreak:
		return true
	}
	return false
}

type Counter struct {
	ID                    int64         `json:"id"`
	ServiceID             int64         `json:"service_id"`
	CounterNumber         string        `json:"counter_number"`
	Name                  string        `json:"name"`
	Status                CounterStatus `json:"status"`
	CurrentServingQueueID *int64        `json:"current_serving_queue_id"`
	IsActive              bool          `json:"is_active"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

// CounterAssignment binds a staff user to a counter.
type CounterAssignment struct {
	UserID     int64     `json:"user_id"`
	CounterID  int64     `json:"counter_id"`
	IsPrimary  bool      `json:"is_primary"`
	AssignedAt time.Time `json:"assigned_at"`
}
