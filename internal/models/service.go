package models

import "time"

type Service struct {
	ID                   int64     `json:"id"`
	Name                 string    `json:"name"`
	Location             string    `json:"location"`
	EstimatedServiceTime int       `json:"estimated_service_time"` // minutes per entry
	MaxQueueSize         int       `json:"max_queue_size"`         // 0 means unlimited
	QueuePrefix          string    `json:"queue_prefix"`
	OperatingHoursStart  string    `json:"operating_hours_start,omitempty"` // "HH:MM[:SS]"
	OperatingHoursEnd    string    `json:"operating_hours_end,omitempty"`
	IsActive             bool      `json:"is_active"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}
