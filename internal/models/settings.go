package models

// SystemSettings is the single JSON settings row.
type SystemSettings struct {
	QueueNumberPrefix           string `json:"queue_number_prefix" validate:"max=10"`
	NotificationBeforeMinutes   int    `json:"notification_before_minutes" validate:"min=0"`
	AutoRefreshInterval         int    `json:"auto_refresh_interval" validate:"min=1"`
	DisplayBoardRefreshInterval int    `json:"display_board_refresh_interval" validate:"min=1"`
	MaxQueuePerUser             int    `json:"max_queue_per_user" validate:"min=1"`
	EnableSMSNotifications      bool   `json:"enable_sms_notifications"`
	EnableEmailNotifications    bool   `json:"enable_email_notifications"`
	SystemMaintenanceMode       bool   `json:"system_maintenance_mode"`
	MaintenanceMessage          string `json:"maintenance_message"`
}

func DefaultSettings() SystemSettings {
	return SystemSettings{
		NotificationBeforeMinutes:   5,
		AutoRefreshInterval:         5,
		DisplayBoardRefreshInterval: 5,
		MaxQueuePerUser:             3,
	}
}
