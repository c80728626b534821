package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"qtech-backend/internal/models"
)

func TestPrefix(t *testing.T) {
	tests := []struct {
		name     string
		svc      models.Service
		fallback string
		want     string
	}{
		{"own prefix", models.Service{Name: "Registrar", QueuePrefix: " reg "}, "Q", "REG"},
		{"system prefix", models.Service{Name: "Registrar"}, "a", "A"},
		{"single word", models.Service{Name: "Registrar"}, "", "REG"},
		{"initials", models.Service{Name: "Office of Student Affairs"}, "", "OOSA"},
		{"empty name", models.Service{}, "", "Q"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Prefix(tt.svc, tt.fallback))
		})
	}
}

func TestFormatQueueNumber(t *testing.T) {
	assert.Equal(t, "REG-007", FormatQueueNumber("REG", 7))
	assert.Equal(t, "REG-1234", FormatQueueNumber("REG", 1234))
}

func TestDayBounds(t *testing.T) {
	loc := time.FixedZone("PHT", 8*60*60)
	// 23:30 UTC is already the next morning in Manila.
	start, end := DayBounds(time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC), loc)
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, loc), start)
	assert.Equal(t, 24*time.Hour, end.Sub(start))
}

func TestWithinOperatingHours(t *testing.T) {
	loc := time.UTC
	at := func(h, m int) time.Time { return time.Date(2026, 3, 2, h, m, 0, 0, loc) }

	day := models.Service{OperatingHoursStart: "08:00", OperatingHoursEnd: "17:00:00"}
	assert.True(t, WithinOperatingHours(day, at(8, 0), loc))
	assert.True(t, WithinOperatingHours(day, at(16, 59), loc))
	assert.False(t, WithinOperatingHours(day, at(17, 0), loc))
	assert.False(t, WithinOperatingHours(day, at(7, 59), loc))

	night := models.Service{OperatingHoursStart: "22:00", OperatingHoursEnd: "02:00"}
	assert.True(t, WithinOperatingHours(night, at(23, 0), loc))
	assert.True(t, WithinOperatingHours(night, at(1, 0), loc))
	assert.False(t, WithinOperatingHours(night, at(12, 0), loc))

	assert.True(t, WithinOperatingHours(models.Service{OperatingHoursStart: "08:00"}, at(3, 0), loc))
}
