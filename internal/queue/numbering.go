package queue

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"qtech-backend/internal/models"
)

// Prefix picks the queue-number prefix for a service: its own prefix, then
// the system-wide one, then the initials of its name.
func Prefix(svc models.Service, fallback string) string {
	if p := strings.ToUpper(strings.TrimSpace(svc.QueuePrefix)); p != "" {
		return p
	}
	if p := strings.ToUpper(strings.TrimSpace(fallback)); p != "" {
		return p
	}
	return initials(svc.Name)
}

func initials(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	switch len(words) {
	case 0:
		return "Q"
	case 1:
		w := []rune(strings.ToUpper(words[0]))
		if len(w) > 3 {
			w = w[:3]
		}
		return string(w)
	}
	var b strings.Builder
	for _, w := range words {
		b.WriteRune(unicode.ToUpper([]rune(w)[0]))
		if b.Len() >= 4 {
			break
		}
	}
	return b.String()
}

// FormatQueueNumber renders <PREFIX>-<sequence>.
func FormatQueueNumber(prefix string, seq int) string {
	return fmt.Sprintf("%s-%03d", prefix, seq)
}

// DayBounds returns [start, end) of the calendar day containing t in loc.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// WithinOperatingHours reports whether now falls inside the service window.
// Services without both bounds are always open. Windows that end before they
// start run past midnight.
func WithinOperatingHours(svc models.Service, now time.Time, loc *time.Location) bool {
	if svc.OperatingHoursStart == "" || svc.OperatingHoursEnd == "" {
		return true
	}
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)

	open, err := clockOn(now, svc.OperatingHoursStart, loc)
	if err != nil {
		return true
	}
	closing, err := clockOn(now, svc.OperatingHoursEnd, loc)
	if err != nil {
		return true
	}

	if closing.Before(open) {
		closing = closing.Add(24 * time.Hour)
		if now.Before(open) {
			open = open.Add(-24 * time.Hour)
			closing = closing.Add(-24 * time.Hour)
		}
	}
	return !now.Before(open) && now.Before(closing)
}

func clockOn(day time.Time, hhmm string, loc *time.Location) (time.Time, error) {
	if strings.Count(hhmm, ":") == 1 {
		hhmm += ":00"
	}
	t, err := time.ParseInLocation("15:04:05", hhmm, loc)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc), nil
}
