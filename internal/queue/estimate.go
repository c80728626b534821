package queue

import (
	"sort"

	"qtech-backend/internal/models"
)

// OrderWaiting returns the waiting entries of in, ordered by requested_at
// ascending with id as the tie breaker.
func OrderWaiting(in []models.QueueEntry) []models.QueueEntry {
	out := make([]models.QueueEntry, 0, len(in))
	for _, e := range in {
		if e.Status == models.StatusWaiting {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestedAt.Before(out[j].RequestedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// AdmissionPosition is the position handed to a new entry given the number of
// entries already waiting for the same service.
func AdmissionPosition(waiting int) int {
	return waiting + 1
}

// EstimatedWait is position times the per-entry service time, in minutes. It
// is computed once at admission and not refreshed afterwards.
func EstimatedWait(position int, svc models.Service) int {
	if position < 1 || svc.EstimatedServiceTime < 0 {
		return 0
	}
	return position * svc.EstimatedServiceTime
}

// LivePosition is the 1-based rank of entryID within ordered waiting entries,
// or 0 when it is not waiting.
func LivePosition(ordered []models.QueueEntry, entryID int64) int {
	for i, e := range ordered {
		if e.ID == entryID {
			return i + 1
		}
	}
	return 0
}

// AverageWaitMinutes averages completed_at - requested_at over completed
// entries. It returns nil when there is nothing to average.
func AverageWaitMinutes(entries []models.QueueEntry) *float64 {
	var total float64
	var n int
	for _, e := range entries {
		if e.Status != models.StatusCompleted || e.CompletedAt == nil {
			continue
		}
		total += e.CompletedAt.Sub(e.RequestedAt).Minutes()
		n++
	}
	if n == 0 {
		return nil
	}
	avg := total / float64(n)
	return &avg
}
