package queue

import (
	"context"
	"sort"
	"time"

	"qtech-backend/internal/models"
)

// CounterInfo identifies the window an entry was called to.
type CounterInfo struct {
	ID            int64  `json:"id"`
	CounterNumber string `json:"counter_number"`
	Name          string `json:"name"`
}

// StatusView answers GetQueueStatus. Position is the live rank among waiting
// entries (0 once the entry has left the waiting state); QueuePosition and
// EstimatedWaitMinutes are the values fixed at admission.
type StatusView struct {
	Entry                models.QueueEntry  `json:"entry"`
	Status               models.QueueStatus `json:"status"`
	Position             int                `json:"position"`
	QueuePosition        int                `json:"queue_position"`
	EstimatedWaitMinutes int                `json:"estimated_wait_minutes"`
	Counter              *CounterInfo       `json:"counter,omitempty"`
}

// QueueStatus returns the status of an entry as seen by viewer. Students may
// only look at their own entries.
func (e *Engine) QueueStatus(ctx context.Context, viewer models.Principal, queueID int64) (StatusView, error) {
	entry, err := e.store.GetEntry(ctx, queueID)
	if err != nil {
		return StatusView{}, storageErr("status", err)
	}
	if viewer.Role == models.RoleStudent && entry.UserID != viewer.UserID {
		return StatusView{}, NewError(KindForbidden, "status", "queue_entry", queueID)
	}

	view := StatusView{
		Entry:                entry,
		Status:               entry.Status,
		QueuePosition:        entry.QueuePosition,
		EstimatedWaitMinutes: entry.EstimatedWaitTime,
	}
	if entry.Status == models.StatusWaiting {
		waiting, err := e.store.FindWaitingByService(ctx, entry.ServiceID)
		if err != nil {
			return StatusView{}, storageErr("status", err)
		}
		view.Position = LivePosition(OrderWaiting(waiting), entry.ID)
	}
	if entry.CounterID != nil {
		if c, err := e.store.GetCounter(ctx, *entry.CounterID); err == nil {
			view.Counter = counterInfo(c)
		}
	}
	return view, nil
}

// ServingInfo is one entry currently held by a counter.
type ServingInfo struct {
	QueueID     int64              `json:"queue_id"`
	QueueNumber string             `json:"queue_number"`
	Status      models.QueueStatus `json:"status"`
	Counter     *CounterInfo       `json:"counter,omitempty"`
	CalledAt    *time.Time         `json:"called_at,omitempty"`
}

// Snapshot answers GetServiceQueueSnapshot.
type Snapshot struct {
	ServiceID          int64         `json:"service_id"`
	ServiceName        string        `json:"service_name"`
	WaitingCount       int           `json:"waiting_count"`
	CurrentServing     []ServingInfo `json:"current_serving"`
	NextInLine         *string       `json:"next_in_line"`
	AverageWaitMinutes *float64      `json:"average_wait_time"`
}

// ServiceSnapshot aggregates the live state of one service. The average wait
// covers entries completed today.
func (e *Engine) ServiceSnapshot(ctx context.Context, serviceID int64) (Snapshot, error) {
	svc, err := e.store.GetService(ctx, serviceID)
	if err != nil {
		return Snapshot{}, storageErr("snapshot", err)
	}
	waiting, err := e.store.FindWaitingByService(ctx, serviceID)
	if err != nil {
		return Snapshot{}, storageErr("snapshot", err)
	}
	waiting = OrderWaiting(waiting)

	serving, err := e.servingInfo(ctx, EntryFilter{ServiceID: serviceID, Statuses: models.ActiveStatuses})
	if err != nil {
		return Snapshot{}, err
	}

	dayStart, dayEnd := DayBounds(e.now(), e.loc)
	done, err := e.store.FindEntries(ctx, EntryFilter{
		ServiceID:     serviceID,
		Statuses:      []models.QueueStatus{models.StatusCompleted},
		RequestedFrom: dayStart,
		RequestedTo:   dayEnd,
	})
	if err != nil {
		return Snapshot{}, storageErr("snapshot", err)
	}

	snap := Snapshot{
		ServiceID:          svc.ID,
		ServiceName:        svc.Name,
		WaitingCount:       len(waiting),
		CurrentServing:     serving,
		AverageWaitMinutes: AverageWaitMinutes(done),
	}
	if len(waiting) > 0 {
		snap.NextInLine = &waiting[0].QueueNumber
	}
	return snap, nil
}

// History lists the entries of a user, newest first.
func (e *Engine) History(ctx context.Context, userID int64, page, limit int) ([]models.QueueEntry, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	f := EntryFilter{UserID: userID}
	total, err := e.store.CountEntries(ctx, f)
	if err != nil {
		return nil, 0, storageErr("history", err)
	}
	f.NewestFirst = true
	f.Limit = limit
	f.Offset = (page - 1) * limit
	entries, err := e.store.FindEntries(ctx, f)
	if err != nil {
		return nil, 0, storageErr("history", err)
	}
	return entries, total, nil
}

// ServiceWaiting is the per-service waiting count on the display board.
type ServiceWaiting struct {
	ServiceID    int64  `json:"service_id"`
	ServiceName  string `json:"service_name"`
	WaitingCount int    `json:"waiting_count"`
	NextInLine   string `json:"next_in_line,omitempty"`
}

// DisplayBoard is the aggregate shown on the public screen.
type DisplayBoard struct {
	Serving   []ServingInfo    `json:"serving"`
	Called    []ServingInfo    `json:"called"`
	Waiting   []ServiceWaiting `json:"waiting"`
	Timestamp time.Time        `json:"timestamp"`
}

const displayCalledLimit = 5

// Display builds the display board for one service, or all active services
// when serviceID is 0.
func (e *Engine) Display(ctx context.Context, serviceID int64) (DisplayBoard, error) {
	var services []models.Service
	if serviceID != 0 {
		svc, err := e.store.GetService(ctx, serviceID)
		if err != nil {
			return DisplayBoard{}, storageErr("display", err)
		}
		services = []models.Service{svc}
	} else {
		var err error
		if services, err = e.store.ListServices(ctx, true); err != nil {
			return DisplayBoard{}, storageErr("display", err)
		}
	}

	board := DisplayBoard{
		Serving:   []ServingInfo{},
		Called:    []ServingInfo{},
		Waiting:   make([]ServiceWaiting, 0, len(services)),
		Timestamp: e.now(),
	}
	for _, svc := range services {
		waiting, err := e.store.FindWaitingByService(ctx, svc.ID)
		if err != nil {
			return DisplayBoard{}, storageErr("display", err)
		}
		waiting = OrderWaiting(waiting)
		sw := ServiceWaiting{ServiceID: svc.ID, ServiceName: svc.Name, WaitingCount: len(waiting)}
		if len(waiting) > 0 {
			sw.NextInLine = waiting[0].QueueNumber
		}
		board.Waiting = append(board.Waiting, sw)

		active, err := e.servingInfo(ctx, EntryFilter{ServiceID: svc.ID, Statuses: models.ActiveStatuses})
		if err != nil {
			return DisplayBoard{}, err
		}
		for _, s := range active {
			if s.Status == models.StatusServing {
				board.Serving = append(board.Serving, s)
			} else {
				board.Called = append(board.Called, s)
			}
		}
	}

	sort.SliceStable(board.Called, func(i, j int) bool {
		return later(board.Called[i].CalledAt, board.Called[j].CalledAt)
	})
	if len(board.Called) > displayCalledLimit {
		board.Called = board.Called[:displayCalledLimit]
	}
	return board, nil
}

func (e *Engine) servingInfo(ctx context.Context, f EntryFilter) ([]ServingInfo, error) {
	entries, err := e.store.FindEntries(ctx, f)
	if err != nil {
		return nil, storageErr("serving", err)
	}
	out := make([]ServingInfo, 0, len(entries))
	for _, en := range entries {
		si := ServingInfo{QueueID: en.ID, QueueNumber: en.QueueNumber, Status: en.Status, CalledAt: en.CalledAt}
		if en.CounterID != nil {
			if c, err := e.store.GetCounter(ctx, *en.CounterID); err == nil {
				si.Counter = counterInfo(c)
			}
		}
		out = append(out, si)
	}
	return out, nil
}

func counterInfo(c models.Counter) *CounterInfo {
	return &CounterInfo{ID: c.ID, CounterNumber: c.CounterNumber, Name: c.Name}
}

func later(a, b *time.Time) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	}
	return a.After(*b)
}
