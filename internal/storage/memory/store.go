// Package memory is an in-process queue.Store. A single mutex stands in for
// transactional isolation: a unit of work runs with the store locked and its
// writes are rolled back when it returns an error.
package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"qtech-backend/internal/models"
	"qtech-backend/internal/queue"
)

type Store struct {
	mu sync.Mutex

	nextID      int64
	services    map[int64]models.Service
	counters    map[int64]models.Counter
	entries     map[int64]models.QueueEntry
	logs        []models.QueueLog
	users       map[int64]models.User
	assignments []models.CounterAssignment
	settings    *models.SystemSettings

	// loc decides the calendar day queue numbers are unique within.
	loc *time.Location
}

type Option func(*Store)

// WithLocation sets the business timezone. The default is time.Local.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		services: make(map[int64]models.Service),
		counters: make(map[int64]models.Counter),
		entries:  make(map[int64]models.QueueEntry),
		users:    make(map[int64]models.User),
		loc:      time.Local,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ queue.Store = (*Store)(nil)

/*
|--------------------------------------------------------------------------
| SEEDING
|--------------------------------------------------------------------------
*/

func (s *Store) AddService(svc models.Service) models.Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	if svc.ID == 0 {
		svc.ID = s.id()
	}
	s.services[svc.ID] = svc
	return svc
}

func (s *Store) AddCounter(c models.Counter) models.Counter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.id()
	}
	if c.Status == "" {
		c.Status = models.CounterOpen
	}
	s.counters[c.ID] = c
	return c
}

func (s *Store) AddUser(u models.User) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == 0 {
		u.ID = s.id()
	}
	s.users[u.ID] = u
	return u
}

func (s *Store) Assign(userID, counterID int64, primary bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments = append(s.assignments, models.CounterAssignment{
		UserID:     userID,
		CounterID:  counterID,
		IsPrimary:  primary,
		AssignedAt: time.Now(),
	})
}

// Logs returns a copy of the audit trail of one entry.
func (s *Store) Logs(entryID int64) []models.QueueLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.QueueLog
	for _, l := range s.logs {
		if l.QueueEntryID == entryID {
			out = append(out, l)
		}
	}
	return out
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

/*
|--------------------------------------------------------------------------
| UNIT OF WORK
|--------------------------------------------------------------------------
*/

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx queue.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := s.snapshot()
	if err := fn(ctx, &tx{s: s}); err != nil {
		s.restore(saved)
		return err
	}
	return nil
}

type snapshot struct {
	nextID   int64
	counters map[int64]models.Counter
	entries  map[int64]models.QueueEntry
	logs     int
}

func (s *Store) snapshot() snapshot {
	counters := make(map[int64]models.Counter, len(s.counters))
	for k, v := range s.counters {
		counters[k] = v
	}
	entries := make(map[int64]models.QueueEntry, len(s.entries))
	for k, v := range s.entries {
		entries[k] = v
	}
	return snapshot{nextID: s.nextID, counters: counters, entries: entries, logs: len(s.logs)}
}

func (s *Store) restore(sn snapshot) {
	s.nextID = sn.nextID
	s.counters = sn.counters
	s.entries = sn.entries
	s.logs = s.logs[:sn.logs]
}

type tx struct {
	s *Store
}

// LockUser is a no-op: the store mutex already serialises every unit.
func (t *tx) LockUser(context.Context, int64) error { return nil }

func (t *tx) LockService(_ context.Context, serviceID int64) (models.Service, error) {
	return t.s.service(serviceID)
}

func (t *tx) LockCounter(_ context.Context, counterID int64) (models.Counter, error) {
	return t.s.counter(counterID)
}

func (t *tx) GetEntry(_ context.Context, entryID int64) (models.QueueEntry, error) {
	return t.s.entry(entryID)
}

func (t *tx) CountEntries(_ context.Context, f queue.EntryFilter) (int, error) {
	return len(t.s.find(f)), nil
}

func (t *tx) NextWaiting(_ context.Context, serviceID int64) (models.QueueEntry, error) {
	waiting := t.s.find(queue.EntryFilter{ServiceID: serviceID, Statuses: []models.QueueStatus{models.StatusWaiting}, Limit: 1})
	if len(waiting) == 0 {
		return models.QueueEntry{}, queue.NewError(queue.KindNotFound, "next_waiting", "service", serviceID)
	}
	return waiting[0], nil
}

func (t *tx) InsertEntry(_ context.Context, entry *models.QueueEntry) error {
	start, end := queue.DayBounds(entry.RequestedAt, t.s.loc)
	for _, e := range t.s.entries {
		if e.ServiceID != entry.ServiceID || e.QueueNumber != entry.QueueNumber {
			continue
		}
		if !e.RequestedAt.Before(start) && e.RequestedAt.Before(end) {
			return errDuplicate
		}
	}
	entry.ID = t.s.id()
	t.s.entries[entry.ID] = *entry
	return nil
}

func (t *tx) ApplyTransition(_ context.Context, tr queue.Transition) (bool, error) {
	e, ok := t.s.entries[tr.EntryID]
	if !ok || !slices.Contains(tr.From, e.Status) {
		return false, nil
	}
	if tr.MatchCounterID != nil && (e.CounterID == nil || *e.CounterID != *tr.MatchCounterID) {
		return false, nil
	}
	if tr.MatchUserID != nil && e.UserID != *tr.MatchUserID {
		return false, nil
	}

	at := tr.At
	e.Status = tr.To
	switch tr.To {
	case models.StatusCalled:
		e.CalledAt = &at
	case models.StatusServing:
		e.StartedServingAt = &at
	case models.StatusCompleted:
		e.CompletedAt = &at
	case models.StatusCancelled:
		e.CancelledAt = &at
	case models.StatusSkipped:
		e.SkippedAt = &at
	}
	if tr.SetCounterID != nil {
		id := *tr.SetCounterID
		e.CounterID = &id
	}
	t.s.entries[e.ID] = e
	return true, nil
}

func (t *tx) UpdateCounter(_ context.Context, counterID int64, status models.CounterStatus, currentQueueID *int64) error {
	c, err := t.s.counter(counterID)
	if err != nil {
		return err
	}
	c.Status = status
	c.CurrentServingQueueID = currentQueueID
	c.UpdatedAt = time.Now()
	t.s.counters[counterID] = c
	return nil
}

func (t *tx) AppendLog(_ context.Context, log *models.QueueLog) error {
	log.ID = int64(len(t.s.logs) + 1)
	t.s.logs = append(t.s.logs, *log)
	return nil
}

/*
|--------------------------------------------------------------------------
| READS
|--------------------------------------------------------------------------
*/

func (s *Store) GetEntry(_ context.Context, entryID int64) (models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry(entryID)
}

func (s *Store) GetService(_ context.Context, serviceID int64) (models.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.service(serviceID)
}

func (s *Store) GetCounter(_ context.Context, counterID int64) (models.Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter(counterID)
}

func (s *Store) ListServices(_ context.Context, activeOnly bool) ([]models.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Service, 0, len(s.services))
	for _, svc := range s.services {
		if activeOnly && !svc.IsActive {
			continue
		}
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out, nil
}

func (s *Store) FindEntries(_ context.Context, f queue.EntryFilter) ([]models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.find(f), nil
}

func (s *Store) CountEntries(_ context.Context, f queue.EntryFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.find(f)), nil
}

func (s *Store) FindWaitingByService(_ context.Context, serviceID int64) ([]models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.find(queue.EntryFilter{ServiceID: serviceID, Statuses: []models.QueueStatus{models.StatusWaiting}}), nil
}

func (s *Store) entry(id int64) (models.QueueEntry, error) {
	e, ok := s.entries[id]
	if !ok {
		return models.QueueEntry{}, queue.NewError(queue.KindNotFound, "get", "queue_entry", id)
	}
	return e, nil
}

func (s *Store) service(id int64) (models.Service, error) {
	svc, ok := s.services[id]
	if !ok {
		return models.Service{}, queue.NewError(queue.KindNotFound, "get", "service", id)
	}
	return svc, nil
}

func (s *Store) counter(id int64) (models.Counter, error) {
	c, ok := s.counters[id]
	if !ok {
		return models.Counter{}, queue.NewError(queue.KindNotFound, "get", "counter", id)
	}
	return c, nil
}

func (s *Store) find(f queue.EntryFilter) []models.QueueEntry {
	var out []models.QueueEntry
	for _, e := range s.entries {
		if matches(e, f) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if f.NewestFirst {
			a, b = b, a
		}
		if !a.RequestedAt.Equal(b.RequestedAt) {
			return a.RequestedAt.Before(b.RequestedAt)
		}
		return a.ID < b.ID
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func matches(e models.QueueEntry, f queue.EntryFilter) bool {
	switch {
	case f.ServiceID != 0 && e.ServiceID != f.ServiceID:
		return false
	case f.UserID != 0 && e.UserID != f.UserID:
		return false
	case f.CounterID != 0 && (e.CounterID == nil || *e.CounterID != f.CounterID):
		return false
	case len(f.Statuses) > 0 && !slices.Contains(f.Statuses, e.Status):
		return false
	case !f.RequestedFrom.IsZero() && e.RequestedAt.Before(f.RequestedFrom):
		return false
	case !f.RequestedTo.IsZero() && !e.RequestedAt.Before(f.RequestedTo):
		return false
	}
	return true
}
