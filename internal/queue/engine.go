// Package queue implements the queue-entry lifecycle: admission, call-next,
// start, complete, cancel and skip. Every transition is one unit of work
// against the Store whose precondition check and mutation happen together;
// committed changes are then handed to a Notifier.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"qtech-backend/internal/logging"
	"qtech-backend/internal/metrics"
	"qtech-backend/internal/models"
)

// CapScope says whether the per-user cap counts entries of one service or of
// all services.
type CapScope string

const (
	CapPerService CapScope = "service"
	CapGlobal     CapScope = "global"
)

type Options struct {
	Location *time.Location
	CapScope CapScope
	Now      func() time.Time
}

type Engine struct {
	store    Store
	settings SettingsProvider
	notifier Notifier
	loc      *time.Location
	capScope CapScope
	now      func() time.Time
	log      zerolog.Logger
}

func NewEngine(store Store, settings SettingsProvider, notifier Notifier, opts Options) *Engine {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.CapScope == "" {
		opts.CapScope = CapPerService
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		store:    store,
		settings: settings,
		notifier: notifier,
		loc:      opts.Location,
		capScope: opts.CapScope,
		now:      opts.Now,
		log:      logging.With("queue"),
	}
}

// Ticket is the result of a successful admission.
type Ticket struct {
	Entry                models.QueueEntry `json:"entry"`
	QueueID              int64             `json:"queue_id"`
	QueueNumber          string            `json:"queue_number"`
	Position             int               `json:"position"`
	EstimatedWaitMinutes int               `json:"estimated_wait_minutes"`
}

// RequestQueue admits userID into the queue of serviceID.
func (e *Engine) RequestQueue(ctx context.Context, userID, serviceID int64) (Ticket, error) {
	const op = "request"
	settings := e.currentSettings(ctx)
	if settings.SystemMaintenanceMode {
		return Ticket{}, e.reject(op, NewError(KindServiceInactive, op, "service", serviceID))
	}

	var (
		entry models.QueueEntry
		svc   models.Service
		now   time.Time
	)
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if err = tx.LockUser(ctx, userID); err != nil {
			return err
		}
		if svc, err = tx.LockService(ctx, serviceID); err != nil {
			return err
		}
		// requested_at orders call-next, so it is taken under the service
		// lock together with the position and sequence.
		now = e.now()
		if !svc.IsActive || !WithinOperatingHours(svc, now, e.loc) {
			return NewError(KindServiceInactive, op, "service", serviceID)
		}

		capFilter := EntryFilter{UserID: userID, Statuses: models.PendingStatuses}
		if e.capScope == CapPerService {
			capFilter.ServiceID = serviceID
		}
		mine, err := tx.CountEntries(ctx, capFilter)
		if err != nil {
			return err
		}
		if settings.MaxQueuePerUser > 0 && mine >= settings.MaxQueuePerUser {
			return NewError(KindUserLimitExceeded, op, "user", userID)
		}

		pending, err := tx.CountEntries(ctx, EntryFilter{ServiceID: serviceID, Statuses: models.PendingStatuses})
		if err != nil {
			return err
		}
		if svc.MaxQueueSize > 0 && pending >= svc.MaxQueueSize {
			return NewError(KindCapacityExceeded, op, "service", serviceID)
		}

		waiting, err := tx.CountEntries(ctx, EntryFilter{ServiceID: serviceID, Statuses: []models.QueueStatus{models.StatusWaiting}})
		if err != nil {
			return err
		}
		dayStart, dayEnd := DayBounds(now, e.loc)
		issued, err := tx.CountEntries(ctx, EntryFilter{ServiceID: serviceID, RequestedFrom: dayStart, RequestedTo: dayEnd})
		if err != nil {
			return err
		}

		position := AdmissionPosition(waiting)
		entry = models.QueueEntry{
			UserID:            userID,
			ServiceID:         serviceID,
			QueueNumber:       FormatQueueNumber(Prefix(svc, settings.QueueNumberPrefix), issued+1),
			QueuePosition:     position,
			Status:            models.StatusWaiting,
			EstimatedWaitTime: EstimatedWait(position, svc),
			RequestedAt:       now,
		}
		if err := tx.InsertEntry(ctx, &entry); err != nil {
			return err
		}
		return tx.AppendLog(ctx, &models.QueueLog{
			QueueEntryID:    entry.ID,
			ServiceID:       serviceID,
			ActorUserID:     userID,
			Action:          models.ActionRequested,
			ActionTimestamp: now,
			Metadata:        map[string]string{"queue_number": entry.QueueNumber},
		})
	})
	if err != nil {
		return Ticket{}, e.reject(op, storageErr(op, err))
	}

	e.committed(ctx, Change{Action: models.ActionRequested, Entry: entry, ActorID: userID, At: now})
	return Ticket{
		Entry:                entry,
		QueueID:              entry.ID,
		QueueNumber:          entry.QueueNumber,
		Position:             entry.QueuePosition,
		EstimatedWaitMinutes: entry.EstimatedWaitTime,
	}, nil
}

// CallNext binds the oldest waiting entry of the counter's service to the
// counter. It fails with InvalidTransition while the counter still holds a
// called or serving entry or is closed or on break, and with NoneWaiting
// when nobody waits.
func (e *Engine) CallNext(ctx context.Context, counterID, actorID int64) (models.QueueEntry, error) {
	const op = "call_next"
	now := e.now()

	var (
		entry   models.QueueEntry
		counter models.Counter
	)
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if counter, err = tx.LockCounter(ctx, counterID); err != nil {
			return err
		}
		// closed and break are staff-controlled pauses.
		if !counter.IsActive || counter.Status == models.CounterClosed || counter.Status == models.CounterBreak {
			return NewError(KindInvalidTransition, op, "counter", counterID)
		}
		held, err := tx.CountEntries(ctx, EntryFilter{CounterID: counterID, Statuses: models.ActiveStatuses})
		if err != nil {
			return err
		}
		if held > 0 {
			return NewError(KindInvalidTransition, op, "counter", counterID)
		}

		next, err := tx.NextWaiting(ctx, counter.ServiceID)
		if errors.Is(err, ErrNotFound) {
			return NewError(KindNoneWaiting, op, "service", counter.ServiceID)
		}
		if err != nil {
			return err
		}

		ok, err := tx.ApplyTransition(ctx, Transition{
			EntryID:      next.ID,
			From:         []models.QueueStatus{models.StatusWaiting},
			To:           models.StatusCalled,
			At:           now,
			SetCounterID: &counterID,
		})
		if err != nil {
			return err
		}
		if !ok {
			return NewError(KindInvalidTransition, op, "queue_entry", next.ID)
		}

		entry = next
		entry.Status = models.StatusCalled
		entry.CounterID = &counterID
		entry.CalledAt = &now

		counter.Status = models.CounterBusy
		counter.CurrentServingQueueID = &entry.ID
		if err := tx.UpdateCounter(ctx, counterID, models.CounterBusy, &entry.ID); err != nil {
			return err
		}
		return tx.AppendLog(ctx, transitionLog(entry, counterID, actorID, models.ActionCalled, now))
	})
	if err != nil {
		return models.QueueEntry{}, e.reject(op, storageErr(op, err))
	}

	e.committed(ctx, Change{Action: models.ActionCalled, Entry: entry, Counter: &counter, ActorID: actorID, At: now})
	return entry, nil
}

// StartServing moves an entry called at counterID to serving.
func (e *Engine) StartServing(ctx context.Context, counterID, queueID, actorID int64) (models.QueueEntry, error) {
	return e.counterTransition(ctx, "start_serving", counterID, queueID, actorID,
		[]models.QueueStatus{models.StatusCalled}, models.StatusServing, models.ActionStartedServing)
}

// Complete finishes an entry that is called or serving at counterID.
func (e *Engine) Complete(ctx context.Context, counterID, queueID, actorID int64) (models.QueueEntry, error) {
	return e.counterTransition(ctx, "complete", counterID, queueID, actorID,
		models.ActiveStatuses, models.StatusCompleted, models.ActionCompleted)
}

// Skip marks an entry as skipped. A called entry must be held by counterID;
// a waiting entry must belong to the counter's service.
func (e *Engine) Skip(ctx context.Context, counterID, queueID, actorID int64) (models.QueueEntry, error) {
	const op = "skip"
	now := e.now()

	var (
		entry   models.QueueEntry
		counter models.Counter
	)
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if counter, err = tx.LockCounter(ctx, counterID); err != nil {
			return err
		}
		if entry, err = tx.GetEntry(ctx, queueID); err != nil {
			return err
		}

		t := Transition{EntryID: queueID, To: models.StatusSkipped, At: now}
		switch {
		case entry.Status == models.StatusWaiting && entry.ServiceID == counter.ServiceID:
			t.From = []models.QueueStatus{models.StatusWaiting}
		case entry.Status == models.StatusCalled && sameID(entry.CounterID, counterID):
			t.From = []models.QueueStatus{models.StatusCalled}
			t.MatchCounterID = &counterID
		default:
			return NewError(KindInvalidTransition, op, "queue_entry", queueID)
		}

		ok, err := tx.ApplyTransition(ctx, t)
		if err != nil {
			return err
		}
		if !ok {
			return NewError(KindInvalidTransition, op, "queue_entry", queueID)
		}

		heldHere := entry.Status == models.StatusCalled
		entry.Status = models.StatusSkipped
		entry.SkippedAt = &now
		if heldHere {
			counter.Status = models.CounterOpen
			counter.CurrentServingQueueID = nil
			if err := tx.UpdateCounter(ctx, counterID, models.CounterOpen, nil); err != nil {
				return err
			}
		}
		return tx.AppendLog(ctx, transitionLog(entry, counterID, actorID, models.ActionSkipped, now))
	})
	if err != nil {
		return models.QueueEntry{}, e.reject(op, storageErr(op, err))
	}

	e.committed(ctx, Change{Action: models.ActionSkipped, Entry: entry, Counter: &counter, ActorID: actorID, At: now})
	return entry, nil
}

// CancelQueue withdraws a waiting entry on behalf of its owner.
func (e *Engine) CancelQueue(ctx context.Context, queueID, userID int64) (models.QueueEntry, error) {
	const op = "cancel"
	now := e.now()

	var entry models.QueueEntry
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if entry, err = tx.GetEntry(ctx, queueID); err != nil {
			return err
		}
		if entry.UserID != userID {
			return NewError(KindForbidden, op, "queue_entry", queueID)
		}
		ok, err := tx.ApplyTransition(ctx, Transition{
			EntryID:     queueID,
			From:        []models.QueueStatus{models.StatusWaiting},
			To:          models.StatusCancelled,
			At:          now,
			MatchUserID: &userID,
		})
		if err != nil {
			return err
		}
		if !ok {
			return NewError(KindInvalidTransition, op, "queue_entry", queueID)
		}
		entry.Status = models.StatusCancelled
		entry.CancelledAt = &now

		return tx.AppendLog(ctx, &models.QueueLog{
			QueueEntryID:    entry.ID,
			ServiceID:       entry.ServiceID,
			ActorUserID:     userID,
			Action:          models.ActionCancelled,
			ActionTimestamp: now,
		})
	})
	if err != nil {
		return models.QueueEntry{}, e.reject(op, storageErr(op, err))
	}

	e.committed(ctx, Change{Action: models.ActionCancelled, Entry: entry, ActorID: userID, At: now})
	return entry, nil
}

func (e *Engine) counterTransition(ctx context.Context, op string, counterID, queueID, actorID int64,
	from []models.QueueStatus, to models.QueueStatus, action models.QueueAction) (models.QueueEntry, error) {
	now := e.now()

	var (
		entry   models.QueueEntry
		counter models.Counter
	)
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if counter, err = tx.LockCounter(ctx, counterID); err != nil {
			return err
		}
		ok, err := tx.ApplyTransition(ctx, Transition{
			EntryID:        queueID,
			From:           from,
			To:             to,
			At:             now,
			MatchCounterID: &counterID,
		})
		if err != nil {
			return err
		}
		// Re-read either way: it tells NotFound from a failed precondition
		// and returns the row as committed.
		if entry, err = tx.GetEntry(ctx, queueID); err != nil {
			return err
		}
		if !ok {
			return NewError(KindInvalidTransition, op, "queue_entry", queueID)
		}

		if to.Terminal() {
			counter.Status = models.CounterOpen
			counter.CurrentServingQueueID = nil
			if err := tx.UpdateCounter(ctx, counterID, models.CounterOpen, nil); err != nil {
				return err
			}
		}
		return tx.AppendLog(ctx, transitionLog(entry, counterID, actorID, action, now))
	})
	if err != nil {
		return models.QueueEntry{}, e.reject(op, storageErr(op, err))
	}

	e.committed(ctx, Change{Action: action, Entry: entry, Counter: &counter, ActorID: actorID, At: now})
	return entry, nil
}

func transitionLog(entry models.QueueEntry, counterID, actorID int64, action models.QueueAction, at time.Time) *models.QueueLog {
	return &models.QueueLog{
		QueueEntryID:    entry.ID,
		ServiceID:       entry.ServiceID,
		CounterID:       &counterID,
		ActorUserID:     actorID,
		Action:          action,
		ActionTimestamp: at,
	}
}

func (e *Engine) currentSettings(ctx context.Context) models.SystemSettings {
	if e.settings == nil {
		return models.DefaultSettings()
	}
	s, err := e.settings.Current(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("settings unavailable, using defaults")
		return models.DefaultSettings()
	}
	return s
}

// committed runs after the unit of work is durable. Delivery problems are the
// notifier's to log; they never undo the transition.
func (e *Engine) committed(ctx context.Context, change Change) {
	metrics.QueueTransitions.WithLabelValues(string(change.Action)).Inc()
	e.log.Info().
		Str("action", string(change.Action)).
		Int64("queue_id", change.Entry.ID).
		Str("queue_number", change.Entry.QueueNumber).
		Int64("service_id", change.Entry.ServiceID).
		Int64("actor_id", change.ActorID).
		Msg("queue transition")
	e.notifier.Notify(context.WithoutCancel(ctx), change)
}

func (e *Engine) reject(op string, err error) error {
	kind := KindOf(err)
	metrics.QueueRejections.WithLabelValues(op, string(kind)).Inc()
	if kind == KindStorageUnavailable {
		e.log.Error().Err(err).Str("op", op).Msg("queue storage failure")
	}
	return err
}

func sameID(p *int64, id int64) bool {
	return p != nil && *p == id
}
