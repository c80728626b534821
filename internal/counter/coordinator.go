// Package counter binds staff principals to the counters they operate and
// routes their actions to the queue engine.
package counter

import (
	"context"

	"github.com/rs/zerolog"

	"qtech-backend/internal/logging"
	"qtech-backend/internal/models"
	"qtech-backend/internal/queue"
)

// Directory answers which counters a staff user may operate.
type Directory interface {
	AssignedCounters(ctx context.Context, userID int64) ([]models.Counter, error)
	IsAssigned(ctx context.Context, userID, counterID int64) (bool, error)
}

type Coordinator struct {
	engine *queue.Engine
	store  queue.Store
	dir    Directory
	guard  Guard
	log    zerolog.Logger
}

func NewCoordinator(engine *queue.Engine, store queue.Store, dir Directory, guard Guard) *Coordinator {
	if guard == nil {
		guard = NewLocalGuard()
	}
	return &Coordinator{
		engine: engine,
		store:  store,
		dir:    dir,
		guard:  guard,
		log:    logging.With("counter"),
	}
}

// View is a counter with its live workload.
type View struct {
	models.Counter
	ServiceName  string             `json:"service_name"`
	ActiveEntry  *models.QueueEntry `json:"active_entry"`
	WaitingCount int                `json:"waiting_count"`
}

func (c *Coordinator) MyCounters(ctx context.Context, p models.Principal) ([]View, error) {
	if !isStaff(p) {
		return nil, queue.NewError(queue.KindForbidden, "my_counters", "user", p.UserID)
	}
	counters, err := c.dir.AssignedCounters(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	out := make([]View, 0, len(counters))
	for _, ct := range counters {
		v, err := c.view(ctx, ct)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *Coordinator) Detail(ctx context.Context, p models.Principal, counterID int64) (View, error) {
	if err := c.authorize(ctx, "counter_detail", p, counterID); err != nil {
		return View{}, err
	}
	ct, err := c.store.GetCounter(ctx, counterID)
	if err != nil {
		return View{}, err
	}
	return c.view(ctx, ct)
}

// SetStatus changes the staff-controlled state of a counter. busy is owned
// by the engine, and a counter holding an entry cannot be reopened, closed
// or put on break until that entry is finished.
func (c *Coordinator) SetStatus(ctx context.Context, p models.Principal, counterID int64, status models.CounterStatus) (models.Counter, error) {
	const op = "counter_status"
	if err := c.authorize(ctx, op, p, counterID); err != nil {
		return models.Counter{}, err
	}
	if !status.Valid() || status == models.CounterBusy {
		return models.Counter{}, queue.NewError(queue.KindInvalidTransition, op, "counter", counterID)
	}

	var ct models.Counter
	err := c.store.InTx(ctx, func(ctx context.Context, tx queue.Tx) error {
		var err error
		if ct, err = tx.LockCounter(ctx, counterID); err != nil {
			return err
		}
		held, err := tx.CountEntries(ctx, queue.EntryFilter{CounterID: counterID, Statuses: models.ActiveStatuses})
		if err != nil {
			return err
		}
		if held > 0 {
			return queue.NewError(queue.KindInvalidTransition, op, "counter", counterID)
		}
		ct.Status = status
		ct.CurrentServingQueueID = nil
		return tx.UpdateCounter(ctx, counterID, status, nil)
	})
	if err != nil {
		return models.Counter{}, err
	}
	c.log.Info().Int64("counter_id", counterID).Str("status", string(status)).Int64("actor_id", p.UserID).Msg("counter status changed")
	return ct, nil
}

// CallNext binds the next waiting entry to the counter. A second call-next
// for the same counter while one is in flight fails with InvalidTransition.
func (c *Coordinator) CallNext(ctx context.Context, p models.Principal, counterID int64) (models.QueueEntry, error) {
	const op = "call_next"
	if err := c.authorize(ctx, op, p, counterID); err != nil {
		return models.QueueEntry{}, err
	}

	release, ok, err := c.guard.Acquire(ctx, counterID)
	if err != nil {
		return models.QueueEntry{}, &queue.Error{Kind: queue.KindStorageUnavailable, Op: op, Err: err}
	}
	if !ok {
		return models.QueueEntry{}, queue.NewError(queue.KindInvalidTransition, op, "counter", counterID)
	}
	defer release()

	return c.engine.CallNext(ctx, counterID, p.UserID)
}

func (c *Coordinator) StartServing(ctx context.Context, p models.Principal, counterID, queueID int64) (models.QueueEntry, error) {
	if err := c.authorize(ctx, "start_serving", p, counterID); err != nil {
		return models.QueueEntry{}, err
	}
	return c.engine.StartServing(ctx, counterID, queueID, p.UserID)
}

func (c *Coordinator) Complete(ctx context.Context, p models.Principal, counterID, queueID int64) (models.QueueEntry, error) {
	if err := c.authorize(ctx, "complete", p, counterID); err != nil {
		return models.QueueEntry{}, err
	}
	return c.engine.Complete(ctx, counterID, queueID, p.UserID)
}

func (c *Coordinator) Skip(ctx context.Context, p models.Principal, counterID, queueID int64) (models.QueueEntry, error) {
	if err := c.authorize(ctx, "skip", p, counterID); err != nil {
		return models.QueueEntry{}, err
	}
	return c.engine.Skip(ctx, counterID, queueID, p.UserID)
}

// authorize checks that p is staff assigned to counterID. Assignment is the
// only source of permission; the primary flag does not matter.
func (c *Coordinator) authorize(ctx context.Context, op string, p models.Principal, counterID int64) error {
	if !isStaff(p) {
		return queue.NewError(queue.KindForbidden, op, "counter", counterID)
	}
	ok, err := c.dir.IsAssigned(ctx, p.UserID, counterID)
	if err != nil {
		return err
	}
	if !ok {
		c.log.Warn().Str("op", op).Int64("user_id", p.UserID).Int64("counter_id", counterID).Msg("counter action by unassigned user")
		return queue.NewError(queue.KindForbidden, op, "counter", counterID)
	}
	return nil
}

func (c *Coordinator) view(ctx context.Context, ct models.Counter) (View, error) {
	v := View{Counter: ct}
	if svc, err := c.store.GetService(ctx, ct.ServiceID); err == nil {
		v.ServiceName = svc.Name
	}
	active, err := c.store.FindEntries(ctx, queue.EntryFilter{CounterID: ct.ID, Statuses: models.ActiveStatuses, Limit: 1})
	if err != nil {
		return View{}, err
	}
	if len(active) > 0 {
		v.ActiveEntry = &active[0]
	}
	if v.WaitingCount, err = c.store.CountEntries(ctx, queue.EntryFilter{
		ServiceID: ct.ServiceID,
		Statuses:  []models.QueueStatus{models.StatusWaiting},
	}); err != nil {
		return View{}, err
	}
	return v, nil
}

func isStaff(p models.Principal) bool {
	return p.Role == models.RoleCounterStaff || p.Role == models.RoleAdmin
}
