package counter_test

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qtech-backend/internal/counter"
	"qtech-backend/internal/logging"
	"qtech-backend/internal/models"
	"qtech-backend/internal/queue"
	"qtech-backend/internal/storage/memory"
)

func TestMain(m *testing.M) {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
	os.Exit(m.Run())
}

type setup struct {
	store   *memory.Store
	engine  *queue.Engine
	coord   *counter.Coordinator
	svc     models.Service
	counter models.Counter
	staff   models.Principal
}

func newSetup(t *testing.T, guard counter.Guard) *setup {
	t.Helper()
	store := memory.New()
	svc := store.AddService(models.Service{Name: "Registrar", QueuePrefix: "REG", IsActive: true})
	ct := store.AddCounter(models.Counter{ServiceID: svc.ID, CounterNumber: "1", Name: "Window 1", IsActive: true})
	staff := store.AddUser(models.User{Role: models.RoleCounterStaff, IsActive: true})
	store.Assign(staff.ID, ct.ID, true)

	engine := queue.NewEngine(store, nil, nil, queue.Options{})
	return &setup{
		store:   store,
		engine:  engine,
		coord:   counter.NewCoordinator(engine, store, store, guard),
		svc:     svc,
		counter: ct,
		staff:   models.Principal{UserID: staff.ID, Role: models.RoleCounterStaff},
	}
}

func (s *setup) enqueue(t *testing.T) queue.Ticket {
	t.Helper()
	u := s.store.AddUser(models.User{Role: models.RoleStudent, IsActive: true})
	ticket, err := s.engine.RequestQueue(context.Background(), u.ID, s.svc.ID)
	require.NoError(t, err)
	return ticket
}

func TestCoordinator_Authorization(t *testing.T) {
	s := newSetup(t, nil)
	ctx := context.Background()
	s.enqueue(t)

	student := models.Principal{UserID: 99, Role: models.RoleStudent}
	_, err := s.coord.CallNext(ctx, student, s.counter.ID)
	assert.ErrorIs(t, err, queue.ErrForbidden)

	stranger := s.store.AddUser(models.User{Role: models.RoleCounterStaff, IsActive: true})
	_, err = s.coord.CallNext(ctx, models.Principal{UserID: stranger.ID, Role: models.RoleCounterStaff}, s.counter.ID)
	assert.ErrorIs(t, err, queue.ErrForbidden, "staff must be assigned to the counter")

	admin := s.store.AddUser(models.User{Role: models.RoleAdmin, IsActive: true})
	_, err = s.coord.CallNext(ctx, models.Principal{UserID: admin.ID, Role: models.RoleAdmin}, s.counter.ID)
	assert.ErrorIs(t, err, queue.ErrForbidden, "admins need an assignment too")

	waiting, err := s.store.FindWaitingByService(ctx, s.svc.ID)
	require.NoError(t, err)
	assert.Len(t, waiting, 1, "rejected calls change nothing")
}

func TestCoordinator_FullSession(t *testing.T) {
	s := newSetup(t, nil)
	ctx := context.Background()
	ticket := s.enqueue(t)
	s.enqueue(t)

	called, err := s.coord.CallNext(ctx, s.staff, s.counter.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.QueueID, called.ID)

	view, err := s.coord.Detail(ctx, s.staff, s.counter.ID)
	require.NoError(t, err)
	assert.Equal(t, "Registrar", view.ServiceName)
	assert.Equal(t, models.CounterBusy, view.Status)
	require.NotNil(t, view.ActiveEntry)
	assert.Equal(t, ticket.QueueID, view.ActiveEntry.ID)
	assert.Equal(t, 1, view.WaitingCount)

	_, err = s.coord.StartServing(ctx, s.staff, s.counter.ID, ticket.QueueID)
	require.NoError(t, err)
	done, err := s.coord.Complete(ctx, s.staff, s.counter.ID, ticket.QueueID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)

	views, err := s.coord.MyCounters(ctx, s.staff)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, models.CounterOpen, views[0].Status)
	assert.Nil(t, views[0].ActiveEntry)
}

func TestCoordinator_Skip(t *testing.T) {
	s := newSetup(t, nil)
	ctx := context.Background()
	ticket := s.enqueue(t)

	_, err := s.coord.CallNext(ctx, s.staff, s.counter.ID)
	require.NoError(t, err)
	skipped, err := s.coord.Skip(ctx, s.staff, s.counter.ID, ticket.QueueID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSkipped, skipped.Status)
}

func TestCoordinator_SetStatus(t *testing.T) {
	s := newSetup(t, nil)
	ctx := context.Background()

	ct, err := s.coord.SetStatus(ctx, s.staff, s.counter.ID, models.CounterBreak)
	require.NoError(t, err)
	assert.Equal(t, models.CounterBreak, ct.Status)
	s.enqueue(t)
	_, err = s.coord.CallNext(ctx, s.staff, s.counter.ID)
	assert.ErrorIs(t, err, queue.ErrInvalidTransition, "a counter on break cannot call")

	_, err = s.coord.SetStatus(ctx, s.staff, s.counter.ID, models.CounterBusy)
	assert.ErrorIs(t, err, queue.ErrInvalidTransition, "busy is set by call-next only")

	_, err = s.coord.SetStatus(ctx, s.staff, s.counter.ID, models.CounterStatus("lunch"))
	assert.ErrorIs(t, err, queue.ErrInvalidTransition)

	_, err = s.coord.SetStatus(ctx, s.staff, s.counter.ID, models.CounterOpen)
	require.NoError(t, err)
	s.enqueue(t)
	_, err = s.coord.CallNext(ctx, s.staff, s.counter.ID)
	require.NoError(t, err)

	_, err = s.coord.SetStatus(ctx, s.staff, s.counter.ID, models.CounterClosed)
	assert.ErrorIs(t, err, queue.ErrInvalidTransition, "a counter holding an entry cannot close")
}

type heldGuard struct{}

func (heldGuard) Acquire(context.Context, int64) (func(), bool, error) { return nil, false, nil }

type brokenGuard struct{}

func (brokenGuard) Acquire(context.Context, int64) (func(), bool, error) {
	return nil, false, errors.New("redis down")
}

func TestCoordinator_CallNextGuard(t *testing.T) {
	ctx := context.Background()

	held := newSetup(t, heldGuard{})
	held.enqueue(t)
	_, err := held.coord.CallNext(ctx, held.staff, held.counter.ID)
	assert.ErrorIs(t, err, queue.ErrInvalidTransition)

	broken := newSetup(t, brokenGuard{})
	broken.enqueue(t)
	_, err = broken.coord.CallNext(ctx, broken.staff, broken.counter.ID)
	assert.ErrorIs(t, err, queue.ErrStorageUnavailable)
}

func TestCoordinator_CallNextReleasesGuard(t *testing.T) {
	s := newSetup(t, counter.NewLocalGuard())
	ctx := context.Background()

	_, err := s.coord.CallNext(ctx, s.staff, s.counter.ID)
	assert.ErrorIs(t, err, queue.ErrNoneWaiting)

	s.enqueue(t)
	_, err = s.coord.CallNext(ctx, s.staff, s.counter.ID)
	assert.NoError(t, err, "the guard is released after a failed call")
}
