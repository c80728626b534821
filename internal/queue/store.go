package queue

import (
	"context"
	"time"

	"qtech-backend/internal/models"
)

// EntryFilter selects queue entries. Zero-valued fields are ignored. Stores
// translate it into their own query language; callers never build SQL.
type EntryFilter struct {
	ServiceID     int64
	UserID        int64
	CounterID     int64
	Statuses      []models.QueueStatus
	RequestedFrom time.Time // inclusive
	RequestedTo   time.Time // exclusive
	NewestFirst   bool
	Limit         int
	Offset        int
}

// Transition is a conditional status update: it applies only when the row is
// currently in one of From and every Match* field matches. Stores must apply
// it as a single compare-and-swap and report whether a row changed.
type Transition struct {
	EntryID        int64
	From           []models.QueueStatus
	To             models.QueueStatus
	At             time.Time
	SetCounterID   *int64
	MatchCounterID *int64
	MatchUserID    *int64
}

// Tx is the view of the store inside one atomic unit of work. Lock* and
// GetEntry take row locks that are held until the unit commits.
type Tx interface {
	LockUser(ctx context.Context, userID int64) error
	LockService(ctx context.Context, serviceID int64) (models.Service, error)
	LockCounter(ctx context.Context, counterID int64) (models.Counter, error)
	GetEntry(ctx context.Context, entryID int64) (models.QueueEntry, error)
	CountEntries(ctx context.Context, f EntryFilter) (int, error)
	// NextWaiting returns the oldest waiting entry of a service, locked.
	// It returns a NotFound error when nobody is waiting.
	NextWaiting(ctx context.Context, serviceID int64) (models.QueueEntry, error)
	InsertEntry(ctx context.Context, entry *models.QueueEntry) error
	ApplyTransition(ctx context.Context, t Transition) (bool, error)
	UpdateCounter(ctx context.Context, counterID int64, status models.CounterStatus, currentQueueID *int64) error
	AppendLog(ctx context.Context, log *models.QueueLog) error
}

// Store is the durable queue-entry collaborator. Read methods run outside any
// unit of work. Missing rows are reported as NotFound errors; exhausted infra
// retries as StorageUnavailable.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetEntry(ctx context.Context, entryID int64) (models.QueueEntry, error)
	GetService(ctx context.Context, serviceID int64) (models.Service, error)
	GetCounter(ctx context.Context, counterID int64) (models.Counter, error)
	ListServices(ctx context.Context, activeOnly bool) ([]models.Service, error)

	FindEntries(ctx context.Context, f EntryFilter) ([]models.QueueEntry, error)
	CountEntries(ctx context.Context, f EntryFilter) (int, error)
	// FindWaitingByService returns waiting entries ordered by requested_at, id.
	FindWaitingByService(ctx context.Context, serviceID int64) ([]models.QueueEntry, error)
}

// SettingsProvider supplies the current system settings.
type SettingsProvider interface {
	Current(ctx context.Context) (models.SystemSettings, error)
}

// Change describes one committed transition.
type Change struct {
	Action  models.QueueAction
	Entry   models.QueueEntry
	Counter *models.Counter
	ActorID int64
	At      time.Time
}

// Notifier receives committed changes. Implementations must not block the
// caller for long and must swallow their own delivery failures.
type Notifier interface {
	Notify(ctx context.Context, change Change)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Change) {}
