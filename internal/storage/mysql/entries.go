package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"qtech-backend/internal/models"
	"qtech-backend/internal/queue"
)

const entryColumns = `id, user_id, service_id, counter_id, queue_number, queue_position, status,
	estimated_wait_time, requested_at, called_at, started_serving_at, completed_at, cancelled_at, skipped_at`

const serviceColumns = `id, name, location, estimated_service_time, max_queue_size, queue_prefix,
	operating_hours_start, operating_hours_end, is_active, created_at, updated_at`

const counterColumns = `id, service_id, counter_number, name, status, current_serving_queue_id,
	is_active, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (models.QueueEntry, error) {
	var e models.QueueEntry
	var counterID sql.NullInt64
	var called, started, completed, cancelled, skipped sql.NullTime
	err := s.Scan(&e.ID, &e.UserID, &e.ServiceID, &counterID, &e.QueueNumber, &e.QueuePosition, &e.Status,
		&e.EstimatedWaitTime, &e.RequestedAt, &called, &started, &completed, &cancelled, &skipped)
	if err != nil {
		return e, err
	}
	e.CounterID = nullInt(counterID)
	e.CalledAt = nullTime(called)
	e.StartedServingAt = nullTime(started)
	e.CompletedAt = nullTime(completed)
	e.CancelledAt = nullTime(cancelled)
	e.SkippedAt = nullTime(skipped)
	return e, nil
}

func scanService(s scanner) (models.Service, error) {
	var (
		svc               models.Service
		location, prefix  sql.NullString
		openAt, closingAt sql.NullString
	)
	err := s.Scan(&svc.ID, &svc.Name, &location, &svc.EstimatedServiceTime, &svc.MaxQueueSize, &prefix,
		&openAt, &closingAt, &svc.IsActive, &svc.CreatedAt, &svc.UpdatedAt)
	svc.Location = location.String
	svc.QueuePrefix = prefix.String
	svc.OperatingHoursStart = openAt.String
	svc.OperatingHoursEnd = closingAt.String
	return svc, err
}

func scanCounter(s scanner) (models.Counter, error) {
	var (
		c       models.Counter
		name    sql.NullString
		current sql.NullInt64
	)
	err := s.Scan(&c.ID, &c.ServiceID, &c.CounterNumber, &name, &c.Status, &current,
		&c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	c.Name = name.String
	c.CurrentServingQueueID = nullInt(current)
	return c, err
}

func nullInt(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullTime(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	v := n.Time
	return &v
}

// whereEntries renders an EntryFilter as a WHERE clause.
func whereEntries(f queue.EntryFilter) (string, []any) {
	query := " WHERE 1=1"
	var args []any

	if f.ServiceID != 0 {
		query += " AND service_id = ?"
		args = append(args, f.ServiceID)
	}
	if f.UserID != 0 {
		query += " AND user_id = ?"
		args = append(args, f.UserID)
	}
	if f.CounterID != 0 {
		query += " AND counter_id = ?"
		args = append(args, f.CounterID)
	}
	if len(f.Statuses) > 0 {
		query += " AND status IN (" + placeholders(len(f.Statuses)) + ")"
		for _, s := range f.Statuses {
			args = append(args, s)
		}
	}
	if !f.RequestedFrom.IsZero() {
		query += " AND requested_at >= ?"
		args = append(args, f.RequestedFrom)
	}
	if !f.RequestedTo.IsZero() {
		query += " AND requested_at < ?"
		args = append(args, f.RequestedTo)
	}
	return query, args
}

func orderEntries(f queue.EntryFilter, args []any) (string, []any) {
	query := " ORDER BY requested_at ASC, id ASC"
	if f.NewestFirst {
		query = " ORDER BY requested_at DESC, id DESC"
	}
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}
	return query, args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func findEntries(ctx context.Context, q querier, f queue.EntryFilter) ([]models.QueueEntry, error) {
	where, args := whereEntries(f)
	order, args := orderEntries(f, args)
	rows, err := q.QueryContext(ctx, "SELECT "+entryColumns+" FROM queue_entries"+where+order, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []models.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func countEntries(ctx context.Context, q querier, f queue.EntryFilter) (int, error) {
	where, args := whereEntries(f)
	var n int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM queue_entries"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

/*
|--------------------------------------------------------------------------
| UNIT OF WORK
|--------------------------------------------------------------------------
*/

type txn struct {
	q querier
}

func (t *txn) LockUser(ctx context.Context, userID int64) error {
	var id int64
	err := t.q.QueryRowContext(ctx, "SELECT id FROM users WHERE id = ? FOR UPDATE", userID).Scan(&id)
	return notFound(err, "lock", "user", userID)
}

func (t *txn) LockService(ctx context.Context, serviceID int64) (models.Service, error) {
	svc, err := scanService(t.q.QueryRowContext(ctx,
		"SELECT "+serviceColumns+" FROM services WHERE id = ? FOR UPDATE", serviceID))
	return svc, notFound(err, "lock", "service", serviceID)
}

func (t *txn) LockCounter(ctx context.Context, counterID int64) (models.Counter, error) {
	c, err := scanCounter(t.q.QueryRowContext(ctx,
		"SELECT "+counterColumns+" FROM counters WHERE id = ? FOR UPDATE", counterID))
	return c, notFound(err, "lock", "counter", counterID)
}

func (t *txn) GetEntry(ctx context.Context, entryID int64) (models.QueueEntry, error) {
	e, err := scanEntry(t.q.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM queue_entries WHERE id = ? FOR UPDATE", entryID))
	return e, notFound(err, "get", "queue_entry", entryID)
}

func (t *txn) CountEntries(ctx context.Context, f queue.EntryFilter) (int, error) {
	return countEntries(ctx, t.q, f)
}

func (t *txn) NextWaiting(ctx context.Context, serviceID int64) (models.QueueEntry, error) {
	e, err := scanEntry(t.q.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM queue_entries WHERE service_id = ? AND status = ?"+
			" ORDER BY requested_at ASC, id ASC LIMIT 1 FOR UPDATE SKIP LOCKED",
		serviceID, models.StatusWaiting))
	return e, notFound(err, "next_waiting", "service", serviceID)
}

func (t *txn) InsertEntry(ctx context.Context, e *models.QueueEntry) error {
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO queue_entries
			(user_id, service_id, queue_number, queue_position, status, estimated_wait_time, requested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.UserID, e.ServiceID, e.QueueNumber, e.QueuePosition, e.Status, e.EstimatedWaitTime, e.RequestedAt)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert entry id: %w", err)
	}
	e.ID = id
	return nil
}

var transitionColumn = map[models.QueueStatus]string{
	models.StatusCalled:    "called_at",
	models.StatusServing:   "started_serving_at",
	models.StatusCompleted: "completed_at",
	models.StatusCancelled: "cancelled_at",
	models.StatusSkipped:   "skipped_at",
}

// ApplyTransition is a single conditional UPDATE; the affected-row count
// says whether the precondition held.
func (t *txn) ApplyTransition(ctx context.Context, tr queue.Transition) (bool, error) {
	col, ok := transitionColumn[tr.To]
	if !ok || len(tr.From) == 0 {
		return false, fmt.Errorf("unsupported transition to %q", tr.To)
	}

	query := "UPDATE queue_entries SET status = ?, " + col + " = ?"
	args := []any{tr.To, tr.At}
	if tr.SetCounterID != nil {
		query += ", counter_id = ?"
		args = append(args, *tr.SetCounterID)
	}
	query += " WHERE id = ? AND status IN (" + placeholders(len(tr.From)) + ")"
	args = append(args, tr.EntryID)
	for _, s := range tr.From {
		args = append(args, s)
	}
	if tr.MatchCounterID != nil {
		query += " AND counter_id = ?"
		args = append(args, *tr.MatchCounterID)
	}
	if tr.MatchUserID != nil {
		query += " AND user_id = ?"
		args = append(args, *tr.MatchUserID)
	}

	res, err := t.q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("apply transition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("apply transition rows: %w", err)
	}
	return n == 1, nil
}

func (t *txn) UpdateCounter(ctx context.Context, counterID int64, status models.CounterStatus, currentQueueID *int64) error {
	var current any
	if currentQueueID != nil {
		current = *currentQueueID
	}
	_, err := t.q.ExecContext(ctx,
		"UPDATE counters SET status = ?, current_serving_queue_id = ?, updated_at = NOW() WHERE id = ?",
		status, current, counterID)
	if err != nil {
		return fmt.Errorf("update counter: %w", err)
	}
	return nil
}

func (t *txn) AppendLog(ctx context.Context, l *models.QueueLog) error {
	var meta any
	if len(l.Metadata) > 0 {
		b, err := json.Marshal(l.Metadata)
		if err != nil {
			return fmt.Errorf("encode log metadata: %w", err)
		}
		meta = string(b)
	}
	var counterID any
	if l.CounterID != nil {
		counterID = *l.CounterID
	}
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO queue_logs
			(queue_entry_id, service_id, counter_id, actor_user_id, action, action_timestamp, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.QueueEntryID, l.ServiceID, counterID, l.ActorUserID, l.Action, l.ActionTimestamp, meta)
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		l.ID = id
	}
	return nil
}

/*
|--------------------------------------------------------------------------
| READS
|--------------------------------------------------------------------------
*/

func (r *Repository) GetEntry(ctx context.Context, entryID int64) (models.QueueEntry, error) {
	var e models.QueueEntry
	err := r.exec.do(ctx, "get_entry", func(ctx context.Context) error {
		var err error
		e, err = scanEntry(r.db.QueryRowContext(ctx,
			"SELECT "+entryColumns+" FROM queue_entries WHERE id = ?", entryID))
		return notFound(err, "get", "queue_entry", entryID)
	})
	return e, err
}

func (r *Repository) GetService(ctx context.Context, serviceID int64) (models.Service, error) {
	var svc models.Service
	err := r.exec.do(ctx, "get_service", func(ctx context.Context) error {
		var err error
		svc, err = scanService(r.db.QueryRowContext(ctx,
			"SELECT "+serviceColumns+" FROM services WHERE id = ?", serviceID))
		return notFound(err, "get", "service", serviceID)
	})
	return svc, err
}

func (r *Repository) GetCounter(ctx context.Context, counterID int64) (models.Counter, error) {
	var c models.Counter
	err := r.exec.do(ctx, "get_counter", func(ctx context.Context) error {
		var err error
		c, err = scanCounter(r.db.QueryRowContext(ctx,
			"SELECT "+counterColumns+" FROM counters WHERE id = ?", counterID))
		return notFound(err, "get", "counter", counterID)
	})
	return c, err
}

func (r *Repository) ListServices(ctx context.Context, activeOnly bool) ([]models.Service, error) {
	query := "SELECT " + serviceColumns + " FROM services"
	if activeOnly {
		query += " WHERE is_active = 1"
	}
	query += " ORDER BY name ASC"

	var out []models.Service
	err := r.exec.do(ctx, "list_services", func(ctx context.Context) error {
		rows, err := r.db.QueryContext(ctx, query)
		if err != nil {
			return fmt.Errorf("query services: %w", err)
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			svc, err := scanService(rows)
			if err != nil {
				return fmt.Errorf("scan service: %w", err)
			}
			out = append(out, svc)
		}
		return rows.Err()
	})
	return out, err
}

func (r *Repository) FindEntries(ctx context.Context, f queue.EntryFilter) ([]models.QueueEntry, error) {
	var out []models.QueueEntry
	err := r.exec.do(ctx, "find_entries", func(ctx context.Context) error {
		var err error
		out, err = findEntries(ctx, r.db, f)
		return err
	})
	return out, err
}

func (r *Repository) CountEntries(ctx context.Context, f queue.EntryFilter) (int, error) {
	var n int
	err := r.exec.do(ctx, "count_entries", func(ctx context.Context) error {
		var err error
		n, err = countEntries(ctx, r.db, f)
		return err
	})
	return n, err
}

func (r *Repository) FindWaitingByService(ctx context.Context, serviceID int64) ([]models.QueueEntry, error) {
	return r.FindEntries(ctx, queue.EntryFilter{
		ServiceID: serviceID,
		Statuses:  []models.QueueStatus{models.StatusWaiting},
	})
}
