// Package mysql is the MySQL implementation of the queue store, the counter
// directory, the user lookup and the settings source.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"qtech-backend/internal/logging"
	"qtech-backend/internal/queue"
)

type Options struct {
	QueryTimeout     time.Duration
	RetryAttempts    int
	BreakerThreshold uint32
	BreakerTimeout   time.Duration
}

func (o *Options) defaults() {
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = 5 * time.Second
	}
	if o.RetryAttempts < 0 {
		o.RetryAttempts = 0
	}
	if o.BreakerThreshold == 0 {
		o.BreakerThreshold = 5
	}
	if o.BreakerTimeout <= 0 {
		o.BreakerTimeout = 30 * time.Second
	}
}

type Repository struct {
	db   *sql.DB
	exec *executor
	log  zerolog.Logger
}

var _ queue.Store = (*Repository)(nil)

func New(db *sql.DB, opts Options) *Repository {
	opts.defaults()
	log := logging.With("mysql")
	return &Repository{db: db, exec: newExecutor(opts, log), log: log}
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// InTx runs fn inside one database transaction. A transient failure anywhere
// in the unit rolls it back and replays it from the start.
func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context, tx queue.Tx) error) error {
	return r.exec.do(ctx, "tx", func(ctx context.Context) error {
		sqlTx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		if err := fn(ctx, &txn{q: sqlTx}); err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				r.log.Warn().Err(rbErr).Msg("rollback failed")
			}
			return err
		}
		if err := sqlTx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	})
}

func notFound(err error, op, entity string, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return queue.NewError(queue.KindNotFound, op, entity, id)
	}
	return err
}
