package mysql

import (
	"context"
	"database/sql/driver"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"qtech-backend/internal/metrics"
	"qtech-backend/internal/queue"
)

const (
	errDeadlock        = 1213
	errLockWaitTimeout = 1205
)

// executor runs storage calls under a per-call timeout, retries transient
// driver failures with exponential backoff and trips a circuit breaker when
// the database keeps failing. Kinded queue errors pass through untouched.
type executor struct {
	breaker  *gobreaker.CircuitBreaker[any]
	attempts int
	timeout  time.Duration
	log      zerolog.Logger
}

func newExecutor(opts Options, log zerolog.Logger) *executor {
	settings := gobreaker.Settings{
		Name:        "mysql",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || queue.KindOf(err) != ""
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.StorageBreakerState.Set(float64(to))
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	}
	return &executor{
		breaker:  gobreaker.NewCircuitBreaker[any](settings),
		attempts: opts.RetryAttempts,
		timeout:  opts.QueryTimeout,
		log:      log,
	}
}

func (x *executor) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 25 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond

	attempt := func() error {
		_, err := x.breaker.Execute(func() (any, error) {
			callCtx, cancel := context.WithTimeout(ctx, x.timeout)
			defer cancel()
			return nil, fn(callCtx)
		})
		if err == nil {
			return nil
		}
		if ctx.Err() == nil && transient(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		metrics.StorageRetries.WithLabelValues(op).Inc()
		x.log.Debug().Err(err).Str("op", op).Dur("wait", wait).Msg("retrying storage call")
	}

	err := backoff.RetryNotify(attempt, backoff.WithContext(backoff.WithMaxRetries(b, uint64(x.attempts)), ctx), notify)
	if err == nil || queue.KindOf(err) != "" {
		return err
	}
	return &queue.Error{Kind: queue.KindStorageUnavailable, Op: op, Err: err}
}

func transient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysqldrv.ErrInvalidConn) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var me *mysqldrv.MySQLError
	if errors.As(err, &me) {
		return me.Number == errDeadlock || me.Number == errLockWaitTimeout
	}
	return false
}
