package queue

import (
	"errors"
	"fmt"
)

// Kind classifies an error returned by the lifecycle engine.
type Kind string

const (
	KindInvalidTransition  Kind = "invalid_transition"
	KindForbidden          Kind = "forbidden"
	KindCapacityExceeded   Kind = "capacity_exceeded"
	KindUserLimitExceeded  Kind = "user_limit_exceeded"
	KindServiceInactive    Kind = "service_inactive"
	KindNotFound           Kind = "not_found"
	KindStorageUnavailable Kind = "storage_unavailable"
	KindNoneWaiting        Kind = "none_waiting"
)

// Error carries a kind plus the offending entity and id. It never holds
// user-facing text.
type Error struct {
	Kind   Kind
	Op     string
	Entity string
	ID     int64
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Entity != "" {
		msg += fmt.Sprintf(" (%s %d)", e.Entity, e.ID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind so errors.Is(err, ErrNotFound) works for any entity.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrInvalidTransition  = &Error{Kind: KindInvalidTransition}
	ErrForbidden          = &Error{Kind: KindForbidden}
	ErrCapacityExceeded   = &Error{Kind: KindCapacityExceeded}
	ErrUserLimitExceeded  = &Error{Kind: KindUserLimitExceeded}
	ErrServiceInactive    = &Error{Kind: KindServiceInactive}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrStorageUnavailable = &Error{Kind: KindStorageUnavailable}
	ErrNoneWaiting        = &Error{Kind: KindNoneWaiting}
)

// NewError builds a kinded error for an entity.
func NewError(kind Kind, op, entity string, id int64) *Error {
	return &Error{Kind: kind, Op: op, Entity: entity, ID: id}
}

// KindOf returns the kind of err, or "" for errors outside the taxonomy.
func KindOf(err error) Kind {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return ""
}

// storageErr wraps an infra failure that is not already kinded.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != "" {
		return err
	}
	return &Error{Kind: KindStorageUnavailable, Op: op, Err: err}
}
