package types

import (
	"errors"
	"fmt"
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func NewValidationError(msg string) error { return &ValidationError{msg: msg} }

func IsValidation(err error) bool {
	_, ok := errors.AsType[*ValidationError](err)
	return ok
}

type NotFoundError struct {
	ConflictID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("conflict %s not found", e.ConflictID)
}

func IsNotFound(err error) bool {
	_, ok := errors.AsType[*NotFoundError](err)
	return ok
}

// StateError reports a resolve/ignore attempt on a conflict that already left
// pending.
type StateError struct {
	ConflictID string
	Current    Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("conflict %s is %s, expected pending", e.ConflictID, e.Current)
}

func IsState(err error) bool {
	_, ok := errors.AsType[*StateError](err)
	return ok
}

// StaleError reports a transition whose conflict is still pending but was
// refreshed by detection after the caller read it.
type StaleError struct {
	ConflictID string
	Expected   int64
	Current    int64
}

func (e *StaleError) Error() string {
	return fmt.Sprintf("conflict %s changed since it was read (version %d, now %d)", e.ConflictID, e.Expected, e.Current)
}

func IsStale(err error) bool {
	_, ok := errors.AsType[*StaleError](err)
	return ok
}

// WriteFailureError wraps a failed canonical-store write; the conflict stays
// pending and the call is safe to retry.
type WriteFailureError struct {
	ConflictID string
	Err        error
}

func (e *WriteFailureError) Error() string {
	return fmt.Sprintf("canonical write for conflict %s failed: %v", e.ConflictID, e.Err)
}

func (e *WriteFailureError) Unwrap() error { return e.Err }

func IsWriteFailure(err error) bool {
	_, ok := errors.AsType[*WriteFailureError](err)
	return ok
}

// SourceUnavailableError is a per-entity detection warning.
type SourceUnavailableError struct {
	EntityType string
	EntityID   string
	Source     Source
	Err        error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("%s source unavailable for %s#%s: %v", e.Source, e.EntityType, e.EntityID, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

func IsSourceUnavailable(err error) bool {
	_, ok := errors.AsType[*SourceUnavailableError](err)
	return ok
}

type ForbiddenError struct {
	Subject string
	Action  string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("%s is not allowed to %s conflicts", e.Subject, e.Action)
}

func IsForbidden(err error) bool {
	_, ok := errors.AsType[*ForbiddenError](err)
	return ok
}
