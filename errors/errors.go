// Package errors provides the error taxonomy shared by the CRM store, its
// synchronization loop and the storage and transport adapters.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the type of error that occurred
type ErrorCode string

const (
	ErrCodeNotFound          ErrorCode = "ENTITY_NOT_FOUND"
	ErrCodeConflictMismatch  ErrorCode = "CONFLICT_MISMATCH"
	ErrCodeConflictPending   ErrorCode = "CONFLICT_PENDING"
	ErrCodeTransportFailure  ErrorCode = "SYNC_TRANSPORT_FAILURE"
	ErrCodePersistence       ErrorCode = "PERSISTENCE_FAILURE"
	ErrCodeValidationFailure ErrorCode = "VALIDATION_FAILURE"
)

// Kind classifies an error for programmatic handling.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindConflictMismatch Kind = "conflict_mismatch"
	KindConflictPending  Kind = "conflict_pending"
	KindTransport        Kind = "transport"
	KindPersistence      Kind = "persistence"
	KindInvalid          Kind = "invalid"
	KindClosed           Kind = "closed"
	KindInternal         Kind = "internal"
)

// Operation represents the operation during which an error occurred
type Operation string

const (
	OpCreate     Operation = "create"
	OpUpdate     Operation = "update"
	OpDelete     Operation = "delete"
	OpGet        Operation = "get"
	OpInteract   Operation = "interaction"
	OpResolve    Operation = "resolve_conflict"
	OpSync       Operation = "sync"
	OpFetch      Operation = "fetch_snapshot"
	OpPushChange Operation = "push_change"
	OpPushInter  Operation = "push_interaction"
	OpPersist    Operation = "persist"
	OpLoad       Operation = "load"
	OpClose      Operation = "close"
	OpConfig     Operation = "config"
)

// Sentinel errors matched by errors.Is against any *Error of the same kind.
var (
	ErrEntityNotFound   = errors.New("entity not found")
	ErrConflictMismatch = errors.New("conflict id does not match a pending conflict")
	ErrConflictPending  = errors.New("customer has a pending conflict")
	ErrClosed           = errors.New("manager is closed")
)

// Error represents an error raised by the CRM core or one of its adapters.
type Error struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "store", "remote")
	Component string

	// Kind classifies the error
	Kind Kind

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// Error code for the error type
	Code ErrorCode

	// Metadata for additional context
	Metadata map[string]interface{}
}

func (e *Error) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}

	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel that corresponds to e's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrEntityNotFound:
		return e.Kind == KindNotFound
	case ErrConflictMismatch:
		return e.Kind == KindConflictMismatch
	case ErrConflictPending:
		return e.Kind == KindConflictPending
	case ErrClosed:
		return e.Kind == KindClosed
	}
	return false
}

// NotFound creates an EntityNotFound error for the given entity id.
func NotFound(op Operation, entity, id string) *Error {
	return &Error{
		Op:        op,
		Component: "store",
		Kind:      KindNotFound,
		Code:      ErrCodeNotFound,
		Err:       fmt.Errorf("%s %q: %w", entity, id, ErrEntityNotFound),
		Metadata:  map[string]interface{}{"entity": entity, "id": id},
	}
}

// NewConflictMismatchError creates an error for resolving an unknown or settled conflict.
func NewConflictMismatchError(customerID, conflictID string) *Error {
	return &Error{
		Op:        OpResolve,
		Component: "conflict",
		Kind:      KindConflictMismatch,
		Code:      ErrCodeConflictMismatch,
		Err:       fmt.Errorf("conflict %q on customer %q: %w", conflictID, customerID, ErrConflictMismatch),
	}
}

// NewConflictPendingError creates an error for a mutation refused because of an unresolved conflict.
func NewConflictPendingError(op Operation, customerID string) *Error {
	return &Error{
		Op:        op,
		Component: "store",
		Kind:      KindConflictPending,
		Code:      ErrCodeConflictPending,
		Err:       fmt.Errorf("customer %q: %w", customerID, ErrConflictPending),
	}
}

// NewTransportError creates a retryable error for a failed remote call.
func NewTransportError(op Operation, cause error) *Error {
	return &Error{
		Code:      ErrCodeTransportFailure,
		Op:        op,
		Component: "remote",
		Kind:      KindTransport,
		Err:       cause,
		Retryable: true,
	}
}

// NewPersistenceError creates an error for a failed local storage read or write.
func NewPersistenceError(op Operation, cause error) *Error {
	return &Error{
		Code:      ErrCodePersistence,
		Op:        op,
		Component: "persister",
		Kind:      KindPersistence,
		Err:       cause,
		Retryable: true,
	}
}

// NewValidationError creates a new validation-related Error
func NewValidationError(op Operation, cause error) *Error {
	return &Error{
		Code:      ErrCodeValidationFailure,
		Op:        op,
		Kind:      KindInvalid,
		Err:       cause,
		Retryable: false,
	}
}

// NewClosedError reports use of a closed manager.
func NewClosedError(op Operation) *Error {
	return &Error{Op: op, Kind: KindClosed, Err: ErrClosed}
}

// IsRetryable checks if an error is a retryable Error
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsNotFound reports whether err is an EntityNotFound error.
func IsNotFound(err error) bool { return errors.Is(err, ErrEntityNotFound) }

// IsConflictMismatch reports whether err is a ConflictMismatch error.
func IsConflictMismatch(err error) bool { return errors.Is(err, ErrConflictMismatch) }

// IsConflictPending reports whether err was caused by an unresolved conflict.
func IsConflictPending(err error) bool { return errors.Is(err, ErrConflictPending) }
