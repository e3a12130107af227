package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name      string
		op        Operation
		component string
		code      ErrorCode
		err       error
		want      string
	}{
		{
			name:      "with component and code",
			op:        OpPersist,
			component: "persister",
			code:      ErrCodePersistence,
			err:       fmt.Errorf("disk full"),
			want:      "persist operation failed in persister component [PERSISTENCE_FAILURE]: disk full",
		},
		{
			name:      "with component no code",
			op:        OpSync,
			component: "remote",
			err:       fmt.Errorf("failed to connect"),
			want:      "sync operation failed in remote component: failed to connect",
		},
		{
			name: "without component with code",
			op:   OpPushChange,
			code: ErrCodeTransportFailure,
			err:  fmt.Errorf("network error"),
			want: "push_change operation failed [SYNC_TRANSPORT_FAILURE]: network error",
		},
		{
			name: "without component or code",
			op:   OpUpdate,
			err:  fmt.Errorf("boom"),
			want: "update operation failed: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Error{
				Op:        tt.op,
				Component: tt.component,
				Err:       tt.err,
				Code:      tt.code,
			}

			if got := e.Error(); got != tt.want {
				t.Errorf("Error.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNotFound(t *testing.T) {
	err := NotFound(OpUpdate, "customer", "c-1")

	if !IsNotFound(err) {
		t.Fatal("IsNotFound() = false for NotFound error")
	}
	if err.Kind != KindNotFound {
		t.Errorf("Kind = %v, want %v", err.Kind, KindNotFound)
	}
	if err.Retryable {
		t.Error("NotFound() created retryable error")
	}
	if IsConflictMismatch(err) {
		t.Error("NotFound error matched ConflictMismatch")
	}
}

func TestConflictErrors(t *testing.T) {
	mismatch := NewConflictMismatchError("c-1", "x")
	if !IsConflictMismatch(mismatch) {
		t.Error("IsConflictMismatch() = false")
	}
	if mismatch.Retryable {
		t.Error("conflict mismatch must not be retryable")
	}

	pending := NewConflictPendingError(OpUpdate, "c-1")
	if !IsConflictPending(fmt.Errorf("wrapped: %w", pending)) {
		t.Error("IsConflictPending() = false through wrapping")
	}
}

func TestNewTransportError(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	e := NewTransportError(OpPushChange, cause)

	if e.Code != ErrCodeTransportFailure {
		t.Errorf("Code = %v, want %v", e.Code, ErrCodeTransportFailure)
	}
	if e.Component != "remote" {
		t.Errorf("Component = %v, want remote", e.Component)
	}
	if !errors.Is(e, cause) {
		t.Error("transport error does not unwrap to cause")
	}
	if !e.Retryable {
		t.Error("NewTransportError() created non-retryable error")
	}
}

func TestNewPersistenceError(t *testing.T) {
	e := NewPersistenceError(OpPersist, fmt.Errorf("io"))
	if e.Kind != KindPersistence || e.Code != ErrCodePersistence {
		t.Errorf("unexpected kind/code: %v/%v", e.Kind, e.Code)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transport error", NewTransportError(OpSync, fmt.Errorf("temporary")), true},
		{"validation error", NewValidationError(OpCreate, fmt.Errorf("bad")), false},
		{"plain error", fmt.Errorf("regular error"), false},
		{"wrapped transport error", fmt.Errorf("wrapped: %w", NewTransportError(OpSync, fmt.Errorf("x"))), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestE(t *testing.T) {
	err := E(Op("sqlite.Save"), Component("storage/sqlite"), KindPersistence, fmt.Errorf("locked"), "retry later")

	var e *Error
	if !errors.As(err, &e) {
		t.Fatal("E() did not return *Error")
	}
	if e.Op != "sqlite.Save" || e.Component != "storage/sqlite" || e.Kind != KindPersistence {
		t.Errorf("unexpected fields: %+v", e)
	}
	if e.Metadata["note"] != "retry later" {
		t.Errorf("note = %v", e.Metadata["note"])
	}
	if KindOf(err) != KindPersistence {
		t.Errorf("KindOf() = %v", KindOf(err))
	}
}
