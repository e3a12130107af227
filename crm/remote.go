package crm

import (
	"context"
	"errors"
)

// Authority is the remote system holding the canonical customer records.
type Authority interface {
	// FetchSnapshot returns the authoritative copy of a customer, or an error
	// matching ErrRemoteNotFound when the authority has never seen it.
	FetchSnapshot(ctx context.Context, customerID string) (*Customer, error)

	// PushChange replays one change record. A *RejectedError means the
	// authority refused the change; any other error is a transport failure.
	PushChange(ctx context.Context, change Change) error

	// PushInteraction submits one interaction.
	PushInteraction(ctx context.Context, interaction Interaction) error
}

var (
	// ErrRemoteNotFound reports that the authority has no record of an entity.
	ErrRemoteNotFound = errors.New("remote: entity not found")

	// ErrAuthorityUnavailable reports that the authority cannot be reached at
	// all. It aborts the whole sync cycle instead of a single entity.
	ErrAuthorityUnavailable = errors.New("remote: authority unavailable")
)

// RejectedError is returned by an Authority that refused a write.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return "remote: rejected"
	}
	return "remote: rejected: " + e.Reason
}

// IsRejected reports whether err carries a *RejectedError.
func IsRejected(err error) bool {
	var rej *RejectedError
	return errors.As(err, &rej)
}
