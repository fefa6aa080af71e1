package types

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the reservation core. Every typed error below matches
// exactly one of these with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("not authorized")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state transition")
	ErrValidation   = errors.New("validation failed")
	ErrIndexing     = errors.New("indexing failed")
)

// NotFoundError reports a referenced listing, user or reservation request
// that could not be resolved.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// AuthorizationError reports a user attempting an action reserved for
// another party (sharer-only or reserver-only).
type AuthorizationError struct {
	UserID string
	Action string
	Reason string
}

func (e *AuthorizationError) Error() string {
	msg := fmt.Sprintf("user %s may not %s", e.UserID, e.Action)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *AuthorizationError) Is(target error) bool { return target == ErrUnauthorized }

// ConflictError reports an overlap with another active reservation request,
// or a concurrent modification of the same aggregate.
type ConflictError struct {
	ListingID     string
	Start, End    time.Time
	ConflictingID string
	Reason        string
}

func (e *ConflictError) Error() string {
	if e.Reason != "" {
		return "conflict: " + e.Reason
	}
	msg := fmt.Sprintf("conflict: listing %s is already requested between %s and %s",
		e.ListingID, e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
	if e.ConflictingID != "" {
		msg += " (reservation request " + e.ConflictingID + ")"
	}
	return msg
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// StateError reports a transition that is not allowed from the current state.
// Entity names what is in the wrong state; empty means a reservation request.
type StateError struct {
	Entity string
	From   string
	Action string
	Reason string
}

func (e *StateError) Error() string {
	entity := e.Entity
	if entity == "" {
		entity = "a reservation request"
	}
	msg := fmt.Sprintf("cannot %s %s in state %s", e.Action, entity, e.From)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *StateError) Is(target error) bool { return target == ErrInvalidState }

// ValidationError reports malformed input such as an empty or inverted period.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// IndexingError is raised once the retry budget for a search index write or
// delete is exhausted. It wraps the last gateway error.
type IndexingError struct {
	Index    string
	Key      string
	Op       string
	Attempts int
	Err      error
}

func (e *IndexingError) Error() string {
	return fmt.Sprintf("%s %s/%s failed after %d attempts: %v", e.Op, e.Index, e.Key, e.Attempts, e.Err)
}

func (e *IndexingError) Unwrap() error { return e.Err }

func (e *IndexingError) Is(target error) bool { return target == ErrIndexing }
