package types

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorsMatchSentinels(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"not found", &NotFoundError{Entity: "listing", ID: "l1"}, ErrNotFound},
		{"authorization", &AuthorizationError{UserID: "u1", Action: "accept"}, ErrUnauthorized},
		{"conflict", &ConflictError{ListingID: "l1"}, ErrConflict},
		{"state", &StateError{From: "Rejected", Action: "accept"}, ErrInvalidState},
		{"validation", &ValidationError{Field: "period", Reason: "empty"}, ErrValidation},
		{"indexing", &IndexingError{Index: "listings", Key: "l1", Op: "index", Attempts: 3, Err: errors.New("boom")}, ErrIndexing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tc.err)
			assert.ErrorIs(t, wrapped, tc.sentinel)
			assert.NotEmpty(t, tc.err.Error())

			for _, other := range []error{ErrNotFound, ErrUnauthorized, ErrConflict, ErrInvalidState, ErrValidation, ErrIndexing} {
				if other != tc.sentinel {
					assert.NotErrorIs(t, wrapped, other)
				}
			}
		})
	}
}

func TestIndexingError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &IndexingError{Index: "listings", Key: "l1", Op: "index", Attempts: 3, Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestConflictError_Message(t *testing.T) {
	start := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
	err := &ConflictError{ListingID: "l1", Start: start, End: start.AddDate(0, 0, 5), ConflictingID: "r9"}

	assert.Contains(t, err.Error(), "listing l1")
	assert.Contains(t, err.Error(), "r9")

	err = &ConflictError{Reason: "modified concurrently"}
	assert.Equal(t, "conflict: modified concurrently", err.Error())
}

func TestStateError_Message(t *testing.T) {
	err := &StateError{From: "Rejected", Action: "accept"}
	assert.Equal(t, "cannot accept a reservation request in state Rejected", err.Error())

	err = &StateError{Entity: "listing l1", From: "Drafted", Action: "reserve", Reason: "only Published listings accept reservation requests"}
	assert.Equal(t, "cannot reserve listing l1 in state Drafted: only Published listings accept reservation requests", err.Error())
}
