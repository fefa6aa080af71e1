// Package listing holds the shared item a sharer offers for reservation.
package listing

import (
	"fmt"
	"strings"
	"time"

	"github.com/simnova/sharethrift-sub014/pkg/types"
)

// State is the publication state of a listing
type State string

const (
	StatePublished State = "Published"
	StatePaused    State = "Paused"
	StateDrafted   State = "Drafted"
)

// Valid reports whether s is a known state
func (s State) Valid() bool {
	switch s {
	case StatePublished, StatePaused, StateDrafted:
		return true
	}
	return false
}

// Listing is an item offered by a sharer
type Listing struct {
	ID          string
	SharerID    string
	Title       string
	Description string
	Category    string
	Location    string
	State       State
	SearchHash  string // hash of the last document written to the search index
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsPublished reports whether new reservation requests are accepted
func (l *Listing) IsPublished() bool {
	return l != nil && l.State == StatePublished
}

// Validate checks the fields a listing must carry before it is stored
func (l *Listing) Validate() error {
	if strings.TrimSpace(l.ID) == "" {
		return &types.ValidationError{Field: "id", Reason: "required"}
	}
	if strings.TrimSpace(l.SharerID) == "" {
		return &types.ValidationError{Field: "sharerId", Reason: "required"}
	}
	if strings.TrimSpace(l.Title) == "" {
		return &types.ValidationError{Field: "title", Reason: "required"}
	}
	if !l.State.Valid() {
		return &types.ValidationError{Field: "state", Reason: fmt.Sprintf("unknown state %q", l.State)}
	}
	return nil
}

// Event names published for listings
const (
	EventChanged = "ListingChanged"
	EventDeleted = "ListingDeleted"
)

// Changed is raised when a listing is created or edited
type Changed struct {
	ListingID string    `json:"listingId"`
	At        time.Time `json:"at"`
}

func (e Changed) EventName() string     { return EventChanged }
func (e Changed) AggregateID() string   { return e.ListingID }
func (e Changed) OccurredAt() time.Time { return e.At }

// Deleted is raised when a listing is removed
type Deleted struct {
	ListingID string    `json:"listingId"`
	At        time.Time `json:"at"`
}

func (e Deleted) EventName() string     { return EventDeleted }
func (e Deleted) AggregateID() string   { return e.ListingID }
func (e Deleted) OccurredAt() time.Time { return e.At }
