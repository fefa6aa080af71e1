package reservation

import (
	"time"

	"github.com/simnova/sharethrift-sub014/internal/account"
	"github.com/simnova/sharethrift-sub014/internal/events"
	"github.com/simnova/sharethrift-sub014/internal/listing"
	"github.com/simnova/sharethrift-sub014/pkg/types"
)

// SchemaVersion is stamped on every new reservation request
const SchemaVersion = 1

// ReservationRequest is the aggregate root of the reservation lifecycle.
// All mutation goes through its transition methods; a failed transition
// leaves the aggregate untouched.
type ReservationRequest struct {
	id                       string
	state                    State
	period                   Period
	listingID                string
	reserverID               string
	closeRequestedBySharer   bool
	closeRequestedByReserver bool
	createdAt                time.Time
	updatedAt                time.Time
	schemaVersion            int
	version                  int64

	domainEvents      []events.Event
	integrationEvents []events.Event
}

// Snapshot is the persisted form of a reservation request
type Snapshot struct {
	ID                       string
	State                    State
	Period                   Period
	ListingID                string
	ReserverID               string
	CloseRequestedBySharer   bool
	CloseRequestedByReserver bool
	CreatedAt                time.Time
	UpdatedAt                time.Time
	SchemaVersion            int
	Version                  int64
}

// New submits a reservation request for l by reserver over period. active
// holds the active requests of the same listing that intersect the period.
func New(id string, l *listing.Listing, reserver *account.User, period Period, active []*ReservationRequest, now time.Time) (*ReservationRequest, error) {
	if id == "" {
		return nil, &types.ValidationError{Field: "id", Reason: "required"}
	}
	if l == nil {
		return nil, &types.NotFoundError{Entity: "listing"}
	}
	if reserver == nil {
		return nil, &types.NotFoundError{Entity: "user"}
	}
	if err := period.Validate(); err != nil {
		return nil, err
	}
	if !l.IsPublished() {
		return nil, &types.StateError{
			Entity: "listing " + l.ID,
			From:   string(l.State),
			Action: "reserve",
			Reason: "only " + string(listing.StatePublished) + " listings accept reservation requests",
		}
	}
	if reserver.ID == l.SharerID {
		return nil, &types.ValidationError{Field: "reserver", Reason: "sharer cannot reserve their own listing"}
	}
	if c := findConflict(period, active, id); c != nil {
		return nil, &types.ConflictError{ListingID: l.ID, Start: period.Start, End: period.End, ConflictingID: c.id}
	}

	now = now.UTC()
	r := &ReservationRequest{
		id:            id,
		state:         StateRequested,
		period:        period,
		listingID:     l.ID,
		reserverID:    reserver.ID,
		createdAt:     now,
		updatedAt:     now,
		schemaVersion: SchemaVersion,
	}
	r.integrationEvents = append(r.integrationEvents, Created{
		ReservationID: id,
		ListingID:     l.ID,
		ReserverID:    reserver.ID,
		SharerID:      l.SharerID,
		Start:         period.Start,
		End:           period.End,
		At:            now,
	})
	// the new period counts as reserved, so the listing document changes too
	r.integrationEvents = append(r.integrationEvents, Updated{
		ReservationID: id,
		ListingID:     l.ID,
		To:            StateRequested.String(),
		At:            now,
	})
	return r, nil
}

// Restore rebuilds an aggregate from storage without recording events
func Restore(s Snapshot) *ReservationRequest {
	return &ReservationRequest{
		id:                       s.ID,
		state:                    s.State,
		period:                   s.Period,
		listingID:                s.ListingID,
		reserverID:               s.ReserverID,
		closeRequestedBySharer:   s.CloseRequestedBySharer,
		closeRequestedByReserver: s.CloseRequestedByReserver,
		createdAt:                s.CreatedAt,
		updatedAt:                s.UpdatedAt,
		schemaVersion:            s.SchemaVersion,
		version:                  s.Version,
	}
}

// Snapshot returns the persisted form of r
func (r *ReservationRequest) Snapshot() Snapshot {
	return Snapshot{
		ID:                       r.id,
		State:                    r.state,
		Period:                   r.period,
		ListingID:                r.listingID,
		ReserverID:               r.reserverID,
		CloseRequestedBySharer:   r.closeRequestedBySharer,
		CloseRequestedByReserver: r.closeRequestedByReserver,
		CreatedAt:                r.createdAt,
		UpdatedAt:                r.updatedAt,
		SchemaVersion:            r.schemaVersion,
		Version:                  r.version,
	}
}

func (r *ReservationRequest) ID() string                     { return r.id }
func (r *ReservationRequest) State() State                   { return r.state }
func (r *ReservationRequest) Period() Period                 { return r.period }
func (r *ReservationRequest) ListingID() string              { return r.listingID }
func (r *ReservationRequest) ReserverID() string             { return r.reserverID }
func (r *ReservationRequest) CloseRequestedBySharer() bool   { return r.closeRequestedBySharer }
func (r *ReservationRequest) CloseRequestedByReserver() bool { return r.closeRequestedByReserver }
func (r *ReservationRequest) CreatedAt() time.Time           { return r.createdAt }
func (r *ReservationRequest) UpdatedAt() time.Time           { return r.updatedAt }
func (r *ReservationRequest) SchemaVersion() int             { return r.schemaVersion }
func (r *ReservationRequest) Version() int64                 { return r.version }

// SetVersion records the version assigned by storage after a save
func (r *ReservationRequest) SetVersion(v int64) { r.version = v }

// Accept moves a Requested request to Accepted. Only the listing's sharer may
// accept, and the period must still be free among others.
func (r *ReservationRequest) Accept(byUserID string, l *listing.Listing, others []*ReservationRequest, now time.Time) error {
	to, err := next(r.state, ActionAccept)
	if err != nil {
		return err
	}
	if err := r.requireSharer(byUserID, l, ActionAccept); err != nil {
		return err
	}
	if c := findConflict(r.period, others, r.id); c != nil {
		return &types.ConflictError{ListingID: r.listingID, Start: r.period.Start, End: r.period.End, ConflictingID: c.id}
	}

	from := r.state
	r.state = to
	r.touch(from, now)
	r.domainEvents = append(r.domainEvents, Accepted{
		ReservationID: r.id,
		ListingID:     r.listingID,
		SharerID:      l.SharerID,
		ReserverID:    r.reserverID,
		At:            r.updatedAt,
	})
	return nil
}

// Reject moves a Requested request to Rejected. Only the sharer may reject.
func (r *ReservationRequest) Reject(byUserID string, l *listing.Listing, now time.Time) error {
	to, err := next(r.state, ActionReject)
	if err != nil {
		return err
	}
	if err := r.requireSharer(byUserID, l, ActionReject); err != nil {
		return err
	}
	from := r.state
	r.state = to
	r.touch(from, now)
	return nil
}

// Cancel withdraws a Requested or Accepted request. Only the reserver may cancel.
func (r *ReservationRequest) Cancel(byUserID string, now time.Time) error {
	to, err := next(r.state, ActionCancel)
	if err != nil {
		return err
	}
	if byUserID != r.reserverID {
		return &types.AuthorizationError{UserID: byUserID, Action: ActionCancel.String(), Reason: "only the reserver can cancel"}
	}
	from := r.state
	r.state = to
	r.touch(from, now)
	return nil
}

// RequestClose records that the sharer or the reserver wants to close an
// accepted reservation. The request reaches Closed once both parties asked.
// Asking twice as the same party is a no-op.
func (r *ReservationRequest) RequestClose(byUserID string, l *listing.Listing, now time.Time) error {
	to, err := next(r.state, ActionRequestClose)
	if err != nil {
		return err
	}
	if l == nil || l.ID != r.listingID {
		return &types.NotFoundError{Entity: "listing", ID: r.listingID}
	}

	var bySharer bool
	switch byUserID {
	case l.SharerID:
		bySharer = true
	case r.reserverID:
	default:
		return &types.AuthorizationError{UserID: byUserID, Action: ActionRequestClose.String(), Reason: "only the sharer or the reserver can close"}
	}

	if bySharer && r.closeRequestedBySharer || !bySharer && r.closeRequestedByReserver {
		return nil
	}
	if bySharer {
		r.closeRequestedBySharer = true
	} else {
		r.closeRequestedByReserver = true
	}
	if r.closeRequestedBySharer && r.closeRequestedByReserver {
		to = StateClosed
	}

	from := r.state
	r.state = to
	r.touch(from, now)
	return nil
}

// PullDomainEvents drains the events dispatched in-process after commit
func (r *ReservationRequest) PullDomainEvents() []events.Event {
	evs := r.domainEvents
	r.domainEvents = nil
	return evs
}

// PullIntegrationEvents drains the events published through the outbox
func (r *ReservationRequest) PullIntegrationEvents() []events.Event {
	evs := r.integrationEvents
	r.integrationEvents = nil
	return evs
}

func (r *ReservationRequest) requireSharer(byUserID string, l *listing.Listing, a Action) error {
	if l == nil || l.ID != r.listingID {
		return &types.NotFoundError{Entity: "listing", ID: r.listingID}
	}
	if byUserID != l.SharerID {
		return &types.AuthorizationError{UserID: byUserID, Action: a.String(), Reason: "only the sharer of the listing can " + a.String()}
	}
	return nil
}

func (r *ReservationRequest) touch(from State, now time.Time) {
	r.updatedAt = now.UTC()
	r.integrationEvents = append(r.integrationEvents, Updated{
		ReservationID: r.id,
		ListingID:     r.listingID,
		From:          from.String(),
		To:            r.state.String(),
		At:            r.updatedAt,
	})
}

// findConflict returns the first active request other than excludeID whose
// period overlaps candidate
func findConflict(candidate Period, others []*ReservationRequest, excludeID string) *ReservationRequest {
	for _, o := range others {
		if o == nil || o.id == excludeID || !o.state.IsActive() {
			continue
		}
		if HasOverlap(candidate, []Period{o.period}) {
			return o
		}
	}
	return nil
}
