package uow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/simnova/sharethrift-sub014/internal/account"
	"github.com/simnova/sharethrift-sub014/internal/events"
	"github.com/simnova/sharethrift-sub014/internal/listing"
	"github.com/simnova/sharethrift-sub014/internal/reservation"
	"github.com/simnova/sharethrift-sub014/internal/storage"
	"github.com/simnova/sharethrift-sub014/pkg/types"
)

// Repository is the transaction-bound view of persistence handed to a scope
type Repository interface {
	GetReservation(ctx context.Context, id string) (*reservation.ReservationRequest, error)
	SaveReservation(ctx context.Context, r *reservation.ReservationRequest) error
	GetOverlappingActiveRequests(ctx context.Context, listingID string, p reservation.Period) ([]*reservation.ReservationRequest, error)
	ListReservationsByListing(ctx context.Context, listingID string, states ...reservation.State) ([]*reservation.ReservationRequest, error)
	ListReservationsByReserver(ctx context.Context, reserverID string) ([]*reservation.ReservationRequest, error)

	GetListing(ctx context.Context, id string) (*listing.Listing, error)
	ListListings(ctx context.Context) ([]*listing.Listing, error)
	SaveListing(ctx context.Context, l *listing.Listing) error
	DeleteListing(ctx context.Context, id string) error
	// SetListingSearchHash records hash as indexed, provided the stored hash is still expected
	SetListingSearchHash(ctx context.Context, id, expected, hash string) error

	GetUser(ctx context.Context, id string) (*account.User, error)
	GetUserByEmail(ctx context.Context, email string) (*account.User, error)
	SaveUser(ctx context.Context, u *account.User) error

	CreateConversation(ctx context.Context, c *storage.Conversation) (bool, error)
	GetConversation(ctx context.Context, reservationID string) (*storage.Conversation, error)
}

// txRepository maps storage rows to domain objects inside one transaction and
// collects the events raised by saved aggregates
type txRepository struct {
	tx  storage.Tx
	now func() time.Time

	domainEvents []events.Event
	enqueued     int
}

func (r *txRepository) GetReservation(ctx context.Context, id string) (*reservation.ReservationRequest, error) {
	row, err := r.tx.GetReservation(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, "reservation request", id)
	}
	return toAggregate(row)
}

// SaveReservation inserts or updates r, writes its integration events to the
// outbox and buffers its domain events for dispatch after commit
func (r *txRepository) SaveReservation(ctx context.Context, req *reservation.ReservationRequest) error {
	row := toRow(req.Snapshot())

	var err error
	if row.Version == 0 {
		err = r.tx.InsertReservation(ctx, row)
	} else {
		err = r.tx.UpdateReservation(ctx, row)
	}
	switch {
	case errors.Is(err, storage.ErrOverlap):
		return &types.ConflictError{ListingID: row.ListingID, Start: row.Start, End: row.End}
	case errors.Is(err, storage.ErrVersionConflict):
		return &types.ConflictError{ListingID: row.ListingID, Reason: "reservation request " + row.ID + " was modified concurrently"}
	case errors.Is(err, storage.ErrAlreadyExists):
		return &types.ConflictError{ListingID: row.ListingID, Reason: "reservation request " + row.ID + " already exists"}
	case err != nil:
		return mapNotFound(err, "reservation request", row.ID)
	}
	req.SetVersion(row.Version)

	if err := r.enqueue(ctx, req.PullIntegrationEvents()...); err != nil {
		return err
	}
	r.domainEvents = append(r.domainEvents, req.PullDomainEvents()...)
	return nil
}

func (r *txRepository) GetOverlappingActiveRequests(ctx context.Context, listingID string, p reservation.Period) ([]*reservation.ReservationRequest, error) {
	rows, err := r.tx.FindOverlappingReservations(ctx, listingID, p.Start, p.End, activeStates()...)
	if err != nil {
		return nil, err
	}
	return toAggregates(rows)
}

func (r *txRepository) ListReservationsByListing(ctx context.Context, listingID string, states ...reservation.State) ([]*reservation.ReservationRequest, error) {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = s.String()
	}
	rows, err := r.tx.ListReservationsByListing(ctx, listingID, names...)
	if err != nil {
		return nil, err
	}
	return toAggregates(rows)
}

func (r *txRepository) ListReservationsByReserver(ctx context.Context, reserverID string) ([]*reservation.ReservationRequest, error) {
	rows, err := r.tx.ListReservationsByReserver(ctx, reserverID)
	if err != nil {
		return nil, err
	}
	return toAggregates(rows)
}

func (r *txRepository) GetListing(ctx context.Context, id string) (*listing.Listing, error) {
	l, err := r.tx.GetListing(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, "listing", id)
	}
	return l, nil
}

func (r *txRepository) ListListings(ctx context.Context) ([]*listing.Listing, error) {
	return r.tx.ListListings(ctx)
}

// SaveListing upserts l and publishes ListingChanged
func (r *txRepository) SaveListing(ctx context.Context, l *listing.Listing) error {
	if err := l.Validate(); err != nil {
		return err
	}
	l.UpdatedAt = r.now()
	if err := r.tx.UpsertListing(ctx, l); err != nil {
		return err
	}
	return r.enqueue(ctx, listing.Changed{ListingID: l.ID, At: l.UpdatedAt})
}

// DeleteListing removes the listing with its reservation requests and
// publishes ListingDeleted
func (r *txRepository) DeleteListing(ctx context.Context, id string) error {
	if err := r.tx.DeleteListing(ctx, id); err != nil {
		return mapNotFound(err, "listing", id)
	}
	return r.enqueue(ctx, listing.Deleted{ListingID: id, At: r.now()})
}

func (r *txRepository) SetListingSearchHash(ctx context.Context, id, expected, hash string) error {
	err := r.tx.UpdateListingSearchHash(ctx, id, expected, hash)
	if errors.Is(err, storage.ErrVersionConflict) {
		return &types.ConflictError{ListingID: id, Reason: "search hash of listing " + id + " changed concurrently"}
	}
	if err != nil {
		return mapNotFound(err, "listing", id)
	}
	return nil
}

func (r *txRepository) GetUser(ctx context.Context, id string) (*account.User, error) {
	u, err := r.tx.GetUser(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, "user", id)
	}
	return u, nil
}

func (r *txRepository) GetUserByEmail(ctx context.Context, email string) (*account.User, error) {
	u, err := r.tx.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, mapNotFound(err, "user", email)
	}
	return u, nil
}

func (r *txRepository) SaveUser(ctx context.Context, u *account.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	return r.tx.UpsertUser(ctx, u)
}

func (r *txRepository) CreateConversation(ctx context.Context, c *storage.Conversation) (bool, error) {
	return r.tx.CreateConversation(ctx, c)
}

func (r *txRepository) GetConversation(ctx context.Context, reservationID string) (*storage.Conversation, error) {
	c, err := r.tx.GetConversationByReservation(ctx, reservationID)
	if err != nil {
		return nil, mapNotFound(err, "conversation", reservationID)
	}
	return c, nil
}

func (r *txRepository) enqueue(ctx context.Context, evs ...events.Event) error {
	for _, ev := range evs {
		msg, err := events.NewMessage(ev)
		if err != nil {
			return err
		}
		if err := r.tx.EnqueueOutbox(ctx, events.ToOutbox(msg)); err != nil {
			return err
		}
		r.enqueued++
	}
	return nil
}

func mapNotFound(err error, entity, id string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return &types.NotFoundError{Entity: entity, ID: id}
	}
	return err
}

func activeStates() []string {
	return []string{reservation.StateRequested.String(), reservation.StateAccepted.String()}
}

func toRow(s reservation.Snapshot) *storage.Reservation {
	return &storage.Reservation{
		ID:                       s.ID,
		ListingID:                s.ListingID,
		ReserverID:               s.ReserverID,
		State:                    s.State.String(),
		Start:                    s.Period.Start,
		End:                      s.Period.End,
		CloseRequestedBySharer:   s.CloseRequestedBySharer,
		CloseRequestedByReserver: s.CloseRequestedByReserver,
		SchemaVersion:            s.SchemaVersion,
		Version:                  s.Version,
		CreatedAt:                s.CreatedAt,
		UpdatedAt:                s.UpdatedAt,
	}
}

func toAggregate(row *storage.Reservation) (*reservation.ReservationRequest, error) {
	state, err := reservation.ParseState(row.State)
	if err != nil {
		return nil, fmt.Errorf("reservation request %s: %w", row.ID, err)
	}
	return reservation.Restore(reservation.Snapshot{
		ID:                       row.ID,
		State:                    state,
		Period:                   reservation.Period{Start: row.Start, End: row.End},
		ListingID:                row.ListingID,
		ReserverID:               row.ReserverID,
		CloseRequestedBySharer:   row.CloseRequestedBySharer,
		CloseRequestedByReserver: row.CloseRequestedByReserver,
		CreatedAt:                row.CreatedAt,
		UpdatedAt:                row.UpdatedAt,
		SchemaVersion:            row.SchemaVersion,
		Version:                  row.Version,
	}), nil
}

func toAggregates(rows []*storage.Reservation) ([]*reservation.ReservationRequest, error) {
	out := make([]*reservation.ReservationRequest, 0, len(rows))
	for _, row := range rows {
		agg, err := toAggregate(row)
		if err != nil {
			return nil, err
		}
		out = append(out, agg)
	}
	return out, nil
}
