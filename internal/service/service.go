// Package service implements the reservation use cases. Every write runs in
// one scoped transaction: load, validate on the aggregate, save.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/simnova/sharethrift-sub014/internal/account"
	"github.com/simnova/sharethrift-sub014/internal/listing"
	"github.com/simnova/sharethrift-sub014/internal/reservation"
	"github.com/simnova/sharethrift-sub014/internal/uow"
)

// CreateRequest is the input of CreateReservationRequest
type CreateRequest struct {
	ListingID  string
	ReserverID string
	Start      time.Time
	End        time.Time
}

// Service runs reservation use cases against a unit of work
type Service struct {
	scope  uow.Scope
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures a Service
type Option func(*Service)

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator replaces the reservation id generator
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// New creates a Service
func New(scope uow.Scope, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		scope:  scope,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateReservationRequest submits a request for a listing. It fails with a
// ConflictError when the period overlaps an active request of the listing.
func (s *Service) CreateReservationRequest(ctx context.Context, in CreateRequest) (*reservation.ReservationRequest, error) {
	period, err := reservation.NewPeriod(in.Start, in.End)
	if err != nil {
		return nil, err
	}

	r, err := uow.Scoped(ctx, s.scope, func(ctx context.Context, repo uow.Repository) (*reservation.ReservationRequest, error) {
		l, err := repo.GetListing(ctx, in.ListingID)
		if err != nil {
			return nil, err
		}
		reserver, err := repo.GetUser(ctx, in.ReserverID)
		if err != nil {
			return nil, err
		}
		active, err := repo.GetOverlappingActiveRequests(ctx, l.ID, period)
		if err != nil {
			return nil, err
		}
		r, err := reservation.New(s.newID(), l, reserver, period, active, s.now())
		if err != nil {
			return nil, err
		}
		return r, repo.SaveReservation(ctx, r)
	})
	if err := s.settle(err); err != nil {
		return nil, err
	}

	s.logger.Info("reservation request created",
		"reservation_request_id", r.ID(), "listing_id", r.ListingID(), "reserver_id", r.ReserverID())
	return r, nil
}

// Accept is called by the sharer. The overlap check is repeated against the
// current active requests of the listing.
func (s *Service) Accept(ctx context.Context, id, byUserID string) (*reservation.ReservationRequest, error) {
	return s.transition(ctx, id, "accepted", func(ctx context.Context, repo uow.Repository, r *reservation.ReservationRequest) error {
		l, err := s.listingOf(ctx, repo, r)
		if err != nil {
			return err
		}
		others, err := repo.GetOverlappingActiveRequests(ctx, r.ListingID(), r.Period())
		if err != nil {
			return err
		}
		return r.Accept(byUserID, l, others, s.now())
	})
}

// Reject is called by the sharer
func (s *Service) Reject(ctx context.Context, id, byUserID string) (*reservation.ReservationRequest, error) {
	return s.transition(ctx, id, "rejected", func(ctx context.Context, repo uow.Repository, r *reservation.ReservationRequest) error {
		l, err := s.listingOf(ctx, repo, r)
		if err != nil {
			return err
		}
		return r.Reject(byUserID, l, s.now())
	})
}

// Cancel is called by the reserver
func (s *Service) Cancel(ctx context.Context, id, byUserID string) (*reservation.ReservationRequest, error) {
	return s.transition(ctx, id, "cancelled", func(ctx context.Context, repo uow.Repository, r *reservation.ReservationRequest) error {
		return r.Cancel(byUserID, s.now())
	})
}

// RequestClose records a close request from either party
func (s *Service) RequestClose(ctx context.Context, id, byUserID string) (*reservation.ReservationRequest, error) {
	return s.transition(ctx, id, "close requested", func(ctx context.Context, repo uow.Repository, r *reservation.ReservationRequest) error {
		l, err := s.listingOf(ctx, repo, r)
		if err != nil {
			return err
		}
		return r.RequestClose(byUserID, l, s.now())
	})
}

type transitionFunc func(ctx context.Context, repo uow.Repository, r *reservation.ReservationRequest) error

func (s *Service) transition(ctx context.Context, id, verb string, fn transitionFunc) (*reservation.ReservationRequest, error) {
	r, err := uow.Scoped(ctx, s.scope, func(ctx context.Context, repo uow.Repository) (*reservation.ReservationRequest, error) {
		r, err := repo.GetReservation(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(ctx, repo, r); err != nil {
			return nil, err
		}
		return r, repo.SaveReservation(ctx, r)
	})
	if err := s.settle(err); err != nil {
		return nil, err
	}
	s.logger.Info("reservation request "+verb, "reservation_request_id", r.ID(), "state", r.State().String())
	return r, nil
}

// listingOf loads the listing r belongs to
func (s *Service) listingOf(ctx context.Context, repo uow.Repository, r *reservation.ReservationRequest) (*listing.Listing, error) {
	return repo.GetListing(ctx, r.ListingID())
}

// Get returns one reservation request
func (s *Service) Get(ctx context.Context, id string) (*reservation.ReservationRequest, error) {
	return uow.ReadOnly(ctx, s.scope, func(ctx context.Context, repo uow.Repository) (*reservation.ReservationRequest, error) {
		return repo.GetReservation(ctx, id)
	})
}

// ListByListing returns the requests of a listing, optionally filtered by state
func (s *Service) ListByListing(ctx context.Context, listingID string, states ...reservation.State) ([]*reservation.ReservationRequest, error) {
	return uow.ReadOnly(ctx, s.scope, func(ctx context.Context, repo uow.Repository) ([]*reservation.ReservationRequest, error) {
		if _, err := repo.GetListing(ctx, listingID); err != nil {
			return nil, err
		}
		return repo.ListReservationsByListing(ctx, listingID, states...)
	})
}

// ListByReserver returns the requests submitted by a user
func (s *Service) ListByReserver(ctx context.Context, reserverID string) ([]*reservation.ReservationRequest, error) {
	return uow.ReadOnly(ctx, s.scope, func(ctx context.Context, repo uow.Repository) ([]*reservation.ReservationRequest, error) {
		return repo.ListReservationsByReserver(ctx, reserverID)
	})
}

// SaveUser creates or updates a user
func (s *Service) SaveUser(ctx context.Context, u *account.User) error {
	return s.settle(s.scope.WithScopedTransaction(ctx, func(ctx context.Context, repo uow.Repository) error {
		return repo.SaveUser(ctx, u)
	}))
}

// SaveListing creates or updates a listing. The listing's sharer must exist.
func (s *Service) SaveListing(ctx context.Context, l *listing.Listing) error {
	return s.settle(s.scope.WithScopedTransaction(ctx, func(ctx context.Context, repo uow.Repository) error {
		if _, err := repo.GetUser(ctx, l.SharerID); err != nil {
			return err
		}
		if l.CreatedAt.IsZero() {
			l.CreatedAt = s.now()
		}
		return repo.SaveListing(ctx, l)
	}))
}

// DeleteListing removes a listing together with its reservation requests
func (s *Service) DeleteListing(ctx context.Context, id string) error {
	return s.settle(s.scope.WithScopedTransaction(ctx, func(ctx context.Context, repo uow.Repository) error {
		return repo.DeleteListing(ctx, id)
	}))
}

// settle treats a dispatch failure after commit as success; the unit of work
// has already logged it
func (s *Service) settle(err error) error {
	var dispatchErr *uow.DispatchError
	if errors.As(err, &dispatchErr) {
		return nil
	}
	return err
}
