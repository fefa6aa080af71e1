// Package handlers connects reservation and listing events to their side
// effects: conversations, notifications, and search reindexing.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/simnova/sharethrift-sub014/internal/account"
	"github.com/simnova/sharethrift-sub014/internal/events"
	"github.com/simnova/sharethrift-sub014/internal/listing"
	"github.com/simnova/sharethrift-sub014/internal/notify"
	"github.com/simnova/sharethrift-sub014/internal/reservation"
	"github.com/simnova/sharethrift-sub014/internal/storage"
	"github.com/simnova/sharethrift-sub014/internal/uow"
	"github.com/simnova/sharethrift-sub014/pkg/types"
)

// Indexer is the part of the search synchronization service used by handlers
type Indexer interface {
	IndexEntity(ctx context.Context, listingID string) error
	DeleteFromIndex(ctx context.Context, listingID string) error
}

// Subscriber registers integration handlers
type Subscriber interface {
	Subscribe(name string, h events.Handler) error
}

// Handlers holds the dependencies of every event handler
type Handlers struct {
	scope    uow.Scope
	indexer  Indexer
	notifier notify.Gateway
	logger   *slog.Logger
	now      func() time.Time
}

// New creates the handler set. notifier may be nil.
func New(scope uow.Scope, indexer Indexer, notifier notify.Gateway, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		scope:    scope,
		indexer:  indexer,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Register subscribes every handler. It must run before the integration bus starts.
func (h *Handlers) Register(domain *events.DomainBus, integration Subscriber) error {
	domain.Subscribe(reservation.EventAccepted, h.OnReservationAccepted)

	subs := []struct {
		name string
		fn   events.Handler
	}{
		{reservation.EventCreated, h.OnReservationCreated},
		{reservation.EventUpdated, h.OnReservationUpdated},
		{listing.EventChanged, h.OnListingChanged},
		{listing.EventDeleted, h.OnListingDeleted},
	}
	for _, s := range subs {
		if err := integration.Subscribe(s.name, s.fn); err != nil {
			return fmt.Errorf("subscribe %s: %w", s.name, err)
		}
	}
	return nil
}

// OnReservationAccepted opens the conversation between sharer and reserver.
// A second delivery for the same request is a no-op.
func (h *Handlers) OnReservationAccepted(ctx context.Context, ev events.Event) error {
	var accepted reservation.Accepted
	switch e := ev.(type) {
	case reservation.Accepted:
		accepted = e
	case *reservation.Accepted:
		accepted = *e
	default:
		return fmt.Errorf("unexpected event %T for %s", ev, reservation.EventAccepted)
	}

	conv := &storage.Conversation{
		ID:                   uuid.NewString(),
		ReservationRequestID: accepted.ReservationID,
		ListingID:            accepted.ListingID,
		SharerID:             accepted.SharerID,
		ReserverID:           accepted.ReserverID,
		CreatedAt:            h.now(),
	}
	created, err := uow.Scoped(ctx, h.scope, func(ctx context.Context, repo uow.Repository) (bool, error) {
		return repo.CreateConversation(ctx, conv)
	})
	if err != nil && !isDispatchError(err) {
		return fmt.Errorf("create conversation for %s: %w", accepted.ReservationID, err)
	}
	if created {
		h.logger.Info("conversation created",
			"conversation_id", conv.ID, "reservation_request_id", accepted.ReservationID)
	} else {
		h.logger.Debug("conversation already exists", "reservation_request_id", accepted.ReservationID)
	}
	return nil
}

// OnReservationCreated notifies the sharer of a new request. Notification
// failures are logged and not retried.
func (h *Handlers) OnReservationCreated(ctx context.Context, msg events.Message) error {
	created, err := events.Decode[reservation.Created](msg)
	if err != nil {
		return err
	}
	if h.notifier == nil {
		return nil
	}

	type parties struct {
		listing  *listing.Listing
		sharer   *account.User
		reserver *account.User
	}
	p, err := uow.ReadOnly(ctx, h.scope, func(ctx context.Context, repo uow.Repository) (parties, error) {
		var p parties
		var err error
		if p.listing, err = repo.GetListing(ctx, created.ListingID); err != nil {
			return p, err
		}
		if p.sharer, err = repo.GetUser(ctx, p.listing.SharerID); err != nil {
			return p, err
		}
		p.reserver, err = repo.GetUser(ctx, created.ReserverID)
		return p, err
	})
	if errors.Is(err, types.ErrNotFound) {
		h.logger.Warn("skipping reservation notification", "reservation_request_id", created.ReservationID, "error", err)
		return nil
	}
	if err != nil {
		return err
	}

	if err := h.notifier.SendReservationNotification(ctx, p.sharer.Email, p.reserver.Name(),
		p.listing.Title, created.Start, created.End); err != nil {
		h.logger.Error("reservation notification failed",
			"reservation_request_id", created.ReservationID, "to", p.sharer.Email, "error", err)
	}
	return nil
}

// OnReservationUpdated reindexes the listing of the changed request
func (h *Handlers) OnReservationUpdated(ctx context.Context, msg events.Message) error {
	updated, err := events.Decode[reservation.Updated](msg)
	if err != nil {
		return err
	}
	return h.indexer.IndexEntity(ctx, updated.ListingID)
}

// OnListingChanged reindexes the listing
func (h *Handlers) OnListingChanged(ctx context.Context, msg events.Message) error {
	changed, err := events.Decode[listing.Changed](msg)
	if err != nil {
		return err
	}
	return h.indexer.IndexEntity(ctx, changed.ListingID)
}

// OnListingDeleted removes the listing document
func (h *Handlers) OnListingDeleted(ctx context.Context, msg events.Message) error {
	deleted, err := events.Decode[listing.Deleted](msg)
	if err != nil {
		return err
	}
	return h.indexer.DeleteFromIndex(ctx, deleted.ListingID)
}

func isDispatchError(err error) bool {
	var de *uow.DispatchError
	return errors.As(err, &de)
}
