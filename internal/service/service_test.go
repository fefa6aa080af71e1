package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simnova/sharethrift-sub014/internal/account"
	"github.com/simnova/sharethrift-sub014/internal/events"
	"github.com/simnova/sharethrift-sub014/internal/listing"
	"github.com/simnova/sharethrift-sub014/internal/reservation"
	"github.com/simnova/sharethrift-sub014/internal/storage"
	"github.com/simnova/sharethrift-sub014/internal/uow"
	"github.com/simnova/sharethrift-sub014/pkg/types"
)

var may = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

func day(d int) time.Time { return may.AddDate(0, 0, d-1) }

type fixture struct {
	store *storage.SQLiteStorage
	bus   *events.DomainBus
	uow   *uow.UnitOfWork
	svc   *Service
}

func setup(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bus := events.NewDomainBus(nil)
	u := uow.New(store, bus, nil, nil)
	var seq atomic.Int32
	svc := New(u, nil,
		WithClock(func() time.Time { return may }),
		WithIDGenerator(func() string { return fmt.Sprintf("r%d", seq.Add(1)) }),
	)

	ctx := context.Background()
	require.NoError(t, svc.SaveUser(ctx, &account.User{ID: "sharer", Email: "sharer@example.com"}))
	require.NoError(t, svc.SaveUser(ctx, &account.User{ID: "reserver", Email: "reserver@example.com"}))
	require.NoError(t, svc.SaveUser(ctx, &account.User{ID: "other", Email: "other@example.com"}))
	require.NoError(t, svc.SaveListing(ctx, &listing.Listing{ID: "l1", SharerID: "sharer", Title: "Tent", State: listing.StatePublished}))
	return &fixture{store: store, bus: bus, uow: u, svc: svc}
}

func (f *fixture) create(from, to int) (*reservation.ReservationRequest, error) {
	return f.svc.CreateReservationRequest(context.Background(), CreateRequest{
		ListingID: "l1", ReserverID: "reserver", Start: day(from), End: day(to),
	})
}

func TestCreate_TouchingBoundary(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	r1, err := f.create(15, 20)
	require.NoError(t, err)
	_, err = f.svc.Accept(ctx, r1.ID(), "sharer")
	require.NoError(t, err)

	_, err = f.create(18, 22)
	var conflict *types.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, r1.ID(), conflict.ConflictingID)

	r3, err := f.create(20, 25)
	require.NoError(t, err)
	assert.Equal(t, reservation.StateRequested, r3.State())
}

func TestCreate_ConcurrentOverlappingRequests(t *testing.T) {
	f := setup(t)
	const n = 8

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.create(10+i%2, 14)
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, types.ErrConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)

	active, err := f.svc.ListByListing(context.Background(), "l1", reservation.StateRequested, reservation.StateAccepted)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestCreate_Errors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.CreateReservationRequest(ctx, CreateRequest{ListingID: "missing", ReserverID: "reserver", Start: day(1), End: day(2)})
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = f.svc.CreateReservationRequest(ctx, CreateRequest{ListingID: "l1", ReserverID: "missing", Start: day(1), End: day(2)})
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = f.create(3, 3)
	assert.ErrorIs(t, err, types.ErrValidation)

	// sub-millisecond periods are empty once stored at millisecond precision
	_, err = f.svc.CreateReservationRequest(ctx, CreateRequest{
		ListingID: "l1", ReserverID: "reserver", Start: day(1).Add(100 * time.Microsecond), End: day(1).Add(600 * time.Microsecond),
	})
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = f.svc.CreateReservationRequest(ctx, CreateRequest{ListingID: "l1", ReserverID: "sharer", Start: day(1), End: day(2)})
	assert.ErrorIs(t, err, types.ErrValidation)

	require.NoError(t, f.svc.SaveListing(ctx, &listing.Listing{ID: "l2", SharerID: "sharer", Title: "Paused", State: listing.StatePaused}))
	_, err = f.svc.CreateReservationRequest(ctx, CreateRequest{ListingID: "l2", ReserverID: "reserver", Start: day(1), End: day(2)})
	assert.ErrorIs(t, err, types.ErrInvalidState)
	assert.ErrorContains(t, err, "cannot reserve listing l2 in state Paused: only Published listings accept reservation requests")
}

func TestAccept_DispatchesAndPublishes(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	var accepted []string
	f.bus.Subscribe(reservation.EventAccepted, func(ctx context.Context, ev events.Event) error {
		accepted = append(accepted, ev.AggregateID())
		return nil
	})

	r, err := f.create(1, 3)
	require.NoError(t, err)
	r, err = f.svc.Accept(ctx, r.ID(), "sharer")
	require.NoError(t, err)
	assert.Equal(t, reservation.StateAccepted, r.State())
	assert.Equal(t, []string{r.ID()}, accepted)

	// ListingChanged from seeding, Created and Updated from submission, Updated from accept
	msgs, err := f.store.ClaimDueOutbox(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	var names []string
	for _, m := range msgs {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{
		listing.EventChanged, reservation.EventCreated, reservation.EventUpdated, reservation.EventUpdated,
	}, names)
}

func TestAccept_DispatchFailureIsNotABusinessError(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.bus.Subscribe(reservation.EventAccepted, func(ctx context.Context, ev events.Event) error {
		return errors.New("conversation service down")
	})

	r, err := f.create(1, 3)
	require.NoError(t, err)
	r, err = f.svc.Accept(ctx, r.ID(), "sharer")
	require.NoError(t, err)
	assert.Equal(t, reservation.StateAccepted, r.State())
}

func TestAccept_OnlySharer(t *testing.T) {
	f := setup(t)
	r, err := f.create(1, 3)
	require.NoError(t, err)

	_, err = f.svc.Accept(context.Background(), r.ID(), "reserver")
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	got, err := f.svc.Get(context.Background(), r.ID())
	require.NoError(t, err)
	assert.Equal(t, reservation.StateRequested, got.State())
}

// interimScope hands out repositories whose overlap query also returns a
// request accepted by another writer in the meantime
type interimScope struct {
	uow.Scope
	interim *reservation.ReservationRequest
}

type interimRepository struct {
	uow.Repository
	interim *reservation.ReservationRequest
}

func (r interimRepository) GetOverlappingActiveRequests(ctx context.Context, listingID string, p reservation.Period) ([]*reservation.ReservationRequest, error) {
	out, err := r.Repository.GetOverlappingActiveRequests(ctx, listingID, p)
	return append(out, r.interim), err
}

func (s interimScope) WithScopedTransaction(ctx context.Context, fn uow.Func) error {
	return s.Scope.WithScopedTransaction(ctx, func(ctx context.Context, repo uow.Repository) error {
		return fn(ctx, interimRepository{Repository: repo, interim: s.interim})
	})
}

func TestAccept_FailsAfterInterimAccept(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	r2, err := f.create(10, 15)
	require.NoError(t, err)

	interim := reservation.Restore(reservation.Snapshot{
		ID: "r-interim", State: reservation.StateAccepted, ListingID: "l1", ReserverID: "other",
		Period: reservation.Period{Start: day(12), End: day(14)}, Version: 2,
	})
	svc := New(interimScope{Scope: f.uow, interim: interim}, nil, WithClock(func() time.Time { return may }))

	_, err = svc.Accept(ctx, r2.ID(), "sharer")
	var conflict *types.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "r-interim", conflict.ConflictingID)

	got, err := f.svc.Get(ctx, r2.ID())
	require.NoError(t, err)
	assert.Equal(t, reservation.StateRequested, got.State())
}

func TestRejectAndCancel(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	r1, err := f.create(1, 3)
	require.NoError(t, err)
	r1, err = f.svc.Reject(ctx, r1.ID(), "sharer")
	require.NoError(t, err)
	assert.Equal(t, reservation.StateRejected, r1.State())

	_, err = f.svc.Cancel(ctx, r1.ID(), "reserver")
	assert.ErrorIs(t, err, types.ErrInvalidState)

	// a rejected request frees the window
	r2, err := f.create(1, 3)
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, r2.ID(), "sharer")
	assert.ErrorIs(t, err, types.ErrUnauthorized)
	r2, err = f.svc.Cancel(ctx, r2.ID(), "reserver")
	require.NoError(t, err)
	assert.Equal(t, reservation.StateCancelled, r2.State())
}

func TestRequestClose_BothParties(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	r, err := f.create(1, 3)
	require.NoError(t, err)
	_, err = f.svc.RequestClose(ctx, r.ID(), "reserver")
	assert.ErrorIs(t, err, types.ErrInvalidState)

	_, err = f.svc.Accept(ctx, r.ID(), "sharer")
	require.NoError(t, err)

	r, err = f.svc.RequestClose(ctx, r.ID(), "reserver")
	require.NoError(t, err)
	assert.Equal(t, reservation.StateClosing, r.State())

	_, err = f.svc.RequestClose(ctx, r.ID(), "other")
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	r, err = f.svc.RequestClose(ctx, r.ID(), "sharer")
	require.NoError(t, err)
	assert.Equal(t, reservation.StateClosed, r.State())
	assert.True(t, r.CloseRequestedBySharer())
	assert.True(t, r.CloseRequestedByReserver())
}

func TestQueries(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.create(1, 3)
	require.NoError(t, err)
	_, err = f.create(5, 7)
	require.NoError(t, err)

	byReserver, err := f.svc.ListByReserver(ctx, "reserver")
	require.NoError(t, err)
	assert.Len(t, byReserver, 2)

	byListing, err := f.svc.ListByListing(ctx, "l1")
	require.NoError(t, err)
	assert.Len(t, byListing, 2)

	_, err = f.svc.ListByListing(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = f.svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestDeleteListing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	r, err := f.create(1, 3)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteListing(ctx, "l1"))
	_, err = f.svc.Get(ctx, r.ID())
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.ErrorIs(t, f.svc.DeleteListing(ctx, "l1"), types.ErrNotFound)
}

func TestSaveListing_RequiresSharer(t *testing.T) {
	f := setup(t)
	err := f.svc.SaveListing(context.Background(), &listing.Listing{ID: "l9", SharerID: "nobody", Title: "x", State: listing.StatePublished})
	assert.ErrorIs(t, err, types.ErrNotFound)
}
