package reservation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simnova/sharethrift-sub014/internal/account"
	"github.com/simnova/sharethrift-sub014/internal/listing"
	"github.com/simnova/sharethrift-sub014/pkg/types"
)

var (
	now      = time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	sharer   = &account.User{ID: "sharer", Email: "sharer@example.com"}
	reserver = &account.User{ID: "reserver", Email: "reserver@example.com"}
	stranger = &account.User{ID: "stranger", Email: "stranger@example.com"}
)

func publishedListing() *listing.Listing {
	return &listing.Listing{ID: "listing-x", SharerID: sharer.ID, Title: "Tent", State: listing.StatePublished}
}

func newRequest(t *testing.T, id string, from, to int, active ...*ReservationRequest) *ReservationRequest {
	t.Helper()
	r, err := New(id, publishedListing(), reserver, period(t, from, to), active, now)
	require.NoError(t, err)
	return r
}

func accepted(t *testing.T, id string, from, to int) *ReservationRequest {
	t.Helper()
	r := newRequest(t, id, from, to)
	require.NoError(t, r.Accept(sharer.ID, publishedListing(), nil, now))
	r.PullDomainEvents()
	r.PullIntegrationEvents()
	return r
}

func TestNew_StartsRequested(t *testing.T) {
	r := newRequest(t, "r1", 1, 5)

	assert.Equal(t, "r1", r.ID())
	assert.Equal(t, StateRequested, r.State())
	assert.Equal(t, "listing-x", r.ListingID())
	assert.Equal(t, reserver.ID, r.ReserverID())
	assert.Equal(t, SchemaVersion, r.SchemaVersion())
	assert.Equal(t, now, r.CreatedAt())
	assert.Equal(t, now, r.UpdatedAt())

	evs := r.PullIntegrationEvents()
	require.Len(t, evs, 2)
	created, ok := evs[0].(Created)
	require.True(t, ok)
	assert.Equal(t, "r1", created.ReservationID)
	assert.Equal(t, sharer.ID, created.SharerID)
	updated, ok := evs[1].(Updated)
	require.True(t, ok, "submission reindexes the listing")
	assert.Equal(t, "listing-x", updated.ListingID)
	assert.Empty(t, updated.From)
	assert.Equal(t, StateRequested.String(), updated.To)
	assert.Empty(t, r.PullIntegrationEvents(), "pull drains")
	assert.Empty(t, r.PullDomainEvents())
}

func TestNew_Errors(t *testing.T) {
	draft := publishedListing()
	draft.State = listing.StateDrafted

	tests := []struct {
		name     string
		listing  *listing.Listing
		reserver *account.User
		period   Period
		sentinel error
	}{
		{"missing listing", nil, reserver, period(t, 1, 2), types.ErrNotFound},
		{"missing reserver", publishedListing(), nil, period(t, 1, 2), types.ErrNotFound},
		{"bad period", publishedListing(), reserver, Period{Start: day(3), End: day(2)}, types.ErrValidation},
		{"unpublished listing", draft, reserver, period(t, 1, 2), types.ErrInvalidState},
		{"own listing", publishedListing(), sharer, period(t, 1, 2), types.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New("r1", tt.listing, tt.reserver, tt.period, nil, now)
			assert.Nil(t, r)
			assert.ErrorIs(t, err, tt.sentinel)
		})
	}
}

// an accepted request blocks an overlapping new one
func TestNew_OverlapWithAcceptedRequest(t *testing.T) {
	existing := accepted(t, "r1", 15, 20)

	_, err := New("r2", publishedListing(), reserver, period(t, 18, 22), []*ReservationRequest{existing}, now)
	var conflict *types.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "r1", conflict.ConflictingID)
	assert.Equal(t, "listing-x", conflict.ListingID)

	r, err := New("r3", publishedListing(), reserver, period(t, 20, 25), []*ReservationRequest{existing}, now)
	require.NoError(t, err, "touching boundary is not an overlap")
	assert.Equal(t, StateRequested, r.State())
}

func TestNew_IgnoresInactiveRequests(t *testing.T) {
	cancelled := newRequest(t, "r1", 10, 15)
	require.NoError(t, cancelled.Cancel(reserver.ID, now))

	closing := accepted(t, "r2", 10, 15)
	require.NoError(t, closing.RequestClose(sharer.ID, publishedListing(), now))
	require.Equal(t, StateClosing, closing.State())

	_, err := New("r3", publishedListing(), reserver, period(t, 10, 15), []*ReservationRequest{cancelled, closing}, now)
	assert.NoError(t, err)
}

func TestAccept(t *testing.T) {
	r := newRequest(t, "r1", 1, 5)
	r.PullIntegrationEvents()
	later := now.Add(time.Hour)

	require.NoError(t, r.Accept(sharer.ID, publishedListing(), nil, later))
	assert.Equal(t, StateAccepted, r.State())
	assert.Equal(t, later, r.UpdatedAt())

	domain := r.PullDomainEvents()
	require.Len(t, domain, 1)
	acc := domain[0].(Accepted)
	assert.Equal(t, sharer.ID, acc.SharerID)
	assert.Equal(t, reserver.ID, acc.ReserverID)

	integration := r.PullIntegrationEvents()
	require.Len(t, integration, 1)
	upd := integration[0].(Updated)
	assert.Equal(t, "Requested", upd.From)
	assert.Equal(t, "Accepted", upd.To)
}

func TestAccept_OnlySharer(t *testing.T) {
	r := newRequest(t, "r1", 1, 5)

	err := r.Accept(reserver.ID, publishedListing(), nil, now.Add(time.Hour))
	assert.ErrorIs(t, err, types.ErrUnauthorized)
	assert.Equal(t, StateRequested, r.State())
	assert.Equal(t, now, r.UpdatedAt())
	assert.Empty(t, r.PullDomainEvents())
}

// another request was accepted for the period between load and accept
func TestAccept_ConflictAfterInterimAccept(t *testing.T) {
	r1 := newRequest(t, "r1", 10, 15)
	interim := accepted(t, "r2", 12, 18)

	err := r1.Accept(sharer.ID, publishedListing(), []*ReservationRequest{r1, interim}, now)
	var conflict *types.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "r2", conflict.ConflictingID)
	assert.Equal(t, StateRequested, r1.State())
}

func TestAccept_ExcludesItself(t *testing.T) {
	r := newRequest(t, "r1", 10, 15)
	assert.NoError(t, r.Accept(sharer.ID, publishedListing(), []*ReservationRequest{r}, now))
}

func TestReject(t *testing.T) {
	r := newRequest(t, "r1", 1, 5)

	assert.ErrorIs(t, r.Reject(stranger.ID, publishedListing(), now), types.ErrUnauthorized)
	require.NoError(t, r.Reject(sharer.ID, publishedListing(), now))
	assert.Equal(t, StateRejected, r.State())
}

func TestCancel(t *testing.T) {
	r := newRequest(t, "r1", 1, 5)
	assert.ErrorIs(t, r.Cancel(sharer.ID, now), types.ErrUnauthorized)
	require.NoError(t, r.Cancel(reserver.ID, now))
	assert.Equal(t, StateCancelled, r.State())

	a := accepted(t, "r2", 6, 8)
	require.NoError(t, a.Cancel(reserver.ID, now))
	assert.Equal(t, StateCancelled, a.State())
}

func TestRequestClose_BothParties(t *testing.T) {
	r := accepted(t, "r1", 1, 5)

	require.NoError(t, r.RequestClose(reserver.ID, publishedListing(), now))
	assert.Equal(t, StateClosing, r.State())
	assert.True(t, r.CloseRequestedByReserver())
	assert.False(t, r.CloseRequestedBySharer())

	require.NoError(t, r.RequestClose(sharer.ID, publishedListing(), now))
	assert.Equal(t, StateClosed, r.State())
	assert.True(t, r.State().IsTerminal())
}

func TestRequestClose_RepeatIsNoop(t *testing.T) {
	r := accepted(t, "r1", 1, 5)
	require.NoError(t, r.RequestClose(sharer.ID, publishedListing(), now))
	r.PullIntegrationEvents()

	require.NoError(t, r.RequestClose(sharer.ID, publishedListing(), now.Add(time.Hour)))
	assert.Equal(t, StateClosing, r.State())
	assert.Equal(t, now, r.UpdatedAt())
	assert.Empty(t, r.PullIntegrationEvents())
}

func TestRequestClose_Errors(t *testing.T) {
	requested := newRequest(t, "r1", 1, 5)
	assert.ErrorIs(t, requested.RequestClose(sharer.ID, publishedListing(), now), types.ErrInvalidState)

	acc := accepted(t, "r2", 6, 8)
	assert.ErrorIs(t, acc.RequestClose(stranger.ID, publishedListing(), now), types.ErrUnauthorized)
	assert.Equal(t, StateAccepted, acc.State())
}

// Every transition attempted from a terminal state fails and mutates nothing.
func TestTerminalStatesAreClosed(t *testing.T) {
	for _, st := range []State{StateRejected, StateCancelled, StateClosed} {
		for _, userID := range []string{sharer.ID, reserver.ID} {
			r := Restore(Snapshot{
				ID: "r1", State: st, Period: period(t, 1, 2), ListingID: "listing-x",
				ReserverID: reserver.ID, CloseRequestedBySharer: st == StateClosed,
				CloseRequestedByReserver: st == StateClosed, CreatedAt: now, UpdatedAt: now,
				SchemaVersion: SchemaVersion, Version: 3,
			})
			before := r.Snapshot()
			later := now.Add(time.Hour)

			assert.ErrorIs(t, r.Accept(userID, publishedListing(), nil, later), types.ErrInvalidState)
			assert.ErrorIs(t, r.Reject(userID, publishedListing(), later), types.ErrInvalidState)
			assert.ErrorIs(t, r.Cancel(userID, later), types.ErrInvalidState)
			assert.ErrorIs(t, r.RequestClose(userID, publishedListing(), later), types.ErrInvalidState)

			assert.Equal(t, before, r.Snapshot(), "state %s", st)
			assert.Empty(t, r.PullIntegrationEvents())
			assert.Empty(t, r.PullDomainEvents())
		}
	}
}

func TestTransitionTable(t *testing.T) {
	allowed := map[State][]Action{
		StateRequested: {ActionAccept, ActionReject, ActionCancel},
		StateAccepted:  {ActionCancel, ActionRequestClose},
		StateClosing:   {ActionRequestClose},
	}

	for _, s := range States() {
		for _, a := range Actions() {
			assert.Equal(t, contains(allowed[s], a), CanTransition(s, a), "%s/%s", s, a)
		}
	}
}

func TestParseState(t *testing.T) {
	for _, s := range States() {
		got, err := ParseState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseState("Pending")
	assert.Error(t, err)
}

func TestSnapshotRoundTrip(t *testing.T) {
	r := accepted(t, "r1", 1, 5)
	r.SetVersion(7)

	restored := Restore(r.Snapshot())
	assert.Equal(t, r.Snapshot(), restored.Snapshot())
	assert.Equal(t, int64(7), restored.Version())
}

func contains(actions []Action, a Action) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}
