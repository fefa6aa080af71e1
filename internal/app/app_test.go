package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simnova/sharethrift-sub014/internal/account"
	"github.com/simnova/sharethrift-sub014/internal/config"
	"github.com/simnova/sharethrift-sub014/internal/listing"
	"github.com/simnova/sharethrift-sub014/internal/searchindex"
	"github.com/simnova/sharethrift-sub014/internal/service"
	"github.com/simnova/sharethrift-sub014/internal/storage"
)

func testConfig() *config.Config {
	return &config.Config{
		DBPath:           ":memory:",
		SearchDBPath:     ":memory:",
		LogLevel:         "info",
		Transport:        config.TransportMemory,
		MemoryBuffer:     16,
		Workers:          2,
		MaxDeliveries:    3,
		PollInterval:     10 * time.Millisecond,
		BatchSize:        10,
		RedeliveryDelay:  time.Millisecond,
		RedeliveryMax:    10 * time.Millisecond,
		IndexName:        "listings",
		IndexCacheSize:   16,
		ReindexWorkers:   2,
		RetryMaxAttempts: 3,
		RetryBaseDelay:   time.Millisecond,
		RetryMaxDelay:    5 * time.Millisecond,
	}
}

func start(t *testing.T) *App {
	t.Helper()
	a, err := New(testConfig(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
		assert.NoError(t, a.Close())
	})
	return a
}

func TestPipeline_ReservationReachesSearchIndex(t *testing.T) {
	a := start(t)
	ctx := context.Background()

	require.NoError(t, a.Reservations.SaveUser(ctx, &account.User{ID: "sharer", Email: "sharer@example.com"}))
	require.NoError(t, a.Reservations.SaveUser(ctx, &account.User{ID: "reserver", Email: "reserver@example.com"}))
	require.NoError(t, a.Reservations.SaveListing(ctx, &listing.Listing{
		ID: "l1", SharerID: "sharer", Title: "Paddle board", Category: "water", State: listing.StatePublished,
	}))

	// the listing document appears once ListingChanged is handled
	require.Eventually(t, func() bool {
		res, err := a.Index.Search(ctx, "listings", "paddle", searchindex.SearchOptions{})
		return err == nil && res.Count == 1
	}, 5*time.Second, 10*time.Millisecond)

	from := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Hour)
	r, err := a.Reservations.CreateReservationRequest(ctx, service.CreateRequest{
		ListingID: "l1", ReserverID: "reserver", Start: from, End: from.Add(48 * time.Hour),
	})
	require.NoError(t, err)
	_, err = a.Reservations.Accept(ctx, r.ID(), "sharer")
	require.NoError(t, err)

	// the accept handler ran synchronously after commit
	conv, err := a.Store.GetConversationByReservation(ctx, r.ID())
	require.NoError(t, err)
	assert.Equal(t, "sharer", conv.SharerID)

	require.Eventually(t, func() bool {
		res, err := a.Index.Search(ctx, "listings", "paddle", searchindex.SearchOptions{})
		if err != nil || res.Count != 1 {
			return false
		}
		periods, _ := res.Hits[0].Document["reservedPeriods"].([]any)
		return len(periods) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		counts, err := a.Store.OutboxCounts(ctx)
		return err == nil && counts[storage.OutboxPending] == 0 && counts[storage.OutboxPublished] == 0
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, a.Reservations.DeleteListing(ctx, "l1"))
	require.Eventually(t, func() bool {
		res, err := a.Index.Search(ctx, "listings", "paddle", searchindex.SearchOptions{})
		return err == nil && res.Count == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPipeline_RequestedPeriodIsIndexedWithoutAccept(t *testing.T) {
	a := start(t)
	ctx := context.Background()

	require.NoError(t, a.Reservations.SaveUser(ctx, &account.User{ID: "sharer", Email: "sharer@example.com"}))
	require.NoError(t, a.Reservations.SaveUser(ctx, &account.User{ID: "reserver", Email: "reserver@example.com"}))
	require.NoError(t, a.Reservations.SaveListing(ctx, &listing.Listing{
		ID: "l1", SharerID: "sharer", Title: "Camping stove", Category: "outdoors", State: listing.StatePublished,
	}))
	require.Eventually(t, func() bool {
		res, err := a.Index.Search(ctx, "listings", "stove", searchindex.SearchOptions{})
		return err == nil && res.Count == 1
	}, 5*time.Second, 10*time.Millisecond)

	from := time.Now().UTC().Add(72 * time.Hour).Truncate(time.Hour)
	r, err := a.Reservations.CreateReservationRequest(ctx, service.CreateRequest{
		ListingID: "l1", ReserverID: "reserver", Start: from, End: from.Add(24 * time.Hour),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		res, err := a.Index.Search(ctx, "listings", "stove", searchindex.SearchOptions{})
		if err != nil || res.Count != 1 {
			return false
		}
		periods, _ := res.Hits[0].Document["reservedPeriods"].([]any)
		if len(periods) != 1 {
			return false
		}
		p, _ := periods[0].(map[string]any)
		return p["reservationId"] == r.ID()
	}, 5*time.Second, 10*time.Millisecond)

	// cancelling frees the period again
	_, err = a.Reservations.Cancel(ctx, r.ID(), "reserver")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		res, err := a.Index.Search(ctx, "listings", "stove", searchindex.SearchOptions{})
		if err != nil || res.Count != 1 {
			return false
		}
		periods, _ := res.Hits[0].Document["reservedPeriods"].([]any)
		return len(periods) == 0
	}, 5*time.Second, 10*time.Millisecond)
}
