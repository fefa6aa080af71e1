// Package searchsync keeps the search index in step with listings and their
// reservation requests. It is the only writer of search documents.
package searchsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/simnova/sharethrift-sub014/internal/listing"
	"github.com/simnova/sharethrift-sub014/internal/reservation"
	"github.com/simnova/sharethrift-sub014/internal/retry"
	"github.com/simnova/sharethrift-sub014/internal/searchindex"
	"github.com/simnova/sharethrift-sub014/internal/uow"
	"github.com/simnova/sharethrift-sub014/pkg/types"
)

// ErrReindexInProgress is returned when ReindexAll is already running
var ErrReindexInProgress = errors.New("reindex already in progress")

// maxHashRaces bounds the rewrites of one IndexEntity call after losing the hash swap
const maxHashRaces = 5

// Config configures the synchronization service
type Config struct {
	IndexName string
	Retry     retry.Config
	Workers   int // concurrency of ReindexAll (0 = NumCPU)
}

// DefaultConfig returns the default listing index configuration
func DefaultConfig() Config {
	return Config{
		IndexName: DefaultIndexName,
		Retry:     retry.DefaultConfig(),
		Workers:   runtime.NumCPU(),
	}
}

// Outcome is the result of one IndexEntity call
type Outcome int

const (
	OutcomeIndexed Outcome = iota
	OutcomeSkipped         // hash unchanged
	OutcomeMissing         // entity no longer exists
)

// Statistics contains statistics about a bulk rebuild
type Statistics struct {
	Listings      int
	Indexed       int
	Skipped       int
	Failed        int
	Duration      time.Duration
	ErrorMessages []string
}

// Service projects listings into search documents
type Service struct {
	scope   uow.Scope
	gateway searchindex.Gateway
	config  Config
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time

	ensureMu sync.Mutex
	ensured  atomic.Bool
	lock     reindexLock
}

// New creates a synchronization service
func New(scope uow.Scope, gateway searchindex.Gateway, config Config, logger *slog.Logger) *Service {
	if config.IndexName == "" {
		config.IndexName = DefaultIndexName
	}
	if config.Workers <= 0 {
		config.Workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		scope:   scope,
		gateway: gateway,
		config:  config,
		logger:  logger,
		tracer:  otel.Tracer("github.com/simnova/sharethrift-sub014/internal/searchsync"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// IndexName returns the name of the managed index
func (s *Service) IndexName() string {
	return s.config.IndexName
}

// IndexEntity rebuilds the document of a listing. A listing that no longer
// exists is logged and ignored. An unchanged document is not rewritten.
func (s *Service) IndexEntity(ctx context.Context, listingID string) error {
	_, err := s.indexEntity(ctx, listingID)
	return err
}

func (s *Service) indexEntity(ctx context.Context, listingID string) (Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "searchsync.IndexEntity",
		trace.WithAttributes(attribute.String("listing.id", listingID)))
	defer span.End()

	// Another writer replacing the stored hash between our load and our store
	// may have written an older document after ours. The loser rewrites from
	// fresh state without trusting the stored hash.
	force := false
	for round := 1; ; round++ {
		outcome, err := s.syncListing(ctx, span, listingID, force)
		if !errors.Is(err, types.ErrConflict) {
			return outcome, err
		}
		if round >= maxHashRaces {
			return 0, s.fail(span, fmt.Errorf("index listing %s: %w", listingID, err))
		}
		s.logger.Debug("search hash replaced concurrently, rewriting", "listing_id", listingID, "round", round)
		force = true
	}
}

// syncListing loads the listing, writes its document unless the stored hash
// already matches (or force is set), then swaps in the new hash
func (s *Service) syncListing(ctx context.Context, span trace.Span, listingID string, force bool) (Outcome, error) {
	var (
		l        *listing.Listing
		requests []*reservation.ReservationRequest
	)
	err := s.scope.WithReadOnlyScope(ctx, func(ctx context.Context, repo uow.Repository) error {
		var err error
		if l, err = repo.GetListing(ctx, listingID); err != nil {
			return err
		}
		requests, err = repo.ListReservationsByListing(ctx, listingID,
			reservation.StateRequested, reservation.StateAccepted)
		return err
	})
	if errors.Is(err, types.ErrNotFound) {
		s.logger.Warn("listing vanished before indexing", "listing_id", listingID)
		return OutcomeMissing, nil
	}
	if err != nil {
		return 0, s.fail(span, fmt.Errorf("load listing %s: %w", listingID, err))
	}

	doc := Project(l, requests)
	hash, err := Hash(doc)
	if err != nil {
		return 0, s.fail(span, fmt.Errorf("hash listing %s: %w", listingID, err))
	}
	if hash == l.SearchHash && !force {
		s.logger.Debug("search document unchanged", "listing_id", listingID, "hash", hash)
		span.SetAttributes(attribute.Bool("search.skipped", true))
		return OutcomeSkipped, nil
	}
	doc["hash"] = hash
	doc["lastIndexed"] = formatTime(s.now())

	attempts, err := retry.Do(ctx, s.config.Retry, func(ctx context.Context, attempt int) error {
		if err := s.ensureIndex(ctx); err != nil {
			return err
		}
		return s.gateway.IndexDocument(ctx, s.config.IndexName, doc)
	})
	span.SetAttributes(attribute.Int("search.attempts", attempts))
	if err != nil {
		return 0, s.fail(span, s.exhausted("index", listingID, attempts, err))
	}

	err = s.scope.WithScopedTransaction(ctx, func(ctx context.Context, repo uow.Repository) error {
		return repo.SetListingSearchHash(ctx, listingID, l.SearchHash, hash)
	})
	var dispatchErr *uow.DispatchError
	switch {
	case err == nil, errors.As(err, &dispatchErr):
	case errors.Is(err, types.ErrConflict):
		return 0, err
	case errors.Is(err, types.ErrNotFound):
		// deleted after the write; its ListingDeleted message removes the document
		s.logger.Warn("listing deleted while indexing", "listing_id", listingID)
	default:
		return 0, s.fail(span, fmt.Errorf("store search hash of listing %s: %w", listingID, err))
	}

	s.logger.Debug("search document written", "listing_id", listingID, "attempts", attempts)
	return OutcomeIndexed, nil
}

// DeleteFromIndex removes the document of a listing. A document that is not
// indexed counts as deleted.
func (s *Service) DeleteFromIndex(ctx context.Context, listingID string) error {
	ctx, span := s.tracer.Start(ctx, "searchsync.DeleteFromIndex",
		trace.WithAttributes(attribute.String("listing.id", listingID)))
	defer span.End()

	attempts, err := retry.Do(ctx, s.config.Retry, func(ctx context.Context, attempt int) error {
		if err := s.ensureIndex(ctx); err != nil {
			return err
		}
		err := s.gateway.DeleteDocument(ctx, s.config.IndexName, listingID)
		if errors.Is(err, searchindex.ErrDocumentNotFound) {
			return nil
		}
		return err
	})
	span.SetAttributes(attribute.Int("search.attempts", attempts))
	if err != nil {
		return s.fail(span, s.exhausted("delete", listingID, attempts, err))
	}
	return nil
}

// ReindexAll runs IndexEntity for every listing with bounded concurrency.
// Per-listing failures are counted, not returned.
func (s *Service) ReindexAll(ctx context.Context) (*Statistics, error) {
	if !s.lock.TryAcquire() {
		return nil, ErrReindexInProgress
	}
	defer s.lock.Release()

	start := time.Now()
	listings, err := uow.ReadOnly(ctx, s.scope, func(ctx context.Context, repo uow.Repository) ([]*listing.Listing, error) {
		return repo.ListListings(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}

	stats := &Statistics{Listings: len(listings), ErrorMessages: make([]string, 0)}
	var (
		indexed, skipped, failed int32
		mu                       sync.Mutex
	)
	semaphore := make(chan struct{}, s.config.Workers)
	g, gctx := errgroup.WithContext(ctx)

	for _, l := range listings {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case semaphore <- struct{}{}:
			}
			defer func() { <-semaphore }()

			outcome, err := s.indexEntity(gctx, l.ID)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				atomic.AddInt32(&failed, 1)
				mu.Lock()
				stats.ErrorMessages = append(stats.ErrorMessages, err.Error())
				mu.Unlock()
				return nil
			}
			switch outcome {
			case OutcomeIndexed:
				atomic.AddInt32(&indexed, 1)
			default:
				atomic.AddInt32(&skipped, 1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats.Indexed = int(indexed)
	stats.Skipped = int(skipped)
	stats.Failed = int(failed)
	stats.Duration = time.Since(start)
	s.logger.Info("search index rebuilt",
		"listings", stats.Listings, "indexed", stats.Indexed,
		"skipped", stats.Skipped, "failed", stats.Failed, "duration", stats.Duration)
	return stats, nil
}

// ensureIndex creates the index once per service
func (s *Service) ensureIndex(ctx context.Context) error {
	if s.ensured.Load() {
		return nil
	}
	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()
	if s.ensured.Load() {
		return nil
	}
	if err := s.gateway.CreateIndexIfNotExists(ctx, ListingIndexSpec(s.config.IndexName)); err != nil {
		if errors.Is(err, searchindex.ErrInvalidSpec) {
			return retry.Permanent(err)
		}
		return err
	}
	s.ensured.Store(true)
	return nil
}

func (s *Service) exhausted(op, key string, attempts int, err error) error {
	if isCancellation(err) {
		return err
	}
	ierr := &types.IndexingError{Index: s.config.IndexName, Key: key, Op: op, Attempts: attempts, Err: err}
	s.logger.Error("search index write failed", "op", op, "listing_id", key, "attempts", attempts, "error", err)
	return ierr
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
