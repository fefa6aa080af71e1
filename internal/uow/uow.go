// Package uow provides the transactional boundary of the reservation core.
package uow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/simnova/sharethrift-sub014/internal/events"
	"github.com/simnova/sharethrift-sub014/internal/storage"
)

// Func is the body of a scope
type Func func(ctx context.Context, repo Repository) error

// Scope opens transactional scopes. Services depend on this rather than on
// *UnitOfWork.
type Scope interface {
	WithScopedTransaction(ctx context.Context, fn Func) error
	WithReadOnlyScope(ctx context.Context, fn Func) error
}

// Dispatcher receives domain events after commit
type Dispatcher interface {
	Dispatch(ctx context.Context, evs ...events.Event) error
}

// Notifier is woken after a commit that wrote outbox messages
type Notifier interface {
	Notify()
}

// DispatchError is returned when the transaction committed but a domain event
// handler failed. The business change stands.
type DispatchError struct {
	Err error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("committed, but domain event dispatch failed: %v", e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// UnitOfWork runs scopes against storage
type UnitOfWork struct {
	store    storage.Storage
	domain   Dispatcher
	notifier Notifier
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// New creates a unit of work. domain and notifier may be nil.
func New(store storage.Storage, domain Dispatcher, notifier Notifier, logger *slog.Logger) *UnitOfWork {
	if logger == nil {
		logger = slog.Default()
	}
	return &UnitOfWork{
		store:    store,
		domain:   domain,
		notifier: notifier,
		logger:   logger,
		tracer:   otel.Tracer("github.com/simnova/sharethrift-sub014/internal/uow"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithScopedTransaction runs fn in a read-write transaction. It commits when fn
// returns nil and rolls back on error or panic. Integration events of saved
// aggregates are written to the outbox within the transaction; domain events
// are dispatched only after commit.
func (u *UnitOfWork) WithScopedTransaction(ctx context.Context, fn Func) error {
	ctx, span := u.tracer.Start(ctx, "uow.WithScopedTransaction")
	defer span.End()

	repo, err := u.run(ctx, storage.TxOptions{}, fn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(
		attribute.Int("uow.outbox_messages", repo.enqueued),
		attribute.Int("uow.domain_events", len(repo.domainEvents)),
	)

	if repo.enqueued > 0 && u.notifier != nil {
		u.notifier.Notify()
	}

	if len(repo.domainEvents) > 0 && u.domain != nil {
		if err := u.domain.Dispatch(ctx, repo.domainEvents...); err != nil {
			u.logger.Error("domain event dispatch failed after commit", "error", err)
			span.RecordError(err)
			return &DispatchError{Err: err}
		}
	}
	return nil
}

// WithReadOnlyScope runs fn in a transaction that rejects writes. Events are
// never dispatched from it.
func (u *UnitOfWork) WithReadOnlyScope(ctx context.Context, fn Func) error {
	ctx, span := u.tracer.Start(ctx, "uow.WithReadOnlyScope")
	defer span.End()

	if _, err := u.run(ctx, storage.TxOptions{ReadOnly: true}, fn); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (u *UnitOfWork) run(ctx context.Context, opts storage.TxOptions, fn Func) (repo *txRepository, err error) {
	tx, err := u.store.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if !committed {
			_ = tx.Rollback()
		}
	}()

	repo = &txRepository{tx: tx, now: u.now}
	if err := fn(ctx, repo); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	committed = true
	return repo, nil
}

// Scoped runs fn in a read-write scope and returns its result
func Scoped[T any](ctx context.Context, s Scope, fn func(ctx context.Context, repo Repository) (T, error)) (T, error) {
	var out T
	err := s.WithScopedTransaction(ctx, func(ctx context.Context, repo Repository) error {
		v, err := fn(ctx, repo)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// ReadOnly runs fn in a read-only scope and returns its result
func ReadOnly[T any](ctx context.Context, s Scope, fn func(ctx context.Context, repo Repository) (T, error)) (T, error) {
	var out T
	err := s.WithReadOnlyScope(ctx, func(ctx context.Context, repo Repository) error {
		v, err := fn(ctx, repo)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
