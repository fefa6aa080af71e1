package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/simnova/sharethrift-sub014/internal/account"
	"github.com/simnova/sharethrift-sub014/internal/listing"
)

// sqliteTx wraps a SQL transaction. Every read goes through the transaction
// as well: the pool holds a single connection.
type sqliteTx struct {
	tx       *sql.Tx
	storage  *SQLiteStorage
	readOnly bool
}

func (t *sqliteTx) Commit() error {
	if t.readOnly {
		return t.tx.Rollback()
	}
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

func (t *sqliteTx) writable() error {
	if t.readOnly {
		return ErrReadOnly
	}
	return nil
}

func (t *sqliteTx) UpsertUser(ctx context.Context, user *account.User) error {
	if err := t.writable(); err != nil {
		return err
	}
	return t.storage.upsertUserWithQuerier(ctx, t.querier(), user)
}

func (t *sqliteTx) GetUser(ctx context.Context, id string) (*account.User, error) {
	return t.storage.getUserWithQuerier(ctx, t.querier(), "id", id)
}

func (t *sqliteTx) GetUserByEmail(ctx context.Context, email string) (*account.User, error) {
	return t.storage.getUserWithQuerier(ctx, t.querier(), "email", email)
}

func (t *sqliteTx) UpsertListing(ctx context.Context, l *listing.Listing) error {
	if err := t.writable(); err != nil {
		return err
	}
	return t.storage.upsertListingWithQuerier(ctx, t.querier(), l)
}

func (t *sqliteTx) GetListing(ctx context.Context, id string) (*listing.Listing, error) {
	return t.storage.getListingWithQuerier(ctx, t.querier(), id)
}

func (t *sqliteTx) ListListings(ctx context.Context) ([]*listing.Listing, error) {
	return t.storage.listListingsWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) DeleteListing(ctx context.Context, id string) error {
	if err := t.writable(); err != nil {
		return err
	}
	return t.storage.deleteListingWithQuerier(ctx, t.querier(), id)
}

func (t *sqliteTx) UpdateListingSearchHash(ctx context.Context, id, expected, hash string) error {
	if err := t.writable(); err != nil {
		return err
	}
	return t.storage.updateListingSearchHashWithQuerier(ctx, t.querier(), id, expected, hash)
}

func (t *sqliteTx) InsertReservation(ctx context.Context, r *Reservation) error {
	if err := t.writable(); err != nil {
		return err
	}
	return t.storage.insertReservationWithQuerier(ctx, t.querier(), r)
}

func (t *sqliteTx) UpdateReservation(ctx context.Context, r *Reservation) error {
	if err := t.writable(); err != nil {
		return err
	}
	return t.storage.updateReservationWithQuerier(ctx, t.querier(), r)
}

func (t *sqliteTx) GetReservation(ctx context.Context, id string) (*Reservation, error) {
	return t.storage.getReservationWithQuerier(ctx, t.querier(), id)
}

func (t *sqliteTx) ListReservationsByListing(ctx context.Context, listingID string, states ...string) ([]*Reservation, error) {
	return t.storage.listReservationsByListingWithQuerier(ctx, t.querier(), listingID, states)
}

func (t *sqliteTx) ListReservationsByReserver(ctx context.Context, reserverID string) ([]*Reservation, error) {
	return t.storage.listReservationsByReserverWithQuerier(ctx, t.querier(), reserverID)
}

func (t *sqliteTx) FindOverlappingReservations(ctx context.Context, listingID string, start, end time.Time, states ...string) ([]*Reservation, error) {
	return t.storage.findOverlappingWithQuerier(ctx, t.querier(), listingID, start, end, states)
}

func (t *sqliteTx) CreateConversation(ctx context.Context, c *Conversation) (bool, error) {
	if err := t.writable(); err != nil {
		return false, err
	}
	return t.storage.createConversationWithQuerier(ctx, t.querier(), c)
}

func (t *sqliteTx) GetConversationByReservation(ctx context.Context, reservationID string) (*Conversation, error) {
	return t.storage.getConversationByReservationWithQuerier(ctx, t.querier(), reservationID)
}

func (t *sqliteTx) EnqueueOutbox(ctx context.Context, msg *OutboxMessage) error {
	if err := t.writable(); err != nil {
		return err
	}
	return t.storage.enqueueOutboxWithQuerier(ctx, t.querier(), msg)
}

func (t *sqliteTx) GetOutbox(ctx context.Context, id string) (*OutboxMessage, error) {
	return t.storage.getOutboxWithQuerier(ctx, t.querier(), id)
}

func (t *sqliteTx) ClaimDueOutbox(ctx context.Context, now time.Time, limit int) ([]*OutboxMessage, error) {
	if err := t.writable(); err != nil {
		return nil, err
	}
	return t.storage.claimDueOutboxWithQuerier(ctx, t.querier(), now, limit)
}

func (t *sqliteTx) MarkOutboxDelivered(ctx context.Context, id string, at time.Time) error {
	if err := t.writable(); err != nil {
		return err
	}
	return t.storage.setOutboxWithQuerier(ctx, t.querier(), id, `status = ?, delivered_at = ?, last_error = ''`,
		string(OutboxDelivered), toMillis(at))
}

func (t *sqliteTx) MarkOutboxRetry(ctx context.Context, id string, next time.Time, lastErr string) error {
	if err := t.writable(); err != nil {
		return err
	}
	return t.storage.setOutboxWithQuerier(ctx, t.querier(), id, `status = ?, next_attempt_at = ?, last_error = ?`,
		string(OutboxPending), toMillis(next), lastErr)
}

func (t *sqliteTx) MarkOutboxDead(ctx context.Context, id string, lastErr string) error {
	if err := t.writable(); err != nil {
		return err
	}
	return t.storage.setOutboxWithQuerier(ctx, t.querier(), id, `status = ?, last_error = ?`,
		string(OutboxDead), lastErr)
}

func (t *sqliteTx) RecoverOutbox(ctx context.Context) (int, error) {
	return 0, errors.New("outbox recovery runs outside transactions")
}

func (t *sqliteTx) OutboxCounts(ctx context.Context) (map[OutboxStatus]int, error) {
	return nil, errors.New("outbox counts run outside transactions")
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context, opts TxOptions) (Tx, error) {
	// SQLite does not support true nested transactions
	return nil, errors.New("nested transactions not supported")
}
