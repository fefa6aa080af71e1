// Package storage provides SQLite-based persistence for the marketplace.
//
// The storage layer manages:
//   - Users and listings
//   - Reservation requests, with their lifecycle state and version
//   - Conversations opened for accepted reservations
//   - The transactional outbox of integration events
//
// # Database Schema
//
// Tables:
//   - users: Marketplace members
//   - listings: Items offered by sharers, with the hash of their last search document
//   - reservation_requests: Half-open periods stored as unix milliseconds
//   - conversations: At most one per reservation request
//   - outbox: Integration events awaiting delivery, ordered by seq
//
// # Overlap Guarantee
//
// Two triggers on reservation_requests abort any insert or update that would
// leave two Requested or Accepted requests of the same listing overlapping.
// The abort surfaces as ErrOverlap. Together with the single-connection pool,
// which serializes transactions, this makes the check-then-write atomic for
// concurrent callers.
//
// Updates are guarded by the version column: UpdateReservation only succeeds
// when the stored version equals the caller's, otherwise ErrVersionConflict.
//
// # Transactions
//
// Use transactions for atomic operations:
//
//	tx, err := db.BeginTx(ctx, storage.TxOptions{})
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	if err := tx.InsertReservation(ctx, row); err != nil {
//	    return err
//	}
//	if err := tx.EnqueueOutbox(ctx, msg); err != nil {
//	    return err
//	}
//	return tx.Commit()
//
// A read-only transaction rejects writes with ErrReadOnly and is rolled back
// on Commit.
//
// # Build Tags
//
// The default build uses modernc.org/sqlite (pure Go).
// Building with the sqlite_cgo tag switches to github.com/mattn/go-sqlite3:
//
//	CGO_ENABLED=1 go build -tags "sqlite_cgo,sqlite_fts5"
package storage
