package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/simnova/sharethrift-sub014/internal/account"
	"github.com/simnova/sharethrift-sub014/internal/listing"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = errors.New("already exists")
	// ErrOverlap is returned when a write would leave two active reservation
	// requests of one listing with overlapping periods
	ErrOverlap = errors.New("reservation period overlaps an active request")
	// ErrVersionConflict is returned when an update targets a stale version
	ErrVersionConflict = errors.New("version conflict")
	// ErrReadOnly is returned by writes through a read-only transaction
	ErrReadOnly = errors.New("read-only transaction")
)

// overlapAbortMessage is raised by the reservation_requests triggers
const overlapAbortMessage = "reservation period overlaps an active request"

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// OpenDatabase opens a SQLite database with appropriate settings
func OpenDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// A single connection serializes transactions, which makes the
	// overlap check and the write that follows it atomic.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := OpenDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context, opts TxOptions) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s, readOnly: opts.ReadOnly}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

// Times are stored as unix milliseconds so both drivers compare them the same way.
func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// mapWriteError translates trigger aborts into ErrOverlap
func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), overlapAbortMessage) {
		return ErrOverlap
	}
	return err
}

// User operations

func (s *SQLiteStorage) upsertUserWithQuerier(ctx context.Context, q querier, user *account.User) error {
	query := `
		INSERT INTO users (id, email, display_name)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			display_name = excluded.display_name
	`
	if _, err := q.ExecContext(ctx, query, user.ID, user.Email, user.DisplayName); err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) UpsertUser(ctx context.Context, user *account.User) error {
	return s.upsertUserWithQuerier(ctx, s.querier(), user)
}

func (s *SQLiteStorage) getUserWithQuerier(ctx context.Context, q querier, column, value string) (*account.User, error) {
	query := `SELECT id, email, display_name FROM users WHERE ` + column + ` = ?`
	var u account.User
	err := q.QueryRowContext(ctx, query, value).Scan(&u.ID, &u.Email, &u.DisplayName)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *SQLiteStorage) GetUser(ctx context.Context, id string) (*account.User, error) {
	return s.getUserWithQuerier(ctx, s.querier(), "id", id)
}

func (s *SQLiteStorage) GetUserByEmail(ctx context.Context, email string) (*account.User, error) {
	return s.getUserWithQuerier(ctx, s.querier(), "email", email)
}

// Listing operations

const listingColumns = `id, sharer_id, title, description, category, location, state, search_hash, created_at, updated_at`

func scanListing(row interface{ Scan(...interface{}) error }) (*listing.Listing, error) {
	var l listing.Listing
	var state string
	var created, updated int64
	if err := row.Scan(&l.ID, &l.SharerID, &l.Title, &l.Description, &l.Category, &l.Location,
		&state, &l.SearchHash, &created, &updated); err != nil {
		return nil, err
	}
	l.State = listing.State(state)
	l.CreatedAt = fromMillis(created)
	l.UpdatedAt = fromMillis(updated)
	return &l, nil
}

func (s *SQLiteStorage) upsertListingWithQuerier(ctx context.Context, q querier, l *listing.Listing) error {
	now := time.Now().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = now
	}
	query := `
		INSERT INTO listings (` + listingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sharer_id = excluded.sharer_id,
			title = excluded.title,
			description = excluded.description,
			category = excluded.category,
			location = excluded.location,
			state = excluded.state,
			updated_at = excluded.updated_at
	`
	_, err := q.ExecContext(ctx, query,
		l.ID, l.SharerID, l.Title, l.Description, l.Category, l.Location,
		string(l.State), l.SearchHash, toMillis(l.CreatedAt), toMillis(l.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert listing: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) UpsertListing(ctx context.Context, l *listing.Listing) error {
	return s.upsertListingWithQuerier(ctx, s.querier(), l)
}

func (s *SQLiteStorage) getListingWithQuerier(ctx context.Context, q querier, id string) (*listing.Listing, error) {
	row := q.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = ?`, id)
	l, err := scanListing(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (s *SQLiteStorage) GetListing(ctx context.Context, id string) (*listing.Listing, error) {
	return s.getListingWithQuerier(ctx, s.querier(), id)
}

func (s *SQLiteStorage) listListingsWithQuerier(ctx context.Context, q querier) ([]*listing.Listing, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+listingColumns+` FROM listings ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []*listing.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func (s *SQLiteStorage) ListListings(ctx context.Context) ([]*listing.Listing, error) {
	return s.listListingsWithQuerier(ctx, s.querier())
}

func (s *SQLiteStorage) deleteListingWithQuerier(ctx context.Context, q querier, id string) error {
	result, err := q.ExecContext(ctx, `DELETE FROM listings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete listing: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) DeleteListing(ctx context.Context, id string) error {
	return s.deleteListingWithQuerier(ctx, s.querier(), id)
}

// updateListingSearchHashWithQuerier replaces the search hash only while it
// still equals expected. A concurrent replacement yields ErrVersionConflict.
func (s *SQLiteStorage) updateListingSearchHashWithQuerier(ctx context.Context, q querier, id, expected, hash string) error {
	result, err := q.ExecContext(ctx,
		`UPDATE listings SET search_hash = ? WHERE id = ? AND search_hash = ?`, hash, id, expected)
	if err != nil {
		return fmt.Errorf("failed to update search hash: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var exists int
	err = q.QueryRowContext(ctx, `SELECT 1 FROM listings WHERE id = ?`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check listing: %w", err)
	}
	return ErrVersionConflict
}

func (s *SQLiteStorage) UpdateListingSearchHash(ctx context.Context, id, expected, hash string) error {
	return s.updateListingSearchHashWithQuerier(ctx, s.querier(), id, expected, hash)
}

// Reservation request operations

const reservationColumns = `id, listing_id, reserver_id, state, start_at, end_at,
	close_requested_by_sharer, close_requested_by_reserver, schema_version, version, created_at, updated_at`

func scanReservation(row interface{ Scan(...interface{}) error }) (*Reservation, error) {
	var r Reservation
	var start, end, created, updated int64
	var bySharer, byReserver int
	if err := row.Scan(&r.ID, &r.ListingID, &r.ReserverID, &r.State, &start, &end,
		&bySharer, &byReserver, &r.SchemaVersion, &r.Version, &created, &updated); err != nil {
		return nil, err
	}
	r.Start = fromMillis(start)
	r.End = fromMillis(end)
	r.CloseRequestedBySharer = bySharer != 0
	r.CloseRequestedByReserver = byReserver != 0
	r.CreatedAt = fromMillis(created)
	r.UpdatedAt = fromMillis(updated)
	return &r, nil
}

func collectReservations(rows *sql.Rows) ([]*Reservation, error) {
	defer rows.Close()
	var out []*Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) insertReservationWithQuerier(ctx context.Context, q querier, r *Reservation) error {
	query := `
		INSERT INTO reservation_requests (` + reservationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		r.ID, r.ListingID, r.ReserverID, r.State, toMillis(r.Start), toMillis(r.End),
		boolToInt(r.CloseRequestedBySharer), boolToInt(r.CloseRequestedByReserver),
		r.SchemaVersion, toMillis(r.CreatedAt), toMillis(r.UpdatedAt))
	if err != nil {
		if err = mapWriteError(err); errors.Is(err, ErrOverlap) {
			return err
		}
		if strings.Contains(err.Error(), "UNIQUE") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert reservation request: %w", err)
	}
	r.Version = 1
	return nil
}

func (s *SQLiteStorage) InsertReservation(ctx context.Context, r *Reservation) error {
	return s.insertReservationWithQuerier(ctx, s.querier(), r)
}

// updateReservationWithQuerier writes r if the stored version still equals
// r.Version, then advances r.Version
func (s *SQLiteStorage) updateReservationWithQuerier(ctx context.Context, q querier, r *Reservation) error {
	query := `
		UPDATE reservation_requests
		SET state = ?, start_at = ?, end_at = ?,
		    close_requested_by_sharer = ?, close_requested_by_reserver = ?,
		    updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`
	result, err := q.ExecContext(ctx, query,
		r.State, toMillis(r.Start), toMillis(r.End),
		boolToInt(r.CloseRequestedBySharer), boolToInt(r.CloseRequestedByReserver),
		toMillis(r.UpdatedAt), r.ID, r.Version)
	if err != nil {
		if err = mapWriteError(err); errors.Is(err, ErrOverlap) {
			return err
		}
		return fmt.Errorf("failed to update reservation request: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.getReservationWithQuerier(ctx, q, r.ID); err != nil {
			return err
		}
		return ErrVersionConflict
	}
	r.Version++
	return nil
}

func (s *SQLiteStorage) UpdateReservation(ctx context.Context, r *Reservation) error {
	return s.updateReservationWithQuerier(ctx, s.querier(), r)
}

func (s *SQLiteStorage) getReservationWithQuerier(ctx context.Context, q querier, id string) (*Reservation, error) {
	row := q.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservation_requests WHERE id = ?`, id)
	r, err := scanReservation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *SQLiteStorage) GetReservation(ctx context.Context, id string) (*Reservation, error) {
	return s.getReservationWithQuerier(ctx, s.querier(), id)
}

// stateFilter builds an "AND state IN (...)" clause
func stateFilter(states []string) (string, []interface{}) {
	if len(states) == 0 {
		return "", nil
	}
	placeholders := make([]string, len(states))
	args := make([]interface{}, len(states))
	for i, st := range states {
		placeholders[i] = "?"
		args[i] = st
	}
	return " AND state IN (" + strings.Join(placeholders, ", ") + ")", args
}

func (s *SQLiteStorage) listReservationsByListingWithQuerier(ctx context.Context, q querier, listingID string, states []string) ([]*Reservation, error) {
	clause, stateArgs := stateFilter(states)
	query := `SELECT ` + reservationColumns + ` FROM reservation_requests WHERE listing_id = ?` + clause + ` ORDER BY start_at, id`
	args := append([]interface{}{listingID}, stateArgs...)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

func (s *SQLiteStorage) ListReservationsByListing(ctx context.Context, listingID string, states ...string) ([]*Reservation, error) {
	return s.listReservationsByListingWithQuerier(ctx, s.querier(), listingID, states)
}

func (s *SQLiteStorage) listReservationsByReserverWithQuerier(ctx context.Context, q querier, reserverID string) ([]*Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservation_requests WHERE reserver_id = ? ORDER BY created_at, id`
	rows, err := q.QueryContext(ctx, query, reserverID)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

func (s *SQLiteStorage) ListReservationsByReserver(ctx context.Context, reserverID string) ([]*Reservation, error) {
	return s.listReservationsByReserverWithQuerier(ctx, s.querier(), reserverID)
}

// findOverlappingWithQuerier returns requests of listingID whose half-open
// period intersects [start, end)
func (s *SQLiteStorage) findOverlappingWithQuerier(ctx context.Context, q querier, listingID string, start, end time.Time, states []string) ([]*Reservation, error) {
	clause, stateArgs := stateFilter(states)
	query := `SELECT ` + reservationColumns + ` FROM reservation_requests
		WHERE listing_id = ? AND start_at < ? AND end_at > ?` + clause + ` ORDER BY start_at, id`
	args := append([]interface{}{listingID, toMillis(end), toMillis(start)}, stateArgs...)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

func (s *SQLiteStorage) FindOverlappingReservations(ctx context.Context, listingID string, start, end time.Time, states ...string) ([]*Reservation, error) {
	return s.findOverlappingWithQuerier(ctx, s.querier(), listingID, start, end, states)
}

// Conversation operations

func (s *SQLiteStorage) createConversationWithQuerier(ctx context.Context, q querier, c *Conversation) (bool, error) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO conversations (id, reservation_request_id, listing_id, sharer_id, reserver_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(reservation_request_id) DO NOTHING
	`
	result, err := q.ExecContext(ctx, query,
		c.ID, c.ReservationRequestID, c.ListingID, c.SharerID, c.ReserverID, toMillis(c.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("failed to create conversation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStorage) CreateConversation(ctx context.Context, c *Conversation) (bool, error) {
	return s.createConversationWithQuerier(ctx, s.querier(), c)
}

func (s *SQLiteStorage) getConversationByReservationWithQuerier(ctx context.Context, q querier, reservationID string) (*Conversation, error) {
	query := `
		SELECT id, reservation_request_id, listing_id, sharer_id, reserver_id, created_at
		FROM conversations WHERE reservation_request_id = ?
	`
	var c Conversation
	var created int64
	err := q.QueryRowContext(ctx, query, reservationID).Scan(
		&c.ID, &c.ReservationRequestID, &c.ListingID, &c.SharerID, &c.ReserverID, &created)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt = fromMillis(created)
	return &c, nil
}

func (s *SQLiteStorage) GetConversationByReservation(ctx context.Context, reservationID string) (*Conversation, error) {
	return s.getConversationByReservationWithQuerier(ctx, s.querier(), reservationID)
}

// Outbox operations

const outboxColumns = `seq, id, name, aggregate_id, payload, occurred_at, status, attempts,
	next_attempt_at, last_error, created_at, delivered_at`

func scanOutbox(row interface{ Scan(...interface{}) error }) (*OutboxMessage, error) {
	var m OutboxMessage
	var payload string
	var status string
	var occurred, next, created int64
	var delivered sql.NullInt64
	if err := row.Scan(&m.Seq, &m.ID, &m.Name, &m.AggregateID, &payload, &occurred, &status,
		&m.Attempts, &next, &m.LastError, &created, &delivered); err != nil {
		return nil, err
	}
	m.Payload = []byte(payload)
	m.Status = OutboxStatus(status)
	m.OccurredAt = fromMillis(occurred)
	m.NextAttemptAt = fromMillis(next)
	m.CreatedAt = fromMillis(created)
	if delivered.Valid {
		t := fromMillis(delivered.Int64)
		m.DeliveredAt = &t
	}
	return &m, nil
}

func (s *SQLiteStorage) enqueueOutboxWithQuerier(ctx context.Context, q querier, msg *OutboxMessage) error {
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	if msg.NextAttemptAt.IsZero() {
		msg.NextAttemptAt = msg.CreatedAt
	}
	msg.Status = OutboxPending
	query := `
		INSERT INTO outbox (id, name, aggregate_id, payload, occurred_at, status, attempts, next_attempt_at, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, '', ?)
		RETURNING seq
	`
	err := q.QueryRowContext(ctx, query,
		msg.ID, msg.Name, msg.AggregateID, string(msg.Payload), toMillis(msg.OccurredAt),
		string(OutboxPending), toMillis(msg.NextAttemptAt), toMillis(msg.CreatedAt)).Scan(&msg.Seq)
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox message: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) EnqueueOutbox(ctx context.Context, msg *OutboxMessage) error {
	return s.enqueueOutboxWithQuerier(ctx, s.querier(), msg)
}

func (s *SQLiteStorage) getOutboxWithQuerier(ctx context.Context, q querier, id string) (*OutboxMessage, error) {
	m, err := scanOutbox(q.QueryRowContext(ctx, `SELECT `+outboxColumns+` FROM outbox WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *SQLiteStorage) GetOutbox(ctx context.Context, id string) (*OutboxMessage, error) {
	return s.getOutboxWithQuerier(ctx, s.querier(), id)
}

// claimDueOutboxWithQuerier moves up to limit due pending messages to
// published, counts the attempt, and returns them in commit order
func (s *SQLiteStorage) claimDueOutboxWithQuerier(ctx context.Context, q querier, now time.Time, limit int) ([]*OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		UPDATE outbox SET status = ?, attempts = attempts + 1
		WHERE seq IN (
			SELECT seq FROM outbox
			WHERE status = ? AND next_attempt_at <= ?
			ORDER BY seq LIMIT ?
		)
		RETURNING ` + outboxColumns
	rows, err := q.QueryContext(ctx, query, string(OutboxPublished), string(OutboxPending), toMillis(now), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox messages: %w", err)
	}
	defer rows.Close()

	var msgs []*OutboxMessage
	for rows.Next() {
		m, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// RETURNING order is unspecified
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Seq < msgs[j].Seq })
	return msgs, nil
}

func (s *SQLiteStorage) ClaimDueOutbox(ctx context.Context, now time.Time, limit int) ([]*OutboxMessage, error) {
	return s.claimDueOutboxWithQuerier(ctx, s.querier(), now, limit)
}

func (s *SQLiteStorage) setOutboxWithQuerier(ctx context.Context, q querier, id, set string, args ...interface{}) error {
	result, err := q.ExecContext(ctx, `UPDATE outbox SET `+set+` WHERE id = ?`, append(args, id)...)
	if err != nil {
		return fmt.Errorf("failed to update outbox message: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) MarkOutboxDelivered(ctx context.Context, id string, at time.Time) error {
	return s.setOutboxWithQuerier(ctx, s.querier(), id, `status = ?, delivered_at = ?, last_error = ''`,
		string(OutboxDelivered), toMillis(at))
}

func (s *SQLiteStorage) MarkOutboxRetry(ctx context.Context, id string, next time.Time, lastErr string) error {
	return s.setOutboxWithQuerier(ctx, s.querier(), id, `status = ?, next_attempt_at = ?, last_error = ?`,
		string(OutboxPending), toMillis(next), lastErr)
}

func (s *SQLiteStorage) MarkOutboxDead(ctx context.Context, id string, lastErr string) error {
	return s.setOutboxWithQuerier(ctx, s.querier(), id, `status = ?, last_error = ?`,
		string(OutboxDead), lastErr)
}

// RecoverOutbox returns messages left in published by a previous process to
// pending so they are delivered again
func (s *SQLiteStorage) RecoverOutbox(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE outbox SET status = ? WHERE status = ?`,
		string(OutboxPending), string(OutboxPublished))
	if err != nil {
		return 0, fmt.Errorf("failed to recover outbox: %w", err)
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (s *SQLiteStorage) OutboxCounts(ctx context.Context) (map[OutboxStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM outbox GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[OutboxStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[OutboxStatus(status)] = n
	}
	return counts, rows.Err()
}
