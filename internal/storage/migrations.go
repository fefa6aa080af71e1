package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.2.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
	{
		Version: "1.1.0",
		Up:      migrationV11Up,
		Down:    migrationV11Down,
	},
	{
		Version: "1.2.0",
		Up:      migrationV12Up,
		Down:    migrationV12Down,
	},
}

const migrationV1Up = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS listings (
    id TEXT PRIMARY KEY,
    sharer_id TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL DEFAULT '',
    location TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL,
    search_hash TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    FOREIGN KEY (sharer_id) REFERENCES users(id)
);

CREATE INDEX IF NOT EXISTS idx_listings_sharer ON listings(sharer_id);

-- Times are unix milliseconds; periods are half-open [start_at, end_at)
CREATE TABLE IF NOT EXISTS reservation_requests (
    id TEXT PRIMARY KEY,
    listing_id TEXT NOT NULL,
    reserver_id TEXT NOT NULL,
    state TEXT NOT NULL,
    start_at INTEGER NOT NULL,
    end_at INTEGER NOT NULL,
    close_requested_by_sharer INTEGER NOT NULL DEFAULT 0,
    close_requested_by_reserver INTEGER NOT NULL DEFAULT 0,
    schema_version INTEGER NOT NULL DEFAULT 1,
    version INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    CHECK (start_at < end_at),
    FOREIGN KEY (listing_id) REFERENCES listings(id) ON DELETE CASCADE,
    FOREIGN KEY (reserver_id) REFERENCES users(id)
);

CREATE INDEX IF NOT EXISTS idx_reservations_listing_period ON reservation_requests(listing_id, start_at, end_at);
CREATE INDEX IF NOT EXISTS idx_reservations_reserver ON reservation_requests(reserver_id);

-- No two Requested/Accepted requests of one listing may overlap
CREATE TRIGGER IF NOT EXISTS reservation_requests_overlap_bi
BEFORE INSERT ON reservation_requests
WHEN NEW.state IN ('Requested', 'Accepted')
BEGIN
    SELECT RAISE(ABORT, 'reservation period overlaps an active request')
    WHERE EXISTS (
        SELECT 1 FROM reservation_requests r
        WHERE r.listing_id = NEW.listing_id
          AND r.id <> NEW.id
          AND r.state IN ('Requested', 'Accepted')
          AND r.start_at < NEW.end_at
          AND NEW.start_at < r.end_at
    );
END;

CREATE TRIGGER IF NOT EXISTS reservation_requests_overlap_bu
BEFORE UPDATE OF state, start_at, end_at, listing_id ON reservation_requests
WHEN NEW.state IN ('Requested', 'Accepted')
BEGIN
    SELECT RAISE(ABORT, 'reservation period overlaps an active request')
    WHERE EXISTS (
        SELECT 1 FROM reservation_requests r
        WHERE r.listing_id = NEW.listing_id
          AND r.id <> NEW.id
          AND r.state IN ('Requested', 'Accepted')
          AND r.start_at < NEW.end_at
          AND NEW.start_at < r.end_at
    );
END;
`

const migrationV1Down = `
DROP TRIGGER IF EXISTS reservation_requests_overlap_bu;
DROP TRIGGER IF EXISTS reservation_requests_overlap_bi;
DROP TABLE IF EXISTS reservation_requests;
DROP TABLE IF EXISTS listings;
DROP TABLE IF EXISTS users;
DROP TABLE IF EXISTS schema_version;
`

const migrationV11Up = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    reservation_request_id TEXT NOT NULL UNIQUE,
    listing_id TEXT NOT NULL,
    sharer_id TEXT NOT NULL,
    reserver_id TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (reservation_request_id) REFERENCES reservation_requests(id) ON DELETE CASCADE
);
`

const migrationV11Down = `
DROP TABLE IF EXISTS conversations;
`

const migrationV12Up = `
CREATE TABLE IF NOT EXISTS outbox (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    aggregate_id TEXT NOT NULL,
    payload TEXT NOT NULL,
    occurred_at INTEGER NOT NULL,
    status TEXT NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    next_attempt_at INTEGER NOT NULL,
    last_error TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    delivered_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_outbox_due ON outbox(status, next_attempt_at);
`

const migrationV12Down = `
DROP TABLE IF EXISTS outbox;
`

// currentVersion returns the highest applied migration version
func currentVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	var tableName string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if err == sql.ErrNoRows {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check schema_version table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer rows.Close()

	// applied_at has second resolution, so order by version instead
	current := semver.MustParse("0.0.0")
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		v, err := semver.NewVersion(s)
		if err != nil {
			return nil, fmt.Errorf("invalid schema version %s: %w", s, err)
		}
		if v.GreaterThan(current) {
			current = v
		}
	}
	return current, rows.Err()
}

// ApplyMigrations runs all pending migrations
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}

		if !current.LessThan(migrationVersion) {
			continue // Already applied
		}

		if _, err := db.ExecContext(ctx, migration.Up); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}

		if _, err := db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}

		current = migrationVersion
	}

	return nil
}

// RollbackMigration rolls back the most recent migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}
	if current.Equal(semver.MustParse("0.0.0")) {
		return fmt.Errorf("no migrations to rollback")
	}

	var migration *Migration
	for i := range AllMigrations {
		v := semver.MustParse(AllMigrations[i].Version)
		if v.Equal(current) {
			migration = &AllMigrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %s not found", current)
	}

	// The base migration drops schema_version itself
	if migration.Version != AllMigrations[0].Version {
		if _, err := db.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", migration.Version); err != nil {
			return fmt.Errorf("failed to remove migration record %s: %w", migration.Version, err)
		}
	}

	if _, err := db.ExecContext(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", migration.Version, err)
	}

	return nil
}
