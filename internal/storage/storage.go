package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/simnova/sharethrift-sub014/internal/account"
	"github.com/simnova/sharethrift-sub014/internal/listing"
)

// Storage defines the interface for persisting marketplace data
type Storage interface {
	// User operations
	UpsertUser(ctx context.Context, user *account.User) error
	GetUser(ctx context.Context, id string) (*account.User, error)
	GetUserByEmail(ctx context.Context, email string) (*account.User, error)

	// Listing operations
	UpsertListing(ctx context.Context, l *listing.Listing) error
	GetListing(ctx context.Context, id string) (*listing.Listing, error)
	ListListings(ctx context.Context) ([]*listing.Listing, error)
	DeleteListing(ctx context.Context, id string) error
	// UpdateListingSearchHash swaps expected for hash; ErrVersionConflict if another writer got there first
	UpdateListingSearchHash(ctx context.Context, id, expected, hash string) error

	// Reservation request operations
	InsertReservation(ctx context.Context, r *Reservation) error
	UpdateReservation(ctx context.Context, r *Reservation) error
	GetReservation(ctx context.Context, id string) (*Reservation, error)
	ListReservationsByListing(ctx context.Context, listingID string, states ...string) ([]*Reservation, error)
	ListReservationsByReserver(ctx context.Context, reserverID string) ([]*Reservation, error)
	FindOverlappingReservations(ctx context.Context, listingID string, start, end time.Time, states ...string) ([]*Reservation, error)

	// Conversation operations
	CreateConversation(ctx context.Context, c *Conversation) (created bool, err error)
	GetConversationByReservation(ctx context.Context, reservationID string) (*Conversation, error)

	// Outbox operations
	EnqueueOutbox(ctx context.Context, msg *OutboxMessage) error
	GetOutbox(ctx context.Context, id string) (*OutboxMessage, error)
	ClaimDueOutbox(ctx context.Context, now time.Time, limit int) ([]*OutboxMessage, error)
	MarkOutboxDelivered(ctx context.Context, id string, at time.Time) error
	MarkOutboxRetry(ctx context.Context, id string, next time.Time, lastErr string) error
	MarkOutboxDead(ctx context.Context, id string, lastErr string) error
	RecoverOutbox(ctx context.Context) (int, error)
	OutboxCounts(ctx context.Context) (map[OutboxStatus]int, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context, opts TxOptions) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// TxOptions configures BeginTx
type TxOptions struct {
	// ReadOnly makes every write through the transaction fail with ErrReadOnly
	ReadOnly bool
}

// Reservation is the persisted row of a reservation request
type Reservation struct {
	ID                       string
	ListingID                string
	ReserverID               string
	State                    string
	Start                    time.Time
	End                      time.Time
	CloseRequestedBySharer   bool
	CloseRequestedByReserver bool
	SchemaVersion            int
	Version                  int64 // incremented on every update
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// Conversation links the two parties of an accepted reservation request
type Conversation struct {
	ID                   string
	ReservationRequestID string
	ListingID            string
	SharerID             string
	ReserverID           string
	CreatedAt            time.Time
}

// OutboxStatus is the delivery state of an outbox message
type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"   // waiting for the relay
	OutboxPublished OutboxStatus = "published" // handed to the transport
	OutboxDelivered OutboxStatus = "delivered"
	OutboxDead      OutboxStatus = "dead" // delivery budget exhausted
)

// OutboxMessage is an integration event persisted with the business change
// that raised it
type OutboxMessage struct {
	Seq           int64
	ID            string
	Name          string
	AggregateID   string
	Payload       json.RawMessage
	OccurredAt    time.Time
	Status        OutboxStatus
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	DeliveredAt   *time.Time
}
