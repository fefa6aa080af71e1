package reservation

import (
	"time"

	"github.com/simnova/sharethrift-sub014/internal/events"
)

// Event names raised by the reservation request aggregate
const (
	EventCreated  = "ReservationRequestCreated"
	EventAccepted = "ReservationRequestAccepted"
	EventUpdated  = "ReservationRequestUpdated"
)

// Created is published when a reservation request is submitted
type Created struct {
	ReservationID string    `json:"reservationRequestId"`
	ListingID     string    `json:"listingId"`
	ReserverID    string    `json:"reserverId"`
	SharerID      string    `json:"sharerId"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	At            time.Time `json:"at"`
}

func (e Created) EventName() string     { return EventCreated }
func (e Created) AggregateID() string   { return e.ReservationID }
func (e Created) OccurredAt() time.Time { return e.At }

// Accepted is raised in-process when the sharer accepts a request
type Accepted struct {
	ReservationID string    `json:"reservationRequestId"`
	ListingID     string    `json:"listingId"`
	SharerID      string    `json:"sharerId"`
	ReserverID    string    `json:"reserverId"`
	At            time.Time `json:"at"`
}

func (e Accepted) EventName() string     { return EventAccepted }
func (e Accepted) AggregateID() string   { return e.ReservationID }
func (e Accepted) OccurredAt() time.Time { return e.At }

// Updated is published on submission and on every successful state change.
// From is empty for a newly submitted request.
type Updated struct {
	ReservationID string    `json:"reservationRequestId"`
	ListingID     string    `json:"listingId"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	At            time.Time `json:"at"`
}

func (e Updated) EventName() string     { return EventUpdated }
func (e Updated) AggregateID() string   { return e.ReservationID }
func (e Updated) OccurredAt() time.Time { return e.At }

var (
	_ events.Event = Created{}
	_ events.Event = Accepted{}
	_ events.Event = Updated{}
)
