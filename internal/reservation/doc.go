// Package reservation implements the reservation request aggregate.
//
// A reservation request asks the sharer of a listing to lend it to a reserver
// over a half-open Period. Its lifecycle is a closed state machine:
//
//	Requested -> Accepted | Rejected        (sharer)
//	Requested | Accepted -> Cancelled       (reserver)
//	Accepted -> Closing -> Closed           (sharer and reserver each ask once)
//
// Rejected, Cancelled and Closed are terminal. Any other transition fails with
// a *types.StateError and leaves the aggregate unchanged.
//
// For one listing no two Requested or Accepted requests may overlap. The
// aggregate checks this against the set handed in by the caller at creation and
// again at acceptance; storage enforces it atomically for concurrent writers.
//
// The aggregate records two kinds of events. Domain events (Accepted) are
// dispatched in-process after the transaction commits. Integration events
// (Created, Updated) are written to the outbox in the same transaction and
// delivered asynchronously.
package reservation
