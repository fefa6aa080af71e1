// Package types provides the error taxonomy shared by the reservation core.
//
// Business operations fail with one of:
//
//   - NotFoundError: a referenced listing, user or reservation request is missing
//   - AuthorizationError: a non-owner attempted a sharer-only (or reserver-only) action
//   - ConflictError: the requested period overlaps another active request
//   - StateError: the transition is not allowed from the current state
//   - ValidationError: the input itself is malformed
//
// These propagate to the caller and abort the surrounding transaction.
//
// IndexingError is different: it is produced by the search synchronization
// service after its retry budget is exhausted and never leaves the
// integration-event dispatcher.
//
// Callers match categories with errors.Is against the sentinels:
//
//	if errors.Is(err, types.ErrConflict) {
//	    // ask the user to pick another window
//	}
//
// and recover details with errors.As:
//
//	var ce *types.ConflictError
//	if errors.As(err, &ce) {
//	    log.Printf("overlaps %s", ce.ConflictingID)
//	}
package types
