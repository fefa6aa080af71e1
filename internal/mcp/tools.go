package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/simnova/sharethrift-sub014/internal/account"
	"github.com/simnova/sharethrift-sub014/internal/listing"
	"github.com/simnova/sharethrift-sub014/internal/reservation"
	"github.com/simnova/sharethrift-sub014/internal/searchindex"
	"github.com/simnova/sharethrift-sub014/internal/searchsync"
	"github.com/simnova/sharethrift-sub014/internal/service"
	"github.com/simnova/sharethrift-sub014/internal/storage"
	"github.com/simnova/sharethrift-sub014/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams     = -32602 // Invalid method parameters
	ErrorCodeInternalError     = -32603 // Internal JSON-RPC error
	ErrorCodeNotFound          = -32001 // Listing, user or reservation request does not exist
	ErrorCodeUnauthorized      = -32002 // User may not perform the action
	ErrorCodeConflict          = -32003 // Period overlaps an active reservation request
	ErrorCodeInvalidState      = -32004 // Transition not allowed from the current state
	ErrorCodeReindexInProgress = -32005 // Another reindex is already running
	ErrorCodeIndexingFailed    = -32006 // Search index write failed after retries
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
)

type createReservationArgs struct {
	ListingID  string    `json:"listing_id" validate:"required"`
	ReserverID string    `json:"reserver_id" validate:"required"`
	Start      time.Time `json:"start" validate:"required"`
	End        time.Time `json:"end" validate:"required"`
}

type transitionArgs struct {
	ReservationRequestID string `json:"reservation_request_id" validate:"required"`
	UserID               string `json:"user_id" validate:"required"`
}

type getReservationArgs struct {
	ReservationRequestID string `json:"reservation_request_id" validate:"required"`
}

type listReservationsArgs struct {
	ListingID  string   `json:"listing_id" validate:"required_without=ReserverID"`
	ReserverID string   `json:"reserver_id" validate:"required_without=ListingID"`
	States     []string `json:"states" validate:"omitempty,dive,required"`
}

type searchArgs struct {
	Query   string `json:"query"`
	Filters struct {
		Category string `json:"category"`
		Location string `json:"location"`
		State    string `json:"state"`
		SharerID string `json:"sharer_id"`
	} `json:"filters"`
	Limit  int `json:"limit" validate:"min=0,max=100"`
	Offset int `json:"offset" validate:"min=0"`
}

type saveUserArgs struct {
	UserID      string `json:"user_id" validate:"required"`
	Email       string `json:"email" validate:"required,email"`
	DisplayName string `json:"display_name"`
}

type saveListingArgs struct {
	ListingID   string `json:"listing_id" validate:"required"`
	SharerID    string `json:"sharer_id" validate:"required"`
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Location    string `json:"location"`
	State       string `json:"state" validate:"required,oneof=Published Paused Drafted"`
}

type deleteListingArgs struct {
	ListingID string `json:"listing_id" validate:"required"`
}

type transitionFunc func(ctx context.Context, id, byUserID string) (*reservation.ReservationRequest, error)

// handleCreateReservationRequest handles the create_reservation_request tool invocation
func (s *Server) handleCreateReservationRequest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args createReservationArgs
	if err := s.bind(request, &args); err != nil {
		return nil, err
	}

	r, err := s.reservations.CreateReservationRequest(ctx, service.CreateRequest{
		ListingID:  args.ListingID,
		ReserverID: args.ReserverID,
		Start:      args.Start,
		End:        args.End,
	})
	if err != nil {
		return nil, toolError("failed to create reservation request", err)
	}

	return mcp.NewToolResultText(formatJSON(reservationView(r))), nil
}

// transitionHandler adapts one of the lifecycle transitions to a tool handler
func (s *Server) transitionHandler(fn transitionFunc) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args transitionArgs
		if err := s.bind(request, &args); err != nil {
			return nil, err
		}

		r, err := fn(ctx, args.ReservationRequestID, args.UserID)
		if err != nil {
			return nil, toolError(fmt.Sprintf("%s failed", request.Params.Name), err)
		}
		return mcp.NewToolResultText(formatJSON(reservationView(r))), nil
	}
}

// handleGetReservationRequest handles the get_reservation_request tool invocation
func (s *Server) handleGetReservationRequest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args getReservationArgs
	if err := s.bind(request, &args); err != nil {
		return nil, err
	}

	r, err := s.reservations.Get(ctx, args.ReservationRequestID)
	if err != nil {
		return nil, toolError("failed to get reservation request", err)
	}
	return mcp.NewToolResultText(formatJSON(reservationView(r))), nil
}

// handleListReservationRequests handles the list_reservation_requests tool invocation
func (s *Server) handleListReservationRequests(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args listReservationsArgs
	if err := s.bind(request, &args); err != nil {
		return nil, err
	}

	var (
		list []*reservation.ReservationRequest
		err  error
	)
	if args.ListingID != "" {
		states := make([]reservation.State, 0, len(args.States))
		for _, name := range args.States {
			st, perr := reservation.ParseState(name)
			if perr != nil {
				return nil, newMCPError(ErrorCodeInvalidParams, "invalid state", map[string]interface{}{
					"param":  "states",
					"reason": perr.Error(),
				})
			}
			states = append(states, st)
		}
		list, err = s.reservations.ListByListing(ctx, args.ListingID, states...)
	} else {
		list, err = s.reservations.ListByReserver(ctx, args.ReserverID)
	}
	if err != nil {
		return nil, toolError("failed to list reservation requests", err)
	}

	views := make([]map[string]interface{}, 0, len(list))
	for _, r := range list {
		views = append(views, reservationView(r))
	}
	response := map[string]interface{}{
		"count":                len(views),
		"reservation_requests": views,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSaveUser handles the save_user tool invocation
func (s *Server) handleSaveUser(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args saveUserArgs
	if err := s.bind(request, &args); err != nil {
		return nil, err
	}

	u := &account.User{ID: args.UserID, Email: args.Email, DisplayName: args.DisplayName}
	if err := s.reservations.SaveUser(ctx, u); err != nil {
		return nil, toolError("failed to save user", err)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"user_id":      u.ID,
		"email":        u.Email,
		"display_name": u.DisplayName,
	})), nil
}

// handleSaveListing handles the save_listing tool invocation. The listing
// document is rebuilt once the ListingChanged event is delivered.
func (s *Server) handleSaveListing(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args saveListingArgs
	if err := s.bind(request, &args); err != nil {
		return nil, err
	}

	l := &listing.Listing{
		ID:          args.ListingID,
		SharerID:    args.SharerID,
		Title:       args.Title,
		Description: args.Description,
		Category:    args.Category,
		Location:    args.Location,
		State:       listing.State(args.State),
	}
	if err := s.reservations.SaveListing(ctx, l); err != nil {
		return nil, toolError("failed to save listing", err)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"listing_id": l.ID,
		"sharer_id":  l.SharerID,
		"title":      l.Title,
		"state":      string(l.State),
		"updated_at": l.UpdatedAt.Format(time.RFC3339),
	})), nil
}

// handleDeleteListing handles the delete_listing tool invocation
func (s *Server) handleDeleteListing(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args deleteListingArgs
	if err := s.bind(request, &args); err != nil {
		return nil, err
	}

	if err := s.reservations.DeleteListing(ctx, args.ListingID); err != nil {
		return nil, toolError("failed to delete listing", err)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"listing_id": args.ListingID,
		"deleted":    true,
	})), nil
}

// handleSearchListings handles the search_listings tool invocation
func (s *Server) handleSearchListings(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args searchArgs
	if err := s.bind(request, &args); err != nil {
		return nil, err
	}
	if args.Limit == 0 {
		args.Limit = defaultSearchLimit
	}

	filter := make(map[string]string)
	for field, value := range map[string]string{
		"category": args.Filters.Category,
		"location": args.Filters.Location,
		"state":    args.Filters.State,
		"sharerId": args.Filters.SharerID,
	} {
		if value != "" {
			filter[field] = value
		}
	}

	start := time.Now()
	res, err := s.index.Search(ctx, s.search.IndexName(), args.Query, searchindex.SearchOptions{
		Filter: filter,
		Top:    args.Limit,
		Skip:   args.Offset,
	})
	if err != nil {
		return nil, toolError("search failed", err)
	}

	results := make([]map[string]interface{}, 0, len(res.Hits))
	for _, hit := range res.Hits {
		results = append(results, map[string]interface{}{
			"listing_id":       hit.Key,
			"score":            hit.Score,
			"title":            hit.Document["title"],
			"category":         hit.Document["category"],
			"location":         hit.Document["location"],
			"state":            hit.Document["state"],
			"reserved_periods": hit.Document["reservedPeriods"],
		})
	}
	response := map[string]interface{}{
		"total":       res.Count,
		"results":     results,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleReindexListings handles the reindex_listings tool invocation
func (s *Server) handleReindexListings(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.search.ReindexAll(ctx)
	if err != nil {
		return nil, toolError("reindex failed", err)
	}

	response := map[string]interface{}{
		"listings":    stats.Listings,
		"indexed":     stats.Indexed,
		"skipped":     stats.Skipped,
		"failed":      stats.Failed,
		"duration_ms": stats.Duration.Milliseconds(),
	}

	if len(stats.ErrorMessages) > 0 {
		// Include first few errors
		errorCount := len(stats.ErrorMessages)
		if errorCount > 5 {
			response["errors"] = stats.ErrorMessages[:5]
			response["error_count"] = errorCount
		} else {
			response["errors"] = stats.ErrorMessages
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	counts, err := s.store.OutboxCounts(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	stats := s.bus.Stats()
	response := map[string]interface{}{
		"index": s.search.IndexName(),
		"outbox": map[string]interface{}{
			"pending":   counts[storage.OutboxPending],
			"published": counts[storage.OutboxPublished],
			"delivered": counts[storage.OutboxDelivered],
			"dead":      counts[storage.OutboxDead],
		},
		"deliveries": map[string]interface{}{
			"published":   stats.Published,
			"delivered":   stats.Delivered,
			"rescheduled": stats.Rescheduled,
			"dead":        stats.Dead,
		},
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newValidator reports fields by their argument names
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// bind decodes the tool arguments into dst and validates them
func (s *Server) bind(request mcp.CallToolRequest, dst interface{}) error {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		if request.Params.Arguments != nil {
			return newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
		}
		args = map[string]interface{}{}
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return newMCPError(ErrorCodeInvalidParams, "invalid arguments", map[string]interface{}{
			"reason": err.Error(),
		})
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return newMCPError(ErrorCodeInvalidParams, "invalid arguments", map[string]interface{}{
			"reason": err.Error(),
		})
	}

	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return newMCPError(ErrorCodeInvalidParams, fe.Field()+" parameter is invalid", map[string]interface{}{
				"param":  fe.Field(),
				"reason": fe.Tag(),
			})
		}
		return newMCPError(ErrorCodeInvalidParams, "invalid arguments", map[string]interface{}{
			"reason": err.Error(),
		})
	}
	return nil
}

// toolError maps a domain error onto an MCP error code
func toolError(message string, err error) error {
	code := ErrorCodeInternalError
	switch {
	case errors.Is(err, types.ErrValidation), errors.Is(err, searchindex.ErrInvalidQuery):
		code = ErrorCodeInvalidParams
	case errors.Is(err, types.ErrNotFound):
		code = ErrorCodeNotFound
	case errors.Is(err, types.ErrUnauthorized):
		code = ErrorCodeUnauthorized
	case errors.Is(err, types.ErrConflict):
		code = ErrorCodeConflict
	case errors.Is(err, types.ErrInvalidState):
		code = ErrorCodeInvalidState
	case errors.Is(err, searchsync.ErrReindexInProgress):
		code = ErrorCodeReindexInProgress
	case errors.Is(err, types.ErrIndexing):
		code = ErrorCodeIndexingFailed
	}

	data := map[string]interface{}{"error": err.Error()}
	var conflict *types.ConflictError
	if errors.As(err, &conflict) && conflict.ConflictingID != "" {
		data["conflicting_id"] = conflict.ConflictingID
	}
	return newMCPError(code, message, data)
}

// reservationView is the response shape of one reservation request
func reservationView(r *reservation.ReservationRequest) map[string]interface{} {
	p := r.Period()
	return map[string]interface{}{
		"id":                          r.ID(),
		"state":                       r.State().String(),
		"listing_id":                  r.ListingID(),
		"reserver_id":                 r.ReserverID(),
		"start":                       p.Start.Format(time.RFC3339),
		"end":                         p.End.Format(time.RFC3339),
		"close_requested_by_sharer":   r.CloseRequestedBySharer(),
		"close_requested_by_reserver": r.CloseRequestedByReserver(),
		"created_at":                  r.CreatedAt().Format(time.RFC3339),
		"updated_at":                  r.UpdatedAt().Format(time.RFC3339),
		"version":                     r.Version(),
	}
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}
