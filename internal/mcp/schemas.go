package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
	}
}

// transitionTool returns a tool that moves one reservation request on behalf of a user
func transitionTool(name, description, userDescription string) mcp.Tool {
	return mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"reservation_request_id": stringProp("ID of the reservation request"),
				"user_id":                stringProp(userDescription),
			},
			Required: []string{"reservation_request_id", "user_id"},
		},
	}
}

// createReservationRequestTool returns the tool definition for create_reservation_request
func createReservationRequestTool() mcp.Tool {
	return mcp.Tool{
		Name:        "create_reservation_request",
		Description: "Request to reserve a listing for a period. Fails if the period overlaps an active request of the listing.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"listing_id":  stringProp("ID of the listing to reserve"),
				"reserver_id": stringProp("ID of the user making the request"),
				"start": map[string]interface{}{
					"type":        "string",
					"format":      "date-time",
					"description": "Start of the reservation period (RFC 3339, inclusive)",
				},
				"end": map[string]interface{}{
					"type":        "string",
					"format":      "date-time",
					"description": "End of the reservation period (RFC 3339, exclusive)",
				},
			},
			Required: []string{"listing_id", "reserver_id", "start", "end"},
		},
	}
}

func acceptReservationRequestTool() mcp.Tool {
	return transitionTool("accept_reservation_request",
		"Accept a requested reservation. Only the sharer of the listing may accept.",
		"ID of the sharer accepting the request")
}

func rejectReservationRequestTool() mcp.Tool {
	return transitionTool("reject_reservation_request",
		"Reject a requested reservation. Only the sharer of the listing may reject.",
		"ID of the sharer rejecting the request")
}

func cancelReservationRequestTool() mcp.Tool {
	return transitionTool("cancel_reservation_request",
		"Cancel a requested or accepted reservation. Only the reserver may cancel.",
		"ID of the reserver cancelling the request")
}

func closeReservationRequestTool() mcp.Tool {
	return transitionTool("close_reservation_request",
		"Record that one party wants to close an accepted reservation. It closes once both parties asked.",
		"ID of the sharer or reserver")
}

// getReservationRequestTool returns the tool definition for get_reservation_request
func getReservationRequestTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_reservation_request",
		Description: "Fetch one reservation request",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"reservation_request_id": stringProp("ID of the reservation request"),
			},
			Required: []string{"reservation_request_id"},
		},
	}
}

// listReservationRequestsTool returns the tool definition for list_reservation_requests
func listReservationRequestsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_reservation_requests",
		Description: "List the reservation requests of a listing or of a reserver",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"listing_id":  stringProp("List requests of this listing"),
				"reserver_id": stringProp("List requests made by this user"),
				"states": map[string]interface{}{
					"type":        "array",
					"description": "Only with listing_id: restrict to these states",
					"items": map[string]interface{}{
						"type": "string",
						"enum": []string{"Requested", "Accepted", "Rejected", "Cancelled", "Closing", "Closed"},
					},
				},
			},
		},
	}
}

// searchListingsTool returns the tool definition for search_listings
func searchListingsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_listings",
		Description: "Full-text search over listings. Results may lag recent changes.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": stringProp("Search text; empty or * lists every listing"),
				"filters": map[string]interface{}{
					"type":        "object",
					"description": "Exact-match filters",
					"properties": map[string]interface{}{
						"category":  stringProp("Listing category"),
						"location":  stringProp("Listing location"),
						"state":     stringProp("Listing state (Published, Paused, Drafted)"),
						"sharer_id": stringProp("Owner of the listing"),
					},
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"offset": map[string]interface{}{
					"type":        "integer",
					"description": "Number of results to skip",
					"default":     0,
					"minimum":     0,
				},
			},
		},
	}
}

// reindexListingsTool returns the tool definition for reindex_listings
func reindexListingsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "reindex_listings",
		Description: "Rebuild the search documents of every listing. Unchanged documents are skipped.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report outbox backlog and integration delivery statistics",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// saveUserTool returns the tool definition for save_user
func saveUserTool() mcp.Tool {
	return mcp.Tool{
		Name:        "save_user",
		Description: "Create or replace a user account",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"user_id":      stringProp("ID of the user"),
				"email":        stringProp("Email address receiving reservation notifications"),
				"display_name": stringProp("Name shown to other users"),
			},
			Required: []string{"user_id", "email"},
		},
	}
}

// saveListingTool returns the tool definition for save_listing
func saveListingTool() mcp.Tool {
	return mcp.Tool{
		Name:        "save_listing",
		Description: "Create or replace a listing. Its search document is rebuilt asynchronously.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"listing_id":  stringProp("ID of the listing"),
				"sharer_id":   stringProp("ID of the user sharing the listing"),
				"title":       stringProp("Listing title"),
				"description": stringProp("Listing description"),
				"category":    stringProp("Listing category"),
				"location":    stringProp("Listing location"),
				"state": map[string]interface{}{
					"type":        "string",
					"description": "Listing state; only Published listings accept reservation requests",
					"enum":        []string{"Published", "Paused", "Drafted"},
				},
			},
			Required: []string{"listing_id", "sharer_id", "title", "state"},
		},
	}
}

// deleteListingTool returns the tool definition for delete_listing
func deleteListingTool() mcp.Tool {
	return mcp.Tool{
		Name:        "delete_listing",
		Description: "Delete a listing with its reservation requests and remove its search document",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"listing_id": stringProp("ID of the listing to delete"),
			},
			Required: []string{"listing_id"},
		},
	}
}
