// Package mcp implements the Model Context Protocol (MCP) server for ShareThrift.
//
// The server exposes the reservation request lifecycle and listing search as tools:
//   - create_reservation_request: Request a listing for a period
//   - accept_reservation_request, reject_reservation_request: Sharer decisions
//   - cancel_reservation_request: Reserver withdraws a request
//   - close_reservation_request: Either party asks to close an accepted reservation
//   - get_reservation_request, list_reservation_requests: Queries
//   - search_listings: Full-text search over listing documents
//   - reindex_listings: Rebuild every listing document
//   - get_status: Outbox backlog and delivery statistics
//   - save_user, save_listing, delete_listing: Maintain the users and listings
//     reservation requests refer to
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// # Tool: create_reservation_request
//
//	Request:
//	{
//	  "name": "create_reservation_request",
//	  "arguments": {
//	    "listing_id": "l1",
//	    "reserver_id": "u2",
//	    "start": "2030-01-01T00:00:00Z",
//	    "end": "2030-01-03T00:00:00Z"
//	  }
//	}
//
//	Response:
//	{
//	  "id": "7f0c...",
//	  "state": "Requested",
//	  "listing_id": "l1",
//	  "reserver_id": "u2",
//	  "start": "2030-01-01T00:00:00Z",
//	  "end": "2030-01-03T00:00:00Z",
//	  ...
//	}
//
// Periods are half-open, so a request may start exactly when another ends.
//
// # Tool: search_listings
//
// Search results come from the search index, which is updated asynchronously
// from the integration bus. A reservation that was just accepted may not yet
// appear in reserved_periods.
//
//	Request:
//	{
//	  "name": "search_listings",
//	  "arguments": {
//	    "query": "kayak",
//	    "filters": {"category": "water"},
//	    "limit": 10
//	  }
//	}
//
// # Error Handling
//
// Failures are returned as MCPError values:
//
//	-32602: Invalid parameters (missing argument, malformed time, inverted period)
//	-32603: Internal error
//	-32001: Listing, user or reservation request not found
//	-32002: User may not perform the action
//	-32003: Period overlaps an active reservation request
//	-32004: Transition not allowed from the current state
//	-32005: Reindex already in progress
//	-32006: Search index write failed after retries
package mcp
