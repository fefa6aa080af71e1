package mcp

import (
	"context"
	"errors"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/mark3labs/mcp-go/server"

	"github.com/simnova/sharethrift-sub014/internal/app"
	"github.com/simnova/sharethrift-sub014/internal/events"
	"github.com/simnova/sharethrift-sub014/internal/searchindex"
	"github.com/simnova/sharethrift-sub014/internal/searchsync"
	"github.com/simnova/sharethrift-sub014/internal/service"
	"github.com/simnova/sharethrift-sub014/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "sharethrift"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp          *server.MCPServer
	reservations *service.Service
	search       *searchsync.Service
	index        searchindex.Gateway
	store        storage.Storage
	bus          *events.IntegrationBus
	validate     *validator.Validate
}

// NewServer creates a new MCP server over a wired application
func NewServer(a *app.App) (*Server, error) {
	if a == nil {
		return nil, errors.New("application is required")
	}

	s := &Server{
		mcp:          server.NewMCPServer(ServerName, ServerVersion),
		reservations: a.Reservations,
		search:       a.Search,
		index:        a.Index,
		store:        a.Store,
		bus:          a.Integration,
		validate:     newValidator(),
	}

	s.registerTools()
	return s, nil
}

// Serve answers MCP requests on stdio until ctx is cancelled or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(createReservationRequestTool(), s.handleCreateReservationRequest)
	s.mcp.AddTool(acceptReservationRequestTool(), s.transitionHandler(s.reservations.Accept))
	s.mcp.AddTool(rejectReservationRequestTool(), s.transitionHandler(s.reservations.Reject))
	s.mcp.AddTool(cancelReservationRequestTool(), s.transitionHandler(s.reservations.Cancel))
	s.mcp.AddTool(closeReservationRequestTool(), s.transitionHandler(s.reservations.RequestClose))
	s.mcp.AddTool(getReservationRequestTool(), s.handleGetReservationRequest)
	s.mcp.AddTool(listReservationRequestsTool(), s.handleListReservationRequests)
	s.mcp.AddTool(searchListingsTool(), s.handleSearchListings)
	s.mcp.AddTool(reindexListingsTool(), s.handleReindexListings)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	s.mcp.AddTool(saveUserTool(), s.handleSaveUser)
	s.mcp.AddTool(saveListingTool(), s.handleSaveListing)
	s.mcp.AddTool(deleteListingTool(), s.handleDeleteListing)
}
