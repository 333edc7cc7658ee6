// Package mcp exposes the vehicles on a Tesla account to Model Context Protocol clients.
//
// Each cached vehicle is published as a resource named tesla://vehicles/{id}. Tools wake vehicles
// and refresh or inspect the cache, and prompts give assistants a starting point for common
// requests. Request handlers never terminate the session: Fleet API and authentication failures
// are reported as tool errors or protocol errors.
package mcp

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/teslamotors/fleet-mcp/internal/log"
	"github.com/teslamotors/fleet-mcp/pkg/account"
	"github.com/teslamotors/fleet-mcp/pkg/cache"
)

const (
	// ServerName identifies the server during MCP initialization.
	ServerName = "tesla-fleet"
	// ServerVersion is reported during MCP initialization.
	ServerVersion = "0.1.0"
)

// Waker sends wake-up requests to vehicles. It's implemented by *account.Account.
type Waker interface {
	WakeUp(ctx context.Context, id string) (*account.Vehicle, error)
}

// Server adapts a vehicle cache and a Fleet API client to the MCP resource, tool, and prompt
// surface.
type Server struct {
	vehicles *cache.VehicleCache
	waker    Waker

	once   sync.Once
	server *mcpsdk.Server
}

// New returns a Server that publishes the contents of vehicles and wakes vehicles using waker.
func New(vehicles *cache.VehicleCache, waker Waker) *Server {
	return &Server{vehicles: vehicles, waker: waker}
}

// MCPServer returns the protocol server, registering resources, tools, and prompts on first use.
func (s *Server) MCPServer() *mcpsdk.Server {
	s.once.Do(func() {
		s.server = mcpsdk.NewServer(&mcpsdk.Implementation{
			Name:    ServerName,
			Version: ServerVersion,
		}, &mcpsdk.ServerOptions{
			Instructions: "Vehicles on the user's Tesla account are available as tesla://vehicles/{id} " +
				"resources. Use wake_up before asking for live data from a sleeping vehicle.",
		})
		s.registerResources(s.server)
		s.registerTools(s.server)
		s.registerPrompts(s.server)
	})
	return s.server
}

// Prime populates the vehicle cache and returns the fetch error, if any. The server remains usable
// after a failure and retries on the next request that needs vehicle data.
func (s *Server) Prime(ctx context.Context) error {
	vehicles, err := s.vehicles.Refresh(ctx)
	if err != nil {
		return err
	}
	log.Info("Loaded %d vehicles", len(vehicles))
	return nil
}

// Run serves a single MCP session over stdin/stdout until ctx is canceled or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.MCPServer().Run(ctx, &mcpsdk.StdioTransport{})
}

// HTTPHandler returns a handler serving the streamable HTTP transport. All sessions share s.
func (s *Server) HTTPHandler() http.Handler {
	server := s.MCPServer()
	return mcpsdk.NewStreamableHTTPHandler(func(r *http.Request) *mcpsdk.Server {
		return server
	}, nil)
}

func textResult(format string, a ...any) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: fmt.Sprintf(format, a...)}},
	}
}

func errorResult(format string, a ...any) *mcpsdk.CallToolResult {
	result := textResult(format, a...)
	result.IsError = true
	return result
}
