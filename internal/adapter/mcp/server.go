// Package mcp exposes the router and agents as Model Context Protocol tools
// and resources over streamable HTTP.
package mcp

import (
	"context"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mhylle/multi-agent-coding-system/internal/domain/agent"
	"github.com/mhylle/multi-agent-coding-system/internal/domain/task"
	"github.com/mhylle/multi-agent-coding-system/internal/router"
)

// TaskSubmitter sends a task to an agent and waits for its response.
type TaskSubmitter interface {
	Submit(ctx context.Context, agentID string, t task.Task) (agent.Response, error)
}

// RouterReader is the read-only router surface exposed over MCP.
type RouterReader interface {
	HealthCheck() router.Health
	Statistics() router.Stats
	History(agentID string, limit int) []router.Entry
	Recipients() []string
}

// ServerConfig holds the MCP server identity and credentials.
type ServerConfig struct {
	Name    string
	Version string
	// APIKey, when set, is required as a bearer token on every request.
	APIKey string
	// KeySource overrides APIKey and is consulted per request.
	KeySource func() string
}

// ServerDeps are the services tools delegate to. A nil dependency makes the
// tools needing it return an error result.
type ServerDeps struct {
	Tasks  TaskSubmitter
	Router RouterReader
}

// Server wraps an MCP server with the agentd tools and resources.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
}

// NewServer creates the MCP server and registers its tools and resources.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
			mcpserver.WithRecovery(),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcpServer }

// Handler returns the streamable HTTP endpoint, guarded by the API key.
func (s *Server) Handler() http.Handler {
	h := mcpserver.NewStreamableHTTPServer(s.mcpServer)
	if s.cfg.KeySource != nil {
		return KeyAuthMiddleware(s.cfg.KeySource, h)
	}
	return AuthMiddleware(s.cfg.APIKey, h)
}
