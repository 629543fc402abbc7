package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const (
	uriRouterStats = "agentd://router/stats"
	uriAgents      = "agentd://agents"
)

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriRouterStats,
			"Router Statistics",
			mcplib.WithResourceDescription("Message counters, queue depths and delivery time average"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleStatsResource,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriAgents,
			"Registered Agents",
			mcplib.WithResourceDescription("Recipient ids registered with the router, in delivery order"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleAgentsResource,
	)
}

func (s *Server) handleStatsResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Router == nil {
		return textResource(req.Params.URI, `{"error":"router not configured"}`), nil
	}
	data, err := json.Marshal(s.deps.Router.Statistics())
	if err != nil {
		return nil, err
	}
	return textResource(req.Params.URI, string(data)), nil
}

func (s *Server) handleAgentsResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Router == nil {
		return textResource(req.Params.URI, `{"error":"router not configured"}`), nil
	}
	data, err := json.Marshal(s.deps.Router.Recipients())
	if err != nil {
		return nil, err
	}
	return textResource(req.Params.URI, string(data)), nil
}

func textResource(uri, text string) []mcplib.ResourceContents {
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     text,
		},
	}
}
