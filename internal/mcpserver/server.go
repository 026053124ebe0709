// Package mcpserver exposes the TiltCheck API as MCP tools so assistants
// and bots can check trust and track sessions on a user's behalf.
package mcpserver

import (
	"maps"
	"slices"

	"github.com/mark3labs/mcp-go/server"
)

// Version is reported to MCP clients.
const Version = "1.0.0"

// NewMCPServer creates a configured MCP server with all TiltCheck tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("tiltcheck", Version, server.WithToolCapabilities(false))
	h := NewHandlers(NewClient(cfg))

	s.AddTool(ToolGetTrustSummary, h.HandleGetTrustSummary)
	s.AddTool(ToolGetSessionStatus, h.HandleGetSessionStatus)
	s.AddTool(ToolStartSession, h.HandleStartSession)
	s.AddTool(ToolLogBet, h.HandleLogBet)
	s.AddTool(ToolEndSession, h.HandleEndSession)
	s.AddTool(ToolReportScam, h.HandleReportScam)
	s.AddTool(ToolGetInterventions, h.HandleGetInterventions)

	return s
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
