// Package mcp exposes the memory manager as MCP tools.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/iammorganparry/agentmem/internal/memory"
)

const serverName = "agentmem"

// Server registers one tool per manager operation.
type Server struct {
	mgr    *memory.Manager
	logger *slog.Logger
}

// NewServer builds an MCP server whose tools call mgr directly.
func NewServer(mgr *memory.Manager, version string, logger *slog.Logger) *mcp.Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{mgr: mgr, logger: logger}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: version,
	}, nil)
	s.register(server)
	return server
}

// Run serves over stdio until the client disconnects or ctx ends.
func Run(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

func textResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}

// errorResult reports a failure to the model instead of failing the call.
func (s *Server) errorResult(tool string, err error) (*mcp.CallToolResult, any, error) {
	s.logger.Warn("tool call failed", "tool", tool, "error", err)
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}, nil, nil
}

// failedResult reports a write the store did not accept, keeping the
// outcome visible to the model.
func (s *Server) failedResult(tool string, v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, err
	}
	s.logger.Warn("tool write not persisted", "tool", tool)
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}
