// Package mcpserver exposes the dispatcher's tools over MCP on stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/rcliao/memoryd/internal/dispatch"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New creates an MCP server with one tool per registered dispatcher tool.
// Every tool result is the dispatcher's envelope as JSON text; failed calls
// are also flagged with isError.
func New(d *dispatch.Dispatcher, log *zap.Logger) (*server.MCPServer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := server.NewMCPServer(
		"memoryd",
		Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	for _, spec := range d.Specs() {
		schema, err := json.Marshal(spec.InputSchema())
		if err != nil {
			return nil, fmt.Errorf("schema for %s: %w", spec.Name, err)
		}
		s.AddTool(mcp.NewToolWithRawSchema(spec.Name, spec.Description, schema), handler(d, spec.Name))
	}
	log.Debug("mcp tools registered", zap.Int("count", len(d.Specs())))
	return s, nil
}

func handler(d *dispatch.Dispatcher, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		env := d.Call(ctx, name, req.GetArguments())
		res := mcp.NewToolResultText(string(env.JSON()))
		res.IsError = !env.OK
		return res, nil
	}
}

// Serve runs the server over the given streams until ctx is done or in is
// closed.
func Serve(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s).Listen(ctx, in, out)
}

const instructions = `memoryd is a memory service for coding agents.
Store text with store_memory and find it again with retrieve_memory.
Record code-generation attempts with log_code_attempt (verdict pass, fail or partial), then use get_code_patterns and analyze_code_patterns to learn from them.
Connect related resources with link_resources or auto_link_documents and inspect them with get_document_relationships.
Every result is a JSON envelope: {"ok":true,"data":...} or {"ok":false,"error":{"kind":...,"message":...}}.`
