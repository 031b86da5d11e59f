package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// PingInput defines the input schema for the ping tool.
type PingInput struct {
	Echo string `json:"echo,omitempty" jsonschema:"Text to echo back"`
}

// NewPingHandler creates a ping tool handler with injected dependencies.
// Without input it answers with the knowledge base's readiness, so clients
// can use it as a liveness probe; with input it echoes.
func NewPingHandler(deps *Dependencies) mcp.ToolHandlerFor[PingInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input PingInput) (*mcp.CallToolResult, any, error) {
		if deps != nil && deps.Logger != nil {
			deps.Logger.Debug("ping tool called", "echo", input.Echo)
		}

		if input.Echo != "" {
			return TextResult(input.Echo), nil, nil
		}

		if deps != nil && deps.KB != nil {
			stats, err := deps.KB.KBStats(ctx)
			if err != nil {
				return TextResult("pong (knowledge base unreachable)"), nil, nil
			}
			return TextResult(fmt.Sprintf("pong (%d entities, %d mention surfaces)",
				stats.Entities, stats.Mentions)), nil, nil
		}
		return TextResult("pong"), nil, nil
	}
}
