package tools

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterAll registers all tools with the MCP server.
// This is called from main after server creation but before Run().
func RegisterAll(server *mcp.Server, deps *Dependencies) {
	// Ping tool - test/placeholder
	mcp.AddTool(server, &mcp.Tool{
		Name:        "ping",
		Description: "Test tool - responds with pong or echoes input",
	}, NewPingHandler(deps))

	// Annotate tool - the full linking pipeline
	mcp.AddTool(server, &mcp.Tool{
		Name:        "annotate",
		Description: "Link entity mentions in a conversation to knowledge-base entities, including personal mentions like 'my dog'",
	}, NewAnnotateHandler(deps))

	// Entity lookup - inspect what a mention resolved to
	mcp.AddTool(server, &mcp.Tool{
		Name:        "lookup_entity",
		Description: "Retrieve a knowledge-base entity by its canonical name",
	}, NewLookupHandler(deps))

	// Stats - knowledge-base record counts
	mcp.AddTool(server, &mcp.Tool{
		Name:        "kb_stats",
		Description: "Report entity and mention counts in the knowledge base",
	}, NewStatsHandler(deps))
}
