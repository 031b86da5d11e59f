package tools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mbakker/convel-go/internal/kb"
)

// LookupInput defines the input schema for the lookup_entity tool.
type LookupInput struct {
	Entity string `json:"entity" jsonschema:"required,Canonical entity name, e.g. Tom_Hanks"`
}

type lookupResult struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	LinkCount   int    `json:"link_count"`
}

// NewLookupHandler creates the lookup_entity tool handler.
func NewLookupHandler(deps *Dependencies) mcp.ToolHandlerFor[LookupInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input LookupInput) (
		*mcp.CallToolResult, any, error,
	) {
		if input.Entity == "" {
			return ErrorResult("Entity name cannot be empty", "Provide a canonical entity name"), nil, nil
		}

		entity, err := deps.KB.GetEntity(ctx, input.Entity)
		if err != nil {
			if errors.Is(err, kb.ErrNotFound) {
				return ErrorResult("Entity not found: "+input.Entity, "Check the canonical name"), nil, nil
			}
			deps.Logger.Error("entity lookup failed", "entity", input.Entity, "error", err)
			return ErrorResult("Lookup failed", "Knowledge base may be unavailable"), nil, nil
		}

		jsonBytes, err := json.MarshalIndent(lookupResult{
			Name:        entity.Name,
			Description: entity.Description,
			LinkCount:   entity.LinkCount,
		}, "", "  ")
		if err != nil {
			return nil, nil, err
		}
		return TextResult(string(jsonBytes)), nil, nil
	}
}

// StatsInput defines the (empty) input schema for the kb_stats tool.
type StatsInput struct{}

// NewStatsHandler creates the kb_stats tool handler.
func NewStatsHandler(deps *Dependencies) mcp.ToolHandlerFor[StatsInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, _ StatsInput) (
		*mcp.CallToolResult, any, error,
	) {
		stats, err := deps.KB.KBStats(ctx)
		if err != nil {
			deps.Logger.Error("stats failed", "error", err)
			return ErrorResult("Stats unavailable", "Knowledge base may be unavailable"), nil, nil
		}
		jsonBytes, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return nil, nil, err
		}
		return TextResult(string(jsonBytes)), nil, nil
	}
}
