package tools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mbakker/convel-go/internal/models"
)

// AnnotateTurn is one conversation turn as submitted to the annotate tool.
type AnnotateTurn struct {
	Speaker   string `json:"speaker" jsonschema:"required,USER or SYSTEM"`
	Utterance string `json:"utterance" jsonschema:"required,The turn text"`
}

// AnnotateInput defines the input schema for the annotate tool.
type AnnotateInput struct {
	Conversation []AnnotateTurn `json:"conversation" jsonschema:"required,Conversation turns in order"`
}

// NewAnnotateHandler creates the annotate tool handler. It runs the full
// linking pipeline and returns the annotated conversation as JSON.
func NewAnnotateHandler(deps *Dependencies) mcp.ToolHandlerFor[AnnotateInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AnnotateInput) (
		*mcp.CallToolResult, any, error,
	) {
		if len(input.Conversation) == 0 {
			return ErrorResult("Conversation cannot be empty", "Provide at least one turn"), nil, nil
		}

		conv := make([]models.Turn, 0, len(input.Conversation))
		for _, turn := range input.Conversation {
			conv = append(conv, models.Turn{Speaker: turn.Speaker, Utterance: turn.Utterance})
		}

		annotated, err := deps.Annotator.Annotate(ctx, conv)
		if err != nil {
			var verr *models.ValidationError
			if errors.As(err, &verr) {
				return ErrorResult(verr.Error(), "Fix the conversation and retry"), nil, nil
			}
			deps.Logger.Error("annotation failed", "error", err)
			return ErrorResult("Annotation failed", "Models or knowledge base may be unavailable"), nil, nil
		}

		jsonBytes, err := json.MarshalIndent(annotated, "", "  ")
		if err != nil {
			return nil, nil, err
		}

		deps.Logger.Info("annotate tool completed", "turns", len(conv))
		return TextResult(string(jsonBytes)), nil, nil
	}
}
