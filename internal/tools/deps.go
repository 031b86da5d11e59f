// Package tools provides MCP tool handlers and registration.
package tools

import (
	"context"
	"log/slog"

	"github.com/mbakker/convel-go/internal/kb"
	"github.com/mbakker/convel-go/internal/models"
)

// Annotator runs the linking pipeline over a whole conversation.
type Annotator interface {
	Annotate(ctx context.Context, conv []models.Turn) ([]models.AnnotatedTurn, error)
}

// KnowledgeBase is the slice of the knowledge base the tools consult.
type KnowledgeBase interface {
	GetEntity(ctx context.Context, name string) (*kb.Entity, error)
	KBStats(ctx context.Context) (kb.Stats, error)
}

// Dependencies holds shared services for tool handlers.
// Passed to handler factories via closure capture.
type Dependencies struct {
	Annotator Annotator
	KB        KnowledgeBase
	Logger    *slog.Logger
}
