// Package kb provides SurrealDB query functions for entity and mention lookups.
package kb

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Entity is a knowledge-base entity record.
type Entity struct {
	ID          *surrealmodels.RecordID `json:"id,omitempty"`
	Name        string                  `json:"name"`
	Description string                  `json:"description,omitempty"`
	Embedding   []float32               `json:"embedding,omitempty"`
	LinkCount   int                     `json:"link_count,omitempty"`
}

// Candidate is one entry in a mention's candidate list: an entity name with
// the empirical probability that the surface form refers to it.
type Candidate struct {
	Entity string  `json:"entity"`
	Prior  float64 `json:"prior"`
}

// Mention is a surface-form record mapping mention text to candidate entities.
type Mention struct {
	ID         *surrealmodels.RecordID `json:"id,omitempty"`
	Surface    string                  `json:"surface"`
	Candidates []Candidate             `json:"candidates"`
	TotalCount int                     `json:"total_count,omitempty"`
}

// EntityMatch is a vector-search hit with its cosine distance to the query.
type EntityMatch struct {
	Entity
	Distance float64 `json:"dist"`
}

// Stats summarizes knowledge-base contents.
type Stats struct {
	Entities int `json:"entities"`
	Mentions int `json:"mentions"`
}

// NormalizeSurface canonicalizes a mention surface form for candidate lookup:
// lowercased with whitespace runs collapsed to single spaces.
func NormalizeSurface(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// CandidatesFor returns the candidate entities for a mention surface form,
// sorted by descending prior. An unknown surface yields an empty slice, not
// an error.
func (c *Client) CandidatesFor(ctx context.Context, surface string) ([]Candidate, error) {
	results, err := surrealdb.Query[[]Mention](ctx, c.db, `
		SELECT * FROM mention WHERE surface = $surface LIMIT 1
	`, map[string]any{"surface": NormalizeSurface(surface)})
	if err != nil {
		return nil, fmt.Errorf("candidates for %q: %w", surface, wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return []Candidate{}, nil
	}

	cands := (*results)[0].Result[0].Candidates
	// Stored sorted by prior at ingest time, but enforce the order anyway
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Prior > cands[j].Prior })
	return cands, nil
}

// GetEntity retrieves an entity by its canonical name.
// Returns ErrNotFound if no entity with that name exists.
func (c *Client) GetEntity(ctx context.Context, name string) (*Entity, error) {
	results, err := surrealdb.Query[[]Entity](ctx, c.db, `
		SELECT * FROM entity WHERE name = $name LIMIT 1
	`, map[string]any{"name": name})
	if err != nil {
		return nil, fmt.Errorf("get entity: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("entity %q: %w", name, ErrNotFound)
	}
	return &(*results)[0].Result[0], nil
}

// UpsertEntity creates or replaces an entity record keyed by name.
func (c *Client) UpsertEntity(ctx context.Context, e Entity) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT entity SET
			name = $name,
			description = $description,
			embedding = $embedding,
			link_count = $link_count
		WHERE name = $name
	`, map[string]any{
		"name":        e.Name,
		"description": e.Description,
		"embedding":   e.Embedding,
		"link_count":  e.LinkCount,
	})
	if err != nil {
		return fmt.Errorf("upsert entity %q: %w", e.Name, wrapQueryError(err))
	}
	return nil
}

// UpsertMention creates or replaces the candidate list for a surface form.
// The surface is normalized; candidates are stored sorted by descending prior.
func (c *Client) UpsertMention(ctx context.Context, surface string, cands []Candidate) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT mention SET
			surface = $surface,
			candidates = $candidates,
			total_count = $total
		WHERE surface = $surface
	`, map[string]any{
		"surface":    NormalizeSurface(surface),
		"candidates": cands,
		"total":      len(cands),
	})
	if err != nil {
		return fmt.Errorf("upsert mention %q: %w", surface, wrapQueryError(err))
	}
	return nil
}

// NearestEntities returns the entities nearest to the query embedding by
// cosine distance, using the HNSW index. Results are ordered nearest first.
func (c *Client) NearestEntities(ctx context.Context, embedding []float32, limit int) ([]EntityMatch, error) {
	// HNSW with ef=40 for better recall
	sql := fmt.Sprintf(`
		SELECT id, name, description, link_count, vector::distance::knn() AS dist
		FROM entity
		WHERE embedding <|%d,40|> $emb
		ORDER BY dist ASC
	`, limit)

	results, err := surrealdb.Query[[]EntityMatch](ctx, c.db, sql, map[string]any{
		"emb": embedding,
	})
	if err != nil {
		return nil, fmt.Errorf("nearest entities: %w", wrapQueryError(err))
	}

	if results != nil && len(*results) > 0 {
		return (*results)[0].Result, nil
	}
	return []EntityMatch{}, nil
}

// SearchEntities performs a BM25 full-text search over entity descriptions.
func (c *Client) SearchEntities(ctx context.Context, query string, limit int) ([]Entity, error) {
	results, err := surrealdb.Query[[]Entity](ctx, c.db, `
		SELECT id, name, description, link_count
		FROM entity
		WHERE description @0@ $q
		LIMIT $limit
	`, map[string]any{"q": query, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("search entities: %w", wrapQueryError(err))
	}

	if results != nil && len(*results) > 0 {
		return (*results)[0].Result, nil
	}
	return []Entity{}, nil
}

type countRow struct {
	Count int `json:"count"`
}

func (c *Client) countTable(ctx context.Context, table string) (int, error) {
	sql := fmt.Sprintf("SELECT count() AS count FROM %s GROUP ALL", table)
	results, err := surrealdb.Query[[]countRow](ctx, c.db, sql, nil)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, wrapQueryError(err))
	}
	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		return (*results)[0].Result[0].Count, nil
	}
	return 0, nil
}

// KBStats returns record counts for the knowledge base.
func (c *Client) KBStats(ctx context.Context) (Stats, error) {
	entities, err := c.countTable(ctx, "entity")
	if err != nil {
		return Stats{}, err
	}
	mentions, err := c.countTable(ctx, "mention")
	if err != nil {
		return Stats{}, err
	}
	return Stats{Entities: entities, Mentions: mentions}, nil
}
