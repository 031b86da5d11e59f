// Package ed resolves detected mention spans to knowledge-base entities by
// mixing empirical mention priors with embedding similarity between the
// utterance and candidate entity descriptions.
package ed

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/mbakker/convel-go/internal/kb"
	"github.com/mbakker/convel-go/internal/llm"
	"github.com/mbakker/convel-go/internal/models"
)

// maxCandidates caps how many candidates per mention are scored with the
// context signal; candidate lists are prior-sorted so the tail rarely wins.
const maxCandidates = 8

// CandidateSource supplies mention candidates and entity records.
type CandidateSource interface {
	CandidatesFor(ctx context.Context, surface string) ([]kb.Candidate, error)
	GetEntity(ctx context.Context, name string) (*kb.Entity, error)
}

// Embedder produces the context vector for an utterance.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Reranker lets a language model pick between near-tied candidates.
type Reranker interface {
	PickEntity(ctx context.Context, utterance, mention string, candidates []llm.RerankCandidate) (string, error)
}

// Config carries the disambiguator's tunables and ambient dependencies.
type Config struct {
	// PriorWeight is the weight of the mention prior in the mixed score;
	// the context similarity gets the complement.
	PriorWeight float64
	// MinScore drops mentions whose best candidate scores below it.
	MinScore float64
	Logger   *slog.Logger
}

// Disambiguator scores knowledge-base candidates for each mention span.
// The embedder and reranker are optional; without them scoring degrades to
// priors only.
type Disambiguator struct {
	source   CandidateSource
	embedder Embedder
	reranker Reranker

	priorWeight float64
	minScore    float64
	logger      *slog.Logger
}

// New creates a Disambiguator. embedder and reranker may be nil.
func New(source CandidateSource, embedder Embedder, reranker Reranker, cfg Config) *Disambiguator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Disambiguator{
		source:      source,
		embedder:    embedder,
		reranker:    reranker,
		priorWeight: cfg.PriorWeight,
		minScore:    cfg.MinScore,
		logger:      logger,
	}
}

// Disambiguate links mention spans found in text to entities. Spans with no
// candidate above the score floor are dropped from the result.
func (d *Disambiguator) Disambiguate(ctx context.Context, text string, spans []models.Span) ([]models.LinkedMention, error) {
	if len(spans) == 0 {
		return []models.LinkedMention{}, nil
	}

	contextEmb := d.contextEmbedding(ctx, text)

	linked := make([]models.LinkedMention, 0, len(spans))
	for _, span := range spans {
		cands, err := d.source.CandidatesFor(ctx, span.Text)
		if err != nil {
			return nil, fmt.Errorf("candidates for %q: %w", span.Text, err)
		}
		if len(cands) == 0 {
			d.logger.Debug("no candidates for mention", "mention", span.Text)
			continue
		}
		if len(cands) > maxCandidates {
			cands = cands[:maxCandidates]
		}

		entity, score, err := d.pickBest(ctx, text, span.Text, contextEmb, cands)
		if err != nil {
			return nil, err
		}
		if entity == "" || score < d.minScore {
			d.logger.Debug("mention below score floor", "mention", span.Text, "score", score)
			continue
		}

		linked = append(linked, models.LinkedMention{
			Start:   span.Start,
			Length:  span.Length,
			Mention: span.Text,
			Entity:  entity,
			Score:   score,
		})
	}
	return linked, nil
}

// contextEmbedding embeds the utterance, degrading to prior-only scoring on
// failure rather than aborting the whole annotation.
func (d *Disambiguator) contextEmbedding(ctx context.Context, text string) []float32 {
	if d.embedder == nil {
		return nil
	}
	emb, err := d.embedder.Embed(ctx, text)
	if err != nil {
		d.logger.Warn("context embedding failed, scoring on priors only", "error", err)
		return nil
	}
	return emb
}

func (d *Disambiguator) pickBest(ctx context.Context, text, mention string, contextEmb []float32, cands []kb.Candidate) (string, float64, error) {
	best := ""
	bestScore := math.Inf(-1)
	scored := make([]llm.RerankCandidate, 0, len(cands))
	scores := make(map[string]float64, len(cands))

	for _, cand := range cands {
		score := cand.Prior
		description := ""

		if contextEmb != nil {
			entity, err := d.source.GetEntity(ctx, cand.Entity)
			switch {
			case err == nil:
				score = d.priorWeight*cand.Prior + (1-d.priorWeight)*cosine(contextEmb, entity.Embedding)
				description = entity.Description
			default:
				// Dangling candidate entry: fall back to the prior alone
				d.logger.Warn("candidate entity missing from knowledge base", "entity", cand.Entity, "error", err)
			}
		}

		scored = append(scored, llm.RerankCandidate{Entity: cand.Entity, Description: description})
		scores[cand.Entity] = score
		if score > bestScore {
			best = cand.Entity
			bestScore = score
		}
	}

	if d.reranker != nil && len(scored) > 1 {
		choice, err := d.reranker.PickEntity(ctx, text, mention, scored)
		if err != nil {
			d.logger.Warn("reranker failed, keeping scored ranking", "mention", mention, "error", err)
		} else if choice != "" && choice != best {
			d.logger.Debug("reranker overrode scored ranking", "mention", mention, "scored", best, "reranked", choice)
			return choice, scores[choice], nil
		}
	}

	return best, bestScore, nil
}

// cosine returns the cosine similarity of two vectors, 0 when either is
// zero-length or all-zero.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
