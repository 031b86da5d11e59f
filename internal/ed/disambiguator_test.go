package ed

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/mbakker/convel-go/internal/kb"
	"github.com/mbakker/convel-go/internal/llm"
	"github.com/mbakker/convel-go/internal/models"
)

type fakeSource struct {
	candidates map[string][]kb.Candidate
	entities   map[string]*kb.Entity
	candErr    error
}

func (f *fakeSource) CandidatesFor(_ context.Context, surface string) ([]kb.Candidate, error) {
	if f.candErr != nil {
		return nil, f.candErr
	}
	cands, ok := f.candidates[kb.NormalizeSurface(surface)]
	if !ok {
		return []kb.Candidate{}, nil
	}
	return cands, nil
}

func (f *fakeSource) GetEntity(_ context.Context, name string) (*kb.Entity, error) {
	e, ok := f.entities[name]
	if !ok {
		return nil, kb.ErrNotFound
	}
	return e, nil
}

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return f.vector, f.err
}

type fakeReranker struct {
	choice string
	err    error
	asked  bool
}

func (f *fakeReranker) PickEntity(_ context.Context, _, _ string, _ []llm.RerankCandidate) (string, error) {
	f.asked = true
	return f.choice, f.err
}

func span(start int, text string) models.Span {
	return models.Span{Start: start, Length: len(text), Text: text}
}

func TestDisambiguatePriorsOnly(t *testing.T) {
	source := &fakeSource{
		candidates: map[string][]kb.Candidate{
			"dallas": {
				{Entity: "Dallas", Prior: 0.62},
				{Entity: "Dallas_(TV_series)", Prior: 0.21},
			},
		},
	}
	d := New(source, nil, nil, Config{PriorWeight: 0.6})

	linked, err := d.Disambiguate(context.Background(), "I visited Dallas", []models.Span{span(10, "Dallas")})
	if err != nil {
		t.Fatalf("Disambiguate failed: %v", err)
	}
	if len(linked) != 1 {
		t.Fatalf("expected 1 linked mention, got %d", len(linked))
	}
	if linked[0].Entity != "Dallas" {
		t.Errorf("expected 'Dallas', got %q", linked[0].Entity)
	}
	if linked[0].Score != 0.62 {
		t.Errorf("expected prior as score, got %v", linked[0].Score)
	}
	if linked[0].Start != 10 || linked[0].Length != 6 {
		t.Errorf("span not carried through: %+v", linked[0])
	}
}

func TestDisambiguateDropsUnlinkable(t *testing.T) {
	source := &fakeSource{candidates: map[string][]kb.Candidate{}}
	d := New(source, nil, nil, Config{PriorWeight: 0.6})

	linked, err := d.Disambiguate(context.Background(), "gibberish zzyzx", []models.Span{span(10, "zzyzx")})
	if err != nil {
		t.Fatalf("Disambiguate failed: %v", err)
	}
	if len(linked) != 0 {
		t.Errorf("unlinkable span should be dropped, got %v", linked)
	}
}

func TestDisambiguateScoreFloor(t *testing.T) {
	source := &fakeSource{
		candidates: map[string][]kb.Candidate{
			"obscure": {{Entity: "Obscure_Thing", Prior: 0.05}},
		},
	}
	d := New(source, nil, nil, Config{PriorWeight: 0.6, MinScore: 0.1})

	linked, err := d.Disambiguate(context.Background(), "an obscure thing", []models.Span{span(3, "obscure")})
	if err != nil {
		t.Fatalf("Disambiguate failed: %v", err)
	}
	if len(linked) != 0 {
		t.Errorf("mention below floor should be dropped, got %v", linked)
	}
}

func TestDisambiguateContextMix(t *testing.T) {
	// Context aligns with the TV series embedding, which should beat the
	// city's higher prior under a 0.5/0.5 mix.
	source := &fakeSource{
		candidates: map[string][]kb.Candidate{
			"dallas": {
				{Entity: "Dallas", Prior: 0.6},
				{Entity: "Dallas_(TV_series)", Prior: 0.3},
			},
		},
		entities: map[string]*kb.Entity{
			"Dallas":             {Name: "Dallas", Embedding: []float32{0, 1}},
			"Dallas_(TV_series)": {Name: "Dallas_(TV_series)", Embedding: []float32{1, 0}},
		},
	}
	embedder := &fakeEmbedder{vector: []float32{1, 0}}
	d := New(source, embedder, nil, Config{PriorWeight: 0.5})

	linked, err := d.Disambiguate(context.Background(), "I watched Dallas last night", []models.Span{span(10, "Dallas")})
	if err != nil {
		t.Fatalf("Disambiguate failed: %v", err)
	}
	if len(linked) != 1 {
		t.Fatalf("expected 1 linked mention, got %d", len(linked))
	}
	if linked[0].Entity != "Dallas_(TV_series)" {
		t.Errorf("context should favor the TV series, got %q", linked[0].Entity)
	}
	// 0.5*0.3 + 0.5*1.0
	if math.Abs(linked[0].Score-0.65) > 1e-9 {
		t.Errorf("expected mixed score 0.65, got %v", linked[0].Score)
	}
}

func TestDisambiguateEmbedderFailureDegrades(t *testing.T) {
	source := &fakeSource{
		candidates: map[string][]kb.Candidate{
			"dallas": {{Entity: "Dallas", Prior: 0.62}},
		},
	}
	embedder := &fakeEmbedder{err: errors.New("ollama unreachable")}
	d := New(source, embedder, nil, Config{PriorWeight: 0.6})

	linked, err := d.Disambiguate(context.Background(), "I visited Dallas", []models.Span{span(10, "Dallas")})
	if err != nil {
		t.Fatalf("embedding failure should degrade, not abort: %v", err)
	}
	if len(linked) != 1 || linked[0].Score != 0.62 {
		t.Errorf("expected prior-only fallback, got %v", linked)
	}
}

func TestDisambiguateMissingEntityRecord(t *testing.T) {
	source := &fakeSource{
		candidates: map[string][]kb.Candidate{
			"dallas": {
				{Entity: "Dallas", Prior: 0.6},
				{Entity: "Dangling_Entry", Prior: 0.9},
			},
		},
		entities: map[string]*kb.Entity{
			"Dallas": {Name: "Dallas", Embedding: []float32{1, 0}},
		},
	}
	embedder := &fakeEmbedder{vector: []float32{1, 0}}
	d := New(source, embedder, nil, Config{PriorWeight: 0.5})

	linked, err := d.Disambiguate(context.Background(), "I visited Dallas", []models.Span{span(10, "Dallas")})
	if err != nil {
		t.Fatalf("Disambiguate failed: %v", err)
	}
	if len(linked) != 1 {
		t.Fatalf("expected 1 linked mention, got %d", len(linked))
	}
	// Dangling entry keeps its raw prior 0.9, Dallas mixes to 0.5*0.6+0.5*1 = 0.8
	if linked[0].Entity != "Dangling_Entry" {
		t.Errorf("expected dangling entry to win on raw prior, got %q", linked[0].Entity)
	}
}

func TestDisambiguateRerankerOverride(t *testing.T) {
	source := &fakeSource{
		candidates: map[string][]kb.Candidate{
			"dallas": {
				{Entity: "Dallas", Prior: 0.62},
				{Entity: "Dallas_(TV_series)", Prior: 0.21},
			},
		},
	}
	reranker := &fakeReranker{choice: "Dallas_(TV_series)"}
	d := New(source, nil, reranker, Config{PriorWeight: 0.6})

	linked, err := d.Disambiguate(context.Background(), "I watched Dallas", []models.Span{span(10, "Dallas")})
	if err != nil {
		t.Fatalf("Disambiguate failed: %v", err)
	}
	if !reranker.asked {
		t.Fatal("reranker should have been consulted")
	}
	if len(linked) != 1 || linked[0].Entity != "Dallas_(TV_series)" {
		t.Errorf("expected reranker override, got %v", linked)
	}
}

func TestDisambiguateRerankerDeclines(t *testing.T) {
	source := &fakeSource{
		candidates: map[string][]kb.Candidate{
			"dallas": {
				{Entity: "Dallas", Prior: 0.62},
				{Entity: "Dallas_(TV_series)", Prior: 0.21},
			},
		},
	}
	reranker := &fakeReranker{choice: ""}
	d := New(source, nil, reranker, Config{PriorWeight: 0.6})

	linked, err := d.Disambiguate(context.Background(), "I watched Dallas", []models.Span{span(10, "Dallas")})
	if err != nil {
		t.Fatalf("Disambiguate failed: %v", err)
	}
	if len(linked) != 1 || linked[0].Entity != "Dallas" {
		t.Errorf("declined rerank should keep scored ranking, got %v", linked)
	}
}

func TestDisambiguateSourceError(t *testing.T) {
	source := &fakeSource{candErr: errors.New("connection lost")}
	d := New(source, nil, nil, Config{PriorWeight: 0.6})

	_, err := d.Disambiguate(context.Background(), "I visited Dallas", []models.Span{span(10, "Dallas")})
	if err == nil {
		t.Fatal("expected error from candidate source")
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosine(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("cosine(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
