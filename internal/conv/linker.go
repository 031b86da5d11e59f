// Package conv orchestrates the conversational entity linking pipeline:
// mention detection, entity disambiguation and personal-entity resolution
// against the conversation history.
package conv

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbakker/convel-go/internal/metrics"
	"github.com/mbakker/convel-go/internal/models"
	"github.com/mbakker/convel-go/internal/pe"
)

// MentionDetector locates candidate entity mentions in a single utterance.
type MentionDetector interface {
	Detect(ctx context.Context, utterance string) ([]models.Span, error)
}

// Disambiguator resolves detected mention spans to knowledge-base entities.
// Spans that cannot be linked are absent from the result.
type Disambiguator interface {
	Disambiguate(ctx context.Context, text string, spans []models.Span) ([]models.LinkedMention, error)
}

// PersonalDetector finds personal entity mentions ("my dog", "he") in an
// utterance.
type PersonalDetector interface {
	DetectPersonal(utterance string) []models.Span
}

// AntecedentScorer scores candidate antecedent mentions for one target
// personal mention.
type AntecedentScorer interface {
	Score(ctx context.Context, input pe.Input) ([]float64, error)
}

// Config carries the linker's tunables and ambient dependencies.
type Config struct {
	// Threshold is the strict lower bound a candidate antecedent score
	// must exceed to be accepted.
	Threshold float64
	Logger    *slog.Logger
	Metrics   *metrics.Collector
}

// Linker runs the full conversational linking pipeline. The conversation
// history and the mention-to-entity map live only for the duration of one
// Annotate call; nothing persists across calls.
//
// A Linker is safe for concurrent use; calls are serialized internally
// since the per-call bookkeeping lives on the struct.
type Linker struct {
	md     MentionDetector
	ed     Disambiguator
	pemd   PersonalDetector
	scorer AntecedentScorer

	threshold float64
	logger    *slog.Logger
	metrics   *metrics.Collector

	mu       sync.Mutex
	hist     []pe.Turn
	ment2ent map[string]string
}

// NewLinker wires the pipeline stages together.
func NewLinker(md MentionDetector, ed Disambiguator, pemd PersonalDetector, scorer AntecedentScorer, cfg Config) *Linker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Linker{
		md:        md,
		ed:        ed,
		pemd:      pemd,
		scorer:    scorer,
		threshold: cfg.Threshold,
		logger:    logger,
		metrics:   cfg.Metrics,
	}
}

// Annotate links every USER turn of conv. The returned slice mirrors the
// input turn for turn; USER turns additionally carry annotations, explicit
// mentions first, then personal mentions.
func (l *Linker) Annotate(ctx context.Context, conv []models.Turn) ([]models.AnnotatedTurn, error) {
	if err := models.ValidateConversation(conv); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.metrics != nil {
		defer l.metrics.Observe(metrics.OpAnnotate, time.Now())
	}

	// Fresh state for this call.
	l.hist = make([]pe.Turn, 0, len(conv))
	l.ment2ent = make(map[string]string)

	ret := make([]models.AnnotatedTurn, 0, len(conv))
	for i, turn := range conv {
		ret = append(ret, models.AnnotatedTurn{Speaker: turn.Speaker, Utterance: turn.Utterance})
		l.hist = append(l.hist, pe.Turn{Speaker: turn.Speaker, Utterance: turn.Utterance})

		if turn.Speaker != models.SpeakerUser {
			continue
		}

		explicit, err := l.linkExplicit(ctx, turn.Utterance)
		if err != nil {
			return nil, fmt.Errorf("turn %d: explicit linking: %w", i, err)
		}
		personal, err := l.linkPersonal(ctx, turn.Utterance)
		if err != nil {
			return nil, fmt.Errorf("turn %d: personal linking: %w", i, err)
		}

		annotations := make([]models.Annotation, 0, len(explicit)+len(personal))
		annotations = append(annotations, explicit...)
		annotations = append(annotations, personal...)
		ret[len(ret)-1].Annotations = annotations
	}
	return ret, nil
}

// linkExplicit runs mention detection and disambiguation over utt and
// records the linked mentions in the history tail and the mention map.
// Duplicate mention text across turns overwrites the earlier entity: the
// turn closest to a later personal mention wins.
func (l *Linker) linkExplicit(ctx context.Context, utt string) ([]models.Annotation, error) {
	start := time.Now()
	spans, err := l.md.Detect(ctx, utt)
	if err != nil {
		return nil, fmt.Errorf("mention detection: %w", err)
	}
	if l.metrics != nil {
		l.metrics.RecordTiming(metrics.OpMDInference, time.Since(start))
	}

	start = time.Now()
	linked, err := l.ed.Disambiguate(ctx, utt, spans)
	if err != nil {
		return nil, fmt.Errorf("disambiguation: %w", err)
	}
	if l.metrics != nil {
		l.metrics.RecordTiming(metrics.OpEDScore, time.Since(start))
	}

	tail := &l.hist[len(l.hist)-1]
	annotations := make([]models.Annotation, 0, len(linked))
	for _, m := range linked {
		tail.Mentions = append(tail.Mentions, m.Mention)
		l.ment2ent[m.Mention] = m.Entity
		annotations = append(annotations, models.Annotation{
			Start:   m.Start,
			Length:  m.Length,
			Mention: m.Mention,
			Entity:  m.Entity,
		})
	}
	return annotations, nil
}

// linkPersonal resolves each personal mention in utt to an earlier
// explicit mention's entity. The scorer handles one target personal
// mention at a time, so the history tail is re-marked per target.
func (l *Linker) linkPersonal(ctx context.Context, utt string) ([]models.Annotation, error) {
	pems := l.pemd.DetectPersonal(utt)
	if len(pems) == 0 {
		return nil, nil
	}

	tail := &l.hist[len(l.hist)-1]
	defer func() { tail.PEMs = nil }()

	annotations := make([]models.Annotation, 0, len(pems))
	for _, pemSpan := range pems {
		tail.PEMs = []string{pemSpan.Text}

		input, err := buildScoringInput(l.hist)
		if err != nil {
			return nil, err
		}

		start := time.Now()
		scores, err := l.scorer.Score(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("personal mention %q: %w", pemSpan.Text, err)
		}
		if l.metrics != nil {
			l.metrics.RecordTiming(metrics.OpPEScore, time.Since(start))
		}

		res, ok, err := pe.Best(input, scores, l.threshold)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		entity, ok := l.ment2ent[res.Mention]
		if !ok {
			// The scorer proposed a mention that never got linked.
			l.logger.Warn("antecedent mention has no linked entity", "pem", pemSpan.Text, "mention", res.Mention)
			continue
		}
		l.logger.Debug("personal mention resolved",
			"pem", pemSpan.Text, "antecedent", res.Mention, "entity", entity, "score", res.Score)

		annotations = append(annotations, models.Annotation{
			Start:   pemSpan.Start,
			Length:  pemSpan.Length,
			Mention: pemSpan.Text,
			Entity:  entity,
		})
	}
	return annotations, nil
}

// buildScoringInput flattens hist into one scoring task. Exactly one turn
// may carry a marked target personal mention; the scorer handles a single
// target per pass.
func buildScoringInput(hist []pe.Turn) (pe.Input, error) {
	tokens := pe.TokensWithInfo(hist)
	inputs, err := pe.BuildInputs(tokens, hist)
	if err != nil {
		return pe.Input{}, err
	}
	if len(inputs) != 1 {
		return pe.Input{}, fmt.Errorf("got %d scoring inputs, can handle only one target personal mention at a time", len(inputs))
	}
	return inputs[0], nil
}
