package pe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mbakker/convel-go/internal/md"
	"github.com/mbakker/convel-go/internal/onnx"
)

// ErrModelUnavailable is returned when the antecedent scorer assets are
// missing from the model directory.
var ErrModelUnavailable = errors.New("antecedent scorer model unavailable")

type session interface {
	Run(ctx context.Context, inputs ...[]int64) ([]float32, []int64, error)
}

// Scorer scores candidate antecedent mentions for one target personal
// mention using the s2e coreference model.
type Scorer struct {
	modelDir string
	logger   *slog.Logger

	once      sync.Once
	loadErr   error
	sess      session
	tokenizer *md.Tokenizer
}

// NewScorer creates a scorer for the model installed at modelDir. The
// model is loaded lazily on first use.
func NewScorer(modelDir string, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{modelDir: modelDir, logger: logger}
}

func (s *Scorer) load() error {
	s.once.Do(func() {
		modelPath := filepath.Join(s.modelDir, "model.onnx")
		if _, err := os.Stat(modelPath); err != nil {
			s.loadErr = fmt.Errorf("%w: %v", ErrModelUnavailable, err)
			return
		}
		tok, err := md.LoadTokenizer(filepath.Join(s.modelDir, "tokenizer.json"))
		if err != nil {
			s.loadErr = fmt.Errorf("%w: %v", ErrModelUnavailable, err)
			return
		}
		s.tokenizer = tok
		s.sess, err = onnx.NewSession(modelPath,
			[]string{"input_ids", "attention_mask", "pem_span", "candidate_starts", "candidate_ends"},
			[]string{"scores"})
		if err != nil {
			s.loadErr = err
			return
		}
		s.logger.Info("antecedent scorer model loaded", "dir", s.modelDir)
	})
	return s.loadErr
}

// Score returns one score per candidate in input. A nil candidate list
// skips inference entirely.
func (s *Scorer) Score(ctx context.Context, input Input) ([]float64, error) {
	if len(input.Candidates) == 0 {
		return []float64{}, nil
	}
	if err := s.load(); err != nil {
		return nil, err
	}

	words := make([]string, len(input.Tokens))
	for i, tok := range input.Tokens {
		words[i] = tok.Text
	}
	enc := s.tokenizer.EncodeWords(words)

	firstPiece := make(map[int]int, len(words))
	lastPiece := make(map[int]int, len(words))
	for ti, wi := range enc.WordIndex {
		if wi < 0 {
			continue
		}
		if _, ok := firstPiece[wi]; !ok {
			firstPiece[wi] = ti
		}
		lastPiece[wi] = ti
	}

	pemStart, ok1 := firstPiece[input.PEMStart]
	pemEnd, ok2 := lastPiece[input.PEMEnd]
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("conversation history exceeds scorer sequence limit")
	}

	starts := make([]int64, len(input.Candidates))
	ends := make([]int64, len(input.Candidates))
	for i, c := range input.Candidates {
		cs, ok1 := firstPiece[c.TokenStart]
		ce, ok2 := lastPiece[c.TokenEnd]
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("candidate %q exceeds scorer sequence limit", c.Mention)
		}
		starts[i] = int64(cs)
		ends[i] = int64(ce)
	}

	start := time.Now()
	raw, shape, err := s.sess.Run(ctx,
		enc.InputIDs,
		enc.AttentionMask,
		[]int64{int64(pemStart), int64(pemEnd)},
		starts,
		ends,
	)
	if err != nil {
		return nil, fmt.Errorf("antecedent scoring inference: %w", err)
	}
	s.logger.Debug("pe inference",
		"candidates", len(input.Candidates),
		"tokens", len(words),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if len(raw) < len(input.Candidates) {
		return nil, fmt.Errorf("antecedent scoring: got %d scores for %d candidates (shape %v)", len(raw), len(input.Candidates), shape)
	}
	scores := make([]float64, len(input.Candidates))
	for i := range scores {
		scores[i] = float64(raw[i])
	}
	return scores, nil
}
