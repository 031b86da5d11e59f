package md

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mbakker/convel-go/internal/models"
	"github.com/mbakker/convel-go/internal/onnx"
)

// ErrModelUnavailable is returned when the model directory is missing one
// of model.onnx, labels.json or tokenizer.json.
var ErrModelUnavailable = errors.New("mention detection model unavailable")

// session abstracts the onnx runtime so tests can fake inference.
type session interface {
	Run(ctx context.Context, inputs ...[]int64) ([]float32, []int64, error)
}

// Detector locates candidate entity mentions in an utterance using a BERT
// token-classification model fine-tuned on conversational data.
type Detector struct {
	modelDir string
	logger   *slog.Logger

	once      sync.Once
	loadErr   error
	sess      session
	labels    map[int]string
	tokenizer *Tokenizer
}

// NewDetector creates a detector for the model installed at modelDir.
// The model is loaded lazily on first Detect call.
func NewDetector(modelDir string, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{modelDir: modelDir, logger: logger}
}

func (d *Detector) load() error {
	d.once.Do(func() {
		modelPath := filepath.Join(d.modelDir, "model.onnx")
		if _, err := os.Stat(modelPath); err != nil {
			d.loadErr = fmt.Errorf("%w: %v", ErrModelUnavailable, err)
			return
		}

		labelsRaw, err := os.ReadFile(filepath.Join(d.modelDir, "labels.json"))
		if err != nil {
			d.loadErr = fmt.Errorf("%w: %v", ErrModelUnavailable, err)
			return
		}
		var byIndex map[string]string
		if err := json.Unmarshal(labelsRaw, &byIndex); err != nil {
			d.loadErr = fmt.Errorf("parse labels.json: %w", err)
			return
		}
		d.labels = make(map[int]string, len(byIndex))
		for k, v := range byIndex {
			var idx int
			if _, err := fmt.Sscanf(k, "%d", &idx); err != nil {
				d.loadErr = fmt.Errorf("labels.json key %q is not an index", k)
				return
			}
			d.labels[idx] = v
		}

		d.tokenizer, err = LoadTokenizer(filepath.Join(d.modelDir, "tokenizer.json"))
		if err != nil {
			d.loadErr = fmt.Errorf("%w: %v", ErrModelUnavailable, err)
			return
		}

		d.sess, err = onnx.NewSession(modelPath,
			[]string{"input_ids", "attention_mask", "token_type_ids"},
			[]string{"logits"})
		if err != nil {
			d.loadErr = err
			return
		}
		d.logger.Info("mention detection model loaded", "dir", d.modelDir, "labels", len(d.labels))
	})
	return d.loadErr
}

// Detect returns mention spans found in utterance, ordered by start offset.
func (d *Detector) Detect(ctx context.Context, utterance string) ([]models.Span, error) {
	if strings.TrimSpace(utterance) == "" {
		return nil, nil
	}
	if err := d.load(); err != nil {
		return nil, err
	}

	enc := d.tokenizer.Encode(utterance)
	if len(enc.Words) == 0 {
		return nil, nil
	}

	start := time.Now()
	logits, shape, err := d.sess.Run(ctx, enc.InputIDs, enc.AttentionMask, enc.TokenTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("mention detection inference: %w", err)
	}
	d.logger.Debug("md inference", "words", len(enc.Words), "duration_ms", time.Since(start).Milliseconds())

	if len(shape) != 3 || int(shape[1]) != len(enc.InputIDs) {
		return nil, fmt.Errorf("mention detection: unexpected logits shape %v for %d tokens", shape, len(enc.InputIDs))
	}
	numLabels := int(shape[2])

	wordLabels := d.wordPredictions(enc, logits, numLabels)
	return mergeBIO(utterance, enc.Words, wordLabels), nil
}

// wordPredictions picks the argmax label of the first wordpiece of each
// word. Continuation pieces are ignored, the standard projection for
// token-classification heads.
func (d *Detector) wordPredictions(enc *Encoding, logits []float32, numLabels int) []string {
	labels := make([]string, len(enc.Words))
	for i := range labels {
		labels[i] = "O"
	}
	seen := make(map[int]bool, len(enc.Words))
	for ti, wi := range enc.WordIndex {
		if wi < 0 || seen[wi] {
			continue
		}
		seen[wi] = true
		row := logits[ti*numLabels : (ti+1)*numLabels]
		if label, ok := d.labels[argmax(row)]; ok {
			labels[wi] = label
		}
	}
	return labels
}

func argmax(row []float32) int {
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}
	return best
}

// mergeBIO folds word-level BIO labels into character spans.
func mergeBIO(text string, words []Word, labels []string) []models.Span {
	runes := []rune(text)
	spans := make([]models.Span, 0)
	openStart, openEnd := -1, -1

	flush := func() {
		if openStart < 0 {
			return
		}
		spans = append(spans, models.Span{
			Start:  openStart,
			Length: openEnd - openStart,
			Text:   string(runes[openStart:openEnd]),
		})
		openStart, openEnd = -1, -1
	}

	for i, word := range words {
		label := labels[i]
		switch {
		case label == "O" || label == "":
			flush()
		case strings.HasPrefix(label, "B-") || openStart < 0:
			flush()
			openStart, openEnd = word.Start, word.End
		default: // I- continuation
			openEnd = word.End
		}
	}
	flush()
	return spans
}
