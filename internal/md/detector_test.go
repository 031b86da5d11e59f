package md

import (
	"context"
	"log/slog"
	"testing"

	"github.com/mbakker/convel-go/internal/models"
)

// fakeSession returns canned logits for a fixed label inventory
// {0: O, 1: B-MENT, 2: I-MENT}.
type fakeSession struct {
	labelsPerWord map[string]int // word text -> label index
}

func (f *fakeSession) Run(_ context.Context, inputs ...[]int64) ([]float32, []int64, error) {
	seqLen := len(inputs[0])
	logits := make([]float32, seqLen*3)
	return logits, []int64{1, int64(seqLen), 3}, nil
}

func testDetector(t *testing.T, sess session) *Detector {
	t.Helper()
	tok, err := newTokenizer(testVocab(), true)
	if err != nil {
		t.Fatalf("newTokenizer() error = %v", err)
	}
	d := NewDetector("", slog.Default())
	d.once.Do(func() {}) // mark loaded
	d.sess = sess
	d.tokenizer = tok
	d.labels = map[int]string{0: "O", 1: "B-MENT", 2: "I-MENT"}
	return d
}

// scriptedSession assigns labels per wordpiece position.
type scriptedSession struct {
	rows [][]float32 // one logit row per token position
}

func (s *scriptedSession) Run(_ context.Context, inputs ...[]int64) ([]float32, []int64, error) {
	seqLen := len(inputs[0])
	logits := make([]float32, 0, seqLen*3)
	for i := 0; i < seqLen; i++ {
		if i < len(s.rows) {
			logits = append(logits, s.rows[i]...)
		} else {
			logits = append(logits, 1, 0, 0) // O
		}
	}
	return logits, []int64{1, int64(seqLen), 3}, nil
}

func TestDetectMultiWordMention(t *testing.T) {
	// "my dog is called Tom Hanks"
	// tokens: [CLS] my dog is called tom hanks [SEP]
	sess := &scriptedSession{rows: [][]float32{
		{1, 0, 0}, // [CLS]
		{1, 0, 0}, // my
		{1, 0, 0}, // dog
		{1, 0, 0}, // is
		{1, 0, 0}, // called
		{0, 5, 0}, // tom   B-MENT
		{0, 0, 5}, // hanks I-MENT
	}}
	d := testDetector(t, sess)

	utt := "my dog is called Tom Hanks"
	spans, err := d.Detect(context.Background(), utt)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(spans) != 1 {
		t.Fatalf("Detect() = %v, want one span", spans)
	}
	want := models.Span{Start: 17, Length: 9, Text: "Tom Hanks"}
	if spans[0] != want {
		t.Errorf("span = %+v, want %+v", spans[0], want)
	}
}

func TestDetectNoMentions(t *testing.T) {
	d := testDetector(t, &fakeSession{})
	spans, err := d.Detect(context.Background(), "my dog is called")
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(spans) != 0 {
		t.Errorf("Detect() = %v, want none", spans)
	}
}

func TestDetectEmptyUtterance(t *testing.T) {
	d := NewDetector("/nonexistent", slog.Default())
	// Empty input short-circuits before model load.
	spans, err := d.Detect(context.Background(), "   ")
	if err != nil || spans != nil {
		t.Errorf("Detect() = %v, %v, want nil, nil", spans, err)
	}
}

func TestDetectModelMissing(t *testing.T) {
	d := NewDetector(t.TempDir(), slog.Default())
	if _, err := d.Detect(context.Background(), "hello world"); err == nil {
		t.Fatal("Detect() expected error for missing model")
	}
}

func TestMergeBIO(t *testing.T) {
	text := "Tom Hanks met Rita Wilson"
	words := SplitWords(text)

	tests := []struct {
		name   string
		labels []string
		want   []string // expected span texts
	}{
		{
			name:   "two mentions",
			labels: []string{"B-MENT", "I-MENT", "O", "B-MENT", "I-MENT"},
			want:   []string{"Tom Hanks", "Rita Wilson"},
		},
		{
			name:   "adjacent B starts new span",
			labels: []string{"B-MENT", "B-MENT", "O", "O", "O"},
			want:   []string{"Tom", "Hanks"},
		},
		{
			name:   "dangling I opens a span",
			labels: []string{"O", "I-MENT", "O", "O", "O"},
			want:   []string{"Hanks"},
		},
		{
			name:   "all outside",
			labels: []string{"O", "O", "O", "O", "O"},
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spans := mergeBIO(text, words, tt.labels)
			if len(spans) != len(tt.want) {
				t.Fatalf("mergeBIO() = %v, want texts %v", spans, tt.want)
			}
			for i, span := range spans {
				if span.Text != tt.want[i] {
					t.Errorf("span %d = %q, want %q", i, span.Text, tt.want[i])
				}
				if span.Text != string([]rune(text)[span.Start:span.Start+span.Length]) {
					t.Errorf("span %d offsets inconsistent: %+v", i, span)
				}
			}
		})
	}
}

func TestMergeBIORuneOffsets(t *testing.T) {
	// "café" is 4 runes, 5 bytes; the mention after it must start at the
	// character offset, not the byte offset.
	text := "the café in Düsseldorf"
	words := SplitWords(text)

	spans := mergeBIO(text, words, []string{"O", "O", "O", "B-MENT"})
	if len(spans) != 1 {
		t.Fatalf("mergeBIO() = %v, want one span", spans)
	}
	span := spans[0]
	if span.Start != 12 || span.Length != 10 || span.Text != "Düsseldorf" {
		t.Errorf("span = %+v, want Start 12 Length 10 Text \"Düsseldorf\"", span)
	}
}
