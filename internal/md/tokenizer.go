// Package md runs the BERT-based mention detector over single utterances.
package md

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// Word is a whitespace/punctuation-delimited word with rune offsets into
// the source utterance.
type Word struct {
	Text       string
	Start, End int
}

// Encoding is the model-ready view of an utterance: wordpiece ids plus the
// mapping from each wordpiece back to its source word (-1 for the special
// [CLS]/[SEP] positions).
type Encoding struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
	WordIndex     []int
	Words         []Word
}

// Tokenizer is a WordPiece tokenizer loaded from a HuggingFace
// tokenizer.json export.
type Tokenizer struct {
	vocab      map[string]int
	unkID      int
	clsID      int
	sepID      int
	maxWordLen int
	maxSeqLen  int
	lowercase  bool
}

type tokenizerJSON struct {
	Model struct {
		Vocab map[string]int `json:"vocab"`
	} `json:"model"`
	Normalizer struct {
		Lowercase *bool `json:"lowercase"`
	} `json:"normalizer"`
}

// LoadTokenizer reads the vocabulary and normalizer settings from
// tokenizer.json at path.
func LoadTokenizer(path string) (*Tokenizer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg tokenizerJSON
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse tokenizer.json: %w", err)
	}
	if len(cfg.Model.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer.json model.vocab is empty")
	}
	lowercase := true
	if cfg.Normalizer.Lowercase != nil {
		lowercase = *cfg.Normalizer.Lowercase
	}
	return newTokenizer(cfg.Model.Vocab, lowercase)
}

func newTokenizer(vocab map[string]int, lowercase bool) (*Tokenizer, error) {
	unkID, ok := vocab["[UNK]"]
	if !ok {
		return nil, fmt.Errorf("tokenizer vocab is missing [UNK]")
	}
	clsID, ok := vocab["[CLS]"]
	if !ok {
		return nil, fmt.Errorf("tokenizer vocab is missing [CLS]")
	}
	sepID, ok := vocab["[SEP]"]
	if !ok {
		return nil, fmt.Errorf("tokenizer vocab is missing [SEP]")
	}
	return &Tokenizer{
		vocab:      vocab,
		unkID:      unkID,
		clsID:      clsID,
		sepID:      sepID,
		maxWordLen: 100,
		maxSeqLen:  512,
		lowercase:  lowercase,
	}, nil
}

// Encode converts text into wordpiece ids wrapped in [CLS]/[SEP], keeping
// the wordpiece-to-word mapping needed to project labels back to character
// spans. Sequences longer than the model limit are truncated.
func (t *Tokenizer) Encode(text string) *Encoding {
	words := SplitWords(text)
	enc := &Encoding{
		InputIDs:      []int64{int64(t.clsID)},
		AttentionMask: []int64{1},
		TokenTypeIDs:  []int64{0},
		WordIndex:     []int{-1},
		Words:         words,
	}
	for wi, word := range words {
		for _, pieceID := range t.wordToPieces(word.Text) {
			if len(enc.InputIDs) >= t.maxSeqLen-1 {
				break
			}
			enc.InputIDs = append(enc.InputIDs, int64(pieceID))
			enc.AttentionMask = append(enc.AttentionMask, 1)
			enc.TokenTypeIDs = append(enc.TokenTypeIDs, 0)
			enc.WordIndex = append(enc.WordIndex, wi)
		}
		if len(enc.InputIDs) >= t.maxSeqLen-1 {
			break
		}
	}
	enc.InputIDs = append(enc.InputIDs, int64(t.sepID))
	enc.AttentionMask = append(enc.AttentionMask, 1)
	enc.TokenTypeIDs = append(enc.TokenTypeIDs, 0)
	enc.WordIndex = append(enc.WordIndex, -1)
	return enc
}

// EncodeWords encodes an already word-split sequence. Used by the
// antecedent scorer, whose token stream spans multiple utterances and so
// has no single source text for offsets.
func (t *Tokenizer) EncodeWords(words []string) *Encoding {
	enc := &Encoding{
		InputIDs:      []int64{int64(t.clsID)},
		AttentionMask: []int64{1},
		TokenTypeIDs:  []int64{0},
		WordIndex:     []int{-1},
	}
	for wi, word := range words {
		for _, pieceID := range t.wordToPieces(word) {
			if len(enc.InputIDs) >= t.maxSeqLen-1 {
				break
			}
			enc.InputIDs = append(enc.InputIDs, int64(pieceID))
			enc.AttentionMask = append(enc.AttentionMask, 1)
			enc.TokenTypeIDs = append(enc.TokenTypeIDs, 0)
			enc.WordIndex = append(enc.WordIndex, wi)
		}
		if len(enc.InputIDs) >= t.maxSeqLen-1 {
			break
		}
	}
	enc.InputIDs = append(enc.InputIDs, int64(t.sepID))
	enc.AttentionMask = append(enc.AttentionMask, 1)
	enc.TokenTypeIDs = append(enc.TokenTypeIDs, 0)
	enc.WordIndex = append(enc.WordIndex, -1)
	return enc
}

func (t *Tokenizer) wordToPieces(word string) []int {
	if word == "" {
		return []int{t.unkID}
	}
	normalized := word
	if t.lowercase {
		normalized = strings.ToLower(word)
	}
	runes := []rune(normalized)
	if len(runes) > t.maxWordLen {
		return []int{t.unkID}
	}
	if id, ok := t.vocab[string(runes)]; ok {
		return []int{id}
	}
	ids := make([]int, 0, 4)
	start := 0
	for start < len(runes) {
		end := len(runes)
		found := -1
		for end > start {
			piece := string(runes[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := t.vocab[piece]; ok {
				found = id
				break
			}
			end--
		}
		if found == -1 {
			return []int{t.unkID}
		}
		ids = append(ids, found)
		start = end
	}
	return ids
}

// SplitWords splits text into letter/digit runs. Offsets count runes, not
// bytes, so spans stay aligned with character-indexed annotations on
// non-ASCII input.
func SplitWords(text string) []Word {
	words := make([]Word, 0)
	start, byteStart := -1, 0
	ri := 0
	for bi, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = ri
				byteStart = bi
			}
		} else if start >= 0 {
			words = append(words, Word{Text: text[byteStart:bi], Start: start, End: ri})
			start = -1
		}
		ri++
	}
	if start >= 0 {
		words = append(words, Word{Text: text[byteStart:], Start: start, End: ri})
	}
	return words
}
