package pe

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mbakker/convel-go/internal/md"
)

// Turn is one conversation-history record used during personal-entity
// linking. Mentions holds the explicit mentions already linked in that
// turn; PEMs carries the single target personal mention while it is being
// resolved and is cleared afterward.
type Turn struct {
	Speaker   string
	Utterance string
	Mentions  []string
	PEMs      []string
}

// Token is a word-level token with its provenance in the conversation.
type Token struct {
	Text      string
	TurnIndex int
	Speaker   string
	Start     int // char offset within the turn's utterance
	End       int
}

// Candidate is a candidate antecedent: an explicit mention located in the
// flattened token stream. TokenEnd is inclusive.
type Candidate struct {
	Mention    string
	TokenStart int
	TokenEnd   int
}

// Input is one scoring task: the flattened history, the target personal
// mention's token span, and the candidate antecedent spans.
type Input struct {
	Tokens     []Token
	PEM        string
	PEMStart   int // token index, inclusive
	PEMEnd     int // token index, inclusive
	Candidates []Candidate
}

// TokensWithInfo flattens the conversation history into a single token
// stream, keeping per-token turn and speaker provenance.
func TokensWithInfo(hist []Turn) []Token {
	tokens := make([]Token, 0, 32)
	for ti, turn := range hist {
		for _, w := range md.SplitWords(turn.Utterance) {
			tokens = append(tokens, Token{
				Text:      w.Text,
				TurnIndex: ti,
				Speaker:   turn.Speaker,
				Start:     w.Start,
				End:       w.End,
			})
		}
	}
	return tokens
}

// BuildInputs creates one scoring input per target personal mention marked
// in the history. Candidates are the explicit mentions of all turns up to
// and including the personal mention's turn, ordered by position.
func BuildInputs(tokens []Token, hist []Turn) ([]Input, error) {
	inputs := make([]Input, 0, 1)
	for ti, turn := range hist {
		for _, pem := range turn.PEMs {
			pemStart, pemEnd, ok := findPhrase(tokens, ti, pem)
			if !ok {
				return nil, fmt.Errorf("personal mention %q not found in turn %d tokens", pem, ti)
			}

			cands := make([]Candidate, 0, 8)
			for ui := 0; ui <= ti; ui++ {
				for _, mention := range hist[ui].Mentions {
					start, end, ok := findPhrase(tokens, ui, mention)
					if !ok {
						continue
					}
					if start <= pemEnd && end >= pemStart {
						continue // overlaps the target
					}
					cands = append(cands, Candidate{Mention: mention, TokenStart: start, TokenEnd: end})
				}
			}
			sort.Slice(cands, func(i, j int) bool { return cands[i].TokenStart < cands[j].TokenStart })

			inputs = append(inputs, Input{
				Tokens:     tokens,
				PEM:        pem,
				PEMStart:   pemStart,
				PEMEnd:     pemEnd,
				Candidates: cands,
			})
		}
	}
	return inputs, nil
}

// findPhrase locates the word sequence of phrase within the tokens of turn
// turnIdx. Matching is case-insensitive. Returns inclusive token bounds of
// the first match.
func findPhrase(tokens []Token, turnIdx int, phrase string) (int, int, bool) {
	want := md.SplitWords(phrase)
	if len(want) == 0 {
		return 0, 0, false
	}
	for i := 0; i < len(tokens); i++ {
		if tokens[i].TurnIndex != turnIdx {
			continue
		}
		if !strings.EqualFold(tokens[i].Text, want[0].Text) {
			continue
		}
		matched := true
		for j := 1; j < len(want); j++ {
			if i+j >= len(tokens) ||
				tokens[i+j].TurnIndex != turnIdx ||
				!strings.EqualFold(tokens[i+j].Text, want[j].Text) {
				matched = false
				break
			}
		}
		if matched {
			return i, i + len(want) - 1, true
		}
	}
	return 0, 0, false
}

// Result is an accepted antecedent for a personal mention.
type Result struct {
	PEM     string
	Mention string
	Score   float64
}

// Best returns the highest-scoring candidate above threshold, or false
// when no candidate qualifies. scores must align with input.Candidates.
func Best(input Input, scores []float64, threshold float64) (Result, bool, error) {
	if len(scores) != len(input.Candidates) {
		return Result{}, false, fmt.Errorf("got %d scores for %d candidates", len(scores), len(input.Candidates))
	}
	bestIdx := -1
	for i, s := range scores {
		if s <= threshold {
			continue
		}
		if bestIdx < 0 || s > scores[bestIdx] {
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return Result{}, false, nil
	}
	return Result{
		PEM:     input.PEM,
		Mention: input.Candidates[bestIdx].Mention,
		Score:   scores[bestIdx],
	}, true, nil
}
