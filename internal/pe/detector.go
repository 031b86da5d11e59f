// Package pe implements personal-entity-mention detection and antecedent
// scoring against the conversation history.
package pe

import (
	"strings"

	"github.com/mbakker/convel-go/internal/md"
	"github.com/mbakker/convel-go/internal/models"
)

// Possessives that can open a personal entity mention ("my dog").
var possessives = map[string]bool{
	"my": true, "our": true, "your": true,
	"his": true, "her": true, "their": true,
}

// Standalone personal pronouns.
var pronouns = map[string]bool{
	"he": true, "him": true, "his": true,
	"she": true, "her": true, "hers": true,
	"it": true, "its": true,
	"they": true, "them": true, "their": true, "theirs": true,
}

// Words that terminate the noun phrase after a possessive.
var phraseStop = map[string]bool{
	"is": true, "are": true, "was": true, "were": true,
	"has": true, "have": true, "had": true,
	"will": true, "would": true, "can": true, "could": true,
	"do": true, "does": true, "did": true,
	"and": true, "or": true, "but": true, "not": true, "no": true,
	"a": true, "an": true, "the": true,
	"to": true, "in": true, "on": true, "at": true, "of": true, "for": true,
	"i": true, "you": true, "we": true,
}

// Detector finds personal entity mentions (possessive noun phrases and
// bare pronouns) in a single utterance. The phrase rule is deliberately
// narrow: a possessive plus the single following content word. Compound
// heads ("my summer house") lose their tail, which the antecedent scorer
// tolerates since matching is token based.
type Detector struct{}

// NewDetector returns the rule-based personal mention detector.
func NewDetector() *Detector {
	return &Detector{}
}

// DetectPersonal returns personal mention spans ordered by start offset.
func (d *Detector) DetectPersonal(utterance string) []models.Span {
	words := md.SplitWords(utterance)
	runes := []rune(utterance)
	spans := make([]models.Span, 0)

	for i := 0; i < len(words); i++ {
		lower := strings.ToLower(words[i].Text)

		if possessives[lower] && i+1 < len(words) {
			next := strings.ToLower(words[i+1].Text)
			if !phraseStop[next] && !possessives[next] && !pronouns[next] {
				spans = append(spans, models.Span{
					Start:  words[i].Start,
					Length: words[i+1].End - words[i].Start,
					Text:   string(runes[words[i].Start:words[i+1].End]),
				})
				i++
				continue
			}
		}

		if pronouns[lower] {
			spans = append(spans, models.Span{
				Start:  words[i].Start,
				Length: words[i].End - words[i].Start,
				Text:   words[i].Text,
			})
		}
	}
	return spans
}
