package models

// Span is a character-offset span inside a single utterance.
type Span struct {
	Start  int    `json:"start"`
	Length int    `json:"length"`
	Text   string `json:"text"`
}

// End returns the exclusive end offset.
func (s Span) End() int {
	return s.Start + s.Length
}

// LinkedMention is a disambiguated mention: the span, the winning entity
// and its score.
type LinkedMention struct {
	Start   int     `json:"start"`
	Length  int     `json:"length"`
	Mention string  `json:"mention"`
	Entity  string  `json:"entity"`
	Score   float64 `json:"score"`
}
