// Package models defines the conversation and annotation types shared
// across the linking pipeline.
package models

import (
	"encoding/json"
	"fmt"
)

// Speaker tags. A conversation alternates between these two.
const (
	SpeakerUser   = "USER"
	SpeakerSystem = "SYSTEM"
)

// Turn is a single conversation turn: who spoke and what they said.
type Turn struct {
	Speaker   string `json:"speaker"`
	Utterance string `json:"utterance"`
}

// AnnotatedTurn is a Turn augmented with entity annotations.
// USER turns always carry an annotations list, possibly empty; SYSTEM
// turns keep it nil and omit the key from JSON entirely.
type AnnotatedTurn struct {
	Speaker     string       `json:"speaker"`
	Utterance   string       `json:"utterance"`
	Annotations []Annotation `json:"annotations"`
}

// MarshalJSON omits the annotations key when the list is nil, so SYSTEM
// turns serialize with speaker and utterance only while USER turns keep an
// explicit, possibly empty, list.
func (t AnnotatedTurn) MarshalJSON() ([]byte, error) {
	if t.Annotations == nil {
		return json.Marshal(struct {
			Speaker   string `json:"speaker"`
			Utterance string `json:"utterance"`
		}{t.Speaker, t.Utterance})
	}
	type alias AnnotatedTurn
	return json.Marshal(alias(t))
}

// Annotation is one linked mention: character offset, span length, the
// mention surface form and the resolved entity. It serializes as the
// 4-element array [start, length, mention, entity] used by the REL API.
type Annotation struct {
	Start   int
	Length  int
	Mention string
	Entity  string
}

// MarshalJSON emits the REL wire shape [start, length, mention, entity].
func (a Annotation) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{a.Start, a.Length, a.Mention, a.Entity})
}

// UnmarshalJSON parses the REL wire shape.
func (a *Annotation) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 4 {
		return fmt.Errorf("annotation: want 4 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &a.Start); err != nil {
		return fmt.Errorf("annotation start: %w", err)
	}
	if err := json.Unmarshal(raw[1], &a.Length); err != nil {
		return fmt.Errorf("annotation length: %w", err)
	}
	if err := json.Unmarshal(raw[2], &a.Mention); err != nil {
		return fmt.Errorf("annotation mention: %w", err)
	}
	if err := json.Unmarshal(raw[3], &a.Entity); err != nil {
		return fmt.Errorf("annotation entity: %w", err)
	}
	return nil
}

// ValidationError reports a structurally invalid conversation.
type ValidationError struct {
	TurnIndex int
	Reason    string
}

func (e *ValidationError) Error() string {
	if e.TurnIndex < 0 {
		return fmt.Sprintf("invalid conversation: %s", e.Reason)
	}
	return fmt.Sprintf("invalid conversation: turn %d: %s", e.TurnIndex, e.Reason)
}

// ValidateConversation checks the structural input contract: at least one
// turn, and every speaker either USER or SYSTEM. Violations abort
// processing immediately; there is no recovery path.
func ValidateConversation(conv []Turn) error {
	if len(conv) == 0 {
		return &ValidationError{TurnIndex: -1, Reason: "empty conversation"}
	}
	for i, turn := range conv {
		if turn.Speaker != SpeakerUser && turn.Speaker != SpeakerSystem {
			return &ValidationError{
				TurnIndex: i,
				Reason:    fmt.Sprintf("speaker should be either %q or %q, but got %q", SpeakerUser, SpeakerSystem, turn.Speaker),
			}
		}
	}
	return nil
}

// DecodeConversation parses a conversation from JSON, rejecting turns that
// carry fields other than speaker and utterance.
func DecodeConversation(data []byte) ([]Turn, error) {
	var rawTurns []map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawTurns); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	conv := make([]Turn, 0, len(rawTurns))
	for i, raw := range rawTurns {
		for key := range raw {
			if key != "speaker" && key != "utterance" {
				return nil, &ValidationError{
					TurnIndex: i,
					Reason:    fmt.Sprintf("unexpected field %q, a turn has exactly speaker and utterance", key),
				}
			}
		}
		if _, ok := raw["speaker"]; !ok {
			return nil, &ValidationError{TurnIndex: i, Reason: "missing speaker"}
		}
		if _, ok := raw["utterance"]; !ok {
			return nil, &ValidationError{TurnIndex: i, Reason: "missing utterance"}
		}
		var turn Turn
		if err := json.Unmarshal(raw["speaker"], &turn.Speaker); err != nil {
			return nil, fmt.Errorf("decode turn %d speaker: %w", i, err)
		}
		if err := json.Unmarshal(raw["utterance"], &turn.Utterance); err != nil {
			return nil, fmt.Errorf("decode turn %d utterance: %w", i, err)
		}
		conv = append(conv, turn)
	}
	return conv, nil
}
