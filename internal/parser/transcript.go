// Package parser reads plain-text conversation transcripts.
package parser

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/mbakker/convel-go/internal/models"
)

// ParseTranscript parses a transcript with one turn per line:
//
//	USER: I ran into Dallas yesterday.
//	SYSTEM: Dallas the city or the TV series?
//
// Speaker tags are case-insensitive. A line without a tag continues the
// previous turn; blank lines are skipped.
func ParseTranscript(data []byte) ([]models.Turn, error) {
	var turns []models.Turn

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		speaker, rest, ok := splitSpeaker(line)
		if !ok {
			// Continuation of the previous turn
			if len(turns) == 0 {
				return nil, fmt.Errorf("line %d: expected a USER: or SYSTEM: tag", lineNo)
			}
			last := &turns[len(turns)-1]
			last.Utterance += " " + line
			continue
		}

		turns = append(turns, models.Turn{Speaker: speaker, Utterance: rest})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}

	if len(turns) == 0 {
		return nil, fmt.Errorf("transcript contains no turns")
	}
	return turns, nil
}

// splitSpeaker splits "USER: text" into its tag and text.
func splitSpeaker(line string) (speaker, rest string, ok bool) {
	tag, rest, found := strings.Cut(line, ":")
	if !found {
		return "", "", false
	}

	switch strings.ToUpper(strings.TrimSpace(tag)) {
	case models.SpeakerUser:
		speaker = models.SpeakerUser
	case models.SpeakerSystem:
		speaker = models.SpeakerSystem
	default:
		return "", "", false
	}
	return speaker, strings.TrimSpace(rest), true
}
