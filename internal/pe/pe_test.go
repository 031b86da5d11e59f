package pe

import (
	"testing"
)

func TestDetectPersonal(t *testing.T) {
	d := NewDetector()

	tests := []struct {
		name string
		utt  string
		want []string
	}{
		{
			name: "possessive phrase",
			utt:  "my dog is cute",
			want: []string{"my dog"},
		},
		{
			name: "compound head keeps first content word",
			utt:  "our summer house needs paint",
			want: []string{"our summer"},
		},
		{
			name: "bare pronoun",
			utt:  "I like him a lot",
			want: []string{"him"},
		},
		{
			name: "possessive without noun falls back to pronoun",
			utt:  "the dog is his",
			want: []string{"his"},
		},
		{
			name: "phrase and pronoun",
			utt:  "my sister is nice but she stayed home",
			want: []string{"my sister", "she"},
		},
		{
			name: "no personal mentions",
			utt:  "the weather looks great today",
			want: []string{},
		},
		{
			name: "case insensitive",
			utt:  "My cat is asleep",
			want: []string{"My cat"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spans := d.DetectPersonal(tt.utt)
			if len(spans) != len(tt.want) {
				t.Fatalf("DetectPersonal(%q) = %v, want %v", tt.utt, spans, tt.want)
			}
			for i, span := range spans {
				if span.Text != tt.want[i] {
					t.Errorf("span %d = %q, want %q", i, span.Text, tt.want[i])
				}
				if span.Text != string([]rune(tt.utt)[span.Start:span.Start+span.Length]) {
					t.Errorf("span %d offsets inconsistent: %+v", i, span)
				}
			}
		})
	}
}

func TestDetectPersonalRuneOffsets(t *testing.T) {
	// Offsets must count characters, not bytes: "Zoë" is 3 runes, 4 bytes.
	spans := NewDetector().DetectPersonal("Zoë met my dog")

	if len(spans) != 1 {
		t.Fatalf("DetectPersonal() = %v, want one span", spans)
	}
	span := spans[0]
	if span.Start != 8 || span.Length != 6 || span.Text != "my dog" {
		t.Errorf("span = %+v, want Start 8 Length 6 Text \"my dog\"", span)
	}
}

func testHistory() []Turn {
	return []Turn{
		{Speaker: "USER", Utterance: "I adopted a dog from Battersea", Mentions: []string{"Battersea"}},
		{Speaker: "SYSTEM", Utterance: "That is great"},
		{Speaker: "USER", Utterance: "my dog loves Hyde Park", Mentions: []string{"Hyde Park"}, PEMs: []string{"my dog"}},
	}
}

func TestTokensWithInfo(t *testing.T) {
	tokens := TokensWithInfo(testHistory())

	if len(tokens) != 14 {
		t.Fatalf("TokensWithInfo() = %d tokens, want 14", len(tokens))
	}
	if tokens[0].TurnIndex != 0 || tokens[0].Speaker != "USER" || tokens[0].Text != "I" {
		t.Errorf("first token = %+v", tokens[0])
	}
	last := tokens[len(tokens)-1]
	if last.TurnIndex != 2 || last.Text != "Park" {
		t.Errorf("last token = %+v", last)
	}
}

func TestBuildInputs(t *testing.T) {
	hist := testHistory()
	tokens := TokensWithInfo(hist)

	inputs, err := BuildInputs(tokens, hist)
	if err != nil {
		t.Fatalf("BuildInputs() error = %v", err)
	}
	if len(inputs) != 1 {
		t.Fatalf("BuildInputs() = %d inputs, want 1", len(inputs))
	}

	in := inputs[0]
	if in.PEM != "my dog" {
		t.Errorf("PEM = %q", in.PEM)
	}
	// "my dog" starts turn 2, which begins at token index 9.
	if in.PEMStart != 9 || in.PEMEnd != 10 {
		t.Errorf("PEM span = [%d, %d], want [9, 10]", in.PEMStart, in.PEMEnd)
	}
	if len(in.Candidates) != 2 {
		t.Fatalf("candidates = %+v, want Battersea and Hyde Park", in.Candidates)
	}
	if in.Candidates[0].Mention != "Battersea" || in.Candidates[1].Mention != "Hyde Park" {
		t.Errorf("candidates = %+v", in.Candidates)
	}
	if in.Candidates[0].TokenStart != 5 || in.Candidates[0].TokenEnd != 5 {
		t.Errorf("Battersea span = %+v", in.Candidates[0])
	}
	if in.Candidates[1].TokenStart != 12 || in.Candidates[1].TokenEnd != 13 {
		t.Errorf("Hyde Park span = %+v", in.Candidates[1])
	}
}

func TestBuildInputsNoPEMs(t *testing.T) {
	hist := []Turn{{Speaker: "USER", Utterance: "hello there", Mentions: nil}}
	inputs, err := BuildInputs(TokensWithInfo(hist), hist)
	if err != nil {
		t.Fatalf("BuildInputs() error = %v", err)
	}
	if len(inputs) != 0 {
		t.Errorf("BuildInputs() = %v, want none", inputs)
	}
}

func TestBuildInputsMissingPhrase(t *testing.T) {
	hist := []Turn{{Speaker: "USER", Utterance: "hello there", PEMs: []string{"my dog"}}}
	if _, err := BuildInputs(TokensWithInfo(hist), hist); err == nil {
		t.Fatal("BuildInputs() expected error for unlocatable personal mention")
	}
}

func TestBest(t *testing.T) {
	input := Input{
		PEM: "my dog",
		Candidates: []Candidate{
			{Mention: "Battersea"},
			{Mention: "Hyde Park"},
		},
	}

	t.Run("picks highest above threshold", func(t *testing.T) {
		res, ok, err := Best(input, []float64{0.2, 0.8}, 0)
		if err != nil || !ok {
			t.Fatalf("Best() = %v, %v, %v", res, ok, err)
		}
		if res.Mention != "Hyde Park" || res.PEM != "my dog" {
			t.Errorf("Best() = %+v", res)
		}
	})

	t.Run("threshold is strict", func(t *testing.T) {
		_, ok, err := Best(input, []float64{0.5, 0.5}, 0.5)
		if err != nil {
			t.Fatalf("Best() error = %v", err)
		}
		if ok {
			t.Error("Best() accepted a score equal to the threshold")
		}
	})

	t.Run("score count mismatch", func(t *testing.T) {
		if _, _, err := Best(input, []float64{0.5}, 0); err == nil {
			t.Fatal("Best() expected error for mismatched scores")
		}
	})
}
