package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mbakker/convel-go/internal/models"
	"github.com/mbakker/convel-go/internal/parser"
)

var (
	annotatePretty     bool
	annotateOutputFile string
)

var annotateCmd = &cobra.Command{
	Use:   "annotate [file]",
	Short: "Annotate a conversation with entity links",
	Long: `Annotate a conversation read from a file or stdin.

The input is either a JSON array of {"speaker", "utterance"} turns or a
plain transcript with one "USER: ..." / "SYSTEM: ..." turn per line.
The output is the same conversation with entity annotations added to
every USER turn.

Examples:
  convel annotate conversation.json
  convel annotate transcript.txt --pretty
  cat conversation.json | convel annotate
  convel annotate conversation.json -o annotated.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnnotate,
}

func init() {
	annotateCmd.Flags().BoolVar(&annotatePretty, "pretty", false, "indent the JSON output")
	annotateCmd.Flags().StringVarP(&annotateOutputFile, "output", "o", "", "write output to file")
}

func runAnnotate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	data, err := readInput(args)
	if err != nil {
		return err
	}

	turns, err := decodeInput(data)
	if err != nil {
		return err
	}

	l, err := getLinker(ctx)
	if err != nil {
		return err
	}

	annotated, err := l.Annotate(ctx, turns)
	if err != nil {
		return fmt.Errorf("annotate: %w", err)
	}

	var out []byte
	if annotatePretty {
		out, err = json.MarshalIndent(annotated, "", "  ")
	} else {
		out, err = json.Marshal(annotated)
	}
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	if annotateOutputFile != "" {
		if err := os.WriteFile(annotateOutputFile, append(out, '\n'), 0644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		fmt.Printf("Wrote %s\n", annotateOutputFile)
		return nil
	}

	fmt.Println(string(out))
	return nil
}

func readInput(args []string) ([]byte, error) {
	if len(args) == 1 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", args[0], err)
		}
		return data, nil
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return data, nil
}

// decodeInput picks the input format by the first byte: JSON conversations
// start with '[', anything else is treated as a plain transcript.
func decodeInput(data []byte) ([]models.Turn, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty input")
	}

	if trimmed[0] == '[' {
		return models.DecodeConversation(trimmed)
	}
	return parser.ParseTranscript(trimmed)
}
