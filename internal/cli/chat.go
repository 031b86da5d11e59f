package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mbakker/convel-go/internal/client"
	"github.com/mbakker/convel-go/internal/models"
)

var chatServerURL string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Annotate a conversation interactively",
	Long: `Start an interactive session against a running convel server.

Every line you type is sent as a USER turn and comes back annotated.
Personal references resolve against the turns entered so far.

Commands:
  /system <text>  add a SYSTEM turn to the conversation
  /quit           end the session

Examples:
  convel chat
  convel chat --server http://annotator.internal:8475`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatServerURL, "server", "", "server URL (default $CONVEL_SERVER_URL or http://localhost:8475)")
}

func runChat(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("chat needs an interactive terminal; pipe input to 'convel annotate' instead")
	}

	ctx := context.Background()
	c := client.New(chatServerURL)

	if !c.Healthy(ctx) {
		return fmt.Errorf("no convel server reachable; start one with convel-server")
	}

	session, err := c.OpenSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	theme := defaultTheme
	fmt.Println(theme.hintStyle().Render("Type a message to annotate it, /system <text> for a system turn, /quit to exit."))

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(theme.statusStyle().Render("you> "))
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		speaker := models.SpeakerUser
		switch {
		case line == "/quit" || line == "/exit":
			return nil
		case strings.HasPrefix(line, "/system "):
			speaker = models.SpeakerSystem
			line = strings.TrimSpace(strings.TrimPrefix(line, "/system "))
			if line == "" {
				continue
			}
		case strings.HasPrefix(line, "/"):
			fmt.Println(theme.errorStyle().Render(fmt.Sprintf("unknown command %q", line)))
			continue
		}

		conv, err := session.Send(speaker, line)
		if err != nil {
			fmt.Println(theme.errorStyle().Render(fmt.Sprintf("✗ %v", err)))
			continue
		}

		printTurnAnnotations(theme, conv)
	}
}

// printTurnAnnotations shows the links found in the latest turn.
func printTurnAnnotations(theme Theme, conv []models.AnnotatedTurn) {
	if len(conv) == 0 {
		return
	}

	last := conv[len(conv)-1]
	if last.Speaker != models.SpeakerUser {
		return
	}
	if len(last.Annotations) == 0 {
		fmt.Println(theme.hintStyle().Render("  no entities found"))
		return
	}

	for _, ann := range last.Annotations {
		fmt.Printf("  %s %s %s\n",
			theme.completedStyle().Render(ann.Mention),
			theme.hintStyle().Render("→"),
			ann.Entity)
	}
}
