package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ent0n29/runcoach/internal/coach"
)

var chatClient string

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Talk to the coach from the terminal",
	Long: `Send one message when an argument is given, otherwise start an
interactive session reading lines from stdin. Type /reset to wipe the
session and /quit to leave.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatClient, "client", "c", "cli", "Client id")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	res, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(res)

	out := cmd.OutOrStdout()
	if len(args) > 0 {
		return chatTurn(ctx, out, res.Orchestrator, chatClient, strings.Join(args, " "))
	}

	fmt.Fprintf(out, "runcoach %s, client %q. /reset wipes the session, /quit exits.\n", Version, chatClient)
	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			resp, err := res.Resetter.Reset(ctx, chatClient)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "session reset (%d messages, %d plans deleted)\n", resp.MessagesDeleted, resp.PlansDeleted)
			continue
		}
		if err := chatTurn(ctx, out, res.Orchestrator, chatClient, line); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

func chatTurn(ctx context.Context, out io.Writer, o *coach.Orchestrator, clientID, text string) error {
	var streamed strings.Builder
	result, err := o.HandleTurnStream(ctx, clientID, text, func(delta string) error {
		streamed.WriteString(delta)
		_, err := io.WriteString(out, delta)
		return err
	})
	if err != nil {
		return err
	}
	// Failure replies and the fallback explanation are never streamed.
	if strings.TrimSpace(streamed.String()) != strings.TrimSpace(result.Reply) {
		if streamed.Len() > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprint(out, result.Reply)
	}
	fmt.Fprintln(out)
	if result.PlanUpdated {
		fmt.Fprintf(out, "[plan updated to version %d: %d weeks]\n", result.Version, result.Plan.Weeks.Len())
	}
	return nil
}
