package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/raphaelgruber/pmchat/internal/models"
	"github.com/raphaelgruber/pmchat/internal/parser"
	"github.com/raphaelgruber/pmchat/internal/service"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	sendModel    string
	sendStats    bool
	sendNoReveal bool
	sendTimeout  time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <message...>",
	Short: "Send one message and print the reply",
	Long: `Send a message to a conversation, print the assistant's reply and execute any
project or task action it contains.

The reply is revealed word by word when stdout is a terminal.

Examples:
  pmchat send 42 "Create a project Atlas in the Eng workspace"
  pmchat send 42 What is due this week? --stats`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVarP(&sendModel, "model", "m", "", "model to answer with (default $PMCHAT_MODEL)")
	sendCmd.Flags().BoolVar(&sendStats, "stats", false, "print timing statistics afterwards")
	sendCmd.Flags().BoolVar(&sendNoReveal, "no-reveal", false, "print the reply at once")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 5*time.Minute, "give up after this long")
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
	defer cancel()

	model := sendModel
	if model == "" {
		model = cfg.Model
	}

	session, err := newSession(ctx, model)
	if err != nil {
		return err
	}
	go func() { _ = session.Run(context.Background()) }()
	defer session.Close()

	if err := session.Open(ctx, args[0]); err != nil {
		return err
	}
	clientID, _, err := session.Submit(ctx, strings.Join(args[1:], " "))
	if err != nil {
		return err
	}

	out := &replyPrinter{reveal: !sendNoReveal && term.IsTerminal(int(os.Stdout.Fd()))}
	err = awaitReply(ctx, session, clientID, out)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		_ = session.Stop(context.Background())
	}

	if sendStats {
		fmt.Println()
		if serr := writeYAML(os.Stdout, collector.Snapshot()); serr != nil {
			return serr
		}
	}
	return err
}

// awaitReply follows session snapshots until the reply to clientID has been
// presented and its directive, if any, has been dispatched.
func awaitReply(ctx context.Context, session *service.Session, clientID string, out *replyPrinter) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-session.Updates():
			if !ok {
				return service.ErrClosed
			}
			done, err := out.update(snap, clientID)
			if done || err != nil {
				return err
			}
		}
	}
}

// replyPrinter writes the reply to a sent message, progressively when reveal is set.
type replyPrinter struct {
	reveal  bool
	printed int
}

// update prints whatever the snapshot adds and reports whether the exchange is over.
func (p *replyPrinter) update(snap service.Snapshot, clientID string) (bool, error) {
	sent := -1
	for i, m := range snap.Messages {
		if m.ClientID == clientID {
			sent = i
			break
		}
	}
	if sent < 0 {
		if snap.InFlight > 0 {
			return false, nil
		}
		// The optimistic message was withdrawn: the send failed.
		if n := len(snap.Notices); n > 0 {
			return true, errors.New(snap.Notices[n-1].Message)
		}
		return true, errors.New("message was not sent")
	}

	var reply *models.Message
	for i := sent + 1; i < len(snap.Messages); i++ {
		if snap.Messages[i].Role == models.RoleAssistant {
			reply = &snap.Messages[i]
			break
		}
	}
	if reply == nil {
		return false, nil
	}

	if p.reveal && snap.Reveal.Key == reply.Ref().Key() {
		p.write(snap.Reveal.Text)
	}
	if snap.Revealing || snap.Dispatching > 0 {
		return false, nil
	}

	if !parser.IsDirectiveOnly(reply.Content) {
		p.write(reply.Content)
		fmt.Println()
	}
	if line := stampLine(*reply); line != "" {
		fmt.Println(defaultTheme.successStyle().Render("✓ " + line))
	}
	for _, n := range snap.Notices {
		if n.Kind == service.NoticeCreation {
			warn("%s", n.Message)
		}
	}
	return true, nil
}

// write prints the part of text not yet printed.
func (p *replyPrinter) write(text string) {
	if p.printed >= len(text) {
		return
	}
	fmt.Print(text[p.printed:])
	p.printed = len(text)
}
