package cli

import (
	"context"
	"fmt"
	"strings"

	"charm.land/bubbles/v2/spinner"
	"charm.land/bubbles/v2/textinput"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/pmchat/internal/models"
	"github.com/raphaelgruber/pmchat/internal/parser"
	"github.com/raphaelgruber/pmchat/internal/service"
	"github.com/spf13/cobra"
)

var chatModelID string

var chatCmd = &cobra.Command{
	Use:   "chat <conversation-id>",
	Short: "Open a conversation interactively",
	Long: `Open a conversation in an interactive view. New replies are revealed word by
word and proposed projects and tasks are created once.

Keys:
  enter   send the message
  esc     stop waiting for a reply
  ctrl+l  dismiss notices
  ctrl+c  quit`,
	Args: cobra.ExactArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatModelID, "model", "m", "", "model to answer with (default $PMCHAT_MODEL)")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	model := chatModelID
	if model == "" {
		model = cfg.Model
	}

	session, err := newSession(ctx, model)
	if err != nil {
		return err
	}
	go func() { _ = session.Run(ctx) }()
	defer session.Close()

	if err := session.Open(ctx, args[0]); err != nil {
		return err
	}

	p := tea.NewProgram(newChatModel(ctx, session, args[0]))
	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("chat UI error: %w", err)
	}
	if m, ok := finalModel.(chatModel); ok && m.err != nil {
		return m.err
	}
	return nil
}

// snapshotMsg carries a new session state.
type snapshotMsg service.Snapshot

// sessionClosedMsg is sent when the session stops publishing.
type sessionClosedMsg struct{}

// submitErrMsg reports a message that could not be submitted.
type submitErrMsg struct{ err error }

// chatModel is the bubbletea model for an open conversation.
type chatModel struct {
	ctx     context.Context
	session *service.Session
	title   string

	snap  service.Snapshot
	input textinput.Model
	spin  spinner.Model
	theme Theme

	width  int
	height int
	err    error
}

func newChatModel(ctx context.Context, session *service.Session, title string) chatModel {
	in := textinput.New()
	in.Placeholder = "Ask about your projects"
	in.Prompt = "> "
	in.Focus()

	return chatModel{
		ctx:     ctx,
		session: session,
		title:   title,
		input:   in,
		spin:    spinner.New(spinner.WithSpinner(spinner.Dot)),
		theme:   defaultTheme,
	}
}

// Init starts the spinner and listens for session updates.
func (m chatModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.waitForSnapshot())
}

// Update handles messages and returns the updated model.
func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "esc":
			return m, m.stop()
		case "ctrl+l":
			return m, m.dismiss()
		case "enter":
			content := strings.TrimSpace(m.input.Value())
			if content == "" {
				return m, nil
			}
			m.input.Reset()
			return m, m.submit(content)
		}

	case snapshotMsg:
		m.snap = service.Snapshot(msg)
		return m, m.waitForSnapshot()

	case sessionClosedMsg:
		return m, tea.Quit

	case submitErrMsg:
		m.err = msg.err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the conversation.
func (m chatModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m chatModel) renderContent() string {
	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Render("Conversation " + m.title))
	b.WriteString("\n\n")

	var lines []string
	for _, msg := range m.snap.Messages {
		lines = append(lines, m.renderMessage(msg)...)
		lines = append(lines, "")
	}
	if m.height > 0 {
		// header, status, input and hint take about eight rows
		if room := m.height - 8; room > 0 && len(lines) > room {
			lines = lines[len(lines)-room:]
		}
	}
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n")

	for _, n := range m.snap.Notices {
		b.WriteString(m.theme.errorStyle().Render("! "+n.Message) + "\n")
	}

	switch {
	case m.snap.InFlight > 0:
		b.WriteString(m.spin.View() + " waiting for reply\n")
	case m.snap.Dispatching > 0:
		b.WriteString(m.spin.View() + " creating\n")
	default:
		b.WriteString("\n")
	}

	b.WriteString(m.input.View() + "\n")
	b.WriteString(m.theme.hintStyle().Render("enter send · esc stop · ctrl+l dismiss · ctrl+c quit"))
	b.WriteString("\n")
	return b.String()
}

func (m chatModel) renderMessage(msg models.Message) []string {
	header := m.theme.roleStyle(msg.Role).Render(string(msg.Role))
	if msg.Pending && msg.Role == models.RoleUser {
		header += " " + m.theme.hintStyle().Render("sending")
	}

	text := msg.Content
	if m.snap.Reveal.Key != "" && m.snap.Reveal.Key == msg.Ref().Key() {
		text = m.snap.Reveal.Text
	} else if parser.IsDirectiveOnly(msg.Content) {
		text = m.theme.hintStyle().Render(proposal(msg.Content))
	}

	body := text
	if m.width > 4 {
		body = lipgloss.NewStyle().Width(m.width - 4).Render(text)
	}

	out := []string{header, indent(body, "  ")}
	if line := stampLine(msg); line != "" {
		out = append(out, "  "+m.theme.successStyle().Render("✓ "+line))
	}
	return out
}

// proposal summarizes a directive-only reply.
func proposal(content string) string {
	d, ok := parser.ParseDirective(content)
	if !ok {
		return content
	}
	return fmt.Sprintf("proposed %s %q", strings.ReplaceAll(string(d.Action), "_", " "), d.Name())
}

func (m chatModel) waitForSnapshot() tea.Cmd {
	updates := m.session.Updates()
	return func() tea.Msg {
		snap, ok := <-updates
		if !ok {
			return sessionClosedMsg{}
		}
		return snapshotMsg(snap)
	}
}

func (m chatModel) submit(content string) tea.Cmd {
	return func() tea.Msg {
		if _, _, err := m.session.Submit(m.ctx, content); err != nil {
			return submitErrMsg{err: fmt.Errorf("send message: %w", err)}
		}
		return nil
	}
}

func (m chatModel) stop() tea.Cmd {
	return func() tea.Msg {
		_ = m.session.Stop(m.ctx)
		return nil
	}
}

func (m chatModel) dismiss() tea.Cmd {
	return func() tea.Msg {
		_ = m.session.DismissNotices(m.ctx)
		return nil
	}
}
