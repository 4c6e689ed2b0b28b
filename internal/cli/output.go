package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/pmchat/internal/models"
	"gopkg.in/yaml.v3"
)

const (
	formatText = "text"
	formatYAML = "yaml"
)

func checkFormat(format string) error {
	switch format {
	case formatText, formatYAML:
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want text or yaml)", format)
	}
}

// writeYAML encodes v with two-space indentation.
func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

// Theme holds the color scheme for terminal output.
type Theme struct {
	User      lipgloss.Color
	Assistant lipgloss.Color
	Success   lipgloss.Color
	Error     lipgloss.Color
	Hint      lipgloss.Color
}

var defaultTheme = Theme{
	User:      lipgloss.Color("#5FAFD7"), // light blue
	Assistant: lipgloss.Color("#D7AF87"), // tan
	Success:   lipgloss.Color("#00D787"), // green
	Error:     lipgloss.Color("#FF005F"), // red
	Hint:      lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) roleStyle(r models.Role) lipgloss.Style {
	if r == models.RoleUser {
		return lipgloss.NewStyle().Foreground(t.User).Bold(true)
	}
	return lipgloss.NewStyle().Foreground(t.Assistant).Bold(true)
}

func (t Theme) successStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// stampLine describes the entity a message's directive produced.
func stampLine(m models.Message) string {
	if !m.Stamped() {
		return ""
	}
	return fmt.Sprintf("created %s %s", m.CreatedEntityKind, m.CreatedEntityID)
}

// printMessage renders one message for non-interactive output.
func printMessage(m models.Message) {
	fmt.Printf("%s  %s\n", defaultTheme.roleStyle(m.Role).Render(string(m.Role)),
		defaultTheme.hintStyle().Render(m.CreatedAt.Local().Format("2006-01-02 15:04")))
	fmt.Println(indent(m.Content, "  "))
	if line := stampLine(m); line != "" {
		fmt.Println("  " + defaultTheme.successStyle().Render("✓ "+line))
	}
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

func warn(format string, args ...any) {
	fmt.Fprintln(os.Stderr, defaultTheme.errorStyle().Render(fmt.Sprintf(format, args...)))
}
