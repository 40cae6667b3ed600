package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Payload is a box showing raw message text, such as a response received
// by "wbemd exec".
type Payload struct {
	Title    string
	Lines    []string
	Width    int
	MaxLines int // 0 = unlimited
}

// NewPayload creates a payload box for content. Carriage returns are
// dropped so CRLF text renders cleanly.
func NewPayload(title, content string) *Payload {
	content = strings.ReplaceAll(content, "\r", "")
	return &Payload{
		Title: title,
		Lines: strings.Split(strings.TrimRight(content, "\n"), "\n"),
		Width: GetTerminalWidth(),
	}
}

// SetWidth sets the terminal width for responsive rendering
func (p *Payload) SetWidth(width int) *Payload {
	p.Width = width
	return p
}

// SetMaxLines limits the number of lines displayed
func (p *Payload) SetMaxLines(n int) *Payload {
	p.MaxLines = n
	return p
}

// Render returns the styled box
func (p *Payload) Render() string {
	lines := p.Lines
	truncated := 0
	if p.MaxLines > 0 && len(lines) > p.MaxLines {
		truncated = len(lines) - p.MaxLines
		lines = lines[:p.MaxLines]
	}

	content := PayloadContentStyle.Render(strings.Join(lines, "\n"))
	if truncated > 0 {
		content += "\n" + StepNoteStyle.Render(fmt.Sprintf("... %d more lines", truncated))
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(MutedColor).
		Width(p.Width - 4).
		Padding(0, 1).
		Render(PayloadTitleStyle.Render(p.Title) + "\n" + content)
}

// String implements fmt.Stringer
func (p *Payload) String() string {
	return p.Render()
}
