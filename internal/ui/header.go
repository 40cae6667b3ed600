package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Header is the box printed above a command's output: an upper-cased
// title, the command line, and optionally the parameters it runs with.
type Header struct {
	Title   string
	Command string
	Params  []Detail
	Width   int
}

func NewHeader(title, command string, params ...Detail) *Header {
	return &Header{Title: title, Command: command, Params: params, Width: GetTerminalWidth()}
}

func (h *Header) SetWidth(width int) *Header {
	h.Width = width
	return h
}

func (h *Header) Render() string {
	width := max(h.Width, MinTerminalWidth)

	parts := []string{
		HeaderTitleStyle.Render(strings.ToUpper(h.Title)),
		HeaderCommandStyle.Render(h.Command),
	}
	if len(h.Params) > 0 {
		// border plus padding on both sides
		parts = append(parts, RenderHorizontalDivider(max(width-6, 10)))
		for _, p := range h.Params {
			parts = append(parts, HeaderParamKeyStyle.Render(p.Key+":")+" "+HeaderParamValueStyle.Render(p.Value))
		}
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(PrimaryColor).
		Width(width - 2).
		Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func (h *Header) String() string { return h.Render() }
