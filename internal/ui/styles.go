package ui

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	PrimaryColor = lipgloss.Color("#5A8DEE")
	SuccessColor = lipgloss.Color("#3FB950")
	ErrorColor   = lipgloss.Color("#F85149")
	WarningColor = lipgloss.Color("#D29922")
	MutedColor   = lipgloss.Color("#6E7681")
	TextColor    = lipgloss.Color("#E6EDF3")
)

// Rendered boxes never get narrower than MinTerminalWidth nor wider than
// MaxContentWidth, whatever the terminal reports.
const (
	MinTerminalWidth = 60
	MaxContentWidth  = 100

	fallbackHeight = 24
)

func fg(c lipgloss.Color) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }

func bold(c lipgloss.Color) lipgloss.Style { return fg(c).Bold(true) }

func indented(c lipgloss.Color) lipgloss.Style { return fg(c).PaddingLeft(2) }

var (
	HeaderTitleStyle      = bold(TextColor).PaddingLeft(2)
	HeaderCommandStyle    = indented(MutedColor)
	HeaderParamKeyStyle   = indented(MutedColor)
	HeaderParamValueStyle = fg(TextColor)

	StepCompleteStyle = fg(SuccessColor)
	StepRunningStyle  = fg(WarningColor)
	StepPendingStyle  = fg(MutedColor)
	StepNoteStyle     = fg(MutedColor).Italic(true)

	SuccessTitleStyle = bold(SuccessColor)
	ErrorTitleStyle   = bold(ErrorColor)
	WarningTitleStyle = bold(WarningColor)
	ErrorMessageStyle = fg(ErrorColor)

	// Keys are padded so that values line up in a column.
	ResultKeyStyle   = fg(MutedColor).Width(18)
	ResultValueStyle = fg(TextColor)

	TroubleshootingTitleStyle = bold(MutedColor)
	TroubleshootingItemStyle  = fg(MutedColor)

	PayloadTitleStyle   = bold(MutedColor)
	PayloadContentStyle = fg(TextColor)
)

const (
	StepMarkerComplete = "✓"
	StepMarkerRunning  = "●"
	StepMarkerPending  = "·"
	StepMarkerSkipped  = "⊘"
	SuccessMarker      = StepMarkerComplete
	FailureMarker      = "✗"
	WarningMarker      = "⚠"
)

// GetTerminalWidth returns the width of stdout, clamped.
func GetTerminalWidth() int {
	w, _ := GetTerminalSize()
	return w
}

// GetTerminalSize returns the clamped width and the height of stdout. When
// stdout is not a terminal the minimum width is reported.
func GetTerminalSize() (width, height int) {
	w, h, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return MinTerminalWidth, fallbackHeight
	}
	return clampWidth(w), h
}

func clampWidth(width int) int {
	return max(MinTerminalWidth, min(width, MaxContentWidth))
}

func boxStyle(width int, color lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(color).
		Padding(0, 2).
		Width(width - 2)
}

// TroubleshootingBoxStyle is the inset box listing hints inside a result.
func TroubleshootingBoxStyle(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(MutedColor).
		MarginLeft(3).
		Padding(0, 1).
		Width(max(width-12, 40))
}

func RenderHorizontalDivider(width int) string {
	return fg(PrimaryColor).Render(strings.Repeat("─", width))
}
