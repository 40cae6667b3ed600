package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type ResultType int

const (
	ResultSuccess ResultType = iota
	ResultFailure
	ResultWarning
)

// resultLook is how each ResultType is drawn.
var resultLook = map[ResultType]struct {
	label  string
	marker string
	title  lipgloss.Style
	border lipgloss.Color
}{
	ResultSuccess: {"SUCCESS", SuccessMarker, SuccessTitleStyle, SuccessColor},
	ResultFailure: {"FAILED", FailureMarker, ErrorTitleStyle, ErrorColor},
	ResultWarning: {"WARNING", WarningMarker, WarningTitleStyle, WarningColor},
}

// Detail is one "Key: value" line. Details render in the order given.
type Detail struct {
	Key   string
	Value string
}

// Result is the double-bordered box that closes a command's output.
// Failures carry the error and optional troubleshooting hints.
type Result struct {
	Type            ResultType
	Title           string
	Details         []Detail
	Error           error
	Troubleshooting []string
	Width           int
}

func newResult(t ResultType, title string) *Result {
	return &Result{Type: t, Title: title, Width: GetTerminalWidth()}
}

func NewSuccessResult(title string, details ...Detail) *Result {
	r := newResult(ResultSuccess, title)
	r.Details = details
	return r
}

func NewWarningResult(title string, details ...Detail) *Result {
	r := newResult(ResultWarning, title)
	r.Details = details
	return r
}

func NewFailureResult(title string, err error, hints ...string) *Result {
	r := newResult(ResultFailure, title)
	r.Error = err
	r.Troubleshooting = hints
	return r
}

func (r *Result) SetWidth(width int) *Result {
	r.Width = width
	return r
}

func (r *Result) AddDetail(key, value string) *Result {
	r.Details = append(r.Details, Detail{Key: key, Value: value})
	return r
}

func (r *Result) Render() string {
	width := max(r.Width, MinTerminalWidth)
	look, ok := resultLook[r.Type]
	if !ok {
		look = resultLook[ResultSuccess]
	}

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(look.title.Render(fmt.Sprintf("   %s  %s  ─  %s", look.marker, look.label, r.Title)))
	b.WriteString("\n\n")

	for _, d := range r.Details {
		b.WriteString(ResultKeyStyle.Render("   "+d.Key+":") + " " + ResultValueStyle.Render(d.Value) + "\n")
	}
	if len(r.Details) > 0 {
		b.WriteString("\n")
	}
	if r.Error != nil {
		b.WriteString(ErrorMessageStyle.Render("   Error: "+r.Error.Error()) + "\n\n")
	}
	if len(r.Troubleshooting) > 0 {
		b.WriteString(renderHints(r.Troubleshooting, width) + "\n\n")
	}

	return boxStyle(width, look.border).Render(strings.TrimSuffix(b.String(), "\n"))
}

func renderHints(hints []string, width int) string {
	lines := make([]string, 0, len(hints)+2)
	lines = append(lines, TroubleshootingTitleStyle.Render("Troubleshooting:"), "")
	for _, h := range hints {
		lines = append(lines, TroubleshootingItemStyle.Render("  • "+h))
	}
	return TroubleshootingBoxStyle(width).Render(strings.Join(lines, "\n"))
}

func (r *Result) String() string { return r.Render() }
