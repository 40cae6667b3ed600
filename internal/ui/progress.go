package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

type StepStatus int

const (
	StepPending StepStatus = iota
	StepRunning
	StepComplete
	StepFailed
	StepSkipped
)

// done reports whether the step counts towards the completed fraction.
func (s StepStatus) done() bool { return s == StepComplete || s == StepSkipped }

func (s StepStatus) look() (string, lipgloss.Style) {
	switch s {
	case StepRunning:
		return StepMarkerRunning, StepRunningStyle
	case StepComplete:
		return StepMarkerComplete, StepCompleteStyle
	case StepFailed:
		return FailureMarker, ErrorTitleStyle
	case StepSkipped:
		return StepMarkerSkipped, StepPendingStyle
	}
	return StepMarkerPending, StepPendingStyle
}

// Step is one line of a Progress. Message is shown in parentheses after
// the marker, e.g. "512 bytes".
type Step struct {
	Number  int
	Name    string
	Status  StepStatus
	Message string
}

// markerColumn is where step markers line up, counted from the step name.
const markerColumn = 40

// Progress is a numbered step list under a bubbles progress bar.
type Progress struct {
	Steps   []Step
	Current int
	Percent float64
	bar     progress.Model
}

func NewProgress(names ...string) *Progress {
	p := &Progress{Steps: make([]Step, 0, len(names))}
	for i, name := range names {
		p.Steps = append(p.Steps, Step{Number: i + 1, Name: name})
	}
	return p.SetWidth(GetTerminalWidth())
}

// SetWidth sizes the bar to leave room for the percentage and counter.
func (p *Progress) SetWidth(width int) *Progress {
	p.bar = progress.New(progress.WithDefaultGradient(), progress.WithWidth(min(max(width-20, 20), 50)))
	return p
}

func (p *Progress) Total() int { return len(p.Steps) }

// UpdateStep records a status change. Numbers outside 1..Total are ignored.
func (p *Progress) UpdateStep(n int, status StepStatus, message string) {
	if n < 1 || n > len(p.Steps) {
		return
	}
	p.Steps[n-1].Status, p.Steps[n-1].Message = status, message
	if status == StepRunning {
		p.Current = n
		return
	}

	var finished int
	for _, s := range p.Steps {
		if s.Status.done() {
			finished++
		}
	}
	p.Percent = float64(finished) / float64(len(p.Steps))
}

func (p *Progress) Render() string {
	lines := make([]string, 0, len(p.Steps)+2)
	lines = append(lines, "  "+fmt.Sprintf("%s  %3.0f%%  [%d/%d]", p.bar.ViewAs(p.Percent), p.Percent*100, p.Current, len(p.Steps)), "")
	for _, s := range p.Steps {
		lines = append(lines, p.line(s))
	}
	return strings.Join(lines, "\n")
}

// line renders a step as "  [2/3] Sending request      ✓  (512 bytes)".
func (p *Progress) line(s Step) string {
	marker, style := s.Status.look()
	gap := strings.Repeat(" ", max(markerColumn-lipgloss.Width(s.Name), 1))

	out := fmt.Sprintf("  [%d/%d] %s%s%s", s.Number, len(p.Steps), style.Render(s.Name), gap, style.Render(marker))
	if s.Message != "" {
		out += "  " + StepNoteStyle.Render("("+s.Message+")")
	}
	return out
}

func (p *Progress) String() string { return p.Render() }

// StepCallback is how an Operation reports step changes to its Runner.
type StepCallback func(n int, status StepStatus, message string)
