package ui

import (
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
)

// frame is a Bubble Tea model that shows fixed content and quits on its
// first update.
type frame string

func (f frame) Init() tea.Cmd                       { return tea.Quit }
func (f frame) Update(tea.Msg) (tea.Model, tea.Cmd) { return f, tea.Quit }
func (f frame) View() string                        { return string(f) }

// RenderOnce prints content followed by a newline. On a terminal it goes
// through a Bubble Tea program so styling matches the terminal's color
// profile; any other writer receives the text as is.
func RenderOnce(w io.Writer, content string) error {
	if w == nil {
		w = os.Stdout
	}
	f, ok := w.(*os.File)
	if !ok || !isTerminal(f) {
		_, err := fmt.Fprintln(w, content)
		return err
	}
	_, err := tea.NewProgram(frame(content),
		tea.WithOutput(w),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	).Run()
	return err
}

// Printer writes headers and result boxes for commands that do not need a
// step runner.
type Printer struct {
	out   io.Writer
	width int
}

// NewPrinter returns a Printer for w, or for stdout when w is nil.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{out: w, width: GetTerminalWidth()}
}

func (p *Printer) Width() int { return p.width }

func (p *Printer) Println(content string) {
	_ = RenderOnce(p.out, content)
}

func (p *Printer) Newline() {
	_, _ = fmt.Fprintln(p.out)
}

func (p *Printer) PrintHeader(title, command string, params ...Detail) {
	p.Println(NewHeader(title, command, params...).SetWidth(p.width).Render())
	p.Newline()
}

func (p *Printer) PrintSuccess(title string, details ...Detail) {
	p.result(NewSuccessResult(title, details...))
}

func (p *Printer) PrintWarning(title string, details ...Detail) {
	p.result(NewWarningResult(title, details...))
}

// PrintError prints a failure box for err, listing hints beneath it.
func (p *Printer) PrintError(title string, err error, hints ...string) {
	p.result(NewFailureResult(title, err, hints...))
}

func (p *Printer) result(r *Result) {
	p.Println(r.SetWidth(p.width).Render())
}
