package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

// RunnerConfig describes a multi-step command
type RunnerConfig struct {
	Title     string   // Command title (e.g., "CIM Request")
	Command   string   // Full command (e.g., "wbemd exec")
	Params    []Detail // Parameters to display in header
	StepNames []string // Names for each step
	Output    io.Writer

	// Troubleshoot returns tips shown with a failure. Optional.
	Troubleshoot func(err error) []string
}

// Runner orchestrates header, step progress and result output for a
// command.
type Runner struct {
	config   RunnerConfig
	header   *Header
	progress *Progress
	output   io.Writer
	width    int
}

// NewRunner creates a new runner
func NewRunner(config RunnerConfig) *Runner {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	width := GetTerminalWidth()
	return &Runner{
		config:   config,
		header:   NewHeader(config.Title, config.Command, config.Params...).SetWidth(width),
		progress: NewProgress(config.StepNames...).SetWidth(width),
		output:   config.Output,
		width:    width,
	}
}

// Operation performs the command, reporting through onStep, and returns
// the details for the success box.
type Operation func(ctx context.Context, onStep StepCallback) ([]Detail, error)

// Run prints the header, executes op and prints the result box.
func (r *Runner) Run(ctx context.Context, op Operation) error {
	start := time.Now()

	_ = RenderOnce(r.output, r.header.Render()+"\n")

	details, err := op(ctx, r.onStep)
	duration := time.Since(start).Round(time.Millisecond).String()

	_, _ = fmt.Fprintln(r.output)
	result := NewSuccessResult(r.config.Title+" complete", details...)
	if err != nil {
		var hints []string
		if r.config.Troubleshoot != nil {
			hints = r.config.Troubleshoot(err)
		}
		result = NewFailureResult(r.config.Title+" failed", err, hints...)
	}
	_ = RenderOnce(r.output, result.AddDetail("Duration", duration).SetWidth(r.width).Render())
	return err
}

// Print writes extra content, such as a payload box, after the result.
func (r *Runner) Print(content string) {
	_ = RenderOnce(r.output, "\n"+content)
}

func (r *Runner) onStep(stepNumber int, status StepStatus, message string) {
	if stepNumber < 1 || stepNumber > r.progress.Total() {
		return
	}
	r.progress.UpdateStep(stepNumber, status, message)
	line := r.progress.line(r.progress.Steps[stepNumber-1])
	if status == StepRunning {
		// Overwritten when the step finishes
		_, _ = fmt.Fprint(r.output, line+"\r")
		return
	}
	_, _ = fmt.Fprintln(r.output, line)
}
