// Package ui provides terminal output components for the wbemd CLI.
//
// The components use Lipgloss for styling and follow a "run once and
// exit" pattern: they render output but don't wait for interaction,
// except Confirm.
//
// # Components
//
//   - Header: command banner showing the operation and its parameters
//   - Progress: progress bar with a step list
//   - Result: success, failure or warning box with ordered details
//   - Payload: box with raw message text
//
// Runner combines them for commands made of several steps:
//
//	runner := ui.NewRunner(ui.RunnerConfig{
//	    Title:     "CIM Request",
//	    Command:   "wbemd exec",
//	    Params:    []ui.Detail{{Key: "Target", Value: "localhost:5988"}},
//	    StepNames: []string{"Connecting", "Sending request", "Waiting for response"},
//	})
//
//	err := runner.Run(ctx, func(ctx context.Context, onStep ui.StepCallback) ([]ui.Detail, error) {
//	    onStep(1, ui.StepRunning, "")
//	    // ... do work ...
//	    onStep(1, ui.StepComplete, "")
//	    return nil, nil
//	})
//
// # Logging Integration
//
// Logging is controlled by --log-level or WBEMD_LOG_LEVEL. When unset, zap
// logging is silent so the styled output is displayed cleanly.
package ui
