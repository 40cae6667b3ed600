package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/wbemd/internal/client"
	"github.com/muurk/wbemd/internal/protocol"
	"github.com/muurk/wbemd/internal/secure"
	"github.com/muurk/wbemd/internal/transport"
	"github.com/muurk/wbemd/internal/ui"
)

// Exec command flags
var (
	execHost      string
	execPort      int
	execLocal     string
	execTLS       bool
	execInsecure  bool
	execCAFile    string
	execMPost     bool
	execURI       string
	execOperation string
	execMethod    string
	execObject    string
	execTimeout   int
	execRaw       bool
)

var execCmd = &cobra.Command{
	Use:   "exec [file]",
	Short: "Send a CIM-XML request to a server",
	Long: `Send a CIM-XML request and display the response.

The request body is read from the file argument or from stdin. A body that
already starts with an HTTP request line is sent unchanged; anything else is
wrapped in a POST (or M-POST) request with CIM operation headers.`,
	Example: `  # Send a request body to the local server
  wbemd exec request.xml

  # Over HTTPS, accepting a self-signed certificate
  wbemd exec --tls --insecure --port 5989 request.xml

  # Through the local domain socket using M-POST
  wbemd exec --local /var/run/wbemd/cimxml.socket --mpost < request.xml

  # Print only the raw response
  wbemd exec --raw request.xml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExec,
}

func init() {
	execCmd.Flags().StringVar(&execHost, "host", "localhost", "Server host name or address")
	execCmd.Flags().IntVar(&execPort, "port", 0, "Server port (default 5988, or 5989 with --tls)")
	execCmd.Flags().StringVar(&execLocal, "local", "", "Connect through a local domain socket instead of TCP")
	execCmd.Flags().BoolVar(&execTLS, "tls", false, "Use HTTPS")
	execCmd.Flags().BoolVar(&execInsecure, "insecure", false, "Skip server certificate verification")
	execCmd.Flags().StringVar(&execCAFile, "ca-file", "", "CA certificate file for server verification")
	execCmd.Flags().BoolVar(&execMPost, "mpost", false, "Send with M-POST and prefixed CIM headers")
	execCmd.Flags().StringVar(&execURI, "uri", "/cimom", "Request URI")
	execCmd.Flags().StringVar(&execOperation, "operation", "MethodCall", "CIMOperation header value")
	execCmd.Flags().StringVar(&execMethod, "method", "", "CIMMethod header value")
	execCmd.Flags().StringVar(&execObject, "object", "", "CIMObject header value")
	execCmd.Flags().IntVar(&execTimeout, "timeout", 30, "Request timeout in seconds")
	execCmd.Flags().BoolVar(&execRaw, "raw", false, "Print only the raw response")

	rootCmd.AddCommand(execCmd)
}

func runExec(cmd *cobra.Command, args []string) error {
	body, err := readInput(cmd, args)
	if err != nil {
		return err
	}

	target, err := execTarget()
	if err != nil {
		return err
	}

	host := target.Address()
	if target.Host == "" {
		host = "localhost"
	}
	request := body
	if !client.IsRawRequest(body) {
		request = client.Request{
			Host:      host,
			URI:       execURI,
			MPost:     execMPost,
			Operation: execOperation,
			Method:    execMethod,
			Object:    execObject,
			Body:      body,
		}.Build()
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(execTimeout)*time.Second)
	defer cancel()

	if execRaw {
		resp, err := send(ctx, target, request, nil)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(resp.Buffer)
		return err
	}

	var resp *protocol.Message
	runner := ui.NewRunner(ui.RunnerConfig{
		Title:   "CIM Request",
		Command: "wbemd exec",
		Params: []ui.Detail{
			{Key: "Target", Value: target.Address()},
			{Key: "Secure", Value: strconv.FormatBool(target.TLS != nil)},
			{Key: "Request", Value: fmt.Sprintf("%d bytes", len(request))},
		},
		StepNames:    []string{"Connecting", "Sending request", "Waiting for response"},
		Output:       cmd.OutOrStdout(),
		Troubleshoot: hintLines,
	})

	err = runner.Run(ctx, func(ctx context.Context, onStep ui.StepCallback) ([]ui.Detail, error) {
		var err error
		resp, err = send(ctx, target, request, onStep)
		if err != nil {
			return nil, err
		}
		summary, err := client.Summarize(resp)
		if err != nil {
			return nil, err
		}
		details := []ui.Detail{
			{Key: "Status", Value: fmt.Sprintf("%d %s", summary.StatusCode, summary.Reason)},
			{Key: "Body", Value: fmt.Sprintf("%d bytes", summary.BodyLength)},
		}
		if summary.CIMError != "" {
			details = append(details, ui.Detail{Key: "CIM error", Value: summary.CIMError})
		}
		if summary.CIMStatus != nil {
			details = append(details, ui.Detail{Key: "CIM status", Value: summary.CIMStatus.Text()})
		}
		return details, nil
	})
	if err != nil {
		return err
	}

	runner.Print(ui.NewPayload("Response", string(resp.Buffer)).SetWidth(ui.GetTerminalWidth()).Render())
	return nil
}

// send connects, sends request and returns the response, reporting each
// stage through onStep when it is set.
func send(ctx context.Context, target transport.Target, request []byte, onStep ui.StepCallback) (*protocol.Message, error) {
	step := func(n int, status ui.StepStatus) {
		if onStep != nil {
			onStep(n, status, "")
		}
	}

	step(1, ui.StepRunning)
	c, err := client.Dial(ctx, target)
	if err != nil {
		step(1, ui.StepFailed)
		return nil, err
	}
	defer c.Close()
	step(1, ui.StepComplete)

	// Do sends and waits in one call.
	step(2, ui.StepComplete)
	step(3, ui.StepRunning)
	resp, err := c.Do(ctx, request)
	if err != nil {
		step(3, ui.StepFailed)
		return nil, err
	}
	step(3, ui.StepComplete)
	return resp, nil
}

func execTarget() (transport.Target, error) {
	if execLocal != "" {
		return transport.Target{LocalPath: execLocal}, nil
	}

	target := transport.Target{Host: execHost, Port: execPort}
	if execTLS || execCAFile != "" {
		tlsConfig, err := secure.NewClientTLSConfig(execCAFile, execInsecure)
		if err != nil {
			return target, err
		}
		target.TLS = tlsConfig
	}
	if target.Port == 0 {
		target.Port = 5988
		if target.TLS != nil {
			target.Port = 5989
		}
	}
	return target, nil
}

func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 1 && args[0] != "-" {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return nil, fmt.Errorf("failed to read request: %w", err)
		}
		return data, nil
	}
	if f, ok := cmd.InOrStdin().(*os.File); ok && f == os.Stdin && ui.IsInteractive() {
		return nil, fmt.Errorf("no request given: pass a file or pipe the request on stdin")
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return nil, fmt.Errorf("failed to read request: %w", err)
	}
	return data, nil
}
