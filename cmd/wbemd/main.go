// Wbemd is a CIM-XML over HTTP server and client.
//
// It runs the transport engine that CIM operation servers are built on:
// listeners for HTTP, HTTPS and a local socket, a readiness monitor
// driving every connection, chunked response framing and an mDNS
// announcement of the service. The exec and discover commands act as a
// client against any CIM-XML server.
//
// Usage:
//
//	wbemd [command] [flags]
//
// See 'wbemd --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/wbemd/internal/logging"
	"github.com/muurk/wbemd/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "wbemd:", err)
		os.Exit(1)
	}
}

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "wbemd",
	Short: "CIM-XML over HTTP server and client",
	Long: `A CIM-XML over HTTP transport server and client.

The server accepts CIM operation requests over HTTP, HTTPS and a local
domain socket and answers them through its built-in responder. The client
commands send requests to any CIM-XML server and discover servers that
announce themselves over mDNS.

Logging is silent unless --log-level or WBEMD_LOG_LEVEL is set.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Initialize(logLevel)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	rootCmd.SetVersionTemplate("{{.Name}} " + version.Full() + "\n")

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (default: $XDG_CONFIG_HOME/wbemd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version, commit and server token",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %s\n", version.ProductName, version.Full())
		fmt.Fprintf(out, "User-Agent: %s\n", version.Token())
		fmt.Fprintf(out, "CIM protocol: %s\n", version.CIMProtocolVersion)
	},
}
