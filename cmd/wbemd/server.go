package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/muurk/wbemd/internal/config"
	"github.com/muurk/wbemd/internal/logging"
	"github.com/muurk/wbemd/internal/server"
	"github.com/muurk/wbemd/internal/transport"
	"github.com/muurk/wbemd/internal/ui"
)

// Server command flags
var (
	listenAddress string
	httpPort      int
	httpsPort     int
	enableHTTPS   bool
	disableHTTP   bool
	enableLocal   bool
	socketPath    string
	certPath      string
	keyPath       string
	advertise     bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the CIM-XML server",
	Long: `Start the CIM-XML server and accept requests until interrupted.

Settings are read from the configuration file; flags override them for this
run only. Changes to the idle and write timeouts in the file are applied
while the server runs.

When HTTPS is enabled without --cert and --key, a self-signed certificate is
generated at startup.

On SIGINT or SIGTERM the server stops accepting connections and waits for
outstanding responses before exiting.`,
	Example: `  # Start with the configuration file settings (HTTP on port 5988)
  wbemd server

  # HTTP and HTTPS with a generated certificate
  wbemd server --https

  # HTTPS only with your own certificate
  wbemd server --no-http --https --cert server.pem --key server.key

  # Local domain socket alongside HTTP, announced over mDNS
  wbemd server --local --socket /tmp/cimxml.socket --advertise`,
	RunE: runServer,
}

func init() {
	serverCmd.Flags().StringVar(&listenAddress, "listen", "", "Address to listen on (empty = all addresses)")
	serverCmd.Flags().IntVar(&httpPort, "http-port", 5988, "HTTP port")
	serverCmd.Flags().IntVar(&httpsPort, "https-port", 5989, "HTTPS port")
	serverCmd.Flags().BoolVar(&enableHTTPS, "https", false, "Enable the HTTPS listener")
	serverCmd.Flags().BoolVar(&disableHTTP, "no-http", false, "Disable the HTTP listener")
	serverCmd.Flags().BoolVar(&enableLocal, "local", false, "Enable the local domain socket listener")
	serverCmd.Flags().StringVar(&socketPath, "socket", "", "Local domain socket path")
	serverCmd.Flags().StringVar(&certPath, "cert", "", "Path to TLS certificate file (optional, will auto-generate if not provided)")
	serverCmd.Flags().StringVar(&keyPath, "key", "", "Path to TLS private key file (optional, will auto-generate if not provided)")
	serverCmd.Flags().BoolVar(&advertise, "advertise", false, "Announce the server over mDNS")

	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	if (certPath != "") != (keyPath != "") {
		return fmt.Errorf("both --cert and --key must be provided together, or neither (will auto-generate)")
	}

	path, err := config.ResolvePath(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	applyServerFlags(cmd, cfg)

	// The configured level applies unless the flag or environment set one.
	if logLevel == "" && os.Getenv(logging.LogLevelEnvVar) == "" && cfg.LogLevel != "" {
		if err := logging.Initialize(cfg.LogLevel); err != nil {
			return err
		}
	}

	srv, err := server.New(cfg, path)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer srv.Close()

	printer := ui.NewPrinter(cmd.OutOrStdout())
	if err := srv.Bind(); err != nil {
		printer.PrintError("Server failed to start", err, hintLines(err)...)
		return err
	}

	var details []ui.Detail
	for _, a := range srv.Acceptors() {
		details = append(details, listenerDetail(a))
	}
	details = append(details, ui.Detail{Key: "Config", Value: path})
	printer.PrintSuccess("Server listening", details...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}

func applyServerFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.ListenAddress = listenAddress
	}
	if flags.Changed("http-port") {
		cfg.HTTPPort = httpPort
	}
	if flags.Changed("https-port") {
		cfg.HTTPSPort = httpsPort
	}
	if enableHTTPS {
		cfg.EnableHTTPS = true
	}
	if disableHTTP {
		cfg.EnableHTTP = false
	}
	if enableLocal {
		cfg.EnableLocal = true
	}
	if socketPath != "" {
		cfg.LocalSocketPath = socketPath
	}
	if certPath != "" {
		cfg.TLS.CertFile = certPath
		cfg.TLS.KeyFile = keyPath
	}
	if advertise {
		cfg.Advertise.Enabled = true
	}
}

func listenerDetail(a *transport.Acceptor) ui.Detail {
	cfg := a.Config()
	if cfg.Kind == transport.AddressLocal {
		return ui.Detail{Key: "Local", Value: cfg.LocalPath}
	}
	scheme := "HTTP"
	if cfg.TLS != nil {
		scheme = "HTTPS"
	}
	host := cfg.Host
	if host == "" {
		host = "*"
	}
	addr := net.JoinHostPort(host, strconv.Itoa(a.PortNumber()))
	return ui.Detail{Key: scheme, Value: addr + " (" + cfg.Kind.String() + ")"}
}

// hintLines lists the diagnosis and suggestions for err, one per line of
// a result box.
func hintLines(err error) []string {
	return transport.Hints(err)
}
