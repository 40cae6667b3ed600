package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/wbemd/internal/discovery"
	"github.com/muurk/wbemd/internal/ui"
)

var discoverTimeout int

// discoverCmd finds WBEM servers on the local network
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find CIM-XML servers on the network",
	Long: `Find CIM-XML servers using mDNS/DNS-SD discovery.

Both the "_wbem._tcp" and "_wbems._tcp" service types are browsed. Each
server found is listed with its address, endpoint URL and the attributes of
its TXT record.`,
	Example: `  # Scan for 5 seconds (default)
  wbemd discover

  # Longer scan for busy networks
  wbemd discover --timeout 15`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().IntVar(&discoverTimeout, "timeout", int(discovery.DefaultScanTimeout/time.Second), "Scan timeout in seconds")

	rootCmd.AddCommand(discoverCmd)
}

func runDiscover(cmd *cobra.Command, args []string) error {
	printer := ui.NewPrinter(cmd.OutOrStdout())
	printer.PrintHeader("Discovery", "wbemd discover",
		ui.Detail{Key: "Timeout", Value: fmt.Sprintf("%ds", discoverTimeout)})

	services, err := discovery.Scan(cmd.Context(), time.Duration(discoverTimeout)*time.Second)
	if err != nil {
		printer.PrintError("Discovery failed", err,
			"Check that multicast traffic is allowed on this network",
			"Make sure a network interface is up")
		return err
	}

	if len(services) == 0 {
		printer.PrintWarning("No servers found",
			ui.Detail{Key: "Hint", Value: "Start a server with 'wbemd server --advertise'"},
			ui.Detail{Key: "Hint", Value: "Try increasing --timeout for slower networks"})
		return nil
	}

	sort.Slice(services, func(i, j int) bool {
		return services[i].URL() < services[j].URL()
	})
	for _, svc := range services {
		printer.PrintSuccess(svc.Instance, serviceDetails(svc)...)
	}
	printer.Newline()
	printer.Println(fmt.Sprintf("Found %d server(s). Use 'wbemd exec --host <ip> --port <port>' to send a request.", len(services)))
	return nil
}

func serviceDetails(svc *discovery.Service) []ui.Detail {
	details := []ui.Detail{
		{Key: "URL", Value: svc.URL()},
		{Key: "Hostname", Value: svc.Hostname},
	}
	keys := make([]string, 0, len(svc.Metadata))
	for k := range svc.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var attrs []string
	for _, k := range keys {
		attrs = append(attrs, k+"="+svc.Metadata[k])
	}
	if len(attrs) > 0 {
		details = append(details, ui.Detail{Key: "Attributes", Value: strings.Join(attrs, ", ")})
	}
	return details
}
