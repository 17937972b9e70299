package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tillpoint/internal/cli"
	"github.com/Veraticus/tillpoint/internal/common"
	"github.com/Veraticus/tillpoint/internal/discovery"
)

func scanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [range]",
		Short: "Find payment terminals on the network",
		Long: `Probe an address range for payment terminals. The range is a CIDR block
(192.168.1.0/24), a span (192.168.1.10-192.168.1.50) or a single address.
Without a range the configured discovery.range is used, then the local /24.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runScan,
	}

	cmd.Flags().IntSlice("ports", nil, "ports to probe (default from discovery.ports)")
	cmd.Flags().String("api-key", "", "API key sent with each probe")

	return cmd
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	scanRange := loaded.Discovery.Range
	if len(args) == 1 {
		scanRange = args[0]
	}
	if scanRange == "" {
		local, ok := discovery.LocalNetworkRange()
		if !ok {
			return common.NewUserError("No range given and no local network detected", nil)
		}
		scanRange = local
	}

	addresses := discovery.ExpandRange(scanRange)
	if len(addresses) == 0 {
		return common.NewUserError(fmt.Sprintf("%q is not a valid address range", scanRange), nil)
	}

	ports, _ := cmd.Flags().GetIntSlice("ports")
	apiKey, _ := cmd.Flags().GetString("api-key")
	scanner := newScanner(ports, apiKey)

	if len(ports) == 0 {
		ports = loaded.Discovery.Ports
	}
	fmt.Println(cli.FormatScanTitle(fmt.Sprintf("Scanning %s (%d addresses)", scanRange, len(addresses)))) //nolint:forbidigo // User-facing output
	fmt.Println(cli.SubtitleStyle.Render(fmt.Sprintf("Ports %v", ports)))                                  //nolint:forbidigo // User-facing output

	progress := cli.NewScanProgress(os.Stderr, len(addresses))
	found := scanner.Scan(ctx, scanRange, progress.Update)
	progress.Finish()

	if ctx.Err() != nil {
		fmt.Println(cli.FormatWarning("Scan interrupted, showing partial results")) //nolint:forbidigo // User-facing output
	}
	if len(found) == 0 {
		fmt.Println(cli.InfoStyle.Render("No terminals found.")) //nolint:forbidigo // User-facing output
		return nil
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf("Found %d terminal(s)", len(found)))) //nolint:forbidigo // User-facing output
	return cli.RenderDiscovered(os.Stdout, found)
}
