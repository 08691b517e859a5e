package cmd

import (
	"context"
	"io"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/orrn/thermal-spool/internal/core"
)

func probeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe <host[:port]>...",
		Short: "Check which printers accept a connection",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			timeout, _ := cmd.Flags().GetDuration("timeout")

			endpoints, err := parseEndpoints(args)
			if err != nil {
				return err
			}

			checker := core.NewReachabilityChecker(core.ConnectionOptions{ConnectTimeout: timeout}, nil, nil)
			statuses := checker.CheckAll(context.Background(), endpoints)
			renderStatuses(cmd.OutOrStdout(), statuses)
			return nil
		},
	}

	cmd.Flags().Duration("timeout", 2*time.Second, "connect timeout per printer")
	return cmd
}

func renderStatuses(w io.Writer, statuses []core.PrinterStatus) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Printer", "Port", "Name", "Status"})
	table.SetAutoFormatHeaders(false)

	for _, s := range statuses {
		state := color.RedString("unreachable")
		if s.Reachable {
			state = color.GreenString("reachable")
		}
		table.Append([]string{s.Endpoint.Host, strconv.Itoa(s.Endpoint.Port), s.Name, state})
	}
	table.Render()
}
