package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func NewTickCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one health-scheduler tick and wait for the instances it started",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			rep, err := a.RunTick(cmd.Context())
			if err != nil {
				return err
			}
			return write(cmd.OutOrStdout(), opts.Format, rep, func(tw *tabwriter.Writer) {
				fmt.Fprintf(tw, "connections\t%d\n", rep.Connections)
				fmt.Fprintf(tw, "due\t%d\n", rep.Due)
				fmt.Fprintf(tw, "started\t%d\n", rep.Started)
				fmt.Fprintf(tw, "terminated\t%d\n", rep.Terminated)
				fmt.Fprintf(tw, "healthy\t%d\n", rep.Healthy)
				fmt.Fprintf(tw, "stuck\t%d\n", rep.Stuck)
				fmt.Fprintf(tw, "deferred\t%d\n", rep.Deferred)
				fmt.Fprintf(tw, "rejected\t%d\n", rep.Rejected)
				fmt.Fprintf(tw, "took\t%s\n", rep.Duration)
			})
		},
	}
}
