package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"shiftsync/internal/schedule"
)

func NewConnectionCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connection",
		Short: "Manage team connections",
	}
	cmd.AddCommand(newConnectionSetCommand(opts))
	cmd.AddCommand(newConnectionListCommand(opts))
	cmd.AddCommand(newConnectionEnableCommand(opts, "disable", false))
	cmd.AddCommand(newConnectionEnableCommand(opts, "enable", true))
	return cmd
}

func newConnectionSetCommand(opts *RootOptions) *cobra.Command {
	var (
		c        schedule.Connection
		disabled bool
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Create or update the connection of a team",
		Long: `Create or update the connection linking a destination team to a source
business unit. Run history of an existing connection is kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			c.Enabled = !disabled
			saved, err := a.Connections().Put(cmd.Context(), c)
			if err != nil {
				return err
			}
			return writeConnections(cmd, opts, []schedule.Connection{saved})
		},
	}
	cmd.Flags().StringVar(&c.TeamID, "team", "", "destination team id (required)")
	cmd.Flags().StringVar(&c.BusinessUnitID, "business-unit", "", "source business unit id (required)")
	cmd.Flags().StringVar(&c.TimeZone, "time-zone", "", "IANA time zone of the team (default UTC)")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "store the connection disabled")
	_ = cmd.MarkFlagRequired("team")
	_ = cmd.MarkFlagRequired("business-unit")
	return cmd
}

func newConnectionListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List team connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			conns, err := a.Connections().List(cmd.Context())
			if err != nil {
				return err
			}
			return writeConnections(cmd, opts, conns)
		},
	}
}

func newConnectionEnableCommand(opts *RootOptions, name string, enabled bool) *cobra.Command {
	var team string
	cmd := &cobra.Command{
		Use:   name,
		Short: name + " the connection of a team",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if err := a.Connections().SetEnabled(cmd.Context(), team, enabled); err != nil {
				return err
			}
			c, err := a.Connections().Get(cmd.Context(), team)
			if err != nil {
				return err
			}
			return writeConnections(cmd, opts, []schedule.Connection{c})
		},
	}
	cmd.Flags().StringVar(&team, "team", "", "destination team id (required)")
	_ = cmd.MarkFlagRequired("team")
	return cmd
}

func writeConnections(cmd *cobra.Command, opts *RootOptions, conns []schedule.Connection) error {
	return write(cmd.OutOrStdout(), opts.Format, conns, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "TEAM\tBUSINESS UNIT\tTIME ZONE\tENABLED\tLAST ROSTER")
		for _, c := range conns {
			last := "-"
			if t := c.LastRun(schedule.WorkflowEmployees); !t.IsZero() {
				last = t.Format(time.RFC3339)
			}
			tz := c.TimeZone
			if tz == "" {
				tz = "UTC"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", c.TeamID, c.BusinessUnitID, tz, c.Enabled, last)
		}
	})
}
