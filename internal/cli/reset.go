package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"shiftsync/internal/schedule"
)

func NewResetCommand(opts *RootOptions) *cobra.Command {
	var team, kind, period string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop the saved state of one team, kind and period",
		Long: `Drop the saved snapshot of one (team, kind, period). The next cycle
reclassifies every record of that period, including ones previously skipped.

The period is the first day of the week (YYYY-MM-DD) in the team's time
zone. Availability has no weeks; its period is ignored.`,
		Example: `  shiftsync reset --team team-north --kind shifts --period 2026-10-19
  shiftsync reset --team team-north --kind availability`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := schedule.ParseEntityKind(kind)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --kind", err)
			}
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			conn, err := a.Connections().Get(cmd.Context(), team)
			if err != nil {
				return err
			}
			p := schedule.Standing
			if k.Periodic() {
				if p, err = schedule.ParsePeriod(period, conn.Location()); err != nil {
					return WrapExitError(ExitCommandError, "invalid --period", err)
				}
			}
			if err := a.Workflows().Reset(cmd.Context(), conn.TeamID, k, p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %s %s %s\n", conn.TeamID, k, p.Key())
			return nil
		},
	}
	cmd.Flags().StringVar(&team, "team", "", "destination team id (required)")
	cmd.Flags().StringVar(&kind, "kind", "", "entity kind: shifts|openshifts|timeoff|availability (required)")
	cmd.Flags().StringVar(&period, "period", "", "first day of the week, YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("team")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}
