package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"shiftsync/internal/app"
)

func NewRunCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync service until interrupted",
		Long: `Provision storage, start the orchestration host, the health scheduler,
the optional metrics endpoint and the config watcher, then run until SIGINT
or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(cmd.Context(), opts)
		},
	}
}

func runService(parent context.Context, opts *RootOptions) error {
	a, err := app.New(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	if err := a.Start(parent); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}

	reason := app.StopUnknown
	select {
	case s := <-sigs:
		reason = app.StopSIGINT
		if s == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	case <-parent.Done():
	}

	fatal := a.Err()
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		return errors.Join(fatal, err)
	}
	return fatal
}

func NewProvisionCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Create the storage schema (idempotent)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			fmt.Fprintln(cmd.OutOrStdout(), "storage provisioned:", a.Settings().Storage.Driver)
			return nil
		},
	}
}
