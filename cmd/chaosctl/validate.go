package main

import (
	"context"

	"github.com/spf13/cobra"

	"cluster-chaos/internal/chaos"
	"cluster-chaos/internal/stability"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Wait for a service, an application or the whole cluster to stabilize",
	Long: `Polls replica sets and health until every check passes or the timeout
expires. With neither --service nor --application the whole cluster is
validated.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

var recoverCmd = &cobra.Command{
	Use:   "recover-rules",
	Short: "Remove fault rules left behind by an interrupted run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		n, err := a.faults.RecoverOrphans(ctx, cfg.Timeouts.Request)
		cmd.Printf("removed %d orphaned fault rule(s)\n", n)
		return err
	},
}

func init() {
	rootCmd.AddCommand(validateCmd, recoverCmd)
	validateCmd.Flags().String("service", "", "service name")
	validateCmd.Flags().String("application", "", "application name")
	validateCmd.Flags().Duration("timeout", 0, "how long to wait (default from config)")
	validateCmd.Flags().Bool("skip-warnings", false, "do not treat health warnings as failures")
	validateCmd.MarkFlagsMutuallyExclusive("service", "application")
}

func runValidate(cmd *cobra.Command, args []string) error {
	service, _ := cmd.Flags().GetString("service")
	application, _ := cmd.Flags().GetString("application")
	skipWarnings, _ := cmd.Flags().GetBool("skip-warnings")

	checks := stability.DefaultChecks()
	checks.Warning = !skipWarnings
	timeouts := chaos.Timeouts{ActionTimeout: actionTimeout(cmd)}

	var action chaos.Action
	switch {
	case service != "":
		action = &chaos.ValidateService{Timeouts: timeouts, ServiceName: service, Checks: checks}
	case application != "":
		action = &chaos.ValidateApplication{Timeouts: timeouts, ApplicationName: application, Checks: checks}
	default:
		action = &chaos.ValidateCluster{Timeouts: timeouts, Checks: checks}
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	run, err := a.executor.Start(ctx, action)
	if err != nil {
		return err
	}
	_, runErr := run.Wait(ctx)
	if err := printStatus(cmd, run.Status()); err != nil {
		return err
	}
	return runErr
}
