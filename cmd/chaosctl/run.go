package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cluster-chaos/internal/chaos"
)

var runCmd = &cobra.Command{
	Use:   "run KIND",
	Short: "Run one action and print its outcome",
	Example: `  chaosctl run InduceQuorumLoss --simulated \
    --param partition.service_name=fabric:/demo/store --param quorum_loss_duration=20s
  chaosctl run RestartNode --param node_name=node-2 --timeout 5m`,
	Args: cobra.ExactArgs(1),
	RunE: runAction,
}

var kindsCmd = &cobra.Command{
	Use:   "kinds",
	Short: "List the action kinds",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		kinds := chaos.DefaultRegistry().Kinds()
		sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
		for _, k := range kinds {
			fmt.Fprintln(cmd.OutOrStdout(), k)
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd, kindsCmd)
	runCmd.Flags().StringArray("param", nil, "action parameter as key=value; dotted keys nest")
	runCmd.Flags().String("params", "", "action parameters as a JSON object")
	runCmd.Flags().Duration("timeout", 0, "overall action timeout (default from config)")
}

func runAction(cmd *cobra.Command, args []string) error {
	raw, _ := cmd.Flags().GetString("params")
	pairs, _ := cmd.Flags().GetStringArray("param")
	params, err := parseParams(raw, pairs)
	if err != nil {
		return err
	}
	if d := actionTimeout(cmd); d > 0 {
		params["action_timeout"] = d.String()
	}

	action, err := chaos.Decode(chaos.Kind(args[0]), params)
	if err != nil {
		return err
	}

	// interrupting cancels the action; its fault rules are still removed
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	run, err := a.executor.Start(context.Background(), action)
	if err != nil {
		return err
	}
	go func() {
		select {
		case <-ctx.Done():
			run.Cancel()
		case <-run.Done():
		}
	}()

	_, runErr := run.Wait(context.Background())
	if err := printStatus(cmd, run.Status()); err != nil {
		return err
	}
	return runErr
}

func printStatus(cmd *cobra.Command, status chaos.RunStatus) error {
	out := struct {
		chaos.RunStatus
		Duration string `json:"duration,omitempty"`
	}{RunStatus: status}
	if status.FinishedAt != nil {
		out.Duration = status.FinishedAt.Sub(status.StartedAt).Round(time.Millisecond).String()
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
