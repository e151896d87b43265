package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"cluster-chaos/internal/config"
	"cluster-chaos/internal/logging"
)

var (
	cfgPath   string
	endpoint  string
	simulated bool
	logLevel  string
	env       string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "chaosctl",
	Short: "Fault injection against a replicated cluster",
	Long: `chaosctl drives chaos actions (quorum loss, data loss, primary moves,
node and replica restarts) against a cluster and validates that it
stabilizes afterwards. Actions run in-process or behind the HTTP API.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		loaded, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if env == "" {
			env = os.Getenv("CHAOS_ENV")
		}
		logging.SetupEnvironmentLogging(loaded, env)
		if flags.Changed("endpoint") {
			loaded.Cluster.Endpoint = endpoint
		}
		if flags.Changed("simulated") {
			loaded.Cluster.Simulated = simulated
		}
		if flags.Changed("log-level") {
			loaded.Logging.Level = logLevel
		}
		cfg = loaded
		return nil
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", "", "cluster gRPC endpoint")
	rootCmd.PersistentFlags().BoolVar(&simulated, "simulated", false, "run against an in-process simulated cluster")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&env, "env", "", "logging preset: development, staging, production or test")
}

// actionTimeout is the --timeout flag shared by run and validate
func actionTimeout(cmd *cobra.Command) time.Duration {
	d, _ := cmd.Flags().GetDuration("timeout")
	return d
}
