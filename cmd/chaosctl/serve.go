package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"cluster-chaos/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the action API over HTTP",
	Long: `Starts the chaos engine behind a JSON API. Fault rules left behind by a
previous run of this process are removed before the listener opens.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntP("port", "p", 0, "port to listen on (overrides api.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	if n, err := a.faults.RecoverOrphans(ctx, cfg.Timeouts.Request); err != nil {
		a.logger.Warn("Orphan rule recovery incomplete", "removed", n, "error", err)
	} else if n > 0 {
		a.logger.Info("Removed orphaned fault rules", "count", n)
	}

	opts := []api.Option{api.WithHistory(api.NewHistory(a.store, a.logger))}
	if cfg.Metrics.Enabled {
		opts = append(opts, api.WithMetrics(cfg.Metrics.Path, a.metrics.Handler()))
	}
	handler := api.NewRESTHandler(a.executor, a.logger, opts...)

	port := cfg.API.Port
	if p, _ := cmd.Flags().GetInt("port"); p != 0 {
		port = p
	}
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.API.Host, port),
		Handler:      handler.SetupRoutes(),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		a.logger.Info("Starting chaos API", "address", srv.Addr)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "chaos API")

	case sig := <-shutdown:
		a.logger.Info("Shutting down", "signal", sig.String())

		// running actions are cancelled so their fault rules come off
		for _, run := range a.executor.Runs() {
			run.Cancel()
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		for _, run := range a.executor.Runs() {
			if _, err := run.Wait(ctx); errors.Is(err, context.DeadlineExceeded) {
				a.logger.Warn("Action did not stop in time", "action_id", run.ID, "kind", run.Kind)
			}
		}

		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Warn("Graceful shutdown did not complete", "error", err)
			return srv.Close()
		}
		a.logger.Info("Chaos API stopped")
		return nil
	}
}
