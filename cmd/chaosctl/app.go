package main

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"

	"cluster-chaos/internal/chaos"
	"cluster-chaos/internal/cluster"
	"cluster-chaos/internal/cluster/sim"
	"cluster-chaos/internal/cluster/transport"
	"cluster-chaos/internal/config"
	"cluster-chaos/internal/faults"
	"cluster-chaos/internal/lock"
	"cluster-chaos/internal/logging"
	"cluster-chaos/internal/metrics"
	"cluster-chaos/internal/retry"
	"cluster-chaos/internal/stability"
	"cluster-chaos/internal/storage"
	"cluster-chaos/internal/tracing"
)

// app is everything a command needs, wired from config
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	metrics  *metrics.Metrics
	tracer   *tracing.Service
	client   cluster.Client
	store    *storage.Engine
	faults   *faults.Controller
	executor *chaos.Executor

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logging.NewLogger(&cfg.Logging),
		metrics: metrics.New(),
	}
	fail := func(err error) (*app, error) {
		a.Close(ctx)
		return nil, err
	}

	var err error
	a.tracer, err = tracing.NewService(cfg.Tracing)
	if err != nil {
		return fail(err)
	}

	a.client, err = connect(ctx, cfg.Cluster, a.logger)
	if err != nil {
		return fail(err)
	}
	if c, ok := a.client.(*transport.Client); ok {
		a.closers = append(a.closers, c.Close)
	}

	a.store, err = storage.NewEngine(storage.ConfigFromJournal(cfg.Journal))
	if err != nil {
		return fail(errors.Wrap(err, "open journal"))
	}
	a.closers = append(a.closers, a.store.Close)

	locker, err := lock.New(cfg.Lock)
	if err != nil {
		return fail(err)
	}
	if c, ok := locker.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	exec := retry.NewExecutor(
		retry.WithBackoff(cfg.Timeouts.RetryBackoff),
		retry.WithLogger(a.logger),
		retry.WithObserver(a.metrics),
	)
	a.faults = faults.NewController(a.client, exec,
		faults.WithJournal(faults.NewJournal(a.store)),
		faults.WithLogger(a.logger),
		faults.WithObserver(a.metrics),
		faults.WithRequestTimeout(cfg.Timeouts.Request),
	)
	validator := stability.NewValidator(a.client, exec,
		stability.WithLogger(a.logger),
		stability.WithObserver(a.metrics),
		stability.WithPollInterval(cfg.Timeouts.PollInterval),
		stability.WithRequestTimeout(cfg.Timeouts.Request),
	)

	a.executor = chaos.NewExecutor(a.client,
		chaos.WithRetry(exec),
		chaos.WithFaults(a.faults),
		chaos.WithValidator(validator),
		chaos.WithLocker(locker),
		chaos.WithLogger(a.logger),
		chaos.WithTracer(a.tracer),
		chaos.WithRecorder(a.metrics),
		chaos.WithTiming(chaos.TimingFromConfig(cfg)),
	)
	return a, nil
}

// connect returns the in-process simulated cluster or a gRPC client that
// has answered a health check.
func connect(ctx context.Context, cfg config.ClusterConfig, logger *logging.Logger) (cluster.Client, error) {
	if cfg.Simulated {
		logger.Info("Using simulated cluster", "nodes", cfg.SimNodeCount, "seed", cfg.Seed)
		return sim.NewDemo(cfg.SimNodeCount, cfg.Seed), nil
	}

	client, err := transport.Dial(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "cluster at %s is not reachable", cfg.Endpoint)
	}
	logger.Info("Connected to cluster", "endpoint", cfg.Endpoint)
	return client, nil
}

// Close releases the app's resources in reverse order of acquisition
func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Close failed", "error", err)
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Close(ctx); err != nil {
			a.logger.Warn("Tracer shutdown failed", "error", err)
		}
	}
}
