package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"cluster-chaos/internal/cluster/sim"
	"cluster-chaos/internal/cluster/transport"
)

func main() {
	var (
		listen   string
		nodes    int
		seed     int64
		logLevel string
	)
	flag.StringVar(&listen, "listen", "localhost:19000", "gRPC listen address")
	flag.IntVar(&nodes, "nodes", 5, "number of simulated nodes")
	flag.Int64Var(&seed, "seed", 1, "seed for replica placement")
	flag.StringVar(&logLevel, "log-level", "info", "log level")
	flag.Usage = printUsage
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(logLevel); err == nil {
		logger.SetLevel(level)
	}

	backend := sim.NewDemo(nodes, seed)
	srv := transport.NewServer(backend, logger)

	lis, err := net.Listen("tcp", listen)
	if err != nil {
		logger.WithError(err).Fatal("Failed to listen")
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		srv.Stop()
	}()

	logger.WithFields(logrus.Fields{
		"nodes": backend.NodeNames(),
		"seed":  seed,
	}).Info("Simulated cluster ready")

	if err := srv.Serve(lis); err != nil {
		logger.WithError(err).Fatal("Cluster server failed")
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Simulated cluster

Serves an in-memory cluster (application fabric:/demo with a persisted
stateful service, a volatile stateful service and a stateless service)
over gRPC, so chaosctl can be exercised without a real cluster.

Usage:
  %s [options]

Options:
`, os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Example:
  %s -listen :19000 -nodes 7
  chaosctl --endpoint localhost:19000 run RestartPartition --param partition.service_name=fabric:/demo/store
`, os.Args[0])
}
