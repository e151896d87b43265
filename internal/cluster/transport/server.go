package transport

import (
	"context"
	"net"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"cluster-chaos/internal/cluster"
)

// Server exposes a cluster.Client over gRPC
type Server struct {
	cluster cluster.Client
	logger  *logrus.Logger
	health  *health.Server
	server  *grpc.Server
}

// NewServer wraps backend. The returned server registers the cluster service
// and the standard gRPC health service.
func NewServer(backend cluster.Client, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		cluster: backend,
		logger:  logger,
		health:  health.NewServer(),
	}
	s.server = grpc.NewServer(grpc.UnaryInterceptor(s.loggingInterceptor))
	s.server.RegisterService(&serviceDesc, s)
	healthpb.RegisterHealthServer(s.server, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

func (s *Server) backend() cluster.Client {
	return s.cluster
}

// Serve blocks serving lis until Stop is called
func (s *Server) Serve(lis net.Listener) error {
	s.logger.WithField("address", lis.Addr().String()).Info("Starting cluster gRPC server")
	if err := s.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return errors.Wrap(err, "serve cluster gRPC")
	}
	return nil
}

// Stop marks the service not serving and drains in-flight calls
func (s *Server) Stop() {
	s.logger.Info("Stopping cluster gRPC server")
	s.health.Shutdown()
	s.server.GracefulStop()
}

func (s *Server) loggingInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()

	resp, err := handler(ctx, req)

	entry := s.logger.WithFields(logrus.Fields{
		"method":   info.FullMethod,
		"duration": time.Since(start),
	})
	if err != nil {
		entry.WithError(err).Warn("Cluster call failed")
	} else {
		entry.Debug("Cluster call completed")
	}

	return resp, err
}
