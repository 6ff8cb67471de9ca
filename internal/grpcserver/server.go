package grpcserver

import (
	"context"
	"net"
	"time"

	apphealth "mindgarden/backend/pkg/health"
	"mindgarden/backend/pkg/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name of the whole backend
const ServiceName = "mindgarden.Backend"

// Server exposes the health checker over the standard gRPC health protocol
type Server struct {
	grpc    *grpc.Server
	health  *health.Server
	checker *apphealth.Checker
	period  time.Duration
	log     *logger.Logger
}

// New creates a gRPC server mirroring checker every period
func New(checker *apphealth.Checker, period time.Duration, log *logger.Logger) *Server {
	if period <= 0 {
		period = 10 * time.Second
	}
	s := &Server{
		grpc:    grpc.NewServer(),
		health:  health.NewServer(),
		checker: checker,
		period:  period,
		log:     log,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.Sync()
	return s
}

// Sync copies the checker's state into the gRPC health server. Components
// are published as "mindgarden.<name>".
func (s *Server) Sync() {
	overall := healthpb.HealthCheckResponse_SERVING
	if !s.checker.IsSystemHealthy() {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", overall)
	s.health.SetServingStatus(ServiceName, overall)

	for name, component := range s.checker.GetStatus() {
		status := healthpb.HealthCheckResponse_SERVING
		if component.Status == apphealth.StatusDown {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		s.health.SetServingStatus("mindgarden."+name, status)
	}
}

// Serve accepts connections on lis until ctx is done
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		ticker := time.NewTicker(s.period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sync()
			case <-ctx.Done():
				s.health.Shutdown()
				s.grpc.GracefulStop()
				return
			}
		}
	}()

	s.log.Info("gRPC server listening", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

// ListenAndServe listens on port and serves until ctx is done
func (s *Server) ListenAndServe(ctx context.Context, port string) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}
