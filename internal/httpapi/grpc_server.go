package httpapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const defaultHealthInterval = 10 * time.Second

// GRPCServer publishes database readiness through the standard
// grpc.health.v1.Health service, both for the whole server ("") and for the
// named API service.
type GRPCServer struct {
	health    *health.Server
	readiness readinessChecker
	logger    *zap.Logger
	serving   bool
}

// NewGRPCServer creates the health publisher. It reports NOT_SERVING until
// the first Refresh.
func NewGRPCServer(r readinessChecker, logger *zap.Logger) *GRPCServer {
	if r == nil {
		r = ReadyProbe{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &GRPCServer{
		health:    health.NewServer(),
		readiness: r,
		logger:    logger,
	}
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Register attaches the health service to srv.
func (s *GRPCServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.health)
}

// Refresh probes readiness once and publishes the result.
func (s *GRPCServer) Refresh(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err := s.readiness.Check(ctx)
	ok := err == nil
	if ok != s.serving {
		if ok {
			s.logger.Info("grpc health serving")
		} else {
			s.logger.Warn("grpc health not serving", zap.Error(err))
		}
	}
	s.serving = ok
	if ok {
		s.set(healthpb.HealthCheckResponse_SERVING)
	} else {
		s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return ok
}

// Run refreshes on every tick until ctx ends, then marks every service
// NOT_SERVING so watchers drain before the listener closes.
func (s *GRPCServer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	s.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

func (s *GRPCServer) set(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(serviceName, st)
}
