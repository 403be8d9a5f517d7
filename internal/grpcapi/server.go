// Package grpcapi exposes the standard gRPC health service so
// orchestrators can probe the process without going through HTTP.
package grpcapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"

	"aidcore.org/internal/obs"
)

const serviceName = "aidcore-api"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Server implements grpc.health.v1.Health backed by the readiness probe.
type Server struct {
	grpc_health_v1.UnimplementedHealthServer

	readiness readinessChecker
}

// New creates the health service wrapper.
func New(r readinessChecker) *Server {
	return &Server{readiness: r}
}

// Register attaches the health service to a gRPC server.
func (s *Server) Register(srv *grpc.Server) {
	grpc_health_v1.RegisterHealthServer(srv, s)
}

// Check evaluates readiness and mirrors the result into the metrics
// gauge.
func (s *Server) Check(ctx context.Context, _ *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if s.readiness != nil {
		if err := s.readiness.Check(ctx); err != nil {
			obs.SetReady(false)
			return &grpc_health_v1.HealthCheckResponse{
				Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING,
			}, nil
		}
	}
	obs.SetReady(true)
	return &grpc_health_v1.HealthCheckResponse{
		Status: grpc_health_v1.HealthCheckResponse_SERVING,
	}, nil
}

// Watch streams the readiness state on a fixed interval until the
// client goes away.
func (s *Server) Watch(req *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		resp, err := s.Check(stream.Context(), req)
		if err != nil {
			return err
		}
		if err := stream.Send(resp); err != nil {
			return err
		}
		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		case <-ticker.C:
		}
	}
}
