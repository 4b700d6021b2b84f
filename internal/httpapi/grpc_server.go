package httpapi

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"uniadmit.org/internal/obs"
)

// GRPCHealthServer exposes readiness over the standard gRPC health
// protocol so orchestrators can probe the service without HTTP.
type GRPCHealthServer struct {
	grpc_health_v1.UnimplementedHealthServer

	readiness readinessChecker
}

// NewGRPCHealthServer creates the health service wrapper.
func NewGRPCHealthServer(r readinessChecker) *GRPCHealthServer {
	return &GRPCHealthServer{readiness: r}
}

// Check evaluates readiness. On failure the serving status is NOT_SERVING.
func (s *GRPCHealthServer) Check(ctx context.Context, _ *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if err := s.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		return &grpc_health_v1.HealthCheckResponse{
			Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING,
		}, nil
	}
	obs.SetReady(true)
	return &grpc_health_v1.HealthCheckResponse{
		Status: grpc_health_v1.HealthCheckResponse_SERVING,
	}, nil
}

// Watch streams the current status once and then blocks until the client
// goes away. Polling clients should use Check.
func (s *GRPCHealthServer) Watch(req *grpc_health_v1.HealthCheckRequest, srv grpc_health_v1.Health_WatchServer) error {
	resp, err := s.Check(srv.Context(), req)
	if err != nil {
		return err
	}
	if err := srv.Send(resp); err != nil {
		return err
	}
	<-srv.Context().Done()
	if err := srv.Context().Err(); err != nil && err != context.Canceled {
		return status.Error(codes.Canceled, err.Error())
	}
	return nil
}
