// Package grpcserver runs the operational gRPC endpoint: the standard health
// service and server reflection.
package grpcserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// ServiceName is the health-check name reported for the whole API.
const ServiceName = "snapcal.api"

type Server struct {
	address string
	srv     *grpc.Server
	health  *health.Server
}

func New(address string) *Server {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor))
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	return &Server{address: address, srv: srv, health: hs}
}

// Health exposes the health service so the HTTP side can answer /healthz.
func (s *Server) Health() *health.Server { return s.health }

// SetServing flips both the overall and the API health status.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Run serves until ctx is canceled, then stops gracefully.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		slog.Info("stopping gRPC server")
		s.health.Shutdown()
		s.srv.GracefulStop()
	}()

	slog.Info("starting gRPC server", "address", s.address)
	if err := s.srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		slog.Warn("grpc call failed", "method", info.FullMethod, "code", status.Code(err).String(), "duration", time.Since(start))
	} else {
		slog.Debug("grpc call", "method", info.FullMethod, "duration", time.Since(start))
	}
	return resp, err
}
