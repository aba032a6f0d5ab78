package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/GriffinCanCode/agentchat/internal/infrastructure/tracing"
)

// GeneratorService is the health entry for the AI backend
const GeneratorService = "chat.generator"

// HealthServer serves grpc.health.v1.Health
type HealthServer struct {
	server *grpc.Server
	health *health.Server
	logger *zap.Logger
}

// NewHealthServer creates a health server; tracer may be nil
func NewHealthServer(tracer *tracing.Tracer, logger *zap.Logger) *HealthServer {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []grpc.ServerOption{
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             30 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	if tracer != nil {
		opts = append(opts, grpc.UnaryInterceptor(tracing.GRPCUnaryInterceptor(tracer)))
	}

	srv := grpc.NewServer(opts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(GeneratorService, healthpb.HealthCheckResponse_NOT_SERVING)

	return &HealthServer{server: srv, health: hs, logger: logger}
}

// SetGenerator records whether replies come from an AI backend
func (s *HealthServer) SetGenerator(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(GeneratorService, status)
}

// Serve blocks serving on lis until Stop
func (s *HealthServer) Serve(lis net.Listener) error {
	s.logger.Info("gRPC health server listening", zap.String("addr", lis.Addr().String()))
	if err := s.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc health server: %w", err)
	}
	return nil
}

// Stop marks every service NOT_SERVING and stops gracefully
func (s *HealthServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}

// Check queries a health endpoint for service
func Check(ctx context.Context, addr, service string, opts ...grpc.DialOption) (healthpb.HealthCheckResponse_ServingStatus, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("failed to dial health endpoint: %w", err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check %q: %w", service, err)
	}
	return resp.GetStatus(), nil
}
