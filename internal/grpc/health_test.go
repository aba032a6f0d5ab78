package grpc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func startBufServer(t *testing.T) (*HealthServer, grpc.DialOption) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	hs := NewHealthServer(nil, nil)
	go func() { _ = hs.Serve(lis) }()
	t.Cleanup(hs.Stop)

	dialer := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
	return hs, dialer
}

func TestHealthStatuses(t *testing.T) {
	hs, dialer := startBufServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := Check(ctx, "passthrough:///bufnet", "", dialer)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st)

	st, err = Check(ctx, "passthrough:///bufnet", GeneratorService, dialer)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, st)

	hs.SetGenerator(true)
	st, err = Check(ctx, "passthrough:///bufnet", GeneratorService, dialer)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st)
}

func TestHealthUnknownService(t *testing.T) {
	_, dialer := startBufServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Check(ctx, "passthrough:///bufnet", "nope", dialer)
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(errors.Unwrap(err)))
}
