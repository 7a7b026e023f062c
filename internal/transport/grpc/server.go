package grpc

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type ServerOptions struct {
	// RequestTimeout bounds calls that arrive without a deadline.
	RequestTimeout time.Duration
}

// NewServer builds a gRPC server exposing the booking service and the
// standard health service. The health status of the booking service starts
// as SERVING.
func NewServer(svc bookingService, log *slog.Logger, opts ServerOptions) (*grpc.Server, *health.Server) {
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(defaultRequestTimeoutInterceptor(opts.RequestTimeout)),
	)
	RegisterBookingServiceServer(s, NewBookingServer(svc, log))

	hs := health.NewServer()
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)

	return s, hs
}

func defaultRequestTimeoutInterceptor(timeout time.Duration) grpc.UnaryServerInterceptor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := ctx.Deadline(); ok {
			return handler(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		return handler(ctx, req)
	}
}

// ServiceName is the fully qualified booking service name, as used by the
// health service.
func ServiceName() string {
	return serviceName
}
