package grpcx

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/md-rashed-zaman/clinicsched/libs/runtime"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer exposes grpc.health.v1 for the given service name and keeps its
// serving status in sync with the readiness checks.
type HealthServer struct {
	srv     *grpc.Server
	health  *health.Server
	service string
	checks  []runtime.ReadyCheck
	logger  *slog.Logger
}

func NewHealthServer(logger *slog.Logger, service string, checks ...runtime.ReadyCheck) *HealthServer {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			UnaryServerRequestIDInterceptor(),
			UnaryServerLoggingInterceptor(logger),
		),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &HealthServer{srv: srv, health: hs, service: service, checks: checks, logger: logger}
}

// Refresh runs the readiness checks once and publishes the result.
func (h *HealthServer) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if failures := runtime.CheckAll(ctx, h.checks); len(failures) > 0 {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		h.logger.Warn("readiness checks failing", "failures", failures)
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(h.service, status)
	return status
}

// Serve listens on addr until ctx is done, refreshing health every interval.
func (h *HealthServer) Serve(ctx context.Context, addr string, interval time.Duration) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	h.Refresh(ctx)

	go func() {
		h.logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := h.srv.Serve(lis); err != nil {
			h.logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				h.health.Shutdown()
				h.srv.GracefulStop()
				return
			case <-ticker.C:
				h.Refresh(ctx)
			}
		}
	}()
	return nil
}
