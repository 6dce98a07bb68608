package app

import (
	"context"
	"errors"
	"net"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/crewshop/internal/health"
	"github.com/vladislavdragonenkov/crewshop/internal/version"
)

const healthSyncInterval = 5 * time.Second

// opsServer: gRPC сервер для health probes оркестратора и grpcurl.
type opsServer struct {
	server *grpc.Server
	health *health.Server
	lis    net.Listener
}

func newOpsServer(addr string, logger *log.Entry) (*opsServer, error) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)
	grpcMetrics.InitializeMetrics(server)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &opsServer{server: server, health: healthServer, lis: lis}, nil
}

func (s *opsServer) serve(logger *log.Entry, errCh chan<- error) {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(version.Service, healthpb.HealthCheckResponse_SERVING)
	go func() {
		logger.Infof("gRPC ops сервер слушает %s", s.lis.Addr())
		if err := s.server.Serve(s.lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()
}

// syncHealth переключает gRPC статус вслед за критичными проверками.
func (s *opsServer) syncHealth(ctx context.Context, checks *healthcheck.Handler, logger *log.Entry) {
	ticker := time.NewTicker(healthSyncInterval)
	defer ticker.Stop()

	last := healthpb.HealthCheckResponse_SERVING
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		response := checks.Evaluate(ctx)
		status := healthpb.HealthCheckResponse_SERVING
		if response.Status == healthcheck.StatusUnhealthy {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		if status != last {
			logger.WithFields(log.Fields{"status": status.String(), "failing": response.Failing()}).Warn("grpc serving status changed")
			last = status
		}
		s.health.SetServingStatus(version.Service, status)
	}
}

// stop переводит статус в NOT_SERVING и останавливает сервер с таймаутом.
func (s *opsServer) stop(logger *log.Entry) {
	if s == nil {
		return
	}
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		s.server.Stop()
	}
}
