package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/crewshop/internal/health"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// opsMux: служебные маршруты порта метрик.
func opsMux(healthHandler *healthcheck.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /healthz", healthHandler)
	mux.HandleFunc("GET /readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("GET /livez", healthcheck.LivenessHandler)
	return mux
}

// httpServer связывает http.Server с уже открытым сокетом.
type httpServer struct {
	name string
	srv  *http.Server
	lis  net.Listener
}

// listenHTTP занимает addr сразу, чтобы занятый порт был виден до старта воркеров.
func listenHTTP(name, addr string, handler http.Handler) (*httpServer, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &httpServer{
		name: name,
		srv:  &http.Server{Handler: handler, ReadHeaderTimeout: readHeaderTimeout},
		lis:  lis,
	}, nil
}

func (s *httpServer) addr() string {
	return s.lis.Addr().String()
}

// serve обслуживает запросы в фоне. При errCh == nil сбой только логируется.
func (s *httpServer) serve(logger *log.Entry, errCh chan<- error) {
	entry := logger.WithFields(log.Fields{"server": s.name, "addr": s.addr()})
	go func() {
		entry.Info("http server listening")
		err := s.srv.Serve(s.lis)
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return
		}
		if errCh == nil {
			entry.WithError(err).Warn("http server stopped")
			return
		}
		errCh <- err
	}()
}

// shutdown ждёт активные запросы не дольше shutdownTimeout.
func (s *httpServer) shutdown(logger *log.Entry) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).WithField("server", s.name).Warn("http shutdown with error")
	}
}
