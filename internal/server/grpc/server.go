// Package grpc exposes the standard grpc.health.v1 service for operators.
// Serving status follows periodic readiness probes of the server's backends.
package grpc

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/dmitrijs2005/sharedrop/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported next to the overall "".
const ServiceName = "sharedrop"

const probeTimeout = 5 * time.Second

// Probe is one readiness check, e.g. a database ping.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

type HealthServer struct {
	address  string
	logger   logging.Logger
	health   *health.Server
	probes   []Probe
	interval time.Duration

	mu     sync.Mutex
	failed map[string]bool
}

func NewHealthServer(address string, l logging.Logger, interval time.Duration, probes ...Probe) *HealthServer {
	return &HealthServer{
		address:  address,
		logger:   l.With("module", "grpc_health"),
		health:   health.NewServer(),
		probes:   probes,
		interval: interval,
		failed:   map[string]bool{},
	}
}

func (s *HealthServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve runs the server on an existing listener until ctx is done.
func (s *HealthServer) Serve(ctx context.Context, listen net.Listener) error {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor))
	healthpb.RegisterHealthServer(srv, s.health)

	s.Probe(ctx)
	go s.watch(ctx)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil {
		return err
	}
	return nil
}

func (s *HealthServer) watch(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Probe(ctx)
		}
	}
}

// Probe runs every check once and updates the serving status. Any failing
// check makes the whole server NOT_SERVING.
func (s *HealthServer) Probe(ctx context.Context) {
	ok := true
	for _, p := range s.probes {
		pctx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := p.Check(pctx)
		cancel()

		s.mu.Lock()
		wasFailing := s.failed[p.Name]
		s.failed[p.Name] = err != nil
		s.mu.Unlock()

		switch {
		case err != nil:
			ok = false
			if !wasFailing {
				s.logger.Warn(ctx, "readiness probe failing", "probe", p.Name, "error", err)
			}
		case wasFailing:
			s.logger.Info(ctx, "readiness probe recovered", "probe", p.Name)
		}
	}

	status := healthpb.HealthCheckResponse_SERVING
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Status reports the current overall serving status.
func (s *HealthServer) Status(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	resp, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN
	}
	return resp.GetStatus()
}
