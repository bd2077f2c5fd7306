package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// LockService is the gRPC health service name reporting lock store health.
const LockService = "jobsync.lock"

// HealthReporter mirrors the lock store's reachability into a gRPC health
// server, for both the overall status and LockService.
type HealthReporter struct {
	server   *health.Server
	client   redis.UniversalClient
	interval time.Duration
	logger   zerolog.Logger
}

// NewHealthReporter creates a reporter probing client every interval.
func NewHealthReporter(client redis.UniversalClient, interval time.Duration, logger zerolog.Logger) *HealthReporter {
	return &HealthReporter{
		server:   health.NewServer(),
		client:   client,
		interval: interval,
		logger:   logger.With().Str("component", "grpc-health").Logger(),
	}
}

// Server returns the health server to register on a grpc.Server.
func (r *HealthReporter) Server() *health.Server {
	return r.server
}

// Run probes until ctx is done, then marks every service NOT_SERVING.
func (r *HealthReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			r.server.Shutdown()
			return
		case <-ticker.C:
			r.Probe(ctx)
		}
	}
}

// Probe pings the lock store once and records the result.
func (r *HealthReporter) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	pctx, cancel := context.WithTimeout(ctx, r.interval)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := r.client.Ping(pctx).Err(); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		r.logger.Warn().Err(err).Msg("lock store unreachable")
	}
	r.server.SetServingStatus("", status)
	r.server.SetServingStatus(LockService, status)
	return status
}
