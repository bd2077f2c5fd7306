// Package main provides the entry point for the jobsync server: the
// scheduler trigger election, the lock maintainer and the admin API.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/kneutral-org/jobsync/internal/api"
	"github.com/kneutral-org/jobsync/internal/config"
	"github.com/kneutral-org/jobsync/internal/jobs"
	"github.com/kneutral-org/jobsync/internal/lock"
	"github.com/kneutral-org/jobsync/internal/logging"
	"github.com/kneutral-org/jobsync/internal/maintainer"
	"github.com/kneutral-org/jobsync/internal/store"
)

const (
	shutdownTimeout     = 30 * time.Second
	healthProbeInterval = 10 * time.Second
)

func main() {
	cfg := config.Load()
	logger := logging.New(logging.Options{
		Service: "jobsync",
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		File:    cfg.LogFile,
	})

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server exited with error")
	}
	logger.Info().Msg("server exited properly")
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := store.NewSyncPool(cfg.Redis)
	defer func() { _ = client.Close() }()
	if err := store.Ping(ctx, client); err != nil {
		return err
	}

	registry, closeRegistry, err := openRegistry(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRegistry()

	definitions, err := loadDefinitions(cfg.WorkUnitsPath, logger)
	if err != nil {
		return err
	}
	resolver, err := jobs.NewStaticResolver(definitions...)
	if err != nil {
		return err
	}

	scripts := lock.NewScripts(client, logger)
	kill := jobs.NewKillSwitch(client, logger)

	trigger := lock.NewTriggerLock(scripts, cfg.Trigger.Key, logger, lock.WithTTL(cfg.Trigger.TTL))
	elector := lock.NewLeaderElector(trigger, logger, lock.WithRenewalRate(cfg.Trigger.TTL/3))

	leaderLock := lock.NewMutex(scripts, cfg.Maintain.LockKey,
		lock.WithTTL(cfg.Maintain.LockTTL),
		lock.WithTimeout(0),
		lock.WithLogger(logger),
	)
	maint := maintainer.New(leaderLock, scripts, registry, resolver, logger,
		maintainer.WithInterval(cfg.Maintain.Interval),
		maintainer.WithJitter(cfg.Maintain.JitterMin, cfg.Maintain.JitterMax),
	)

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := api.NewHandler(client, registry, kill, map[string]api.LeaderStatus{
		"scheduler":  elector,
		"maintainer": maint,
	}, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(handler, cfg.AdminMaxPayloadSize, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	health := api.NewHealthReporter(client, healthProbeInterval, logger)
	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(cfg.GRPCMaxMessageSize),
		grpc.ChainUnaryInterceptor(logging.GRPCLogger(logger)),
		grpc.ChainStreamInterceptor(logging.GRPCStreamLogger(logger)),
	)
	healthpb.RegisterHealthServer(grpcServer, health.Server())

	elector.Start(ctx)
	maint.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("port", cfg.Port).Msg("starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			return err
		}
		logger.Info().Str("port", cfg.GRPCPort).Msg("starting gRPC health server")
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		health.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		elector.Stop(shutdownCtx)
		if err := maint.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("lock maintainer did not stop cleanly")
		}
		grpcServer.GracefulStop()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openRegistry returns the shared Postgres registry when DATABASE_URL is
// set and an in-process registry otherwise.
func openRegistry(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (jobs.Tracker, func(), error) {
	if cfg.Database.URL == "" {
		logger.Warn().Msg("DATABASE_URL not set, running work is only visible to this process")
		return jobs.NewMemoryRegistry(), func() {}, nil
	}

	pool, err := store.NewPostgresPool(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	registry := jobs.NewPostgresRegistry(pool)
	if err := registry.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return registry, pool.Close, nil
}

func loadDefinitions(path string, logger zerolog.Logger) ([]jobs.Definition, error) {
	if path == "" {
		logger.Warn().Msg("WORK_UNITS_PATH not set, no work unit locks will be maintained")
		return nil, nil
	}
	defs, err := jobs.LoadDefinitions(path)
	if err != nil {
		return nil, err
	}
	logger.Info().Int("count", len(defs)).Str("path", path).Msg("loaded work unit definitions")
	return defs, nil
}
