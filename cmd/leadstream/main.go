// Package main wires together the leadstream service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/leadflowhq/leadstream/internal/api"
	"github.com/leadflowhq/leadstream/internal/auth"
	authmemory "github.com/leadflowhq/leadstream/internal/auth/memory"
	authpostgres "github.com/leadflowhq/leadstream/internal/auth/postgres"
	"github.com/leadflowhq/leadstream/internal/clock/system"
	"github.com/leadflowhq/leadstream/internal/config"
	"github.com/leadflowhq/leadstream/internal/id/uuid"
	"github.com/leadflowhq/leadstream/internal/logging"
	"github.com/leadflowhq/leadstream/internal/ratelimit"
	"github.com/leadflowhq/leadstream/internal/realtime"
	"github.com/leadflowhq/leadstream/internal/scheduler"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.New()

	// Admission counters live in Redis so limits hold across replicas.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		_ = redisClient.Close()
	}()
	limiter := ratelimit.New(ratelimit.NewRedisStore(redisClient), ratelimit.Config{
		FailOpen: cfg.RateLimit.FailOpen,
		Clock:    clock,
		Logger:   logger.Named("ratelimit"),
	})

	var repo auth.Repository
	if cfg.DB.DSN != "" {
		pgRepo, err := authpostgres.NewRepository(ctx, authpostgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxOpenConns),
		})
		if err != nil {
			logger.Fatal("connect credential store failed", zap.Error(err))
		}
		defer pgRepo.Close()
		repo = pgRepo
	} else {
		logger.Warn("db.dsn not set, credentials are process-local")
		repo = authmemory.NewRepository()
	}

	creds := auth.NewService(repo, auth.ServiceConfig{
		MaxActivePerOwner: cfg.Credentials.MaxActivePerOwner,
		DefaultExpiryDays: cfg.Credentials.DefaultExpiryDays,
		MaxExpiryDays:     cfg.Credentials.MaxExpiryDays,
		DefaultQuota:      cfg.Credentials.DefaultQuota,
		Clock:             clock,
		IDs:               idGen,
		Logger:            logger.Named("auth"),
	})
	gate := auth.NewGate(creds, limiter, auth.GateConfig{
		OpenMode:    cfg.Auth.OpenMode,
		AllowBearer: cfg.Auth.AllowBearer,
		BearerQuota: cfg.RateLimit.DefaultLimit,
		Logger:      logger.Named("auth"),
	})

	registry := realtime.NewRegistry(logger.Named("realtime"))
	jobs := realtime.NewJobStore()
	bridge := realtime.NewBridge(registry, realtime.BridgeConfig{
		BufferSize: cfg.Realtime.BridgeBuffer,
		Jobs:       jobs,
		Clock:      clock,
		Logger:     logger.Named("realtime"),
	})

	runner := scheduler.NewRunner(clock, logger.Named("scheduler"))
	if cfg.Scheduler.Enabled {
		scheduler.NewMaintenance(bridge, registry, jobs, clock, logger.Named("scheduler")).Register(runner)
		if cfg.Scheduler.AutoStart {
			runner.Start()
		}
	}

	apiServer := api.NewServer(cfg, api.Deps{
		Gate:     gate,
		Creds:    creds,
		Limiter:  limiter,
		Runner:   runner,
		Registry: registry,
		Bridge:   bridge,
		Jobs:     jobs,
		Clock:    clock,
		Logger:   logger.Named("api"),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	runner.Stop()
	if err := bridge.Close(shutdownCtx); err != nil {
		logger.Error("bridge close error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
