// Command validationd boots the collaborative validation engine as a
// standalone daemon: it wires the manager registry, exposes metrics and
// health endpoints, and runs the pending-item expiry sweeper until the
// process receives SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lsfhub/validation-engine/internal/config"
	"github.com/lsfhub/validation-engine/internal/metrics"
	"github.com/lsfhub/validation-engine/internal/service/validationengine"
	"github.com/lsfhub/validation-engine/internal/validation"
	"github.com/lsfhub/validation-engine/pkg/logger"
	"github.com/lsfhub/validation-engine/pkg/rediscache"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Error("failed to load configuration", zap.Error(err))
		return err
	}

	log := logger.New(logger.Config{
		Environment: cfg.AppEnv,
		LogLevel:    cfg.LogLevel,
		ServiceName: cfg.AppName,
	})
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cache *rediscache.Cache
	if cfg.RedisAddr != "" {
		cache, err = rediscache.New(ctx, rediscache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			PoolSize: cfg.RedisPoolSize,
		}, log)
		if err != nil {
			// The in-memory stores stay authoritative; run without the cache.
			log.Warn("redis unavailable, continuing without consensus cache", zap.Error(err))
			cache = nil
		} else {
			defer func() { _ = cache.Close() }()
		}
	}

	m := metrics.New()
	registry, err := validationengine.NewRegistry(ctx, validationengine.Options{
		Logger:  log,
		Metrics: m,
		Cache:   cache,
		ConsensusDefaults: validation.ConsensusOptions{
			Algorithm:            validation.AlgorithmWeighted,
			ApprovalThreshold:    cfg.ApprovalThreshold,
			NativeValidatorBonus: cfg.NativeValidatorBonus,
			MinParticipants:      cfg.MinParticipants,
		},
		StrongConsensusLevel: cfg.StrongConsensusLevel,
		EventWorkers:         cfg.EventWorkers,
		EventQueueSize:       cfg.EventQueueSize,
		PendingTTL:           cfg.PendingTTL,
		SweepSchedule:        cfg.SweepSchedule,
	})
	if err != nil {
		log.Error("failed to start validation engine", zap.Error(err))
		return err
	}

	srv := metrics.NewServer(":"+cfg.MetricsPort, m, registry.Health)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("metrics server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("metrics server shutdown failed", zap.Error(err))
		}
		return registry.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("daemon exited with error", zap.Error(err))
		return err
	}
	log.Info("daemon stopped")
	return nil
}
