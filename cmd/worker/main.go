// Package main runs the background reconciliation worker: a sweeper that queues stale
// pending payments and a processor that re-queries their providers.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/hallhub/backend/config"
	"github.com/hallhub/backend/internal/app"
	"github.com/hallhub/backend/internal/worker"
	"github.com/hallhub/backend/pkg/database"
	"github.com/hallhub/backend/pkg/queue"
	"github.com/hallhub/backend/pkg/redis"
	"github.com/hallhub/backend/pkg/tracing"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{Enabled: cfg.Tracing.Enabled, ServiceName: cfg.Tracing.ServiceName + "-worker"}, logger)
	if err != nil {
		logger.Fatal("tracing", zap.Error(err))
	}
	defer shutdownTracing(context.Background()) //nolint:errcheck

	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{}, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	registry := app.NewRegistry(cfg, logger)
	paymentSvc, err := app.NewPaymentService(cfg, pool, registry, nil, logger)
	if err != nil {
		logger.Fatal("payments", zap.Error(err))
	}

	staleAfter := time.Duration(cfg.Payments.StaleAfterMinutes) * time.Minute
	jobQueue := queue.NewQueue(rdb.Client, logger, staleAfter)
	processor := worker.NewReconcileProcessor(paymentSvc, jobQueue, logger)
	sweeper := worker.NewSweeper(paymentSvc, jobQueue, worker.SweeperConfig{
		Interval:   time.Duration(cfg.Payments.SweepIntervalSec) * time.Second,
		StaleAfter: staleAfter,
		BatchSize:  cfg.Payments.SweepBatchSize,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error { return processor.Run(gctx) })
	logger.Info("worker started")

	if err := g.Wait(); err != nil {
		logger.Error("worker exited", zap.Error(err))
	}
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
