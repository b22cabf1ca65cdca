// Package main runs the hall booking payments HTTP server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hallhub/backend/config"
	"github.com/hallhub/backend/internal/app"
	"github.com/hallhub/backend/internal/auth"
	"github.com/hallhub/backend/internal/middleware"
	"github.com/hallhub/backend/internal/models"
	"github.com/hallhub/backend/internal/payments"
	"github.com/hallhub/backend/internal/worker"
	"github.com/hallhub/backend/pkg/database"
	"github.com/hallhub/backend/pkg/queue"
	"github.com/hallhub/backend/pkg/redis"
	"github.com/hallhub/backend/pkg/response"
	"github.com/hallhub/backend/pkg/tracing"
)

const maxWebhookBody = 1 << 20

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{Enabled: cfg.Tracing.Enabled, ServiceName: cfg.Tracing.ServiceName}, logger)
	if err != nil {
		logger.Fatal("tracing", zap.Error(err))
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{}, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	registry := app.NewRegistry(cfg, logger)
	paymentSvc, err := app.NewPaymentService(cfg, pool, registry, app.NewArchive(ctx, cfg, logger), logger)
	if err != nil {
		logger.Fatal("payments", zap.Error(err))
	}
	paymentHandler := payments.NewHandler(paymentSvc, logger)
	verifier := auth.NewVerifier(auth.VerifierConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
		Leeway:   time.Duration(cfg.JWT.LeewaySec) * time.Second,
	})

	// Reconcile jobs are optional here; the worker binary is the main consumer.
	var rdb *redis.Client
	if cfg.Payments.InProcessWorker {
		rdb, err = redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
		if err != nil {
			logger.Warn("redis unavailable, in-process worker disabled", zap.Error(err))
		} else {
			defer rdb.Close()
		}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	router.Use(middleware.Metrics())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) {
		if err := pool.Ping(c.Request.Context()); err != nil {
			response.Error(c, http.StatusServiceUnavailable, "UNHEALTHY", "database unreachable")
			return
		}
		response.OK(c, gin.H{"status": "ok", "providers": registry.Enabled()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Provider callbacks: no JWT; the signature over the raw body is checked in the handler.
	router.POST("/payments/webhook/:provider", middleware.RawBody(maxWebhookBody), paymentHandler.Webhook)

	api := router.Group("/payments")
	api.Use(middleware.JWT(verifier))
	{
		api.POST("/checkout", paymentHandler.Checkout)
		api.GET("/status/:checkoutId", paymentHandler.Status)
		api.GET("/providers", paymentHandler.Providers)
		api.PUT("/providers/:provider", middleware.RequireRole(models.RoleAdmin), paymentHandler.SetProviderEnabled)
		api.POST("/:id/refund", middleware.RequireRole(models.RoleAdmin), paymentHandler.Refund)
		api.GET("/:id", paymentHandler.Get)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if rdb != nil {
		jobQueue := queue.NewQueue(rdb.Client, logger, time.Duration(cfg.Payments.StaleAfterMinutes)*time.Minute)
		processor := worker.NewReconcileProcessor(paymentSvc, jobQueue, logger)
		go func() { _ = processor.Run(workerCtx) }()
		logger.Info("in-process reconcile worker started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
