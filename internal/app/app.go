// Package app wires configuration into the provider registry and the payment service.
// Shared by the server and worker binaries.
package app

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hallhub/backend/config"
	"github.com/hallhub/backend/internal/bookings"
	"github.com/hallhub/backend/internal/contract"
	"github.com/hallhub/backend/internal/customers"
	"github.com/hallhub/backend/internal/gateway"
	"github.com/hallhub/backend/internal/gateway/hyperpay"
	"github.com/hallhub/backend/internal/gateway/tabby"
	"github.com/hallhub/backend/internal/gateway/tamara"
	"github.com/hallhub/backend/internal/payments"
	"github.com/hallhub/backend/pkg/database"
	"github.com/hallhub/backend/pkg/storage"
)

// NewRegistry registers every provider adapter. Each adapter gets its own instrumented
// client; all of them share one breaker set keyed by provider.
func NewRegistry(cfg *config.Config, logger *zap.Logger) *gateway.Registry {
	pc := cfg.Payments
	breakers := gateway.NewBreakers(gateway.BreakerSettings{
		FailureThreshold: pc.BreakerThreshold,
		Cooldown:         time.Duration(pc.BreakerCooldownSec) * time.Second,
		HalfOpenRequests: 1,
	}, logger)
	timeout := time.Duration(pc.ProviderTimeoutSec) * time.Second
	client := func(id gateway.ProviderID) *gateway.Client {
		return gateway.NewClient(id, gateway.WithTimeout(timeout), gateway.WithBreakers(breakers), gateway.WithLogger(logger))
	}

	reg := gateway.NewRegistry()
	reg.Register(hyperpay.New(hyperpay.Config{
		BaseURL:               cfg.HyperPay.BaseURL,
		AccessToken:           cfg.HyperPay.AccessToken,
		EntityID:              cfg.HyperPay.EntityID,
		MadaEntityID:          cfg.HyperPay.MadaEntityID,
		Currency:              cfg.HyperPay.Currency,
		WebhookSecret:         cfg.HyperPay.WebhookSecret,
		Brands:                cfg.HyperPay.Brands,
		CheckoutTTL:           minutes(cfg.HyperPay.TimeoutMinutes),
		AllowUnsignedWebhooks: pc.AllowUnsignedWebhooks,
	}, client(gateway.HyperPay), logger), cfg.HyperPay.Enabled)
	reg.Register(tabby.New(tabby.Config{
		BaseURL:               cfg.Tabby.BaseURL,
		SecretKey:             cfg.Tabby.SecretKey,
		MerchantCode:          cfg.Tabby.MerchantCode,
		Currency:              cfg.Tabby.Currency,
		WebhookSecret:         cfg.Tabby.WebhookSecret,
		MinAmount:             cfg.Tabby.MinAmount,
		MaxAmount:             cfg.Tabby.MaxAmount,
		CheckoutTTL:           minutes(cfg.Tabby.TimeoutMinutes),
		AllowUnsignedWebhooks: pc.AllowUnsignedWebhooks,
	}, client(gateway.Tabby), logger), cfg.Tabby.Enabled)
	reg.Register(tamara.New(tamara.Config{
		BaseURL:               cfg.Tamara.BaseURL,
		APIToken:              cfg.Tamara.APIToken,
		NotificationToken:     cfg.Tamara.NotificationToken,
		Currency:              cfg.Tamara.Currency,
		CountryCode:           cfg.Tamara.CountryCode,
		MinAmount:             cfg.Tamara.MinAmount,
		MaxAmount:             cfg.Tamara.MaxAmount,
		CheckoutTTL:           minutes(cfg.Tamara.TimeoutMinutes),
		AllowUnsignedWebhooks: pc.AllowUnsignedWebhooks,
	}, client(gateway.Tamara), logger), cfg.Tamara.Enabled)

	logger.Info("payment providers registered", zap.Any("enabled", reg.Enabled()))
	return reg
}

// NewArchive returns the S3 webhook archive, or nil when no bucket is configured or the
// client cannot be created.
func NewArchive(ctx context.Context, cfg *config.Config, logger *zap.Logger) payments.WebhookArchiver {
	if cfg.AWS.WebhookArchiveBucket == "" {
		return nil
	}
	s3, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		WebhookArchiveBucket: cfg.AWS.WebhookArchiveBucket,
	}, logger)
	if err != nil {
		logger.Warn("webhook archive disabled", zap.Error(err))
		return nil
	}
	return s3
}

// NewPaymentService builds the payment service on top of Postgres.
func NewPaymentService(cfg *config.Config, pool *pgxpool.Pool, reg *gateway.Registry, archive payments.WebhookArchiver, logger *zap.Logger) (*payments.Service, error) {
	validator, err := contract.NewValidator(gateway.HyperPay, gateway.Tabby, gateway.Tamara)
	if err != nil {
		return nil, err
	}
	pc := cfg.Payments
	return payments.NewService(payments.Deps{
		Registry:  reg,
		Payments:  payments.NewRepository(pool),
		Bookings:  bookings.NewRepository(pool),
		Customers: customers.NewRepository(pool),
		Tx:        database.NewTxManager(pool),
		Contracts: validator,
		Archive:   archive,
	}, payments.Config{
		PublicBaseURL:   pc.PublicBaseURL,
		ReturnURL:       pc.ReturnURL,
		CancelURL:       pc.CancelURL,
		ProviderTimeout: time.Duration(pc.ProviderTimeoutSec) * time.Second,
		CheckoutTTL: map[gateway.ProviderID]time.Duration{
			gateway.HyperPay: minutes(cfg.HyperPay.TimeoutMinutes),
			gateway.Tabby:    minutes(cfg.Tabby.TimeoutMinutes),
			gateway.Tamara:   minutes(cfg.Tamara.TimeoutMinutes),
		},
		AllowUnsignedWebhooks: pc.AllowUnsignedWebhooks,
	}, logger), nil
}

func minutes(n int) time.Duration { return time.Duration(n) * time.Minute }
