package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	Tracing  TracingConfig
	Payments PaymentsConfig
	HyperPay HyperPayConfig
	Tabby    TabbyConfig
	Tamara   TamaraConfig
}

// PaymentsConfig holds provider-independent payment settings.
type PaymentsConfig struct {
	PublicBaseURL         string // used to build webhook URLs, e.g. https://api.hallhub.sa
	ReturnURL             string // customer is sent here after a completed checkout
	CancelURL             string
	AllowUnsignedWebhooks bool // accept webhooks for providers with no secret configured
	ProviderTimeoutSec    int
	SweepIntervalSec      int
	StaleAfterMinutes     int // pending payments older than this are re-polled by the worker
	SweepBatchSize        int
	BreakerThreshold      int // consecutive provider failures before the circuit opens
	BreakerCooldownSec    int
	InProcessWorker       bool // also consume reconcile jobs inside the API server
}

// HyperPayConfig for card payments (VISA / MASTER / MADA / APPLEPAY).
type HyperPayConfig struct {
	Enabled        bool
	BaseURL        string
	AccessToken    string
	EntityID       string
	MadaEntityID   string // MADA cards settle through a separate entity
	Currency       string
	WebhookSecret  string
	TimeoutMinutes int
	Brands         []string
}

// TabbyConfig for Tabby pay-in-4.
type TabbyConfig struct {
	Enabled        bool
	BaseURL        string
	SecretKey      string
	MerchantCode   string
	Currency       string
	WebhookSecret  string
	MinAmount      decimal.Decimal
	MaxAmount      decimal.Decimal
	TimeoutMinutes int
}

// TamaraConfig for Tamara instalments.
type TamaraConfig struct {
	Enabled           bool
	BaseURL           string
	APIToken          string
	NotificationToken string
	Currency          string
	CountryCode       string
	MinAmount         decimal.Decimal
	MaxAmount         decimal.Decimal
	TimeoutMinutes    int
}

// TracingConfig toggles the OpenTelemetry stdout exporter.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins []string // exact origins, "https://*.domain" patterns, or "*"
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/hallhub?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT validation settings. Tokens are issued by the platform's auth service.
type JWTConfig struct {
	Secret    string
	Issuer    string // empty skips the iss check
	Audience  string // empty skips the aud check
	LeewaySec int
}

// AWSConfig holds AWS credentials and the webhook archive bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	WebhookArchiveBucket string // empty disables archiving
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: splitTrim(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"), ","),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "hallhub"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:    getEnv("JWT_SECRET", "change-me-in-production"),
			Issuer:    getEnv("JWT_ISSUER", ""),
			Audience:  getEnv("JWT_AUDIENCE", ""),
			LeewaySec: getEnvInt("JWT_LEEWAY_SEC", 30),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "me-south-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			WebhookArchiveBucket: getEnv("AWS_S3_WEBHOOK_ARCHIVE_BUCKET", ""),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("TRACING_ENABLED", false),
			ServiceName: getEnv("TRACING_SERVICE_NAME", "hallhub-payments"),
		},
		Payments: PaymentsConfig{
			PublicBaseURL:         strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
			ReturnURL:             getEnv("PAYMENT_RETURN_URL", "http://localhost:3000/bookings/payment/result"),
			CancelURL:             getEnv("PAYMENT_CANCEL_URL", "http://localhost:3000/bookings/payment/cancelled"),
			AllowUnsignedWebhooks: getEnvBool("PAYMENTS_ALLOW_UNSIGNED_WEBHOOKS", false),
			ProviderTimeoutSec:    getEnvInt("PAYMENTS_PROVIDER_TIMEOUT_SEC", 15),
			SweepIntervalSec:      getEnvInt("PAYMENTS_SWEEP_INTERVAL_SEC", 60),
			StaleAfterMinutes:     getEnvInt("PAYMENTS_STALE_AFTER_MINUTES", 10),
			SweepBatchSize:        getEnvInt("PAYMENTS_SWEEP_BATCH_SIZE", 100),
			BreakerThreshold:      getEnvInt("PAYMENTS_BREAKER_THRESHOLD", 5),
			BreakerCooldownSec:    getEnvInt("PAYMENTS_BREAKER_COOLDOWN_SEC", 30),
			InProcessWorker:       getEnvBool("PAYMENTS_INPROCESS_WORKER", false),
		},
		HyperPay: HyperPayConfig{
			Enabled:        getEnvBool("HYPERPAY_ENABLED", true),
			BaseURL:        getEnv("HYPERPAY_BASE_URL", "https://eu-test.oppwa.com"),
			AccessToken:    getEnv("HYPERPAY_ACCESS_TOKEN", ""),
			EntityID:       getEnv("HYPERPAY_ENTITY_ID", ""),
			MadaEntityID:   getEnv("HYPERPAY_MADA_ENTITY_ID", ""),
			Currency:       getEnv("HYPERPAY_CURRENCY", "SAR"),
			WebhookSecret:  getEnv("HYPERPAY_WEBHOOK_SECRET", ""),
			TimeoutMinutes: getEnvInt("HYPERPAY_TIMEOUT_MINUTES", 30),
			Brands:         splitTrim(getEnv("HYPERPAY_BRANDS", "VISA,MASTER,MADA"), ","),
		},
		Tabby: TabbyConfig{
			Enabled:        getEnvBool("TABBY_ENABLED", false),
			BaseURL:        getEnv("TABBY_BASE_URL", "https://api.tabby.ai"),
			SecretKey:      getEnv("TABBY_SECRET_KEY", ""),
			MerchantCode:   getEnv("TABBY_MERCHANT_CODE", ""),
			Currency:       getEnv("TABBY_CURRENCY", "SAR"),
			WebhookSecret:  getEnv("TABBY_WEBHOOK_SECRET", ""),
			MinAmount:      getEnvDecimal("TABBY_MIN_AMOUNT", "1.00"),
			MaxAmount:      getEnvDecimal("TABBY_MAX_AMOUNT", "5000.00"),
			TimeoutMinutes: getEnvInt("TABBY_TIMEOUT_MINUTES", 30),
		},
		Tamara: TamaraConfig{
			Enabled:           getEnvBool("TAMARA_ENABLED", false),
			BaseURL:           getEnv("TAMARA_BASE_URL", "https://api-sandbox.tamara.co"),
			APIToken:          getEnv("TAMARA_API_TOKEN", ""),
			NotificationToken: getEnv("TAMARA_NOTIFICATION_TOKEN", ""),
			Currency:          getEnv("TAMARA_CURRENCY", "SAR"),
			CountryCode:       getEnv("TAMARA_COUNTRY_CODE", "SA"),
			MinAmount:         getEnvDecimal("TAMARA_MIN_AMOUNT", "100.00"),
			MaxAmount:         getEnvDecimal("TAMARA_MAX_AMOUNT", "20000.00"),
			TimeoutMinutes:    getEnvInt("TAMARA_TIMEOUT_MINUTES", 60),
		},
	}
	if cfg.Tabby.MinAmount.GreaterThan(cfg.Tabby.MaxAmount) {
		return nil, fmt.Errorf("TABBY_MIN_AMOUNT %s exceeds TABBY_MAX_AMOUNT %s", cfg.Tabby.MinAmount, cfg.Tabby.MaxAmount)
	}
	if cfg.Tamara.MinAmount.GreaterThan(cfg.Tamara.MaxAmount) {
		return nil, fmt.Errorf("TAMARA_MIN_AMOUNT %s exceeds TAMARA_MAX_AMOUNT %s", cfg.Tamara.MinAmount, cfg.Tamara.MaxAmount)
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDecimal falls back on unparsable values, like getEnvInt.
func getEnvDecimal(key, fallback string) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return decimal.RequireFromString(fallback)
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
