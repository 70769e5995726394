package main

import (
	"fmt"
	"time"

	_ "time/tzdata"

	"github.com/md-rashed-zaman/slotdesk/libs/config"
	otelx "github.com/md-rashed-zaman/slotdesk/libs/otel"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
)

type storeConfig struct {
	Driver      string
	DatabaseURL string
	SQLitePath  string
}

type serveConfig struct {
	ServiceName string
	Port        string
	GRPCPort    string
	Location    *time.Location
	Store       storeConfig
	Tracing     otelx.Config

	RedisURL    string
	SettingsTTL time.Duration

	KafkaBrokers     []string
	RabbitMQURL      string
	RabbitMQExchange string
	OutboxPollEvery  time.Duration
	BreakerThreshold int
	BreakerTimeout   time.Duration

	NotifyEnabled bool
	NotifyGroupID string
	SMTPHost      string
	SMTPPort      string
	SMTPFrom      string
	SMSWebhookURL string
	SMSToken      string

	JWTSecret         string
	JWTTTL            time.Duration
	AdminUsername     string
	AdminPasswordHash string

	RateLimit       int
	RateLimitWindow time.Duration
	CORSOrigins     []string
}

func loadStoreConfig(src *config.Source) (storeConfig, error) {
	cfg := storeConfig{
		Driver:      src.String("STORE_DRIVER", driverPostgres),
		DatabaseURL: src.String("DATABASE_URL", ""),
		SQLitePath:  src.String("SQLITE_PATH", "slotdesk.db"),
	}
	switch cfg.Driver {
	case driverPostgres:
		if cfg.DatabaseURL == "" {
			return cfg, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", driverPostgres)
		}
	case driverSQLite:
	default:
		return cfg, fmt.Errorf("STORE_DRIVER must be %s or %s (got %q)", driverPostgres, driverSQLite, cfg.Driver)
	}
	return cfg, nil
}

func loadServeConfig(src *config.Source) (serveConfig, error) {
	var (
		cfg serveConfig
		err error
	)
	cfg.ServiceName = src.String("SERVICE_NAME", "booking-service")
	if cfg.Port, err = src.Port("PORT", "8083"); err != nil {
		return cfg, err
	}
	if cfg.GRPCPort, err = src.Port("GRPC_PORT", "9083"); err != nil {
		return cfg, err
	}
	if cfg.Tracing, err = otelx.ConfigFrom(src, cfg.ServiceName); err != nil {
		return cfg, err
	}
	tz := src.String("BUSINESS_TIMEZONE", "UTC")
	if cfg.Location, err = time.LoadLocation(tz); err != nil {
		return cfg, fmt.Errorf("BUSINESS_TIMEZONE %q: %w", tz, err)
	}
	if cfg.Store, err = loadStoreConfig(src); err != nil {
		return cfg, err
	}

	cfg.RedisURL = src.String("REDIS_URL", "")
	if cfg.SettingsTTL, err = src.Duration("SETTINGS_CACHE_TTL", 30*time.Second); err != nil {
		return cfg, err
	}

	cfg.KafkaBrokers = src.List("KAFKA_BROKERS")
	cfg.RabbitMQURL = src.String("RABBITMQ_URL", "")
	cfg.RabbitMQExchange = src.String("RABBITMQ_EXCHANGE", "")
	if cfg.OutboxPollEvery, err = src.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second); err != nil {
		return cfg, err
	}
	if cfg.BreakerThreshold, err = src.Int("BROKER_BREAKER_THRESHOLD", 5); err != nil {
		return cfg, err
	}
	if cfg.BreakerTimeout, err = src.Duration("BROKER_BREAKER_TIMEOUT", 30*time.Second); err != nil {
		return cfg, err
	}

	if cfg.NotifyEnabled, err = src.Bool("NOTIFY_ENABLED", len(cfg.KafkaBrokers) > 0); err != nil {
		return cfg, err
	}
	cfg.NotifyGroupID = src.String("KAFKA_GROUP_ID", "slotdesk-notifier")
	cfg.SMTPHost = src.String("SMTP_HOST", "localhost")
	if cfg.SMTPPort, err = src.Port("SMTP_PORT", "1025"); err != nil {
		return cfg, err
	}
	cfg.SMTPFrom = src.String("SMTP_FROM", "")
	cfg.SMSWebhookURL = src.String("SMS_WEBHOOK_URL", "")
	cfg.SMSToken = src.String("SMS_WEBHOOK_TOKEN", "")

	if cfg.JWTSecret, err = src.RequiredString("JWT_SECRET"); err != nil {
		return cfg, err
	}
	if cfg.JWTTTL, err = src.Duration("JWT_TTL", 8*time.Hour); err != nil {
		return cfg, err
	}
	cfg.AdminUsername = src.String("ADMIN_USERNAME", "admin")
	cfg.AdminPasswordHash = src.String("ADMIN_PASSWORD_HASH", "")

	if cfg.RateLimit, err = src.Int("RATE_LIMIT_PER_WINDOW", 60); err != nil {
		return cfg, err
	}
	if cfg.RateLimitWindow, err = src.Duration("RATE_LIMIT_WINDOW", time.Minute); err != nil {
		return cfg, err
	}
	cfg.CORSOrigins = src.List("CORS_ALLOWED_ORIGINS")
	return cfg, nil
}
