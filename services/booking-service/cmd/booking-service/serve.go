package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/slotdesk/libs/auth"
	"github.com/md-rashed-zaman/slotdesk/libs/grpcx"
	"github.com/md-rashed-zaman/slotdesk/libs/httpx"
	"github.com/md-rashed-zaman/slotdesk/libs/kafkax"
	"github.com/md-rashed-zaman/slotdesk/libs/metrics"
	otelx "github.com/md-rashed-zaman/slotdesk/libs/otel"
	"github.com/md-rashed-zaman/slotdesk/libs/runtime"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/blocklist"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/notify"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/settings"
)

func serve(ctx context.Context, cfg serveConfig, logger *slog.Logger) error {
	otelShutdown, err := otelx.Setup(ctx, cfg.Tracing)
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		logger.Error("store open failed", "driver", cfg.Store.Driver, "err", err)
		return err
	}
	defer store.Close()
	readyChecks := []runtime.ReadyCheck{{Name: "db", Check: store.Ping}}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewCollector(reg)

	var provider settings.Provider = settings.NewStoreProvider(store, model.DefaultAvailabilityConfig())
	var publicLimit httpx.Middleware = httpx.NewRateLimiter(cfg.RateLimit, cfg.RateLimitWindow).Middleware()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		provider = settings.NewCachedProvider(provider, rdb, cfg.SettingsTTL, logger)
		publicLimit = httpx.NewRedisRateLimiter(rdb, cfg.RateLimit, cfg.RateLimitWindow, "slotdesk:rl").Middleware(logger, true)
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	svc := booking.NewService(store, provider, blocklist.NewStoreOracle(store), logger, booking.Options{
		Location: cfg.Location,
		Metrics:  recorder,
	})

	var sink outbox.Sink
	switch {
	case len(cfg.KafkaBrokers) > 0:
		sink = outbox.NewKafkaSink(cfg.KafkaBrokers)
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)})
	case cfg.RabbitMQURL != "":
		rmq, err := outbox.NewRabbitMQSink(cfg.RabbitMQURL, cfg.RabbitMQExchange, logger)
		if err != nil {
			logger.Error("rabbitmq sink init failed; outbox publishing disabled", "err", err)
			break
		}
		sink = rmq
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "rabbitmq", Check: rmq.Ready})
	}
	if sink != nil {
		sink = outbox.NewBreakerSink(sink, outbox.BreakerConfig{
			FailureThreshold: uint32(cfg.BreakerThreshold),
			OpenTimeout:      cfg.BreakerTimeout,
		}, logger)
	}
	publisher := outbox.NewPublisher(store, sink, logger, outbox.PublisherConfig{
		PollEvery: cfg.OutboxPollEvery,
		BatchSize: 50,
		Metrics:   recorder,
	})
	go publisher.Run(ctx)

	if cfg.NotifyEnabled && len(cfg.KafkaBrokers) > 0 {
		notifier := notify.NewNotifier(notify.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom), logger)
		if cfg.SMSWebhookURL != "" {
			notifier.WithTexter(notify.NewWebhookTexter(cfg.SMSWebhookURL, cfg.SMSToken))
		}
		consumer := notify.NewConsumer(logger, store, notify.Config{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.NotifyGroupID,
			Topics:  notify.Topics,
		}, notifier.Handle)
		go consumer.Run(ctx)
	}

	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.ServiceName, cfg.JWTTTL)
	if cfg.AdminPasswordHash == "" {
		logger.Warn("ADMIN_PASSWORD_HASH not set; admin login disabled")
	}
	router := handlers.NewRouter(handlers.RouterDeps{
		Booking: handlers.NewBookingHandler(svc, logger),
		Admin: handlers.NewAdminHandler(issuer, handlers.Credentials{
			Username:     cfg.AdminUsername,
			PasswordHash: cfg.AdminPasswordHash,
		}, provider, logger),
		Issuer:      issuer,
		PublicLimit: publicLimit,
		Health:      runtime.HealthHandler(),
		Ready:       runtime.ReadyHandler(readyChecks...),
		Metrics:     metrics.Handler(reg),
	})

	httpHandler := httpx.Chain(router,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger, "/healthz", "/readyz", "/metrics"),
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key", httpx.RequestIDHeader},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithBodyLimit(64<<10),
		httpx.WithTimeout(15*time.Second),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return err
	}
	grpcSrv := grpcx.NewServer(logger)
	grpcSrv.SetServing(cfg.ServiceName, true)
	grpcSrv.Start(ctx, lis)

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "store", cfg.Store.Driver, "timezone", cfg.Location.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
	return nil
}
