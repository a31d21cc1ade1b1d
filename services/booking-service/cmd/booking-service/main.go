package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/voicebook/libs/db"
	"github.com/md-rashed-zaman/voicebook/libs/grpcx"
	"github.com/md-rashed-zaman/voicebook/libs/httpx"
	"github.com/md-rashed-zaman/voicebook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/voicebook/libs/otel"
	"github.com/md-rashed-zaman/voicebook/libs/runtime"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/calendar"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/callplatform"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/email"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/events"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/idempotency"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/ingestion"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/mcptools"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/policy"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/tenancy"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "booking-service:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := runtime.NewLogger(cfg.ServiceName, cfg.LogLevel)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelCfg, err := otelx.ConfigFromEnv(cfg.ServiceName, version)
	if err != nil {
		return fmt.Errorf("otel config: %w", err)
	}
	otelShutdown, err := otelx.Setup(ctx, otelCfg)
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.Options{MaxConns: cfg.DBMaxConns})
	if err != nil {
		return fmt.Errorf("db connection failed: %w", err)
	}
	defer pool.Close()

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer func() { _ = rdb.Close() }()
	}

	m := metrics.New()
	transport := otelhttp.NewTransport(http.DefaultTransport)

	appointments := storage.NewAppointmentRepository(pool)
	tenants := storage.NewTenantRepository(pool)
	callLogs := storage.NewCallLogRepository(pool)
	ledger := idempotency.NewLedger(storage.NewIdempotencyRepository(pool))

	oauthCfg := calendar.OAuthConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.OAuthRedirectURL())
	connector := calendar.NewGoogleConnector(oauthCfg, tenants, transport)
	rules := policy.NewStoreProvider(tenants, logger)
	checker := availability.NewChecker(appointments)

	var publisher events.Publisher = events.Noop{}
	if cfg.KafkaBrokers != "" {
		writer := events.NewKafkaWriter(cfg.KafkaBrokers)
		defer func() { _ = writer.Close() }()
		publisher = events.NewKafkaPublisher(writer, 5*time.Second)
	}

	var locker booking.Locker
	if cfg.BookingLock {
		locker = booking.NewRedisLocker(rdb, "voicebook:lock:", cfg.LockTTL, cfg.LockWait)
		logger.Info("per-tenant booking lock enabled", "ttl", cfg.LockTTL, "wait", cfg.LockWait)
	}

	bookings := booking.NewService(booking.Deps{
		Store:     appointments,
		Ledger:    ledger,
		Rules:     rules,
		Checker:   checker,
		Calendars: connector,
		Events:    publisher,
		Locker:    locker,
		Metrics:   m,
		Logger:    logger,
	})
	slots := availability.NewGenerator(rules, checker, connector)
	authenticator := tenancy.NewAuthenticator(tenants)
	tools := handlers.NewToolSet(bookings, slots, rules, m, logger)

	processor := ingestion.NewProcessor(
		callplatform.NewClient(cfg.CallPlatformURL, cfg.CallPlatformAPIKey, transport),
		callLogs,
		tenants,
		newSender(cfg, transport, logger),
		cfg.EmailFrom,
		publisher,
		logger,
	)
	dispatcher := ingestion.NewDispatcher(processor.Process, logger, m, ingestion.DispatcherConfig{
		Workers:   cfg.IngestWorkers,
		QueueSize: cfg.IngestQueueSize,
		Timeout:   cfg.IngestTimeout,
	})
	dispatcher.Start()

	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
	if rdb != nil {
		checks = append(checks, runtime.ReadyCheck{
			Name:     "redis",
			Optional: !cfg.BookingLock,
			Check:    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}
	if cfg.KafkaBrokers != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Optional: true, Check: kafkax.ReadyCheck(cfg.KafkaBrokers)})
	}
	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/metrics", m.Handler())

	limit := rateLimit(cfg, rdb, logger)
	handlers.NewToolHandler(authenticator, tools, logger).Register(mux, limit)
	webhook := handlers.NewWebhookHandler(authenticator, dispatcher, logger)
	mux.HandleFunc("/webhook", webhook.CallEvent)

	var mcpHandler http.Handler = mcptools.Handler(mcptools.NewServer(tools, version), authenticator, logger)
	if limit != nil {
		mcpHandler = limit(mcpHandler)
	}
	mux.Handle(mcptools.EndpointPath, mcpHandler)

	if cfg.GoogleEnabled() {
		oauth := handlers.NewOAuthHandler(authenticator, oauthCfg, tenants, connector, cfg.OAuthStateSecret, logger)
		mux.HandleFunc("/oauth/google/start", oauth.Start)
		mux.HandleFunc("/oauth/google/callback", oauth.Callback)
	} else {
		logger.Warn("google oauth not configured; calendar connection routes disabled")
	}

	// MCP streams must not be cut by the per-request timeout.
	timed := httpx.WithTimeout(cfg.RequestTimeout)(mux)
	root := http.NewServeMux()
	root.Handle("/", timed)
	root.Handle(mcptools.EndpointPath, mux)

	httpHandler := httpx.Chain(root,
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger, "/healthz", "/readyz", "/metrics"),
		httpx.WithBodyLimit(cfg.BodyLimitBytes),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if cfg.GRPCPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		hs := grpcx.NewHealthServer(logger)
		hs.SetServing(true)
		go func() {
			if err := hs.Serve(ctx, lis); err != nil {
				logger.Error("grpc health server error", "err", err)
			}
		}()
	}

	runtime.Serve(ctx, logger, srv, cfg.ShutdownTimeout)

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := dispatcher.Shutdown(drainCtx); err != nil {
		logger.Error("call ingestion drain incomplete", "err", err)
	}
	return nil
}

func newSender(cfg Config, transport http.RoundTripper, logger *slog.Logger) email.Sender {
	switch cfg.EmailProvider {
	case "smtp":
		return email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
	case "noop":
		logger.Warn("email provider is noop; call summaries will not be delivered")
		return email.NoopSender{}
	default:
		return email.NewAPISender(cfg.EmailAPIURL, cfg.EmailAPIKey, transport)
	}
}

// rateLimit returns nil when RATE_LIMIT_PER_MINUTE is 0. Buckets are per tool token.
func rateLimit(cfg Config, rdb *redis.Client, logger *slog.Logger) httpx.Middleware {
	if cfg.RateLimitPerMinute <= 0 {
		return nil
	}
	key := httpx.QueryTokenKey("token")
	if rdb != nil {
		return httpx.NewRedisRateLimiter(rdb, httpx.RedisRateLimiterOptions{
			Limit:    cfg.RateLimitPerMinute,
			Window:   time.Minute,
			Prefix:   "voicebook:rl",
			Key:      key,
			FailOpen: cfg.RateLimitFailOpen,
			Logger:   logger,
		}).Middleware()
	}
	return httpx.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute, key).Middleware()
}
