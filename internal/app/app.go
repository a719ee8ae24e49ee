package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/timelycabs/auth/internal/config"
	"github.com/timelycabs/auth/internal/event"
	handler "github.com/timelycabs/auth/internal/handler/http"
	"github.com/timelycabs/auth/internal/jobs"
	"github.com/timelycabs/auth/internal/repository/postgres"
	"github.com/timelycabs/auth/internal/service"
	"github.com/timelycabs/auth/internal/sms"
	"github.com/timelycabs/auth/internal/throttle"
	"github.com/timelycabs/auth/migrations"
	"github.com/timelycabs/auth/pkg/database"
	"github.com/timelycabs/auth/pkg/health"
	pkgkafka "github.com/timelycabs/auth/pkg/kafka"
	"github.com/timelycabs/auth/pkg/middleware"
	"github.com/timelycabs/auth/pkg/tracing"
)

// App wires together all dependencies and runs the auth service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	httpServer     *http.Server
	tracerShutdown func(context.Context) error

	// background loops started by Run and stopped with its context
	background []func(context.Context)
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.closeClients()
		}
	}()

	// Initialize OpenTelemetry tracing.
	a.tracerShutdown, err = tracing.Init(ctx, tracing.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTelEndpoint,
		SampleRate:     cfg.OTelSampleRate,
		Enabled:        cfg.OTelEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Initialize PostgreSQL connection pool.
	a.pool, err = database.NewPostgresPool(ctx, cfg.Postgres(), logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	if err := database.RegisterPoolMetrics(reg, a.pool, cfg.ServiceName); err != nil {
		return nil, fmt.Errorf("register pool metrics: %w", err)
	}

	// Run database migrations.
	if err := database.RunMigrations(ctx, a.pool, migrations.FS, logger); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	queries, err := database.NewQueryObserver(reg, cfg.ServiceName, cfg.SlowQuery, logger)
	if err != nil {
		return nil, err
	}
	database.SetQueryObserver(queries)

	// Redis backs the shared HTTP throttle. With the memory backend it is
	// only health-checked, so an unreachable Redis is not fatal.
	a.redis, err = database.NewRedisClient(ctx, cfg.Redis())
	if err != nil {
		if cfg.RateLimitBackend == config.RateLimitRedis {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Warn("redis unavailable, continuing without it", slog.String("error", err.Error()))
		a.redis, err = nil, nil
	}

	// Kafka events are optional.
	var events service.EventPublisher = event.Nop{}
	if cfg.KafkaEnabled {
		a.producer = pkgkafka.NewProducer(
			pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers),
			pkgkafka.NewProducerMetrics(reg),
			logger,
		)
		events = event.NewProducer(a.producer, logger)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	sender, err := newSender(cfg, reg, logger)
	if err != nil {
		return nil, err
	}

	// Build the dependency graph.
	store := postgres.NewStore(a.pool)
	metrics := service.NewMetrics(reg)
	otpService := service.NewOTPService(store, sender, service.OTPConfig{
		Length:     cfg.OTPLength,
		TTL:        cfg.OTPTTL,
		Cooldown:   cfg.OTPCooldown,
		MaxPerHour: cfg.OTPMaxPerHour,
		Template:   cfg.SMSTemplate,
	}, metrics, logger)
	sessionService := service.NewSessionService(store, service.SessionConfig{
		TempTTL: cfg.TempSessionTTL,
		TTL:     cfg.SessionTTL,
	}, metrics, logger)
	identityService := service.NewIdentityService(store, logger)
	authService := service.NewAuthService(store, otpService, sessionService, identityService, events, logger)

	cleanup := jobs.NewCleanup(store, cfg.CleanupInterval, cfg.OTPRetention, logger)
	a.background = append(a.background, cleanup.Run)

	limiter := a.newLimiter()

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return a.pool.Ping(ctx)
	})
	if a.redis != nil {
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		})
	}
	if a.producer != nil {
		healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
			return a.producer.Ping(ctx)
		})
	}

	// HTTP router.
	router := handler.NewRouter(handler.RouterConfig{
		ServiceName: cfg.ServiceName,
		Auth:        authService,
		Users:       identityService,
		Health:      healthHandler,
		Limiter:     limiter,
		Metrics:     middleware.NewHTTPMetrics(reg, cfg.ServiceName),
		Gatherer:    reg,
		CORS: handler.CORSConfig{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			Environment:    cfg.Environment,
		},
		Logger: logger,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// newSender selects the SMS provider and wraps it in a circuit breaker.
func newSender(cfg *config.Config, reg prometheus.Registerer, logger *slog.Logger) (sms.Sender, error) {
	var sender sms.Sender
	switch cfg.SMSProvider {
	case config.SMSProviderTwilio:
		tw, err := sms.NewTwilioSender(sms.TwilioConfig{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			FromNumber: cfg.TwilioFromNumber,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init twilio sender: %w", err)
		}
		sender = tw
	default:
		logger.Warn("using mock SMS provider, codes are written to the log")
		sender = sms.NewLogSender(logger)
	}
	logger.Info("sms provider initialized", slog.String("provider", cfg.SMSProvider))

	return sms.NewBreaker(sender, sms.BreakerConfig{
		Name:                "sms-" + cfg.SMSProvider,
		ConsecutiveFailures: cfg.SMSBreakerFailures,
		Timeout:             cfg.SMSBreakerTimeout,
	}, reg, logger), nil
}

// newLimiter builds the per-IP HTTP throttle for the configured backend.
func (a *App) newLimiter() middleware.Limiter {
	if a.cfg.RateLimitBackend == config.RateLimitRedis {
		return throttle.NewRedisLimiter(a.redis, a.cfg.RateLimitRequests, a.cfg.RateLimitWindow)
	}
	mem := throttle.NewMemoryLimiter(a.cfg.RateLimitRequests, a.cfg.RateLimitWindow)
	a.background = append(a.background, mem.Run)
	return mem
}

// Run starts the HTTP server and background loops and blocks until the
// context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	bgCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()
	for _, run := range a.background {
		go run(bgCtx)
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		stopBackground()
		_ = a.Shutdown()
		return err
	}

	stopBackground()
	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka producer, Redis and the PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests.
	httpCtx, httpCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Flush pending spans after HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 3. Close clients.
	errs = append(errs, a.closeClients())

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeClients() error {
	var errs []error
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return errors.Join(errs...)
}
