package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/rNLKJA/moodist-server/pkg/database"
	"github.com/rNLKJA/moodist-server/pkg/health"
	pkgkafka "github.com/rNLKJA/moodist-server/pkg/kafka"
	"github.com/rNLKJA/moodist-server/pkg/middleware"
	"github.com/rNLKJA/moodist-server/pkg/tracing"

	"github.com/rNLKJA/moodist-server/internal/config"
	"github.com/rNLKJA/moodist-server/internal/credential"
	"github.com/rNLKJA/moodist-server/internal/directory"
	"github.com/rNLKJA/moodist-server/internal/event"
	handler "github.com/rNLKJA/moodist-server/internal/handler/http"
	"github.com/rNLKJA/moodist-server/internal/identity"
	"github.com/rNLKJA/moodist-server/internal/mailer"
	"github.com/rNLKJA/moodist-server/internal/notify"
	"github.com/rNLKJA/moodist-server/internal/ratelimit"
	mongorepo "github.com/rNLKJA/moodist-server/internal/repository/mongo"
	"github.com/rNLKJA/moodist-server/internal/service"
	"github.com/rNLKJA/moodist-server/internal/token"
	"github.com/rNLKJA/moodist-server/internal/verification"
)

// App wires together all dependencies and runs the moodist server.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	db             *mongo.Database
	redisClient    *redis.Client
	producer       *pkgkafka.Producer
	consumers      []*pkgkafka.Consumer
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "moodist-server",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Connect to MongoDB.
	db, err := database.NewMongoDatabase(ctx, database.MongoConfig{
		URI:            cfg.MongoURI,
		Database:       cfg.MongoDatabase,
		MaxPoolSize:    cfg.MongoMaxPoolSize,
		MinPoolSize:    cfg.MongoMinPoolSize,
		ConnectTimeout: 10 * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	logger.Info("connected to MongoDB", slog.String("database", cfg.MongoDatabase))

	if err := ensureIndexes(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}

	// Connect to Redis.
	redisClient, err := database.NewRedisClient(ctx, database.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to Redis", slog.String("host", cfg.RedisHost))

	// Initialize Kafka producer.
	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))

	// Durations were validated at config load.
	accessExpiry, _ := time.ParseDuration(cfg.JWTAccessExpiry)
	refreshExpiry, _ := time.ParseDuration(cfg.JWTRefreshExpiry)
	loginWindow, _ := time.ParseDuration(cfg.LoginRateWindow)
	reportingLoc, _ := time.LoadLocation(cfg.ReportingTimezone)

	if cfg.PasswordPepper == "" {
		logger.Warn("PASSWORD_PEPPER is not set; password hashes carry no server-side pepper")
	}

	// Build the dependency graph.
	stores := mongorepo.NewAccountStores(db)
	sessionRepo := mongorepo.NewSessionStore(db)
	connectionRepo := mongorepo.NewConnectionStore(db)
	verificationRepo := mongorepo.NewVerificationStore(db)
	moodLogRepo := mongorepo.NewMoodLogStore(db)

	dir := directory.New(stores)
	eventProducer := event.NewProducer(producer, logger)
	sessions := token.NewSessionManager(cfg.JWTSecret, accessExpiry, refreshExpiry)
	revocations := token.NewRedisRevocationList(redisClient, "moodist:revoked", accessExpiry)
	limiter := ratelimit.NewLimiter(redisClient, "moodist", cfg.LoginRateLimit, loginWindow)

	accountService := service.NewAccountService(
		stores,
		sessionRepo,
		connectionRepo,
		dir,
		credential.NewHasher(cfg.PasswordPepper),
		sessions,
		token.NewLinkTokenizer(cfg.LinkTokenSecret),
		verification.NewService(verificationRepo),
		identity.NewAllocator(stores),
		limiter,
		revocations,
		eventProducer,
		logger,
	)
	connectionService := service.NewConnectionService(connectionRepo, dir, eventProducer, logger)
	moodService := service.NewMoodService(moodLogRepo, connectionRepo, reportingLoc, eventProducer, logger)

	// Notification consumers deliver mail for account and connection events.
	var sender mailer.Sender
	if cfg.MailMock {
		sender = mailer.NewMockSender(logger)
	} else {
		sender = mailer.NewHTTPSender(mailer.HTTPSenderConfig{
			BaseURL: cfg.MailBaseURL,
			APIKey:  cfg.MailAPIKey,
			From:    cfg.MailFrom,
		}, logger)
	}
	worker := notify.NewWorker(sender, cfg.FrontendBaseURL, logger)
	idempotency := pkgkafka.NewRedisIdempotencyStore(redisClient, "moodist:notify", 24*time.Hour)
	consumers := notify.NewConsumers(cfg.KafkaBrokers, worker, idempotency, logger)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.Register("mongodb", func(ctx context.Context) error {
		return db.Client().Ping(ctx, readpref.Primary())
	})
	healthHandler.Register("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})
	healthHandler.Register("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})

	// HTTP router.
	router := handler.NewRouter(
		accountService,
		connectionService,
		moodService,
		sessions,
		revocations,
		healthHandler,
		logger,
		middleware.CORSConfig{AllowedOrigins: cfg.CORSAllowedOrigins},
	)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		db:             db,
		redisClient:    redisClient,
		producer:       producer,
		consumers:      consumers,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// ensureIndexes creates the MongoDB indexes for every collection.
func ensureIndexes(ctx context.Context, db *mongo.Database) error {
	steps := []struct {
		name string
		fn   func(context.Context, *mongo.Database) error
	}{
		{"accounts", mongorepo.EnsureAccountIndexes},
		{"connections", mongorepo.EnsureConnectionIndexes},
		{"sessions", mongorepo.EnsureSessionIndexes},
		{"verifications", mongorepo.EnsureVerificationIndexes},
		{"mood_logs", mongorepo.EnsureMoodLogIndexes},
	}
	for _, s := range steps {
		if err := s.fn(ctx, db); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// Run starts the HTTP server and event consumers, blocking until the context
// is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	consumerCtx, cancelConsumers := context.WithCancel(ctx)
	defer cancelConsumers()
	for _, c := range a.consumers {
		go func(c *pkgkafka.Consumer) {
			if err := c.Start(consumerCtx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("consumer stopped", slog.String("error", err.Error()))
			}
		}(c)
	}

	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in order: the HTTP server drains
// first, then the tracer flushes, then consumers, producer, and storage
// clients close.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	for _, c := range a.consumers {
		if err := c.Close(); err != nil {
			a.logger.Error("consumer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.redisClient.Close(); err != nil {
		a.logger.Error("redis close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	mongoCtx, mongoCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer mongoCancel()
	if err := a.db.Client().Disconnect(mongoCtx); err != nil {
		a.logger.Error("mongodb disconnect error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.logger.Info("application stopped")
	return errors.Join(errs...)
}
