package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"novel-workflow/internal/blob"
	"novel-workflow/internal/config"
	"novel-workflow/internal/continuation"
	"novel-workflow/internal/generator"
	"novel-workflow/internal/handler"
	"novel-workflow/internal/status"
	"novel-workflow/internal/worker"
	"novel-workflow/internal/workflow"
	"novel-workflow/shared/authutils"
	"novel-workflow/shared/database"
	"novel-workflow/shared/interfaces"
	sharedLogger "novel-workflow/shared/logger"
	"novel-workflow/shared/messaging"
)

// memoryDrainInterval - как часто API в режиме EVENT_BUS=memory доставляет накопленные события.
const memoryDrainInterval = 500 * time.Millisecond

func main() {
	// --- Configuration ---
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.RequireJWT(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// --- Logger Setup ---
	logger, err := sharedLogger.New(cfg.LoggerConfig("novel-api"))
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	cfg.LogSummary(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- External Connections ---
	retry := database.RetryConfig{MaxAttempts: cfg.StoreConnectAttempts, Delay: cfg.StoreConnectDelay}
	pgPool, err := database.ConnectPostgres(ctx, database.PoolConfig{
		DSN:         cfg.GetDSN(),
		MaxConns:    cfg.DBMaxConns,
		MaxConnIdle: cfg.DBIdleTimeout,
	}, retry, logger.Named("Postgres"))
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer pgPool.Close()

	var (
		redisClient *redis.Client
		limiter     interfaces.RateLimiter
	)
	if cfg.RedisAddr != "" {
		redisClient, err = database.ConnectRedis(ctx, &redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, retry, logger.Named("Redis"))
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		limiter = database.NewRedisRateLimiter(redisClient, cfg.WorkflowStartLimit, cfg.WorkflowStartWindow, logger)
	} else {
		logger.Warn("REDIS_ADDR is empty, workflow start limits are kept in process memory")
		limiter = database.NewMemoryRateLimiter(cfg.WorkflowStartLimit, cfg.WorkflowStartWindow, logger)
	}

	blobs, err := blob.NewFileStore(cfg.BlobPath, cfg.BlobPublicBaseURL, logger)
	if err != nil {
		logger.Fatal("Failed to initialize blob store", zap.Error(err))
	}

	// --- Repositories ---
	ledger := database.NewPgGenerationRequestRepository(pgPool, logger)
	stories := database.NewPgStoryRepository(pgPool, logger)
	episodes := database.NewPgEpisodeRepository(pgPool, logger)
	preferences := database.NewPgPreferenceRepository(pgPool, logger)

	// --- Event Bus ---
	var publisher messaging.EventPublisher
	switch cfg.EventBus {
	case config.EventBusMemory:
		bus := messaging.NewInMemoryBus()
		if err := subscribeInProcessWorkers(bus, cfg, worker.Dependencies{
			Ledger:    ledger,
			Stories:   stories,
			Episodes:  episodes,
			Blobs:     blobs,
			Publisher: bus,
		}, logger); err != nil {
			logger.Fatal("Failed to start in-process workers", zap.Error(err))
		}
		go drainLoop(ctx, bus, logger)
		publisher = bus
		logger.Warn("EVENT_BUS=memory: pipeline events are handled inside the API process")
	default:
		mqConn, err := messaging.Connect(cfg.RabbitMQURL, cfg.RabbitMQConnectTries, cfg.RabbitMQConnectDelay, logger.Named("RabbitMQ"))
		if err != nil {
			logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
		defer mqConn.Close()
		if err := declareTopology(mqConn, cfg, logger); err != nil {
			logger.Fatal("Failed to declare RabbitMQ topology", zap.Error(err))
		}
		publisher, err = messaging.NewRabbitMQEventPublisher(mqConn, messaging.PublisherConfig{
			AppID:          "novel-api",
			PublishTimeout: cfg.PublishTimeout,
			MaxAttempts:    cfg.PublishMaxAttempts,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to create event publisher", zap.Error(err))
		}
	}
	if closer, ok := publisher.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	// --- Services ---
	coordinator := workflow.NewCoordinator(ledger, preferences, limiter, publisher, workflow.Config{
		PerStoryEstimate: cfg.PerStoryEstimate,
	}, logger)
	aggregator := status.NewAggregator(ledger, stories, episodes, blobs, logger)
	resolver := continuation.NewResolver(stories, episodes, ledger, publisher, continuation.Config{
		PerEpisodeEstimate: cfg.PerEpisodeEstimate,
	}, logger)

	verifier, err := authutils.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer, logger)
	if err != nil {
		logger.Fatal("Failed to create JWT verifier", zap.Error(err))
	}

	// --- HTTP Server Setup (Gin) ---
	h := handler.NewHandler(coordinator, aggregator, resolver, cfg.StatusPollInterval, logger)
	routerOpts := handler.RouterOptions{
		Debug:          cfg.Env == "development",
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Verifier:       verifier.VerifyToken,
		IPRateWindow:   cfg.IPRateLimitWindow,
		IPRateLimit:    cfg.IPRateLimitBurst,
		ContentRoot:    blobs.Root(),
		EnableMetrics:  true,
	}
	if redisClient != nil {
		routerOpts.RedisClient = redisClient
	}
	router := handler.NewRouter(h, routerOpts, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP Server listen error", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP Server forced to shutdown", zap.Error(err))
	}
	logger.Info("Server exiting")
}

func declareTopology(conn *amqp.Connection, cfg *config.Config, logger *zap.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()
	return messaging.DeclareTopology(ch, messaging.TopologyConfig{
		MaxEventAge:   cfg.MaxEventAge,
		DeliveryLimit: cfg.EventDeliveryLimit,
	}, logger)
}

// subscribeInProcessWorkers подписывает воркеры пайплайна на шину в памяти.
func subscribeInProcessWorkers(bus *messaging.InMemoryBus, cfg *config.Config, deps worker.Dependencies, logger *zap.Logger) error {
	text, err := generator.NewTextClient(cfg, logger)
	if err != nil {
		return err
	}
	image, err := generator.NewImageClient(cfg, logger)
	if err != nil {
		return err
	}
	deps.Generator = generator.NewGenerator(text, image, generator.RetryConfig{
		MaxAttempts: cfg.AIMaxAttempts,
		BaseDelay:   cfg.AIBaseRetryDelay,
	}, logger)
	for dt, h := range worker.Handlers(deps, logger) {
		bus.Subscribe(dt, h)
	}
	return nil
}

func drainLoop(ctx context.Context, bus *messaging.InMemoryBus, logger *zap.Logger) {
	ticker := time.NewTicker(memoryDrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := bus.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("In-memory bus drain failed", zap.Error(err))
			}
		}
	}
}
