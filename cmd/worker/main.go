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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"novel-workflow/internal/blob"
	"novel-workflow/internal/config"
	"novel-workflow/internal/generator"
	"novel-workflow/internal/worker"
	"novel-workflow/shared/database"
	sharedLogger "novel-workflow/shared/logger"
	"novel-workflow/shared/messaging"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger, err := sharedLogger.New(cfg.LoggerConfig("novel-worker"))
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	cfg.LogSummary(logger)

	if cfg.EventBus != config.EventBusRabbitMQ {
		logger.Fatal("Worker requires EVENT_BUS=rabbitmq; with EVENT_BUS=memory the API runs the workers itself")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- External Connections ---
	pgPool, err := database.ConnectPostgres(ctx, database.PoolConfig{
		DSN:         cfg.GetDSN(),
		MaxConns:    cfg.DBMaxConns,
		MaxConnIdle: cfg.DBIdleTimeout,
	}, database.RetryConfig{MaxAttempts: cfg.StoreConnectAttempts, Delay: cfg.StoreConnectDelay}, logger.Named("Postgres"))
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer pgPool.Close()

	mqConn, err := messaging.Connect(cfg.RabbitMQURL, cfg.RabbitMQConnectTries, cfg.RabbitMQConnectDelay, logger.Named("RabbitMQ"))
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer mqConn.Close()

	ch, err := mqConn.Channel()
	if err != nil {
		logger.Fatal("Failed to open RabbitMQ channel", zap.Error(err))
	}
	err = messaging.DeclareTopology(ch, messaging.TopologyConfig{
		MaxEventAge:   cfg.MaxEventAge,
		DeliveryLimit: cfg.EventDeliveryLimit,
	}, logger)
	_ = ch.Close()
	if err != nil {
		logger.Fatal("Failed to declare RabbitMQ topology", zap.Error(err))
	}

	publisher, err := messaging.NewRabbitMQEventPublisher(mqConn, messaging.PublisherConfig{
		AppID:          "novel-worker",
		PublishTimeout: cfg.PublishTimeout,
		MaxAttempts:    cfg.PublishMaxAttempts,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create event publisher", zap.Error(err))
	}
	if closer, ok := publisher.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	// --- Dependencies ---
	blobs, err := blob.NewFileStore(cfg.BlobPath, cfg.BlobPublicBaseURL, logger)
	if err != nil {
		logger.Fatal("Failed to initialize blob store", zap.Error(err))
	}
	textClient, err := generator.NewTextClient(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create text generation client", zap.Error(err))
	}
	imageClient, err := generator.NewImageClient(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create image generation client", zap.Error(err))
	}

	deps := worker.Dependencies{
		Ledger:   database.NewPgGenerationRequestRepository(pgPool, logger),
		Stories:  database.NewPgStoryRepository(pgPool, logger),
		Episodes: database.NewPgEpisodeRepository(pgPool, logger),
		Blobs:    blobs,
		Generator: generator.NewGenerator(textClient, imageClient, generator.RetryConfig{
			MaxAttempts: cfg.AIMaxAttempts,
			BaseDelay:   cfg.AIBaseRetryDelay,
		}, logger),
		Publisher: publisher,
	}

	// --- Consumers ---
	g, gctx := errgroup.WithContext(ctx)
	for dt, h := range worker.Handlers(deps, logger) {
		queue := messaging.QueueName(dt.Route())
		for i := 0; i < cfg.ConsumersPerRoute; i++ {
			consumer := messaging.NewConsumer(mqConn, messaging.ConsumerConfig{
				Queue:          queue,
				Prefetch:       cfg.ConsumerPrefetch,
				ReconnectDelay: cfg.ConsumerRetryDelay,
			}, h, logger)
			g.Go(func() error {
				return consumer.Run(gctx)
			})
		}
		logger.Info("Consumers started", zap.String("queue", queue), zap.Int("count", cfg.ConsumersPerRoute))
	}

	// --- Metrics ---
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	metricsSrv := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		logger.Info("Starting metrics server", zap.String("port", cfg.MetricsPort))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("Worker stopped with error", zap.Error(err))
	}
	logger.Info("Worker exiting")
}
