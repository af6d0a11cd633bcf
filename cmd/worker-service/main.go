package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/vendorops/backend/internal/config"
	"github.com/vendorops/backend/internal/domain"
	"github.com/vendorops/backend/internal/events"
	"github.com/vendorops/backend/internal/migrate"
	"github.com/vendorops/backend/internal/queue"
	"github.com/vendorops/backend/internal/worker"
	"github.com/vendorops/backend/shared/logger"
	"github.com/vendorops/backend/shared/postgresql"
	"github.com/vendorops/backend/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	if err := migrate.Run(context.Background(), dbClient.GetDB()); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	jobStore := queue.NewStore(dbClient.GetDB(), appLogger.Logger, cfg.Queue.MaxAttempts)

	// Event fan-out is optional; an empty events host leaves publisher nil
	// and terminal transitions simply go unannounced.
	var publisher *events.Publisher
	var rabbitClient *rabbitmq.Client
	if cfg.Events.Enabled() {
		rabbitClient, err = initRabbitMQ(&cfg.Events, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		publisher = events.NewPublisher(rabbitClient, appLogger.Logger)
		appLogger.Info("Job event publishing enabled",
			slog.String("exchange", cfg.Events.Exchange),
		)
	}

	registry := worker.NewRegistry()
	importer := worker.NewCSVImporter(cfg.Worker.UploadDir, appLogger.Logger)
	importHandler := worker.NewImportHandler(importer)
	registry.Register(domain.KindProductsImport, importHandler)
	registry.Register(domain.KindCustomersImport, importHandler)

	pool := worker.NewPool(&worker.Config{
		Logger:       appLogger.Logger,
		Store:        jobStore,
		Registry:     registry,
		Publisher:    publisher,
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
		ErrorBackoff: cfg.Worker.ErrorBackoff,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)

	// Reclaim jobs stranded by crashed workers.
	stuckTimeout := cfg.Queue.StuckTimeout
	if stuckTimeout <= 0 {
		stuckTimeout = 10 * time.Minute
	}
	stuckInterval := cfg.Queue.StuckSweepInterval
	if stuckInterval <= 0 {
		stuckInterval = time.Minute
	}
	go jobStore.RunStuckSweep(ctx, stuckInterval, stuckTimeout)

	appLogger.Info("Worker service started successfully",
		slog.Int("concurrency", cfg.Worker.Concurrency),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	appLogger.Info("Received signal, shutting down gracefully",
		slog.String("signal", sig.String()),
	)

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker pool stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	if dbClient != nil {
		dbClient.Close()
	}
	if rabbitClient != nil {
		rabbitClient.Close()
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the AMQP client for job event publishing
func initRabbitMQ(cfg *config.EventsConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	exchangeType := cfg.ExchangeType
	if exchangeType == "" {
		exchangeType = "topic"
	}

	rabbitConfig := &rabbitmq.Config{
		Host:              cfg.Host,
		Port:              cfg.Port,
		User:              cfg.User,
		Password:          cfg.Password,
		VHost:             cfg.VHost,
		ExchangeName:      cfg.Exchange,
		ExchangeType:      exchangeType,
		ExchangeDurable:   true,
		RoutingKey:        cfg.RoutingKey,
		RetryAttempts:     cfg.RetryAttempts,
		RetryInterval:     cfg.RetryInterval,
		Heartbeat:         cfg.Heartbeat,
		PublishRetries:    cfg.PublishRetries,
		PublishRetryDelay: cfg.PublishRetryDelay,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
