package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/leadlift/attribution/internal/adapter"
	"github.com/leadlift/attribution/internal/config"
	"github.com/leadlift/attribution/internal/gate"
	"github.com/leadlift/attribution/internal/logger"
	"github.com/leadlift/attribution/internal/messaging"
	"github.com/leadlift/attribution/internal/pipeline"
	"github.com/leadlift/attribution/internal/providers/jetstream"
	"github.com/leadlift/attribution/internal/resolver"
	"github.com/leadlift/attribution/internal/session"
	"github.com/leadlift/attribution/internal/storage"
	"github.com/leadlift/attribution/internal/store"
	"github.com/leadlift/attribution/internal/synthetic"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
	migrate    = flag.Bool("migrate", false, "Run schema migrations before starting")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadPipelineConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "pipeline",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting attribution pipeline")

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err))
	}

	// Configure connection pool
	if err := store.ConfigureConnectionPool(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime); err != nil {
		logger.FatalCtx(ctx, "Failed to configure connection pool", zap.Error(err))
	}
	logger.InfoCtx(ctx, "Connected to database",
		zap.Int("max_open_conns", cfg.Database.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.Database.MaxIdleConns),
	)

	if *migrate {
		if err := store.AutoMigrate(db); err != nil {
			logger.FatalCtx(ctx, "Failed to run migrations", zap.Error(err))
		}
		logger.InfoCtx(ctx, "Migrations applied")
	}

	// Initialize store and adapters
	dataStore := store.NewPGStore(db)
	jsonAdapter := adapter.NewJSON()
	clock := adapter.NewClock()

	// Initialize batch reader: real bucket or synthetic source
	var reader pipeline.BatchReader
	if cfg.Synthetic.Enabled {
		generator := synthetic.NewGenerator(cfg.Synthetic.ClientID, cfg.Synthetic.Domain, clock, cfg.Synthetic.Seed)
		reader = synthetic.NewReader(generator, clock, cfg.Synthetic.BatchSize, cfg.Synthetic.Visitors)
		logger.InfoCtx(ctx, "Using synthetic event source",
			zap.String("client_id", cfg.Synthetic.ClientID),
			zap.Int64("seed", cfg.Synthetic.Seed),
		)
	} else {
		objects, err := adapter.NewS3Storage(ctx, adapter.S3Config{
			Bucket:   cfg.Storage.Bucket,
			Region:   cfg.Storage.Region,
			Endpoint: cfg.Storage.Endpoint,
		})
		if err != nil {
			logger.FatalCtx(ctx, "Failed to initialize object storage", zap.Error(err))
		}
		reader = storage.NewReader(objects, jsonAdapter, cfg.Storage.Prefix, cfg.Storage.Workers)
		logger.InfoCtx(ctx, "Connected to object storage",
			zap.String("bucket", cfg.Storage.Bucket),
			zap.String("prefix", cfg.Storage.Prefix),
		)
	}

	// Initialize publisher
	var publisher messaging.Publisher
	publisher, err = jetstream.NewPublisher(ctx, jetstream.Config{
		URL:            cfg.NATS.URL,
		StreamName:     cfg.NATS.StreamName,
		MaxReconnects:  cfg.NATS.MaxReconnects,
		ReconnectWait:  cfg.NATS.ReconnectWait,
		ConnectionName: cfg.NATS.ConnectionName,
	}, adapter.NewNatsJetStream(), jsonAdapter)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to NATS", zap.Error(err), zap.String("url", cfg.NATS.URL))
	}
	defer publisher.Close()
	logger.InfoCtx(ctx, "Connected to NATS", zap.String("stream", cfg.NATS.StreamName))

	// Initialize pipeline runner
	runner := pipeline.NewRunner(
		pipeline.Config{
			PollInterval: cfg.Pipeline.PollInterval,
			Session: session.Config{
				Window:            cfg.Pipeline.SessionWindow,
				TrailingAllowance: cfg.Pipeline.TrailingPageAllowance,
			},
			RechargeThreshold: cfg.Pipeline.RechargeThreshold,
		},
		reader,
		resolver.NewResolver(dataStore, resolver.AmbiguityPolicy(cfg.Pipeline.ResolverAmbiguityPolicy)),
		gate.NewGate(dataStore, clock),
		dataStore,
		publisher,
		clock,
	)

	// Start the pipeline in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := runner.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	// Wait for interrupt signal or error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errChan:
		logger.ErrorCtx(ctx, err)
	}

	// Cancel context to stop the pipeline
	cancel()

	// Give the pipeline time to shut down gracefully
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()

	if err := runner.Stop(shutdownCtx); err != nil {
		logger.ErrorCtx(shutdownCtx, err)
	}

	logger.InfoCtx(shutdownCtx, "Pipeline stopped")
}
