package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/frontrow/suitesync/internal/config"
	"github.com/frontrow/suitesync/internal/metrics"
	"github.com/frontrow/suitesync/internal/notify"
	"github.com/frontrow/suitesync/internal/remote"
	"github.com/frontrow/suitesync/internal/server"
	"github.com/frontrow/suitesync/internal/service"
	"github.com/frontrow/suitesync/internal/store"
	"github.com/frontrow/suitesync/internal/util/workerpool"
)

// notifier is any backend speaking both directions of the change channel.
type notifier interface {
	notify.Publisher
	notify.Subscriber
}

func main() {
	// Load configuration first so the logger honors the configured level.
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("user_id", cfg.Identity.UserID),
		zap.String("remote_backend", cfg.Remote.Backend),
		zap.String("notify_backend", cfg.Notify.Backend))

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		logger.Fatal("Failed to create data directory", zap.Error(err))
	}

	m := metrics.NewMetrics()

	// Remote record store
	var recordStore remote.Store
	switch cfg.Remote.Backend {
	case "redis":
		recordStore, err = remote.NewRedisStore(cfg.Remote.RedisAddr, cfg.Remote.RedisPassword, cfg.Remote.RedisDB, logger)
		if err != nil {
			logger.Fatal("Failed to connect to redis record store", zap.Error(err))
		}
	default:
		recordStore = remote.NewMemoryStore()
	}

	// Change notification backend
	var changeBus notifier
	switch cfg.Notify.Backend {
	case "redis":
		changeBus, err = notify.NewRedisNotifier(cfg.Notify.RedisAddr, cfg.Notify.RedisPassword, cfg.Notify.RedisDB, logger)
		if err != nil {
			logger.Fatal("Failed to connect to redis notifier", zap.Error(err))
		}
	case "amqp":
		changeBus, err = notify.NewAMQPNotifier(cfg.Notify.AMQPURL, logger)
		if err != nil {
			logger.Fatal("Failed to connect to amqp notifier", zap.Error(err))
		}
	default:
		changeBus = notify.NewLoopback()
	}
	defer changeBus.Close()

	// Local persistence
	journalPath := cfg.Queue.JournalPath
	if journalPath == "" {
		journalPath = filepath.Join(cfg.Storage.DataDir, "queue.json")
	}
	journal, err := store.NewQueueJournal(journalPath, logger)
	if err != nil {
		logger.Fatal("Failed to open queue journal", zap.Error(err))
	}
	concertSnapshot, err := store.NewConcertStore(filepath.Join(cfg.Storage.DataDir, "concerts.json"), logger)
	if err != nil {
		logger.Fatal("Failed to open concert snapshot", zap.Error(err))
	}

	// Services
	queue := service.NewOfflineQueue(journal, cfg.Queue.MaxRetries, cfg.Queue.DrainInterval, logger, m)

	tokenPolicy := service.TokenPolicy{
		ReuseWindow:  cfg.Token.ReuseWindow,
		RejoinWindow: cfg.Token.RejoinWindow,
		PruneWindow:  cfg.Token.CachePruneWindow,
	}
	tokens := service.NewTokenService(recordStore, tokenPolicy, logger, m)

	conflicts := service.NewConflictService(logger, m)

	pool := workerpool.NewWorkerPool(&workerpool.Config{
		Name:   "concert-push",
		Logger: logger,
	})

	engine := service.NewSyncService(recordStore, tokens, queue, changeBus,
		cfg.Identity.UserID, cfg.Identity.DisplayName, logger, m)
	engine.SetRemoteRetry(service.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
	}, cfg.Remote.OpTimeout)

	concerts := service.NewConcertRepository(concertSnapshot, recordStore, conflicts, pool, logger, m)
	concerts.SetEngine(engine)
	engine.SetConcertSyncer(concerts)
	queue.SetExecutor(engine)

	engine.SetSuiteDeletionHandler(func(suiteID string) {
		logger.Warn("Suite was deleted by its owner", zap.String("suite_id", suiteID))
	})

	if err := concerts.Load(); err != nil {
		logger.Fatal("Failed to load local concerts", zap.Error(err))
	}
	if err := queue.Load(); err != nil {
		logger.Fatal("Failed to load offline queue", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := changeBus.Subscribe(ctx, func(sig notify.Signal) {
		engine.HandleChangeSignal(ctx, sig)
	}); err != nil {
		logger.Fatal("Failed to subscribe to change signals", zap.Error(err))
	}

	tokens.Start()
	defer tokens.Stop()

	queue.Start(ctx)
	defer queue.Stop()

	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = server.NewMetricsServer(
			&server.MetricsServerConfig{Port: cfg.Metrics.Port},
			m, queue, engine, pool, logger,
		)
		if err := metricsServer.Start(); err != nil {
			logger.Fatal("Failed to start metrics server", zap.Error(err))
		}
	}

	logger.Info("Suite sync daemon started",
		zap.String("user_id", cfg.Identity.UserID))

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")
	cancel()

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error("Metrics server shutdown failed", zap.Error(err))
		}
	}
	if err := pool.Stop(cfg.Remote.OpTimeout); err != nil {
		logger.Error("Worker pool shutdown timed out", zap.Error(err))
	}
}

// initLogger initializes the zap logger from config.
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zcfg.Level = level
	return zcfg.Build()
}
