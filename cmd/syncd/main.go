package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/panjf2000/ants/v2"

	"github.com/moneybrain/syncd/internal/api"
	"github.com/moneybrain/syncd/internal/config"
	mongostore "github.com/moneybrain/syncd/internal/data/mongo"
	pgstore "github.com/moneybrain/syncd/internal/data/postgres"
	"github.com/moneybrain/syncd/internal/domain/transaction"
	"github.com/moneybrain/syncd/internal/logger"
	"github.com/moneybrain/syncd/internal/platform/connectivity"
	"github.com/moneybrain/syncd/internal/platform/messaging"
	"github.com/moneybrain/syncd/internal/platform/persistence"
	"github.com/moneybrain/syncd/internal/platform/storage"
	"github.com/moneybrain/syncd/internal/sync/cache"
	"github.com/moneybrain/syncd/internal/sync/coordinator"
	"github.com/moneybrain/syncd/internal/sync/orchestrator"
	"github.com/moneybrain/syncd/internal/sync/queue"
)

func main() {
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	cfg, err := config.LoadConfig("syncd")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg)

	// Remote store, selected by config.
	var remote transaction.Store
	var closeRemote func()
	switch cfg.Remote.Backend {
	case config.BackendPostgres:
		postgresDB, err := persistence.NewPostgresDB(appCtx, log, &cfg.Postgres)
		if err != nil {
			log.Error("Failed to initialize PostgreSQL", "error", err)
			os.Exit(1)
		}
		remote = pgstore.NewTransactionStore(log, postgresDB)
		closeRemote = postgresDB.Close
	case config.BackendMongo:
		mongoDB, err := persistence.NewMongoDB(appCtx, log, &cfg.MongoDB)
		if err != nil {
			log.Error("Failed to initialize MongoDB", "error", err)
			os.Exit(1)
		}
		remote = mongostore.NewTransactionStore(log, mongoDB.Database())
		closeRemote = func() {
			if err := mongoDB.Close(context.Background()); err != nil {
				log.Error("Error closing MongoDB connection", "error", err)
			}
		}
	default:
		log.Error("Unknown remote backend", "backend", cfg.Remote.Backend)
		os.Exit(1)
	}
	remote = transaction.Bound(remote, cfg.Remote.Timeout)

	// Device store for the durable queue and read cache.
	var kv storage.KV
	var closeKV func() error
	switch cfg.Storage.Driver {
	case config.StorageSQLite:
		sqliteKV, err := storage.NewSQLiteKV(appCtx, log, cfg.Storage.Path)
		if err != nil {
			log.Error("Failed to open device storage", "path", cfg.Storage.Path, "error", err)
			os.Exit(1)
		}
		kv = sqliteKV
		closeKV = sqliteKV.Close
	default:
		kv = storage.NewMemoryKV()
		closeKV = func() error { return nil }
	}

	// Optional dead-letter export; nil when no topic is configured.
	deadLetters, err := messaging.NewDeadLetterPublisher(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize dead-letter publisher", "error", err)
		os.Exit(1)
	}

	pool, err := ants.NewPool(cfg.WorkerPool.Size)
	if err != nil {
		log.Error("Failed to create worker pool", "error", err)
		os.Exit(1)
	}

	// Sync engine wiring.
	monitor := connectivity.NewMonitor(log, remote, cfg.Connectivity.ProbeInterval, cfg.Connectivity.ProbeTimeout)
	mutationQueue := queue.New(log, kv)
	readCache := cache.New(log, kv)
	engine := orchestrator.New(log, mutationQueue, remote, monitor, deadLetters, cfg.Sync.UserID, cfg.Sync.MaxRetries, cfg.Sync.Interval)
	coord := coordinator.New(log, remote, mutationQueue, readCache, monitor, engine, pool, cfg.Sync.UserID, cfg.Sync.PageSize)

	monitor.Start(appCtx)
	go engine.Start(appCtx, monitor.Subscribe())
	coord.Start(appCtx)

	server := api.NewServer(log, cfg, coord, engine)
	log.Info("REST server initialized")

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "port", cfg.Server.Port)
		if err := server.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	var serverErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Server error occurred", "error", err)
		serverErr = err
	}

	cancelAppCtx()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	log.Info("Starting graceful shutdown...")

	if err = server.Stop(shutdownCtx); err != nil {
		log.Error("Error during server shutdown", "error", err)
	}

	pool.Release()

	if err = deadLetters.Close(); err != nil {
		log.Error("Error closing dead-letter publisher", "error", err)
	}

	if closeRemote != nil {
		closeRemote()
	}

	if err = closeKV(); err != nil {
		log.Error("Error closing device storage", "error", err)
	}

	if serverErr != nil {
		log.Error("HTTP server shutdown with errors", "error", serverErr)
	} else {
		log.Info("Server shutdown completed successfully")
	}
}
