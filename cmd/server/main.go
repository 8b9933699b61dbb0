/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the till reconciliation engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load env config, parse command-line flags
  2. Initialize zap logger and Prometheus metrics
  3. Open the SQLite store (closes + audit log)
  4. Start the audit delivery queue
  5. Wire lifecycle, query service, handlers, router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT; default 8080)
  -db      SQLite database path (overrides DB_PATH; default till.db)
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete
  3. Drain the audit queue
  4. Close the database connection

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Environment configuration
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/till-engine/api"
	"github.com/warp/till-engine/config"
	"github.com/warp/till-engine/observability"
	"github.com/warp/till-engine/posting"
	"github.com/warp/till-engine/recon"
	"github.com/warp/till-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	metrics := observability.NewMetrics()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	// The SQLite store doubles as the audit log; the queue decouples
	// lifecycle callers from its write latency.
	auditQueue := recon.NewAuditQueue(store, recon.AuditQueueConfig{
		Buffer:      cfg.AuditBuffer,
		MaxAttempts: cfg.AuditMaxAttempts,
		BaseBackoff: cfg.AuditBaseBackoff,
	}, logger).WithMetrics(metrics)

	// TODO: replace MemoryJournal with the accounting backend adapter
	// once its posting API is available.
	gateway := posting.NewBreaker(posting.NewMemoryJournal())

	lifecycle := recon.NewCloseLifecycle(store, gateway, auditQueue, logger).WithMetrics(metrics)
	query := recon.NewCloseQueryService(store)
	provider := config.NewStaticProvider(cfg.CounterConfig())

	handler := api.NewHandler(lifecycle, query, provider)
	handler.Audit = store

	router := api.NewRouter(handler, metrics.Registry)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.Int("port", *port),
			zap.String("db", *dbPath),
			zap.String("currency", cfg.Currency),
			zap.String("variance_threshold", cfg.VarianceThreshold.String()),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	if err := auditQueue.Close(ctx); err != nil {
		logger.Error("audit queue did not drain", zap.Error(err))
	}

	logger.Info("server stopped")
}

func newLogger(level string) *zap.Logger {
	zapCfg := zap.NewProductionConfig()
	if err := zapCfg.Level.UnmarshalText([]byte(level)); err != nil {
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}
