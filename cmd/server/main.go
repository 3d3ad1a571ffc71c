/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the trade ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load environment config (.env + env vars), then parse flags
  2. Build the zap logger (production JSON or development console)
  3. Initialize SQLite store
  4. Pick the key locker: Redis when REDIS_ADDR is set, in-process otherwise
  5. Create engine, API handler, audit scheduler and router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS (override environment):
  -port    HTTP server port (HTTP_PORT, default: 8080)
  -db      SQLite database path (DB_PATH, default: ledger.db)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the audit scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database and Redis connections

EXAMPLES:
  ./server -db="./data/ledger.db"
  ALLOW_NEGATIVE_STOCK=false ./server -port=3000
  REDIS_ADDR=localhost:6379 ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/trade-ledger/api"
	"github.com/warp/trade-ledger/config"
	"github.com/warp/trade-ledger/engine"
	"github.com/warp/trade-ledger/lock/redislock"
	"github.com/warp/trade-ledger/store/sqlite"
	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadEnv()

	port := flag.Int("port", cfg.Server.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DB.Path, "SQLite database path")
	flag.Parse()

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, *port, *dbPath, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func run(cfg *config.Config, port int, dbPath string, logger *zap.Logger) error {
	store, err := sqlite.New(dbPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	opts := []engine.Option{
		engine.WithLogger(logger.Named("engine")),
		engine.WithNegativeStock(cfg.Engine.AllowNegativeStock),
	}

	if cfg.Redis.Addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		rdb, err := redislock.NewClient(ctx, redislock.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cancel()
		if err != nil {
			return err
		}
		defer rdb.Close()

		opts = append(opts, engine.WithLocker(redislock.New(rdb,
			redislock.WithTTL(cfg.Redis.LockTTL),
			redislock.WithLogger(logger.Named("lock")))))
		logger.Info("using redis key locker", zap.String("addr", cfg.Redis.Addr))
	}

	eng := engine.New(store, opts...)
	handler := api.NewHandler(eng, store, logger.Named("api"))

	scheduler := api.NewAuditScheduler(eng, logger)
	scheduler.Interval = cfg.Audit.Interval
	scheduler.Start()
	defer scheduler.Stop()

	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins: cfg.Server.CORSAllowedOrigins,
		Scheduler:      scheduler,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", port),
			zap.String("db", dbPath),
			zap.Bool("allow_negative_stock", cfg.Engine.AllowNegativeStock))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
