/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the accrual reconciliation server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (YAML file, .env, environment)
  2. Build the zap logger
  3. Open the store (memory, SQLite or PostgreSQL via GORM)
  4. Choose the employee lock (in-process or Redis)
  5. Wire metrics, reconciler, scheduler and HTTP router
  6. Start the scheduler and the server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (optional)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (server.shutdown_timeout_seconds)
  3. Stop the scheduler after its in-flight sweep
  4. Close the store and the Redis client
  5. Exit

EXAMPLES:
  # SQLite file, defaults for everything else
  ./server

  # In-memory store on another port
  ACCRUAL_DB_DRIVER=memory ACCRUAL_PORT=3000 ./server

  # PostgreSQL and Redis locks
  ACCRUAL_DB_DRIVER=postgres ACCRUAL_DB_DSN="postgres://..." \
    ACCRUAL_LOCK_BACKEND=redis ACCRUAL_REDIS_ADDR=redis:6379 ./server

SEE ALSO:
  - config/config.go: Every setting and its environment variable
  - api/server.go: Router configuration
  - timeoff/service.go: Reconciler
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/driver/postgres"

	"github.com/warp/accrual-engine/api"
	"github.com/warp/accrual-engine/config"
	"github.com/warp/accrual-engine/generic"
	memstore "github.com/warp/accrual-engine/generic/store"
	"github.com/warp/accrual-engine/lock"
	"github.com/warp/accrual-engine/logging"
	"github.com/warp/accrual-engine/metrics"
	"github.com/warp/accrual-engine/store/gormstore"
	"github.com/warp/accrual-engine/store/sqlite"
	"github.com/warp/accrual-engine/timeoff"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(logging.Config{
		Environment: cfg.Environment,
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}

	err = run(cfg, log)
	if err != nil {
		log.Error("server exited", zap.Error(err))
	}
	_ = log.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	// Initialize store
	store, closeStore, err := openStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore.Close()
	log.Info("store ready", zap.String("driver", cfg.Database.Driver))

	// Initialize lock
	locker, closeLock, err := openLocker(cfg.Lock)
	if err != nil {
		return fmt.Errorf("open lock: %w", err)
	}
	defer closeLock.Close()
	log.Info("lock ready", zap.String("backend", cfg.Lock.Backend))

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Reconciler and scheduler
	reconciler := timeoff.NewReconciler(store, locker, m, log)
	reconciler.LockTimeout = cfg.Lock.WaitTimeout

	scheduler := api.NewScheduler(reconciler, store, m, log)
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.Interval = cfg.Scheduler.Interval
	scheduler.Workers = cfg.Scheduler.Workers

	// Handler and router
	handler := api.NewHandler(reconciler, store, scheduler, cfg.Server.CacheTTL, log)
	if cfg.Accrual.DaysPerYear > 0 {
		handler.DaysPerYear = cfg.Accrual.DaysPerYear
	}
	handler.Periods = generic.PeriodConfig{
		Type:                 generic.PeriodType(cfg.Accrual.PeriodType),
		FiscalYearStartMonth: time.Month(cfg.Accrual.FiscalYearStartMonth),
	}

	router := api.NewRouter(handler, api.RouterOptions{
		Log:         log,
		Metrics:     m,
		Gatherer:    registry,
		CORSOrigins: cfg.Server.CORSOrigins,
		RateLimit:   rate.Limit(cfg.Server.RateLimitPerSec),
		Burst:       cfg.Server.RateLimitBurst,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	scheduler.Start()
	defer scheduler.Stop()

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	case err := <-serveErr:
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openStore(cfg config.DatabaseConfig) (generic.Store, io.Closer, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memstore.NewMemory(), nopCloser{}, nil

	case config.DriverSQLite:
		s, err := sqlite.New(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil

	case config.DriverPostgres:
		db, err := gormstore.Open(postgres.Open(cfg.DSN), gormstore.Options{
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute,
		})
		if err != nil {
			return nil, nil, err
		}
		s := gormstore.New(db)
		return s, s, nil

	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func openLocker(cfg config.LockConfig) (lock.Locker, io.Closer, error) {
	switch cfg.Backend {
	case config.LockMemory:
		return lock.NewKeyedMutex(), nopCloser{}, nil

	case config.LockRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}

		l, err := lock.NewRedisLocker(client, cfg.TTL, cfg.Retry)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return l, client, nil

	default:
		return nil, nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}
