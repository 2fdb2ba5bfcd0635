/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the coupon production server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, config.yaml, .env, COUPON_* env)
  2. Initialize SQLite store
  3. Seed the prize pool on first start
  4. Create service, handler and router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a config file (default: ./config.yaml or ./config/config.yaml)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (server.shutdown_timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with defaults
  ./server

  # Run with in-memory database on a different port
  COUPON_DATABASE_PATH=":memory:" COUPON_SERVER_PORT=3000 ./server

SEE ALSO:
  - config/config.go: Configuration keys
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
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/coupon-engine/api"
	"github.com/warp/coupon-engine/config"
	"github.com/warp/coupon-engine/coupon"
	"github.com/warp/coupon-engine/factory"
	"github.com/warp/coupon-engine/production"
	"github.com/warp/coupon-engine/store/sqlite"
)

func main() {
	configFile := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log, err := config.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	// Initialize store
	if dir := filepath.Dir(cfg.Database.Path); cfg.Database.Path != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	metrics := production.NewMetrics("coupon")
	svc := production.NewService(store, cfg.NewAssembler(),
		production.WithMetrics(metrics),
		production.WithLogger(log),
	)

	if err := seedPool(svc, cfg, log); err != nil {
		return err
	}

	router := api.NewRouter(api.NewHandler(svc), api.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Metrics:        metrics.Registry(),
		Logger:         log,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Str("db", cfg.Database.Path).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		return err
	case <-quit:
	}

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("server stopped")
	return nil
}

// seedPool installs the bootstrap pool when the store has none.
func seedPool(svc *production.Service, cfg *config.Config, log zerolog.Logger) error {
	pool, err := bootstrapPool(cfg)
	if err != nil {
		return err
	}
	seeded, err := svc.SeedPool(context.Background(), pool)
	if err != nil {
		return fmt.Errorf("failed to seed prize pool: %w", err)
	}
	if seeded {
		log.Info().Int("winning_coupons", pool.WinningCount()).Msg("prize pool seeded")
	}
	return nil
}

func bootstrapPool(cfg *config.Config) (coupon.Pool, error) {
	f := factory.NewPoolFactory(cfg.CouponLayout())
	if cfg.Bootstrap.PoolFile != "" {
		return f.LoadPoolFile(cfg.Bootstrap.PoolFile)
	}
	return f.ParsePool([]byte(factory.StandardPoolJSON))
}
