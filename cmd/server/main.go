package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/haishop/catalog/internal/adapter/handler"
	"github.com/haishop/catalog/internal/adapter/storage"
	"github.com/haishop/catalog/internal/adapter/storage/schema"
	"github.com/haishop/catalog/internal/config"
	"github.com/haishop/catalog/internal/core/domain"
	"github.com/haishop/catalog/internal/core/event"
	"github.com/haishop/catalog/internal/core/service"
)

var configFilePath string

var rootCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Product catalog backend with concurrency-safe inventory",
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the catalog API server",
	RunE:  runServer,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFilePath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return schema.RunMigrations(cfg.MySQL.DSN)
	},
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configFilePath, "config", "c", "", "Path to configuration file")
	rootCmd.AddCommand(serverCmd, migrateCmd)

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "server")
	}

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(configFilePath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("running database migrations")
	if err := schema.RunMigrations(cfg.MySQL.DSN); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		return fmt.Errorf("failed to open mysql: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping mysql: %w", err)
	}
	logger.Info("connected to mysql")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect redis: %w", err)
	}
	logger.Info("connected to redis")

	redisAdapter := storage.NewRedisAdapter(rdb)
	inventoryAdapter := storage.NewMySQLAdapter(db)
	productAdapter := storage.NewMySQLProductAdapter(db)

	bus := event.NewBus(logger)
	registerEventLogging(bus, logger)

	inventoryService := service.NewInventoryService(
		inventoryAdapter, productAdapter, redisAdapter, bus, logger,
		cfg.Inventory.LockTTL, cfg.Inventory.ReleaseTimeout,
	)
	productService := service.NewProductService(
		productAdapter, redisAdapter, bus, logger, cfg.Inventory.ProductCacheTTL,
	)

	httpHandler := handler.NewHTTPHandler(inventoryService, productService, cfg.Inventory.ReserveMaxRetries)
	router := handler.NewRouter(httpHandler, logger)

	apiServer := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    cfg.Metrics.ListenAddr,
		Handler: metricsMux,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("API server listening", zap.String("addr", cfg.Server.ListenAddr))
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("metrics server listening", zap.String("addr", cfg.Metrics.ListenAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
			logger.Info("shutting down...")
		case <-gctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("API server forced to shutdown", zap.Error(err))
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server forced to shutdown", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server exited gracefully")
	return nil
}

func registerEventLogging(bus *event.Bus, logger *zap.Logger) {
	stockLog := func(name string) event.Handler {
		return func(ctx context.Context, payload any) {
			if e, ok := payload.(domain.StockEvent); ok {
				logger.Info(name,
					zap.String("product_id", e.ProductID),
					zap.Int("quantity", e.Quantity),
					zap.Int("version", e.Version))
			}
		}
	}
	bus.Subscribe(domain.EventStockReserved, stockLog("stock reserved"))
	bus.Subscribe(domain.EventStockReleased, stockLog("stock released"))
	bus.Subscribe(domain.EventStockConfirmed, stockLog("stock confirmed"))
}

func newLogger(logCfg config.LogConfig) (*zap.Logger, error) {
	var cfg zap.Config
	if logCfg.Format == "json" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(logCfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", logCfg.Level, err)
	}
	cfg.Level = level
	return cfg.Build()
}
