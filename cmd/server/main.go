package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/opetsoft/workshop-core/internal/adapter/handler"
	"github.com/opetsoft/workshop-core/internal/adapter/storage"
	"github.com/opetsoft/workshop-core/internal/core/domain"
	"github.com/opetsoft/workshop-core/internal/core/service"
	"github.com/opetsoft/workshop-core/internal/port"
)

const (
	alertQueueSize   = 1000
	alertWorkerCount = 2
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	httpAddr := envOr("HTTP_ADDR", ":8080")
	storeKind := envOr("STORE", "mysql")

	var (
		orderRepo port.OrderRepository
		invRepo   port.InventoryRepository
		cache     port.CacheRepository
		closers   []func()
	)

	switch storeKind {
	case "memory":
		// Standalone mode: everything in-process, nothing durable.
		mem := storage.NewMemoryAdapter()
		orderRepo, invRepo = mem, mem
		cache = storage.NewMemoryCache()
		logger.Info("using in-memory store")

	case "mysql":
		dsn := envOr("MYSQL_DSN", "root:root@tcp(localhost:3306)/workshop?parseTime=true")
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			logger.Fatal("failed to open mysql", zap.Error(err))
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("failed to ping mysql", zap.Error(err))
		}
		closers = append(closers, func() { db.Close() })
		logger.Info("connected to mysql")

		mysqlAdapter := storage.NewMySQLAdapter(db)
		if err := mysqlAdapter.EnsureSchema(ctx); err != nil {
			logger.Fatal("failed to apply schema", zap.Error(err))
		}
		orderRepo, invRepo = mysqlAdapter, mysqlAdapter

		rdb := redis.NewClient(&redis.Options{
			Addr:     envOr("REDIS_ADDR", "localhost:6379"),
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect redis", zap.Error(err))
		}
		closers = append(closers, func() { rdb.Close() })
		logger.Info("connected to redis")
		cache = storage.NewRedisAdapter(rdb)

	default:
		logger.Fatal("unknown STORE value", zap.String("store", storeKind))
	}

	orderService := service.NewOrderService(orderRepo, invRepo, cache, logger, alertQueueSize)
	inventoryService := service.NewInventoryService(invRepo, orderRepo, cache, logger)
	reportService := service.NewReportService(orderRepo, invRepo)

	// Drain low-stock alerts emitted by completed orders.
	var wg sync.WaitGroup
	for i := 0; i < alertWorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			alertLoop(logger, orderService.Alerts())
		}()
	}

	httpHandler := handler.NewHTTPHandler(orderService, inventoryService, reportService)
	httpServer := &http.Server{
		Addr:    httpAddr,
		Handler: httpHandler.Routes(),
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", httpAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	logger.Info("http server stopped")

	orderService.Close()
	wg.Wait()
	logger.Info("alert workers stopped")

	for _, closeFn := range closers {
		closeFn()
	}
	logger.Info("connections closed")
}

func alertLoop(logger *zap.Logger, alerts <-chan domain.LowStockAlert) {
	for alert := range alerts {
		handler.LowStockAlerts.Inc()
		logger.Warn("stock at or below reorder threshold",
			zap.String("sku", alert.SKU),
			zap.String("name", alert.Name),
			zap.Int("current", alert.Current),
			zap.Int("min", alert.Min))
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
