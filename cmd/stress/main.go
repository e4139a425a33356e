// Stress drives concurrent single-unit reservations against one product and
// verifies that stock is never oversold.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/haishop/catalog/internal/adapter/storage"
	"github.com/haishop/catalog/internal/core/domain"
	"github.com/haishop/catalog/internal/core/event"
	"github.com/haishop/catalog/internal/core/service"
)

const (
	mysqlDSN      = "root:root@tcp(localhost:3306)/haishop?parseTime=true"
	redisAddr     = "localhost:6379"
	initialStock  = 20
	totalRequests = 50
)

func main() {
	ctx := context.Background()

	db, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		log.Fatalf("failed to open mysql: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping mysql: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}

	logger := zap.NewNop()
	inventoryAdapter := storage.NewMySQLAdapter(db)
	productAdapter := storage.NewMySQLProductAdapter(db)
	svc := service.NewInventoryService(
		inventoryAdapter, productAdapter, storage.NewRedisAdapter(rdb),
		event.NewBus(logger), logger, 0, 0,
	)

	// Seed a product with known stock.
	productID := uuid.NewString()
	if _, err := db.ExecContext(ctx, `
		INSERT INTO product (id, name, description, price_amount, price_currency, state, version, created_at, updated_at)
		VALUES (?, 'stress-product', '', 1.00, 'CNY', 'active', 0, NOW(6), NOW(6))`, productID); err != nil {
		log.Fatalf("failed to seed product: %v", err)
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO product_inventory (id, product_id, available_quantity, reserved_quantity, version, is_locked, created_at, updated_at)
		VALUES (?, ?, ?, 0, 0, FALSE, NOW(6), NOW(6))`, uuid.NewString(), productID, initialStock); err != nil {
		log.Fatalf("failed to seed inventory: %v", err)
	}

	var success, insufficient, conflict, lockFailed atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			ok, err := svc.Reserve(reqCtx, productID, 1)
			switch {
			case err == nil && ok:
				success.Add(1)
			case err == nil:
				insufficient.Add(1)
			case errors.Is(err, domain.ErrConcurrencyConflict):
				conflict.Add(1)
			case errors.Is(err, domain.ErrLockAcquisitionFailed):
				lockFailed.Add(1)
			default:
				log.Printf("reserve failed: %v", err)
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	rec, err := svc.GetStock(ctx, productID)
	if err != nil {
		log.Fatalf("failed to read final stock: %v", err)
	}

	fmt.Printf("requests=%d elapsed=%s\n", totalRequests, elapsed)
	fmt.Printf("success=%d insufficient=%d conflict=%d lock_failed=%d\n",
		success.Load(), insufficient.Load(), conflict.Load(), lockFailed.Load())
	fmt.Printf("final: available=%d reserved=%d version=%d\n",
		rec.AvailableQuantity, rec.ReservedQuantity, rec.Version)

	if rec.AvailableQuantity < 0 || int(success.Load()) != rec.ReservedQuantity {
		log.Fatalf("OVERSELL DETECTED: successes=%d reserved=%d", success.Load(), rec.ReservedQuantity)
	}
	fmt.Println("no oversell: reserved matches successful requests")
}
