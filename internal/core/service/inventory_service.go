package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/haishop/catalog/internal/core/domain"
	"github.com/haishop/catalog/internal/core/event"
	"github.com/haishop/catalog/internal/metrics"
	"github.com/haishop/catalog/internal/port"
)

const (
	lockKeyPrefix         = "inventory_lock:"
	defaultLockTTL        = 30 * time.Second
	defaultReleaseTimeout = 5 * time.Second
)

// InventoryService serializes stock mutations per product. Each operation
// runs inside a scoped critical section guarded by a distributed lock and a
// non-blocking row lock; inside it, mutations are version-checked conditional
// updates. The lock metadata on the record is advisory and reclaimed by the
// reaper when a holder crashes.
type InventoryService struct {
	inventory port.InventoryRepository
	products  port.ProductRepository
	lock      port.DistributedLock
	bus       *event.Bus
	logger    *zap.Logger

	lockTTL        time.Duration
	releaseTimeout time.Duration
}

func NewInventoryService(
	inventory port.InventoryRepository,
	products port.ProductRepository,
	lock port.DistributedLock,
	bus *event.Bus,
	logger *zap.Logger,
	lockTTL time.Duration,
	releaseTimeout time.Duration,
) *InventoryService {
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	if releaseTimeout <= 0 {
		releaseTimeout = defaultReleaseTimeout
	}
	return &InventoryService{
		inventory:      inventory,
		products:       products,
		lock:           lock,
		bus:            bus,
		logger:         logger,
		lockTTL:        lockTTL,
		releaseTimeout: releaseTimeout,
	}
}

// withInventoryLock runs fn inside the critical section for productID. The
// token is fresh per call and never reused; release on every exit path clears
// the row metadata only if the token still matches, then releases the
// distributed lock the same way.
func (s *InventoryService) withInventoryLock(
	ctx context.Context,
	productID string,
	fn func(tx port.InventoryTx, rec *domain.InventoryRecord) error,
) error {
	lockKey := lockKeyPrefix + productID
	token := uuid.NewString()

	acquired, err := s.lock.Acquire(ctx, lockKey, token, s.lockTTL)
	if err != nil {
		metrics.LockOperationsTotal.WithLabelValues("acquire", "failure").Inc()
		return fmt.Errorf("acquire distributed lock: %w", err)
	}
	if !acquired {
		// Contention: clear any stale locks once, then retry exactly once.
		s.reapExpiredLocks(ctx)

		acquired, err = s.lock.Acquire(ctx, lockKey, token, s.lockTTL)
		if err != nil {
			metrics.LockOperationsTotal.WithLabelValues("acquire", "failure").Inc()
			return fmt.Errorf("acquire distributed lock: %w", err)
		}
		if !acquired {
			metrics.LockOperationsTotal.WithLabelValues("acquire", "failure").Inc()
			return fmt.Errorf("inventory lock held for product %s: %w", productID, domain.ErrLockAcquisitionFailed)
		}
	}
	metrics.LockOperationsTotal.WithLabelValues("acquire", "success").Inc()

	start := time.Now()
	defer func() {
		s.releaseLocks(ctx, productID, lockKey, token)
		metrics.LockHoldDuration.Observe(time.Since(start).Seconds())
	}()

	return s.inventory.InTransaction(ctx, func(tx port.InventoryTx) error {
		rec, err := tx.LockRecord(ctx, productID)
		switch {
		case errors.Is(err, port.ErrInventoryNotFound):
			exists, perr := s.products.Exists(ctx, productID)
			if perr != nil {
				return fmt.Errorf("check product exists: %w", perr)
			}
			if !exists {
				return fmt.Errorf("product %s: %w", productID, domain.ErrEntityNotFound)
			}
			expiry := time.Now().Add(s.lockTTL)
			rec = &domain.InventoryRecord{
				ID:         uuid.NewString(),
				ProductID:  productID,
				IsLocked:   true,
				LockExpiry: &expiry,
				LockKey:    token,
			}
			if err := tx.CreateRecord(ctx, rec); err != nil {
				return err
			}
		case errors.Is(err, port.ErrRowLocked):
			return fmt.Errorf("inventory is in use by another transaction: %w", domain.ErrLockAcquisitionFailed)
		case err != nil:
			return err
		default:
			expiry := time.Now().Add(s.lockTTL)
			if err := tx.MarkLocked(ctx, rec.ID, token, expiry); err != nil {
				return err
			}
			rec.IsLocked = true
			rec.LockKey = token
			rec.LockExpiry = &expiry
		}
		return fn(tx, rec)
	})
}

// releaseLocks must never fail the operation it cleans up after: both halves
// are attempted regardless of the other's outcome, and errors are logged and
// swallowed. The parent context may already be cancelled, so the release gets
// its own deadline.
func (s *InventoryService) releaseLocks(ctx context.Context, productID, lockKey, token string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.releaseTimeout)
	defer cancel()

	if err := s.inventory.ClearLockIfOwned(releaseCtx, productID, token); err != nil {
		s.logger.Warn("failed to clear inventory lock metadata",
			zap.String("product_id", productID),
			zap.Error(err))
	}

	if _, err := s.lock.ReleaseIfOwned(releaseCtx, lockKey, token); err != nil {
		metrics.LockOperationsTotal.WithLabelValues("release", "failure").Inc()
		s.logger.Warn("failed to release distributed lock",
			zap.String("lock_key", lockKey),
			zap.Error(err))
		return
	}
	metrics.LockOperationsTotal.WithLabelValues("release", "success").Inc()
}

// reapExpiredLocks reclaims stale lock metadata left by crashed holders. It is
// advisory: failures are logged, never propagated.
func (s *InventoryService) reapExpiredLocks(ctx context.Context) {
	reaped, err := s.inventory.ReapExpiredLocks(ctx, time.Now())
	if err != nil {
		s.logger.Warn("expired lock reaping failed", zap.Error(err))
		return
	}
	if reaped > 0 {
		metrics.ExpiredLocksReaped.Add(float64(reaped))
		s.logger.Info("reclaimed expired inventory locks", zap.Int64("count", reaped))
	}
}

// Reserve moves quantity from available to reserved. Insufficient stock is a
// normal outcome and returns (false, nil); a version conflict returns
// domain.ErrConcurrencyConflict and the caller may retry.
func (s *InventoryService) Reserve(ctx context.Context, productID string, quantity int) (bool, error) {
	return s.mutateStock(ctx, "reserve", productID, quantity,
		func(rec *domain.InventoryRecord) bool { return rec.AvailableQuantity >= quantity },
		func(tx port.InventoryTx, rec *domain.InventoryRecord) (bool, error) {
			return tx.ReserveStock(ctx, rec, quantity)
		},
		domain.EventStockReserved,
	)
}

// Release moves quantity from reserved back to available.
func (s *InventoryService) Release(ctx context.Context, productID string, quantity int) (bool, error) {
	return s.mutateStock(ctx, "release", productID, quantity,
		func(rec *domain.InventoryRecord) bool { return rec.ReservedQuantity >= quantity },
		func(tx port.InventoryTx, rec *domain.InventoryRecord) (bool, error) {
			return tx.ReleaseStock(ctx, rec, quantity)
		},
		domain.EventStockReleased,
	)
}

// Confirm removes quantity from reserved; the units leave the system.
func (s *InventoryService) Confirm(ctx context.Context, productID string, quantity int) (bool, error) {
	return s.mutateStock(ctx, "confirm", productID, quantity,
		func(rec *domain.InventoryRecord) bool { return rec.ReservedQuantity >= quantity },
		func(tx port.InventoryTx, rec *domain.InventoryRecord) (bool, error) {
			return tx.ConfirmStock(ctx, rec, quantity)
		},
		domain.EventStockConfirmed,
	)
}

func (s *InventoryService) mutateStock(
	ctx context.Context,
	operation string,
	productID string,
	quantity int,
	sufficient func(rec *domain.InventoryRecord) bool,
	apply func(tx port.InventoryTx, rec *domain.InventoryRecord) (bool, error),
	eventName string,
) (bool, error) {
	if quantity <= 0 {
		return false, fmt.Errorf("%s %d units: %w", operation, quantity, domain.ErrInvalidQuantity)
	}

	start := time.Now()
	defer func() {
		metrics.StockOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}()

	var (
		applied bool
		version int
	)
	err := s.withInventoryLock(ctx, productID, func(tx port.InventoryTx, rec *domain.InventoryRecord) error {
		if !sufficient(rec) {
			return nil
		}
		ok, err := apply(tx, rec)
		if err != nil {
			return err
		}
		if !ok {
			// Zero rows despite holding the lock: another writer won the
			// version race.
			return fmt.Errorf("%s stock for product %s: %w", operation, productID, domain.ErrConcurrencyConflict)
		}
		applied = true
		version = rec.Version + 1
		return nil
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			outcome = "conflict"
		}
		metrics.StockOperationsTotal.WithLabelValues(operation, outcome).Inc()
		return false, err
	}
	if !applied {
		metrics.StockOperationsTotal.WithLabelValues(operation, "insufficient").Inc()
		return false, nil
	}

	metrics.StockOperationsTotal.WithLabelValues(operation, "success").Inc()
	s.bus.Publish(ctx, eventName, domain.StockEvent{
		ProductID:  productID,
		Quantity:   quantity,
		Version:    version,
		OccurredAt: time.Now(),
	})
	return true, nil
}

// BatchReserve applies Reserve independently per item. There is no cross-item
// atomicity: a failure is reported in that item's result and does not roll
// back earlier reservations.
func (s *InventoryService) BatchReserve(ctx context.Context, items []domain.BatchReserveItem) []domain.BatchReserveResult {
	results := make([]domain.BatchReserveResult, 0, len(items))
	for _, item := range items {
		ok, err := s.Reserve(ctx, item.ProductID, item.Quantity)
		result := domain.BatchReserveResult{ProductID: item.ProductID, Success: ok}
		switch {
		case err == nil && !ok:
			result.Reason = domain.ReasonInsufficientStock
		case errors.Is(err, domain.ErrEntityNotFound):
			result.Reason = domain.ReasonProductNotFound
		case errors.Is(err, domain.ErrConcurrencyConflict):
			result.Reason = domain.ReasonConflict
		case errors.Is(err, domain.ErrLockAcquisitionFailed):
			result.Reason = domain.ReasonLockFailed
		case err != nil:
			result.Reason = err.Error()
		}
		results = append(results, result)
	}
	return results
}

// GetStock reads the current record without locking. A product that exists
// but has no record yet reports zero quantities.
func (s *InventoryService) GetStock(ctx context.Context, productID string) (*domain.InventoryRecord, error) {
	rec, err := s.inventory.Get(ctx, productID)
	if errors.Is(err, port.ErrInventoryNotFound) {
		exists, perr := s.products.Exists(ctx, productID)
		if perr != nil {
			return nil, fmt.Errorf("check product exists: %w", perr)
		}
		if !exists {
			return nil, fmt.Errorf("product %s: %w", productID, domain.ErrEntityNotFound)
		}
		return &domain.InventoryRecord{ProductID: productID}, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}
