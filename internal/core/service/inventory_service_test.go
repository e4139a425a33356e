package service

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/haishop/catalog/internal/core/domain"
	"github.com/haishop/catalog/internal/core/event"
)

func newTestService(repo *mockInventoryRepo, products *mockProductRepo, lock *mockLock) *InventoryService {
	logger := zap.NewNop()
	return NewInventoryService(repo, products, lock, event.NewBus(logger), logger, 0, 0)
}

func TestReserve_Success(t *testing.T) {
	repo := newMockInventoryRepo()
	repo.seed("p1", 100, 0, 0)
	lock := newMockLock()
	svc := newTestService(repo, newMockProductRepo("p1"), lock)

	ok, err := svc.Reserve(context.Background(), "p1", 30)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if !ok {
		t.Fatal("expected reservation to succeed")
	}

	rec := repo.get("p1")
	if rec.AvailableQuantity != 70 || rec.ReservedQuantity != 30 || rec.Version != 1 {
		t.Errorf("unexpected state: available=%d reserved=%d version=%d",
			rec.AvailableQuantity, rec.ReservedQuantity, rec.Version)
	}
	if rec.IsLocked || rec.LockKey != "" || rec.LockExpiry != nil {
		t.Error("lock metadata not cleared after release")
	}
	if lock.held(lockKeyPrefix + "p1") {
		t.Error("distributed lock not released")
	}
}

func TestReserve_Insufficient(t *testing.T) {
	repo := newMockInventoryRepo()
	repo.seed("p1", 70, 30, 1)
	svc := newTestService(repo, newMockProductRepo("p1"), newMockLock())

	ok, err := svc.Reserve(context.Background(), "p1", 80)
	if err != nil {
		t.Fatalf("insufficient stock must not be an error, got: %v", err)
	}
	if ok {
		t.Fatal("expected reservation to be refused")
	}

	rec := repo.get("p1")
	if rec.AvailableQuantity != 70 || rec.ReservedQuantity != 30 || rec.Version != 1 {
		t.Errorf("quantities must be unchanged: available=%d reserved=%d version=%d",
			rec.AvailableQuantity, rec.ReservedQuantity, rec.Version)
	}
}

func TestReserve_InvalidQuantity(t *testing.T) {
	svc := newTestService(newMockInventoryRepo(), newMockProductRepo("p1"), newMockLock())

	for _, qty := range []int{0, -5} {
		if _, err := svc.Reserve(context.Background(), "p1", qty); !errors.Is(err, domain.ErrInvalidQuantity) {
			t.Errorf("Reserve(%d): expected ErrInvalidQuantity, got %v", qty, err)
		}
	}
}

func TestReserve_UnknownProduct(t *testing.T) {
	lock := newMockLock()
	svc := newTestService(newMockInventoryRepo(), newMockProductRepo(), lock)

	_, err := svc.Reserve(context.Background(), "ghost", 1)
	if !errors.Is(err, domain.ErrEntityNotFound) {
		t.Fatalf("expected ErrEntityNotFound, got %v", err)
	}
	if lock.held(lockKeyPrefix + "ghost") {
		t.Error("distributed lock leaked on failure path")
	}
}

func TestReserve_CreatesRecordLazily(t *testing.T) {
	repo := newMockInventoryRepo()
	svc := newTestService(repo, newMockProductRepo("p1"), newMockLock())

	// Product exists but has no inventory record yet: a zero-quantity record
	// is created and the reserve reports insufficient stock.
	ok, err := svc.Reserve(context.Background(), "p1", 5)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if ok {
		t.Fatal("reserve against empty new record must be insufficient")
	}

	rec := repo.get("p1")
	if rec.AvailableQuantity != 0 || rec.ReservedQuantity != 0 || rec.Version != 0 {
		t.Errorf("expected zero-quantity record, got available=%d reserved=%d version=%d",
			rec.AvailableQuantity, rec.ReservedQuantity, rec.Version)
	}
	if rec.IsLocked {
		t.Error("lock metadata not cleared on new record")
	}
}

func TestReserve_RowLocked(t *testing.T) {
	repo := newMockInventoryRepo()
	repo.seed("p1", 10, 0, 0)
	repo.rowLocked["p1"] = true
	lock := newMockLock()
	svc := newTestService(repo, newMockProductRepo("p1"), lock)

	_, err := svc.Reserve(context.Background(), "p1", 1)
	if !errors.Is(err, domain.ErrLockAcquisitionFailed) {
		t.Fatalf("expected ErrLockAcquisitionFailed, got %v", err)
	}
	if lock.held(lockKeyPrefix + "p1") {
		t.Error("distributed lock leaked after row lock failure")
	}
}

func TestReserve_ConcurrencyConflict(t *testing.T) {
	repo := newMockInventoryRepo()
	repo.seed("p1", 10, 0, 0)
	repo.conflictOnce = true
	lock := newMockLock()
	svc := newTestService(repo, newMockProductRepo("p1"), lock)

	_, err := svc.Reserve(context.Background(), "p1", 1)
	if !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
	}
	if lock.held(lockKeyPrefix + "p1") {
		t.Error("distributed lock leaked after conflict")
	}

	// The caller retries and wins.
	ok, err := svc.Reserve(context.Background(), "p1", 1)
	if err != nil || !ok {
		t.Fatalf("retry after conflict should succeed, got ok=%v err=%v", ok, err)
	}
}

func TestReserve_LockContention_ReapThenRetry(t *testing.T) {
	repo := newMockInventoryRepo()
	repo.seed("p1", 10, 0, 0)
	lock := newMockLock()
	lock.forceHold(lockKeyPrefix+"p1", "stale-holder")
	// The stale key expires between the failed attempt and the retry.
	repo.onReap = func() {
		lock.ReleaseIfOwned(context.Background(), lockKeyPrefix+"p1", "stale-holder")
	}
	svc := newTestService(repo, newMockProductRepo("p1"), lock)

	ok, err := svc.Reserve(context.Background(), "p1", 2)
	if err != nil || !ok {
		t.Fatalf("expected success after reap+retry, got ok=%v err=%v", ok, err)
	}
	if repo.reapCalls != 1 {
		t.Errorf("reaper must run exactly once, ran %d times", repo.reapCalls)
	}
}

func TestReserve_LockContention_Fails(t *testing.T) {
	repo := newMockInventoryRepo()
	repo.seed("p1", 10, 0, 0)
	lock := newMockLock()
	lock.forceHold(lockKeyPrefix+"p1", "other-holder")
	svc := newTestService(repo, newMockProductRepo("p1"), lock)

	_, err := svc.Reserve(context.Background(), "p1", 2)
	if !errors.Is(err, domain.ErrLockAcquisitionFailed) {
		t.Fatalf("expected ErrLockAcquisitionFailed, got %v", err)
	}
	if repo.reapCalls != 1 {
		t.Errorf("reaper must run exactly once before the retry, ran %d times", repo.reapCalls)
	}
	if !lock.held(lockKeyPrefix + "p1") {
		t.Error("the other holder's lock must not be released")
	}

	rec := repo.get("p1")
	if rec.AvailableQuantity != 10 || rec.Version != 0 {
		t.Error("failed acquisition must not mutate the record")
	}
}

func TestStaleLockMetadata_DoesNotBlockNewCaller(t *testing.T) {
	repo := newMockInventoryRepo()
	repo.seed("p1", 10, 0, 0)
	// A crashed holder left metadata behind; its distributed lock key already
	// expired, so the map is empty.
	past := time.Now().Add(-time.Minute)
	repo.mu.Lock()
	repo.records["p1"].IsLocked = true
	repo.records["p1"].LockKey = "crashed-holder"
	repo.records["p1"].LockExpiry = &past
	repo.mu.Unlock()
	svc := newTestService(repo, newMockProductRepo("p1"), newMockLock())

	ok, err := svc.Reserve(context.Background(), "p1", 1)
	if err != nil || !ok {
		t.Fatalf("stale metadata must not block, got ok=%v err=%v", ok, err)
	}
	rec := repo.get("p1")
	if rec.IsLocked || rec.LockKey != "" {
		t.Error("lock metadata not cleaned up after the new caller finished")
	}
}

func TestRelease_RoundTrip(t *testing.T) {
	repo := newMockInventoryRepo()
	repo.seed("p1", 50, 0, 0)
	svc := newTestService(repo, newMockProductRepo("p1"), newMockLock())
	ctx := context.Background()

	if ok, err := svc.Reserve(ctx, "p1", 10); err != nil || !ok {
		t.Fatalf("reserve: ok=%v err=%v", ok, err)
	}
	if ok, err := svc.Release(ctx, "p1", 10); err != nil || !ok {
		t.Fatalf("release: ok=%v err=%v", ok, err)
	}

	rec := repo.get("p1")
	if rec.AvailableQuantity != 50 || rec.ReservedQuantity != 0 {
		t.Errorf("round trip must restore quantities: available=%d reserved=%d",
			rec.AvailableQuantity, rec.ReservedQuantity)
	}
	if rec.Version != 2 {
		t.Errorf("version must increase by exactly 2, got %d", rec.Version)
	}
}

func TestConfirm_AfterReserve(t *testing.T) {
	repo := newMockInventoryRepo()
	repo.seed("p1", 100, 0, 0)
	svc := newTestService(repo, newMockProductRepo("p1"), newMockLock())
	ctx := context.Background()

	if ok, _ := svc.Reserve(ctx, "p1", 30); !ok {
		t.Fatal("reserve failed")
	}
	if ok, err := svc.Confirm(ctx, "p1", 30); err != nil || !ok {
		t.Fatalf("confirm: ok=%v err=%v", ok, err)
	}

	rec := repo.get("p1")
	if rec.AvailableQuantity != 70 || rec.ReservedQuantity != 0 || rec.Version != 2 {
		t.Errorf("unexpected state after confirm: available=%d reserved=%d version=%d",
			rec.AvailableQuantity, rec.ReservedQuantity, rec.Version)
	}
}

func TestConfirm_AfterRelease_Rejected(t *testing.T) {
	repo := newMockInventoryRepo()
	repo.seed("p1", 50, 0, 0)
	svc := newTestService(repo, newMockProductRepo("p1"), newMockLock())
	ctx := context.Background()

	if ok, _ := svc.Reserve(ctx, "p1", 10); !ok {
		t.Fatal("reserve failed")
	}
	if ok, _ := svc.Release(ctx, "p1", 10); !ok {
		t.Fatal("release failed")
	}

	// Nothing reserved anymore: confirm must be refused, not clamp.
	ok, err := svc.Confirm(ctx, "p1", 10)
	if err != nil {
		t.Fatalf("confirm of unreserved stock must not be an error: %v", err)
	}
	if ok {
		t.Fatal("confirm must be rejected when reserved quantity is zero")
	}
}

func TestBatchReserve_PartialFailure(t *testing.T) {
	repo := newMockInventoryRepo()
	repo.seed("p1", 10, 0, 0)
	repo.seed("p2", 3, 0, 0)
	svc := newTestService(repo, newMockProductRepo("p1", "p2"), newMockLock())

	results := svc.BatchReserve(context.Background(), []domain.BatchReserveItem{
		{ProductID: "p1", Quantity: 5},
		{ProductID: "p2", Quantity: 9999},
		{ProductID: "ghost", Quantity: 1},
	})

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Success {
		t.Errorf("p1 should succeed: %+v", results[0])
	}
	if results[1].Success || results[1].Reason != domain.ReasonInsufficientStock {
		t.Errorf("p2 should be insufficient: %+v", results[1])
	}
	if results[2].Success || results[2].Reason != domain.ReasonProductNotFound {
		t.Errorf("ghost should be not found: %+v", results[2])
	}

	// p2's failure must not roll back p1.
	if rec := repo.get("p1"); rec.ReservedQuantity != 5 {
		t.Errorf("p1 reservation lost: reserved=%d", rec.ReservedQuantity)
	}
}

func TestConcurrentReserves_NoOversell(t *testing.T) {
	const stock = 10
	const callers = 20

	repo := newMockInventoryRepo()
	repo.seed("p1", stock, 0, 0)
	svc := newTestService(repo, newMockProductRepo("p1"), newMockLock())

	var success, insufficient atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				ok, err := svc.Reserve(context.Background(), "p1", 1)
				if errors.Is(err, domain.ErrLockAcquisitionFailed) {
					runtime.Gosched()
					continue
				}
				if err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
				if ok {
					success.Add(1)
				} else {
					insufficient.Add(1)
				}
				return
			}
		}()
	}
	wg.Wait()

	if success.Load() != stock {
		t.Errorf("expected exactly %d successes, got %d", stock, success.Load())
	}
	if insufficient.Load() != callers-stock {
		t.Errorf("expected %d insufficient outcomes, got %d", callers-stock, insufficient.Load())
	}

	rec := repo.get("p1")
	if rec.AvailableQuantity != 0 || rec.ReservedQuantity != stock {
		t.Errorf("oversell: available=%d reserved=%d", rec.AvailableQuantity, rec.ReservedQuantity)
	}
	if rec.TotalQuantity() != stock {
		t.Errorf("total stock changed implicitly: %d", rec.TotalQuantity())
	}
}

func TestGetStock(t *testing.T) {
	repo := newMockInventoryRepo()
	repo.seed("p1", 7, 3, 4)
	svc := newTestService(repo, newMockProductRepo("p1", "p2"), newMockLock())
	ctx := context.Background()

	rec, err := svc.GetStock(ctx, "p1")
	if err != nil {
		t.Fatalf("GetStock: %v", err)
	}
	if rec.AvailableQuantity != 7 || rec.ReservedQuantity != 3 || rec.Version != 4 {
		t.Errorf("unexpected record: %+v", rec)
	}

	// Existing product without a record reports zero quantities.
	rec, err = svc.GetStock(ctx, "p2")
	if err != nil {
		t.Fatalf("GetStock for recordless product: %v", err)
	}
	if rec.AvailableQuantity != 0 || rec.ReservedQuantity != 0 {
		t.Errorf("expected zero quantities, got %+v", rec)
	}

	if _, err := svc.GetStock(ctx, "ghost"); !errors.Is(err, domain.ErrEntityNotFound) {
		t.Errorf("expected ErrEntityNotFound, got %v", err)
	}
}
