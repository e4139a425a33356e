package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/haishop/catalog/internal/core/domain"
	"github.com/haishop/catalog/internal/port"
)

// mockLock is an in-memory distributed lock keyed on exact token match.
type mockLock struct {
	mu   sync.Mutex
	keys map[string]string
}

func newMockLock() *mockLock {
	return &mockLock{keys: make(map[string]string)}
}

func (l *mockLock) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.keys[key]; held {
		return false, nil
	}
	l.keys[key] = token
	return true, nil
}

func (l *mockLock) ReleaseIfOwned(ctx context.Context, key, token string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.keys[key] != token {
		return false, nil
	}
	delete(l.keys, key)
	return true, nil
}

func (l *mockLock) forceHold(key, token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys[key] = token
}

func (l *mockLock) held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.keys[key]
	return ok
}

// mockInventoryRepo keeps records in memory and mimics the adapter contract:
// row locks are per-product flags, stock mutations are conditional on the
// version read at lock time.
type mockInventoryRepo struct {
	mu        sync.Mutex
	records   map[string]*domain.InventoryRecord
	rowLocked map[string]bool

	reapCalls    int
	onReap       func() // runs after a reap; lets tests free a stale key between acquisition attempts
	conflictOnce bool   // next conditional update reports zero rows
}

func newMockInventoryRepo() *mockInventoryRepo {
	return &mockInventoryRepo{
		records:   make(map[string]*domain.InventoryRecord),
		rowLocked: make(map[string]bool),
	}
}

func (r *mockInventoryRepo) seed(productID string, available, reserved, version int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[productID] = &domain.InventoryRecord{
		ID:                "rec-" + productID,
		ProductID:         productID,
		AvailableQuantity: available,
		ReservedQuantity:  reserved,
		Version:           version,
	}
}

func (r *mockInventoryRepo) get(productID string) domain.InventoryRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.records[productID]
}

func (r *mockInventoryRepo) InTransaction(ctx context.Context, fn func(tx port.InventoryTx) error) error {
	return fn(&mockInventoryTx{repo: r})
}

func (r *mockInventoryRepo) Get(ctx context.Context, productID string) (*domain.InventoryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[productID]
	if !ok {
		return nil, port.ErrInventoryNotFound
	}
	clone := *rec
	return &clone, nil
}

func (r *mockInventoryRepo) ClearLockIfOwned(ctx context.Context, productID, lockKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[productID]
	if !ok || rec.LockKey != lockKey {
		return nil
	}
	rec.IsLocked = false
	rec.LockKey = ""
	rec.LockExpiry = nil
	return nil
}

func (r *mockInventoryRepo) ReapExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	r.reapCalls++
	onReap := r.onReap
	var reaped int64
	for _, rec := range r.records {
		if rec.LockExpired(now) {
			rec.IsLocked = false
			rec.LockKey = ""
			rec.LockExpiry = nil
			reaped++
		}
	}
	r.mu.Unlock()
	if onReap != nil {
		onReap()
	}
	return reaped, nil
}

type mockInventoryTx struct {
	repo *mockInventoryRepo
}

func (t *mockInventoryTx) LockRecord(ctx context.Context, productID string) (*domain.InventoryRecord, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	if t.repo.rowLocked[productID] {
		return nil, port.ErrRowLocked
	}
	rec, ok := t.repo.records[productID]
	if !ok {
		return nil, port.ErrInventoryNotFound
	}
	clone := *rec
	return &clone, nil
}

func (t *mockInventoryTx) CreateRecord(ctx context.Context, rec *domain.InventoryRecord) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	clone := *rec
	t.repo.records[rec.ProductID] = &clone
	return nil
}

func (t *mockInventoryTx) MarkLocked(ctx context.Context, recordID, lockKey string, expiry time.Time) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	for _, rec := range t.repo.records {
		if rec.ID == recordID {
			rec.IsLocked = true
			rec.LockKey = lockKey
			e := expiry
			rec.LockExpiry = &e
			return nil
		}
	}
	return nil
}

func (t *mockInventoryTx) conditionalUpdate(rec *domain.InventoryRecord, guard func(cur *domain.InventoryRecord) bool, apply func(cur *domain.InventoryRecord)) (bool, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	if t.repo.conflictOnce {
		t.repo.conflictOnce = false
		return false, nil
	}
	cur, ok := t.repo.records[rec.ProductID]
	if !ok || cur.Version != rec.Version || !guard(cur) {
		return false, nil
	}
	apply(cur)
	cur.Version++
	return true, nil
}

func (t *mockInventoryTx) ReserveStock(ctx context.Context, rec *domain.InventoryRecord, quantity int) (bool, error) {
	return t.conditionalUpdate(rec,
		func(cur *domain.InventoryRecord) bool { return cur.AvailableQuantity >= quantity },
		func(cur *domain.InventoryRecord) {
			cur.AvailableQuantity -= quantity
			cur.ReservedQuantity += quantity
		})
}

func (t *mockInventoryTx) ReleaseStock(ctx context.Context, rec *domain.InventoryRecord, quantity int) (bool, error) {
	return t.conditionalUpdate(rec,
		func(cur *domain.InventoryRecord) bool { return cur.ReservedQuantity >= quantity },
		func(cur *domain.InventoryRecord) {
			cur.AvailableQuantity += quantity
			cur.ReservedQuantity -= quantity
		})
}

func (t *mockInventoryTx) ConfirmStock(ctx context.Context, rec *domain.InventoryRecord, quantity int) (bool, error) {
	return t.conditionalUpdate(rec,
		func(cur *domain.InventoryRecord) bool { return cur.ReservedQuantity >= quantity },
		func(cur *domain.InventoryRecord) {
			cur.ReservedQuantity -= quantity
		})
}

// mockProductRepo implements the product side of port.ProductRepository.
type mockProductRepo struct {
	mu                 sync.Mutex
	products           map[string]*domain.Product
	updateConflictOnce bool
}

func newMockProductRepo(ids ...string) *mockProductRepo {
	r := &mockProductRepo{products: make(map[string]*domain.Product)}
	for _, id := range ids {
		r.products[id] = &domain.Product{ID: id, Name: id, State: domain.ProductStateActive}
	}
	return r
}

func (r *mockProductRepo) Exists(ctx context.Context, productID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.products[productID]
	return ok, nil
}

func (r *mockProductRepo) Create(ctx context.Context, p *domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *p
	r.products[p.ID] = &clone
	return nil
}

func (r *mockProductRepo) GetByID(ctx context.Context, productID string) (*domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[productID]
	if !ok {
		return nil, port.ErrProductNotFound
	}
	clone := *p
	return &clone, nil
}

func (r *mockProductRepo) Update(ctx context.Context, p *domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateConflictOnce {
		r.updateConflictOnce = false
		return port.ErrVersionConflict
	}
	cur, ok := r.products[p.ID]
	if !ok || cur.Version != p.Version {
		return port.ErrVersionConflict
	}
	clone := *p
	clone.Version++
	r.products[p.ID] = &clone
	return nil
}

func (r *mockProductRepo) List(ctx context.Context, filter port.ProductFilter) ([]*domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Product
	for _, p := range r.products {
		if filter.State != "" && p.State != filter.State {
			continue
		}
		clone := *p
		out = append(out, &clone)
	}
	return out, nil
}

func (r *mockProductRepo) CreateCategory(ctx context.Context, c *domain.Category) error {
	return nil
}

func (r *mockProductRepo) ListCategories(ctx context.Context) ([]*domain.Category, error) {
	return nil, nil
}

// mockCache is a TTL-less in-memory CacheRepository.
type mockCache struct {
	mu      sync.Mutex
	values  map[string][]byte
	gets    int
	sets    int
	deletes int
}

func newMockCache() *mockCache {
	return &mockCache{values: make(map[string][]byte)}
}

func (c *mockCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	data, ok := c.values[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dest)
}

func (c *mockCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.values[key] = data
	return nil
}

func (c *mockCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	delete(c.values, key)
	return nil
}
