package port

import (
	"context"
	"errors"
	"time"

	"github.com/haishop/catalog/internal/core/domain"
)

// Sentinel errors adapters translate driver-specific failures into.
var (
	// ErrInventoryNotFound is returned by InventoryTx.LockRecord when no
	// record exists for the product yet.
	ErrInventoryNotFound = errors.New("inventory record not found")

	// ErrRowLocked is returned when the non-blocking row lock could not be
	// obtained because another transaction holds it.
	ErrRowLocked = errors.New("inventory row locked by another transaction")

	// ErrProductNotFound is returned by product lookups for unknown IDs.
	ErrProductNotFound = errors.New("product not found")

	// ErrVersionConflict is returned when a version-checked update affected
	// zero rows.
	ErrVersionConflict = errors.New("version conflict")
)

// InventoryRepository persists inventory records and lock metadata.
type InventoryRepository interface {
	// InTransaction runs fn inside a database transaction. A non-nil error
	// from fn rolls the transaction back and is returned unchanged; otherwise
	// the transaction commits.
	InTransaction(ctx context.Context, fn func(tx InventoryTx) error) error

	// Get reads the current record without locking. Returns
	// ErrInventoryNotFound if absent.
	Get(ctx context.Context, productID string) (*domain.InventoryRecord, error)

	// ClearLockIfOwned clears is_locked/lock_key/lock_expiry in a short
	// standalone transaction, only if lock_key still equals lockKey.
	ClearLockIfOwned(ctx context.Context, productID, lockKey string) error

	// ReapExpiredLocks clears lock metadata on every record whose lock_expiry
	// has passed. Returns the number of records reclaimed.
	ReapExpiredLocks(ctx context.Context, now time.Time) (int64, error)
}

// InventoryTx is the per-transaction view of the inventory store. The three
// stock mutations are conditional updates keyed on the record's version; a
// false result means zero rows were affected.
type InventoryTx interface {
	// LockRecord takes a non-blocking row lock (FOR UPDATE NOWAIT) on the
	// product's record. Returns ErrInventoryNotFound or ErrRowLocked.
	LockRecord(ctx context.Context, productID string) (*domain.InventoryRecord, error)

	// CreateRecord inserts a new record, including any lock metadata already
	// set on it.
	CreateRecord(ctx context.Context, rec *domain.InventoryRecord) error

	// MarkLocked sets is_locked/lock_key/lock_expiry on the locked record.
	MarkLocked(ctx context.Context, recordID, lockKey string, expiry time.Time) error

	// ReserveStock moves quantity from available to reserved.
	ReserveStock(ctx context.Context, rec *domain.InventoryRecord, quantity int) (bool, error)

	// ReleaseStock moves quantity from reserved back to available.
	ReleaseStock(ctx context.Context, rec *domain.InventoryRecord, quantity int) (bool, error)

	// ConfirmStock removes quantity from reserved; the units leave the system.
	ConfirmStock(ctx context.Context, rec *domain.InventoryRecord, quantity int) (bool, error)
}

// ProductFilter narrows product listings.
type ProductFilter struct {
	State      domain.ProductState
	CategoryID string
	Limit      int
	Offset     int
}

// ProductRepository persists products and categories.
type ProductRepository interface {
	Exists(ctx context.Context, productID string) (bool, error)
	Create(ctx context.Context, p *domain.Product) error
	GetByID(ctx context.Context, productID string) (*domain.Product, error)
	// Update applies a version-checked update; returns ErrVersionConflict on
	// zero rows.
	Update(ctx context.Context, p *domain.Product) error
	List(ctx context.Context, filter ProductFilter) ([]*domain.Product, error)

	CreateCategory(ctx context.Context, c *domain.Category) error
	ListCategories(ctx context.Context) ([]*domain.Category, error)
}
