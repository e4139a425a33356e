package domain

import "time"

// InventoryRecord tracks per-product stock. Version is the optimistic
// concurrency token; every committed mutation increments it. The lock fields
// mirror the distributed lock held over a critical section and are advisory:
// correctness comes from the version-checked updates and the row lock, the
// flags exist so stale holders can be reaped.
type InventoryRecord struct {
	ID                string
	ProductID         string
	AvailableQuantity int
	ReservedQuantity  int
	Version           int
	IsLocked          bool
	LockExpiry        *time.Time
	LockKey           string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TotalQuantity is the stock still in the system, reserved or not.
func (r *InventoryRecord) TotalQuantity() int {
	return r.AvailableQuantity + r.ReservedQuantity
}

// LockExpired reports whether the lock metadata is stale and reclaimable.
func (r *InventoryRecord) LockExpired(now time.Time) bool {
	return r.IsLocked && r.LockExpiry != nil && r.LockExpiry.Before(now)
}

// BatchReserveItem is one entry of a batch reservation request.
type BatchReserveItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// BatchReserveResult is the per-item outcome of a batch reservation. Items are
// applied independently; a failed item never rolls back the others.
type BatchReserveResult struct {
	ProductID string `json:"product_id"`
	Success   bool   `json:"success"`
	Reason    string `json:"reason,omitempty"`
}

// Reasons reported in BatchReserveResult.
const (
	ReasonInsufficientStock = "insufficient stock"
	ReasonProductNotFound   = "product not found"
	ReasonConflict          = "concurrency conflict, retry"
	ReasonLockFailed        = "inventory lock failed, retry"
)
