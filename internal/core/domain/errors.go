package domain

import "errors"

// Business error taxonomy. Infrastructure failures (connectivity, SQL errors
// other than the conditions below) are never translated into these; they
// propagate wrapped but unchanged.
var (
	// ErrEntityNotFound means the referenced product (or category) does not
	// exist. Not retryable.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrLockAcquisitionFailed means neither the distributed lock nor the row
	// lock could be obtained within the bounded attempt budget. Callers may
	// retry with backoff.
	ErrLockAcquisitionFailed = errors.New("lock acquisition failed")

	// ErrConcurrencyConflict means a version-checked update affected zero
	// rows: another writer committed first. Callers should re-read and retry.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrInvalidQuantity rejects non-positive quantities before any lock is
	// taken.
	ErrInvalidQuantity = errors.New("quantity must be positive")
)
