package port

import (
	"context"
	"time"
)

// DistributedLock is the shared key-value lock primitive. Tokens are opaque
// and single-use per critical section; ReleaseIfOwned must never delete a key
// holding a different token.
type DistributedLock interface {
	// Acquire atomically sets key=token only if key is absent, with automatic
	// expiry after ttl. Returns whether the lock was acquired.
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// ReleaseIfOwned atomically deletes key only if its value equals token.
	// Returns whether a key was deleted.
	ReleaseIfOwned(ctx context.Context, key, token string) (bool, error)
}

// CacheRepository is a thin get/set/invalidate store for read-mostly DTOs.
// Values are JSON-encoded.
type CacheRepository interface {
	// Get unmarshals the cached value into dest. Returns false on a miss.
	Get(ctx context.Context, key string, dest any) (bool, error)

	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	Delete(ctx context.Context, key string) error
}
