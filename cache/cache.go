// Package cache provides a small TTL key/value store used to keep cheap
// metadata lookups (file listings) cheap across requests.
package cache

import (
	"context"
	"time"
)

// Store is a TTL-bounded byte cache. A miss is reported through the ok
// return, not an error; errors are reserved for transport failures.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
