// Package cache is a small key/value layer with Redis, in-memory and
// two-level implementations. Values are stored as JSON, so a Get decodes
// into the same shape regardless of the backend.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache: key not found")

type Service interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, keys ...string) (bool, error)

	// Increment adds one to an integer counter and returns the new value.
	// A positive ttl is applied only when the counter is created.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	Close() error
}
