// Package kv defines the capability surface the cache and the claim
// coordinator need from the shared key-value store.
//
// Implementations must be safe for concurrent use. Values are opaque bytes;
// Get must return exactly what Set stored.
package kv

import (
	"context"
	"time"
)

// Store is the shared key-value store. A non-positive ttl means "no expiry".
type Store interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Del removes keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)

	// SetNX writes value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// CompareAndDelete deletes key only while it still holds value.
	CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error)

	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
	DecrBy(ctx context.Context, key string, delta int64) (int64, error)

	SAdd(ctx context.Context, set string, members ...string) error
	SRem(ctx context.Context, set string, members ...string) error
	SIsMember(ctx context.Context, set, member string) (bool, error)

	// HSet writes fields and applies ttl atomically.
	HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
	// HGetAll returns an empty map on miss.
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// Bump increments the generation counter at key and refreshes its ttl.
	Bump(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// WriteIfGen applies w atomically, only while w.GenKey still holds w.Gen,
	// and reports whether it did.
	WriteIfGen(ctx context.Context, w GuardedWrite) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}

// GuardedWrite is a write fenced by a generation counter. A missing GenKey
// reads as generation 0.
type GuardedWrite struct {
	GenKey string
	Gen    int64

	// Clear is deleted before Key is written.
	Clear []string

	Key string
	// Value is stored as a string unless Fields is set, in which case Fields
	// replace the hash at Key.
	Value  []byte
	Fields map[string]string
	TTL    time.Duration
}
