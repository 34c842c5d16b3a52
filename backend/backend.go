// Package backend defines the storage abstraction used by memcoord.
//
// A Store models the op set of a memcache-protocol service: keyed byte
// values with TTLs, add-if-absent, compare-and-swap against a per-value
// change identifier, and atomic counters. Implementations MUST be safe for
// concurrent use and byte-for-byte transparent: Get must return exactly the
// []byte previously passed to Set for the same key.
//
// Counter keys hold decimal text, as memcached does; Incr and Decr operate
// on that representation and fail with ErrNotFound when the key is absent.
package backend

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Incr/Decr when the key does not exist.
	ErrNotFound = errors.New("backend: key not found")

	// ErrNotNumeric is returned by Incr/Decr when the stored value is not
	// decimal text.
	ErrNotNumeric = errors.New("backend: value is not a number")
)

// Store is the capability interface over one backing store. Variants:
// memcache (remote, canonical), redis (remote, alternative), memory
// (in-process, full semantics), ristretto (in-process, bounded), null
// (disabled).
type Store interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Gets is Get plus the store's per-value change identifier, for use
	// with CompareAndSwap.
	Gets(ctx context.Context, key string) (value []byte, casID uint64, ok bool, err error)

	// Set stores value with the given TTL. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Add stores value only if the key does not already exist. Returns
	// ok=false (and no error) when the key exists.
	Add(ctx context.Context, key string, value []byte, ttl time.Duration) (ok bool, err error)

	// CompareAndSwap stores value only if the key's current change
	// identifier equals casID. Returns ok=false when the identifier moved
	// or the key is gone.
	CompareAndSwap(ctx context.Context, key string, value []byte, casID uint64, ttl time.Duration) (ok bool, err error)

	// Delete removes a key. Returns ok=false when the key did not exist.
	Delete(ctx context.Context, key string) (ok bool, err error)

	// Incr atomically adds delta to a decimal-text counter and returns the
	// new value. The key must exist (ErrNotFound otherwise).
	Incr(ctx context.Context, key string, delta uint64) (uint64, error)

	// Decr atomically subtracts delta, flooring at zero.
	Decr(ctx context.Context, key string, delta uint64) (uint64, error)

	// FlushAll drops every key in the store.
	FlushAll(ctx context.Context) error

	// Close releases resources.
	Close(ctx context.Context) error
}
