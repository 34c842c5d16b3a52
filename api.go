package memcoord

import (
	"context"
	"time"

	bk "github.com/unkn0wn-root/memcoord/backend"
	c "github.com/unkn0wn-root/memcoord/codec"
)

// Cache is the namespaced, store-agnostic client API. V is the caller's
// value type; serialization is handled by a pluggable Codec[V]. Use
// Cache[[]byte] with codec.Bytes for raw passthrough (degraded deployments
// skip needless transcoding that way).
type Cache[V any] interface {
	Enabled() bool
	Close(context.Context) error

	// Get returns the value for key; ok=false on miss.
	Get(ctx context.Context, key string) (v V, ok bool, err error)

	// GetWithID additionally returns the store's per-value change
	// identifier for use with CompareAndSwap.
	GetWithID(ctx context.Context, key string) (v V, casID uint64, ok bool, err error)

	// Set stores value. ttl=0 uses the configured default.
	Set(ctx context.Context, key string, value V, ttl time.Duration) error

	// Add stores value only if key is absent; ok=false when it exists.
	Add(ctx context.Context, key string, value V, ttl time.Duration) (ok bool, err error)

	// CompareAndSwap stores value only while the change identifier still
	// equals casID.
	CompareAndSwap(ctx context.Context, key string, value V, casID uint64, ttl time.Duration) (ok bool, err error)

	// Delete removes key; ok=false when it was already gone.
	Delete(ctx context.Context, key string) (ok bool, err error)

	// Increment / Decrement drive a decimal counter at key. Decrement
	// floors at zero. Both fail with backend.ErrNotFound on a missing key.
	Increment(ctx context.Context, key string, delta uint64) (uint64, error)
	Decrement(ctx context.Context, key string, delta uint64) (uint64, error)

	// FlushAll drops every key in the backing store (all namespaces).
	FlushAll(ctx context.Context) error
}

// Options tune the behavior of a Cache.
// Namespace and Codec are always required; Store is required unless
// Disabled is set.
type Options[V any] struct {
	// Required
	Namespace string // logical cache owner, e.g. "lock", "PROPFIND", "principal"
	Store     bk.Store
	Codec     c.Codec[V]

	Logger     Logger        // if nil, NopLogger is used
	Hooks      Hooks         // if nil, NopHooks is used
	DefaultTTL time.Duration // applied when an op passes ttl=0; 0 => no expiry
	KeyLimit   int           // per-namespace override of the store key-length limit; 0 => 250

	// Disabled replaces the store with a no-op: every read misses, every
	// write succeeds without storing. External behavior is identical to an
	// enabled cache, just uncached.
	Disabled bool

	// NoInvalidation selects an in-process store instead of the no-op when
	// Disabled. Use for data that never needs cross-process invalidation.
	NoInvalidation bool

	// CloseStore releases the store on Close. Set only for exclusive owners.
	CloseStore bool
}

func New[V any](opts Options[V]) (Cache[V], error) {
	return newCacher[V](opts)
}
