package memcoord

import (
	"context"
	"time"

	bk "github.com/unkn0wn-root/memcoord/backend"
	"github.com/unkn0wn-root/memcoord/backend/memory"
	"github.com/unkn0wn-root/memcoord/backend/null"
	c "github.com/unkn0wn-root/memcoord/codec"
	"github.com/unkn0wn-root/memcoord/internal/keys"
)

type cacher[V any] struct {
	ns         string
	store      bk.Store
	codec      c.Codec[V]
	log        Logger
	hooks      Hooks
	enabled    bool
	defaultTTL time.Duration
	keyLimit   int
	closeStore bool
}

func newCacher[V any](opts Options[V]) (*cacher[V], error) {
	if opts.Namespace == "" {
		return nil, ErrNoNamespace
	}
	if len(opts.Namespace) > MaxNamespaceLen {
		return nil, ErrLongNamespace
	}
	if opts.Codec == nil {
		return nil, ErrNoCodec
	}
	if opts.Store == nil && !opts.Disabled {
		return nil, ErrNoStore
	}

	cc := &cacher[V]{
		ns:         opts.Namespace,
		store:      opts.Store,
		codec:      opts.Codec,
		enabled:    !opts.Disabled,
		closeStore: opts.CloseStore,
	}
	cc.log = coalesce[Logger](opts.Logger, NopLogger{})
	cc.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	cc.defaultTTL = opts.DefaultTTL
	cc.keyLimit = coalesce[int](opts.KeyLimit, keys.DefaultLimit)

	if opts.Disabled {
		// degraded variants keep the exact code path, just a different store
		if opts.NoInvalidation {
			cc.store = memory.New()
		} else {
			cc.store = null.New()
		}
		cc.closeStore = true
	}
	return cc, nil
}

func (cc *cacher[V]) Enabled() bool { return cc.enabled }

func (cc *cacher[V]) Close(ctx context.Context) error {
	if cc.closeStore && cc.store != nil {
		return cc.store.Close(ctx)
	}
	return nil
}

func (cc *cacher[V]) key(userKey string) string {
	return keys.Normalize(cc.ns, userKey, cc.keyLimit)
}

func (cc *cacher[V]) ttl(ttl time.Duration) time.Duration {
	if ttl == 0 {
		return cc.defaultTTL
	}
	return ttl
}

func (cc *cacher[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	k := cc.key(key)
	raw, ok, err := cc.store.Get(ctx, k)
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := cc.codec.Decode(raw)
	if err != nil {
		// self-heal: foreign or corrupt bytes under our key
		_, _ = cc.store.Delete(ctx, k)
		cc.hooks.SelfHeal(k, "value_decode")
		cc.log.Debug("dropped undecodable entry", Fields{"key": key, "err": err})
		return zero, false, nil
	}
	return v, true, nil
}

func (cc *cacher[V]) GetWithID(ctx context.Context, key string) (V, uint64, bool, error) {
	var zero V
	k := cc.key(key)
	raw, casID, ok, err := cc.store.Gets(ctx, k)
	if err != nil || !ok {
		return zero, 0, false, err
	}
	v, err := cc.codec.Decode(raw)
	if err != nil {
		_, _ = cc.store.Delete(ctx, k)
		cc.hooks.SelfHeal(k, "value_decode")
		cc.log.Debug("dropped undecodable entry", Fields{"key": key, "err": err})
		return zero, 0, false, nil
	}
	return v, casID, true, nil
}

func (cc *cacher[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	raw, err := cc.codec.Encode(value)
	if err != nil {
		return err
	}
	return cc.store.Set(ctx, cc.key(key), raw, cc.ttl(ttl))
}

func (cc *cacher[V]) Add(ctx context.Context, key string, value V, ttl time.Duration) (bool, error) {
	raw, err := cc.codec.Encode(value)
	if err != nil {
		return false, err
	}
	return cc.store.Add(ctx, cc.key(key), raw, cc.ttl(ttl))
}

func (cc *cacher[V]) CompareAndSwap(ctx context.Context, key string, value V, casID uint64, ttl time.Duration) (bool, error) {
	raw, err := cc.codec.Encode(value)
	if err != nil {
		return false, err
	}
	return cc.store.CompareAndSwap(ctx, cc.key(key), raw, casID, cc.ttl(ttl))
}

func (cc *cacher[V]) Delete(ctx context.Context, key string) (bool, error) {
	return cc.store.Delete(ctx, cc.key(key))
}

func (cc *cacher[V]) Increment(ctx context.Context, key string, delta uint64) (uint64, error) {
	return cc.store.Incr(ctx, cc.key(key), delta)
}

func (cc *cacher[V]) Decrement(ctx context.Context, key string, delta uint64) (uint64, error) {
	return cc.store.Decr(ctx, cc.key(key), delta)
}

func (cc *cacher[V]) FlushAll(ctx context.Context) error {
	return cc.store.FlushAll(ctx)
}
