package pool

import (
	"context"
	"time"

	"github.com/unkn0wn-root/memcoord/internal/proto"
)

// Typed request methods, each one leased round trip. Protocol refusals
// (not stored, cas conflict, not found) surface as proto sentinel errors to
// that caller only.

func (p *Pool) Get(ctx context.Context, key string) (val []byte, ok bool, err error) {
	err = p.do(ctx, func(c *proto.Conn) error {
		it, e := c.Get(key)
		if e != nil {
			return e
		}
		if it != nil {
			val, ok = it.Value, true
		}
		return nil
	})
	return val, ok, err
}

func (p *Pool) Gets(ctx context.Context, key string) (val []byte, casID uint64, ok bool, err error) {
	err = p.do(ctx, func(c *proto.Conn) error {
		it, e := c.Gets(key)
		if e != nil {
			return e
		}
		if it != nil {
			val, casID, ok = it.Value, it.CASID, true
		}
		return nil
	})
	return val, casID, ok, err
}

func (p *Pool) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return p.do(ctx, func(c *proto.Conn) error {
		return c.Set(key, 0, ttl, value)
	})
}

func (p *Pool) Add(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return p.do(ctx, func(c *proto.Conn) error {
		return c.Add(key, 0, ttl, value)
	})
}

func (p *Pool) CompareAndSwap(ctx context.Context, key string, value []byte, casID uint64, ttl time.Duration) error {
	return p.do(ctx, func(c *proto.Conn) error {
		return c.CAS(key, 0, ttl, casID, value)
	})
}

func (p *Pool) Delete(ctx context.Context, key string) error {
	return p.do(ctx, func(c *proto.Conn) error {
		return c.Delete(key)
	})
}

func (p *Pool) Incr(ctx context.Context, key string, delta uint64) (n uint64, err error) {
	err = p.do(ctx, func(c *proto.Conn) error {
		var e error
		n, e = c.Incr(key, delta)
		return e
	})
	return n, err
}

func (p *Pool) Decr(ctx context.Context, key string, delta uint64) (n uint64, err error) {
	err = p.do(ctx, func(c *proto.Conn) error {
		var e error
		n, e = c.Decr(key, delta)
		return e
	})
	return n, err
}

func (p *Pool) FlushAll(ctx context.Context) error {
	return p.do(ctx, func(c *proto.Conn) error {
		return c.FlushAll()
	})
}
