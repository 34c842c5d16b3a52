// Package memcache implements backend.Store over a pooled memcached
// connection. This is the canonical multi-process deployment: every worker
// shares one external store through its own bounded pool.
package memcache

import (
	"context"
	"errors"
	"time"

	"github.com/unkn0wn-root/memcoord/backend"
	"github.com/unkn0wn-root/memcoord/internal/proto"
	"github.com/unkn0wn-root/memcoord/pool"
)

type Store struct {
	p *pool.Pool
	// closePool releases the pool on Close; set only for exclusive owners.
	closePool bool
}

var _ backend.Store = (*Store)(nil)

type Config struct {
	Pool      *pool.Pool
	ClosePool bool
}

var ErrNilPool = errors.New("memcache store: nil pool")

func New(cfg Config) (*Store, error) {
	if cfg.Pool == nil {
		return nil, ErrNilPool
	}
	return &Store{p: cfg.Pool, closePool: cfg.ClosePool}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return s.p.Get(ctx, key)
}

func (s *Store) Gets(ctx context.Context, key string) ([]byte, uint64, bool, error) {
	return s.p.Gets(ctx, key)
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.p.Set(ctx, key, value, ttl)
}

func (s *Store) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	err := s.p.Add(ctx, key, value, ttl)
	if errors.Is(err, proto.ErrNotStored) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) CompareAndSwap(ctx context.Context, key string, value []byte, casID uint64, ttl time.Duration) (bool, error) {
	err := s.p.CompareAndSwap(ctx, key, value, casID, ttl)
	if errors.Is(err, proto.ErrCASConflict) || errors.Is(err, proto.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	err := s.p.Delete(ctx, key)
	if errors.Is(err, proto.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Incr(ctx context.Context, key string, delta uint64) (uint64, error) {
	n, err := s.p.Incr(ctx, key, delta)
	if errors.Is(err, proto.ErrNotFound) {
		return 0, backend.ErrNotFound
	}
	return n, err
}

func (s *Store) Decr(ctx context.Context, key string, delta uint64) (uint64, error) {
	n, err := s.p.Decr(ctx, key, delta)
	if errors.Is(err, proto.ErrNotFound) {
		return 0, backend.ErrNotFound
	}
	return n, err
}

func (s *Store) FlushAll(ctx context.Context) error {
	return s.p.FlushAll(ctx)
}

func (s *Store) Close(ctx context.Context) error {
	if s.closePool {
		return s.p.Close(ctx)
	}
	return nil
}
