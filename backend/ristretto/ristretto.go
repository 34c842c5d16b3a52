// Package ristretto implements backend.Store on a bounded in-process
// ristretto cache.
//
// It is the memory-capped sibling of backend/memory: per-entry TTLs are
// real, admission may reject writes under pressure, and eviction can drop
// any key at any time. That is exactly cache semantics, so it suits cache
// and token traffic; lock counters should live on backend/memory or a
// remote store, where writes are never silently shed.
package ristretto

import (
	"context"
	"encoding/binary"
	"errors"
	"strconv"
	"sync"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/memcoord/backend"
)

type Store struct {
	c *rc.Cache

	// Serializes read-modify-write ops (Add, CompareAndSwap, Incr, Decr).
	// Plain Get/Set stay lock-free.
	mu     sync.Mutex
	casSeq uint64
}

var _ backend.Store = (*Store)(nil)

type Config struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
}

func New(cfg Config) (*Store, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	if cfg.BufferItems <= 0 {
		cfg.BufferItems = 64
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &Store{c: c}, nil
}

// Entries are framed as casID(u64 be) | value so the change identifier
// travels with the bytes and survives eviction-and-refill cycles.
func frame(casID uint64, value []byte) []byte {
	b := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(b, casID)
	copy(b[8:], value)
	return b
}

func (s *Store) get(key string) ([]byte, uint64, bool) {
	v, ok := s.c.Get(key)
	if !ok {
		return nil, 0, false
	}
	b, _ := v.([]byte)
	if len(b) < 8 {
		s.c.Del(key)
		return nil, 0, false
	}
	return b[8:], binary.BigEndian.Uint64(b[:8]), true
}

// set writes synchronously: ristretto buffers writes, so Wait makes the
// entry visible to the Get a caller issues right after.
func (s *Store) set(key string, casID uint64, value []byte, ttl time.Duration) {
	b := frame(casID, value)
	if ttl > 0 {
		s.c.SetWithTTL(key, b, int64(len(b)), ttl)
	} else {
		s.c.Set(key, b, int64(len(b)))
	}
	s.c.Wait()
}

func (s *Store) nextCAS() uint64 {
	s.casSeq++
	return s.casSeq
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, _, ok := s.get(key)
	return v, ok, nil
}

func (s *Store) Gets(_ context.Context, key string) ([]byte, uint64, bool, error) {
	v, id, ok := s.get(key)
	return v, id, ok, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(key, s.nextCAS(), value, ttl)
	return nil
}

func (s *Store) Add(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, _, ok := s.get(key); ok {
		return false, nil
	}
	s.set(key, s.nextCAS(), value, ttl)
	return true, nil
}

func (s *Store) CompareAndSwap(_ context.Context, key string, value []byte, casID uint64, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, cur, ok := s.get(key)
	if !ok || cur != casID {
		return false, nil
	}
	s.set(key, s.nextCAS(), value, ttl)
	return true, nil
}

func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	_, _, ok := s.get(key)
	s.c.Del(key)
	return ok, nil
}

func (s *Store) Incr(_ context.Context, key string, delta uint64) (uint64, error) {
	return s.arith(key, delta, false)
}

func (s *Store) Decr(_ context.Context, key string, delta uint64) (uint64, error) {
	return s.arith(key, delta, true)
}

func (s *Store) arith(key string, delta uint64, down bool) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, _, ok := s.get(key)
	if !ok {
		return 0, backend.ErrNotFound
	}
	cur, err := strconv.ParseUint(string(v), 10, 64)
	if err != nil {
		return 0, backend.ErrNotNumeric
	}
	if down {
		if delta >= cur {
			cur = 0
		} else {
			cur -= delta
		}
	} else {
		cur += delta
	}
	// rewrite under the entry's remaining TTL, not a fresh lifetime
	rem, _ := s.c.GetTTL(key)
	if rem < 0 {
		rem = 0
	}
	s.set(key, s.nextCAS(), []byte(strconv.FormatUint(cur, 10)), rem)
	return cur, nil
}

func (s *Store) FlushAll(_ context.Context) error {
	s.c.Clear()
	return nil
}

func (s *Store) Close(_ context.Context) error {
	s.c.Wait()
	s.c.Close()
	return nil
}
