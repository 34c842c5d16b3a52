// Package memory implements backend.Store in process memory.
//
// It carries the full op set, including CAS identifiers and counters, so
// every caller of the shared store runs unchanged in a single-process
// deployment that has no external memcache configured. Invalidation only
// reaches this process; that tradeoff is the caller's to make.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/unkn0wn-root/memcoord/backend"
)

type entry struct {
	val   []byte
	casID uint64
	exp   time.Time // zero => no expiry
}

type Store struct {
	mu     sync.Mutex
	m      map[string]entry
	casSeq uint64
}

var _ backend.Store = (*Store)(nil)

func New() *Store {
	return &Store{m: make(map[string]entry)}
}

// lookup returns the live entry for key, expiring lazily. Caller holds mu.
func (s *Store) lookup(key string) (entry, bool) {
	e, ok := s.m[key]
	if !ok {
		return entry{}, false
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(s.m, key)
		return entry{}, false
	}
	return e, true
}

func (s *Store) store(key string, val []byte, ttl time.Duration) {
	s.casSeq++
	e := entry{val: val, casID: s.casSeq}
	if ttl > 0 {
		e.exp = time.Now().Add(ttl)
	}
	s.m[key] = e
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok {
		return nil, false, nil
	}
	return e.val, true, nil
}

func (s *Store) Gets(_ context.Context, key string) ([]byte, uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok {
		return nil, 0, false, nil
	}
	return e.val, e.casID, true, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store(key, value, ttl)
	return nil
}

func (s *Store) Add(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lookup(key); ok {
		return false, nil
	}
	s.store(key, value, ttl)
	return true, nil
}

func (s *Store) CompareAndSwap(_ context.Context, key string, value []byte, casID uint64, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok || e.casID != casID {
		return false, nil
	}
	s.store(key, value, ttl)
	return true, nil
}

func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.lookup(key)
	delete(s.m, key)
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
	e, ok := s.lookup(key)
	if !ok {
		return 0, backend.ErrNotFound
	}
	cur, err := strconv.ParseUint(string(e.val), 10, 64)
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
	s.casSeq++
	e.val = []byte(strconv.FormatUint(cur, 10))
	e.casID = s.casSeq
	s.m[key] = e
	return cur, nil
}

func (s *Store) FlushAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m = make(map[string]entry)
	return nil
}

func (s *Store) Close(_ context.Context) error { return nil }
