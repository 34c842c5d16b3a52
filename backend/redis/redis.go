// Package redis implements backend.Store on a Redis server.
//
// Redis has no per-value change identifier, so entries are framed as
// "<version> <payload>" with versions issued from one counter key, and the
// compare-and-swap / counter ops run as Lua scripts to stay atomic. The
// frame never leaves this package; Get returns the payload bytes untouched.
//
// FlushAll maps to FLUSHDB: point this store at a database dedicated to the
// cache, exactly as a dedicated memcached instance would be.
package redis

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/memcoord/backend"
)

var ErrNilClient = errors.New("redis store: nil client")

const seqKey = "memcoord:casseq"

type Store struct {
	rdb         goredis.UniversalClient
	closeClient bool
}

var _ backend.Store = (*Store)(nil)

type Config struct {
	Client Client
	// CloseClient releases the client on Close. Set only when this store
	// exclusively owns it.
	CloseClient bool
}

// Client is the subset of go-redis this store needs.
type Client = goredis.UniversalClient

func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Store{rdb: cfg.Client, closeClient: cfg.CloseClient}, nil
}

var setScript = goredis.NewScript(`
local ver = redis.call('INCR', KEYS[2])
local nv = ver .. ' ' .. ARGV[1]
if tonumber(ARGV[2]) > 0 then
  redis.call('SET', KEYS[1], nv, 'PX', ARGV[2])
else
  redis.call('SET', KEYS[1], nv)
end
return ver
`)

var addScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
local ver = redis.call('INCR', KEYS[2])
local nv = ver .. ' ' .. ARGV[1]
if tonumber(ARGV[2]) > 0 then
  redis.call('SET', KEYS[1], nv, 'PX', ARGV[2])
else
  redis.call('SET', KEYS[1], nv)
end
return 1
`)

var casScript = goredis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return 0 end
local sp = string.find(v, ' ', 1, true)
if string.sub(v, 1, sp - 1) ~= ARGV[1] then return 0 end
local ver = redis.call('INCR', KEYS[2])
local nv = ver .. ' ' .. ARGV[2]
if tonumber(ARGV[3]) > 0 then
  redis.call('SET', KEYS[1], nv, 'PX', ARGV[3])
else
  redis.call('SET', KEYS[1], nv)
end
return 1
`)

// arithScript adds ARGV[1] (may be negative) to the numeric payload,
// flooring at zero, preserving the remaining TTL.
var arithScript = goredis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return redis.error_reply('NOTFOUND') end
local sp = string.find(v, ' ', 1, true)
local num = tonumber(string.sub(v, sp + 1))
if num == nil then return redis.error_reply('NOTNUM') end
num = num + tonumber(ARGV[1])
if num < 0 then num = 0 end
local ver = redis.call('INCR', KEYS[2])
local nv = ver .. ' ' .. tostring(num)
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
  redis.call('SET', KEYS[1], nv, 'PX', ttl)
else
  redis.call('SET', KEYS[1], nv)
end
return num
`)

func unframe(b []byte) (payload []byte, version uint64, ok bool) {
	for i, c := range b {
		if c == ' ' {
			v, err := strconv.ParseUint(string(b[:i]), 10, 64)
			if err != nil {
				return nil, 0, false
			}
			return b[i+1:], v, true
		}
	}
	return nil, 0, false
}

func ttlMillis(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	ms := ttl.Milliseconds()
	if ms == 0 {
		ms = 1
	}
	return ms
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, _, ok, err := s.Gets(ctx, key)
	return v, ok, err
}

func (s *Store) Gets(ctx context.Context, key string) ([]byte, uint64, bool, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	payload, ver, ok := unframe(b)
	if !ok {
		// foreign or corrupt entry; self-heal
		_ = s.rdb.Del(ctx, key).Err()
		return nil, 0, false, nil
	}
	return payload, ver, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return setScript.Run(ctx, s.rdb, []string{key, seqKey}, value, ttlMillis(ttl)).Err()
}

func (s *Store) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	n, err := addScript.Run(ctx, s.rdb, []string{key, seqKey}, value, ttlMillis(ttl)).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) CompareAndSwap(ctx context.Context, key string, value []byte, casID uint64, ttl time.Duration) (bool, error) {
	n, err := casScript.Run(ctx, s.rdb, []string{key, seqKey},
		strconv.FormatUint(casID, 10), value, ttlMillis(ttl)).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Del(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) Incr(ctx context.Context, key string, delta uint64) (uint64, error) {
	return s.arith(ctx, key, int64(delta))
}

func (s *Store) Decr(ctx context.Context, key string, delta uint64) (uint64, error) {
	return s.arith(ctx, key, -int64(delta))
}

func (s *Store) arith(ctx context.Context, key string, delta int64) (uint64, error) {
	n, err := arithScript.Run(ctx, s.rdb, []string{key, seqKey},
		strconv.FormatInt(delta, 10)).Int64()
	if err != nil {
		switch {
		case strings.Contains(err.Error(), "NOTFOUND"):
			return 0, backend.ErrNotFound
		case strings.Contains(err.Error(), "NOTNUM"):
			return 0, backend.ErrNotNumeric
		}
		return 0, err
	}
	return uint64(n), nil
}

func (s *Store) FlushAll(ctx context.Context) error {
	return s.rdb.FlushDB(ctx).Err()
}

func (s *Store) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
