package fifolock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/memcoord"
	"github.com/unkn0wn-root/memcoord/backend"
	"github.com/unkn0wn-root/memcoord/backend/null"
	"github.com/unkn0wn-root/memcoord/codec"
)

var (
	// ErrTimeout is returned when the acquire deadline passes first.
	ErrTimeout = errors.New("fifolock: acquire timed out")

	// ErrHeld / ErrNotHeld report misuse of a single-holder value.
	ErrHeld    = errors.New("fifolock: already held")
	ErrNotHeld = errors.New("fifolock: not held")

	// ErrNoSharedStore rejects construction over nil or no-op stores. A
	// lock that cannot observe other processes is not a lock.
	ErrNoSharedStore = errors.New("fifolock: requires a shared store")

	ErrNoName = errors.New("fifolock: name required")
)

// namespace prefixes every lock key in the store.
const namespace = "lock"

const (
	defaultTimeout  = 60 * time.Second
	defaultRetry    = 10 * time.Millisecond
	defaultMutexTTL = 10 * time.Second
)

// Mutex is a spin-acquired mutual exclusion lock over a shared store: the
// holder is whoever managed to Add the key. The key carries an expiry so a
// crashed holder frees the lock after TTL instead of wedging every peer.
//
// A Mutex value tracks held state and is for one goroutine; create one per
// critical section.
type Mutex struct {
	c     memcoord.Cache[string]
	name  string
	owner string

	ttl     time.Duration
	timeout time.Duration
	retry   time.Duration

	hooks memcoord.Hooks
	log   memcoord.Logger

	held bool
}

type MutexConfig struct {
	Store backend.Store
	Name  string

	// TTL expires an orphaned hold. Must exceed the longest critical
	// section. Default 10s.
	TTL time.Duration

	// Timeout bounds Acquire. Default 60s.
	Timeout time.Duration

	// RetryInterval is the poll period while contended. Default 10ms.
	RetryInterval time.Duration

	Logger memcoord.Logger
	Hooks  memcoord.Hooks
}

func NewMutex(cfg MutexConfig) (*Mutex, error) {
	if err := checkStore(cfg.Store); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		return nil, ErrNoName
	}
	log := cfg.Logger
	if log == nil {
		log = memcoord.NopLogger{}
	}
	hooks := cfg.Hooks
	if hooks == nil {
		hooks = memcoord.NopHooks{}
	}
	c, err := memcoord.New[string](memcoord.Options[string]{
		Namespace: namespace,
		Store:     cfg.Store,
		Codec:     codec.String{},
		Logger:    log,
		Hooks:     hooks,
	})
	if err != nil {
		return nil, err
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = defaultMutexTTL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	retry := cfg.RetryInterval
	if retry == 0 {
		retry = defaultRetry
	}
	return &Mutex{
		c:       c,
		name:    cfg.Name,
		owner:   uuid.NewString(),
		ttl:     ttl,
		timeout: timeout,
		retry:   retry,
		hooks:   hooks,
		log:     log,
	}, nil
}

func (m *Mutex) Acquire(ctx context.Context) error {
	if m.held {
		return ErrHeld
	}
	deadline := time.Now().Add(m.timeout)
	for {
		ok, err := m.c.Add(ctx, m.name, m.owner, m.ttl)
		if err != nil {
			return err
		}
		if ok {
			m.held = true
			return nil
		}
		if time.Now().After(deadline) {
			m.hooks.LockTimeout(m.name, 0)
			return ErrTimeout
		}
		if err := sleep(ctx, m.retry); err != nil {
			return err
		}
	}
}

// Release frees the lock if we still own it. An expired hold is logged and
// tolerated: the TTL already handed the lock to someone else and deleting
// the key now would steal it from them.
func (m *Mutex) Release(ctx context.Context) error {
	if !m.held {
		return ErrNotHeld
	}
	m.held = false
	cur, ok, err := m.c.Get(ctx, m.name)
	if err != nil {
		return err
	}
	if !ok || cur != m.owner {
		m.log.Warn("mutex hold expired before release", memcoord.Fields{"name": m.name})
		return nil
	}
	_, err = m.c.Delete(ctx, m.name)
	return err
}

// With runs fn while holding the mutex.
func (m *Mutex) With(ctx context.Context, fn func(context.Context) error) error {
	if err := m.Acquire(ctx); err != nil {
		return err
	}
	err := fn(ctx)
	if rerr := m.Release(ctx); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

// Clean force-deletes the lock key regardless of owner. Administrative use
// only.
func (m *Mutex) Clean(ctx context.Context) error {
	m.held = false
	_, err := m.c.Delete(ctx, m.name)
	return err
}

func checkStore(s backend.Store) error {
	if s == nil {
		return ErrNoSharedStore
	}
	if _, noop := s.(null.Store); noop {
		return ErrNoSharedStore
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
