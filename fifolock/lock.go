// Package fifolock provides distributed locks over a shared store.
//
// Lock grants the critical section in strict arrival order. Each waiter
// draws a ticket from a shared counter, registers it in a sorted queue, and
// then polls a next-in-line key until its own ticket comes up; releasing
// advances next to the new queue head. Queue edits happen under an
// auxiliary Mutex so concurrent registrations never tear the queue.
//
// Tickets start at 1; next-in-line 0 means nobody holds the lock.
//
// Both Lock and Mutex values are single-goroutine: construct one per
// request, not one per resource.
package fifolock

import (
	"bytes"
	"context"
	"slices"
	"strconv"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/unkn0wn-root/memcoord"
	"github.com/unkn0wn-root/memcoord/backend"
	"github.com/unkn0wn-root/memcoord/codec"
)

type Config struct {
	Store backend.Store

	// Name identifies the resource being locked. Peers locking the same
	// Name contend; distinct Names never interact.
	Name string

	// Timeout bounds Acquire. Default 60s.
	Timeout time.Duration

	// RetryInterval is the poll period while waiting. Default 10ms.
	RetryInterval time.Duration

	// MutexTTL expires the auxiliary queue mutex if its holder crashes.
	// Default 10s.
	MutexTTL time.Duration

	Logger memcoord.Logger
	Hooks  memcoord.Hooks
}

// Lock is a FIFO distributed lock. The zero value is unusable; call New.
type Lock struct {
	c  memcoord.Cache[[]byte]
	mu *Mutex

	name      string
	ticketKey string
	nextKey   string
	queueKey  string

	timeout  time.Duration
	retry    time.Duration
	mutexTTL time.Duration

	hooks memcoord.Hooks
	log   memcoord.Logger

	held   bool
	ticket uint64
}

func New(cfg Config) (*Lock, error) {
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
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	retry := cfg.RetryInterval
	if retry == 0 {
		retry = defaultRetry
	}
	mutexTTL := cfg.MutexTTL
	if mutexTTL == 0 {
		mutexTTL = defaultMutexTTL
	}

	c, err := memcoord.New[[]byte](memcoord.Options[[]byte]{
		Namespace: namespace,
		Store:     cfg.Store,
		Codec:     codec.Bytes{},
		Logger:    log,
		Hooks:     hooks,
	})
	if err != nil {
		return nil, err
	}
	mu, err := NewMutex(MutexConfig{
		Store:         cfg.Store,
		Name:          cfg.Name + ":mutex",
		TTL:           mutexTTL,
		Timeout:       timeout,
		RetryInterval: retry,
		Logger:        log,
		Hooks:         hooks,
	})
	if err != nil {
		return nil, err
	}
	return &Lock{
		c:         c,
		mu:        mu,
		name:      cfg.Name,
		ticketKey: cfg.Name + ":tickets",
		nextKey:   cfg.Name + ":next",
		queueKey:  cfg.Name + ":queue",
		timeout:   timeout,
		retry:     retry,
		mutexTTL:  mutexTTL,
		hooks:     hooks,
		log:       log,
	}, nil
}

// Acquire draws a ticket, enqueues it, and waits until it is next in line.
// On timeout or cancellation the ticket is withdrawn so later waiters do
// not stall behind a ghost.
func (l *Lock) Acquire(ctx context.Context) error {
	if l.held {
		return ErrHeld
	}
	deadline := time.Now().Add(l.timeout)

	// seed the counter and the next-in-line key on first use; Add is a
	// no-op when a peer got there first
	if _, err := l.c.Add(ctx, l.ticketKey, []byte("1"), 0); err != nil {
		return err
	}
	if _, err := l.c.Add(ctx, l.nextKey, []byte("0"), 0); err != nil {
		return err
	}

	n, err := l.c.Increment(ctx, l.ticketKey, 1)
	if err != nil {
		return err
	}
	ticket := n - 1

	err = l.mu.With(ctx, func(ctx context.Context) error {
		q, err := l.readQueue(ctx)
		if err != nil {
			return err
		}
		q = append(q, ticket)
		slices.Sort(q)
		if err := l.writeQueue(ctx, q); err != nil {
			return err
		}
		if len(q) == 1 {
			return l.setNext(ctx, ticket)
		}
		return nil
	})
	if err != nil {
		// the ticket may have reached the queue before the failure
		l.withdraw(ctx, ticket)
		return err
	}

	for {
		cur, err := l.next(ctx)
		if err != nil {
			l.withdraw(ctx, ticket)
			return err
		}
		if cur == ticket {
			l.held, l.ticket = true, ticket
			return nil
		}
		if time.Now().After(deadline) {
			l.withdraw(ctx, ticket)
			l.hooks.LockTimeout(l.name, ticket)
			l.log.Debug("lock acquire timed out", memcoord.Fields{"name": l.name, "ticket": ticket})
			return ErrTimeout
		}
		if err := sleep(ctx, l.retry); err != nil {
			l.withdraw(ctx, ticket)
			return err
		}
	}
}

// Release removes our ticket and hands the lock to the new queue head, or
// writes the 0 sentinel when the queue drained.
func (l *Lock) Release(ctx context.Context) error {
	if !l.held {
		return ErrNotHeld
	}
	ticket := l.ticket
	l.held = false
	return l.mu.With(ctx, func(ctx context.Context) error {
		q, err := l.readQueue(ctx)
		if err != nil {
			return err
		}
		if i := slices.Index(q, ticket); i >= 0 {
			q = slices.Delete(q, i, i+1)
			if err := l.writeQueue(ctx, q); err != nil {
				return err
			}
		}
		cur, err := l.next(ctx)
		if err != nil {
			return err
		}
		if cur != ticket {
			// someone else is next already; leave it in place
			return nil
		}
		if len(q) > 0 {
			return l.setNext(ctx, q[0])
		}
		return l.setNext(ctx, 0)
	})
}

// Locked reports whether any process currently holds or is queued for the
// lock.
func (l *Lock) Locked(ctx context.Context) (bool, error) {
	n, err := l.next(ctx)
	if err != nil {
		return false, err
	}
	return n != 0, nil
}

// Clean force-resets all lock state, holders and waiters included.
// Administrative use only.
func (l *Lock) Clean(ctx context.Context) error {
	l.held = false
	for _, k := range []string{l.queueKey, l.nextKey, l.ticketKey} {
		if _, err := l.c.Delete(ctx, k); err != nil {
			return err
		}
	}
	return l.mu.Clean(ctx)
}

// withdraw removes ticket from the queue after a failed acquire, advancing
// next if the ticket had already come up. Best effort; runs detached from
// the caller's (possibly canceled) context.
func (l *Lock) withdraw(ctx context.Context, ticket uint64) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.mutexTTL)
	defer cancel()
	err := l.mu.With(ctx, func(ctx context.Context) error {
		q, err := l.readQueue(ctx)
		if err != nil {
			return err
		}
		i := slices.Index(q, ticket)
		if i < 0 {
			return nil
		}
		q = slices.Delete(q, i, i+1)
		if err := l.writeQueue(ctx, q); err != nil {
			return err
		}
		cur, err := l.next(ctx)
		if err != nil {
			return err
		}
		if cur != ticket {
			return nil
		}
		if len(q) > 0 {
			return l.setNext(ctx, q[0])
		}
		return l.setNext(ctx, 0)
	})
	if err != nil {
		l.log.Warn("ticket withdrawal failed", memcoord.Fields{"name": l.name, "ticket": ticket, "err": err})
	}
}

func (l *Lock) readQueue(ctx context.Context) ([]uint64, error) {
	raw, ok, err := l.c.Get(ctx, l.queueKey)
	if err != nil {
		return nil, err
	}
	if !ok || len(raw) == 0 {
		return nil, nil
	}
	var q []uint64
	if err := msgpack.Unmarshal(raw, &q); err != nil {
		return nil, err
	}
	return q, nil
}

func (l *Lock) writeQueue(ctx context.Context, q []uint64) error {
	raw, err := msgpack.Marshal(q)
	if err != nil {
		return err
	}
	return l.c.Set(ctx, l.queueKey, raw, 0)
}

// next reads the ticket currently allowed to hold the lock; 0 means none.
// Trimmed before parsing because memcached pads decremented values with
// spaces.
func (l *Lock) next(ctx context.Context) (uint64, error) {
	raw, ok, err := l.c.Get(ctx, l.nextKey)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return strconv.ParseUint(string(bytes.TrimSpace(raw)), 10, 64)
}

func (l *Lock) setNext(ctx context.Context, n uint64) error {
	return l.c.Set(ctx, l.nextKey, []byte(strconv.FormatUint(n, 10)), 0)
}
