// Package pool manages a bounded set of connections to one memcache server.
//
// Connections are created lazily up to MaxClients. A request takes a free
// connection when one exists, dials when under the bound, and otherwise
// queues; freed connections are handed to the oldest queued request before
// going back to the free set, so queued work drains in arrival order. A
// request whose connection dies gets its error alone; the connection is
// dropped and replaced lazily on later demand.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/unkn0wn-root/memcoord"
	"github.com/unkn0wn-root/memcoord/internal/proto"
)

var (
	// ErrPoolClosed is returned for work submitted after Close.
	ErrPoolClosed = errors.New("pool: closed")
)

type Config struct {
	// Addr is the memcached host:port.
	Addr string

	// MaxClients bounds busy+connecting connections. 0 => 5.
	MaxClients int

	// DialTimeout bounds one TCP connect attempt. 0 => 5s.
	DialTimeout time.Duration

	// DialAttempts is how many times one lease retries a failed connect
	// under exponential backoff before reporting the error. 0 => 3.
	DialAttempts int

	Logger memcoord.Logger
	Hooks  memcoord.Hooks
}

type leaseResult struct {
	conn *proto.Conn
	err  error
}

type waiter struct {
	ch       chan leaseResult
	canceled bool
}

type Pool struct {
	addr         string
	max          int
	dialTimeout  time.Duration
	dialAttempts int
	log          memcoord.Logger
	hooks        memcoord.Hooks

	// dialFn is swapped by tests.
	dialFn func(ctx context.Context) (*proto.Conn, error)

	mu         sync.Mutex
	free       []*proto.Conn
	busy       int
	connecting int
	waiters    []*waiter
	closed     bool

	idle     chan struct{}
	idleOnce sync.Once
}

func New(cfg Config) *Pool {
	p := &Pool{
		addr:         cfg.Addr,
		max:          cfg.MaxClients,
		dialTimeout:  cfg.DialTimeout,
		dialAttempts: cfg.DialAttempts,
		log:          cfg.Logger,
		hooks:        cfg.Hooks,
		idle:         make(chan struct{}),
	}
	if p.max <= 0 {
		p.max = 5
	}
	if p.dialTimeout <= 0 {
		p.dialTimeout = 5 * time.Second
	}
	if p.dialAttempts <= 0 {
		p.dialAttempts = 3
	}
	if p.log == nil {
		p.log = memcoord.NopLogger{}
	}
	if p.hooks == nil {
		p.hooks = memcoord.NopHooks{}
	}
	p.dialFn = func(ctx context.Context) (*proto.Conn, error) {
		return proto.Dial(ctx, p.addr, p.dialTimeout)
	}
	return p
}

// dial runs connect attempts under exponential backoff. Each failure is a
// reconnect decision, not a pool failure: only the requesting caller sees
// the final error.
func (p *Pool) dial(ctx context.Context) (*proto.Conn, error) {
	op := func() (*proto.Conn, error) {
		c, err := p.dialFn(ctx)
		if err != nil {
			p.hooks.DialFailed(p.addr, err)
			p.log.Debug("connect attempt failed", memcoord.Fields{"addr": p.addr, "err": err})
		}
		return c, err
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(p.dialAttempts)),
	)
}

func (p *Pool) lease(ctx context.Context) (*proto.Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	if n := len(p.free); n > 0 {
		c := p.free[n-1]
		p.free = p.free[:n-1]
		p.busy++
		p.mu.Unlock()
		return c, nil
	}

	if p.busy+p.connecting < p.max {
		p.connecting++
		p.mu.Unlock()

		c, err := p.dial(ctx)

		p.mu.Lock()
		p.connecting--
		if err != nil {
			// This dial may have been the queue's only pending capacity;
			// start a replacement for the oldest waiter so it does not
			// block forever.
			if w := p.popWaiter(); w != nil {
				if p.closed {
					w.ch <- leaseResult{err: ErrPoolClosed}
				} else {
					p.connecting++
					go p.dialForWaiter(w)
				}
			}
			p.checkIdle()
			p.mu.Unlock()
			return nil, err
		}
		if p.closed {
			p.checkIdle()
			p.mu.Unlock()
			c.Close()
			return nil, ErrPoolClosed
		}
		p.busy++
		p.mu.Unlock()
		return c, nil
	}

	// at the bound: queue behind in-flight work
	w := &waiter{ch: make(chan leaseResult, 1)}
	p.waiters = append(p.waiters, w)
	p.hooks.RequestQueued(p.addr, len(p.waiters))
	p.log.Debug("request queued", memcoord.Fields{"addr": p.addr, "depth": len(p.waiters)})
	p.mu.Unlock()

	select {
	case res := <-w.ch:
		return res.conn, res.err
	case <-ctx.Done():
		p.mu.Lock()
		w.canceled = true
		// a handoff may have raced the cancellation
		select {
		case res := <-w.ch:
			p.mu.Unlock()
			if res.conn != nil {
				p.put(res.conn)
			}
		default:
			p.mu.Unlock()
		}
		return nil, ctx.Err()
	}
}

// popWaiter removes and returns the oldest live waiter. Caller holds mu.
func (p *Pool) popWaiter() *waiter {
	for len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		if !w.canceled {
			return w
		}
	}
	return nil
}

// put returns a leased connection. Broken connections are dropped; healthy
// ones go to the oldest waiter first, then the free set.
func (p *Pool) put(c *proto.Conn) {
	if c.Broken() {
		p.mu.Lock()
		p.busy--
		p.hooks.ConnLost(p.addr)
		p.log.Debug("connection dropped", memcoord.Fields{"addr": p.addr})
		// Queued waiters never re-enter lease, so losing a connection must
		// not strand them: start a replacement dial for the oldest one.
		if w := p.popWaiter(); w != nil {
			if p.closed {
				w.ch <- leaseResult{err: ErrPoolClosed}
			} else {
				p.connecting++
				go p.dialForWaiter(w)
			}
		}
		p.checkIdle()
		p.mu.Unlock()
		c.Close()
		return
	}

	p.mu.Lock()
	if w := p.popWaiter(); w != nil {
		// connection stays busy; ownership transfers to the waiter
		w.ch <- leaseResult{conn: c}
		p.mu.Unlock()
		return
	}
	p.busy--
	if p.closed {
		p.checkIdle()
		p.mu.Unlock()
		c.Close()
		return
	}
	p.free = append(p.free, c)
	p.mu.Unlock()
}

func (p *Pool) dialForWaiter(w *waiter) {
	c, err := p.dial(context.Background())

	p.mu.Lock()
	p.connecting--
	if err != nil {
		w.ch <- leaseResult{err: err}
		// keep draining: the waiter behind this one is just as stuck
		if next := p.popWaiter(); next != nil {
			if p.closed {
				next.ch <- leaseResult{err: ErrPoolClosed}
			} else {
				p.connecting++
				go p.dialForWaiter(next)
			}
		}
		p.checkIdle()
		p.mu.Unlock()
		return
	}
	if !w.canceled && !p.closed {
		p.busy++
		w.ch <- leaseResult{conn: c}
		p.mu.Unlock()
		return
	}
	// original waiter gone; pass the fresh connection onward or drop it
	if next := p.popWaiter(); next != nil && !p.closed {
		p.busy++
		next.ch <- leaseResult{conn: c}
		p.mu.Unlock()
		return
	}
	p.checkIdle()
	p.mu.Unlock()
	c.Close()
}

// checkIdle signals Close once nothing is busy, connecting, or queued.
// Caller holds mu.
func (p *Pool) checkIdle() {
	if p.closed && p.busy == 0 && p.connecting == 0 && len(p.waiters) == 0 {
		p.idleOnce.Do(func() { close(p.idle) })
	}
}

// Close stops accepting work, fails queued requests, and returns once every
// in-flight request has finished (or ctx expires).
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.idle
		return nil
	}
	p.closed = true
	for _, w := range p.waiters {
		if !w.canceled {
			w.ch <- leaseResult{err: ErrPoolClosed}
			w.canceled = true
		}
	}
	p.waiters = nil
	for _, c := range p.free {
		c.Close()
	}
	p.free = nil
	p.checkIdle()
	p.mu.Unlock()

	select {
	case <-p.idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) do(ctx context.Context, fn func(*proto.Conn) error) error {
	c, err := p.lease(ctx)
	if err != nil {
		return err
	}
	err = fn(c)
	p.put(c)
	return err
}

// Stats reports the pool's current occupancy.
type Stats struct {
	Free       int
	Busy       int
	Connecting int
	Queued     int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Free:       len(p.free),
		Busy:       p.busy,
		Connecting: p.connecting,
		Queued:     len(p.waiters),
	}
}
