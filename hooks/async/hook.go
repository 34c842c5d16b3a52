// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/unkn0wn-root/memcoord"
//	"github.com/unkn0wn-root/memcoord/hooks/async"
//	"github.com/unkn0wn-root/memcoord/sloghooks"
//
// )
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    SelfHealEvery: 10, // sample logs: ~every 10th self-heal
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
// Hooks fire on hot paths (every pool lease, every cache read); the async
// wrapper keeps slow sinks off those paths and drops events under pressure
// rather than blocking.
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/memcoord"
)

type Hooks struct {
	inner memcoord.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ memcoord.Hooks = (*Hooks)(nil)

func New(inner memcoord.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) DialFailed(addr string, err error) { h.try(func() { h.inner.DialFailed(addr, err) }) }
func (h *Hooks) ConnLost(addr string)              { h.try(func() { h.inner.ConnLost(addr) }) }
func (h *Hooks) RequestQueued(addr string, depth int) {
	h.try(func() { h.inner.RequestQueued(addr, depth) })
}
func (h *Hooks) SelfHeal(k, reason string) { h.try(func() { h.inner.SelfHeal(k, reason) }) }
func (h *Hooks) CacheWriteDropped(ns string, err error) {
	h.try(func() { h.inner.CacheWriteDropped(ns, err) })
}
func (h *Hooks) LockTimeout(name string, ticket uint64) {
	h.try(func() { h.inner.LockTimeout(name, ticket) })
}
