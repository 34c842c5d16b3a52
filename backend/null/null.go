// Package null implements backend.Store as a no-op.
//
// Every read misses and every write reports success without storing
// anything, so a deployment with no backing store configured runs the exact
// code paths of a cached one, just uncached. Counter ops fail with
// ErrNotFound; callers that genuinely need shared counters (the distributed
// lock) must refuse to run on this store.
package null

import (
	"context"
	"time"

	"github.com/unkn0wn-root/memcoord/backend"
)

type Store struct{}

var _ backend.Store = Store{}

func New() Store { return Store{} }

func (Store) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (Store) Gets(context.Context, string) ([]byte, uint64, bool, error) {
	return nil, 0, false, nil
}

func (Store) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (Store) Add(context.Context, string, []byte, time.Duration) (bool, error) { return true, nil }

func (Store) CompareAndSwap(context.Context, string, []byte, uint64, time.Duration) (bool, error) {
	return false, nil
}

func (Store) Delete(context.Context, string) (bool, error) { return false, nil }

func (Store) Incr(context.Context, string, uint64) (uint64, error) {
	return 0, backend.ErrNotFound
}

func (Store) Decr(context.Context, string, uint64) (uint64, error) {
	return 0, backend.ErrNotFound
}

func (Store) FlushAll(context.Context) error { return nil }

func (Store) Close(context.Context) error { return nil }
