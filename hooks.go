package memcoord

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache and pool call them on hot paths.
type Hooks interface {
	// A connect attempt to the backing store failed (will be retried
	// under the pool's backoff policy).
	DialFailed(addr string, err error)

	// A pooled connection died and was dropped; a replacement is dialed
	// lazily on next demand.
	ConnLost(addr string)

	// A request hit the pool's connection bound and was queued.
	// depth is the queue length including this request.
	RequestQueued(addr string, depth int)

	// An entry was deleted by the cache on read.
	// reason ∈ {"corrupt", "value_decode"}
	SelfHeal(storageKey, reason string)

	// A response-cache write failed and was swallowed (the underlying
	// request must never fail because caching did).
	CacheWriteDropped(namespace string, err error)

	// A lock acquirer timed out and withdrew its ticket.
	LockTimeout(name string, ticket uint64)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) DialFailed(string, error)       {}
func (NopHooks) ConnLost(string)                {}
func (NopHooks) RequestQueued(string, int)      {}
func (NopHooks) SelfHeal(string, string)        {}
func (NopHooks) CacheWriteDropped(string, error) {}
func (NopHooks) LockTimeout(string, uint64)     {}
