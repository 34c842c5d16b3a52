// Package memcoord is the caching and coordination substrate shared by the
// worker processes of a groupware server: a namespaced client over one
// memcache-protocol store, a token-invalidated response cache, and a
// fairness-ordered distributed lock.
//
// Components:
//   - backend.Store: the capability interface over the backing store, with
//     remote (memcache, redis), in-process (memory, ristretto) and disabled
//     (null) variants selected at construction time.
//   - pool.Pool / pool.Registry: bounded, reconnecting connection pools to
//     memcached, routed by logical handle.
//   - Cache[V]: this package; namespaced get/set/add/cas/delete/incr/decr
//     with codec-pluggable serialization and key normalization.
//   - respcache: caches expensive responses keyed by request fingerprint and
//     validates them against per-resource invalidation tokens.
//   - fifolock: ticket-ordered mutual exclusion built from the store's
//     atomic counter and add primitives.
//
// Keys:
//
//	<ns>:<key>          - client entries (truncated + digest when over limit)
//	cacheToken:<uri>    - invalidation token for one resource
//
// Invalidation pattern: reads validate every token a cached entry was
// written under; writers rotate a resource's token through
// respcache.Notifier.Changed, which invalidates all dependent entries at
// once.
package memcoord
