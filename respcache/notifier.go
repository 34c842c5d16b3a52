package respcache

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/memcoord"
	"github.com/unkn0wn-root/memcoord/backend"
)

// newToken generates an opaque change token. Tokens only ever compare for
// equality; a fresh one mismatches every snapshot taken before it.
func newToken() string {
	return uuid.NewString()
}

// Notifier rotates the change token of one resource. Bind a Notifier to a
// resource when it is loaded for writing and call Changed after every
// mutation; every cached response that snapshotted the old token becomes
// invalid at once.
type Notifier struct {
	tokens memcoord.Cache[string]
	uri    string
	ttl    time.Duration
	log    memcoord.Logger
}

type NotifierOptions struct {
	// TTL bounds token lifetime. Must match the response cache's TTL or
	// exceed it; a token that expires before its entries does no harm
	// (missing token reads as a mismatch) but wastes entries. Default 1h.
	TTL time.Duration

	Logger memcoord.Logger
	Hooks  memcoord.Hooks
}

// NewNotifier returns a Notifier for the resource at uri, or nil when store
// is nil so callers can hold and call it unconditionally.
func NewNotifier(store backend.Store, uri string, opts NotifierOptions) (*Notifier, error) {
	if store == nil {
		return nil, nil
	}
	ttl := opts.TTL
	if ttl == 0 {
		ttl = time.Hour
	}
	log := opts.Logger
	if log == nil {
		log = memcoord.NopLogger{}
	}
	hooks := opts.Hooks
	if hooks == nil {
		hooks = memcoord.NopHooks{}
	}
	tokens, err := newTokenCache(store, log, hooks, ttl)
	if err != nil {
		return nil, err
	}
	return &Notifier{tokens: tokens, uri: uri, ttl: ttl, log: log}, nil
}

// Changed replaces the resource's token with a fresh one. Unconditional
// set: last writer wins and any value distinct from prior snapshots is
// equally invalidating.
func (n *Notifier) Changed(ctx context.Context) error {
	if n == nil {
		return nil
	}
	tok := newToken()
	if err := n.tokens.Set(ctx, n.uri, tok, n.ttl); err != nil {
		n.log.Warn("change token rotation failed", memcoord.Fields{"uri": n.uri, "err": err})
		return err
	}
	n.log.Debug("change token rotated", memcoord.Fields{"uri": n.uri})
	return nil
}
