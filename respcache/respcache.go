// Package respcache caches the responses of expensive, idempotent requests
// and invalidates them through per-resource tokens.
//
// Every cached entry snapshots the tokens of everything it depends on: the
// authenticated principal, the principal's directory record, the target
// resource, and any child resources registered during request processing.
// A read returns the entry only while every snapshotted token still equals
// the token currently stored at cacheToken:<uri>; one rotated token
// invalidates the whole entry. Tokens are opaque and freshly generated per
// change, so a missing (expired) token can never be mistaken for a match.
//
// Availability wins over caching: any failure on the read path is a miss,
// and a failed write never fails the request whose response it was caching.
package respcache

import (
	"context"
	"strings"
	"time"

	"github.com/unkn0wn-root/memcoord"
	"github.com/unkn0wn-root/memcoord/backend"
	"github.com/unkn0wn-root/memcoord/codec"
	"github.com/unkn0wn-root/memcoord/internal/keys"
)

// tokenNamespace is shared by every cache and notifier so all views of a
// resource invalidate together: storage key = "cacheToken:<uri>".
const tokenNamespace = "cacheToken"

// Resolver maps a short-name request URI to its canonical stable-identifier
// form. Only consulted when the cheap syntactic rule does not apply.
type Resolver func(ctx context.Context, uri string) (string, error)

// Request carries the parts of an incoming request that contribute to its
// cache identity. Child dependencies discovered during processing are
// registered with AddDependency before the response is cached.
type Request struct {
	Method       string
	URI          string
	PrincipalURI string
	// RecordUID identifies the principal's directory record, when known.
	RecordUID string
	Depth     string
	Body      []byte

	deps      []string
	key       string
	canonical string
}

// AddDependency records an additional URI whose token must stay current for
// the cached response to remain valid (e.g. the owner of a shared
// collection).
func (r *Request) AddDependency(uri string) {
	for _, d := range r.deps {
		if d == uri {
			return
		}
	}
	r.deps = append(r.deps, uri)
}

// Response is the cacheable shape of a response: status, headers, body.
type Response struct {
	Status  int
	Headers map[string][]string
	Body    []byte
}

// entry is the stored value: the token tuple and the response, written
// together as one value so a reader never sees a torn mix of the two.
type entry struct {
	PrincipalToken string              `msgpack:"p"`
	RecordToken    string              `msgpack:"r"`
	URIToken       string              `msgpack:"u"`
	ChildTokens    map[string]string   `msgpack:"c,omitempty"`
	Status         int                 `msgpack:"s"`
	Headers        map[string][]string `msgpack:"h"`
	Body           []byte              `msgpack:"b"`
}

// Cache answers requests from cache and records responses for later.
type Cache interface {
	// GetResponse returns the cached response for req, or ok=false when
	// there is none, its tokens no longer match, or anything failed.
	GetResponse(ctx context.Context, req *Request) (*Response, bool)

	// CacheResponse stores resp keyed by req's fingerprint and returns
	// resp unchanged so callers can chain it. Failures are swallowed.
	CacheResponse(ctx context.Context, req *Request, resp *Response) *Response
}

type Options struct {
	Store backend.Store

	// Namespace isolates this cache's entries. Default "RESPONSE".
	Namespace string

	// TTL bounds entry and token lifetime. Default 1h.
	TTL time.Duration

	// Resolver canonicalizes short-name URIs. Optional; without it,
	// non-canonical URIs key the cache as-is.
	Resolver Resolver

	Logger memcoord.Logger
	Hooks  memcoord.Hooks

	// Disabled makes every read a miss and every write a pass-through,
	// for deployments without a shared store.
	Disabled bool
}

func New(opts Options) (Cache, error) {
	if opts.Disabled || opts.Store == nil {
		return Disabled{}, nil
	}
	ns := opts.Namespace
	if ns == "" {
		ns = "RESPONSE"
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

	entries, err := memcoord.New[entry](memcoord.Options[entry]{
		Namespace:  ns,
		Store:      opts.Store,
		Codec:      codec.Msgpack[entry]{},
		Logger:     log,
		Hooks:      hooks,
		DefaultTTL: ttl,
	})
	if err != nil {
		return nil, err
	}
	tokens, err := newTokenCache(opts.Store, log, hooks, ttl)
	if err != nil {
		return nil, err
	}
	return &cache{
		ns:       ns,
		entries:  entries,
		tokens:   tokens,
		resolver: opts.Resolver,
		ttl:      ttl,
		log:      log,
		hooks:    hooks,
	}, nil
}

func newTokenCache(store backend.Store, log memcoord.Logger, hooks memcoord.Hooks, ttl time.Duration) (memcoord.Cache[string], error) {
	return memcoord.New[string](memcoord.Options[string]{
		Namespace:  tokenNamespace,
		Store:      store,
		Codec:      codec.String{},
		Logger:     log,
		Hooks:      hooks,
		DefaultTTL: ttl,
	})
}

type cache struct {
	ns       string
	entries  memcoord.Cache[entry]
	tokens   memcoord.Cache[string]
	resolver Resolver
	ttl      time.Duration
	log      memcoord.Logger
	hooks    memcoord.Hooks
}

var _ Cache = (*cache)(nil)

// canonicalURI maps req.URI to its stable form. URIs already under the
// stable /__uids__/ space need no lookup; everything else goes through the
// resolver when one is configured.
func (c *cache) canonicalURI(ctx context.Context, uri string) (string, error) {
	if strings.Contains(uri, "/__uids__/") || c.resolver == nil {
		return uri, nil
	}
	return c.resolver(ctx, uri)
}

// requestKey computes (and memoizes on req) the fingerprint: method,
// principal, canonical URI, depth, and a digest of the body with its lines
// sorted so equivalent bodies in different element order key identically.
func (c *cache) requestKey(ctx context.Context, req *Request) (string, error) {
	if req.key != "" {
		return req.key, nil
	}
	canon, err := c.canonicalURI(ctx, req.URI)
	if err != nil {
		return "", err
	}
	req.canonical = canon
	req.key = keys.Fingerprint(
		req.Method,
		req.PrincipalURI,
		canon,
		req.Depth,
		keys.SortedLinesDigest(req.Body),
	)
	return req.key, nil
}

// Key exposes the request fingerprint, mainly for diagnostics.
func (c *cache) Key(ctx context.Context, req *Request) (string, error) {
	return c.requestKey(ctx, req)
}

// tokenMatches fetches the current token for uri and compares. A missing
// token is always a mismatch.
func (c *cache) tokenMatches(ctx context.Context, uri, want string) bool {
	cur, ok, err := c.tokens.Get(ctx, uri)
	if err != nil || !ok {
		return false
	}
	return cur == want
}

func (c *cache) GetResponse(ctx context.Context, req *Request) (*Response, bool) {
	key, err := c.requestKey(ctx, req)
	if err != nil {
		// URI no longer resolves; recompute rather than propagate
		c.log.Debug("request key resolution failed", memcoord.Fields{"uri": req.URI, "err": err})
		return nil, false
	}

	e, ok, err := c.entries.Get(ctx, key)
	if err != nil || !ok {
		return nil, false
	}

	if !c.tokenMatches(ctx, req.PrincipalURI, e.PrincipalToken) {
		c.log.Debug("principal token changed", memcoord.Fields{"key": key})
		return nil, false
	}
	if e.RecordToken != "" || req.RecordUID != "" {
		if req.RecordUID == "" || !c.tokenMatches(ctx, req.RecordUID, e.RecordToken) {
			c.log.Debug("directory record token changed", memcoord.Fields{"key": key})
			return nil, false
		}
	}
	if !c.tokenMatches(ctx, req.canonical, e.URIToken) {
		c.log.Debug("uri token changed", memcoord.Fields{"key": key})
		return nil, false
	}
	for uri, want := range e.ChildTokens {
		if !c.tokenMatches(ctx, uri, want) {
			c.log.Debug("child token changed", memcoord.Fields{"key": key, "child": uri})
			return nil, false
		}
	}

	return &Response{Status: e.Status, Headers: e.Headers, Body: e.Body}, true
}

// currentToken returns the token for uri, creating one if the resource has
// never been tokenized. Add-then-reread keeps concurrent creators agreeing
// on a single token.
func (c *cache) currentToken(ctx context.Context, uri string) (string, error) {
	tok, ok, err := c.tokens.Get(ctx, uri)
	if err != nil {
		return "", err
	}
	if ok {
		return tok, nil
	}
	fresh := newToken()
	added, err := c.tokens.Add(ctx, uri, fresh, c.ttl)
	if err != nil {
		return "", err
	}
	if added {
		return fresh, nil
	}
	tok, ok, err = c.tokens.Get(ctx, uri)
	if err != nil {
		return "", err
	}
	if !ok {
		// lost the race and the winner's token already expired; extremely
		// tight TTLs only
		return fresh, nil
	}
	return tok, nil
}

func (c *cache) CacheResponse(ctx context.Context, req *Request, resp *Response) *Response {
	key, err := c.requestKey(ctx, req)
	if err != nil {
		c.log.Debug("not caching: key resolution failed", memcoord.Fields{"uri": req.URI, "err": err})
		return resp
	}

	e := entry{
		Status:  resp.Status,
		Headers: stripDate(resp.Headers),
		Body:    resp.Body,
	}
	if e.PrincipalToken, err = c.currentToken(ctx, req.PrincipalURI); err != nil {
		c.dropWrite(err)
		return resp
	}
	if req.RecordUID != "" {
		if e.RecordToken, err = c.currentToken(ctx, req.RecordUID); err != nil {
			c.dropWrite(err)
			return resp
		}
	}
	if e.URIToken, err = c.currentToken(ctx, req.canonical); err != nil {
		c.dropWrite(err)
		return resp
	}
	if len(req.deps) > 0 {
		e.ChildTokens = make(map[string]string, len(req.deps))
		for _, uri := range req.deps {
			tok, err := c.currentToken(ctx, uri)
			if err != nil {
				c.dropWrite(err)
				return resp
			}
			e.ChildTokens[uri] = tok
		}
	}

	if err := c.entries.Set(ctx, key, e, c.ttl); err != nil {
		c.dropWrite(err)
	}
	return resp
}

// dropWrite logs and swallows a cache-write failure.
func (c *cache) dropWrite(err error) {
	c.hooks.CacheWriteDropped(c.ns, err)
	c.log.Warn("response cache write dropped", memcoord.Fields{"ns": c.ns, "err": err})
}

// stripDate removes the Date header so a replayed response does not carry
// the original render time.
func stripDate(h map[string][]string) map[string][]string {
	if h == nil {
		return nil
	}
	out := make(map[string][]string, len(h))
	for k, v := range h {
		if strings.EqualFold(k, "date") {
			continue
		}
		out[k] = v
	}
	return out
}

// Disabled answers every read as a miss and every write as a pass-through,
// so callers behave identically with no backing store configured.
type Disabled struct{}

var _ Cache = Disabled{}

func (Disabled) GetResponse(context.Context, *Request) (*Response, bool) { return nil, false }

func (Disabled) CacheResponse(_ context.Context, _ *Request, resp *Response) *Response {
	return resp
}
