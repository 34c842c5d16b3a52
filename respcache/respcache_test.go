package respcache

import (
	"context"
	"errors"
	"testing"

	"github.com/unkn0wn-root/memcoord/backend/memory"
)

func newTestCache(t *testing.T, opts Options) Cache {
	t.Helper()
	if opts.Store == nil {
		opts.Store = memory.New()
	}
	cc, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return cc
}

func propfind(body string) *Request {
	return &Request{
		Method:       "PROPFIND",
		URI:          "/calendars/__uids__/A5C60F356/",
		PrincipalURI: "/principals/__uids__/A5C60F356/",
		Depth:        "1",
		Body:         []byte(body),
	}
}

func okResponse() *Response {
	return &Response{
		Status:  207,
		Headers: map[string][]string{"Content-Type": {"text/xml"}},
		Body:    []byte("<multistatus/>"),
	}
}

func TestCacheThenHit(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, Options{})

	cc.CacheResponse(ctx, propfind("<prop/>"), okResponse())

	got, ok := cc.GetResponse(ctx, propfind("<prop/>"))
	if !ok {
		t.Fatal("expected a hit")
	}
	if got.Status != 207 || string(got.Body) != "<multistatus/>" {
		t.Fatalf("got %+v", got)
	}
}

func TestMissWhenNeverCached(t *testing.T) {
	cc := newTestCache(t, Options{})
	if _, ok := cc.GetResponse(context.Background(), propfind("<prop/>")); ok {
		t.Fatal("hit for a request never cached")
	}
}

func TestReorderedBodyHitsSameEntry(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, Options{})

	cc.CacheResponse(ctx, propfind("<a/>\n<b/>"), okResponse())

	if _, ok := cc.GetResponse(ctx, propfind("<b/>\n<a/>")); !ok {
		t.Fatal("reordered body keyed a different entry")
	}
}

func TestKeyStableAcrossBodyOrder(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, Options{}).(*cache)

	a, err := cc.Key(ctx, propfind("<a/>\n<b/>"))
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	b, err := cc.Key(ctx, propfind("<b/>\n<a/>"))
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	if a != b {
		t.Fatal("reordered body changed the key")
	}
	other, _ := cc.Key(ctx, propfind("<c/>"))
	if a == other {
		t.Fatal("different bodies keyed identically")
	}
}

func TestDistinctPrincipalsKeyedApart(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, Options{})

	cc.CacheResponse(ctx, propfind("<prop/>"), okResponse())

	other := propfind("<prop/>")
	other.PrincipalURI = "/principals/__uids__/B0000000/"
	if _, ok := cc.GetResponse(ctx, other); ok {
		t.Fatal("another principal read a cached entry")
	}
}

func TestNotifierInvalidatesTarget(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	cc := newTestCache(t, Options{Store: store})

	req := propfind("<prop/>")
	cc.CacheResponse(ctx, req, okResponse())

	n, err := NewNotifier(store, req.URI, NotifierOptions{})
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}
	if err := n.Changed(ctx); err != nil {
		t.Fatalf("Changed: %v", err)
	}

	if _, ok := cc.GetResponse(ctx, propfind("<prop/>")); ok {
		t.Fatal("entry survived a change to its resource")
	}
}

func TestChildDependencyInvalidates(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	cc := newTestCache(t, Options{Store: store})

	const child = "/calendars/__uids__/B0000000/shared/"
	req := propfind("<prop/>")
	req.AddDependency(child)
	cc.CacheResponse(ctx, req, okResponse())

	if _, ok := cc.GetResponse(ctx, propfind("<prop/>")); !ok {
		t.Fatal("expected a hit before the child changed")
	}

	n, _ := NewNotifier(store, child, NotifierOptions{})
	n.Changed(ctx)

	if _, ok := cc.GetResponse(ctx, propfind("<prop/>")); ok {
		t.Fatal("entry survived a change to a recorded child")
	}
}

func TestPrincipalChangeInvalidates(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	cc := newTestCache(t, Options{Store: store})

	req := propfind("<prop/>")
	cc.CacheResponse(ctx, req, okResponse())

	n, _ := NewNotifier(store, req.PrincipalURI, NotifierOptions{})
	n.Changed(ctx)

	if _, ok := cc.GetResponse(ctx, propfind("<prop/>")); ok {
		t.Fatal("entry survived a change to its principal")
	}
}

func TestRecordChangeInvalidates(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	cc := newTestCache(t, Options{Store: store})

	req := propfind("<prop/>")
	req.RecordUID = "A5C60F356"
	cc.CacheResponse(ctx, req, okResponse())

	fresh := propfind("<prop/>")
	fresh.RecordUID = "A5C60F356"
	if _, ok := cc.GetResponse(ctx, fresh); !ok {
		t.Fatal("expected a hit before the record changed")
	}

	n, _ := NewNotifier(store, "A5C60F356", NotifierOptions{})
	n.Changed(ctx)

	again := propfind("<prop/>")
	again.RecordUID = "A5C60F356"
	if _, ok := cc.GetResponse(ctx, again); ok {
		t.Fatal("entry survived a directory record change")
	}
}

func TestResolverCanonicalizesShortNames(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	resolver := func(_ context.Context, uri string) (string, error) {
		if uri == "/calendars/users/wsanchez/" {
			return "/calendars/__uids__/A5C60F356/", nil
		}
		return uri, nil
	}
	cc := newTestCache(t, Options{Store: store, Resolver: resolver})

	// cache under the canonical form, read through the short name
	cc.CacheResponse(ctx, propfind("<prop/>"), okResponse())

	short := propfind("<prop/>")
	short.URI = "/calendars/users/wsanchez/"
	if _, ok := cc.GetResponse(ctx, short); !ok {
		t.Fatal("short-name URI keyed a different entry")
	}
}

func TestResolverFailureIsMiss(t *testing.T) {
	ctx := context.Background()
	resolver := func(context.Context, string) (string, error) {
		return "", errors.New("directory unavailable")
	}
	cc := newTestCache(t, Options{Store: memory.New(), Resolver: resolver})

	req := propfind("<prop/>")
	req.URI = "/calendars/users/wsanchez/"
	if _, ok := cc.GetResponse(ctx, req); ok {
		t.Fatal("unresolvable request produced a hit")
	}
	// and the write path must pass through, not fail
	resp := okResponse()
	reqw := propfind("<prop/>")
	reqw.URI = "/calendars/users/wsanchez/"
	if got := cc.CacheResponse(ctx, reqw, resp); got != resp {
		t.Fatal("pass-through mangled the response")
	}
}

func TestDateHeaderNotReplayed(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, Options{})

	resp := okResponse()
	resp.Headers["Date"] = []string{"Mon, 02 Jan 2006 15:04:05 GMT"}
	cc.CacheResponse(ctx, propfind("<prop/>"), resp)

	got, ok := cc.GetResponse(ctx, propfind("<prop/>"))
	if !ok {
		t.Fatal("expected a hit")
	}
	if _, present := got.Headers["Date"]; present {
		t.Fatal("stale Date header replayed")
	}
	if got.Headers["Content-Type"] == nil {
		t.Fatal("other headers dropped")
	}
}

func TestDisabledPassThrough(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, Options{Disabled: true})
	if _, isDisabled := cc.(Disabled); !isDisabled {
		t.Fatalf("got %T, want Disabled", cc)
	}

	resp := okResponse()
	if got := cc.CacheResponse(ctx, propfind("<prop/>"), resp); got != resp {
		t.Fatal("pass-through mangled the response")
	}
	if _, ok := cc.GetResponse(ctx, propfind("<prop/>")); ok {
		t.Fatal("disabled cache produced a hit")
	}
}

func TestNilStoreActsDisabled(t *testing.T) {
	cc, err := New(Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, isDisabled := cc.(Disabled); !isDisabled {
		t.Fatalf("got %T, want Disabled", cc)
	}
}
