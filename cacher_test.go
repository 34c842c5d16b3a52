package memcoord

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/unkn0wn-root/memcoord/backend"
	"github.com/unkn0wn-root/memcoord/backend/memory"
	c "github.com/unkn0wn-root/memcoord/codec"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestCache(t *testing.T, store backend.Store, ns string) Cache[record] {
	t.Helper()
	cc, err := New[record](Options[record]{
		Namespace: ns,
		Store:     store,
		Codec:     c.JSON[record]{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return cc
}

func TestSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, memory.New(), "rec")

	want := record{Name: "wsanchez", Count: 3}
	if err := cc.Set(ctx, "u1", want, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := cc.Get(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("Get = (%v, %v)", ok, err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestGetMiss(t *testing.T) {
	cc := newTestCache(t, memory.New(), "rec")
	_, ok, err := cc.Get(context.Background(), "absent")
	if err != nil || ok {
		t.Fatalf("miss = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestNamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	a := newTestCache(t, store, "alpha")
	b := newTestCache(t, store, "beta")

	if err := a.Set(ctx, "k", record{Name: "a"}, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok, _ := b.Get(ctx, "k"); ok {
		t.Fatal("value leaked across namespaces")
	}
}

func TestAddOnlyWhenAbsent(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, memory.New(), "rec")

	ok, err := cc.Add(ctx, "k", record{Name: "first"}, 0)
	if err != nil || !ok {
		t.Fatalf("first Add = (%v, %v)", ok, err)
	}
	ok, err = cc.Add(ctx, "k", record{Name: "second"}, 0)
	if err != nil || ok {
		t.Fatalf("second Add = (%v, %v), want refused", ok, err)
	}
	got, _, _ := cc.Get(ctx, "k")
	if got.Name != "first" {
		t.Fatalf("Add overwrote: %+v", got)
	}
}

func TestCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, memory.New(), "rec")

	if err := cc.Set(ctx, "k", record{Count: 1}, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	_, id, ok, err := cc.GetWithID(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("GetWithID = (%v, %v)", ok, err)
	}

	ok, err = cc.CompareAndSwap(ctx, "k", record{Count: 2}, id, 0)
	if err != nil || !ok {
		t.Fatalf("cas with current id = (%v, %v)", ok, err)
	}
	// the identifier moved; the stale one must now be refused
	ok, err = cc.CompareAndSwap(ctx, "k", record{Count: 9}, id, 0)
	if err != nil || ok {
		t.Fatalf("cas with stale id = (%v, %v), want refused", ok, err)
	}
	got, _, _ := cc.Get(ctx, "k")
	if got.Count != 2 {
		t.Fatalf("count = %d, want 2", got.Count)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, memory.New(), "rec")

	cc.Set(ctx, "k", record{}, 0)
	ok, err := cc.Delete(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Delete = (%v, %v)", ok, err)
	}
	ok, err = cc.Delete(ctx, "k")
	if err != nil || ok {
		t.Fatalf("second Delete = (%v, %v), want false", ok, err)
	}
}

func TestCounters(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	cc, err := New[string](Options[string]{Namespace: "ctr", Store: store, Codec: c.String{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := cc.Increment(ctx, "n", 1); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("Increment on missing key: %v, want ErrNotFound", err)
	}

	if err := cc.Set(ctx, "n", "5", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	n, err := cc.Increment(ctx, "n", 3)
	if err != nil || n != 8 {
		t.Fatalf("Increment = (%d, %v), want 8", n, err)
	}
	n, err = cc.Decrement(ctx, "n", 100)
	if err != nil || n != 0 {
		t.Fatalf("Decrement past zero = (%d, %v), want floor at 0", n, err)
	}
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, memory.New(), "rec")

	if err := cc.Set(ctx, "k", record{}, 10*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if _, ok, _ := cc.Get(ctx, "k"); ok {
		t.Fatal("entry survived its TTL")
	}
}

type healHooks struct {
	NopHooks
	healed []string
}

func (h *healHooks) SelfHeal(key, reason string) { h.healed = append(h.healed, reason) }

func TestSelfHealOnUndecodableValue(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	hooks := &healHooks{}
	cc, err := New[record](Options[record]{
		Namespace: "rec",
		Store:     store,
		Codec:     c.JSON[record]{},
		Hooks:     hooks,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// foreign bytes under our key
	if err := store.Set(ctx, "rec:k", []byte("not json"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	_, ok, err := cc.Get(ctx, "k")
	if err != nil || ok {
		t.Fatalf("Get = (%v, %v), want clean miss", ok, err)
	}
	if len(hooks.healed) != 1 || hooks.healed[0] != "value_decode" {
		t.Fatalf("self-heal hook = %v", hooks.healed)
	}
	if _, found, _ := store.Get(ctx, "rec:k"); found {
		t.Fatal("corrupt entry left in the store")
	}
}

func TestLongKeyRoundTrip(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, memory.New(), "rec")

	long := "/calendars/" + strings.Repeat("deep/", 100) + "home/"
	if err := cc.Set(ctx, long, record{Name: "deep"}, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := cc.Get(ctx, long)
	if err != nil || !ok || got.Name != "deep" {
		t.Fatalf("Get long key = (%+v, %v, %v)", got, ok, err)
	}
}

func TestDisabledMissesEverything(t *testing.T) {
	ctx := context.Background()
	cc, err := New[record](Options[record]{
		Namespace: "rec",
		Codec:     c.JSON[record]{},
		Disabled:  true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if cc.Enabled() {
		t.Fatal("disabled cache reports enabled")
	}
	if err := cc.Set(ctx, "k", record{Name: "x"}, 0); err != nil {
		t.Fatalf("Set on disabled cache: %v", err)
	}
	if _, ok, _ := cc.Get(ctx, "k"); ok {
		t.Fatal("disabled cache returned a hit")
	}
}

func TestDisabledNoInvalidationIsProcessLocal(t *testing.T) {
	ctx := context.Background()
	cc, err := New[record](Options[record]{
		Namespace:      "rec",
		Codec:          c.JSON[record]{},
		Disabled:       true,
		NoInvalidation: true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := cc.Set(ctx, "k", record{Name: "x"}, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, _ := cc.Get(ctx, "k")
	if !ok || got.Name != "x" {
		t.Fatalf("Get = (%+v, %v), want local hit", got, ok)
	}
}

func TestOptionValidation(t *testing.T) {
	store := memory.New()
	cases := []struct {
		name string
		opts Options[record]
		want error
	}{
		{"no namespace", Options[record]{Store: store, Codec: c.JSON[record]{}}, ErrNoNamespace},
		{"long namespace", Options[record]{Namespace: strings.Repeat("n", 33), Store: store, Codec: c.JSON[record]{}}, ErrLongNamespace},
		{"no codec", Options[record]{Namespace: "rec", Store: store}, ErrNoCodec},
		{"no store", Options[record]{Namespace: "rec", Codec: c.JSON[record]{}}, ErrNoStore},
	}
	for _, tc := range cases {
		if _, err := New[record](tc.opts); !errors.Is(err, tc.want) {
			t.Fatalf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}
}
