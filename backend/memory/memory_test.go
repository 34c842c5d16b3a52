package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/unkn0wn-root/memcoord/backend"
)

func TestCASIdentifierMovesOnWrite(t *testing.T) {
	ctx := context.Background()
	s := New()

	s.Set(ctx, "k", []byte("a"), 0)
	_, id1, ok, _ := s.Gets(ctx, "k")
	if !ok {
		t.Fatal("miss after Set")
	}
	s.Set(ctx, "k", []byte("b"), 0)
	_, id2, _, _ := s.Gets(ctx, "k")
	if id1 == id2 {
		t.Fatal("cas identifier did not move on overwrite")
	}

	if ok, _ := s.CompareAndSwap(ctx, "k", []byte("c"), id1, 0); ok {
		t.Fatal("stale cas accepted")
	}
	if ok, _ := s.CompareAndSwap(ctx, "k", []byte("c"), id2, 0); !ok {
		t.Fatal("current cas refused")
	}
}

func TestExpiredEntryIsGone(t *testing.T) {
	ctx := context.Background()
	s := New()

	s.Set(ctx, "k", []byte("v"), 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatal("entry survived its TTL")
	}
	// an expired key is addable again
	if ok, _ := s.Add(ctx, "k", []byte("v2"), 0); !ok {
		t.Fatal("Add refused after expiry")
	}
}

func TestArith(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.Incr(ctx, "n", 1); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("Incr missing: %v, want ErrNotFound", err)
	}

	s.Set(ctx, "n", []byte("10"), 0)
	if n, err := s.Incr(ctx, "n", 5); err != nil || n != 15 {
		t.Fatalf("Incr = (%d, %v), want 15", n, err)
	}
	if n, err := s.Decr(ctx, "n", 100); err != nil || n != 0 {
		t.Fatalf("Decr past zero = (%d, %v), want 0", n, err)
	}

	s.Set(ctx, "s", []byte("abc"), 0)
	if _, err := s.Incr(ctx, "s", 1); !errors.Is(err, backend.ErrNotNumeric) {
		t.Fatalf("Incr non-numeric: %v, want ErrNotNumeric", err)
	}
}

func TestFlushAll(t *testing.T) {
	ctx := context.Background()
	s := New()

	s.Set(ctx, "a", []byte("1"), 0)
	s.Set(ctx, "b", []byte("2"), 0)
	s.FlushAll(ctx)

	if _, ok, _ := s.Get(ctx, "a"); ok {
		t.Fatal("entry survived FlushAll")
	}
}
