package keys

import (
	"strings"
	"testing"
)

func TestNormalizeShortPassthrough(t *testing.T) {
	got := Normalize("PROPFIND", "/calendars/users/wsanchez/", 0)
	if got != "PROPFIND:/calendars/users/wsanchez/" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeLongBounded(t *testing.T) {
	long := strings.Repeat("x", 1000)
	got := Normalize("ns", long, 0)
	if len(got) != DefaultLimit {
		t.Fatalf("len=%d want %d", len(got), DefaultLimit)
	}
	if !strings.HasPrefix(got, "ns:xxxx") {
		t.Fatalf("readable prefix lost: %q", got[:16])
	}
}

func TestNormalizeDeterministic(t *testing.T) {
	long := strings.Repeat("a", 400)
	if Normalize("ns", long, 0) != Normalize("ns", long, 0) {
		t.Fatal("same input produced different keys")
	}
}

func TestNormalizeDistinctLongKeys(t *testing.T) {
	a := Normalize("ns", strings.Repeat("a", 400)+"1", 0)
	b := Normalize("ns", strings.Repeat("a", 400)+"2", 0)
	if a == b {
		t.Fatal("distinct long keys collided")
	}
}

func TestNormalizeCustomLimit(t *testing.T) {
	got := Normalize("ns", strings.Repeat("k", 100), 64)
	if len(got) != 64 {
		t.Fatalf("len=%d want 64", len(got))
	}
}

func TestFingerprintSeparatorsMatter(t *testing.T) {
	// ("ab","c") and ("a","bc") must not fingerprint identically
	if Fingerprint("ab", "c") == Fingerprint("a", "bc") {
		t.Fatal("part boundaries not separated")
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint("PROPFIND", "/principals/u/", "1")
	b := Fingerprint("PROPFIND", "/principals/u/", "1")
	if a != b {
		t.Fatal("fingerprint not deterministic")
	}
	if len(a) != 64 {
		t.Fatalf("len=%d want 64", len(a))
	}
}

func TestSortedLinesDigestOrderInsensitive(t *testing.T) {
	a := SortedLinesDigest([]byte("<prop>displayname</prop>\n<prop>getetag</prop>"))
	b := SortedLinesDigest([]byte("<prop>getetag</prop>\n<prop>displayname</prop>"))
	if a != b {
		t.Fatal("reordered lines changed the digest")
	}
}

func TestSortedLinesDigestContentSensitive(t *testing.T) {
	a := SortedLinesDigest([]byte("one\ntwo"))
	b := SortedLinesDigest([]byte("one\nthree"))
	if a == b {
		t.Fatal("different bodies digested identically")
	}
}

func TestSortedLinesDigestEmpty(t *testing.T) {
	if got := SortedLinesDigest(nil); got != "" {
		t.Fatalf("got %q for empty body", got)
	}
}
