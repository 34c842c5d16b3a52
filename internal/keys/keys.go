// Package keys derives bounded, deterministic storage keys.
//
// Backing stores cap key length (memcached: 250 bytes). Logical keys are
// arbitrary strings, often URIs, so keys over the cap are truncated and a
// content digest of the full key is appended. Two distinct logical keys only
// collide if their SHA-256 digests collide.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// DefaultLimit is the memcached protocol key-length limit.
const DefaultLimit = 250

// digestHexLen is how many hex chars of the SHA-256 digest a truncated key
// keeps. 32 hex chars = 128 bits.
const digestHexLen = 32

// Normalize returns the storage key for key under namespace ns, guaranteed
// to be at most limit bytes. Short keys pass through as "ns:key"; long keys
// are truncated with a digest of the full original appended. limit <= 0
// means DefaultLimit.
func Normalize(ns, key string, limit int) string {
	if limit <= 0 {
		limit = DefaultLimit
	}
	full := ns + ":" + key
	if len(full) <= limit {
		return full
	}
	sum := sha256.Sum256([]byte(full))
	digest := hex.EncodeToString(sum[:])[:digestHexLen]
	// keep as much of the readable key as fits ahead of "-<digest>"
	keep := limit - digestHexLen - 1
	if keep < 0 {
		keep = 0
	}
	return full[:keep] + "-" + digest
}

// Fingerprint hashes the given parts into a fixed-size hex key. Used for
// request fingerprints where the components themselves are unbounded.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SortedLinesDigest hashes body after sorting its lines, so two bodies that
// differ only in element order produce the same digest.
func SortedLinesDigest(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	lines := strings.Split(string(body), "\n")
	sort.Strings(lines)
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}
