package codec

import "fmt"

// LimitCodec wraps another codec and refuses to decode payloads over
// MaxDecode bytes. The shared store is writable by every worker process,
// so a size cap keeps one oversized or foreign entry from ballooning a
// reader. MaxDecode <= 0 disables the cap; Encode is forwarded unchanged.
type LimitCodec[V any] struct {
	// Inner must be set.
	Inner interface {
		Encode(V) ([]byte, error)
		Decode([]byte) (V, error)
	}
	MaxDecode int
}

func (c LimitCodec[V]) Encode(v V) ([]byte, error) { return c.Inner.Encode(v) }
func (c LimitCodec[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, fmt.Errorf("payload too large: %d > %d", len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}
