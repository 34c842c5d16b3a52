// Package codec converts cache values to and from the byte payloads the
// backing store holds. Response entries and lock queues use Msgpack; Bytes
// and String carry raw payloads where transcoding would be waste; the
// remaining codecs serve callers that bring their own serialization.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
