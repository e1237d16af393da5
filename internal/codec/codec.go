// Package codec converts queue records to and from their stored bytes.
//
// Both backends use the same Codec for writing and reading, so the
// encoding only has to be deterministic for equal values and stable
// between an enqueue and the matching dequeue. A codec either reproduces a
// value exactly or refuses to encode it.
package codec

import (
	"fmt"
)

// Codec encodes and decodes records of type T.
//
// Implementations must be safe for use by a single goroutine at a time and
// must not retain references to the slices passed to Decode.
type Codec[T any] interface {
	// Encode serializes v.
	Encode(v T) ([]byte, error)

	// Decode deserializes data into a new value.
	Decode(data []byte) (T, error)

	// Name identifies the encoding ("bson", "msgpack").
	Name() string
}

// Codec names accepted by ByName.
const (
	NameBSON    = "bson"
	NameMsgpack = "msgpack"
)

// ByName returns the codec registered under name. An empty name selects
// MessagePack, the default.
func ByName[T any](name string) (Codec[T], error) {
	switch name {
	case NameMsgpack, "":
		return Msgpack[T](), nil
	case NameBSON:
		return BSON[T](), nil
	default:
		return nil, fmt.Errorf("unknown codec %q (valid: %s, %s)", name, NameBSON, NameMsgpack)
	}
}
