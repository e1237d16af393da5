package codec

import (
	"github.com/pkg/errors"
	ugorji "github.com/ugorji/go/codec"
)

// msgpackHandle is shared by every msgpack codec. A handle is safe for
// concurrent use once configured.
var msgpackHandle = newMsgpackHandle()

func newMsgpackHandle() *ugorji.MsgpackHandle {
	h := &ugorji.MsgpackHandle{}
	h.Canonical = true
	h.WriteExt = true
	h.RawToString = true
	// time.Time goes through MarshalBinary, which keeps the zone offset
	// as well as nanoseconds.
	h.TimeNotBuiltin = true
	return h
}

type msgpackCodec[T any] struct {
	h *ugorji.MsgpackHandle
}

// Msgpack returns a MessagePack codec backed by github.com/ugorji/go/codec.
// Map keys are written in sorted order so equal values encode identically.
// time.Time values come back with the same instant, nanoseconds and zone
// offset they were encoded with.
func Msgpack[T any]() Codec[T] {
	return msgpackCodec[T]{h: msgpackHandle}
}

func (c msgpackCodec[T]) Encode(v T) ([]byte, error) {
	var out []byte
	if err := ugorji.NewEncoderBytes(&out, c.h).Encode(v); err != nil {
		return nil, errors.Wrap(err, "msgpack encode")
	}
	return out, nil
}

func (c msgpackCodec[T]) Decode(data []byte) (T, error) {
	var v T
	if len(data) == 0 {
		return v, errors.New("msgpack decode: empty input")
	}
	if err := ugorji.NewDecoderBytes(data, c.h).Decode(&v); err != nil {
		var zero T
		return zero, errors.Wrap(err, "msgpack decode")
	}
	return v, nil
}

func (c msgpackCodec[T]) Name() string {
	return NameMsgpack
}
