package codec

import (
	"bytes"
	"reflect"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
)

// envelope lets scalars and slices travel as a BSON document, which
// requires a top-level embedded document.
type envelope[T any] struct {
	V T `bson:"v"`
}

var timeType = reflect.TypeOf(time.Time{})

// bsonRegistry is the default registry with a time.Time encoder that only
// accepts values a BSON datetime reproduces exactly.
var bsonRegistry = newBSONRegistry()

func newBSONRegistry() *bsoncodec.Registry {
	r := bson.NewRegistry()
	r.RegisterTypeEncoder(timeType, bsoncodec.ValueEncoderFunc(encodeExactTime))
	return r
}

// encodeExactTime writes t as a BSON datetime. Datetimes decode as UTC
// milliseconds, so other zones and sub-millisecond times are rejected.
func encodeExactTime(_ bsoncodec.EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	if !val.IsValid() || val.Type() != timeType {
		return bsoncodec.ValueEncoderError{Name: "encodeExactTime", Types: []reflect.Type{timeType}, Received: val}
	}

	t := val.Interface().(time.Time)
	if t.Location() != time.UTC {
		return errors.Errorf("time %s is not UTC: bson datetimes do not keep zones", t)
	}
	if t.Nanosecond()%int(time.Millisecond) != 0 {
		return errors.Errorf("time %s has sub-millisecond precision: bson datetimes keep milliseconds", t)
	}
	return vw.WriteDateTime(t.UnixMilli())
}

type bsonCodec[T any] struct{}

// BSON returns a codec backed by go.mongodb.org/mongo-driver/bson.
//
// Struct fields follow bson tag rules (lowercased field names by default).
// time.Time values must be UTC with millisecond precision; anything else
// fails to encode rather than coming back changed. Map-typed records are
// not deterministic because Go map iteration order is random; use structs
// or slices.
func BSON[T any]() Codec[T] {
	return bsonCodec[T]{}
}

func (bsonCodec[T]) Encode(v T) ([]byte, error) {
	var buf bytes.Buffer
	vw, err := bsonrw.NewBSONValueWriter(&buf)
	if err != nil {
		return nil, errors.Wrap(err, "bson encode")
	}
	enc, err := bson.NewEncoder(vw)
	if err != nil {
		return nil, errors.Wrap(err, "bson encode")
	}
	if err := enc.SetRegistry(bsonRegistry); err != nil {
		return nil, errors.Wrap(err, "bson encode")
	}
	if err := enc.Encode(envelope[T]{V: v}); err != nil {
		return nil, errors.Wrap(err, "bson encode")
	}
	return buf.Bytes(), nil
}

func (bsonCodec[T]) Decode(data []byte) (T, error) {
	var env envelope[T]
	if err := bson.Unmarshal(data, &env); err != nil {
		var zero T
		return zero, errors.Wrap(err, "bson decode")
	}
	return env.V, nil
}

func (bsonCodec[T]) Name() string {
	return NameBSON
}
