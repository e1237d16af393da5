package applog

import (
	"fmt"
	"os"

	"github.com/vnykmshr/pqueue/internal/codec"
	"github.com/vnykmshr/pqueue/internal/format"
	"github.com/vnykmshr/pqueue/internal/logging"
	"github.com/vnykmshr/pqueue/internal/metrics"
)

// DefaultInitialFileLength is the size of a freshly created queue file.
const DefaultInitialFileLength = 4096

// DefaultMaxRecordSize bounds a single encoded record (64 MiB).
const DefaultMaxRecordSize = 64 * 1024 * 1024

// Options configures an append-log queue.
type Options[T any] struct {
	// Codec converts records to bytes and back
	// Default: MessagePack
	Codec codec.Codec[T]

	// InitialFileLength is the file size of a new queue, in bytes.
	// The file doubles whenever a record does not fit in the free ring space.
	// Default: 4096
	InitialFileLength uint64

	// MaxRecordSize is the largest encoded record accepted, in bytes.
	// A negative value leaves only the frame format's 4 GiB limit.
	// Default: 64 MiB
	MaxRecordSize int

	// FileMode is the permission used when creating the queue file
	// Default: 0644
	FileMode os.FileMode

	// Logger for structured logging (nil = no logging)
	Logger logging.Logger

	// MetricsCollector for collecting queue metrics (nil = no metrics)
	MetricsCollector metrics.Recorder
}

// DefaultOptions returns sensible defaults for an append-log queue.
func DefaultOptions[T any]() *Options[T] {
	return &Options[T]{
		Codec:             codec.Msgpack[T](),
		InitialFileLength: DefaultInitialFileLength,
		MaxRecordSize:     DefaultMaxRecordSize,
		FileMode:          0o644,
		Logger:            logging.NoopLogger{},
		MetricsCollector:  metrics.NoopCollector{},
	}
}

// withDefaults returns a copy of o with unset fields filled in.
func (o *Options[T]) withDefaults() *Options[T] {
	d := DefaultOptions[T]()
	if o == nil {
		return d
	}
	out := *o
	if out.Codec == nil {
		out.Codec = d.Codec
	}
	if out.InitialFileLength == 0 {
		out.InitialFileLength = d.InitialFileLength
	}
	if out.MaxRecordSize == 0 {
		out.MaxRecordSize = d.MaxRecordSize
	}
	if out.FileMode == 0 {
		out.FileMode = d.FileMode
	}
	out.Logger = logging.OrNoop(out.Logger)
	out.MetricsCollector = metrics.OrNoop(out.MetricsCollector)
	return &out
}

// Validate checks if the options are usable.
func (o *Options[T]) Validate() error {
	if o.InitialFileLength <= format.RingDataStart+format.FrameOverhead {
		return fmt.Errorf("initial file length %d too small (minimum %d)",
			o.InitialFileLength, format.RingDataStart+format.FrameOverhead+1)
	}
	return nil
}
