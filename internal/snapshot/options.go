package snapshot

import (
	"fmt"
	"os"

	"github.com/vnykmshr/pqueue/internal/codec"
	"github.com/vnykmshr/pqueue/internal/logging"
	"github.com/vnykmshr/pqueue/internal/metrics"
)

// DefaultMaxRecordSize bounds a single encoded record (64 MiB).
const DefaultMaxRecordSize = 64 * 1024 * 1024

// Options configures a snapshot queue.
type Options[T any] struct {
	// Codec converts records to bytes and back
	// Default: MessagePack
	Codec codec.Codec[T]

	// MaxRecordSize is the largest encoded record accepted, in bytes
	// (negative = no limit)
	// Default: 64 MiB
	MaxRecordSize int

	// FileMode is the permission used when writing the snapshot file
	// Default: 0644
	FileMode os.FileMode

	// Logger for structured logging (nil = no logging)
	Logger logging.Logger

	// MetricsCollector for collecting queue metrics (nil = no metrics)
	MetricsCollector metrics.Recorder
}

// DefaultOptions returns sensible defaults for a snapshot queue.
func DefaultOptions[T any]() *Options[T] {
	return &Options[T]{
		Codec:            codec.Msgpack[T](),
		MaxRecordSize:    DefaultMaxRecordSize,
		FileMode:         0o644,
		Logger:           logging.NoopLogger{},
		MetricsCollector: metrics.NoopCollector{},
	}
}

func (o *Options[T]) withDefaults() *Options[T] {
	d := DefaultOptions[T]()
	if o == nil {
		return d
	}
	out := *o
	if out.Codec == nil {
		out.Codec = d.Codec
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
	if o.Codec == nil {
		return fmt.Errorf("codec is required")
	}
	return nil
}
