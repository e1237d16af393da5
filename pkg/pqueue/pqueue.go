// Package pqueue provides persistent, single-process FIFO queues of typed
// records stored in a local file.
//
// Two storage backends implement the same Queue interface:
//
//   - BackendAppendLog keeps records in a growable ring inside one file and
//     commits each mutation with a small header write.
//   - BackendSnapshot rewrites the whole file on every mutation.
//
// Every successful Enqueue or Dequeue is durable before it returns.
//
// Example usage:
//
//	type Person struct {
//	    Name      string
//	    Birthdate time.Time
//	}
//
//	q, err := pqueue.Open[Person](pqueue.BackendAppendLog, "/var/lib/app/people.q", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer q.Close()
//
//	if err := q.Enqueue(Person{Name: "Alice"}); err != nil {
//	    log.Fatal(err)
//	}
//
//	p, ok, err := q.Dequeue()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if ok {
//	    fmt.Println(p.Name)
//	}
package pqueue

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vnykmshr/pqueue/internal/applog"
	"github.com/vnykmshr/pqueue/internal/codec"
	"github.com/vnykmshr/pqueue/internal/logging"
	"github.com/vnykmshr/pqueue/internal/metrics"
	"github.com/vnykmshr/pqueue/internal/qerr"
	"github.com/vnykmshr/pqueue/internal/snapshot"
)

// Version is the current version of pqueue.
// This is the single source of truth for the application version.
const Version = "0.3.0"

// Queue is a persistent FIFO queue of records of type T.
//
// A Queue exclusively owns its file while open. Operations on one Queue
// are serialized; opening the same path twice, in one process or several,
// is not supported.
type Queue[T any] interface {
	// Enqueue appends record at the tail. On success the record is durable.
	Enqueue(record T) error

	// Dequeue removes and returns the head record. On an empty queue it
	// returns the zero value and false with a nil error.
	Dequeue() (T, bool, error)

	// Count returns the number of records in the queue.
	Count() (int, error)

	// Name returns the path the queue was opened with.
	Name() string

	// Close releases the queue. Further operations fail with IOError.
	Close() error
}

// Backend selects the storage strategy.
type Backend string

const (
	// BackendAppendLog stores records in a ring inside one growable file
	BackendAppendLog Backend = "applog"

	// BackendSnapshot rewrites the whole file on every mutation
	BackendSnapshot Backend = "snapshot"
)

// Backends lists every available backend.
var Backends = []Backend{BackendAppendLog, BackendSnapshot}

// String implements fmt.Stringer.
func (b Backend) String() string {
	return string(b)
}

// ParseBackend parses a backend name. Matching is case-insensitive.
func ParseBackend(s string) (Backend, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(s))) {
	case BackendAppendLog:
		return BackendAppendLog, nil
	case BackendSnapshot:
		return BackendSnapshot, nil
	default:
		return "", fmt.Errorf("unknown backend %q (valid: %s, %s)", s, BackendAppendLog, BackendSnapshot)
	}
}

// Codec converts records to stored bytes and back.
type Codec[T any] = codec.Codec[T]

// BSONCodec returns a codec backed by the MongoDB BSON encoder.
// time.Time values must be UTC with millisecond precision; other times fail
// to encode with EncodeError.
func BSONCodec[T any]() Codec[T] {
	return codec.BSON[T]()
}

// MsgpackCodec returns the default codec, MessagePack. time.Time values
// keep nanosecond precision and their zone offset.
func MsgpackCodec[T any]() Codec[T] {
	return codec.Msgpack[T]()
}

// CodecByName returns the codec named "bson" or "msgpack".
// An empty name selects MessagePack.
func CodecByName[T any](name string) (Codec[T], error) {
	return codec.ByName[T](name)
}

// Options configures a queue. A nil *Options uses the defaults.
type Options[T any] struct {
	// Codec converts records to bytes and back
	// Default: MessagePack
	Codec Codec[T]

	// InitialFileLength is the size of a new append-log file in bytes.
	// Ignored by the snapshot backend.
	// Default: 4096
	InitialFileLength uint64

	// MaxRecordSize is the largest encoded record accepted, in bytes
	// (0 = default, negative = no limit)
	// Default: 64 MiB
	MaxRecordSize int

	// Logger for structured logging (nil = no logging)
	Logger Logger

	// MetricsCollector for collecting queue metrics (nil = no metrics)
	MetricsCollector MetricsCollector
}

// DefaultOptions returns sensible defaults for queue configuration.
func DefaultOptions[T any]() *Options[T] {
	return &Options[T]{
		Codec:             codec.Msgpack[T](),
		InitialFileLength: applog.DefaultInitialFileLength,
		MaxRecordSize:     applog.DefaultMaxRecordSize,
	}
}

// Open opens the queue at path with the chosen backend, creating the file
// if it does not exist. Errors are *Error values classified by Kind.
func Open[T any](backend Backend, path string, opts *Options[T]) (Queue[T], error) {
	if opts == nil {
		opts = DefaultOptions[T]()
	}

	switch backend {
	case BackendAppendLog:
		q, err := OpenAppendLog(path, opts)
		if err != nil {
			return nil, err
		}
		return q, nil
	case BackendSnapshot:
		q, err := OpenSnapshot(path, opts)
		if err != nil {
			return nil, err
		}
		return q, nil
	default:
		return nil, qerr.Newf(qerr.IOError, "open", path, "unknown backend %q", backend)
	}
}

// OpenAppendLog opens an append-log queue at path.
func OpenAppendLog[T any](path string, opts *Options[T]) (*applog.Queue[T], error) {
	if opts == nil {
		opts = DefaultOptions[T]()
	}
	return applog.Open[T](path, &applog.Options[T]{
		Codec:             opts.Codec,
		InitialFileLength: opts.InitialFileLength,
		MaxRecordSize:     opts.MaxRecordSize,
		Logger:            convertLogger(opts.Logger),
		MetricsCollector:  convertMetrics(opts.MetricsCollector),
	})
}

// OpenSnapshot opens a snapshot queue at path.
func OpenSnapshot[T any](path string, opts *Options[T]) (*snapshot.Queue[T], error) {
	if opts == nil {
		opts = DefaultOptions[T]()
	}
	return snapshot.Open[T](path, &snapshot.Options[T]{
		Codec:            opts.Codec,
		MaxRecordSize:    opts.MaxRecordSize,
		Logger:           convertLogger(opts.Logger),
		MetricsCollector: convertMetrics(opts.MetricsCollector),
	})
}

// Opener opens a queue at a path. It lets callers choose a backend once
// and open many queues with it.
type Opener[T any] func(path string) (Queue[T], error)

// OpenerFor returns an Opener bound to backend and opts.
func OpenerFor[T any](backend Backend, opts *Options[T]) (Opener[T], error) {
	b, err := ParseBackend(string(backend))
	if err != nil {
		return nil, err
	}
	return func(path string) (Queue[T], error) {
		return Open[T](b, path, opts)
	}, nil
}

// Stats describes the on-disk state of a queue.
type Stats struct {
	// Backend is the storage backend of the queue
	Backend Backend

	// Path is the queue file
	Path string

	// Count is the number of records in the queue
	Count uint64

	// FileBytes is the size of the queue file
	FileBytes uint64

	// UsedBytes is the space occupied by live records (append-log only)
	UsedBytes uint64

	// Seq is the number of commits made to the file (append-log only)
	Seq uint64
}

// GetStats returns statistics for a queue opened by this package.
func GetStats[T any](q Queue[T]) (*Stats, error) {
	switch b := q.(type) {
	case *applog.Queue[T]:
		s, err := b.Stats()
		if err != nil {
			return nil, err
		}
		return &Stats{
			Backend:   BackendAppendLog,
			Path:      s.Path,
			Count:     s.Count,
			FileBytes: s.FileLength,
			UsedBytes: s.UsedBytes,
			Seq:       s.Seq,
		}, nil
	case *snapshot.Queue[T]:
		s, err := b.Stats()
		if err != nil {
			return nil, err
		}
		return &Stats{
			Backend:   BackendSnapshot,
			Path:      s.Path,
			Count:     s.Count,
			FileBytes: s.FileSize,
		}, nil
	default:
		return nil, fmt.Errorf("stats not supported for %T", q)
	}
}

// MetricsCollector defines the interface for recording queue metrics.
type MetricsCollector interface {
	RecordEnqueue(payloadSize int, duration time.Duration)
	RecordDequeue(payloadSize int, duration time.Duration)
	RecordEmptyDequeue()
	RecordEnqueueError()
	RecordDequeueError()
	UpdateQueueState(pending, storageBytes uint64)
}

// MetricsSnapshot is a point-in-time view of queue metrics.
type MetricsSnapshot = metrics.Snapshot

// NewMetricsCollector creates a new metrics collector for a queue.
// The queue name is used to identify metrics from this specific queue.
func NewMetricsCollector(queueName string) *metrics.Collector {
	return metrics.NewCollector(queueName)
}

// GetMetricsSnapshot returns a snapshot of current metrics from a collector.
func GetMetricsSnapshot(collector MetricsCollector) *MetricsSnapshot {
	if c, ok := collector.(*metrics.Collector); ok {
		return c.GetSnapshot()
	}
	return nil
}

func convertMetrics(m MetricsCollector) metrics.Recorder {
	if m == nil {
		return metrics.NoopCollector{}
	}
	return m
}

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, fields ...LogField)
	Info(msg string, fields ...LogField)
	Warn(msg string, fields ...LogField)
	Error(msg string, fields ...LogField)
}

// LogField represents a structured log field.
type LogField struct {
	Key   string
	Value interface{}
}

// NewZapLogger returns a Logger that writes to z.
func NewZapLogger(z *zap.Logger) Logger {
	return &zapLogger{z: logging.NewZapLoggerFrom(z)}
}

// zapLogger exposes an internal zap-backed logger through the public interface
type zapLogger struct {
	z *logging.ZapLogger
}

func (l *zapLogger) Debug(msg string, fields ...LogField) { l.z.Debug(msg, toInternal(fields)...) }
func (l *zapLogger) Info(msg string, fields ...LogField)  { l.z.Info(msg, toInternal(fields)...) }
func (l *zapLogger) Warn(msg string, fields ...LogField)  { l.z.Warn(msg, toInternal(fields)...) }
func (l *zapLogger) Error(msg string, fields ...LogField) { l.z.Error(msg, toInternal(fields)...) }

func toInternal(fields []LogField) []logging.Field {
	result := make([]logging.Field, len(fields))
	for i, f := range fields {
		result[i] = logging.F(f.Key, f.Value)
	}
	return result
}

func convertLogger(l Logger) logging.Logger {
	switch v := l.(type) {
	case nil:
		return logging.NoopLogger{}
	case *zapLogger:
		return v.z
	default:
		return &loggerAdapter{l: l}
	}
}

// loggerAdapter adapts public Logger to internal logging.Logger
type loggerAdapter struct {
	l Logger
}

func (a *loggerAdapter) Debug(msg string, fields ...logging.Field) {
	a.l.Debug(msg, convertFields(fields)...)
}

func (a *loggerAdapter) Info(msg string, fields ...logging.Field) {
	a.l.Info(msg, convertFields(fields)...)
}

func (a *loggerAdapter) Warn(msg string, fields ...logging.Field) {
	a.l.Warn(msg, convertFields(fields)...)
}

func (a *loggerAdapter) Error(msg string, fields ...logging.Field) {
	a.l.Error(msg, convertFields(fields)...)
}

func convertFields(fields []logging.Field) []LogField {
	result := make([]LogField, len(fields))
	for i, f := range fields {
		result[i] = LogField{Key: f.Key, Value: f.Value}
	}
	return result
}
