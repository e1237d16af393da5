// Package snapshot provides a persistent FIFO queue that rewrites its whole
// contents on every mutation.
//
// The file holds a checksummed header followed by every record in order.
// Each Enqueue or Dequeue builds the complete new image, writes it to a
// temporary file, fsyncs it, and renames it over the queue file, so the
// file on disk is always a complete snapshot. Mutations cost O(total size),
// which suits small queues whose contents change rarely.
package snapshot

import (
	stderrors "errors"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/vnykmshr/pqueue/internal/format"
	"github.com/vnykmshr/pqueue/internal/logging"
	"github.com/vnykmshr/pqueue/internal/qerr"
)

// Operation names used in errors.
const (
	opOpen    = "open"
	opEnqueue = "enqueue"
	opDequeue = "dequeue"
	opCount   = "count"
	opStats   = "stats"
)

// Queue is a persistent FIFO queue of T stored as one snapshot file.
// A Queue is safe for concurrent use; operations are serialized.
type Queue[T any] struct {
	opts *Options[T]
	path string

	mu sync.Mutex

	// records holds the encoded records in queue order, exactly as stored
	records [][]byte

	// fileSize is the size of the snapshot image on disk
	fileSize uint64

	closed bool
}

// Stats describes the on-disk state of a queue.
type Stats struct {
	// Path is the snapshot file
	Path string

	// Count is the number of records in the queue
	Count uint64

	// FileSize is the size of the current snapshot image
	FileSize uint64
}

// Open opens the queue at path. A missing or empty file is initialized with
// an empty snapshot. Every stored record must decode with the configured
// codec, otherwise Open fails with CorruptState.
func Open[T any](path string, opts *Options[T]) (*Queue[T], error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, qerr.Wrapf(qerr.IOError, opOpen, path, err, "invalid options")
	}
	if err := format.CheckFilePath(path); err != nil {
		return nil, qerr.FromOS(opOpen, path, err)
	}

	q := &Queue[T]{
		opts: opts,
		path: path,
	}

	q.removeStaleTemp()

	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is user-provided for queue data
	switch {
	case err != nil && !os.IsNotExist(err):
		return nil, qerr.FromOS(opOpen, path, err)
	case err != nil || len(data) == 0:
		if err := q.persist(opOpen, nil); err != nil {
			return nil, err
		}
		q.opts.Logger.Info("created queue", logging.F("path", path))
	default:
		if err := q.load(data); err != nil {
			return nil, err
		}
		q.opts.Logger.Info("opened queue",
			logging.F("path", path),
			logging.F("count", len(q.records)),
			logging.F("file_size", q.fileSize),
		)
	}

	q.opts.MetricsCollector.UpdateQueueState(uint64(len(q.records)), q.fileSize)
	return q, nil
}

// load parses a snapshot image and checks that every record decodes.
func (q *Queue[T]) load(data []byte) error {
	records, err := format.UnmarshalSnapshot(data)
	if err != nil {
		return qerr.Wrap(qerr.CorruptState, opOpen, q.path, err)
	}

	for i, r := range records {
		if _, err := q.opts.Codec.Decode(r); err != nil {
			return qerr.Wrapf(qerr.CorruptState, opOpen, q.path, err, "record %d", i)
		}
	}

	q.records = records
	q.fileSize = uint64(len(data))
	return nil
}

// removeStaleTemp deletes a temporary image left behind by a crash between
// writing and renaming. The queue file itself is still the last commit.
func (q *Queue[T]) removeStaleTemp() {
	tmp := q.path + format.TempSuffix
	if err := os.Remove(tmp); err == nil {
		q.opts.Logger.Warn("removed stale temporary snapshot", logging.F("path", tmp))
	} else if !os.IsNotExist(err) {
		q.opts.Logger.Warn("failed to remove stale temporary snapshot",
			logging.F("path", tmp),
			logging.F("error", err.Error()),
		)
	}
}

// persist replaces the snapshot file with an image of records.
//
// Once the rename has happened the new image is the file's contents, so a
// failed directory sync afterwards is logged and treated as committed.
func (q *Queue[T]) persist(op string, records [][]byte) error {
	image := format.MarshalSnapshot(records)

	err := format.WriteFileAtomic(q.path, image, q.opts.FileMode)
	if err != nil && !stderrors.Is(err, format.ErrDirSync) {
		return qerr.FromOS(op, q.path, err)
	}
	if err != nil {
		q.opts.Logger.Error("snapshot renamed but directory sync failed",
			logging.F("path", q.path),
			logging.F("error", err.Error()),
		)
	}

	q.fileSize = uint64(len(image))
	return nil
}

// Enqueue appends record to the tail of the queue.
// When Enqueue returns nil the record is durable.
func (q *Queue[T]) Enqueue(record T) error {
	start := time.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return errClosed(opEnqueue, q.path)
	}

	payload, err := q.enqueue(record)
	if err != nil {
		q.opts.MetricsCollector.RecordEnqueueError()
		q.opts.Logger.Error("enqueue failed",
			logging.F("path", q.path),
			logging.F("error", err.Error()),
		)
		return err
	}

	q.opts.MetricsCollector.RecordEnqueue(payload, time.Since(start))
	q.opts.MetricsCollector.UpdateQueueState(uint64(len(q.records)), q.fileSize)
	q.opts.Logger.Debug("record enqueued",
		logging.F("path", q.path),
		logging.F("payload_size", payload),
		logging.F("count", len(q.records)),
	)
	return nil
}

func (q *Queue[T]) enqueue(record T) (int, error) {
	payload, err := q.opts.Codec.Encode(record)
	if err != nil {
		return 0, qerr.Wrap(qerr.EncodeError, opEnqueue, q.path, err)
	}
	if q.opts.MaxRecordSize > 0 && len(payload) > q.opts.MaxRecordSize {
		return 0, qerr.Newf(qerr.EncodeError, opEnqueue, q.path,
			"record size %d bytes exceeds maximum %d bytes", len(payload), q.opts.MaxRecordSize)
	}
	if uint64(len(payload)) > format.MaxFramePayload {
		return 0, qerr.Newf(qerr.EncodeError, opEnqueue, q.path,
			"record size %d bytes exceeds format limit %d bytes", len(payload), uint64(format.MaxFramePayload))
	}

	// Clip so append never writes into an array the current state shares.
	next := append(slices.Clip(q.records), payload)
	if err := q.persist(opEnqueue, next); err != nil {
		return 0, err
	}

	q.records = next
	return len(payload), nil
}

// Dequeue removes and returns the record at the head of the queue.
// On an empty queue it returns the zero value, false, and a nil error.
//
// If the head record cannot be decoded, Dequeue returns a DecodeError and
// the record stays at the head.
func (q *Queue[T]) Dequeue() (T, bool, error) {
	start := time.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.closed {
		return zero, false, errClosed(opDequeue, q.path)
	}

	if len(q.records) == 0 {
		q.opts.MetricsCollector.RecordEmptyDequeue()
		return zero, false, nil
	}

	head := q.records[0]
	record, err := q.opts.Codec.Decode(head)
	if err != nil {
		err = qerr.Wrap(qerr.DecodeError, opDequeue, q.path, err)
		q.opts.MetricsCollector.RecordDequeueError()
		q.opts.Logger.Error("dequeue failed",
			logging.F("path", q.path),
			logging.F("error", err.Error()),
		)
		return zero, false, err
	}

	next := slices.Clone(q.records[1:])
	if err := q.persist(opDequeue, next); err != nil {
		q.opts.MetricsCollector.RecordDequeueError()
		q.opts.Logger.Error("dequeue failed",
			logging.F("path", q.path),
			logging.F("error", err.Error()),
		)
		return zero, false, err
	}
	q.records = next

	q.opts.MetricsCollector.RecordDequeue(len(head), time.Since(start))
	q.opts.MetricsCollector.UpdateQueueState(uint64(len(q.records)), q.fileSize)
	q.opts.Logger.Debug("record dequeued",
		logging.F("path", q.path),
		logging.F("payload_size", len(head)),
		logging.F("count", len(q.records)),
	)
	return record, true, nil
}

// Count returns the number of records in the queue.
func (q *Queue[T]) Count() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, errClosed(opCount, q.path)
	}
	return len(q.records), nil
}

// Name returns the path the queue was opened with.
func (q *Queue[T]) Name() string {
	return q.path
}

// Stats returns the committed on-disk state.
func (q *Queue[T]) Stats() (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return Stats{}, errClosed(opStats, q.path)
	}
	return Stats{
		Path:     q.path,
		Count:    uint64(len(q.records)),
		FileSize: q.fileSize,
	}, nil
}

// Close releases the queue. The snapshot file is not held open between
// operations, so Close only marks the handle closed. Closing twice is a no-op.
func (q *Queue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	q.records = nil

	q.opts.Logger.Debug("closed queue", logging.F("path", q.path))
	return nil
}

func errClosed(op, path string) error {
	return qerr.New(qerr.IOError, op, path, "queue is closed")
}
