// Package applog provides a persistent FIFO queue stored in a single
// append-log file.
//
// The file starts with two 64-byte header slots followed by a ring of
// length-prefixed, checksummed frames:
//
//	[slot A:64][slot B:64][ring data ... wraps back to offset 128]
//
// Every mutation writes its frame bytes first, fsyncs, and then commits by
// writing a new header into the slot the previous commit did not use. On
// open, the valid slot with the highest sequence number is the state, so a
// crash at any point leaves either the old or the new state on disk.
//
// Basic usage:
//
//	q, err := applog.Open[Order]("/var/lib/app/orders.q", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer q.Close()
//
//	if err := q.Enqueue(order); err != nil {
//	    log.Fatal(err)
//	}
//
//	next, ok, err := q.Dequeue()
package applog

import (
	"os"
	"path/filepath"
	"sync"

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
	opClose   = "close"
)

// Queue is a persistent FIFO queue of T backed by one append-log file.
// A Queue is safe for concurrent use; operations are serialized.
type Queue[T any] struct {
	opts *Options[T]
	path string

	mu sync.Mutex

	file *os.File

	// header is the last committed state
	header *format.RingHeader

	// slots holds the bytes currently on disk in each header slot, used to
	// restore a slot after a failed commit
	slots [format.RingHeaderSlots][]byte

	closed bool
}

// Stats describes the on-disk state of a queue.
type Stats struct {
	// Path is the queue file
	Path string

	// Count is the number of records in the queue
	Count uint64

	// UsedBytes is the ring space occupied by live frames
	UsedBytes uint64

	// FileLength is the current length of the queue file
	FileLength uint64

	// Seq is the sequence number of the last commit
	Seq uint64
}

// Open opens the queue at path, creating it if the file does not exist.
// An existing empty file is initialized as a new queue.
func Open[T any](path string, opts *Options[T]) (*Queue[T], error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, qerr.Wrapf(qerr.IOError, opOpen, path, err, "invalid options")
	}
	if err := format.CheckFilePath(path); err != nil {
		return nil, qerr.FromOS(opOpen, path, err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, opts.FileMode) //nolint:gosec // G304: Path is user-provided for queue data
	if err != nil {
		return nil, qerr.FromOS(opOpen, path, err)
	}

	q := &Queue[T]{
		opts: opts,
		path: path,
		file: f,
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, qerr.FromOS(opOpen, path, err)
	}

	if fi.Size() == 0 {
		err = q.initialize()
	} else {
		err = q.load(fi.Size())
	}
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	q.opts.MetricsCollector.UpdateQueueState(q.header.Count, q.header.FileLength)
	return q, nil
}

// initialize lays out an empty ring in a zero-length file.
func (q *Queue[T]) initialize() error {
	h := format.NewRingHeader(q.opts.InitialFileLength)

	if err := q.file.Truncate(int64(h.FileLength)); err != nil { //nolint:gosec // G115: bounded by options
		return qerr.FromOS(opOpen, q.path, err)
	}

	slotA := h.Marshal()
	if _, err := q.file.WriteAt(slotA, format.SlotOffset(h.Slot())); err != nil {
		return qerr.FromOS(opOpen, q.path, err)
	}
	if err := q.file.Sync(); err != nil {
		return qerr.FromOS(opOpen, q.path, err)
	}
	if err := format.SyncDir(filepath.Dir(q.path)); err != nil {
		return qerr.FromOS(opOpen, q.path, err)
	}

	q.header = h
	q.slots[h.Slot()] = slotA
	q.slots[1-h.Slot()] = make([]byte, format.RingHeaderSize)

	q.opts.Logger.Info("created queue",
		logging.F("path", q.path),
		logging.F("file_length", h.FileLength),
	)
	return nil
}

// load reads the last committed state from an existing file.
func (q *Queue[T]) load(size int64) error {
	if size < format.RingDataStart {
		return qerr.Newf(qerr.CorruptState, opOpen, q.path,
			"file of %d bytes is shorter than the %d-byte header", size, format.RingDataStart)
	}

	buf := make([]byte, format.RingDataStart)
	if _, err := q.file.ReadAt(buf, 0); err != nil {
		return qerr.FromOS(opOpen, q.path, err)
	}

	h, err := format.SelectRingHeader(buf)
	if err != nil {
		return qerr.Wrap(qerr.CorruptState, opOpen, q.path, err)
	}
	if uint64(size) < h.FileLength {
		return qerr.Newf(qerr.CorruptState, opOpen, q.path,
			"file of %d bytes is shorter than committed length %d", size, h.FileLength)
	}

	q.header = h
	for slot := 0; slot < format.RingHeaderSlots; slot++ {
		start := format.SlotOffset(slot)
		q.slots[slot] = append([]byte(nil), buf[start:start+format.RingHeaderSize]...)
	}

	q.opts.Logger.Info("opened queue",
		logging.F("path", q.path),
		logging.F("count", h.Count),
		logging.F("file_length", h.FileLength),
		logging.F("seq", h.Seq),
	)
	return nil
}

// Count returns the number of records in the queue.
func (q *Queue[T]) Count() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, errClosed(opCount, q.path)
	}
	return int(q.header.Count), nil //nolint:gosec // G115: count is bounded by file size
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
		Path:       q.path,
		Count:      q.header.Count,
		UsedBytes:  q.header.Used,
		FileLength: q.header.FileLength,
		Seq:        q.header.Seq,
	}, nil
}

// Close releases the queue file. Every committed operation is already
// durable, so Close does not sync. Closing twice is a no-op.
func (q *Queue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true

	if err := q.file.Close(); err != nil {
		return qerr.FromOS(opClose, q.path, err)
	}

	q.opts.Logger.Debug("closed queue", logging.F("path", q.path))
	return nil
}

func errClosed(op, path string) error {
	return qerr.New(qerr.IOError, op, path, "queue is closed")
}
