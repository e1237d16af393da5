package applog

import (
	"time"

	"github.com/vnykmshr/pqueue/internal/format"
	"github.com/vnykmshr/pqueue/internal/logging"
	"github.com/vnykmshr/pqueue/internal/qerr"
)

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

	if q.header.Count == 0 {
		q.opts.MetricsCollector.RecordEmptyDequeue()
		return zero, false, nil
	}

	record, payloadSize, err := q.dequeue()
	if err != nil {
		q.opts.MetricsCollector.RecordDequeueError()
		q.opts.Logger.Error("dequeue failed",
			logging.F("path", q.path),
			logging.F("head", q.header.Head),
			logging.F("error", err.Error()),
		)
		return zero, false, err
	}

	q.opts.MetricsCollector.RecordDequeue(payloadSize, time.Since(start))
	q.opts.Logger.Debug("record dequeued",
		logging.F("path", q.path),
		logging.F("payload_size", payloadSize),
		logging.F("count", q.header.Count),
	)
	return record, true, nil
}

func (q *Queue[T]) dequeue() (T, int, error) {
	var zero T
	h := q.header

	prefix := make([]byte, 4)
	if err := q.readRing(h, h.Head, prefix); err != nil {
		return zero, 0, qerr.FromOS(opDequeue, q.path, err)
	}

	size := format.FrameSize(int(format.FramePayloadLength(prefix)))
	if size > h.Used {
		return zero, 0, qerr.Newf(qerr.CorruptState, opDequeue, q.path,
			"frame of %d bytes at offset %d exceeds %d used bytes", size, h.Head, h.Used)
	}

	frame := make([]byte, size)
	if err := q.readRing(h, h.Head, frame); err != nil {
		return zero, 0, qerr.FromOS(opDequeue, q.path, err)
	}

	payload, err := format.UnmarshalFrame(frame)
	if err != nil {
		return zero, 0, qerr.Wrapf(qerr.CorruptState, opDequeue, q.path, err, "frame at offset %d", h.Head)
	}

	record, err := q.opts.Codec.Decode(payload)
	if err != nil {
		return zero, 0, qerr.Wrap(qerr.DecodeError, opDequeue, q.path, err)
	}

	next := *h
	next.Count--
	next.Used -= size
	if next.Count == 0 {
		if next.Used != 0 {
			return zero, 0, qerr.Newf(qerr.CorruptState, opDequeue, q.path,
				"%d used bytes remain after the last record", next.Used)
		}
		// An empty ring restarts at the beginning of the data region.
		next.Head = format.RingDataStart
		next.Tail = format.RingDataStart
	} else {
		next.Head = next.Wrap(h.Head + size)
	}

	if err := q.commit(opDequeue, &next); err != nil {
		return zero, 0, err
	}
	return record, len(payload), nil
}
