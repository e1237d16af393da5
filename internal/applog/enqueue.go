package applog

import (
	"fmt"
	"time"

	"github.com/vnykmshr/pqueue/internal/format"
	"github.com/vnykmshr/pqueue/internal/logging"
	"github.com/vnykmshr/pqueue/internal/qerr"
)

// Enqueue appends record to the tail of the queue.
// When Enqueue returns nil the record is durable.
func (q *Queue[T]) Enqueue(record T) error {
	start := time.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return errClosed(opEnqueue, q.path)
	}

	payloadSize, err := q.enqueue(record)
	if err != nil {
		q.opts.MetricsCollector.RecordEnqueueError()
		q.opts.Logger.Error("enqueue failed",
			logging.F("path", q.path),
			logging.F("error", err.Error()),
		)
		return err
	}

	q.opts.MetricsCollector.RecordEnqueue(payloadSize, time.Since(start))
	q.opts.Logger.Debug("record enqueued",
		logging.F("path", q.path),
		logging.F("payload_size", payloadSize),
		logging.F("count", q.header.Count),
	)
	return nil
}

func (q *Queue[T]) enqueue(record T) (int, error) {
	payload, err := q.opts.Codec.Encode(record)
	if err != nil {
		return 0, qerr.Wrap(qerr.EncodeError, opEnqueue, q.path, err)
	}
	if err := validateRecordSize(len(payload), q.opts.MaxRecordSize); err != nil {
		return 0, qerr.Wrap(qerr.EncodeError, opEnqueue, q.path, err)
	}

	frame := format.MarshalFrame(payload)
	need := uint64(len(frame))

	next := *q.header
	if next.Free() < need {
		if err := q.expand(&next, need); err != nil {
			return 0, qerr.FromOS(opEnqueue, q.path, err)
		}
	}

	if err := q.writeRing(&next, next.Tail, frame); err != nil {
		return 0, qerr.FromOS(opEnqueue, q.path, err)
	}
	if err := q.file.Sync(); err != nil {
		return 0, qerr.FromOS(opEnqueue, q.path, err)
	}

	next.Tail = next.Wrap(next.Tail + need)
	next.Used += need
	next.Count++

	if err := q.commit(opEnqueue, &next); err != nil {
		return 0, err
	}
	return len(payload), nil
}

// validateRecordSize checks an encoded record against the configured limit
// and the frame format's own limit.
func validateRecordSize(n, maxSize int) error {
	if maxSize > 0 && n > maxSize {
		return fmt.Errorf("record size %d bytes exceeds maximum %d bytes", n, maxSize)
	}
	if uint64(n) > format.MaxFramePayload {
		return fmt.Errorf("record size %d bytes exceeds frame limit %d bytes", n, uint64(format.MaxFramePayload))
	}
	return nil
}
