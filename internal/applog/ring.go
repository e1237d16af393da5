package applog

import (
	"io"

	"github.com/pkg/errors"

	"github.com/vnykmshr/pqueue/internal/format"
	"github.com/vnykmshr/pqueue/internal/logging"
	"github.com/vnykmshr/pqueue/internal/qerr"
)

// writeRing writes data at ring position pos, continuing at the start of
// the data region if it runs past the end of the file.
func (q *Queue[T]) writeRing(h *format.RingHeader, pos uint64, data []byte) error {
	first := h.FileLength - pos
	if uint64(len(data)) <= first {
		_, err := q.file.WriteAt(data, int64(pos)) //nolint:gosec // G115: positions are bounded by file length
		return errors.Wrapf(err, "write ring at %d", pos)
	}

	if _, err := q.file.WriteAt(data[:first], int64(pos)); err != nil { //nolint:gosec // G115: positions are bounded by file length
		return errors.Wrapf(err, "write ring at %d", pos)
	}
	_, err := q.file.WriteAt(data[first:], format.RingDataStart)
	return errors.Wrapf(err, "write wrapped ring tail of %d bytes", len(data)-int(first)) //nolint:gosec // G115: first < len(data)
}

// readRing fills buf from ring position pos, wrapping like writeRing.
func (q *Queue[T]) readRing(h *format.RingHeader, pos uint64, buf []byte) error {
	first := h.FileLength - pos
	if uint64(len(buf)) <= first {
		_, err := q.file.ReadAt(buf, int64(pos)) //nolint:gosec // G115: positions are bounded by file length
		return errors.Wrapf(err, "read ring at %d", pos)
	}

	if _, err := q.file.ReadAt(buf[:first], int64(pos)); err != nil { //nolint:gosec // G115: positions are bounded by file length
		return errors.Wrapf(err, "read ring at %d", pos)
	}
	_, err := q.file.ReadAt(buf[first:], format.RingDataStart)
	return errors.Wrapf(err, "read wrapped ring tail of %d bytes", len(buf)-int(first)) //nolint:gosec // G115: first < len(buf)
}

// expand grows the file until the ring has room for need more bytes and
// updates h to describe the larger ring. The file length doubles each step.
//
// If the live region wraps, its wrapped part [RingDataStart, Tail) is
// copied to the old end of file so the region is contiguous again. The
// copied bytes stay live under the committed header, so in that case the
// file also grows until a need-byte frame fits between the new tail and
// the end of file without wrapping onto them. Nothing inside the committed
// live region is written, so the committed header stays valid until the
// caller commits h.
func (q *Queue[T]) expand(h *format.RingHeader, need uint64) error {
	oldLen := h.FileLength
	isWrapped := h.Count > 0 && h.Tail <= h.Head
	wrapped := uint64(0)
	if isWrapped {
		wrapped = h.Tail - format.RingDataStart
	}

	newLen := oldLen
	for newLen-format.RingDataStart-h.Used < need || (isWrapped && newLen < oldLen+wrapped+need) {
		newLen *= 2
	}

	if err := q.file.Truncate(int64(newLen)); err != nil { //nolint:gosec // G115: bounded by doubling a valid length
		return errors.Wrapf(err, "grow file to %d bytes", newLen)
	}

	tail := h.Tail
	if isWrapped {
		src := io.NewSectionReader(q.file, format.RingDataStart, int64(wrapped)) //nolint:gosec // G115: tail is inside the ring
		dst := io.NewOffsetWriter(q.file, int64(oldLen))                           //nolint:gosec // G115: bounded by file length
		if _, err := io.Copy(dst, src); err != nil {
			return errors.Wrapf(err, "relocate %d wrapped bytes", wrapped)
		}
		tail = oldLen + wrapped
	}

	h.FileLength = newLen
	h.Tail = tail

	q.opts.Logger.Info("expanded queue file",
		logging.F("path", q.path),
		logging.F("old_length", oldLen),
		logging.F("new_length", newLen),
	)
	return nil
}

// commit makes next the current state by writing it into the header slot
// the current state does not occupy. next.Seq is assigned here.
//
// If the slot write or its fsync fails, the slot's previous bytes are
// restored and the in-memory state is left unchanged.
func (q *Queue[T]) commit(op string, next *format.RingHeader) error {
	next.Seq = q.header.Seq + 1
	if err := next.Validate(); err != nil {
		return qerr.Wrapf(qerr.CorruptState, op, q.path, err, "refusing to commit inconsistent header")
	}

	buf := next.Marshal()
	slot := next.Slot()
	off := format.SlotOffset(slot)

	if _, err := q.file.WriteAt(buf, off); err != nil {
		q.rollbackSlot(slot)
		return qerr.FromOS(op, q.path, errors.Wrapf(err, "write header slot %d", slot))
	}
	if err := q.file.Sync(); err != nil {
		q.rollbackSlot(slot)
		return qerr.FromOS(op, q.path, errors.Wrap(err, "sync header"))
	}

	q.slots[slot] = buf
	q.header = next
	q.opts.MetricsCollector.UpdateQueueState(next.Count, next.FileLength)
	return nil
}

// rollbackSlot rewrites the previous bytes of a header slot after a failed
// commit. The slot never held the current state, so failure here is logged
// but does not affect recovery.
func (q *Queue[T]) rollbackSlot(slot int) {
	prev := q.slots[slot]
	if _, err := q.file.WriteAt(prev, format.SlotOffset(slot)); err != nil {
		q.opts.Logger.Error("failed to restore header slot",
			logging.F("path", q.path),
			logging.F("slot", slot),
			logging.F("error", err.Error()),
		)
		return
	}
	if err := q.file.Sync(); err != nil {
		q.opts.Logger.Error("failed to sync restored header slot",
			logging.F("path", q.path),
			logging.F("slot", slot),
			logging.F("error", err.Error()),
		)
	}
}
