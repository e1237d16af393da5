package pqueue

import (
	"github.com/vnykmshr/pqueue/internal/qerr"
)

// Error is the error type returned by every queue operation. Use KindOf or
// IsKind to branch on the failure class.
type Error = qerr.Error

// Kind classifies a queue failure.
type Kind = qerr.Kind

const (
	// AccessDenied means the filesystem refused access to the queue path.
	AccessDenied = qerr.AccessDenied

	// CorruptState means the queue file is not in the backend's format.
	CorruptState = qerr.CorruptState

	// EncodeError means a record could not be serialized.
	EncodeError = qerr.EncodeError

	// DecodeError means a stored record could not be deserialized.
	DecodeError = qerr.DecodeError

	// IOError is any other environment-level failure, including use of a
	// closed queue.
	IOError = qerr.IOError
)

// KindOf returns the Kind of err. Errors not produced by this package have
// an unknown kind.
func KindOf(err error) Kind {
	return qerr.KindOf(err)
}

// IsKind reports whether err is a queue error of the given kind.
func IsKind(err error, kind Kind) bool {
	return qerr.IsKind(err, kind)
}
