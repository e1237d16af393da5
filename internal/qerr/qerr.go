// Package qerr defines the error taxonomy shared by every queue backend.
//
// Backends never return their internal failures directly. Each failure is
// classified into one Kind and carried inside an *Error together with the
// operation, the queue path, and a human-readable cause.
package qerr

import (
	stderrors "errors"
	"fmt"
	"io/fs"

	"github.com/pkg/errors"
)

// Kind classifies a queue failure.
type Kind uint8

const (
	// KindUnknown is never produced by a backend; KindOf reports it for
	// errors that did not come from this package.
	KindUnknown Kind = iota

	// AccessDenied means the filesystem refused access to the queue path.
	AccessDenied

	// CorruptState means the file at the queue path is not in the
	// backend's format. The path is unusable until repaired or recreated.
	CorruptState

	// EncodeError means a record could not be serialized.
	EncodeError

	// DecodeError means stored bytes could not be deserialized into a record.
	DecodeError

	// IOError is any other environment-level failure.
	IOError
)

// String returns the taxonomy name of the kind.
func (k Kind) String() string {
	switch k {
	case AccessDenied:
		return "AccessDenied"
	case CorruptState:
		return "CorruptState"
	case EncodeError:
		return "EncodeError"
	case DecodeError:
		return "DecodeError"
	case IOError:
		return "IOError"
	default:
		return "Unknown"
	}
}

// Error is the only error type returned through the queue interface.
type Error struct {
	// Kind is the taxonomy class of the failure.
	Kind Kind

	// Op is the queue operation that failed (open, enqueue, dequeue, count, close).
	Op string

	// Path is the queue path the handle was opened with.
	Path string

	// Cause is a human-readable description of what went wrong.
	Cause string

	// Err is the underlying failure, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("pqueue: %s: %s: %s", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("pqueue: %s %s: %s: %s", e.Op, e.Path, e.Kind, e.Cause)
}

// Unwrap returns the underlying failure.
func (e *Error) Unwrap() error {
	return e.Err
}

// Format prints the stack of the underlying failure with %+v.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') && e.Err != nil {
			_, _ = fmt.Fprintf(s, "%s\n%+v", e.Error(), e.Err)
			return
		}
		fallthrough
	case 's':
		_, _ = fmt.Fprint(s, e.Error())
	case 'q':
		_, _ = fmt.Fprintf(s, "%q", e.Error())
	}
}

// New creates an error with no underlying failure.
func New(kind Kind, op, path, cause string) *Error {
	return &Error{
		Kind:  kind,
		Op:    op,
		Path:  path,
		Cause: cause,
		Err:   errors.New(cause),
	}
}

// Newf creates an error with a formatted cause.
func Newf(kind Kind, op, path, format string, args ...interface{}) *Error {
	return New(kind, op, path, fmt.Sprintf(format, args...))
}

// Wrap classifies err as kind. A nil err yields nil.
// If err already is an *Error it is returned unchanged so the first
// classification wins.
func Wrap(kind Kind, op, path string, err error) error {
	if err == nil {
		return nil
	}
	var qe *Error
	if stderrors.As(err, &qe) {
		return qe
	}
	return &Error{
		Kind:  kind,
		Op:    op,
		Path:  path,
		Cause: err.Error(),
		Err:   errors.WithStack(err),
	}
}

// Wrapf classifies err as kind and prefixes its cause with a message.
func Wrapf(kind Kind, op, path string, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	var qe *Error
	if stderrors.As(err, &qe) {
		return qe
	}
	wrapped := errors.Wrapf(err, format, args...)
	return &Error{
		Kind:  kind,
		Op:    op,
		Path:  path,
		Cause: wrapped.Error(),
		Err:   wrapped,
	}
}

// FromOS classifies a filesystem failure. Permission failures become
// AccessDenied; everything else is an IOError.
func FromOS(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, fs.ErrPermission) {
		return Wrap(AccessDenied, op, path, err)
	}
	return Wrap(IOError, op, path, err)
}

// KindOf returns the kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var qe *Error
	if stderrors.As(err, &qe) {
		return qe.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Cause returns the root failure beneath err.
func Cause(err error) error {
	var qe *Error
	if stderrors.As(err, &qe) && qe.Err != nil {
		return errors.Cause(qe.Err)
	}
	return errors.Cause(err)
}
