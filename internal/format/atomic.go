package format

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// TempSuffix is appended to a path to name its in-progress replacement.
const TempSuffix = ".tmp"

// ErrDirSync reports that the rename succeeded, so the new contents are in
// place, but the directory could not be fsynced afterwards.
var ErrDirSync = errors.New("directory sync failed after rename")

// WriteFileAtomic replaces the file at path with data using double-buffering.
//
// Process:
//  1. Write data to a temporary file (path + ".tmp")
//  2. Fsync the temporary file
//  3. Atomic rename to the final path
//  4. Fsync the directory (ensures the rename is durable)
//
// If the process crashes at any step, path holds either the old or the new
// contents in full. A failure wrapping ErrDirSync means the new contents
// were already renamed into place.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmpPath := path + TempSuffix

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm) //nolint:gosec // G304: Path is user-provided for queue data
	if err != nil {
		return errors.Wrap(err, "create temporary file")
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, "write temporary file")
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, "sync temporary file")
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, "close temporary file")
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, "rename temporary file")
	}

	if err := SyncDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("%w: %w", ErrDirSync, err)
	}

	return nil
}

// SyncDir fsyncs a directory so that entries created or renamed in it are durable.
func SyncDir(path string) error {
	d, err := os.Open(path) //nolint:gosec // G304: Path is user-provided for queue data
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	return d.Sync()
}

// CheckFilePath rejects paths that cannot name a queue file: the empty
// path and existing directories. A path that does not exist yet is fine.
func CheckFilePath(path string) error {
	if path == "" {
		return errors.New("invalid path: empty")
	}
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if fi.IsDir() {
		return errors.Errorf("invalid path: %s is a directory", path)
	}
	return nil
}
