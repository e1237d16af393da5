package applog

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/pqueue/internal/codec"
)

// queuePath returns a fresh queue file path inside a temporary directory.
func queuePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.q")
}

// setupQueue opens a string queue at a fresh path.
// The queue is automatically closed when the test completes.
func setupQueue(t *testing.T, opts *Options[string]) *Queue[string] {
	t.Helper()
	return openAt(t, queuePath(t), opts)
}

// openAt opens a string queue at path and closes it on cleanup.
func openAt(t *testing.T, path string, opts *Options[string]) *Queue[string] {
	t.Helper()

	q, err := Open[string](path, opts)
	require.NoError(t, err, "open %s", path)
	t.Cleanup(func() { _ = q.Close() })

	return q
}

// recordName formats fixed-width records so frame sizes are predictable.
func recordName(i int) string {
	return fmt.Sprintf("rec-%03d", i)
}

// enqueueN enqueues records recordName(from) .. recordName(from+n-1).
func enqueueN(t *testing.T, q *Queue[string], from, n int) {
	t.Helper()

	for i := from; i < from+n; i++ {
		require.NoError(t, q.Enqueue(recordName(i)), "enqueue %d", i)
	}
}

// expectDequeue dequeues one record and checks it.
func expectDequeue(t *testing.T, q *Queue[string], want string) {
	t.Helper()

	got, ok, err := q.Dequeue()
	require.NoError(t, err)
	require.True(t, ok, "expected %q, queue was empty", want)
	require.Equal(t, want, got)
}

// expectEmpty checks that the queue reports no records.
func expectEmpty(t *testing.T, q *Queue[string]) {
	t.Helper()

	got, ok, err := q.Dequeue()
	require.NoError(t, err)
	require.False(t, ok, "expected empty queue, got %q", got)

	n, err := q.Count()
	require.NoError(t, err)
	require.Zero(t, n)
}

// readFile returns the raw bytes of a queue file.
func readFile(t *testing.T, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

// writeFile replaces a queue file with raw bytes.
func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

// fixedFrameCodec encodes every recordName as a 28-byte frame, so ring
// positions in tests do not depend on the default codec.
func fixedFrameCodec() codec.Codec[string] {
	return codec.BSON[string]()
}

// poisonCodec fails to encode or decode the record "poison".
type poisonCodec struct {
	codec.Codec[string]
	failEncode bool
	failDecode bool
}

func (c poisonCodec) Encode(v string) ([]byte, error) {
	if c.failEncode && v == "poison" {
		return nil, errors.New("cannot encode poison")
	}
	return c.Codec.Encode(v)
}

func (c poisonCodec) Decode(data []byte) (string, error) {
	v, err := c.Codec.Decode(data)
	if err != nil {
		return v, err
	}
	if c.failDecode && v == "poison" {
		return "", errors.New("cannot decode poison")
	}
	return v, nil
}
