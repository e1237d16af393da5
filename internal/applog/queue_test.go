package applog

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vnykmshr/pqueue/internal/codec"
	"github.com/vnykmshr/pqueue/internal/format"
	"github.com/vnykmshr/pqueue/internal/logging"
	"github.com/vnykmshr/pqueue/internal/metrics"
	"github.com/vnykmshr/pqueue/internal/qerr"
)

func TestOpen_CreatesFile(t *testing.T) {
	path := queuePath(t)
	q := openAt(t, path, nil)

	assert.Equal(t, path, q.Name())

	n, err := q.Count()
	require.NoError(t, err)
	assert.Zero(t, n)

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultInitialFileLength), fi.Size())

	stats, err := q.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(DefaultInitialFileLength), stats.FileLength)
	assert.Zero(t, stats.Seq)
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open[string]("", nil)
	assert.True(t, qerr.IsKind(err, qerr.IOError), "got %v", err)

	_, err = Open[string](t.TempDir(), nil)
	assert.True(t, qerr.IsKind(err, qerr.IOError), "got %v", err)
}

func TestOpen_InvalidOptions(t *testing.T) {
	_, err := Open[string](queuePath(t), &Options[string]{InitialFileLength: 64})
	assert.True(t, qerr.IsKind(err, qerr.IOError), "got %v", err)
}

func TestOptions_MaxRecordSize(t *testing.T) {
	opts := (&Options[string]{}).withDefaults()
	assert.Equal(t, DefaultMaxRecordSize, opts.MaxRecordSize)

	opts = (&Options[string]{MaxRecordSize: 16}).withDefaults()
	assert.Equal(t, 16, opts.MaxRecordSize)

	// A negative limit disables the check.
	q := setupQueue(t, &Options[string]{MaxRecordSize: -1})
	big := strings.Repeat("x", 1000)
	require.NoError(t, q.Enqueue(big))
	expectDequeue(t, q, big)
}

func TestOpen_ZeroLengthFileIsNewQueue(t *testing.T) {
	path := queuePath(t)
	writeFile(t, path, nil)

	q := openAt(t, path, nil)
	enqueueN(t, q, 0, 1)
	expectDequeue(t, q, recordName(0))
}

func TestOpen_CorruptFile(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"shorter than header", []byte("not a queue")},
		{"garbage header", make([]byte, 4096)},
		{"text file", []byte(string(make([]byte, 200)) + "hello world")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := queuePath(t)
			writeFile(t, path, tt.data)

			_, err := Open[string](path, nil)
			assert.True(t, qerr.IsKind(err, qerr.CorruptState), "got %v", err)

			// The file must be left alone.
			assert.Equal(t, tt.data, readFile(t, path))
		})
	}
}

func TestOpen_TruncatedFile(t *testing.T) {
	path := queuePath(t)

	q, err := Open[string](path, nil)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue("a"))
	require.NoError(t, q.Close())

	require.NoError(t, os.Truncate(path, 1000))

	_, err = Open[string](path, nil)
	assert.True(t, qerr.IsKind(err, qerr.CorruptState), "got %v", err)
}

func TestOpen_AccessDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}

	dir := filepath.Join(t.TempDir(), "locked")
	require.NoError(t, os.Mkdir(dir, 0o500))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o700) })

	_, err := Open[string](filepath.Join(dir, "test.q"), nil)
	assert.True(t, qerr.IsKind(err, qerr.AccessDenied), "got %v", err)
}

func TestEnqueueDequeue_FIFO(t *testing.T) {
	q := setupQueue(t, nil)

	enqueueN(t, q, 0, 100)

	n, err := q.Count()
	require.NoError(t, err)
	assert.Equal(t, 100, n)

	for i := 0; i < 100; i++ {
		expectDequeue(t, q, recordName(i))
	}
	expectEmpty(t, q)
}

func TestDequeue_Empty(t *testing.T) {
	q := setupQueue(t, nil)

	got, ok, err := q.Dequeue()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, got)
}

func TestDequeue_EmptyResetsRing(t *testing.T) {
	q := setupQueue(t, nil)

	enqueueN(t, q, 0, 3)
	for i := 0; i < 3; i++ {
		expectDequeue(t, q, recordName(i))
	}

	assert.Equal(t, uint64(format.RingDataStart), q.header.Head)
	assert.Equal(t, uint64(format.RingDataStart), q.header.Tail)
	assert.Zero(t, q.header.Used)
}

func TestReopen_Durability(t *testing.T) {
	path := queuePath(t)

	q, err := Open[string](path, nil)
	require.NoError(t, err)
	enqueueN(t, q, 0, 3)
	expectDequeue(t, q, recordName(0))
	require.NoError(t, q.Close())

	q = openAt(t, path, nil)

	n, err := q.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	expectDequeue(t, q, recordName(1))
	expectDequeue(t, q, recordName(2))
	expectEmpty(t, q)
}

func TestRing_WrapAroundWithoutGrowth(t *testing.T) {
	path := queuePath(t)
	opts := &Options[string]{InitialFileLength: 256, Codec: fixedFrameCodec()}

	q, err := Open[string](path, opts)
	require.NoError(t, err)

	// At most three records are live, which fits the 128-byte ring, so
	// every frame reuses freed space and several straddle the end of file.
	enqueueN(t, q, 0, 2)
	next := 0
	for i := 2; i < 60; i++ {
		require.NoError(t, q.Enqueue(recordName(i)))
		expectDequeue(t, q, recordName(next))
		next++

		if i%17 == 0 {
			require.NoError(t, q.Close())
			q, err = Open[string](path, opts)
			require.NoError(t, err)
		}
	}
	t.Cleanup(func() { _ = q.Close() })

	stats, err := q.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(256), stats.FileLength)

	expectDequeue(t, q, recordName(next))
	expectDequeue(t, q, recordName(next+1))
	expectEmpty(t, q)
}

func TestRing_GrowWhileWrapped(t *testing.T) {
	path := queuePath(t)
	opts := &Options[string]{InitialFileLength: 256, Codec: fixedFrameCodec()}
	q := openAt(t, path, opts)

	// Move the head forward so the live region wraps before growth.
	enqueueN(t, q, 0, 3)
	expectDequeue(t, q, recordName(0))
	expectDequeue(t, q, recordName(1))
	enqueueN(t, q, 3, 3)

	require.Less(t, q.header.Tail, q.header.Head, "live region should wrap")

	enqueueN(t, q, 6, 20)

	stats, err := q.Stats()
	require.NoError(t, err)
	assert.Greater(t, stats.FileLength, uint64(256))
	assert.Equal(t, uint64(24), stats.Count)

	require.NoError(t, q.Close())
	q = openAt(t, path, opts)

	for i := 2; i < 26; i++ {
		expectDequeue(t, q, recordName(i))
	}
	expectEmpty(t, q)
}

func TestRing_FileNeverShrinks(t *testing.T) {
	path := queuePath(t)
	q := openAt(t, path, &Options[string]{InitialFileLength: 256})

	enqueueN(t, q, 0, 50)
	grown := int64(q.header.FileLength)

	for i := 0; i < 50; i++ {
		expectDequeue(t, q, recordName(i))
	}

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, grown, fi.Size())
}

func TestEnqueue_LargeRecordGrowsSeveralTimes(t *testing.T) {
	q := setupQueue(t, &Options[string]{InitialFileLength: 256})

	big := strings.Repeat("x", 10000)
	require.NoError(t, q.Enqueue(big))

	stats, err := q.Stats()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.FileLength, uint64(16384))

	expectDequeue(t, q, big)
}

func TestEnqueue_TooLarge(t *testing.T) {
	q := setupQueue(t, &Options[string]{MaxRecordSize: 16})

	err := q.Enqueue("this record is longer than sixteen bytes")
	assert.True(t, qerr.IsKind(err, qerr.EncodeError), "got %v", err)

	n, err := q.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEnqueue_EncodeError(t *testing.T) {
	q := setupQueue(t, &Options[string]{
		Codec: poisonCodec{Codec: codec.Msgpack[string](), failEncode: true},
	})

	require.NoError(t, q.Enqueue("a"))

	err := q.Enqueue("poison")
	assert.True(t, qerr.IsKind(err, qerr.EncodeError), "got %v", err)

	n, err := q.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	expectDequeue(t, q, "a")
}

func TestDequeue_DecodeErrorKeepsRecord(t *testing.T) {
	path := queuePath(t)
	q := openAt(t, path, &Options[string]{
		Codec: poisonCodec{Codec: codec.Msgpack[string](), failDecode: true},
	})

	require.NoError(t, q.Enqueue("poison"))
	require.NoError(t, q.Enqueue("b"))

	_, ok, err := q.Dequeue()
	assert.False(t, ok)
	assert.True(t, qerr.IsKind(err, qerr.DecodeError), "got %v", err)

	n, err := q.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// A codec that can read the record drains the queue normally.
	require.NoError(t, q.Close())
	q = openAt(t, path, nil)
	expectDequeue(t, q, "poison")
	expectDequeue(t, q, "b")
}

func TestDequeue_CorruptFrame(t *testing.T) {
	path := queuePath(t)
	q := openAt(t, path, nil)
	require.NoError(t, q.Enqueue("hello"))

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xFF}, format.RingDataStart+6)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, ok, err := q.Dequeue()
	assert.False(t, ok)
	assert.True(t, qerr.IsKind(err, qerr.CorruptState), "got %v", err)
}

func TestCrash_UncommittedEnqueue(t *testing.T) {
	path := queuePath(t)

	q, err := Open[string](path, nil)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue("a"))
	require.NoError(t, q.Enqueue("b"))
	require.NoError(t, q.Close())
	before := readFile(t, path)

	q, err = Open[string](path, nil)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue("c"))
	require.NoError(t, q.Close())
	after := readFile(t, path)

	// Frame bytes reached disk but neither header slot did.
	crashed := append([]byte(nil), after...)
	copy(crashed[:format.RingDataStart], before[:format.RingDataStart])
	writeFile(t, path, crashed)

	q = openAt(t, path, nil)
	n, err := q.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	expectDequeue(t, q, "a")
	expectDequeue(t, q, "b")
	expectEmpty(t, q)
}

func TestCrash_UncommittedGrowWhileWrapped(t *testing.T) {
	for _, tt := range []struct {
		name   string
		commit bool
	}{
		{"committed", true},
		{"crashed before commit", false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			path := queuePath(t)
			q, err := Open[string](path, &Options[string]{Codec: fixedFrameCodec()})
			require.NoError(t, err)

			// Leave 50 live records whose region wraps past the end of file.
			enqueueN(t, q, 0, 120)
			for i := 0; i < 100; i++ {
				expectDequeue(t, q, recordName(i))
			}
			enqueueN(t, q, 120, 30)
			require.Less(t, q.header.Tail, q.header.Head, "live region should wrap")
			oldLength := q.header.FileLength
			before := readFile(t, path)

			big := strings.Repeat("Z", 5000)
			require.NoError(t, q.Enqueue(big))
			require.Greater(t, q.header.FileLength, oldLength)
			require.NoError(t, q.Close())

			if !tt.commit {
				// The grown file and the new frame reached disk; the header did not.
				crashed := readFile(t, path)
				copy(crashed[:format.RingDataStart], before[:format.RingDataStart])
				writeFile(t, path, crashed)
			}

			q = openAt(t, path, &Options[string]{Codec: fixedFrameCodec()})
			for i := 100; i < 150; i++ {
				expectDequeue(t, q, recordName(i))
			}
			if tt.commit {
				expectDequeue(t, q, big)
			}
			expectEmpty(t, q)
		})
	}
}

func TestCrash_TornHeaderWrite(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(q *Queue[string]) error
		count  int
		first  string
	}{
		{
			name:   "enqueue",
			mutate: func(q *Queue[string]) error { return q.Enqueue("c") },
			count:  2,
			first:  "a",
		},
		{
			name: "dequeue",
			mutate: func(q *Queue[string]) error {
				_, _, err := q.Dequeue()
				return err
			},
			count: 2,
			first: "a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := queuePath(t)

			q, err := Open[string](path, nil)
			require.NoError(t, err)
			require.NoError(t, q.Enqueue("a"))
			require.NoError(t, q.Enqueue("b"))
			require.NoError(t, tt.mutate(q))
			slot := q.header.Slot()
			require.NoError(t, q.Close())

			// Tear the slot holding the newest commit.
			data := readFile(t, path)
			off := format.SlotOffset(slot)
			for i := off + 20; i < off+40; i++ {
				data[i] ^= 0xA5
			}
			writeFile(t, path, data)

			q = openAt(t, path, nil)
			n, err := q.Count()
			require.NoError(t, err)
			assert.Equal(t, tt.count, n)
			expectDequeue(t, q, tt.first)
		})
	}
}

func TestCrash_BothSlotsTorn(t *testing.T) {
	path := queuePath(t)

	q, err := Open[string](path, nil)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue("a"))
	require.NoError(t, q.Close())

	data := readFile(t, path)
	data[10] ^= 0xFF
	data[format.RingHeaderSize+10] ^= 0xFF
	writeFile(t, path, data)

	_, err = Open[string](path, nil)
	assert.True(t, qerr.IsKind(err, qerr.CorruptState), "got %v", err)
}

func TestIOFailure_LeavesStateUnchanged(t *testing.T) {
	path := queuePath(t)
	q, err := Open[string](path, nil)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue("a"))
	require.NoError(t, q.Enqueue("b"))

	// Pull the file out from under the handle.
	require.NoError(t, q.file.Close())

	err = q.Enqueue("c")
	assert.True(t, qerr.IsKind(err, qerr.IOError), "got %v", err)

	_, ok, err := q.Dequeue()
	assert.False(t, ok)
	assert.True(t, qerr.IsKind(err, qerr.IOError), "got %v", err)

	n, err := q.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_ = q.Close()

	q = openAt(t, path, nil)
	expectDequeue(t, q, "a")
	expectDequeue(t, q, "b")
	expectEmpty(t, q)
}

func TestClose(t *testing.T) {
	q, err := Open[string](queuePath(t), nil)
	require.NoError(t, err)

	require.NoError(t, q.Close())
	require.NoError(t, q.Close(), "second close should be a no-op")

	assert.True(t, qerr.IsKind(q.Enqueue("a"), qerr.IOError))

	_, _, err = q.Dequeue()
	assert.True(t, qerr.IsKind(err, qerr.IOError))

	_, err = q.Count()
	assert.True(t, qerr.IsKind(err, qerr.IOError))

	_, err = q.Stats()
	assert.True(t, qerr.IsKind(err, qerr.IOError))
}

func TestConcurrentEnqueue(t *testing.T) {
	q := setupQueue(t, nil)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				assert.NoError(t, q.Enqueue(recordName(g*25+i)))
			}
		}(g)
	}
	wg.Wait()

	n, err := q.Count()
	require.NoError(t, err)
	assert.Equal(t, 200, n)

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		got, ok, err := q.Dequeue()
		require.NoError(t, err)
		require.True(t, ok)
		seen[got] = true
	}
	assert.Len(t, seen, 200)
}

func TestMsgpackCodec(t *testing.T) {
	type event struct {
		ID   int
		At   time.Time
		Tags []string
	}

	path := queuePath(t)
	opts := &Options[event]{Codec: codec.Msgpack[event]()}

	q, err := Open[event](path, opts)
	require.NoError(t, err)

	in := event{ID: 1, At: time.Now().In(time.FixedZone("", 9*3600)), Tags: []string{"x", "y"}}
	require.NoError(t, q.Enqueue(in))
	require.NoError(t, q.Close())

	q, err = Open[event](path, opts)
	require.NoError(t, err)
	defer func() { _ = q.Close() }()

	got, ok, err := q.Dequeue()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, in, got)
}

func TestMetricsAndLogging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	collector := metrics.NewCollector("test")

	q := setupQueue(t, &Options[string]{
		Logger:           logging.NewZapLoggerFrom(zap.New(core)),
		MetricsCollector: collector,
	})

	enqueueN(t, q, 0, 2)
	expectDequeue(t, q, recordName(0))
	_, _, _ = q.Dequeue()
	_, _, _ = q.Dequeue()

	snap := collector.GetSnapshot()
	assert.Equal(t, uint64(2), snap.EnqueueTotal)
	assert.Equal(t, uint64(2), snap.DequeueTotal)
	assert.Equal(t, uint64(1), snap.EmptyDequeues)
	assert.Zero(t, snap.PendingRecords)
	assert.Equal(t, uint64(DefaultInitialFileLength), snap.StorageBytes)

	assert.Equal(t, 1, logs.FilterMessage("created queue").Len())
	assert.Equal(t, 2, logs.FilterMessage("record enqueued").Len())
	assert.Equal(t, 2, logs.FilterMessage("record dequeued").Len())
}
