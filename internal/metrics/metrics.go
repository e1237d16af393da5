// Package metrics provides in-process operation metrics for pqueue.
//
// Usage:
//
//	collector := metrics.NewCollector("orders")
//	q, err := applog.Open[Order](path, &applog.Options{MetricsCollector: collector})
//	...
//	snap := collector.GetSnapshot()
//	fmt.Println(snap.EnqueueTotal, snap.EnqueueDurationP99)
package metrics

import (
	"sync/atomic"
	"time"
)

// Recorder is the interface backends report to.
type Recorder interface {
	RecordEnqueue(payloadSize int, duration time.Duration)
	RecordDequeue(payloadSize int, duration time.Duration)
	RecordEmptyDequeue()
	RecordEnqueueError()
	RecordDequeueError()
	UpdateQueueState(pending, storageBytes uint64)
}

// OrNoop returns r, or a NoopCollector when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopCollector{}
	}
	return r
}

// Collector tracks queue metrics.
type Collector struct {
	queueName string

	// Operation counters
	enqueueTotal  atomic.Uint64
	dequeueTotal  atomic.Uint64
	emptyDequeues atomic.Uint64
	enqueueErrors atomic.Uint64
	dequeueErrors atomic.Uint64

	// Payload metrics
	enqueueBytes atomic.Uint64
	dequeueBytes atomic.Uint64

	// Duration histograms (stored as buckets for simplicity)
	enqueueDurations durationHistogram
	dequeueDurations durationHistogram

	// Queue state
	pendingRecords atomic.Uint64
	storageBytes   atomic.Uint64
}

// NewCollector creates a new metrics collector for a queue.
func NewCollector(queueName string) *Collector {
	return &Collector{queueName: queueName}
}

// RecordEnqueue records a successful enqueue operation.
func (c *Collector) RecordEnqueue(payloadSize int, duration time.Duration) {
	c.enqueueTotal.Add(1)
	c.enqueueBytes.Add(uint64(payloadSize)) //nolint:gosec // G115: sizes are non-negative
	c.enqueueDurations.observe(duration)
}

// RecordDequeue records a dequeue that returned a record.
func (c *Collector) RecordDequeue(payloadSize int, duration time.Duration) {
	c.dequeueTotal.Add(1)
	c.dequeueBytes.Add(uint64(payloadSize)) //nolint:gosec // G115: sizes are non-negative
	c.dequeueDurations.observe(duration)
}

// RecordEmptyDequeue records a dequeue against an empty queue.
func (c *Collector) RecordEmptyDequeue() {
	c.emptyDequeues.Add(1)
}

// RecordEnqueueError records an enqueue failure.
func (c *Collector) RecordEnqueueError() {
	c.enqueueErrors.Add(1)
}

// RecordDequeueError records a dequeue failure.
func (c *Collector) RecordDequeueError() {
	c.dequeueErrors.Add(1)
}

// UpdateQueueState updates queue state metrics.
func (c *Collector) UpdateQueueState(pending, storageBytes uint64) {
	c.pendingRecords.Store(pending)
	c.storageBytes.Store(storageBytes)
}

// GetSnapshot returns a snapshot of current metrics.
func (c *Collector) GetSnapshot() *Snapshot {
	return &Snapshot{
		QueueName:          c.queueName,
		EnqueueTotal:       c.enqueueTotal.Load(),
		DequeueTotal:       c.dequeueTotal.Load(),
		EmptyDequeues:      c.emptyDequeues.Load(),
		EnqueueErrors:      c.enqueueErrors.Load(),
		DequeueErrors:      c.dequeueErrors.Load(),
		EnqueueBytes:       c.enqueueBytes.Load(),
		DequeueBytes:       c.dequeueBytes.Load(),
		EnqueueDurationP50: c.enqueueDurations.percentile(0.50),
		EnqueueDurationP95: c.enqueueDurations.percentile(0.95),
		EnqueueDurationP99: c.enqueueDurations.percentile(0.99),
		DequeueDurationP50: c.dequeueDurations.percentile(0.50),
		DequeueDurationP95: c.dequeueDurations.percentile(0.95),
		DequeueDurationP99: c.dequeueDurations.percentile(0.99),
		PendingRecords:     c.pendingRecords.Load(),
		StorageBytes:       c.storageBytes.Load(),
	}
}

// Reset resets all metrics (useful for testing).
func (c *Collector) Reset() {
	c.enqueueTotal.Store(0)
	c.dequeueTotal.Store(0)
	c.emptyDequeues.Store(0)
	c.enqueueErrors.Store(0)
	c.dequeueErrors.Store(0)
	c.enqueueBytes.Store(0)
	c.dequeueBytes.Store(0)
	c.enqueueDurations.reset()
	c.dequeueDurations.reset()
	c.pendingRecords.Store(0)
	c.storageBytes.Store(0)
}

// Snapshot is a point-in-time view of metrics.
type Snapshot struct {
	QueueName string

	// Operation counters
	EnqueueTotal  uint64
	DequeueTotal  uint64
	EmptyDequeues uint64
	EnqueueErrors uint64
	DequeueErrors uint64

	// Payload metrics (encoded record bytes)
	EnqueueBytes uint64
	DequeueBytes uint64

	// Duration percentiles (upper bound of the containing bucket)
	EnqueueDurationP50 time.Duration
	EnqueueDurationP95 time.Duration
	EnqueueDurationP99 time.Duration
	DequeueDurationP50 time.Duration
	DequeueDurationP95 time.Duration
	DequeueDurationP99 time.Duration

	// Queue state
	PendingRecords uint64
	StorageBytes   uint64
}

const histogramBuckets = 10

// bucketBounds are the upper bounds of each bucket; the last is open-ended.
var bucketBounds = [histogramBuckets]time.Duration{
	time.Microsecond,
	10 * time.Microsecond,
	100 * time.Microsecond,
	time.Millisecond,
	10 * time.Millisecond,
	100 * time.Millisecond,
	time.Second,
	10 * time.Second,
	100 * time.Second,
}

// bucketReports is the value reported for a percentile landing in each bucket.
var bucketReports = [histogramBuckets]time.Duration{
	500 * time.Nanosecond,
	5 * time.Microsecond,
	50 * time.Microsecond,
	500 * time.Microsecond,
	5 * time.Millisecond,
	50 * time.Millisecond,
	500 * time.Millisecond,
	5 * time.Second,
	50 * time.Second,
	100 * time.Second,
}

// durationHistogram is a simple histogram for tracking durations.
type durationHistogram struct {
	buckets [histogramBuckets]atomic.Uint64
}

// observe records a duration in the appropriate bucket.
func (h *durationHistogram) observe(d time.Duration) {
	bucket := histogramBuckets - 1
	for i := 0; i < histogramBuckets-1; i++ {
		if d < bucketBounds[i] {
			bucket = i
			break
		}
	}
	h.buckets[bucket].Add(1)
}

// percentile approximates a percentile from histogram buckets.
func (h *durationHistogram) percentile(p float64) time.Duration {
	var total uint64
	for i := range h.buckets {
		total += h.buckets[i].Load()
	}
	if total == 0 {
		return 0
	}

	target := uint64(float64(total) * p)
	if target == 0 {
		target = 1
	}
	var count uint64
	for i := range h.buckets {
		count += h.buckets[i].Load()
		if count >= target {
			return bucketReports[i]
		}
	}
	return 0
}

func (h *durationHistogram) reset() {
	for i := range h.buckets {
		h.buckets[i].Store(0)
	}
}

// NoopCollector is a metrics collector that does nothing.
// Useful when metrics are disabled.
type NoopCollector struct{}

func (NoopCollector) RecordEnqueue(int, time.Duration) {}
func (NoopCollector) RecordDequeue(int, time.Duration) {}
func (NoopCollector) RecordEmptyDequeue()              {}
func (NoopCollector) RecordEnqueueError()              {}
func (NoopCollector) RecordDequeueError()              {}
func (NoopCollector) UpdateQueueState(uint64, uint64)  {}
