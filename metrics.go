package fdpstat

import (
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/go-fdpstat/internal/interfaces"
)

// LatencyBuckets defines the completion latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks queue and command lifecycle statistics for a run
type Metrics struct {
	// Queue lifecycle
	QueuesCreated     atomic.Uint64
	QueueInitFailures atomic.Uint64
	QueuesTerminated  atomic.Uint64
	QueueTermFailures atomic.Uint64

	// Commands
	CommandsSubmitted atomic.Uint64 // accepted by the ring
	CommandsRejected  atomic.Uint64 // refused at submission
	CommandsCompleted atomic.Uint64 // completions drained, any status
	CommandsFailed    atomic.Uint64 // completions with non-zero status

	// Drain passes
	Drains        atomic.Uint64
	DrainFailures atomic.Uint64

	// Buffers
	BuffersAllocated atomic.Uint64
	BuffersFreed     atomic.Uint64
	BytesAllocated   atomic.Uint64

	// Completion latency
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	// Latency histogram buckets (cumulative counts)
	// Each bucket[i] contains the count of completions with latency <= LatencyBuckets[i]
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64 // UnixNano
	StopTime  atomic.Int64 // UnixNano
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordQueueInit records one queue initialization attempt
func (m *Metrics) RecordQueueInit(success bool) {
	if success {
		m.QueuesCreated.Add(1)
	} else {
		m.QueueInitFailures.Add(1)
	}
}

// RecordQueueTerm records one queue termination attempt
func (m *Metrics) RecordQueueTerm(success bool) {
	if success {
		m.QueuesTerminated.Add(1)
	} else {
		m.QueueTermFailures.Add(1)
	}
}

// RecordSubmit records one submission
func (m *Metrics) RecordSubmit(accepted bool) {
	if accepted {
		m.CommandsSubmitted.Add(1)
	} else {
		m.CommandsRejected.Add(1)
	}
}

// RecordCompletion records one drained completion
func (m *Metrics) RecordCompletion(latencyNs uint64, status int32) {
	m.CommandsCompleted.Add(1)
	if status != 0 {
		m.CommandsFailed.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordDrain records one drain pass
func (m *Metrics) RecordDrain(success bool) {
	m.Drains.Add(1)
	if !success {
		m.DrainFailures.Add(1)
	}
}

// RecordBuffer records a buffer allocation or release
func (m *Metrics) RecordBuffer(bytes uint64, alloc bool) {
	if alloc {
		m.BuffersAllocated.Add(1)
		m.BytesAllocated.Add(bytes)
	} else {
		m.BuffersFreed.Add(1)
	}
}

// recordLatency records completion latency and updates histogram
func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the run as finished
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics
type MetricsSnapshot struct {
	QueuesCreated     uint64
	QueueInitFailures uint64
	QueuesTerminated  uint64
	QueueTermFailures uint64

	CommandsSubmitted uint64
	CommandsRejected  uint64
	CommandsCompleted uint64
	CommandsFailed    uint64

	Drains        uint64
	DrainFailures uint64

	BuffersAllocated uint64
	BuffersFreed     uint64
	BytesAllocated   uint64

	AvgLatencyNs uint64
	LatencyP50Ns uint64
	LatencyP99Ns uint64
	DurationNs   uint64

	// Histogram bucket counts (cumulative)
	LatencyHistogram [numLatencyBuckets]uint64
}

// Snapshot creates a point-in-time snapshot of metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		QueuesCreated:     m.QueuesCreated.Load(),
		QueueInitFailures: m.QueueInitFailures.Load(),
		QueuesTerminated:  m.QueuesTerminated.Load(),
		QueueTermFailures: m.QueueTermFailures.Load(),
		CommandsSubmitted: m.CommandsSubmitted.Load(),
		CommandsRejected:  m.CommandsRejected.Load(),
		CommandsCompleted: m.CommandsCompleted.Load(),
		CommandsFailed:    m.CommandsFailed.Load(),
		Drains:            m.Drains.Load(),
		DrainFailures:     m.DrainFailures.Load(),
		BuffersAllocated:  m.BuffersAllocated.Load(),
		BuffersFreed:      m.BuffersFreed.Load(),
		BytesAllocated:    m.BytesAllocated.Load(),
	}

	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / opCount
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
	}

	start := m.StartTime.Load()
	if stop := m.StopTime.Load(); stop > 0 {
		snap.DurationNs = uint64(stop - start)
	} else {
		snap.DurationNs = uint64(time.Now().UnixNano() - start)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}
	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Observer receives queue, command and buffer lifecycle events
type Observer = interfaces.Observer

// NoOpObserver is a no-op implementation of Observer
type NoOpObserver = interfaces.NoOpObserver

// MetricsObserver implements Observer using the built-in Metrics
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveQueueInit(success bool) {
	o.metrics.RecordQueueInit(success)
}

func (o *MetricsObserver) ObserveQueueTerm(success bool) {
	o.metrics.RecordQueueTerm(success)
}

func (o *MetricsObserver) ObserveSubmit(accepted bool) {
	o.metrics.RecordSubmit(accepted)
}

func (o *MetricsObserver) ObserveCompletion(latencyNs uint64, status int32) {
	o.metrics.RecordCompletion(latencyNs, status)
}

func (o *MetricsObserver) ObserveDrain(_ int, _ uint64, success bool) {
	o.metrics.RecordDrain(success)
}

func (o *MetricsObserver) ObserveBuffer(bytes uint64, alloc bool) {
	o.metrics.RecordBuffer(bytes, alloc)
}

// Compile-time interface check
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = NoOpObserver{}
