package corevm

import (
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-utilpkg/jsonenc"
)

// Metrics tracks runtime statistics for a VM's scheduler and
// collector. All metrics are optional observational state: nothing in
// RunTask or Collect's correctness depends on Metrics being read.
//
// Thread Safety: every method here is safe to call from any goroutine
// concurrently; Snapshot returns a value copy safe for concurrent
// reads while the VM keeps running.
type Metrics struct {
	DispatchLatency LatencyMetrics
	Queue           QueueMetrics
	TaskThroughput  *TPSCounter

	gcCycles   atomic.Uint64
	gcReclaims atomic.Uint64
	stealHits  atomic.Uint64
	stealMiss  atomic.Uint64
}

func newMetrics() *Metrics {
	return &Metrics{
		TaskThroughput: NewTPSCounter(10*time.Second, 100*time.Millisecond),
	}
}

// recordGCCycle accumulates one completed mark-sweep cycle's reclaim
// count, called from VM.Collect once Heap.Collect has swept.
func (m *Metrics) recordGCCycle(reclaimed int) {
	if m == nil {
		return
	}
	m.gcCycles.Add(1)
	m.gcReclaims.Add(uint64(reclaimed))
}

func (m *Metrics) recordSteal(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.stealHits.Add(1)
	} else {
		m.stealMiss.Add(1)
	}
}

// Snapshot is a point-in-time copy of Metrics' scalar counters, safe
// to retain after the VM keeps mutating the live Metrics.
type Snapshot struct {
	GCCycles      uint64
	GCReclaimed   uint64
	StealHits     uint64
	StealMisses   uint64
	TaskTPS       float64
	WorkerQueue   int
	InjectorQueue int
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		GCCycles:      m.gcCycles.Load(),
		GCReclaimed:   m.gcReclaims.Load(),
		StealHits:     m.stealHits.Load(),
		StealMisses:   m.stealMiss.Load(),
		TaskTPS:       m.TaskThroughput.TPS(),
		WorkerQueue:   m.Queue.WorkerCurrent,
		InjectorQueue: m.Queue.InjectorCurrent,
	}
}

// WriteJSON appends s as a JSON object to dst, encoding numeric fields
// with the same byte-level encoder the logging backend uses rather
// than reflecting through encoding/json, so a metrics exporter that
// scrapes on a hot path pays the same low allocation cost logging
// does.
func (s Snapshot) WriteJSON(dst []byte) []byte {
	dst = append(dst, '{')
	dst = appendJSONUint(dst, "gc_cycles", s.GCCycles, false)
	dst = appendJSONUint(dst, "gc_reclaimed", s.GCReclaimed, true)
	dst = appendJSONUint(dst, "steal_hits", s.StealHits, true)
	dst = appendJSONUint(dst, "steal_misses", s.StealMisses, true)
	dst = append(dst, ',')
	dst = jsonenc.AppendString(dst, "task_tps")
	dst = append(dst, ':')
	dst = jsonenc.AppendFloat64(dst, s.TaskTPS)
	dst = appendJSONUint(dst, "worker_queue", uint64(s.WorkerQueue), true)
	dst = appendJSONUint(dst, "injector_queue", uint64(s.InjectorQueue), true)
	dst = append(dst, '}')
	return dst
}

func appendJSONUint(dst []byte, key string, val uint64, comma bool) []byte {
	if comma {
		dst = append(dst, ',')
	}
	dst = jsonenc.AppendString(dst, key)
	dst = append(dst, ':')
	dst = strconv.AppendUint(dst, val, 10)
	return dst
}

// LatencyMetrics tracks the distribution of RunTask dispatch-quantum
// durations using the P-Square streaming quantile algorithm, so a
// busy scheduler never pays for sorting a growing sample buffer.
type LatencyMetrics struct {
	psquare *pSquareMultiQuantile

	mu sync.RWMutex

	sampleIdx   int
	sampleCount int
	samples     [sampleSize]time.Duration

	P50 time.Duration
	P90 time.Duration
	P95 time.Duration
	P99 time.Duration
	Max time.Duration

	Mean time.Duration
	Sum  time.Duration
}

const sampleSize = 1000

// Record records one dispatch-quantum duration.
func (l *LatencyMetrics) Record(duration time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.psquare == nil {
		l.psquare = newPSquareMultiQuantile(0.50, 0.90, 0.95, 0.99)
	}
	l.psquare.Update(float64(duration))

	if l.sampleCount >= sampleSize {
		old := l.samples[l.sampleIdx]
		l.Sum -= old
	}
	l.samples[l.sampleIdx] = duration
	l.Sum += duration
	l.sampleIdx++
	if l.sampleIdx >= sampleSize {
		l.sampleIdx = 0
	}
	if l.sampleCount < sampleSize {
		l.sampleCount++
	}
}

// Sample recomputes the cached percentiles from collected samples and
// returns how many samples contributed.
func (l *LatencyMetrics) Sample() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := l.sampleCount
	if count == 0 {
		return 0
	}

	if count < 5 || l.psquare == nil {
		sorted := make([]time.Duration, count)
		copy(sorted, l.samples[:count])
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		l.P50 = sorted[percentileIndex(count, 50)]
		l.P90 = sorted[percentileIndex(count, 90)]
		l.P95 = sorted[percentileIndex(count, 95)]
		l.P99 = sorted[percentileIndex(count, 99)]
		l.Max = sorted[count-1]
		l.Mean = l.Sum / time.Duration(count)
		return count
	}

	l.P50 = time.Duration(l.psquare.Quantile(0))
	l.P90 = time.Duration(l.psquare.Quantile(1))
	l.P95 = time.Duration(l.psquare.Quantile(2))
	l.P99 = time.Duration(l.psquare.Quantile(3))
	l.Max = time.Duration(l.psquare.Max())
	l.Mean = l.Sum / time.Duration(count)
	return count
}

func percentileIndex(n, p int) int {
	index := (p * n) / 100
	if index >= n {
		return n - 1
	}
	return index
}

// QueueMetrics tracks the scheduler's queue depths, recorded after
// each dispatch: the local deque length of the worker that dispatched
// and the shared injector ring's length, each tracked separately and
// exponentially smoothed the same way the teacher's ingress/microtask
// gauges were.
type QueueMetrics struct {
	mu sync.RWMutex

	WorkerCurrent   int
	InjectorCurrent int

	WorkerMax   int
	InjectorMax int

	WorkerAvg   float64
	InjectorAvg float64

	workerEMAInit   bool
	injectorEMAInit bool
}

func (q *QueueMetrics) UpdateWorker(depth int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.WorkerCurrent = depth
	if depth > q.WorkerMax {
		q.WorkerMax = depth
	}
	if !q.workerEMAInit {
		q.WorkerAvg = float64(depth)
		q.workerEMAInit = true
	} else {
		q.WorkerAvg = 0.9*q.WorkerAvg + 0.1*float64(depth)
	}
}

func (q *QueueMetrics) UpdateInjector(depth int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.InjectorCurrent = depth
	if depth > q.InjectorMax {
		q.InjectorMax = depth
	}
	if !q.injectorEMAInit {
		q.InjectorAvg = float64(depth)
		q.injectorEMAInit = true
	} else {
		q.InjectorAvg = 0.9*q.InjectorAvg + 0.1*float64(depth)
	}
}

// TPSCounter tracks completed-task throughput with a rolling window,
// the scheduler's analogue of the teacher's transaction-rate gauge.
type TPSCounter struct {
	lastRotation atomic.Value
	buckets      []int64
	bucketSize   time.Duration
	windowSize   time.Duration
	mu           sync.Mutex
}

func NewTPSCounter(windowSize, bucketSize time.Duration) *TPSCounter {
	if windowSize <= 0 {
		panic("corevm: windowSize must be positive")
	}
	if bucketSize <= 0 {
		panic("corevm: bucketSize must be positive")
	}
	if bucketSize > windowSize {
		panic("corevm: bucketSize cannot exceed windowSize")
	}
	bucketCount := int(windowSize / bucketSize)
	counter := &TPSCounter{
		buckets:    make([]int64, bucketCount),
		bucketSize: bucketSize,
		windowSize: windowSize,
	}
	counter.lastRotation.Store(time.Now())
	return counter
}

func (t *TPSCounter) Increment() {
	t.rotate()
	t.mu.Lock()
	t.buckets[len(t.buckets)-1]++
	t.mu.Unlock()
}

func (t *TPSCounter) rotate() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	lastRotation := t.lastRotation.Load().(time.Time)
	elapsed := now.Sub(lastRotation)

	bucketsToAdvanceInt64 := int64(elapsed) / int64(t.bucketSize)
	if bucketsToAdvanceInt64 < 0 {
		bucketsToAdvanceInt64 = int64(len(t.buckets))
	} else if bucketsToAdvanceInt64 > int64(len(t.buckets)) {
		bucketsToAdvanceInt64 = int64(len(t.buckets))
	}
	bucketsToAdvance := int(bucketsToAdvanceInt64)

	if bucketsToAdvance >= len(t.buckets) {
		for i := range t.buckets {
			t.buckets[i] = 0
		}
		t.lastRotation.Store(now)
		return
	}
	if bucketsToAdvance <= 0 {
		return
	}

	copy(t.buckets, t.buckets[bucketsToAdvance:])
	for i := len(t.buckets) - bucketsToAdvance; i < len(t.buckets); i++ {
		t.buckets[i] = 0
	}
	t.lastRotation.Store(lastRotation.Add(time.Duration(bucketsToAdvance) * t.bucketSize))
}

func (t *TPSCounter) TPS() float64 {
	t.rotate()
	t.mu.Lock()
	defer t.mu.Unlock()

	var sum int64
	for _, count := range t.buckets {
		sum += count
	}
	if sum == 0 {
		return 0
	}
	monitoredDuration := float64(len(t.buckets)) * t.bucketSize.Seconds()
	return float64(sum) / monitoredDuration
}
