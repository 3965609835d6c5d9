// Package perf implements PerfMonitor: the process-wide counters and
// rolling histograms behind /api/health (§4.7, §5, §9).
//
// Per §5's "PerfMonitor counters: lock-free atomic counters; rolling
// histograms behind a lock with brief critical sections" — counters use
// sync/atomic directly, the same idiom the teacher's hostproxy.Server
// uses for its running/request-count fields, generalized from a
// sync.RWMutex-guarded struct to individual atomics for the hot counters.
package perf

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

const errorWindowBucket = time.Minute

// Monitor tracks runtime counters for one kodelensd process.
type Monitor struct {
	startedAt time.Time

	parseErrors    atomic.Int64
	watcherErrors  atomic.Int64
	protocolErrors atomic.Int64
	overflows      atomic.Int64
	degraded       atomic.Bool

	mu           sync.Mutex
	errorBuckets []errorBucket
}

type errorBucket struct {
	at    time.Time
	count int
}

// New creates a Monitor with its start time set to now.
func New(now time.Time) *Monitor {
	return &Monitor{startedAt: now}
}

// RecordParseError increments the parse-error counter and the rolling
// error-rate histogram used by ErrorsInLast.
func (m *Monitor) RecordParseError(now time.Time) {
	m.parseErrors.Add(1)
	m.recordError(now)
}

// RecordWatcherError increments the watcher-error counter.
func (m *Monitor) RecordWatcherError(now time.Time) {
	m.watcherErrors.Add(1)
	m.recordError(now)
}

// RecordProtocolError increments the client-protocol-error counter.
func (m *Monitor) RecordProtocolError(now time.Time) {
	m.protocolErrors.Add(1)
	m.recordError(now)
}

// RecordOverflow increments the per-client outbox overflow counter.
func (m *Monitor) RecordOverflow() {
	m.overflows.Add(1)
}

func (m *Monitor) recordError(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucketTime := now.Truncate(errorWindowBucket)
	if n := len(m.errorBuckets); n > 0 && m.errorBuckets[n-1].at.Equal(bucketTime) {
		m.errorBuckets[n-1].count++
		return
	}
	m.errorBuckets = append(m.errorBuckets, errorBucket{at: bucketTime, count: 1})

	// Trim buckets older than 5 minutes to keep this unbounded-looking
	// slice actually bounded.
	cutoff := now.Add(-5 * time.Minute)
	i := 0
	for i < len(m.errorBuckets) && m.errorBuckets[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		m.errorBuckets = m.errorBuckets[i:]
	}
}

// ErrorsInLast returns the total error count recorded within window of now.
func (m *Monitor) ErrorsInLast(window time.Duration, now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-window)
	var total int
	for _, b := range m.errorBuckets {
		if !b.at.Before(cutoff) {
			total += b.count
		}
	}
	return total
}

// SetDegraded marks the server as running but producing partial data, per
// §7's user-visible failure contract.
func (m *Monitor) SetDegraded(degraded bool) {
	m.degraded.Store(degraded)
}

// Degraded reports whether the server is currently degraded.
func (m *Monitor) Degraded() bool {
	return m.degraded.Load()
}

// Summary is the shape returned by GET /api/health (§4.7: uptimeSec,
// memoryMB, cacheHitRate, errorsLast5m).
type Summary struct {
	UptimeSeconds float64 `json:"uptimeSec"`
	MemoryMB      float64 `json:"memoryMB"`
	CacheHitRate  float64 `json:"cacheHitRate"`
	ErrorsLast5m  int     `json:"errorsLast5m"`
	Degraded      bool    `json:"degraded"`
}

// SampleMemoryMB reports the process's current heap allocation in
// megabytes via runtime.MemStats, for passing into BuildSummary.
func SampleMemoryMB() float64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return float64(stats.Alloc) / (1024 * 1024)
}

// BuildSummary assembles the /api/health response, given the current
// cache hit rate (owned by the caller's cache.Cache) and a memory-usage
// sample in megabytes (owned by the caller, e.g. via runtime.MemStats).
func (m *Monitor) BuildSummary(now time.Time, cacheHitRate float64, memoryMB float64) Summary {
	return Summary{
		UptimeSeconds: now.Sub(m.startedAt).Seconds(),
		MemoryMB:      memoryMB,
		CacheHitRate:  cacheHitRate,
		ErrorsLast5m:  m.ErrorsInLast(5*time.Minute, now),
		Degraded:      m.Degraded(),
	}
}
