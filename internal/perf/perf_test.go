package perf

import (
	"testing"
	"time"
)

func TestBuildSummary_UptimeAndDegraded(t *testing.T) {
	start := time.Now()
	m := New(start)
	m.SetDegraded(true)

	now := start.Add(90 * time.Second)
	summary := m.BuildSummary(now, 0.8, 42.5)

	if summary.UptimeSeconds < 89 || summary.UptimeSeconds > 91 {
		t.Errorf("UptimeSeconds = %v, want ~90", summary.UptimeSeconds)
	}
	if !summary.Degraded {
		t.Error("expected Degraded = true")
	}
	if summary.CacheHitRate != 0.8 {
		t.Errorf("CacheHitRate = %v, want 0.8", summary.CacheHitRate)
	}
}

func TestErrorsInLast_WindowedCount(t *testing.T) {
	start := time.Now()
	m := New(start)

	m.RecordParseError(start)
	m.RecordWatcherError(start.Add(30 * time.Second))

	// Recording an error trims buckets older than the 5m window, so the
	// near-start count is taken before the later error is recorded.
	countAll := m.ErrorsInLast(5*time.Minute, start.Add(time.Minute))
	if countAll != 2 {
		t.Errorf("ErrorsInLast(5m) near start = %d, want 2", countAll)
	}

	m.RecordProtocolError(start.Add(10 * time.Minute))

	count := m.ErrorsInLast(5*time.Minute, start.Add(10*time.Minute+time.Second))
	if count != 1 {
		t.Errorf("ErrorsInLast(5m) = %d, want 1 (only the most recent error within window)", count)
	}
}

func TestRecordOverflow(t *testing.T) {
	m := New(time.Now())
	m.RecordOverflow()
	m.RecordOverflow()
	// No public accessor exposes the raw overflow counter (Summary does not
	// include it); verifying it doesn't panic and Summary still builds is sufficient
	// coverage for this internal bookkeeping counter.
	_ = m.BuildSummary(time.Now(), 1, 0)
}
