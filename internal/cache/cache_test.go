package cache

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kodelens/kodelens/internal/model"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SweepInterval = time.Hour // disable background sweep during tests
	return cfg
}

func TestGetFileContent_CachesUntilMtimeChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jsonl")
	if err := os.WriteFile(path, []byte("v1"), 0644); err != nil {
		t.Fatal(err)
	}

	c := New(testConfig())
	defer c.Stop()

	data, err := c.GetFileContent(path)
	if err != nil || string(data) != "v1" {
		t.Fatalf("GetFileContent = %q, %v", data, err)
	}
	if c.Stats().Misses != 1 {
		t.Errorf("Misses = %d, want 1", c.Stats().Misses)
	}

	data, err = c.GetFileContent(path)
	if err != nil || string(data) != "v1" {
		t.Fatalf("GetFileContent (cached) = %q, %v", data, err)
	}
	if c.Stats().Hits != 1 {
		t.Errorf("Hits = %d, want 1", c.Stats().Hits)
	}

	// bump mtime forward so the change is observable even on filesystems
	// with coarse mtime resolution
	future := time.Now().Add(2 * time.Second)
	if err := os.WriteFile(path, []byte("v2"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	data, err = c.GetFileContent(path)
	if err != nil || string(data) != "v2" {
		t.Fatalf("GetFileContent after change = %q, %v", data, err)
	}
}

func TestGetFileContent_MissingFileEvictsAndErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.jsonl")

	c := New(testConfig())
	defer c.Stop()

	if _, err := c.GetFileContent(path); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestInvalidateFile_ClearsDependentComputation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jsonl")
	if err := os.WriteFile(path, []byte("v1"), 0644); err != nil {
		t.Fatal(err)
	}

	c := New(testConfig())
	defer c.Stop()

	var calls int32
	compute := func() (any, error) {
		atomic.AddInt32(&calls, 1)
		return "computed", nil
	}

	if _, err := c.GetComputed("key1", []string{path}, 0, compute); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetComputed("key1", []string{path}, 0, compute); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls = %d, want 1 (second call should hit cache)", calls)
	}

	c.InvalidateFile(path)

	if _, err := c.GetComputed("key1", []string{path}, 0, compute); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("calls = %d, want 2 (invalidated computation should recompute)", calls)
	}
}

func TestGetComputed_CoalescesConcurrentCalls(t *testing.T) {
	c := New(testConfig())
	defer c.Stop()

	var calls int32
	start := make(chan struct{})
	compute := func() (any, error) {
		atomic.AddInt32(&calls, 1)
		<-start
		return "value", nil
	}

	results := make(chan any, 4)
	for i := 0; i < 4; i++ {
		go func() {
			v, err := c.GetComputed("shared-key", nil, time.Minute, compute)
			if err != nil {
				t.Error(err)
			}
			results <- v
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(start)

	for i := 0; i < 4; i++ {
		if v := <-results; v != "value" {
			t.Errorf("result = %v, want value", v)
		}
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("calls = %d, want 1 (concurrent calls should coalesce)", calls)
	}
}

// TestGetComputed_PanicReleasesWaitersAndInflightEntry guards against a
// panicking computeFn permanently wedging every other goroutine waiting on
// the same key, and leaving a stale inflight entry behind for the key.
func TestGetComputed_PanicReleasesWaitersAndInflightEntry(t *testing.T) {
	c := New(testConfig())
	defer c.Stop()

	start := make(chan struct{})
	panicking := func() (any, error) {
		<-start
		panic("boom")
	}

	// One goroutine owns the computation, a second merely waits on it —
	// exercising both the panicking owner and a coalesced waiter.
	owner := make(chan struct{})
	go func() {
		defer func() { recover(); close(owner) }()
		c.GetComputed("shared-key", nil, time.Minute, panicking)
	}()

	waiterDone := make(chan struct{})
	go func() {
		defer func() { recover(); close(waiterDone) }()
		c.GetComputed("shared-key", nil, time.Minute, panicking)
	}()

	// Give both goroutines time to register against the inflight entry
	// before the panicking computation actually runs.
	time.Sleep(20 * time.Millisecond)
	close(start)

	select {
	case <-owner:
	case <-time.After(2 * time.Second):
		t.Fatal("owner goroutine never returned after computeFn panicked")
	}
	select {
	case <-waiterDone:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never released after computeFn panicked")
	}

	calls := 0
	if _, err := c.GetComputed("shared-key", nil, time.Minute, func() (any, error) {
		calls++
		return "recovered", nil
	}); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("calls after panic = %d, want 1 (stale inflight entry should have been cleared)", calls)
	}
}

func TestClearAll_ResetsCountersAndEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jsonl")
	if err := os.WriteFile(path, []byte("v1"), 0644); err != nil {
		t.Fatal(err)
	}

	c := New(testConfig())
	defer c.Stop()

	if _, err := c.GetFileContent(path); err != nil {
		t.Fatal(err)
	}
	c.ClearAll()

	if s := c.Stats(); s.Hits != 0 || s.Misses != 0 {
		t.Errorf("Stats after ClearAll = %+v, want zeroed", s)
	}
	if _, err := c.GetFileContent(path); err != nil {
		t.Fatal(err)
	}
	if c.Stats().Misses != 1 {
		t.Errorf("expected a fresh miss after ClearAll, got %+v", c.Stats())
	}
}

func TestHitRate(t *testing.T) {
	s := Stats{Hits: 3, Misses: 1}
	if got, want := s.HitRate(), 0.75; got != want {
		t.Errorf("HitRate() = %v, want %v", got, want)
	}
	if got := (Stats{}).HitRate(); got != 0 {
		t.Errorf("HitRate() on empty stats = %v, want 0", got)
	}
}

func TestGetProcessSnapshot_CachesWithinTTL(t *testing.T) {
	cfg := testConfig()
	cfg.ProcessTTL = time.Hour
	c := New(cfg)
	defer c.Stop()

	var calls int32
	list := func() ([]model.ProcessInfo, error) {
		atomic.AddInt32(&calls, 1)
		return []model.ProcessInfo{{PID: 1}}, nil
	}

	if _, err := c.GetProcessSnapshot(list); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetProcessSnapshot(list); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("calls = %d, want 1 (second call within TTL should hit cache)", calls)
	}
}
