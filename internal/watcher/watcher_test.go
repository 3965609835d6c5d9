package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestFileWatcher_DetectsFileWrite(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	var gotPath string
	done := make(chan struct{}, 1)

	w := New(50 * time.Millisecond)
	err := w.Start(dir, func(path string) {
		mu.Lock()
		gotPath = path
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	}, func(string) {}, nil, nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	path := filepath.Join(dir, "session.jsonl")
	if err := os.WriteFile(path, []byte(`{"uuid":"1"}`), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for onData callback")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotPath != path {
		t.Errorf("gotPath = %q, want %q", gotPath, path)
	}
}

func TestFileWatcher_PauseDropsEvents(t *testing.T) {
	dir := t.TempDir()

	var calls int
	var mu sync.Mutex

	w := New(30 * time.Millisecond)
	err := w.Start(dir, func(string) {
		mu.Lock()
		calls++
		mu.Unlock()
	}, func(string) {}, nil, nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	w.Pause()
	path := filepath.Join(dir, "session.jsonl")
	if err := os.WriteFile(path, []byte(`{}`), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	got := calls
	mu.Unlock()
	if got != 0 {
		t.Errorf("calls while paused = %d, want 0", got)
	}
}

func TestFileWatcher_RegistersNewSubdirectory(t *testing.T) {
	dir := t.TempDir()

	done := make(chan struct{}, 1)
	w := New(30 * time.Millisecond)
	err := w.Start(dir, func(string) {
		select {
		case done <- struct{}{}:
		default:
		}
	}, func(string) {}, nil, nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	subdir := filepath.Join(dir, "newproject")
	if err := os.Mkdir(subdir, 0755); err != nil {
		t.Fatal(err)
	}
	// Give the watcher a moment to register the new directory before
	// writing into it.
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(subdir, "s.jsonl")
	if err := os.WriteFile(path, []byte(`{}`), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for onData callback in newly created subdirectory")
	}
}

func TestFileWatcher_StopDoesNotInvokeOnFatal(t *testing.T) {
	dir := t.TempDir()

	var fatalCalls int
	var mu sync.Mutex

	w := New(30 * time.Millisecond)
	err := w.Start(dir, func(string) {}, func(string) {}, nil, func() {
		mu.Lock()
		fatalCalls++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	w.Stop()
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if fatalCalls != 0 {
		t.Errorf("onFatal calls after graceful Stop = %d, want 0", fatalCalls)
	}
}

func TestFileWatcher_UnderlyingWatcherCloseInvokesOnFatal(t *testing.T) {
	dir := t.TempDir()

	done := make(chan struct{})

	w := New(30 * time.Millisecond)
	err := w.Start(dir, func(string) {}, func(string) {}, nil, func() {
		close(done)
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	// Simulate the underlying fsnotify.Watcher failing on its own, as
	// opposed to a caller-requested Stop.
	w.fs.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for onFatal after the underlying watcher closed")
	}
}
