// Package watcher observes the log root directory recursively for
// appended/created/removed *.jsonl files and process-hint subdirectories
// (§4.3).
//
// The per-path time.AfterFunc debounce is adapted from
// kylesnowschwartz-tail-claude's sessionWatcher.run: fsnotify events are
// handled on one goroutine, and each path's timer calls its callback
// directly on the timer's own goroutine, so callbacks for different paths
// can run concurrently. There is no signal channel between the timers and
// the event loop.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kodelens/kodelens/internal/kerrors"
)

// DataCallback is invoked, debounced, whenever a *.jsonl file under the
// watched root is created, written, or removed.
type DataCallback func(path string)

// ProcessCallback is invoked, debounced, whenever a change occurs inside a
// known process-hint subdirectory (e.g. a project's todos/ directory).
type ProcessCallback func(projectDir string)

// ErrorCallback is invoked for every transient fsnotify read error observed
// on the running watch, so the caller can count it via PerfMonitor.
type ErrorCallback func(err error)

const processHintDirName = "todos"

// FileWatcher watches a directory tree rooted at Root, recursively
// registering new project subdirectories as they appear.
type FileWatcher struct {
	root      string
	debounce  time.Duration
	onData    DataCallback
	onProcess ProcessCallback
	onError   ErrorCallback
	onFatal   func()

	fs       *fsnotify.Watcher
	doneCh   chan struct{}
	stopping atomic.Bool

	mu     sync.Mutex
	timers map[string]*time.Timer
	paused bool
}

// New creates a FileWatcher with the given debounce window (§4.3 default:
// 250ms). Call Start to begin watching.
func New(debounce time.Duration) *FileWatcher {
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	return &FileWatcher{
		debounce: debounce,
		timers:   make(map[string]*time.Timer),
	}
}

// Start begins recursively watching root. A failure here is permanent and
// bubbles up as kerrors.ErrWatcherFailed so the caller can exit with the
// spec's startup failure code. onError may be nil, in which case transient
// fsnotify read errors are silently discarded. onFatal is invoked once, per
// §7's WatcherFailed row, if the watch dies unexpectedly after a
// successful Start (as opposed to a caller-requested Stop).
func (w *FileWatcher) Start(root string, onData DataCallback, onProcess ProcessCallback, onError ErrorCallback, onFatal func()) error {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %v", kerrors.ErrWatcherFailed, err)
	}

	w.root = root
	w.onData = onData
	w.onProcess = onProcess
	w.onError = onError
	w.onFatal = onFatal
	w.fs = fs
	w.doneCh = make(chan struct{})

	if err := w.registerTree(root); err != nil {
		fs.Close()
		return fmt.Errorf("%w: %v", kerrors.ErrWatcherFailed, err)
	}

	go w.run()
	return nil
}

// Stop releases all OS resources held by the watcher.
func (w *FileWatcher) Stop() {
	w.stopping.Store(true)
	if w.doneCh != nil {
		close(w.doneCh)
	}
	if w.fs != nil {
		w.fs.Close()
	}
	w.mu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.timers = make(map[string]*time.Timer)
	w.mu.Unlock()
}

// Pause suspends event delivery; events observed while paused are dropped,
// not queued.
func (w *FileWatcher) Pause() {
	w.mu.Lock()
	w.paused = true
	w.mu.Unlock()
}

// Resume resumes event delivery.
func (w *FileWatcher) Resume() {
	w.mu.Lock()
	w.paused = false
	w.mu.Unlock()
}

func (w *FileWatcher) registerTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			// Directories we can't read are skipped, not fatal — only a
			// failure to start watching the root itself is permanent.
			return nil
		}
		if d.IsDir() {
			_ = w.fs.Add(path)
		}
		return nil
	})
}

func (w *FileWatcher) run() {
	for {
		select {
		case <-w.doneCh:
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				w.notifyFatal()
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fs.Errors:
			if !ok {
				w.notifyFatal()
				return
			}
			// Transient read errors are not fatal to an already-running
			// watch; the caller counts them via PerfMonitor.
			if w.onError != nil {
				w.onError(err)
			}
		}
	}
}

// notifyFatal invokes onFatal when the fsnotify channels close due to an
// unexpected underlying failure, as opposed to a caller-requested Stop.
func (w *FileWatcher) notifyFatal() {
	if !w.stopping.Load() && w.onFatal != nil {
		w.onFatal()
	}
}

func (w *FileWatcher) handleEvent(event fsnotify.Event) {
	w.mu.Lock()
	paused := w.paused
	w.mu.Unlock()
	if paused {
		return
	}

	info, statErr := os.Stat(event.Name)
	isDir := statErr == nil && info.IsDir()

	if event.Has(fsnotify.Create) && isDir {
		_ = w.registerTree(event.Name)
		return
	}

	switch {
	case strings.HasSuffix(event.Name, ".jsonl"):
		if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) {
			w.debounceFire(event.Name, func() { w.onData(event.Name) })
		}
	case filepath.Base(filepath.Dir(event.Name)) == processHintDirName:
		projectDir := filepath.Dir(filepath.Dir(event.Name))
		w.debounceFire("process:"+projectDir, func() { w.onProcess(projectDir) })
	}
}

// debounceFire coalesces repeated events for the same key within the
// debounce window into a single fn invocation.
func (w *FileWatcher) debounceFire(key string, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[key]; ok {
		t.Stop()
	}
	w.timers[key] = time.AfterFunc(w.debounce, fn)
}
