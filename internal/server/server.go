// Package server wires C1-C9 into one process lifecycle: Cache, FileWatcher,
// ProcessDetector, StateClassifier (via ConversationAnalyzer), NotificationHub,
// HTTPAPI, and PerfMonitor.
//
// Server's shape — listeners, *http.Server per listener, a guarding mutex,
// Start()/Stop(ctx) — is generalized from schmitthub-clawker's
// hostproxy.Server, which holds the same fields for a session store instead
// of C1-C9.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/kodelens/kodelens/internal/analyzer"
	"github.com/kodelens/kodelens/internal/cache"
	"github.com/kodelens/kodelens/internal/classifier"
	"github.com/kodelens/kodelens/internal/config"
	"github.com/kodelens/kodelens/internal/hub"
	"github.com/kodelens/kodelens/internal/httpapi"
	"github.com/kodelens/kodelens/internal/kerrors"
	"github.com/kodelens/kodelens/internal/logger"
	"github.com/kodelens/kodelens/internal/model"
	"github.com/kodelens/kodelens/internal/perf"
	"github.com/kodelens/kodelens/internal/process"
	"github.com/kodelens/kodelens/internal/watcher"
)

// Server owns the full component graph for one kodelensd process.
type Server struct {
	cfg *config.Config

	cache    *cache.Cache
	watcher  *watcher.FileWatcher
	detector *process.Detector
	analyzer *analyzer.Analyzer
	hub      *hub.Hub
	api      *httpapi.API
	monitor  *perf.Monitor

	statesMu   sync.Mutex
	lastStates map[string]model.ConversationState

	listeners []net.Listener
	servers   []*http.Server
}

// New constructs a Server from cfg. root is the log tree root to watch and
// analyze.
func New(cfg *config.Config, root string) *Server {
	cacheCfg := cache.Config{
		FileContentTTL:     time.Duration(cfg.Cache.FileContentTTLSeconds) * time.Second,
		ParsedTTL:          time.Duration(cfg.Cache.ParsedTTLSeconds) * time.Second,
		ComputationTTL:     time.Duration(cfg.Cache.ComputationTTLSeconds) * time.Second,
		MetadataTTL:        time.Duration(cfg.Cache.MetadataTTLSeconds) * time.Second,
		ProcessTTL:         time.Duration(cfg.Cache.ProcessTTLMillis) * time.Millisecond,
		SweepInterval:      time.Duration(cfg.Cache.SweepIntervalSeconds) * time.Second,
		MaxEntriesPerCache: cfg.Cache.MaxEntriesPerCache,
	}
	c := cache.New(cacheCfg)

	detector := process.New("claude")

	thresholds := classifier.Thresholds{
		ErrorWindow:    time.Duration(cfg.Classifier.ErrorWindowSeconds) * time.Second,
		ActiveWindow:   time.Duration(cfg.Classifier.ActiveWindowSeconds) * time.Second,
		AwaitingWindow: time.Duration(cfg.Classifier.AwaitingWindowSeconds) * time.Second,
		IdleWindow:     time.Duration(cfg.Classifier.IdleWindowSeconds) * time.Second,
	}
	rebuildThrottle := time.Duration(cfg.Hub.RebuildThrottleMillis) * time.Millisecond
	an := analyzer.New(root, c, detector, thresholds, rebuildThrottle)

	monitor := perf.New(time.Now())

	hubCfg := hub.Config{
		OutboxCapacity: cfg.Hub.OutboxCapacity,
		PingInterval:   time.Duration(cfg.Hub.PingIntervalSeconds) * time.Second,
		PongTimeout:    time.Duration(cfg.Hub.PongTimeoutSeconds) * time.Second,
	}

	s := &Server{cfg: cfg, cache: c, detector: detector, analyzer: an, monitor: monitor, lastStates: make(map[string]model.ConversationState)}

	h := hub.New(hubCfg, s.onRefreshRequest, monitor.RecordOverflow, func() { monitor.RecordProtocolError(time.Now()) })
	s.hub = h

	s.api = httpapi.New(an, monitor, c, cfg.RequestTimeout())

	w := watcher.New(time.Duration(cfg.Watcher.DebounceMillis) * time.Millisecond)
	s.watcher = w

	return s
}

// onRefreshRequest is the hub's RefreshRequestFunc: it invalidates
// computations, forces a rebuild, and reports the source/version for the
// resulting data_refresh frame.
func (s *Server) onRefreshRequest() (string, int64) {
	s.cache.InvalidateComputations()
	snap, err := s.analyzer.RebuildSnapshot()
	if err != nil {
		logger.Error().Err(err).Msg("refresh_request rebuild failed")
		s.setDegraded(true)
		return "manual", 0
	}
	s.setDegraded(false)
	s.broadcastStateChanges(snap)
	return "manual", snap.SnapshotVersion
}

// Start starts the file watcher and the dual-listener HTTP server (loopback
// IPv4 + IPv6, following hostproxy.Server.Start's bind strategy), and
// performs the initial snapshot build.
func (s *Server) Start(root string) error {
	snap, err := s.analyzer.RebuildSnapshot()
	if err != nil {
		s.setDegraded(true)
		return fmt.Errorf("%w: %v", kerrors.ErrSnapshotUnavailable, err)
	}
	s.broadcastStateChanges(snap)

	onWatcherError := func(err error) { s.monitor.RecordWatcherError(time.Now()) }
	onWatcherFatal := func() {
		logger.Error().Msg("file watcher stopped unexpectedly")
		s.setDegraded(true)
	}
	if err := s.watcher.Start(root, s.onFileChanged, s.onProcessHint, onWatcherError, onWatcherFatal); err != nil {
		return fmt.Errorf("%w: %v", kerrors.ErrWatcherFailed, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", s.api)
	mux.Handle("/ws", s.hub)

	addresses := []string{
		fmt.Sprintf("%s:%d", s.cfg.Bind, s.cfg.Port),
	}
	if s.cfg.Bind == "127.0.0.1" {
		addresses = append(addresses, fmt.Sprintf("[::1]:%d", s.cfg.Port))
	}

	var listeners []net.Listener
	var servers []*http.Server
	var listenErrs []error
	for _, addr := range addresses {
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			logger.Debug().Str("addr", addr).Err(err).Msg("failed to listen (may be expected if protocol not available)")
			listenErrs = append(listenErrs, err)
			continue
		}
		srv := &http.Server{
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		listeners = append(listeners, listener)
		servers = append(servers, srv)
	}
	if len(listeners) == 0 {
		return fmt.Errorf("failed to listen on any address (tried %v): %w", addresses, errors.Join(listenErrs...))
	}

	s.listeners = listeners
	s.servers = servers

	for i, listener := range listeners {
		srv := servers[i]
		go func(l net.Listener, srv *http.Server) {
			if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("kodelensd server error")
			}
		}(listener, srv)
	}

	logger.Info().Strs("addrs", addresses).Msg("kodelensd server started")
	return nil
}

// onFileChanged is the watcher's DataCallback: it invalidates the changed
// file's cache entries, rebuilds, and pushes a data_refresh frame.
func (s *Server) onFileChanged(path string) {
	logger.SetContext(filepath.Dir(path), path)
	defer logger.ClearContext()

	s.cache.InvalidateFile(path)
	// The watcher has already debounced this path; a throttled MaybeRebuild
	// here could return the pre-change snapshot and lose the change.
	snap, err := s.analyzer.RebuildSnapshot()
	if err != nil {
		s.monitor.RecordWatcherError(time.Now())
		logger.Warn().Err(err).Str("path", path).Msg("rebuild after file change failed")
		s.setDegraded(true)
		return
	}
	s.setDegraded(false)
	s.broadcastStateChanges(snap)
	s.hub.Broadcast(hub.ChannelDataUpdates, hub.Frame{
		Type:            "data_refresh",
		Source:          "watcher",
		SnapshotVersion: snap.SnapshotVersion,
	})
}

// onProcessHint is the watcher's ProcessCallback, fired on writes under a
// todos/ directory — a signal that a live assistant process may have
// changed state for that project.
func (s *Server) onProcessHint(projectDir string) {
	logger.SetContext(projectDir, "")
	defer logger.ClearContext()

	snap, err := s.analyzer.MaybeRebuild()
	if err != nil {
		logger.Warn().Err(err).Str("project", projectDir).Msg("rebuild after process hint failed")
		s.setDegraded(true)
		return
	}
	s.setDegraded(false)
	s.broadcastStateChanges(snap)
	s.hub.Broadcast(hub.ChannelDataUpdates, hub.Frame{
		Type:            "data_refresh",
		Source:          "process",
		SnapshotVersion: snap.SnapshotVersion,
	})
}

// broadcastStateChanges diffs snap's per-conversation states against the
// previous rebuild's states and pushes a conversation_state_change frame
// for every conversation whose state actually flipped (§4.6 scenario S5).
// A conversation seen for the first time establishes its baseline state
// without broadcasting: there is nothing to diff a brand-new conversation
// against.
func (s *Server) broadcastStateChanges(snap *analyzer.Snapshot) {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()

	seen := make(map[string]model.ConversationState, len(snap.Conversations))
	for _, c := range snap.Conversations {
		seen[c.Filepath] = c.State
		if prev, ok := s.lastStates[c.Filepath]; ok && prev != c.State {
			s.hub.BroadcastConversationStateChange(c.Filepath, string(prev), string(c.State), time.Now())
		}
	}
	s.lastStates = seen
}

// setDegraded updates PerfMonitor's degraded flag and, on an actual change,
// pushes a system_health frame per §7's user-visible failure contract.
func (s *Server) setDegraded(degraded bool) {
	if s.monitor.Degraded() == degraded {
		return
	}
	s.monitor.SetDegraded(degraded)
	hitRate := 0.0
	if s.cache != nil {
		hitRate = s.cache.Stats().HitRate()
	}
	summary := s.monitor.BuildSummary(time.Now(), hitRate, perf.SampleMemoryMB())
	s.hub.BroadcastSystemHealth(summary)
}

// Stop gracefully shuts down the HTTP listeners and the file watcher.
func (s *Server) Stop(ctx context.Context) error {
	s.watcher.Stop()
	s.cache.Stop()

	var errs []error
	for _, srv := range s.servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
