// Package httpapi implements HTTPAPI (§4.7): the read-only JSON surface
// dashboard clients poll alongside the WebSocket push channel.
//
// Routing and middleware follow digitallysavvy-go-ai's chi-server example
// (chi.Router, middleware.Recoverer, middleware.Timeout, cors.Handler);
// response writing and the {error,kind} failure shape follow the
// teacher's hostproxy.Server.writeJSON and its JSON response types.
package httpapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kodelens/kodelens/internal/analyzer"
	"github.com/kodelens/kodelens/internal/cache"
	"github.com/kodelens/kodelens/internal/kerrors"
	"github.com/kodelens/kodelens/internal/logger"
	"github.com/kodelens/kodelens/internal/model"
	"github.com/kodelens/kodelens/internal/perf"
)

// Analyzer is the subset of *analyzer.Analyzer the API depends on.
type Analyzer interface {
	Current() *analyzer.Snapshot
}

// CacheStats is the subset of *cache.Cache the /api/health endpoint needs.
type CacheStats interface {
	Stats() cache.Stats
}

// API wires an Analyzer, a PerfMonitor, and cache hit-rate stats into a
// chi.Router implementing the §4.7 endpoint table.
type API struct {
	analyzer Analyzer
	monitor  *perf.Monitor
	cache    CacheStats
	router   chi.Router
}

// New builds a ready-to-mount API. requestTimeout bounds every request via
// chi's middleware.Timeout, matching the teacher's per-server timeout values.
func New(a Analyzer, monitor *perf.Monitor, c CacheStats, requestTimeout time.Duration) *API {
	api := &API{analyzer: a, monitor: monitor, cache: c}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))

	r.Get("/api/data", api.handleData)
	r.Get("/api/conversation-state", api.handleConversationState)
	r.Get("/api/session/{id}", api.handleSession)
	r.Get("/api/charts/tokens", api.handleTokenChart)
	r.Get("/api/health", api.handleHealth)

	api.router = r
	return api
}

// Router returns the chi.Router for mounting on an *http.Server.
func (a *API) Router() chi.Router {
	return a.router
}

// ServeHTTP lets API be mounted directly as an http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

type dataResponse struct {
	Projects        []model.Project      `json:"projects"`
	Conversations   []model.Conversation `json:"conversations"`
	Aggregates      analyzer.Aggregates  `json:"aggregates"`
	SnapshotVersion int64                `json:"snapshotVersion"`
}

func (a *API) handleData(w http.ResponseWriter, r *http.Request) {
	snap := a.analyzer.Current()
	if snap == nil {
		writeError(w, http.StatusInternalServerError, kerrors.ErrSnapshotUnavailable, 0)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{
		Projects:        snap.Projects,
		Conversations:   snap.Conversations,
		Aggregates:      snap.Aggregates,
		SnapshotVersion: snap.SnapshotVersion,
	})
}

func (a *API) handleConversationState(w http.ResponseWriter, r *http.Request) {
	snap := a.analyzer.Current()
	if snap == nil {
		writeError(w, http.StatusInternalServerError, kerrors.ErrSnapshotUnavailable, 0)
		return
	}
	states := make(map[string]model.ConversationState, len(snap.Conversations))
	for _, c := range snap.Conversations {
		states[c.Filepath] = c.State
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"states":          states,
		"snapshotVersion": snap.SnapshotVersion,
	})
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap := a.analyzer.Current()
	if snap == nil {
		writeError(w, http.StatusInternalServerError, kerrors.ErrSnapshotUnavailable, 0)
		return
	}
	for _, c := range snap.Conversations {
		if c.Filepath == id {
			writeJSON(w, http.StatusOK, map[string]any{
				"conversation":    c,
				"snapshotVersion": snap.SnapshotVersion,
			})
			return
		}
	}
	writeError(w, http.StatusNotFound, nil, snap.SnapshotVersion)
}

// tokenBucket is one point in the /api/charts/tokens series.
type tokenBucket struct {
	Bucket string           `json:"bucket"`
	Usage  model.TokenUsage `json:"usage"`
}

func (a *API) handleTokenChart(w http.ResponseWriter, r *http.Request) {
	snap := a.analyzer.Current()
	if snap == nil {
		writeError(w, http.StatusInternalServerError, kerrors.ErrSnapshotUnavailable, 0)
		return
	}

	byHour := make(map[string]model.TokenUsage)
	for _, c := range snap.Conversations {
		for _, msg := range c.Messages {
			if msg.Type != model.EntryTypeAssistant || msg.Model == "" {
				continue
			}
			key := msg.Timestamp.UTC().Format("2006-01-02T15:00:00Z")
			u := byHour[key]
			u.Add(msg.Usage)
			byHour[key] = u
		}
	}

	buckets := make([]string, 0, len(byHour))
	for k := range byHour {
		buckets = append(buckets, k)
	}
	sort.Strings(buckets)

	series := make([]tokenBucket, 0, len(buckets))
	for _, k := range buckets {
		series = append(series, tokenBucket{Bucket: k, Usage: byHour[k]})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"series":          series,
		"snapshotVersion": snap.SnapshotVersion,
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	hitRate := 0.0
	if a.cache != nil {
		hitRate = a.cache.Stats().HitRate()
	}
	summary := a.monitor.BuildSummary(time.Now(), hitRate, perf.SampleMemoryMB())
	writeJSON(w, http.StatusOK, summary)
}

// writeJSON writes a JSON response with the given status code, matching
// the teacher's writeJSON helper.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

type errorResponse struct {
	Error           string `json:"error"`
	Kind            string `json:"kind,omitempty"`
	SnapshotVersion int64  `json:"snapshotVersion,omitempty"`
}

// writeError writes the §4.7 {error,kind} failure shape. err may be nil
// (e.g. a plain 404 for an unknown session id), in which case kind is
// omitted.
func writeError(w http.ResponseWriter, status int, err error, snapshotVersion int64) {
	resp := errorResponse{SnapshotVersion: snapshotVersion}
	if err != nil {
		resp.Error = err.Error()
		resp.Kind = kerrors.Kind(err)
	} else {
		resp.Error = "not found"
	}
	writeJSON(w, status, resp)
}
