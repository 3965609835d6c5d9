// Package analyzer implements ConversationAnalyzer (§4.8): it orchestrates
// LogParser, Cache, ProcessDetector, and StateClassifier into a single
// consistent Snapshot, stored behind an atomic reference so readers never
// lock (§5).
package analyzer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kodelens/kodelens/internal/cache"
	"github.com/kodelens/kodelens/internal/classifier"
	"github.com/kodelens/kodelens/internal/kerrors"
	"github.com/kodelens/kodelens/internal/logger"
	"github.com/kodelens/kodelens/internal/logparser"
	"github.com/kodelens/kodelens/internal/model"
	"github.com/kodelens/kodelens/internal/process"
)

// Aggregates holds the top-level rollup counts returned alongside a
// Snapshot's project/conversation lists.
type Aggregates struct {
	CountsByState map[model.ConversationState]int
	TokenUsageByModel map[string]model.TokenUsage
	MostRecentActivity time.Time
}

// Snapshot is a consistent, point-in-time view of all conversations and
// aggregates (Glossary: Snapshot).
type Snapshot struct {
	Projects        []model.Project
	Conversations    []model.Conversation
	Aggregates      Aggregates
	SnapshotVersion int64
}

// Analyzer rebuilds and caches Snapshots.
type Analyzer struct {
	root      string
	cache     *cache.Cache
	detector  *process.Detector
	thresholds classifier.Thresholds

	version atomic.Int64

	current         atomic.Pointer[Snapshot]
	rebuildThrottle time.Duration

	// rebuildMu serializes and coalesces MaybeRebuild callers; it is held
	// for the whole call including the rebuild itself, so RebuildSnapshot
	// must not try to acquire it again.
	rebuildMu sync.Mutex

	lastRebuildMu sync.Mutex
	lastRebuildAt time.Time
}

// New creates an Analyzer rooted at root.
func New(root string, c *cache.Cache, detector *process.Detector, thresholds classifier.Thresholds, rebuildThrottle time.Duration) *Analyzer {
	if rebuildThrottle <= 0 {
		rebuildThrottle = 500 * time.Millisecond
	}
	return &Analyzer{
		root:            root,
		cache:           c,
		detector:        detector,
		thresholds:      thresholds,
		rebuildThrottle: rebuildThrottle,
	}
}

// Current returns the most recently built Snapshot, or nil if none has
// been built yet.
func (a *Analyzer) Current() *Snapshot {
	return a.current.Load()
}

// MaybeRebuild coalesces concurrent calls and throttles to at most one
// rebuild per rebuildThrottle; it returns the cached snapshot otherwise.
func (a *Analyzer) MaybeRebuild() (*Snapshot, error) {
	a.rebuildMu.Lock()
	defer a.rebuildMu.Unlock()

	a.lastRebuildMu.Lock()
	last := a.lastRebuildAt
	a.lastRebuildMu.Unlock()

	if snap := a.current.Load(); snap != nil && time.Since(last) < a.rebuildThrottle {
		return snap, nil
	}
	return a.RebuildSnapshot()
}

// RebuildSnapshot performs the seven-step rebuild described in §4.8,
// unconditionally (callers wanting throttling should use MaybeRebuild).
func (a *Analyzer) RebuildSnapshot() (*Snapshot, error) {
	files, err := a.enumerateConversationFiles()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrSnapshotUnavailable, err)
	}

	conversations := make([]model.Conversation, 0, len(files))
	for _, f := range files {
		conv, err := a.buildConversation(f)
		if err != nil {
			// A single file's parse failure is recorded and excluded,
			// not fatal to the whole rebuild.
			logger.Warn().Err(err).Str("path", f).Msg("excluding unreadable conversation file from snapshot")
			continue
		}
		conversations = append(conversations, conv)
	}

	processes, procErr := a.listProcesses()
	if procErr == nil {
		conversations = process.Correlate(conversations, processes)
	}

	for i := range conversations {
		conversations[i].State = classifier.Classify(
			conversations[i].Messages,
			conversations[i].LastModified,
			conversations[i].LiveProcess,
			a.thresholds,
			time.Now(),
		)
	}

	projects := groupByProject(conversations)
	aggregates := computeAggregates(conversations)

	v := a.version.Add(1)
	snap := &Snapshot{
		Projects:        projects,
		Conversations:   conversations,
		Aggregates:      aggregates,
		SnapshotVersion: v,
	}

	a.current.Store(snap)
	a.lastRebuildMu.Lock()
	a.lastRebuildAt = time.Now()
	a.lastRebuildMu.Unlock()

	return snap, nil
}

func (a *Analyzer) listProcesses() ([]model.ProcessInfo, error) {
	return a.cache.GetProcessSnapshot(a.detector.ListAssistantProcesses)
}

func (a *Analyzer) enumerateConversationFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(a.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".jsonl") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (a *Analyzer) buildConversation(path string) (model.Conversation, error) {
	messages, err := a.cache.GetParsed(path, func(data []byte) ([]model.Message, error) {
		msgs, _, parseErr := logparser.Parse(data)
		return msgs, parseErr
	})
	if err != nil {
		return model.Conversation{}, err
	}

	info, err := a.cache.GetMetadata(path)
	if err != nil {
		return model.Conversation{}, err
	}

	rawBytes, err := a.cache.GetFileContent(path)
	if err != nil {
		return model.Conversation{}, err
	}
	meta := logparser.ParseMeta(rawBytes)

	rel, _ := filepath.Rel(projectLogDir(a.root, path), path)
	isSubagent := logparser.IsSubagentFilename(rel)

	conv := model.Conversation{
		Filepath:     path,
		ProjectPath:  resolveProjectPath(a.root, path),
		Messages:     messages,
		LastModified: info.ModTime(),
		Preview:      meta.Preview,
		IsSubagent:   isSubagent,
	}
	conv.RecomputeTokenUsage()
	return conv, nil
}

// resolveProjectPath returns the real absolute project directory a
// conversation file belongs to. The log tree stores conversations under
// "<root>/projects/<encoded-cwd>/<session>.jsonl", where <encoded-cwd> is
// the upstream CLI's hash of the real checkout path (see decodeProjectDir);
// that encoded name, not the log file's own location on disk, is the
// "registered ancestor directory" step 5 of §4.8 means. Falls back to the
// log file's immediate parent if the path doesn't fit the expected layout.
// Per §1.3, the decoded path is then resolved through a git-worktree
// pointer file before being returned, so worktree checkouts of the same
// repository collapse onto one project.
func resolveProjectPath(root, conversationPath string) string {
	dir := decodeProjectDir(root, conversationPath)
	if dir == "" {
		return filepath.Dir(conversationPath)
	}
	return resolveGitRoot(dir)
}

// decodeProjectDir extracts the encoded project directory name — the path
// component directly under "<root>/projects/" — and decodes it back into
// an absolute path. This inverts the upstream CLI's own encoding, which
// replaces every path separator in the real checkout path with "-" (e.g.
// "/home/user/myrepo" becomes "-home-user-myrepo"); see
// kylesnowschwartz-tail-claude's CurrentProjectDir and
// yashas-salankimatt-sidecar's projectDirPath, both of which perform the
// same strings.ReplaceAll(path, separator, "-") encoding. The inverse is
// lossy when the original path itself contains "-", which is an upstream
// limitation inherited as-is rather than worked around here.
func decodeProjectDir(root, conversationPath string) string {
	hash := projectHashSegment(root, conversationPath)
	if hash == "" {
		return ""
	}
	return strings.ReplaceAll(hash, "-", string(filepath.Separator))
}

// projectLogDir returns the on-disk directory "<root>/projects/<hash>/" a
// conversation file lives under. Unlike decodeProjectDir's decoded real
// checkout path, this stays in the log tree itself: IsSubagentFilename
// needs the conversation file's path relative to *this* directory (not its
// own immediate parent) to detect files nested under a session-uuid
// subdirectory, per §1.3's subagent exclusion rule.
func projectLogDir(root, conversationPath string) string {
	hash := projectHashSegment(root, conversationPath)
	if hash == "" {
		return filepath.Dir(conversationPath)
	}
	return filepath.Join(root, "projects", hash)
}

// projectHashSegment returns the path component directly under
// "<root>/projects/" that conversationPath lives under, or "" if
// conversationPath doesn't fit that layout.
func projectHashSegment(root, conversationPath string) string {
	projectsDir := filepath.Join(root, "projects")
	rel, err := filepath.Rel(projectsDir, conversationPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) == 0 || parts[0] == "" {
		return ""
	}
	return parts[0]
}

// resolveGitRoot walks up from dir looking for a .git entry. A directory
// .git means dir is already a repo root. A .git *file* means dir is a
// worktree (or submodule); its contents are "gitdir: <path>/.git/worktrees/
// <name>", so the main repo's .git directory is two directories above that
// gitdir and the main repo root is that .git directory's parent.
// Falls back to dir if nothing resolves cleanly.
//
// Ported from kylesnowschwartz-tail-claude's resolveGitRoot: a narrow
// single-file read, not a general git operation, so it is hand-rolled on
// os/path/filepath rather than pulling in a full git-implementation
// library for one field lookup.
func resolveGitRoot(dir string) string {
	current := dir
	for {
		gitPath := filepath.Join(current, ".git")
		info, err := os.Lstat(gitPath)
		if err == nil {
			if info.IsDir() {
				return current
			}
			data, err := os.ReadFile(gitPath)
			if err != nil {
				return dir
			}
			content := strings.TrimSpace(string(data))
			if !strings.HasPrefix(content, "gitdir: ") {
				return dir
			}
			gitdir := strings.TrimPrefix(content, "gitdir: ")
			mainGitDir := filepath.Clean(filepath.Join(gitdir, "..", ".."))
			mainRoot := filepath.Dir(mainGitDir)
			if fi, err := os.Stat(filepath.Join(mainRoot, ".git")); err == nil && fi.IsDir() {
				return mainRoot
			}
			return dir
		}

		parent := filepath.Dir(current)
		if parent == current {
			return dir
		}
		current = parent
	}
}

func groupByProject(conversations []model.Conversation) []model.Project {
	byPath := make(map[string]*model.Project)
	var order []string

	for _, c := range conversations {
		p, ok := byPath[c.ProjectPath]
		if !ok {
			p = &model.Project{Path: c.ProjectPath, Name: filepath.Base(c.ProjectPath)}
			byPath[c.ProjectPath] = p
			order = append(order, c.ProjectPath)
		}
		p.Conversations = append(p.Conversations, c)

		// Subagent conversations are excluded from project rollups (§1.3)
		// but remain individually queryable and are still listed above.
		if c.IsSubagent {
			continue
		}
		p.Rollup.ConversationCount++
		p.Rollup.TokenUsage.Add(c.TokenUsage)
		if c.LastModified.After(p.Rollup.LastActivity) {
			p.Rollup.LastActivity = c.LastModified
		}
	}

	projects := make([]model.Project, 0, len(order))
	for _, path := range order {
		projects = append(projects, *byPath[path])
	}
	return projects
}

func computeAggregates(conversations []model.Conversation) Aggregates {
	agg := Aggregates{
		CountsByState:     make(map[model.ConversationState]int),
		TokenUsageByModel: make(map[string]model.TokenUsage),
	}
	for _, c := range conversations {
		agg.CountsByState[c.State]++
		if c.LastModified.After(agg.MostRecentActivity) {
			agg.MostRecentActivity = c.LastModified
		}
		for _, m := range c.Messages {
			if m.Type != model.EntryTypeAssistant || m.Model == "" {
				continue
			}
			u := agg.TokenUsageByModel[m.Model]
			u.Add(m.Usage)
			agg.TokenUsageByModel[m.Model] = u
		}
	}
	return agg
}
