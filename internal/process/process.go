// Package process enumerates host processes likely to be the assistant
// CLI and correlates them to conversations (§4.4).
//
// Enumeration is grounded on gopsutil/v4's documented API shape
// (process.Processes, (*Process).Cmdline/.Cwd/.CreateTime); each
// per-process accessor is wrapped so a platform-specific failure (e.g.
// Cwd() requiring elevated privilege on some OSes) degrades to an empty
// field rather than failing the whole enumeration, per the Portability
// clause.
package process

import (
	"path/filepath"
	"strings"
	"time"

	gopsprocess "github.com/shirou/gopsutil/v4/process"

	"github.com/kodelens/kodelens/internal/kerrors"
	"github.com/kodelens/kodelens/internal/model"
)

// Detector enumerates and correlates assistant-CLI processes.
type Detector struct {
	// CommandNameMatch is the process executable name (or substring
	// thereof) that identifies the assistant CLI, e.g. "claude".
	CommandNameMatch string
}

// New creates a Detector matching processes whose name contains
// commandNameMatch.
func New(commandNameMatch string) *Detector {
	return &Detector{CommandNameMatch: commandNameMatch}
}

// ListAssistantProcesses enumerates host processes and filters to those
// whose name matches CommandNameMatch.
func (d *Detector) ListAssistantProcesses() ([]model.ProcessInfo, error) {
	procs, err := gopsprocess.Processes()
	if err != nil {
		return nil, &enumerationError{cause: err}
	}

	var out []model.ProcessInfo
	for _, p := range procs {
		name, err := p.Name()
		if err != nil || !strings.Contains(strings.ToLower(name), strings.ToLower(d.CommandNameMatch)) {
			continue
		}

		info := model.ProcessInfo{PID: p.Pid}

		if cmdline, err := p.Cmdline(); err == nil {
			info.CommandLine = cmdline
		}
		if cwd, err := p.Cwd(); err == nil {
			info.Cwd = cwd
		}
		if createMs, err := p.CreateTime(); err == nil {
			info.StartedAt = time.UnixMilli(createMs)
		}

		out = append(out, info)
	}
	return out, nil
}

type enumerationError struct {
	cause error
}

func (e *enumerationError) Error() string {
	return kerrors.ErrProcessEnumerationFailed.Error() + ": " + e.cause.Error()
}

func (e *enumerationError) Unwrap() error {
	return kerrors.ErrProcessEnumerationFailed
}

// Correlate matches each process to at most one conversation, and each
// conversation to at most one process, setting LiveProcess on the match.
// Per §4.4, for each process the first successful match wins in this
// order: (a) the process's cwd is the conversation's resolved project
// directory or a subdirectory of it, (b) the process's command line
// embeds the conversation's filepath, (c) most-recently-modified
// conversation as a last-resort heuristic. A conversation already claimed
// by an earlier process is not reconsidered.
func Correlate(conversations []model.Conversation, processes []model.ProcessInfo) []model.Conversation {
	claimed := make(map[string]bool, len(conversations))
	out := make([]model.Conversation, len(conversations))
	copy(out, conversations)

	for pi := range processes {
		proc := processes[pi]
		idx, ok := matchByCwd(out, claimed, proc)
		if !ok {
			idx, ok = matchByCommandLine(out, claimed, proc)
		}
		if !ok {
			idx, ok = matchByRecency(out, claimed)
		}
		if !ok {
			continue
		}
		p := proc
		out[idx].LiveProcess = &p
		claimed[out[idx].Filepath] = true
	}
	return out
}

func matchByCwd(conversations []model.Conversation, claimed map[string]bool, proc model.ProcessInfo) (int, bool) {
	if proc.Cwd == "" {
		return 0, false
	}
	// Several conversations can share one project directory; among the
	// unclaimed matches the most recently modified one wins.
	best := -1
	for i, c := range conversations {
		if claimed[c.Filepath] {
			continue
		}
		if c.ProjectPath != "" && cwdWithinProject(proc.Cwd, c.ProjectPath) {
			if best == -1 || c.LastModified.After(conversations[best].LastModified) {
				best = i
			}
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}

// cwdWithinProject reports whether cwd is the project directory itself or a
// subdirectory of it — the common case when the assistant is invoked from
// somewhere inside a checkout rather than from its exact root.
func cwdWithinProject(cwd, projectPath string) bool {
	if cwd == projectPath {
		return true
	}
	return strings.HasPrefix(cwd, strings.TrimSuffix(projectPath, string(filepath.Separator))+string(filepath.Separator))
}

func matchByCommandLine(conversations []model.Conversation, claimed map[string]bool, proc model.ProcessInfo) (int, bool) {
	if proc.CommandLine == "" {
		return 0, false
	}
	for i, c := range conversations {
		if claimed[c.Filepath] {
			continue
		}
		if strings.Contains(proc.CommandLine, c.Filepath) {
			return i, true
		}
	}
	return 0, false
}

func matchByRecency(conversations []model.Conversation, claimed map[string]bool) (int, bool) {
	best := -1
	for i, c := range conversations {
		if claimed[c.Filepath] {
			continue
		}
		if best == -1 || c.LastModified.After(conversations[best].LastModified) {
			best = i
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}
