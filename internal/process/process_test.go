package process

import (
	"errors"
	"testing"
	"time"

	"github.com/kodelens/kodelens/internal/kerrors"
	"github.com/kodelens/kodelens/internal/model"
)

func TestCorrelate_MatchesByCwd(t *testing.T) {
	conversations := []model.Conversation{
		{Filepath: "/home/user/.kodelens/projects/-home-user-myrepo/s1.jsonl", ProjectPath: "/home/user/myrepo", LastModified: time.Now()},
	}
	processes := []model.ProcessInfo{
		{PID: 100, Cwd: "/home/user/myrepo"},
	}

	out := Correlate(conversations, processes)
	if out[0].LiveProcess == nil || out[0].LiveProcess.PID != 100 {
		t.Errorf("conversation not correlated by cwd: %+v", out[0])
	}
}

func TestCorrelate_MatchesByCwdSubdirectory(t *testing.T) {
	conversations := []model.Conversation{
		{Filepath: "/home/user/.kodelens/projects/-home-user-myrepo/s1.jsonl", ProjectPath: "/home/user/myrepo", LastModified: time.Now()},
	}
	processes := []model.ProcessInfo{
		{PID: 100, Cwd: "/home/user/myrepo/src/pkg"},
	}

	out := Correlate(conversations, processes)
	if out[0].LiveProcess == nil || out[0].LiveProcess.PID != 100 {
		t.Errorf("conversation not correlated by cwd subdirectory: %+v", out[0])
	}
}

func TestCorrelate_DoesNotMatchSiblingDirectoryWithSharedPrefix(t *testing.T) {
	// "/home/user/myrepo" is a naive string prefix of
	// "/home/user/myrepo2/sub" even though myrepo2 is an unrelated sibling
	// project; the match must respect the path separator boundary.
	conversations := []model.Conversation{
		{Filepath: "/home/user/.kodelens/projects/-home-user-myrepo/s1.jsonl", ProjectPath: "/home/user/myrepo", LastModified: time.Now()},
		{Filepath: "/home/user/.kodelens/projects/-home-user-myrepo2/s1.jsonl", ProjectPath: "/home/user/myrepo2", LastModified: time.Now()},
	}
	processes := []model.ProcessInfo{
		{PID: 100, Cwd: "/home/user/myrepo2/sub"},
	}

	out := Correlate(conversations, processes)
	if out[0].LiveProcess != nil {
		t.Errorf("sibling project with a shared string prefix incorrectly matched: %+v", out[0])
	}
	if out[1].LiveProcess == nil || out[1].LiveProcess.PID != 100 {
		t.Errorf("expected the true owning project (myrepo2) to match: %+v", out[1])
	}
}

func TestCorrelate_MatchesByCommandLine(t *testing.T) {
	conversations := []model.Conversation{
		{Filepath: "/home/user/.kodelens/projects/a/s1.jsonl", LastModified: time.Now()},
	}
	processes := []model.ProcessInfo{
		{PID: 200, CommandLine: "claude --resume /home/user/.kodelens/projects/a/s1.jsonl"},
	}

	out := Correlate(conversations, processes)
	if out[0].LiveProcess == nil || out[0].LiveProcess.PID != 200 {
		t.Errorf("conversation not correlated by command line: %+v", out[0])
	}
}

func TestCorrelate_FallsBackToRecency(t *testing.T) {
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	conversations := []model.Conversation{
		{Filepath: "/a/s1.jsonl", LastModified: older},
		{Filepath: "/a/s2.jsonl", LastModified: newer},
	}
	processes := []model.ProcessInfo{{PID: 300}}

	out := Correlate(conversations, processes)
	if out[1].LiveProcess == nil || out[1].LiveProcess.PID != 300 {
		t.Errorf("expected most-recently-modified conversation to be correlated: %+v", out)
	}
	if out[0].LiveProcess != nil {
		t.Errorf("older conversation should not be correlated: %+v", out[0])
	}
}

func TestCorrelate_OneToOne(t *testing.T) {
	conversations := []model.Conversation{
		{Filepath: "/home/user/.kodelens/projects/-a/s1.jsonl", ProjectPath: "/a", LastModified: time.Now()},
	}
	processes := []model.ProcessInfo{
		{PID: 1, Cwd: "/a"},
		{PID: 2, Cwd: "/a"},
	}

	out := Correlate(conversations, processes)
	if out[0].LiveProcess == nil || out[0].LiveProcess.PID != 1 {
		t.Errorf("expected first process to win the single conversation: %+v", out[0])
	}
}

func TestEnumerationError_Unwraps(t *testing.T) {
	err := &enumerationError{cause: errors.New("permission denied")}
	if !errors.Is(err, kerrors.ErrProcessEnumerationFailed) {
		t.Error("enumerationError should unwrap to ErrProcessEnumerationFailed")
	}
}
