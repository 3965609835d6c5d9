// Package classifier implements StateClassifier (§4.5): a pure function
// from a conversation's messages, last-modified time, and optional live
// process to one of five states.
package classifier

import (
	"time"

	"github.com/kodelens/kodelens/internal/model"
)

// Thresholds holds the §4.5 decision-window durations. Per §9's Open
// Question resolution, these are configurable rather than hardcoded
// constants — StateClassifier itself stays a pure function taking
// Thresholds as an explicit parameter.
type Thresholds struct {
	ErrorWindow    time.Duration
	ActiveWindow   time.Duration
	AwaitingWindow time.Duration
	IdleWindow     time.Duration
}

// DefaultThresholds matches the values inferred in §4.5 (30s/5s/60s/600s).
func DefaultThresholds() Thresholds {
	return Thresholds{
		ErrorWindow:    30 * time.Second,
		ActiveWindow:   5 * time.Second,
		AwaitingWindow: 60 * time.Second,
		IdleWindow:     10 * time.Minute,
	}
}

// Classify applies the six ordered rules in §4.5 against the full message
// sequence. The first matching rule wins.
func Classify(messages []model.Message, lastModified time.Time, liveProcess *model.ProcessInfo, th Thresholds, now time.Time) model.ConversationState {
	// Rule 1: a recent tool-result with interrupted=true or non-empty
	// stderr, with no subsequent assistant reply, means the tool failed
	// and nothing has recovered from it yet.
	if hasUnrecoveredErrorWithin(messages, th.ErrorWindow, now) {
		return model.StateError
	}

	lastMsg := lastMessage(messages)

	// Rule 2: a live process plus a trailing assistant message with an
	// unresolved tool_use (no matching ToolResults entry yet) means the
	// assistant is actively working.
	if liveProcess != nil && lastMsg != nil && lastMsg.Type == model.EntryTypeAssistant && hasUnresolvedToolUse(lastMsg) {
		return model.StateActive
	}

	// Rule 3: a live process, a trailing assistant message with no
	// outstanding tool call, and a very recent write, also reads as active
	// (the assistant just finished streaming a reply).
	if liveProcess != nil && lastMsg != nil && lastMsg.Type == model.EntryTypeAssistant && !hasUnresolvedToolUse(lastMsg) {
		if now.Sub(lastModified) <= th.ActiveWindow {
			return model.StateActive
		}
	}

	// Rule 4: a trailing assistant message, not recent enough for rule 3,
	// but still within the awaiting-user window, means the assistant is
	// waiting on the human.
	if lastMsg != nil && lastMsg.Type == model.EntryTypeAssistant {
		if now.Sub(lastModified) <= th.AwaitingWindow {
			return model.StateAwaitingUser
		}
	}

	// Rule 5: otherwise, recent file activity without a clear live signal
	// is merely idle.
	if now.Sub(lastModified) <= th.IdleWindow {
		return model.StateIdle
	}

	// Rule 6: anything older is completed.
	return model.StateCompleted
}

// QuickClassify applies rules 3-6 only, for use when the full message
// sequence is not cheaply available.
func QuickClassify(lastModified time.Time, hasProcess bool, th Thresholds, now time.Time) model.ConversationState {
	if hasProcess && now.Sub(lastModified) <= th.ActiveWindow {
		return model.StateActive
	}
	if now.Sub(lastModified) <= th.AwaitingWindow {
		return model.StateAwaitingUser
	}
	if now.Sub(lastModified) <= th.IdleWindow {
		return model.StateIdle
	}
	return model.StateCompleted
}

func lastMessage(messages []model.Message) *model.Message {
	if len(messages) == 0 {
		return nil
	}
	return &messages[len(messages)-1]
}

// hasUnresolvedToolUse reports whether m issued a tool_use block with no
// corresponding entry in m.ToolResults.
func hasUnresolvedToolUse(m *model.Message) bool {
	resolved := make(map[string]bool, len(m.ToolResults))
	for _, r := range m.ToolResults {
		resolved[r.ToolUseID] = true
	}
	for _, block := range m.Content {
		if block.Type == model.BlockToolUse && !resolved[block.ToolUseID] {
			return true
		}
	}
	return false
}

// hasUnrecoveredErrorWithin scans messages within window of now for a tool
// result carrying Interrupted=true or non-empty Stderr, and reports true
// only when no assistant message follows it in the sequence.
func hasUnrecoveredErrorWithin(messages []model.Message, window time.Duration, now time.Time) bool {
	for i, m := range messages {
		if now.Sub(m.Timestamp) > window {
			continue
		}
		for _, r := range m.ToolResults {
			if !r.Interrupted && r.Stderr == "" {
				continue
			}
			if !hasLaterAssistantReply(messages, i) {
				return true
			}
		}
	}
	return false
}

func hasLaterAssistantReply(messages []model.Message, afterIdx int) bool {
	for j := afterIdx + 1; j < len(messages); j++ {
		if messages[j].Type == model.EntryTypeAssistant {
			return true
		}
	}
	return false
}
