// Package model holds the data types shared by every kodelensd component:
// the raw log record read off disk, the parsed Message/Conversation/Project
// views derived from it, and the runtime types (ProcessInfo, ClientSession)
// that never touch disk at all.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntryType is the top-level discriminator on a LogEntry.
type EntryType string

const (
	EntryTypeUser      EntryType = "user"
	EntryTypeAssistant EntryType = "assistant"
)

// TokenUsage holds per-model token counters, aggregated across messages.
type TokenUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

// Add accumulates u into the receiver in place.
func (t *TokenUsage) Add(u TokenUsage) {
	t.InputTokens += u.InputTokens
	t.OutputTokens += u.OutputTokens
	t.CacheReadInputTokens += u.CacheReadInputTokens
	t.CacheCreationInputTokens += u.CacheCreationInputTokens
}

// Total returns the sum of all four counters.
func (t TokenUsage) Total() int {
	return t.InputTokens + t.OutputTokens + t.CacheReadInputTokens + t.CacheCreationInputTokens
}

// BlockType discriminates Content variants.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
	BlockUnknown    BlockType = "unknown"
)

// Content is a tagged sum over the shapes message.content can take: a plain
// string, a single block, or an array of blocks, each discriminated by
// "type". Unknown/future block shapes are preserved verbatim in Raw so they
// round-trip into API responses unchanged rather than being dropped.
type Content struct {
	Type BlockType

	// Text holds the block's text for BlockText, or the tool_result's
	// plain-string rendering when the result content is itself text.
	Text string

	// ToolUse fields, populated when Type == BlockToolUse.
	ToolUseID string
	ToolName  string
	ToolInput json.RawMessage

	// ToolResult fields, populated when Type == BlockToolResult. This is
	// the block as it appears inline in message.content; the enhanced,
	// peer-merged version consumers actually use is ToolResult below.
	ResultForID string

	// Raw preserves the exact bytes of this block as read from disk.
	Raw json.RawMessage
}

type rawBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
}

// UnmarshalJSON decodes a single content block, falling back to BlockUnknown
// with the raw bytes preserved for any shape it doesn't recognize.
func (c *Content) UnmarshalJSON(data []byte) error {
	var rb rawBlock
	if err := json.Unmarshal(data, &rb); err != nil {
		c.Type = BlockUnknown
		c.Raw = append(json.RawMessage(nil), data...)
		return nil
	}

	c.Raw = append(json.RawMessage(nil), data...)

	switch BlockType(rb.Type) {
	case BlockText:
		c.Type = BlockText
		c.Text = rb.Text
	case BlockToolUse:
		c.Type = BlockToolUse
		c.ToolUseID = rb.ID
		c.ToolName = rb.Name
		c.ToolInput = rb.Input
	case BlockToolResult:
		c.Type = BlockToolResult
		c.ResultForID = rb.ToolUseID
		if len(rb.Content) > 0 {
			var s string
			if err := json.Unmarshal(rb.Content, &s); err == nil {
				c.Text = s
			}
		}
	default:
		c.Type = BlockUnknown
	}
	return nil
}

// ParseContent decodes message.content in any of its three legal shapes
// (string, single block, array of blocks) into a normalized []Content.
func ParseContent(data []byte) ([]Content, error) {
	trimmed := trimLeadingSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("content: %w", err)
		}
		if s == "" {
			return nil, nil
		}
		return []Content{{Type: BlockText, Text: s, Raw: data}}, nil
	case '[':
		var blocks []Content
		if err := json.Unmarshal(data, &blocks); err != nil {
			return nil, fmt.Errorf("content: %w", err)
		}
		return blocks, nil
	case '{':
		var block Content
		if err := json.Unmarshal(data, &block); err != nil {
			return nil, fmt.Errorf("content: %w", err)
		}
		return []Content{block}, nil
	default:
		return nil, fmt.Errorf("content: unrecognized shape")
	}
}

func trimLeadingSpace(data []byte) []byte {
	i := 0
	for i < len(data) {
		switch data[i] {
		case ' ', '\t', '\n', '\r':
			i++
			continue
		}
		break
	}
	return data[i:]
}

// ToolResult is the enhanced tool-result record attached to an assistant
// Message's ToolResults. It merges the inline tool_result content block
// with peer outcome fields carried on the source entry (stdout, stderr,
// interrupted, isImage, returnCodeInterpretation) — deliberately a distinct
// record type rather than a Content variant, since those peer fields never
// appear on any other block shape.
type ToolResult struct {
	ToolUseID                string          `json:"tool_use_id"`
	Text                     string          `json:"text,omitempty"`
	Stdout                   string          `json:"stdout,omitempty"`
	Stderr                   string          `json:"stderr,omitempty"`
	Interrupted              bool            `json:"interrupted,omitempty"`
	IsImage                  bool            `json:"is_image,omitempty"`
	ReturnCodeInterpretation string          `json:"return_code_interpretation,omitempty"`
	Raw                      json.RawMessage `json:"-"`
}

// Message is the canonical post-parse form used by every downstream
// consumer (cache, classifier, analyzer, HTTP API).
type Message struct {
	ID               string     `json:"id"`
	UUID             string     `json:"uuid"`
	Type             EntryType  `json:"type"`
	Role             string     `json:"role"`
	Timestamp        time.Time  `json:"timestamp"`
	Content          []Content  `json:"content"`
	Model            string     `json:"model,omitempty"`
	Usage            TokenUsage `json:"usage,omitempty"`
	IsCompactSummary bool       `json:"isCompactSummary,omitempty"`

	// ToolResults holds the enhanced results correlated to this message's
	// tool_use blocks, in insertion order. Populated only on assistant
	// messages that issued a tool_use (see internal/logparser's second pass).
	ToolResults []ToolResult `json:"toolResults,omitempty"`
}

// ConversationState is the classifier's output for one conversation.
type ConversationState string

const (
	StateActive       ConversationState = "active"
	StateAwaitingUser ConversationState = "awaiting_user"
	StateIdle         ConversationState = "idle"
	StateCompleted    ConversationState = "completed"
	StateError        ConversationState = "error"
)

// Conversation is the full derived view of one .jsonl log file.
type Conversation struct {
	Filepath     string            `json:"filepath"`
	ProjectPath  string            `json:"projectPath"`
	Messages     []Message         `json:"messages"`
	LastModified time.Time         `json:"lastModified"`
	TokenUsage   TokenUsage        `json:"tokenUsage"`
	State        ConversationState `json:"state"`
	LiveProcess  *ProcessInfo      `json:"liveProcess,omitempty"`

	// Preview is the truncated first real user message, extracted by
	// logparser.ParseMeta. Empty when no qualifying user message was found
	// within the scan window.
	Preview string `json:"preview,omitempty"`

	// IsSubagent is true when the filename matches the subagent predicate
	// (agent_*.jsonl, or nested under a parent session-uuid directory).
	// Subagent conversations are excluded from project rollups but remain
	// individually classifiable and servable by filepath.
	IsSubagent bool `json:"isSubagent"`
}

// RecomputeTokenUsage rebuilds TokenUsage from Messages, matching the
// invariant that TokenUsage must always be derivable from Messages.
func (c *Conversation) RecomputeTokenUsage() {
	var total TokenUsage
	for _, m := range c.Messages {
		if m.Type == EntryTypeAssistant {
			total.Add(m.Usage)
		}
	}
	c.TokenUsage = total
}

// ProjectRollup is the aggregate view exposed alongside a Project's
// conversation list.
type ProjectRollup struct {
	ConversationCount int        `json:"conversationCount"`
	TokenUsage        TokenUsage `json:"tokenUsage"`
	LastActivity      time.Time  `json:"lastActivity"`
}

// Project groups Conversations sharing a derived root directory.
type Project struct {
	Path          string         `json:"path"`
	Name          string         `json:"name"`
	Conversations []Conversation `json:"conversations"`
	Rollup        ProjectRollup  `json:"rollup"`
}

// ProcessInfo is a snapshot of one host process, as reported by
// internal/process's gopsutil-backed enumeration.
type ProcessInfo struct {
	PID                int32     `json:"pid"`
	CommandLine        string    `json:"commandLine"`
	StartedAt          time.Time `json:"startedAt"`
	Cwd                string    `json:"cwd,omitempty"`
	CorrelatedFilepath string    `json:"correlatedFilepath,omitempty"`
}

// ClientSession is one connected dashboard WebSocket client.
type ClientSession struct {
	ClientID      string
	ConnectedAt   time.Time
	LastSeenAt    time.Time
	Subscriptions map[string]struct{}
}

// NewClientSession creates a ClientSession with an empty subscription set.
func NewClientSession(clientID string, connectedAt time.Time) *ClientSession {
	return &ClientSession{
		ClientID:      clientID,
		ConnectedAt:   connectedAt,
		LastSeenAt:    connectedAt,
		Subscriptions: make(map[string]struct{}),
	}
}

// Subscribe adds channel to the session's subscription set.
func (s *ClientSession) Subscribe(channel string) {
	s.Subscriptions[channel] = struct{}{}
}

// Unsubscribe removes channel from the session's subscription set.
func (s *ClientSession) Unsubscribe(channel string) {
	delete(s.Subscriptions, channel)
}

// IsSubscribed reports whether the session is subscribed to channel.
func (s *ClientSession) IsSubscribed(channel string) bool {
	_, ok := s.Subscriptions[channel]
	return ok
}
