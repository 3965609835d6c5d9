// Package logparser turns the raw bytes of a .jsonl conversation file into
// the canonical []model.Message sequence every other component consumes.
package logparser

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kodelens/kodelens/internal/kerrors"
	"github.com/kodelens/kodelens/internal/model"
)

// ParseStats reports line-level outcomes for one Parse call, so
// malformed-line counts are visible to the caller without failing the
// parse. The analyzer discards these stats; no PerfMonitor counter is fed
// from them.
type ParseStats struct {
	LinesRead    int
	LinesSkipped int
}

// rawEntry is the on-disk LogEntry shape (§3). ToolUseResult is kept as
// raw JSON because it can be either a bare string (a rejection message)
// or an object carrying stdout/stderr/interrupted/isImage fields.
type rawEntry struct {
	UUID             string          `json:"uuid"`
	Type             string          `json:"type"`
	Timestamp        string          `json:"timestamp"`
	IsCompactSummary bool            `json:"isCompactSummary"`
	ToolUseResult    json.RawMessage `json:"toolUseResult"`
	Message          struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
		Model   string          `json:"model"`
		Usage   model.TokenUsage `json:"usage"`
	} `json:"message"`
}

// toolResultPeerFields is the shape merged onto a tool_result block's
// ToolUseResult sibling, when it is an object rather than a bare string.
type toolResultPeerFields struct {
	Stdout                   string `json:"stdout"`
	Stderr                   string `json:"stderr"`
	Interrupted              bool   `json:"interrupted"`
	IsImage                  bool   `json:"isImage"`
	ReturnCodeInterpretation string `json:"returnCodeInterpretation"`
}

// Parse splits data into lines, parses each as a LogEntry, and returns the
// canonical Message sequence in file order. Malformed lines are silently
// skipped (appended-to-mid-write files can be torn) but counted in stats.
// Given identical bytes, the output is byte-for-byte identical (no use of
// wall-clock time, map iteration order, or other nondeterminism).
func Parse(data []byte) ([]model.Message, ParseStats, error) {
	var stats ParseStats

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	// Pass 1: collect every assistant entry (with a synthesized line-number
	// fallback id) and index tool_use blocks by id.
	type assistantEntry struct {
		lineNo  int
		entry   rawEntry
		blocks  []model.Content
		results []model.ToolResult
	}
	var assistants []*assistantEntry
	toolUseOwner := make(map[string]*assistantEntry)

	type surfaceEntry struct {
		lineNo int
		entry  rawEntry
		blocks []model.Content
		isUser bool
		// pureToolResultCarrier is true when every block in a user entry's
		// content is a tool_result block — such entries are dropped from
		// the surface sequence per §4.1 step 3.
		pureToolResultCarrier bool
	}
	var surface []surfaceEntry

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		stats.LinesRead++

		var re rawEntry
		if err := json.Unmarshal(line, &re); err != nil {
			stats.LinesSkipped++
			continue
		}
		if re.Type != "user" && re.Type != "assistant" {
			stats.LinesSkipped++
			continue
		}

		blocks, err := model.ParseContent(re.Message.Content)
		if err != nil {
			stats.LinesSkipped++
			continue
		}

		if re.Type == "assistant" {
			ae := &assistantEntry{lineNo: lineNo, entry: re, blocks: blocks}
			assistants = append(assistants, ae)
			for _, b := range blocks {
				if b.Type == model.BlockToolUse && b.ToolUseID != "" {
					toolUseOwner[b.ToolUseID] = ae
				}
			}
			surface = append(surface, surfaceEntry{lineNo: lineNo, entry: re, blocks: blocks})
			continue
		}

		// user entry
		pureCarrier := len(blocks) > 0
		for _, b := range blocks {
			if b.Type != model.BlockToolResult {
				pureCarrier = false
				break
			}
		}
		surface = append(surface, surfaceEntry{
			lineNo:                lineNo,
			entry:                 re,
			blocks:                blocks,
			isUser:                true,
			pureToolResultCarrier: pureCarrier,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, stats, fmt.Errorf("%w: %v", kerrors.ErrFileUnavailable, err)
	}

	// Pass 2: for every user entry with a tool_result block, look up the
	// owning assistant entry by tool_use id and attach an enhanced result.
	for _, s := range surface {
		if !s.isUser {
			continue
		}
		for _, b := range s.blocks {
			if b.Type != model.BlockToolResult || b.ResultForID == "" {
				continue
			}
			owner, ok := toolUseOwner[b.ResultForID]
			if !ok {
				continue // unmatched tool_result: retained at parse time, dropped from surface (§9)
			}
			tr := model.ToolResult{
				ToolUseID: b.ResultForID,
				Text:      b.Text,
				Raw:       s.entry.ToolUseResult,
			}
			mergeToolResultPeerFields(&tr, s.entry.ToolUseResult)
			owner.results = append(owner.results, tr)
		}
	}

	// Pass 3: emit the surface sequence — every assistant entry, and every
	// user entry that is not a pure tool_result carrier.
	messages := make([]model.Message, 0, len(surface))
	resultsByLine := make(map[int][]model.ToolResult, len(assistants))
	for _, ae := range assistants {
		resultsByLine[ae.lineNo] = ae.results
	}

	for _, s := range surface {
		if s.isUser && s.pureToolResultCarrier {
			continue
		}
		messages = append(messages, toMessage(s.lineNo, s.entry, s.blocks, resultsByLine[s.lineNo]))
	}

	return messages, stats, nil
}

func mergeToolResultPeerFields(tr *model.ToolResult, raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	var peer toolResultPeerFields
	if err := json.Unmarshal(raw, &peer); err != nil {
		return // bare string (e.g. rejection message) — nothing to merge
	}
	tr.Stdout = peer.Stdout
	tr.Stderr = peer.Stderr
	tr.Interrupted = peer.Interrupted
	tr.IsImage = peer.IsImage
	tr.ReturnCodeInterpretation = peer.ReturnCodeInterpretation
}

func toMessage(lineNo int, re rawEntry, blocks []model.Content, results []model.ToolResult) model.Message {
	id := re.UUID
	if id == "" {
		id = "line-" + strconv.Itoa(lineNo)
	}
	ts, _ := parseTimestamp(re.Timestamp)
	return model.Message{
		ID:               id,
		UUID:             re.UUID,
		Type:             model.EntryType(re.Type),
		Role:             re.Message.Role,
		Timestamp:        ts,
		Content:          blocks,
		Model:            re.Message.Model,
		Usage:            re.Message.Usage,
		IsCompactSummary: re.IsCompactSummary,
		ToolResults:      results,
	}
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// Meta is the output of ParseMeta: the §1.3 preview field. It is not
// cached; the analyzer calls ParseMeta for every file on each rebuild.
type Meta struct {
	Preview string
}

const maxPreviewLines = 200
const maxPreviewChars = 500

// ParseMeta scans the same bytes Parse would, extracting the truncated
// first real user message. Ported from kylesnowschwartz-tail-claude's
// scanSessionMetadata preview-extraction branch: skip interruption lines,
// fall back to a "/command" name extracted from a <command-name> tag,
// collapse newlines, truncate to 500 bytes. Other user text, including
// command output, is taken as-is.
func ParseMeta(data []byte) Meta {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var meta Meta
	var commandFallback string
	previewFound := false
	linesRead := 0

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		linesRead++
		if previewFound || linesRead > maxPreviewLines {
			break
		}

		var re rawEntry
		if err := json.Unmarshal(line, &re); err != nil {
			continue
		}
		if re.Type != "user" {
			continue
		}

		text := extractText(re.Message.Content)
		if text == "" {
			continue
		}
		if strings.HasPrefix(text, "[Request interrupted by user") {
			continue
		}
		if strings.HasPrefix(text, "<command-name>") {
			if commandFallback == "" {
				commandFallback = extractCommandFallback(text)
			}
			continue
		}

		sanitized := strings.TrimSpace(text)
		if sanitized == "" {
			continue
		}
		if len(sanitized) > maxPreviewChars {
			sanitized = sanitized[:maxPreviewChars]
		}
		meta.Preview = sanitized
		previewFound = true
	}

	if meta.Preview == "" {
		meta.Preview = commandFallback
	}
	if meta.Preview != "" {
		meta.Preview = strings.ReplaceAll(meta.Preview, "\n", " ")
	}
	return meta
}

func extractText(raw json.RawMessage) string {
	blocks, err := model.ParseContent(raw)
	if err != nil {
		return ""
	}
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == model.BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

func extractCommandFallback(text string) string {
	const open = "<command-name>"
	const close_ = "</command-name>"
	start := strings.Index(text, open)
	if start == -1 {
		return "/command"
	}
	start += len(open)
	end := strings.Index(text[start:], close_)
	if end == -1 {
		return "/command"
	}
	name := strings.TrimSpace(text[start : start+end])
	if name == "" {
		return "/command"
	}
	return "/" + name
}

// IsSubagentFilename reports whether a conversation file's base name
// matches the subagent predicate: a legacy "agent_*.jsonl" name, or a
// file living inside a subdirectory named after a parent session uuid
// (project-dir/session-uuid/agent_xxx.jsonl). relToProjectDir is the path
// relative to the owning project directory.
func IsSubagentFilename(relToProjectDir string) bool {
	parts := strings.Split(filepathToSlash(relToProjectDir), "/")
	if len(parts) > 1 {
		return true
	}
	base := parts[len(parts)-1]
	return strings.HasPrefix(base, "agent_")
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}
