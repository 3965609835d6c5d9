// Package kerrors defines the error kinds surfaced across kodelensd
// components (§7). Each kind is a sentinel value; callers wrap it with
// fmt.Errorf("%w: ...") and test with errors.Is.
package kerrors

import "errors"

var (
	// ErrFileUnavailable means a log file disappeared or cannot be read.
	ErrFileUnavailable = errors.New("file unavailable")

	// ErrParseError means a single JSONL line failed to parse.
	ErrParseError = errors.New("parse error")

	// ErrWatcherFailed means filesystem watching could not start or has
	// permanently failed.
	ErrWatcherFailed = errors.New("watcher failed")

	// ErrProcessEnumerationFailed means the OS process-listing call failed.
	ErrProcessEnumerationFailed = errors.New("process enumeration failed")

	// ErrSnapshotUnavailable means the log root could not be stat'd during
	// a snapshot rebuild.
	ErrSnapshotUnavailable = errors.New("snapshot unavailable")

	// ErrClientProtocolError means a WebSocket client sent an unparseable
	// or unexpected frame.
	ErrClientProtocolError = errors.New("client protocol error")

	// ErrOverloaded means a per-client outbox overflowed.
	ErrOverloaded = errors.New("overloaded")
)

// Kind returns the string name of the error kind wrapped by err, or ""
// if err does not wrap one of the sentinels in this package. Used for the
// {error,kind} HTTP error body shape in §4.7/§7.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrFileUnavailable):
		return "FileUnavailable"
	case errors.Is(err, ErrParseError):
		return "ParseError"
	case errors.Is(err, ErrWatcherFailed):
		return "WatcherFailed"
	case errors.Is(err, ErrProcessEnumerationFailed):
		return "ProcessEnumerationFailed"
	case errors.Is(err, ErrSnapshotUnavailable):
		return "SnapshotUnavailable"
	case errors.Is(err, ErrClientProtocolError):
		return "ClientProtocolError"
	case errors.Is(err, ErrOverloaded):
		return "Overloaded"
	default:
		return ""
	}
}
