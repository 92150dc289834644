// Package logging provides leveled logging and event journaling for epistate.
// It offers two complementary outputs:
//   - A leveled slog.Logger for stderr (operational output)
//   - An EventLog writing every state change as JSONL (events.jsonl)
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nvandessel/epistate/internal/events"
)

// LevelTrace is a custom slog level below Debug for per-person logging.
const LevelTrace = slog.LevelDebug - 4

// ParseLevel maps a string level name to a slog.Level.
// Supported values: "error", "warn", "info", "debug", "trace" (case-insensitive).
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a leveled slog.Logger writing text to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	return newLogger(level, "text", w)
}

// NewLoggerFormat is NewLogger with a choice of "text" or "json" output.
func NewLoggerFormat(level, format string, w io.Writer) *slog.Logger {
	return newLogger(level, format, w)
}

func newLogger(level, format string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Label the custom trace level
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// EventLogFile is the file name of the event journal.
const EventLogFile = "events.jsonl"

// EventLog writes events to a JSONL file. It is safe for concurrent use
// and implements events.Sink. A nil EventLog is safe to use; all methods
// are no-ops on nil receiver.
type EventLog struct {
	mu    sync.Mutex
	file  *os.File
	kinds map[events.Kind]bool
}

// NewEventLog opens dir/events.jsonl for append. When kinds is non-empty
// only those kinds are written. Returns nil if the file cannot be opened.
func NewEventLog(dir string, kinds ...events.Kind) *EventLog {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil
	}

	path := filepath.Join(dir, EventLogFile)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil
	}

	el := &EventLog{file: f}
	if len(kinds) > 0 {
		el.kinds = make(map[events.Kind]bool, len(kinds))
		for _, k := range kinds {
			el.kinds[k] = true
		}
	}
	return el
}

// Report writes e as a single JSONL line. Safe to call on nil receiver.
func (el *EventLog) Report(e events.Event) {
	if el == nil {
		return
	}
	if el.kinds != nil && !el.kinds[e.Kind] {
		return
	}

	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	data = append(data, '\n')

	el.mu.Lock()
	defer el.mu.Unlock()
	if el.file == nil {
		return
	}
	_, _ = el.file.Write(data)
}

// Close closes the underlying file. Safe to call on nil receiver.
func (el *EventLog) Close() error {
	if el == nil {
		return nil
	}

	el.mu.Lock()
	defer el.mu.Unlock()

	if el.file == nil {
		return nil
	}
	err := el.file.Close()
	el.file = nil
	return err
}
