package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/nvandessel/epistate/internal/events"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  slog.Level
	}{
		{"info", "info", slog.LevelInfo},
		{"debug", "debug", slog.LevelDebug},
		{"trace", "trace", LevelTrace},
		{"uppercase INFO", "INFO", slog.LevelInfo},
		{"uppercase DEBUG", "DEBUG", slog.LevelDebug},
		{"uppercase TRACE", "TRACE", LevelTrace},
		{"mixed case Debug", "Debug", slog.LevelDebug},
		{"warn", "warn", slog.LevelWarn},
		{"error", "ERROR", slog.LevelError},
		{"unknown defaults to info", "unknown", slog.LevelInfo},
		{"empty defaults to info", "", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name  string
		level string
	}{
		{"info level", "info"},
		{"debug level", "debug"},
		{"trace level", "trace"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(tt.level, &buf)
			if logger == nil {
				t.Fatal("NewLogger returned nil")
			}
		})
	}
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		name       string
		level      string
		logAtDebug bool
		logAtInfo  bool
	}{
		{"info filters debug", "info", false, true},
		{"debug passes debug", "debug", true, true},
		{"trace passes debug", "trace", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(tt.level, &buf)

			logger.Debug("debug message")
			hasDebug := strings.Contains(buf.String(), "debug message")
			if hasDebug != tt.logAtDebug {
				t.Errorf("debug message visible = %v, want %v (buf: %q)", hasDebug, tt.logAtDebug, buf.String())
			}

			buf.Reset()
			logger.Info("info message")
			hasInfo := strings.Contains(buf.String(), "info message")
			if hasInfo != tt.logAtInfo {
				t.Errorf("info message visible = %v, want %v (buf: %q)", hasInfo, tt.logAtInfo, buf.String())
			}
		})
	}
}

func TestLevelTrace(t *testing.T) {
	// Trace should be below debug (more verbose)
	if LevelTrace >= slog.LevelDebug {
		t.Errorf("LevelTrace (%d) should be less than LevelDebug (%d)", LevelTrace, slog.LevelDebug)
	}
}

func TestNewLoggerFormat_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerFormat("trace", "json", &buf)
	logger.Log(context.Background(), LevelTrace, "per person", "person", "p000001")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["level"] != "TRACE" {
		t.Errorf("level = %v, want TRACE", entry["level"])
	}
	if entry["person"] != "p000001" {
		t.Errorf("person = %v", entry["person"])
	}
}

func readLines(t *testing.T, path string) []events.Event {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	var out []events.Event
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var e events.Event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("failed to parse JSONL entry: %v", err)
		}
		out = append(out, e)
	}
	return out
}

func TestEventLog_Writes(t *testing.T) {
	dir := t.TempDir()
	el := NewEventLog(dir)
	if el == nil {
		t.Fatal("NewEventLog() = nil")
	}

	el.Report(events.Event{Kind: events.KindInfection, Day: 3, PersonID: "a", InfectorID: "b", Strain: "DELTA", Probability: 0.25})
	el.Report(events.Event{Kind: events.KindQuarantine, Day: 4, PersonID: "a", Status: "atHome"})
	if err := el.Close(); err != nil {
		t.Fatal(err)
	}

	got := readLines(t, filepath.Join(dir, EventLogFile))
	if len(got) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(got))
	}
	if got[0].InfectorID != "b" || got[0].Probability != 0.25 {
		t.Errorf("first event = %+v", got[0])
	}
	if got[1].Status != "atHome" {
		t.Errorf("second event = %+v", got[1])
	}
}

func TestEventLog_FiltersKinds(t *testing.T) {
	dir := t.TempDir()
	el := NewEventLog(dir, events.KindInfection)
	el.Report(events.Event{Kind: events.KindStatusChange, Day: 1})
	el.Report(events.Event{Kind: events.KindInfection, Day: 2})
	el.Close()

	got := readLines(t, filepath.Join(dir, EventLogFile))
	if len(got) != 1 || got[0].Kind != events.KindInfection {
		t.Errorf("events = %+v, want the infection only", got)
	}
}

func TestEventLog_ConcurrentReports(t *testing.T) {
	dir := t.TempDir()
	el := NewEventLog(dir)
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				el.Report(events.Event{Kind: events.KindTest, Day: i})
			}
		}()
	}
	wg.Wait()
	el.Close()

	if got := readLines(t, filepath.Join(dir, EventLogFile)); len(got) != 400 {
		t.Errorf("lines = %d, want 400", len(got))
	}
}

func TestEventLog_NilSafety(t *testing.T) {
	var el *EventLog
	el.Report(events.Event{Kind: events.KindWarning})
	if err := el.Close(); err != nil {
		t.Error(err)
	}
}

func TestEventLog_ReportAfterClose(t *testing.T) {
	el := NewEventLog(t.TempDir())
	el.Close()
	el.Report(events.Event{Kind: events.KindWarning})
}

func TestEventLog_FilePermissions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub", "dir")
	el := NewEventLog(dir)
	if el == nil {
		t.Fatal("expected non-nil EventLog when dir needs creation")
	}
	defer el.Close()

	info, err := os.Stat(filepath.Join(dir, EventLogFile))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permissions = %o, want 0600", perm)
	}
}
