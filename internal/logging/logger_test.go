// Package logging tests for structured JSON logging.
package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) LogEntry {
	t.Helper()
	var entry LogEntry
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}
	return entry
}

// TestInit_idempotent verifies Init is idempotent.
func TestInit_idempotent(t *testing.T) {
	global = nil
	once = *new(sync.Once)

	var buf1 bytes.Buffer
	Init(&buf1, LevelInfo)
	firstLogger := Get()

	var buf2 bytes.Buffer
	Init(&buf2, LevelDebug)

	logger := Get()
	if logger != firstLogger {
		t.Error("Second Init() should be ignored, different logger returned")
	}
	if logger.out != &buf1 {
		t.Error("Second Init() should be ignored, output writer changed")
	}
}

// TestGet_default verifies default logger creation.
func TestGet_default(t *testing.T) {
	global = nil
	once = *new(sync.Once)

	logger := Get()
	if logger == nil {
		t.Fatal("Get() returned nil without Init()")
	}
	if logger.out != os.Stdout {
		t.Error("Get() should default to os.Stdout")
	}
}

// TestParseLevel verifies config strings map to levels.
func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{" INFO ", LevelInfo, false},
		{"Warn", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// TestLogLevel_shouldLog verifies log level filtering.
func TestLogLevel_shouldLog(t *testing.T) {
	tests := []struct {
		name     string
		minLevel LogLevel
		logLevel LogLevel
		expected bool
	}{
		{"debug logs at debug", LevelDebug, LevelDebug, true},
		{"debug logs at info", LevelInfo, LevelDebug, false},
		{"info logs at warn", LevelWarn, LevelInfo, false},
		{"error logs at debug", LevelDebug, LevelError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := &Logger{minLevel: tt.minLevel}
			if got := logger.shouldLog(tt.logLevel); got != tt.expected {
				t.Errorf("shouldLog(%v) at minLevel %v = %v, want %v",
					tt.logLevel, tt.minLevel, got, tt.expected)
			}
		})
	}
}

// TestLogger_Warn verifies warn logging with context.
func TestLogger_Warn(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)
	logger.now = func() time.Time { return time.Date(2025, 1, 20, 8, 0, 0, 0, time.UTC) }

	logger.Warn("skipping corrupt record", map[string]interface{}{"collection": "offline_guided_sessions"})

	entry := decodeEntry(t, &buf)
	if entry.Level != "WARN" {
		t.Errorf("Level = %q, want 'WARN'", entry.Level)
	}
	if entry.Timestamp != "2025-01-20T08:00:00Z" {
		t.Errorf("Timestamp = %q", entry.Timestamp)
	}
	if entry.Context["collection"] != "offline_guided_sessions" {
		t.Errorf("Context['collection'] = %v", entry.Context["collection"])
	}
}

// TestLogger_Error verifies error logging.
func TestLogger_Error(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{out: &buf, minLevel: LevelInfo}

	logger.Error("error occurred", io.ErrUnexpectedEOF)

	entry := decodeEntry(t, &buf)
	if entry.Level != "ERROR" {
		t.Errorf("Level = %q, want 'ERROR'", entry.Level)
	}
	if !strings.Contains(entry.Error, io.ErrUnexpectedEOF.Error()) {
		t.Errorf("Error field should contain error details, got: %s", entry.Error)
	}
}

// TestLogger_ErrorWithCode verifies error logging with code.
func TestLogger_ErrorWithCode(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{out: &buf, minLevel: LevelInfo}

	logger.ErrorWithCode("sync item failed permanently", "SYNC_TERMINAL", io.ErrUnexpectedEOF,
		map[string]interface{}{"item_id": "q-1"})

	entry := decodeEntry(t, &buf)
	if entry.Context["error_code"] != "SYNC_TERMINAL" {
		t.Errorf("error_code = %v, want 'SYNC_TERMINAL'", entry.Context["error_code"])
	}
	if entry.Context["item_id"] != "q-1" {
		t.Errorf("item_id = %v, want 'q-1'", entry.Context["item_id"])
	}
}

// TestLogger_With verifies child fields are merged under call context.
func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelDebug).With(map[string]interface{}{"component": "store", "kind": "a"})

	logger.Debug("loaded", map[string]interface{}{"kind": "b"})

	entry := decodeEntry(t, &buf)
	if entry.Context["component"] != "store" {
		t.Errorf("component = %v, want 'store'", entry.Context["component"])
	}
	if entry.Context["kind"] != "b" {
		t.Errorf("call context should win, got kind = %v", entry.Context["kind"])
	}
}

// TestLogger_filtered verifies nothing is written below the minimum level.
func TestLogger_filtered(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelWarn)

	logger.Debug("debug")
	logger.Info("info")

	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

// TestNewFileWriter verifies the rotating writer creates its file on first write.
func TestNewFileWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "guras.log")
	w := NewFileWriter(path, 1, 2)
	defer w.Close()

	logger := New(w, LevelInfo)
	logger.Info("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	if !strings.Contains(string(data), `"message":"hello"`) {
		t.Errorf("log file missing entry: %s", data)
	}
}
