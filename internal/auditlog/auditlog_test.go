package auditlog

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func newTestLogger(module string, format Format, level string, buf *bytes.Buffer) *Logger {
	l := New(module, format, level)
	l.out = buf
	return l
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		input string
		want  Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"unknown", LevelInfo},
		{"", LevelInfo},
	}
	for _, c := range cases {
		if got := parseLevel(c.input); got != c.want {
			t.Errorf("parseLevel(%q) = %v, want %v", c.input, got, c.want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if ParseFormat("json") != FormatJSON {
		t.Error("expected json format")
	}
	if ParseFormat("JSON") != FormatJSON {
		t.Error("expected case-insensitive json format")
	}
	if ParseFormat("text") != FormatText {
		t.Error("expected text default")
	}
	if ParseFormat("") != FormatText {
		t.Error("expected text default for empty string")
	}
}

func TestTextFormat_ModuleUppercased(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger("vault", FormatText, "info", &buf)
	l.Info("unlock", "msg")
	if !strings.Contains(buf.String(), "VAULT") {
		t.Errorf("expected module 'VAULT' in output, got: %s", buf.String())
	}
}

func TestLevelFiltering_DebugSuppressedAtInfo(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger("TEST", FormatText, "info", &buf)
	l.Debug("action", "should not appear")
	if buf.Len() > 0 {
		t.Errorf("debug message should be suppressed at info level, got: %s", buf.String())
	}
}

func TestLevelFiltering_ErrorPassesAtWarn(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger("TEST", FormatText, "warn", &buf)
	l.Error("action", "error msg")
	if !strings.Contains(buf.String(), "error msg") {
		t.Errorf("error should appear at warn level, got: %s", buf.String())
	}
}

func TestSetLevel_ChangesFilter(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger("TEST", FormatText, "error", &buf)

	l.Info("action", "should be hidden")
	if buf.Len() > 0 {
		t.Errorf("info suppressed at error level, got: %s", buf.String())
	}

	l.SetLevel("debug")
	l.Info("action", "should appear now")
	if !strings.Contains(buf.String(), "should appear now") {
		t.Errorf("info should appear after SetLevel(debug), got: %s", buf.String())
	}
}

func TestJSONFormat_ValidRecordWithAllowedFields(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger("licenseserver", FormatJSON, "debug", &buf)
	l.Warn("activate", "seat limit reached",
		Field{Key: "machine_id", Value: "abc123"},
		Field{Key: "not_allowed", Value: "dropped"},
	)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected valid JSON line, got error %v for %s", err, buf.String())
	}
	if rec["severity"] != "WARNING" {
		t.Errorf("severity = %v, want WARNING", rec["severity"])
	}
	if rec["logger"] != "LICENSESERVER" {
		t.Errorf("logger = %v, want LICENSESERVER", rec["logger"])
	}
	if rec["machine_id"] != "abc123" {
		t.Errorf("expected allowed field machine_id to survive, got %v", rec["machine_id"])
	}
	if _, present := rec["not_allowed"]; present {
		t.Errorf("expected non-allowlisted field to be dropped, record: %v", rec)
	}
}

func TestFormattedMethods(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger("TEST", FormatText, "debug", &buf)
	l.Errorf("a", "val=%d", 42)
	if !strings.Contains(buf.String(), "val=42") {
		t.Errorf("expected formatted value in output, got: %s", buf.String())
	}
}
