package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.Info("ignored", String("k", "v"))
	if l.With(String("comp", "x")).IsZero() {
		t.Fatalf("derived logger should carry fields")
	}
}

func TestJSONLoggerFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewJSON(&buf, "debug").With(String("comp", "schedule"))
	log.Warn("fire failed", String("job_id", "j1"), Int("attempt", 2), Err(errors.New("boom")), Err(nil))

	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
		t.Fatalf("decode: %v (%q)", err, buf.String())
	}
	if m["comp"] != "schedule" || m["job_id"] != "j1" || m["err"] != "boom" {
		t.Fatalf("unexpected fields: %v", m)
	}
	if m["level"] != "warn" || m["message"] != "fire failed" {
		t.Fatalf("unexpected level/message: %v", m)
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %q", c)
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewJSON(&buf, "warn")
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level: %q", buf.String())
	}
	if log.Enabled(LevelInfo) {
		t.Fatalf("info should not be enabled")
	}
	if !log.Enabled(LevelError) {
		t.Fatalf("error should be enabled")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]Level{
		"trace":   LevelTrace,
		" Debug ": LevelDebug,
		"warning": LevelWarn,
		"ERROR":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in, LevelInfo); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
