package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := make(map[string]interface{})
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("Invalid log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestLoggerLevelAndService(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "warn", Output: &buf})

	l.Info("hidden").Send()
	l.Warn("shown").Send()

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("Expected 1 line at warn level, got %d", len(lines))
	}
	if lines[0]["service"] != "tagstore" {
		t.Errorf("Expected service field, got %v", lines[0])
	}
}

func TestComponentLoggers(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "debug", Output: &buf})

	sl := l.SearchLogger()
	sl.Warn().Msg("search warning")
	ml := l.MetadataLogger()
	ml.Warn().Msg("metadata warning")
	l.GrpcLogger("/tagstore.v1.TagService/Search").Info("call").Send()

	lines := decodeLines(t, &buf)
	if len(lines) != 3 {
		t.Fatalf("Expected 3 lines, got %d", len(lines))
	}
	for i, want := range []string{"search", "metadata", "grpc"} {
		if lines[i]["component"] != want {
			t.Errorf("Line %d component = %v, want %s", i, lines[i]["component"], want)
		}
	}
	if lines[2]["method"] != "/tagstore.v1.TagService/Search" {
		t.Errorf("Expected method field, got %v", lines[2])
	}
}

func TestLogGrpcRequestError(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "info", Output: &buf})

	l.LogGrpcRequest("/x", "req-1", 5*time.Millisecond, nil)
	l.LogGrpcRequest("/x", "req-2", 5*time.Millisecond, errors.New("boom"))

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}
	if lines[0]["level"] != "info" || lines[1]["level"] != "error" {
		t.Errorf("Unexpected levels: %v, %v", lines[0]["level"], lines[1]["level"])
	}
	if lines[1]["error"] != "boom" || lines[1]["request_id"] != "req-2" {
		t.Errorf("Unexpected error line: %v", lines[1])
	}
}

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]string{"debug": "debug", "warning": "warn", "error": "error", "bogus": "info"} {
		if got := ParseLevel(name).String(); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", name, got, want)
		}
	}
}
