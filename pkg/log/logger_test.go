package log

import (
	"bytes"
	"encoding/json"
	"errors"
	stdlog "log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newBufLogger(buf *bytes.Buffer, level Level, f Formatter) Logger {
	return NewLogger(WithLevel(level), WithFormatter(f), WithOutput(NewWriterOutput(buf)))
}

func TestTextFormatterFields(t *testing.T) {
	var buf bytes.Buffer
	l := newBufLogger(&buf, DebugLevel, &TextFormatter{DisableTimestamp: true})
	l.With(Component("core")).Info("job put", Uint64("job", 7), Str("tube", "default"))
	got := buf.String()
	if !strings.HasPrefix(got, "INFO  job put") {
		t.Fatalf("unexpected prefix: %q", got)
	}
	for _, want := range []string{"component=core", "job=7", "tube=default"} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in %q", want, got)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newBufLogger(&buf, WarnLevel, &TextFormatter{DisableTimestamp: true})
	l.Debug("hidden")
	l.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected nothing below warn, got %q", buf.String())
	}
	l.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("warn not written")
	}
	l.SetLevel(DebugLevel)
	if l.GetLevel() != DebugLevel {
		t.Fatalf("level not updated")
	}
	l.Debugf("tick %d", 3)
	if !strings.Contains(buf.String(), "tick 3") {
		t.Fatalf("debugf not written: %q", buf.String())
	}
}

func TestChildSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newBufLogger(&buf, ErrorLevel, &TextFormatter{DisableTimestamp: true})
	child := l.WithComponent("admin")
	l.SetLevel(InfoLevel)
	child.Info("visible")
	if !strings.Contains(buf.String(), "component=admin") {
		t.Fatalf("child did not pick up parent level: %q", buf.String())
	}
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	l := newBufLogger(&buf, InfoLevel, &JSONFormatter{})
	l.WithError(errors.New("boom")).Error("accept failed", Int("conn", 4))
	var obj map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &obj); err != nil {
		t.Fatalf("unmarshal: %v (%q)", err, buf.String())
	}
	if obj["msg"] != "accept failed" || obj["level"] != "ERROR" || obj["error"] != "boom" {
		t.Fatalf("unexpected object: %v", obj)
	}
	if obj["conn"].(float64) != 4 {
		t.Fatalf("conn field: %v", obj["conn"])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{"debug": DebugLevel, "INFO": InfoLevel, "warning": WarnLevel, "error": ErrorLevel}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestApplyConfig(t *testing.T) {
	if _, err := ApplyConfig(&Config{Format: "xml"}); err == nil {
		t.Fatalf("expected bad format error")
	}
	path := filepath.Join(t.TempDir(), "logs", "tubed.log")
	l, err := ApplyConfig(&Config{Level: "info", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	l.Info("to file")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"to file"`) {
		t.Fatalf("file output: %q", data)
	}
}

func TestFatalExits(t *testing.T) {
	var code int
	exit = func(c int) { code = c }
	t.Cleanup(func() { exit = os.Exit })
	var buf bytes.Buffer
	l := newBufLogger(&buf, InfoLevel, &TextFormatter{DisableTimestamp: true})
	l.Fatal("bye")
	if code != 1 || !strings.Contains(buf.String(), "FATAL bye") {
		t.Fatalf("code=%d out=%q", code, buf.String())
	}
}

func TestToStdLogger(t *testing.T) {
	var buf bytes.Buffer
	l := newBufLogger(&buf, InfoLevel, &TextFormatter{DisableTimestamp: true})
	std := ToStdLogger(l)
	std.Printf("http: %s", "TLS handshake error")
	if !strings.Contains(buf.String(), "http: TLS handshake error") || !strings.Contains(buf.String(), "component=stdlog") {
		t.Fatalf("std logger output: %q", buf.String())
	}
	var _ *stdlog.Logger = std
}
