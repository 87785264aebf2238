package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug, "WARN": slog.LevelWarn, "error": slog.LevelError,
		"info": slog.LevelInfo, "bogus": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New("json", slog.LevelInfo, &buf)
	l.Debug("hidden")
	l.Info("rx_frame", "len", 3)
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"rx_frame"`) {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestSetIgnoresNil(t *testing.T) {
	before := L()
	Set(nil)
	if L() != before {
		t.Fatalf("Set(nil) replaced logger")
	}
}
