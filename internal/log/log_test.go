package log

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{" INFO ", LevelInfo},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"loud", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelWarn)
	t.Cleanup(func() {
		SetLevel(LevelInfo)
		SetOutput(os.Stderr)
	})

	Debug("hidden debug")
	Info("hidden info")
	Warn("shown warn", "busy", true)
	Error("shown error", errors.New("boom"), "op", "sleep", "dangling")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("filtered messages were written: %q", out)
	}
	if !strings.Contains(out, "[WARN] shown warn busy=true") {
		t.Errorf("missing warn line: %q", out)
	}
	if !strings.Contains(out, "[ERROR] shown error err=boom op=sleep") {
		t.Errorf("missing error line: %q", out)
	}
	if strings.Contains(out, "dangling") {
		t.Errorf("odd trailing key was written: %q", out)
	}
}
