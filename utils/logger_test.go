package utils

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf)

	l.Info("[engine] %d published", 3)
	l.Warn("slow")
	l.Error("boom")
	l.Debug("details")

	out := buf.String()
	for _, want := range []string{"INFO", "[engine] 3 published", "WARN", "ERROR", "DEBUG"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	l.SetDebug(false)
	l.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug disabled: got %q", buf.String())
	}
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.Info("nothing %s", "here")
	l.Error("still nothing")
}
