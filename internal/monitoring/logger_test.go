package monitoring

import (
	"bytes"
	"strings"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// nil installs a no-op that must not call the previous logger
	called = false
	SetLogger(nil)
	Logf("test")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestSetOutput(t *testing.T) {
	original := Logf
	defer func() {
		Logf = original
	}()

	var buf bytes.Buffer
	SetOutput(&buf)
	Logf("loaded %d shots", 42)

	if !strings.Contains(buf.String(), "loaded 42 shots") {
		t.Errorf("expected message in output, got %q", buf.String())
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	l := WithComponent("cache")
	l.Info().Msg("saved")

	out := buf.String()
	if !strings.Contains(out, "component=cache") || !strings.Contains(out, "saved") {
		t.Errorf("unexpected output %q", out)
	}
}
