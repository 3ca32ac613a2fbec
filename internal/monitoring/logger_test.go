package monitoring

import (
	"fmt"
	"testing"
)

func captureLogs(t *testing.T) *[]string {
	t.Helper()
	original := Logf
	t.Cleanup(func() { Logf = original })

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	return &lines
}

func TestSetLogger(t *testing.T) {
	lines := captureLogs(t)
	Logf("packet %d", 7)
	if len(*lines) != 1 || (*lines)[0] != "packet 7" {
		t.Errorf("custom logger got %q, want [packet 7]", *lines)
	}

	SetLogger(nil)
	Logf("packet %d", 8)
	if len(*lines) != 1 {
		t.Errorf("no-op logger should not reach previous logger, got %q", *lines)
	}
}

func TestComponent(t *testing.T) {
	logf := Component("migrate")
	lines := captureLogs(t)

	logf("applied %d", 2)
	if len(*lines) != 1 || (*lines)[0] != "[migrate] applied 2" {
		t.Errorf("component logger got %q", *lines)
	}
}
