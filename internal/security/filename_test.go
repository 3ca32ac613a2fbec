package security

import (
	"path/filepath"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"9b2c1f3e-5a7d-4c1b-8e2f-0a1b2c3d4e5f", "9b2c1f3e-5a7d-4c1b-8e2f-0a1b2c3d4e5f"},
		{"", "_"},
		{".", "_"},
		{"..", "__"},
		{"../../etc/passwd", ".._.._etc_passwd"},
		{"a/b\\c", "a_b_c"},
		{"tab\there", "tab_here"},
		{"café", "caf_"},
		{"run.1", "run.1"},
	}
	for _, tt := range tests {
		got := SanitizeFilename(tt.in)
		if got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if filepath.Base(got) != got {
			t.Errorf("SanitizeFilename(%q) = %q is not a single path element", tt.in, got)
		}
	}
}
