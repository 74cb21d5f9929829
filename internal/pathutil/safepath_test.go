package pathutil

import (
	"strings"
	"testing"
)

func TestHasDotSegments(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"state/mod.js", false},
		{"state/./mod.js", true},
		{"state/../secret", true},
		{".", true},
		{"..", true},
		{"...", false},
		{".hidden", false},
		{".dotdir/file", false},
		{"a/b/.", true},
		{`..\windows`, true},
		{`a\.\b`, true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := HasDotSegments(tt.path); got != tt.want {
				t.Errorf("HasDotSegments(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestCleanName(t *testing.T) {
	for _, ok := range []string{"mod.js", "mod.js.map", "admin/mod.js", ".well-known"} {
		if got, err := CleanName(ok); err != nil || got != ok {
			t.Errorf("CleanName(%q) = %q, %v", ok, got, err)
		}
	}

	bad := map[string]string{
		"":              "empty",
		"../secret":     "dot segments",
		"a/./b":         "dot segments",
		"/etc/passwd":   "absolute",
		`..\secret`:     "backslash",
		"mod\x00.js":    "NUL",
		"admin//mod.js": "empty segments",
		"admin/":        "empty segments",
	}
	for in, want := range bad {
		_, err := CleanName(in)
		if err == nil {
			t.Errorf("CleanName(%q) accepted", in)
			continue
		}
		if !strings.Contains(err.Error(), want) {
			t.Errorf("CleanName(%q) = %v, want mention of %q", in, err, want)
		}
	}
}

func FuzzCleanName(f *testing.F) {
	for _, s := range []string{"mod.js", "../x", "a/./b", "/abs", "a\\b", "a//b"} {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, s string) {
		got, err := CleanName(s)
		if err != nil {
			return
		}
		if HasDotSegments(got) || strings.HasPrefix(got, "/") || strings.Contains(got, "\\") {
			t.Fatalf("CleanName(%q) accepted unsafe name", s)
		}
	})
}
