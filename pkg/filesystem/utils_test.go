package filesystem

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolvePath(t *testing.T) {
	dir := t.TempDir()
	abs := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(abs, []byte("x: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Chdir(dir)

	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "empty", path: "", want: ""},
		{name: "absolute", path: abs, want: abs},
		{name: "relative in working dir", path: "config.yaml", want: "config.yaml"},
		{name: "missing stays relative", path: "nope.yaml", want: "nope.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolvePath(tt.path); got != tt.want {
				t.Errorf("ResolvePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestGetDefaultPath(t *testing.T) {
	got, err := GetDefaultPath("bookmarks.db")
	if err != nil {
		t.Fatalf("GetDefaultPath() error = %v", err)
	}
	if filepath.Base(got) != "bookmarks.db" || !filepath.IsAbs(got) {
		t.Errorf("GetDefaultPath() = %q", got)
	}
}
