package specs

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		p := filepath.Join(dir, n)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte("// spec"), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
}

func TestResolveRelativePatterns(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "specs/b_spec.js", "specs/a_spec.js", "specs/nested/c_spec.js", "README.md")

	got, err := NewResolver().Resolve([]string{"specs/*_spec.js"}, false, dir)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := []string{
		filepath.Join(dir, "specs", "a_spec.js"),
		filepath.Join(dir, "specs", "b_spec.js"),
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d files, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestResolveRecursiveAndDedup(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "specs/a_spec.js", "specs/nested/c_spec.js")

	got, err := NewResolver().Resolve([]string{"specs/nested/*.js", "specs/**/*.js"}, false, dir)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 unique files, got %v", got)
	}
	if got[0] != filepath.Join(dir, "specs", "nested", "c_spec.js") {
		t.Errorf("first match must keep its position, got %s", got[0])
	}
}

func TestResolveNoMatch(t *testing.T) {
	dir := t.TempDir()
	got, err := NewResolver().Resolve([]string{"missing/*.js"}, false, dir)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no files, got %v", got)
	}
	got, err = NewResolver().Resolve([]string{"missing/*.js"}, true, dir)
	if err != nil || len(got) != 0 {
		t.Fatalf("exclusion with no match: %v %v", got, err)
	}
}

func TestResolveAbsolutePattern(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "x_spec.js")
	abs := filepath.Join(dir, "x_spec.js")
	got, err := NewResolver().Resolve([]string{abs}, false, "/somewhere/else")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 1 || got[0] != abs {
		t.Fatalf("expected %s, got %v", abs, got)
	}
}

func TestResolveBadPattern(t *testing.T) {
	if _, err := NewResolver().Resolve([]string{"specs/[.js"}, false, t.TempDir()); err == nil {
		t.Fatalf("expected error for malformed pattern")
	}
}
