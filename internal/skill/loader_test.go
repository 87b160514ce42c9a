package skill

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeSkill(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dir, name), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name, SkillFile), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestParse(t *testing.T) {
	s, err := Parse([]byte("---\nname: invoices\ndescription: File incoming invoices\n---\n\n# Steps\n1. Save the PDF.\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Name != "invoices" || s.Description != "File incoming invoices" {
		t.Errorf("meta = %+v", s)
	}
	if s.Content != "# Steps\n1. Save the PDF." {
		t.Errorf("content = %q", s.Content)
	}
}

func TestParse_Rejects(t *testing.T) {
	tests := map[string]string{
		"no front-matter":     "# just markdown",
		"unterminated":        "---\nname: x\ndescription: y\n",
		"missing description": "---\nname: x\n---\nbody",
		"bad yaml":            "---\nname: [x\n---\nbody",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRegistry_Load(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "b", "---\nname: beta\ndescription: second\n---\nB body")
	writeSkill(t, dir, "a", "---\nname: alpha\ndescription: first\n---\nA body")
	writeSkill(t, dir, "broken", "no front matter")

	r := NewRegistry(testLogger())
	n, err := r.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n != 2 {
		t.Fatalf("loaded %d skills, want 2", n)
	}
	list := r.List()
	if list[0].Name != "alpha" || list[1].Name != "beta" {
		t.Errorf("order = %v", list)
	}
	s, ok := r.Get("beta")
	if !ok || s.Content != "B body" || s.Path != filepath.Join(dir, "b", SkillFile) {
		t.Errorf("beta = %+v, %v", s, ok)
	}
}

func TestRegistry_LoadMissingDir(t *testing.T) {
	r := NewRegistry(testLogger())
	n, err := r.Load(filepath.Join(t.TempDir(), "nope"))
	if err != nil || n != 0 {
		t.Errorf("Load = %d, %v", n, err)
	}
}
