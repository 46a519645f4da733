package refsearch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestFileSearcher_Search(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "config.go"), "package config\n\nconst RequestTimeout = \"30s\"\n")
	writeFile(t, filepath.Join(root, "docs", "ops.md"), "# Ops\nThe request timeout is 30S in prod.\n")
	writeFile(t, filepath.Join(root, "vendor", "lib.go"), "timeout 30s\n")
	writeFile(t, filepath.Join(root, ".git", "HEAD"), "30s\n")
	writeFile(t, filepath.Join(root, "logo.png"), "30s")

	s := NewFileSearcher()
	matches, err := s.Search(context.Background(), root, "30s")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("Expected 2 matches, got %d: %+v", len(matches), matches)
	}
	if filepath.Base(matches[0].File) != "config.go" || matches[0].Line != 3 {
		t.Errorf("Unexpected first match: %+v", matches[0])
	}
	if filepath.Base(matches[1].File) != "ops.md" || matches[1].Line != 2 {
		t.Errorf("Unexpected second match: %+v", matches[1])
	}
}

func TestFileSearcher_Limit(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "x\nx\nx\nx\n")

	s := &FileSearcher{Workers: 2, Limit: 3}
	matches, err := s.Search(context.Background(), root, "x")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 3 {
		t.Errorf("Expected limit of 3, got %d", len(matches))
	}
}

func TestFileSearcher_EmptyPatternAndMissingRoot(t *testing.T) {
	s := NewFileSearcher()
	if m, err := s.Search(context.Background(), t.TempDir(), "  "); err != nil || m != nil {
		t.Errorf("Empty pattern should return nothing, got %v %v", m, err)
	}
	if _, err := s.Search(context.Background(), filepath.Join(t.TempDir(), "missing"), "x"); err == nil {
		t.Error("Expected error for missing root")
	}
}

func TestFileSearcher_Canceled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "x\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewFileSearcher().Search(ctx, root, "x"); err == nil {
		t.Error("Expected context error")
	}
}
