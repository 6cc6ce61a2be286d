package gateways

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"

	"github.com/coldsnap/coldsnap/internal/domain/entities"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newTestScanner(t *testing.T, cfg ScannerConfig) *Scanner {
	t.Helper()
	s, err := NewScanner(cfg)
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	return s
}

func relPaths(entries []entities.ScanEntry) []string {
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.RelPath
	}
	return paths
}

func TestScannerRejectsBadConfig(t *testing.T) {
	t.Run("missing root", func(t *testing.T) {
		if _, err := NewScanner(ScannerConfig{Root: filepath.Join(t.TempDir(), "nope")}); err == nil {
			t.Error("expected error for missing root")
		}
	})

	t.Run("root is a file", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "f.txt"), "x")
		if _, err := NewScanner(ScannerConfig{Root: filepath.Join(dir, "f.txt")}); err == nil {
			t.Error("expected error for non-directory root")
		}
	})

	t.Run("malformed pattern", func(t *testing.T) {
		if _, err := NewScanner(ScannerConfig{Root: t.TempDir(), ExcludePatterns: []string{"[unclosed"}}); err == nil {
			t.Error("expected error for malformed pattern")
		}
	})
}

func TestScanOrderIsIndependentOfCreationOrder(t *testing.T) {
	dir := t.TempDir()
	// Created in reverse lexicographic order on purpose.
	writeFile(t, filepath.Join(dir, "zzz.txt"), "z")
	writeFile(t, filepath.Join(dir, "mid", "inner.txt"), "m")
	writeFile(t, filepath.Join(dir, "aaa.txt"), "a")

	s := newTestScanner(t, ScannerConfig{Root: dir})
	entries, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	got := relPaths(entries)
	want := []string{"aaa.txt", "mid", "mid/inner.txt", "zzz.txt"}
	if len(got) != len(want) {
		t.Fatalf("entries = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entries[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if !sort.StringsAreSorted(got) {
		t.Errorf("scan output not sorted: %v", got)
	}
}

func TestScanExcludePatterns(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "keep.py"), "print()")
	writeFile(t, filepath.Join(dir, "skip.pyc"), "\x00")
	writeFile(t, filepath.Join(dir, "sub", "also.pyc"), "\x00")
	writeFile(t, filepath.Join(dir, "sub", "kept.txt"), "t")

	s := newTestScanner(t, ScannerConfig{Root: dir, ExcludePatterns: []string{"*.pyc"}})
	entries, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	for _, e := range entries {
		if filepath.Ext(e.RelPath) == ".pyc" {
			t.Errorf("excluded entry present: %s", e.RelPath)
		}
	}
	got := relPaths(entries)
	want := []string{"keep.py", "sub", "sub/kept.txt"}
	if len(got) != len(want) {
		t.Fatalf("entries = %v, want %v", got, want)
	}
}

func TestScanExcludesVCSDirectories(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".git", "HEAD"), "ref: refs/heads/main")
	writeFile(t, filepath.Join(dir, ".hg", "store"), "x")
	writeFile(t, filepath.Join(dir, "src", "main.go"), "package main")

	t.Run("excluded by default config", func(t *testing.T) {
		s := newTestScanner(t, ScannerConfig{Root: dir, ExcludeVCS: true})
		entries, err := s.Scan(context.Background())
		if err != nil {
			t.Fatalf("Scan: %v", err)
		}
		for _, e := range entries {
			if e.RelPath == ".git" || e.RelPath == ".hg" {
				t.Errorf("VCS dir not pruned: %s", e.RelPath)
			}
		}
		if len(entries) != 2 {
			t.Errorf("entries = %v", relPaths(entries))
		}
	})

	t.Run("included when disabled", func(t *testing.T) {
		s := newTestScanner(t, ScannerConfig{Root: dir, ExcludeVCS: false})
		entries, err := s.Scan(context.Background())
		if err != nil {
			t.Fatalf("Scan: %v", err)
		}
		found := false
		for _, e := range entries {
			if e.RelPath == ".git/HEAD" {
				found = true
			}
		}
		if !found {
			t.Error(".git contents missing with ExcludeVCS disabled")
		}
	})
}

func TestScanRespectsGitignore(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".gitignore"), "# build output\n*.log\n\nbuild/\n")
	writeFile(t, filepath.Join(dir, "run.log"), "log")
	writeFile(t, filepath.Join(dir, "build", "out.bin"), "bin")
	writeFile(t, filepath.Join(dir, "notes.txt"), "n")

	s := newTestScanner(t, ScannerConfig{Root: dir, RespectGitignore: true})
	entries, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	got := relPaths(entries)
	want := []string{".gitignore", "notes.txt"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("entries = %v, want %v", got, want)
	}
}

func TestScanSymlinksAreLeaves(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink creation requires privileges on windows")
	}
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "target", "data.txt"), "d")
	if err := os.Symlink("target", filepath.Join(dir, "link")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if err := os.Symlink("missing", filepath.Join(dir, "broken")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	s := newTestScanner(t, ScannerConfig{Root: dir})
	entries, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	kinds := map[string]entities.EntryKind{}
	for _, e := range entries {
		kinds[e.RelPath] = e.Kind
	}
	if kinds["link"] != entities.KindSymlink {
		t.Errorf("link kind = %q", kinds["link"])
	}
	if kinds["broken"] != entities.KindSymlink {
		t.Errorf("broken link kind = %q", kinds["broken"])
	}
	// A directory symlink must not be descended into.
	if _, ok := kinds["link/data.txt"]; ok {
		t.Error("scanner followed a directory symlink")
	}
}

func TestScannerCountAndEstimateSize(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.bin"), "12345")
	writeFile(t, filepath.Join(dir, "sub", "b.bin"), "123")

	s := newTestScanner(t, ScannerConfig{Root: dir})

	counts, err := s.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if counts.Files != 2 || counts.Dirs != 1 || counts.Total != 3 {
		t.Errorf("counts = %+v", counts)
	}

	size, err := s.EstimateSize(context.Background())
	if err != nil {
		t.Fatalf("EstimateSize: %v", err)
	}
	if size != 8 {
		t.Errorf("size = %d, want 8", size)
	}
}

func TestScanHonorsContextCancellation(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newTestScanner(t, ScannerConfig{Root: dir})
	if _, err := s.Scan(ctx); err == nil {
		t.Error("expected error from canceled context")
	}
}

func TestScannerRecord(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "data.CSV"), "a,b\n")
	if err := os.Chmod(filepath.Join(dir, "data.CSV"), 0o755); err != nil {
		t.Fatalf("chmod: %v", err)
	}

	s := newTestScanner(t, ScannerConfig{Root: dir})
	rec, err := s.Record("data.CSV")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	if rec.Kind != entities.KindFile {
		t.Errorf("kind = %q", rec.Kind)
	}
	if rec.Size == nil || *rec.Size != 4 {
		t.Errorf("size = %v", rec.Size)
	}
	if rec.Ext != "csv" {
		t.Errorf("ext = %q, want lowercase without dot", rec.Ext)
	}
	if len(rec.SHA256) != 64 {
		t.Errorf("sha256 = %q", rec.SHA256)
	}
	if runtime.GOOS != "windows" {
		if rec.Mode != "0755" {
			t.Errorf("mode = %q", rec.Mode)
		}
		if !rec.IsExecutable {
			t.Error("executable bit not detected")
		}
	}

	t.Run("directory has nil size", func(t *testing.T) {
		writeFile(t, filepath.Join(dir, "sub", "x"), "x")
		rec, err := s.Record("sub")
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
		if rec.Kind != entities.KindDir || rec.Size != nil {
			t.Errorf("dir record = %+v", rec)
		}
	})

	t.Run("missing path", func(t *testing.T) {
		if _, err := s.Record("absent"); err == nil {
			t.Error("expected error for missing path")
		}
	})
}

func TestDigestFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "x.txt"), "hello")

	got, err := DigestFile(filepath.Join(dir, "x.txt"))
	if err != nil {
		t.Fatalf("DigestFile: %v", err)
	}
	// sha256("hello")
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got != want {
		t.Errorf("digest = %s, want %s", got, want)
	}
}
