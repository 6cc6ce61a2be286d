package gateways

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/coldsnap/coldsnap/internal/domain/entities"
)

func newTestVerifier(t *testing.T, archivePath string) *Verifier {
	t.Helper()
	v, err := NewVerifier(VerifierConfig{ArchivePath: archivePath})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return v
}

func TestNewVerifierRequiresArchive(t *testing.T) {
	if _, err := NewVerifier(VerifierConfig{ArchivePath: filepath.Join(t.TempDir(), "absent.tar.gz")}); err == nil {
		t.Error("expected error for missing archive")
	}
}

func TestVerifyQuickFreshArchive(t *testing.T) {
	result, _ := buildTestArchive(t, map[string]string{
		"a.txt":     "alpha",
		"sub/b.txt": "beta",
	})

	v := newTestVerifier(t, result.Path)
	res := v.VerifyQuick(context.Background())

	if !res.Passed {
		t.Fatalf("fresh archive failed quick verification: %v", res.Errors)
	}
	if len(res.Errors) != 0 || len(res.Warnings) != 0 {
		t.Errorf("errors=%v warnings=%v", res.Errors, res.Warnings)
	}
	if res.Level != entities.LevelQuick {
		t.Errorf("level = %q", res.Level)
	}
	if res.ChecksPerformed == 0 || res.ChecksPassed != res.ChecksPerformed {
		t.Errorf("checks %d/%d", res.ChecksPassed, res.ChecksPerformed)
	}
	// Quick verification never visits file contents.
	if res.FilesVerified != nil || res.BytesVerified != nil {
		t.Error("quick result should not report per-file counters")
	}
}

func TestVerifyQuickDetectsAppendedBytes(t *testing.T) {
	result, _ := buildTestArchive(t, map[string]string{"a.txt": "alpha"})

	f, err := os.OpenFile(result.Path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.Write([]byte("tampered")); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.Close()

	res := newTestVerifier(t, result.Path).VerifyQuick(context.Background())
	if res.Passed {
		t.Error("appended bytes should fail quick verification")
	}
	// Both the digest and the recorded size diverge.
	if len(res.Errors) < 2 {
		t.Errorf("errors = %v", res.Errors)
	}
}

func TestVerifyQuickMissingChecksumIsWarning(t *testing.T) {
	result, _ := buildTestArchive(t, map[string]string{"a.txt": "alpha"})
	if err := os.Remove(result.ChecksumPath); err != nil {
		t.Fatalf("remove: %v", err)
	}

	res := newTestVerifier(t, result.Path).VerifyQuick(context.Background())
	if !res.Passed {
		t.Errorf("missing checksum sidecar must not fail verification: %v", res.Errors)
	}
	if len(res.Warnings) != 1 {
		t.Errorf("warnings = %v", res.Warnings)
	}
}

func TestVerifyQuickMissingManifestIsFatal(t *testing.T) {
	result, _ := buildTestArchive(t, map[string]string{"a.txt": "alpha"})
	if err := os.Remove(result.ManifestPath); err != nil {
		t.Fatalf("remove: %v", err)
	}

	res := newTestVerifier(t, result.Path).VerifyQuick(context.Background())
	if res.Passed {
		t.Error("missing manifest should fail quick verification")
	}
	// The manifest check is fatal: no further checks run.
	if res.ChecksPerformed != 1 {
		t.Errorf("checks performed = %d, want 1", res.ChecksPerformed)
	}
}

func TestVerifyDeepFreshArchive(t *testing.T) {
	result, _ := buildTestArchive(t, map[string]string{
		"a.txt":     "alpha",
		"sub/b.txt": "beta",
	})

	var progressCalls int
	res := newTestVerifier(t, result.Path).VerifyDeep(context.Background(), DeepOptions{
		Progress: func(filesVerified, totalFiles int, currentPath string) {
			progressCalls++
			if totalFiles != 2 {
				t.Errorf("totalFiles = %d", totalFiles)
			}
		},
	})

	if !res.Passed {
		t.Fatalf("fresh archive failed deep verification: %v", res.Errors)
	}
	if res.Level != entities.LevelDeep {
		t.Errorf("level = %q", res.Level)
	}
	if res.FilesVerified == nil || *res.FilesVerified != 2 {
		t.Errorf("files verified = %v", res.FilesVerified)
	}
	if res.BytesVerified == nil || *res.BytesVerified != int64(len("alpha")+len("beta")) {
		t.Errorf("bytes verified = %v", res.BytesVerified)
	}
	if progressCalls != 2 {
		t.Errorf("progress calls = %d", progressCalls)
	}
}

// rewriteMemberBody rebuilds the archive, replacing one member's bytes
// with same-length content, then refreshes the checksum sidecar and the
// manifest's recorded size and digest. The result passes every quick
// check while carrying content that no longer matches its recorded
// per-file hash.
func rewriteMemberBody(t *testing.T, result *BuildResult, memberName, newContent string) {
	t.Helper()

	tmpPath := result.Path + ".rewrite"
	in, err := os.Open(result.Path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer in.Close()
	out, err := os.Create(tmpPath)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer out.Close()

	zr, err := gzip.NewReader(in)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	zw, err := gzip.NewWriterLevel(out, DefaultCompressionLevel)
	if err != nil {
		t.Fatalf("gzip writer: %v", err)
	}
	tr := tar.NewReader(zr)
	tw := tar.NewWriter(zw)

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("tar read: %v", err)
		}
		if err := tw.WriteHeader(header); err != nil {
			t.Fatalf("tar write header: %v", err)
		}
		if header.Name == memberName {
			if int64(len(newContent)) != header.Size {
				t.Fatalf("replacement must keep size %d, got %d", header.Size, len(newContent))
			}
			if _, err := tw.Write([]byte(newContent)); err != nil {
				t.Fatalf("tar write: %v", err)
			}
			continue
		}
		if _, err := io.Copy(tw, tr); err != nil {
			t.Fatalf("tar copy: %v", err)
		}
	}
	for _, c := range []io.Closer{tw, zw, out} {
		if err := c.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	if err := os.Rename(tmpPath, result.Path); err != nil {
		t.Fatalf("rename: %v", err)
	}

	// Refresh everything quick verification checks.
	digest, err := DigestFile(result.Path)
	if err != nil {
		t.Fatalf("DigestFile: %v", err)
	}
	if _, err := WriteChecksumFile(result.ChecksumPath, []ChecksumEntry{
		{Filename: filepath.Base(result.Path), SHA256: digest},
	}); err != nil {
		t.Fatalf("WriteChecksumFile: %v", err)
	}

	data, err := os.ReadFile(result.ManifestPath)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	manifest, err := entities.DecodeJSON(data)
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	stat, err := os.Stat(result.Path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	size := stat.Size()
	manifest.Archive.SizeBytes = &size
	manifest.Archive.SHA256 = &digest
	updated, err := manifest.EncodeJSON()
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}
	if err := os.WriteFile(result.ManifestPath, updated, 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

func TestVerifyDeepCatchesContentTampering(t *testing.T) {
	result, _ := buildTestArchive(t, map[string]string{"a.txt": "alpha"})
	rewriteMemberBody(t, result, "snapshot/a.txt", "aleph")

	v := newTestVerifier(t, result.Path)

	quick := v.VerifyQuick(context.Background())
	if !quick.Passed {
		t.Fatalf("quick verification should pass after consistent rewrite: %v", quick.Errors)
	}

	deep := v.VerifyDeep(context.Background(), DeepOptions{})
	if deep.Passed {
		t.Fatal("deep verification should catch the altered content")
	}
	found := false
	for _, e := range deep.Errors {
		if strings.Contains(e, "content hash mismatch") && strings.Contains(e, "a.txt") {
			found = true
		}
	}
	if !found {
		t.Errorf("errors = %v", deep.Errors)
	}
}

// corruptChecksumSidecar points the sidecar at a wrong digest so one
// quick check fails without being fatal.
func corruptChecksumSidecar(t *testing.T, result *BuildResult) {
	t.Helper()
	wrong := strings.Repeat("00", 32)
	if _, err := WriteChecksumFile(result.ChecksumPath, []ChecksumEntry{
		{Filename: filepath.Base(result.Path), SHA256: wrong},
	}); err != nil {
		t.Fatalf("WriteChecksumFile: %v", err)
	}
}

func TestVerifyDeepFailFast(t *testing.T) {
	t.Run("skips file pass after quick failure", func(t *testing.T) {
		result, _ := buildTestArchive(t, map[string]string{"a.txt": "alpha"})
		corruptChecksumSidecar(t, result)

		res := newTestVerifier(t, result.Path).VerifyDeep(context.Background(), DeepOptions{FailFast: true})
		if res.Passed {
			t.Error("expected failure")
		}
		if res.FilesVerified != nil {
			t.Error("fail-fast run must not start the per-file pass")
		}
	})

	t.Run("file pass still runs without fail-fast", func(t *testing.T) {
		result, _ := buildTestArchive(t, map[string]string{"a.txt": "alpha"})
		corruptChecksumSidecar(t, result)

		res := newTestVerifier(t, result.Path).VerifyDeep(context.Background(), DeepOptions{})
		if res.Passed {
			t.Error("expected failure")
		}
		if res.FilesVerified == nil || *res.FilesVerified != 1 {
			t.Errorf("files verified = %v", res.FilesVerified)
		}
	})
}

func TestVerifyDeepCancellationReturnsPartialResult(t *testing.T) {
	result, _ := buildTestArchive(t, map[string]string{
		"a.txt": "alpha",
		"b.txt": "bravo",
	})

	ctx, cancel := context.WithCancel(context.Background())
	v := newTestVerifier(t, result.Path)

	// Cancel from the progress callback after the first file so the walk
	// stops between entries.
	res := v.VerifyDeep(ctx, DeepOptions{
		Progress: func(filesVerified, totalFiles int, currentPath string) {
			cancel()
		},
	})

	if res.Level != entities.LevelDeep {
		t.Errorf("level = %q", res.Level)
	}
	// Cancellation surfaces as a warning carrying the partial tallies,
	// never as a discarded result.
	if res.FilesVerified == nil || *res.FilesVerified != 1 {
		t.Errorf("files verified = %v", res.FilesVerified)
	}
	interrupted := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "interrupted") {
			interrupted = true
		}
	}
	if !interrupted {
		t.Errorf("warnings = %v", res.Warnings)
	}
}

func TestVerifyEmptySourceArchive(t *testing.T) {
	result, _ := buildTestArchive(t, map[string]string{})
	v := newTestVerifier(t, result.Path)

	quick := v.VerifyQuick(context.Background())
	if !quick.Passed {
		t.Fatalf("quick verification failed: %v", quick.Errors)
	}

	// The listing is present but holds zero records: the per-file pass
	// is vacuous, not an error.
	deep := v.VerifyDeep(context.Background(), DeepOptions{})
	if !deep.Passed {
		t.Fatalf("deep verification failed: %v", deep.Errors)
	}
	if deep.FilesVerified == nil || *deep.FilesVerified != 0 {
		t.Errorf("files verified = %v", deep.FilesVerified)
	}
	if deep.BytesVerified == nil || *deep.BytesVerified != 0 {
		t.Errorf("bytes verified = %v", deep.BytesVerified)
	}
}

func TestVerifyQuickMatchesSidecarEntryByFilename(t *testing.T) {
	t.Run("picks the entry for this archive", func(t *testing.T) {
		result, _ := buildTestArchive(t, map[string]string{"a.txt": "alpha"})
		digest, err := DigestFile(result.Path)
		if err != nil {
			t.Fatalf("DigestFile: %v", err)
		}
		// A split build shares one sidecar across parts; the entry for
		// another part must not shadow this archive's digest.
		if _, err := WriteChecksumFile(result.ChecksumPath, []ChecksumEntry{
			{Filename: "snapshot.part001.tar.gz", SHA256: strings.Repeat("11", 32)},
			{Filename: filepath.Base(result.Path), SHA256: digest},
		}); err != nil {
			t.Fatalf("WriteChecksumFile: %v", err)
		}

		res := newTestVerifier(t, result.Path).VerifyQuick(context.Background())
		if !res.Passed {
			t.Errorf("quick verification failed: %v", res.Errors)
		}
	})

	t.Run("fails when no entry matches", func(t *testing.T) {
		result, _ := buildTestArchive(t, map[string]string{"a.txt": "alpha"})
		if _, err := WriteChecksumFile(result.ChecksumPath, []ChecksumEntry{
			{Filename: "other.tar.gz", SHA256: strings.Repeat("11", 32)},
		}); err != nil {
			t.Fatalf("WriteChecksumFile: %v", err)
		}

		res := newTestVerifier(t, result.Path).VerifyQuick(context.Background())
		if res.Passed {
			t.Error("expected failure")
		}
		found := false
		for _, e := range res.Errors {
			if strings.Contains(e, "no entry for") {
				found = true
			}
		}
		if !found {
			t.Errorf("errors = %v", res.Errors)
		}
	})
}
