package gateways

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/coldsnap/coldsnap/internal/domain/entities"
	"github.com/coldsnap/coldsnap/internal/domain/interfaces"
)

// ProgressFunc receives periodic progress during deep verification. It
// runs synchronously on the caller's goroutine.
type ProgressFunc func(filesVerified, totalFiles int, currentPath string)

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	// ArchivePath is the archive to verify. Must exist.
	ArchivePath string

	// ManifestPath overrides the default sidecar location
	// (<archive>.MANIFEST.json).
	ManifestPath string

	// Signature, when set, authenticates the checksum sidecar against a
	// detached signature at <checksum>.asc during quick verification.
	Signature interfaces.SignatureVerifier

	Logger interfaces.Logger
}

// DeepOptions tunes a deep verification pass.
type DeepOptions struct {
	// FailFast stops after the quick checks if any of them failed,
	// skipping the per-file pass.
	FailFast bool

	// Progress, when non-nil, is invoked after each verified file.
	Progress ProgressFunc
}

// Verifier checks an archive against its stored metadata. A Verifier is
// stateless across calls: each call is independent and read-only, so
// verifying different archives concurrently is safe.
type Verifier struct {
	archivePath  string
	manifestPath string
	checksumPath string
	sig          interfaces.SignatureVerifier
	log          interfaces.Logger
}

// NewVerifier validates that the archive exists and derives the sidecar
// paths.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if _, err := os.Stat(cfg.ArchivePath); err != nil {
		return nil, fmt.Errorf("archive not found: %s", cfg.ArchivePath)
	}
	manifestPath := cfg.ManifestPath
	if manifestPath == "" {
		manifestPath = cfg.ArchivePath + ".MANIFEST.json"
	}
	return &Verifier{
		archivePath:  cfg.ArchivePath,
		manifestPath: manifestPath,
		checksumPath: cfg.ArchivePath + ".sha256",
		sig:          cfg.Signature,
		log:          interfaces.OrNoOp(cfg.Logger),
	}, nil
}

// VerifyQuick runs the structural and hash checks that need no full
// decompression: manifest parse, checksum sidecar, recorded size, and
// the stored file listing digest against the listing inside the archive.
func (v *Verifier) VerifyQuick(ctx context.Context) *entities.VerificationResult {
	start := time.Now()
	result := entities.NewVerificationResult(entities.LevelQuick)
	v.runQuickChecks(ctx, result)
	result.SetElapsed(time.Since(start).Seconds())
	return result
}

// runQuickChecks appends the quick check outcomes to result and returns
// the parsed manifest. A manifest that fails to parse is fatal: the
// remaining checks are skipped and nil is returned.
func (v *Verifier) runQuickChecks(ctx context.Context, result *entities.VerificationResult) *entities.ArchiveManifest {
	manifest := v.checkManifest(result)
	if manifest == nil {
		return nil
	}
	v.checkChecksumSidecar(result)
	v.checkArchiveSize(result, manifest)
	v.checkFileListDigest(ctx, result, manifest)
	if manifest.ManifestVersion != entities.ManifestVersion {
		result.AddWarning(fmt.Sprintf("unrecognized manifest version %q (this tool writes %q)",
			manifest.ManifestVersion, entities.ManifestVersion))
	}
	return manifest
}

func (v *Verifier) checkManifest(result *entities.VerificationResult) *entities.ArchiveManifest {
	data, err := os.ReadFile(v.manifestPath)
	if err != nil {
		result.AddCheck(false, fmt.Sprintf("manifest file not found: %s", v.manifestPath))
		return nil
	}
	manifest, err := entities.DecodeJSON(data)
	if err != nil {
		result.AddCheck(false, fmt.Sprintf("invalid manifest %s: %v", v.manifestPath, err))
		return nil
	}
	result.AddCheck(true, "")
	return manifest
}

// checkChecksumSidecar recomputes the archive digest by streaming the
// file and compares it to the plain checksum sidecar. A missing sidecar
// is only a warning; a mismatch is an error. When a signature verifier
// is configured the sidecar's detached signature is checked too.
func (v *Verifier) checkChecksumSidecar(result *entities.VerificationResult) {
	entries, err := ReadChecksumFile(v.checksumPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			result.AddWarning(fmt.Sprintf("SHA256 checksum file not found: %s", v.checksumPath))
			return
		}
		result.AddCheck(false, fmt.Sprintf("unreadable checksum file %s: %v", v.checksumPath, err))
		return
	}

	actual, err := DigestFile(v.archivePath)
	if err != nil {
		result.AddCheck(false, fmt.Sprintf("failed to hash archive %s: %v", v.archivePath, err))
		return
	}
	// A split archive shares its sidecar with the parts, so pick the
	// entry recorded for this file rather than the first one.
	base := filepath.Base(v.archivePath)
	expected := ""
	for i := range entries {
		if entries[i].Filename == base {
			expected = entries[i].SHA256
			break
		}
	}
	if expected == "" {
		result.AddCheck(false, fmt.Sprintf("checksum file %s has no entry for %s", v.checksumPath, base))
		return
	}
	if actual != expected {
		result.AddCheck(false, fmt.Sprintf("SHA256 mismatch for %s: expected %s, got %s",
			v.archivePath, expected, actual))
	} else {
		result.AddCheck(true, "")
	}

	if v.sig != nil {
		sigPath := v.checksumPath + ".asc"
		if _, err := os.Stat(sigPath); err != nil {
			result.AddWarning(fmt.Sprintf("checksum signature not found: %s", sigPath))
			return
		}
		if err := v.sig.VerifyDetached(v.checksumPath, sigPath); err != nil {
			result.AddCheck(false, fmt.Sprintf("checksum signature verification failed: %v", err))
		} else {
			result.AddCheck(true, "")
		}
	}
}

func (v *Verifier) checkArchiveSize(result *entities.VerificationResult, manifest *entities.ArchiveManifest) {
	if manifest.Archive.SizeBytes == nil {
		result.AddWarning("manifest does not record an archive size")
		return
	}
	stat, err := os.Stat(v.archivePath)
	if err != nil {
		result.AddCheck(false, fmt.Sprintf("failed to stat archive %s: %v", v.archivePath, err))
		return
	}
	if stat.Size() != *manifest.Archive.SizeBytes {
		result.AddCheck(false, fmt.Sprintf("archive size mismatch for %s: manifest records %d bytes, file is %d",
			v.archivePath, *manifest.Archive.SizeBytes, stat.Size()))
		return
	}
	result.AddCheck(true, "")
}

// checkFileListDigest compares the manifest's stored file listing digest
// against the listing member inside the archive. Only the listing member
// is rehashed: its bytes are already compressed, so nothing else is
// decompressed.
func (v *Verifier) checkFileListDigest(ctx context.Context, result *entities.VerificationResult, manifest *entities.ArchiveManifest) {
	expected := manifest.Verification.PerFileHash.FileListSHA256
	if expected == "" {
		return
	}
	data, err := v.readMember(ctx, FileListName)
	if err != nil {
		result.AddCheck(false, fmt.Sprintf("file listing unavailable from %s: %v", v.archivePath, err))
		return
	}
	digest := sha256.Sum256(data)
	actual := hex.EncodeToString(digest[:])
	if actual != expected {
		result.AddCheck(false, fmt.Sprintf("FILELIST hash mismatch: manifest records %s, archive member hashes to %s",
			expected, actual))
		return
	}
	result.AddCheck(true, "")
}

// VerifyDeep runs the quick checks, then streams the full archive once,
// recomputing the digest of every member whose FileRecord carries one.
// Cancellation between entries returns the partial result accumulated so
// far rather than discarding it.
func (v *Verifier) VerifyDeep(ctx context.Context, opts DeepOptions) *entities.VerificationResult {
	start := time.Now()
	result := entities.NewVerificationResult(entities.LevelDeep)
	defer func() { result.SetElapsed(time.Since(start).Seconds()) }()

	manifest := v.runQuickChecks(ctx, result)
	if manifest == nil {
		return result
	}
	if !result.Passed && opts.FailFast {
		return result
	}

	expected, err := v.expectedDigests(ctx, manifest)
	if err != nil {
		result.AddError(err.Error())
		return result
	}

	verified := 0
	var bytesVerified int64
	result.FilesVerified = &verified
	result.BytesVerified = &bytesVerified

	seen := make(map[string]bool, len(expected))
	err = v.walkArchive(ctx, func(header *tar.Header, body io.Reader) error {
		if header.Typeflag != tar.TypeReg {
			return nil
		}
		rel, internal := memberRelPath(header.Name)
		if internal {
			return nil
		}
		want, ok := expected[rel]
		if !ok {
			return nil
		}
		seen[rel] = true
		h := sha256.New()
		buf := make([]byte, digestChunkSize)
		if _, err := io.CopyBuffer(h, body, buf); err != nil {
			return fmt.Errorf("failed to read %s from archive: %w", rel, err)
		}
		got := hex.EncodeToString(h.Sum(nil))
		if got != want {
			result.AddCheck(false, fmt.Sprintf("content hash mismatch for %s: expected %s, got %s", rel, want, got))
		} else {
			result.AddCheck(true, "")
		}
		verified++
		bytesVerified += header.Size
		if opts.Progress != nil {
			opts.Progress(verified, len(expected), rel)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			result.AddWarning(fmt.Sprintf("verification interrupted after %d of %d files: %v",
				verified, len(expected), err))
			return result
		}
		result.AddError(fmt.Sprintf("failed to read archive %s: %v", v.archivePath, err))
		return result
	}

	for rel := range expected {
		if !seen[rel] {
			result.AddCheck(false, fmt.Sprintf("file recorded in listing is missing from archive: %s", rel))
		}
	}
	return result
}

// expectedDigests gathers the per-file digests to verify, preferring the
// listing embedded in the archive and falling back to records embedded
// in the manifest.
func (v *Verifier) expectedDigests(ctx context.Context, manifest *entities.ArchiveManifest) (map[string]string, error) {
	records := manifest.Files
	haveListing := len(records) > 0
	if data, err := v.readMember(ctx, FileListName); err == nil {
		decoded, err := DecodeFileList(strings.NewReader(string(data)))
		if err != nil {
			return nil, fmt.Errorf("invalid file listing in %s: %w", v.archivePath, err)
		}
		// A listing with zero records is still a listing: an archive of
		// an empty tree verifies vacuously.
		records = decoded
		haveListing = true
	}
	if !haveListing {
		return nil, fmt.Errorf("no per-file digests available for %s: archive has no file listing and manifest embeds no records", v.archivePath)
	}
	expected := make(map[string]string, len(records))
	for i := range records {
		if records[i].Kind == entities.KindFile && records[i].SHA256 != "" {
			expected[records[i].Path] = records[i].SHA256
		}
	}
	return expected, nil
}

func (v *Verifier) walkArchive(ctx context.Context, fn func(*tar.Header, io.Reader) error) error {
	return walkTarGz(ctx, v.archivePath, fn)
}

func (v *Verifier) readMember(ctx context.Context, name string) ([]byte, error) {
	return readArchiveMember(ctx, v.archivePath, name)
}
