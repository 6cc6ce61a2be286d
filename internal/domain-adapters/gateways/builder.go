package gateways

import (
	"archive/tar"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/coldsnap/coldsnap/internal/domain/entities"
	"github.com/coldsnap/coldsnap/internal/domain/interfaces"
)

// DefaultCompressionLevel is the gzip level used when the caller does
// not choose one.
const DefaultCompressionLevel = 6

// BuilderConfig configures an ArchiveBuilder.
type BuilderConfig struct {
	// OutputPath is where the archive is written.
	OutputPath string

	// CompressionLevel is the gzip level, 0 (store) through 9 (best).
	CompressionLevel int

	// ComputeSHA256 interposes a write-through digest between compressor
	// and file so the archive hash costs no extra read.
	ComputeSHA256 bool

	// GenerateFileList captures a FileRecord per entry and embeds the
	// compressed file listing in the archive.
	GenerateFileList bool

	// GenerateManifest embeds the manifest rendering in the archive and
	// writes the fully-populated sidecar beside it.
	GenerateManifest bool

	// Event, Environment and Git are recorded in the manifest as given.
	Event       entities.EventMetadata
	Environment entities.EnvironmentMetadata
	Git         entities.GitMetadata

	Logger interfaces.Logger
}

// BuildResult reports what a build produced.
type BuildResult struct {
	Path           string
	SizeBytes      int64
	SHA256         string
	FileListSHA256 string
	FilesAdded     int
	DirsAdded      int
	SymlinksAdded  int
	ManifestPath   string
	ChecksumPath   string
}

// ArchiveBuilder streams a Scanner's ordered entries into one compressed
// tar container. Builders hold no shared state; independent builds may
// run concurrently.
type ArchiveBuilder struct {
	cfg BuilderConfig
	log interfaces.Logger
}

// NewArchiveBuilder validates the configuration. An out-of-range
// compression level is rejected here, before any I/O.
func NewArchiveBuilder(cfg BuilderConfig) (*ArchiveBuilder, error) {
	if cfg.OutputPath == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if cfg.CompressionLevel < 0 || cfg.CompressionLevel > 9 {
		return nil, fmt.Errorf("compression level must be 0-9, got %d", cfg.CompressionLevel)
	}
	return &ArchiveBuilder{cfg: cfg, log: interfaces.OrNoOp(cfg.Logger)}, nil
}

// Create consumes the scanner's ordered entries and produces the
// archive, its embedded side-files, and (when requested) the sidecar
// manifest and checksum file. Recursion and ordering come entirely from
// the scanner: every entry is appended non-recursively.
//
// Any archive-write failure aborts the build and deletes everything
// written so far, so no partial outputs persist. Per-entry read problems
// are logged and skipped instead.
func (b *ArchiveBuilder) Create(ctx context.Context, scanner *Scanner, archiveRoot string) (*BuildResult, error) {
	if archiveRoot == "" {
		archiveRoot = filepath.Base(scanner.Root())
	}

	entries, err := scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}

	createdAt := time.Now().UTC()
	written := []string{b.cfg.OutputPath}
	failed := true
	defer func() {
		if failed {
			for _, p := range written {
				os.Remove(p)
			}
		}
	}()

	out, err := os.Create(b.cfg.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive file %s: %w", b.cfg.OutputPath, err)
	}
	defer out.Close()

	var sink io.Writer = out
	var hasher *HashingWriter
	if b.cfg.ComputeSHA256 {
		hasher = NewHashingWriter(out)
		sink = hasher
	}

	zw, err := gzip.NewWriterLevel(sink, b.cfg.CompressionLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}
	tw := tar.NewWriter(zw)

	result := &BuildResult{Path: b.cfg.OutputPath}
	var records []entities.FileRecord
	// Collected records feed the file listing only; the manifest stores
	// aggregate counts, not per-file rows.
	wantRecords := b.cfg.GenerateFileList

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		digest, info, added, err := b.appendEntry(tw, scanner, entry, archiveRoot)
		if err != nil {
			return nil, err
		}
		if !added {
			continue
		}
		switch entry.Kind {
		case entities.KindFile:
			result.FilesAdded++
		case entities.KindDir:
			result.DirsAdded++
		case entities.KindSymlink:
			result.SymlinksAdded++
		}
		if wantRecords {
			rec := scanner.statRecord(entry.RelPath, info)
			rec.SHA256 = digest
			records = append(records, *rec)
		}
	}

	if b.cfg.GenerateFileList {
		data, listSHA, err := EncodeFileList(records)
		if err != nil {
			return nil, err
		}
		if err := appendMember(tw, path.Join(MetadataDirName, FileListName), data, createdAt); err != nil {
			return nil, err
		}
		result.FileListSHA256 = listSHA
	}

	var manifest *entities.ArchiveManifest
	if b.cfg.GenerateManifest {
		manifest = b.buildManifest(scanner, createdAt, result)
		embedded := manifest.Embedded()
		data, err := embedded.EncodeJSON()
		if err != nil {
			return nil, err
		}
		if err := appendMember(tw, path.Join(MetadataDirName, ManifestFileName), data, createdAt); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize compression: %w", err)
	}
	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("failed to close archive file: %w", err)
	}

	stat, err := os.Stat(b.cfg.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive file: %w", err)
	}
	result.SizeBytes = stat.Size()
	if hasher != nil {
		result.SHA256 = hasher.Sum()
	}

	if manifest != nil {
		manifest.Archive.SizeBytes = &result.SizeBytes
		if result.SHA256 != "" {
			sha := result.SHA256
			manifest.Archive.SHA256 = &sha
		}
		data, err := manifest.EncodeJSON()
		if err != nil {
			return nil, err
		}
		result.ManifestPath = b.cfg.OutputPath + ".MANIFEST.json"
		written = append(written, result.ManifestPath)
		if err := os.WriteFile(result.ManifestPath, data, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write manifest sidecar: %w", err)
		}
	}

	if b.cfg.ComputeSHA256 {
		result.ChecksumPath = b.cfg.OutputPath + ".sha256"
		written = append(written, result.ChecksumPath)
		entry := ChecksumEntry{Filename: filepath.Base(b.cfg.OutputPath), SHA256: result.SHA256}
		if _, err := WriteChecksumFile(result.ChecksumPath, []ChecksumEntry{entry}); err != nil {
			return nil, err
		}
	}

	failed = false
	b.log.Info("archive created",
		interfaces.F("path", result.Path),
		interfaces.F("files", result.FilesAdded),
		interfaces.F("dirs", result.DirsAdded),
		interfaces.F("bytes", result.SizeBytes))
	return result, nil
}

// appendEntry writes one scanner entry to the tar stream. The file is
// opened before its header is written so an unreadable entry can be
// skipped cleanly (added=false) without corrupting the stream. Regular
// file content is hashed while it streams into the archive, so no entry
// is read twice during a build.
func (b *ArchiveBuilder) appendEntry(tw *tar.Writer, scanner *Scanner, entry entities.ScanEntry, archiveRoot string) (digest string, info os.FileInfo, added bool, err error) {
	abs := filepath.Join(scanner.Root(), filepath.FromSlash(entry.RelPath))
	info, err = os.Lstat(abs)
	if err != nil {
		b.log.Warn("skipping unreadable entry", interfaces.F("path", entry.RelPath), interfaces.F("error", err))
		return "", nil, false, nil
	}

	var linkTarget string
	var content *os.File
	switch entry.Kind {
	case entities.KindSymlink:
		linkTarget, err = os.Readlink(abs)
		if err != nil {
			b.log.Warn("skipping unreadable symlink", interfaces.F("path", entry.RelPath), interfaces.F("error", err))
			return "", nil, false, nil
		}
	case entities.KindFile:
		//nolint:gosec // G304: path comes from the scan of the source tree
		content, err = os.Open(abs)
		if err != nil {
			b.log.Warn("skipping unreadable file", interfaces.F("path", entry.RelPath), interfaces.F("error", err))
			return "", nil, false, nil
		}
		defer content.Close()
	}

	header, err := tar.FileInfoHeader(info, linkTarget)
	if err != nil {
		return "", nil, false, fmt.Errorf("failed to create tar header for %s: %w", entry.RelPath, err)
	}
	header.Name = path.Join(archiveRoot, entry.RelPath)
	if entry.Kind == entities.KindDir {
		header.Name += "/"
	}
	header.Format = tar.FormatPAX

	if err := tw.WriteHeader(header); err != nil {
		return "", nil, false, fmt.Errorf("failed to write tar header for %s: %w", entry.RelPath, err)
	}
	if content != nil {
		h := sha256.New()
		buf := make([]byte, digestChunkSize)
		if _, err := io.CopyBuffer(io.MultiWriter(tw, h), content, buf); err != nil {
			return "", nil, false, fmt.Errorf("failed to write %s to archive: %w", entry.RelPath, err)
		}
		digest = hex.EncodeToString(h.Sum(nil))
	}
	return digest, info, true, nil
}

// appendMember writes an in-memory side-file to the tar stream.
func appendMember(tw *tar.Writer, name string, data []byte, modTime time.Time) error {
	header := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Size:     int64(len(data)),
		Mode:     0o644,
		ModTime:  modTime,
		Format:   tar.FormatPAX,
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write tar header for %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("failed to write %s to archive: %w", name, err)
	}
	return nil
}

func (b *ArchiveBuilder) buildManifest(scanner *Scanner, createdAt time.Time, result *BuildResult) *entities.ArchiveManifest {
	return &entities.ArchiveManifest{
		ManifestVersion: entities.ManifestVersion,
		CreatedUTC:      createdAt.Format(time.RFC3339),
		ID:              newArchiveID(createdAt),
		Source: entities.SourceMetadata{
			Root:          scanner.Root(),
			Normalization: entities.DefaultNormalization(scanner.ExcludeVCS()),
		},
		Event:       b.cfg.Event,
		Environment: b.cfg.Environment,
		Git:         b.cfg.Git,
		Archive: entities.ArchiveMetadata{
			Format:   entities.ArchiveFormat,
			Filename: filepath.Base(b.cfg.OutputPath),
			MemberCount: entities.MemberCount{
				Files:    result.FilesAdded,
				Dirs:     result.DirsAdded,
				Symlinks: result.SymlinksAdded,
			},
		},
		Verification: entities.VerificationMetadata{
			PerFileHash: entities.PerFileHashMetadata{
				Algorithm:      "sha256",
				FileListSHA256: result.FileListSHA256,
			},
		},
	}
}

// newArchiveID builds a sortable, collision-resistant identifier from
// the creation time and a random suffix.
func newArchiveID(createdAt time.Time) string {
	suffix := make([]byte, 3)
	//nolint:errcheck // crypto/rand.Read does not fail on supported platforms
	rand.Read(suffix)
	return fmt.Sprintf("coldsnap_%s_%s", createdAt.Format("2006-01-02_15-04-05"), hex.EncodeToString(suffix))
}
