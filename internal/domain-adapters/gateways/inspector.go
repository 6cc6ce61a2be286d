package gateways

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/coldsnap/coldsnap/internal/domain/entities"
	"github.com/coldsnap/coldsnap/internal/domain/interfaces"
)

// ArchiveSummary is the human-oriented overview of one archive, built
// entirely from already-produced metadata.
type ArchiveSummary struct {
	Filename    string
	SizeBytes   int64
	MemberCount entities.MemberCount
	HasFileList bool

	// Manifest is nil when neither the sidecar nor the embedded
	// rendering is available.
	Manifest *entities.ArchiveManifest
}

// Inspector answers read-only queries about a built archive. Archives
// without the internal metadata directory are handled gracefully: the
// summary degrades to what the container itself can tell.
type Inspector struct {
	archivePath  string
	manifestPath string
	log          interfaces.Logger
}

// NewInspector validates that the archive exists.
func NewInspector(archivePath string, logger interfaces.Logger) (*Inspector, error) {
	if _, err := os.Stat(archivePath); err != nil {
		return nil, fmt.Errorf("archive not found: %s", archivePath)
	}
	return &Inspector{
		archivePath:  archivePath,
		manifestPath: archivePath + ".MANIFEST.json",
		log:          interfaces.OrNoOp(logger),
	}, nil
}

// Manifest returns the archive's manifest, preferring the sidecar and
// falling back to the embedded rendering.
func (ins *Inspector) Manifest(ctx context.Context) (*entities.ArchiveManifest, error) {
	if data, err := os.ReadFile(ins.manifestPath); err == nil {
		return entities.DecodeJSON(data)
	}
	data, err := readArchiveMember(ctx, ins.archivePath, ManifestFileName)
	if err != nil {
		return nil, fmt.Errorf("no manifest available for %s: %w", ins.archivePath, err)
	}
	return entities.DecodeJSON(data)
}

// FileListing returns the records from the listing embedded in the
// archive. An archive without a listing yields an empty slice, not an
// error.
func (ins *Inspector) FileListing(ctx context.Context) ([]entities.FileRecord, error) {
	data, err := readArchiveMember(ctx, ins.archivePath, FileListName)
	if err != nil {
		ins.log.Debug("archive has no file listing", interfaces.F("path", ins.archivePath))
		return []entities.FileRecord{}, nil
	}
	return DecodeFileList(strings.NewReader(string(data)))
}

// Summary builds the overview. When no manifest is available the member
// counts are tallied from the container directly.
func (ins *Inspector) Summary(ctx context.Context) (*ArchiveSummary, error) {
	stat, err := os.Stat(ins.archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive %s: %w", ins.archivePath, err)
	}
	summary := &ArchiveSummary{
		Filename:  stat.Name(),
		SizeBytes: stat.Size(),
	}

	if manifest, err := ins.Manifest(ctx); err == nil {
		summary.Manifest = manifest
		summary.MemberCount = manifest.Archive.MemberCount
		summary.HasFileList = manifest.Verification.PerFileHash.FileListSHA256 != ""
		return summary, nil
	}

	err = walkTarGz(ctx, ins.archivePath, func(header *tar.Header, _ io.Reader) error {
		rel, internal := memberRelPath(header.Name)
		if internal {
			if strings.HasSuffix(header.Name, FileListName) {
				summary.HasFileList = true
			}
			return nil
		}
		if rel == "" {
			return nil
		}
		switch header.Typeflag {
		case tar.TypeDir:
			summary.MemberCount.Dirs++
		case tar.TypeSymlink:
			summary.MemberCount.Symlinks++
		case tar.TypeReg:
			summary.MemberCount.Files++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}
