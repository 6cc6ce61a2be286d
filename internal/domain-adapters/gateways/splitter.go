package gateways

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/coldsnap/coldsnap/internal/domain/entities"
	"github.com/coldsnap/coldsnap/internal/domain/interfaces"
)

// defaultCompressionRatio is the assumed compressed/original ratio for
// extensions not in the table.
const defaultCompressionRatio = 0.7

// compressionRatios estimates how well content compresses, keyed by
// lowercase extension. Already-compressed formats pack at roughly unit
// ratio; plain text much better. The estimate only steers bin-packing,
// so coarse buckets are enough.
var compressionRatios = map[string]float64{
	"gz": 1.0, "tgz": 1.0, "bz2": 1.0, "xz": 1.0, "zst": 1.0, "zip": 1.0, "7z": 1.0,
	"jpg": 1.0, "jpeg": 1.0, "png": 1.0, "gif": 1.0, "webp": 1.0,
	"mp3": 1.0, "mp4": 1.0, "mkv": 1.0, "webm": 1.0, "ogg": 1.0,
	"pdf": 0.9,
	"txt": 0.3, "md": 0.3, "csv": 0.3, "log": 0.3,
	"json": 0.3, "xml": 0.3, "html": 0.3, "yml": 0.3, "yaml": 0.3,
	"go": 0.3, "py": 0.3, "js": 0.3, "ts": 0.3, "c": 0.3, "h": 0.3, "java": 0.3,
}

var sizePattern = regexp.MustCompile(`(?i)^\s*(\d+(?:\.\d+)?)\s*(B|KB|MB|GB|TB)?\s*$`)

// ParseSize converts a human-readable size such as "2GB" or "500MB"
// into bytes (1024-based units).
func ParseSize(s string) (int64, error) {
	m := sizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid size %q (expected forms like 500MB, 2GB)", s)
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	unit := strings.ToUpper(m[2])
	multipliers := map[string]float64{
		"": 1, "B": 1,
		"KB": 1 << 10,
		"MB": 1 << 20,
		"GB": 1 << 30,
		"TB": 1 << 40,
	}
	bytes := int64(value * multipliers[unit])
	if bytes <= 0 {
		return 0, fmt.Errorf("size must be positive: %q", s)
	}
	return bytes, nil
}

// SplitPart describes one produced archive part.
type SplitPart struct {
	Path      string
	SizeBytes int64
	SHA256    string
}

// SplitterConfig configures a Splitter.
type SplitterConfig struct {
	// BaseOutputPath is the single-archive path the part names derive
	// from (<base>.part001.tar.gz and so on).
	BaseOutputPath string

	// MaxPartSize bounds the estimated compressed size of each part.
	MaxPartSize int64

	// CompressionLevel is the gzip level, 0-9.
	CompressionLevel int

	Logger interfaces.Logger
}

// Splitter bin-packs a scan's files into size-bounded archive parts.
// It layers on the same Scanner output as the single-archive builder;
// directories are implied by member paths rather than stored.
type Splitter struct {
	cfg SplitterConfig
	log interfaces.Logger
}

// NewSplitter validates the configuration before any I/O.
func NewSplitter(cfg SplitterConfig) (*Splitter, error) {
	if cfg.BaseOutputPath == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if cfg.MaxPartSize <= 0 {
		return nil, fmt.Errorf("max part size must be positive, got %d", cfg.MaxPartSize)
	}
	if cfg.CompressionLevel < 0 || cfg.CompressionLevel > 9 {
		return nil, fmt.Errorf("compression level must be 0-9, got %d", cfg.CompressionLevel)
	}
	return &Splitter{cfg: cfg, log: interfaces.OrNoOp(cfg.Logger)}, nil
}

type splitFile struct {
	relPath   string
	size      int64
	estimated int64
}

// Create packs the scanner's files into parts and writes one tar.gz per
// part, a part checksum file, and returns the parts with the master
// hash. A single resulting part keeps the base output name. Any write
// failure removes every part written so far.
func (sp *Splitter) Create(ctx context.Context, scanner *Scanner, archiveRoot string) ([]SplitPart, string, error) {
	if archiveRoot == "" {
		archiveRoot = filepath.Base(scanner.Root())
	}
	entries, err := scanner.Scan(ctx)
	if err != nil {
		return nil, "", err
	}

	var files []splitFile
	for _, e := range entries {
		if e.Kind != entities.KindFile {
			continue
		}
		info, err := os.Lstat(filepath.Join(scanner.Root(), filepath.FromSlash(e.RelPath)))
		if err != nil {
			sp.log.Warn("skipping unreadable entry", interfaces.F("path", e.RelPath), interfaces.F("error", err))
			continue
		}
		ext := strings.ToLower(strings.TrimPrefix(path.Ext(e.RelPath), "."))
		ratio, ok := compressionRatios[ext]
		if !ok {
			ratio = defaultCompressionRatio
		}
		files = append(files, splitFile{
			relPath:   e.RelPath,
			size:      info.Size(),
			estimated: int64(float64(info.Size()) * ratio),
		})
	}
	if len(files) == 0 {
		return nil, "", fmt.Errorf("no files to archive under %s", scanner.Root())
	}

	// Largest first packs tighter with a greedy strategy.
	sort.Slice(files, func(i, j int) bool { return files[i].size > files[j].size })

	var groups [][]splitFile
	var current []splitFile
	var currentSize int64
	for _, f := range files {
		if len(current) > 0 && currentSize+f.estimated > sp.cfg.MaxPartSize {
			groups = append(groups, current)
			current = nil
			currentSize = 0
		}
		current = append(current, f)
		currentSize += f.estimated
	}
	groups = append(groups, current)

	var parts []SplitPart
	failed := true
	defer func() {
		if failed {
			for _, p := range parts {
				os.Remove(p.Path)
			}
		}
	}()

	for i, group := range groups {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		partPath := sp.cfg.BaseOutputPath
		if len(groups) > 1 {
			partPath = partName(sp.cfg.BaseOutputPath, i+1)
		}
		part, err := sp.writePart(scanner, archiveRoot, partPath, group)
		if err != nil {
			return nil, "", err
		}
		parts = append(parts, *part)
		sp.log.Info("archive part created",
			interfaces.F("path", part.Path),
			interfaces.F("files", len(group)),
			interfaces.F("bytes", part.SizeBytes))
	}

	checksums := make([]ChecksumEntry, len(parts))
	for i, p := range parts {
		checksums[i] = ChecksumEntry{Filename: filepath.Base(p.Path), SHA256: p.SHA256}
	}
	master, err := WriteChecksumFile(sp.cfg.BaseOutputPath+".sha256", checksums)
	if err != nil {
		return nil, "", err
	}

	failed = false
	return parts, master, nil
}

// partName turns base.tar.gz into base.part001.tar.gz.
func partName(base string, n int) string {
	stem := strings.TrimSuffix(base, ".tar.gz")
	return fmt.Sprintf("%s.part%03d.tar.gz", stem, n)
}

func (sp *Splitter) writePart(scanner *Scanner, archiveRoot, partPath string, group []splitFile) (part *SplitPart, err error) {
	out, err := os.Create(partPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive part %s: %w", partPath, err)
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(partPath)
		}
	}()

	hasher := NewHashingWriter(out)
	zw, err := gzip.NewWriterLevel(hasher, sp.cfg.CompressionLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}
	tw := tar.NewWriter(zw)

	// Deterministic order within each part.
	sorted := make([]splitFile, len(group))
	copy(sorted, group)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].relPath < sorted[j].relPath })

	for _, f := range sorted {
		abs := filepath.Join(scanner.Root(), filepath.FromSlash(f.relPath))
		info, err := os.Lstat(abs)
		if err != nil {
			sp.log.Warn("skipping vanished file", interfaces.F("path", f.relPath), interfaces.F("error", err))
			continue
		}
		//nolint:gosec // G304: path comes from the scan of the source tree
		content, err := os.Open(abs)
		if err != nil {
			sp.log.Warn("skipping unreadable file", interfaces.F("path", f.relPath), interfaces.F("error", err))
			continue
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			content.Close()
			return nil, fmt.Errorf("failed to create tar header for %s: %w", f.relPath, err)
		}
		header.Name = path.Join(archiveRoot, f.relPath)
		header.Format = tar.FormatPAX
		if err := tw.WriteHeader(header); err != nil {
			content.Close()
			return nil, fmt.Errorf("failed to write tar header for %s: %w", f.relPath, err)
		}
		buf := make([]byte, digestChunkSize)
		_, err = io.CopyBuffer(tw, content, buf)
		content.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to write %s to archive part: %w", f.relPath, err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive part: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize compression: %w", err)
	}
	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("failed to close archive part: %w", err)
	}
	stat, err := os.Stat(partPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive part: %w", err)
	}
	return &SplitPart{Path: partPath, SizeBytes: stat.Size(), SHA256: hasher.Sum()}, nil
}
