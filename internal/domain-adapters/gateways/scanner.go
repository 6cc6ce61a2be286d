// Package gateways implements the archival pipeline: scanning, archive
// construction, file listing serialization and verification.
package gateways

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/coldsnap/coldsnap/internal/domain/entities"
	"github.com/coldsnap/coldsnap/internal/domain/interfaces"
)

// vcsDirNames are version-control metadata directories excluded by
// default. Excluding the directory prunes every descendant.
var vcsDirNames = map[string]bool{
	".git": true,
	".hg":  true,
	".svn": true,
	".bzr": true,
	"CVS":  true,
}

// digestChunkSize is the read size for streaming content digests.
const digestChunkSize = 64 * 1024

// ScannerConfig configures a Scanner.
type ScannerConfig struct {
	// Root is the directory to scan. Must exist and be a directory.
	Root string

	// ExcludePatterns are glob patterns matched against both the entry's
	// base name and its path relative to Root.
	ExcludePatterns []string

	// ExcludeVCS excludes version-control metadata directories.
	ExcludeVCS bool

	// RespectGitignore loads glob patterns from the root .gitignore.
	// Support is deliberately partial: negation ("!pattern") and
	// recursive globs ("**") are not implemented.
	RespectGitignore bool

	Logger interfaces.Logger
}

// Scanner walks a directory tree, applies exclusion rules and yields
// entries in a deterministic total order. A Scanner holds no shared
// state; independent scans may run concurrently.
type Scanner struct {
	root    string
	cfg     ScannerConfig
	log     interfaces.Logger
	ignored []string
	loaded  bool
}

// NewScanner validates the configuration and returns a Scanner. The root
// is resolved to an absolute path; a missing or non-directory root and
// malformed exclusion patterns are rejected here, before any traversal.
func NewScanner(cfg ScannerConfig) (*Scanner, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve source root %q: %w", cfg.Root, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("source root does not exist: %s", root)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source root is not a directory: %s", root)
	}
	for _, p := range cfg.ExcludePatterns {
		if _, err := path.Match(p, "probe"); err != nil {
			return nil, fmt.Errorf("malformed exclude pattern %q: %w", p, err)
		}
	}
	return &Scanner{
		root: root,
		cfg:  cfg,
		log:  interfaces.OrNoOp(cfg.Logger),
	}, nil
}

// Root returns the resolved absolute source root.
func (s *Scanner) Root() string { return s.root }

// ExcludeVCS reports whether VCS directories are excluded.
func (s *Scanner) ExcludeVCS() bool { return s.cfg.ExcludeVCS }

// ignorePatterns loads the root .gitignore once, lazily. Comment and
// blank lines are skipped; read errors leave the list empty.
func (s *Scanner) ignorePatterns() []string {
	if s.loaded || !s.cfg.RespectGitignore {
		return s.ignored
	}
	s.loaded = true
	f, err := os.Open(filepath.Join(s.root, ".gitignore"))
	if err != nil {
		return nil
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		s.ignored = append(s.ignored, line)
	}
	return s.ignored
}

// matchAny matches the entry's base name and relative path against each
// pattern. Matching follows path.Match: a "*" does not cross path
// separators, which is why both forms are tried.
func matchAny(patterns []string, name, relPath string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, relPath); ok {
			return true
		}
		if ok, _ := path.Match(p, name); ok {
			return true
		}
		// Directory-style ignore patterns ("build/") match the bare name.
		if trimmed := strings.TrimSuffix(p, "/"); trimmed != p {
			if ok, _ := path.Match(trimmed, name); ok {
				return true
			}
		}
	}
	return false
}

// excluded applies the exclusion rules in priority order: VCS directory
// names, caller patterns, then ignore-file patterns.
func (s *Scanner) excluded(name, relPath string, isDir bool) bool {
	if isDir && s.cfg.ExcludeVCS && vcsDirNames[name] {
		return true
	}
	if matchAny(s.cfg.ExcludePatterns, name, relPath) {
		return true
	}
	return matchAny(s.ignorePatterns(), name, relPath)
}

// walk performs the depth-first traversal, invoking fn for every
// non-excluded entry. Child names come from os.ReadDir, which sorts
// them, so both exclusion and recursion are independent of filesystem
// iteration order. Excluded directories are pruned before descent.
// Unreadable subdirectories are logged and skipped, never fatal.
func (s *Scanner) walk(ctx context.Context, rel string, fn func(entities.ScanEntry) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Join(s.root, filepath.FromSlash(rel))
	children, err := os.ReadDir(dir)
	if err != nil {
		if rel == "" {
			return fmt.Errorf("failed to read source root: %w", err)
		}
		s.log.Warn("skipping unreadable directory", interfaces.F("path", rel), interfaces.F("error", err))
		return nil
	}
	for _, child := range children {
		childRel := path.Join(rel, child.Name())
		kind := classify(child.Type())
		if s.excluded(child.Name(), childRel, kind == entities.KindDir) {
			continue
		}
		if err := fn(entities.ScanEntry{RelPath: childRel, Kind: kind}); err != nil {
			return err
		}
		if kind == entities.KindDir {
			if err := s.walk(ctx, childRel, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// classify maps a directory entry type onto an entry kind. Symlinks are
// leaf entries and are never followed, so broken links and link cycles
// cannot affect a scan.
func classify(mode fs.FileMode) entities.EntryKind {
	switch {
	case mode&fs.ModeSymlink != 0:
		return entities.KindSymlink
	case mode.IsDir():
		return entities.KindDir
	default:
		return entities.KindFile
	}
}

// Scan traverses the tree and returns every non-excluded entry sorted
// lexicographically by relative path. The sort is applied to the
// complete result set, so ordering never depends on traversal order.
func (s *Scanner) Scan(ctx context.Context) ([]entities.ScanEntry, error) {
	var entries []entities.ScanEntry
	err := s.walk(ctx, "", func(e entities.ScanEntry) error {
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].RelPath < entries[j].RelPath
	})
	return entries, nil
}

// ScanCounts tallies scan entries by kind.
type ScanCounts struct {
	Files    int
	Dirs     int
	Symlinks int
	Total    int
}

// Count tallies entries by kind without materializing the entry list.
func (s *Scanner) Count(ctx context.Context) (ScanCounts, error) {
	var c ScanCounts
	err := s.walk(ctx, "", func(e entities.ScanEntry) error {
		switch e.Kind {
		case entities.KindFile:
			c.Files++
		case entities.KindDir:
			c.Dirs++
		case entities.KindSymlink:
			c.Symlinks++
		}
		c.Total++
		return nil
	})
	if err != nil {
		return ScanCounts{}, err
	}
	return c, nil
}

// EstimateSize sums the sizes of regular files, excluding symlinks and
// directories. Entries that cannot be stat'd are skipped.
func (s *Scanner) EstimateSize(ctx context.Context) (int64, error) {
	var total int64
	err := s.walk(ctx, "", func(e entities.ScanEntry) error {
		if e.Kind != entities.KindFile {
			return nil
		}
		info, err := os.Lstat(filepath.Join(s.root, filepath.FromSlash(e.RelPath)))
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// Record captures the canonical metadata for one path under the root,
// including a streamed content digest for regular files. A digest read
// failure is reported through the logger and leaves the digest empty; it
// never fails the call.
func (s *Scanner) Record(relPath string) (*entities.FileRecord, error) {
	abs := filepath.Join(s.root, filepath.FromSlash(relPath))
	info, err := os.Lstat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", relPath, err)
	}
	rec := s.statRecord(relPath, info)
	if rec.Kind == entities.KindFile {
		digest, err := DigestFile(abs)
		if err != nil {
			s.log.Warn("failed to hash file content", interfaces.F("path", relPath), interfaces.F("error", err))
		} else {
			rec.SHA256 = digest
		}
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

// statRecord assembles a FileRecord from stat data alone, leaving the
// content digest empty. The archive builder uses this with a digest it
// computed in-stream so no file is read twice during a build.
func (s *Scanner) statRecord(relPath string, info fs.FileInfo) *entities.FileRecord {
	kind := classify(info.Mode())
	rec := &entities.FileRecord{
		Path:     relPath,
		Kind:     kind,
		Mode:     octalMode(info.Mode()),
		MTimeUTC: info.ModTime().UTC().Format(time.RFC3339),
	}
	rec.UID, rec.GID = ownerIDs(info)
	if kind != entities.KindDir {
		size := info.Size()
		rec.Size = &size
		rec.Ext = strings.ToLower(strings.TrimPrefix(path.Ext(relPath), "."))
	}
	if kind == entities.KindFile {
		rec.IsExecutable = info.Mode().Perm()&0o111 != 0
	}
	if kind == entities.KindSymlink {
		if target, err := os.Readlink(filepath.Join(s.root, filepath.FromSlash(relPath))); err == nil {
			rec.LinkTarget = target
		}
	}
	return rec
}

// octalMode renders the permission and setuid/setgid/sticky bits as a
// 4-digit octal string.
func octalMode(mode fs.FileMode) string {
	bits := uint32(mode.Perm())
	if mode&fs.ModeSetuid != 0 {
		bits |= 0o4000
	}
	if mode&fs.ModeSetgid != 0 {
		bits |= 0o2000
	}
	if mode&fs.ModeSticky != 0 {
		bits |= 0o1000
	}
	return fmt.Sprintf("%04o", bits)
}

// DigestFile computes the sha256 of a file's content, reading in fixed
// 64 KiB chunks so arbitrarily large files never load into memory.
func DigestFile(path string) (string, error) {
	//nolint:gosec // G304: path comes from a scan of the caller's tree
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, digestChunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
