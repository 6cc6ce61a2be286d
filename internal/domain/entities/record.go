// Package entities defines core domain models and data structures.
package entities

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	sha256Pattern = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)
	modePattern   = regexp.MustCompile(`^[0-7]{3,4}$`)
)

// FileRecord is the canonical per-entry metadata captured at archive time.
// One record corresponds to one row of the file listing.
type FileRecord struct {
	// Path is the forward-slash path relative to the source root. Never
	// absolute.
	Path string `json:"path" yaml:"path"`

	// Kind is the entry type: file, dir or symlink.
	Kind EntryKind `json:"type" yaml:"type"`

	// Size is the size in bytes. Nil for directories.
	Size *int64 `json:"size,omitempty" yaml:"size,omitempty"`

	// Mode is the permission mode as a zero-padded 4-digit octal string.
	Mode string `json:"mode" yaml:"mode"`

	// UID and GID are the owner and group ids at capture time.
	UID int `json:"uid" yaml:"uid"`
	GID int `json:"gid" yaml:"gid"`

	// MTimeUTC is the last modification time in ISO-8601 UTC.
	MTimeUTC string `json:"mtime_utc" yaml:"mtime_utc"`

	// SHA256 is the lowercase hex content digest. Empty for directories
	// and symlinks, and for files whose content could not be read.
	SHA256 string `json:"sha256,omitempty" yaml:"sha256,omitempty"`

	// LinkTarget is the symlink target. Set for symlinks only.
	LinkTarget string `json:"link_target,omitempty" yaml:"link_target,omitempty"`

	// IsExecutable reports whether any execute bit is set.
	IsExecutable bool `json:"is_executable" yaml:"is_executable"`

	// Ext is the lowercase file extension without the leading dot.
	Ext string `json:"ext,omitempty" yaml:"ext,omitempty"`
}

// NormalizeMode validates a permission mode string and normalizes it to a
// zero-padded 4-digit octal form. It accepts plain octal ("644", "0644")
// and the "0o644" prefixed variant.
func NormalizeMode(mode string) (string, error) {
	m := strings.TrimPrefix(mode, "0o")
	if !modePattern.MatchString(m) {
		return "", fmt.Errorf("mode must be a 3-4 digit octal string (e.g. 0644): %q", mode)
	}
	for len(m) < 4 {
		m = "0" + m
	}
	return m, nil
}

// NormalizeSHA256 validates a sha256 hex digest and normalizes it to
// lowercase. The empty string passes through unchanged.
func NormalizeSHA256(digest string) (string, error) {
	if digest == "" {
		return "", nil
	}
	if !sha256Pattern.MatchString(digest) {
		return "", fmt.Errorf("sha256 must be 64 hexadecimal characters, got %d", len(digest))
	}
	return strings.ToLower(digest), nil
}

// Validate checks the record's invariants, normalizing the mode and digest
// fields in place. It is called at construction and again before
// serialization.
func (r *FileRecord) Validate() error {
	if r.Path == "" {
		return fmt.Errorf("file record has empty path")
	}
	if strings.HasPrefix(r.Path, "/") {
		return fmt.Errorf("path must be relative, not absolute: %s", r.Path)
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("%s: unknown entry kind %q", r.Path, r.Kind)
	}
	mode, err := NormalizeMode(r.Mode)
	if err != nil {
		return fmt.Errorf("%s: %w", r.Path, err)
	}
	r.Mode = mode
	digest, err := NormalizeSHA256(r.SHA256)
	if err != nil {
		return fmt.Errorf("%s: %w", r.Path, err)
	}
	r.SHA256 = digest
	return nil
}

// SortRecords orders records lexicographically by path, the canonical
// file listing order.
func SortRecords(records []FileRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Path < records[j].Path
	})
}
