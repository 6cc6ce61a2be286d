package entities

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"
)

// ManifestVersion is the schema version written by this tool. Readers
// accept any version and warn on versions they do not recognize.
const ManifestVersion = "1.0"

// ArchiveFormat identifies the container format of produced archives.
const ArchiveFormat = "tar+gzip"

// SourceNormalization records the normalization parameters applied while
// scanning the source tree.
type SourceNormalization struct {
	PathSeparator string `json:"path_separator" yaml:"path_separator"`
	Ordering      string `json:"ordering" yaml:"ordering"`
	ExcludeVCS    bool   `json:"exclude_vcs" yaml:"exclude_vcs"`
}

// DefaultNormalization returns the normalization settings this tool
// always applies.
func DefaultNormalization(excludeVCS bool) SourceNormalization {
	return SourceNormalization{
		PathSeparator: "/",
		Ordering:      "lexicographic",
		ExcludeVCS:    excludeVCS,
	}
}

// SourceMetadata describes the archived source tree.
type SourceMetadata struct {
	Root          string              `json:"root" yaml:"root"`
	Normalization SourceNormalization `json:"normalization" yaml:"normalization"`
}

// EventMetadata is free-form context for why the archive was made.
type EventMetadata struct {
	Type     string   `json:"type,omitempty" yaml:"type,omitempty"`
	Name     string   `json:"name,omitempty" yaml:"name,omitempty"`
	Notes    []string `json:"notes,omitempty" yaml:"notes,omitempty"`
	Contacts []string `json:"contacts,omitempty" yaml:"contacts,omitempty"`
}

// SystemMetadata is a snapshot of the host the archive was built on.
type SystemMetadata struct {
	OS        string `json:"os" yaml:"os"`
	OSVersion string `json:"os_version" yaml:"os_version"`
	Hostname  string `json:"hostname" yaml:"hostname"`
}

// ToolsMetadata records the tool versions used for the build.
type ToolsMetadata struct {
	ColdsnapVersion string `json:"coldsnap_version" yaml:"coldsnap_version"`
	GoVersion       string `json:"go_version" yaml:"go_version"`
}

// EnvironmentMetadata combines host and tool snapshots.
type EnvironmentMetadata struct {
	System SystemMetadata `json:"system" yaml:"system"`
	Tools  ToolsMetadata  `json:"tools" yaml:"tools"`
}

// GitMetadata is a snapshot of the source tree's git state. Every field
// except Present is optional; a tree that is not a repository is recorded
// as {present: false}.
type GitMetadata struct {
	Present   bool   `json:"present" yaml:"present"`
	Commit    string `json:"commit,omitempty" yaml:"commit,omitempty"`
	Branch    string `json:"branch,omitempty" yaml:"branch,omitempty"`
	Tag       string `json:"tag,omitempty" yaml:"tag,omitempty"`
	Dirty     *bool  `json:"dirty,omitempty" yaml:"dirty,omitempty"`
	RemoteURL string `json:"remote_origin_url,omitempty" yaml:"remote_origin_url,omitempty"`
}

// MemberCount tallies archive members by kind.
type MemberCount struct {
	Files    int `json:"files" yaml:"files"`
	Dirs     int `json:"dirs" yaml:"dirs"`
	Symlinks int `json:"symlinks" yaml:"symlinks"`
}

// ArchiveMetadata describes the archive file itself. SizeBytes and SHA256
// are pointers because the embedded manifest rendering is written before
// the archive is sealed, when neither value is knowable: there they are
// serialized as explicit nulls rather than omitted.
type ArchiveMetadata struct {
	Format      string      `json:"format" yaml:"format"`
	Filename    string      `json:"filename" yaml:"filename"`
	SizeBytes   *int64      `json:"size_bytes" yaml:"size_bytes"`
	SHA256      *string     `json:"sha256" yaml:"sha256"`
	MemberCount MemberCount `json:"member_count" yaml:"member_count"`
}

// PerFileHashMetadata carries the parameters needed to verify the file
// listing and its rows.
type PerFileHashMetadata struct {
	Algorithm      string `json:"algorithm" yaml:"algorithm"`
	FileListSHA256 string `json:"filelist_sha256,omitempty" yaml:"filelist_sha256,omitempty"`
}

// VerificationMetadata groups verification parameters.
type VerificationMetadata struct {
	PerFileHash PerFileHashMetadata `json:"per_file_hash" yaml:"per_file_hash"`
}

// ArchiveManifest is the structured document describing one archive.
//
// The same struct serves both renderings: the embedded copy written
// inside the archive (SizeBytes and SHA256 null) and the sidecar copy
// written beside it (every field populated). Embedded returns the former
// from the latter.
type ArchiveManifest struct {
	ManifestVersion string `json:"manifest_version" yaml:"manifest_version"`
	CreatedUTC      string `json:"created_utc" yaml:"created_utc"`
	ID              string `json:"id" yaml:"id"`

	Source       SourceMetadata       `json:"source" yaml:"source"`
	Event        EventMetadata        `json:"event" yaml:"event"`
	Environment  EnvironmentMetadata  `json:"environment" yaml:"environment"`
	Git          GitMetadata          `json:"git" yaml:"git"`
	Archive      ArchiveMetadata      `json:"archive" yaml:"archive"`
	Verification VerificationMetadata `json:"verification" yaml:"verification"`

	// Files optionally embeds the per-entry records. Usually empty: the
	// full listing lives in the compressed file listing instead.
	Files []FileRecord `json:"files,omitempty" yaml:"files,omitempty"`
}

// Embedded returns a copy of the manifest with the two self-referential
// archive fields cleared, suitable for writing inside the archive before
// it is sealed. All other fields are identical to the sidecar rendering.
func (m ArchiveManifest) Embedded() ArchiveManifest {
	m.Archive.SizeBytes = nil
	m.Archive.SHA256 = nil
	return m
}

// Validate checks manifest invariants, normalizing digest fields in place.
func (m *ArchiveManifest) Validate() error {
	if m.ManifestVersion == "" {
		return fmt.Errorf("manifest_version is required")
	}
	if m.Archive.Filename == "" {
		return fmt.Errorf("archive.filename is required")
	}
	if m.Archive.SHA256 != nil {
		digest, err := NormalizeSHA256(*m.Archive.SHA256)
		if err != nil {
			return fmt.Errorf("archive.sha256: %w", err)
		}
		m.Archive.SHA256 = &digest
	}
	if m.Verification.PerFileHash.FileListSHA256 != "" {
		digest, err := NormalizeSHA256(m.Verification.PerFileHash.FileListSHA256)
		if err != nil {
			return fmt.Errorf("verification.per_file_hash.filelist_sha256: %w", err)
		}
		m.Verification.PerFileHash.FileListSHA256 = digest
	}
	for i := range m.Files {
		if err := m.Files[i].Validate(); err != nil {
			return fmt.Errorf("files[%d]: %w", i, err)
		}
	}
	return nil
}

// EncodeJSON serializes the manifest as indented JSON with a trailing
// newline.
func (m *ArchiveManifest) EncodeJSON() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeJSON parses a manifest from JSON. Unknown fields are tolerated
// for forward compatibility.
func DecodeJSON(data []byte) (*ArchiveManifest, error) {
	var m ArchiveManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid manifest JSON: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}

// EncodeYAML serializes the manifest as YAML, the human-editable
// rendering.
func (m *ArchiveManifest) EncodeYAML() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeYAML parses a manifest from YAML.
func DecodeYAML(data []byte) (*ArchiveManifest, error) {
	var m ArchiveManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid manifest YAML: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}

// EncodeCBOR serializes the manifest in the compact machine rendering.
func (m *ArchiveManifest) EncodeCBOR() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	data, err := cbor.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return data, nil
}

// DecodeCBOR parses a manifest from its compact rendering.
func DecodeCBOR(data []byte) (*ArchiveManifest, error) {
	var m ArchiveManifest
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid manifest CBOR: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}
