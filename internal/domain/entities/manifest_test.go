package entities

import (
	"strings"
	"testing"
)

func sampleManifest() *ArchiveManifest {
	size := int64(1024)
	digest := strings.Repeat("ab", 32)
	dirty := false

	return &ArchiveManifest{
		ManifestVersion: ManifestVersion,
		CreatedUTC:      "2026-08-12T09:30:00Z",
		ID:              "coldsnap_2026-08-12_09-30-00_a1b2c3",
		Source: SourceMetadata{
			Root:          "/data/run-42",
			Normalization: DefaultNormalization(true),
		},
		Event: EventMetadata{
			Type:  "experiment",
			Name:  "run-42",
			Notes: []string{"final calibration pass"},
		},
		Environment: EnvironmentMetadata{
			System: SystemMetadata{OS: "Linux", OSVersion: "6.8.0", Hostname: "labhost"},
			Tools:  ToolsMetadata{ColdsnapVersion: "1.0.0", GoVersion: "go1.24.0"},
		},
		Git: GitMetadata{
			Present: true,
			Commit:  "0123456789abcdef0123456789abcdef01234567",
			Branch:  "main",
			Dirty:   &dirty,
		},
		Archive: ArchiveMetadata{
			Format:      ArchiveFormat,
			Filename:    "run-42.tar.gz",
			SizeBytes:   &size,
			SHA256:      &digest,
			MemberCount: MemberCount{Files: 10, Dirs: 2, Symlinks: 1},
		},
		Verification: VerificationMetadata{
			PerFileHash: PerFileHashMetadata{
				Algorithm:      "sha256",
				FileListSHA256: strings.Repeat("cd", 32),
			},
		},
	}
}

func TestManifestRoundTrips(t *testing.T) {
	original := sampleManifest()

	codecs := []struct {
		name   string
		encode func(*ArchiveManifest) ([]byte, error)
		decode func([]byte) (*ArchiveManifest, error)
	}{
		{"json", (*ArchiveManifest).EncodeJSON, DecodeJSON},
		{"yaml", (*ArchiveManifest).EncodeYAML, DecodeYAML},
		{"cbor", (*ArchiveManifest).EncodeCBOR, DecodeCBOR},
	}

	for _, c := range codecs {
		t.Run(c.name, func(t *testing.T) {
			data, err := c.encode(original)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			decoded, err := c.decode(data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}

			if decoded.ID != original.ID {
				t.Errorf("ID = %q, want %q", decoded.ID, original.ID)
			}
			if decoded.Archive.SizeBytes == nil || *decoded.Archive.SizeBytes != 1024 {
				t.Errorf("Archive.SizeBytes not preserved: %v", decoded.Archive.SizeBytes)
			}
			if decoded.Git.Dirty == nil || *decoded.Git.Dirty {
				t.Errorf("Git.Dirty not preserved: %v", decoded.Git.Dirty)
			}
			if decoded.Archive.MemberCount != original.Archive.MemberCount {
				t.Errorf("MemberCount = %+v, want %+v", decoded.Archive.MemberCount, original.Archive.MemberCount)
			}
		})
	}
}

func TestManifestEmbeddedRendering(t *testing.T) {
	m := sampleManifest()
	embedded := m.Embedded()

	if embedded.Archive.SizeBytes != nil || embedded.Archive.SHA256 != nil {
		t.Error("embedded rendering must clear archive size and digest")
	}
	if m.Archive.SizeBytes == nil || m.Archive.SHA256 == nil {
		t.Error("Embedded must not mutate the original")
	}

	data, err := embedded.EncodeJSON()
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}
	// Cleared fields must serialize as explicit nulls, not be omitted.
	if !strings.Contains(string(data), `"size_bytes": null`) {
		t.Error("embedded size_bytes should serialize as null")
	}
	if !strings.Contains(string(data), `"sha256": null`) {
		t.Error("embedded sha256 should serialize as null")
	}
	if !strings.HasSuffix(string(data), "\n") {
		t.Error("JSON rendering should end with a newline")
	}
}

func TestDecodeJSONToleratesUnknownFields(t *testing.T) {
	data, err := sampleManifest().EncodeJSON()
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}
	patched := strings.Replace(string(data), `"manifest_version"`,
		`"future_field": {"nested": true}, "manifest_version"`, 1)

	if _, err := DecodeJSON([]byte(patched)); err != nil {
		t.Errorf("unknown fields should be tolerated: %v", err)
	}
}

func TestManifestValidate(t *testing.T) {
	t.Run("digest normalized", func(t *testing.T) {
		m := sampleManifest()
		upper := strings.Repeat("AB", 32)
		m.Archive.SHA256 = &upper
		if err := m.Validate(); err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if *m.Archive.SHA256 != strings.Repeat("ab", 32) {
			t.Errorf("archive digest not lowercased: %q", *m.Archive.SHA256)
		}
	})

	t.Run("missing version", func(t *testing.T) {
		m := sampleManifest()
		m.ManifestVersion = ""
		if err := m.Validate(); err == nil {
			t.Error("expected error for missing manifest_version")
		}
	})

	t.Run("missing filename", func(t *testing.T) {
		m := sampleManifest()
		m.Archive.Filename = ""
		if err := m.Validate(); err == nil {
			t.Error("expected error for missing archive.filename")
		}
	})

	t.Run("bad embedded record", func(t *testing.T) {
		m := sampleManifest()
		m.Files = []FileRecord{{Path: "/abs", Kind: KindFile, Mode: "0644"}}
		if err := m.Validate(); err == nil {
			t.Error("expected error for absolute record path")
		}
	})
}
