package gateways

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/coldsnap/coldsnap/internal/domain/entities"
)

// ChecksumEntry is one line of a plain checksum sidecar.
type ChecksumEntry struct {
	Filename string
	SHA256   string
}

// WriteChecksumFile writes the plain checksum sidecar in the
// conventional "<hex>  <filename>" line form and returns the master
// hash. A single-part archive's master hash is its own digest; for a
// split archive the file gains a comment header and the master hash is
// the sha256 over the concatenated part digests.
func WriteChecksumFile(path string, parts []ChecksumEntry) (string, error) {
	if len(parts) == 0 {
		return "", fmt.Errorf("no checksum entries to write")
	}
	for _, p := range parts {
		if _, err := entities.NormalizeSHA256(p.SHA256); err != nil {
			return "", fmt.Errorf("%s: %w", p.Filename, err)
		}
	}

	var b strings.Builder
	var master string
	if len(parts) == 1 {
		fmt.Fprintf(&b, "%s  %s\n", parts[0].SHA256, parts[0].Filename)
		master = parts[0].SHA256
	} else {
		fmt.Fprintf(&b, "# Split archive SHA256 checksums\n")
		fmt.Fprintf(&b, "# Created: %s\n", time.Now().UTC().Format(time.RFC3339))
		fmt.Fprintf(&b, "# Parts: %d\n\n", len(parts))
		h := sha256.New()
		for _, p := range parts {
			fmt.Fprintf(&b, "%s  %s\n", p.SHA256, p.Filename)
			h.Write([]byte(p.SHA256))
		}
		master = hex.EncodeToString(h.Sum(nil))
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("failed to write checksum file: %w", err)
	}
	return master, nil
}

// ReadChecksumFile parses a checksum sidecar, skipping comment and blank
// lines.
func ReadChecksumFile(path string) ([]ChecksumEntry, error) {
	//nolint:gosec // G304: sidecar path derives from the archive path
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checksum file: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer f.Close()

	var entries []ChecksumEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("malformed checksum line in %s: %q", path, line)
		}
		digest, err := entities.NormalizeSHA256(fields[0])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		entries = append(entries, ChecksumEntry{Filename: fields[1], SHA256: digest})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read checksum file: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("checksum file %s contains no entries", path)
	}
	return entries, nil
}
