package gateways

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// walkTarGz streams a tar.gz archive once, invoking fn per member. The
// context is checked between entries, so long passes stay cancellable.
func walkTarGz(ctx context.Context, archivePath string, fn func(*tar.Header, io.Reader) error) error {
	//nolint:gosec // G304: archive path is caller-provided for inspection
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("archive is not valid gzip: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("corrupt tar stream: %w", err)
		}
		if err := fn(header, tr); err != nil {
			return err
		}
	}
}

// readArchiveMember returns the raw bytes of one metadata member.
func readArchiveMember(ctx context.Context, archivePath, name string) ([]byte, error) {
	target := MetadataDirName + "/" + name
	var data []byte
	found := false
	err := walkTarGz(ctx, archivePath, func(header *tar.Header, body io.Reader) error {
		if found || strings.TrimPrefix(header.Name, "./") != target {
			return nil
		}
		found = true
		var err error
		data, err = io.ReadAll(body)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("archive member %s not found", target)
	}
	return data, nil
}

// memberRelPath strips the archive-root prefix from a member name and
// reports whether the member belongs to the internal metadata directory.
func memberRelPath(name string) (rel string, internal bool) {
	name = strings.TrimPrefix(name, "./")
	parts := strings.SplitN(name, "/", 2)
	if parts[0] == MetadataDirName {
		return "", true
	}
	if len(parts) == 1 {
		return parts[0], false
	}
	return parts[1], false
}
