package gateways

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"

	"github.com/klauspost/compress/gzip"

	"github.com/coldsnap/coldsnap/internal/domain/entities"
)

// Archive-internal metadata names. Side-files are appended under
// MetadataDirName inside every archive that requests them.
const (
	MetadataDirName  = "COLDSNAP"
	FileListName     = "FILELIST.csv.gz"
	ManifestFileName = "MANIFEST.json"
)

// fileListColumns is the fixed column order of the file listing. The
// order is part of the on-disk format and never changes within a schema
// version.
var fileListColumns = []string{
	"relpath",
	"type",
	"size_bytes",
	"mode_octal",
	"uid",
	"gid",
	"mtime_utc",
	"sha256",
	"link_target",
	"is_executable",
	"ext",
}

// EncodeFileList serializes records as the compressed tabular file
// listing and returns the compressed bytes together with their sha256.
// Rows are emitted in lexicographic path order regardless of input
// order, and the gzip header carries no timestamp, so identical records
// always produce identical bytes and an identical digest.
func EncodeFileList(records []entities.FileRecord) ([]byte, string, error) {
	sorted := make([]entities.FileRecord, len(records))
	copy(sorted, records)
	entities.SortRecords(sorted)

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create file listing compressor: %w", err)
	}
	cw := csv.NewWriter(zw)

	if err := cw.Write(fileListColumns); err != nil {
		return nil, "", fmt.Errorf("failed to write file listing header: %w", err)
	}
	for i := range sorted {
		rec := &sorted[i]
		if err := rec.Validate(); err != nil {
			return nil, "", fmt.Errorf("invalid file record: %w", err)
		}
		if err := cw.Write(recordRow(rec)); err != nil {
			return nil, "", fmt.Errorf("failed to write row for %s: %w", rec.Path, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, "", fmt.Errorf("failed to write file listing: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finalize file listing: %w", err)
	}

	digest := sha256.Sum256(buf.Bytes())
	return buf.Bytes(), hex.EncodeToString(digest[:]), nil
}

func recordRow(rec *entities.FileRecord) []string {
	size := ""
	if rec.Size != nil {
		size = strconv.FormatInt(*rec.Size, 10)
	}
	exec := "0"
	if rec.IsExecutable {
		exec = "1"
	}
	return []string{
		rec.Path,
		string(rec.Kind),
		size,
		rec.Mode,
		strconv.Itoa(rec.UID),
		strconv.Itoa(rec.GID),
		rec.MTimeUTC,
		rec.SHA256,
		rec.LinkTarget,
		exec,
		rec.Ext,
	}
}

// DecodeFileList reads a compressed file listing back into records,
// reproducing every field with its original type: integer sizes, nil
// size for directories, boolean executable flag.
func DecodeFileList(r io.Reader) ([]entities.FileRecord, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("file listing is not valid gzip: %w", err)
	}
	defer zr.Close()

	cr := csv.NewReader(zr)
	cr.FieldsPerRecord = len(fileListColumns)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read file listing header: %w", err)
	}
	for i, col := range fileListColumns {
		if header[i] != col {
			return nil, fmt.Errorf("unexpected file listing column %d: got %q, want %q", i, header[i], col)
		}
	}

	var records []entities.FileRecord
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read file listing row: %w", err)
		}
		rec, err := rowRecord(row)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

func rowRecord(row []string) (*entities.FileRecord, error) {
	rec := &entities.FileRecord{
		Path:         row[0],
		Kind:         entities.EntryKind(row[1]),
		Mode:         row[3],
		MTimeUTC:     row[6],
		SHA256:       row[7],
		LinkTarget:   row[8],
		IsExecutable: row[9] == "1",
		Ext:          row[10],
	}
	if row[2] != "" {
		size, err := strconv.ParseInt(row[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid size %q: %w", rec.Path, row[2], err)
		}
		rec.Size = &size
	}
	var err error
	if rec.UID, err = strconv.Atoi(row[4]); err != nil {
		return nil, fmt.Errorf("%s: invalid uid %q: %w", rec.Path, row[4], err)
	}
	if rec.GID, err = strconv.Atoi(row[5]); err != nil {
		return nil, fmt.Errorf("%s: invalid gid %q: %w", rec.Path, row[5], err)
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}
