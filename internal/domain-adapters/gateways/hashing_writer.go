package gateways

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// HashingWriter forwards every byte to the underlying writer while
// feeding a running sha256. It adds no buffering of its own. Interposed
// between compressor and file it digests the final archive bytes with
// no re-read.
type HashingWriter struct {
	w io.Writer
	h hash.Hash
}

// NewHashingWriter wraps w with a sha256 write-through digest.
func NewHashingWriter(w io.Writer) *HashingWriter {
	return &HashingWriter{w: w, h: sha256.New()}
}

// Write forwards to the underlying writer and feeds the digest with
// exactly the bytes the sink accepted.
func (hw *HashingWriter) Write(p []byte) (int, error) {
	n, err := hw.w.Write(p)
	hw.h.Write(p[:n])
	return n, err
}

// Sum returns the lowercase hex digest of everything written so far.
func (hw *HashingWriter) Sum() string {
	return hex.EncodeToString(hw.h.Sum(nil))
}
