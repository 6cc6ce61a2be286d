package gateways

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestHashingWriter(t *testing.T) {
	var sink bytes.Buffer
	hw := NewHashingWriter(&sink)

	for _, chunk := range []string{"hello ", "cold ", "storage"} {
		n, err := hw.Write([]byte(chunk))
		if err != nil {
			t.Fatalf("Write: %v", err)
		}
		if n != len(chunk) {
			t.Fatalf("short write: %d of %d", n, len(chunk))
		}
	}

	want := sha256.Sum256([]byte("hello cold storage"))
	if got := hw.Sum(); got != hex.EncodeToString(want[:]) {
		t.Errorf("Sum = %s", got)
	}
	if sink.String() != "hello cold storage" {
		t.Errorf("sink = %q", sink.String())
	}

	// The digest must cover the written bytes regardless of chunking.
	single := NewHashingWriter(&bytes.Buffer{})
	if _, err := single.Write([]byte("hello cold storage")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if single.Sum() != hw.Sum() {
		t.Error("digest depends on write chunking")
	}
}
