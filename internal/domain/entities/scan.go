package entities

// EntryKind classifies a filesystem entry encountered during a scan.
type EntryKind string

// Entry kinds recorded in file listings and manifests.
const (
	KindFile    EntryKind = "file"
	KindDir     EntryKind = "dir"
	KindSymlink EntryKind = "symlink"
)

// Valid reports whether k is one of the known entry kinds.
func (k EntryKind) Valid() bool {
	switch k {
	case KindFile, KindDir, KindSymlink:
		return true
	}
	return false
}

// ScanEntry is a single entry produced by a directory scan. Entries are
// transient: they exist only while a scan is being consumed and are never
// persisted.
type ScanEntry struct {
	// RelPath is the forward-slash path relative to the scan root.
	RelPath string

	// Kind is the entry classification.
	Kind EntryKind
}
