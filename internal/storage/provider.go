// Package storage defines the output-tree file-system abstraction.
package storage

// Entry is metadata for one file in the output tree.
type Entry struct {
	Path     string `json:"path"` // slash-separated, relative to the root
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// Provider is the interface for output-tree file operations. Paths are
// slash-separated and relative to the provider root.
type Provider interface {
	// Root returns the absolute root directory.
	Root() string
	// List returns metadata for every regular file under dir, sorted by path.
	List(dir string) ([]Entry, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically replaces the file at path, creating parent directories.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// Exists reports whether a file or directory is present at path.
	Exists(path string) bool
}
