// Package pack defines the interfaces chef consumes to read and write
// pack archives. The production archive format lives in its own toolchain;
// chef only depends on these interfaces. A tar-backed implementation is
// provided for builders and tests.
package pack

import (
	"io"
	"time"
)

// Entry describes one member of a pack archive.
type Entry struct {
	Path    string
	Size    int64
	Mode    uint32
	IsDir   bool
	ModTime time.Time
}

// Reader is a read-only view of a pack archive.
type Reader interface {
	// List returns every entry in the archive, directories included,
	// in archive order.
	List() ([]Entry, error)

	// Stat returns the entry for the given archive path.
	Stat(path string) (Entry, error)

	// Open returns the contents of the given file entry.
	Open(path string) (io.ReadCloser, error)

	Close() error
}

// Writer builds a pack archive.
type Writer interface {
	// Add appends a file entry with the given mode and contents.
	Add(path string, mode uint32, size int64, r io.Reader) error

	// AddDir appends a directory entry.
	AddDir(path string, mode uint32) error

	Close() error
}
