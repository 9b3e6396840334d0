// Package packfs defines the file operations the pack storage engine needs
// and ships three backends: the local filesystem, an in-memory tree, and a
// zstd wrapper that compresses whatever another backend stores.
//
// The engine only ever talks to an FS, so an embedding environment can
// provide its own implementation without touching the storage code.
package packfs

import "time"

// FileMeta describes a file or directory.
type FileMeta struct {
	Size    int64
	ModTime time.Time
	IsFile  bool
	IsDir   bool
}

// FS is the filesystem contract consumed by the storage engine.
//
// Paths are absolute and slash-separated for the memory backend and
// OS-native for the native backend. Implementations must be safe for
// concurrent use; readers and writers need not be.
type FS interface {
	// Exists reports whether a file or directory exists at path.
	Exists(path string) (bool, error)

	// EnsureDir creates path and any missing parents. It succeeds if the
	// directory already exists.
	EnsureDir(path string) error

	// RemoveDir removes path and everything below it.
	// A missing directory is not an error.
	RemoveDir(path string) error

	// RemoveFile removes a single file. A missing file is not an error.
	RemoveFile(path string) error

	// ReadDir returns the names of the entries directly below path.
	// No ordering is guaranteed.
	ReadDir(path string) (map[string]struct{}, error)

	// Metadata returns size, modification time and type of path.
	Metadata(path string) (FileMeta, error)

	// MoveFile renames from to to, creating the parent of to as needed.
	// It is a no-op when from does not exist.
	MoveFile(from, to string) error

	// WriteFile replaces any file at path and returns a writer for its
	// new content. Nothing is visible at path until the writer is flushed.
	WriteFile(path string) (Writer, error)

	// ReadFile opens path for streaming reads.
	ReadFile(path string) (Reader, error)
}

// Writer streams content into a file.
type Writer interface {
	// Line appends text followed by a newline.
	Line(text string) error

	// Bytes appends raw bytes.
	Bytes(data []byte) error

	// Write writes data as the complete content of the file and finalizes it.
	Write(data []byte) error

	// Flush finalizes the file. Calling Flush more than once is a no-op.
	Flush() error

	// Close releases the writer. Content that was not flushed is discarded.
	// Close after Flush is a no-op.
	Close() error
}

// Reader consumes a file front to back.
type Reader interface {
	// Line reads through the next newline and returns the text without it.
	// At end of file it returns whatever remains, possibly empty.
	Line() (string, error)

	// Bytes reads exactly n bytes.
	Bytes(n int) ([]byte, error)

	// Skip advances past n bytes without returning them.
	Skip(n int) error

	// Remain reads everything up to end of file.
	Remain() ([]byte, error)

	// Close releases the reader.
	Close() error
}
