// Package filesystem defines the virtual filesystem contract that every
// plugin provides, the value types crossing that contract, and the error
// taxonomy shared by in-process and out-of-process plugins.
package filesystem

import (
	"io"
)

// FileSystem is the capability contract a plugin exposes. Paths are
// slash-separated and absolute within the plugin's namespace; implementations
// should pass them through NormalizePath before use.
type FileSystem interface {
	// Read returns up to size bytes from the file at path starting at
	// offset. A negative size means "to end of file". Reading at or past
	// the end returns an empty slice and no error.
	Read(path string, offset, size int64) ([]byte, error)

	// Write writes data at offset and returns the number of bytes written.
	// The AppendOffset sentinel or WriteFlagAppend positions the write at
	// the current end of file; when both are present they agree.
	Write(path string, data []byte, offset int64, flags WriteFlag) (int64, error)

	// Create makes an empty file at path.
	Create(path string) error

	// Mkdir makes a directory at path with the given permission bits.
	Mkdir(path string, mode uint32) error

	// Remove removes the file or empty directory at path.
	Remove(path string) error

	// RemoveAll removes path and any children it contains.
	RemoveAll(path string) error

	// ReadDir lists the immediate children of the directory at path.
	ReadDir(path string) ([]FileInfo, error)

	// Stat describes the file or directory at path.
	Stat(path string) (*FileInfo, error)

	// Rename moves oldPath to newPath.
	Rename(oldPath, newPath string) error

	// Chmod changes the permission bits of path. Filesystems without
	// permission semantics treat this as a successful no-op.
	Chmod(path string, mode uint32) error

	// Open returns a streaming reader over the file at path.
	Open(path string) (io.ReadCloser, error)

	// OpenWrite returns a streaming writer that replaces the file at path
	// when closed.
	OpenWrite(path string) (io.WriteCloser, error)
}

// Truncater is implemented by filesystems that can change a file's size in
// place. Callers discover it with a type assertion.
type Truncater interface {
	Truncate(path string, size int64) error
}

// ReadOnlyBase provides the mutating half of FileSystem for read-only
// plugins. Every mutator fails with ErrReadOnly except Chmod, which is a
// successful no-op because read-only stores have no permission state to
// change. Embedders supply Read, Stat and ReadDir themselves.
type ReadOnlyBase struct{}

func (ReadOnlyBase) Write(path string, data []byte, offset int64, flags WriteFlag) (int64, error) {
	return 0, ErrReadOnly
}

func (ReadOnlyBase) Create(path string) error {
	return ErrReadOnly
}

func (ReadOnlyBase) Mkdir(path string, mode uint32) error {
	return ErrReadOnly
}

func (ReadOnlyBase) Remove(path string) error {
	return ErrReadOnly
}

func (ReadOnlyBase) RemoveAll(path string) error {
	return ErrReadOnly
}

func (ReadOnlyBase) Rename(oldPath, newPath string) error {
	return ErrReadOnly
}

func (ReadOnlyBase) Chmod(path string, mode uint32) error {
	return nil
}

func (ReadOnlyBase) Open(path string) (io.ReadCloser, error) {
	return nil, NewNotSupportedError("open", path)
}

func (ReadOnlyBase) OpenWrite(path string) (io.WriteCloser, error) {
	return nil, ErrReadOnly
}
