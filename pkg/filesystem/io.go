package filesystem

import (
	"bytes"
	"io"
)

// WriteFunc matches the FileSystem.Write signature. BufferedWriter uses it
// so a filesystem can hand out its own Write method without exposing the
// whole interface.
type WriteFunc func(path string, data []byte, offset int64, flags WriteFlag) (int64, error)

// BufferedWriter accumulates writes in memory and commits them as a single
// create-or-truncate Write when closed. It backs OpenWrite for filesystems
// whose storage has no streaming write primitive.
type BufferedWriter struct {
	path    string
	writeFn WriteFunc
	buf     bytes.Buffer
	closed  bool
}

// NewBufferedWriter returns a writer that replaces the file at path with the
// buffered content on Close.
func NewBufferedWriter(path string, writeFn WriteFunc) *BufferedWriter {
	return &BufferedWriter{path: path, writeFn: writeFn}
}

func (w *BufferedWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	return w.buf.Write(p)
}

// Close flushes the buffer. Closing twice is safe; the second call is a
// no-op.
func (w *BufferedWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	_, err := w.writeFn(w.path, w.buf.Bytes(), 0, WriteFlagCreate|WriteFlagTruncate)
	return err
}

var _ io.WriteCloser = (*BufferedWriter)(nil)
