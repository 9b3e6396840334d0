package packfs

import (
	"bufio"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const defaultDirPerm = 0o750

// Native implements FS on top of the local filesystem.
type Native struct {
	dirPerm os.FileMode
}

// Interface compliance.
var _ FS = (*Native)(nil)

// NativeOption configures a Native filesystem.
type NativeOption func(*Native)

// WithDirPerm sets the permissions used for created directories.
func WithDirPerm(mode os.FileMode) NativeOption {
	return func(n *Native) {
		n.dirPerm = mode
	}
}

// NewNative returns an FS backed by the operating system.
func NewNative(opts ...NativeOption) *Native {
	n := &Native{dirPerm: defaultDirPerm}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Exists implements FS.
func (n *Native) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, wrap(OpStat, path, err)
}

// EnsureDir implements FS.
func (n *Native) EnsureDir(path string) error {
	return wrap(OpDir, path, os.MkdirAll(path, n.dirPerm))
}

// RemoveDir implements FS.
func (n *Native) RemoveDir(path string) error {
	return wrap(OpRemove, path, os.RemoveAll(path))
}

// RemoveFile implements FS.
func (n *Native) RemoveFile(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return wrap(OpRemove, path, err)
	}
	return nil
}

// ReadDir implements FS.
func (n *Native) ReadDir(path string) (map[string]struct{}, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, wrap(OpRead, path, err)
	}
	names := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		names[entry.Name()] = struct{}{}
	}
	return names, nil
}

// Metadata implements FS.
func (n *Native) Metadata(path string) (FileMeta, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileMeta{}, wrap(OpStat, path, err)
	}
	return FileMeta{
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsFile:  info.Mode().IsRegular(),
		IsDir:   info.IsDir(),
	}, nil
}

// MoveFile implements FS.
func (n *Native) MoveFile(from, to string) error {
	if _, err := os.Stat(from); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return wrap(OpStat, from, err)
	}
	if err := n.EnsureDir(filepath.Dir(to)); err != nil {
		return err
	}
	return wrap(OpMove, from, os.Rename(from, to))
}

// WriteFile implements FS.
//
// Content is staged in a hidden temp file in the target directory and
// renamed into place on Flush, so readers never observe a partial file.
func (n *Native) WriteFile(path string) (Writer, error) {
	if err := n.RemoveFile(path); err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := n.EnsureDir(dir); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(dir, ".packfs-*")
	if err != nil {
		return nil, wrap(OpWrite, path, err)
	}
	return &nativeWriter{
		path: path,
		tmp:  tmp,
		buf:  bufio.NewWriter(tmp),
	}, nil
}

// ReadFile implements FS.
func (n *Native) ReadFile(path string) (Reader, error) {
	f, err := os.Open(path) //nolint:gosec // paths are derived from the configured cache root
	if err != nil {
		return nil, wrap(OpRead, path, err)
	}
	return &nativeReader{path: path, f: f, r: bufio.NewReader(f)}, nil
}

type nativeWriter struct {
	path string
	tmp  *os.File
	buf  *bufio.Writer
	done bool
}

func (w *nativeWriter) Line(text string) error {
	if w.done {
		return wrap(OpWrite, w.path, errFinished)
	}
	if _, err := w.buf.WriteString(text); err != nil {
		return wrap(OpWrite, w.path, err)
	}
	return wrap(OpWrite, w.path, w.buf.WriteByte('\n'))
}

func (w *nativeWriter) Bytes(data []byte) error {
	if w.done {
		return wrap(OpWrite, w.path, errFinished)
	}
	_, err := w.buf.Write(data)
	return wrap(OpWrite, w.path, err)
}

func (w *nativeWriter) Write(data []byte) error {
	if w.done {
		return wrap(OpWrite, w.path, errFinished)
	}
	w.buf.Reset(w.tmp)
	if _, err := w.tmp.Seek(0, io.SeekStart); err != nil {
		return wrap(OpWrite, w.path, err)
	}
	if err := w.tmp.Truncate(0); err != nil {
		return wrap(OpWrite, w.path, err)
	}
	if err := w.Bytes(data); err != nil {
		return err
	}
	return w.Flush()
}

// Flush commits the staged file to its final path.
func (w *nativeWriter) Flush() error {
	if w.done {
		return nil
	}
	w.done = true
	tmpPath := w.tmp.Name()
	if err := w.buf.Flush(); err != nil {
		_ = w.tmp.Close()
		_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return wrap(OpWrite, w.path, err)
	}
	if err := w.tmp.Close(); err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return wrap(OpWrite, w.path, err)
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return wrap(OpMove, w.path, err)
	}
	return nil
}

// Close discards the staged file unless it was already flushed.
func (w *nativeWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	tmpPath := w.tmp.Name()
	_ = w.tmp.Close() //nolint:errcheck // we're cleaning up
	err := os.Remove(tmpPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return wrap(OpRemove, tmpPath, err)
	}
	return nil
}

type nativeReader struct {
	path string
	f    *os.File
	r    *bufio.Reader
}

func (r *nativeReader) Line() (string, error) {
	line, err := r.r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", wrap(OpRead, r.path, err)
	}
	return strings.TrimSuffix(line, "\n"), nil
}

func (r *nativeReader) Bytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, wrap(OpRead, r.path, errNegativeLength)
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r.r, out); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, wrap(OpRead, r.path, err)
	}
	return out, nil
}

func (r *nativeReader) Skip(n int) error {
	if n < 0 {
		return wrap(OpRead, r.path, errNegativeLength)
	}
	if _, err := r.r.Discard(n); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return wrap(OpRead, r.path, err)
	}
	return nil
}

func (r *nativeReader) Remain() ([]byte, error) {
	data, err := io.ReadAll(r.r)
	if err != nil {
		return nil, wrap(OpRead, r.path, err)
	}
	return data, nil
}

func (r *nativeReader) Close() error {
	return wrap(OpRead, r.path, r.f.Close())
}
