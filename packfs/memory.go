package packfs

import (
	"errors"
	"io/fs"
	"path"
	"strings"
	"sync"
	"time"
)

var (
	errIsDir    = errors.New("is a directory")
	errNotDir   = errors.New("not a directory")
	errFinished = errors.New("writer already finished")
)

// Memory is an in-memory FS. It is used in tests and in environments
// without direct disk access. The zero value is not usable; call NewMemory.
type Memory struct {
	mu    sync.RWMutex
	dirs  map[string]time.Time
	files map[string]*memFile
	now   func() time.Time
}

type memFile struct {
	data    []byte
	modTime time.Time
}

// Interface compliance.
var _ FS = (*Memory)(nil)

// NewMemory returns an empty in-memory filesystem containing only "/".
func NewMemory() *Memory {
	m := &Memory{
		dirs:  make(map[string]time.Time),
		files: make(map[string]*memFile),
		now:   time.Now,
	}
	m.dirs["/"] = m.now()
	return m
}

func cleanPath(p string) string {
	return path.Clean("/" + p)
}

func childPrefix(p string) string {
	if p == "/" {
		return p
	}
	return p + "/"
}

// Exists implements FS.
func (m *Memory) Exists(p string) (bool, error) {
	p = cleanPath(p)
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, isDir := m.dirs[p]
	_, isFile := m.files[p]
	return isDir || isFile, nil
}

// EnsureDir implements FS.
func (m *Memory) EnsureDir(p string) error {
	p = cleanPath(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureDirLocked(p)
}

func (m *Memory) ensureDirLocked(p string) error {
	var missing []string
	for cur := p; ; cur = path.Dir(cur) {
		if _, ok := m.files[cur]; ok {
			return wrap(OpDir, p, errNotDir)
		}
		if _, ok := m.dirs[cur]; ok {
			break
		}
		missing = append(missing, cur)
		if cur == "/" {
			break
		}
	}
	now := m.now()
	for _, dir := range missing {
		m.dirs[dir] = now
	}
	return nil
}

// RemoveDir implements FS.
func (m *Memory) RemoveDir(p string) error {
	p = cleanPath(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[p]; ok {
		return wrap(OpRemove, p, errNotDir)
	}
	if _, ok := m.dirs[p]; !ok {
		return nil
	}
	prefix := childPrefix(p)
	for name := range m.files {
		if strings.HasPrefix(name, prefix) {
			delete(m.files, name)
		}
	}
	for name := range m.dirs {
		if strings.HasPrefix(name, prefix) {
			delete(m.dirs, name)
		}
	}
	if p != "/" {
		delete(m.dirs, p)
	}
	return nil
}

// RemoveFile implements FS.
func (m *Memory) RemoveFile(p string) error {
	p = cleanPath(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dirs[p]; ok {
		return wrap(OpRemove, p, errIsDir)
	}
	delete(m.files, p)
	return nil
}

// ReadDir implements FS.
func (m *Memory) ReadDir(p string) (map[string]struct{}, error) {
	p = cleanPath(p)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.dirs[p]; !ok {
		if _, isFile := m.files[p]; isFile {
			return nil, wrap(OpRead, p, errNotDir)
		}
		return nil, wrap(OpRead, p, fs.ErrNotExist)
	}
	prefix := childPrefix(p)
	names := make(map[string]struct{})
	collect := func(name string) {
		rest, ok := strings.CutPrefix(name, prefix)
		if !ok || rest == "" || strings.Contains(rest, "/") {
			return
		}
		names[rest] = struct{}{}
	}
	for name := range m.files {
		collect(name)
	}
	for name := range m.dirs {
		collect(name)
	}
	return names, nil
}

// Metadata implements FS.
func (m *Memory) Metadata(p string) (FileMeta, error) {
	p = cleanPath(p)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if f, ok := m.files[p]; ok {
		return FileMeta{Size: int64(len(f.data)), ModTime: f.modTime, IsFile: true}, nil
	}
	if mtime, ok := m.dirs[p]; ok {
		return FileMeta{ModTime: mtime, IsDir: true}, nil
	}
	return FileMeta{}, wrap(OpStat, p, fs.ErrNotExist)
}

// MoveFile implements FS.
func (m *Memory) MoveFile(from, to string) error {
	from, to = cleanPath(from), cleanPath(to)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dirs[from]; ok {
		return wrap(OpMove, from, errIsDir)
	}
	f, ok := m.files[from]
	if !ok {
		return nil
	}
	if _, ok := m.dirs[to]; ok {
		return wrap(OpMove, to, errIsDir)
	}
	if err := m.ensureDirLocked(path.Dir(to)); err != nil {
		return err
	}
	m.files[to] = f
	delete(m.files, from)
	return nil
}

// WriteFile implements FS.
func (m *Memory) WriteFile(p string) (Writer, error) {
	p = cleanPath(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dirs[p]; ok {
		return nil, wrap(OpWrite, p, errIsDir)
	}
	delete(m.files, p)
	if err := m.ensureDirLocked(path.Dir(p)); err != nil {
		return nil, err
	}
	return &memWriter{fs: m, path: p}, nil
}

// ReadFile implements FS.
func (m *Memory) ReadFile(p string) (Reader, error) {
	p = cleanPath(p)
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[p]
	if !ok {
		if _, isDir := m.dirs[p]; isDir {
			return nil, wrap(OpRead, p, errIsDir)
		}
		return nil, wrap(OpRead, p, fs.ErrNotExist)
	}
	// Stored slices are never mutated after a flush, so sharing is safe.
	return NewBytesReader(p, f.data), nil
}

func (m *Memory) store(p string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureDirLocked(path.Dir(p)); err != nil {
		return err
	}
	m.files[p] = &memFile{data: data, modTime: m.now()}
	return nil
}

// memWriter buffers content until Flush stores it.
type memWriter struct {
	fs   *Memory
	path string
	buf  []byte
	done bool
}

func (w *memWriter) Line(text string) error {
	if w.done {
		return wrap(OpWrite, w.path, errFinished)
	}
	w.buf = append(w.buf, text...)
	w.buf = append(w.buf, '\n')
	return nil
}

func (w *memWriter) Bytes(data []byte) error {
	if w.done {
		return wrap(OpWrite, w.path, errFinished)
	}
	w.buf = append(w.buf, data...)
	return nil
}

func (w *memWriter) Write(data []byte) error {
	if w.done {
		return wrap(OpWrite, w.path, errFinished)
	}
	w.buf = append(w.buf[:0], data...)
	return w.Flush()
}

func (w *memWriter) Flush() error {
	if w.done {
		return nil
	}
	w.done = true
	data := w.buf
	w.buf = nil
	if data == nil {
		data = []byte{}
	}
	return w.fs.store(w.path, data)
}

func (w *memWriter) Close() error {
	w.done = true
	w.buf = nil
	return nil
}
