package testutil

import (
	"errors"
	"strings"
	"sync"

	"github.com/meigma/packstore/packfs"
)

// ErrInjected is returned by FailingFS for operations that match a rule.
var ErrInjected = errors.New("testutil: injected failure")

// FailingFS wraps an FS and fails selected operations. It is used to
// simulate a crash part way through a flush.
type FailingFS struct {
	packfs.FS

	mu    sync.Mutex
	rules []failRule
	calls map[packfs.Op]int
}

type failRule struct {
	op     packfs.Op
	suffix string
}

// NewFailingFS wraps inner.
func NewFailingFS(inner packfs.FS) *FailingFS {
	return &FailingFS{FS: inner, calls: make(map[packfs.Op]int)}
}

// FailOn makes every op on a path ending in suffix fail with ErrInjected.
func (f *FailingFS) FailOn(op packfs.Op, suffix string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, failRule{op: op, suffix: suffix})
}

// Reset drops all rules.
func (f *FailingFS) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = nil
}

// Calls returns how often op was invoked.
func (f *FailingFS) Calls(op packfs.Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *FailingFS) check(op packfs.Op, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	for _, r := range f.rules {
		if r.op == op && strings.HasSuffix(path, r.suffix) {
			return &packfs.Error{Op: op, Path: path, Err: ErrInjected}
		}
	}
	return nil
}

// MoveFile implements packfs.FS.
func (f *FailingFS) MoveFile(from, to string) error {
	if err := f.check(packfs.OpMove, to); err != nil {
		return err
	}
	return f.FS.MoveFile(from, to)
}

// WriteFile implements packfs.FS.
func (f *FailingFS) WriteFile(path string) (packfs.Writer, error) {
	if err := f.check(packfs.OpWrite, path); err != nil {
		return nil, err
	}
	return f.FS.WriteFile(path)
}

// ReadFile implements packfs.FS.
func (f *FailingFS) ReadFile(path string) (packfs.Reader, error) {
	if err := f.check(packfs.OpRead, path); err != nil {
		return nil, err
	}
	return f.FS.ReadFile(path)
}

// RemoveFile implements packfs.FS.
func (f *FailingFS) RemoveFile(path string) error {
	if err := f.check(packfs.OpRemove, path); err != nil {
		return err
	}
	return f.FS.RemoveFile(path)
}
