// Package split implements the split-pack strategy: it reads pack and meta
// files on demand and, on flush, re-packs every touched bucket into
// size-bounded packs, stages the new files under the temp root, and commits
// them so the meta file is always the last thing to change.
package split

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/meigma/packstore/packfs"
)

const defaultConcurrency = 4

// Strategy reads and writes the packs of scopes stored below root.
// A Strategy is safe for concurrent use on different scopes; callers must
// serialize operations on the same scope.
type Strategy struct {
	root        string
	tempRoot    string
	fs          packfs.FS
	logger      *slog.Logger
	now         func() time.Time
	concurrency int
}

// Option configures a Strategy.
type Option func(*Strategy)

// WithLogger sets the logger used for per-file debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Strategy) {
		s.logger = logger
	}
}

// WithClock replaces time.Now, used for meta timestamps and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Strategy) {
		if now != nil {
			s.now = now
		}
	}
}

// WithConcurrency sets how many pack files are read or written in parallel
// (default: 4). Values < 1 are treated as 1.
func WithConcurrency(n int) Option {
	return func(s *Strategy) {
		if n < 1 {
			n = 1
		}
		s.concurrency = n
	}
}

// New returns a strategy that stores scopes below root and stages writes
// below tempRoot.
func New(root, tempRoot string, fsys packfs.FS, opts ...Option) *Strategy {
	s := &Strategy{
		root:        filepath.Clean(root),
		tempRoot:    filepath.Clean(tempRoot),
		fs:          fsys,
		now:         time.Now,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the storage root.
func (s *Strategy) Root() string {
	return s.root
}

// FS returns the filesystem the strategy works on.
func (s *Strategy) FS() packfs.FS {
	return s.fs
}

// Now returns the current time according to the strategy's clock.
func (s *Strategy) Now() time.Time {
	return s.now()
}

// log returns the logger, falling back to a discard logger if nil.
func (s *Strategy) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// TempPath maps a path below the root to its staging location below the
// temp root.
func (s *Strategy) TempPath(path string) (string, error) {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return "", fmt.Errorf("temp path for %s: %w", path, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("temp path for %s: outside of root %s", path, s.root)
	}
	return filepath.Join(s.tempRoot, rel), nil
}
