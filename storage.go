package packstore

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/meigma/packstore/internal/manager"
	"github.com/meigma/packstore/internal/pack"
	"github.com/meigma/packstore/internal/split"
	"github.com/meigma/packstore/packfs"
)

const defaultConcurrency = 4

// Item is one key/value pair of a scope. Its slices must not be modified.
type Item = manager.Item

// PruneResult reports what Prune deleted.
type PruneResult = manager.PruneResult

// ScopeMeta is the persisted layout of a scope as returned by Inspect.
type ScopeMeta = pack.Meta

// PackMeta describes one pack file in a ScopeMeta.
type PackMeta = pack.FileMeta

// Storage is the cache contract consumed by a build pipeline.
type Storage interface {
	// GetAll returns every item of scope as of its last completed flush.
	GetAll(ctx context.Context, scope string) ([]Item, error)
	// Set records an upsert. It does no I/O.
	Set(scope string, key, value []byte)
	// Remove records a deletion. It does no I/O.
	Remove(scope string, key []byte)
	// Idle flushes everything recorded so far and returns a channel that
	// receives exactly one result.
	Idle(ctx context.Context) <-chan error
}

// PackStorage is a Storage that keeps scopes as pack files below a root
// directory.
//
// Set and Remove only touch an in-memory pending map; Idle hands the map to
// a background flush. GetAll never sees pending changes.
type PackStorage struct {
	root    string
	manager *manager.Manager
	logger  *slog.Logger
	closer  func() error

	mu      sync.Mutex
	pending pack.ScopeUpdates

	inflight sync.WaitGroup
}

// Interface compliance.
var _ Storage = (*PackStorage)(nil)

// New returns a PackStorage rooted at root.
//
// Nothing is read or written until the first GetAll or Idle.
func New(root string, opts ...Option) (*PackStorage, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: empty root", ErrInvalidOptions)
	}
	root = filepath.Clean(root)

	c := config{
		bucketSize:  DefaultBucketSize,
		packSize:    DefaultPackSize,
		expire:      DefaultExpire,
		level:       zstdDefault,
		concurrency: defaultConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		if err := opt(&c); err != nil {
			return nil, err
		}
	}

	o := pack.Options{BucketSize: c.bucketSize, PackSize: c.packSize, Expire: c.expire}
	if err := o.Validate(); err != nil {
		return nil, err
	}

	tempRoot := c.tempRoot
	if tempRoot == "" {
		tempRoot = root + "-temp"
	}
	tempRoot = filepath.Clean(tempRoot)
	if within(root, tempRoot) {
		return nil, fmt.Errorf("%w: temp root %s is inside root %s", ErrInvalidOptions, tempRoot, root)
	}

	fsys := c.fs
	if fsys == nil {
		fsys = packfs.NewNative()
	}
	var closer func() error
	if c.compress {
		cfs, err := packfs.NewCompressed(fsys, packfs.WithEncoderLevel(c.level))
		if err != nil {
			return nil, err
		}
		fsys = cfs
		closer = cfs.Close
	}

	strategy := split.New(root, tempRoot, fsys,
		split.WithLogger(c.logger),
		split.WithClock(c.now),
		split.WithConcurrency(c.concurrency),
	)
	return &PackStorage{
		root:    root,
		manager: manager.New(o, strategy, c.logger),
		logger:  c.logger,
		closer:  closer,
		pending: make(pack.ScopeUpdates),
	}, nil
}

// within reports whether path is root or lies below it.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// log returns the logger, falling back to a discard logger if nil.
func (s *PackStorage) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// Root returns the storage root directory.
func (s *PackStorage) Root() string {
	return s.root
}

// GetAll implements Storage.
func (s *PackStorage) GetAll(ctx context.Context, scope string) ([]Item, error) {
	return s.manager.GetAll(ctx, scope)
}

// Set implements Storage. key and value are copied.
func (s *PackStorage) Set(scope string, key, value []byte) {
	s.record(scope, key, pack.Update{Value: append([]byte{}, value...)})
}

// Remove implements Storage.
func (s *PackStorage) Remove(scope string, key []byte) {
	s.record(scope, key, pack.Update{Removed: true})
}

func (s *PackStorage) record(scope string, key []byte, u pack.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	updates, ok := s.pending[scope]
	if !ok {
		updates = make(pack.ScopeUpdate)
		s.pending[scope] = updates
	}
	updates[string(key)] = u
}

// Idle implements Storage.
//
// The flush runs detached from ctx cancellation: once Idle returns, the
// pending changes are owned by the flush and are written even if the caller
// stops waiting. With nothing pending the channel is ready immediately.
func (s *PackStorage) Idle(ctx context.Context) <-chan error {
	s.mu.Lock()
	updates := s.pending
	s.pending = make(pack.ScopeUpdates)
	s.mu.Unlock()

	done := make(chan error, 1)
	if len(updates) == 0 {
		done <- nil
		return done
	}

	s.inflight.Add(1)
	saved := s.manager.Save(context.WithoutCancel(ctx), updates)
	go func() {
		defer s.inflight.Done()
		err := <-saved
		if err != nil {
			s.log().Warn("flush failed", "root", s.root, "error", err)
		}
		done <- err
	}()
	return done
}

// Prune deletes expired or unusable scopes and files no scope references.
func (s *PackStorage) Prune(ctx context.Context) (PruneResult, error) {
	return s.manager.Prune(ctx)
}

// Inspect returns the persisted layout of scope without loading its packs.
// Unlike GetAll it reports a corrupt or expired scope as an error and
// leaves it on disk.
func (s *PackStorage) Inspect(scope string) (*ScopeMeta, error) {
	return s.manager.Inspect(scope)
}

// Dump reads every item of scope from disk. Unlike GetAll it reports a
// corrupt or expired scope as an error and leaves it on disk.
func (s *PackStorage) Dump(ctx context.Context, scope string) ([]Item, error) {
	return s.manager.Dump(ctx, scope)
}

// Close waits for in-flight flushes and releases compression resources.
// Pending changes that were never passed to Idle are discarded.
func (s *PackStorage) Close() error {
	s.inflight.Wait()
	if s.closer != nil {
		return s.closer()
	}
	return nil
}
