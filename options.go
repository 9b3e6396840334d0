package packstore

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/meigma/packstore/packfs"
)

// Defaults used by New.
const (
	DefaultBucketSize = 20
	DefaultPackSize   = 500 << 10 // 500 KiB
	DefaultExpire     = 7 * 24 * time.Hour
)

const zstdDefault = zstd.SpeedDefault

// Option configures a PackStorage.
type Option func(*config) error

type config struct {
	tempRoot    string
	bucketSize  int
	packSize    int
	expire      time.Duration
	fs          packfs.FS
	logger      *slog.Logger
	compress    bool
	level       zstd.EncoderLevel
	concurrency int
	now         func() time.Time
}

// WithTempRoot sets the directory where flushes stage files before they are
// moved into place. It must not be inside the root.
// Default: the root with "-temp" appended.
func WithTempRoot(dir string) Option {
	return func(c *config) error {
		if dir == "" {
			return fmt.Errorf("%w: empty temp root", ErrInvalidOptions)
		}
		c.tempRoot = dir
		return nil
	}
}

// WithBucketSize sets how many buckets each scope is split into.
// Changing it invalidates existing scopes. Default: 20.
func WithBucketSize(n int) Option {
	return func(c *config) error {
		c.bucketSize = n
		return nil
	}
}

// WithPackSize sets the target maximum of key+value bytes per pack file.
// Changing it invalidates existing scopes. Default: 500 KiB.
func WithPackSize(n int) Option {
	return func(c *config) error {
		c.packSize = n
		return nil
	}
}

// WithExpire sets how long a scope stays valid after its last flush.
// Zero disables expiry. Default: 7 days.
func WithExpire(d time.Duration) Option {
	return func(c *config) error {
		c.expire = d
		return nil
	}
}

// WithFS sets the filesystem scopes are stored on. Default: the local disk.
func WithFS(fsys packfs.FS) Option {
	return func(c *config) error {
		if fsys == nil {
			return fmt.Errorf("%w: nil filesystem", ErrInvalidOptions)
		}
		c.fs = fsys
		return nil
	}
}

// WithLogger sets a logger for flush, prune, and reset events.
// If nil, a discard logger is used (default behavior).
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) error {
		c.logger = logger
		return nil
	}
}

// WithCompression stores every pack and meta file zstd-compressed at the
// given level. Files written without compression cannot be read back with
// it and are treated as corrupt.
func WithCompression(level zstd.EncoderLevel) Option {
	return func(c *config) error {
		c.compress = true
		c.level = level
		return nil
	}
}

// WithConcurrency sets how many pack files are read or written in parallel
// per scope. Default: 4.
func WithConcurrency(n int) Option {
	return func(c *config) error {
		if n < 1 {
			return fmt.Errorf("%w: concurrency must be >= 1, got %d", ErrInvalidOptions, n)
		}
		c.concurrency = n
		return nil
	}
}

// withClock replaces time.Now for expiry tests.
func withClock(now func() time.Time) Option {
	return func(c *config) error {
		c.now = now
		return nil
	}
}
