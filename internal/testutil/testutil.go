// Package testutil provides fixtures shared by the storage tests: mock pack
// and meta files, generated update batches, and a filesystem that fails on
// demand.
package testutil

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meigma/packstore/packfs"
)

// MockPackFile writes a pack file with count items named
// key_<id>_<i> / val_<id>_<i>.
func MockPackFile(tb testing.TB, fsys packfs.FS, path, id string, count int) {
	tb.Helper()
	keys := make([]string, count)
	values := make([]string, count)
	keyLens := make([]string, count)
	valueLens := make([]string, count)
	for i := range count {
		keys[i] = fmt.Sprintf("key_%s_%d", id, i)
		values[i] = fmt.Sprintf("val_%s_%d", id, i)
		keyLens[i] = strconv.Itoa(len(keys[i]))
		valueLens[i] = strconv.Itoa(len(values[i]))
	}
	require.NoError(tb, fsys.EnsureDir(filepath.Dir(path)))
	w, err := fsys.WriteFile(path)
	require.NoError(tb, err)
	require.NoError(tb, w.Line(strings.Join(keyLens, " ")))
	require.NoError(tb, w.Line(strings.Join(valueLens, " ")))
	for _, k := range keys {
		require.NoError(tb, w.Bytes([]byte(k)))
	}
	for _, v := range values {
		require.NoError(tb, w.Bytes([]byte(v)))
	}
	require.NoError(tb, w.Flush())
}

// WriteRaw writes data as the whole content of path.
func WriteRaw(tb testing.TB, fsys packfs.FS, path string, data []byte) {
	tb.Helper()
	w, err := fsys.WriteFile(path)
	require.NoError(tb, err)
	require.NoError(tb, w.Write(data))
	require.NoError(tb, w.Flush())
}

// ReadRaw returns the whole content of path.
func ReadRaw(tb testing.TB, fsys packfs.FS, path string) []byte {
	tb.Helper()
	r, err := fsys.ReadFile(path)
	require.NoError(tb, err)
	defer r.Close()
	data, err := r.Remain()
	require.NoError(tb, err)
	return data
}

// Clock is a settable time source for expiry tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock stopped at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current clock time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
