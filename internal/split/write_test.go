package split

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/packstore/internal/pack"
	"github.com/meigma/packstore/internal/testutil"
	"github.com/meigma/packstore/packfs"
)

const (
	testRoot = "/cache/root"
	testTemp = "/cache/temp"
)

func newScope(name string, bucketSize, packSize int) *pack.Scope {
	return pack.NewScope(name, testRoot, pack.Options{BucketSize: bucketSize, PackSize: packSize})
}

// loadFresh reads scope name from disk through a new Scope value and loads
// every pack.
func loadFresh(t *testing.T, s *Strategy, name string, bucketSize, packSize int) *pack.Scope {
	t.Helper()
	scope := newScope(name, bucketSize, packSize)
	require.NoError(t, s.LoadScope(scope))
	require.NoError(t, s.LoadAll(t.Context(), scope))
	return scope
}

func items(scope *pack.Scope) map[string]string {
	out := make(map[string]string)
	for _, bucket := range scope.Packs.Value() {
		for _, p := range bucket {
			keys, contents := p.Keys.Value(), p.Contents.Value()
			for i := range keys {
				out[string(keys[i])] = string(contents[i])
			}
		}
	}
	return out
}

func expected(updates ...pack.ScopeUpdate) map[string]string {
	out := make(map[string]string)
	for _, batch := range updates {
		for k, u := range batch {
			if u.Removed {
				delete(out, k)
				continue
			}
			out[k] = string(u.Value)
		}
	}
	return out
}

// assertLayout checks that every key is stored exactly once, in the bucket
// it hashes to, and that only single-item packs exceed the pack size.
func assertLayout(t *testing.T, scope *pack.Scope) {
	t.Helper()
	meta := scope.Meta.Value()
	packs := scope.Packs.Value()
	require.Len(t, packs, scope.Options.BucketSize)
	require.Len(t, meta.Packs, scope.Options.BucketSize)

	seen := make(map[string]struct{})
	for b, bucket := range packs {
		require.Len(t, meta.Packs[b], len(bucket))
		for i, p := range bucket {
			fm := meta.Packs[b][i]
			assert.Equal(t, scope.PackPath(b, fm.Name), p.Path)
			assert.Equal(t, fm.Size, p.Size())
			if fm.Size > scope.Options.PackSize {
				assert.Len(t, p.Keys.Value(), 1, "oversized pack %s holds more than one item", p.Path)
			}
			for _, k := range p.Keys.Value() {
				assert.Equal(t, b, ChooseBucket(k, scope.Options.BucketSize))
				_, dup := seen[string(k)]
				assert.False(t, dup, "key %q stored twice", k)
				seen[string(k)] = struct{}{}
			}
		}
	}
}

func TestWriteScope_SmallScope(t *testing.T) {
	t.Parallel()

	fsys := packfs.NewMemory()
	s := New(testRoot, testTemp, fsys)
	scope := newScope("test_single_scope", 4, 1024)
	require.NoError(t, s.LoadScope(scope))

	updates := testutil.MockUpdates(0, 20, 8, "val")
	res, err := s.WriteScope(t.Context(), scope, updates)
	require.NoError(t, err)
	assert.Contains(t, res.WroteFiles, scope.MetaPath())
	assert.Empty(t, res.RemovedFiles)
	assertLayout(t, scope)

	// 20 items of 16 bytes fit one pack per bucket.
	for b, bucket := range scope.Meta.Value().Packs {
		assert.LessOrEqual(t, len(bucket), 1, "bucket %d", b)
	}
	assert.Len(t, res.WroteFiles, scope.Meta.Value().PackCount()+1)

	fresh := loadFresh(t, s, "test_single_scope", 4, 1024)
	assert.Equal(t, expected(updates), items(fresh))
	assertLayout(t, fresh)

	// Staging leaves nothing behind.
	ok, err := fsys.Exists(testTemp + "/test_single_scope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWriteScope_RespectsPackSize(t *testing.T) {
	t.Parallel()

	s := New(testRoot, testTemp, packfs.NewMemory())
	scope := newScope("size", 2, 256)
	require.NoError(t, s.LoadScope(scope))

	updates := testutil.MockUpdates(0, 200, 16, "v1")
	_, err := s.WriteScope(t.Context(), scope, updates)
	require.NoError(t, err)
	assertLayout(t, scope)
	for _, bucket := range scope.Meta.Value().Packs {
		for _, fm := range bucket {
			assert.LessOrEqual(t, fm.Size, 256)
		}
	}

	fresh := loadFresh(t, s, "size", 2, 256)
	assert.Equal(t, expected(updates), items(fresh))
}

func TestWriteScope_OversizedItem(t *testing.T) {
	t.Parallel()

	s := New(testRoot, testTemp, packfs.NewMemory())
	scope := newScope("big", 1, 64)
	require.NoError(t, s.LoadScope(scope))

	big := make([]byte, 500)
	updates := pack.ScopeUpdate{
		"big":   {Value: big},
		"small": {Value: []byte("v")},
	}
	_, err := s.WriteScope(t.Context(), scope, updates)
	require.NoError(t, err)
	assertLayout(t, scope)
	assert.Equal(t, 2, scope.Meta.Value().PackCount())

	fresh := loadFresh(t, s, "big", 1, 64)
	assert.Equal(t, expected(updates), items(fresh))
}

func TestWriteScope_UpdatesAndRemovals(t *testing.T) {
	t.Parallel()

	s := New(testRoot, testTemp, packfs.NewMemory())
	scope := newScope("mixed", 4, 512)
	require.NoError(t, s.LoadScope(scope))

	first := testutil.MockUpdates(0, 100, 16, "v1")
	_, err := s.WriteScope(t.Context(), scope, first)
	require.NoError(t, err)

	second := testutil.MockUpdates(50, 150, 16, "v2")
	_, err = s.WriteScope(t.Context(), scope, second)
	require.NoError(t, err)
	assertLayout(t, scope)

	third := testutil.MockRemovals(0, 75, 16)
	res, err := s.WriteScope(t.Context(), scope, third)
	require.NoError(t, err)
	assert.NotEmpty(t, res.RemovedFiles)
	assertLayout(t, scope)

	want := expected(first, second, third)
	assert.Len(t, want, 75)
	assert.Equal(t, want, items(scope))

	fresh := loadFresh(t, s, "mixed", 4, 512)
	assert.Equal(t, want, items(fresh))

	for _, path := range res.RemovedFiles {
		ok, err := s.FS().Exists(path)
		require.NoError(t, err)
		assert.False(t, ok, path)
	}
}

func TestWriteScope_RemoveEverything(t *testing.T) {
	t.Parallel()

	s := New(testRoot, testTemp, packfs.NewMemory())
	scope := newScope("drain", 2, 1024)
	require.NoError(t, s.LoadScope(scope))

	_, err := s.WriteScope(t.Context(), scope, testutil.MockUpdates(0, 10, 8, "v"))
	require.NoError(t, err)
	_, err = s.WriteScope(t.Context(), scope, testutil.MockRemovals(0, 10, 8))
	require.NoError(t, err)

	assert.Zero(t, scope.Meta.Value().PackCount())
	fresh := loadFresh(t, s, "drain", 2, 1024)
	assert.Empty(t, items(fresh))
	assert.Zero(t, fresh.Meta.Value().PackCount())
}

func TestWriteScope_NoopBatches(t *testing.T) {
	t.Parallel()

	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))
	s := New(testRoot, testTemp, packfs.NewMemory(), WithClock(clock.Now))
	scope := newScope("noop", 4, 1024)
	require.NoError(t, s.LoadScope(scope))

	_, err := s.WriteScope(t.Context(), scope, testutil.MockUpdates(0, 20, 8, "v"))
	require.NoError(t, err)
	before := testutil.ReadRaw(t, s.FS(), scope.MetaPath())
	clock.Advance(time.Minute)

	res, err := s.WriteScope(t.Context(), scope, nil)
	require.NoError(t, err)
	assert.Empty(t, res.WroteFiles)

	// Removing keys that were never stored touches nothing.
	res, err = s.WriteScope(t.Context(), scope, testutil.MockRemovals(100, 120, 8))
	require.NoError(t, err)
	assert.Empty(t, res.WroteFiles)
	assert.Empty(t, res.RemovedFiles)

	assert.Equal(t, before, testutil.ReadRaw(t, s.FS(), scope.MetaPath()))
}

func TestWriteScope_AbsorbsSmallPacks(t *testing.T) {
	t.Parallel()

	s := New(testRoot, testTemp, packfs.NewMemory())
	scope := newScope("merge", 1, 1024)
	require.NoError(t, s.LoadScope(scope))

	var batches []pack.ScopeUpdate
	for i := range 10 {
		batch := testutil.MockUpdates(i*5, i*5+5, 16, "v")
		batches = append(batches, batch)
		_, err := s.WriteScope(t.Context(), scope, batch)
		require.NoError(t, err)
		assertLayout(t, scope)
	}

	// 1600 bytes across flushes of 160 bytes: without absorption this
	// would be ten packs.
	assert.LessOrEqual(t, scope.Meta.Value().PackCount(), 4)

	fresh := loadFresh(t, s, "merge", 1, 1024)
	assert.Equal(t, expected(batches...), items(fresh))

	names, err := s.FS().ReadDir(scope.BucketPath(0))
	require.NoError(t, err)
	assert.Len(t, names, scope.Meta.Value().PackCount())
}

func TestWriteScope_DeterministicNames(t *testing.T) {
	t.Parallel()

	a := New(testRoot, testTemp, packfs.NewMemory())
	b := New(testRoot, testTemp, packfs.NewMemory())
	sa := newScope("det", 4, 256)
	sb := newScope("det", 4, 256)
	require.NoError(t, a.LoadScope(sa))
	require.NoError(t, b.LoadScope(sb))

	updates := testutil.MockUpdates(0, 60, 16, "v")
	_, err := a.WriteScope(t.Context(), sa, updates)
	require.NoError(t, err)
	_, err = b.WriteScope(t.Context(), sb, updates)
	require.NoError(t, err)

	assert.Equal(t, sa.Meta.Value().Packs, sb.Meta.Value().Packs)
}

func TestWriteScope_CrashAfterValueOnlyRewrite(t *testing.T) {
	t.Parallel()

	inner := packfs.NewMemory()
	failing := testutil.NewFailingFS(inner)
	s := New(testRoot, testTemp, failing)
	scope := newScope("values", 1, 4096)
	require.NoError(t, s.LoadScope(scope))

	_, err := s.WriteScope(t.Context(), scope, testutil.MockUpdates(0, 5, 16, "v1"))
	require.NoError(t, err)
	before := slices.Clone(scope.Meta.Value().Packs[0])
	require.Len(t, before, 1)

	// Same keys, new values: the rewritten pack keeps its name.
	failing.FailOn(packfs.OpMove, pack.MetaFileName)
	_, err = s.WriteScope(t.Context(), scope, testutil.MockUpdates(0, 5, 16, "v2"))
	require.ErrorIs(t, err, testutil.ErrInjected)

	clean := New(testRoot, testTemp, inner)
	fresh := newScope("values", 1, 4096)
	require.NoError(t, clean.LoadScope(fresh))
	assert.Equal(t, before, fresh.Meta.Value().Packs[0])
	err = clean.LoadAll(t.Context(), fresh)
	require.ErrorIs(t, err, pack.ErrCorrupted)
}

func TestWriteScope_CrashBeforeMetaCommit(t *testing.T) {
	t.Parallel()

	inner := packfs.NewMemory()
	failing := testutil.NewFailingFS(inner)
	s := New(testRoot, testTemp, failing)
	scope := newScope("crash", 4, 256)
	require.NoError(t, s.LoadScope(scope))

	first := testutil.MockUpdates(0, 40, 16, "v1")
	_, err := s.WriteScope(t.Context(), scope, first)
	require.NoError(t, err)

	failing.FailOn(packfs.OpMove, pack.MetaFileName)
	// Only new keys and removals, so a new pack can only share a name with
	// an old one if its bytes are identical too.
	batch := testutil.MockUpdates(40, 80, 16, "v2")
	for k, u := range testutil.MockRemovals(0, 10, 16) {
		batch[k] = u
	}
	_, err = s.WriteScope(t.Context(), scope, batch)
	require.Error(t, err)
	assert.ErrorIs(t, err, testutil.ErrInjected)

	// The previous meta is still live and every pack it names is intact.
	clean := New(testRoot, testTemp, inner)
	fresh := loadFresh(t, clean, "crash", 4, 256)
	assert.Equal(t, expected(first), items(fresh))

	// New packs moved before the failure are orphans.
	removed, err := clean.CleanOrphans(t.Context(), fresh)
	require.NoError(t, err)
	assert.NotEmpty(t, removed)
	for _, path := range removed {
		assert.NotEqual(t, fresh.MetaPath(), path)
	}

	again := loadFresh(t, clean, "crash", 4, 256)
	assert.Equal(t, expected(first), items(again))

	// Retrying on a clean filesystem succeeds.
	failing.Reset()
	retry := loadFresh(t, s, "crash", 4, 256)
	_, err = s.WriteScope(t.Context(), retry, batch)
	require.NoError(t, err)
	assert.Equal(t, expected(first, batch), items(loadFresh(t, clean, "crash", 4, 256)))
}

func TestWriteScope_FailedPackWriteLeavesRootUntouched(t *testing.T) {
	t.Parallel()

	inner := packfs.NewMemory()
	failing := testutil.NewFailingFS(inner)
	s := New(testRoot, testTemp, failing)
	scope := newScope("stage", 2, 1024)
	require.NoError(t, s.LoadScope(scope))

	failing.FailOn(packfs.OpWrite, "")
	_, err := s.WriteScope(t.Context(), scope, testutil.MockUpdates(0, 10, 8, "v"))
	require.ErrorIs(t, err, testutil.ErrInjected)

	ok, err := inner.Exists(scope.Path)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, scope.Meta.Value().PackCount())
}

func TestLoadScope(t *testing.T) {
	t.Parallel()

	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))
	s := New(testRoot, testTemp, packfs.NewMemory(), WithClock(clock.Now))

	scope := pack.NewScope("load", testRoot, pack.Options{BucketSize: 2, PackSize: 1024, Expire: time.Hour})
	require.NoError(t, s.LoadScope(scope))
	assert.True(t, scope.Loaded())
	assert.Zero(t, scope.Meta.Value().PackCount())

	_, err := s.WriteScope(t.Context(), scope, testutil.MockUpdates(0, 10, 8, "v"))
	require.NoError(t, err)

	again := pack.NewScope("load", testRoot, scope.Options)
	require.NoError(t, s.LoadScope(again))
	for _, bucket := range again.Packs.Value() {
		for _, p := range bucket {
			assert.False(t, p.Keys.IsLoaded())
		}
	}

	clock.Advance(2 * time.Hour)
	expired := pack.NewScope("load", testRoot, scope.Options)
	assert.ErrorIs(t, s.LoadScope(expired), pack.ErrScopeInvalid)
	assert.False(t, expired.Loaded())

	resized := pack.NewScope("load", testRoot, pack.Options{BucketSize: 3, PackSize: 1024})
	assert.ErrorIs(t, s.LoadScope(resized), pack.ErrScopeInvalid)

	require.NoError(t, s.ResetScope(resized))
	assert.True(t, resized.Loaded())
	ok, err := s.FS().Exists(resized.MetaPath())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCleanOrphans(t *testing.T) {
	t.Parallel()

	fsys := packfs.NewMemory()
	s := New(testRoot, testTemp, fsys)
	scope := newScope("orphans", 2, 1024)
	require.NoError(t, s.LoadScope(scope))
	_, err := s.WriteScope(t.Context(), scope, testutil.MockUpdates(0, 10, 8, "v"))
	require.NoError(t, err)

	stray := scope.PackPath(0, "ffffffffffffffff")
	testutil.MockPackFile(t, fsys, stray, "stray", 3)
	other := scope.Path + "/notes.txt"
	testutil.WriteRaw(t, fsys, other, []byte("x"))

	removed, err := s.CleanOrphans(t.Context(), scope)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{stray, other}, removed)

	removed, err = s.CleanOrphans(t.Context(), scope)
	require.NoError(t, err)
	assert.Empty(t, removed)

	fresh := loadFresh(t, s, "orphans", 2, 1024)
	assert.Len(t, items(fresh), 10)
}
