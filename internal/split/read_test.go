package split

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/packstore/internal/pack"
	"github.com/meigma/packstore/internal/testutil"
	"github.com/meigma/packstore/packfs"
)

func asStrings(items [][]byte) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, b := range items {
		out[string(b)] = struct{}{}
	}
	return out
}

func TestReadPack(t *testing.T) {
	t.Parallel()

	fsys := packfs.NewMemory()
	s := New("/cache/root", "/cache/temp", fsys)
	path := "/cache/root/test_read_pack/mock_pack"
	testutil.MockPackFile(t, fsys, path, "mock", 20)

	keys, ok, err := s.ReadPackKeys(path)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, keys, 20)
	assert.Contains(t, asStrings(keys), "key_mock_0")
	assert.Contains(t, asStrings(keys), "key_mock_19")

	contents, ok, err := s.ReadPackContents(path)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, contents, 20)
	assert.Contains(t, asStrings(contents), "val_mock_0")
	assert.Contains(t, asStrings(contents), "val_mock_19")

	for i := range keys {
		assert.Equal(t, "val"+string(keys[i])[3:], string(contents[i]))
	}
}

func TestReadPack_NonExistent(t *testing.T) {
	t.Parallel()

	s := New("/cache/root", "/cache/temp", packfs.NewMemory())

	keys, ok, err := s.ReadPackKeys("/non_exists_path")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, keys)

	contents, ok, err := s.ReadPackContents("/non_exists_path")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, contents)
}

func TestReadPack_Corrupted(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
	}{
		{name: "bad length", data: "3 x\n1 1\nabcdef"},
		{name: "count mismatch", data: "1 1\n1\nabc"},
		{name: "truncated keys", data: "5\n1\nab"},
		{name: "negative length", data: "-1\n1\nab"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fsys := packfs.NewMemory()
			s := New("/cache/root", "/cache/temp", fsys)
			testutil.WriteRaw(t, fsys, "/cache/root/p", []byte(tc.data))

			_, _, err := s.ReadPackKeys("/cache/root/p")
			assert.ErrorIs(t, err, pack.ErrCorrupted)
		})
	}
}

func TestReadPackContents_TruncatedValues(t *testing.T) {
	t.Parallel()

	fsys := packfs.NewMemory()
	s := New("/cache/root", "/cache/temp", fsys)
	testutil.WriteRaw(t, fsys, "/cache/root/p", []byte("1\n4\nkval"))

	_, _, err := s.ReadPackContents("/cache/root/p")
	assert.ErrorIs(t, err, pack.ErrCorrupted)
}

func TestLoadPack_VerifiesDigest(t *testing.T) {
	t.Parallel()

	fsys := packfs.NewMemory()
	s := New("/cache/root", "/cache/temp", fsys)
	scope := pack.NewScope("s", "/cache/root", pack.Options{BucketSize: 1, PackSize: 1024})
	scope.Reset()

	_, err := s.WriteScope(t.Context(), scope, pack.ScopeUpdate{"k": {Value: []byte("v")}})
	require.NoError(t, err)
	fm := scope.Meta.Value().Packs[0][0]
	path := scope.PackPath(0, fm.Name)

	p := pack.New(path)
	require.NoError(t, s.LoadPack(p, fm))
	require.True(t, p.Loaded())
	assert.Equal(t, pack.Keys{[]byte("k")}, p.Keys.Value())
	assert.Equal(t, pack.Contents{[]byte("v")}, p.Contents.Value())

	testutil.WriteRaw(t, fsys, path, []byte("1\n1\nkx"))
	err = s.LoadPack(pack.New(path), fm)
	assert.ErrorIs(t, err, pack.ErrCorrupted)

	require.NoError(t, fsys.RemoveFile(path))
	err = s.LoadPack(pack.New(path), fm)
	assert.ErrorIs(t, err, pack.ErrCorrupted)
}
