package pack

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLazy_PanicsBeforeLoad(t *testing.T) {
	t.Parallel()

	var keys Lazy[Keys]
	assert.False(t, keys.IsLoaded())
	assert.Panics(t, func() { keys.Value() })

	keys.Set(Keys{[]byte("a")})
	assert.True(t, keys.IsLoaded())
	assert.Equal(t, Keys{[]byte("a")}, keys.Value())

	keys.Unload()
	assert.Panics(t, func() { keys.Value() })
}

func TestPack_LoadedAndSize(t *testing.T) {
	t.Parallel()

	p := New("/scope/0/pack")
	assert.False(t, p.Loaded())
	assert.Panics(t, func() { p.Size() })

	p.Keys.Set(Keys{[]byte("k1"), []byte("key2")})
	assert.False(t, p.Loaded())
	assert.Panics(t, func() { p.Size() })

	p.Contents.Set(Contents{[]byte("v"), []byte("value")})
	require.True(t, p.Loaded())
	assert.Equal(t, 2+4+1+5, p.Size())
}

func TestOptions_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, Options{BucketSize: 1, PackSize: 1}.Validate())
	assert.ErrorIs(t, Options{BucketSize: 0, PackSize: 1}.Validate(), ErrInvalidOptions)
	assert.ErrorIs(t, Options{BucketSize: 1, PackSize: 0}.Validate(), ErrInvalidOptions)
	assert.ErrorIs(t, Options{BucketSize: 1, PackSize: 1, Expire: -time.Second}.Validate(), ErrInvalidOptions)
}

func TestScope_SetMetaKeepsLockstep(t *testing.T) {
	t.Parallel()

	s := NewScope("modules", "/cache", Options{BucketSize: 3, PackSize: 100})
	assert.False(t, s.Loaded())
	assert.Equal(t, "/cache/modules/cache_meta", s.MetaPath())

	m := NewMeta(s.Options)
	m.Packs[1] = []FileMeta{{Name: "a", Size: 10}, {Name: "b", Size: 20}}
	s.SetMeta(m)

	require.True(t, s.Loaded())
	packs := s.Packs.Value()
	require.Len(t, packs, 3)
	for b := range packs {
		assert.Len(t, packs[b], len(m.Packs[b]))
	}
	assert.Equal(t, "/cache/modules/1/b", packs[1][1].Path)
	assert.Equal(t, 2, m.PackCount())

	s.Reset()
	assert.Equal(t, 0, s.Meta.Value().PackCount())
	assert.Len(t, s.Packs.Value(), 3)
}

func TestValidateName(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"scope", "snapshot.module", "a-b_c"} {
		assert.NoError(t, ValidateName(name), name)
	}
	for _, name := range []string{"", ".", "..", "a/b", `a\b`} {
		assert.ErrorIs(t, ValidateName(name), ErrInvalidScopeName, name)
	}
}
