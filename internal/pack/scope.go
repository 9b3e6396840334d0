package pack

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// MetaFileName is the name of the meta file inside a scope directory.
const MetaFileName = "cache_meta"

// Scope is a named cache domain split into Options.BucketSize buckets.
//
// Once both are loaded, len(Meta.Packs[b]) == len(Packs[b]) for every
// bucket b, and Packs[b][i] is the pack described by Meta.Packs[b][i].
type Scope struct {
	Name    string
	Path    string
	Options Options
	Meta    Lazy[*Meta]
	Packs   Lazy[[][]*Pack]
}

// ValidateName checks that name can be used as a scope directory.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidScopeName, name)
	}
	return nil
}

// NewScope returns an unloaded scope stored under root/name.
func NewScope(name, root string, o Options) *Scope {
	return &Scope{
		Name:    name,
		Path:    filepath.Join(root, name),
		Options: o,
	}
}

// Loaded reports whether the meta record and pack list are in memory.
// Individual packs may still be unloaded.
func (s *Scope) Loaded() bool {
	return s.Meta.IsLoaded() && s.Packs.IsLoaded()
}

// Reset replaces the scope state with an empty, loaded layout.
func (s *Scope) Reset() {
	s.Meta.Set(NewMeta(s.Options))
	s.Packs.Set(make([][]*Pack, s.Options.BucketSize))
}

// SetMeta installs meta and derives an unloaded pack list from it.
func (s *Scope) SetMeta(m *Meta) {
	packs := make([][]*Pack, len(m.Packs))
	for b, bucket := range m.Packs {
		packs[b] = make([]*Pack, len(bucket))
		for i, fm := range bucket {
			packs[b][i] = New(s.PackPath(b, fm.Name))
		}
	}
	s.Meta.Set(m)
	s.Packs.Set(packs)
}

// MetaPath returns the path of the scope's meta file.
func (s *Scope) MetaPath() string {
	return filepath.Join(s.Path, MetaFileName)
}

// BucketPath returns the directory holding the packs of bucket.
func (s *Scope) BucketPath(bucket int) string {
	return filepath.Join(s.Path, strconv.Itoa(bucket))
}

// PackPath returns the path of pack name in bucket.
func (s *Scope) PackPath(bucket int, name string) string {
	return filepath.Join(s.BucketPath(bucket), name)
}
