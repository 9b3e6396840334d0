package pack

// Keys are the ordered keys of a pack.
type Keys = [][]byte

// Contents are the values of a pack, aligned with its Keys by index.
type Contents = [][]byte

// Pack is one physical pack file. Keys[i] belongs to Contents[i].
//
// A pack never changes once its keys are fixed: updates produce a
// replacement pack and mark the old file for removal.
type Pack struct {
	Path     string
	Keys     Lazy[Keys]
	Contents Lazy[Contents]
}

// New returns an unloaded pack at path.
func New(path string) *Pack {
	return &Pack{Path: path}
}

// NewLoaded returns a pack whose keys and contents are already in memory.
func NewLoaded(path string, keys Keys, contents Contents) *Pack {
	return &Pack{
		Path:     path,
		Keys:     Loaded(keys),
		Contents: Loaded(contents),
	}
}

// Loaded reports whether both keys and contents are in memory.
func (p *Pack) Loaded() bool {
	return p.Keys.IsLoaded() && p.Contents.IsLoaded()
}

// Size returns the total byte length of all keys and values.
// It panics unless the pack is loaded.
func (p *Pack) Size() int {
	size := 0
	for _, k := range p.Keys.Value() {
		size += len(k)
	}
	for _, v := range p.Contents.Value() {
		size += len(v)
	}
	return size
}
