package pack

import (
	"time"

	"github.com/opencontainers/go-digest"
)

// FileMeta describes one pack file in a scope's meta record.
type FileMeta struct {
	// Name is the pack file name inside its bucket directory.
	Name string
	// Hash is the digest of the serialized pack file.
	Hash digest.Digest
	// Size is the key+value byte total of the pack.
	Size int
}

// Meta is the durable index of a scope. Packs[b] lists the packs of bucket b.
type Meta struct {
	BucketSize int
	PackSize   int
	Timestamp  time.Time
	Packs      [][]FileMeta
}

// NewMeta returns an empty meta record laid out for o.
func NewMeta(o Options) *Meta {
	return &Meta{
		BucketSize: o.BucketSize,
		PackSize:   o.PackSize,
		Packs:      make([][]FileMeta, o.BucketSize),
	}
}

// PackCount returns the number of packs across all buckets.
func (m *Meta) PackCount() int {
	n := 0
	for _, bucket := range m.Packs {
		n += len(bucket)
	}
	return n
}
