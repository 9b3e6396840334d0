package split

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	"github.com/cespare/xxhash/v2"

	"github.com/meigma/packstore/internal/pack"
	"github.com/meigma/packstore/packfs"
)

// ChooseBucket routes key to a bucket by the sum of its bytes. The sum is
// order-independent and stable across processes.
func ChooseBucket(key []byte, total int) int {
	var sum uint64
	for _, b := range key {
		sum += uint64(b)
	}
	return int(sum % uint64(total)) //nolint:gosec // result < total
}

// PackName returns the content-addressed name of a pack holding keys, in
// order. Packs with identical key lists get identical names.
func PackName(keys pack.Keys) string {
	h := xxhash.New()
	var lenBuf [8]byte
	for _, k := range keys {
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(k)))
		_, _ = h.Write(lenBuf[:])
		_, _ = h.Write(k)
	}
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(keys)))
	_, _ = h.Write(lenBuf[:])
	return fmt.Sprintf("%016x", h.Sum64())
}

// walkDir returns every file below root. A missing root yields no files.
func walkDir(fsys packfs.FS, root string) ([]string, error) {
	ok, err := fsys.Exists(root)
	if err != nil || !ok {
		return nil, err
	}
	var files []string
	stack := []string{root}
	for len(stack) > 0 {
		path := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		meta, err := fsys.Metadata(path)
		if err != nil {
			return nil, err
		}
		if !meta.IsDir {
			files = append(files, path)
			continue
		}
		names, err := fsys.ReadDir(path)
		if err != nil {
			return nil, err
		}
		for name := range names {
			stack = append(stack, filepath.Join(path, name))
		}
	}
	return files, nil
}
