package split

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/packstore/internal/pack"
	"github.com/meigma/packstore/internal/sizing"
	"github.com/meigma/packstore/packfs"
)

// ReadPackKeys reads the keys of the pack at path. It reports false, not an
// error, when the file does not exist.
func (s *Strategy) ReadPackKeys(path string) (pack.Keys, bool, error) {
	r, ok, err := s.open(path)
	if err != nil || !ok {
		return nil, false, err
	}
	defer r.Close()

	keys, err := decodeKeys(path, r)
	if err != nil {
		return nil, false, err
	}
	return keys, true, nil
}

// ReadPackContents reads the values of the pack at path without
// materializing its keys. It reports false when the file does not exist.
func (s *Strategy) ReadPackContents(path string) (pack.Contents, bool, error) {
	r, ok, err := s.open(path)
	if err != nil || !ok {
		return nil, false, err
	}
	defer r.Close()

	contents, err := decodeContents(path, r)
	if err != nil {
		return nil, false, err
	}
	return contents, true, nil
}

// LoadPack fully loads p in a single read and verifies it against the
// digest recorded in fm. A pack that is missing, or whose bytes do not
// match, is reported as pack.ErrCorrupted since the meta references it.
func (s *Strategy) LoadPack(p *pack.Pack, fm pack.FileMeta) error {
	if p.Loaded() {
		return nil
	}
	if p.Keys.IsLoaded() {
		contents, ok, err := s.ReadPackContents(p.Path)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s: pack missing", pack.ErrCorrupted, p.Path)
		}
		if len(contents) != len(p.Keys.Value()) {
			return fmt.Errorf("%w: %s: key/value count mismatch", pack.ErrCorrupted, p.Path)
		}
		p.Contents.Set(contents)
		return nil
	}

	r, ok, err := s.open(p.Path)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s: pack missing", pack.ErrCorrupted, p.Path)
	}
	data, err := r.Remain()
	_ = r.Close()
	if err != nil {
		return err
	}

	if err := fm.Hash.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", pack.ErrCorrupted, p.Path, err)
	}
	if fm.Hash.Algorithm().FromBytes(data) != fm.Hash {
		return fmt.Errorf("%w: %s: digest mismatch", pack.ErrCorrupted, p.Path)
	}

	keys, err := decodeKeys(p.Path, packfs.NewBytesReader(p.Path, data))
	if err != nil {
		return err
	}
	contents, err := decodeContents(p.Path, packfs.NewBytesReader(p.Path, data))
	if err != nil {
		return err
	}
	p.Keys.Set(keys)
	p.Contents.Set(contents)
	return nil
}

func (s *Strategy) open(path string) (packfs.Reader, bool, error) {
	ok, err := s.fs.Exists(path)
	if err != nil || !ok {
		return nil, false, err
	}
	r, err := s.fs.ReadFile(path)
	if err != nil {
		return nil, false, truncated(path, err)
	}
	return r, true, nil
}

func decodeKeys(path string, r packfs.Reader) (pack.Keys, error) {
	keyLens, err := readLengths(path, r)
	if err != nil {
		return nil, err
	}
	valueLens, err := readLengths(path, r)
	if err != nil {
		return nil, err
	}
	if len(keyLens) != len(valueLens) {
		return nil, fmt.Errorf("%w: %s: %d keys but %d values", pack.ErrCorrupted, path, len(keyLens), len(valueLens))
	}
	return readItems(path, r, keyLens)
}

func decodeContents(path string, r packfs.Reader) (pack.Contents, error) {
	keyLens, err := readLengths(path, r)
	if err != nil {
		return nil, err
	}
	valueLens, err := readLengths(path, r)
	if err != nil {
		return nil, err
	}
	if len(keyLens) != len(valueLens) {
		return nil, fmt.Errorf("%w: %s: %d keys but %d values", pack.ErrCorrupted, path, len(keyLens), len(valueLens))
	}
	total, err := sizing.Sum(keyLens, pack.ErrCorrupted)
	if err != nil {
		return nil, corrupted(path, "key length overflow")
	}
	if err := r.Skip(total); err != nil {
		return nil, truncated(path, err)
	}
	return readItems(path, r, valueLens)
}

func readLengths(path string, r packfs.Reader) ([]int, error) {
	line, err := r.Line()
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(line)
	lens := make([]int, len(fields))
	for i, f := range fields {
		n, err := sizing.ParseLength(f, pack.ErrCorrupted)
		if err != nil {
			return nil, corrupted(path, fmt.Sprintf("bad length %q", f))
		}
		lens[i] = n
	}
	return lens, nil
}

func readItems(path string, r packfs.Reader, lens []int) ([][]byte, error) {
	items := make([][]byte, 0, len(lens))
	for _, n := range lens {
		b, err := r.Bytes(n)
		if err != nil {
			return nil, truncated(path, err)
		}
		items = append(items, b)
	}
	return items, nil
}

func corrupted(path, reason string) error {
	return fmt.Errorf("%w: %s: %s", pack.ErrCorrupted, path, reason)
}

// truncated maps a short read or an undecodable file to pack.ErrCorrupted
// and passes other I/O failures through.
func truncated(path string, err error) error {
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: %s: truncated: %v", pack.ErrCorrupted, path, err)
	case errors.Is(err, packfs.ErrCorrupt):
		return fmt.Errorf("%w: %s: %v", pack.ErrCorrupted, path, err)
	}
	return err
}

// packDigester computes the digest of a pack while it is written.
func packDigester() digest.Digester {
	return digest.Canonical.Digester()
}
