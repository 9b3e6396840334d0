package split

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/packstore/internal/pack"
	"github.com/meigma/packstore/internal/sizing"
)

// ReadMeta reads the meta file at path. It reports false when the file
// does not exist.
func (s *Strategy) ReadMeta(path string) (*pack.Meta, bool, error) {
	r, ok, err := s.open(path)
	if err != nil || !ok {
		return nil, false, err
	}
	defer r.Close()

	header, err := r.Line()
	if err != nil {
		return nil, false, err
	}
	meta, err := decodeMetaHeader(path, header)
	if err != nil {
		return nil, false, err
	}

	rest, err := r.Remain()
	if err != nil {
		return nil, false, err
	}
	// Every bucket line ends in a newline, so a well-formed body splits into
	// exactly BucketSize lines plus one empty tail.
	lines := strings.Split(string(rest), "\n")
	if len(lines) != meta.BucketSize+1 || lines[meta.BucketSize] != "" {
		return nil, false, corrupted(path, fmt.Sprintf("expected %d bucket lines, found %d", meta.BucketSize, len(lines)-1))
	}
	meta.Packs = make([][]pack.FileMeta, meta.BucketSize)
	for b := range meta.BucketSize {
		bucket, err := decodeBucketLine(path, lines[b])
		if err != nil {
			return nil, false, err
		}
		meta.Packs[b] = bucket
	}
	return meta, true, nil
}

func decodeMetaHeader(path, line string) (*pack.Meta, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return nil, corrupted(path, fmt.Sprintf("bad meta header %q", line))
	}
	bucketSize, err := sizing.ParseLength(fields[0], pack.ErrCorrupted)
	if err != nil || bucketSize < 1 {
		return nil, corrupted(path, fmt.Sprintf("bad bucket size %q", fields[0]))
	}
	packSize, err := sizing.ParseLength(fields[1], pack.ErrCorrupted)
	if err != nil || packSize < 1 {
		return nil, corrupted(path, fmt.Sprintf("bad pack size %q", fields[1]))
	}
	ts, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return nil, corrupted(path, fmt.Sprintf("bad timestamp %q", fields[2]))
	}
	return &pack.Meta{
		BucketSize: bucketSize,
		PackSize:   packSize,
		Timestamp:  time.UnixMilli(ts),
	}, nil
}

func decodeBucketLine(path, line string) ([]pack.FileMeta, error) {
	entries := strings.Fields(line)
	bucket := make([]pack.FileMeta, 0, len(entries))
	for _, entry := range entries {
		parts := strings.Split(entry, ",")
		if len(parts) != 3 || parts[0] == "" || strings.ContainsAny(parts[0], `/\`) {
			return nil, corrupted(path, fmt.Sprintf("bad pack entry %q", entry))
		}
		hash, err := digest.Parse(parts[1])
		if err != nil {
			return nil, corrupted(path, fmt.Sprintf("bad pack hash %q", parts[1]))
		}
		size, err := sizing.ParseLength(parts[2], pack.ErrCorrupted)
		if err != nil {
			return nil, corrupted(path, fmt.Sprintf("bad pack size %q", parts[2]))
		}
		bucket = append(bucket, pack.FileMeta{Name: parts[0], Hash: hash, Size: size})
	}
	return bucket, nil
}

// writeMeta writes meta to path.
func (s *Strategy) writeMeta(path string, meta *pack.Meta) error {
	w, err := s.fs.WriteFile(path)
	if err != nil {
		return err
	}
	defer w.Close()

	header := fmt.Sprintf("%d %d %d", meta.BucketSize, meta.PackSize, meta.Timestamp.UnixMilli())
	if err := w.Line(header); err != nil {
		return err
	}
	for _, bucket := range meta.Packs {
		entries := make([]string, len(bucket))
		for i, fm := range bucket {
			entries[i] = fmt.Sprintf("%s,%s,%d", fm.Name, fm.Hash, fm.Size)
		}
		if err := w.Line(strings.Join(entries, " ")); err != nil {
			return err
		}
	}
	return w.Flush()
}
