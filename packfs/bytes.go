package packfs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

var errNegativeLength = errors.New("negative length")

// bytesReader implements Reader over an in-memory buffer.
type bytesReader struct {
	path string
	data []byte
	off  int
}

// NewBytesReader returns a Reader over data. The path is only used in
// error messages.
func NewBytesReader(path string, data []byte) Reader {
	return &bytesReader{path: path, data: data}
}

func (r *bytesReader) Line() (string, error) {
	rest := r.data[r.off:]
	i := bytes.IndexByte(rest, '\n')
	if i < 0 {
		r.off = len(r.data)
		return string(rest), nil
	}
	r.off += i + 1
	return string(rest[:i]), nil
}

func (r *bytesReader) Bytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, wrap(OpRead, r.path, errNegativeLength)
	}
	if len(r.data)-r.off < n {
		r.off = len(r.data)
		return nil, wrap(OpRead, r.path, io.ErrUnexpectedEOF)
	}
	out := make([]byte, n)
	copy(out, r.data[r.off:r.off+n])
	r.off += n
	return out, nil
}

func (r *bytesReader) Skip(n int) error {
	if n < 0 {
		return wrap(OpRead, r.path, errNegativeLength)
	}
	if len(r.data)-r.off < n {
		r.off = len(r.data)
		return wrap(OpRead, r.path, fmt.Errorf("skip %d bytes: %w", n, io.ErrUnexpectedEOF))
	}
	r.off += n
	return nil
}

func (r *bytesReader) Remain() ([]byte, error) {
	out := make([]byte, len(r.data)-r.off)
	copy(out, r.data[r.off:])
	r.off = len(r.data)
	return out, nil
}

func (r *bytesReader) Close() error {
	return nil
}
