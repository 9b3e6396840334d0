package packfs

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// DefaultMaxDecoderMemory bounds the memory a single decode may use (256MB).
const DefaultMaxDecoderMemory = 256 << 20

// Compressed wraps another FS and stores every file zstd-compressed.
//
// Files are buffered in memory while written and decoded in full when
// opened, so readers see the original bytes and can Skip cheaply.
// Metadata reports the stored (compressed) size.
type Compressed struct {
	FS
	level            zstd.EncoderLevel
	maxDecoderMemory uint64
	enc              *zstd.Encoder
	dec              *zstd.Decoder
}

// Interface compliance.
var _ FS = (*Compressed)(nil)

// CompressedOption configures a Compressed filesystem.
type CompressedOption func(*Compressed)

// WithEncoderLevel sets the zstd encoder level (default: zstd.SpeedDefault).
func WithEncoderLevel(level zstd.EncoderLevel) CompressedOption {
	return func(c *Compressed) {
		c.level = level
	}
}

// WithMaxDecoderMemory limits the memory used to decode one file.
// Set limit to 0 to disable the limit.
func WithMaxDecoderMemory(limit uint64) CompressedOption {
	return func(c *Compressed) {
		c.maxDecoderMemory = limit
	}
}

// NewCompressed returns an FS that compresses everything it stores in inner.
func NewCompressed(inner FS, opts ...CompressedOption) (*Compressed, error) {
	c := &Compressed{
		FS:               inner,
		level:            zstd.SpeedDefault,
		maxDecoderMemory: DefaultMaxDecoderMemory,
	}
	for _, opt := range opts {
		opt(c)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(c.level), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decOpts := []zstd.DOption{zstd.WithDecoderConcurrency(1)}
	if c.maxDecoderMemory != 0 {
		decOpts = append(decOpts, zstd.WithDecoderMaxMemory(c.maxDecoderMemory))
	}
	dec, err := zstd.NewReader(nil, decOpts...)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	c.enc = enc
	c.dec = dec
	return c, nil
}

// WriteFile implements FS.
func (c *Compressed) WriteFile(path string) (Writer, error) {
	inner, err := c.FS.WriteFile(path)
	if err != nil {
		return nil, err
	}
	return &compressedWriter{fs: c, path: path, inner: inner}, nil
}

// ReadFile implements FS.
func (c *Compressed) ReadFile(path string) (Reader, error) {
	inner, err := c.FS.ReadFile(path)
	if err != nil {
		return nil, err
	}
	defer inner.Close()

	stored, err := inner.Remain()
	if err != nil {
		return nil, err
	}
	// DecodeAll and EncodeAll are safe for concurrent use on a shared coder.
	data, err := c.dec.DecodeAll(stored, nil)
	if err != nil {
		return nil, wrap(OpRead, path, fmt.Errorf("decompress: %w: %w", ErrCorrupt, err))
	}
	return NewBytesReader(path, data), nil
}

// Close releases the encoder and decoder. The wrapped FS is left untouched.
func (c *Compressed) Close() error {
	c.dec.Close()
	return c.enc.Close()
}

type compressedWriter struct {
	fs    *Compressed
	path  string
	inner Writer
	buf   []byte
	done  bool
}

func (w *compressedWriter) Line(text string) error {
	if w.done {
		return wrap(OpWrite, w.path, errFinished)
	}
	w.buf = append(w.buf, text...)
	w.buf = append(w.buf, '\n')
	return nil
}

func (w *compressedWriter) Bytes(data []byte) error {
	if w.done {
		return wrap(OpWrite, w.path, errFinished)
	}
	w.buf = append(w.buf, data...)
	return nil
}

func (w *compressedWriter) Write(data []byte) error {
	if w.done {
		return wrap(OpWrite, w.path, errFinished)
	}
	w.buf = append(w.buf[:0], data...)
	return w.Flush()
}

func (w *compressedWriter) Flush() error {
	if w.done {
		return nil
	}
	w.done = true
	stored := w.fs.enc.EncodeAll(w.buf, nil)
	w.buf = nil
	return w.inner.Write(stored)
}

func (w *compressedWriter) Close() error {
	w.done = true
	w.buf = nil
	return w.inner.Close()
}
