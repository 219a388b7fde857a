// Package compression holds the codecs an assembled buffer can be written
// out with.
package compression

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/DataDog/zstd"
	"github.com/andybalholm/brotli"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4"
)

// Codec compresses and decompresses whole buffers.
type Codec interface {
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
	Name() string
}

var codecs = map[string]func() Codec{
	"none":   func() Codec { return &None{} },
	"gzip":   func() Codec { return &Gzip{Level: gzip.DefaultCompression} },
	"snappy": func() Codec { return &Snappy{} },
	"lz4":    func() Codec { return &Lz4{} },
	"zstd":   func() Codec { return &Zstd{Level: zstd.DefaultCompression} },
	"brotli": func() Codec { return &Brotli{Level: brotli.DefaultCompression} },
}

// Lookup returns the codec registered under name with its default level.
// The empty name is "none".
func Lookup(name string) (Codec, error) {
	if name == "" {
		name = "none"
	}
	f, ok := codecs[name]
	if !ok {
		return nil, fmt.Errorf("unknown codec %q (available: %v)", name, Names())
	}
	return f(), nil
}

// Names returns the sorted codec names.
func Names() []string {
	var names []string
	for n := range codecs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type writeCloser interface {
	io.Writer
	io.Closer
}

func compressWith(src []byte, f func(io.Writer) (writeCloser, error)) ([]byte, error) {
	buf := new(bytes.Buffer)
	w, err := f(buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type Lz4 struct{}

func (c *Lz4) Compress(src []byte) ([]byte, error) {
	return compressWith(src, func(w io.Writer) (writeCloser, error) {
		return lz4.NewWriter(w), nil
	})
}

func (c *Lz4) Decompress(src []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(src)))
}

func (c *Lz4) Name() string {
	return "lz4"
}

type Zstd struct {
	Level int
}

func (c *Zstd) Compress(src []byte) ([]byte, error) {
	return zstd.CompressLevel(nil, src, c.Level)
}

func (c *Zstd) Decompress(src []byte) ([]byte, error) {
	return zstd.Decompress(nil, src)
}

func (c *Zstd) Name() string {
	return "zstd"
}

type Gzip struct {
	Level int
}

func (c *Gzip) Compress(src []byte) ([]byte, error) {
	return compressWith(src, func(w io.Writer) (writeCloser, error) {
		return gzip.NewWriterLevel(w, c.Level)
	})
}

func (c *Gzip) Decompress(src []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (c *Gzip) Name() string {
	return "gzip"
}

// Snappy uses the block format, not the framed stream format.
type Snappy struct{}

func (c *Snappy) Compress(src []byte) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

func (c *Snappy) Decompress(src []byte) ([]byte, error) {
	return snappy.Decode(nil, src)
}

func (c *Snappy) Name() string {
	return "snappy"
}

type Brotli struct {
	Level int
}

func (c *Brotli) Compress(src []byte) ([]byte, error) {
	return compressWith(src, func(w io.Writer) (writeCloser, error) {
		return brotli.NewWriterLevel(w, c.Level), nil
	})
}

func (c *Brotli) Decompress(src []byte) ([]byte, error) {
	return io.ReadAll(brotli.NewReader(bytes.NewReader(src)))
}

func (c *Brotli) Name() string {
	return "brotli"
}

type None struct{}

func (c *None) Compress(src []byte) ([]byte, error) {
	return src, nil
}

func (c *None) Decompress(src []byte) ([]byte, error) {
	return src, nil
}

func (c *None) Name() string {
	return "none"
}
