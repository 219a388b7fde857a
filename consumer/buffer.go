package consumer

import (
	"bytes"
	"io"
)

// Buffer is the concatenation of (payload + delimiter) for each consumed
// message, in consumption order. Not safe for concurrent use.
type Buffer struct {
	delimiter []byte
	buf       bytes.Buffer
	count     int64
}

// NewBuffer returns an empty buffer framing messages with delimiter.
func NewBuffer(delimiter []byte) *Buffer {
	return &Buffer{delimiter: append([]byte(nil), delimiter...)}
}

// Append copies payload into the buffer followed by the delimiter.
func (b *Buffer) Append(payload []byte) {
	b.buf.Write(payload)
	b.buf.Write(b.delimiter)
	b.count++
}

// Bytes returns the buffer contents. The slice is valid until the next
// Append.
func (b *Buffer) Bytes() []byte {
	return b.buf.Bytes()
}

// Len is the size of the buffer in bytes.
func (b *Buffer) Len() int {
	return b.buf.Len()
}

// Count is the number of framed messages.
func (b *Buffer) Count() int64 {
	return b.count
}

// Messages splits the buffer back into payloads. The split is only exact when
// no payload contains the delimiter. Returns nil for an empty buffer or an
// empty delimiter.
func (b *Buffer) Messages() [][]byte {
	if b.count == 0 || len(b.delimiter) == 0 {
		return nil
	}
	data := bytes.TrimSuffix(b.buf.Bytes(), b.delimiter)
	return bytes.Split(data, b.delimiter)
}

// WriteTo writes the buffer to w without draining it.
func (b *Buffer) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(b.buf.Bytes())
	return int64(n), err
}
