package etl

// reader.go prepares raw source bytes before parsing:
//
//   - bomReader drops a leading UTF-8 BOM written by spreadsheet exports
//   - countingReader tracks bytes read and enforces the source size limit
//   - sanitizeUTF8 replaces invalid byte sequences with U+FFFD
//
// Use readSource to apply all of them in order.

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// errSourceTooLarge is returned by countingReader once the limit is passed.
var errSourceTooLarge = errors.New("source too large")

// bomReader skips a UTF-8 byte order mark at the start of the stream.
type bomReader struct {
	br      *bufio.Reader
	checked bool
}

func newBOMReader(r io.Reader) *bomReader {
	return &bomReader{br: bufio.NewReader(r)}
}

func (r *bomReader) Read(p []byte) (int, error) {
	if !r.checked {
		r.checked = true
		if head, err := r.br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
			_, _ = r.br.Discard(len(utf8BOM))
		}
	}
	return r.br.Read(p)
}

// countingReader counts bytes and fails once more than limit bytes were read.
// A limit <= 0 disables the check.
type countingReader struct {
	r     io.Reader
	limit int64
	n     int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if c.limit > 0 && c.n > c.limit {
		return n, fmt.Errorf("%w: more than %d bytes", errSourceTooLarge, c.limit)
	}
	return n, err
}

// readSource drains r through the BOM and size filters and returns valid UTF-8.
func readSource(r io.Reader, limit int64) ([]byte, int64, error) {
	cr := &countingReader{r: newBOMReader(r), limit: limit}
	data, err := io.ReadAll(cr)
	if err != nil {
		return nil, cr.n, err
	}
	return sanitizeUTF8(data), cr.n, nil
}

// sanitizeUTF8 replaces each invalid byte with the replacement character.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data) + 8)

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune(utf8.RuneError)
		} else {
			buf.Write(data[:size])
		}
		data = data[size:]
	}

	return buf.Bytes()
}
