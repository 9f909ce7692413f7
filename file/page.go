package file

import (
	"encoding/binary"
	"errors"
	"math"
	"unicode/utf8"
)

const (
	// IntSize is the encoded width of an int field.
	IntSize = 4
	// LongSize is the encoded width of an int64 or float64 field.
	LongSize = 8
	// PageLSNSize is the width of the pageLSN header at the start of every data page.
	PageLSNSize = LongSize
)

// Page represents a page in the database file.
// A page is a fixed-size block of data that is read from or written to disk as a unit.
// Pages are the unit of transfer between disk and main memory. Data pages reserve their first
// PageLSNSize bytes for the LSN of the last log record reflected in their contents; the same type
// is also used as a plain byte cursor when encoding log records.
type Page struct {
	buffer []byte
}

// NewPage creates a Page with a buffer of the given block size.
func NewPage(blockSize int) *Page {
	return &Page{buffer: make([]byte, blockSize)}
}

// NewPageFromBytes creates a Page by wrapping the provided byte slice.
func NewPageFromBytes(bytes []byte) *Page {
	return &Page{buffer: bytes}
}

// GetInt retrieves a 32-bit integer from the buffer at the specified offset.
func (p *Page) GetInt(offset int) int {
	return int(int32(binary.BigEndian.Uint32(p.buffer[offset:])))
}

// SetInt writes a 32-bit integer to the buffer at the specified offset.
func (p *Page) SetInt(offset int, n int) {
	binary.BigEndian.PutUint32(p.buffer[offset:], uint32(int32(n)))
}

// GetLong retrieves a 64-bit integer from the buffer at the specified offset.
func (p *Page) GetLong(offset int) int64 {
	return int64(binary.BigEndian.Uint64(p.buffer[offset:]))
}

// SetLong writes a 64-bit integer to the buffer at the specified offset.
func (p *Page) SetLong(offset int, n int64) {
	binary.BigEndian.PutUint64(p.buffer[offset:], uint64(n))
}

func (p *Page) GetFloat(offset int) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(p.buffer[offset:]))
}

func (p *Page) SetFloat(offset int, f float64) {
	binary.BigEndian.PutUint64(p.buffer[offset:], math.Float64bits(f))
}

// GetBytes retrieves a length-prefixed byte slice from the buffer starting at the specified offset.
func (p *Page) GetBytes(offset int) []byte {
	length := p.GetInt(offset)
	start := offset + IntSize
	end := start + length
	b := make([]byte, length)
	copy(b, p.buffer[start:end])
	return b
}

// SetBytes writes a length-prefixed byte slice to the buffer starting at the specified offset.
func (p *Page) SetBytes(offset int, b []byte) {
	p.SetInt(offset, len(b))
	copy(p.buffer[offset+IntSize:], b)
}

// GetString retrieves a string from the buffer at the specified offset.
func (p *Page) GetString(offset int) (string, error) {
	b := p.GetBytes(offset)
	if !utf8.Valid(b) {
		return "", errors.New("invalid UTF-8 encoding")
	}
	return string(b), nil
}

// SetString writes a string to the buffer at the specified offset.
func (p *Page) SetString(offset int, s string) error {
	if !utf8.ValidString(s) {
		return errors.New("string contains invalid UTF-8 characters")
	}
	p.SetBytes(offset, []byte(s))
	return nil
}

// Slice returns a copy of n raw bytes starting at offset.
func (p *Page) Slice(offset, n int) []byte {
	b := make([]byte, n)
	copy(b, p.buffer[offset:offset+n])
	return b
}

// Put copies raw bytes into the buffer at offset, without a length prefix.
func (p *Page) Put(offset int, b []byte) {
	copy(p.buffer[offset:], b)
}

// PageLSN returns the LSN stored in the data page header.
func (p *Page) PageLSN() int64 {
	return p.GetLong(0)
}

func (p *Page) SetPageLSN(lsn int64) {
	p.SetLong(0, lsn)
}

// Contents returns the byte buffer maintained by the Page.
func (p *Page) Contents() []byte {
	return p.buffer
}

// Size returns the number of bytes in the page.
func (p *Page) Size() int {
	return len(p.buffer)
}
