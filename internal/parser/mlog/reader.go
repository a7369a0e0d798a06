package mlog

import (
	"bytes"
	"encoding/binary"
	"math"

	apperrors "github.com/heapshot-analysis/pkg/errors"
)

// bodyReader is a cursor over one fully buffered record area. Reading past
// the end is always a malformed record: the declared length is authoritative.
type bodyReader struct {
	buf []byte
	pos int
}

func newBodyReader(buf []byte) *bodyReader {
	return &bodyReader{buf: buf}
}

func (r *bodyReader) remaining() int { return len(r.buf) - r.pos }

func (r *bodyReader) overrun(n int) error {
	return apperrors.Newf(apperrors.CodeMalformedRecord,
		"record overruns its buffer: need %d bytes at offset %d, %d left", n, r.pos, r.remaining())
}

func (r *bodyReader) take(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, r.overrun(n)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *bodyReader) ReadByte() (byte, error) {
	if r.remaining() < 1 {
		return 0, r.overrun(1)
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *bodyReader) readUint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *bodyReader) readUint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *bodyReader) readUint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *bodyReader) readDouble() (float64, error) {
	v, err := r.readUint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// readULEB reads an unsigned LEB128 value of at most 64 bits.
func (r *bodyReader) readULEB() (uint64, error) {
	var value uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		if shift >= 64 {
			return 0, apperrors.Newf(apperrors.CodeMalformedRecord, "ULEB128 value at offset %d exceeds 64 bits", r.pos)
		}
		value |= uint64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			return value, nil
		}
	}
}

// readSLEB reads a signed LEB128 value of at most 64 bits.
func (r *bodyReader) readSLEB() (int64, error) {
	var value int64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		if shift >= 64 {
			return 0, apperrors.Newf(apperrors.CodeMalformedRecord, "SLEB128 value at offset %d exceeds 64 bits", r.pos)
		}
		value |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				value |= -1 << shift
			}
			return value, nil
		}
	}
}

// readCString reads a NUL-terminated string.
func (r *bodyReader) readCString() (string, error) {
	i := bytes.IndexByte(r.buf[r.pos:], 0)
	if i < 0 {
		return "", apperrors.Newf(apperrors.CodeMalformedRecord, "unterminated string at offset %d", r.pos)
	}
	s := string(r.buf[r.pos : r.pos+i])
	r.pos += i + 1
	return s, nil
}
