package mlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/heapshot-analysis/pkg/errors"
)

func TestBodyReader_ULEB(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected uint64
	}{
		{"zero", []byte{0x00}, 0},
		{"single byte", []byte{0x7f}, 127},
		{"two bytes", []byte{0x80, 0x01}, 128},
		{"624485", []byte{0xe5, 0x8e, 0x26}, 624485},
		{"max uint64", []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01}, ^uint64(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newBodyReader(tt.input)
			v, err := r.readULEB()
			require.NoError(t, err)
			assert.Equal(t, tt.expected, v)
			assert.Equal(t, 0, r.remaining())
		})
	}
}

func TestBodyReader_SLEB(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected int64
	}{
		{"zero", []byte{0x00}, 0},
		{"two", []byte{0x02}, 2},
		{"minus one", []byte{0x7f}, -1},
		{"minus 128", []byte{0x80, 0x7f}, -128},
		{"63", []byte{0x3f}, 63},
		{"64", []byte{0xc0, 0x00}, 64},
		{"minus 123456", []byte{0xc0, 0xbb, 0x78}, -123456},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newBodyReader(tt.input)
			v, err := r.readSLEB()
			require.NoError(t, err)
			assert.Equal(t, tt.expected, v)
			assert.Equal(t, 0, r.remaining())
		})
	}
}

func TestBodyReader_Overrun(t *testing.T) {
	tests := []struct {
		name string
		read func(r *bodyReader) error
		buf  []byte
	}{
		{"uleb continuation past end", func(r *bodyReader) error { _, err := r.readULEB(); return err }, []byte{0x80}},
		{"sleb on empty", func(r *bodyReader) error { _, err := r.readSLEB(); return err }, nil},
		{"uleb too long", func(r *bodyReader) error { _, err := r.readULEB(); return err },
			[]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x01}},
		{"unterminated string", func(r *bodyReader) error { _, err := r.readCString(); return err }, []byte("abc")},
		{"double short", func(r *bodyReader) error { _, err := r.readDouble(); return err }, []byte{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.read(newBodyReader(tt.buf))
			assert.True(t, apperrors.IsMalformedRecord(err), "got %v", err)
		})
	}
}

func TestBodyReader_CString(t *testing.T) {
	r := newBodyReader([]byte("System.String\x00rest\x00"))

	s, err := r.readCString()
	require.NoError(t, err)
	assert.Equal(t, "System.String", s)

	s, err = r.readCString()
	require.NoError(t, err)
	assert.Equal(t, "rest", s)
	assert.Equal(t, 0, r.remaining())
}
