package mlog

import (
	"bytes"
	"context"
	"encoding/binary"

	apperrors "github.com/heapshot-analysis/pkg/errors"
)

// streamHeaderFixedSize covers magic through port.
const streamHeaderFixedSize = 30

// maxHeaderStringLength bounds the argument/architecture/OS strings.
const maxHeaderStringLength = 1 << 20

// StreamHeader is the one-time preamble of a log stream. It governs how every
// later buffer is decoded.
type StreamHeader struct {
	MajorVersion    byte
	MinorVersion    byte
	FormatVersion   byte
	PointerSize     byte
	StartupTime     uint64
	TimerOverhead   int32
	Flags           int32
	ProcessID       int32
	Port            uint16
	Arguments       string
	Architecture    string
	OperatingSystem string
}

// BufferHeader frames one buffer of events and carries the bases its events
// are delta encoded against.
type BufferHeader struct {
	Length      int32
	TimeBase    uint64
	PointerBase int64
	ObjectBase  int64
	MethodBase  int64
	ThreadID    int64

	// Offset is the stream offset of the header, for diagnostics.
	Offset int64
}

func readStreamHeader(ctx context.Context, c *streamCursor) (*StreamHeader, error) {
	fixed := make([]byte, streamHeaderFixedSize)
	if err := c.readFull(ctx, fixed, false); err != nil {
		return nil, err
	}

	if magic := binary.LittleEndian.Uint32(fixed[0:4]); magic != StreamMagic {
		return nil, apperrors.Newf(apperrors.CodeMalformedRecord, "invalid stream magic 0x%08x", magic)
	}

	h := &StreamHeader{
		MajorVersion:  fixed[4],
		MinorVersion:  fixed[5],
		FormatVersion: fixed[6],
		PointerSize:   fixed[7],
		StartupTime:   binary.LittleEndian.Uint64(fixed[8:16]),
		TimerOverhead: int32(binary.LittleEndian.Uint32(fixed[16:20])),
		Flags:         int32(binary.LittleEndian.Uint32(fixed[20:24])),
		ProcessID:     int32(binary.LittleEndian.Uint32(fixed[24:28])),
		Port:          binary.LittleEndian.Uint16(fixed[28:30]),
	}

	if h.FormatVersion < MinFormatVersion || h.FormatVersion > MaxFormatVersion {
		return nil, apperrors.Newf(apperrors.CodeMalformedRecord,
			"unsupported format version %d (supported %d..%d)", h.FormatVersion, MinFormatVersion, MaxFormatVersion)
	}
	if h.PointerSize != 4 && h.PointerSize != 8 {
		return nil, apperrors.Newf(apperrors.CodeMalformedRecord, "invalid pointer size %d", h.PointerSize)
	}

	var err error
	if h.Arguments, err = readHeaderString(ctx, c, "arguments"); err != nil {
		return nil, err
	}
	if h.Architecture, err = readHeaderString(ctx, c, "architecture"); err != nil {
		return nil, err
	}
	if h.OperatingSystem, err = readHeaderString(ctx, c, "operating system"); err != nil {
		return nil, err
	}
	return h, nil
}

// readHeaderString reads an int32 length (including the terminating NUL)
// followed by that many bytes.
func readHeaderString(ctx context.Context, c *streamCursor, field string) (string, error) {
	var lenBuf [4]byte
	if err := c.readFull(ctx, lenBuf[:], false); err != nil {
		return "", err
	}
	n := int32(binary.LittleEndian.Uint32(lenBuf[:]))
	if n < 0 || n > maxHeaderStringLength {
		return "", apperrors.Newf(apperrors.CodeMalformedRecord, "invalid %s length %d", field, n)
	}

	raw := make([]byte, n)
	if err := c.readFull(ctx, raw, false); err != nil {
		return "", err
	}
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	return string(raw), nil
}

func parseBufferHeader(raw []byte, offset int64, maxLength int) (*BufferHeader, error) {
	if magic := binary.LittleEndian.Uint32(raw[0:4]); magic != BufferMagic {
		return nil, apperrors.Newf(apperrors.CodeMalformedRecord, "invalid buffer magic 0x%08x at offset %d", magic, offset)
	}

	h := &BufferHeader{
		Length:      int32(binary.LittleEndian.Uint32(raw[4:8])),
		TimeBase:    binary.LittleEndian.Uint64(raw[8:16]),
		PointerBase: int64(binary.LittleEndian.Uint64(raw[16:24])),
		ObjectBase:  int64(binary.LittleEndian.Uint64(raw[24:32])),
		MethodBase:  int64(binary.LittleEndian.Uint64(raw[32:40])),
		ThreadID:    int64(binary.LittleEndian.Uint64(raw[40:48])),
		Offset:      offset,
	}

	if h.Length < 0 || int(h.Length) > maxLength {
		return nil, apperrors.Newf(apperrors.CodeMalformedRecord,
			"buffer at offset %d declares length %d (max %d)", offset, h.Length, maxLength)
	}
	return h, nil
}
