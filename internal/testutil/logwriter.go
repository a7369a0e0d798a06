package testutil

import (
	"bytes"
	"encoding/binary"
	"math"
)

const (
	streamMagic = 0x4D505A01
	bufferMagic = 0x4D504C01
)

// Leading bytes (basic type | extended type) of the records tests emit most.
const (
	LeadAlloc          byte = 0x00
	LeadAllocBacktrace byte = 0x10
	LeadGCMove         byte = 0x31
	LeadClassLoad      byte = 0x22
	LeadMethodEnter    byte = 0x23
	LeadMonitor        byte = 0x05
	LeadHeapBegin      byte = 0x06
	LeadHeapEnd        byte = 0x16
	LeadHeapObject     byte = 0x26
	LeadHeapRoots      byte = 0x36
	LeadSyncPoint      byte = 0x0A
)

// LogWriter assembles a log profiler stream byte by byte.
type LogWriter struct {
	Version     byte
	PointerSize byte
	buf         bytes.Buffer
}

// NewLogWriter creates a writer for the given format version and pointer size.
func NewLogWriter(version, pointerSize byte) *LogWriter {
	return &LogWriter{Version: version, PointerSize: pointerSize}
}

// StreamHeader writes a stream header with fixed process metadata.
func (w *LogWriter) StreamHeader() *LogWriter {
	var fixed [30]byte
	binary.LittleEndian.PutUint32(fixed[0:4], streamMagic)
	fixed[4], fixed[5], fixed[6], fixed[7] = 4, 0, w.Version, w.PointerSize
	binary.LittleEndian.PutUint64(fixed[8:16], 1_700_000_000_000)
	binary.LittleEndian.PutUint32(fixed[16:20], 20)
	binary.LittleEndian.PutUint32(fixed[20:24], 0)
	binary.LittleEndian.PutUint32(fixed[24:28], 4242)
	binary.LittleEndian.PutUint16(fixed[28:30], 0)
	w.buf.Write(fixed[:])

	for _, s := range []string{"mono --profile=log:heapshot app.exe", "x86_64", "linux"} {
		var n [4]byte
		binary.LittleEndian.PutUint32(n[:], uint32(len(s)+1))
		w.buf.Write(n[:])
		w.buf.WriteString(s)
		w.buf.WriteByte(0)
	}
	return w
}

// NewBuffer starts a buffer whose events are encoded against the given bases.
func (w *LogWriter) NewBuffer(timeBase uint64, pointerBase, objectBase, methodBase int64) *BufferBuilder {
	return &BufferBuilder{
		version:       w.Version,
		TimeBase:      timeBase,
		PointerBase:   pointerBase,
		ObjectBase:    objectBase,
		MethodBase:    methodBase,
		ThreadID:      1,
		currentMethod: methodBase,
	}
}

// Buffer appends a buffer header declaring the builder's body length, then the body.
func (w *LogWriter) Buffer(b *BufferBuilder) *LogWriter {
	w.buf.Write(b.Header(b.body.Len()))
	w.buf.Write(b.body.Bytes())
	return w
}

// Raw appends arbitrary bytes.
func (w *LogWriter) Raw(p []byte) *LogWriter {
	w.buf.Write(p)
	return w
}

// Bytes returns the encoded stream.
func (w *LogWriter) Bytes() []byte {
	return bytes.Clone(w.buf.Bytes())
}

// BufferBuilder encodes the body of a single buffer.
type BufferBuilder struct {
	TimeBase    uint64
	PointerBase int64
	ObjectBase  int64
	MethodBase  int64
	ThreadID    int64

	version       byte
	currentMethod int64
	body          bytes.Buffer
}

// Header returns the 48-byte buffer header declaring length bytes of body.
func (b *BufferBuilder) Header(length int) []byte {
	h := make([]byte, 48)
	binary.LittleEndian.PutUint32(h[0:4], bufferMagic)
	binary.LittleEndian.PutUint32(h[4:8], uint32(int32(length)))
	binary.LittleEndian.PutUint64(h[8:16], b.TimeBase)
	binary.LittleEndian.PutUint64(h[16:24], uint64(b.PointerBase))
	binary.LittleEndian.PutUint64(h[24:32], uint64(b.ObjectBase))
	binary.LittleEndian.PutUint64(h[32:40], uint64(b.MethodBase))
	binary.LittleEndian.PutUint64(h[40:48], uint64(b.ThreadID))
	return h
}

// Body returns a copy of the encoded body.
func (b *BufferBuilder) Body() []byte { return bytes.Clone(b.body.Bytes()) }

// Len returns the body length so far.
func (b *BufferBuilder) Len() int { return b.body.Len() }

// Event writes a leading byte and its time delta.
func (b *BufferBuilder) Event(lead byte, timeDelta uint64) *BufferBuilder {
	b.body.WriteByte(lead)
	return b.ULEB(timeDelta)
}

func (b *BufferBuilder) Byte(v byte) *BufferBuilder {
	b.body.WriteByte(v)
	return b
}

func (b *BufferBuilder) ULEB(v uint64) *BufferBuilder {
	b.body.Write(binary.AppendUvarint(nil, v))
	return b
}

// SLEB writes a signed LEB128 value.
func (b *BufferBuilder) SLEB(v int64) *BufferBuilder {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			b.body.WriteByte(c)
			return b
		}
		b.body.WriteByte(c | 0x80)
	}
}

func (b *BufferBuilder) CString(s string) *BufferBuilder {
	b.body.WriteString(s)
	b.body.WriteByte(0)
	return b
}

func (b *BufferBuilder) Double(f float64) *BufferBuilder {
	var raw [8]byte
	binary.LittleEndian.PutUint64(raw[:], math.Float64bits(f))
	b.body.Write(raw[:])
	return b
}

// Pointer encodes an absolute address as a delta from the pointer base.
func (b *BufferBuilder) Pointer(p int64) *BufferBuilder {
	return b.SLEB(p - b.PointerBase)
}

// Object encodes an object id; id must be a multiple of 8.
func (b *BufferBuilder) Object(id int64) *BufferBuilder {
	return b.SLEB(id>>3 - b.ObjectBase)
}

// Method encodes an absolute method pointer against the running method value.
func (b *BufferBuilder) Method(m int64) *BufferBuilder {
	b.SLEB(m - b.currentMethod)
	b.currentMethod = m
	return b
}

// Alloc writes an allocation without backtrace.
func (b *BufferBuilder) Alloc(timeDelta uint64, class, object int64, size uint64) *BufferBuilder {
	return b.Event(LeadAlloc, timeDelta).Pointer(class).Object(object).ULEB(size)
}

// ClassLoad writes a class load record.
func (b *BufferBuilder) ClassLoad(timeDelta uint64, class, image int64, name string) *BufferBuilder {
	return b.Event(LeadClassLoad, timeDelta).Byte(1).Pointer(class).Pointer(image).CString(name)
}

// GCMove writes a move record for old/new pairs.
func (b *BufferBuilder) GCMove(timeDelta uint64, pairs ...[2]int64) *BufferBuilder {
	b.Event(LeadGCMove, timeDelta).ULEB(uint64(len(pairs) * 2))
	for _, p := range pairs {
		b.Object(p[0]).Object(p[1])
	}
	return b
}

func (b *BufferBuilder) HeapBegin(timeDelta uint64) *BufferBuilder {
	return b.Event(LeadHeapBegin, timeDelta)
}

func (b *BufferBuilder) HeapEnd(timeDelta uint64) *BufferBuilder {
	return b.Event(LeadHeapEnd, timeDelta)
}

// Ref is an outgoing reference of a heap object.
type Ref struct {
	Offset uint64
	Object int64
}

// HeapObject writes one heap walk object.
func (b *BufferBuilder) HeapObject(timeDelta uint64, object, class int64, size uint64, refs ...Ref) *BufferBuilder {
	b.Event(LeadHeapObject, timeDelta).Object(object).Pointer(class).ULEB(size).ULEB(uint64(len(refs)))
	for _, r := range refs {
		b.ULEB(r.Offset).Object(r.Object)
	}
	return b
}

// Root is one entry of a heap roots record.
type Root struct {
	Object     int64
	Attributes uint64
	ExtraInfo  uint64
}

// HeapRoots writes a roots record, encoding attributes as the format version requires.
func (b *BufferBuilder) HeapRoots(timeDelta uint64, roots ...Root) *BufferBuilder {
	b.Event(LeadHeapRoots, timeDelta).ULEB(uint64(len(roots))).ULEB(0)
	for _, r := range roots {
		b.Object(r.Object)
		if b.version == 13 {
			b.Byte(byte(r.Attributes))
		} else {
			b.ULEB(r.Attributes)
		}
		b.ULEB(r.ExtraInfo)
	}
	return b
}

// SyncPoint writes a synchronization point.
func (b *BufferBuilder) SyncPoint(timeDelta uint64, syncType byte) *BufferBuilder {
	return b.Event(LeadSyncPoint, timeDelta).Byte(syncType)
}
