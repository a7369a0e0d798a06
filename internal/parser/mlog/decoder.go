package mlog

import (
	apperrors "github.com/heapshot-analysis/pkg/errors"
)

// decodeContext is the mutable state of one buffer's decode pass. It is
// created per buffer and never shared.
type decodeContext struct {
	header        *StreamHeader
	buffer        *BufferHeader
	r             *bodyReader
	currentTime   uint64
	currentMethod int64
}

func newDecodeContext(sh *StreamHeader, bh *BufferHeader, body []byte) *decodeContext {
	return &decodeContext{
		header:        sh,
		buffer:        bh,
		r:             newBodyReader(body),
		currentTime:   bh.TimeBase,
		currentMethod: bh.MethodBase,
	}
}

func (d *decodeContext) done() bool { return d.r.remaining() == 0 }

func (d *decodeContext) version() byte { return d.header.FormatVersion }

func (d *decodeContext) readPointer() (Pointer, error) {
	v, err := d.r.readSLEB()
	if err != nil {
		return 0, err
	}
	p := v + d.buffer.PointerBase
	if d.header.PointerSize == 4 {
		p &= 0xffffffff
	}
	return Pointer(p), nil
}

func (d *decodeContext) readObject() (ObjectID, error) {
	v, err := d.r.readSLEB()
	if err != nil {
		return 0, err
	}
	return ObjectID((v + d.buffer.ObjectBase) << 3), nil
}

// readMethod applies a delta to the running method pointer and returns the new value.
func (d *decodeContext) readMethod() (MethodPointer, error) {
	v, err := d.r.readSLEB()
	if err != nil {
		return 0, err
	}
	d.currentMethod += v
	return MethodPointer(d.currentMethod), nil
}

func (d *decodeContext) readCount() (int, error) {
	n, err := d.r.readULEB()
	if err != nil {
		return 0, err
	}
	// Every element takes at least one byte.
	if n > uint64(d.r.remaining()) {
		return 0, apperrors.Newf(apperrors.CodeMalformedRecord,
			"element count %d exceeds %d remaining bytes", n, d.r.remaining())
	}
	return int(n), nil
}

func (d *decodeContext) readBacktrace(present bool) ([]MethodPointer, error) {
	if !present {
		return nil, nil
	}
	n, err := d.readCount()
	if err != nil {
		return nil, err
	}
	frames := make([]MethodPointer, n)
	for i := range frames {
		if frames[i], err = d.readMethod(); err != nil {
			return nil, err
		}
	}
	return frames, nil
}

func (d *decodeContext) readUnmanagedBacktrace() ([]Pointer, error) {
	n, err := d.readCount()
	if err != nil {
		return nil, err
	}
	frames := make([]Pointer, n)
	for i := range frames {
		if frames[i], err = d.readPointer(); err != nil {
			return nil, err
		}
	}
	return frames, nil
}

func invalidEvent(basic EventType, ext byte) error {
	return apperrors.Newf(apperrors.CodeMalformedRecord, "invalid extended type 0x%02x for %s event", ext, basic)
}

// next decodes exactly one event at the cursor.
func (d *decodeContext) next() (Event, error) {
	lead, err := d.r.ReadByte()
	if err != nil {
		return nil, err
	}
	basic := EventType(lead & 0x0f)
	ext := lead & 0xf0

	delta, err := d.r.readULEB()
	if err != nil {
		return nil, err
	}
	d.currentTime += delta
	base := EventBase{Time: d.currentTime, Buffer: d.buffer}

	switch basic {
	case TypeAlloc:
		return d.decodeAlloc(base, ext)
	case TypeGC:
		return d.decodeGC(base, ext)
	case TypeMetadata:
		return d.decodeMetadata(base, ext)
	case TypeMethod:
		return d.decodeMethod(base, ext)
	case TypeException:
		return d.decodeException(base, ext)
	case TypeMonitor:
		return d.decodeMonitor(base, ext)
	case TypeHeap:
		return d.decodeHeap(base, ext)
	case TypeSample:
		return d.decodeSample(base, ext)
	case TypeRuntime:
		return d.decodeRuntime(base, ext)
	case TypeMeta:
		return d.decodeMeta(base, ext)
	default:
		return nil, apperrors.Newf(apperrors.CodeMalformedRecord, "invalid basic event type %d (leading byte 0x%02x)", basic, lead)
	}
}

func (d *decodeContext) decodeAlloc(base EventBase, ext byte) (Event, error) {
	if ext != extAllocNoBacktrace && ext != extAllocBacktrace {
		return nil, invalidEvent(TypeAlloc, ext)
	}
	ev := &AllocationEvent{EventBase: base}
	var err error
	if ev.ClassPointer, err = d.readPointer(); err != nil {
		return nil, err
	}
	if ev.ObjectPointer, err = d.readObject(); err != nil {
		return nil, err
	}
	if ev.ObjectSize, err = d.r.readULEB(); err != nil {
		return nil, err
	}
	if ev.Backtrace, err = d.readBacktrace(ext == extAllocBacktrace); err != nil {
		return nil, err
	}
	return ev, nil
}

func (d *decodeContext) decodeGC(base EventBase, ext byte) (Event, error) {
	var err error
	switch ext {
	case extGCEvent:
		ev := &GCEvent{EventBase: base}
		var t byte
		if t, err = d.r.ReadByte(); err != nil {
			return nil, err
		}
		ev.Type = GCEventType(t)
		if ev.Generation, err = d.r.ReadByte(); err != nil {
			return nil, err
		}
		return ev, nil

	case extGCResize:
		ev := &GCResizeEvent{EventBase: base}
		if ev.NewSize, err = d.r.readULEB(); err != nil {
			return nil, err
		}
		return ev, nil

	case extGCMove:
		n, err := d.readCount()
		if err != nil {
			return nil, err
		}
		ev := &GCMoveEvent{
			EventBase:         base,
			OldObjectPointers: make([]ObjectID, 0, (n+1)/2),
			NewObjectPointers: make([]ObjectID, 0, n/2),
		}
		for i := 0; i < n; i++ {
			obj, err := d.readObject()
			if err != nil {
				return nil, err
			}
			if i%2 == 0 {
				ev.OldObjectPointers = append(ev.OldObjectPointers, obj)
			} else {
				ev.NewObjectPointers = append(ev.NewObjectPointers, obj)
			}
		}
		return ev, nil

	case extGCHandleCreated, extGCHandleCreatedBacktrace:
		ev := &GCHandleCreationEvent{EventBase: base}
		var t uint64
		if t, err = d.r.readULEB(); err != nil {
			return nil, err
		}
		ev.Type = GCHandleType(t)
		if ev.Handle, err = d.r.readULEB(); err != nil {
			return nil, err
		}
		if ev.ObjectPointer, err = d.readObject(); err != nil {
			return nil, err
		}
		if ev.Backtrace, err = d.readBacktrace(ext == extGCHandleCreatedBacktrace); err != nil {
			return nil, err
		}
		return ev, nil

	case extGCHandleDeleted, extGCHandleDeletedBacktrace:
		ev := &GCHandleDeletionEvent{EventBase: base}
		var t uint64
		if t, err = d.r.readULEB(); err != nil {
			return nil, err
		}
		ev.Type = GCHandleType(t)
		if ev.Handle, err = d.r.readULEB(); err != nil {
			return nil, err
		}
		if ev.Backtrace, err = d.readBacktrace(ext == extGCHandleDeletedBacktrace); err != nil {
			return nil, err
		}
		return ev, nil

	case extGCFinalizeBegin:
		return &GCFinalizeBeginEvent{EventBase: base}, nil

	case extGCFinalizeEnd:
		return &GCFinalizeEndEvent{EventBase: base}, nil

	case extGCFinalizeObjectBegin:
		ev := &GCFinalizeObjectBeginEvent{EventBase: base}
		if ev.ObjectPointer, err = d.readObject(); err != nil {
			return nil, err
		}
		return ev, nil

	case extGCFinalizeObjectEnd:
		ev := &GCFinalizeObjectEndEvent{EventBase: base}
		if ev.ObjectPointer, err = d.readObject(); err != nil {
			return nil, err
		}
		return ev, nil
	}
	return nil, invalidEvent(TypeGC, ext)
}

func (d *decodeContext) decodeMetadata(base EventBase, ext byte) (Event, error) {
	if ext != extMetadataExtra && ext != extMetadataLoad && ext != extMetadataUnload {
		return nil, invalidEvent(TypeMetadata, ext)
	}
	mt, err := d.r.ReadByte()
	if err != nil {
		return nil, err
	}
	kind := MetadataType(mt)

	switch ext {
	case extMetadataExtra:
		switch kind {
		case MetadataAppDomain:
			ev := &AppDomainNameEvent{EventBase: base}
			if ev.AppDomainID, err = d.readPointer(); err != nil {
				return nil, err
			}
			if ev.Name, err = d.r.readCString(); err != nil {
				return nil, err
			}
			return ev, nil
		case MetadataThread:
			ev := &ThreadNameEvent{EventBase: base}
			if ev.ThreadID, err = d.readPointer(); err != nil {
				return nil, err
			}
			if ev.Name, err = d.r.readCString(); err != nil {
				return nil, err
			}
			return ev, nil
		}

	case extMetadataLoad:
		switch kind {
		case MetadataClass:
			ev := &ClassLoadEvent{EventBase: base}
			if ev.ClassPointer, err = d.readPointer(); err != nil {
				return nil, err
			}
			if ev.ImagePointer, err = d.readPointer(); err != nil {
				return nil, err
			}
			if ev.Name, err = d.r.readCString(); err != nil {
				return nil, err
			}
			return ev, nil
		case MetadataImage:
			ev := &ImageLoadEvent{EventBase: base}
			if ev.ImagePointer, ev.Name, err = d.readPointerAndName(); err != nil {
				return nil, err
			}
			return ev, nil
		case MetadataAssembly:
			ev := &AssemblyLoadEvent{EventBase: base}
			if ev.AssemblyPointer, ev.ImagePointer, ev.Name, err = d.readAssembly(); err != nil {
				return nil, err
			}
			return ev, nil
		case MetadataAppDomain:
			ev := &AppDomainLoadEvent{EventBase: base}
			if ev.AppDomainID, err = d.readPointer(); err != nil {
				return nil, err
			}
			return ev, nil
		case MetadataThread:
			ev := &ThreadStartEvent{EventBase: base}
			if ev.ThreadID, err = d.readPointer(); err != nil {
				return nil, err
			}
			return ev, nil
		case MetadataContext:
			ev := &ContextLoadEvent{EventBase: base}
			if ev.ContextID, ev.AppDomainID, err = d.readPointerPair(); err != nil {
				return nil, err
			}
			return ev, nil
		}

	case extMetadataUnload:
		switch kind {
		case MetadataImage:
			ev := &ImageUnloadEvent{EventBase: base}
			if ev.ImagePointer, ev.Name, err = d.readPointerAndName(); err != nil {
				return nil, err
			}
			return ev, nil
		case MetadataAssembly:
			ev := &AssemblyUnloadEvent{EventBase: base}
			if ev.AssemblyPointer, ev.ImagePointer, ev.Name, err = d.readAssembly(); err != nil {
				return nil, err
			}
			return ev, nil
		case MetadataAppDomain:
			ev := &AppDomainUnloadEvent{EventBase: base}
			if ev.AppDomainID, err = d.readPointer(); err != nil {
				return nil, err
			}
			return ev, nil
		case MetadataThread:
			ev := &ThreadEndEvent{EventBase: base}
			if ev.ThreadID, err = d.readPointer(); err != nil {
				return nil, err
			}
			return ev, nil
		case MetadataContext:
			ev := &ContextUnloadEvent{EventBase: base}
			if ev.ContextID, ev.AppDomainID, err = d.readPointerPair(); err != nil {
				return nil, err
			}
			return ev, nil
		}
	}
	return nil, apperrors.Newf(apperrors.CodeMalformedRecord,
		"invalid metadata type %d for extended type 0x%02x", mt, ext)
}

func (d *decodeContext) readPointerAndName() (Pointer, string, error) {
	p, err := d.readPointer()
	if err != nil {
		return 0, "", err
	}
	name, err := d.r.readCString()
	return p, name, err
}

func (d *decodeContext) readPointerPair() (Pointer, Pointer, error) {
	a, err := d.readPointer()
	if err != nil {
		return 0, 0, err
	}
	b, err := d.readPointer()
	return a, b, err
}

// readAssembly reads an assembly record; the image pointer exists from version 14.
func (d *decodeContext) readAssembly() (assembly, image Pointer, name string, err error) {
	if assembly, err = d.readPointer(); err != nil {
		return
	}
	if d.version() >= 14 {
		if image, err = d.readPointer(); err != nil {
			return
		}
	}
	name, err = d.r.readCString()
	return
}

func (d *decodeContext) decodeMethod(base EventBase, ext byte) (Event, error) {
	switch ext {
	case extMethodLeave, extMethodEnter, extMethodExceptionLeave:
		m, err := d.readMethod()
		if err != nil {
			return nil, err
		}
		switch ext {
		case extMethodLeave:
			return &MethodLeaveEvent{EventBase: base, MethodPointer: m}, nil
		case extMethodEnter:
			return &MethodEnterEvent{EventBase: base, MethodPointer: m}, nil
		default:
			return &MethodExceptionLeaveEvent{EventBase: base, MethodPointer: m}, nil
		}

	case extMethodJit:
		ev := &JitEvent{EventBase: base}
		var err error
		if ev.MethodPointer, err = d.readMethod(); err != nil {
			return nil, err
		}
		if ev.CodePointer, err = d.readPointer(); err != nil {
			return nil, err
		}
		if ev.CodeSize, err = d.r.readULEB(); err != nil {
			return nil, err
		}
		if ev.Name, err = d.r.readCString(); err != nil {
			return nil, err
		}
		return ev, nil
	}
	return nil, invalidEvent(TypeMethod, ext)
}

func (d *decodeContext) decodeException(base EventBase, ext byte) (Event, error) {
	var err error
	switch ext {
	case extExceptionThrowNoBacktrace, extExceptionThrowBacktrace:
		ev := &ExceptionThrowEvent{EventBase: base}
		if ev.ObjectPointer, err = d.readObject(); err != nil {
			return nil, err
		}
		if ev.Backtrace, err = d.readBacktrace(ext == extExceptionThrowBacktrace); err != nil {
			return nil, err
		}
		return ev, nil

	case extExceptionClause:
		ev := &ExceptionClauseEvent{EventBase: base}
		var t byte
		if t, err = d.r.ReadByte(); err != nil {
			return nil, err
		}
		ev.Type = ClauseType(t)
		if ev.Index, err = d.r.readULEB(); err != nil {
			return nil, err
		}
		if ev.MethodPointer, err = d.readMethod(); err != nil {
			return nil, err
		}
		if d.version() >= 14 {
			if ev.ObjectPointer, err = d.readObject(); err != nil {
				return nil, err
			}
		}
		return ev, nil
	}
	return nil, invalidEvent(TypeException, ext)
}

// decodeMonitor handles both monitor encodings. Before version 14 the kind is
// packed into bits 4-5 of the extended type and bit 7 alone selects the
// backtrace; from version 14 the kind is a separate byte.
func (d *decodeContext) decodeMonitor(base EventBase, ext byte) (Event, error) {
	var kind MonitorKind
	if d.version() < 14 {
		kind = MonitorKind((ext >> 4) & 0x3)
		if ext&0x80 != 0 {
			ext = extMonitorBacktrace
		} else {
			ext = extMonitorNoBacktrace
		}
	} else {
		if ext != extMonitorNoBacktrace && ext != extMonitorBacktrace {
			return nil, invalidEvent(TypeMonitor, ext)
		}
		k, err := d.r.ReadByte()
		if err != nil {
			return nil, err
		}
		kind = MonitorKind(k)
	}

	ev := &MonitorEvent{EventBase: base, Kind: kind, HasBacktrace: ext == extMonitorBacktrace}
	var err error
	if ev.ObjectPointer, err = d.readObject(); err != nil {
		return nil, err
	}
	if ev.Backtrace, err = d.readBacktrace(ev.HasBacktrace); err != nil {
		return nil, err
	}
	return ev, nil
}

func (d *decodeContext) decodeHeap(base EventBase, ext byte) (Event, error) {
	var err error
	switch ext {
	case extHeapBegin:
		return &HeapBeginEvent{EventBase: base}, nil

	case extHeapEnd:
		return &HeapEndEvent{EventBase: base}, nil

	case extHeapObject:
		ev := &HeapObjectEvent{EventBase: base}
		if ev.ObjectPointer, err = d.readObject(); err != nil {
			return nil, err
		}
		if ev.ClassPointer, err = d.readPointer(); err != nil {
			return nil, err
		}
		if ev.ObjectSize, err = d.r.readULEB(); err != nil {
			return nil, err
		}
		n, err := d.readCount()
		if err != nil {
			return nil, err
		}
		ev.References = make([]HeapReference, n)
		for i := range ev.References {
			if ev.References[i].Offset, err = d.r.readULEB(); err != nil {
				return nil, err
			}
			if ev.References[i].ObjectPointer, err = d.readObject(); err != nil {
				return nil, err
			}
		}
		return ev, nil

	case extHeapRoots:
		n, err := d.readCount()
		if err != nil {
			return nil, err
		}
		ev := &HeapRootsEvent{EventBase: base, Roots: make([]HeapRoot, n)}
		if ev.MaxGenerationCollectionCount, err = d.r.readULEB(); err != nil {
			return nil, err
		}
		for i := range ev.Roots {
			root := &ev.Roots[i]
			if root.ObjectPointer, err = d.readObject(); err != nil {
				return nil, err
			}
			if d.version() == 13 {
				var b byte
				if b, err = d.r.ReadByte(); err != nil {
					return nil, err
				}
				root.Attributes = RootAttributes(b)
			} else {
				var v uint64
				if v, err = d.r.readULEB(); err != nil {
					return nil, err
				}
				root.Attributes = RootAttributes(v)
			}
			if root.ExtraInfo, err = d.r.readULEB(); err != nil {
				return nil, err
			}
		}
		return ev, nil
	}
	return nil, invalidEvent(TypeHeap, ext)
}

func (d *decodeContext) decodeSample(base EventBase, ext byte) (Event, error) {
	var err error
	switch ext {
	case extSampleHit:
		if d.version() < 14 {
			// Sample type byte, always "cycles" in practice.
			if _, err = d.r.ReadByte(); err != nil {
				return nil, err
			}
		}
		ev := &SampleHitEvent{EventBase: base}
		if ev.ThreadID, err = d.readPointer(); err != nil {
			return nil, err
		}
		if ev.UnmanagedBacktrace, err = d.readUnmanagedBacktrace(); err != nil {
			return nil, err
		}
		if ev.ManagedBacktrace, err = d.readBacktrace(true); err != nil {
			return nil, err
		}
		for i, j := 0, len(ev.ManagedBacktrace)-1; i < j; i, j = i+1, j-1 {
			ev.ManagedBacktrace[i], ev.ManagedBacktrace[j] = ev.ManagedBacktrace[j], ev.ManagedBacktrace[i]
		}
		return ev, nil

	case extSampleUSym:
		ev := &UnmanagedSymbolEvent{EventBase: base}
		if ev.CodePointer, err = d.readPointer(); err != nil {
			return nil, err
		}
		if ev.CodeSize, err = d.r.readULEB(); err != nil {
			return nil, err
		}
		if ev.Name, err = d.r.readCString(); err != nil {
			return nil, err
		}
		return ev, nil

	case extSampleUBin:
		ev := &UnmanagedBinaryEvent{EventBase: base}
		if d.version() >= 14 {
			if ev.SegmentPointer, err = d.readPointer(); err != nil {
				return nil, err
			}
		} else {
			var v int64
			if v, err = d.r.readSLEB(); err != nil {
				return nil, err
			}
			ev.SegmentPointer = Pointer(v)
		}
		if ev.SegmentOffset, err = d.r.readULEB(); err != nil {
			return nil, err
		}
		if ev.SegmentSize, err = d.r.readULEB(); err != nil {
			return nil, err
		}
		if ev.FileName, err = d.r.readCString(); err != nil {
			return nil, err
		}
		return ev, nil

	case extSampleCountersDesc:
		return d.decodeCounterDescriptions(base)

	case extSampleCounters:
		return d.decodeCounterSamples(base)
	}
	return nil, invalidEvent(TypeSample, ext)
}

func (d *decodeContext) decodeCounterDescriptions(base EventBase) (Event, error) {
	n, err := d.readCount()
	if err != nil {
		return nil, err
	}
	ev := &CounterDescriptionsEvent{EventBase: base, Descriptions: make([]CounterDescription, n)}
	for i := range ev.Descriptions {
		desc := &ev.Descriptions[i]
		var section uint64
		if section, err = d.r.readULEB(); err != nil {
			return nil, err
		}
		desc.Section = CounterSection(section)
		if desc.Section == CounterSectionUser {
			if desc.SectionName, err = d.r.readCString(); err != nil {
				return nil, err
			}
		}
		if desc.CounterName, err = d.r.readCString(); err != nil {
			return nil, err
		}
		var t, unit, variance byte
		if t, err = d.r.ReadByte(); err != nil {
			return nil, err
		}
		if unit, err = d.r.ReadByte(); err != nil {
			return nil, err
		}
		if variance, err = d.r.ReadByte(); err != nil {
			return nil, err
		}
		desc.Type, desc.Unit, desc.Variance = CounterType(t), CounterUnit(unit), CounterVariance(variance)
		if desc.Index, err = d.r.readULEB(); err != nil {
			return nil, err
		}
	}
	return ev, nil
}

// decodeCounterSamples reads samples until an index of zero.
func (d *decodeContext) decodeCounterSamples(base EventBase) (Event, error) {
	ev := &CounterSamplesEvent{EventBase: base}
	for {
		index, err := d.r.readULEB()
		if err != nil {
			return nil, err
		}
		if index == 0 {
			return ev, nil
		}
		t, err := d.r.ReadByte()
		if err != nil {
			return nil, err
		}
		sample := CounterSample{Index: index, Type: CounterType(t)}

		switch sample.Type {
		case CounterString:
			present, err := d.r.ReadByte()
			if err != nil {
				return nil, err
			}
			if present == 1 {
				if sample.Value, err = d.r.readCString(); err != nil {
					return nil, err
				}
			}
		case CounterInt32, CounterWord, CounterInt64, CounterInterval:
			if sample.Value, err = d.r.readSLEB(); err != nil {
				return nil, err
			}
		case CounterUInt32, CounterUInt64:
			if sample.Value, err = d.r.readULEB(); err != nil {
				return nil, err
			}
		case CounterDouble:
			if sample.Value, err = d.r.readDouble(); err != nil {
				return nil, err
			}
		default:
			return nil, apperrors.Newf(apperrors.CodeMalformedRecord, "invalid counter type %d for counter %d", t, index)
		}
		ev.Samples = append(ev.Samples, sample)
	}
}

func (d *decodeContext) decodeRuntime(base EventBase, ext byte) (Event, error) {
	if ext != extRuntimeJitHelper {
		return nil, invalidEvent(TypeRuntime, ext)
	}
	ev := &JitHelperEvent{EventBase: base}
	t, err := d.r.ReadByte()
	if err != nil {
		return nil, err
	}
	ev.Type = JitHelperType(t)
	if ev.BufferPointer, err = d.readPointer(); err != nil {
		return nil, err
	}
	if ev.BufferSize, err = d.r.readULEB(); err != nil {
		return nil, err
	}
	if ev.Type == JitHelperSpecificTrampoline {
		if ev.Name, err = d.r.readCString(); err != nil {
			return nil, err
		}
	}
	return ev, nil
}

func (d *decodeContext) decodeMeta(base EventBase, ext byte) (Event, error) {
	if ext != extMetaSyncPoint {
		return nil, invalidEvent(TypeMeta, ext)
	}
	t, err := d.r.ReadByte()
	if err != nil {
		return nil, err
	}
	return &SynchronizationPointEvent{EventBase: base, Type: SyncPointType(t)}, nil
}
