package mlog

// Event is one decoded record. The set is closed: every implementation lives
// in this package and has a matching Visitor method.
type Event interface {
	// Timestamp is the buffer time base plus the sum of all time deltas up to
	// and including this event.
	Timestamp() uint64

	// Accept calls the Visitor method for the concrete event type.
	Accept(v Visitor) error

	base() *EventBase
}

// EventBase carries the fields shared by every event.
type EventBase struct {
	Time   uint64
	Buffer *BufferHeader
}

// Timestamp implements Event.
func (b *EventBase) Timestamp() uint64 { return b.Time }

func (b *EventBase) base() *EventBase { return b }

// AllocationEvent reports a managed allocation.
type AllocationEvent struct {
	EventBase
	ClassPointer  Pointer
	ObjectPointer ObjectID
	ObjectSize    uint64
	Backtrace     []MethodPointer
}

// GCEvent reports a collection phase.
type GCEvent struct {
	EventBase
	Type       GCEventType
	Generation byte
}

// GCResizeEvent reports a new heap size.
type GCResizeEvent struct {
	EventBase
	NewSize uint64
}

// GCMoveEvent reports objects relocated by a moving collection.
// OldObjectPointers[i] moved to NewObjectPointers[i].
type GCMoveEvent struct {
	EventBase
	OldObjectPointers []ObjectID
	NewObjectPointers []ObjectID
}

type GCHandleCreationEvent struct {
	EventBase
	Type          GCHandleType
	Handle        uint64
	ObjectPointer ObjectID
	Backtrace     []MethodPointer
}

type GCHandleDeletionEvent struct {
	EventBase
	Type      GCHandleType
	Handle    uint64
	Backtrace []MethodPointer
}

type GCFinalizeBeginEvent struct{ EventBase }

type GCFinalizeEndEvent struct{ EventBase }

type GCFinalizeObjectBeginEvent struct {
	EventBase
	ObjectPointer ObjectID
}

type GCFinalizeObjectEndEvent struct {
	EventBase
	ObjectPointer ObjectID
}

// ClassLoadEvent names a class. Class pointers are the type ids heapshots group by.
type ClassLoadEvent struct {
	EventBase
	ClassPointer Pointer
	ImagePointer Pointer
	Name         string
}

type ImageLoadEvent struct {
	EventBase
	ImagePointer Pointer
	Name         string
}

type ImageUnloadEvent struct {
	EventBase
	ImagePointer Pointer
	Name         string
}

// AssemblyLoadEvent reports a loaded assembly. ImagePointer is zero before format version 14.
type AssemblyLoadEvent struct {
	EventBase
	AssemblyPointer Pointer
	ImagePointer    Pointer
	Name            string
}

type AssemblyUnloadEvent struct {
	EventBase
	AssemblyPointer Pointer
	ImagePointer    Pointer
	Name            string
}

type AppDomainLoadEvent struct {
	EventBase
	AppDomainID Pointer
}

type AppDomainUnloadEvent struct {
	EventBase
	AppDomainID Pointer
}

type AppDomainNameEvent struct {
	EventBase
	AppDomainID Pointer
	Name        string
}

type ContextLoadEvent struct {
	EventBase
	ContextID   Pointer
	AppDomainID Pointer
}

type ContextUnloadEvent struct {
	EventBase
	ContextID   Pointer
	AppDomainID Pointer
}

type ThreadStartEvent struct {
	EventBase
	ThreadID Pointer
}

type ThreadEndEvent struct {
	EventBase
	ThreadID Pointer
}

type ThreadNameEvent struct {
	EventBase
	ThreadID Pointer
	Name     string
}

// JitEvent reports a compiled method and its code range.
type JitEvent struct {
	EventBase
	MethodPointer MethodPointer
	CodePointer   Pointer
	CodeSize      uint64
	Name          string
}

type MethodEnterEvent struct {
	EventBase
	MethodPointer MethodPointer
}

type MethodLeaveEvent struct {
	EventBase
	MethodPointer MethodPointer
}

type MethodExceptionLeaveEvent struct {
	EventBase
	MethodPointer MethodPointer
}

type ExceptionThrowEvent struct {
	EventBase
	ObjectPointer ObjectID
	Backtrace     []MethodPointer
}

// ExceptionClauseEvent marks entry into an exception clause. ObjectPointer is
// zero before format version 14.
type ExceptionClauseEvent struct {
	EventBase
	Type          ClauseType
	Index         uint64
	MethodPointer MethodPointer
	ObjectPointer ObjectID
}

// MonitorEvent reports a lock transition. HasBacktrace is true when the
// producer captured a backtrace, even an empty one.
type MonitorEvent struct {
	EventBase
	Kind          MonitorKind
	ObjectPointer ObjectID
	HasBacktrace  bool
	Backtrace     []MethodPointer
}

type HeapBeginEvent struct{ EventBase }

type HeapEndEvent struct{ EventBase }

// HeapReference is one outgoing edge of a heap object.
type HeapReference struct {
	Offset        uint64
	ObjectPointer ObjectID
}

// HeapObjectEvent is one object of a heap walk.
type HeapObjectEvent struct {
	EventBase
	ObjectPointer ObjectID
	ClassPointer  Pointer
	ObjectSize    uint64
	References    []HeapReference
}

// HeapRoot is decoded as written; ExtraInfo is not interpreted.
type HeapRoot struct {
	ObjectPointer ObjectID
	Attributes    RootAttributes
	ExtraInfo     uint64
}

type HeapRootsEvent struct {
	EventBase
	MaxGenerationCollectionCount uint64
	Roots                        []HeapRoot
}

// SampleHitEvent is a statistical sample. ManagedBacktrace is innermost frame first.
type SampleHitEvent struct {
	EventBase
	ThreadID           Pointer
	UnmanagedBacktrace []Pointer
	ManagedBacktrace   []MethodPointer
}

type UnmanagedSymbolEvent struct {
	EventBase
	CodePointer Pointer
	CodeSize    uint64
	Name        string
}

// UnmanagedBinaryEvent describes a mapped native binary. Before format
// version 14 SegmentPointer is a raw value with no pointer base applied.
type UnmanagedBinaryEvent struct {
	EventBase
	SegmentPointer Pointer
	SegmentOffset  uint64
	SegmentSize    uint64
	FileName       string
}

// CounterDescription declares a counter sampled by later CounterSamplesEvents.
type CounterDescription struct {
	Section     CounterSection
	SectionName string
	CounterName string
	Type        CounterType
	Unit        CounterUnit
	Variance    CounterVariance
	Index       uint64
}

type CounterDescriptionsEvent struct {
	EventBase
	Descriptions []CounterDescription
}

// CounterSample is one value. Value holds int64, uint64, float64, string or
// nil (a string counter with no value).
type CounterSample struct {
	Index uint64
	Type  CounterType
	Value interface{}
}

type CounterSamplesEvent struct {
	EventBase
	Samples []CounterSample
}

// JitHelperEvent reports runtime-generated code. Name is only set for specific trampolines.
type JitHelperEvent struct {
	EventBase
	Type          JitHelperType
	BufferPointer Pointer
	BufferSize    uint64
	Name          string
}

// SynchronizationPointEvent bounds the reordering window of sorted delivery.
type SynchronizationPointEvent struct {
	EventBase
	Type SyncPointType
}

func (e *AllocationEvent) Accept(v Visitor) error { return v.VisitAllocation(e) }
func (e *GCEvent) Accept(v Visitor) error { return v.VisitGC(e) }
func (e *GCResizeEvent) Accept(v Visitor) error { return v.VisitGCResize(e) }
func (e *GCMoveEvent) Accept(v Visitor) error { return v.VisitGCMove(e) }
func (e *GCHandleCreationEvent) Accept(v Visitor) error { return v.VisitGCHandleCreation(e) }
func (e *GCHandleDeletionEvent) Accept(v Visitor) error { return v.VisitGCHandleDeletion(e) }
func (e *GCFinalizeBeginEvent) Accept(v Visitor) error { return v.VisitGCFinalizeBegin(e) }
func (e *GCFinalizeEndEvent) Accept(v Visitor) error { return v.VisitGCFinalizeEnd(e) }
func (e *GCFinalizeObjectBeginEvent) Accept(v Visitor) error { return v.VisitGCFinalizeObjectBegin(e) }
func (e *GCFinalizeObjectEndEvent) Accept(v Visitor) error { return v.VisitGCFinalizeObjectEnd(e) }
func (e *ClassLoadEvent) Accept(v Visitor) error { return v.VisitClassLoad(e) }
func (e *ImageLoadEvent) Accept(v Visitor) error { return v.VisitImageLoad(e) }
func (e *ImageUnloadEvent) Accept(v Visitor) error { return v.VisitImageUnload(e) }
func (e *AssemblyLoadEvent) Accept(v Visitor) error { return v.VisitAssemblyLoad(e) }
func (e *AssemblyUnloadEvent) Accept(v Visitor) error { return v.VisitAssemblyUnload(e) }
func (e *AppDomainLoadEvent) Accept(v Visitor) error { return v.VisitAppDomainLoad(e) }
func (e *AppDomainUnloadEvent) Accept(v Visitor) error { return v.VisitAppDomainUnload(e) }
func (e *AppDomainNameEvent) Accept(v Visitor) error { return v.VisitAppDomainName(e) }
func (e *ContextLoadEvent) Accept(v Visitor) error { return v.VisitContextLoad(e) }
func (e *ContextUnloadEvent) Accept(v Visitor) error { return v.VisitContextUnload(e) }
func (e *ThreadStartEvent) Accept(v Visitor) error { return v.VisitThreadStart(e) }
func (e *ThreadEndEvent) Accept(v Visitor) error { return v.VisitThreadEnd(e) }
func (e *ThreadNameEvent) Accept(v Visitor) error { return v.VisitThreadName(e) }
func (e *JitEvent) Accept(v Visitor) error { return v.VisitJit(e) }
func (e *MethodEnterEvent) Accept(v Visitor) error { return v.VisitMethodEnter(e) }
func (e *MethodLeaveEvent) Accept(v Visitor) error { return v.VisitMethodLeave(e) }
func (e *MethodExceptionLeaveEvent) Accept(v Visitor) error { return v.VisitMethodExceptionLeave(e) }
func (e *ExceptionThrowEvent) Accept(v Visitor) error { return v.VisitExceptionThrow(e) }
func (e *ExceptionClauseEvent) Accept(v Visitor) error { return v.VisitExceptionClause(e) }
func (e *MonitorEvent) Accept(v Visitor) error { return v.VisitMonitor(e) }
func (e *HeapBeginEvent) Accept(v Visitor) error { return v.VisitHeapBegin(e) }
func (e *HeapEndEvent) Accept(v Visitor) error { return v.VisitHeapEnd(e) }
func (e *HeapObjectEvent) Accept(v Visitor) error { return v.VisitHeapObject(e) }
func (e *HeapRootsEvent) Accept(v Visitor) error { return v.VisitHeapRoots(e) }
func (e *SampleHitEvent) Accept(v Visitor) error { return v.VisitSampleHit(e) }
func (e *UnmanagedSymbolEvent) Accept(v Visitor) error { return v.VisitUnmanagedSymbol(e) }
func (e *UnmanagedBinaryEvent) Accept(v Visitor) error { return v.VisitUnmanagedBinary(e) }
func (e *CounterDescriptionsEvent) Accept(v Visitor) error { return v.VisitCounterDescriptions(e) }
func (e *CounterSamplesEvent) Accept(v Visitor) error { return v.VisitCounterSamples(e) }
func (e *JitHelperEvent) Accept(v Visitor) error { return v.VisitJitHelper(e) }
func (e *SynchronizationPointEvent) Accept(v Visitor) error { return v.VisitSynchronizationPoint(e) }
