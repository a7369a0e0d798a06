package mlog

import "fmt"

// Pointer is a raw runtime address (class, image, code, thread, ...).
type Pointer int64

// ObjectID is an allocation identity as written by the profiler for managed objects.
type ObjectID int64

// MethodPointer identifies a method by its runtime address.
type MethodPointer int64

func (p Pointer) String() string { return fmt.Sprintf("0x%x", uint64(p)) }
func (o ObjectID) String() string { return fmt.Sprintf("0x%x", uint64(o)) }

// Supported stream format versions.
const (
	MinFormatVersion = 13
	MaxFormatVersion = 14
)

// Magic numbers of the stream and buffer headers.
const (
	StreamMagic uint32 = 0x4D505A01
	BufferMagic uint32 = 0x4D504C01
)

// BufferHeaderSize is the fixed size of a buffer header on the wire.
const BufferHeaderSize = 48

// EventType is the basic type stored in the low nibble of an event's leading byte.
type EventType byte

const (
	TypeAlloc     EventType = 0
	TypeGC        EventType = 1
	TypeMetadata  EventType = 2
	TypeMethod    EventType = 3
	TypeException EventType = 4
	TypeMonitor   EventType = 5
	TypeHeap      EventType = 6
	TypeSample    EventType = 7
	TypeRuntime   EventType = 8
	TypeCoverage  EventType = 9
	TypeMeta      EventType = 10
)

func (t EventType) String() string {
	switch t {
	case TypeAlloc:
		return "alloc"
	case TypeGC:
		return "gc"
	case TypeMetadata:
		return "metadata"
	case TypeMethod:
		return "method"
	case TypeException:
		return "exception"
	case TypeMonitor:
		return "monitor"
	case TypeHeap:
		return "heap"
	case TypeSample:
		return "sample"
	case TypeRuntime:
		return "runtime"
	case TypeCoverage:
		return "coverage"
	case TypeMeta:
		return "meta"
	default:
		return fmt.Sprintf("type(%d)", byte(t))
	}
}

// Extended types, stored in the high nibble of the leading byte.
const (
	extAllocNoBacktrace byte = 0x00
	extAllocBacktrace   byte = 0x10

	extGCEvent                  byte = 0x10
	extGCResize                 byte = 0x20
	extGCMove                   byte = 0x30
	extGCHandleCreated          byte = 0x40
	extGCHandleDeleted          byte = 0x50
	extGCHandleCreatedBacktrace byte = 0x60
	extGCHandleDeletedBacktrace byte = 0x70
	extGCFinalizeBegin          byte = 0x80
	extGCFinalizeEnd            byte = 0x90
	extGCFinalizeObjectBegin    byte = 0xA0
	extGCFinalizeObjectEnd      byte = 0xB0

	extMetadataExtra  byte = 0x00
	extMetadataLoad   byte = 0x20
	extMetadataUnload byte = 0x40

	extMethodLeave          byte = 0x10
	extMethodEnter          byte = 0x20
	extMethodExceptionLeave byte = 0x30
	extMethodJit            byte = 0x40

	extExceptionThrowNoBacktrace byte = 0x00
	extExceptionClause           byte = 0x10
	extExceptionThrowBacktrace   byte = 0x80

	extMonitorNoBacktrace byte = 0x00
	extMonitorBacktrace   byte = 0x80

	extHeapBegin  byte = 0x00
	extHeapEnd    byte = 0x10
	extHeapObject byte = 0x20
	extHeapRoots  byte = 0x30

	extSampleHit          byte = 0x00
	extSampleUSym         byte = 0x10
	extSampleUBin         byte = 0x20
	extSampleCountersDesc byte = 0x30
	extSampleCounters     byte = 0x40

	extRuntimeJitHelper byte = 0x10

	extMetaSyncPoint byte = 0x00
)

// MetadataType selects the payload of a metadata event.
type MetadataType byte

const (
	MetadataClass     MetadataType = 1
	MetadataImage     MetadataType = 2
	MetadataAssembly  MetadataType = 3
	MetadataAppDomain MetadataType = 4
	MetadataThread    MetadataType = 5
	MetadataContext   MetadataType = 6
)

// GCEventType is the phase reported by a GC event.
type GCEventType byte

const (
	GCEventStart                  GCEventType = 0
	GCEventMarkStart              GCEventType = 1
	GCEventMarkEnd                GCEventType = 2
	GCEventReclaimStart           GCEventType = 3
	GCEventReclaimEnd             GCEventType = 4
	GCEventEnd                    GCEventType = 5
	GCEventPreStopWorld           GCEventType = 6
	GCEventPostStopWorld          GCEventType = 7
	GCEventPreStartWorld          GCEventType = 8
	GCEventPostStartWorld         GCEventType = 9
	GCEventPreStopWorldLocked     GCEventType = 10
	GCEventPostStartWorldUnlocked GCEventType = 11
)

// GCHandleType is the strength of a GC handle.
type GCHandleType uint64

const (
	GCHandleWeak                  GCHandleType = 0
	GCHandleWeakTrackResurrection GCHandleType = 1
	GCHandleNormal                GCHandleType = 2
	GCHandlePinned                GCHandleType = 3
)

// ClauseType is the kind of an exception clause.
type ClauseType byte

const (
	ClauseNone    ClauseType = 0
	ClauseFilter  ClauseType = 1
	ClauseFinally ClauseType = 2
	ClauseFault   ClauseType = 4
)

// MonitorKind is the monitor transition reported by a monitor event.
type MonitorKind byte

const (
	MonitorContention MonitorKind = 1
	MonitorDone       MonitorKind = 2
	MonitorFail       MonitorKind = 3
)

func (k MonitorKind) String() string {
	switch k {
	case MonitorContention:
		return "contention"
	case MonitorDone:
		return "done"
	case MonitorFail:
		return "fail"
	default:
		return fmt.Sprintf("monitor(%d)", byte(k))
	}
}

// RootAttributes describes a heap root. The low byte is the root type, the
// remaining bits are flags.
type RootAttributes uint64

const (
	RootTypeMask RootAttributes = 0xff

	RootOther     RootAttributes = 0
	RootFinalizer RootAttributes = 1
	RootStack     RootAttributes = 2
	RootHandle    RootAttributes = 3
	RootStatic    RootAttributes = 4
	RootThread    RootAttributes = 5

	RootPinning  RootAttributes = 1 << 8
	RootWeakRef  RootAttributes = 2 << 8
	RootInterior RootAttributes = 4 << 8
)

// Type returns the root type stored in the low byte.
func (a RootAttributes) Type() RootAttributes { return a & RootTypeMask }

// IsFinalizer reports whether the root is the finalization queue.
func (a RootAttributes) IsFinalizer() bool { return a.Type() == RootFinalizer }

// CounterSection groups runtime counters.
type CounterSection uint64

const (
	CounterSectionJit       CounterSection = 1 << 8
	CounterSectionGC        CounterSection = 1 << 9
	CounterSectionMetadata  CounterSection = 1 << 10
	CounterSectionGenerics  CounterSection = 1 << 11
	CounterSectionSecurity  CounterSection = 1 << 12
	CounterSectionRuntime   CounterSection = 1 << 13
	CounterSectionSystem    CounterSection = 1 << 14
	CounterSectionUser      CounterSection = 1 << 15
	CounterSectionPerfcount CounterSection = 1 << 16
	CounterSectionProfiler  CounterSection = 1 << 17
)

// CounterType is the value representation of a counter sample.
type CounterType byte

const (
	CounterInt32    CounterType = 0
	CounterUInt32   CounterType = 1
	CounterWord     CounterType = 2
	CounterInt64    CounterType = 3
	CounterUInt64   CounterType = 4
	CounterDouble   CounterType = 5
	CounterString   CounterType = 6
	CounterInterval CounterType = 7
)

// CounterUnit and CounterVariance are passed through as decoded.
type (
	CounterUnit     byte
	CounterVariance byte
)

// JitHelperType identifies a runtime-generated code helper.
type JitHelperType byte

const (
	JitHelperMethod             JitHelperType = 0
	JitHelperMethodTrampoline   JitHelperType = 1
	JitHelperUnboxTrampoline    JitHelperType = 2
	JitHelperImtTrampoline      JitHelperType = 3
	JitHelperGenericsTrampoline JitHelperType = 4
	JitHelperSpecificTrampoline JitHelperType = 5
	JitHelperHelper             JitHelperType = 6
)

// SyncPointType is the reason for a synchronization point.
type SyncPointType byte

const (
	SyncPeriodic   SyncPointType = 0
	SyncWorldStop  SyncPointType = 1
	SyncWorldStart SyncPointType = 2
)
