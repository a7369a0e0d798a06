package mlog

// Visitor consumes decoded events. There is one method per event type, so a new
// event type breaks every consumer until it is handled. Any returned error
// aborts processing.
type Visitor interface {
	VisitBefore(ev Event) error
	VisitAfter(ev Event) error

	VisitAllocation(ev *AllocationEvent) error
	VisitGC(ev *GCEvent) error
	VisitGCResize(ev *GCResizeEvent) error
	VisitGCMove(ev *GCMoveEvent) error
	VisitGCHandleCreation(ev *GCHandleCreationEvent) error
	VisitGCHandleDeletion(ev *GCHandleDeletionEvent) error
	VisitGCFinalizeBegin(ev *GCFinalizeBeginEvent) error
	VisitGCFinalizeEnd(ev *GCFinalizeEndEvent) error
	VisitGCFinalizeObjectBegin(ev *GCFinalizeObjectBeginEvent) error
	VisitGCFinalizeObjectEnd(ev *GCFinalizeObjectEndEvent) error
	VisitClassLoad(ev *ClassLoadEvent) error
	VisitImageLoad(ev *ImageLoadEvent) error
	VisitImageUnload(ev *ImageUnloadEvent) error
	VisitAssemblyLoad(ev *AssemblyLoadEvent) error
	VisitAssemblyUnload(ev *AssemblyUnloadEvent) error
	VisitAppDomainLoad(ev *AppDomainLoadEvent) error
	VisitAppDomainUnload(ev *AppDomainUnloadEvent) error
	VisitAppDomainName(ev *AppDomainNameEvent) error
	VisitContextLoad(ev *ContextLoadEvent) error
	VisitContextUnload(ev *ContextUnloadEvent) error
	VisitThreadStart(ev *ThreadStartEvent) error
	VisitThreadEnd(ev *ThreadEndEvent) error
	VisitThreadName(ev *ThreadNameEvent) error
	VisitJit(ev *JitEvent) error
	VisitMethodEnter(ev *MethodEnterEvent) error
	VisitMethodLeave(ev *MethodLeaveEvent) error
	VisitMethodExceptionLeave(ev *MethodExceptionLeaveEvent) error
	VisitExceptionThrow(ev *ExceptionThrowEvent) error
	VisitExceptionClause(ev *ExceptionClauseEvent) error
	VisitMonitor(ev *MonitorEvent) error
	VisitHeapBegin(ev *HeapBeginEvent) error
	VisitHeapEnd(ev *HeapEndEvent) error
	VisitHeapObject(ev *HeapObjectEvent) error
	VisitHeapRoots(ev *HeapRootsEvent) error
	VisitSampleHit(ev *SampleHitEvent) error
	VisitUnmanagedSymbol(ev *UnmanagedSymbolEvent) error
	VisitUnmanagedBinary(ev *UnmanagedBinaryEvent) error
	VisitCounterDescriptions(ev *CounterDescriptionsEvent) error
	VisitCounterSamples(ev *CounterSamplesEvent) error
	VisitJitHelper(ev *JitHelperEvent) error
	VisitSynchronizationPoint(ev *SynchronizationPointEvent) error
}

// Dispatch runs VisitBefore, the typed visit and VisitAfter for ev.
func Dispatch(v Visitor, ev Event) error {
	if err := v.VisitBefore(ev); err != nil {
		return err
	}
	if err := ev.Accept(v); err != nil {
		return err
	}
	return v.VisitAfter(ev)
}

// NopVisitor ignores every event. Embed it in consumers that only care about a
// few event types.
type NopVisitor struct{}

var _ Visitor = NopVisitor{}

func (NopVisitor) VisitBefore(Event) error { return nil }
func (NopVisitor) VisitAfter(Event) error { return nil }

func (NopVisitor) VisitAllocation(*AllocationEvent) error { return nil }
func (NopVisitor) VisitGC(*GCEvent) error { return nil }
func (NopVisitor) VisitGCResize(*GCResizeEvent) error { return nil }
func (NopVisitor) VisitGCMove(*GCMoveEvent) error { return nil }
func (NopVisitor) VisitGCHandleCreation(*GCHandleCreationEvent) error { return nil }
func (NopVisitor) VisitGCHandleDeletion(*GCHandleDeletionEvent) error { return nil }
func (NopVisitor) VisitGCFinalizeBegin(*GCFinalizeBeginEvent) error { return nil }
func (NopVisitor) VisitGCFinalizeEnd(*GCFinalizeEndEvent) error { return nil }
func (NopVisitor) VisitGCFinalizeObjectBegin(*GCFinalizeObjectBeginEvent) error { return nil }
func (NopVisitor) VisitGCFinalizeObjectEnd(*GCFinalizeObjectEndEvent) error { return nil }
func (NopVisitor) VisitClassLoad(*ClassLoadEvent) error { return nil }
func (NopVisitor) VisitImageLoad(*ImageLoadEvent) error { return nil }
func (NopVisitor) VisitImageUnload(*ImageUnloadEvent) error { return nil }
func (NopVisitor) VisitAssemblyLoad(*AssemblyLoadEvent) error { return nil }
func (NopVisitor) VisitAssemblyUnload(*AssemblyUnloadEvent) error { return nil }
func (NopVisitor) VisitAppDomainLoad(*AppDomainLoadEvent) error { return nil }
func (NopVisitor) VisitAppDomainUnload(*AppDomainUnloadEvent) error { return nil }
func (NopVisitor) VisitAppDomainName(*AppDomainNameEvent) error { return nil }
func (NopVisitor) VisitContextLoad(*ContextLoadEvent) error { return nil }
func (NopVisitor) VisitContextUnload(*ContextUnloadEvent) error { return nil }
func (NopVisitor) VisitThreadStart(*ThreadStartEvent) error { return nil }
func (NopVisitor) VisitThreadEnd(*ThreadEndEvent) error { return nil }
func (NopVisitor) VisitThreadName(*ThreadNameEvent) error { return nil }
func (NopVisitor) VisitJit(*JitEvent) error { return nil }
func (NopVisitor) VisitMethodEnter(*MethodEnterEvent) error { return nil }
func (NopVisitor) VisitMethodLeave(*MethodLeaveEvent) error { return nil }
func (NopVisitor) VisitMethodExceptionLeave(*MethodExceptionLeaveEvent) error { return nil }
func (NopVisitor) VisitExceptionThrow(*ExceptionThrowEvent) error { return nil }
func (NopVisitor) VisitExceptionClause(*ExceptionClauseEvent) error { return nil }
func (NopVisitor) VisitMonitor(*MonitorEvent) error { return nil }
func (NopVisitor) VisitHeapBegin(*HeapBeginEvent) error { return nil }
func (NopVisitor) VisitHeapEnd(*HeapEndEvent) error { return nil }
func (NopVisitor) VisitHeapObject(*HeapObjectEvent) error { return nil }
func (NopVisitor) VisitHeapRoots(*HeapRootsEvent) error { return nil }
func (NopVisitor) VisitSampleHit(*SampleHitEvent) error { return nil }
func (NopVisitor) VisitUnmanagedSymbol(*UnmanagedSymbolEvent) error { return nil }
func (NopVisitor) VisitUnmanagedBinary(*UnmanagedBinaryEvent) error { return nil }
func (NopVisitor) VisitCounterDescriptions(*CounterDescriptionsEvent) error { return nil }
func (NopVisitor) VisitCounterSamples(*CounterSamplesEvent) error { return nil }
func (NopVisitor) VisitJitHelper(*JitHelperEvent) error { return nil }
func (NopVisitor) VisitSynchronizationPoint(*SynchronizationPointEvent) error { return nil }
