package heapshot

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/heapshot-analysis/internal/parser/mlog"
	"github.com/heapshot-analysis/pkg/utils"
)

// BuilderOptions configures a Builder.
type BuilderOptions struct {
	// Store is the template for every heapshot; ID, Timestamp and a nil
	// Resolver are filled in by the builder.
	Store Options
	// OnHeapshot is called after each heapshot is frozen.
	OnHeapshot func(*Heapshot) error
	Logger     utils.Logger
}

// Builder is a visitor that turns heap walks into frozen heapshots. It gives
// every allocation its own identity, carried across GC moves, so diffs compare
// objects rather than addresses even when the allocator reuses a slot.
// Attach it as the sorted visitor so moves and allocations from different
// threads are applied in time order.
type Builder struct {
	mlog.NopVisitor

	ctx   context.Context
	opts  BuilderOptions
	names *ClassNames
	log   utils.Logger

	// ids maps the address of every object known to be live to its identity.
	// issued holds the addresses already handed out as an identity; an
	// address is used as an identity at most once, later objects there get
	// a synthetic identity below zero.
	ids       map[mlog.ObjectID]mlog.ObjectID
	issued    map[mlog.ObjectID]struct{}
	synthetic mlog.ObjectID
	// walked is the set of addresses reported by the current heap walk.
	walked map[mlog.ObjectID]struct{}

	mu      sync.Mutex
	current *Heapshot
	shots   []*Heapshot
	nextID  int
}

// NewBuilder creates a Builder. ctx bounds the database work done at freeze.
// Its heapshots share one identity space, fresh for every builder unless
// opts.Store.IdentitySpace is set.
func NewBuilder(ctx context.Context, opts BuilderOptions) *Builder {
	b := &Builder{
		ctx:    ctx,
		opts:   opts,
		names:  NewClassNames(),
		log:    utils.OrNull(opts.Logger),
		ids:    make(map[mlog.ObjectID]mlog.ObjectID),
		issued: make(map[mlog.ObjectID]struct{}),
		nextID: 1,
	}
	if b.opts.Store.Logger == nil {
		b.opts.Store.Logger = b.log
	}
	if b.opts.Store.IdentitySpace == "" {
		b.opts.Store.IdentitySpace = uuid.NewString()
	}
	return b
}

// ClassNames returns the resolver fed from ClassLoad events.
func (b *Builder) ClassNames() *ClassNames { return b.names }

// IdentitySpace returns the identity space of the builder's heapshots.
func (b *Builder) IdentitySpace() string { return b.opts.Store.IdentitySpace }

// Heapshots returns the frozen heapshots in stream order.
func (b *Builder) Heapshots() []*Heapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Heapshot, len(b.shots))
	copy(out, b.shots)
	return out
}

// Identity returns the allocation identity of the object now at addr. An
// address never seen before is its own identity.
func (b *Builder) Identity(addr mlog.ObjectID) mlog.ObjectID {
	if id, ok := b.ids[addr]; ok {
		return id
	}
	return b.assign(addr)
}

func (b *Builder) assign(addr mlog.ObjectID) mlog.ObjectID {
	id := addr
	if _, used := b.issued[addr]; used {
		b.synthetic--
		id = b.synthetic
	} else {
		b.issued[addr] = struct{}{}
	}
	b.ids[addr] = id
	return id
}

// VisitAllocation starts a new identity at the allocated address, whatever
// lived there before.
func (b *Builder) VisitAllocation(ev *mlog.AllocationEvent) error {
	delete(b.ids, ev.ObjectPointer)
	b.assign(ev.ObjectPointer)
	return nil
}

func (b *Builder) VisitGCMove(ev *mlog.GCMoveEvent) error {
	// Resolve every identity before rewriting so chained moves within one
	// event (a -> b, b -> c) are applied against the pre-move state.
	ids := make([]mlog.ObjectID, len(ev.OldObjectPointers))
	for i, old := range ev.OldObjectPointers {
		ids[i] = b.Identity(old)
	}
	for _, old := range ev.OldObjectPointers {
		delete(b.ids, old)
	}
	for i, moved := range ev.NewObjectPointers {
		b.ids[moved] = ids[i]
	}
	return nil
}

func (b *Builder) VisitClassLoad(ev *mlog.ClassLoadEvent) error {
	b.names.Add(ev.ClassPointer, ev.Name)
	return nil
}

func (b *Builder) VisitHeapBegin(ev *mlog.HeapBeginEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current != nil {
		b.log.Warn("%s never ended, discarding it", b.current.Name())
		b.current.Close()
		b.current = nil
	}

	opts := b.opts.Store
	opts.ID = b.nextID
	opts.Timestamp = ev.Timestamp()
	if opts.Resolver == nil {
		opts.Resolver = b.names
	}
	shot, err := Create(opts)
	if err != nil {
		return err
	}
	b.nextID++
	b.current = shot
	b.walked = make(map[mlog.ObjectID]struct{})
	return nil
}

func (b *Builder) VisitHeapObject(ev *mlog.HeapObjectEvent) error {
	if b.current == nil {
		b.log.Debug("Heap object %s outside a heap walk", ev.ObjectPointer)
		return nil
	}
	b.walked[ev.ObjectPointer] = struct{}{}
	var refs []Reference
	if len(ev.References) > 0 {
		refs = make([]Reference, len(ev.References))
		for i, ref := range ev.References {
			refs[i] = Reference{Offset: ref.Offset, Target: ref.ObjectPointer}
		}
	}
	return b.current.AddObject(ObjectRecord{
		Address: ev.ObjectPointer,
		AllocID: b.Identity(ev.ObjectPointer),
		TypeID:  ev.ClassPointer,
		Size:    ev.ObjectSize,
	}, refs)
}

func (b *Builder) VisitHeapRoots(ev *mlog.HeapRootsEvent) error {
	if b.current == nil {
		b.log.Debug("Heap roots outside a heap walk")
		return nil
	}
	roots := make([]Root, len(ev.Roots))
	for i, r := range ev.Roots {
		roots[i] = Root{Address: r.ObjectPointer, Attributes: r.Attributes, ExtraInfo: r.ExtraInfo}
	}
	return b.current.AddRoots(roots)
}

func (b *Builder) VisitHeapEnd(ev *mlog.HeapEndEvent) error {
	b.mu.Lock()
	shot := b.current
	b.current = nil
	b.mu.Unlock()

	if shot == nil {
		b.log.Debug("Heap end without a heap walk")
		return nil
	}
	b.forgetUnwalked()
	if err := shot.Freeze(b.ctx); err != nil {
		shot.Close()
		return err
	}

	b.mu.Lock()
	b.shots = append(b.shots, shot)
	b.mu.Unlock()

	if b.opts.OnHeapshot != nil {
		return b.opts.OnHeapshot(shot)
	}
	return nil
}

// forgetUnwalked drops the identities of objects missing from the walk that
// just ended; they are dead. Their addresses stay issued.
func (b *Builder) forgetUnwalked() {
	for addr := range b.ids {
		if _, ok := b.walked[addr]; !ok {
			delete(b.ids, addr)
		}
	}
	b.walked = nil
}

// Close closes every heapshot the builder produced, including an unfinished one.
func (b *Builder) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	if b.current != nil {
		firstErr = b.current.Close()
		b.current = nil
	}
	for _, shot := range b.shots {
		if err := shot.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.shots = nil
	return firstErr
}
