package heapshot

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heapshot-analysis/internal/mock"
	"github.com/heapshot-analysis/internal/parser/mlog"
	apperrors "github.com/heapshot-analysis/pkg/errors"
)

const (
	typeString mlog.Pointer = 0x10400
	typeBuffer mlog.Pointer = 0x10500
)

func newTestStore(t *testing.T, opts Options) *Heapshot {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	if opts.ID == 0 {
		opts.ID = 1
	}
	h, err := Create(opts)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

// populate writes three strings and one buffer. 0x8008 is held only by the
// finalization queue; 0x8010 has both a finalizer and a stack root.
func populate(t *testing.T, h *Heapshot) {
	t.Helper()
	objects := []ObjectRecord{
		{Address: 0x8000, AllocID: 0x8000, TypeID: typeString, Size: 16},
		{Address: 0x8008, AllocID: 0x8008, TypeID: typeString, Size: 24},
		{Address: 0x8010, AllocID: 0x8010, TypeID: typeString, Size: 32},
		{Address: 0x8100, AllocID: 0x8100, TypeID: typeBuffer, Size: 100},
	}
	for _, obj := range objects {
		require.NoError(t, h.AddObject(obj, nil))
	}
	require.NoError(t, h.AddRoots([]Root{
		{Address: 0x8008, Attributes: mlog.RootFinalizer},
		{Address: 0x8010, Attributes: mlog.RootFinalizer},
		{Address: 0x8100, Attributes: mlog.RootStack, ExtraInfo: 7},
		{Address: 0x8010, Attributes: mlog.RootStack | mlog.RootPinning},
	}))
	require.NoError(t, h.Freeze(context.Background()))
}

func TestCreate_FileLifecycle(t *testing.T) {
	tests := []struct {
		name     string
		keepFile bool
	}{
		{"removed on close", false},
		{"kept on close", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := Create(Options{ID: 3, Dir: t.TempDir(), KeepFile: tt.keepFile})
			require.NoError(t, err)

			assert.Equal(t, 3, h.ID())
			assert.Equal(t, "Heapshot 3", h.Name())
			assert.FileExists(t, h.Path())

			require.NoError(t, h.Close())
			require.NoError(t, h.Close())

			_, statErr := os.Stat(h.Path())
			assert.Equal(t, tt.keepFile, statErr == nil)
		})
	}
}

func TestHeapshot_QueriesRequireFreeze(t *testing.T) {
	h := newTestStore(t, Options{})
	require.NoError(t, h.AddObject(ObjectRecord{Address: 0x8000, AllocID: 0x8000, TypeID: typeString, Size: 16}, nil))

	ctx := context.Background()
	tests := []struct {
		name string
		call func() error
	}{
		{"types", func() error { _, err := h.Types(); return err }},
		{"objects", func() error { _, err := h.Objects(typeString, FilterAll); return err }},
		{"all objects", func() error { _, err := h.AllObjects(FilterAll); return err }},
		{"roots", func() error { _, err := h.Roots(ctx); return err }},
		{"trace", func() error { _, err := h.TraceToRoot(ctx, 0x8000, 0); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.True(t, apperrors.IsNotFrozen(err))
		})
	}
	assert.False(t, h.IsFrozen())
	assert.Equal(t, int64(0), h.ObjectCount())
}

func TestHeapshot_IngestAfterFreeze(t *testing.T) {
	h := newTestStore(t, Options{})
	populate(t, h)

	err := h.AddObject(ObjectRecord{Address: 0x9000, AllocID: 0x9000, TypeID: typeString, Size: 8}, nil)
	assert.Equal(t, apperrors.CodeFrozen, apperrors.GetErrorCode(err))

	err = h.AddRoots([]Root{{Address: 0x9000}})
	assert.Equal(t, apperrors.CodeFrozen, apperrors.GetErrorCode(err))

	err = h.Freeze(context.Background())
	assert.Equal(t, apperrors.CodeFrozen, apperrors.GetErrorCode(err))
}

func TestHeapshot_FreezeRetry(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, h *Heapshot)
	}{
		{
			name: "index left by an earlier attempt",
			setup: func(t *testing.T, h *Heapshot) {
				require.NoError(t, h.db.Exec("CREATE INDEX idx_objects_alloc ON objects(alloc_id)").Error)
			},
		},
		{
			name: "canceled attempt",
			setup: func(t *testing.T, h *Heapshot) {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				assert.Error(t, h.Freeze(ctx))
				assert.False(t, h.IsFrozen())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestStore(t, Options{})
			require.NoError(t, h.AddObject(ObjectRecord{Address: 0x8000, AllocID: 0x8000, TypeID: typeString, Size: 16}, nil))
			require.NoError(t, h.AddObject(ObjectRecord{Address: 0x8100, AllocID: 0x8100, TypeID: typeBuffer, Size: 100}, nil))

			tt.setup(t, h)

			require.NoError(t, h.Freeze(context.Background()))
			assert.True(t, h.IsFrozen())
			assert.Equal(t, int64(2), h.ObjectCount())
			assert.Equal(t, int64(116), h.TotalSize())
		})
	}
}

func TestHeapshot_Summaries(t *testing.T) {
	h := newTestStore(t, Options{})
	populate(t, h)

	types, err := h.Types()
	require.NoError(t, err)
	require.Len(t, types, 2)

	assert.Equal(t, TypeSummary{TypeID: typeString, Count: 3, Size: 72, FinalizableCount: 1, FinalizableSize: 24}, types[0])
	assert.Equal(t, TypeSummary{TypeID: typeBuffer, Count: 1, Size: 100}, types[1])
	assert.Equal(t, int64(4), h.ObjectCount())
	assert.Equal(t, int64(172), h.TotalSize())

	bySize, err := h.TypesBySize()
	require.NoError(t, err)
	assert.Equal(t, typeBuffer, bySize[0].TypeID)
}

func TestHeapshot_Objects(t *testing.T) {
	h := newTestStore(t, Options{})
	populate(t, h)
	ctx := context.Background()

	tests := []struct {
		name      string
		filter    Filter
		count     int64
		size      int64
		addresses []mlog.ObjectID
		kinds     []RootKind
	}{
		{"all", FilterAll, 3, 72, []mlog.ObjectID{0x8000, 0x8008, 0x8010}, []RootKind{RootNone, RootFinalizable, RootNormal}},
		{"finalizable", FilterFinalizable, 1, 24, []mlog.ObjectID{0x8008}, []RootKind{RootFinalizable}},
		{"non-finalizable", FilterNonFinalizable, 2, 48, []mlog.ObjectID{0x8000, 0x8010}, []RootKind{RootNone, RootNormal}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := h.Objects(typeString, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.count, list.Count())
			assert.Equal(t, tt.size, list.TotalSize())

			records, err := list.Records(ctx, ListOptions{})
			require.NoError(t, err)
			require.Len(t, records, len(tt.addresses))
			for i, rec := range records {
				assert.Equal(t, tt.addresses[i], rec.Address)
				assert.Equal(t, tt.kinds[i], rec.RootKind)
				assert.Equal(t, typeString, rec.TypeID)
			}
		})
	}

	t.Run("unknown type is the empty list", func(t *testing.T) {
		list, err := h.Objects(0xdead, FilterAll)
		require.NoError(t, err)
		assert.Same(t, EmptyObjectList, list)
	})

	t.Run("no finalizable buffers", func(t *testing.T) {
		list, err := h.Objects(typeBuffer, FilterFinalizable)
		require.NoError(t, err)
		assert.True(t, list.IsEmpty())
		records, err := list.Records(ctx, ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}

func TestHeapshot_AllObjectsOrdering(t *testing.T) {
	h := newTestStore(t, Options{})
	populate(t, h)
	ctx := context.Background()

	list, err := h.AllObjects(FilterAll)
	require.NoError(t, err)
	assert.Equal(t, int64(4), list.Count())
	assert.Equal(t, int64(172), list.TotalSize())

	records, err := list.Records(ctx, ListOptions{OrderBy: SortBySize, Descending: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint64(100), records[0].Size)
	assert.Equal(t, uint64(32), records[1].Size)

	_, err = list.Records(ctx, ListOptions{OrderBy: "size; DROP TABLE objects"})
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetErrorCode(err))
}

func TestHeapshot_Batching(t *testing.T) {
	h := newTestStore(t, Options{BatchSize: 2})
	for i := 0; i < 5; i++ {
		addr := mlog.ObjectID(0x8000 + i*8)
		refs := []Reference{{Offset: 8, Target: addr + 8}}
		require.NoError(t, h.AddObject(ObjectRecord{Address: addr, AllocID: addr, TypeID: typeString, Size: 16}, refs))
	}
	require.NoError(t, h.Freeze(context.Background()))

	assert.Equal(t, int64(5), h.ObjectCount())
	assert.Equal(t, int64(80), h.TotalSize())
}

func TestHeapshot_Roots(t *testing.T) {
	h := newTestStore(t, Options{})
	populate(t, h)

	roots, err := h.Roots(context.Background())
	require.NoError(t, err)
	require.Len(t, roots, 4)
	assert.Equal(t, mlog.ObjectID(0x8008), roots[0].Address)
	assert.True(t, roots[0].Attributes.IsFinalizer())
	assert.Equal(t, Root{Address: 0x8100, Attributes: mlog.RootStack, ExtraInfo: 7}, roots[2])
	assert.Equal(t, mlog.RootStack|mlog.RootPinning, roots[3].Attributes)
}

func TestHeapshot_TypeName(t *testing.T) {
	resolver := &mock.MockTypeNameResolver{}
	resolver.On("TypeName", typeString).Return("System.String", true)
	resolver.On("TypeName", typeBuffer).Return("", false)

	h := newTestStore(t, Options{Resolver: resolver})
	assert.Equal(t, "System.String", h.TypeName(typeString))
	assert.Equal(t, "<unknown 0x10500>", h.TypeName(typeBuffer))
	resolver.AssertExpectations(t)

	plain := newTestStore(t, Options{ID: 2})
	assert.Equal(t, "<unknown 0x10400>", plain.TypeName(typeString))
}

func TestHeapshot_ListAfterClose(t *testing.T) {
	h, err := Create(Options{ID: 1, Dir: t.TempDir()})
	require.NoError(t, err)
	populate(t, h)

	list, err := h.AllObjects(FilterAll)
	require.NoError(t, err)
	require.NoError(t, h.Close())

	assert.Equal(t, int64(4), list.Count())
	_, err = list.Records(context.Background(), ListOptions{})
	assert.Error(t, err)
}

func TestClassNames(t *testing.T) {
	names := NewClassNames()
	names.Add(typeString, "System.String")
	names.Add(typeString, "System.String2")

	name, ok := names.TypeName(typeString)
	assert.True(t, ok)
	assert.Equal(t, "System.String2", name)

	_, ok = names.TypeName(typeBuffer)
	assert.False(t, ok)
	assert.Equal(t, 1, names.Len())
}

func TestOrderClause(t *testing.T) {
	tests := []struct {
		name     string
		opts     ListOptions
		expected string
		wantErr  bool
	}{
		{"default", ListOptions{}, "address ASC", false},
		{"address desc", ListOptions{OrderBy: SortByAddress, Descending: true}, "address DESC", false},
		{"size desc", ListOptions{OrderBy: SortBySize, Descending: true}, "size DESC, address ASC", false},
		{"alloc id", ListOptions{OrderBy: SortByAllocID}, "alloc_id ASC, address ASC", false},
		{"type", ListOptions{OrderBy: SortByType}, "type_id ASC, address ASC", false},
		{"unknown", ListOptions{OrderBy: "name"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := OrderClause(tt.opts)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}
