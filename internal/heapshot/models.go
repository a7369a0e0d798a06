package heapshot

import (
	"fmt"

	"github.com/heapshot-analysis/internal/parser/mlog"
)

// RootKind classifies an object by the roots that reference it.
type RootKind int

const (
	RootNone RootKind = iota
	RootNormal
	// RootFinalizable marks objects held only by the finalization queue.
	RootFinalizable
)

func (k RootKind) String() string {
	switch k {
	case RootNone:
		return "none"
	case RootNormal:
		return "root"
	case RootFinalizable:
		return "finalizable"
	default:
		return fmt.Sprintf("RootKind(%d)", int(k))
	}
}

// ObjectRecord is one object of a heap walk. Address is where the object
// lived at walk time; AllocID is the identity it was allocated with, which
// survives moves and is what diffs compare. RootKind is assigned at freeze.
type ObjectRecord struct {
	Address  mlog.ObjectID
	AllocID  mlog.ObjectID
	TypeID   mlog.Pointer
	Size     uint64
	RootKind RootKind
}

// Reference is an outgoing edge from an object.
type Reference struct {
	Offset uint64
	Target mlog.ObjectID
}

// Root is a root entry as reported by the profiler.
type Root struct {
	Address    mlog.ObjectID
	Attributes mlog.RootAttributes
	ExtraInfo  uint64
}

// TypeSummary aggregates the objects of one type.
type TypeSummary struct {
	TypeID           mlog.Pointer
	Count            int64
	Size             int64
	FinalizableCount int64
	FinalizableSize  int64
}

// Filter selects objects by root classification.
type Filter int

const (
	FilterAll Filter = iota
	FilterFinalizable
	FilterNonFinalizable
)

// ObjectRow is the persisted form of an ObjectRecord.
type ObjectRow struct {
	Address  int64 `gorm:"column:address;not null"`
	AllocID  int64 `gorm:"column:alloc_id;not null"`
	TypeID   int64 `gorm:"column:type_id;not null"`
	Size     int64 `gorm:"column:size;not null"`
	RootKind int   `gorm:"column:root_kind;not null;default:0"`
}

// TableName specifies the table name for ObjectRow.
func (ObjectRow) TableName() string { return "objects" }

// Record converts the row back to its domain form.
func (r ObjectRow) Record() ObjectRecord {
	return ObjectRecord{
		Address:  mlog.ObjectID(r.Address),
		AllocID:  mlog.ObjectID(r.AllocID),
		TypeID:   mlog.Pointer(r.TypeID),
		Size:     uint64(r.Size),
		RootKind: RootKind(r.RootKind),
	}
}

type refRow struct {
	FromAddress int64 `gorm:"column:from_address;not null"`
	ToAddress   int64 `gorm:"column:to_address;not null"`
	Offset      int64 `gorm:"column:field_offset;not null"`
}

func (refRow) TableName() string { return "object_refs" }

type rootRow struct {
	Address    int64 `gorm:"column:address;not null"`
	Attributes int64 `gorm:"column:attributes;not null"`
	ExtraInfo  int64 `gorm:"column:extra_info;not null"`
}

func (rootRow) TableName() string { return "roots" }

type typeSummaryRow struct {
	TypeID           int64
	Count            int64
	Size             int64
	FinalizableCount int64
	FinalizableSize  int64
}
