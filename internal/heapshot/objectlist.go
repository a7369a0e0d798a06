package heapshot

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	apperrors "github.com/heapshot-analysis/pkg/errors"
)

// SortKey names a column an ObjectList can be ordered by.
type SortKey string

const (
	SortByAddress SortKey = "address"
	SortByAllocID SortKey = "alloc_id"
	SortByType    SortKey = "type_id"
	SortBySize    SortKey = "size"
)

// ListOptions controls materialization of an ObjectList.
type ListOptions struct {
	OrderBy    SortKey
	Descending bool
	// Limit caps the number of records; zero means all.
	Limit int
}

// FetchFunc materializes the records behind a list.
type FetchFunc func(ctx context.Context, opts ListOptions) ([]ObjectRecord, error)

// ObjectList is a lazily materialized set of objects. Count and size are
// known up front; records are only read when asked for.
type ObjectList struct {
	count int64
	size  int64
	fetch FetchFunc
}

// EmptyObjectList is the list returned whenever nothing matches.
var EmptyObjectList = &ObjectList{}

// NewObjectList creates a list over precomputed totals. A zero count yields
// EmptyObjectList.
func NewObjectList(count, size int64, fetch FetchFunc) *ObjectList {
	if count == 0 || fetch == nil {
		return EmptyObjectList
	}
	return &ObjectList{count: count, size: size, fetch: fetch}
}

func (l *ObjectList) Count() int64     { return l.count }
func (l *ObjectList) TotalSize() int64 { return l.size }
func (l *ObjectList) IsEmpty() bool    { return l.count == 0 }

// Records reads the objects of the list.
func (l *ObjectList) Records(ctx context.Context, opts ListOptions) ([]ObjectRecord, error) {
	if l.IsEmpty() {
		return nil, nil
	}
	if _, err := OrderClause(opts); err != nil {
		return nil, err
	}
	return l.fetch(ctx, opts)
}

// OrderClause renders opts as an ORDER BY expression over whitelisted
// columns. Address breaks ties so results are deterministic.
func OrderClause(opts ListOptions) (string, error) {
	key := opts.OrderBy
	if key == "" {
		key = SortByAddress
	}
	switch key {
	case SortByAddress, SortByAllocID, SortByType, SortBySize:
	default:
		return "", apperrors.Newf(apperrors.CodeInvalidInput, "unsupported sort key %q", string(key))
	}
	dir := "ASC"
	if opts.Descending {
		dir = "DESC"
	}
	if key == SortByAddress {
		return fmt.Sprintf("address %s", dir), nil
	}
	return fmt.Sprintf("%s %s, address ASC", key, dir), nil
}

// FindRecords applies opts to q and scans the resulting object rows.
func FindRecords(q *gorm.DB, opts ListOptions) ([]ObjectRecord, error) {
	order, err := OrderClause(opts)
	if err != nil {
		return nil, err
	}
	q = q.Order(order)
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	var rows []ObjectRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to load objects", err)
	}
	records := make([]ObjectRecord, len(rows))
	for i, row := range rows {
		records[i] = row.Record()
	}
	return records, nil
}
