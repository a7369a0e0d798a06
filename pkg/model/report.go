// Package model defines the report structures shared by the CLI, the writer
// and the report repository.
package model

import "time"

// CaptureInfo describes the process a log stream was recorded from.
type CaptureInfo struct {
	Source          string    `json:"source"`
	FormatVersion   int       `json:"format_version"`
	PointerSize     int       `json:"pointer_size"`
	ProcessID       int32     `json:"pid"`
	Arguments       string    `json:"arguments,omitempty"`
	Architecture    string    `json:"architecture,omitempty"`
	OperatingSystem string    `json:"os,omitempty"`
	StartupTime     time.Time `json:"startup_time"`
}

// ProcessSummary reports how much of a stream was consumed.
type ProcessSummary struct {
	Buffers    int64 `json:"buffers"`
	Events     int64 `json:"events"`
	Bytes      int64 `json:"bytes"`
	SyncPoints int64 `json:"sync_points"`
	Canceled   bool  `json:"canceled,omitempty"`
	DurationMs int64 `json:"duration_ms"`
}

// TypeSummary aggregates the objects of one type in a heapshot.
type TypeSummary struct {
	TypeID           uint64 `json:"type_id"`
	TypeName         string `json:"type_name"`
	Category         string `json:"category,omitempty"`
	Count            int64  `json:"count"`
	Size             int64  `json:"size"`
	FinalizableCount int64  `json:"finalizable_count,omitempty"`
	FinalizableSize  int64  `json:"finalizable_size,omitempty"`
}

// HeapshotSummary describes one frozen heapshot.
type HeapshotSummary struct {
	ID          int           `json:"id"`
	Name        string        `json:"name"`
	Timestamp   uint64        `json:"timestamp"`
	ObjectCount int64         `json:"object_count"`
	TotalSize   int64         `json:"total_size"`
	Types       []TypeSummary `json:"types"`
}

// AnalysisReport is the output of analyzing one capture.
type AnalysisReport struct {
	Capture     CaptureInfo       `json:"capture"`
	Process     ProcessSummary    `json:"process"`
	Heapshots   []HeapshotSummary `json:"heapshots"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// TypeDiffRow is the difference of one type between two heapshots.
type TypeDiffRow struct {
	TypeID              uint64 `json:"type_id"`
	TypeName            string `json:"type_name"`
	NewCount            int64  `json:"new_count"`
	NewSize             int64  `json:"new_size"`
	NewFinalizableCount int64  `json:"new_finalizable_count"`
	NewFinalizableSize  int64  `json:"new_finalizable_size"`
	DeadCount           int64  `json:"dead_count"`
	DeadSize            int64  `json:"dead_size"`
}

// Growth returns the byte delta the type contributes.
func (r TypeDiffRow) Growth() int64 {
	return r.NewSize + r.NewFinalizableSize - r.DeadSize
}

// DiffTotals sums the rows of a diff.
type DiffTotals struct {
	NewCount            int64 `json:"new_count"`
	NewSize             int64 `json:"new_size"`
	NewFinalizableCount int64 `json:"new_finalizable_count"`
	NewFinalizableSize  int64 `json:"new_finalizable_size"`
	DeadCount           int64 `json:"dead_count"`
	DeadSize            int64 `json:"dead_size"`
}

// Growth returns the net byte delta.
func (t DiffTotals) Growth() int64 {
	return t.NewSize + t.NewFinalizableSize - t.DeadSize
}

// DiffReport is a persisted comparison of two heapshots.
type DiffReport struct {
	ID          int64         `json:"id,omitempty"`
	OldSource   string        `json:"old_source"`
	NewSource   string        `json:"new_source"`
	OldHeapshot int           `json:"old_heapshot"`
	NewHeapshot int           `json:"new_heapshot"`
	Capture     *CaptureInfo  `json:"capture,omitempty"`
	Totals      DiffTotals    `json:"totals"`
	Rows        []TypeDiffRow `json:"rows,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// SumRows recomputes Totals from Rows.
func (r *DiffReport) SumRows() {
	r.Totals = DiffTotals{}
	for _, row := range r.Rows {
		r.Totals.NewCount += row.NewCount
		r.Totals.NewSize += row.NewSize
		r.Totals.NewFinalizableCount += row.NewFinalizableCount
		r.Totals.NewFinalizableSize += row.NewFinalizableSize
		r.Totals.DeadCount += row.DeadCount
		r.Totals.DeadSize += row.DeadSize
	}
}

// PathStep is one object on a root path.
type PathStep struct {
	Address  uint64 `json:"address"`
	AllocID  int64  `json:"alloc_id"`
	TypeName string `json:"type_name"`
	Size     uint64 `json:"size"`
	RootKind string `json:"root_kind,omitempty"`
	Offset   uint64 `json:"offset,omitempty"`
}

// RootPathReport is the result of tracing an object to a root.
type RootPathReport struct {
	Heapshot int        `json:"heapshot"`
	Target   uint64     `json:"target"`
	Depth    int        `json:"depth"`
	Steps    []PathStep `json:"steps"`
}
