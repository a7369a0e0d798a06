// Package repository persists diff reports.
package repository

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/heapshot-analysis/pkg/model"
)

// DiffReportRecord represents the diff_reports table.
type DiffReportRecord struct {
	ID                  int64     `gorm:"column:id;primaryKey;autoIncrement"`
	OldSource           string    `gorm:"column:old_source;type:varchar(512)"`
	NewSource           string    `gorm:"column:new_source;type:varchar(512)"`
	OldHeapshot         int       `gorm:"column:old_heapshot"`
	NewHeapshot         int       `gorm:"column:new_heapshot"`
	Capture             JSONField `gorm:"column:capture;type:json"`
	NewCount            int64     `gorm:"column:new_count"`
	NewSize             int64     `gorm:"column:new_size"`
	NewFinalizableCount int64     `gorm:"column:new_finalizable_count"`
	NewFinalizableSize  int64     `gorm:"column:new_finalizable_size"`
	DeadCount           int64     `gorm:"column:dead_count"`
	DeadSize            int64     `gorm:"column:dead_size"`
	CreatedAt           time.Time `gorm:"column:created_at;autoCreateTime"`

	Rows []DiffReportRowRecord `gorm:"foreignKey:ReportID"`
}

// TableName returns the table name for DiffReportRecord.
func (DiffReportRecord) TableName() string {
	return "diff_reports"
}

// DiffReportRowRecord represents the diff_report_rows table.
type DiffReportRowRecord struct {
	ID                  int64  `gorm:"column:id;primaryKey;autoIncrement"`
	ReportID            int64  `gorm:"column:report_id;index"`
	TypeID              int64  `gorm:"column:type_id"`
	TypeName            string `gorm:"column:type_name;type:varchar(1024)"`
	NewCount            int64  `gorm:"column:new_count"`
	NewSize             int64  `gorm:"column:new_size"`
	NewFinalizableCount int64  `gorm:"column:new_finalizable_count"`
	NewFinalizableSize  int64  `gorm:"column:new_finalizable_size"`
	DeadCount           int64  `gorm:"column:dead_count"`
	DeadSize            int64  `gorm:"column:dead_size"`
}

// TableName returns the table name for DiffReportRowRecord.
func (DiffReportRowRecord) TableName() string {
	return "diff_report_rows"
}

// FromDiffReport converts model.DiffReport to DiffReportRecord.
func FromDiffReport(r *model.DiffReport) (*DiffReportRecord, error) {
	record := &DiffReportRecord{
		ID:                  r.ID,
		OldSource:           r.OldSource,
		NewSource:           r.NewSource,
		OldHeapshot:         r.OldHeapshot,
		NewHeapshot:         r.NewHeapshot,
		NewCount:            r.Totals.NewCount,
		NewSize:             r.Totals.NewSize,
		NewFinalizableCount: r.Totals.NewFinalizableCount,
		NewFinalizableSize:  r.Totals.NewFinalizableSize,
		DeadCount:           r.Totals.DeadCount,
		DeadSize:            r.Totals.DeadSize,
		CreatedAt:           r.CreatedAt,
	}

	if r.Capture != nil {
		data, err := json.Marshal(r.Capture)
		if err != nil {
			return nil, err
		}
		record.Capture = data
	}

	record.Rows = make([]DiffReportRowRecord, len(r.Rows))
	for i, row := range r.Rows {
		record.Rows[i] = DiffReportRowRecord{
			TypeID:              int64(row.TypeID),
			TypeName:            row.TypeName,
			NewCount:            row.NewCount,
			NewSize:             row.NewSize,
			NewFinalizableCount: row.NewFinalizableCount,
			NewFinalizableSize:  row.NewFinalizableSize,
			DeadCount:           row.DeadCount,
			DeadSize:            row.DeadSize,
		}
	}
	return record, nil
}

// ToModel converts DiffReportRecord to model.DiffReport.
func (r *DiffReportRecord) ToModel() (*model.DiffReport, error) {
	report := &model.DiffReport{
		ID:          r.ID,
		OldSource:   r.OldSource,
		NewSource:   r.NewSource,
		OldHeapshot: r.OldHeapshot,
		NewHeapshot: r.NewHeapshot,
		Totals: model.DiffTotals{
			NewCount:            r.NewCount,
			NewSize:             r.NewSize,
			NewFinalizableCount: r.NewFinalizableCount,
			NewFinalizableSize:  r.NewFinalizableSize,
			DeadCount:           r.DeadCount,
			DeadSize:            r.DeadSize,
		},
		CreatedAt: r.CreatedAt,
	}

	if r.Capture != nil {
		report.Capture = &model.CaptureInfo{}
		if err := json.Unmarshal(r.Capture, report.Capture); err != nil {
			return nil, err
		}
	}

	for _, row := range r.Rows {
		report.Rows = append(report.Rows, model.TypeDiffRow{
			TypeID:              uint64(row.TypeID),
			TypeName:            row.TypeName,
			NewCount:            row.NewCount,
			NewSize:             row.NewSize,
			NewFinalizableCount: row.NewFinalizableCount,
			NewFinalizableSize:  row.NewFinalizableSize,
			DeadCount:           row.DeadCount,
			DeadSize:            row.DeadSize,
		})
	}
	return report, nil
}

// JSONField is a custom type for handling JSON columns.
type JSONField []byte

// Value implements driver.Valuer interface.
func (j JSONField) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return []byte(j), nil
}

// Scan implements sql.Scanner interface.
func (j *JSONField) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		*j = append((*j)[0:0], v...)
		return nil
	case string:
		*j = []byte(v)
		return nil
	default:
		return errors.New("unsupported type for JSONField")
	}
}
