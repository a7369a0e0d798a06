package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	apperrors "github.com/heapshot-analysis/pkg/errors"
	"github.com/heapshot-analysis/pkg/model"
)

// GormReportRepository implements ReportRepository using GORM.
type GormReportRepository struct {
	db *gorm.DB
}

// NewGormReportRepository creates a new GormReportRepository.
func NewGormReportRepository(db *gorm.DB) *GormReportRepository {
	return &GormReportRepository{db: db}
}

// Migrate creates or updates the report tables.
func (r *GormReportRepository) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&DiffReportRecord{}, &DiffReportRowRecord{}); err != nil {
		return fmt.Errorf("failed to migrate report tables: %w", err)
	}
	return nil
}

// Save stores a report and its rows in one transaction.
func (r *GormReportRepository) Save(ctx context.Context, report *model.DiffReport) (int64, error) {
	record, err := FromDiffReport(report)
	if err != nil {
		return 0, fmt.Errorf("failed to convert report: %w", err)
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(record).Error
	})
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to save report", err)
	}

	report.ID = record.ID
	report.CreatedAt = record.CreatedAt
	return record.ID, nil
}

// Get retrieves a report by id, rows ordered by growth.
func (r *GormReportRepository) Get(ctx context.Context, id int64) (*model.DiffReport, error) {
	var record DiffReportRecord

	err := r.db.WithContext(ctx).
		Preload("Rows", func(db *gorm.DB) *gorm.DB {
			return db.Order("new_size + new_finalizable_size - dead_size DESC").Order("id")
		}).
		Where("id = ?", id).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.Newf(apperrors.CodeNotFound, "report not found: %d", id)
		}
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to get report", err)
	}

	report, err := record.ToModel()
	if err != nil {
		return nil, fmt.Errorf("failed to decode report %d: %w", id, err)
	}
	return report, nil
}

// List retrieves the most recent reports, newest first.
func (r *GormReportRepository) List(ctx context.Context, limit int) ([]*model.DiffReport, error) {
	var records []DiffReportRecord

	q := r.db.WithContext(ctx).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to list reports", err)
	}

	reports := make([]*model.DiffReport, 0, len(records))
	for i := range records {
		report, err := records[i].ToModel()
		if err != nil {
			return nil, fmt.Errorf("failed to decode report %d: %w", records[i].ID, err)
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// Delete removes a report and its rows.
func (r *GormReportRepository) Delete(ctx context.Context, id int64) error {
	var affected int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("report_id = ?", id).Delete(&DiffReportRowRecord{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&DiffReportRecord{}, id)
		affected = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "failed to delete report", err)
	}
	if affected == 0 {
		return apperrors.Newf(apperrors.CodeNotFound, "report not found: %d", id)
	}
	return nil
}
