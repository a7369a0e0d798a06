package repository

import (
	"context"

	"github.com/heapshot-analysis/pkg/model"
)

// ReportRepository defines the interface for diff report storage.
type ReportRepository interface {
	// Save stores a report with its rows and returns the assigned id.
	Save(ctx context.Context, report *model.DiffReport) (int64, error)

	// Get retrieves a report with its rows.
	Get(ctx context.Context, id int64) (*model.DiffReport, error)

	// List retrieves the most recent reports without their rows.
	List(ctx context.Context, limit int) ([]*model.DiffReport, error)

	// Delete removes a report and its rows.
	Delete(ctx context.Context, id int64) error
}
