package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/heapshot-analysis/pkg/model"
)

// MockReportRepository is a mock implementation of ReportRepository.
type MockReportRepository struct {
	mock.Mock
}

// Save mocks the Save method.
func (m *MockReportRepository) Save(ctx context.Context, report *model.DiffReport) (int64, error) {
	args := m.Called(ctx, report)
	return args.Get(0).(int64), args.Error(1)
}

// Get mocks the Get method.
func (m *MockReportRepository) Get(ctx context.Context, id int64) (*model.DiffReport, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DiffReport), args.Error(1)
}

// List mocks the List method.
func (m *MockReportRepository) List(ctx context.Context, limit int) ([]*model.DiffReport, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.DiffReport), args.Error(1)
}

// Delete mocks the Delete method.
func (m *MockReportRepository) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// ExpectSave sets up an expectation for Save returning id.
func (m *MockReportRepository) ExpectSave(id int64, err error) *mock.Call {
	return m.On("Save", mock.Anything, mock.AnythingOfType("*model.DiffReport")).Return(id, err)
}
