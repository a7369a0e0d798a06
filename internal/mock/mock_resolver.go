package mock

import (
	"github.com/stretchr/testify/mock"

	"github.com/heapshot-analysis/internal/parser/mlog"
)

// MockTypeNameResolver is a mock implementation of the TypeNameResolver interface.
type MockTypeNameResolver struct {
	mock.Mock
}

// TypeName mocks the TypeName method.
func (m *MockTypeNameResolver) TypeName(typeID mlog.Pointer) (string, bool) {
	args := m.Called(typeID)
	return args.String(0), args.Bool(1)
}
