package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storyteller-server/pkg/imagegen"
)

// MockImageGenerator is a mock type for the imagegen.Generator type
type MockImageGenerator struct {
	mock.Mock
}

// Generate provides a mock function with given fields: ctx, sceneDescription
func (_m *MockImageGenerator) Generate(ctx context.Context, sceneDescription string) (string, error) {
	ret := _m.Called(ctx, sceneDescription)
	return ret.String(0), ret.Error(1)
}

// NewMockImageGenerator creates a new instance of MockImageGenerator and asserts its expectations on cleanup.
func NewMockImageGenerator(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockImageGenerator {
	m := &MockImageGenerator{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var _ imagegen.Generator = (*MockImageGenerator)(nil)
