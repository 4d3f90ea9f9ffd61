package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storyteller-server/internal/domain"
	"storyteller-server/pkg/ai"
)

// MockGenerator is a mock type for the ai.Generator type
type MockGenerator struct {
	mock.Mock
}

// Generate provides a mock function with given fields: ctx, story
func (_m *MockGenerator) Generate(ctx context.Context, story []domain.StoryEntry) (ai.Continuation, error) {
	ret := _m.Called(ctx, story)

	var r0 ai.Continuation
	if rf, ok := ret.Get(0).(func(context.Context, []domain.StoryEntry) ai.Continuation); ok {
		r0 = rf(ctx, story)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(ai.Continuation)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, []domain.StoryEntry) error); ok {
		r1 = rf(ctx, story)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockGenerator creates a new instance of MockGenerator and asserts its expectations on cleanup.
func NewMockGenerator(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockGenerator {
	m := &MockGenerator{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var _ ai.Generator = (*MockGenerator)(nil)
