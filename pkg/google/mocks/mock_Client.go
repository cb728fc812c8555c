// Package mocks provides test doubles for the google client.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	"github.com/tooeysb/gmail-obsidian-integration/internal/model"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// ListMessageIDs provides a mock function with given fields: ctx, query, pageToken, pageSize
func (_m *MockClient) ListMessageIDs(ctx context.Context, query string, pageToken string, pageSize int64) ([]string, string, error) {
	ret := _m.Called(ctx, query, pageToken, pageSize)

	if len(ret) == 0 {
		panic("no return value specified for ListMessageIDs")
	}

	var r0 []string
	var r1 string
	var r2 error
	if rf, ok := ret.Get(0).(func(context.Context, string, string, int64) ([]string, string, error)); ok {
		return rf(ctx, query, pageToken, pageSize)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]string)
	}
	r1 = ret.String(1)
	r2 = ret.Error(2)

	return r0, r1, r2
}

// GetMessagesBatch provides a mock function with given fields: ctx, ids
func (_m *MockClient) GetMessagesBatch(ctx context.Context, ids []string) (map[string]*model.Message, map[string]error) {
	ret := _m.Called(ctx, ids)

	if len(ret) == 0 {
		panic("no return value specified for GetMessagesBatch")
	}

	var r0 map[string]*model.Message
	var r1 map[string]error
	if rf, ok := ret.Get(0).(func(context.Context, []string) (map[string]*model.Message, map[string]error)); ok {
		return rf(ctx, ids)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(map[string]*model.Message)
	}
	if ret.Get(1) != nil {
		r1 = ret.Get(1).(map[string]error)
	}

	return r0, r1
}

// ListConnections provides a mock function with given fields: ctx, pageToken
func (_m *MockClient) ListConnections(ctx context.Context, pageToken string) ([]model.ContactRecord, string, error) {
	ret := _m.Called(ctx, pageToken)

	if len(ret) == 0 {
		panic("no return value specified for ListConnections")
	}

	var r0 []model.ContactRecord
	var r1 string
	var r2 error
	if rf, ok := ret.Get(0).(func(context.Context, string) ([]model.ContactRecord, string, error)); ok {
		return rf(ctx, pageToken)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]model.ContactRecord)
	}
	r1 = ret.String(1)
	r2 = ret.Error(2)

	return r0, r1, r2
}

// NewMockClient creates a new instance of MockClient.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	mock := &MockClient{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
