// Package mocks provides test doubles for the anthropic client.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	"github.com/tooeysb/gmail-obsidian-integration/pkg/anthropic"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// CreateMessage provides a mock function with given fields: ctx, req
func (_m *MockClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for CreateMessage")
	}

	if rf, ok := ret.Get(0).(func(context.Context, anthropic.MessageRequest) (*anthropic.MessageResponse, error)); ok {
		return rf(ctx, req)
	}
	var r0 *anthropic.MessageResponse
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*anthropic.MessageResponse)
	}
	return r0, ret.Error(1)
}

// CreateBatch provides a mock function with given fields: ctx, req
func (_m *MockClient) CreateBatch(ctx context.Context, req anthropic.BatchRequest) (*anthropic.BatchResponse, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for CreateBatch")
	}

	if rf, ok := ret.Get(0).(func(context.Context, anthropic.BatchRequest) (*anthropic.BatchResponse, error)); ok {
		return rf(ctx, req)
	}
	var r0 *anthropic.BatchResponse
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*anthropic.BatchResponse)
	}
	return r0, ret.Error(1)
}

// GetBatch provides a mock function with given fields: ctx, batchID
func (_m *MockClient) GetBatch(ctx context.Context, batchID string) (*anthropic.BatchResponse, error) {
	ret := _m.Called(ctx, batchID)

	if len(ret) == 0 {
		panic("no return value specified for GetBatch")
	}

	if rf, ok := ret.Get(0).(func(context.Context, string) (*anthropic.BatchResponse, error)); ok {
		return rf(ctx, batchID)
	}
	var r0 *anthropic.BatchResponse
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*anthropic.BatchResponse)
	}
	return r0, ret.Error(1)
}

// GetBatchResults provides a mock function with given fields: ctx, batchID
func (_m *MockClient) GetBatchResults(ctx context.Context, batchID string) (anthropic.BatchResultIterator, error) {
	ret := _m.Called(ctx, batchID)

	if len(ret) == 0 {
		panic("no return value specified for GetBatchResults")
	}

	if rf, ok := ret.Get(0).(func(context.Context, string) (anthropic.BatchResultIterator, error)); ok {
		return rf(ctx, batchID)
	}
	var r0 anthropic.BatchResultIterator
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(anthropic.BatchResultIterator)
	}
	return r0, ret.Error(1)
}

// NewMockClient creates a new instance of MockClient. It also registers a
// testing interface on the mock and a cleanup function to assert the mocks
// expectations.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

// ResultIterator yields a fixed slice of batch results, then Err.
type ResultIterator struct {
	Items  []anthropic.BatchResultItem
	Error  error
	idx    int
	closed bool
}

// NewResultIterator returns an iterator over items.
func NewResultIterator(items ...anthropic.BatchResultItem) *ResultIterator {
	return &ResultIterator{Items: items, idx: -1}
}

func (it *ResultIterator) Next() bool {
	if it.idx+1 < len(it.Items) {
		it.idx++
		return true
	}
	return false
}

func (it *ResultIterator) Item() anthropic.BatchResultItem { return it.Items[it.idx] }

func (it *ResultIterator) Err() error {
	if it.idx+1 >= len(it.Items) {
		return it.Error
	}
	return nil
}

func (it *ResultIterator) Close() error {
	it.closed = true
	return nil
}

// Closed reports whether Close was called.
func (it *ResultIterator) Closed() bool { return it.closed }
