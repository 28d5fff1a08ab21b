// Package mocks provides test doubles for the amocrm client.
package mocks

import (
	"context"
	"encoding/json"

	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// GetLead provides a mock function with given fields: ctx, id
func (_m *MockClient) GetLead(ctx context.Context, id int64) (json.RawMessage, error) {
	return _m.rawCall("GetLead", ctx, id)
}

// GetUser provides a mock function with given fields: ctx, id
func (_m *MockClient) GetUser(ctx context.Context, id int64) (json.RawMessage, error) {
	return _m.rawCall("GetUser", ctx, id)
}

// GetContact provides a mock function with given fields: ctx, id
func (_m *MockClient) GetContact(ctx context.Context, id int64) (json.RawMessage, error) {
	return _m.rawCall("GetContact", ctx, id)
}

// Start provides a mock function with given fields:
func (_m *MockClient) Start() {
	_m.Called()
}

// Close provides a mock function with given fields:
func (_m *MockClient) Close() {
	_m.Called()
}

func (_m *MockClient) rawCall(method string, ctx context.Context, id int64) (json.RawMessage, error) {
	ret := _m.MethodCalled(method, ctx, id)

	if len(ret) == 0 {
		panic("no return value specified for " + method)
	}

	var r0 json.RawMessage
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, int64) (json.RawMessage, error)); ok {
		return rf(ctx, id)
	}
	switch v := ret.Get(0).(type) {
	case json.RawMessage:
		r0 = v
	case string:
		r0 = json.RawMessage(v)
	case []byte:
		r0 = json.RawMessage(v)
	}

	r1 = ret.Error(1)

	return r0, r1
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
