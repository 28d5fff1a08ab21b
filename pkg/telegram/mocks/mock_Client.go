// Package mocks provides test doubles for the telegram client.
package mocks

import (
	"context"

	telegram "github.com/sells-group/lead-relay/pkg/telegram"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// SendMessage provides a mock function with given fields: ctx, msg
func (_m *MockClient) SendMessage(ctx context.Context, msg telegram.Message) (*telegram.SentMessage, error) {
	ret := _m.Called(ctx, msg)

	if len(ret) == 0 {
		panic("no return value specified for SendMessage")
	}

	var r0 *telegram.SentMessage
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, telegram.Message) (*telegram.SentMessage, error)); ok {
		return rf(ctx, msg)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*telegram.SentMessage)
	}
	r1 = ret.Error(1)

	return r0, r1
}

// GetMe provides a mock function with given fields: ctx
func (_m *MockClient) GetMe(ctx context.Context) (*telegram.User, error) {
	ret := _m.Called(ctx)

	if len(ret) == 0 {
		panic("no return value specified for GetMe")
	}

	var r0 *telegram.User
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context) (*telegram.User, error)); ok {
		return rf(ctx)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*telegram.User)
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
