// Package mocks provides a test double for the Resend client.
package mocks

import (
	"context"

	resend "github.com/sells-group/outreach-cli/pkg/resend"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the resend.Client interface.
type MockClient struct {
	mock.Mock
}

// Send provides a mock function with given fields: ctx, req, idempotencyKey
func (_m *MockClient) Send(ctx context.Context, req resend.SendRequest, idempotencyKey string) (*resend.SendResponse, error) {
	ret := _m.Called(ctx, req, idempotencyKey)

	if len(ret) == 0 {
		panic("no return value specified for Send")
	}

	var r0 *resend.SendResponse
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, resend.SendRequest, string) (*resend.SendResponse, error)); ok {
		return rf(ctx, req, idempotencyKey)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*resend.SendResponse)
	}
	r1 = ret.Error(1)

	return r0, r1
}

// ListEmails provides a mock function with given fields: ctx, limit, after
func (_m *MockClient) ListEmails(ctx context.Context, limit int, after string) (*resend.ListResponse, error) {
	ret := _m.Called(ctx, limit, after)

	if len(ret) == 0 {
		panic("no return value specified for ListEmails")
	}

	var r0 *resend.ListResponse
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, int, string) (*resend.ListResponse, error)); ok {
		return rf(ctx, limit, after)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*resend.ListResponse)
	}
	r1 = ret.Error(1)

	return r0, r1
}
