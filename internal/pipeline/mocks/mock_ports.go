// Package mocks provides test doubles for the pipeline ports.
package mocks

import (
	"context"

	model "github.com/sells-group/outreach-cli/internal/model"
	mock "github.com/stretchr/testify/mock"
)

// MockSearchPort is a mock type for the SearchPort interface.
type MockSearchPort struct {
	mock.Mock
}

// Plan provides a mock function with given fields: ctx, query, limit
func (_m *MockSearchPort) Plan(ctx context.Context, query string, limit int) (*model.SearchPlan, error) {
	ret := _m.Called(ctx, query, limit)

	if len(ret) == 0 {
		panic("no return value specified for Plan")
	}

	var r0 *model.SearchPlan
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, int) (*model.SearchPlan, error)); ok {
		return rf(ctx, query, limit)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.SearchPlan)
	}
	r1 = ret.Error(1)

	return r0, r1
}

// Execute provides a mock function with given fields: ctx, query
func (_m *MockSearchPort) Execute(ctx context.Context, query string) ([]string, error) {
	ret := _m.Called(ctx, query)

	if len(ret) == 0 {
		panic("no return value specified for Execute")
	}

	var r0 []string
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) ([]string, error)); ok {
		return rf(ctx, query)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]string)
	}
	r1 = ret.Error(1)

	return r0, r1
}

// MockScrapePort is a mock type for the ScrapePort interface.
type MockScrapePort struct {
	mock.Mock
}

// Fetch provides a mock function with given fields: ctx, url
func (_m *MockScrapePort) Fetch(ctx context.Context, url string) (*model.Posting, error) {
	ret := _m.Called(ctx, url)

	if len(ret) == 0 {
		panic("no return value specified for Fetch")
	}

	var r0 *model.Posting
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (*model.Posting, error)); ok {
		return rf(ctx, url)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.Posting)
	}
	r1 = ret.Error(1)

	return r0, r1
}

// MockContactLookupPort is a mock type for the ContactLookupPort interface.
type MockContactLookupPort struct {
	mock.Mock
}

// Resolve provides a mock function with given fields: ctx, q
func (_m *MockContactLookupPort) Resolve(ctx context.Context, q model.ContactQuery) (string, error) {
	ret := _m.Called(ctx, q)

	if len(ret) == 0 {
		panic("no return value specified for Resolve")
	}

	if rf, ok := ret.Get(0).(func(context.Context, model.ContactQuery) (string, error)); ok {
		return rf(ctx, q)
	}
	return ret.String(0), ret.Error(1)
}

// MockEmailPort is a mock type for the EmailPort interface.
type MockEmailPort struct {
	mock.Mock
}

// Send provides a mock function with given fields: ctx, msg
func (_m *MockEmailPort) Send(ctx context.Context, msg model.OutboundEmail) (string, error) {
	ret := _m.Called(ctx, msg)

	if len(ret) == 0 {
		panic("no return value specified for Send")
	}

	if rf, ok := ret.Get(0).(func(context.Context, model.OutboundEmail) (string, error)); ok {
		return rf(ctx, msg)
	}
	return ret.String(0), ret.Error(1)
}

// MockVerifyingEmailPort is a mock EmailPort that also implements SendVerifier.
type MockVerifyingEmailPort struct {
	MockEmailPort
}

// VerifySent provides a mock function with given fields: ctx, idempotencyKey
func (_m *MockVerifyingEmailPort) VerifySent(ctx context.Context, idempotencyKey string) (string, bool, error) {
	ret := _m.Called(ctx, idempotencyKey)

	if len(ret) == 0 {
		panic("no return value specified for VerifySent")
	}

	return ret.String(0), ret.Bool(1), ret.Error(2)
}
