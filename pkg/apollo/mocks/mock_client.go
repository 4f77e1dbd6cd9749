// Package mocks provides a test double for the Apollo client.
package mocks

import (
	"context"

	apollo "github.com/sells-group/outreach-cli/pkg/apollo"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the apollo.Client interface.
type MockClient struct {
	mock.Mock
}

// MatchPerson provides a mock function with given fields: ctx, req
func (_m *MockClient) MatchPerson(ctx context.Context, req apollo.MatchRequest) (*apollo.Person, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for MatchPerson")
	}

	var r0 *apollo.Person
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, apollo.MatchRequest) (*apollo.Person, error)); ok {
		return rf(ctx, req)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*apollo.Person)
	}
	r1 = ret.Error(1)

	return r0, r1
}
