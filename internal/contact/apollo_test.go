package contact

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/pkg/apollo"
	"github.com/sells-group/outreach-cli/pkg/apollo/mocks"
)

func TestResolve_PrefersLinkedIn(t *testing.T) {
	client := &mocks.MockClient{}
	client.On("MatchPerson", mock.Anything, apollo.MatchRequest{LinkedInURL: "https://linkedin.com/in/ada"}).
		Return(&apollo.Person{Email: "ada@acme.dev"}, nil)

	email, err := NewApolloLookup(client).Resolve(context.Background(), model.ContactQuery{
		Name:        "Ada Lovelace",
		LinkedInURL: " https://linkedin.com/in/ada ",
		CompanyURL:  "https://acme.dev",
	})
	require.NoError(t, err)
	assert.Equal(t, "ada@acme.dev", email)
	client.AssertExpectations(t)
}

func TestResolve_NameAndDomain(t *testing.T) {
	client := &mocks.MockClient{}
	client.On("MatchPerson", mock.Anything, apollo.MatchRequest{
		Name:             "Ada Lovelace",
		OrganizationName: "Acme",
		Domain:           "acme.dev",
	}).Return(&apollo.Person{Email: "ada@acme.dev"}, nil)

	email, err := NewApolloLookup(client).Resolve(context.Background(), model.ContactQuery{
		Name:        "Ada Lovelace",
		CompanyName: "Acme",
		CompanyURL:  "https://www.acme.dev/about",
	})
	require.NoError(t, err)
	assert.Equal(t, "ada@acme.dev", email)
}

func TestResolve_NoMatchIsContactNotFound(t *testing.T) {
	client := &mocks.MockClient{}
	client.On("MatchPerson", mock.Anything, mock.Anything).Return(nil, apollo.ErrNoMatch)

	_, err := NewApolloLookup(client).Resolve(context.Background(), model.ContactQuery{LinkedInURL: "x"})
	assert.True(t, eris.Is(err, pipeline.ErrContactNotFound))
}

func TestResolve_NotEnoughToMatch(t *testing.T) {
	client := &mocks.MockClient{}

	_, err := NewApolloLookup(client).Resolve(context.Background(), model.ContactQuery{Name: "Ada"})
	assert.True(t, eris.Is(err, pipeline.ErrContactNotFound))
	client.AssertNotCalled(t, "MatchPerson", mock.Anything, mock.Anything)
}

func TestResolve_ProviderErrorPassesThrough(t *testing.T) {
	client := &mocks.MockClient{}
	client.On("MatchPerson", mock.Anything, mock.Anything).
		Return(nil, resilience.NewTransientError(eris.New("apollo: 503"), 503))

	_, err := NewApolloLookup(client).Resolve(context.Background(), model.ContactQuery{LinkedInURL: "x"})
	require.Error(t, err)
	assert.False(t, eris.Is(err, pipeline.ErrContactNotFound))
	assert.True(t, resilience.IsTransient(err))
}

func TestDomain(t *testing.T) {
	tests := map[string]string{
		"":                           "",
		"acme.dev":                   "acme.dev",
		"https://www.Acme.dev/about": "acme.dev",
		"http://app.acme.dev:8080":   "app.acme.dev",
	}
	for in, want := range tests {
		assert.Equal(t, want, Domain(in), in)
	}
}
