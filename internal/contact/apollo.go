// Package contact resolves a posting's contact to an email address.
package contact

import (
	"context"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/pkg/apollo"
)

// ApolloLookup implements pipeline.ContactLookupPort on Apollo people match.
type ApolloLookup struct {
	client apollo.Client
}

// NewApolloLookup wraps an Apollo client.
func NewApolloLookup(client apollo.Client) *ApolloLookup {
	return &ApolloLookup{client: client}
}

// Resolve matches by LinkedIn URL when present, else by name and company
// domain. No usable match yields pipeline.ErrContactNotFound.
func (a *ApolloLookup) Resolve(ctx context.Context, q model.ContactQuery) (string, error) {
	req := MatchRequest(q)
	if !req.Valid() {
		return "", eris.Wrapf(pipeline.ErrContactNotFound, "apollo: not enough to match %q", q.Name)
	}

	person, err := a.client.MatchPerson(ctx, req)
	if eris.Is(err, apollo.ErrNoMatch) {
		return "", eris.Wrapf(pipeline.ErrContactNotFound, "apollo: no match for %q", q.Name)
	}
	if err != nil {
		return "", err
	}

	zap.L().Debug("contact: apollo match",
		zap.String("contact", q.Name),
		zap.String("email_status", person.EmailStatus),
	)
	return person.BestEmail(), nil
}

// MatchRequest builds the Apollo request for q. LinkedIn is preferred since
// it identifies the person uniquely.
func MatchRequest(q model.ContactQuery) apollo.MatchRequest {
	if li := strings.TrimSpace(q.LinkedInURL); li != "" {
		return apollo.MatchRequest{LinkedInURL: li}
	}
	req := apollo.MatchRequest{
		Name:             strings.TrimSpace(q.Name),
		OrganizationName: strings.TrimSpace(q.CompanyName),
		Domain:           Domain(q.CompanyURL),
	}
	return req
}

// Domain returns the bare host of a company URL, without a www. prefix.
func Domain(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
