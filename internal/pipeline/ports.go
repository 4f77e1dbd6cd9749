package pipeline

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

// ErrContactNotFound is returned by a ContactLookupPort when the provider has
// no email for the contact. It is an answer, not a failure, and is never retried.
var ErrContactNotFound = eris.New("contact not found")

// SearchPort turns a natural-language query into a search plan and executes
// the plan's queries.
type SearchPort interface {
	Plan(ctx context.Context, query string, limit int) (*model.SearchPlan, error)
	Execute(ctx context.Context, query string) ([]string, error)
}

// ScrapePort extracts posting details and contacts from a job posting URL.
type ScrapePort interface {
	Fetch(ctx context.Context, url string) (*model.Posting, error)
}

// ContactLookupPort resolves a contact to an email address.
type ContactLookupPort interface {
	Resolve(ctx context.Context, q model.ContactQuery) (string, error)
}

// EmailPort delivers one rendered email and returns the provider message id.
// Implementations must treat IdempotencyKey as a provider-side dedupe key.
type EmailPort interface {
	Send(ctx context.Context, msg model.OutboundEmail) (string, error)
}

// SendVerifier is optionally implemented by an EmailPort that can report
// whether a message with the given idempotency key was accepted.
type SendVerifier interface {
	VerifySent(ctx context.Context, idempotencyKey string) (messageID string, sent bool, err error)
}

// Ports bundles the external dependencies of the pipeline.
type Ports struct {
	Search SearchPort
	Scrape ScrapePort
	Lookup ContactLookupPort
	Email  EmailPort
}

// IdempotencyKey derives the delivery dedupe key for a lead. It is stable
// across retries, restarts and reconciliation.
func IdempotencyKey(leadID string) string {
	return "outreach-lead-" + leadID
}
