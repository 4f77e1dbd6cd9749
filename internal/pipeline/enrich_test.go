package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/store"
)

func leadByURL(t *testing.T, st store.Store, jobID, url string) model.Lead {
	t.Helper()
	leads, err := st.ListLeads(context.Background(), store.LeadFilter{JobID: jobID})
	require.NoError(t, err)
	for _, l := range leads {
		if l.JobURL == url {
			return l
		}
	}
	t.Fatalf("no lead for %s", url)
	return model.Lead{}
}

func TestEnrich_OutcomesAreIndependent(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 2})
	ctx := context.Background()
	urls := jobURLs(4)
	job := seedJob(t, f.st, model.JobStatusProcessingLeads, urls)

	f.scrape.On("Fetch", mock.Anything, urls[0]).Return(posting(urls[0]), nil)
	f.scrape.On("Fetch", mock.Anything, urls[1]).
		Return(nil, resilience.NewPermanentError(eris.New("jina: 404"), 404))
	f.scrape.On("Fetch", mock.Anything, urls[2]).
		Return(&model.Posting{URL: urls[2], RoleTitle: "SRE", CompanyName: "NoFounders"}, nil)
	noEmail := posting(urls[3])
	noEmail.Contacts = []model.Contact{{Name: "Grace Hopper"}}
	f.scrape.On("Fetch", mock.Anything, urls[3]).Return(noEmail, nil)

	f.lookup.On("Resolve", mock.Anything, mock.MatchedBy(func(q model.ContactQuery) bool { return q.Name == "Ada Lovelace" })).
		Return("ada@acme.dev", nil)
	f.lookup.On("Resolve", mock.Anything, mock.MatchedBy(func(q model.ContactQuery) bool { return q.Name == "Grace Hopper" })).
		Return("", ErrContactNotFound)

	out, err := f.p.Advance(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusSendingEmails, out.To)
	assert.Equal(t, 4, out.Processed)
	assert.Equal(t, 1, out.Succeeded)
	assert.Equal(t, 3, out.Failed)

	ready := leadByURL(t, f.st, job.ID, urls[0])
	assert.Equal(t, model.LeadStatusReadyToSend, ready.Status)
	assert.Equal(t, "ada@acme.dev", ready.ContactEmail)
	assert.Equal(t, "Ada Lovelace", ready.ContactName)
	assert.Equal(t, "Acme", ready.CompanyName)
	assert.Equal(t, 1, ready.Attempts)
	assert.NotNil(t, ready.LastAttemptedAt)

	scrapeFailed := leadByURL(t, f.st, job.ID, urls[1])
	assert.Equal(t, model.LeadStatusScrapingFailed, scrapeFailed.Status)
	assert.Contains(t, scrapeFailed.ErrorMessage, "[enrich]")
	assert.Contains(t, scrapeFailed.ErrorMessage, "class=permanent")

	noContact := leadByURL(t, f.st, job.ID, urls[2])
	assert.Equal(t, model.LeadStatusContactNotFound, noContact.Status)
	assert.Equal(t, "NoFounders", noContact.CompanyName)

	notFound := leadByURL(t, f.st, job.ID, urls[3])
	assert.Equal(t, model.LeadStatusEmailNotFound, notFound.Status)
	assert.Equal(t, "Grace Hopper", notFound.ContactName)
	assert.Contains(t, notFound.ErrorMessage, "contact not found")
}

func TestEnrich_RetriesTransientThenSucceeds(t *testing.T) {
	f := newFixture(t, Options{}, WithGuards(Guards{Scrape: fastGuard("scrape", 3)}))
	ctx := context.Background()
	url := jobURLs(1)[0]
	job := seedJob(t, f.st, model.JobStatusProcessingLeads, []string{url})

	f.scrape.On("Fetch", mock.Anything, url).
		Return(nil, resilience.NewTransientError(eris.New("firecrawl: 503"), 503)).Twice()
	f.scrape.On("Fetch", mock.Anything, url).Return(posting(url), nil).Once()
	f.lookup.On("Resolve", mock.Anything, mock.Anything).Return("ada@acme.dev", nil)

	_, err := f.p.Advance(ctx, job.ID)
	require.NoError(t, err)
	f.scrape.AssertNumberOfCalls(t, "Fetch", 3)
	assert.Equal(t, model.LeadStatusReadyToSend, leadByURL(t, f.st, job.ID, url).Status)
}

func TestEnrich_TransientExhaustedFailsLeadOnly(t *testing.T) {
	f := newFixture(t, Options{}, WithGuards(Guards{Scrape: fastGuard("scrape", 3)}))
	ctx := context.Background()
	url := jobURLs(1)[0]
	job := seedJob(t, f.st, model.JobStatusProcessingLeads, []string{url})

	f.scrape.On("Fetch", mock.Anything, url).
		Return(nil, resilience.NewTransientError(eris.New("jina: 429"), 429))

	out, err := f.p.Advance(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusSendingEmails, out.To)
	f.scrape.AssertNumberOfCalls(t, "Fetch", 3)

	lead := leadByURL(t, f.st, job.ID, url)
	assert.Equal(t, model.LeadStatusScrapingFailed, lead.Status)
	assert.Contains(t, lead.ErrorMessage, "class=transient")
	assert.Contains(t, lead.ErrorMessage, "after 3 tries")
}

func TestEnrich_PermanentNotRetried(t *testing.T) {
	f := newFixture(t, Options{}, WithGuards(Guards{Scrape: fastGuard("scrape", 3)}))
	ctx := context.Background()
	url := jobURLs(1)[0]
	job := seedJob(t, f.st, model.JobStatusProcessingLeads, []string{url})

	f.scrape.On("Fetch", mock.Anything, url).
		Return(nil, resilience.NewPermanentError(eris.New("403 forbidden"), 403))

	_, err := f.p.Advance(ctx, job.ID)
	require.NoError(t, err)
	f.scrape.AssertNumberOfCalls(t, "Fetch", 1)
}

func TestEnrich_CancellationReleasesClaim(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 1})
	url := jobURLs(1)[0]
	job := seedJob(t, f.st, model.JobStatusProcessingLeads, []string{url})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.scrape.On("Fetch", mock.Anything, url).Return(func(ctx context.Context, _ string) (*model.Posting, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}, nil)

	_, err := f.p.Advance(ctx, job.ID)
	require.Error(t, err)

	lead := leadByURL(t, f.st, job.ID, url)
	assert.Equal(t, model.LeadStatusPending, lead.Status)
	assert.Empty(t, lead.ErrorMessage)
	assert.Equal(t, model.JobStatusProcessingLeads, jobStatus(t, f.st, job.ID).Status)
}

func TestEnrich_LiveClaimBlocksAdvance(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	urls := jobURLs(2)
	job := seedJob(t, f.st, model.JobStatusProcessingLeads, urls)

	// Another worker holds a fresh claim on the first lead.
	held := leadByURL(t, f.st, job.ID, urls[0])
	_, err := f.st.ClaimLead(ctx, held.ID, model.LeadStatusPending, model.LeadStatusEnriching)
	require.NoError(t, err)

	f.scrape.On("Fetch", mock.Anything, urls[1]).Return(posting(urls[1]), nil)
	f.lookup.On("Resolve", mock.Anything, mock.Anything).Return("ada@acme.dev", nil)

	out, err := f.p.Advance(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, out.Blocked)
	assert.False(t, out.Advanced)
	assert.Equal(t, model.JobStatusProcessingLeads, jobStatus(t, f.st, job.ID).Status)
	f.scrape.AssertNotCalled(t, "Fetch", mock.Anything, urls[0])
	assert.Equal(t, model.LeadStatusEnriching, leadByURL(t, f.st, job.ID, urls[0]).Status)
}

func TestEnrich_ConcurrentInvocationsClaimEachLeadOnce(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 4})
	ctx := context.Background()
	urls := jobURLs(8)
	job := seedJob(t, f.st, model.JobStatusProcessingLeads, urls)

	f.scrape.On("Fetch", mock.Anything, mock.Anything).Return(func(_ context.Context, u string) (*model.Posting, error) {
		return posting(u), nil
	}, nil)
	f.lookup.On("Resolve", mock.Anything, mock.Anything).Return(profileEmail, nil)

	// Run the stage directly so neither invocation moves on to outreach.
	other := New(f.st, f.p.ports, Options{Concurrency: 4})
	errs := make(chan error, 2)
	for _, p := range []*Pipeline{f.p, other} {
		go func() {
			j := *job
			errs <- p.enrich(ctx, &j, &StageOutcome{})
		}()
	}
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	f.scrape.AssertNumberOfCalls(t, "Fetch", 8)
	assert.Equal(t, 8, leadsByStatus(t, f.st, job.ID)[model.LeadStatusReadyToSend])
	assert.Equal(t, model.JobStatusSendingEmails, jobStatus(t, f.st, job.ID).Status)
	for _, l := range mustLeads(t, f.st, job.ID) {
		assert.Equal(t, 1, l.Attempts)
	}
}

func TestEnrich_ContactHeldByEarlierJobSkipped(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	earlier := seedJob(t, f.st, model.JobStatusProcessingLeads, jobURLs(1))
	holder := makeReady(t, f.st, earlier.ID)[0]

	urls := []string{"https://www.workatastartup.com/jobs/10", "https://www.workatastartup.com/jobs/11"}
	job := seedJob(t, f.st, model.JobStatusProcessingLeads, urls)
	for _, u := range urls {
		f.scrape.On("Fetch", mock.Anything, u).Return(posting(u), nil)
	}
	f.lookup.On("Resolve", mock.Anything, mock.MatchedBy(func(q model.ContactQuery) bool {
		return strings.HasSuffix(q.LinkedInURL, "/ada-10")
	})).Return("Founder1@Example.com", nil)
	f.lookup.On("Resolve", mock.Anything, mock.Anything).Return(profileEmail, nil)

	out, err := f.p.Advance(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusSendingEmails, out.To)
	assert.Equal(t, 1, out.Succeeded)
	assert.Equal(t, 1, out.Skipped)

	dup := leadByURL(t, f.st, job.ID, urls[0])
	assert.Equal(t, model.LeadStatusDuplicateContact, dup.Status)
	assert.Contains(t, dup.ErrorMessage, holder.ID)
	assert.Equal(t, "Founder1@Example.com", dup.ContactEmail)
	assert.Equal(t, model.LeadStatusReadyToSend, leadByURL(t, f.st, job.ID, urls[1]).Status)

	// The duplicate is never picked up for sending.
	seedTemplate(t, f.st, "Hi {{founder_name}}")
	f.email.On("Send", mock.Anything, mock.Anything).Return("re_1", nil)
	out, err = f.p.Advance(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusComplete, out.To)
	f.email.AssertNumberOfCalls(t, "Send", 1)
	f.email.AssertNotCalled(t, "Send", mock.Anything, mock.MatchedBy(func(m model.OutboundEmail) bool {
		return strings.EqualFold(m.To, "founder1@example.com")
	}))
}

func TestEnrich_ConcurrentSameContactReadiesOneLead(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 4})
	ctx := context.Background()
	job := seedJob(t, f.st, model.JobStatusProcessingLeads, jobURLs(6))

	f.scrape.On("Fetch", mock.Anything, mock.Anything).Return(func(_ context.Context, u string) (*model.Posting, error) {
		return posting(u), nil
	}, nil)
	f.lookup.On("Resolve", mock.Anything, mock.Anything).Return("ada@acme.dev", nil)

	_, err := f.p.Advance(ctx, job.ID)
	require.NoError(t, err)

	counts := leadsByStatus(t, f.st, job.ID)
	assert.Equal(t, 1, counts[model.LeadStatusReadyToSend])
	assert.Equal(t, 5, counts[model.LeadStatusDuplicateContact])
}

func TestPickContact(t *testing.T) {
	_, ok := pickContact([]model.Contact{{Title: "CEO"}, {Name: "  "}})
	assert.False(t, ok)

	c, ok := pickContact([]model.Contact{{Title: "CEO"}, {LinkedInURL: " https://linkedin.com/in/x "}})
	require.True(t, ok)
	assert.Equal(t, "https://linkedin.com/in/x", c.LinkedInURL)
}

func mustLeads(t *testing.T, st store.Store, jobID string) []model.Lead {
	t.Helper()
	leads, err := st.ListLeads(context.Background(), store.LeadFilter{JobID: jobID})
	require.NoError(t, err)
	return leads
}
