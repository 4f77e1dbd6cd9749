package pipeline

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/pipeline/mocks"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/store"
)

// fixture bundles a pipeline over a real SQLite store with mocked ports.
type fixture struct {
	p      *Pipeline
	st     *store.SQLiteStore
	search *mocks.MockSearchPort
	scrape *mocks.MockScrapePort
	lookup *mocks.MockContactLookupPort
	email  *mocks.MockVerifyingEmailPort
}

func newFixture(t *testing.T, opts Options, extra ...Option) *fixture {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	f := &fixture{
		st:     st,
		search: &mocks.MockSearchPort{},
		scrape: &mocks.MockScrapePort{},
		lookup: &mocks.MockContactLookupPort{},
		email:  &mocks.MockVerifyingEmailPort{},
	}
	f.p = New(st, Ports{
		Search: f.search,
		Scrape: f.scrape,
		Lookup: f.lookup,
		Email:  f.email,
	}, opts, extra...)
	return f
}

// plainEmailPort hides VerifySent so the pipeline sees a port without a verifier.
type plainEmailPort struct {
	EmailPort
}

func fastGuard(name string, attempts int) *resilience.Guard {
	return resilience.NewGuard(name, resilience.GuardConfig{
		Retry: resilience.RetryConfig{
			MaxAttempts:    attempts,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
		},
	})
}

func jobURLs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("https://www.workatastartup.com/jobs/%d", i+1)
	}
	return out
}

// seedJob creates a job and walks it to status with the given lead URLs.
func seedJob(t *testing.T, st store.Store, status model.JobStatus, urls []string) *model.Job {
	t.Helper()
	ctx := context.Background()

	job := &model.Job{RawQuery: "backend engineers in SF", ResultLimit: 25, TemplateName: "default"}
	require.NoError(t, st.CreateJob(ctx, job))
	if status == model.JobStatusPending {
		job.Status = status
		return job
	}
	require.NoError(t, st.SavePlan(ctx, job.ID, model.SearchPlan{
		Role:     "backend engineer",
		Location: "San Francisco",
		Queries:  []string{`site:workatastartup.com backend engineer "San Francisco"`},
	}))
	if status == model.JobStatusSearching {
		job.Status = status
		return job
	}
	if len(urls) > 0 {
		_, err := st.CreateLeads(ctx, job.ID, urls, job.ResultLimit)
		require.NoError(t, err)
	}
	require.NoError(t, st.TransitionJob(ctx, job.ID, model.JobStatusSearching, model.JobStatusProcessingLeads, ""))
	if status == model.JobStatusProcessingLeads {
		job.Status = status
		return job
	}
	require.NoError(t, st.TransitionJob(ctx, job.ID, model.JobStatusProcessingLeads, model.JobStatusSendingEmails, ""))
	job.Status = status
	return job
}

// makeReady walks every Pending lead of the job to ReadyToSend with a contact.
func makeReady(t *testing.T, st store.Store, jobID string) []model.Lead {
	t.Helper()
	ctx := context.Background()
	leads, err := st.ListLeads(ctx, store.LeadFilter{JobID: jobID, Statuses: []model.LeadStatus{model.LeadStatusPending}})
	require.NoError(t, err)
	for i, l := range leads {
		_, err := st.ClaimLead(ctx, l.ID, model.LeadStatusPending, model.LeadStatusEnriching)
		require.NoError(t, err)
		require.NoError(t, st.FinishLead(ctx, l.ID, store.LeadFinish{
			From: model.LeadStatusEnriching,
			To:   model.LeadStatusReadyToSend,
			Update: model.LeadUpdate{
				RoleTitle:    "Backend Engineer",
				CompanyName:  fmt.Sprintf("Company %d", i+1),
				ContactName:  fmt.Sprintf("Founder %d", i+1),
				ContactEmail: fmt.Sprintf("founder%d@example.com", i+1),
			},
		}))
	}
	out, err := st.ListLeads(ctx, store.LeadFilter{JobID: jobID})
	require.NoError(t, err)
	return out
}

func seedTemplate(t *testing.T, st store.Store, body string) {
	t.Helper()
	require.NoError(t, st.UpsertTemplate(context.Background(), &model.Template{
		Name:    "default",
		Subject: "Your {{role}} opening",
		Body:    body,
	}))
}

func leadsByStatus(t *testing.T, st store.Store, jobID string) model.LeadCounts {
	t.Helper()
	counts, err := st.CountLeads(context.Background(), jobID)
	require.NoError(t, err)
	return counts
}

func jobStatus(t *testing.T, st store.Store, jobID string) *model.Job {
	t.Helper()
	job, err := st.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	return job
}

func posting(url string) *model.Posting {
	return &model.Posting{
		URL:         url,
		RoleTitle:   "Backend Engineer",
		CompanyName: "Acme",
		CompanyURL:  "https://acme.dev",
		Contacts:    []model.Contact{{Name: "Ada Lovelace", Title: "Founder", LinkedInURL: "https://linkedin.com/in/ada-" + path.Base(url)}},
	}
}

// profileEmail resolves a contact to an address derived from its profile,
// so every posting gets its own recipient.
func profileEmail(_ context.Context, q model.ContactQuery) (string, error) {
	return path.Base(q.LinkedInURL) + "@acme.dev", nil
}
