package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func createTestJob(t *testing.T, st Store, limit int) *model.Job {
	t.Helper()
	job := &model.Job{RawQuery: "backend engineers in SF", ResultLimit: limit, TemplateName: "default"}
	require.NoError(t, st.CreateJob(context.Background(), job))
	return job
}

// createSearchingJob creates a job and saves a plan so leads can be added.
func createSearchingJob(t *testing.T, st Store, limit int) *model.Job {
	t.Helper()
	job := createTestJob(t, st, limit)
	require.NoError(t, st.SavePlan(context.Background(), job.ID, model.SearchPlan{Queries: []string{"q"}}))
	job.Status = model.JobStatusSearching
	return job
}

func urls(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("https://www.workatastartup.com/jobs/%d", i)
	}
	return out
}

// --- Jobs ---

func TestSQLite_CreateAndGetJob(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job := createTestJob(t, st, 10)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobStatusPending, job.Status)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.RawQuery, got.RawQuery)
	assert.Equal(t, 10, got.ResultLimit)
	assert.Equal(t, "default", got.TemplateName)
	assert.Empty(t, got.SearchPlan)
}

func TestSQLite_GetJob_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_SavePlan_CompareAndSwap(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := createTestJob(t, st, 5)

	plan := model.SearchPlan{
		Role:     "backend engineer",
		Location: "San Francisco",
		Filters:  []string{"YC"},
		Queries:  []string{"q1", "q2"},
	}
	require.NoError(t, st.SavePlan(ctx, job.ID, plan))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusSearching, got.Status)
	assert.Equal(t, []string{"q1", "q2"}, got.SearchPlan)
	assert.Equal(t, []string{"YC"}, got.ParsedFilters)
	assert.Equal(t, "San Francisco", got.ParsedLocation)

	// A second plan write finds the job already past Pending.
	err = st.SavePlan(ctx, job.ID, plan)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestSQLite_TransitionJob(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := createTestJob(t, st, 5)

	err := st.TransitionJob(ctx, job.ID, model.JobStatusPending, model.JobStatusProcessingLeads, "")
	assert.ErrorContains(t, err, "invalid job transition")

	require.NoError(t, st.TransitionJob(ctx, job.ID, model.JobStatusPending, model.JobStatusFailed, "plan: boom"))
	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, "plan: boom", got.ErrorMessage)

	err = st.TransitionJob(ctx, job.ID, model.JobStatusSearching, model.JobStatusProcessingLeads, "")
	assert.ErrorIs(t, err, ErrConflict)

	err = st.TransitionJob(ctx, "nope", model.JobStatusPending, model.JobStatusFailed, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_DeleteJob_CascadesLeadsAndNullsEmails(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := createSearchingJob(t, st, 5)

	_, err := st.CreateLeads(ctx, job.ID, urls(1), 5)
	require.NoError(t, err)
	leads, err := st.ListLeads(ctx, LeadFilter{JobID: job.ID})
	require.NoError(t, err)
	require.Len(t, leads, 1)
	lead := leads[0]

	moveToSending(t, st, lead.ID)
	email := &model.Email{ToEmail: "a@b.com", Subject: "hi", TemplateUsed: "default", Status: model.EmailStatusSent, ProviderMessageID: "m1"}
	require.NoError(t, st.RecordSend(ctx, lead.ID, email, model.LeadStatusEmailSent))

	require.NoError(t, st.DeleteJob(ctx, job.ID))

	_, err = st.GetLead(ctx, lead.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	var leadID *string
	require.NoError(t, st.db.QueryRow(`SELECT lead_id FROM emails WHERE id = ?`, email.ID).Scan(&leadID))
	assert.Nil(t, leadID)
}

// --- Leads ---

func TestSQLite_CreateLeads_DedupesAndCaps(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := createSearchingJob(t, st, 3)

	in := append(urls(2), urls(2)...)
	n, err := st.CreateLeads(ctx, job.ID, in, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Rerun with more candidates: only one slot is left.
	n, err = st.CreateLeads(ctx, job.ID, urls(10), 3)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = st.CreateLeads(ctx, job.ID, urls(10), 3)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	counts, err := st.CountLeads(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Total())
	assert.Equal(t, 3, counts[model.LeadStatusPending])
}

func TestSQLite_CreateLeads_ConcurrentNeverExceedsLimit(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := createSearchingJob(t, st, 7)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			batch := make([]string, 5)
			for i := range batch {
				batch[i] = fmt.Sprintf("https://example.com/jobs/%d-%d", w, i)
			}
			_, err := st.CreateLeads(ctx, job.ID, batch, 7)
			assert.NoError(t, err)
		}(w)
	}
	wg.Wait()

	counts, err := st.CountLeads(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, counts.Total())
}

func TestSQLite_CreateLeads_UnknownJob(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.CreateLeads(context.Background(), "missing", urls(1), 5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_CreateLeads_JobPastSearching(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for _, to := range []model.JobStatus{model.JobStatusFailed, model.JobStatusProcessingLeads} {
		job := createSearchingJob(t, st, 5)
		require.NoError(t, st.TransitionJob(ctx, job.ID, model.JobStatusSearching, to, ""))

		n, err := st.CreateLeads(ctx, job.ID, urls(2), 5)
		assert.ErrorIs(t, err, ErrConflict, to)
		assert.Zero(t, n)

		counts, err := st.CountLeads(ctx, job.ID)
		require.NoError(t, err)
		assert.Zero(t, counts.Total(), to)
	}

	// A job that has not been planned yet cannot take leads either.
	pending := createTestJob(t, st, 5)
	_, err := st.CreateLeads(ctx, pending.ID, urls(1), 5)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestSQLite_ClaimLead_ExactlyOneWinner(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := createSearchingJob(t, st, 1)
	_, err := st.CreateLeads(ctx, job.ID, urls(1), 1)
	require.NoError(t, err)
	leads, err := st.ListLeads(ctx, LeadFilter{JobID: job.ID})
	require.NoError(t, err)

	var mu sync.Mutex
	wins := 0
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.ClaimLead(ctx, leads[0].ID, model.LeadStatusPending, model.LeadStatusEnriching)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrConflict)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	got, err := st.GetLead(ctx, leads[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusEnriching, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.NotNil(t, got.LastAttemptedAt)
}

func TestSQLite_FinishLead_WritesFieldsAndKeepsExisting(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := createSearchingJob(t, st, 1)
	_, err := st.CreateLeads(ctx, job.ID, urls(1), 1)
	require.NoError(t, err)
	leads, _ := st.ListLeads(ctx, LeadFilter{JobID: job.ID})
	id := leads[0].ID

	claimed, err := st.ClaimLead(ctx, id, model.LeadStatusPending, model.LeadStatusEnriching)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusEnriching, claimed.Status)

	require.NoError(t, st.FinishLead(ctx, id, LeadFinish{
		From: model.LeadStatusEnriching,
		To:   model.LeadStatusReadyToSend,
		Update: model.LeadUpdate{
			CompanyName:  "Acme",
			ContactName:  "Ada Lovelace",
			ContactEmail: "ada@acme.com",
		},
	}))

	// Finishing again from a stale status is rejected.
	err = st.FinishLead(ctx, id, LeadFinish{From: model.LeadStatusEnriching, To: model.LeadStatusScrapingFailed})
	assert.ErrorIs(t, err, ErrConflict)

	got, err := st.GetLead(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusReadyToSend, got.Status)
	assert.Equal(t, "Acme", got.CompanyName)
	assert.Equal(t, "ada@acme.com", got.ContactEmail)
}

// enrichingLead creates a one-lead job and claims the lead for enrichment.
func enrichingLead(t *testing.T, st Store) string {
	t.Helper()
	ctx := context.Background()
	job := createSearchingJob(t, st, 1)
	_, err := st.CreateLeads(ctx, job.ID, urls(1), 1)
	require.NoError(t, err)
	leads, err := st.ListLeads(ctx, LeadFilter{JobID: job.ID})
	require.NoError(t, err)
	_, err = st.ClaimLead(ctx, leads[0].ID, model.LeadStatusPending, model.LeadStatusEnriching)
	require.NoError(t, err)
	return leads[0].ID
}

func TestSQLite_FinishWithContact_DuplicateAcrossJobs(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	// A lead that failed before reaching a contact does not hold the address.
	failed := enrichingLead(t, st)
	require.NoError(t, st.FinishLead(ctx, failed, LeadFinish{
		From:   model.LeadStatusEnriching,
		To:     model.LeadStatusEmailNotFound,
		Update: model.LeadUpdate{ContactEmail: "ada@acme.com"},
	}))

	first := enrichingLead(t, st)
	holder, err := st.FinishWithContact(ctx, first, model.LeadUpdate{ContactName: "Ada", ContactEmail: "ada@acme.com"})
	require.NoError(t, err)
	assert.Empty(t, holder)

	second := enrichingLead(t, st)
	holder, err = st.FinishWithContact(ctx, second, model.LeadUpdate{ContactName: "Ada", ContactEmail: "ADA@acme.com"})
	require.NoError(t, err)
	assert.Equal(t, first, holder)

	got, err := st.GetLead(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusDuplicateContact, got.Status)
	assert.Equal(t, "ADA@acme.com", got.ContactEmail)
	assert.Contains(t, got.ErrorMessage, first)

	got, err = st.GetLead(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusReadyToSend, got.Status)

	// A lead no longer Enriching cannot be finished.
	_, err = st.FinishWithContact(ctx, first, model.LeadUpdate{ContactEmail: "other@acme.com"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestSQLite_TransitionLead_RejectsIllegalMove(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.TransitionLead(context.Background(), "x", model.LeadStatusEmailSent, model.LeadStatusReadyToSend, "")
	assert.ErrorContains(t, err, "invalid lead transition")
}

func TestSQLite_ListLeads_FilterByStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := createSearchingJob(t, st, 3)
	_, err := st.CreateLeads(ctx, job.ID, urls(3), 3)
	require.NoError(t, err)
	leads, _ := st.ListLeads(ctx, LeadFilter{JobID: job.ID})
	_, err = st.ClaimLead(ctx, leads[0].ID, model.LeadStatusPending, model.LeadStatusEnriching)
	require.NoError(t, err)

	pending, err := st.ListLeads(ctx, LeadFilter{JobID: job.ID, Statuses: []model.LeadStatus{model.LeadStatusPending}})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	both, err := st.ListLeads(ctx, LeadFilter{JobID: job.ID, Statuses: []model.LeadStatus{model.LeadStatusPending, model.LeadStatusEnriching}})
	require.NoError(t, err)
	assert.Len(t, both, 3)
}

func TestSQLite_ListStaleLeads(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := createSearchingJob(t, st, 2)
	_, err := st.CreateLeads(ctx, job.ID, urls(2), 2)
	require.NoError(t, err)
	leads, _ := st.ListLeads(ctx, LeadFilter{JobID: job.ID})
	for _, l := range leads {
		_, err := st.ClaimLead(ctx, l.ID, model.LeadStatusPending, model.LeadStatusEnriching)
		require.NoError(t, err)
	}

	stale, err := st.ListStaleLeads(ctx, model.LeadStatusEnriching, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stale)

	stale, err = st.ListStaleLeads(ctx, model.LeadStatusEnriching, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, stale, 2)
}

// --- Emails ---

func moveToSending(t *testing.T, st Store, leadID string) {
	t.Helper()
	ctx := context.Background()
	_, err := st.ClaimLead(ctx, leadID, model.LeadStatusPending, model.LeadStatusEnriching)
	require.NoError(t, err)
	require.NoError(t, st.FinishLead(ctx, leadID, LeadFinish{
		From: model.LeadStatusEnriching, To: model.LeadStatusReadyToSend,
		Update: model.LeadUpdate{ContactEmail: "a@b.com"},
	}))
	_, err = st.ClaimLead(ctx, leadID, model.LeadStatusReadyToSend, model.LeadStatusSending)
	require.NoError(t, err)
}

func TestSQLite_RecordSend_AtMostOneSentEmail(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := createSearchingJob(t, st, 1)
	_, err := st.CreateLeads(ctx, job.ID, urls(1), 1)
	require.NoError(t, err)
	leads, _ := st.ListLeads(ctx, LeadFilter{JobID: job.ID})
	id := leads[0].ID
	moveToSending(t, st, id)

	sent := &model.Email{ToEmail: "a@b.com", Subject: "hi", TemplateUsed: "default", Status: model.EmailStatusSent, ProviderMessageID: "m1"}
	require.NoError(t, st.RecordSend(ctx, id, sent, model.LeadStatusEmailSent))

	got, err := st.GetSentEmail(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "m1", got.ProviderMessageID)
	assert.Equal(t, id, got.LeadID)

	// Force the lead back into Sending behind the store's back and try again.
	_, err = st.db.Exec(`UPDATE leads SET status = ? WHERE id = ?`, string(model.LeadStatusSending), id)
	require.NoError(t, err)
	dup := &model.Email{ToEmail: "a@b.com", Subject: "hi", TemplateUsed: "default", Status: model.EmailStatusSent}
	err = st.RecordSend(ctx, id, dup, model.LeadStatusEmailSent)
	assert.ErrorIs(t, err, ErrDuplicateSend)

	emails, err := st.ListEmails(ctx, id)
	require.NoError(t, err)
	assert.Len(t, emails, 1)
}

func TestSQLite_RecordSend_FailureKeepsAudit(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := createSearchingJob(t, st, 1)
	_, err := st.CreateLeads(ctx, job.ID, urls(1), 1)
	require.NoError(t, err)
	leads, _ := st.ListLeads(ctx, LeadFilter{JobID: job.ID})
	id := leads[0].ID
	moveToSending(t, st, id)

	failed := &model.Email{ToEmail: "a@b.com", Subject: "hi", TemplateUsed: "default", Status: model.EmailStatusFailed, ErrorMessage: "422 invalid"}
	require.NoError(t, st.RecordSend(ctx, id, failed, model.LeadStatusEmailFailed))

	lead, err := st.GetLead(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusEmailFailed, lead.Status)
	assert.Equal(t, "422 invalid", lead.ErrorMessage)

	sent, err := st.GetSentEmail(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, sent)
}

func TestSQLite_RecordSend_RequiresSendingLead(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := createSearchingJob(t, st, 1)
	_, err := st.CreateLeads(ctx, job.ID, urls(1), 1)
	require.NoError(t, err)
	leads, _ := st.ListLeads(ctx, LeadFilter{JobID: job.ID})

	email := &model.Email{ToEmail: "a@b.com", Subject: "hi", TemplateUsed: "default", Status: model.EmailStatusSent}
	err = st.RecordSend(ctx, leads[0].ID, email, model.LeadStatusEmailSent)
	assert.ErrorIs(t, err, ErrConflict)

	emails, err := st.ListEmails(ctx, leads[0].ID)
	require.NoError(t, err)
	assert.Empty(t, emails, "email insert must roll back with the lead update")
}

// --- Templates ---

func TestSQLite_Templates(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	tmpl := &model.Template{Name: "default", Subject: "Hi {{founder_name}}", Body: "body", Variables: []string{"founder_name"}}
	require.NoError(t, st.UpsertTemplate(ctx, tmpl))
	firstID := tmpl.ID

	tmpl2 := &model.Template{Name: "default", Subject: "Hello {{founder_name}}", Body: "body2", Variables: []string{"founder_name"}}
	require.NoError(t, st.UpsertTemplate(ctx, tmpl2))
	assert.Equal(t, firstID, tmpl2.ID)

	got, err := st.GetTemplate(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, "Hello {{founder_name}}", got.Subject)
	assert.Equal(t, []string{"founder_name"}, got.Variables)

	_, err = st.GetTemplate(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := st.ListTemplates(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

// --- Stats ---

func TestSQLite_Stats(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := createSearchingJob(t, st, 2)
	_, err := st.CreateLeads(ctx, job.ID, urls(2), 2)
	require.NoError(t, err)
	leads, _ := st.ListLeads(ctx, LeadFilter{JobID: job.ID})
	moveToSending(t, st, leads[0].ID)

	stats, err := st.Stats(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.JobsByStatus[model.JobStatusSearching])
	assert.Equal(t, 1, stats.LeadsByStatus[model.LeadStatusPending])
	assert.Equal(t, 1, stats.LeadsByStatus[model.LeadStatusSending])
	assert.Equal(t, 1, stats.StuckSending)
}
