//go:build !integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/monitoring"
	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/internal/pipeline/mocks"
	"github.com/sells-group/outreach-cli/internal/store"
)

type apiFixture struct {
	handler http.Handler
	api     *apiServer
	st      *store.SQLiteStore
	search  *mocks.MockSearchPort
}

func newAPIFixture(t *testing.T, key string) *apiFixture {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	search := &mocks.MockSearchPort{}
	p := pipeline.New(st, pipeline.Ports{
		Search: search,
		Scrape: &mocks.MockScrapePort{},
		Lookup: &mocks.MockContactLookupPort{},
		Email:  &mocks.MockVerifyingEmailPort{},
	}, pipeline.Options{MaxResultLimit: 100})

	env := &appEnv{Store: st, Pipeline: p}
	h, api := buildRouter(context.Background(), env, monitoring.NewCollector(st, time.Minute), apiConfig{
		APIKey:       key,
		CORSOrigins:  []string{"https://app.example.com"},
		DefaultLimit: 25,
		LookbackHrs:  24,
	})
	return &apiFixture{handler: h, api: api, st: st, search: search}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func TestAPI_Health(t *testing.T) {
	f := newAPIFixture(t, "")
	rr := f.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestAPI_Metrics(t *testing.T) {
	f := newAPIFixture(t, "secret")
	rr := f.do(t, http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "outreach_jobs_started_total")
}

func TestAPI_Auth(t *testing.T) {
	f := newAPIFixture(t, "test-secret-123")

	rr := f.do(t, http.MethodGet, "/jobs", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "unauthorized")

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	rr = httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("Authorization", "Bearer test-secret-123")
	rr = httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	// Health stays open for liveness checks.
	rr = f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAPI_CORSPreflight(t *testing.T) {
	f := newAPIFixture(t, "")
	req := httptest.NewRequest(http.MethodOptions, "/jobs", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)

	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestAPI_CreateJob(t *testing.T) {
	f := newAPIFixture(t, "")
	rr := f.do(t, http.MethodPost, "/jobs", map[string]any{"query": "backend engineers in SF"})
	require.Equal(t, http.StatusCreated, rr.Code)

	var job model.Job
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Equal(t, 25, job.ResultLimit)
	assert.Equal(t, "default", job.TemplateName)

	rr = f.do(t, http.MethodGet, "/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var report pipeline.JobStatusReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	assert.Equal(t, job.ID, report.Job.ID)
	assert.Zero(t, report.Total)
}

func TestAPI_CreateJob_Validation(t *testing.T) {
	f := newAPIFixture(t, "")

	rr := f.do(t, http.MethodPost, "/jobs", map[string]any{"query": "  "})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "query")

	rr = f.do(t, http.MethodPost, "/jobs", map[string]any{"query": "go devs", "result_limit": 500})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewBufferString("{not json"))
	rr = httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid request body")
}

func TestAPI_JobNotFound(t *testing.T) {
	f := newAPIFixture(t, "")

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/jobs/missing", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/jobs/missing", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/jobs/missing/run", nil).Code)
}

func TestAPI_AdvanceJob(t *testing.T) {
	f := newAPIFixture(t, "")
	f.search.On("Plan", mock.Anything, "go devs in Berlin", 25).
		Return(&model.SearchPlan{Role: "go developer", Location: "Berlin", Queries: []string{"q1"}}, nil)

	rr := f.do(t, http.MethodPost, "/jobs", map[string]any{"query": "go devs in Berlin"})
	require.Equal(t, http.StatusCreated, rr.Code)
	var job model.Job
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &job))

	rr = f.do(t, http.MethodPost, "/jobs/"+job.ID+"/advance", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var out pipeline.StageOutcome
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	assert.Equal(t, pipeline.StagePlan, out.Stage)
	assert.Equal(t, model.JobStatusSearching, out.To)

	stored, err := f.st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "go developer", stored.ParsedRole)
}

func TestAPI_JobLeads(t *testing.T) {
	f := newAPIFixture(t, "")
	ctx := context.Background()

	job := &model.Job{RawQuery: "go devs", ResultLimit: 5, TemplateName: "default"}
	require.NoError(t, f.st.CreateJob(ctx, job))
	require.NoError(t, f.st.SavePlan(ctx, job.ID, model.SearchPlan{Role: "go developer", Queries: []string{"q"}}))
	_, err := f.st.CreateLeads(ctx, job.ID, []string{"https://x.dev/jobs/1", "https://x.dev/jobs/2"}, 5)
	require.NoError(t, err)

	rr := f.do(t, http.MethodGet, "/jobs/"+job.ID+"/leads", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var leads []model.Lead
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &leads))
	assert.Len(t, leads, 2)

	rr = f.do(t, http.MethodGet, "/jobs/"+job.ID+"/leads?status=email_sent", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &leads))
	assert.Empty(t, leads)

	rr = f.do(t, http.MethodGet, "/jobs/"+job.ID+"/leads?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// A pending lead is not a failure and cannot be requeued.
	rr = f.do(t, http.MethodPost, "/leads/"+leads0(t, f.st, job.ID)+"/requeue", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func leads0(t *testing.T, st store.Store, jobID string) string {
	t.Helper()
	leads, err := st.ListLeads(context.Background(), store.LeadFilter{JobID: jobID})
	require.NoError(t, err)
	require.NotEmpty(t, leads)
	return leads[0].ID
}

func TestAPI_DeleteJob(t *testing.T) {
	f := newAPIFixture(t, "")
	rr := f.do(t, http.MethodPost, "/jobs", map[string]any{"query": "designers"})
	require.Equal(t, http.StatusCreated, rr.Code)
	var job model.Job
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &job))

	rr = f.do(t, http.MethodDelete, "/jobs/"+job.ID, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/jobs/"+job.ID, nil).Code)
}

func TestAPI_ListJobs(t *testing.T) {
	f := newAPIFixture(t, "")
	for _, q := range []string{"a", "b"} {
		require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/jobs", map[string]any{"query": q}).Code)
	}

	rr := f.do(t, http.MethodGet, "/jobs?status=pending", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var jobs []model.Job
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &jobs))
	assert.Len(t, jobs, 2)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/jobs?limit=-1", nil).Code)
}

func TestAPI_Reconcile(t *testing.T) {
	f := newAPIFixture(t, "")
	rr := f.do(t, http.MethodPost, "/reconcile", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var report pipeline.ReconcileReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	assert.Zero(t, report.Total())
}

func TestAPI_TemplatesAndStats(t *testing.T) {
	f := newAPIFixture(t, "")
	seeded, err := seedDefaultTemplate(context.Background(), f.st)
	require.NoError(t, err)
	require.True(t, seeded)

	rr := f.do(t, http.MethodGet, "/templates", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var tmpls []model.Template
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &tmpls))
	require.Len(t, tmpls, 1)
	assert.Equal(t, "default", tmpls[0].Name)

	rr = f.do(t, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var snap monitoring.MetricsSnapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, 24, snap.LookbackHours)
}

func TestAPI_RunJobInBackground(t *testing.T) {
	f := newAPIFixture(t, "")
	f.search.On("Plan", mock.Anything, "go devs", 25).
		Return(&model.SearchPlan{Role: "go developer", Queries: []string{"q1"}}, nil)
	f.search.On("Execute", mock.Anything, "q1").Return([]string{}, nil)

	rr := f.do(t, http.MethodPost, "/jobs", map[string]any{"query": "go devs", "run": true})
	require.Equal(t, http.StatusAccepted, rr.Code)
	var job model.Job
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &job))

	f.api.Wait()
	stored, err := f.st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusComplete, stored.Status)
}

func TestSeedDefaultTemplate_OnlyWhenEmpty(t *testing.T) {
	f := newAPIFixture(t, "")
	ctx := context.Background()

	seeded, err := seedDefaultTemplate(ctx, f.st)
	require.NoError(t, err)
	assert.True(t, seeded)

	seeded, err = seedDefaultTemplate(ctx, f.st)
	require.NoError(t, err)
	assert.False(t, seeded)

	tmpl, err := f.st.GetTemplate(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, []string{"company_name", "founder_name", "role"}, tmpl.Variables)
}
